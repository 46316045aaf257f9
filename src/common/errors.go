package common

import "errors"

// ErrorKind classifies failures by how the node reacts to them.
type ErrorKind uint8

const (
	// ProtocolViolation covers malformed messages, bad signatures and unknown
	// kinds. The message is dropped.
	ProtocolViolation ErrorKind = iota
	// AuthorityMismatch is returned when a message's source authority is not
	// the one its kind requires.
	AuthorityMismatch
	// UntrustedProofChain means a proof chain does not root at our genesis
	// key. The message is dropped without a reply.
	UntrustedProofChain
	// StaleView and FutureView are resolved with anti-entropy replies.
	StaleView
	FutureView
	// DataError is an application level error returned to clients.
	DataError
	// InsufficientElderConnections is returned when routing cannot reach
	// enough elders.
	InsufficientElderConnections
	// NoResponse is returned when no elder answered in time.
	NoResponse
	// DkgFailure is returned when a DKG round could not terminate.
	DkgFailure
	// ConfigError and Io are fatal at startup.
	ConfigError
	Io
)

var errorKinds = []string{
	"ProtocolViolation",
	"AuthorityMismatch",
	"UntrustedProofChain",
	"StaleView",
	"FutureView",
	"DataError",
	"InsufficientElderConnections",
	"NoResponse",
	"DkgFailure",
	"ConfigError",
	"Io",
}

func (k ErrorKind) String() string {
	if int(k) < len(errorKinds) {
		return errorKinds[k]
	}
	return "Unknown"
}

// KindError attaches an ErrorKind to an underlying error.
type KindError struct {
	Kind ErrorKind
	Err  error
}

// NewKindError ...
func NewKindError(kind ErrorKind, err error) *KindError {
	return &KindError{Kind: kind, Err: err}
}

func (e *KindError) Error() string {
	if e.Err == nil {
		return e.Kind.String()
	}
	return e.Kind.String() + ": " + e.Err.Error()
}

func (e *KindError) Unwrap() error {
	return e.Err
}

// KindOf returns the ErrorKind carried by err, if any.
func KindOf(err error) (ErrorKind, bool) {
	var ke *KindError
	if errors.As(err, &ke) {
		return ke.Kind, true
	}
	return 0, false
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind ErrorKind) bool {
	k, ok := KindOf(err)
	return ok && k == kind
}
