package sections

import (
	"errors"

	"github.com/mosaicnetworks/sectiond/src/common"
)

var (
	// ErrKeyNotFound is returned when a key is neither the genesis key nor
	// present in the DAG.
	ErrKeyNotFound = errors.New("key not found in sections dag")
	// ErrInvalidSignature is returned when an edge or SAP signature does not
	// verify.
	ErrInvalidSignature = errors.New("invalid section signature")
	// ErrInvalidBranch is returned by PartialDAG when from is not an ancestor
	// of to.
	ErrInvalidBranch = errors.New("from key is not an ancestor of to key")
	// ErrKeyAlreadyExists is returned when a key is inserted under a
	// different parent than the one recorded.
	ErrKeyAlreadyExists = errors.New("key already in dag under another parent")
	// ErrNoCommonKey is returned by Merge when neither DAG contains the other's
	// genesis key.
	ErrNoCommonKey = errors.New("dags share no root")
	// ErrNoSectionFound is returned when no known section can serve a name.
	ErrNoSectionFound = errors.New("no section found")
	// ErrInvalidSAP is returned when a SAP violates its construction rules.
	ErrInvalidSAP = errors.New("invalid section authority provider")
	// ErrKeyShareExists is returned when a second share is stored for the same
	// section key.
	ErrKeyShareExists = errors.New("key share already stored for section key")
	// ErrMissingKeyShare is returned when we hold no share for a section key.
	ErrMissingKeyShare = errors.New("no key share for section key")
)

// ErrUntrustedProofChain is returned when a proof chain does not root at a key
// we trust.
var ErrUntrustedProofChain = common.NewKindError(common.UntrustedProofChain,
	errors.New("proof chain does not root at our genesis key"))
