package membership

import "errors"

var (
	// ErrNotElder is returned when proposing without a section key share.
	ErrNotElder = errors.New("membership: not an elder")
	// ErrInvalidProposal is returned for state transitions the member set
	// does not allow.
	ErrInvalidProposal = errors.New("membership: invalid proposal")
	// ErrStaleGeneration is returned for votes or decisions of an applied
	// generation.
	ErrStaleGeneration = errors.New("membership: stale generation")
	// ErrFutureGeneration is returned for votes beyond the next generation.
	ErrFutureGeneration = errors.New("membership: future generation")
	// ErrUntrustedDecision is returned for decisions signed by an unknown key
	// or with an invalid signature.
	ErrUntrustedDecision = errors.New("membership: untrusted decision")
)
