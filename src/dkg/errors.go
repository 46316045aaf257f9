package dkg

import "errors"

var (
	// ErrNotParticipant is returned when the node or a sender is not among the
	// session's elders.
	ErrNotParticipant = errors.New("dkg: not a participant")
	// ErrUnauthorized is returned for sessions without a valid section
	// signature.
	ErrUnauthorized = errors.New("dkg: session not authorised by the section")
	// ErrStaleSession is returned for sessions older than one in progress.
	ErrStaleSession = errors.New("dkg: stale session")
	// ErrUnknownSession ...
	ErrUnknownSession = errors.New("dkg: unknown session")
	// ErrInvalidSignature is returned for ephemeral keys or votes whose
	// signature does not verify.
	ErrInvalidSignature = errors.New("dkg: invalid signature")
	// ErrInvalidVote is returned for malformed votes.
	ErrInvalidVote = errors.New("dkg: invalid vote")
	// ErrConflictingKey is returned when a participant sends two different
	// ephemeral keys.
	ErrConflictingKey = errors.New("dkg: conflicting ephemeral key")
)
