package antientropy

import (
	"errors"
	"sync"

	"github.com/golang/groupcache/lru"
	"github.com/google/uuid"

	"github.com/mosaicnetworks/sectiond/src/xorname"
)

var (
	// ErrTooManyRedirects is returned when a message bounced more than the
	// allowed number of times.
	ErrTooManyRedirects = errors.New("antientropy: too many redirects")
	// ErrNoSectionFound is returned when a message is redirected to a
	// section it was already sent to.
	ErrNoSectionFound = errors.New("antientropy: no section found")
)

type bounces struct {
	count int
	tried map[xorname.Prefix]bool
}

// Tracker counts the bounces of outgoing messages, keyed by message id.
// Message ids are kept across resends.
type Tracker struct {
	mu         sync.Mutex
	maxRetries int
	entries    *lru.Cache
}

// NewTracker ...
func NewTracker(maxRetries, capacity int) *Tracker {
	return &Tracker{
		maxRetries: maxRetries,
		entries:    lru.New(capacity),
	}
}

// Bounce records that msgID came back with the given action, after being
// sent to a section at prefix. It returns nil if the message may be sent
// again to next.
func (t *Tracker) Bounce(msgID uuid.UUID, action Action, prefix, next xorname.Prefix) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	var b *bounces
	if v, ok := t.entries.Get(msgID); ok {
		b = v.(*bounces)
	} else {
		b = &bounces{tried: make(map[xorname.Prefix]bool)}
		t.entries.Add(msgID, b)
	}

	b.count++
	b.tried[prefix] = true
	if b.count > t.maxRetries {
		t.entries.Remove(msgID)
		return ErrTooManyRedirects
	}
	if action == Redirect && b.tried[next] {
		t.entries.Remove(msgID)
		return ErrNoSectionFound
	}
	return nil
}

// Done forgets a message.
func (t *Tracker) Done(msgID uuid.UUID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries.Remove(msgID)
}

// Retries returns the number of bounces of msgID.
func (t *Tracker) Retries(msgID uuid.UUID) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	if v, ok := t.entries.Get(msgID); ok {
		return v.(*bounces).count
	}
	return 0
}
