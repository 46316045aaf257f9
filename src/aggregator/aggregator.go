// Package aggregator collects BLS signature shares over payloads until a
// supermajority of a section's elders signed, then combines them into a full
// section signature.
package aggregator

import (
	"errors"
	"sync"
	"time"

	"github.com/golang/groupcache/lru"

	"github.com/mosaicnetworks/sectiond/src/crypto"
	"github.com/mosaicnetworks/sectiond/src/crypto/bls"
	"github.com/mosaicnetworks/sectiond/src/sections"
)

var (
	// ErrInvalidKeyShareSectionKey is returned for shares made with a key set
	// we do not accept.
	ErrInvalidKeyShareSectionKey = errors.New("signature share made with an unknown section key")
	// ErrInvalidSignatureShare is returned for shares that do not verify.
	ErrInvalidSignatureShare = errors.New("invalid signature share")
)

// SigShare is one elder's share of a section signature.
type SigShare struct {
	PublicKeySet bls.PublicKeySet
	Index        int
	Share        bls.SignatureShare
}

// KeyFilter tells whether shares made with a key set may be aggregated. It
// sees the whole set, so a share carrying the right group key with another
// size or other commitments can be refused.
type KeyFilter func(keySet bls.PublicKeySet) bool

type partial struct {
	keySet  bls.PublicKeySet
	shares  map[int]bls.SignatureShare
	created time.Time
}

// SignatureAggregator is single-writer: callers apply shares in command
// order. The mutex only protects against readers such as the status service.
type SignatureAggregator struct {
	mu         sync.Mutex
	filter     KeyFilter
	pending    map[crypto.Digest]*partial
	completed  *lru.Cache
	maxPending int
	ttl        time.Duration
	now        func() time.Time
}

// Config bounds the aggregator's memory.
type Config struct {
	// Capacity is the number of completed payloads remembered to drop late
	// shares, and the number of pending payloads kept.
	Capacity int
	// TTL is the age after which an incomplete aggregation is dropped.
	TTL time.Duration
}

// DefaultConfig ...
func DefaultConfig() Config {
	return Config{Capacity: 1000, TTL: 2 * time.Minute}
}

// NewSignatureAggregator returns an aggregator accepting key sets for which
// filter returns true. A nil filter accepts every key set.
func NewSignatureAggregator(conf Config, filter KeyFilter) *SignatureAggregator {
	if conf.Capacity <= 0 {
		conf.Capacity = DefaultConfig().Capacity
	}
	if conf.TTL <= 0 {
		conf.TTL = DefaultConfig().TTL
	}
	return &SignatureAggregator{
		filter:     filter,
		pending:    make(map[crypto.Digest]*partial),
		completed:  lru.New(conf.Capacity),
		maxPending: conf.Capacity,
		ttl:        conf.TTL,
		now:        time.Now,
	}
}

// SetFilter replaces the key filter.
func (a *SignatureAggregator) SetFilter(filter KeyFilter) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.filter = filter
}

func aggregationKey(pk bls.PublicKey, payload []byte) crypto.Digest {
	return crypto.Blake3(pk.Bytes(), payload)
}

// pendingKey separates the shares of distinct key sets sharing a group key,
// so a forged set cannot hold back the honest aggregation.
func pendingKey(keySet bls.PublicKeySet, payload []byte) crypto.Digest {
	ks := crypto.Blake3(keySet.Bytes())
	return crypto.Blake3(ks[:], payload)
}

// TryAggregate verifies a share and adds it to the payload's aggregation. It
// returns the full signature once a supermajority of distinct shares was
// collected, and nil otherwise. Shares arriving after completion are dropped
// silently.
func (a *SignatureAggregator) TryAggregate(payload []byte, share SigShare) (*sections.SectionSig, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	pk := share.PublicKeySet.PublicKey()
	if share.PublicKeySet.IsZero() || (a.filter != nil && !a.filter(share.PublicKeySet)) {
		return nil, ErrInvalidKeyShareSectionKey
	}

	done := aggregationKey(pk, payload)
	if _, ok := a.completed.Get(done); ok {
		return nil, nil
	}

	idx, err := share.Share.Index()
	if err != nil || idx != share.Index || !share.PublicKeySet.VerifyShare(payload, share.Share) {
		return nil, ErrInvalidSignatureShare
	}

	a.expire()

	key := pendingKey(share.PublicKeySet, payload)
	p, ok := a.pending[key]
	if !ok {
		p = &partial{
			keySet:  share.PublicKeySet,
			shares:  make(map[int]bls.SignatureShare),
			created: a.now(),
		}
		a.pending[key] = p
	}
	p.shares[idx] = share.Share

	if len(p.shares) < bls.Supermajority(p.keySet.Size) || len(p.shares) < p.keySet.Threshold() {
		return nil, nil
	}

	shares := make([]bls.SignatureShare, 0, len(p.shares))
	for _, s := range p.shares {
		shares = append(shares, s)
	}
	sig, err := p.keySet.Combine(payload, shares)
	if err != nil {
		return nil, err
	}

	delete(a.pending, key)
	a.completed.Add(done, struct{}{})

	return &sections.SectionSig{PublicKey: pk, Signature: sig}, nil
}

// expire drops aggregations past their TTL, then the oldest ones if there are
// too many.
func (a *SignatureAggregator) expire() {
	now := a.now()
	var oldestKey crypto.Digest
	var oldest time.Time
	for k, p := range a.pending {
		if now.Sub(p.created) > a.ttl {
			delete(a.pending, k)
			continue
		}
		if oldest.IsZero() || p.created.Before(oldest) {
			oldest, oldestKey = p.created, k
		}
	}
	if len(a.pending) >= a.maxPending {
		delete(a.pending, oldestKey)
	}
}

// Pending returns the number of incomplete aggregations.
func (a *SignatureAggregator) Pending() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.pending)
}

// IsComplete tells whether a payload was already aggregated under pk.
func (a *SignatureAggregator) IsComplete(pk bls.PublicKey, payload []byte) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, ok := a.completed.Get(aggregationKey(pk, payload))
	return ok
}
