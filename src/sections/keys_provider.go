package sections

import (
	"sync"

	"github.com/mosaicnetworks/sectiond/src/crypto/bls"
)

// SectionKeyShare is an elder's share of a section key.
type SectionKeyShare struct {
	PublicKeySet bls.PublicKeySet
	Index        int
	SecretKey    bls.SecretKeyShare
}

// Sign produces a signature share over payload.
func (s SectionKeyShare) Sign(payload []byte) (bls.SignatureShare, error) {
	return s.SecretKey.Sign(payload)
}

// SectionKeysProvider stores the key shares this node holds, one per section
// key. Entries are written once and then only read or pruned.
type SectionKeysProvider struct {
	mu     sync.RWMutex
	shares map[bls.PublicKey]SectionKeyShare
}

// NewSectionKeysProvider ...
func NewSectionKeysProvider() *SectionKeysProvider {
	return &SectionKeysProvider{
		shares: make(map[bls.PublicKey]SectionKeyShare),
	}
}

// Insert stores a share. Storing the same share twice is a no-op.
func (p *SectionKeysProvider) Insert(share SectionKeyShare) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	pk := share.PublicKeySet.PublicKey()
	if existing, ok := p.shares[pk]; ok {
		if existing.Index == share.Index {
			return nil
		}
		return ErrKeyShareExists
	}
	p.shares[pk] = share
	return nil
}

// Get returns the share held for a section key.
func (p *SectionKeysProvider) Get(pk bls.PublicKey) (SectionKeyShare, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	s, ok := p.shares[pk]
	if !ok {
		return SectionKeyShare{}, ErrMissingKeyShare
	}
	return s, nil
}

// Has ...
func (p *SectionKeysProvider) Has(pk bls.PublicKey) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, ok := p.shares[pk]
	return ok
}

// Prune drops every share whose key is not in keep.
func (p *SectionKeysProvider) Prune(keep map[bls.PublicKey]bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for pk := range p.shares {
		if !keep[pk] {
			delete(p.shares, pk)
		}
	}
}

// Len ...
func (p *SectionKeysProvider) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.shares)
}
