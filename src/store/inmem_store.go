package store

import (
	"sync"

	cm "github.com/mosaicnetworks/sectiond/src/common"
	"github.com/mosaicnetworks/sectiond/src/crypto/bls"
	"github.com/mosaicnetworks/sectiond/src/data"
	"github.com/mosaicnetworks/sectiond/src/sections"
	"github.com/mosaicnetworks/sectiond/src/xorname"
)

// InmemStore implements the Store interface with plain maps. Maps are kept
// in their encoded form so that callers never share memory with the store.
type InmemStore struct {
	mu        sync.RWMutex
	chunks    map[xorname.Name][]byte
	maps      map[string][]byte
	knowledge []byte
	shares    map[bls.PublicKey]sections.SectionKeyShare
}

// NewInmemStore ...
func NewInmemStore() *InmemStore {
	return &InmemStore{
		chunks: make(map[xorname.Name][]byte),
		maps:   make(map[string][]byte),
		shares: make(map[bls.PublicKey]sections.SectionKeyShare),
	}
}

// GetChunk implements the Store interface.
func (s *InmemStore) GetChunk(name xorname.Name) (data.Chunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.chunks[name]
	if !ok {
		return data.Chunk{}, cm.NewStoreErr("Chunk", cm.KeyNotFound, name.String())
	}
	return data.NewChunk(c), nil
}

// PutChunk implements the Store interface.
func (s *InmemStore) PutChunk(c data.Chunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.chunks[c.Name()] = append([]byte(nil), c.Content...)
	return nil
}

// GetMap implements the Store interface.
func (s *InmemStore) GetMap(addr data.MapAddress) (*data.Map, error) {
	s.mu.RLock()
	b, ok := s.maps[string(addr.Key())]
	s.mu.RUnlock()

	if !ok {
		return nil, cm.NewStoreErr("Map", cm.KeyNotFound, addr.String())
	}
	m := new(data.Map)
	if err := m.Unmarshal(b); err != nil {
		return nil, cm.NewStoreErr("Map", cm.Corrupted, addr.String())
	}
	return m, nil
}

// PutMap implements the Store interface.
func (s *InmemStore) PutMap(m *data.Map) error {
	b, err := m.Marshal()
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.maps[string(m.Address().Key())] = b
	return nil
}

// GetKnowledge implements the Store interface.
func (s *InmemStore) GetKnowledge() (*sections.NetworkKnowledge, error) {
	s.mu.RLock()
	b := s.knowledge
	s.mu.RUnlock()

	if b == nil {
		return nil, cm.NewStoreErr("Knowledge", cm.Empty, "")
	}
	return sections.UnmarshalKnowledge(b)
}

// SetKnowledge implements the Store interface.
func (s *InmemStore) SetKnowledge(k *sections.NetworkKnowledge) error {
	b, err := k.Marshal()
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.knowledge = b
	return nil
}

// KeyShares implements the Store interface.
func (s *InmemStore) KeyShares() ([]sections.SectionKeyShare, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	res := make([]sections.SectionKeyShare, 0, len(s.shares))
	for _, sh := range s.shares {
		res = append(res, sh)
	}
	return res, nil
}

// SetKeyShare implements the Store interface.
func (s *InmemStore) SetKeyShare(share sections.SectionKeyShare) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.shares[share.PublicKeySet.PublicKey()] = share
	return nil
}

// ChunkCount implements the Store interface.
func (s *InmemStore) ChunkCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.chunks)
}

// MapCount implements the Store interface.
func (s *InmemStore) MapCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.maps)
}

// Close implements the Store interface.
func (s *InmemStore) Close() error {
	return nil
}

// StorePath implements the Store interface. It is empty for InmemStore.
func (s *InmemStore) StorePath() string {
	return ""
}
