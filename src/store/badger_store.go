package store

import (
	"errors"
	"os"

	"github.com/dgraph-io/badger"
	"github.com/sirupsen/logrus"

	cm "github.com/mosaicnetworks/sectiond/src/common"
	"github.com/mosaicnetworks/sectiond/src/crypto/bls"
	"github.com/mosaicnetworks/sectiond/src/data"
	"github.com/mosaicnetworks/sectiond/src/sections"
	"github.com/mosaicnetworks/sectiond/src/xorname"
)

const (
	chunkPrefix    = "chunk_"
	mapPrefix      = "map_"
	keySharePrefix = "keyshare_"
	knowledgeKey   = "knowledge"
)

// BadgerStore persists everything in a badger database. Knowledge and key
// shares are also kept in an InmemStore since they are read on every
// message.
type BadgerStore struct {
	inmemStore *InmemStore
	db         *badger.DB
	path       string
}

// NewBadgerStore opens an existing database or creates a new one if nothing
// is found in path.
func NewBadgerStore(path string, logger *logrus.Entry) (*BadgerStore, error) {
	opts := badger.DefaultOptions(path).
		WithSyncWrites(false).
		WithTruncate(true)

	if logger != nil {
		sub := logger.WithFields(logrus.Fields{"ns": "badger"})
		opts = opts.WithLogger(sub)
	}

	handle, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}

	store := &BadgerStore{
		inmemStore: NewInmemStore(),
		db:         handle,
		path:       path,
	}

	if err := store.loadCache(); err != nil {
		handle.Close()
		return nil, err
	}

	return store, nil
}

// LoadBadgerStore opens the database in path, failing if it does not exist.
func LoadBadgerStore(path string, logger *logrus.Entry) (*BadgerStore, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, err
	}
	return NewBadgerStore(path, logger)
}

func (s *BadgerStore) loadCache() error {
	k, err := s.dbGetKnowledge()
	switch {
	case err == nil:
		if err := s.inmemStore.SetKnowledge(k); err != nil {
			return err
		}
	case !cm.IsStore(err, cm.Empty):
		return err
	}

	shares, err := s.dbGetKeyShares()
	if err != nil {
		return err
	}
	for _, sh := range shares {
		if err := s.inmemStore.SetKeyShare(sh); err != nil {
			return err
		}
	}
	return nil
}

//==============================================================================
//Keys

func chunkKey(name xorname.Name) []byte {
	return append([]byte(chunkPrefix), name[:]...)
}

func mapKey(addr data.MapAddress) []byte {
	return append([]byte(mapPrefix), addr.Key()...)
}

func keyShareKey(pk bls.PublicKey) []byte {
	return append([]byte(keySharePrefix), pk[:]...)
}

/*******************************************************************************
Store interface
*******************************************************************************/

// GetChunk implements the Store interface.
func (s *BadgerStore) GetChunk(name xorname.Name) (data.Chunk, error) {
	b, err := s.dbGet(chunkKey(name))
	if err != nil {
		return data.Chunk{}, mapError(err, "Chunk", name.String())
	}
	return data.Chunk{Content: b}, nil
}

// PutChunk implements the Store interface.
func (s *BadgerStore) PutChunk(c data.Chunk) error {
	return s.dbSet(chunkKey(c.Name()), c.Content)
}

// GetMap implements the Store interface.
func (s *BadgerStore) GetMap(addr data.MapAddress) (*data.Map, error) {
	b, err := s.dbGet(mapKey(addr))
	if err != nil {
		return nil, mapError(err, "Map", addr.String())
	}
	m := new(data.Map)
	if err := m.Unmarshal(b); err != nil {
		return nil, cm.NewStoreErr("Map", cm.Corrupted, addr.String())
	}
	return m, nil
}

// PutMap implements the Store interface.
func (s *BadgerStore) PutMap(m *data.Map) error {
	b, err := m.Marshal()
	if err != nil {
		return err
	}
	return s.dbSet(mapKey(m.Address()), b)
}

// GetKnowledge implements the Store interface.
func (s *BadgerStore) GetKnowledge() (*sections.NetworkKnowledge, error) {
	return s.inmemStore.GetKnowledge()
}

// SetKnowledge implements the Store interface.
func (s *BadgerStore) SetKnowledge(k *sections.NetworkKnowledge) error {
	b, err := k.Marshal()
	if err != nil {
		return err
	}
	if err := s.dbSet([]byte(knowledgeKey), b); err != nil {
		return err
	}
	return s.inmemStore.SetKnowledge(k)
}

// KeyShares implements the Store interface.
func (s *BadgerStore) KeyShares() ([]sections.SectionKeyShare, error) {
	return s.inmemStore.KeyShares()
}

// SetKeyShare implements the Store interface.
func (s *BadgerStore) SetKeyShare(share sections.SectionKeyShare) error {
	b, err := cm.Marshal(share)
	if err != nil {
		return err
	}
	if err := s.dbSet(keyShareKey(share.PublicKeySet.PublicKey()), b); err != nil {
		return err
	}
	return s.inmemStore.SetKeyShare(share)
}

// ChunkCount implements the Store interface.
func (s *BadgerStore) ChunkCount() int {
	return s.dbCount([]byte(chunkPrefix))
}

// MapCount implements the Store interface.
func (s *BadgerStore) MapCount() int {
	return s.dbCount([]byte(mapPrefix))
}

// Close implements the Store interface.
func (s *BadgerStore) Close() error {
	if err := s.inmemStore.Close(); err != nil {
		return err
	}
	return s.db.Close()
}

// StorePath implements the Store interface.
func (s *BadgerStore) StorePath() string {
	return s.path
}

/*******************************************************************************
DB Methods
*******************************************************************************/

func (s *BadgerStore) dbGet(key []byte) ([]byte, error) {
	var val []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		val, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		return nil, err
	}
	return val, nil
}

func (s *BadgerStore) dbSet(key, val []byte) error {
	tx := s.db.NewTransaction(true)
	defer tx.Discard()

	if err := tx.Set(key, val); err != nil {
		return err
	}

	return tx.Commit()
}

func (s *BadgerStore) dbCount(prefix []byte) int {
	count := 0
	s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			count++
		}
		return nil
	})
	return count
}

func (s *BadgerStore) dbGetKnowledge() (*sections.NetworkKnowledge, error) {
	b, err := s.dbGet([]byte(knowledgeKey))
	if err != nil {
		if isDBKeyNotFound(err) {
			return nil, cm.NewStoreErr("Knowledge", cm.Empty, "")
		}
		return nil, err
	}
	return sections.UnmarshalKnowledge(b)
}

func (s *BadgerStore) dbGetKeyShares() ([]sections.SectionKeyShare, error) {
	var shares []sections.SectionKeyShare
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		prefix := []byte(keySharePrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			err := it.Item().Value(func(b []byte) error {
				var sh sections.SectionKeyShare
				if err := cm.Unmarshal(b, &sh); err != nil {
					return err
				}
				shares = append(shares, sh)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	return shares, err
}

//++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++

func isDBKeyNotFound(err error) bool {
	return errors.Is(err, badger.ErrKeyNotFound)
}

func mapError(err error, name, key string) error {
	if err != nil {
		if isDBKeyNotFound(err) {
			return cm.NewStoreErr(name, cm.KeyNotFound, key)
		}
	}
	return err
}
