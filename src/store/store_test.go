package store

import (
	"io/ioutil"
	"os"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	cm "github.com/mosaicnetworks/sectiond/src/common"
	"github.com/mosaicnetworks/sectiond/src/crypto/bls"
	"github.com/mosaicnetworks/sectiond/src/crypto/keys"
	"github.com/mosaicnetworks/sectiond/src/data"
	"github.com/mosaicnetworks/sectiond/src/peers"
	"github.com/mosaicnetworks/sectiond/src/sections"
	"github.com/mosaicnetworks/sectiond/src/xorname"
)

func genesisKnowledge(t *testing.T) (*sections.NetworkKnowledge, *bls.KeySet, sections.SectionSignedSAP) {
	t.Helper()
	ks, err := bls.GenerateKeySet(3)
	require.NoError(t, err)

	var elders []peers.Peer
	var members []peers.NodeState
	for i := 0; i < 3; i++ {
		p := peers.NewPeer(xorname.Random(), "addr")
		elders = append(elders, p)
		members = append(members, peers.NewJoined(p, 5, nil))
	}
	sap, err := sections.GenesisSAP(ks, elders, members, 7)
	require.NoError(t, err)

	k, err := sections.NewGenesisKnowledge(elders[0].Name, sap)
	require.NoError(t, err)
	return k, ks, sap
}

func testStore(t *testing.T, s Store) {
	owner, err := keys.GenerateKeypair()
	require.NoError(t, err)

	// chunks
	c := data.NewChunk([]byte("hello"))
	_, err = s.GetChunk(c.Name())
	require.True(t, cm.IsStore(err, cm.KeyNotFound), "got %v", err)
	require.NoError(t, s.PutChunk(c))
	got, err := s.GetChunk(c.Name())
	require.NoError(t, err)
	require.Equal(t, c.Content, got.Content)
	require.Equal(t, 1, s.ChunkCount())

	// maps
	m := data.NewMap(xorname.Random(), 9, owner.PublicKey())
	require.NoError(t, m.MutateEntries(owner.PublicKey(), map[string]data.EntryAction{
		"k": data.InsAction([]byte("v"), 0),
	}, data.DefaultLimits()))
	_, err = s.GetMap(m.Address())
	require.True(t, cm.IsStore(err, cm.KeyNotFound), "got %v", err)
	require.NoError(t, s.PutMap(m))
	gotMap, err := s.GetMap(m.Address())
	require.NoError(t, err)
	require.Equal(t, m.Entries, gotMap.Entries)
	require.True(t, gotMap.Owner().Equal(owner.PublicKey()))
	require.Equal(t, 1, s.MapCount())

	// mutating a read copy does not touch the store
	gotMap.Entries["x"] = data.Value{}
	again, err := s.GetMap(m.Address())
	require.NoError(t, err)
	require.Len(t, again.Entries, 1)

	// knowledge
	_, err = s.GetKnowledge()
	require.True(t, cm.IsStore(err, cm.Empty), "got %v", err)
	k, ks, sap := genesisKnowledge(t)
	require.NoError(t, s.SetKnowledge(k))
	gotK, err := s.GetKnowledge()
	require.NoError(t, err)
	require.Equal(t, k.SectionKey(), gotK.SectionKey())
	require.Equal(t, k.Name(), gotK.Name())

	// key shares
	shares := sections.GenesisKeyShares(ks, sap.Value)
	require.NoError(t, s.SetKeyShare(shares[k.Name()]))
	gotShares, err := s.KeyShares()
	require.NoError(t, err)
	require.Len(t, gotShares, 1)
	require.Equal(t, ks.Public.PublicKey(), gotShares[0].PublicKeySet.PublicKey())
}

func TestInmemStore(t *testing.T) {
	testStore(t, NewInmemStore())
}

func TestBadgerStore(t *testing.T) {
	os.MkdirAll("test_data", os.ModeDir|0777)
	dir, err := ioutil.TempDir("test_data", "badger")
	require.NoError(t, err)
	defer os.RemoveAll("test_data")

	logger := cm.NewTestEntry(t, logrus.WarnLevel)

	s, err := NewBadgerStore(dir, logger)
	require.NoError(t, err)
	testStore(t, s)
	before, err := s.GetKnowledge()
	require.NoError(t, err)
	require.NoError(t, s.Close())

	// everything survives a restart
	s, err = LoadBadgerStore(dir, logger)
	require.NoError(t, err)
	defer s.Close()

	require.Equal(t, 1, s.ChunkCount())
	require.Equal(t, 1, s.MapCount())
	k, err := s.GetKnowledge()
	require.NoError(t, err)
	require.Equal(t, before.SectionKey(), k.SectionKey())
	shares, err := s.KeyShares()
	require.NoError(t, err)
	require.Len(t, shares, 1)
}

func TestLoadBadgerStoreMissing(t *testing.T) {
	_, err := LoadBadgerStore("test_data/does-not-exist", nil)
	require.Error(t, err)
}
