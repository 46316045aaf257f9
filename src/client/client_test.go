package client

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mosaicnetworks/sectiond/src/common"
	"github.com/mosaicnetworks/sectiond/src/config"
	"github.com/mosaicnetworks/sectiond/src/crypto/bls"
	"github.com/mosaicnetworks/sectiond/src/crypto/keys"
	"github.com/mosaicnetworks/sectiond/src/data"
	"github.com/mosaicnetworks/sectiond/src/net"
	"github.com/mosaicnetworks/sectiond/src/node"
	"github.com/mosaicnetworks/sectiond/src/peers"
	"github.com/mosaicnetworks/sectiond/src/store"
	"github.com/mosaicnetworks/sectiond/src/xorname"
)

type testNetwork struct {
	network *net.InmemNetwork
	genesis *node.Node
}

func newTestNetwork(t *testing.T) *testNetwork {
	t.Helper()
	network := net.NewInmemNetwork()

	conf := config.NewTestConfig(t, common.TestLogLevel)
	conf.Moniker = "genesis"
	kp, err := keys.GenerateKeypair()
	require.NoError(t, err)
	_, trans := network.NewTransport("")

	g := node.NewNode(conf, kp, store.NewInmemStore(), trans)
	_, err = g.InitGenesis()
	require.NoError(t, err)
	g.RunAsync()
	t.Cleanup(g.Shutdown)

	return &testNetwork{network: network, genesis: g}
}

func (tn *testNetwork) newClient(t *testing.T) *Client {
	t.Helper()
	conf := config.NewTestConfig(t, common.TestLogLevel)

	signer, err := keys.GenerateClientKey()
	require.NoError(t, err)

	k, err := tn.genesis.Knowledge()
	require.NoError(t, err)

	_, trans := tn.network.NewTransport("")
	c, err := NewClient(conf, signer, k.GenesisKey(), trans)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, c.Bootstrap(ctx, []peers.Peer{tn.genesis.Peer()}))
	return c
}

func TestClientBootstrap(t *testing.T) {
	tn := newTestNetwork(t)
	c := tn.newClient(t)

	k := c.Knowledge()
	require.True(t, k.Tree().Len() > 0)

	gk, err := tn.genesis.Knowledge()
	require.NoError(t, err)
	sap, err := k.Closest(xorname.Random(), nil)
	require.NoError(t, err)
	require.Equal(t, gk.SectionKey(), sap.SectionKey())
}

func TestClientWithoutKnowledge(t *testing.T) {
	network := net.NewInmemNetwork()
	conf := config.NewTestConfig(t, common.TestLogLevel)
	signer, err := keys.GenerateClientKey()
	require.NoError(t, err)
	_, trans := network.NewTransport("")

	c, err := NewClient(conf, signer, bls.PublicKey{}, trans)
	require.NoError(t, err)
	defer c.Close()

	_, err = c.PutChunk(context.Background(), []byte("nowhere to go"))
	require.ErrorIs(t, err, ErrNoKnowledge)
}

func TestClientChunks(t *testing.T) {
	tn := newTestNetwork(t)
	c := tn.newClient(t)
	ctx := context.Background()

	content := []byte("the quick brown fox")
	name, err := c.PutChunk(ctx, content)
	require.NoError(t, err)
	require.Equal(t, data.NewChunk(content).Name(), name)

	chunk, err := c.GetChunk(ctx, name)
	require.NoError(t, err)
	require.Equal(t, content, chunk.Content)

	_, err = c.GetChunk(ctx, xorname.Random())
	require.True(t, errors.Is(err, data.NewError(data.NoSuchData)))
}

func TestClientMaps(t *testing.T) {
	tn := newTestNetwork(t)
	owner := tn.newClient(t)
	other := tn.newClient(t)
	ctx := context.Background()

	m := data.NewMap(xorname.Random(), 15000, owner.PublicKey())
	addr := m.Address()
	require.NoError(t, owner.CreateMap(ctx, m))

	err := owner.CreateMap(ctx, m)
	require.True(t, errors.Is(err, data.NewError(data.DataExists)))

	require.NoError(t, owner.MutateEntries(ctx, addr, map[string]data.EntryAction{
		"colour": data.InsAction([]byte("blue"), 0),
	}))

	v, err := owner.GetEntry(ctx, addr, []byte("colour"))
	require.NoError(t, err)
	require.Equal(t, []byte("blue"), v.Content)

	// other can read but not write
	entries, err := other.ListEntries(ctx, addr)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	err = other.MutateEntries(ctx, addr, map[string]data.EntryAction{
		"colour": data.UpdateEntryAction([]byte("red"), 1),
	})
	require.True(t, errors.Is(err, data.NewError(data.AccessDenied)))

	require.NoError(t, owner.ChangeOwner(ctx, addr, other.PublicKey(), 1))
	got, err := other.GetMap(ctx, addr)
	require.NoError(t, err)
	require.True(t, got.Owner().Equal(other.PublicKey()))
	require.Equal(t, uint64(1), got.Version)
}
