package node

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mosaicnetworks/sectiond/src/config"
	"github.com/mosaicnetworks/sectiond/src/crypto/keys"
	"github.com/mosaicnetworks/sectiond/src/net"
	"github.com/mosaicnetworks/sectiond/src/node/state"
	"github.com/mosaicnetworks/sectiond/src/peers"
	"github.com/mosaicnetworks/sectiond/src/xorname"
)

func keyInPrefix(t *testing.T, bits string) *keys.Keypair {
	t.Helper()
	kp, err := keys.GenerateKeypairInPrefix(xorname.MustParsePrefix(bits), 1<<12)
	require.NoError(t, err)
	return kp
}

func peerNames(ps []peers.Peer) []xorname.Name {
	res := make([]xorname.Name, len(ps))
	for i, p := range ps {
		res[i] = p.Name
	}
	return res
}

// waitElders waits until n sees a SAP whose elders are exactly names.
func waitElders(t *testing.T, n *Node, names ...xorname.Name) {
	t.Helper()
	want := make(map[xorname.Name]bool, len(names))
	for _, name := range names {
		want[name] = true
	}
	waitFor(t, fmt.Sprintf("%s to see %d elders", n.conf.Moniker, len(names)), func() bool {
		k, err := n.Knowledge()
		if err != nil || k == nil || !k.HasSection() {
			return false
		}
		elders := k.SAP().Elders
		if len(elders) != len(want) {
			return false
		}
		for _, e := range elders {
			if !want[e.Name] {
				return false
			}
		}
		return true
	})
}

func waitEldersCount(t *testing.T, n *Node, count int) {
	t.Helper()
	waitFor(t, fmt.Sprintf("%s to see %d elders", n.conf.Moniker, count), func() bool {
		k, err := n.Knowledge()
		return err == nil && k != nil && k.HasSection() && len(k.SAP().Elders) == count
	})
}

func waitPrefix(t *testing.T, n *Node, prefix xorname.Prefix) {
	t.Helper()
	waitFor(t, fmt.Sprintf("%s to move to prefix %s", n.conf.Moniker, prefix), func() bool {
		k, err := n.Knowledge()
		return err == nil && k != nil && k.HasSection() && k.Prefix().Equal(prefix)
	})
}

// TestElderOffline stops an elder. The other elders vote it out once it
// stops answering, and the oldest adult takes its place under a new key.
func TestElderOffline(t *testing.T) {
	conf := func(c *config.Config) {
		c.ElderCount = 3
		c.MembershipTimeout = 2 * time.Second
	}
	network := net.NewInmemNetwork()
	g := startGenesis(t, network, conf)
	defer g.Shutdown()

	a := joinNode(t, network, "a", g, conf)
	defer a.Shutdown()
	waitEvent(t, a, EventJoined)
	waitEldersCount(t, g, 2)

	b := joinNode(t, network, "b", g, conf)
	waitEvent(t, b, EventJoined)
	waitElders(t, g, g.Name(), a.Name(), b.Name())

	c := joinNode(t, network, "c", g, conf)
	defer c.Shutdown()
	waitEvent(t, c, EventJoined)
	require.False(t, c.IsElder())

	k, err := g.Knowledge()
	require.NoError(t, err)
	before := k.SectionKey()

	offline := b.Name()
	b.Shutdown()

	// admitting new members makes the elders send to the offline one
	d := joinNode(t, network, "d", g, conf)
	defer d.Shutdown()
	waitEvent(t, d, EventJoined)
	e := joinNode(t, network, "e", g, conf)
	defer e.Shutdown()
	waitEvent(t, e, EventJoined)

	waitFor(t, "the offline elder to be voted out", func() bool {
		members, err := g.Members()
		if err != nil {
			return false
		}
		for _, m := range members {
			if m.Name() == offline {
				return false
			}
		}
		return true
	})

	for _, n := range []*Node{g, a, c} {
		waitElders(t, n, g.Name(), a.Name(), c.Name())
	}
	waitFor(t, "c to hold a key share", c.IsElder)

	kg, err := g.Knowledge()
	require.NoError(t, err)
	kc, err := c.Knowledge()
	require.NoError(t, err)
	require.NotEqual(t, before, kg.SectionKey())
	require.Equal(t, kg.SectionKey(), kc.SectionKey())
	require.True(t, kc.DAG().HasKey(before))
}

// TestSplit grows a section until both halves can stand alone. Each half
// gets its own elders and key, both signed by the key of the section that
// split, and each learns the SAP of its sibling.
func TestSplit(t *testing.T) {
	conf := func(c *config.Config) {
		c.ElderCount = 3
		c.RecommendedSectionSize = 1
		c.MinAdultAge = 20
		c.MembershipTimeout = 2 * time.Second
	}
	zero, one := xorname.MustParsePrefix("0"), xorname.MustParsePrefix("1")
	network := net.NewInmemNetwork()

	g := newTestNodeWithKey(t, network, "genesis", keyInPrefix(t, "0"), conf)
	_, err := g.InitGenesis()
	require.NoError(t, err)
	g.RunAsync()
	defer g.Shutdown()

	a := startJoin(t, newTestNodeWithKey(t, network, "a", keyInPrefix(t, "1"), conf), g)
	defer a.Shutdown()
	waitEvent(t, a, EventJoined)
	waitEldersCount(t, g, 2)

	b := startJoin(t, newTestNodeWithKey(t, network, "b", keyInPrefix(t, "0"), conf), g)
	defer b.Shutdown()
	waitEvent(t, b, EventJoined)
	waitElders(t, g, g.Name(), a.Name(), b.Name())

	// one adult is not enough to split
	c := startJoin(t, newTestNodeWithKey(t, network, "c", keyInPrefix(t, "1"), conf), g)
	defer c.Shutdown()
	waitEvent(t, c, EventJoined)

	k, err := g.Knowledge()
	require.NoError(t, err)
	require.True(t, k.Prefix().IsEmpty())
	parent := k.SectionKey()

	d := startJoin(t, newTestNodeWithKey(t, network, "d", keyInPrefix(t, "0"), conf), g)
	defer d.Shutdown()
	waitEvent(t, d, EventJoined)

	for _, n := range []*Node{g, b, d} {
		waitPrefix(t, n, zero)
	}
	for _, n := range []*Node{a, c} {
		waitPrefix(t, n, one)
	}

	ev := waitEvent(t, g, EventSplit)
	require.True(t, ev.Prefix.Equal(zero))
	ev = waitEvent(t, a, EventSplit)
	require.True(t, ev.Prefix.Equal(one))

	waitElders(t, g, g.Name(), b.Name(), d.Name())
	waitElders(t, a, a.Name(), c.Name())

	kg, err := g.Knowledge()
	require.NoError(t, err)
	ka, err := a.Knowledge()
	require.NoError(t, err)
	require.NotEqual(t, kg.SectionKey(), ka.SectionKey())
	p, _, err := kg.DAG().Parent(kg.SectionKey())
	require.NoError(t, err)
	require.Equal(t, parent, p)
	p, _, err = ka.DAG().Parent(ka.SectionKey())
	require.NoError(t, err)
	require.Equal(t, parent, p)

	waitFor(t, "the zero half to know its sibling", func() bool {
		k, err := g.Knowledge()
		if err != nil {
			return false
		}
		sap, ok := k.Tree().Get(one)
		return ok && sap.SectionKey() == ka.SectionKey()
	})
	waitFor(t, "the one half to know its sibling", func() bool {
		k, err := a.Knowledge()
		if err != nil {
			return false
		}
		sap, ok := k.Tree().Get(zero)
		return ok && sap.SectionKey() == kg.SectionKey()
	})

	// members of the sibling are pruned
	members, err := g.Members()
	require.NoError(t, err)
	for _, m := range members {
		require.True(t, zero.Matches(m.Name()), "%s", m)
	}
	require.ElementsMatch(t, []xorname.Name{a.Name(), c.Name()}, peerNames(ka.SAP().Elders))
}

// TestRelocation moves an adult within the network: it takes a new name,
// joins again with the relocation decision as proof, one age older.
func TestRelocation(t *testing.T) {
	conf := func(c *config.Config) { c.ElderCount = 1 }
	network := net.NewInmemNetwork()
	g := startGenesis(t, network, conf)
	defer g.Shutdown()

	a := joinNode(t, network, "a", g, conf)
	defer a.Shutdown()
	joined := waitEvent(t, a, EventJoined)
	require.False(t, a.IsElder())
	old := a.Name()

	var proposed bool
	err := g.do(func() {
		m, ok := g.core.members.Member(old)
		if !ok {
			return
		}
		g.core.propose(m.Relocated(peers.RelocateDetails{
			PreviousName:  old,
			Dst:           xorname.Random(),
			DstSectionKey: g.core.knowledge.SectionKey(),
			Age:           m.Age + 1,
		}))
		proposed = true
	})
	require.NoError(t, err)
	require.True(t, proposed)

	ev := waitEvent(t, a, EventRelocating)
	require.NotEqual(t, old, ev.Name)
	require.Equal(t, joined.Age+1, ev.Age)

	ev = waitEvent(t, a, EventJoined)
	require.Equal(t, joined.Age+1, ev.Age)
	require.Equal(t, ev.Name, a.Name())
	require.Equal(t, state.Running, a.GetState())

	renamed := ev.Name
	waitFor(t, "genesis to admit the relocated node", func() bool {
		var ok bool
		g.do(func() {
			prev, found := g.core.members.Member(old)
			if !found || prev.State != peers.Relocated {
				return
			}
			m, found := g.core.members.Member(renamed)
			ok = found && m.IsJoined() && m.PreviousName != nil && *m.PreviousName == old
		})
		return ok
	})
}
