package dkg

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mosaicnetworks/sectiond/src/common"
	"github.com/mosaicnetworks/sectiond/src/crypto/bls"
	"github.com/mosaicnetworks/sectiond/src/crypto/keys"
	"github.com/mosaicnetworks/sectiond/src/peers"
	"github.com/mosaicnetworks/sectiond/src/sections"
	"github.com/mosaicnetworks/sectiond/src/xorname"
)

type delivery struct {
	to   xorname.Name
	from peers.Peer
	msg  Message
}

type testNet struct {
	t        *testing.T
	section  *bls.KeySet
	engines  map[xorname.Name]*Engine
	peers    map[xorname.Name]peers.Peer
	outcomes map[xorname.Name][]Outcome
	queue    []delivery
	rnd      *rand.Rand
	dropped  map[xorname.Name]bool
}

func newTestNet(t *testing.T, n int) (*testNet, SessionID) {
	section, err := bls.GenerateKeySet(1)
	require.NoError(t, err)

	pk := section.Public.PublicKey()
	authorize := func(id SessionID, auth sections.SectionSig) bool {
		return auth.PublicKey == pk && auth.Verify(id.Bytes())
	}

	tn := &testNet{
		t:        t,
		section:  section,
		engines:  make(map[xorname.Name]*Engine),
		peers:    make(map[xorname.Name]peers.Peer),
		outcomes: make(map[xorname.Name][]Outcome),
		rnd:      rand.New(rand.NewSource(42)),
		dropped:  make(map[xorname.Name]bool),
	}

	var elders []peers.Peer
	var members []peers.NodeState
	for i := 0; i < n; i++ {
		kp, err := keys.GenerateKeypair()
		require.NoError(t, err)
		p := peers.NewPeer(kp.Name(), "")
		elders = append(elders, p)
		members = append(members, peers.NewJoined(p, 10, nil))
		tn.peers[p.Name] = p
		tn.engines[p.Name] = NewEngine(Config{GossipInterval: time.Second, Timeout: time.Minute}, kp, authorize,
			common.NewTestEntry(t, common.TestLogLevel))
	}
	return tn, NewSessionID(xorname.MustParsePrefix(""), elders, 1, members, 3)
}

func (tn *testNet) auth(id SessionID) sections.SectionSig {
	sig, err := tn.section.SignAll(id.Bytes())
	require.NoError(tn.t, err)
	return sections.SectionSig{PublicKey: tn.section.Public.PublicKey(), Signature: sig}
}

func (tn *testNet) push(from xorname.Name, out Output) {
	tn.outcomes[from] = append(tn.outcomes[from], out.Outcomes...)
	for _, m := range out.Messages {
		for _, r := range m.Recipients {
			tn.queue = append(tn.queue, delivery{to: r.Name, from: tn.peers[from], msg: m})
		}
	}
}

func (tn *testNet) start(name xorname.Name, id SessionID) {
	out, err := tn.engines[name].Start(id, tn.auth(id))
	require.NoError(tn.t, err)
	tn.push(name, out)
}

// run delivers queued messages in random order.
func (tn *testNet) run() {
	for steps := 0; len(tn.queue) > 0; steps++ {
		require.Less(tn.t, steps, 100000)
		i := tn.rnd.Intn(len(tn.queue))
		d := tn.queue[i]
		tn.queue = append(tn.queue[:i], tn.queue[i+1:]...)
		if tn.dropped[d.to] {
			continue
		}

		e := tn.engines[d.to]
		var out Output
		var err error
		switch {
		case d.msg.Key != nil:
			out, err = e.HandleEphemeralKey(*d.msg.Key)
		case d.msg.Votes != nil:
			out, err = e.HandleVotes(d.from, *d.msg.Votes)
		case d.msg.AE != nil:
			out = e.HandleAE(d.from, *d.msg.AE)
		}
		require.NoError(tn.t, err)
		tn.push(d.to, out)
	}
}

func TestDKGSession(t *testing.T) {
	tn, id := newTestNet(t, 4)
	for name := range tn.engines {
		tn.start(name, id)
	}
	tn.run()

	var keySet *bls.PublicKeySet
	shares := map[int]bls.SecretKeyShare{}
	for name, outcomes := range tn.outcomes {
		require.Len(t, outcomes, 1, "node %s", name)
		o := outcomes[0]
		require.Equal(t, id.Hash(), o.Session.Hash())
		require.Equal(t, id.Index(name), o.KeyShare.Index)
		if keySet == nil {
			keySet = &o.KeyShare.PublicKeySet
		}
		require.True(t, keySet.Equal(o.KeyShare.PublicKeySet))
		shares[o.KeyShare.Index] = o.KeyShare.SecretKey
	}
	require.Len(t, shares, 4)
	require.Equal(t, 3, keySet.Threshold())

	// any supermajority of shares signs under the new key
	msg := []byte("new SAP")
	var sigShares []bls.SignatureShare
	for _, i := range []int{3, 1, 0} {
		s, err := shares[i].Sign(msg)
		require.NoError(t, err)
		require.True(t, keySet.VerifyShare(msg, s))
		sigShares = append(sigShares, s)
	}
	sig, err := keySet.Combine(msg, sigShares)
	require.NoError(t, err)
	require.True(t, keySet.PublicKey().Verify(msg, sig))

	for _, e := range tn.engines {
		require.Empty(t, e.Sessions())
	}
}

func TestDKGCatchUpFromEphemeralKey(t *testing.T) {
	tn, id := newTestNet(t, 4)
	late := id.Elders[2].Name
	for name := range tn.engines {
		if name != late {
			tn.start(name, id)
		}
	}
	tn.run()

	require.Len(t, tn.outcomes, 4)
	for _, outcomes := range tn.outcomes {
		require.Len(t, outcomes, 1)
	}
}

func TestDKGGossipRecoversLostMessages(t *testing.T) {
	tn, id := newTestNet(t, 4)
	offline := id.Elders[1].Name

	now := time.Now()
	for _, e := range tn.engines {
		e.now = func() time.Time { return now }
	}

	for name := range tn.engines {
		tn.start(name, id)
	}
	tn.dropped[offline] = true
	tn.run()
	for _, outcomes := range tn.outcomes {
		require.Empty(t, outcomes)
	}

	// the node comes back and gossip fills the gaps
	delete(tn.dropped, offline)
	now = now.Add(2 * time.Second)
	for name, e := range tn.engines {
		tn.push(name, e.Tick())
	}
	tn.run()

	for name := range tn.engines {
		require.Len(t, tn.outcomes[name], 1, "node %s", name)
	}
}

func TestDKGSingleElder(t *testing.T) {
	tn, id := newTestNet(t, 1)
	name := id.Elders[0].Name
	out, err := tn.engines[name].Start(id, tn.auth(id))
	require.NoError(t, err)
	require.Len(t, out.Outcomes, 1)
	require.Empty(t, out.Messages)
	require.Equal(t, 1, out.Outcomes[0].KeyShare.PublicKeySet.Size)

	// duplicate starts are ignored
	out, err = tn.engines[name].Start(id, tn.auth(id))
	require.NoError(t, err)
	require.Empty(t, out.Outcomes)
}

func TestDKGRejections(t *testing.T) {
	tn, id := newTestNet(t, 4)
	e := tn.engines[id.Elders[0].Name]

	// bad authorisation
	_, err := e.Start(id, sections.SectionSig{PublicKey: tn.section.Public.PublicKey()})
	require.Equal(t, ErrUnauthorized, err)

	out, err := e.Start(id, tn.auth(id))
	require.NoError(t, err)
	require.Len(t, out.Messages, 1)

	// a key signed by an outsider
	outsider, err := keys.GenerateKeypair()
	require.NoError(t, err)
	key := *out.Messages[0].Key
	key.SenderKey = outsider.SigningPublicKey()
	key.Sig = outsider.Sign(ephemeralPayload(id.Hash(), key.PubKey))
	_, err = e.HandleEphemeralKey(key)
	require.Equal(t, ErrNotParticipant, err)

	// a tampered signature
	key = *out.Messages[0].Key
	key.PubKey = append([]byte{}, key.PubKey...)
	key.PubKey[0] ^= 1
	_, err = e.HandleEphemeralKey(key)
	require.Equal(t, ErrInvalidSignature, err)

	// sessions for an older chain are dropped
	older := NewSessionID(id.Prefix, id.Elders, 0, id.BootstrapMembers, 2)
	_, err = e.Start(older, tn.auth(older))
	require.Equal(t, ErrStaleSession, err)

	// a newer one cancels the current session
	newer := NewSessionID(id.Prefix, id.Elders, 2, id.BootstrapMembers, 4)
	_, err = e.Start(newer, tn.auth(newer))
	require.NoError(t, err)
	require.Len(t, e.Sessions(), 1)
	require.Equal(t, newer.Hash(), e.Sessions()[0].Hash())
	require.True(t, e.Has(id.Hash()))
}

func TestDKGTimeoutWithoutExpectedKey(t *testing.T) {
	tn, id := newTestNet(t, 4)
	e := tn.engines[id.Elders[0].Name]
	now := time.Now()
	e.now = func() time.Time { return now }

	_, err := e.Start(id, tn.auth(id))
	require.NoError(t, err)

	now = now.Add(2 * time.Minute)
	out := e.Tick()
	require.Empty(t, out.Outcomes)
	require.Empty(t, e.Sessions())
}
