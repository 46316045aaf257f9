package membership

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mosaicnetworks/sectiond/src/common"
	"github.com/mosaicnetworks/sectiond/src/crypto/bls"
	"github.com/mosaicnetworks/sectiond/src/peers"
	"github.com/mosaicnetworks/sectiond/src/sections"
	"github.com/mosaicnetworks/sectiond/src/xorname"
)

type testElders struct {
	keys    *bls.KeySet
	members []peers.NodeState
	engines []*Engine
}

func newTestElders(t *testing.T, n int) *testElders {
	ks, err := bls.GenerateKeySet(n)
	require.NoError(t, err)

	te := &testElders{keys: ks}
	for i := 0; i < n; i++ {
		p := peers.NewPeer(xorname.Random(), "addr")
		te.members = append(te.members, peers.NewJoined(p, uint8(10+i), nil))
	}

	pk := ks.Public.PublicKey()
	trusted := func(k bls.PublicKey) bool { return k == pk }
	for i := 0; i < n; i++ {
		e := NewEngine(Config{Timeout: time.Minute, AggregatorCapacity: 100}, 0, te.members, trusted,
			common.NewTestEntry(t, common.TestLogLevel))
		e.SetKeyShare(&sections.SectionKeyShare{
			PublicKeySet: ks.Public,
			Index:        i,
			SecretKey:    ks.Shares[i],
		})
		te.engines = append(te.engines, e)
	}
	return te
}

type envelope struct {
	to   int
	vote Vote
}

// run delivers votes in FIFO order until none are left. Votes for a future
// generation go back to the end of the queue, as a later retransmission
// would.
func (te *testElders) run(t *testing.T, from int, res Result, extra ...envelope) {
	var queue []envelope
	queue = append(queue, extra...)
	broadcast := func(from int, votes []Vote) {
		for _, v := range votes {
			for to := range te.engines {
				if to != from {
					queue = append(queue, envelope{to, v})
				}
			}
		}
	}
	broadcast(from, res.Votes)

	for steps := 0; len(queue) > 0; steps++ {
		require.Less(t, steps, 10000, "no convergence")
		env := queue[0]
		queue = queue[1:]
		out, err := te.engines[env.to].HandleVote(env.vote)
		switch {
		case errors.Is(err, ErrFutureGeneration):
			queue = append(queue, env)
		case errors.Is(err, ErrStaleGeneration):
		default:
			require.NoError(t, err)
		}
		broadcast(env.to, out.Votes)
	}
}

func TestMembershipJoinDecision(t *testing.T) {
	te := newTestElders(t, 4)

	joiner := peers.NewJoined(peers.NewPeer(xorname.Random(), "joiner"), 5, nil)
	res, err := te.engines[0].Propose(joiner)
	require.NoError(t, err)
	require.Len(t, res.Votes, 1)
	require.Empty(t, res.Decisions)

	te.run(t, 0, res)

	for i, e := range te.engines {
		require.Equal(t, uint64(1), e.Gen(), "engine %d", i)
		m, ok := e.Member(joiner.Name())
		require.True(t, ok, "engine %d", i)
		require.True(t, m.IsJoined())
		require.Len(t, e.JoinedMembers(), 5)
	}

	// the same join is no longer valid
	_, err = te.engines[1].Propose(joiner)
	require.True(t, errors.Is(err, ErrInvalidProposal))
}

func TestMembershipConcurrentProposals(t *testing.T) {
	te := newTestElders(t, 4)

	a := peers.NewJoined(peers.NewPeer(xorname.Random(), "a"), 5, nil)
	b := te.members[3].Leave()

	resA, err := te.engines[0].Propose(a)
	require.NoError(t, err)
	resB, err := te.engines[1].Propose(b)
	require.NoError(t, err)

	var extra []envelope
	for to := range te.engines {
		if to != 1 {
			extra = append(extra, envelope{to, resB.Votes[0]})
		}
	}
	te.run(t, 0, resA, extra...)

	for i, e := range te.engines {
		require.Equal(t, uint64(2), e.Gen(), "engine %d", i)
		m, ok := e.Member(a.Name())
		require.True(t, ok)
		require.True(t, m.IsJoined())
		m, ok = e.Member(b.Name())
		require.True(t, ok)
		require.Equal(t, peers.Left, m.State)
	}
}

func TestMembershipDecisionOrdering(t *testing.T) {
	te := newTestElders(t, 4)
	e := te.engines[2]

	decide := func(gen uint64, state peers.NodeState) sections.SignedNodeState {
		sig, err := te.keys.SignAll(sections.NodeStatePayload(gen, state))
		require.NoError(t, err)
		return sections.SignedNodeState{
			Value: state,
			Gen:   gen,
			Sig:   sections.SectionSig{PublicKey: te.keys.Public.PublicKey(), Signature: sig},
		}
	}

	first := peers.NewJoined(peers.NewPeer(xorname.Random(), "first"), 5, nil)
	second := peers.NewJoined(peers.NewPeer(xorname.Random(), "second"), 5, nil)

	res, err := e.HandleDecision(decide(2, second))
	require.NoError(t, err)
	require.Empty(t, res.Decisions)
	require.Equal(t, uint64(0), e.Gen())

	res, err = e.HandleDecision(decide(1, first))
	require.NoError(t, err)
	require.Len(t, res.Decisions, 2)
	require.Equal(t, uint64(1), res.Decisions[0].Gen)
	require.Equal(t, uint64(2), res.Decisions[1].Gen)
	require.Equal(t, uint64(2), e.Gen())

	// replays are ignored
	res, err = e.HandleDecision(decide(1, first))
	require.NoError(t, err)
	require.Empty(t, res.Decisions)

	// decisions under unknown keys are rejected
	other, err := bls.GenerateKeySet(1)
	require.NoError(t, err)
	state := peers.NewJoined(peers.NewPeer(xorname.Random(), "x"), 5, nil)
	sig, err := other.SignAll(sections.NodeStatePayload(3, state))
	require.NoError(t, err)
	_, err = e.HandleDecision(sections.SignedNodeState{
		Value: state,
		Gen:   3,
		Sig:   sections.SectionSig{PublicKey: other.Public.PublicKey(), Signature: sig},
	})
	require.Equal(t, ErrUntrustedDecision, err)
}

func TestMembershipSingleElder(t *testing.T) {
	te := newTestElders(t, 1)
	joiner := peers.NewJoined(peers.NewPeer(xorname.Random(), "joiner"), 5, nil)

	res, err := te.engines[0].Propose(joiner)
	require.NoError(t, err)
	require.Len(t, res.Decisions, 1)
	require.True(t, res.Decisions[0].Verify())
	require.Equal(t, uint64(1), te.engines[0].Gen())
}

func TestMembershipQueueAndTimeout(t *testing.T) {
	te := newTestElders(t, 4)
	e := te.engines[0]
	now := time.Now()
	e.now = func() time.Time { return now }

	a := peers.NewJoined(peers.NewPeer(xorname.Random(), "a"), 5, nil)
	b := peers.NewJoined(peers.NewPeer(xorname.Random(), "b"), 5, nil)

	res, err := e.Propose(a)
	require.NoError(t, err)
	require.Len(t, res.Votes, 1)

	res, err = e.Propose(b)
	require.NoError(t, err)
	require.Empty(t, res.Votes)
	require.Len(t, e.Pending(), 1)

	require.Empty(t, e.Tick().Votes)

	now = now.Add(2 * time.Minute)
	res = e.Tick()
	require.Len(t, res.Votes, 1)
	require.Equal(t, uint64(1), res.Votes[0].Gen)
	require.Equal(t, a.Name(), res.Votes[0].State.Name())

	// the retransmitted round still completes and b follows
	te.run(t, 0, res)
	for _, e := range te.engines {
		require.Equal(t, uint64(2), e.Gen())
	}
}

func TestMembershipSplitVote(t *testing.T) {
	te := newTestElders(t, 4)
	now := time.Now()
	for _, e := range te.engines {
		e.now = func() time.Time { return now }
	}

	a := peers.NewJoined(peers.NewPeer(xorname.Random(), "a"), 5, nil)
	b := peers.NewJoined(peers.NewPeer(xorname.Random(), "b"), 5, nil)

	// two elders vote for a and two for b: neither reaches the threshold
	var extra []envelope
	for i, e := range te.engines {
		state := a
		if i >= 2 {
			state = b
		}
		res, err := e.Propose(state)
		require.NoError(t, err)
		require.Len(t, res.Votes, 1)
		for to := range te.engines {
			if to != i {
				extra = append(extra, envelope{to, res.Votes[0]})
			}
		}
	}
	te.run(t, 0, Result{}, extra...)
	for i, e := range te.engines {
		require.Equal(t, uint64(0), e.Gen(), "engine %d", i)
		require.Len(t, e.Pending(), 1, "engine %d", i)
	}

	now = now.Add(2 * time.Minute)
	extra = nil
	for i, e := range te.engines {
		res := e.Tick()
		require.NotEmpty(t, res.Votes, "engine %d", i)
		for _, v := range res.Votes {
			for to := range te.engines {
				if to != i {
					extra = append(extra, envelope{to, v})
				}
			}
		}
	}
	te.run(t, 0, Result{}, extra...)

	for i, e := range te.engines {
		require.Equal(t, uint64(2), e.Gen(), "engine %d", i)
		for _, s := range []peers.NodeState{a, b} {
			m, ok := e.Member(s.Name())
			require.True(t, ok, "engine %d", i)
			require.True(t, m.IsJoined())
		}
		require.Empty(t, e.Pending(), "engine %d", i)
	}
}

func TestMembershipNotElder(t *testing.T) {
	e := NewEngine(Config{}, 0, nil, nil, common.NewTestEntry(t, common.TestLogLevel))
	_, err := e.Propose(peers.NewJoined(peers.NewPeer(xorname.Random(), ""), 5, nil))
	require.Equal(t, ErrNotElder, err)
}
