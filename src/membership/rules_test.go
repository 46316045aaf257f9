package membership

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mosaicnetworks/sectiond/src/crypto/bls"
	"github.com/mosaicnetworks/sectiond/src/peers"
	"github.com/mosaicnetworks/sectiond/src/sections"
	"github.com/mosaicnetworks/sectiond/src/xorname"
)

func member(prefix string, age uint8) peers.NodeState {
	name := xorname.MustParsePrefix(prefix).Substituted(xorname.Random())
	return peers.NewJoined(peers.NewPeer(name, ""), age, nil)
}

func TestElderCandidates(t *testing.T) {
	root := xorname.MustParsePrefix("")
	var members []peers.NodeState
	for i := 0; i < 9; i++ {
		members = append(members, member("", uint8(5+i)))
	}
	left := member("", 50).Leave()
	members = append(members, left)

	// two members share the age of the youngest candidate
	tie := member("", 7)
	members = append(members, tie)

	candidates := ElderCandidates(root, members, nil, 7)
	require.Len(t, candidates, 7)

	names := map[xorname.Name]bool{}
	for _, c := range candidates {
		names[c.Name] = true
	}
	require.False(t, names[left.Name()])
	for _, m := range members[3:9] {
		require.True(t, names[m.Name()], "age %d", m.Age)
	}
	require.True(t, names[members[2].Name()] != names[tie.Name()])

	// a current elder wins a tie
	current := []peers.Peer{tie.Peer}
	candidates = ElderCandidates(root, members, current, 7)
	names = map[xorname.Name]bool{}
	for _, c := range candidates {
		names[c.Name] = true
	}
	require.True(t, names[tie.Name()])
	require.False(t, names[members[2].Name()])
	require.True(t, SameElders(candidates, ElderCandidates(root, members, candidates, 7)))
}

func TestSplitCandidates(t *testing.T) {
	root := xorname.MustParsePrefix("")
	var members []peers.NodeState
	for i := 0; i < 10; i++ {
		members = append(members, member("0", 5), member("1", 5))
	}
	elders := ElderCandidates(root, members, nil, 7)

	zero, one, ok := SplitCandidates(root, members, elders, 10)
	require.True(t, ok)
	require.Len(t, zero, 10)
	require.Len(t, one, 10)

	_, _, ok = SplitCandidates(root, members[:19], elders, 10)
	require.False(t, ok)
}

func TestRelocationCandidate(t *testing.T) {
	root := xorname.MustParsePrefix("")
	elder := member("", 20)
	adult := member("", 5)
	other := member("", 6)
	joiner := member("", 5)
	members := []peers.NodeState{elder, adult, other, joiner}

	var sig bls.Signature
	for i := range sig {
		sig[i] = 0xff
	}
	sig[len(sig)-1] = 0x20 // five trailing zero bits
	require.Equal(t, 5, TrailingZeros(sig[:]))

	decision := sections.SignedNodeState{
		Value: joiner,
		Gen:   4,
		Sig:   sections.SectionSig{Signature: sig},
	}

	state, details, ok := RelocationCandidate(decision, root, members, []peers.Peer{elder.Peer})
	require.True(t, ok)
	require.Equal(t, adult.Name(), state.Name())
	require.Equal(t, uint8(6), details.Age)
	require.Equal(t, adult.Name(), details.PreviousName)

	// no member has the matching age
	sig[len(sig)-1] = 0x01
	decision.Sig.Signature = sig
	_, _, ok = RelocationCandidate(decision, root, members, []peers.Peer{elder.Peer})
	require.False(t, ok)

	// leave decisions never relocate
	sig[len(sig)-1] = 0x20
	decision = sections.SignedNodeState{Value: joiner.Leave(), Sig: sections.SectionSig{Signature: sig}}
	_, _, ok = RelocationCandidate(decision, root, members, []peers.Peer{elder.Peer})
	require.False(t, ok)
}

func TestRejoinAge(t *testing.T) {
	age, ok := RejoinAge(12, 5)
	require.True(t, ok)
	require.Equal(t, uint8(6), age)

	_, ok = RejoinAge(9, 5)
	require.False(t, ok)
}
