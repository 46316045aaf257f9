package membership

import (
	"math/bits"

	"github.com/mosaicnetworks/sectiond/src/crypto"
	"github.com/mosaicnetworks/sectiond/src/peers"
	"github.com/mosaicnetworks/sectiond/src/sections"
	"github.com/mosaicnetworks/sectiond/src/xorname"
)

// ElderCandidates returns the joined members of prefix that should be
// elders: the ElderCount oldest, current elders first among equal ages, then
// by name. The result is ordered by name.
func ElderCandidates(prefix xorname.Prefix, members []peers.NodeState, currentElders []peers.Peer, elderCount int) []peers.Peer {
	current := make(map[xorname.Name]bool, len(currentElders))
	for _, e := range currentElders {
		current[e.Name] = true
	}

	var joined []peers.NodeState
	for _, m := range members {
		if m.IsJoined() && prefix.Matches(m.Name()) {
			joined = append(joined, m)
		}
	}
	peers.ByAge(joined, current)
	if len(joined) > elderCount {
		joined = joined[:elderCount]
	}

	res := make([]peers.Peer, len(joined))
	for i, m := range joined {
		res[i] = m.Peer
	}
	peers.SortPeers(res)
	return res
}

// SameElders tells whether two elder lists hold the same names.
func SameElders(a, b []peers.Peer) bool {
	return peers.NewPeerSet(a).Equal(peers.NewPeerSet(b))
}

// SplitCandidates checks whether the section at prefix should split. It does
// when the number of adults exceeds the recommended section size and both
// children would hold at least the recommended number of joined members. It
// returns the joined members of each child.
func SplitCandidates(prefix xorname.Prefix, members []peers.NodeState, elders []peers.Peer, recommendedSize int) (zero, one []peers.NodeState, ok bool) {
	isElder := make(map[xorname.Name]bool, len(elders))
	for _, e := range elders {
		isElder[e.Name] = true
	}

	zeroPrefix, onePrefix := prefix.Pushed(false), prefix.Pushed(true)
	adults := 0
	for _, m := range members {
		if !m.IsJoined() || !prefix.Matches(m.Name()) {
			continue
		}
		if !isElder[m.Name()] {
			adults++
		}
		switch {
		case zeroPrefix.Matches(m.Name()):
			zero = append(zero, m)
		case onePrefix.Matches(m.Name()):
			one = append(one, m)
		}
	}

	ok = adults > recommendedSize && len(zero) >= recommendedSize && len(one) >= recommendedSize
	return zero, one, ok
}

// TrailingZeros counts the trailing zero bits of b.
func TrailingZeros(b []byte) int {
	n := 0
	for i := len(b) - 1; i >= 0; i-- {
		if b[i] != 0 {
			return n + bits.TrailingZeros8(b[i])
		}
		n += 8
	}
	return n
}

// RelocationCandidate picks the member relocated by a join decision. The
// decision signature acts as a random churn value: an adult whose age equals
// the number of trailing zero bits of the signature is relocated. Elders and
// the joining node itself are never relocated, and at most one node moves per
// decision. The returned details lack the destination section key, which the
// caller resolves from its knowledge.
func RelocationCandidate(decision sections.SignedNodeState, prefix xorname.Prefix, members []peers.NodeState,
	elders []peers.Peer) (peers.NodeState, peers.RelocateDetails, bool) {

	if !decision.Value.IsJoined() {
		return peers.NodeState{}, peers.RelocateDetails{}, false
	}

	churn := decision.Sig.Signature.Bytes()
	tz := TrailingZeros(churn)

	isElder := make(map[xorname.Name]bool, len(elders))
	for _, e := range elders {
		isElder[e.Name] = true
	}

	var found *peers.NodeState
	for i := range members {
		m := members[i]
		if !m.IsJoined() || isElder[m.Name()] || m.Name() == decision.Value.Name() {
			continue
		}
		if int(m.Age) != tz || !prefix.Matches(m.Name()) {
			continue
		}
		if found == nil || m.Name().Cmp(found.Name()) < 0 {
			found = &m
		}
	}
	if found == nil {
		return peers.NodeState{}, peers.RelocateDetails{}, false
	}

	prefixName := prefix.Name()
	dst := xorname.FromContent(prefixName.Bytes(), crypto.SHA3(churn))
	details := peers.RelocateDetails{
		PreviousName: found.Name(),
		Dst:          dst,
		Age:          found.Age + 1,
	}
	return *found, details, true
}

// RejoinAge returns the age of a node rejoining after it left with the given
// age, and whether it may rejoin at all.
func RejoinAge(previousAge, minAdultAge uint8) (uint8, bool) {
	half := previousAge / 2
	if half < minAdultAge {
		return 0, false
	}
	return half, true
}
