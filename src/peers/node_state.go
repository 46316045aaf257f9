package peers

import (
	"fmt"
	"sort"

	"github.com/mosaicnetworks/sectiond/src/crypto/bls"
	"github.com/mosaicnetworks/sectiond/src/xorname"
)

// MembershipState is the state of a node within its section.
type MembershipState uint8

const (
	// Joined nodes are members of the section.
	Joined MembershipState = iota
	// Left nodes have left the network, voluntarily or not.
	Left
	// Relocated nodes are moving to another section.
	Relocated
)

var membershipStates = []string{"Joined", "Left", "Relocated"}

func (s MembershipState) String() string {
	if int(s) < len(membershipStates) {
		return membershipStates[s]
	}
	return "Unknown"
}

// RelocateDetails tells a relocating node where to go.
type RelocateDetails struct {
	PreviousName  xorname.Name
	Dst           xorname.Name
	DstSectionKey bls.PublicKey
	Age           uint8
}

// NodeState is a peer, its age, and its membership state. Relocate is only
// set when State is Relocated.
type NodeState struct {
	Peer     Peer
	Age      uint8
	State    MembershipState
	Relocate *RelocateDetails
	// PreviousName is set for nodes that joined by relocation.
	PreviousName *xorname.Name
}

// NewJoined returns the state of a node joining with the given age.
func NewJoined(peer Peer, age uint8, previousName *xorname.Name) NodeState {
	return NodeState{
		Peer:         peer,
		Age:          age,
		State:        Joined,
		PreviousName: previousName,
	}
}

// Name ...
func (n NodeState) Name() xorname.Name {
	return n.Peer.Name
}

// IsJoined ...
func (n NodeState) IsJoined() bool {
	return n.State == Joined
}

// Leave returns the Left state of the node.
func (n NodeState) Leave() NodeState {
	n.State = Left
	n.Relocate = nil
	return n
}

// Relocated returns the Relocated state of the node with the given details.
func (n NodeState) Relocated(details RelocateDetails) NodeState {
	n.State = Relocated
	n.Relocate = &details
	return n
}

// String ...
func (n NodeState) String() string {
	return fmt.Sprintf("%s(age %d, %s)", n.Peer, n.Age, n.State)
}

// SortNodeStates sorts by name.
func SortNodeStates(states []NodeState) {
	sort.Slice(states, func(i, j int) bool {
		return states[i].Peer.Name.Cmp(states[j].Peer.Name) < 0
	})
}

// ByAge sorts node states for elder election: older first, current elders
// before others of the same age, then by name.
func ByAge(states []NodeState, currentElders map[xorname.Name]bool) {
	sort.SliceStable(states, func(i, j int) bool {
		a, b := states[i], states[j]
		if a.Age != b.Age {
			return a.Age > b.Age
		}
		ea, eb := currentElders[a.Peer.Name], currentElders[b.Peer.Name]
		if ea != eb {
			return ea
		}
		return a.Peer.Name.Cmp(b.Peer.Name) < 0
	})
}
