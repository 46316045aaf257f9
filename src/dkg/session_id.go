package dkg

import (
	"fmt"

	"github.com/mosaicnetworks/sectiond/src/common"
	"github.com/mosaicnetworks/sectiond/src/crypto"
	"github.com/mosaicnetworks/sectiond/src/peers"
	"github.com/mosaicnetworks/sectiond/src/xorname"
)

// SessionID describes a DKG session: the prefix and elders of the section to
// be, the length of the section chain when it started and the members the
// new SAP will carry.
type SessionID struct {
	Prefix           xorname.Prefix
	Elders           []peers.Peer
	SectionChainLen  uint64
	BootstrapMembers []peers.NodeState
	MembershipGen    uint64
}

// NewSessionID sorts elders and members by name.
func NewSessionID(prefix xorname.Prefix, elders []peers.Peer, chainLen uint64,
	members []peers.NodeState, gen uint64) SessionID {

	id := SessionID{
		Prefix:           prefix,
		Elders:           append([]peers.Peer{}, elders...),
		SectionChainLen:  chainLen,
		BootstrapMembers: append([]peers.NodeState{}, members...),
		MembershipGen:    gen,
	}
	peers.SortPeers(id.Elders)
	peers.SortNodeStates(id.BootstrapMembers)
	return id
}

// Bytes is the canonical encoding, signed by the section to authorise the
// session.
func (s SessionID) Bytes() []byte {
	return common.MustMarshal(s)
}

// Hash identifies the session across nodes.
func (s SessionID) Hash() crypto.Digest {
	return crypto.Blake3(s.Bytes())
}

// Index returns the participant index of name, or -1.
func (s SessionID) Index(name xorname.Name) int {
	for i, e := range s.Elders {
		if e.Name == name {
			return i
		}
	}
	return -1
}

// Others returns the participants other than name.
func (s SessionID) Others(name xorname.Name) []peers.Peer {
	_, others := peers.ExcludePeer(s.Elders, name)
	return others
}

// String ...
func (s SessionID) String() string {
	h := s.Hash()
	return fmt.Sprintf("dkg(%s, %d elders, chain %d, %s)", s.Prefix, len(s.Elders), s.SectionChainLen,
		common.ShortHex(h[:], 4))
}
