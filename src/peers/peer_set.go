package peers

import (
	"github.com/mosaicnetworks/sectiond/src/xorname"
)

//PeerSet is an immutable set of Peers ordered by name.
type PeerSet struct {
	Peers  []Peer
	ByName map[xorname.Name]Peer
}

/* Constructors */

//NewPeerSet creates a new PeerSet from a list of Peers. Duplicates are
//dropped.
func NewPeerSet(peers []Peer) *PeerSet {
	peerSet := &PeerSet{
		ByName: make(map[xorname.Name]Peer, len(peers)),
	}

	for _, peer := range peers {
		if _, ok := peerSet.ByName[peer.Name]; ok {
			continue
		}
		peerSet.ByName[peer.Name] = peer
		peerSet.Peers = append(peerSet.Peers, peer)
	}

	SortPeers(peerSet.Peers)

	return peerSet
}

//WithNewPeer returns a new PeerSet with a list of peers including the new one.
func (peerSet *PeerSet) WithNewPeer(peer Peer) *PeerSet {
	peers := append([]Peer{}, peerSet.Peers...)
	peers = append(peers, peer)
	return NewPeerSet(peers)
}

//WithRemovedPeer returns a new PeerSet with a list of peers excluding the
//provided one
func (peerSet *PeerSet) WithRemovedPeer(name xorname.Name) *PeerSet {
	_, peers := ExcludePeer(peerSet.Peers, name)
	return NewPeerSet(peers)
}

/* ToSlice Methods */

//Names returns the names of the peers, in order.
func (peerSet *PeerSet) Names() []xorname.Name {
	res := make([]xorname.Name, 0, len(peerSet.Peers))
	for _, p := range peerSet.Peers {
		res = append(res, p.Name)
	}
	return res
}

/* Utilities */

//Len returns the number of Peers in the PeerSet
func (peerSet *PeerSet) Len() int {
	return len(peerSet.Peers)
}

//Contains ...
func (peerSet *PeerSet) Contains(name xorname.Name) bool {
	_, ok := peerSet.ByName[name]
	return ok
}

//IndexOf returns the position of a peer in the set, or -1.
func (peerSet *PeerSet) IndexOf(name xorname.Name) int {
	for i, p := range peerSet.Peers {
		if p.Name == name {
			return i
		}
	}
	return -1
}

//Equal compares the names in both sets.
func (peerSet *PeerSet) Equal(o *PeerSet) bool {
	if peerSet.Len() != o.Len() {
		return false
	}
	for i := range peerSet.Peers {
		if peerSet.Peers[i].Name != o.Peers[i].Name {
			return false
		}
	}
	return true
}

//Closest returns the n peers closest to target.
func (peerSet *PeerSet) Closest(target xorname.Name, n int) []Peer {
	peers := append([]Peer{}, peerSet.Peers...)
	SortByDistance(peers, target)
	if n < len(peers) {
		peers = peers[:n]
	}
	return peers
}
