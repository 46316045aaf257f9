package peers

import (
	"fmt"
	"sort"

	"github.com/mosaicnetworks/sectiond/src/xorname"
)

// Peer is a node name and the address where it can be reached.
type Peer struct {
	Name    xorname.Name
	NetAddr string
}

// NewPeer ...
func NewPeer(name xorname.Name, netAddr string) Peer {
	return Peer{
		Name:    name,
		NetAddr: netAddr,
	}
}

// Equal compares names only.
func (p Peer) Equal(o Peer) bool {
	return p.Name == o.Name
}

// String ...
func (p Peer) String() string {
	return fmt.Sprintf("%s@%s", p.Name, p.NetAddr)
}

// SortPeers sorts peers by name.
func SortPeers(peers []Peer) {
	sort.Slice(peers, func(i, j int) bool {
		return peers[i].Name.Cmp(peers[j].Name) < 0
	})
}

// SortByDistance sorts peers by XOR distance to target.
func SortByDistance(peers []Peer, target xorname.Name) {
	sort.Slice(peers, func(i, j int) bool {
		return target.CmpDistance(peers[i].Name, peers[j].Name) < 0
	})
}

// ExcludePeer is used to exclude a single peer from a list of peers.
func ExcludePeer(peers []Peer, name xorname.Name) (int, []Peer) {
	index := -1
	otherPeers := make([]Peer, 0, len(peers))
	for i, p := range peers {
		if p.Name != name {
			otherPeers = append(otherPeers, p)
		} else {
			index = i
		}
	}
	return index, otherPeers
}
