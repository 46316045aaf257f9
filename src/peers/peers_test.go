package peers

import (
	"io/ioutil"
	"os"
	"testing"

	"github.com/mosaicnetworks/sectiond/src/xorname"
)

func TestPeerSetOrdering(t *testing.T) {
	a := NewPeer(xorname.Name{0x30}, "a")
	b := NewPeer(xorname.Name{0x10}, "b")
	c := NewPeer(xorname.Name{0x20}, "c")

	ps := NewPeerSet([]Peer{a, b, c, a})

	if ps.Len() != 3 {
		t.Fatalf("expected 3 peers, got %d", ps.Len())
	}
	if ps.Peers[0] != b || ps.Peers[1] != c || ps.Peers[2] != a {
		t.Fatalf("peers should be sorted by name: %v", ps.Peers)
	}
	if ps.IndexOf(c.Name) != 1 {
		t.Fatalf("wrong index for c")
	}

	closest := ps.Closest(xorname.Name{0x21}, 2)
	if closest[0] != c || closest[1] != a {
		t.Fatalf("unexpected closest peers %v", closest)
	}

	removed := ps.WithRemovedPeer(b.Name)
	if removed.Contains(b.Name) || removed.Len() != 2 {
		t.Fatalf("b should have been removed")
	}
	if !ps.Contains(b.Name) {
		t.Fatalf("original set should not change")
	}
}

func TestByAge(t *testing.T) {
	n1 := NewJoined(NewPeer(xorname.Name{0x01}, ""), 5, nil)
	n2 := NewJoined(NewPeer(xorname.Name{0x02}, ""), 7, nil)
	n3 := NewJoined(NewPeer(xorname.Name{0x03}, ""), 5, nil)
	n4 := NewJoined(NewPeer(xorname.Name{0x04}, ""), 5, nil)

	states := []NodeState{n1, n2, n3, n4}
	ByAge(states, map[xorname.Name]bool{n4.Name(): true})

	want := []xorname.Name{n2.Name(), n4.Name(), n1.Name(), n3.Name()}
	for i, s := range states {
		if s.Name() != want[i] {
			t.Fatalf("position %d: expected %s, got %s", i, want[i], s.Name())
		}
	}
}

func TestJSONPeerSet(t *testing.T) {
	dir, err := ioutil.TempDir("", "sectiond-peers")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(dir)

	contacts := []Peer{
		NewPeer(xorname.Random(), "127.0.0.1:1337"),
		{NetAddr: "127.0.0.1:1338"},
	}

	js := NewJSONPeerSet(dir)
	if err := js.Write(contacts); err != nil {
		t.Fatal(err)
	}

	got, err := js.Peers()
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0] != contacts[0] || got[1] != contacts[1] {
		t.Fatalf("expected %v, got %v", contacts, got)
	}
}
