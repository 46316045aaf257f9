package sections

import (
	"testing"

	"github.com/mosaicnetworks/sectiond/src/crypto/bls"
	"github.com/mosaicnetworks/sectiond/src/peers"
	"github.com/mosaicnetworks/sectiond/src/xorname"
)

// testChain returns n single-party keys where key i+1 is signed by key i.
func testChain(t *testing.T, n int) ([]*bls.SecretKey, *SectionsDAG) {
	t.Helper()
	sks := []*bls.SecretKey{bls.GenerateSecretKey()}
	dag := NewSectionsDAG(sks[0].PublicKey())
	for i := 1; i < n; i++ {
		sk := bls.GenerateSecretKey()
		parent := sks[i-1]
		if err := dag.Insert(parent.PublicKey(), sk.PublicKey(), parent.Sign(sk.PublicKey().Bytes())); err != nil {
			t.Fatalf("insert %d: %v", i, err)
		}
		sks = append(sks, sk)
	}
	return sks, dag
}

type testSection struct {
	keys  *bls.KeySet
	sap   SectionSignedSAP
	names []xorname.Name
}

// newTestSection builds a section of n elders in prefix, signed by its own
// key set.
func newTestSection(t *testing.T, prefix xorname.Prefix, n int, gen uint64) testSection {
	t.Helper()
	ks, err := bls.GenerateKeySet(n)
	if err != nil {
		t.Fatal(err)
	}
	var elders []peers.Peer
	var members []peers.NodeState
	var names []xorname.Name
	for i := 0; i < n; i++ {
		name := prefix.Substituted(xorname.Random())
		p := peers.NewPeer(name, "addr")
		elders = append(elders, p)
		members = append(members, peers.NewJoined(p, uint8(5+i), nil))
		names = append(names, name)
	}
	sap, err := NewSAP(prefix, ks.Public, elders, members, gen, 7)
	if err != nil {
		t.Fatal(err)
	}
	sig, err := ks.SignAll(sap.Bytes())
	if err != nil {
		t.Fatal(err)
	}
	return testSection{
		keys:  ks,
		sap:   SectionSignedSAP{Value: sap, Sig: SectionSig{PublicKey: ks.Public.PublicKey(), Signature: sig}},
		names: names,
	}
}

// signKey returns the signature of child by the section's key set.
func (s testSection) signKey(t *testing.T, child bls.PublicKey) bls.Signature {
	t.Helper()
	sig, err := s.keys.SignAll(child.Bytes())
	if err != nil {
		t.Fatal(err)
	}
	return sig
}
