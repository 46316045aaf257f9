package antientropy

import (
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/mosaicnetworks/sectiond/src/crypto/bls"
	"github.com/mosaicnetworks/sectiond/src/peers"
	"github.com/mosaicnetworks/sectiond/src/sections"
	"github.com/mosaicnetworks/sectiond/src/xorname"
)

type fixture struct {
	genesis *bls.KeySet
	signed  map[string]sections.SectionSignedSAP
	keys    map[string]*bls.KeySet
	proof   *sections.SectionsDAG
}

func signedSAP(t *testing.T, prefix xorname.Prefix, gen uint64) (sections.SectionSignedSAP, *bls.KeySet) {
	ks, err := bls.GenerateKeySet(1)
	require.NoError(t, err)
	elder := peers.NewPeer(prefix.Substituted(xorname.Random()), "")
	sap, err := sections.NewSAP(prefix, ks.Public, []peers.Peer{elder},
		[]peers.NodeState{peers.NewJoined(elder, 10, nil)}, gen, 7)
	require.NoError(t, err)
	sig, err := ks.SignAll(sap.Bytes())
	require.NoError(t, err)
	return sections.SectionSignedSAP{
		Value: sap,
		Sig:   sections.SectionSig{PublicKey: ks.Public.PublicKey(), Signature: sig},
	}, ks
}

// newFixture builds a genesis section at the root, then a second root key
// K1, then a split into 0 and 1 signed by K1.
func newFixture(t *testing.T) *fixture {
	f := &fixture{
		signed: make(map[string]sections.SectionSignedSAP),
		keys:   make(map[string]*bls.KeySet),
	}
	root := xorname.MustParsePrefix("")
	f.signed["K0"], f.keys["K0"] = signedSAP(t, root, 0)
	f.signed["K1"], f.keys["K1"] = signedSAP(t, root, 1)
	f.signed["0"], f.keys["0"] = signedSAP(t, xorname.MustParsePrefix("0"), 2)
	f.signed["1"], f.keys["1"] = signedSAP(t, xorname.MustParsePrefix("1"), 2)

	f.proof = sections.NewSectionsDAG(f.signed["K0"].SectionKey())
	link := func(parent, child string) {
		pk := f.signed[child].SectionKey()
		sig, err := f.keys[parent].SignAll(pk.Bytes())
		require.NoError(t, err)
		require.NoError(t, f.proof.Insert(f.signed[parent].SectionKey(), pk, sig))
	}
	link("K0", "K1")
	link("K1", "0")
	link("K1", "1")
	return f
}

func (f *fixture) knowledge(t *testing.T, name xorname.Name, saps ...string) *sections.NetworkKnowledge {
	k, err := sections.NewGenesisKnowledge(name, f.signed["K0"])
	require.NoError(t, err)
	for _, s := range saps {
		_, err := k.Update(f.signed[s], f.proof)
		require.NoError(t, err)
	}
	return k
}

func TestCheckProcessRetryUpdate(t *testing.T) {
	f := newFixture(t)
	name := xorname.Random()
	k := f.knowledge(t, name, "K1")
	current := f.signed["K1"].SectionKey()
	require.Equal(t, current, k.SectionKey())

	d, err := Check(k, Dst{Name: xorname.Random(), SectionKey: current})
	require.NoError(t, err)
	require.Equal(t, Process, d.Action)

	d, err = Check(k, Dst{Name: xorname.Random(), SectionKey: f.signed["K0"].SectionKey()})
	require.NoError(t, err)
	require.Equal(t, Retry, d.Action)
	require.Equal(t, current, d.SAP.SectionKey())
	require.Equal(t, f.signed["K0"].SectionKey(), d.Proof.GenesisKey())
	require.True(t, d.Proof.HasKey(current))

	unknown := bls.GenerateSecretKey().PublicKey()
	d, err = Check(k, Dst{Name: xorname.Random(), SectionKey: unknown})
	require.NoError(t, err)
	require.Equal(t, Update, d.Action)
	require.Equal(t, k.GenesisKey(), d.Proof.GenesisKey())
	require.True(t, d.Proof.HasKey(current))
}

func TestCheckRedirect(t *testing.T) {
	f := newFixture(t)
	name := xorname.MustParsePrefix("0").Substituted(xorname.Random())
	k := f.knowledge(t, name, "K1", "0", "1")
	require.Equal(t, "0", k.Prefix().String())

	other := xorname.MustParsePrefix("1").Substituted(xorname.Random())
	d, err := Check(k, Dst{Name: other, SectionKey: k.SectionKey()})
	require.NoError(t, err)
	require.Equal(t, Redirect, d.Action)
	require.Equal(t, f.signed["1"].SectionKey(), d.SAP.SectionKey())
	require.True(t, d.Proof.HasKey(d.SAP.SectionKey()))
}

func TestApplyRetryThenProcess(t *testing.T) {
	f := newFixture(t)
	receiver := f.knowledge(t, xorname.Random(), "K1")
	sender := f.knowledge(t, xorname.Random())

	dst := Dst{Name: receiver.Name(), SectionKey: sender.SectionKey()}
	d, err := Check(receiver, dst)
	require.NoError(t, err)
	require.Equal(t, Retry, d.Action)

	changed, err := Apply(sender, d.SAP, d.Proof)
	require.NoError(t, err)
	require.True(t, changed)

	// applying the same update again changes nothing
	changed, err = Apply(sender, d.SAP, d.Proof)
	require.NoError(t, err)
	require.False(t, changed)

	dst.SectionKey = sender.SectionKey()
	d, err = Check(receiver, dst)
	require.NoError(t, err)
	require.Equal(t, Process, d.Action)
}

func TestApplyUntrusted(t *testing.T) {
	f := newFixture(t)
	k := f.knowledge(t, xorname.Random())

	foreign, _ := signedSAP(t, xorname.MustParsePrefix(""), 5)
	_, err := Apply(k, foreign, sections.NewSectionsDAG(foreign.SectionKey()))
	require.True(t, errors.Is(err, sections.ErrUntrustedProofChain))

	_, err = Apply(k, foreign, nil)
	require.Error(t, err)
}

func TestTracker(t *testing.T) {
	tr := NewTracker(3, 10)
	id := uuid.New()
	p0, p1 := xorname.MustParsePrefix("0"), xorname.MustParsePrefix("1")

	require.NoError(t, tr.Bounce(id, Retry, p0, p0))
	require.NoError(t, tr.Bounce(id, Redirect, p0, p1))
	require.Equal(t, ErrNoSectionFound, tr.Bounce(id, Redirect, p1, p0))
	require.Equal(t, 0, tr.Retries(id))

	id = uuid.New()
	for i := 0; i < 3; i++ {
		require.NoError(t, tr.Bounce(id, Retry, p0, p0))
	}
	require.Equal(t, ErrTooManyRedirects, tr.Bounce(id, Retry, p0, p0))

	id = uuid.New()
	require.NoError(t, tr.Bounce(id, Update, p0, p0))
	tr.Done(id)
	require.Equal(t, 0, tr.Retries(id))
}
