package sections

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mosaicnetworks/sectiond/src/peers"
	"github.com/mosaicnetworks/sectiond/src/xorname"
)

func TestSAPValidation(t *testing.T) {
	s := newTestSection(t, xorname.MustParsePrefix("1"), 3, 0)
	require.NoError(t, s.sap.Value.Validate(7))
	require.True(t, s.sap.Verify())

	// too many elders
	require.Error(t, s.sap.Value.Validate(2))

	// elder outside prefix
	bad := s.sap.Value
	bad.Prefix = xorname.MustParsePrefix("0")
	require.Error(t, bad.Validate(7))

	// elder not a member
	bad = s.sap.Value
	bad.Members = bad.Members[1:]
	require.Error(t, bad.Validate(7))

	for i, name := range s.names {
		require.True(t, s.sap.Value.ContainsElder(name))
		require.Equal(t, s.sap.Value.Names()[s.sap.Value.ElderIndex(name)], name, "elder %d", i)
	}
}

func TestKnowledgeUpdateNewElders(t *testing.T) {
	genesis := newTestSection(t, xorname.Prefix{}, 4, 0)
	me := genesis.names[0]

	k, err := NewGenesisKnowledge(me, genesis.sap)
	require.NoError(t, err)
	require.Equal(t, genesis.sap.SectionKey(), k.SectionKey())
	require.Equal(t, uint64(1), k.SectionChainLen())
	require.True(t, k.IsElder(me))

	next := newTestSection(t, xorname.Prefix{}, 4, 1)
	proof := NewSectionsDAG(genesis.sap.SectionKey())
	require.NoError(t, proof.Insert(genesis.sap.SectionKey(), next.sap.SectionKey(),
		genesis.signKey(t, next.sap.SectionKey())))

	changed, err := k.Update(next.sap, proof)
	require.NoError(t, err)
	require.True(t, changed)
	require.Equal(t, next.sap.SectionKey(), k.SectionKey())
	require.Equal(t, uint64(2), k.SectionChainLen())

	// applying the same update again changes nothing
	before, err := k.Marshal()
	require.NoError(t, err)
	changed, err = k.Update(next.sap, proof)
	require.NoError(t, err)
	require.False(t, changed)
	after, err := k.Marshal()
	require.NoError(t, err)
	require.Equal(t, before, after)

	// an older SAP for the same prefix is ignored
	changed, err = k.Update(genesis.sap, NewSectionsDAG(genesis.sap.SectionKey()))
	require.NoError(t, err)
	require.False(t, changed)
	require.Equal(t, next.sap.SectionKey(), k.SectionKey())
}

func TestKnowledgeUntrustedChain(t *testing.T) {
	genesis := newTestSection(t, xorname.Prefix{}, 3, 0)
	k, err := NewGenesisKnowledge(genesis.names[0], genesis.sap)
	require.NoError(t, err)

	rogue := newTestSection(t, xorname.Prefix{}, 3, 5)
	_, err = k.Update(rogue.sap, NewSectionsDAG(rogue.sap.SectionKey()))
	require.Equal(t, ErrUntrustedProofChain, err)
	require.Equal(t, genesis.sap.SectionKey(), k.SectionKey())
}

func TestKnowledgeSplit(t *testing.T) {
	genesis := newTestSection(t, xorname.Prefix{}, 4, 0)
	observer := xorname.MustParsePrefix("1").Substituted(xorname.Random())

	k, err := NewGenesisKnowledge(observer, genesis.sap)
	require.NoError(t, err)

	zero := newTestSection(t, xorname.MustParsePrefix("0"), 3, 3)
	one := newTestSection(t, xorname.MustParsePrefix("1"), 3, 3)

	for _, child := range []testSection{zero, one} {
		proof := NewSectionsDAG(genesis.sap.SectionKey())
		require.NoError(t, proof.Insert(genesis.sap.SectionKey(), child.sap.SectionKey(),
			genesis.signKey(t, child.sap.SectionKey())))
		_, err := k.Update(child.sap, proof)
		require.NoError(t, err)
		assertPartition(t, k)
	}

	prefixes := k.Tree().Prefixes()
	require.Equal(t, []xorname.Prefix{xorname.MustParsePrefix("0"), xorname.MustParsePrefix("1")}, prefixes)
	require.Equal(t, one.sap.SectionKey(), k.SectionKey())
	require.Len(t, k.DAG().Children(genesis.sap.SectionKey()), 2)

	// the root SAP can no longer be installed
	changed, err := k.Update(genesis.sap, NewSectionsDAG(genesis.sap.SectionKey()))
	require.NoError(t, err)
	require.False(t, changed)

	sap, err := k.Closest(xorname.MustParsePrefix("0").Substituted(xorname.Random()), nil)
	require.NoError(t, err)
	require.Equal(t, zero.sap.SectionKey(), sap.SectionKey())

	sap, err = k.Closest(xorname.MustParsePrefix("0").Substituted(xorname.Random()),
		map[xorname.Prefix]bool{xorname.MustParsePrefix("0"): true})
	require.NoError(t, err)
	require.Equal(t, one.sap.SectionKey(), sap.SectionKey())
}

// assertPartition checks that every SAP key is in the DAG and that no two
// prefixes overlap.
func assertPartition(t *testing.T, k *NetworkKnowledge) {
	t.Helper()
	saps := k.Tree().All()
	for i, a := range saps {
		require.True(t, k.DAG().HasKey(a.SectionKey()))
		for j, b := range saps {
			if i != j {
				require.False(t, a.Value.Prefix.IsCompatible(b.Value.Prefix),
					"%s and %s overlap", a.Value.Prefix, b.Value.Prefix)
			}
		}
	}
}

func TestKnowledgeMembersAndPersistence(t *testing.T) {
	genesis := newTestSection(t, xorname.Prefix{}, 4, 0)
	me := genesis.names[1]
	k, err := NewGenesisKnowledge(me, genesis.sap)
	require.NoError(t, err)

	state := peers.NewJoined(peers.NewPeer(xorname.Random(), "joiner"), 5, nil)
	sig, err := genesis.keys.SignAll(NodeStatePayload(1, state))
	require.NoError(t, err)
	decision := SignedNodeState{Value: state, Gen: 1, Sig: SectionSig{PublicKey: genesis.sap.SectionKey(), Signature: sig}}

	changed, err := k.UpdateMember(decision)
	require.NoError(t, err)
	require.True(t, changed)
	changed, err = k.UpdateMember(decision)
	require.NoError(t, err)
	require.False(t, changed)

	forged := decision
	forged.Gen = 2
	_, err = k.UpdateMember(forged)
	require.Equal(t, ErrInvalidSignature, err)

	data, err := k.Marshal()
	require.NoError(t, err)
	back, err := UnmarshalKnowledge(data)
	require.NoError(t, err)
	require.Equal(t, k.SectionKey(), back.SectionKey())
	require.Equal(t, k.Prefix(), back.Prefix())
	require.True(t, k.DAG().Equal(back.DAG()))
	require.Len(t, back.Members(), 1)
}

func TestKeysProvider(t *testing.T) {
	s := newTestSection(t, xorname.Prefix{}, 3, 0)
	p := NewSectionKeysProvider()

	share := SectionKeyShare{PublicKeySet: s.keys.Public, Index: 1, SecretKey: s.keys.Shares[1]}
	require.NoError(t, p.Insert(share))
	require.NoError(t, p.Insert(share))

	other := share
	other.Index = 2
	require.Equal(t, ErrKeyShareExists, p.Insert(other))

	got, err := p.Get(s.sap.SectionKey())
	require.NoError(t, err)
	require.Equal(t, 1, got.Index)

	p.Prune(nil)
	_, err = p.Get(s.sap.SectionKey())
	require.Equal(t, ErrMissingKeyShare, err)
}
