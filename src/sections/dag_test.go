package sections

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mosaicnetworks/sectiond/src/crypto/bls"
)

func TestDAGInsert(t *testing.T) {
	sks, dag := testChain(t, 4)

	require.Equal(t, 4, dag.Len())
	require.NoError(t, dag.SelfVerify())
	require.Equal(t, uint64(4), dag.ChainLen(sks[3].PublicKey()))

	// idempotent
	err := dag.Insert(sks[2].PublicKey(), sks[3].PublicKey(), sks[2].Sign(sks[3].PublicKey().Bytes()))
	require.NoError(t, err)
	require.Equal(t, 4, dag.Len())

	unknown := bls.GenerateSecretKey()
	child := bls.GenerateSecretKey()
	err = dag.Insert(unknown.PublicKey(), child.PublicKey(), unknown.Sign(child.PublicKey().Bytes()))
	require.Equal(t, ErrKeyNotFound, err)

	// signed by the wrong key
	err = dag.Insert(sks[3].PublicKey(), child.PublicKey(), unknown.Sign(child.PublicKey().Bytes()))
	require.Equal(t, ErrInvalidSignature, err)

	parent, _, err := dag.Parent(sks[2].PublicKey())
	require.NoError(t, err)
	require.Equal(t, sks[1].PublicKey(), parent)

	anc, err := dag.Ancestors(sks[3].PublicKey())
	require.NoError(t, err)
	require.Equal(t, []bls.PublicKey{sks[2].PublicKey(), sks[1].PublicKey(), sks[0].PublicKey()}, anc)

	require.True(t, dag.IsAncestor(sks[0].PublicKey(), sks[3].PublicKey()))
	require.True(t, dag.IsAncestor(sks[2].PublicKey(), sks[2].PublicKey()))
	require.False(t, dag.IsAncestor(sks[3].PublicKey(), sks[1].PublicKey()))
}

func TestDAGSplitChildrenOrder(t *testing.T) {
	sks, dag := testChain(t, 2)
	a := bls.GenerateSecretKey().PublicKey()
	b := bls.GenerateSecretKey().PublicKey()

	parent := sks[1]
	require.NoError(t, dag.Insert(parent.PublicKey(), a, parent.Sign(a.Bytes())))
	require.NoError(t, dag.Insert(parent.PublicKey(), b, parent.Sign(b.Bytes())))

	children := dag.Children(parent.PublicKey())
	require.Len(t, children, 2)
	require.True(t, children[0].Less(children[1]))

	leaves := dag.LeafKeys()
	require.Len(t, leaves, 2)
	require.ElementsMatch(t, []bls.PublicKey{a, b}, leaves)

	// a and b are siblings
	require.False(t, dag.IsAncestor(a, b))
	_, err := dag.PartialDAG(a, b)
	require.Equal(t, ErrInvalidBranch, err)
}

func TestDAGSerializationRoundTrip(t *testing.T) {
	sks, dag := testChain(t, 5)
	// add a split below key 2
	x := bls.GenerateSecretKey().PublicKey()
	require.NoError(t, dag.Insert(sks[2].PublicKey(), x, sks[2].Sign(x.Bytes())))

	edges := dag.Edges()
	require.Len(t, edges, dag.Len()-1)

	// parents always come before children
	seen := map[bls.PublicKey]bool{dag.GenesisKey(): true}
	for _, e := range edges {
		require.True(t, seen[e.Parent])
		seen[e.Child] = true
	}

	data, err := dag.Marshal()
	require.NoError(t, err)

	back, err := UnmarshalSectionsDAG(data)
	require.NoError(t, err)
	require.True(t, dag.Equal(back))
	require.Equal(t, dag.Edges(), back.Edges())
}

func TestPartialDAGMerge(t *testing.T) {
	sks, dag := testChain(t, 6)
	from, to := sks[1].PublicKey(), sks[4].PublicKey()

	partial, err := dag.PartialDAG(from, to)
	require.NoError(t, err)
	require.Equal(t, from, partial.GenesisKey())
	require.Equal(t, 4, partial.Len())
	require.Equal(t, []bls.PublicKey{to}, partial.LeafKeys())

	seeded := NewSectionsDAG(from)
	require.NoError(t, seeded.Merge(partial))
	require.True(t, seeded.Equal(partial))

	_, err = dag.PartialDAG(to, from)
	require.Equal(t, ErrInvalidBranch, err)
}

func TestDAGMergeDirections(t *testing.T) {
	sks, dag := testChain(t, 5)

	// a DAG rooted at genesis up to key 2
	head, err := dag.PartialDAG(sks[0].PublicKey(), sks[2].PublicKey())
	require.NoError(t, err)
	// a DAG rooted at key 2 up to key 4
	tail, err := dag.PartialDAG(sks[2].PublicKey(), sks[4].PublicKey())
	require.NoError(t, err)

	a := head.Clone()
	require.NoError(t, a.Merge(tail))
	require.True(t, a.Equal(dag))

	// merging the ancestor into the descendant keeps the ancestor's root
	b := tail.Clone()
	require.NoError(t, b.Merge(head))
	require.True(t, b.Equal(dag))

	_, other := testChain(t, 2)
	require.Equal(t, ErrNoCommonKey, dag.Clone().Merge(other))
}

func TestCheckTrust(t *testing.T) {
	sks, dag := testChain(t, 2)
	require.True(t, dag.CheckTrust([]bls.PublicKey{sks[0].PublicKey()}))
	require.False(t, dag.CheckTrust([]bls.PublicKey{sks[1].PublicKey()}))
}
