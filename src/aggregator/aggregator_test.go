package aggregator

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mosaicnetworks/sectiond/src/crypto/bls"
	"github.com/mosaicnetworks/sectiond/src/sections"
)

func shareOf(t *testing.T, ks *bls.KeySet, i int, payload []byte) SigShare {
	t.Helper()
	s, err := ks.Shares[i].Sign(payload)
	require.NoError(t, err)
	return SigShare{PublicKeySet: ks.Public, Index: ks.Shares[i].Index, Share: s}
}

func TestAggregateSupermajority(t *testing.T) {
	ks, err := bls.GenerateKeySet(7)
	require.NoError(t, err)
	agg := NewSignatureAggregator(DefaultConfig(), nil)
	payload := []byte("new elders")

	for i := 0; i < 4; i++ {
		sig, err := agg.TryAggregate(payload, shareOf(t, ks, i, payload))
		require.NoError(t, err)
		require.Nil(t, sig)
		// duplicates do not count twice
		sig, err = agg.TryAggregate(payload, shareOf(t, ks, i, payload))
		require.NoError(t, err)
		require.Nil(t, sig)
	}

	sig, err := agg.TryAggregate(payload, shareOf(t, ks, 4, payload))
	require.NoError(t, err)
	require.NotNil(t, sig)
	require.Equal(t, ks.Public.PublicKey(), sig.PublicKey)
	require.True(t, sig.Verify(payload))
	require.True(t, agg.IsComplete(ks.Public.PublicKey(), payload))
	require.Equal(t, 0, agg.Pending())

	// late shares are dropped
	sig, err = agg.TryAggregate(payload, shareOf(t, ks, 5, payload))
	require.NoError(t, err)
	require.Nil(t, sig)
}

func TestAggregateRejectsBadShares(t *testing.T) {
	ks, err := bls.GenerateKeySet(4)
	require.NoError(t, err)
	other, err := bls.GenerateKeySet(4)
	require.NoError(t, err)

	agg := NewSignatureAggregator(DefaultConfig(), ks.Public.Equal)
	payload := []byte("payload")

	_, err = agg.TryAggregate(payload, shareOf(t, other, 0, payload))
	require.Equal(t, ErrInvalidKeyShareSectionKey, err)

	// share over another payload
	bad := shareOf(t, ks, 0, []byte("something else"))
	_, err = agg.TryAggregate(payload, bad)
	require.Equal(t, ErrInvalidSignatureShare, err)

	// share claiming a wrong index
	bad = shareOf(t, ks, 0, payload)
	bad.Index = 2
	_, err = agg.TryAggregate(payload, bad)
	require.Equal(t, ErrInvalidSignatureShare, err)
}

func forgedKeySet(ks *bls.KeySet) bls.PublicKeySet {
	return bls.PublicKeySet{Size: 1, Commits: append([]bls.PublicKey{}, ks.Public.Commits...)}
}

func TestAggregateForgedKeySet(t *testing.T) {
	ks, err := bls.GenerateKeySet(4)
	require.NoError(t, err)
	payload := []byte("new key")

	// the forged set carries the right group key but another size
	forged := shareOf(t, ks, 0, payload)
	forged.PublicKeySet = forgedKeySet(ks)
	require.Equal(t, ks.Public.PublicKey(), forged.PublicKeySet.PublicKey())

	filtered := NewSignatureAggregator(DefaultConfig(), ks.Public.Equal)
	_, err = filtered.TryAggregate(payload, forged)
	require.Equal(t, ErrInvalidKeyShareSectionKey, err)

	// without a filter the forged share is aggregated apart and does not
	// block the honest shares
	open := NewSignatureAggregator(DefaultConfig(), nil)
	_, err = open.TryAggregate(payload, forged)
	require.NoError(t, err)

	for _, agg := range []*SignatureAggregator{filtered, open} {
		var sig *sections.SectionSig
		for i := 0; i < ks.Public.Threshold(); i++ {
			sig, err = agg.TryAggregate(payload, shareOf(t, ks, i, payload))
			require.NoError(t, err)
		}
		require.NotNil(t, sig)
		require.True(t, sig.Verify(payload))
		require.True(t, agg.IsComplete(ks.Public.PublicKey(), payload))
	}
}

func TestAggregateExpiry(t *testing.T) {
	ks, err := bls.GenerateKeySet(4)
	require.NoError(t, err)
	agg := NewSignatureAggregator(Config{Capacity: 10, TTL: time.Minute}, nil)

	now := time.Now()
	agg.now = func() time.Time { return now }

	payload := []byte("slow")
	_, err = agg.TryAggregate(payload, shareOf(t, ks, 0, payload))
	require.NoError(t, err)
	require.Equal(t, 1, agg.Pending())

	now = now.Add(2 * time.Minute)
	_, err = agg.TryAggregate([]byte("other"), shareOf(t, ks, 0, []byte("other")))
	require.NoError(t, err)
	require.Equal(t, 1, agg.Pending())

	// the first share expired, so two more are not enough
	for i := 1; i < 3; i++ {
		sig, err := agg.TryAggregate(payload, shareOf(t, ks, i, payload))
		require.NoError(t, err)
		require.Nil(t, sig)
	}
	sig, err := agg.TryAggregate(payload, shareOf(t, ks, 3, payload))
	require.NoError(t, err)
	require.NotNil(t, sig)
}
