package bls

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSupermajority(t *testing.T) {
	cases := map[int]int{1: 1, 2: 2, 3: 2, 4: 3, 5: 4, 6: 4, 7: 5, 10: 7}
	for n, want := range cases {
		require.Equal(t, want, Supermajority(n), "n=%d", n)
	}
}

func TestSecretKeySignVerify(t *testing.T) {
	sk := GenerateSecretKey()
	msg := []byte("section key")

	sig := sk.Sign(msg)
	require.Len(t, sk.PublicKey().Bytes(), PublicKeyLen)
	require.Len(t, sig.Bytes(), SignatureLen)
	require.True(t, sk.PublicKey().Verify(msg, sig))
	require.False(t, sk.PublicKey().Verify([]byte("other"), sig))

	other := GenerateSecretKey()
	require.False(t, other.PublicKey().Verify(msg, sig))
}

func TestPublicKeySetBytes(t *testing.T) {
	ks, err := GenerateKeySet(4)
	require.NoError(t, err)

	b := ks.Public.Bytes()
	require.Len(t, b, 4+len(ks.Public.Commits)*PublicKeyLen)

	resized := PublicKeySet{Size: 5, Commits: ks.Public.Commits}
	require.NotEqual(t, b, resized.Bytes())
	require.False(t, ks.Public.Equal(resized))
}

func TestThresholdSignature(t *testing.T) {
	ks, err := GenerateKeySet(7)
	require.NoError(t, err)
	require.Equal(t, 5, ks.Public.Threshold())
	require.Len(t, ks.Shares, 7)

	msg := []byte("payload")

	var shares []SignatureShare
	for _, sk := range ks.Shares {
		sh, err := sk.Sign(msg)
		require.NoError(t, err)
		require.True(t, ks.Public.VerifyShare(msg, sh))
		require.False(t, ks.Public.VerifyShare([]byte("other"), sh))

		idx, err := sh.Index()
		require.NoError(t, err)
		require.Equal(t, sk.Index, idx)

		shares = append(shares, sh)
	}

	_, err = ks.Public.Combine(msg, shares[:4])
	require.Equal(t, ErrNotEnoughShares, err)

	// Any five shares give the same signature.
	sigA, err := ks.Public.Combine(msg, shares[:5])
	require.NoError(t, err)
	sigB, err := ks.Public.Combine(msg, shares[2:])
	require.NoError(t, err)
	require.Equal(t, sigA, sigB)
	require.True(t, ks.Public.PublicKey().Verify(msg, sigA))
}

func TestPublicKeyShare(t *testing.T) {
	ks, err := GenerateKeySet(4)
	require.NoError(t, err)

	for _, sk := range ks.Shares {
		fromSecret, err := sk.PublicKeyShare()
		require.NoError(t, err)
		fromSet, err := ks.Public.PublicKeyShare(sk.Index)
		require.NoError(t, err)
		require.Equal(t, fromSecret, fromSet)
	}
}

func TestPublicKeyFromBytes(t *testing.T) {
	pk := GenerateSecretKey().PublicKey()
	back, err := PublicKeyFromBytes(pk.Bytes())
	require.NoError(t, err)
	require.Equal(t, pk, back)

	_, err = PublicKeyFromBytes(pk.Bytes()[:10])
	require.Error(t, err)
}

func TestSingleParticipantKeySet(t *testing.T) {
	ks, err := GenerateKeySet(1)
	require.NoError(t, err)

	sig, err := ks.SignAll([]byte("alone"))
	require.NoError(t, err)
	require.True(t, ks.Public.PublicKey().Verify([]byte("alone"), sig))
}
