package keys

import (
	"github.com/btcsuite/btcd/btcec"
)

// GenerateClientKey returns a signer over a fresh secp256k1 key. Clients are
// named after its compressed public key.
func GenerateClientKey() (*Secp256k1Signer, error) {
	priv, err := GenerateSecp256k1Key()
	if err != nil {
		return nil, err
	}
	return NewSecp256k1Signer(priv), nil
}

// Secp256k1PublicKey wraps a secp256k1 key in compressed form.
func Secp256k1PublicKey(pub *btcec.PublicKey) PublicKey {
	return PublicKey{Type: Secp256k1Key, Bytes: pub.SerializeCompressed()}
}
