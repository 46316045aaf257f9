package keys

import (
	"crypto/ed25519"

	"github.com/btcsuite/btcd/btcec"

	"github.com/mosaicnetworks/sectiond/src/crypto"
)

// Signer signs client requests.
type Signer interface {
	PublicKey() PublicKey
	Sign(msg []byte) ([]byte, error)
}

// Ed25519Signer signs with an Ed25519 key.
type Ed25519Signer struct {
	key ed25519.PrivateKey
}

// NewEd25519Signer ...
func NewEd25519Signer(key ed25519.PrivateKey) *Ed25519Signer {
	return &Ed25519Signer{key: key}
}

// PublicKey implements Signer.
func (s *Ed25519Signer) PublicKey() PublicKey {
	return Ed25519PublicKey(s.key.Public().(ed25519.PublicKey))
}

// Sign implements Signer.
func (s *Ed25519Signer) Sign(msg []byte) ([]byte, error) {
	return ed25519.Sign(s.key, msg), nil
}

// Secp256k1Signer signs the SHA3 digest of messages with a secp256k1 key and
// returns DER encoded signatures.
type Secp256k1Signer struct {
	key *btcec.PrivateKey
}

// NewSecp256k1Signer ...
func NewSecp256k1Signer(key *btcec.PrivateKey) *Secp256k1Signer {
	return &Secp256k1Signer{key: key}
}

// PublicKey implements Signer.
func (s *Secp256k1Signer) PublicKey() PublicKey {
	return Secp256k1PublicKey(s.key.PubKey())
}

// Sign implements Signer.
func (s *Secp256k1Signer) Sign(msg []byte) ([]byte, error) {
	sig, err := s.key.Sign(crypto.SHA3(msg))
	if err != nil {
		return nil, err
	}
	return sig.Serialize(), nil
}

// KeypairSigner adapts a node Keypair to the Signer interface.
type KeypairSigner struct {
	*Keypair
}

// Sign implements Signer.
func (s KeypairSigner) Sign(msg []byte) ([]byte, error) {
	return s.Keypair.Sign(msg), nil
}
