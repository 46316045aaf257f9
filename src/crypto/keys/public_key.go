package keys

import (
	"bytes"
	"crypto/ed25519"

	"github.com/btcsuite/btcd/btcec"

	"github.com/mosaicnetworks/sectiond/src/common"
	"github.com/mosaicnetworks/sectiond/src/crypto"
	"github.com/mosaicnetworks/sectiond/src/xorname"
)

// KeyType tells which scheme a PublicKey belongs to.
type KeyType uint8

const (
	// Ed25519Key is the scheme used by nodes and most clients.
	Ed25519Key KeyType = iota
	// Secp256k1Key is accepted from clients.
	Secp256k1Key
)

func (t KeyType) String() string {
	switch t {
	case Ed25519Key:
		return "ed25519"
	case Secp256k1Key:
		return "secp256k1"
	default:
		return "unknown"
	}
}

// PublicKey is a client or node public key. Secp256k1 keys are stored in
// compressed form.
type PublicKey struct {
	Type  KeyType
	Bytes []byte
}

// Verify checks sig over msg.
func (pk PublicKey) Verify(msg, sig []byte) bool {
	switch pk.Type {
	case Ed25519Key:
		if len(pk.Bytes) != ed25519.PublicKeySize {
			return false
		}
		return ed25519.Verify(ed25519.PublicKey(pk.Bytes), msg, sig)
	case Secp256k1Key:
		pub, err := btcec.ParsePubKey(pk.Bytes, Curve())
		if err != nil {
			return false
		}
		s, err := btcec.ParseSignature(sig, Curve())
		if err != nil {
			return false
		}
		return s.Verify(crypto.SHA3(msg), pub)
	default:
		return false
	}
}

// Name returns the XOR name of the key.
func (pk PublicKey) Name() xorname.Name {
	return xorname.FromContent(pk.Bytes)
}

// Equal ...
func (pk PublicKey) Equal(o PublicKey) bool {
	return pk.Type == o.Type && bytes.Equal(pk.Bytes, o.Bytes)
}

// Key returns a string usable as a map key.
func (pk PublicKey) Key() string {
	return string([]byte{byte(pk.Type)}) + string(pk.Bytes)
}

// IsZero ...
func (pk PublicKey) IsZero() bool {
	return len(pk.Bytes) == 0
}

// String returns the hexadecimal representation of the key.
func (pk PublicKey) String() string {
	return pk.Type.String() + ":" + common.EncodeToString(pk.Bytes)
}

// Ed25519PublicKey wraps a raw Ed25519 key.
func Ed25519PublicKey(pk ed25519.PublicKey) PublicKey {
	return PublicKey{Type: Ed25519Key, Bytes: []byte(pk)}
}
