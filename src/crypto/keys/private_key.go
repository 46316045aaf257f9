package keys

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcec"
	"golang.org/x/crypto/curve25519"

	"github.com/mosaicnetworks/sectiond/src/xorname"
)

// EncryptionKeyLen is the size of X25519 keys.
const EncryptionKeyLen = curve25519.ScalarSize

// Keypair is the long lived identity of a node: an Ed25519 signing key, from
// which the node's name is derived, and an X25519 encryption key.
type Keypair struct {
	Signing          ed25519.PrivateKey
	EncryptionSecret [EncryptionKeyLen]byte
	EncryptionPublic [EncryptionKeyLen]byte
}

// GenerateKeypair creates a fresh identity.
func GenerateKeypair() (*Keypair, error) {
	_, sk, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, err
	}
	var enc [EncryptionKeyLen]byte
	if _, err := rand.Read(enc[:]); err != nil {
		return nil, err
	}
	return newKeypair(sk, enc)
}

// GenerateKeypairInPrefix generates identities until one whose name matches
// prefix is found. Relocating nodes use it to pick a name inside their
// destination section. Each attempt halves the odds per prefix bit, so the
// number of attempts is bounded by maxAttempts.
func GenerateKeypairInPrefix(prefix xorname.Prefix, maxAttempts int) (*Keypair, error) {
	for i := 0; i < maxAttempts; i++ {
		kp, err := GenerateKeypair()
		if err != nil {
			return nil, err
		}
		if prefix.Matches(kp.Name()) {
			return kp, nil
		}
	}
	return nil, fmt.Errorf("no key found for prefix %s after %d attempts", prefix, maxAttempts)
}

func newKeypair(sk ed25519.PrivateKey, encSecret [EncryptionKeyLen]byte) (*Keypair, error) {
	pub, err := curve25519.X25519(encSecret[:], curve25519.Basepoint)
	if err != nil {
		return nil, err
	}
	kp := &Keypair{
		Signing:          sk,
		EncryptionSecret: encSecret,
	}
	copy(kp.EncryptionPublic[:], pub)
	return kp, nil
}

// SigningPublicKey ...
func (k *Keypair) SigningPublicKey() ed25519.PublicKey {
	return k.Signing.Public().(ed25519.PublicKey)
}

// Name derives the node's name from its signing key.
func (k *Keypair) Name() xorname.Name {
	return NodeName(k.SigningPublicKey())
}

// Sign signs msg with the signing key.
func (k *Keypair) Sign(msg []byte) []byte {
	return ed25519.Sign(k.Signing, msg)
}

// PublicKey returns the signing key in its generic form.
func (k *Keypair) PublicKey() PublicKey {
	return PublicKey{Type: Ed25519Key, Bytes: []byte(k.SigningPublicKey())}
}

// SharedSecret computes the X25519 shared secret with a peer's encryption
// public key.
func (k *Keypair) SharedSecret(peer [EncryptionKeyLen]byte) ([]byte, error) {
	return curve25519.X25519(k.EncryptionSecret[:], peer[:])
}

// NodeName is the SHA3-256 of an Ed25519 public key.
func NodeName(pk ed25519.PublicKey) xorname.Name {
	return xorname.FromContent(pk)
}

//DumpKeypair exports the identity into a binary dump: the Ed25519 seed
//followed by the X25519 secret.
func DumpKeypair(k *Keypair) []byte {
	if k == nil {
		return nil
	}
	out := make([]byte, 0, ed25519.SeedSize+EncryptionKeyLen)
	out = append(out, k.Signing.Seed()...)
	out = append(out, k.EncryptionSecret[:]...)
	return out
}

//ParseKeypair is the inverse of DumpKeypair.
func ParseKeypair(d []byte) (*Keypair, error) {
	if len(d) != ed25519.SeedSize+EncryptionKeyLen {
		return nil, fmt.Errorf("invalid length, need %d bytes", ed25519.SeedSize+EncryptionKeyLen)
	}
	sk := ed25519.NewKeyFromSeed(d[:ed25519.SeedSize])
	var enc [EncryptionKeyLen]byte
	copy(enc[:], d[ed25519.SeedSize:])
	return newKeypair(sk, enc)
}

//KeypairHex returns the hexadecimal representation of DumpKeypair.
func KeypairHex(k *Keypair) string {
	return hex.EncodeToString(DumpKeypair(k))
}

// GenerateSecp256k1Key creates a client key on the secp256k1 curve.
func GenerateSecp256k1Key() (*btcec.PrivateKey, error) {
	return btcec.NewPrivateKey(Curve())
}

// ParseSecp256k1Key parses the 32 byte scalar of a secp256k1 key.
func ParseSecp256k1Key(d []byte) (*btcec.PrivateKey, error) {
	if len(d) != btcec.PrivKeyBytesLen {
		return nil, errors.New("invalid secp256k1 private key length")
	}
	priv, _ := btcec.PrivKeyFromBytes(Curve(), d)
	return priv, nil
}
