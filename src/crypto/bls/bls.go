package bls

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"

	"go.dedis.ch/kyber/v3"
	"go.dedis.ch/kyber/v3/pairing/bn256"
	"go.dedis.ch/kyber/v3/share"
	kbls "go.dedis.ch/kyber/v3/sign/bls"
	"go.dedis.ch/kyber/v3/sign/tbls"
)

const (
	// PublicKeyLen is the size of a marshalled G2 point.
	PublicKeyLen = 128
	// SignatureLen is the size of a marshalled G1 point.
	SignatureLen = 64
	// ScalarLen is the size of a marshalled scalar.
	ScalarLen = 32
)

var (
	// ErrInvalidPoint is returned when bytes do not decode to a curve point.
	ErrInvalidPoint = errors.New("bls: invalid point")
	// ErrInvalidShare is returned for malformed signature shares.
	ErrInvalidShare = errors.New("bls: invalid signature share")
	// ErrNotEnoughShares is returned by Combine below threshold.
	ErrNotEnoughShares = errors.New("bls: not enough signature shares")
)

// suite is the G2 flavour of BN256: its Group is G2, which is where keys live,
// and it is also a pairing suite for signing and verification.
var suite = bn256.NewSuiteG2()

// Suite exposes the pairing suite to the DKG engine.
func Suite() *bn256.Suite {
	return suite
}

// Supermajority returns ceil(2n/3), the number of shares needed to sign on
// behalf of n elders.
func Supermajority(n int) int {
	return (2*n + 2) / 3
}

// PublicKey is a marshalled G2 point.
type PublicKey [PublicKeyLen]byte

// PublicKeyFromPoint marshals p.
func PublicKeyFromPoint(p kyber.Point) PublicKey {
	var pk PublicKey
	b, err := p.MarshalBinary()
	if err != nil || len(b) != PublicKeyLen {
		panic(fmt.Sprintf("bls: unexpected public key encoding: %v", err))
	}
	copy(pk[:], b)
	return pk
}

// Point decodes the key.
func (pk PublicKey) Point() (kyber.Point, error) {
	p := suite.G2().Point()
	if err := p.UnmarshalBinary(pk[:]); err != nil {
		return nil, ErrInvalidPoint
	}
	return p, nil
}

// Verify checks a full signature over msg.
func (pk PublicKey) Verify(msg []byte, sig Signature) bool {
	p, err := pk.Point()
	if err != nil {
		return false
	}
	return kbls.Verify(suite, p, msg, sig[:]) == nil
}

// IsZero ...
func (pk PublicKey) IsZero() bool {
	return pk == PublicKey{}
}

// Bytes ...
func (pk PublicKey) Bytes() []byte {
	return pk[:]
}

// Less orders keys by their byte encoding.
func (pk PublicKey) Less(o PublicKey) bool {
	return bytes.Compare(pk[:], o[:]) < 0
}

// String returns a short hex form for logs.
func (pk PublicKey) String() string {
	return hex.EncodeToString(pk[:6])
}

// PublicKeyFromBytes copies b into a PublicKey after checking it decodes.
func PublicKeyFromBytes(b []byte) (PublicKey, error) {
	var pk PublicKey
	if len(b) != PublicKeyLen {
		return pk, ErrInvalidPoint
	}
	copy(pk[:], b)
	if _, err := pk.Point(); err != nil {
		return pk, err
	}
	return pk, nil
}

// Signature is a marshalled G1 point.
type Signature [SignatureLen]byte

// Bytes ...
func (s Signature) Bytes() []byte {
	return s[:]
}

// String ...
func (s Signature) String() string {
	return hex.EncodeToString(s[:6])
}

func signatureFromBytes(b []byte) (Signature, error) {
	var s Signature
	if len(b) != SignatureLen {
		return s, fmt.Errorf("bls: bad signature length %d", len(b))
	}
	copy(s[:], b)
	return s, nil
}

// SecretKey is a single party BLS secret. Nodes use it for keys that are not
// shared, and tests use it to build chains quickly.
type SecretKey struct {
	scalar kyber.Scalar
}

// GenerateSecretKey ...
func GenerateSecretKey() *SecretKey {
	sk, _ := kbls.NewKeyPair(suite, suite.RandomStream())
	return &SecretKey{scalar: sk}
}

// PublicKey ...
func (sk *SecretKey) PublicKey() PublicKey {
	return PublicKeyFromPoint(suite.G2().Point().Mul(sk.scalar, nil))
}

// Sign ...
func (sk *SecretKey) Sign(msg []byte) Signature {
	b, err := kbls.Sign(suite, sk.scalar, msg)
	if err != nil {
		panic(err)
	}
	s, err := signatureFromBytes(b)
	if err != nil {
		panic(err)
	}
	return s
}

// PublicKeySet is the public side of a threshold key: the commitments of the
// sharing polynomial (Commits[0] is the group public key) and the number of
// participants holding shares.
type PublicKeySet struct {
	Size    int
	Commits []PublicKey
}

// PublicKey returns the group public key.
func (s PublicKeySet) PublicKey() PublicKey {
	if len(s.Commits) == 0 {
		return PublicKey{}
	}
	return s.Commits[0]
}

// Threshold is the number of shares needed to produce a signature.
func (s PublicKeySet) Threshold() int {
	return len(s.Commits)
}

// Equal ...
func (s PublicKeySet) Equal(o PublicKeySet) bool {
	if s.Size != o.Size || len(s.Commits) != len(o.Commits) {
		return false
	}
	for i := range s.Commits {
		if s.Commits[i] != o.Commits[i] {
			return false
		}
	}
	return true
}

// Bytes encodes the size followed by every commitment.
func (s PublicKeySet) Bytes() []byte {
	res := make([]byte, 4, 4+len(s.Commits)*PublicKeyLen)
	binary.BigEndian.PutUint32(res, uint32(s.Size))
	for _, c := range s.Commits {
		res = append(res, c.Bytes()...)
	}
	return res
}

// IsZero ...
func (s PublicKeySet) IsZero() bool {
	return len(s.Commits) == 0
}

func (s PublicKeySet) pubPoly() (*share.PubPoly, error) {
	if len(s.Commits) == 0 {
		return nil, ErrInvalidPoint
	}
	commits := make([]kyber.Point, len(s.Commits))
	for i, c := range s.Commits {
		p, err := c.Point()
		if err != nil {
			return nil, err
		}
		commits[i] = p
	}
	return share.NewPubPoly(suite.G2(), nil, commits), nil
}

// PublicKeyShare returns the public key of share i.
func (s PublicKeySet) PublicKeyShare(i int) (PublicKey, error) {
	poly, err := s.pubPoly()
	if err != nil {
		return PublicKey{}, err
	}
	return PublicKeyFromPoint(poly.Eval(i).V), nil
}

// VerifyShare checks that sig is a valid share over msg from the holder of
// share sig.Index().
func (s PublicKeySet) VerifyShare(msg []byte, sig SignatureShare) bool {
	idx, err := sig.Index()
	if err != nil || idx < 0 || idx >= s.Size {
		return false
	}
	poly, err := s.pubPoly()
	if err != nil {
		return false
	}
	return tbls.Verify(suite, poly, msg, sig) == nil
}

// Combine interpolates a full signature from at least Threshold() valid
// shares.
func (s PublicKeySet) Combine(msg []byte, shares []SignatureShare) (Signature, error) {
	if len(shares) < s.Threshold() {
		return Signature{}, ErrNotEnoughShares
	}
	poly, err := s.pubPoly()
	if err != nil {
		return Signature{}, err
	}
	raw := make([][]byte, len(shares))
	for i, sh := range shares {
		raw[i] = sh
	}
	b, err := tbls.Recover(suite, poly, msg, raw, s.Threshold(), s.Size)
	if err != nil {
		return Signature{}, err
	}
	return signatureFromBytes(b)
}

// String ...
func (s PublicKeySet) String() string {
	return fmt.Sprintf("%s(%d/%d)", s.PublicKey(), s.Threshold(), s.Size)
}

// NewPublicKeySet builds a key set from raw polynomial commitments.
func NewPublicKeySet(size int, commits []kyber.Point) PublicKeySet {
	ks := PublicKeySet{Size: size, Commits: make([]PublicKey, len(commits))}
	for i, c := range commits {
		ks.Commits[i] = PublicKeyFromPoint(c)
	}
	return ks
}

// SecretKeyShare is one participant's share of a threshold key.
type SecretKeyShare struct {
	Index int
	Value []byte
}

// NewSecretKeyShare marshals a kyber private share.
func NewSecretKeyShare(ps *share.PriShare) (SecretKeyShare, error) {
	b, err := ps.V.MarshalBinary()
	if err != nil {
		return SecretKeyShare{}, err
	}
	return SecretKeyShare{Index: ps.I, Value: b}, nil
}

func (sk SecretKeyShare) priShare() (*share.PriShare, error) {
	v := suite.G2().Scalar()
	if err := v.UnmarshalBinary(sk.Value); err != nil {
		return nil, err
	}
	return &share.PriShare{I: sk.Index, V: v}, nil
}

// Sign produces a signature share over msg.
func (sk SecretKeyShare) Sign(msg []byte) (SignatureShare, error) {
	ps, err := sk.priShare()
	if err != nil {
		return nil, err
	}
	b, err := tbls.Sign(suite, ps, msg)
	if err != nil {
		return nil, err
	}
	return SignatureShare(b), nil
}

// PublicKeyShare returns the public counterpart of the share.
func (sk SecretKeyShare) PublicKeyShare() (PublicKey, error) {
	ps, err := sk.priShare()
	if err != nil {
		return PublicKey{}, err
	}
	return PublicKeyFromPoint(suite.G2().Point().Mul(ps.V, nil)), nil
}

// SignatureShare is a share index (2 bytes, big endian) followed by a G1
// point.
type SignatureShare []byte

// Index returns the index of the signer.
func (s SignatureShare) Index() (int, error) {
	if len(s) != 2+SignatureLen {
		return 0, ErrInvalidShare
	}
	return tbls.SigShare(s).Index()
}

// KeySet is a full threshold key, as produced by a trusted dealer.
type KeySet struct {
	Public PublicKeySet
	Shares []SecretKeyShare
}

// GenerateKeySet deals a threshold key for n participants with a trusted
// dealer. It is used for genesis sections and for single elder sections,
// where no DKG can run.
func GenerateKeySet(n int) (*KeySet, error) {
	if n <= 0 {
		return nil, fmt.Errorf("bls: invalid key set size %d", n)
	}
	t := Supermajority(n)
	priPoly := share.NewPriPoly(suite.G2(), t, nil, suite.RandomStream())
	pubPoly := priPoly.Commit(nil)
	_, commits := pubPoly.Info()

	ks := &KeySet{Public: NewPublicKeySet(n, commits)}
	for _, ps := range priPoly.Shares(n) {
		sks, err := NewSecretKeyShare(ps)
		if err != nil {
			return nil, err
		}
		ks.Shares = append(ks.Shares, sks)
	}
	return ks, nil
}

// SignAll produces a full signature with the dealer's shares.
func (ks *KeySet) SignAll(msg []byte) (Signature, error) {
	var shares []SignatureShare
	for _, sk := range ks.Shares[:ks.Public.Threshold()] {
		sh, err := sk.Sign(msg)
		if err != nil {
			return Signature{}, err
		}
		shares = append(shares, sh)
	}
	return ks.Public.Combine(msg, shares)
}
