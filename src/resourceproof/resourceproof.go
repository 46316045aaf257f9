// Package resourceproof implements the proof of work a node presents to
// join a section.
//
// The section hands out a random nonce. The joiner expands it into DataSize
// bytes it must hold in memory, then searches a solution such that
// SHA3(data || solution || nonce) starts with Difficulty zero bits.
package resourceproof

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"math/bits"

	"github.com/mosaicnetworks/sectiond/src/common"
	"github.com/mosaicnetworks/sectiond/src/crypto"
	"github.com/mosaicnetworks/sectiond/src/crypto/keys"
	"github.com/mosaicnetworks/sectiond/src/xorname"
)

// NonceLen ...
const NonceLen = 32

var (
	// ErrInvalidChallenge is returned for challenges not signed by their
	// issuer.
	ErrInvalidChallenge = errors.New("resourceproof: invalid challenge signature")
	// ErrInvalidProof is returned for proofs that do not meet the challenge.
	ErrInvalidProof = errors.New("resourceproof: invalid proof")
)

// Challenge is issued by an elder. It is signed so that any elder of the
// section can later check a response without keeping state.
type Challenge struct {
	Nonce      [NonceLen]byte
	DataSize   uint64
	Difficulty uint8
	ElderKey   []byte
	Sig        []byte
}

type challengePayload struct {
	Nonce      [NonceLen]byte
	DataSize   uint64
	Difficulty uint8
}

func (c Challenge) payload() []byte {
	return common.MustMarshal(challengePayload{
		Nonce:      c.Nonce,
		DataSize:   c.DataSize,
		Difficulty: c.Difficulty,
	})
}

// NewChallenge draws a nonce and signs the challenge with the elder's key.
func NewChallenge(elder *keys.Keypair, dataSize uint64, difficulty uint8) (Challenge, error) {
	c := Challenge{DataSize: dataSize, Difficulty: difficulty}
	if _, err := rand.Read(c.Nonce[:]); err != nil {
		return Challenge{}, err
	}
	c.ElderKey = elder.SigningPublicKey()
	c.Sig = elder.Sign(c.payload())
	return c, nil
}

// Issuer returns the name of the elder that issued the challenge.
func (c Challenge) Issuer() xorname.Name {
	return keys.NodeName(ed25519.PublicKey(c.ElderKey))
}

// Verify checks the issuer's signature.
func (c Challenge) Verify() bool {
	if len(c.ElderKey) != ed25519.PublicKeySize {
		return false
	}
	return ed25519.Verify(ed25519.PublicKey(c.ElderKey), c.payload(), c.Sig)
}

// Data expands the nonce into DataSize bytes.
func (c Challenge) Data() []byte {
	data := make([]byte, 0, c.DataSize+crypto.DigestLen)
	block := crypto.SHA3(c.Nonce[:])
	for uint64(len(data)) < c.DataSize {
		data = append(data, block...)
		block = crypto.SHA3(block, c.Nonce[:])
	}
	return data[:c.DataSize]
}

// Proof is a joiner's answer to a challenge.
type Proof struct {
	Challenge Challenge
	Solution  uint64
	Data      []byte
}

func score(data []byte, solution uint64, nonce []byte) int {
	var sol [8]byte
	binary.LittleEndian.PutUint64(sol[:], solution)
	h := crypto.SHA3(data, sol[:], nonce)
	n := 0
	for _, b := range h {
		if b != 0 {
			return n + bits.LeadingZeros8(b)
		}
		n += 8
	}
	return n
}

// Solve searches a solution, checking ctx between attempts.
func Solve(ctx context.Context, c Challenge) (Proof, error) {
	data := c.Data()
	for solution := uint64(0); ; solution++ {
		if solution%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return Proof{}, err
			}
		}
		if score(data, solution, c.Nonce[:]) >= int(c.Difficulty) {
			return Proof{Challenge: c, Solution: solution, Data: data}, nil
		}
	}
}

// Validate checks the proof against its challenge. Callers also check that
// the challenge's issuer is one of their elders.
func (p Proof) Validate() error {
	if !p.Challenge.Verify() {
		return ErrInvalidChallenge
	}
	if uint64(len(p.Data)) != p.Challenge.DataSize {
		return ErrInvalidProof
	}
	expected := p.Challenge.Data()
	for i := range expected {
		if expected[i] != p.Data[i] {
			return ErrInvalidProof
		}
	}
	if score(p.Data, p.Solution, p.Challenge.Nonce[:]) < int(p.Challenge.Difficulty) {
		return ErrInvalidProof
	}
	return nil
}
