package dkg

import (
	"crypto/ed25519"

	"github.com/mosaicnetworks/sectiond/src/common"
	"github.com/mosaicnetworks/sectiond/src/crypto"
	"github.com/mosaicnetworks/sectiond/src/crypto/keys"
	"github.com/mosaicnetworks/sectiond/src/peers"
	"github.com/mosaicnetworks/sectiond/src/sections"
	"github.com/mosaicnetworks/sectiond/src/xorname"
)

// EphemeralKey is a participant's session key, signed with its node key. It
// carries the section's authorisation so that a participant that missed the
// start of the session can join it.
type EphemeralKey struct {
	Session     SessionID
	SectionAuth sections.SectionSig
	SenderKey   []byte
	PubKey      []byte
	Sig         []byte
}

type ephemeralKeyPayload struct {
	Session crypto.Digest
	PubKey  []byte
}

func ephemeralPayload(session crypto.Digest, pubKey []byte) []byte {
	return common.MustMarshal(ephemeralKeyPayload{Session: session, PubKey: pubKey})
}

// Sender returns the name of the participant that signed the key.
func (k EphemeralKey) Sender() xorname.Name {
	return keys.NodeName(ed25519.PublicKey(k.SenderKey))
}

// Verify checks the sender's signature.
func (k EphemeralKey) Verify() bool {
	if len(k.SenderKey) != ed25519.PublicKeySize {
		return false
	}
	return ed25519.Verify(ed25519.PublicKey(k.SenderKey), ephemeralPayload(k.Session.Hash(), k.PubKey), k.Sig)
}

// VoteKind ...
type VoteKind uint8

const (
	// PartsVote carries a participant's encrypted deals.
	PartsVote VoteKind = iota
	// AcksVote carries a participant's responses to every other deal.
	AcksVote
)

func (k VoteKind) String() string {
	if k == PartsVote {
		return "Parts"
	}
	return "Acks"
}

// Deal is a dealer's encrypted share for one recipient.
type Deal struct {
	Recipient uint32
	Dealer    uint32
	DHKey     []byte
	DealSig   []byte
	Nonce     []byte
	Cipher    []byte
	Signature []byte
}

// Ack is a verifier's response to a dealer's deal.
type Ack struct {
	Dealer    uint32
	Verifier  uint32
	SessionID []byte
	Status    bool
	Signature []byte
}

// Vote is one step of a participant in the key generation.
type Vote struct {
	Kind     VoteKind
	Voter    uint32
	Deals    []Deal
	Acks     []Ack
	VoterKey []byte
	Sig      []byte
}

type votePayload struct {
	Session crypto.Digest
	Kind    VoteKind
	Voter   uint32
	Deals   []Deal
	Acks    []Ack
}

func (v Vote) payload(session crypto.Digest) []byte {
	return common.MustMarshal(votePayload{
		Session: session,
		Kind:    v.Kind,
		Voter:   v.Voter,
		Deals:   v.Deals,
		Acks:    v.Acks,
	})
}

// verify checks the voter's signature and that the voter is participant
// Voter of the session.
func (v Vote) verify(id SessionID, session crypto.Digest) bool {
	if int(v.Voter) >= len(id.Elders) || len(v.VoterKey) != ed25519.PublicKeySize {
		return false
	}
	if keys.NodeName(ed25519.PublicKey(v.VoterKey)) != id.Elders[v.Voter].Name {
		return false
	}
	return ed25519.Verify(ed25519.PublicKey(v.VoterKey), v.payload(session), v.Sig)
}

// Votes is the gossip unit of a session: every ephemeral key and vote known
// to the sender.
type Votes struct {
	Session crypto.Digest
	Keys    []EphemeralKey
	Votes   []Vote
}

// AERequest asks a participant for every vote it knows.
type AERequest struct {
	Session crypto.Digest
}

// Message is a message to send to the other participants of a session. One
// of Key, Votes or AE is set.
type Message struct {
	Recipients []peers.Peer
	Key        *EphemeralKey
	Votes      *Votes
	AE         *AERequest
}

// Outcome is the result of a completed session for this node.
type Outcome struct {
	Session  SessionID
	KeyShare sections.SectionKeyShare
}

// Output holds the messages and outcomes produced by the engine.
type Output struct {
	Messages []Message
	Outcomes []Outcome
}

func (o *Output) merge(other Output) {
	o.Messages = append(o.Messages, other.Messages...)
	o.Outcomes = append(o.Outcomes, other.Outcomes...)
}
