package net

import (
	"github.com/google/uuid"

	"github.com/mosaicnetworks/sectiond/src/aggregator"
	"github.com/mosaicnetworks/sectiond/src/crypto/bls"
	"github.com/mosaicnetworks/sectiond/src/crypto/keys"
	"github.com/mosaicnetworks/sectiond/src/data"
	"github.com/mosaicnetworks/sectiond/src/dkg"
	"github.com/mosaicnetworks/sectiond/src/membership"
	"github.com/mosaicnetworks/sectiond/src/resourceproof"
	"github.com/mosaicnetworks/sectiond/src/sections"
)

// MsgKind identifies the payload of a WireMsg.
type MsgKind uint8

const (
	AntiEntropyUpdateMsg MsgKind = iota
	AntiEntropyRetryMsg
	AntiEntropyRedirectMsg
	AntiEntropyProbeMsg
	JoinRequestMsg
	ResourceChallengeMsg
	JoinResponseMsg
	JoinAsRelocatedMsg
	LeaveRequestMsg
	MembershipVoteMsg
	MembershipDecisionMsg
	DkgStartShareMsg
	DkgStartMsg
	DkgEphemeralKeyMsg
	DkgVotesMsg
	DkgAEMsg
	HandoverSAPShareMsg
	HandoverKeyShareMsg
	ClientCmdMsg
	ClientQueryMsg
	CmdResponseMsg
	QueryResponseMsg
)

var msgKinds = []string{
	"AntiEntropyUpdate",
	"AntiEntropyRetry",
	"AntiEntropyRedirect",
	"AntiEntropyProbe",
	"JoinRequest",
	"ResourceChallenge",
	"JoinResponse",
	"JoinAsRelocated",
	"LeaveRequest",
	"MembershipVote",
	"MembershipDecision",
	"DkgStartShare",
	"DkgStart",
	"DkgEphemeralKey",
	"DkgVotes",
	"DkgAE",
	"HandoverSAPShare",
	"HandoverKeyShare",
	"ClientCmd",
	"ClientQuery",
	"CmdResponse",
	"QueryResponse",
}

func (k MsgKind) String() string {
	if int(k) < len(msgKinds) {
		return msgKinds[k]
	}
	return "Unknown"
}

// Known reports whether k is a kind this version understands.
func (k MsgKind) Known() bool {
	return int(k) < len(msgKinds)
}

// Authority returns the authority a message of kind k must carry.
func (k MsgKind) Authority() AuthorityKind {
	switch k {
	case ClientCmdMsg, ClientQueryMsg:
		return ClientAuth
	case DkgStartMsg:
		return SectionAuth
	default:
		return NodeAuth
	}
}

// NeedsSectionCheck reports whether messages of kind k are checked against
// the receiver's section before being processed. Replies and messages that
// carry their own proofs are not. Handover shares are exchanged while a
// split is being installed, when sender and receiver may already disagree on
// their prefix.
func (k MsgKind) NeedsSectionCheck() bool {
	switch k {
	case JoinRequestMsg, JoinAsRelocatedMsg, LeaveRequestMsg,
		MembershipVoteMsg, DkgStartShareMsg, ClientCmdMsg, ClientQueryMsg:
		return true
	}
	return false
}

// AntiEntropyUpdate brings the receiver up to date with the sender's
// section. Members is set when the receiver is a member of that section.
type AntiEntropyUpdate struct {
	SAP     sections.SectionSignedSAP
	Proof   sections.ProofChain
	Members []sections.SignedNodeState
}

// AntiEntropyBounce is the reply to a message sent with an outdated view.
// Bounced holds the original frame so that the sender can resend it.
type AntiEntropyBounce struct {
	SAP     sections.SectionSignedSAP
	Proof   sections.ProofChain
	Bounced []byte
}

// AntiEntropyProbe asks a section for its current SAP.
type AntiEntropyProbe struct {
	Known bls.PublicKey
}

// JoinRequest asks a section to admit the sender. The first request has no
// proof and is answered with a challenge.
type JoinRequest struct {
	SectionKey bls.PublicKey
	Proof      *resourceproof.Proof
}

// ResourceChallenge is an elder's challenge to a joining node.
type ResourceChallenge struct {
	Challenge resourceproof.Challenge
}

// JoinResponseKind ...
type JoinResponseKind uint8

const (
	// JoinApproved carries the decision admitting the node.
	JoinApproved JoinResponseKind = iota
	// JoinRetry means the node's view of the section was stale.
	JoinRetry
	// JoinRedirect means the node's name belongs to another section.
	JoinRedirect
	// JoinRejected is final.
	JoinRejected
)

var joinResponseKinds = []string{"Approved", "Retry", "Redirect", "Rejected"}

func (k JoinResponseKind) String() string {
	if int(k) < len(joinResponseKinds) {
		return joinResponseKinds[k]
	}
	return "Unknown"
}

// JoinResponse answers a join request. An approval carries the decision
// admitting the node and the decided members of its new section.
type JoinResponse struct {
	Kind     JoinResponseKind
	SAP      sections.SectionSignedSAP
	Proof    sections.ProofChain
	Decision sections.SignedNodeState
	Members  []sections.SignedNodeState
	Reason   string
}

// JoinAsRelocatedRequest asks a section to admit a relocating node. The old
// key signs the new name, and the decision proves the relocation. KeyProof
// links the genesis key to the key that signed the decision.
type JoinAsRelocatedRequest struct {
	SectionKey    bls.PublicKey
	RelocateProof sections.SignedNodeState
	KeyProof      sections.ProofChain
	OldPublicKey  keys.PublicKey
	NameSignature []byte
}

// LeaveRequest asks the elders to vote the sender out.
type LeaveRequest struct{}

// MembershipVote carries an elder's vote.
type MembershipVote struct {
	Vote membership.Vote
}

// MembershipDecision carries a decided membership change.
type MembershipDecision struct {
	Decision sections.SignedNodeState
}

// DkgStartShare is an elder's share of the authorisation of a DKG session,
// a signature over the session id bytes.
type DkgStartShare struct {
	Session dkg.SessionID
	Share   aggregator.SigShare
}

// A DkgStartMsg payload is the bare dkg.SessionID, so that its section
// authority is a signature over the session id bytes.

// HandoverSAPShare is a new elder's signature share, made with the new key,
// over the SAP produced by a DKG session.
type HandoverSAPShare struct {
	SAP   sections.SectionAuthorityProvider
	Share aggregator.SigShare
}

// HandoverKeyShare is a current elder's signature share, made with the
// current key, over the key of a new signed SAP.
type HandoverKeyShare struct {
	SAP   sections.SectionSignedSAP
	Share aggregator.SigShare
}

// ClientCmd ...
type ClientCmd struct {
	Cmd data.Cmd
}

// ClientQuery ...
type ClientQuery struct {
	Query data.Query
}

// CmdResponse answers a ClientCmd. Err is nil on success.
type CmdResponse struct {
	CorrelationID uuid.UUID
	Err           *data.Error
}

// QueryResponse answers a ClientQuery.
type QueryResponse struct {
	CorrelationID uuid.UUID
	Result        data.QueryResult
}
