package sections

import (
	"github.com/mosaicnetworks/sectiond/src/common"
	"github.com/mosaicnetworks/sectiond/src/crypto/bls"
	"github.com/mosaicnetworks/sectiond/src/peers"
)

// SectionSig is a full section signature and the key it verifies under.
type SectionSig struct {
	PublicKey bls.PublicKey
	Signature bls.Signature
}

// Verify ...
func (s SectionSig) Verify(payload []byte) bool {
	return s.PublicKey.Verify(payload, s.Signature)
}

// SectionSignedSAP is a SAP signed by its own section key, which proves the
// elders listed in it completed the DKG that produced the key.
type SectionSignedSAP struct {
	Value SectionAuthorityProvider
	Sig   SectionSig
}

// Verify checks the signature and that it was made with the SAP's own key.
func (s SectionSignedSAP) Verify() bool {
	if s.Sig.PublicKey != s.Value.SectionKey() {
		return false
	}
	return s.Sig.Verify(s.Value.Bytes())
}

// SectionKey ...
func (s SectionSignedSAP) SectionKey() bls.PublicKey {
	return s.Value.SectionKey()
}

// SignedNodeState is a membership decision: the state of a node at a given
// membership generation, signed by the section.
type SignedNodeState struct {
	Value peers.NodeState
	Gen   uint64
	Sig   SectionSig
}

// nodeStateProposal is the signed payload of a membership decision.
type nodeStateProposal struct {
	Gen   uint64
	Value peers.NodeState
}

// NodeStatePayload returns the bytes elders sign for a membership decision.
func NodeStatePayload(gen uint64, state peers.NodeState) []byte {
	return common.MustMarshal(nodeStateProposal{Gen: gen, Value: state})
}

// Verify checks the section signature over the decision.
func (s SignedNodeState) Verify() bool {
	return s.Sig.Verify(NodeStatePayload(s.Gen, s.Value))
}
