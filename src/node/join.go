package node

import (
	"errors"

	"github.com/sirupsen/logrus"

	"github.com/mosaicnetworks/sectiond/src/antientropy"
	cm "github.com/mosaicnetworks/sectiond/src/common"
	"github.com/mosaicnetworks/sectiond/src/crypto/keys"
	"github.com/mosaicnetworks/sectiond/src/membership"
	"github.com/mosaicnetworks/sectiond/src/net"
	"github.com/mosaicnetworks/sectiond/src/peers"
	"github.com/mosaicnetworks/sectiond/src/resourceproof"
	"github.com/mosaicnetworks/sectiond/src/sections"
	"github.com/mosaicnetworks/sectiond/src/xorname"
)

// relocateKeyAttempts bounds the search for a keypair whose name falls in
// the destination prefix of a relocation.
const relocateKeyAttempts = 1 << 20

/*******************************************************************************
Joining node
*******************************************************************************/

// sendJoinRequest sends the current join attempt to the elders of the
// section our name belongs to, or to the bootstrap contacts if we do not know
// that section yet.
func (c *Core) sendJoinRequest() {
	j := c.join
	if j == nil {
		return
	}
	j.lastSent = c.now()

	sap, err := c.knowledge.Closest(c.Name(), nil)
	known := err == nil

	if j.relocate != nil {
		if !known {
			c.logger.Warn("Relocating without knowledge of the destination section")
			return
		}
		j.relocate.SectionKey = sap.SectionKey()
		c.send(net.JoinAsRelocatedMsg,
			antientropy.Dst{Name: c.Name(), SectionKey: sap.SectionKey()},
			*j.relocate,
			sap.Value.ElderPeers()...,
		)
		return
	}

	dst := antientropy.Dst{Name: c.Name(), SectionKey: c.knowledge.SectionKey()}
	to := j.contacts
	if known {
		dst.SectionKey = sap.SectionKey()
		to = sap.Value.ElderPeers()
	}

	c.logger.WithFields(logrus.Fields{
		"section_key": dst.SectionKey,
		"with_proof":  j.proof != nil,
		"to":          len(to),
	}).Debug("Sending join request")

	c.send(net.JoinRequestMsg, dst, net.JoinRequest{SectionKey: dst.SectionKey, Proof: j.proof}, to...)
}

func (c *Core) handleResourceChallenge(msg *net.WireMsg) error {
	if c.join == nil || c.join.solving || c.join.relocate != nil {
		return nil
	}
	var rc net.ResourceChallenge
	if err := msg.DecodePayload(&rc); err != nil {
		return err
	}
	if !rc.Challenge.Verify() || rc.Challenge.Issuer() != msg.Src.Name {
		return cm.NewKindError(cm.AuthorityMismatch, resourceproof.ErrInvalidChallenge)
	}

	c.logger.WithFields(logrus.Fields{
		"issuer":     msg.Src,
		"data_size":  rc.Challenge.DataSize,
		"difficulty": rc.Challenge.Difficulty,
	}).Debug("Solving resource challenge")

	c.join.solving = true
	ch := rc.Challenge
	c.solve = &ch
	return nil
}

// SetJoinProof resumes the join with the solution of a challenge. A nil
// proof means solving failed; the join is retried after the timeout.
func (c *Core) SetJoinProof(p *resourceproof.Proof) {
	if c.join == nil {
		return
	}
	c.join.solving = false
	if p == nil {
		return
	}
	c.join.proof = p
	c.sendJoinRequest()
}

func (c *Core) handleJoinResponse(msg *net.WireMsg) error {
	if c.join == nil {
		return nil
	}
	var r net.JoinResponse
	if err := msg.DecodePayload(&r); err != nil {
		return err
	}

	if r.Kind == net.JoinRejected {
		c.logger.WithField("reason", r.Reason).Warn("Join rejected")
		c.emit(Event{Kind: EventJoinRejected, Name: c.Name(), Reason: r.Reason})
		c.join = nil
		return nil
	}

	proof, err := r.Proof.DAG()
	if err != nil {
		return cm.NewKindError(cm.UntrustedProofChain, err)
	}
	if err := c.updateKnowledge(r.SAP, proof); err != nil {
		return err
	}

	if r.Kind != net.JoinApproved {
		c.sendJoinRequest()
		return nil
	}

	d := r.Decision
	if d.Value.Name() != c.Name() || !d.Value.IsJoined() {
		return cm.NewKindError(cm.ProtocolViolation, errors.New("approval for another node"))
	}
	if !c.knowledge.HasSection() || !c.knowledge.Prefix().Matches(c.Name()) {
		return cm.NewKindError(cm.ProtocolViolation, errors.New("approval from another section"))
	}
	if _, err := c.knowledge.UpdateMember(d); err != nil {
		return cm.NewKindError(cm.UntrustedProofChain, err)
	}
	for _, m := range r.Members {
		if _, err := c.knowledge.UpdateMember(m); err != nil {
			c.logger.WithError(err).Debug("Ignoring member decision")
		}
	}

	gen, members := c.knownMembers()
	c.startMembership(gen, members)
	c.join = nil
	c.joined = true

	c.logger.WithFields(logrus.Fields{
		"prefix": c.knowledge.Prefix(),
		"age":    d.Value.Age,
		"gen":    d.Gen,
	}).Info("Joined section")

	c.emit(Event{
		Kind:       EventJoined,
		Name:       c.Name(),
		Prefix:     c.knowledge.Prefix(),
		SectionKey: c.knowledge.SectionKey(),
		Age:        d.Value.Age,
	})
	c.refreshElder()
	c.persistKnowledge()
	return nil
}

/*******************************************************************************
Elders admitting nodes
*******************************************************************************/

func (c *Core) handleJoinRequest(msg *net.WireMsg) error {
	if !c.elder {
		return nil
	}
	var req net.JoinRequest
	if err := msg.DecodePayload(&req); err != nil {
		return err
	}

	sap := c.knowledge.SignedSAP()
	if req.SectionKey != sap.SectionKey() {
		proof, err := c.knowledge.ProofChainTo(sap.SectionKey())
		if err != nil {
			return err
		}
		c.send(net.JoinResponseMsg, c.replyDst(msg.Src), net.JoinResponse{
			Kind:  net.JoinRetry,
			SAP:   sap,
			Proof: proof.ProofChain(),
		}, msg.Src)
		return nil
	}

	if m, ok := c.members.Member(msg.Src.Name); ok && m.IsJoined() {
		// the approval was lost
		if d, ok := c.knowledge.Member(msg.Src.Name); ok {
			c.approve(d)
		}
		return nil
	}

	if req.Proof == nil {
		return c.challenge(msg.Src)
	}
	if err := req.Proof.Validate(); err != nil {
		c.logger.WithError(err).WithField("from", msg.Src).Debug("Invalid resource proof")
		return c.challenge(msg.Src)
	}
	if !sap.Value.ContainsElder(req.Proof.Challenge.Issuer()) {
		// issued by a former elder
		return c.challenge(msg.Src)
	}
	if req.Proof.Challenge.DataSize < c.conf.ResourceProofDataSize ||
		req.Proof.Challenge.Difficulty < c.conf.ResourceProofDifficulty {
		return c.challenge(msg.Src)
	}

	age, ok := c.joinAge(msg.Src.Name)
	if !ok {
		c.send(net.JoinResponseMsg, c.replyDst(msg.Src), net.JoinResponse{
			Kind:   net.JoinRejected,
			Reason: "age too low to rejoin",
		}, msg.Src)
		return nil
	}

	c.propose(peers.NewJoined(msg.Src, age, nil))
	return nil
}

// challenge sends a fresh resource challenge to a joining node.
func (c *Core) challenge(p peers.Peer) error {
	ch, err := resourceproof.NewChallenge(c.keypair, c.conf.ResourceProofDataSize, c.conf.ResourceProofDifficulty)
	if err != nil {
		return err
	}
	c.send(net.ResourceChallengeMsg, c.replyDst(p), net.ResourceChallenge{Challenge: ch}, p)
	return nil
}

// joinAge returns the age of a node joining under name, and whether it may
// join at all. Nodes that left rejoin at half their previous age. Nodes
// joining the first section start older, the more so the smaller it is.
func (c *Core) joinAge(name xorname.Name) (uint8, bool) {
	if prev, ok := c.members.Member(name); ok {
		if prev.State == peers.Relocated {
			return 0, false
		}
		return membership.RejoinAge(prev.Age, c.conf.MinAdultAge)
	}

	if !c.knowledge.Prefix().IsEmpty() {
		return c.conf.MinAdultAge, true
	}
	joined := len(c.members.JoinedMembers())
	if joined >= c.conf.RecommendedSectionSize {
		return c.conf.MinAdultAge, true
	}
	age := int(c.conf.FirstSectionMaxAge) - 2*joined
	if age < int(c.conf.FirstSectionMinAge) {
		age = int(c.conf.FirstSectionMinAge)
	}
	return uint8(age), true
}

// approve sends the decision admitting a node, with everything it needs to
// trust it.
func (c *Core) approve(d sections.SignedNodeState) {
	sap := c.knowledge.SignedSAP()
	proof, err := c.knowledge.ProofChainTo(sap.SectionKey())
	if err != nil {
		c.logger.WithError(err).Error("Building proof chain")
		return
	}
	p := d.Value.Peer
	c.send(net.JoinResponseMsg, c.replyDst(p), net.JoinResponse{
		Kind:     net.JoinApproved,
		SAP:      sap,
		Proof:    proof.ProofChain(),
		Decision: d,
		Members:  c.knowledge.Members(),
	}, p)
}

// replyDst addresses a reply to p.
func (c *Core) replyDst(p peers.Peer) antientropy.Dst {
	return antientropy.Dst{Name: p.Name, SectionKey: c.knowledge.SectionKey()}
}

/*******************************************************************************
Relocation
*******************************************************************************/

// startRelocation moves this node to the section chosen by a relocation
// decision: it takes a new name in the destination prefix and joins there,
// proving its age with the decision.
func (c *Core) startRelocation(d sections.SignedNodeState) {
	details := d.Value.Relocate
	if details == nil {
		return
	}
	dst, err := c.knowledge.Closest(details.Dst, nil)
	if err != nil {
		c.logger.WithError(err).Error("Relocation destination unknown")
		return
	}
	kp, err := keys.GenerateKeypairInPrefix(dst.Value.Prefix, relocateKeyAttempts)
	if err != nil {
		c.logger.WithError(err).Error("Generating relocation keypair")
		return
	}
	keyProof, err := c.knowledge.ProofChainTo(d.Sig.PublicKey)
	if err != nil {
		c.logger.WithError(err).Error("Building relocation proof")
		return
	}

	req := &net.JoinAsRelocatedRequest{
		SectionKey:    dst.SectionKey(),
		RelocateProof: d,
		KeyProof:      keyProof.ProofChain(),
		OldPublicKey:  c.keypair.PublicKey(),
		NameSignature: c.keypair.Sign(kp.Name().Bytes()),
	}

	old := c.Name()
	c.keypair = kp
	c.knowledge.SetName(kp.Name())
	c.dkg.SetKeypair(kp)
	c.members = nil
	c.joined = false
	c.refreshElder()
	c.join = &joinAttempt{relocate: req}

	c.logger.WithFields(logrus.Fields{
		"old_name": old,
		"new_name": kp.Name(),
		"dst":      dst.Value.Prefix,
		"age":      details.Age,
	}).Info("Relocating")

	c.emit(Event{
		Kind:       EventRelocating,
		Name:       kp.Name(),
		Prefix:     dst.Value.Prefix,
		SectionKey: dst.SectionKey(),
		Age:        details.Age,
	})
	c.sendJoinRequest()
}

func (c *Core) handleJoinAsRelocated(msg *net.WireMsg) error {
	if !c.elder {
		return nil
	}
	var req net.JoinAsRelocatedRequest
	if err := msg.DecodePayload(&req); err != nil {
		return err
	}

	d := req.RelocateProof
	details := d.Value.Relocate
	if d.Value.State != peers.Relocated || details == nil {
		return cm.NewKindError(cm.ProtocolViolation, errors.New("not a relocation decision"))
	}

	keyProof, err := req.KeyProof.DAG()
	if err != nil {
		return cm.NewKindError(cm.UntrustedProofChain, err)
	}
	if keyProof.GenesisKey() != c.knowledge.GenesisKey() || !keyProof.HasKey(d.Sig.PublicKey) {
		return sections.ErrUntrustedProofChain
	}
	if !d.Verify() {
		return cm.NewKindError(cm.UntrustedProofChain, sections.ErrInvalidSignature)
	}

	if !c.knowledge.Prefix().Matches(msg.Src.Name) {
		return cm.NewKindError(cm.ProtocolViolation, errors.New("relocated name outside our prefix"))
	}
	if req.OldPublicKey.Name() != details.PreviousName {
		return cm.NewKindError(cm.AuthorityMismatch, errors.New("relocation proof for another node"))
	}
	if !req.OldPublicKey.Verify(msg.Src.Name.Bytes(), req.NameSignature) {
		return cm.NewKindError(cm.AuthorityMismatch, net.ErrInvalidAuthority)
	}

	if m, ok := c.members.Member(msg.Src.Name); ok && m.IsJoined() {
		if joined, ok := c.knowledge.Member(msg.Src.Name); ok {
			c.approve(joined)
		}
		return nil
	}

	prev := details.PreviousName
	c.propose(peers.NewJoined(msg.Src, details.Age, &prev))
	return nil
}

/*******************************************************************************
Leaving
*******************************************************************************/

// Leave asks the elders to vote this node out.
func (c *Core) Leave() {
	if !c.joined || c.members == nil {
		return
	}
	self, ok := c.members.Member(c.Name())
	if !ok || !self.IsJoined() {
		return
	}
	c.logger.Info("Leaving section")
	c.send(net.LeaveRequestMsg, c.ownDst(), net.LeaveRequest{}, c.others(c.knowledge.SAP().Elders)...)
	if c.elder {
		c.propose(self.Leave())
	}
}

func (c *Core) handleLeaveRequest(msg *net.WireMsg) error {
	if !c.elder {
		return nil
	}
	m, ok := c.members.Member(msg.Src.Name)
	if !ok || !m.IsJoined() {
		return nil
	}
	c.propose(m.Leave())
	return nil
}
