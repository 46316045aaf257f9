package node

import (
	"errors"

	"github.com/sirupsen/logrus"

	"github.com/mosaicnetworks/sectiond/src/aggregator"
	"github.com/mosaicnetworks/sectiond/src/antientropy"
	cm "github.com/mosaicnetworks/sectiond/src/common"
	"github.com/mosaicnetworks/sectiond/src/crypto"
	"github.com/mosaicnetworks/sectiond/src/crypto/bls"
	"github.com/mosaicnetworks/sectiond/src/dkg"
	"github.com/mosaicnetworks/sectiond/src/membership"
	"github.com/mosaicnetworks/sectiond/src/net"
	"github.com/mosaicnetworks/sectiond/src/peers"
	"github.com/mosaicnetworks/sectiond/src/sections"
	"github.com/mosaicnetworks/sectiond/src/xorname"
)

/*
A handover replaces the key of a section, or of the two halves of a
splitting section, in four steps:

  1. The current elders sign the id of a DKG session for the new elders. Once
     a supermajority signed, the session is started with the aggregated
     signature as its authorisation.
  2. The new elders run the DKG. Each signs the new SAP with its share of the
     new key and sends the share to the current elders.
  3. The current elders aggregate the SAP signature, then sign the new key
     with their share of the current key.
  4. Once a supermajority signed the new key, the edge from the current key
     is inserted in the DAG and the signed SAP sent to every member.
*/

/*******************************************************************************
Session start
*******************************************************************************/

// checkElders compares the elders of our section with the ones its members
// call for, and starts a handover if they differ or if the section should
// split.
func (c *Core) checkElders() {
	if !c.elder || c.members == nil {
		return
	}
	sap := c.knowledge.SAP()
	members := c.members.JoinedMembers()
	gen := c.members.Gen()
	chainLen := c.knowledge.SectionChainLen()

	zero, one, split := membership.SplitCandidates(sap.Prefix, members, sap.Elders, c.conf.RecommendedSectionSize)
	if split {
		for _, child := range []struct {
			prefix  xorname.Prefix
			members []peers.NodeState
		}{
			{sap.Prefix.Pushed(false), zero},
			{sap.Prefix.Pushed(true), one},
		} {
			elders := membership.ElderCandidates(child.prefix, child.members, sap.Elders, c.conf.ElderCount)
			c.proposeSession(dkg.NewSessionID(child.prefix, elders, chainLen, child.members, gen))
		}
		return
	}

	elders := membership.ElderCandidates(sap.Prefix, members, sap.Elders, c.conf.ElderCount)
	if membership.SameElders(elders, sap.Elders) {
		return
	}
	c.proposeSession(dkg.NewSessionID(sap.Prefix, elders, chainLen, members, gen))
}

// proposeSession signs a session id with our share of the section key and
// sends the signature share to the other elders.
func (c *Core) proposeSession(id dkg.SessionID) {
	h := id.Hash()
	if c.started[h] {
		return
	}
	share, err := c.keyShares.Get(c.knowledge.SectionKey())
	if err != nil {
		return
	}
	sig, err := share.Sign(id.Bytes())
	if err != nil {
		c.logger.WithError(err).Error("Signing DKG session")
		return
	}
	c.started[h] = true

	c.logger.WithFields(logrus.Fields{
		"session": id,
		"gen":     id.MembershipGen,
	}).Info("Proposing DKG session")

	s := aggregator.SigShare{PublicKeySet: share.PublicKeySet, Index: share.Index, Share: sig}
	c.send(net.DkgStartShareMsg, c.ownDst(), net.DkgStartShare{Session: id, Share: s},
		c.others(c.knowledge.SAP().Elders)...)
	if err := c.aggregateStart(id, s); err != nil {
		c.logger.WithError(err).Warn("Aggregating DKG session")
	}
}

func (c *Core) handleDkgStartShare(msg *net.WireMsg) error {
	if !c.elder {
		return nil
	}
	var s net.DkgStartShare
	if err := msg.DecodePayload(&s); err != nil {
		return err
	}
	if !s.Session.Prefix.IsCompatible(c.knowledge.Prefix()) ||
		s.Session.SectionChainLen != c.knowledge.SectionChainLen() {
		return nil
	}
	return c.aggregateStart(s.Session, s.Share)
}

// aggregateStart aggregates a share of a session authorisation, and starts
// the session once the section signed it.
func (c *Core) aggregateStart(id dkg.SessionID, share aggregator.SigShare) error {
	sig, err := c.startAgg.TryAggregate(id.Bytes(), share)
	if err != nil {
		return cm.NewKindError(cm.ProtocolViolation, err)
	}
	if sig == nil {
		return nil
	}

	msg, err := net.NewWireMsg(net.DkgStartMsg, c.Peer(), c.ownDst(), id)
	if err != nil {
		return err
	}
	msg.SetSectionAuth(*sig)
	if to := c.others(id.Elders); len(to) > 0 {
		c.out = append(c.out, outbound{msg: msg, to: to})
	}
	c.startSession(id, *sig)
	return nil
}

func (c *Core) handleDkgStart(msg *net.WireMsg) error {
	var id dkg.SessionID
	if err := msg.DecodePayload(&id); err != nil {
		return err
	}
	auth := msg.Auth.Section
	if !c.authorizeSession(id, auth) {
		return cm.NewKindError(cm.AuthorityMismatch, dkg.ErrUnauthorized)
	}
	c.startSession(id, auth)
	return nil
}

// startSession starts a session we take part in.
func (c *Core) startSession(id dkg.SessionID, auth sections.SectionSig) {
	if id.Index(c.Name()) < 0 || c.dkg.Has(id.Hash()) {
		return
	}
	c.sessionElders[id.Hash()] = c.baseElders(auth.PublicKey)

	out, err := c.dkg.Start(id, auth)
	if err != nil {
		c.logger.WithError(err).WithField("session", id).Debug("Not starting DKG session")
		return
	}
	c.metrics.DkgSessions.WithLabelValues("started").Inc()
	c.handleDkgOutput(out)
}

// baseElders returns the elders holding the key that authorised a session.
// They sign the handover to the session's key.
func (c *Core) baseElders(pk bls.PublicKey) []peers.Peer {
	if elders, ok := c.eldersByKey[pk]; ok {
		return elders
	}
	if c.knowledge.HasSection() {
		return c.knowledge.SAP().Elders
	}
	return nil
}

/*******************************************************************************
DKG
*******************************************************************************/

func (c *Core) handleDkgOutput(out dkg.Output) {
	for _, m := range out.Messages {
		switch {
		case m.Key != nil:
			c.send(net.DkgEphemeralKeyMsg, c.ownDst(), *m.Key, m.Recipients...)
		case m.Votes != nil:
			c.send(net.DkgVotesMsg, c.ownDst(), *m.Votes, m.Recipients...)
		case m.AE != nil:
			c.send(net.DkgAEMsg, c.ownDst(), *m.AE, m.Recipients...)
		}
	}
	for _, o := range out.Outcomes {
		c.handleDkgOutcome(o)
	}
}

// handleDkgOutcome stores the share of a new key and signs the new SAP with
// it.
func (c *Core) handleDkgOutcome(o dkg.Outcome) {
	id := o.Session
	h := id.Hash()
	elders := c.sessionElders[h]
	delete(c.sessionElders, h)
	if elders == nil {
		elders = c.baseElders(c.knowledge.SectionKey())
	}

	sap, err := sections.NewSAP(id.Prefix, o.KeyShare.PublicKeySet, id.Elders, id.BootstrapMembers,
		id.MembershipGen, c.conf.ElderCount)
	if err != nil {
		c.logger.WithError(err).Error("Building SAP from DKG outcome")
		return
	}
	if err := c.insertKeyShare(o.KeyShare); err != nil {
		c.logger.WithError(err).Error("Storing key share")
		return
	}
	pk := sap.SectionKey()
	c.pendingKeys[pk] = true
	c.metrics.DkgSessions.WithLabelValues("completed").Inc()

	c.logger.WithFields(logrus.Fields{
		"session": id,
		"key":     pk,
	}).Info("DKG complete")

	sig, err := o.KeyShare.Sign(sap.Bytes())
	if err != nil {
		c.logger.WithError(err).Error("Signing new SAP")
		return
	}
	share := aggregator.SigShare{PublicKeySet: o.KeyShare.PublicKeySet, Index: o.KeyShare.Index, Share: sig}
	c.send(net.HandoverSAPShareMsg, c.ownDst(), net.HandoverSAPShare{SAP: sap, Share: share}, c.others(elders)...)
	if peers.NewPeerSet(elders).Contains(c.Name()) {
		if err := c.aggregateSAP(sap, share); err != nil {
			c.logger.WithError(err).Warn("Aggregating new SAP")
		}
	}

	if c.knowledge.HasSection() && c.knowledge.SectionKey() == pk {
		// the handover completed before our DKG did
		c.refreshElder()
	}
}

// checkFailedSessions reports the sessions a tick terminated without an
// outcome.
func (c *Core) checkFailedSessions(before []dkg.SessionID, out dkg.Output) {
	alive := make(map[crypto.Digest]bool)
	for _, id := range c.dkg.Sessions() {
		alive[id.Hash()] = true
	}
	for _, o := range out.Outcomes {
		alive[o.Session.Hash()] = true
	}
	for _, id := range before {
		h := id.Hash()
		if alive[h] {
			continue
		}
		delete(c.sessionElders, h)
		c.metrics.DkgSessions.WithLabelValues("failed").Inc()
		c.emit(Event{
			Kind:       EventDkgFailed,
			Name:       c.Name(),
			Prefix:     id.Prefix,
			SectionKey: c.knowledge.SectionKey(),
		})
	}
}

/*******************************************************************************
Handover
*******************************************************************************/

func (c *Core) handleHandoverSAPShare(msg *net.WireMsg) error {
	if !c.knowledge.HasSection() {
		return nil
	}
	var h net.HandoverSAPShare
	if err := msg.DecodePayload(&h); err != nil {
		return err
	}
	if !h.Share.PublicKeySet.Equal(h.SAP.PublicKeySet) {
		return cm.NewKindError(cm.ProtocolViolation, errors.New("share of another key"))
	}
	if err := h.SAP.Validate(c.conf.ElderCount); err != nil {
		return cm.NewKindError(cm.ProtocolViolation, err)
	}
	if !h.SAP.ContainsElder(msg.Src.Name) {
		return cm.NewKindError(cm.AuthorityMismatch, net.ErrInvalidAuthority)
	}
	return c.aggregateSAP(h.SAP, h.Share)
}

// aggregateSAP aggregates the new elders' signatures over a new SAP.
func (c *Core) aggregateSAP(sap sections.SectionAuthorityProvider, share aggregator.SigShare) error {
	if c.knowledge.DAG().HasKey(sap.SectionKey()) {
		return nil
	}
	sig, err := c.sapAgg.TryAggregate(sap.Bytes(), share)
	if err != nil {
		return cm.NewKindError(cm.ProtocolViolation, err)
	}
	if sig == nil {
		return nil
	}
	signed := sections.SectionSignedSAP{Value: sap, Sig: *sig}
	if !signed.Verify() {
		return cm.NewKindError(cm.ProtocolViolation, sections.ErrInvalidSignature)
	}
	c.signHandover(signed)
	return nil
}

// parentKeyFor returns the key that signs the handover to a new SAP for
// prefix: our current key, or its parent for the sibling of a section that
// already completed its half of a split.
func (c *Core) parentKeyFor(prefix xorname.Prefix) (bls.PublicKey, bool) {
	if !c.knowledge.HasSection() {
		return bls.PublicKey{}, false
	}
	own := c.knowledge.Prefix()
	current := c.knowledge.SectionKey()
	switch {
	case prefix.Equal(own), prefix.IsExtensionOf(own):
		return current, true
	case !own.IsEmpty() && prefix.Equal(own.Sibling()):
		parent, _, err := c.knowledge.DAG().Parent(current)
		if err != nil {
			return bls.PublicKey{}, false
		}
		return parent, true
	}
	return bls.PublicKey{}, false
}

// signHandover signs the key of a new signed SAP with our share of its
// parent key, if we hold one.
func (c *Core) signHandover(signed sections.SectionSignedSAP) {
	pk := signed.SectionKey()
	if c.handedOver[pk] || c.knowledge.DAG().HasKey(pk) {
		return
	}
	parent, ok := c.parentKeyFor(signed.Value.Prefix)
	if !ok {
		return
	}
	share, err := c.keyShares.Get(parent)
	if err != nil {
		return
	}
	sig, err := share.Sign(pk.Bytes())
	if err != nil {
		c.logger.WithError(err).Error("Signing new section key")
		return
	}
	c.handedOver[pk] = true

	c.logger.WithFields(logrus.Fields{
		"prefix": signed.Value.Prefix,
		"key":    pk,
		"parent": parent,
	}).Debug("Signing handover")

	s := aggregator.SigShare{PublicKeySet: share.PublicKeySet, Index: share.Index, Share: sig}
	c.send(net.HandoverKeyShareMsg, c.ownDst(), net.HandoverKeyShare{SAP: signed, Share: s},
		c.others(c.baseElders(parent))...)
	if err := c.aggregateKey(signed, s); err != nil {
		c.logger.WithError(err).Warn("Aggregating new section key")
	}
}

func (c *Core) handleHandoverKeyShare(msg *net.WireMsg) error {
	var h net.HandoverKeyShare
	if err := msg.DecodePayload(&h); err != nil {
		return err
	}
	if !h.SAP.Verify() {
		return cm.NewKindError(cm.ProtocolViolation, sections.ErrInvalidSignature)
	}
	if c.knowledge.DAG().HasKey(h.SAP.SectionKey()) {
		return nil
	}
	c.signHandover(h.SAP)
	return c.aggregateKey(h.SAP, h.Share)
}

// aggregateKey aggregates the current elders' signatures over a new key.
func (c *Core) aggregateKey(signed sections.SectionSignedSAP, share aggregator.SigShare) error {
	pk := signed.SectionKey()
	if c.knowledge.DAG().HasKey(pk) {
		return nil
	}
	sig, err := c.keyAgg.TryAggregate(pk.Bytes(), share)
	if err != nil {
		return cm.NewKindError(cm.ProtocolViolation, err)
	}
	if sig == nil {
		return nil
	}
	return c.completeHandover(signed, *sig)
}

// completeHandover installs a new key and sends it, with its proof chain and
// the membership decisions, to the members of the section.
func (c *Core) completeHandover(signed sections.SectionSignedSAP, sig sections.SectionSig) error {
	pk := signed.SectionKey()

	// members of the old section, before a split prunes them
	all := append(c.memberPeers(), signed.Value.Elders...)
	all = append(all, c.knowledge.SAP().Elders...)
	recipients := c.others(peers.NewPeerSet(all).Peers)

	proof, err := c.knowledge.ProofChainTo(sig.PublicKey)
	if err != nil {
		return err
	}
	if err := proof.Insert(sig.PublicKey, pk, sig.Signature); err != nil {
		return cm.NewKindError(cm.ProtocolViolation, err)
	}
	if err := c.updateKnowledge(signed, proof); err != nil {
		return err
	}
	c.metrics.Handovers.Inc()

	c.logger.WithFields(logrus.Fields{
		"prefix": signed.Value.Prefix,
		"key":    pk,
		"elders": len(signed.Value.Elders),
	}).Info("Handover complete")

	c.send(net.AntiEntropyUpdateMsg,
		antientropy.Dst{Name: signed.Value.Prefix.Name(), SectionKey: pk},
		net.AntiEntropyUpdate{SAP: signed, Proof: proof.ProofChain(), Members: c.knowledge.Members()},
		recipients...,
	)
	return nil
}
