package node

import (
	"errors"

	"github.com/sirupsen/logrus"

	"github.com/mosaicnetworks/sectiond/src/crypto"
	"github.com/mosaicnetworks/sectiond/src/crypto/bls"
	"github.com/mosaicnetworks/sectiond/src/membership"
	"github.com/mosaicnetworks/sectiond/src/net"
	"github.com/mosaicnetworks/sectiond/src/peers"
	"github.com/mosaicnetworks/sectiond/src/sections"
	"github.com/mosaicnetworks/sectiond/src/xorname"
)

// propose submits a membership change. Only elders vote; other nodes ignore
// the call.
func (c *Core) propose(state peers.NodeState) {
	if c.members == nil || !c.elder {
		return
	}
	res, err := c.members.Propose(state)
	if err != nil {
		c.logger.WithError(err).WithField("state", state).Debug("Proposal refused")
		return
	}
	c.handleMembershipResult(res)
}

// handleMembershipResult sends the votes produced by the membership engine
// to the other elders and applies its decisions.
func (c *Core) handleMembershipResult(res membership.Result) {
	if len(res.Votes) > 0 && c.knowledge.HasSection() {
		elders := c.others(c.knowledge.SAP().Elders)
		for _, v := range res.Votes {
			c.send(net.MembershipVoteMsg, c.ownDst(), net.MembershipVote{Vote: v}, elders...)
		}
	}
	for _, d := range res.Decisions {
		c.onDecision(d)
	}
	if len(res.Decisions) > 0 && c.elder {
		c.checkElders()
	}
}

func (c *Core) handleMembershipVote(msg *net.WireMsg) error {
	if c.members == nil {
		return nil
	}
	if !c.knowledge.IsElder(msg.Src.Name) {
		return nil
	}
	var v net.MembershipVote
	if err := msg.DecodePayload(&v); err != nil {
		return err
	}

	res, err := c.members.HandleVote(v.Vote)
	switch {
	case errors.Is(err, membership.ErrStaleGeneration):
		c.sendDecisionsSince(msg.Src, v.Vote.Gen)
		return nil
	case errors.Is(err, membership.ErrFutureGeneration):
		c.logger.WithFields(logrus.Fields{
			"gen":  v.Vote.Gen,
			"ours": c.members.Gen(),
			"from": msg.Src,
		}).Debug("Vote from the future")
		return nil
	case err != nil:
		return err
	}
	c.handleMembershipResult(res)
	return nil
}

// sendDecisionsSince brings an elder that voted on an old generation up to
// date.
func (c *Core) sendDecisionsSince(p peers.Peer, gen uint64) {
	for _, d := range c.knowledge.Members() {
		if d.Gen >= gen {
			c.send(net.MembershipDecisionMsg, c.ownDst(), net.MembershipDecision{Decision: d}, p)
		}
	}
}

func (c *Core) handleMembershipDecision(msg *net.WireMsg) error {
	var m net.MembershipDecision
	if err := msg.DecodePayload(&m); err != nil {
		return err
	}
	c.learnDecision(m.Decision)
	return nil
}

// learnDecision applies a decision made by the section, from a decision
// message or an anti-entropy update.
func (c *Core) learnDecision(d sections.SignedNodeState) {
	if c.knowledge.HasSection() && !c.knowledge.Prefix().Matches(d.Value.Name()) {
		return
	}
	if c.members == nil {
		if _, err := c.knowledge.UpdateMember(d); err != nil {
			c.logger.WithError(err).Debug("Ignoring member decision")
		}
		return
	}
	res, err := c.members.HandleDecision(d)
	if err != nil {
		c.logger.WithError(err).WithField("gen", d.Gen).Debug("Ignoring member decision")
		return
	}
	c.handleMembershipResult(res)
}

// onDecision reacts to a membership decision applied by the engine.
func (c *Core) onDecision(d sections.SignedNodeState) {
	if _, err := c.knowledge.UpdateMember(d); err != nil {
		c.logger.WithError(err).Warn("Recording member decision")
	}
	state := d.Value
	c.metrics.Decisions.WithLabelValues(state.State.String()).Inc()

	ev := Event{
		Name:       state.Name(),
		Prefix:     c.knowledge.Prefix(),
		SectionKey: d.Sig.PublicKey,
		Age:        state.Age,
	}
	switch state.State {
	case peers.Joined:
		ev.Kind = EventMemberJoined
	case peers.Left:
		ev.Kind = EventMemberLeft
	case peers.Relocated:
		ev.Kind = EventMemberRelocated
	}
	c.emit(ev)

	if c.elder {
		c.broadcastDecision(d)
		if state.IsJoined() {
			if state.Name() != c.Name() {
				c.approve(d)
			}
			c.relocateOnChurn(d)
		}
	}

	if state.Name() == c.Name() {
		switch state.State {
		case peers.Relocated:
			c.startRelocation(d)
		case peers.Left:
			c.logger.Info("Voted out of the section")
			c.joined = false
			c.refreshElder()
		}
	}
	c.persistKnowledge()
}

// broadcastDecision sends a decision to every member and to the node it is
// about.
func (c *Core) broadcastDecision(d sections.SignedNodeState) {
	to := c.memberPeers()
	if !d.Value.IsJoined() {
		to = append(to, d.Value.Peer)
	}
	c.send(net.MembershipDecisionMsg, c.ownDst(), net.MembershipDecision{Decision: d}, c.others(to)...)
}

// relocateOnChurn proposes the relocation picked by a join decision, if any.
func (c *Core) relocateOnChurn(d sections.SignedNodeState) {
	sap := c.knowledge.SAP()
	node, details, ok := membership.RelocationCandidate(d, sap.Prefix, c.members.JoinedMembers(), sap.Elders)
	if !ok {
		return
	}
	dst, err := c.knowledge.Closest(details.Dst, nil)
	if err != nil {
		c.logger.WithError(err).Warn("No section to relocate to")
		return
	}
	details.DstSectionKey = dst.SectionKey()

	c.logger.WithFields(logrus.Fields{
		"node": node.Peer,
		"dst":  dst.Value.Prefix,
		"age":  details.Age,
	}).Info("Relocating member")
	c.propose(node.Relocated(details))
}

/*******************************************************************************
Section changes
*******************************************************************************/

// onKnowledgeChanged reacts to a change of the knowledge: a new key for our
// section, a split, or news of other sections.
func (c *Core) onKnowledgeChanged(had bool, before sections.SectionSignedSAP) {
	c.persistKnowledge()
	if !c.knowledge.HasSection() {
		return
	}
	sap := c.knowledge.SignedSAP()
	if had && before.SectionKey() == sap.SectionKey() {
		return
	}

	c.eldersByKey[sap.SectionKey()] = sap.Value.Elders
	c.dkg.ExpectKey(sap.Value)
	c.dkg.Prune(sap.Value.Prefix, c.knowledge.SectionChainLen())
	c.started = make(map[crypto.Digest]bool)

	if !c.joined {
		return
	}

	c.logger.WithFields(logrus.Fields{
		"prefix": sap.Value.Prefix,
		"key":    sap.SectionKey(),
		"elders": len(sap.Value.Elders),
	}).Info("Section updated")

	if had && !before.Value.Prefix.Equal(sap.Value.Prefix) {
		if c.members != nil {
			c.members.Prune(sap.Value.Prefix)
		}
		c.emit(Event{
			Kind:       EventSplit,
			Name:       c.Name(),
			Prefix:     sap.Value.Prefix,
			SectionKey: sap.SectionKey(),
		})
	}
	c.emit(Event{
		Kind:       EventSectionUpdated,
		Name:       c.Name(),
		Prefix:     sap.Value.Prefix,
		SectionKey: sap.SectionKey(),
	})

	c.refreshElder()
	c.pruneKeyShares()
	c.updateGauges()
}

// refreshElder works out whether we are an elder: listed in the current SAP
// and holding a share of its key.
func (c *Core) refreshElder() {
	was := c.elder

	var share *sections.SectionKeyShare
	if c.joined && c.knowledge.HasSection() && c.knowledge.SAP().ContainsElder(c.Name()) {
		if s, err := c.keyShares.Get(c.knowledge.SectionKey()); err == nil {
			share = &s
		}
	}
	c.elder = share != nil

	if c.elder {
		c.metrics.IsElder.Set(1)
	} else {
		c.metrics.IsElder.Set(0)
	}

	if c.elder != was {
		kind := EventElderPromoted
		if !c.elder {
			kind = EventElderDemoted
		}
		c.logger.WithField("elder", c.elder).Info("Elder status changed")
		c.emit(Event{
			Kind:       kind,
			Name:       c.Name(),
			Prefix:     c.knowledge.Prefix(),
			SectionKey: c.knowledge.SectionKey(),
		})
	}

	if c.members != nil {
		c.handleMembershipResult(c.members.SetKeyShare(share))
	}
}

// pruneKeyShares keeps the shares of the current key, of its parent, which
// signs the handover of a sibling after a split, and of keys not installed
// yet.
func (c *Core) pruneKeyShares() {
	current := c.knowledge.SectionKey()
	keep := map[bls.PublicKey]bool{current: true}
	if parent, _, err := c.knowledge.DAG().Parent(current); err == nil {
		keep[parent] = true
	}
	for pk := range c.pendingKeys {
		if c.knowledge.DAG().HasKey(pk) {
			delete(c.pendingKeys, pk)
			continue
		}
		keep[pk] = true
	}
	c.keyShares.Prune(keep)
}

// memberPeers returns the peers of the joined members we know of.
func (c *Core) memberPeers() []peers.Peer {
	if c.members == nil {
		return nil
	}
	joined := c.members.JoinedMembers()
	res := make([]peers.Peer, len(joined))
	for i, m := range joined {
		res[i] = m.Peer
	}
	return res
}

// MemberNames returns the names of the joined members of our section.
func (c *Core) MemberNames() []xorname.Name {
	ps := c.memberPeers()
	res := make([]xorname.Name, len(ps))
	for i, p := range ps {
		res[i] = p.Name
	}
	return res
}
