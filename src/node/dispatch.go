package node

import (
	"github.com/sirupsen/logrus"

	"github.com/mosaicnetworks/sectiond/src/antientropy"
	cm "github.com/mosaicnetworks/sectiond/src/common"
	"github.com/mosaicnetworks/sectiond/src/crypto/bls"
	"github.com/mosaicnetworks/sectiond/src/dkg"
	"github.com/mosaicnetworks/sectiond/src/net"
	"github.com/mosaicnetworks/sectiond/src/peers"
	"github.com/mosaicnetworks/sectiond/src/sections"
)

// HandleMsg processes a message whose authority the node already verified.
// Messages addressed with a stale view of our section are answered with an
// anti-entropy bounce instead of being processed.
func (c *Core) HandleMsg(msg *net.WireMsg) error {
	if c.knowledge == nil {
		return ErrNotReady
	}
	delete(c.failures, msg.Src.Name)

	if msg.Kind.NeedsSectionCheck() {
		process, err := c.checkDst(msg)
		if err != nil || !process {
			return err
		}
	}

	switch msg.Kind {
	case net.AntiEntropyUpdateMsg:
		return c.handleAEUpdate(msg)
	case net.AntiEntropyRetryMsg, net.AntiEntropyRedirectMsg:
		return c.handleBounce(msg)
	case net.AntiEntropyProbeMsg:
		return c.handleProbe(msg)
	case net.JoinRequestMsg:
		return c.handleJoinRequest(msg)
	case net.ResourceChallengeMsg:
		return c.handleResourceChallenge(msg)
	case net.JoinResponseMsg:
		return c.handleJoinResponse(msg)
	case net.JoinAsRelocatedMsg:
		return c.handleJoinAsRelocated(msg)
	case net.LeaveRequestMsg:
		return c.handleLeaveRequest(msg)
	case net.MembershipVoteMsg:
		return c.handleMembershipVote(msg)
	case net.MembershipDecisionMsg:
		return c.handleMembershipDecision(msg)
	case net.DkgStartShareMsg:
		return c.handleDkgStartShare(msg)
	case net.DkgStartMsg:
		return c.handleDkgStart(msg)
	case net.DkgEphemeralKeyMsg, net.DkgVotesMsg, net.DkgAEMsg:
		return c.handleDkgMsg(msg)
	case net.HandoverSAPShareMsg:
		return c.handleHandoverSAPShare(msg)
	case net.HandoverKeyShareMsg:
		return c.handleHandoverKeyShare(msg)
	case net.ClientCmdMsg:
		return c.handleClientCmd(msg)
	case net.ClientQueryMsg:
		return c.handleClientQuery(msg)
	default:
		return cm.NewKindError(cm.ProtocolViolation, net.ErrMalformedMsg)
	}
}

// checkDst runs the anti-entropy check on a message and bounces it if the
// sender's view is out of date.
func (c *Core) checkDst(msg *net.WireMsg) (bool, error) {
	d, err := antientropy.Check(c.knowledge, msg.Dst)
	if err != nil {
		if err == antientropy.ErrNoSection {
			return false, cm.NewKindError(cm.FutureView, err)
		}
		return false, err
	}
	if d.Action == antientropy.Process {
		return true, nil
	}

	frame, err := msg.Marshal()
	if err != nil {
		return false, err
	}
	kind := net.AntiEntropyRetryMsg
	if d.Action == antientropy.Redirect {
		kind = net.AntiEntropyRedirectMsg
	}

	c.logger.WithFields(logrus.Fields{
		"kind":   msg.Kind,
		"from":   msg.Src,
		"dst":    msg.Dst,
		"action": d.Action,
	}).Debug("Bouncing message")
	c.metrics.Bounces.WithLabelValues(d.Action.String()).Inc()

	c.send(kind,
		antientropy.Dst{Name: msg.Src.Name, SectionKey: c.knowledge.SectionKey()},
		net.AntiEntropyBounce{SAP: d.SAP, Proof: d.Proof.ProofChain(), Bounced: frame},
		msg.Src,
	)
	return false, nil
}

// updateKnowledge applies a SAP and its proof, then reacts to a change of
// our own section.
func (c *Core) updateKnowledge(sap sections.SectionSignedSAP, proof *sections.SectionsDAG) error {
	had := c.knowledge.HasSection()
	before := c.knowledge.SignedSAP()

	changed, err := antientropy.Apply(c.knowledge, sap, proof)
	if err != nil {
		return err
	}
	if changed {
		c.onKnowledgeChanged(had, before)
	}
	return nil
}

func (c *Core) handleAEUpdate(msg *net.WireMsg) error {
	var u net.AntiEntropyUpdate
	if err := msg.DecodePayload(&u); err != nil {
		return err
	}
	proof, err := u.Proof.DAG()
	if err != nil {
		return cm.NewKindError(cm.ProtocolViolation, err)
	}
	if err := c.updateKnowledge(u.SAP, proof); err != nil {
		return err
	}
	for _, d := range u.Members {
		c.learnDecision(d)
	}
	return nil
}

// handleProbe tells the sender about our section.
func (c *Core) handleProbe(msg *net.WireMsg) error {
	if !c.knowledge.HasSection() {
		return nil
	}
	var p net.AntiEntropyProbe
	if err := msg.DecodePayload(&p); err != nil {
		return err
	}
	proof, err := c.knowledge.ProofChainFrom(p.Known)
	if err != nil {
		proof, err = c.knowledge.ProofChainTo(c.knowledge.SectionKey())
		if err != nil {
			return err
		}
	}
	update := net.AntiEntropyUpdate{SAP: c.knowledge.SignedSAP(), Proof: proof.ProofChain()}
	if m, ok := c.knowledge.Member(msg.Src.Name); ok && m.Value.IsJoined() {
		update.Members = c.knowledge.Members()
	}
	c.send(net.AntiEntropyUpdateMsg, antientropy.Dst{Name: msg.Src.Name, SectionKey: c.knowledge.SectionKey()},
		update, msg.Src)
	return nil
}

// handleBounce applies the knowledge carried by a bounce and sends the
// bounced message again, with the same id, to where it belongs now.
func (c *Core) handleBounce(msg *net.WireMsg) error {
	var b net.AntiEntropyBounce
	if err := msg.DecodePayload(&b); err != nil {
		return err
	}
	proof, err := b.Proof.DAG()
	if err != nil {
		return cm.NewKindError(cm.ProtocolViolation, err)
	}
	if err := c.updateKnowledge(b.SAP, proof); err != nil {
		return err
	}

	bounced := new(net.WireMsg)
	if err := bounced.Unmarshal(b.Bounced); err != nil {
		return cm.NewKindError(cm.ProtocolViolation, err)
	}
	if bounced.Src.Name != c.Name() {
		// sent under a name we no longer hold
		return nil
	}

	if bounced.Kind == net.JoinRequestMsg || bounced.Kind == net.JoinAsRelocatedMsg {
		if c.join != nil {
			c.sendJoinRequest()
		}
		return nil
	}

	action := antientropy.Retry
	if msg.Kind == net.AntiEntropyRedirectMsg {
		action = antientropy.Redirect
	}
	target, err := c.knowledge.Closest(bounced.Dst.Name, nil)
	if err != nil {
		return err
	}
	tried := b.SAP.Value.Prefix
	if s, err := c.knowledge.Closest(msg.Src.Name, nil); err == nil {
		tried = s.Value.Prefix
	}
	if err := c.tracker.Bounce(bounced.MsgID, action, tried, target.Value.Prefix); err != nil {
		c.logger.WithFields(logrus.Fields{
			"kind":  bounced.Kind,
			"id":    bounced.MsgID,
			"error": err,
		}).Debug("Dropping bounced message")
		return nil
	}

	if target.SectionKey() == bounced.Dst.SectionKey {
		// We were right, the bouncer is behind: bring it up to date and
		// send the message again.
		c.sendUpdateTo(msg.Src, target, b.SAP.SectionKey())
		c.out = append(c.out, outbound{msg: bounced, to: []peers.Peer{msg.Src}})
		return nil
	}

	resent := bounced.WithDst(antientropy.Dst{Name: bounced.Dst.Name, SectionKey: target.SectionKey()})
	resent.SignAsNode(c.keypair)
	to := []peers.Peer{msg.Src}
	if action == antientropy.Redirect {
		to = target.Value.ClosestElders(bounced.Dst.Name, c.conf.ElderSubset)
	}
	c.out = append(c.out, outbound{msg: resent, to: to})
	return nil
}

// sendUpdateTo sends sap to a peer that only knows the key known.
func (c *Core) sendUpdateTo(p peers.Peer, sap sections.SectionSignedSAP, known bls.PublicKey) {
	proof, err := c.knowledge.DAG().PartialDAG(known, sap.SectionKey())
	if err != nil {
		proof, err = c.knowledge.ProofChainTo(sap.SectionKey())
		if err != nil {
			c.logger.WithError(err).Error("Building proof chain")
			return
		}
	}
	c.send(net.AntiEntropyUpdateMsg,
		antientropy.Dst{Name: p.Name, SectionKey: sap.SectionKey()},
		net.AntiEntropyUpdate{SAP: sap, Proof: proof.ProofChain()},
		p,
	)
}

func (c *Core) handleDkgMsg(msg *net.WireMsg) error {
	var (
		out dkg.Output
		err error
	)
	switch msg.Kind {
	case net.DkgEphemeralKeyMsg:
		var key dkg.EphemeralKey
		if err := msg.DecodePayload(&key); err != nil {
			return err
		}
		if key.Sender() != msg.Src.Name {
			return cm.NewKindError(cm.AuthorityMismatch, net.ErrInvalidAuthority)
		}
		out, err = c.dkg.HandleEphemeralKey(key)
		if err == nil && len(out.Messages) > 0 {
			c.sessionElders[key.Session.Hash()] = c.baseElders(key.SectionAuth.PublicKey)
		}
	case net.DkgVotesMsg:
		var votes dkg.Votes
		if err := msg.DecodePayload(&votes); err != nil {
			return err
		}
		out, err = c.dkg.HandleVotes(msg.Src, votes)
	case net.DkgAEMsg:
		var req dkg.AERequest
		if err := msg.DecodePayload(&req); err != nil {
			return err
		}
		out = c.dkg.HandleAE(msg.Src, req)
	}
	if err != nil {
		return err
	}
	c.handleDkgOutput(out)
	return nil
}
