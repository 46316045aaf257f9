package node

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/mosaicnetworks/sectiond/src/aggregator"
	"github.com/mosaicnetworks/sectiond/src/antientropy"
	cm "github.com/mosaicnetworks/sectiond/src/common"
	"github.com/mosaicnetworks/sectiond/src/config"
	"github.com/mosaicnetworks/sectiond/src/crypto"
	"github.com/mosaicnetworks/sectiond/src/crypto/bls"
	"github.com/mosaicnetworks/sectiond/src/crypto/keys"
	"github.com/mosaicnetworks/sectiond/src/data"
	"github.com/mosaicnetworks/sectiond/src/dkg"
	"github.com/mosaicnetworks/sectiond/src/membership"
	"github.com/mosaicnetworks/sectiond/src/metrics"
	"github.com/mosaicnetworks/sectiond/src/net"
	"github.com/mosaicnetworks/sectiond/src/peers"
	"github.com/mosaicnetworks/sectiond/src/resourceproof"
	"github.com/mosaicnetworks/sectiond/src/sections"
	"github.com/mosaicnetworks/sectiond/src/store"
	"github.com/mosaicnetworks/sectiond/src/xorname"
)

// ErrNotReady is returned for messages received before the node knows the
// genesis key.
var ErrNotReady = errors.New("node has no network knowledge yet")

// outbound is a signed message and the peers it goes to.
type outbound struct {
	msg *net.WireMsg
	to  []peers.Peer
}

// joinAttempt tracks a join, or a join after relocation, in progress.
type joinAttempt struct {
	contacts []peers.Peer
	proof    *resourceproof.Proof
	solving  bool
	lastSent time.Time
	relocate *net.JoinAsRelocatedRequest
}

// Core is the section state machine of a node. The node drives it from a
// single command loop, one message or tick at a time. Core never blocks on
// the network: messages to send, events and resource challenges to solve
// are queued and drained by the node after each command.
type Core struct {
	conf    *config.Config
	logger  *logrus.Entry
	metrics *metrics.Metrics

	keypair *keys.Keypair
	addr    string

	knowledge *sections.NetworkKnowledge
	keyShares *sections.SectionKeysProvider
	members   *membership.Engine
	dkg       *dkg.Engine
	joined    bool
	elder     bool

	// startAgg aggregates the authorisations of DKG sessions, sapAgg the new
	// elders' signatures over new SAPs, and keyAgg the current elders'
	// signatures over new section keys.
	startAgg *aggregator.SignatureAggregator
	sapAgg   *aggregator.SignatureAggregator
	keyAgg   *aggregator.SignatureAggregator

	started       map[crypto.Digest]bool
	sessionElders map[crypto.Digest][]peers.Peer
	handedOver    map[bls.PublicKey]bool
	pendingKeys   map[bls.PublicKey]bool
	eldersByKey   map[bls.PublicKey][]peers.Peer

	data    *data.Handler
	store   store.Store
	tracker *antientropy.Tracker

	join     *joinAttempt
	failures map[xorname.Name]int

	out    []outbound
	events []Event
	solve  *resourceproof.Challenge

	now func() time.Time
}

// NewCore ...
func NewCore(conf *config.Config,
	keypair *keys.Keypair,
	addr string,
	store store.Store,
	m *metrics.Metrics,
	logger *logrus.Entry,
) *Core {

	if m == nil {
		m = metrics.NewUnregistered()
	}

	c := &Core{
		conf:          conf,
		logger:        logger,
		metrics:       m,
		keypair:       keypair,
		addr:          addr,
		keyShares:     sections.NewSectionKeysProvider(),
		started:       make(map[crypto.Digest]bool),
		sessionElders: make(map[crypto.Digest][]peers.Peer),
		handedOver:    make(map[bls.PublicKey]bool),
		pendingKeys:   make(map[bls.PublicKey]bool),
		eldersByKey:   make(map[bls.PublicKey][]peers.Peer),
		store:         store,
		tracker:       antientropy.NewTracker(conf.MaxAERetries, conf.AggregatorCapacity),
		failures:      make(map[xorname.Name]int),
		now:           time.Now,
	}

	aggConf := aggregator.Config{Capacity: conf.AggregatorCapacity, TTL: conf.AggregatorTTL}
	c.startAgg = aggregator.NewSignatureAggregator(aggConf, c.isSectionKeySet)
	c.sapAgg = aggregator.NewSignatureAggregator(aggConf, nil)
	c.keyAgg = aggregator.NewSignatureAggregator(aggConf, c.isKnownKeySet)

	c.dkg = dkg.NewEngine(
		dkg.Config{GossipInterval: conf.DKGGossipInterval, Timeout: conf.DKGTimeout},
		keypair,
		c.authorizeSession,
		logger.WithField("prefix", "dkg"),
	)

	c.data = data.NewHandler(store, data.Limits{
		MaxEntries: conf.MaxDataEntries,
		MaxSize:    conf.MaxDataSize,
	}, logger)

	return c
}

// Name is the node's current name. It changes after relocation.
func (c *Core) Name() xorname.Name {
	return c.keypair.Name()
}

// Peer ...
func (c *Core) Peer() peers.Peer {
	return peers.NewPeer(c.Name(), c.addr)
}

// Keypair returns the node's current identity.
func (c *Core) Keypair() *keys.Keypair {
	return c.keypair
}

// Knowledge returns the live knowledge. Only the command loop may call it.
func (c *Core) Knowledge() *sections.NetworkKnowledge {
	return c.knowledge
}

// IsJoined tells whether the node is a member of a section.
func (c *Core) IsJoined() bool {
	return c.joined
}

// IsElder tells whether the node is an elder holding its section key share.
func (c *Core) IsElder() bool {
	return c.elder
}

func (c *Core) isSectionKey(pk bls.PublicKey) bool {
	return c.knowledge != nil && c.knowledge.HasSection() && c.knowledge.SectionKey() == pk
}

func (c *Core) isKnownKey(pk bls.PublicKey) bool {
	return c.knowledge != nil && c.knowledge.DAG().HasKey(pk)
}

// isSectionKeySet accepts the key set of our current SAP only.
func (c *Core) isSectionKeySet(keySet bls.PublicKeySet) bool {
	return c.isSectionKey(keySet.PublicKey()) && c.knowledge.SAP().PublicKeySet.Equal(keySet)
}

// isKnownKeySet accepts a key set of the chain, matching the set of our own
// share or SAP when we have one for that key.
func (c *Core) isKnownKeySet(keySet bls.PublicKeySet) bool {
	pk := keySet.PublicKey()
	if !c.isKnownKey(pk) {
		return false
	}
	if share, err := c.keyShares.Get(pk); err == nil {
		return share.PublicKeySet.Equal(keySet)
	}
	if c.knowledge.SectionKey() == pk {
		return c.knowledge.SAP().PublicKeySet.Equal(keySet)
	}
	return true
}

func (c *Core) authorizeSession(id dkg.SessionID, auth sections.SectionSig) bool {
	return c.isKnownKey(auth.PublicKey) && auth.Verify(id.Bytes())
}

/*******************************************************************************
Initialisation
*******************************************************************************/

// Genesis founds a network: the node becomes the single elder of the first
// section, under a fresh genesis key.
func (c *Core) Genesis() (bls.PublicKey, error) {
	ks, err := bls.GenerateKeySet(1)
	if err != nil {
		return bls.PublicKey{}, err
	}
	self := peers.NewJoined(c.Peer(), c.conf.FirstSectionMaxAge, nil)
	sap, err := sections.GenesisSAP(ks, []peers.Peer{c.Peer()}, []peers.NodeState{self}, c.conf.ElderCount)
	if err != nil {
		return bls.PublicKey{}, err
	}
	share := sections.GenesisKeyShares(ks, sap.Value)[c.Name()]
	if err := c.SetGenesis(sap, &share); err != nil {
		return bls.PublicKey{}, err
	}
	return sap.SectionKey(), nil
}

// SetGenesis makes the node a member of the genesis section described by
// sap. share is the node's share of the genesis key, nil for adults.
func (c *Core) SetGenesis(sap sections.SectionSignedSAP, share *sections.SectionKeyShare) error {
	k, err := sections.NewGenesisKnowledge(c.Name(), sap)
	if err != nil {
		return err
	}
	if _, ok := sap.Value.Member(c.Name()); !ok {
		return fmt.Errorf("%s is not a member of the genesis section", c.Name())
	}
	c.knowledge = k
	if share != nil {
		if err := c.insertKeyShare(*share); err != nil {
			return err
		}
	}
	c.eldersByKey[sap.SectionKey()] = sap.Value.Elders

	c.startMembership(sap.Value.MembershipGen, sap.Value.Members)
	c.joined = true
	c.refreshElder()
	c.persistKnowledge()
	return nil
}

// Bootstrap loads the knowledge and key shares persisted by a previous run.
func (c *Core) Bootstrap() error {
	k, err := c.store.GetKnowledge()
	if err != nil {
		return err
	}
	if k.Name() != c.Name() {
		return cm.NewKindError(cm.ConfigError,
			fmt.Errorf("database belongs to %s, not %s", k.Name(), c.Name()))
	}
	shares, err := c.store.KeyShares()
	if err != nil {
		return err
	}
	for _, s := range shares {
		if err := c.keyShares.Insert(s); err != nil {
			c.logger.WithError(err).Warn("Ignoring persisted key share")
		}
	}
	c.knowledge = k

	if !k.HasSection() {
		return nil
	}
	c.eldersByKey[k.SectionKey()] = k.SAP().Elders

	gen, members := c.knownMembers()
	for _, m := range members {
		if m.Name() == c.Name() && m.IsJoined() {
			c.startMembership(gen, members)
			c.joined = true
			c.refreshElder()
			break
		}
	}

	c.logger.WithFields(logrus.Fields{
		"joined":    c.joined,
		"elder":     c.elder,
		"knowledge": k,
	}).Debug("Bootstrap")

	return nil
}

// StartJoin begins joining the network trusting genesisKey. contacts are
// the addresses of nodes of the network; their names may be unknown.
func (c *Core) StartJoin(genesisKey bls.PublicKey, contacts []peers.Peer) {
	c.knowledge = sections.NewNetworkKnowledge(c.Name(), genesisKey)
	c.join = &joinAttempt{contacts: contacts}
	c.sendJoinRequest()
}

// knownMembers merges the members listed in our SAP with the decisions we
// hold, and returns the last generation known.
func (c *Core) knownMembers() (uint64, []peers.NodeState) {
	sap := c.knowledge.SAP()
	gen := sap.MembershipGen
	byName := make(map[xorname.Name]peers.NodeState, len(sap.Members))
	for _, m := range sap.Members {
		byName[m.Name()] = m
	}
	for _, d := range c.knowledge.Members() {
		if d.Gen <= sap.MembershipGen {
			continue
		}
		byName[d.Value.Name()] = d.Value
		if d.Gen > gen {
			gen = d.Gen
		}
	}
	res := make([]peers.NodeState, 0, len(byName))
	for _, m := range byName {
		res = append(res, m)
	}
	peers.SortNodeStates(res)
	return gen, res
}

func (c *Core) startMembership(gen uint64, members []peers.NodeState) {
	c.members = membership.NewEngine(
		membership.Config{
			Timeout:            c.conf.MembershipTimeout,
			AggregatorCapacity: c.conf.AggregatorCapacity,
		},
		gen,
		members,
		c.isKnownKey,
		c.logger.WithField("prefix", "membership"),
	)
}

/*******************************************************************************
Persistence
*******************************************************************************/

func (c *Core) insertKeyShare(share sections.SectionKeyShare) error {
	if err := c.keyShares.Insert(share); err != nil {
		return err
	}
	if err := c.store.SetKeyShare(share); err != nil {
		return cm.NewKindError(cm.Io, err)
	}
	return nil
}

func (c *Core) persistKnowledge() {
	if c.knowledge == nil {
		return
	}
	if err := c.store.SetKnowledge(c.knowledge); err != nil {
		c.logger.WithError(err).Error("Persisting knowledge")
	}
	c.updateGauges()
}

func (c *Core) updateGauges() {
	c.metrics.KnownSections.Set(float64(c.knowledge.Tree().Len()))
	c.metrics.ChainLen.Set(float64(c.knowledge.SectionChainLen()))
	if c.knowledge.HasSection() {
		c.metrics.Elders.Set(float64(len(c.knowledge.SAP().Elders)))
	}
	if c.members != nil {
		c.metrics.Members.Set(float64(len(c.members.JoinedMembers())))
	}
	c.metrics.Chunks.Set(float64(c.store.ChunkCount()))
	c.metrics.Maps.Set(float64(c.store.MapCount()))
}

/*******************************************************************************
Outgoing messages and events
*******************************************************************************/

// ownDst addresses members of our own section.
func (c *Core) ownDst() antientropy.Dst {
	return antientropy.Dst{Name: c.Name(), SectionKey: c.knowledge.SectionKey()}
}

// send signs a message as this node and queues it for the given peers.
func (c *Core) send(kind net.MsgKind, dst antientropy.Dst, payload interface{}, to ...peers.Peer) {
	if len(to) == 0 {
		return
	}
	msg, err := net.NewWireMsg(kind, c.Peer(), dst, payload)
	if err != nil {
		c.logger.WithError(err).Error("Encoding message")
		return
	}
	msg.SignAsNode(c.keypair)
	c.out = append(c.out, outbound{msg: msg, to: to})
}

// others removes this node from a list of peers.
func (c *Core) others(ps []peers.Peer) []peers.Peer {
	_, res := peers.ExcludePeer(ps, c.Name())
	return res
}

func (c *Core) emit(e Event) {
	c.logger.WithField("event", e).Debug("Event")
	c.events = append(c.events, e)
}

// drain returns and clears everything queued by the last command.
func (c *Core) drain() ([]outbound, []Event, *resourceproof.Challenge) {
	out, events, solve := c.out, c.events, c.solve
	c.out, c.events, c.solve = nil, nil, nil
	return out, events, solve
}

/*******************************************************************************
Ticks and failures
*******************************************************************************/

// Tick runs the periodic work: membership round timeouts, DKG gossip and
// termination, join retries, and elder checks.
func (c *Core) Tick() {
	if c.knowledge == nil {
		return
	}

	if c.join != nil && !c.join.solving && c.now().Sub(c.join.lastSent) > c.conf.JoinTimeout {
		c.logger.Debug("Join timed out, retrying")
		c.sendJoinRequest()
	}

	if c.members != nil {
		c.handleMembershipResult(c.members.Tick())
	}

	before := c.dkg.Sessions()
	out := c.dkg.Tick()
	c.handleDkgOutput(out)
	c.checkFailedSessions(before, out)

	if c.elder {
		c.checkElders()
	}
}

// SendFailed records that a message to p could not be delivered. Elders
// vote out members that are repeatedly unreachable.
func (c *Core) SendFailed(p peers.Peer) {
	c.metrics.SendFailures.Inc()
	if !c.elder || c.members == nil {
		return
	}
	m, ok := c.members.Member(p.Name)
	if !ok || !m.IsJoined() {
		return
	}
	c.failures[p.Name]++
	if c.failures[p.Name] < maxSendFailures {
		return
	}
	delete(c.failures, p.Name)
	c.logger.WithField("peer", p).Info("Proposing unreachable member offline")
	c.propose(m.Leave())
}

// maxSendFailures is the number of consecutive failed sends after which an
// elder proposes a member offline.
const maxSendFailures = 3

/*******************************************************************************
Stats
*******************************************************************************/

// Stats returns a summary of the node's view of its section.
func (c *Core) Stats() map[string]string {
	s := map[string]string{
		"name":    c.Name().String(),
		"joined":  strconv.FormatBool(c.joined),
		"elder":   strconv.FormatBool(c.elder),
		"chunks":  strconv.Itoa(c.store.ChunkCount()),
		"maps":    strconv.Itoa(c.store.MapCount()),
		"pending": strconv.Itoa(c.startAgg.Pending() + c.sapAgg.Pending() + c.keyAgg.Pending()),
	}
	if c.knowledge == nil {
		return s
	}
	s["genesis_key"] = c.knowledge.GenesisKey().String()
	s["section_key"] = c.knowledge.SectionKey().String()
	s["prefix"] = c.knowledge.Prefix().String()
	s["chain_len"] = strconv.FormatUint(c.knowledge.SectionChainLen(), 10)
	s["sections"] = strconv.Itoa(c.knowledge.Tree().Len())
	if c.knowledge.HasSection() {
		s["elders"] = strconv.Itoa(len(c.knowledge.SAP().Elders))
	}
	if c.members != nil {
		s["members"] = strconv.Itoa(len(c.members.JoinedMembers()))
		s["membership_gen"] = strconv.FormatUint(c.members.Gen(), 10)
	}
	s["dkg_sessions"] = strconv.Itoa(len(c.dkg.Sessions()))
	return s
}
