package node

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	cm "github.com/mosaicnetworks/sectiond/src/common"
	"github.com/mosaicnetworks/sectiond/src/config"
	"github.com/mosaicnetworks/sectiond/src/crypto/bls"
	"github.com/mosaicnetworks/sectiond/src/crypto/keys"
	"github.com/mosaicnetworks/sectiond/src/metrics"
	"github.com/mosaicnetworks/sectiond/src/net"
	"github.com/mosaicnetworks/sectiond/src/node/state"
	"github.com/mosaicnetworks/sectiond/src/peers"
	"github.com/mosaicnetworks/sectiond/src/resourceproof"
	"github.com/mosaicnetworks/sectiond/src/sections"
	"github.com/mosaicnetworks/sectiond/src/store"
	"github.com/mosaicnetworks/sectiond/src/xorname"
)

const (
	cmdBufferSize   = 4096
	eventBufferSize = 1024
)

var (
	// ErrShutdown is returned by calls made after the node shut down.
	ErrShutdown = errors.New("node is shut down")
	// ErrTimeout is returned when the command loop did not answer a call in
	// time.
	ErrTimeout = errors.New("node did not answer in time")
)

// command is a unit of work for the command loop: a verified message, or a
// closure run against the core.
type command struct {
	msg *net.WireMsg
	fn  func()
}

// Node runs a Core: it feeds it the messages received by the transport and
// the ticks of the control timer, one at a time, and sends what it queues.
type Node struct {
	// Node state and goroutine management
	state.Manager

	conf   *config.Config
	logger *logrus.Entry

	core     *Core
	store    store.Store
	metrics  *metrics.Metrics
	registry *prometheus.Registry

	trans net.Transport
	netCh <-chan net.RPC
	cmdCh chan command

	events chan Event

	ctx    context.Context
	cancel context.CancelFunc

	shutdownCh   chan struct{}
	shutdownOnce sync.Once
	loopDone     chan struct{}
	running      int32

	left     chan struct{}
	leftOnce sync.Once

	controlTimer *ControlTimer

	start time.Time
}

// NewNode is a factory method that returns a Node instance. keypair is the
// node's identity; store holds its knowledge and data.
func NewNode(conf *config.Config,
	keypair *keys.Keypair,
	store store.Store,
	trans net.Transport,
) *Node {

	registry := prometheus.NewRegistry()
	m := metrics.New(registry)

	logger := conf.Logger().WithFields(logrus.Fields{
		"this_name": keypair.Name(),
		"moniker":   conf.Moniker,
	})

	ctx, cancel := context.WithCancel(context.Background())

	node := Node{
		conf:         conf,
		logger:       logger,
		core:         NewCore(conf, keypair, trans.AdvertiseAddr(), store, m, logger),
		store:        store,
		metrics:      m,
		registry:     registry,
		trans:        trans,
		netCh:        trans.Consumer(),
		cmdCh:        make(chan command, cmdBufferSize),
		events:       make(chan Event, eventBufferSize),
		ctx:          ctx,
		cancel:       cancel,
		shutdownCh:   make(chan struct{}),
		loopDone:     make(chan struct{}),
		left:         make(chan struct{}),
		controlTimer: NewRandomControlTimer(),
	}

	return &node
}

/*******************************************************************************
Initialisation
*******************************************************************************/

// InitGenesis makes the node the founder of a new network and returns the
// genesis key.
func (n *Node) InitGenesis() (bls.PublicKey, error) {
	pk, err := n.core.Genesis()
	if err != nil {
		return bls.PublicKey{}, err
	}
	n.logger.WithField("genesis_key", pk).Info("Founded network")
	n.SetState(state.Running)
	n.flush()
	return pk, nil
}

// InitFromGenesisSAP makes the node a member of a genesis section founded by
// several nodes at once. share is nil for adults.
func (n *Node) InitFromGenesisSAP(sap sections.SectionSignedSAP, share *sections.SectionKeyShare) error {
	if err := n.core.SetGenesis(sap, share); err != nil {
		return err
	}
	n.SetState(state.Running)
	n.flush()
	return nil
}

// InitBootstrap restores the state of a previous run from the store. If the
// node was not a member, it joins again through contacts.
func (n *Node) InitBootstrap(contacts []peers.Peer) error {
	n.logger.Debug("Bootstrap")
	if err := n.core.Bootstrap(); err != nil {
		return err
	}
	if n.core.IsJoined() {
		n.SetState(state.Running)
		return nil
	}
	n.core.StartJoin(n.core.Knowledge().GenesisKey(), contacts)
	n.SetState(state.Joining)
	n.flush()
	return nil
}

// InitJoin starts joining the network of genesisKey through contacts.
func (n *Node) InitJoin(genesisKey bls.PublicKey, contacts []peers.Peer) {
	n.logger.WithField("contacts", len(contacts)).Debug("Joining")
	n.core.StartJoin(genesisKey, contacts)
	n.SetState(state.Joining)
	n.flush()
}

/*******************************************************************************
Run loop
*******************************************************************************/

// RunAsync calls Run in a separate goroutine.
func (n *Node) RunAsync() {
	go n.Run()
}

// Run invokes the main loop of the node. It returns after Shutdown.
func (n *Node) Run() {
	if !atomic.CompareAndSwapInt32(&n.running, 0, 1) {
		return
	}
	defer close(n.loopDone)

	n.start = time.Now()

	go n.trans.Listen()
	go n.controlTimer.Run(n.conf.TickInterval)
	go n.listen()

	for {
		select {
		case cmd := <-n.cmdCh:
			if cmd.msg != nil {
				n.handle(cmd.msg)
			} else {
				cmd.fn()
			}
		case <-n.controlTimer.tickCh:
			n.core.Tick()
		case <-n.shutdownCh:
			return
		}
		n.flush()
	}
}

// listen acknowledges incoming messages once their authority checks out and
// queues them for the command loop.
func (n *Node) listen() {
	for {
		select {
		case rpc := <-n.netCh:
			msg := rpc.Command
			err := n.accept(msg)
			rpc.Respond(err)
			if err != nil {
				n.metrics.MsgsDropped.WithLabelValues("invalid_authority").Inc()
				n.logger.WithError(err).WithField("kind", msg.Kind).Debug("Refusing message")
				continue
			}
			select {
			case n.cmdCh <- command{msg: msg}:
			default:
				n.metrics.MsgsDropped.WithLabelValues("overloaded").Inc()
				n.logger.WithField("kind", msg.Kind).Warn("Command queue full, dropping message")
			}
		case <-n.shutdownCh:
			return
		}
	}
}

func (n *Node) accept(msg *net.WireMsg) error {
	if n.GetState() == state.Shutdown {
		return ErrShutdown
	}
	if msg.Auth.Kind != msg.Kind.Authority() {
		return net.ErrInvalidAuthority
	}
	if err := msg.Verify(); err != nil {
		return err
	}
	n.metrics.MsgsReceived.WithLabelValues(msg.Kind.String()).Inc()
	return nil
}

func (n *Node) handle(msg *net.WireMsg) {
	err := n.core.HandleMsg(msg)
	if err == nil {
		return
	}
	reason := "error"
	if kind, ok := cm.KindOf(err); ok {
		reason = kind.String()
	}
	n.metrics.MsgsDropped.WithLabelValues(reason).Inc()
	n.logger.WithFields(logrus.Fields{
		"kind":  msg.Kind,
		"from":  msg.Src,
		"error": err,
	}).Debug("Dropping message")
}

// flush sends the messages queued by the last command, publishes its events
// and starts solving a resource challenge if one was received.
func (n *Node) flush() {
	out, events, solve := n.core.drain()

	for _, e := range events {
		n.onEvent(e)
	}
	if solve != nil {
		n.solve(*solve)
	}
	if len(out) > 0 {
		n.dispatch(out)
	}
}

// dispatch sends a batch of messages from a single goroutine, so that
// messages to the same peer keep their order.
func (n *Node) dispatch(out []outbound) {
	err := n.GoFunc(n.ctx, func() {
		for _, o := range out {
			for _, p := range o.to {
				n.sendTo(p, o.msg)
			}
		}
	})
	if err != nil {
		n.logger.WithError(err).Debug("Not sending messages")
	}
}

func (n *Node) sendTo(p peers.Peer, msg *net.WireMsg) {
	err := n.trans.Send(p.NetAddr, msg)
	if err == nil {
		n.metrics.MsgsSent.WithLabelValues(msg.Kind.String()).Inc()
		return
	}

	n.logger.WithFields(logrus.Fields{
		"kind":  msg.Kind,
		"to":    p,
		"error": err,
	}).Debug("Sending message")

	if errors.Is(err, net.ErrFailedToSend) {
		n.enqueue(func() { n.core.SendFailed(p) })
	}
}

// solve searches a resource proof in the background and hands it to the
// core when found.
func (n *Node) solve(ch resourceproof.Challenge) {
	err := n.GoFunc(n.ctx, func() {
		ctx, cancel := context.WithTimeout(n.ctx, n.conf.JoinTimeout)
		defer cancel()

		start := time.Now()
		proof, err := resourceproof.Solve(ctx, ch)
		if err != nil {
			n.logger.WithError(err).Warn("Solving resource challenge")
			n.enqueue(func() { n.core.SetJoinProof(nil) })
			return
		}
		n.logger.WithField("duration", time.Since(start)).Debug("Solved resource challenge")
		n.enqueue(func() { n.core.SetJoinProof(&proof) })
	})
	if err != nil {
		n.logger.WithError(err).Debug("Not solving resource challenge")
	}
}

// enqueue queues a closure for the command loop.
func (n *Node) enqueue(fn func()) bool {
	select {
	case n.cmdCh <- command{fn: fn}:
		return true
	case <-n.shutdownCh:
		return false
	}
}

// do runs fn in the command loop and waits for it. Before the loop is
// started, fn runs directly.
func (n *Node) do(fn func()) error {
	if atomic.LoadInt32(&n.running) == 0 {
		if n.GetState() == state.Shutdown {
			return ErrShutdown
		}
		fn()
		return nil
	}
	done := make(chan struct{})
	if !n.enqueue(func() { fn(); close(done) }) {
		return ErrShutdown
	}
	timer := time.NewTimer(n.conf.RequestTimeout)
	defer timer.Stop()
	select {
	case <-done:
		return nil
	case <-n.shutdownCh:
		return ErrShutdown
	case <-timer.C:
		return ErrTimeout
	}
}

func (n *Node) onEvent(e Event) {
	n.logger.WithField("event", e).Info("Event")

	switch e.Kind {
	case EventJoined:
		n.SetState(state.Running)
	case EventRelocating:
		n.SetState(state.Relocating)
		n.persistKey()
	case EventJoinRejected:
		go n.Shutdown()
	case EventMemberLeft:
		if e.Name == n.core.Name() {
			n.leftOnce.Do(func() { close(n.left) })
			if n.GetState() != state.Leaving {
				go n.Shutdown()
			}
		}
	}

	select {
	case n.events <- e:
	default:
		n.logger.WithField("event", e).Debug("Event buffer full")
	}
}

// persistKey saves the identity taken on relocation, so that a restarted
// node finds its knowledge under the same name.
func (n *Node) persistKey() {
	if !n.conf.Store {
		return
	}
	kf := keys.NewSimpleKeyfile(n.conf.Keyfile())
	if err := kf.WriteKey(n.core.Keypair()); err != nil {
		n.logger.WithError(err).Error("Saving relocated identity")
	}
}

/*******************************************************************************
Leave and Shutdown
*******************************************************************************/

// Leave asks the section to vote this node out, waits for the decision or
// for the grace period, and shuts down.
func (n *Node) Leave() error {
	n.logger.Debug("LEAVING")
	defer n.Shutdown()

	n.SetState(state.Leaving)
	if err := n.do(func() { n.core.Leave() }); err != nil {
		n.logger.WithError(err).Error("Leaving")
		return err
	}

	timer := time.NewTimer(n.conf.JoinTimeout)
	defer timer.Stop()
	select {
	case <-n.left:
	case <-timer.C:
		n.logger.Warn("Leaving without a decision")
	}

	// let the decision reach the other members
	time.Sleep(n.conf.ShutdownGrace)
	return nil
}

// Shutdown stops the node, then closes its transport and store.
func (n *Node) Shutdown() {
	n.shutdownOnce.Do(func() {
		n.logger.Debug("Shutdown")
		n.logStats()

		n.SetState(state.Shutdown)
		close(n.shutdownCh)
		n.cancel()

		if atomic.LoadInt32(&n.running) == 1 {
			<-n.loopDone
		}
		n.controlTimer.Shutdown()

		n.WaitRoutines()

		// transport and store are closed once nothing uses them anymore
		if err := n.trans.Close(); err != nil {
			n.logger.WithError(err).Warn("Closing transport")
		}
		if err := n.store.Close(); err != nil {
			n.logger.WithError(err).Warn("Closing store")
		}
	})
}

/*******************************************************************************
Queries
*******************************************************************************/

// GetStats returns a summary of the node's state.
func (n *Node) GetStats() map[string]string {
	var s map[string]string
	if err := n.do(func() { s = n.core.Stats() }); err != nil {
		s = map[string]string{"error": err.Error()}
	}
	s["state"] = n.GetState().String()
	s["moniker"] = n.conf.Moniker
	if !n.start.IsZero() {
		s["uptime"] = strconv.FormatFloat(time.Since(n.start).Seconds(), 'f', 0, 64)
	}
	return s
}

func (n *Node) logStats() {
	stats := n.GetStats()
	fields := logrus.Fields{}
	for k, v := range stats {
		fields[k] = v
	}
	n.logger.WithFields(fields).Debug("Stats")
}

// Knowledge returns a copy of the node's network knowledge, or nil before
// the node knows a genesis key.
func (n *Node) Knowledge() (*sections.NetworkKnowledge, error) {
	var k *sections.NetworkKnowledge
	err := n.do(func() {
		if n.core.Knowledge() != nil {
			k = n.core.Knowledge().Snapshot()
		}
	})
	return k, err
}

// Members returns the joined members of the node's section.
func (n *Node) Members() ([]peers.NodeState, error) {
	var res []peers.NodeState
	err := n.do(func() {
		switch {
		case n.core.members != nil:
			res = n.core.members.JoinedMembers()
		case n.core.Knowledge() != nil:
			res = n.core.Knowledge().JoinedMembers()
		}
	})
	return res, err
}

// IsElder tells whether the node is currently an elder.
func (n *Node) IsElder() bool {
	var elder bool
	if err := n.do(func() { elder = n.core.IsElder() }); err != nil {
		return false
	}
	return elder
}

// Name returns the node's current name, which changes on relocation.
func (n *Node) Name() xorname.Name {
	var name xorname.Name
	n.do(func() { name = n.core.Name() })
	return name
}

// Peer returns the node's name and address.
func (n *Node) Peer() peers.Peer {
	return peers.NewPeer(n.Name(), n.trans.AdvertiseAddr())
}

// Events returns the channel events are published on. Events are dropped
// when nobody reads them.
func (n *Node) Events() <-chan Event {
	return n.events
}

// Registry returns the node's Prometheus collectors.
func (n *Node) Registry() prometheus.Gatherer {
	return n.registry
}
