package client

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/mosaicnetworks/sectiond/src/antientropy"
	"github.com/mosaicnetworks/sectiond/src/common"
	"github.com/mosaicnetworks/sectiond/src/config"
	"github.com/mosaicnetworks/sectiond/src/crypto/bls"
	"github.com/mosaicnetworks/sectiond/src/crypto/keys"
	"github.com/mosaicnetworks/sectiond/src/net"
	"github.com/mosaicnetworks/sectiond/src/peers"
	"github.com/mosaicnetworks/sectiond/src/sections"
	"github.com/mosaicnetworks/sectiond/src/xorname"
)

var (
	// ErrNoKnowledge is returned by requests sent before the client learnt
	// any section.
	ErrNoKnowledge = errors.New("client: no section known")
	// ErrClosed is returned by requests made after Close.
	ErrClosed = errors.New("client: closed")
	// ErrNoAgreement is returned when the elders' answers did not reach a
	// majority before the deadline.
	ErrNoAgreement = errors.New("client: elders did not agree")
)

// request is a message waiting for the answers of the elders it was sent to.
type request struct {
	msg       *net.WireMsg
	key       bls.PublicKey
	sentTo    map[xorname.Name]bool
	threshold int
	votes     map[string]int
	answers   map[xorname.Name]bool
	done      chan *net.WireMsg
	failed    chan error
}

// Client sends data commands and queries to the elders of the sections the
// data belongs to. Each request goes to the elders closest to its
// destination; the answer is the one a majority of them gave. Bounced
// requests are sent again to the section the bounce points to.
type Client struct {
	conf   *config.Config
	logger *logrus.Entry

	signer keys.Signer
	// prober signs knowledge probes, which carry a node authority.
	prober *keys.Keypair
	trans  net.Transport

	mu        sync.Mutex
	knowledge *sections.NetworkKnowledge
	updated   chan struct{}
	pending   map[uuid.UUID]*request
	tracker   *antientropy.Tracker

	shutdownCh chan struct{}
	closeOnce  sync.Once
	wg         sync.WaitGroup
}

// NewClient creates a client signing with signer. It trusts genesisKey and
// answers come back through trans.
func NewClient(conf *config.Config,
	signer keys.Signer,
	genesisKey bls.PublicKey,
	trans net.Transport,
) (*Client, error) {

	prober, err := keys.GenerateKeypair()
	if err != nil {
		return nil, err
	}
	name := signer.PublicKey().Name()

	c := &Client{
		conf: conf,
		logger: conf.Logger().WithFields(logrus.Fields{
			"prefix": "client",
			"name":   name,
		}),
		signer:     signer,
		prober:     prober,
		trans:      trans,
		knowledge:  sections.NewNetworkKnowledge(name, genesisKey),
		updated:    make(chan struct{}),
		pending:    make(map[uuid.UUID]*request),
		tracker:    antientropy.NewTracker(conf.MaxAERetries, conf.AggregatorCapacity),
		shutdownCh: make(chan struct{}),
	}

	go trans.Listen()

	c.wg.Add(1)
	go c.listen()

	return c, nil
}

// Name is the name replies are addressed to.
func (c *Client) Name() xorname.Name {
	return c.signer.PublicKey().Name()
}

// PublicKey is the key the client's requests are signed with, and the key
// data it owns is tied to.
func (c *Client) PublicKey() keys.PublicKey {
	return c.signer.PublicKey()
}

func (c *Client) peer() peers.Peer {
	return peers.NewPeer(c.Name(), c.trans.AdvertiseAddr())
}

// Bootstrap asks contacts for their section and waits until one answered
// with a SAP that chains to the genesis key.
func (c *Client) Bootstrap(ctx context.Context, contacts []peers.Peer) error {
	c.mu.Lock()
	known := c.knowledge.SectionKey()
	updated := c.updated
	c.mu.Unlock()

	src := peers.NewPeer(c.prober.Name(), c.trans.AdvertiseAddr())
	for _, p := range contacts {
		msg, err := net.NewWireMsg(net.AntiEntropyProbeMsg, src,
			antientropy.Dst{Name: p.Name, SectionKey: known},
			net.AntiEntropyProbe{Known: known})
		if err != nil {
			return err
		}
		msg.SignAsNode(c.prober)
		if err := c.trans.Send(p.NetAddr, msg); err != nil {
			c.logger.WithError(err).WithField("contact", p.NetAddr).Debug("Probing contact")
		}
	}

	select {
	case <-updated:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("client: bootstrap: %w", ctx.Err())
	case <-c.shutdownCh:
		return ErrClosed
	}
}

// Knowledge returns a copy of what the client knows of the network.
func (c *Client) Knowledge() *sections.NetworkKnowledge {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.knowledge.Snapshot()
}

// Close stops the client and closes its transport.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.shutdownCh)
		err = c.trans.Close()
		c.wg.Wait()
	})
	return err
}

/*******************************************************************************
Requests
*******************************************************************************/

// send delivers a request to the elders closest to dstName and returns the
// answer a majority of them agreed on.
func (c *Client) send(ctx context.Context, kind net.MsgKind, dstName xorname.Name, payload interface{}) (*net.WireMsg, error) {
	ctx, cancel := context.WithTimeout(ctx, c.conf.RequestTimeout)
	defer cancel()

	msg, err := net.NewWireMsg(kind, c.peer(), antientropy.Dst{Name: dstName}, payload)
	if err != nil {
		return nil, err
	}
	req := &request{
		msg:     msg,
		votes:   make(map[string]int),
		answers: make(map[xorname.Name]bool),
		done:    make(chan *net.WireMsg, 1),
		failed:  make(chan error, 1),
	}

	c.mu.Lock()
	out, to, err := c.route(req)
	if err != nil {
		c.mu.Unlock()
		return nil, err
	}
	c.pending[msg.MsgID] = req
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.pending, msg.MsgID)
		c.mu.Unlock()
		c.tracker.Done(msg.MsgID)
	}()

	if err := c.fanOut(ctx, out, to); err != nil {
		return nil, err
	}

	select {
	case resp := <-req.done:
		return resp, nil
	case err := <-req.failed:
		return nil, err
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %s %s: %v", ErrNoAgreement, kind, msg.MsgID, ctx.Err())
	case <-c.shutdownCh:
		return nil, ErrClosed
	}
}

// route addresses req to the section its destination belongs to, as far as
// we know, and signs it. It must be called with mu held.
func (c *Client) route(req *request) (*net.WireMsg, []peers.Peer, error) {
	dstName := req.msg.Dst.Name
	sap, err := c.knowledge.Closest(dstName, nil)
	if err != nil {
		return nil, nil, ErrNoKnowledge
	}
	elders := sap.Value.ClosestElders(dstName, c.conf.ElderSubset)

	msg := req.msg.WithDst(antientropy.Dst{Name: dstName, SectionKey: sap.SectionKey()})
	if err := msg.SignAsClient(c.signer); err != nil {
		return nil, nil, err
	}

	req.key = sap.SectionKey()
	req.sentTo = make(map[xorname.Name]bool, len(elders))
	for _, e := range elders {
		req.sentTo[e.Name] = true
	}
	req.threshold = len(elders)/2 + 1
	req.votes = make(map[string]int)
	req.answers = make(map[xorname.Name]bool)
	return msg, elders, nil
}

// fanOut sends msg to every peer at once. It fails only if no peer could be
// reached.
func (c *Client) fanOut(ctx context.Context, msg *net.WireMsg, to []peers.Peer) error {
	g, _ := errgroup.WithContext(ctx)
	var (
		mu   sync.Mutex
		sent int
	)
	for _, p := range to {
		p := p
		g.Go(func() error {
			if err := c.trans.Send(p.NetAddr, msg); err != nil {
				c.logger.WithFields(logrus.Fields{
					"kind":  msg.Kind,
					"to":    p,
					"error": err,
				}).Debug("Sending request")
				return nil
			}
			mu.Lock()
			sent++
			mu.Unlock()
			return nil
		})
	}
	g.Wait()
	if sent == 0 {
		return fmt.Errorf("%w: no elder reachable", net.ErrFailedToSend)
	}
	return nil
}

/*******************************************************************************
Incoming messages
*******************************************************************************/

func (c *Client) listen() {
	defer c.wg.Done()
	consumer := c.trans.Consumer()
	for {
		select {
		case rpc := <-consumer:
			msg := rpc.Command
			err := msg.Verify()
			if err == nil && msg.Auth.Kind != net.NodeAuth {
				err = net.ErrInvalidAuthority
			}
			rpc.Respond(err)
			if err != nil {
				c.logger.WithError(err).WithField("kind", msg.Kind).Debug("Refusing message")
				continue
			}
			if err := c.handle(msg); err != nil {
				c.logger.WithError(err).WithField("kind", msg.Kind).Debug("Dropping message")
			}
		case <-c.shutdownCh:
			return
		}
	}
}

func (c *Client) handle(msg *net.WireMsg) error {
	switch msg.Kind {
	case net.AntiEntropyUpdateMsg:
		var u net.AntiEntropyUpdate
		if err := msg.DecodePayload(&u); err != nil {
			return err
		}
		_, err := c.learn(u.SAP, u.Proof)
		return err
	case net.AntiEntropyRetryMsg, net.AntiEntropyRedirectMsg:
		return c.handleBounce(msg)
	case net.CmdResponseMsg:
		var r net.CmdResponse
		if err := msg.DecodePayload(&r); err != nil {
			return err
		}
		c.answer(r.CorrelationID, msg, r.Err)
		return nil
	case net.QueryResponseMsg:
		var r net.QueryResponse
		if err := msg.DecodePayload(&r); err != nil {
			return err
		}
		c.answer(r.CorrelationID, msg, r.Result)
		return nil
	default:
		return common.NewKindError(common.ProtocolViolation, net.ErrMalformedMsg)
	}
}

// learn applies a SAP and its proof chain to the knowledge.
func (c *Client) learn(sap sections.SectionSignedSAP, chain sections.ProofChain) (bool, error) {
	proof, err := chain.DAG()
	if err != nil {
		return false, common.NewKindError(common.ProtocolViolation, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	changed, err := antientropy.Apply(c.knowledge, sap, proof)
	if err != nil {
		return false, err
	}
	if changed {
		c.logger.WithFields(logrus.Fields{
			"section": sap.Value.Prefix,
			"key":     sap.SectionKey(),
		}).Debug("Learnt section")
		select {
		case <-c.updated:
		default:
			close(c.updated)
		}
	}
	return changed, nil
}

// answer counts an elder's answer to a request. Answers are compared by
// their encoding; the first one given by a majority wins.
func (c *Client) answer(id uuid.UUID, msg *net.WireMsg, result interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()

	req, ok := c.pending[id]
	if !ok || !req.sentTo[msg.Src.Name] || req.answers[msg.Src.Name] {
		return
	}
	req.answers[msg.Src.Name] = true

	b, err := common.Marshal(result)
	if err != nil {
		return
	}
	vote := string(b)
	req.votes[vote]++
	if req.votes[vote] == req.threshold {
		select {
		case req.done <- msg:
		default:
		}
		return
	}

	if len(req.answers) == len(req.sentTo) {
		c.failRequest(req, fmt.Errorf("%w: %d answers, %d distinct", ErrNoAgreement, len(req.answers), len(req.votes)))
	}
}

func (c *Client) failRequest(req *request, err error) {
	select {
	case req.failed <- err:
	default:
	}
}

// handleBounce learns the knowledge carried by a bounce and sends the
// bounced request again, once per new section key.
func (c *Client) handleBounce(msg *net.WireMsg) error {
	var b net.AntiEntropyBounce
	if err := msg.DecodePayload(&b); err != nil {
		return err
	}
	if _, err := c.learn(b.SAP, b.Proof); err != nil {
		return err
	}

	bounced := new(net.WireMsg)
	if err := bounced.Unmarshal(b.Bounced); err != nil {
		return common.NewKindError(common.ProtocolViolation, err)
	}
	if bounced.Src.Name != c.Name() {
		return nil
	}

	c.mu.Lock()
	req, ok := c.pending[bounced.MsgID]
	if !ok {
		c.mu.Unlock()
		return nil
	}
	target, err := c.knowledge.Closest(bounced.Dst.Name, nil)
	if err != nil || target.SectionKey() == req.key {
		// already resent there
		c.mu.Unlock()
		return err
	}

	action := antientropy.Retry
	if msg.Kind == net.AntiEntropyRedirectMsg {
		action = antientropy.Redirect
	}
	if err := c.tracker.Bounce(bounced.MsgID, action, b.SAP.Value.Prefix, target.Value.Prefix); err != nil {
		c.failRequest(req, err)
		c.mu.Unlock()
		return nil
	}

	out, to, err := c.route(req)
	c.mu.Unlock()
	if err != nil {
		return err
	}

	c.logger.WithFields(logrus.Fields{
		"kind":    out.Kind,
		"id":      out.MsgID,
		"section": target.Value.Prefix,
	}).Debug("Resending bounced request")

	ctx, cancel := context.WithTimeout(context.Background(), c.conf.RequestTimeout)
	defer cancel()
	return c.fanOut(ctx, out, to)
}
