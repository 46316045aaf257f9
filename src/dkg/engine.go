package dkg

import (
	"bytes"
	"fmt"
	"sort"
	"time"

	"github.com/golang/groupcache/lru"
	"github.com/sirupsen/logrus"
	"go.dedis.ch/kyber/v3"
	pedersen "go.dedis.ch/kyber/v3/share/dkg/pedersen"
	vss "go.dedis.ch/kyber/v3/share/vss/pedersen"

	"github.com/mosaicnetworks/sectiond/src/crypto"
	"github.com/mosaicnetworks/sectiond/src/crypto/bls"
	"github.com/mosaicnetworks/sectiond/src/crypto/keys"
	"github.com/mosaicnetworks/sectiond/src/peers"
	"github.com/mosaicnetworks/sectiond/src/sections"
	"github.com/mosaicnetworks/sectiond/src/xorname"
)

// Config ...
type Config struct {
	// GossipInterval is the period at which unfinished sessions gossip their
	// votes.
	GossipInterval time.Duration
	// Timeout is the lifetime of a session before force termination.
	Timeout time.Duration
}

// Authorizer checks the section signature authorising a session.
type Authorizer func(id SessionID, auth sections.SectionSig) bool

type voteKey struct {
	kind  VoteKind
	voter uint32
}

type session struct {
	id   SessionID
	hash crypto.Digest
	auth sections.SectionSig

	index int
	sk    kyber.Scalar
	keys  map[int]EphemeralKey

	generator *pedersen.DistKeyGenerator
	votes     map[voteKey]Vote
	order     []voteKey
	applied   map[voteKey]bool
	ourAcks   map[uint32]Ack
	parts     int
	acks      int

	started    time.Time
	lastGossip time.Time
	expected   *bls.PublicKey
	terminated bool
}

func (s *session) size() int {
	return len(s.id.Elders)
}

func (s *session) others(self xorname.Name) []peers.Peer {
	return s.id.Others(self)
}

// allVotes returns our gossip unit for the session.
func (s *session) allVotes() *Votes {
	v := &Votes{Session: s.hash}
	idx := make([]int, 0, len(s.keys))
	for i := range s.keys {
		idx = append(idx, i)
	}
	sort.Ints(idx)
	for _, i := range idx {
		v.Keys = append(v.Keys, s.keys[i])
	}
	for _, k := range s.order {
		v.Votes = append(v.Votes, s.votes[k])
	}
	return v
}

// Engine runs the DKG sessions of one node. It is driven by the node's
// command loop and is not safe for concurrent use.
type Engine struct {
	conf      Config
	keypair   *keys.Keypair
	name      xorname.Name
	authorize Authorizer
	logger    *logrus.Entry

	sessions map[crypto.Digest]*session
	finished *lru.Cache

	now func() time.Time
}

// NewEngine ...
func NewEngine(conf Config, keypair *keys.Keypair, authorize Authorizer, logger *logrus.Entry) *Engine {
	return &Engine{
		conf:      conf,
		keypair:   keypair,
		name:      keypair.Name(),
		authorize: authorize,
		logger:    logger,
		sessions:  make(map[crypto.Digest]*session),
		finished:  lru.New(256),
		now:       time.Now,
	}
}

// SetKeypair is used after relocation, when the node takes a new identity.
func (e *Engine) SetKeypair(keypair *keys.Keypair) {
	e.keypair = keypair
	e.name = keypair.Name()
	e.sessions = make(map[crypto.Digest]*session)
}

// Sessions returns the ids of unfinished sessions.
func (e *Engine) Sessions() []SessionID {
	var res []SessionID
	for _, s := range e.sessions {
		if !s.terminated {
			res = append(res, s.id)
		}
	}
	sort.Slice(res, func(i, j int) bool {
		return bytes.Compare(res[i].Bytes(), res[j].Bytes()) < 0
	})
	return res
}

// Has tells whether the session was started or finished on this node.
func (e *Engine) Has(hash crypto.Digest) bool {
	if _, ok := e.sessions[hash]; ok {
		return true
	}
	_, ok := e.finished.Get(hash)
	return ok
}

// Start begins a session authorised by the section. Starting a known session
// again does nothing.
func (e *Engine) Start(id SessionID, auth sections.SectionSig) (Output, error) {
	hash := id.Hash()
	if e.Has(hash) {
		return Output{}, nil
	}
	if e.authorize != nil && !e.authorize(id, auth) {
		return Output{}, ErrUnauthorized
	}
	index := id.Index(e.name)
	if index < 0 {
		return Output{}, ErrNotParticipant
	}

	for h, s := range e.sessions {
		if !s.id.Prefix.IsCompatible(id.Prefix) {
			continue
		}
		if newerSession(s.id, id) {
			return Output{}, ErrStaleSession
		}
		if newerSession(id, s.id) {
			e.logger.WithField("session", s.id).Debug("Cancelling older DKG session")
			delete(e.sessions, h)
			e.finished.Add(h, struct{}{})
		}
	}

	logger := e.logger.WithFields(logrus.Fields{
		"session": id,
		"index":   index,
	})

	if id.Elders == nil || len(id.Elders) == 1 {
		// A lone elder has nobody to run the protocol with.
		ks, err := bls.GenerateKeySet(1)
		if err != nil {
			return Output{}, err
		}
		e.finished.Add(hash, struct{}{})
		logger.Info("DKG complete")
		return Output{Outcomes: []Outcome{{
			Session: id,
			KeyShare: sections.SectionKeyShare{
				PublicKeySet: ks.Public,
				Index:        0,
				SecretKey:    ks.Shares[0],
			},
		}}}, nil
	}

	group := bls.Suite().G2()
	sk := group.Scalar().Pick(bls.Suite().RandomStream())
	pub, err := group.Point().Mul(sk, nil).MarshalBinary()
	if err != nil {
		return Output{}, err
	}

	now := e.now()
	s := &session{
		id:         id,
		hash:       hash,
		auth:       auth,
		index:      index,
		sk:         sk,
		keys:       make(map[int]EphemeralKey),
		votes:      make(map[voteKey]Vote),
		applied:    make(map[voteKey]bool),
		ourAcks:    make(map[uint32]Ack),
		started:    now,
		lastGossip: now,
	}
	own := EphemeralKey{
		Session:     id,
		SectionAuth: auth,
		SenderKey:   e.keypair.SigningPublicKey(),
		PubKey:      pub,
		Sig:         e.keypair.Sign(ephemeralPayload(hash, pub)),
	}
	s.keys[index] = own
	e.sessions[hash] = s

	logger.Debug("DKG started")

	return Output{Messages: []Message{{Recipients: s.others(e.name), Key: &own}}}, nil
}

// HandleEphemeralKey records a participant's ephemeral key, joining the
// session if we did not know it yet. Once every key is known the node
// deals its shares.
func (e *Engine) HandleEphemeralKey(key EphemeralKey) (Output, error) {
	hash := key.Session.Hash()

	var out Output
	s, ok := e.sessions[hash]
	if !ok {
		if _, done := e.finished.Get(hash); done {
			return Output{}, nil
		}
		started, err := e.Start(key.Session, key.SectionAuth)
		if err != nil {
			return Output{}, err
		}
		out.merge(started)
		if s, ok = e.sessions[hash]; !ok {
			return out, nil
		}
	}

	if !key.Verify() {
		return out, ErrInvalidSignature
	}
	idx := s.id.Index(key.Sender())
	if idx < 0 {
		return out, ErrNotParticipant
	}
	if known, ok := s.keys[idx]; ok {
		if !bytes.Equal(known.PubKey, key.PubKey) {
			return out, ErrConflictingKey
		}
		return out, nil
	}
	if err := bls.Suite().G2().Point().UnmarshalBinary(key.PubKey); err != nil {
		return out, fmt.Errorf("%w: bad ephemeral key: %v", ErrInvalidVote, err)
	}
	s.keys[idx] = key

	if len(s.keys) == s.size() && s.generator == nil && !s.terminated {
		init, err := e.initialize(s)
		out.merge(init)
		if err != nil {
			return out, err
		}
	}
	return out, nil
}

// initialize creates the key generator, casts our Parts vote and applies the
// votes received so far.
func (e *Engine) initialize(s *session) (Output, error) {
	suite := bls.Suite()
	points := make([]kyber.Point, s.size())
	for i := range points {
		p := suite.G2().Point()
		if err := p.UnmarshalBinary(s.keys[i].PubKey); err != nil {
			return Output{}, err
		}
		points[i] = p
	}

	gen, err := pedersen.NewDistKeyGenerator(suite, s.sk, points, bls.Supermajority(s.size()))
	if err != nil {
		return Output{}, err
	}
	s.generator = gen

	deals, err := gen.Deals()
	if err != nil {
		return Output{}, err
	}
	recipients := make([]int, 0, len(deals))
	for i := range deals {
		recipients = append(recipients, i)
	}
	sort.Ints(recipients)

	vote := Vote{Kind: PartsVote, Voter: uint32(s.index)}
	for _, i := range recipients {
		d := deals[i]
		vote.Deals = append(vote.Deals, Deal{
			Recipient: uint32(i),
			Dealer:    d.Index,
			DHKey:     d.Deal.DHKey,
			DealSig:   d.Deal.Signature,
			Nonce:     d.Deal.Nonce,
			Cipher:    d.Deal.Cipher,
			Signature: d.Signature,
		})
	}
	e.signVote(s, &vote)
	e.store(s, vote)
	s.applied[voteKey{PartsVote, vote.Voter}] = true

	out := Output{Messages: []Message{e.broadcast(s)}}

	// votes buffered before initialisation, Parts first
	var pending []Vote
	for _, k := range s.order {
		if !s.applied[k] {
			pending = append(pending, s.votes[k])
		}
	}
	sort.SliceStable(pending, func(i, j int) bool { return pending[i].Kind < pending[j].Kind })
	for _, v := range pending {
		more, err := e.apply(s, peers.Peer{}, v)
		out.merge(more)
		if err != nil {
			e.logger.WithError(err).WithField("session", s.id).Debug("Applying buffered vote")
		}
	}
	return out, nil
}

func (e *Engine) signVote(s *session, v *Vote) {
	v.VoterKey = e.keypair.SigningPublicKey()
	v.Sig = e.keypair.Sign(v.payload(s.hash))
}

func (e *Engine) store(s *session, v Vote) {
	k := voteKey{v.Kind, v.Voter}
	s.votes[k] = v
	s.order = append(s.order, k)
}

func (e *Engine) broadcast(s *session) Message {
	return Message{Recipients: s.others(e.name), Votes: s.allVotes()}
}

// HandleVotes processes a gossip unit received from a participant.
func (e *Engine) HandleVotes(from peers.Peer, msg Votes) (Output, error) {
	var out Output
	s, ok := e.sessions[msg.Session]
	if !ok {
		if _, done := e.finished.Get(msg.Session); done {
			return Output{}, nil
		}
		// catch up through the keys, which carry the authorisation
		for _, k := range msg.Keys {
			if k.Session.Hash() != msg.Session {
				continue
			}
			more, err := e.HandleEphemeralKey(k)
			out.merge(more)
			if err == nil {
				break
			}
		}
		if s, ok = e.sessions[msg.Session]; !ok {
			return out, ErrUnknownSession
		}
	}

	if s.terminated {
		// help a participant that is behind us
		if len(msg.Votes) < len(s.votes) && from.Name != (xorname.Name{}) {
			out.Messages = append(out.Messages, Message{Recipients: []peers.Peer{from}, Votes: s.allVotes()})
		}
		return out, nil
	}

	for _, k := range msg.Keys {
		if k.Session.Hash() != msg.Session {
			continue
		}
		more, err := e.HandleEphemeralKey(k)
		out.merge(more)
		if err != nil {
			e.logger.WithError(err).WithField("session", s.id).Debug("Ephemeral key")
		}
	}

	for _, v := range msg.Votes {
		more, err := e.handleVote(s, from, v)
		out.merge(more)
		if err != nil {
			return out, err
		}
		if s.terminated {
			break
		}
	}
	return out, nil
}

func (e *Engine) handleVote(s *session, from peers.Peer, v Vote) (Output, error) {
	k := voteKey{v.Kind, v.Voter}
	if _, ok := s.votes[k]; ok {
		return Output{}, nil
	}
	if !v.verify(s.id, s.hash) {
		return Output{}, ErrInvalidSignature
	}
	e.store(s, v)
	if s.generator == nil {
		// waiting for more ephemeral keys
		return Output{}, nil
	}
	return e.apply(s, from, v)
}

// apply feeds a stored vote to the key generator.
func (e *Engine) apply(s *session, from peers.Peer, v Vote) (Output, error) {
	k := voteKey{v.Kind, v.Voter}
	if s.applied[k] || int(v.Voter) == s.index {
		return Output{}, nil
	}

	switch v.Kind {
	case PartsVote:
		return e.applyParts(s, v)
	case AcksVote:
		if s.parts < s.size()-1 {
			// responses can only be checked against deals we hold
			var out Output
			if from.Name != (xorname.Name{}) {
				out.Messages = append(out.Messages, Message{
					Recipients: []peers.Peer{from},
					AE:         &AERequest{Session: s.hash},
				})
			}
			return out, nil
		}
		return e.applyAcks(s, v)
	}
	return Output{}, ErrInvalidVote
}

func (e *Engine) applyParts(s *session, v Vote) (Output, error) {
	var deal *Deal
	for i := range v.Deals {
		if v.Deals[i].Recipient == uint32(s.index) {
			deal = &v.Deals[i]
			break
		}
	}
	if deal == nil || deal.Dealer != v.Voter {
		return Output{}, fmt.Errorf("%w: no deal for us from %d", ErrInvalidVote, v.Voter)
	}

	resp, err := s.generator.ProcessDeal(&pedersen.Deal{
		Index: deal.Dealer,
		Deal: &vss.EncryptedDeal{
			DHKey:     deal.DHKey,
			Signature: deal.DealSig,
			Nonce:     deal.Nonce,
			Cipher:    deal.Cipher,
		},
		Signature: deal.Signature,
	})
	if err != nil {
		return Output{}, fmt.Errorf("%w: deal from %d: %v", ErrInvalidVote, v.Voter, err)
	}
	s.applied[voteKey{PartsVote, v.Voter}] = true
	s.parts++
	s.ourAcks[resp.Index] = Ack{
		Dealer:    resp.Index,
		Verifier:  resp.Response.Index,
		SessionID: resp.Response.SessionID,
		Status:    resp.Response.Status,
		Signature: resp.Response.Signature,
	}

	if s.parts < s.size()-1 {
		return Output{}, nil
	}

	// every deal processed: cast our Acks and apply the Acks we held back
	acks := Vote{Kind: AcksVote, Voter: uint32(s.index)}
	dealers := make([]int, 0, len(s.ourAcks))
	for d := range s.ourAcks {
		dealers = append(dealers, int(d))
	}
	sort.Ints(dealers)
	for _, d := range dealers {
		acks.Acks = append(acks.Acks, s.ourAcks[uint32(d)])
	}
	e.signVote(s, &acks)
	e.store(s, acks)
	s.applied[voteKey{AcksVote, acks.Voter}] = true

	out := Output{Messages: []Message{e.broadcast(s)}}
	for _, k := range s.order {
		if k.kind == AcksVote && !s.applied[k] {
			more, err := e.applyAcks(s, s.votes[k])
			out.merge(more)
			if err != nil {
				return out, err
			}
		}
	}
	return out, nil
}

func (e *Engine) applyAcks(s *session, v Vote) (Output, error) {
	for _, ack := range v.Acks {
		if ack.Verifier != v.Voter {
			return Output{}, fmt.Errorf("%w: ack of %d in vote of %d", ErrInvalidVote, ack.Verifier, v.Voter)
		}
		_, err := s.generator.ProcessResponse(&pedersen.Response{
			Index: ack.Dealer,
			Response: &vss.Response{
				SessionID: ack.SessionID,
				Index:     ack.Verifier,
				Status:    ack.Status,
				Signature: ack.Signature,
			},
		})
		if err != nil {
			return Output{}, fmt.Errorf("%w: ack from %d: %v", ErrInvalidVote, v.Voter, err)
		}
	}
	s.applied[voteKey{AcksVote, v.Voter}] = true
	s.acks++
	return e.tryComplete(s)
}

func (e *Engine) tryComplete(s *session) (Output, error) {
	if s.parts < s.size()-1 || s.acks < s.size()-1 || !s.generator.Certified() {
		return Output{}, nil
	}
	outcome, err := e.outcome(s)
	if err != nil {
		return Output{}, err
	}
	s.terminated = true
	e.logger.WithFields(logrus.Fields{
		"session": s.id,
		"key":     outcome.KeyShare.PublicKeySet.PublicKey(),
	}).Info("DKG complete")
	return Output{Outcomes: []Outcome{outcome}}, nil
}

func (e *Engine) outcome(s *session) (Outcome, error) {
	dks, err := s.generator.DistKeyShare()
	if err != nil {
		return Outcome{}, err
	}
	share, err := bls.NewSecretKeyShare(dks.Share)
	if err != nil {
		return Outcome{}, err
	}
	return Outcome{
		Session: s.id,
		KeyShare: sections.SectionKeyShare{
			PublicKeySet: bls.NewPublicKeySet(s.size(), dks.Commits),
			Index:        s.index,
			SecretKey:    share,
		},
	}, nil
}

// HandleAE answers a participant missing votes with everything we know.
func (e *Engine) HandleAE(from peers.Peer, req AERequest) Output {
	s, ok := e.sessions[req.Session]
	if !ok {
		return Output{}
	}
	return Output{Messages: []Message{{Recipients: []peers.Peer{from}, Votes: s.allVotes()}}}
}

// ExpectKey records the key a section ended up with, learnt through
// anti-entropy. A session for the same prefix and elders that times out is
// salvaged only if it produces that key.
func (e *Engine) ExpectKey(sap sections.SectionAuthorityProvider) {
	pk := sap.SectionKey()
	for _, s := range e.sessions {
		if s.id.Prefix.Equal(sap.Prefix) && sameNames(s.id.Elders, sap.Elders) {
			s.expected = &pk
		}
	}
}

// Prune drops the sessions of prefixes compatible with prefix whose chain is
// shorter than chainLen, once a newer key was installed. Sessions still
// expected to produce an installed key are kept so that slow participants
// get their share.
func (e *Engine) Prune(prefix xorname.Prefix, chainLen uint64) {
	for h, s := range e.sessions {
		if s.expected != nil && !s.terminated {
			continue
		}
		if s.id.Prefix.IsCompatible(prefix) && s.id.SectionChainLen < chainLen {
			delete(e.sessions, h)
			e.finished.Add(h, struct{}{})
		}
	}
}

// Tick gossips the votes of unfinished sessions and force-terminates the
// ones that timed out.
func (e *Engine) Tick() Output {
	now := e.now()
	var out Output

	hashes := make([]crypto.Digest, 0, len(e.sessions))
	for h := range e.sessions {
		hashes = append(hashes, h)
	}
	sort.Slice(hashes, func(i, j int) bool { return bytes.Compare(hashes[i][:], hashes[j][:]) < 0 })

	for _, h := range hashes {
		s := e.sessions[h]
		if s.terminated {
			if e.conf.Timeout > 0 && now.Sub(s.started) > 2*e.conf.Timeout {
				delete(e.sessions, h)
				e.finished.Add(h, struct{}{})
			}
			continue
		}
		if e.conf.Timeout > 0 && now.Sub(s.started) > e.conf.Timeout {
			out.merge(e.forceTerminate(s))
			delete(e.sessions, h)
			e.finished.Add(h, struct{}{})
			continue
		}
		if now.Sub(s.lastGossip) < e.conf.GossipInterval {
			continue
		}
		s.lastGossip = now
		if len(s.votes) > 0 {
			out.Messages = append(out.Messages, e.broadcast(s))
		} else {
			own := s.keys[s.index]
			out.Messages = append(out.Messages, Message{Recipients: s.others(e.name), Key: &own})
		}
	}
	return out
}

func (e *Engine) forceTerminate(s *session) Output {
	logger := e.logger.WithField("session", s.id)
	if s.generator == nil || s.expected == nil {
		logger.Warn("DKG timed out")
		return Output{}
	}
	s.generator.SetTimeout()
	if !s.generator.Certified() {
		logger.Warn("DKG timed out without enough deals")
		return Output{}
	}
	outcome, err := e.outcome(s)
	if err != nil {
		logger.WithError(err).Warn("DKG salvage failed")
		return Output{}
	}
	if outcome.KeyShare.PublicKeySet.PublicKey() != *s.expected {
		logger.Warn("DKG salvage produced an unexpected key")
		return Output{}
	}
	logger.Info("DKG salvaged")
	return Output{Outcomes: []Outcome{outcome}}
}

// newerSession orders sessions of compatible prefixes by chain length, then
// by membership generation.
func newerSession(a, b SessionID) bool {
	if a.SectionChainLen != b.SectionChainLen {
		return a.SectionChainLen > b.SectionChainLen
	}
	return a.MembershipGen > b.MembershipGen
}

func sameNames(a, b []peers.Peer) bool {
	if len(a) != len(b) {
		return false
	}
	seen := make(map[xorname.Name]bool, len(a))
	for _, p := range a {
		seen[p.Name] = true
	}
	for _, p := range b {
		if !seen[p.Name] {
			return false
		}
	}
	return true
}
