package membership

import (
	"bytes"
	"fmt"
	"sort"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/mosaicnetworks/sectiond/src/aggregator"
	"github.com/mosaicnetworks/sectiond/src/crypto/bls"
	"github.com/mosaicnetworks/sectiond/src/peers"
	"github.com/mosaicnetworks/sectiond/src/sections"
	"github.com/mosaicnetworks/sectiond/src/xorname"
)

// Config ...
type Config struct {
	// Timeout is the age after which a round without a decision is aborted
	// and its proposal queued again.
	Timeout time.Duration
	// AggregatorCapacity bounds the vote aggregator.
	AggregatorCapacity int
}

// Vote is an elder's signature share over a proposal for a generation.
type Vote struct {
	Gen   uint64
	State peers.NodeState
	Share aggregator.SigShare
}

// Payload is the signed bytes of the vote's proposal.
func (v Vote) Payload() []byte {
	return sections.NodeStatePayload(v.Gen, v.State)
}

// Result holds what a call to the engine produced: votes to broadcast to the
// other elders and decisions applied, in generation order.
type Result struct {
	Votes     []Vote
	Decisions []sections.SignedNodeState
}

func (r *Result) merge(o Result) {
	r.Votes = append(r.Votes, o.Votes...)
	r.Decisions = append(r.Decisions, o.Decisions...)
}

type round struct {
	gen     uint64
	signed  peers.NodeState
	started time.Time
	// proposals other elders voted for in this generation
	seen []peers.NodeState
}

func (r *round) observe(state peers.NodeState) bool {
	if sameState(r.signed, state) {
		return false
	}
	for _, s := range r.seen {
		if sameState(s, state) {
			return false
		}
	}
	r.seen = append(r.seen, state)
	return true
}

// lowest returns the proposal of the round with the smallest payload.
func (r *round) lowest() peers.NodeState {
	res := r.signed
	for _, s := range r.seen {
		if lessState(s, res) {
			res = s
		}
	}
	return res
}

// Engine is the membership state machine of one node. It is not safe for
// concurrent use: the node drives it from its command loop.
type Engine struct {
	conf   Config
	logger *logrus.Entry

	gen     uint64
	members map[xorname.Name]peers.NodeState

	keyShare *sections.SectionKeyShare
	trusted  func(bls.PublicKey) bool
	agg      *aggregator.SignatureAggregator

	round  *round
	queue  []peers.NodeState
	future map[uint64]sections.SignedNodeState

	now func() time.Time
}

// NewEngine returns an engine at generation gen with the given members.
// trusted tells whether decisions signed by a key may be applied.
func NewEngine(conf Config, gen uint64, members []peers.NodeState, trusted func(bls.PublicKey) bool,
	logger *logrus.Entry) *Engine {

	e := &Engine{
		conf:    conf,
		logger:  logger,
		gen:     gen,
		members: make(map[xorname.Name]peers.NodeState, len(members)),
		trusted: trusted,
		future:  make(map[uint64]sections.SignedNodeState),
		now:     time.Now,
	}
	for _, m := range members {
		e.members[m.Name()] = m
	}
	e.agg = aggregator.NewSignatureAggregator(
		aggregator.Config{Capacity: conf.AggregatorCapacity, TTL: conf.Timeout},
		e.acceptKey,
	)
	return e
}

func (e *Engine) acceptKey(keySet bls.PublicKeySet) bool {
	return e.keyShare != nil && e.keyShare.PublicKeySet.Equal(keySet)
}

// Gen returns the last applied generation.
func (e *Engine) Gen() uint64 {
	return e.gen
}

// Members returns every known node state, ordered by name.
func (e *Engine) Members() []peers.NodeState {
	res := make([]peers.NodeState, 0, len(e.members))
	for _, m := range e.members {
		res = append(res, m)
	}
	peers.SortNodeStates(res)
	return res
}

// JoinedMembers ...
func (e *Engine) JoinedMembers() []peers.NodeState {
	var res []peers.NodeState
	for _, m := range e.Members() {
		if m.IsJoined() {
			res = append(res, m)
		}
	}
	return res
}

// Member ...
func (e *Engine) Member(name xorname.Name) (peers.NodeState, bool) {
	m, ok := e.members[name]
	return m, ok
}

// IsElder tells whether the engine holds a key share.
func (e *Engine) IsElder() bool {
	return e.keyShare != nil
}

// SetKeyShare installs the section key share used to sign proposals, or nil
// when the node is no longer an elder. A round in progress under the
// previous key is aborted and its proposal queued again.
func (e *Engine) SetKeyShare(share *sections.SectionKeyShare) Result {
	if e.keyShare != nil && share != nil && e.keyShare.PublicKeySet.PublicKey() == share.PublicKeySet.PublicKey() {
		return Result{}
	}
	e.keyShare = share
	if e.round != nil {
		e.requeueFront(e.round.signed)
		e.round = nil
	}
	if share == nil {
		e.queue = nil
		return Result{}
	}
	return e.startNext()
}

// Prune drops members outside prefix, after a split.
func (e *Engine) Prune(prefix xorname.Prefix) {
	for n := range e.members {
		if !prefix.Matches(n) {
			delete(e.members, n)
		}
	}
	var q []peers.NodeState
	for _, s := range e.queue {
		if prefix.Matches(s.Name()) {
			q = append(q, s)
		}
	}
	e.queue = q
}

// Validate checks that state is a valid next state for its node.
func (e *Engine) Validate(state peers.NodeState) error {
	current, known := e.members[state.Name()]
	switch state.State {
	case peers.Joined:
		if known && current.IsJoined() {
			return fmt.Errorf("%w: %s already joined", ErrInvalidProposal, state.Peer)
		}
		if known && current.State == peers.Relocated {
			return fmt.Errorf("%w: %s was relocated", ErrInvalidProposal, state.Peer)
		}
	case peers.Left:
		if !known || !current.IsJoined() {
			return fmt.Errorf("%w: %s is not a member", ErrInvalidProposal, state.Peer)
		}
	case peers.Relocated:
		if !known || !current.IsJoined() || state.Relocate == nil {
			return fmt.Errorf("%w: %s cannot be relocated", ErrInvalidProposal, state.Peer)
		}
	default:
		return fmt.Errorf("%w: unknown state %d", ErrInvalidProposal, state.State)
	}
	return nil
}

// Propose starts a round for state, or queues it if a round is in progress.
func (e *Engine) Propose(state peers.NodeState) (Result, error) {
	if e.keyShare == nil {
		return Result{}, ErrNotElder
	}
	if err := e.Validate(state); err != nil {
		return Result{}, err
	}
	if e.round != nil {
		e.requeue(state)
		return Result{}, nil
	}
	return e.sign(e.gen+1, state)
}

// sign signs state for gen, opens the round and aggregates our own share.
func (e *Engine) sign(gen uint64, state peers.NodeState) (Result, error) {
	vote, err := e.vote(gen, state)
	if err != nil {
		return Result{}, err
	}
	e.round = &round{gen: gen, signed: state, started: e.now()}

	e.logger.WithFields(logrus.Fields{
		"gen":   gen,
		"state": state,
	}).Debug("Propose")

	res := Result{Votes: []Vote{vote}}
	more, err := e.aggregate(vote)
	res.merge(more)
	return res, err
}

func (e *Engine) vote(gen uint64, state peers.NodeState) (Vote, error) {
	share, err := e.keyShare.Sign(sections.NodeStatePayload(gen, state))
	if err != nil {
		return Vote{}, err
	}
	return Vote{
		Gen:   gen,
		State: state,
		Share: aggregator.SigShare{
			PublicKeySet: e.keyShare.PublicKeySet,
			Index:        e.keyShare.Index,
			Share:        share,
		},
	}, nil
}

// HandleVote processes another elder's vote. If we have not signed anything
// for that generation and the proposal is valid, we sign it too.
func (e *Engine) HandleVote(vote Vote) (Result, error) {
	switch {
	case vote.Gen <= e.gen:
		return Result{}, ErrStaleGeneration
	case vote.Gen > e.gen+1:
		return Result{}, ErrFutureGeneration
	}

	var res Result
	ours := e.keyShare != nil && e.Validate(vote.State) == nil &&
		vote.Share.PublicKeySet.PublicKey() == e.keyShare.PublicKeySet.PublicKey()
	if ours && e.round != nil && e.round.gen == vote.Gen && e.round.observe(vote.State) {
		// a competing proposal: keep it for a later generation
		e.requeue(vote.State)
	}
	if ours && e.round == nil {
		signed, err := e.sign(vote.Gen, vote.State)
		if err != nil {
			return Result{}, err
		}
		res.merge(signed)
		// our own share may have completed the decision
		if e.gen >= vote.Gen {
			return res, nil
		}
	}

	more, err := e.aggregate(vote)
	res.merge(more)
	return res, err
}

func (e *Engine) aggregate(vote Vote) (Result, error) {
	sig, err := e.agg.TryAggregate(vote.Payload(), vote.Share)
	if err != nil || sig == nil {
		return Result{}, err
	}
	return e.HandleDecision(sections.SignedNodeState{
		Value: vote.State,
		Gen:   vote.Gen,
		Sig:   *sig,
	})
}

// HandleDecision applies a decision, from our own aggregation or learnt from
// another node. Decisions beyond the next generation are kept until the gap
// is filled.
func (e *Engine) HandleDecision(decision sections.SignedNodeState) (Result, error) {
	if decision.Gen <= e.gen {
		return Result{}, nil
	}
	if e.trusted != nil && !e.trusted(decision.Sig.PublicKey) {
		return Result{}, ErrUntrustedDecision
	}
	if !decision.Verify() {
		return Result{}, ErrUntrustedDecision
	}
	if decision.Gen > e.gen+1 {
		e.future[decision.Gen] = decision
		return Result{}, nil
	}

	var res Result
	e.apply(decision)
	res.Decisions = append(res.Decisions, decision)
	for {
		next, ok := e.future[e.gen+1]
		if !ok {
			break
		}
		delete(e.future, next.Gen)
		e.apply(next)
		res.Decisions = append(res.Decisions, next)
	}
	for g := range e.future {
		if g <= e.gen {
			delete(e.future, g)
		}
	}

	res.merge(e.startNext())
	return res, nil
}

func (e *Engine) apply(decision sections.SignedNodeState) {
	e.members[decision.Value.Name()] = decision.Value
	e.gen = decision.Gen

	e.logger.WithFields(logrus.Fields{
		"gen":   decision.Gen,
		"state": decision.Value,
	}).Info("Membership decision")

	if e.round != nil && e.round.gen <= decision.Gen {
		if !sameState(e.round.signed, decision.Value) {
			e.requeueFront(e.round.signed)
		}
		e.round = nil
	}

	// drop queued proposals made obsolete by the decision
	var q []peers.NodeState
	for _, s := range e.queue {
		if s.Name() == decision.Value.Name() && s.State == decision.Value.State {
			continue
		}
		q = append(q, s)
	}
	e.queue = q
}

func (e *Engine) requeue(state peers.NodeState) {
	for _, s := range e.queue {
		if sameState(s, state) {
			return
		}
	}
	e.queue = append(e.queue, state)
}

func (e *Engine) dequeue(state peers.NodeState) {
	var q []peers.NodeState
	for _, s := range e.queue {
		if !sameState(s, state) {
			q = append(q, s)
		}
	}
	e.queue = q
}

func (e *Engine) requeueFront(state peers.NodeState) {
	q := []peers.NodeState{state}
	for _, s := range e.queue {
		if !sameState(s, state) {
			q = append(q, s)
		}
	}
	e.queue = q
}

// startNext opens a round for the first valid queued proposal.
func (e *Engine) startNext() Result {
	if e.keyShare == nil || e.round != nil {
		return Result{}
	}
	for len(e.queue) > 0 {
		next := e.queue[0]
		e.queue = e.queue[1:]
		if e.Validate(next) != nil {
			continue
		}
		res, err := e.sign(e.gen+1, next)
		if err != nil {
			e.logger.WithError(err).Error("Signing queued proposal")
			continue
		}
		return res
	}
	return Result{}
}

// Tick aborts a round older than the timeout. When other elders voted for
// competing proposals in the same generation, the vote moves to the one with
// the smallest payload so that split elders converge, and our previous
// proposal is queued again. Otherwise the same vote is broadcast again for
// the elders that missed it.
func (e *Engine) Tick() Result {
	if e.round == nil || e.keyShare == nil || e.conf.Timeout <= 0 {
		return Result{}
	}
	if e.now().Sub(e.round.started) < e.conf.Timeout {
		return Result{}
	}
	r := e.round
	r.started = e.now()

	next := r.lowest()
	if !sameState(next, r.signed) {
		e.logger.WithFields(logrus.Fields{
			"gen":   r.gen,
			"from":  r.signed,
			"state": next,
		}).Warn("Membership round timed out, changing vote")

		e.requeue(r.signed)
		e.dequeue(next)
		r.seen = append(r.seen, r.signed)
		r.signed = next
	} else {
		e.logger.WithField("gen", r.gen).Warn("Membership round timed out")
	}

	vote, err := e.vote(r.gen, r.signed)
	if err != nil {
		e.logger.WithError(err).Error("Signing timed out proposal")
		return Result{}
	}
	res := Result{Votes: []Vote{vote}}
	more, err := e.aggregate(vote)
	if err != nil {
		e.logger.WithError(err).Error("Aggregating timed out proposal")
	}
	res.merge(more)
	return res
}

// Pending returns the queued proposals, ordered by name.
func (e *Engine) Pending() []peers.NodeState {
	res := append([]peers.NodeState{}, e.queue...)
	sort.SliceStable(res, func(i, j int) bool {
		return res[i].Name().Cmp(res[j].Name()) < 0
	})
	return res
}

func sameState(a, b peers.NodeState) bool {
	return bytes.Equal(sections.NodeStatePayload(0, a), sections.NodeStatePayload(0, b))
}

func lessState(a, b peers.NodeState) bool {
	return bytes.Compare(sections.NodeStatePayload(0, a), sections.NodeStatePayload(0, b)) < 0
}
