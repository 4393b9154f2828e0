package paxos

import (
	"time"

	"github.com/Rustem/piChain/internal/chain"
)

// Manager owns one Instance per commit depth currently in flight, keyed by
// depth: an instance is created when a block becomes a commit candidate
// and discarded once that depth is committed.
type Manager struct {
	self      chain.NodeId
	quorum    int
	instances map[uint64]*Instance
}

// NewManager builds a Manager for a peer with the given id, against a
// cluster requiring quorum acks per phase.
func NewManager(self chain.NodeId, quorum int) *Manager {
	return &Manager{self: self, quorum: quorum, instances: make(map[uint64]*Instance)}
}

func (m *Manager) instance(depth uint64) *Instance {
	inst, ok := m.instances[depth]
	if !ok {
		inst = newInstance(depth)
		m.instances[depth] = inst
	}
	return inst
}

// Instance exposes the current state for depth, so the Node can see whether
// a round is already in flight or decided; nil if no instance exists yet.
// The Deadline that Propose records is not checked anywhere: a round whose
// phase deadline passes is neither retried nor abandoned on that account
// (only a Nack triggers a retry).
func (m *Manager) Instance(depth uint64) (*Instance, bool) {
	inst, ok := m.instances[depth]
	return inst, ok
}

// Discard drops the instance for depth once it has been committed, freeing
// its memory.
func (m *Manager) Discard(depth uint64) {
	delete(m.instances, depth)
}

// Propose starts (or restarts, with a strictly higher round) a proposer
// round for depth with candidate as the value, picking ballot
// (round, self). Returns the Prepare to broadcast.
func (m *Manager) Propose(depth uint64, candidate chain.Block, round uint64, deadline time.Time) (*Instance, Prepare) {
	inst := m.instance(depth)
	ballot := Ballot{Round: round, Proposer: m.self}
	inst.resetProposerRound(ballot, &candidate, deadline)
	return inst, Prepare{Depth: depth, Ballot: ballot}
}

// HandlePrepare implements the acceptor side of phase 1:
// promise if b beats the highest promised ballot, else NACK with that
// ballot.
func (m *Manager) HandlePrepare(req Prepare) (*Promise, *Nack) {
	inst := m.instance(req.Depth)
	if inst.Decided != nil {
		// Already decided: still answer truthfully so a straggling
		// proposer converges immediately instead of timing out.
		return &Promise{Depth: req.Depth, Ballot: req.Ballot, Accepted: &AcceptedValue{Ballot: req.Ballot, Value: *inst.Decided}}, nil
	}
	if !req.Ballot.Greater(inst.HighestPromised) {
		return nil, &Nack{Depth: req.Depth, Highest: inst.HighestPromised}
	}
	inst.HighestPromised = req.Ballot
	return &Promise{Depth: req.Depth, Ballot: req.Ballot, Accepted: inst.HighestAccepted}, nil
}

// HandlePromise folds in a Promise reply to our current proposer round.
// Once a quorum of promises for the current ballot has arrived, it returns
// the Accept message to broadcast next, choosing the accepted value of the
// highest ballot among the promises if any carried one, else our own
// candidate.
func (m *Manager) HandlePromise(from chain.NodeId, p Promise) (*Accept, bool) {
	inst := m.instance(p.Depth)
	if inst.Phase != PhasePreparing || p.Ballot != inst.Ballot {
		return nil, false // stale reply for an abandoned round
	}
	if inst.PromiseAny[from] {
		return nil, false // duplicate
	}
	inst.PromiseAny[from] = true
	if p.Accepted != nil {
		inst.Promises[from] = p.Accepted
	}

	if len(inst.PromiseAny) < m.quorum {
		return nil, false
	}

	value := *inst.Candidate
	var highest *AcceptedValue
	for _, av := range inst.Promises {
		if highest == nil || av.Ballot.Greater(highest.Ballot) {
			highest = av
		}
	}
	if highest != nil {
		value = highest.Value
	}

	inst.Phase = PhaseAccepting
	inst.Acks = make(map[chain.NodeId]bool)
	inst.ChosenValue = &value
	return &Accept{Depth: p.Depth, Ballot: inst.Ballot, Value: value}, true
}

// HandleAccept implements the acceptor side of phase 2: store (ballot,
// value) as highest accepted if the ballot is at least the highest
// promised, else NACK.
func (m *Manager) HandleAccept(req Accept) (*Accepted, *Nack) {
	inst := m.instance(req.Depth)
	if inst.Decided != nil {
		return &Accepted{Depth: req.Depth, Ballot: req.Ballot}, nil
	}
	if req.Ballot.Less(inst.HighestPromised) {
		return nil, &Nack{Depth: req.Depth, Highest: inst.HighestPromised}
	}
	inst.HighestPromised = req.Ballot
	inst.HighestAccepted = &AcceptedValue{Ballot: req.Ballot, Value: req.Value}
	return &Accepted{Depth: req.Depth, Ballot: req.Ballot}, nil
}

// HandleAccepted folds in an Accepted reply to our current proposer round.
// Once a quorum lands, returns the Decide to broadcast and marks the
// instance decided.
func (m *Manager) HandleAccepted(from chain.NodeId, a Accepted) (*Decide, bool) {
	inst := m.instance(a.Depth)
	if inst.Phase != PhaseAccepting || a.Ballot != inst.Ballot {
		return nil, false
	}
	inst.Acks[from] = true
	if len(inst.Acks) < m.quorum {
		return nil, false
	}
	value := *inst.Candidate
	if inst.ChosenValue != nil {
		value = *inst.ChosenValue
	}
	inst.Phase = PhaseDecided
	inst.Decided = &value
	return &Decide{Depth: a.Depth, Value: value}, true
}

// HandleDecide applies an externally-decided value: any peer receiving
// DECIDE for a depth it has not yet committed applies the commit rule.
// Returns false if this depth was already decided locally; a repeated
// Decide for it is then a no-op, whatever value it carries.
func (m *Manager) HandleDecide(d Decide) bool {
	inst := m.instance(d.Depth)
	if inst.Decided != nil {
		return false
	}
	inst.Phase = PhaseDecided
	value := d.Value
	inst.Decided = &value
	return true
}

// HandleNack applies the conflict-handling rule: abandon if the instance
// is already decided, else retry with a strictly higher round than the
// one the NACK reported. Returns the round to retry with; the caller
// (Node) is responsible for the randomized back-off delay before calling
// Propose again.
func (m *Manager) HandleNack(n Nack) (retryRound uint64, shouldRetry bool) {
	inst := m.instance(n.Depth)
	if inst.Decided != nil {
		return 0, false
	}
	return n.Highest.Round + 1, true
}

// Quorum reports the quorum size this manager was built with.
func (m *Manager) Quorum() int {
	return m.quorum
}
