package paxos

import (
	"time"

	"github.com/Rustem/piChain/internal/chain"
)

// Phase tracks where a single depth's instance currently sits, so the
// owning Node can tell whether a proposer round is already in flight.
type Phase int

const (
	// PhaseIdle: no proposer activity for this depth locally, though this
	// peer may still answer as acceptor.
	PhaseIdle Phase = iota
	PhasePreparing
	PhaseAccepting
	PhaseDecided
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhasePreparing:
		return "preparing"
	case PhaseAccepting:
		return "accepting"
	case PhaseDecided:
		return "decided"
	default:
		return "unknown"
	}
}

// Instance is the per-commit-depth Paxos state: a proposer side (current
// ballot, candidate, promises/acks received) and an acceptor side (highest
// promised ballot, highest accepted pair), coexisting
// because every peer plays both roles simultaneously.
type Instance struct {
	Depth uint64

	// Proposer side.
	Phase       Phase
	Ballot      Ballot
	Candidate   *chain.Block
	ChosenValue *chain.Block // resolved once phase 1 quorum lands; what phase 2 actually proposes
	Promises    map[chain.NodeId]*AcceptedValue
	PromiseAny  map[chain.NodeId]bool // peers that replied, even with no accepted value
	Acks        map[chain.NodeId]bool
	Deadline    time.Time

	// Acceptor side.
	HighestPromised Ballot
	HighestAccepted *AcceptedValue

	// Shared outcome: once non-nil, this depth is decided everywhere this
	// peer is concerned and the instance is ready to be discarded once the
	// commit rule has applied it.
	Decided *chain.Block
}

func newInstance(depth uint64) *Instance {
	return &Instance{
		Depth:      depth,
		Phase:      PhaseIdle,
		Promises:   make(map[chain.NodeId]*AcceptedValue),
		PromiseAny: make(map[chain.NodeId]bool),
		Acks:       make(map[chain.NodeId]bool),
	}
}

func (i *Instance) resetProposerRound(b Ballot, candidate *chain.Block, deadline time.Time) {
	i.Phase = PhasePreparing
	i.Ballot = b
	i.Candidate = candidate
	i.Promises = make(map[chain.NodeId]*AcceptedValue)
	i.PromiseAny = make(map[chain.NodeId]bool)
	i.Acks = make(map[chain.NodeId]bool)
	i.Deadline = deadline
}
