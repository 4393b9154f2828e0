package paxos

import "github.com/Rustem/piChain/internal/chain"

// Prepare is phase 1: the proposer picks a ballot and sends it to every
// peer, including itself.
type Prepare struct {
	Depth  uint64
	Ballot Ballot
}

// AcceptedValue pairs the ballot a value was accepted under with the value
// itself, carried inside a Promise when the acceptor has one.
type AcceptedValue struct {
	Ballot Ballot
	Value  chain.Block
}

// Promise is an acceptor's phase-1 reply when it has not yet promised a
// higher ballot. Accepted is nil if the acceptor has never accepted a value
// for this depth.
type Promise struct {
	Depth    uint64
	Ballot   Ballot
	Accepted *AcceptedValue
}

// Nack is returned instead of Promise/Accepted whenever the acceptor's
// highest-promised ballot beats the one in the request; it carries that
// higher ballot so the proposer can pick a strictly greater one.
type Nack struct {
	Depth   uint64
	Highest Ballot
}

// Accept is phase 2: the proposer broadcasts the chosen value under the
// ballot that won quorum in phase 1.
type Accept struct {
	Depth  uint64
	Ballot Ballot
	Value  chain.Block
}

// Accepted is an acceptor's phase-2 reply confirming it stored (Ballot,
// Value) as its highest accepted pair.
type Accepted struct {
	Depth  uint64
	Ballot Ballot
}

// Decide is broadcast once a quorum of Accepted replies lands. Any peer
// receiving Decide for a depth it has not yet committed applies the
// commit rule for that depth.
type Decide struct {
	Depth uint64
	Value chain.Block
}
