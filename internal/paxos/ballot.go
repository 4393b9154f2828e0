// Package paxos implements the classical Paxos round used as the safety
// fallback: one logical instance per commit depth, re-used across
// successive commit slots. The package is pure state: it
// takes incoming protocol messages and returns the messages that should be
// sent next, performing no I/O and owning no timers itself, so the single
// event loop in internal/node stays the only place that touches a socket or
// a clock.
package paxos

import (
	"fmt"

	"github.com/Rustem/piChain/internal/chain"
)

// Ballot is the totally-ordered (round, proposer) pair: round is bumped on
// conflict, proposer NodeId breaks exact-round ties.
type Ballot struct {
	Round    uint64
	Proposer chain.NodeId
}

// Zero is the ballot below every real ballot a proposer will ever pick.
var Zero = Ballot{}

// Less reports whether b sorts strictly before other.
func (b Ballot) Less(other Ballot) bool {
	if b.Round != other.Round {
		return b.Round < other.Round
	}
	return b.Proposer < other.Proposer
}

// AtLeast reports whether b is other or comes after it.
func (b Ballot) AtLeast(other Ballot) bool {
	return !b.Less(other)
}

// Greater reports whether b sorts strictly after other.
func (b Ballot) Greater(other Ballot) bool {
	return other.Less(b)
}

func (b Ballot) String() string {
	return fmt.Sprintf("(round=%d,proposer=%d)", b.Round, b.Proposer)
}
