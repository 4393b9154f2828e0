package paxos

import (
	"testing"
	"time"

	"github.com/Rustem/piChain/internal/chain"
)

func block(depth uint64, creator chain.NodeId) chain.Block {
	return chain.NewBlock(creator, chain.ZeroHash, depth, chain.RoleQuick, nil)
}

func TestBallotOrdering(t *testing.T) {
	low := Ballot{Round: 1, Proposer: 2}
	high := Ballot{Round: 1, Proposer: 3}
	higher := Ballot{Round: 2, Proposer: 0}

	if !low.Less(high) {
		t.Errorf("expected round ties to break on proposer id")
	}
	if !high.Less(higher) {
		t.Errorf("expected a higher round to sort after a lower one regardless of proposer")
	}
	if !higher.Greater(low) {
		t.Errorf("Greater should be the mirror of Less")
	}
	if !low.AtLeast(low) {
		t.Errorf("a ballot should be AtLeast itself")
	}
}

func TestProposeFullQuorumRoundTrip(t *testing.T) {
	quorum := 2
	m := NewManager(0, quorum)
	candidate := block(1, 0)

	_, prepare := m.Propose(1, candidate, 1, time.Now().Add(time.Second))
	if prepare.Ballot.Round != 1 || prepare.Ballot.Proposer != 0 {
		t.Fatalf("unexpected prepare ballot %+v", prepare.Ballot)
	}

	acceptor1 := NewManager(1, quorum)
	promise1, nack1 := acceptor1.HandlePrepare(Prepare{Depth: 1, Ballot: prepare.Ballot})
	if nack1 != nil {
		t.Fatalf("unexpected nack from acceptor 1: %+v", nack1)
	}

	accept, ready := m.HandlePromise(1, *promise1)
	if ready {
		t.Fatalf("should not be ready after only one of two promises")
	}

	accept, ready = m.HandlePromise(0, Promise{Depth: 1, Ballot: prepare.Ballot}) // self-promise
	if !ready {
		t.Fatalf("expected quorum reached after self + peer promise")
	}
	if accept.Value.BlockID != candidate.BlockID {
		t.Fatalf("expected accept to carry the original candidate when nobody had a prior accepted value")
	}

	accepted1, nack2 := acceptor1.HandleAccept(Accept{Depth: 1, Ballot: accept.Ballot, Value: accept.Value})
	if nack2 != nil {
		t.Fatalf("unexpected nack on accept: %+v", nack2)
	}

	decide, ready := m.HandleAccepted(1, *accepted1)
	if ready {
		t.Fatalf("should not decide on only one of two acks")
	}
	decide, ready = m.HandleAccepted(0, Accepted{Depth: 1, Ballot: accept.Ballot}) // self-ack
	if !ready {
		t.Fatalf("expected decision once quorum of accepteds lands")
	}
	if decide.Value.BlockID != candidate.BlockID {
		t.Fatalf("decided value should be the proposed candidate")
	}
}

func TestHandlePrepareNacksLowerBallot(t *testing.T) {
	m := NewManager(1, 2)
	high := Ballot{Round: 5, Proposer: 9}
	if _, nack := m.HandlePrepare(Prepare{Depth: 1, Ballot: high}); nack != nil {
		t.Fatalf("unexpected nack for the first, highest-so-far prepare: %+v", nack)
	}

	low := Ballot{Round: 3, Proposer: 9}
	promise, nack := m.HandlePrepare(Prepare{Depth: 1, Ballot: low})
	if nack == nil {
		t.Fatalf("expected a nack for a prepare below the highest promised ballot")
	}
	if promise != nil {
		t.Fatalf("should not return both a promise and a nack")
	}
	if nack.Highest != high {
		t.Fatalf("nack should report the current highest promised ballot, got %+v", nack.Highest)
	}
}

func TestHandlePromiseCarriesForwardHighestAcceptedValue(t *testing.T) {
	m := NewManager(2, 3)
	losing := block(1, 7)
	winning := block(1, 8)

	_, prepare := m.Propose(1, losing, 5, time.Now().Add(time.Second))

	m.HandlePromise(2, Promise{Depth: 1, Ballot: prepare.Ballot}) // self, no prior accepted value
	m.HandlePromise(0, Promise{Depth: 1, Ballot: prepare.Ballot,
		Accepted: &AcceptedValue{Ballot: Ballot{Round: 3, Proposer: 0}, Value: winning}})
	accept, ready := m.HandlePromise(1, Promise{Depth: 1, Ballot: prepare.Ballot,
		Accepted: &AcceptedValue{Ballot: Ballot{Round: 4, Proposer: 1}, Value: winning}})

	if !ready {
		t.Fatalf("expected quorum of 3 promises to trigger readiness")
	}
	if accept.Value.BlockID != winning.BlockID {
		t.Fatalf("expected the proposer to adopt the highest-ballot accepted value, not its own candidate")
	}
}

func TestHandleNackRetriesWithHigherRound(t *testing.T) {
	m := NewManager(0, 2)
	m.Propose(1, block(1, 0), 1, time.Now().Add(time.Second))

	round, retry := m.HandleNack(Nack{Depth: 1, Highest: Ballot{Round: 4, Proposer: 3}})
	if !retry {
		t.Fatalf("expected a retry signal for an undecided instance")
	}
	if round != 5 {
		t.Fatalf("expected retry round 5 (one above the reported highest), got %d", round)
	}
}

func TestHandleNackAbandonsDecidedInstance(t *testing.T) {
	m := NewManager(0, 2)
	m.HandleDecide(Decide{Depth: 1, Value: block(1, 0)})

	_, retry := m.HandleNack(Nack{Depth: 1, Highest: Ballot{Round: 9, Proposer: 1}})
	if retry {
		t.Fatalf("should never retry an already-decided instance")
	}
}

func TestHandleDecideIsIdempotent(t *testing.T) {
	m := NewManager(0, 2)
	b := block(1, 0)

	if !m.HandleDecide(Decide{Depth: 1, Value: b}) {
		t.Fatalf("first decide should report a fresh decision")
	}
	if m.HandleDecide(Decide{Depth: 1, Value: b}) {
		t.Fatalf("repeating the same decide should be a no-op")
	}
}

func TestDiscardDropsInstanceState(t *testing.T) {
	m := NewManager(0, 2)
	m.Propose(1, block(1, 0), 1, time.Now().Add(time.Second))
	if _, ok := m.Instance(1); !ok {
		t.Fatalf("expected an instance to exist after Propose")
	}
	m.Discard(1)
	if _, ok := m.Instance(1); ok {
		t.Fatalf("expected Discard to remove the instance")
	}
}
