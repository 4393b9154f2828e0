package node

import (
	"time"

	"github.com/Rustem/piChain/internal/chain"
	"github.com/Rustem/piChain/internal/transport"
)

// handleMessage dispatches a single inbound transport message to the
// right handler. This is the only place inbound wire events enter the
// state machine, running exclusively on the event-loop goroutine.
func (n *Node) handleMessage(msg transport.Message) {
	switch m := msg.(type) {
	case transport.TxnMsg:
		n.handleTxn(m)
	case transport.BlockMsg:
		n.handleBlock(m)
	case transport.PrepareMsg:
		n.handlePrepare(m)
	case transport.PromiseMsg:
		n.handlePromise(m)
	case transport.AcceptMsg:
		n.handleAccept(m)
	case transport.AcceptedMsg:
		n.handleAccepted(m)
	case transport.NackMsg:
		n.handleNack(m)
	case transport.DecideMsg:
		n.handleDecide(m)
	case transport.PingMsg:
		// liveness only, nothing to do.
	case transport.BackfillRequestMsg:
		n.handleBackfillRequest(m)
	case transport.BackfillResponseMsg:
		n.handleBackfillResponse(m)
	default:
		n.log.Warnf("dropping message of unknown type %T", msg)
	}
}

func (n *Node) handleTxn(m transport.TxnMsg) {
	if n.store.Emitted(m.Txn.ID()) {
		return
	}
	if !n.pool.Add(m.Txn) {
		return
	}
	if n.role == chain.RoleQuick {
		n.createAndPropose()
		return
	}
	n.rearmPatience()
}

func (n *Node) handleBlock(m transport.BlockMsg) {
	b := m.Block
	if n.store.Has(b.BlockID) {
		return
	}
	if err := n.store.Insert(b); err != nil {
		if err == chain.ErrMissingParent {
			n.requestBackfill(b.ParentHash, m.H.From)
			n.stashBlock(b)
			return
		}
		n.log.Warnf("inserting block at depth %d from %d: %v", b.Depth, b.Creator, err)
		return
	}

	if b.CreatorRoleAtCreation == chain.RoleQuick {
		peer := b.Creator
		n.quickPeer = &peer
	}
	n.pool.Remove(b.Transactions)
	n.onBlockReceived(b)
	n.rearmPatience()
}

func (n *Node) handlePrepare(m transport.PrepareMsg) {
	promise, nack := n.paxosM.HandlePrepare(prepareFromMsg(m))
	if nack != nil {
		n.send(m.H.From, transport.NackMsg{Depth: nack.Depth, Highest: nack.Highest})
		return
	}
	reply := transport.PromiseMsg{Depth: promise.Depth, Ballot: promise.Ballot}
	if promise.Accepted != nil {
		reply.HasAccepted = true
		reply.AcceptedBallot = promise.Accepted.Ballot
		reply.AcceptedValue = promise.Accepted.Value
	}
	n.send(m.H.From, reply)
}

func (n *Node) handlePromise(m transport.PromiseMsg) {
	promise := promiseFromMsg(m)
	accept, ready := n.paxosM.HandlePromise(m.H.From, promise)
	if !ready {
		return
	}
	if err := n.trans.Broadcast(transport.AcceptMsg{Depth: accept.Depth, Ballot: accept.Ballot, Value: accept.Value}); err != nil {
		n.log.Warnf("broadcasting accept for depth %d: %v", accept.Depth, err)
	}
}

func (n *Node) handleAccept(m transport.AcceptMsg) {
	accepted, nack := n.paxosM.HandleAccept(acceptFromMsg(m))
	if nack != nil {
		n.send(m.H.From, transport.NackMsg{Depth: nack.Depth, Highest: nack.Highest})
		return
	}
	n.send(m.H.From, transport.AcceptedMsg{Depth: accepted.Depth, Ballot: accepted.Ballot})
}

func (n *Node) handleAccepted(m transport.AcceptedMsg) {
	decide, ready := n.paxosM.HandleAccepted(m.H.From, acceptedFromMsg(m))
	if !ready {
		return
	}
	if err := n.trans.Broadcast(transport.DecideMsg{Depth: decide.Depth, Value: decide.Value}); err != nil {
		n.log.Warnf("broadcasting decide for depth %d: %v", decide.Depth, err)
	}
}

func (n *Node) handleDecide(m transport.DecideMsg) {
	if !n.paxosM.HandleDecide(decideFromMsg(m)) {
		return
	}
	value := m.Value

	if err := n.store.Insert(value); err != nil {
		if err == chain.ErrMissingParent {
			n.pendingDecisions[value.Depth] = value
			n.requestBackfill(value.ParentHash, m.H.From)
			return
		}
		n.log.Warnf("inserting decided block at depth %d: %v", value.Depth, err)
		return
	}
	n.pendingDecisions[value.Depth] = value
	delete(n.catchingUp, value.Depth)
	n.onBlockReceived(value)
	n.catchUp(value)
	n.rearmPatience()
}

// retryRequest carries a Nack-triggered retry back onto the event-loop
// goroutine; the backoff timer that produces it runs on its own goroutine,
// so it must never touch Node state directly.
type retryRequest struct {
	depth     uint64
	candidate chain.Block
	round     uint64
}

func (n *Node) handleNack(m transport.NackMsg) {
	round, retry := n.paxosM.HandleNack(nackFromMsg(m))
	if !retry {
		return
	}
	inst, ok := n.paxosM.Instance(m.Depth)
	if !ok || inst.Candidate == nil {
		return // we are not the proposer for this depth; the NACK wasn't meant for us
	}
	candidate := *inst.Candidate
	delay := time.Duration(n.rnd.Int63n(int64(n.rtt))) + n.rtt
	req := retryRequest{depth: m.Depth, candidate: candidate, round: round}
	time.AfterFunc(delay, func() {
		select {
		case n.retryCh <- req:
		case <-n.quit:
		}
	})
}

func (n *Node) send(to chain.NodeId, msg transport.Message) {
	if err := n.trans.Send(to, msg); err != nil {
		n.log.Warnf("sending %T to %d: %v", msg, to, err)
	}
}
