package node

import (
	"time"

	"github.com/Rustem/piChain/internal/chain"
	"github.com/Rustem/piChain/internal/paxos"
	"github.com/Rustem/piChain/internal/transport"
)

// handleSubmit is the entry point for a client-submitted transaction. A
// quick peer acts on it immediately (patience is zero); anyone else either
// forwards it to the known quick peer or, failing that, broadcasts it and
// waits out its own patience window.
func (n *Node) handleSubmit(req submitRequest) {
	if n.store.Emitted(req.txn.ID()) {
		req.ack <- Ack{Committed: true}
		return
	}
	n.registerObserver(req.txn.ID(), req.ack)

	if !n.pool.Add(req.txn) {
		return // already pending; the observer registered above fires once it commits
	}

	if n.role == chain.RoleQuick {
		n.createAndPropose()
		return
	}

	if n.quickPeer != nil {
		if err := n.trans.Send(*n.quickPeer, transport.TxnMsg{Txn: req.txn}); err == nil {
			return
		}
		n.log.Warnf("forwarding txn to quick peer %d failed, broadcasting instead", *n.quickPeer)
	}
	if err := n.trans.Broadcast(transport.TxnMsg{Txn: req.txn}); err != nil {
		n.log.Warnf("broadcasting txn failed: %v", err)
	}
}

// onPatienceExpired fires when no state-changing event has reset the
// patience timer for this role's delay window. A quick peer re-arms
// immediately (there is nothing to wait on). A medium/slow peer with
// pending transactions takes its turn at proposing.
func (n *Node) onPatienceExpired() {
	if n.role == chain.RoleQuick {
		n.rearmPatience()
		return
	}
	if n.pool.Len() == 0 {
		n.rearmPatience()
		return
	}
	n.createAndPropose()
}

// createAndPropose builds a block extending the current head from
// everything in the pool, inserts it locally, disseminates it, and starts
// a Paxos round to commit it.
func (n *Node) createAndPropose() {
	head := n.store.Head()
	txns := n.pool.Drain()
	if len(txns) == 0 {
		return
	}

	block := chain.NewBlock(n.id, head.BlockID, head.Depth+1, n.role, txns)
	blockLog := n.log.WithField("component", "propose").WithField("depth", block.Depth)
	if err := n.store.Insert(block); err != nil {
		blockLog.WithError(err).Errorf("inserting own block at depth %d", block.Depth)
		for _, txn := range txns {
			n.pool.Add(txn)
		}
		return
	}

	n.ownLatestBlockDepth = int64(block.Depth)
	n.onLocalBlockCreated()

	if err := n.trans.Broadcast(transport.BlockMsg{Block: block}); err != nil {
		blockLog.WithError(err).Warnf("broadcasting block at depth %d", block.Depth)
	}

	n.startProposerRound(block.Depth, block, 1)
	n.rearmPatience()
}

func (n *Node) startProposerRound(depth uint64, candidate chain.Block, round uint64) {
	depthLog := n.log.WithField("component", "paxos").WithField("depth", depth)
	_, prepare := n.paxosM.Propose(depth, candidate, round, time.Now().Add(prepareDeadline))
	if err := n.trans.Broadcast(transport.PrepareMsg{Depth: prepare.Depth, Ballot: prepare.Ballot}); err != nil {
		depthLog.WithError(err).Warnf("broadcasting prepare for depth %d", depth)
	}
}

// catchUp ensures every uncommitted ancestor of value has an active or
// decided Paxos round, in ascending depth order, then tries to apply as
// many contiguous decisions as are now available. This is what lets a
// peer that missed intervening depths converge: it does not wait
// passively, it drives Paxos for the gap itself.
func (n *Node) catchUp(value chain.Block) {
	ancestors, err := n.store.UncommittedAncestors(value)
	if err != nil {
		n.log.WithField("component", "catchup").WithField("depth", value.Depth).
			WithError(err).Warnf("catch-up: computing uncommitted ancestors of depth %d", value.Depth)
		return
	}

	for _, anc := range ancestors {
		if _, ok := n.pendingDecisions[anc.Depth]; ok {
			continue
		}
		inst, exists := n.paxosM.Instance(anc.Depth)
		if exists && inst.Decided != nil {
			n.pendingDecisions[anc.Depth] = *inst.Decided
			continue
		}
		if exists && inst.Phase != paxos.PhaseIdle {
			continue // a round is already in flight for this depth
		}
		if n.catchingUp[anc.Depth] {
			continue
		}
		n.catchingUp[anc.Depth] = true
		n.startProposerRound(anc.Depth, anc, 1)
	}

	n.tryApplyPending()
}

// tryApplyPending commits every decided depth that is now contiguous with
// the committed tip, applying transactions to the replicated map and
// acking observers as it goes, strictly in increasing depth order.
func (n *Node) tryApplyPending() {
	for {
		committed := n.store.Committed()
		next := committed.Depth + 1
		value, ok := n.pendingDecisions[next]
		if !ok {
			return
		}
		if value.ParentHash != committed.BlockID {
			// Waiting on an intermediate depth's decision to land first.
			return
		}

		emitted, err := n.store.Commit(value)
		if err != nil {
			n.log.WithField("component", "commit").WithField("depth", next).
				WithError(err).Errorf("committing depth %d", next)
			return
		}
		delete(n.pendingDecisions, next)
		delete(n.catchingUp, next)
		n.paxosM.Discard(next)
		n.pool.Remove(value.Transactions)

		for _, txn := range emitted {
			if err := n.kvState.Apply(txn.Payload); err != nil {
				n.log.Warnf("applying committed payload for %v: %v", txn.ID(), err)
			}
			n.ackObservers(txn.ID(), Ack{Committed: true})
		}

		head := n.store.Head()
		if _, err := n.store.Ancestors(head.BlockID, value.BlockID); err != nil {
			// The preferred head is not a descendant of what just committed:
			// it was built on a fork that lost. Abandon it so the next
			// proposal (or an incoming deeper chain) starts from the
			// committed tip instead of extending dead history.
			n.log.Infof("discarding abandoned head at depth %d in favor of committed depth %d", head.Depth, value.Depth)
			n.store.DiscardUncommitted()
		}

		n.rearmPatience()
	}
}

func (n *Node) registerObserver(id chain.TxID, ack chan Ack) {
	n.observers[id] = append(n.observers[id], ack)
}

func (n *Node) ackObservers(id chain.TxID, result Ack) {
	for _, ch := range n.observers[id] {
		ch <- result
	}
	delete(n.observers, id)
}
