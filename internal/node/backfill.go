package node

import (
	"time"

	"github.com/Rustem/piChain/internal/chain"
	"github.com/Rustem/piChain/internal/transport"
)

// maxBackfillBlocks bounds a single backfill response so a deep,
// long-diverged peer can't force its responder to walk (and send) the
// entire chain in one reply; the requester simply asks again for
// whatever ancestor is still missing once it has processed this batch.
const maxBackfillBlocks = 64

// backfillEntry tracks one outstanding "I'm missing this ancestor" request:
// who we've already asked, what arrived depending on it, and the retry
// timer that picks a different peer if nobody answers in time.
type backfillEntry struct {
	want          chain.Hash
	asked         map[chain.NodeId]bool
	waitingBlocks []chain.Block
	timer         *time.Timer
}

// requestBackfill asks preferred for the block identified by missing, or
// joins an already-outstanding request for the same hash.
func (n *Node) requestBackfill(missing chain.Hash, preferred chain.NodeId) {
	if n.store.Has(missing) {
		return
	}
	entry, ok := n.backfill[missing]
	if !ok {
		entry = &backfillEntry{want: missing, asked: make(map[chain.NodeId]bool)}
		n.backfill[missing] = entry
	}
	n.sendBackfillRequest(entry, preferred)
}

func (n *Node) sendBackfillRequest(entry *backfillEntry, to chain.NodeId) {
	entry.asked[to] = true
	n.send(to, transport.BackfillRequestMsg{Want: entry.want})
	want := entry.want
	entry.timer = time.AfterFunc(backfillTimeout, func() {
		select {
		case n.backfillRetryCh <- want:
		case <-n.quit:
		}
	})
}

// onBackfillTimeout fires on the event-loop goroutine when a backfill
// request goes unanswered; it picks an untried peer, or gives up and drops
// the entry, together with any blocks stashed under it, if every peer has
// already been asked.
func (n *Node) onBackfillTimeout(want chain.Hash) {
	entry, ok := n.backfill[want]
	if !ok || n.store.Has(want) {
		return
	}
	for _, id := range n.cluster.PeerIDs() {
		if id == n.id || entry.asked[id] {
			continue
		}
		n.sendBackfillRequest(entry, id)
		return
	}
	n.log.WithField("component", "backfill").Warnf("backfill for %x exhausted every peer, giving up for now", want[:4])
	delete(n.backfill, want)
}

// stashBlock holds b until its parent arrives via backfill.
func (n *Node) stashBlock(b chain.Block) {
	entry, ok := n.backfill[b.ParentHash]
	if !ok {
		entry = &backfillEntry{want: b.ParentHash, asked: make(map[chain.NodeId]bool)}
		n.backfill[b.ParentHash] = entry
	}
	entry.waitingBlocks = append(entry.waitingBlocks, b)
}

func (n *Node) handleBackfillRequest(m transport.BackfillRequestMsg) {
	want, ok := n.store.Get(m.Want)
	if !ok {
		return
	}
	genesis := n.store.Genesis()
	full, err := n.store.Ancestors(want.BlockID, genesis.BlockID)
	if err != nil {
		n.log.WithField("component", "backfill").WithField("depth", want.Depth).
			WithError(err).Warnf("backfill request for %x", m.Want[:4])
		return
	}
	start := 0
	if len(full) > maxBackfillBlocks {
		start = len(full) - maxBackfillBlocks
	}
	n.send(m.H.From, transport.BackfillResponseMsg{Blocks: full[start:]})
}

func (n *Node) handleBackfillResponse(m transport.BackfillResponseMsg) {
	for _, b := range m.Blocks {
		if n.store.Has(b.BlockID) {
			continue
		}
		if err := n.store.Insert(b); err != nil {
			continue // parent still missing; a further request will cover it
		}
		n.onBlockReceived(b)
	}

	for hash, entry := range n.backfill {
		if n.store.Has(hash) {
			n.resolveBackfillEntry(entry)
			delete(n.backfill, hash)
		}
	}
	n.retryPendingDecisions()
	n.rearmPatience()
}

func (n *Node) resolveBackfillEntry(entry *backfillEntry) {
	if entry.timer != nil {
		entry.timer.Stop()
	}
	for _, b := range entry.waitingBlocks {
		if n.store.Has(b.BlockID) {
			continue
		}
		if err := n.store.Insert(b); err != nil {
			if err == chain.ErrMissingParent {
				n.stashBlock(b)
			}
			continue
		}
		if b.CreatorRoleAtCreation == chain.RoleQuick {
			peer := b.Creator
			n.quickPeer = &peer
		}
		n.pool.Remove(b.Transactions)
		n.onBlockReceived(b)
	}
}

// retryPendingDecisions re-attempts inserting every still-pending decided
// value once a backfill response may have supplied its missing ancestry.
func (n *Node) retryPendingDecisions() {
	for depth, value := range n.pendingDecisions {
		if n.store.Has(value.BlockID) {
			continue
		}
		if err := n.store.Insert(value); err != nil {
			continue
		}
		n.onBlockReceived(value)
		n.catchUp(value)
		delete(n.catchingUp, depth)
	}
	n.tryApplyPending()
}
