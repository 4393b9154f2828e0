// Package node implements the role state machine and the single event
// loop that owns the local chain, pool and Paxos state.
// Node is the sole mutator of durable state; every other component
// (transport, client) only ever hands events to it through channels.
package node

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/Rustem/piChain/internal/chain"
	"github.com/Rustem/piChain/internal/config"
	"github.com/Rustem/piChain/internal/kv"
	"github.com/Rustem/piChain/internal/logging"
	"github.com/Rustem/piChain/internal/paxos"
	"github.com/Rustem/piChain/internal/storage"
	"github.com/Rustem/piChain/internal/transport"
)

// Defaults for the patience timeouts that gate when a medium or slow peer
// takes its turn at proposing. These are tune-empirically values, not
// protocol constants; a real deployment would measure its actual
// round-trip and set RTTEstimate accordingly.
const (
	DefaultRTTEstimate = 50 * time.Millisecond
	DefaultJitterMax   = 200 * time.Millisecond

	mediumMultiplier = 5
	slowMultiplier   = 10

	prepareDeadline = 300 * time.Millisecond
	acceptDeadline  = 300 * time.Millisecond
	backfillTimeout = 500 * time.Millisecond
)

// Ack is delivered back to a Submit caller once its transaction's fate is
// known: either committed, or the submission failed outright (the node
// was shutting down).
type Ack struct {
	Committed bool
	Err       error
}

// Config wires together everything a Node needs; all fields are required
// except RTTEstimate/JitterMax which fall back to the defaults above.
type Config struct {
	ID          chain.NodeId
	Cluster     *config.Cluster
	Storage     storage.Storage
	Transport   transport.Transport
	Log         logging.Logger
	RTTEstimate time.Duration
	JitterMax   time.Duration
}

type submitRequest struct {
	txn  chain.Transaction
	ack  chan Ack
}

type getRequest struct {
	key   []byte
	reply chan getReply
}

type getReply struct {
	value []byte
	found bool
}

// Node is a single cluster member: the role state machine plus its view of
// the chain, the pool, and the Paxos instances currently in flight.
type Node struct {
	id      chain.NodeId
	cluster *config.Cluster
	log     logging.Logger

	rtt       time.Duration
	jitterMax time.Duration
	rnd       *rand.Rand

	store   *chain.Store
	pool    *chain.Pool
	kvState *kv.State
	paxosM  *paxos.Manager
	trans   transport.Transport

	role               chain.Role
	ownLatestBlockDepth int64 // -1 until this peer has created a block
	quickPeer          *chain.NodeId

	pendingDecisions map[uint64]chain.Block
	catchingUp       map[uint64]bool

	observers map[chain.TxID][]chan Ack

	backfill map[chain.Hash]*backfillEntry

	submitCh   chan submitRequest
	getCh      chan getRequest
	testRoleCh chan chain.Role
	retryCh    chan retryRequest
	backfillRetryCh chan chain.Hash

	patienceTimer *time.Timer
	quit          chan struct{}
	done          chan struct{}

	mu sync.Mutex // guards only what Get/testhook touch from other goroutines
}

// New constructs a Node and loads its chain store from storage. The role
// starts slow, except when cluster.Bootstrap is set and this is peer 0,
// which starts quick so a fresh cluster has an immediate leader.
func New(cfg Config) (*Node, error) {
	if cfg.RTTEstimate == 0 {
		cfg.RTTEstimate = DefaultRTTEstimate
	}
	if cfg.JitterMax == 0 {
		cfg.JitterMax = DefaultJitterMax
	}

	fresh := true
	if err := cfg.Storage.Iterate(storage.NamespaceBlocks, func(string, []byte) bool {
		fresh = false
		return false
	}); err != nil {
		return nil, err
	}

	store, err := chain.Open(cfg.Storage)
	if err != nil {
		return nil, err
	}

	// Bootstrap only ever applies to a genuinely empty store (no block
	// persisted yet, not even genesis): a crash-restarted peer always comes
	// back slow, even if it was the bootstrap quick peer before the crash,
	// per the role transition "crash recovery -> slow".
	role := chain.RoleSlow
	if cfg.Cluster.Bootstrap && cfg.ID == 0 && fresh {
		role = chain.RoleQuick
	}

	n := &Node{
		id:                  cfg.ID,
		cluster:             cfg.Cluster,
		log:                 cfg.Log,
		rtt:                 cfg.RTTEstimate,
		jitterMax:           cfg.JitterMax,
		rnd:                 rand.New(rand.NewSource(int64(cfg.ID) + 1)),
		store:               store,
		pool:                chain.NewPool(),
		kvState:             kv.New(),
		paxosM:              paxos.NewManager(cfg.ID, cfg.Cluster.Quorum()),
		trans:               cfg.Transport,
		role:                role,
		ownLatestBlockDepth: -1,
		pendingDecisions:    make(map[uint64]chain.Block),
		catchingUp:          make(map[uint64]bool),
		observers:           make(map[chain.TxID][]chan Ack),
		backfill:            make(map[chain.Hash]*backfillEntry),
		submitCh:            make(chan submitRequest),
		getCh:               make(chan getRequest),
		testRoleCh:          make(chan chain.Role),
		retryCh:             make(chan retryRequest),
		backfillRetryCh:     make(chan chain.Hash),
		quit:                make(chan struct{}),
		done:                make(chan struct{}),
	}
	n.patienceTimer = time.NewTimer(n.patienceDuration())
	return n, nil
}

// Role reports the node's current role. Safe to call from any goroutine:
// it only ever reads a value written exclusively by the owning loop
// goroutine, so callers may see a stale value by one tick, which is
// acceptable for diagnostics/tests.
func (n *Node) Role() chain.Role {
	return n.role
}

// ID returns the node's id.
func (n *Node) ID() chain.NodeId { return n.id }

// Submit enqueues a client transaction and returns a channel that receives
// exactly one Ack once the transaction's containing block commits.
func (n *Node) Submit(txn chain.Transaction) <-chan Ack {
	ack := make(chan Ack, 1)
	select {
	case n.submitCh <- submitRequest{txn: txn, ack: ack}:
	case <-n.quit:
		ack <- Ack{Err: errShuttingDown}
	}
	return ack
}

// Get reads a committed value directly from local state.
func (n *Node) Get(key []byte) ([]byte, bool) {
	reply := make(chan getReply, 1)
	select {
	case n.getCh <- getRequest{key: key, reply: reply}:
	case <-n.quit:
		return nil, false
	}
	r := <-reply
	return r.value, r.found
}

// SetRoleForTest is the explicit scenario-harness hook for forcing a
// node's role in tests, instead of reaching into its unexported fields.
// It is never used outside tests.
func (n *Node) SetRoleForTest(r chain.Role) {
	select {
	case n.testRoleCh <- r:
	case <-n.quit:
	}
}

// Shutdown stops the event loop and blocks until it has exited.
func (n *Node) Shutdown() {
	select {
	case <-n.quit:
	default:
		close(n.quit)
	}
	<-n.done
}

// Run drives the single event loop until ctx is cancelled or Shutdown is
// called. All mutation of chain/pool/paxos state happens exclusively on
// this goroutine.
func (n *Node) Run(ctx context.Context) {
	defer close(n.done)
	defer n.patienceTimer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-n.quit:
			return

		case msg := <-n.trans.Inbox():
			n.handleMessage(msg)

		case req := <-n.submitCh:
			n.handleSubmit(req)

		case req := <-n.getCh:
			v, ok := n.kvState.Get(req.key)
			req.reply <- getReply{value: v, found: ok}

		case r := <-n.testRoleCh:
			n.log.Infof("role forced to %s by test hook", r)
			n.role = r

		case <-n.patienceTimer.C:
			n.onPatienceExpired()

		case r := <-n.retryCh:
			n.startProposerRound(r.depth, r.candidate, r.round)

		case want := <-n.backfillRetryCh:
			n.onBackfillTimeout(want)
		}
	}
}

var errShuttingDown = errors.New("node: shutting down")

// rearmPatience resets the patience timer to fire after the delay
// appropriate to the current role, measured from now.
func (n *Node) rearmPatience() {
	if !n.patienceTimer.Stop() {
		select {
		case <-n.patienceTimer.C:
		default:
		}
	}
	n.patienceTimer.Reset(n.patienceDuration())
}

func (n *Node) patienceDuration() time.Duration {
	switch n.role {
	case chain.RoleQuick:
		return time.Millisecond // effectively immediate, but non-zero so time.Timer accepts it
	case chain.RoleMedium:
		return mediumMultiplier * n.rtt
	default:
		jitter := time.Duration(0)
		if n.jitterMax > 0 {
			jitter = time.Duration(n.rnd.Int63n(int64(n.jitterMax)))
		}
		return slowMultiplier*n.rtt + jitter
	}
}
