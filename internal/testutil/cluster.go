// Package testutil provides the in-process cluster harness used by package
// tests and the scenario suite in fuzzy: a small set of Nodes wired with
// real PeerChannel transports and in-memory storage, each driven by its own
// Run goroutine, torn down together on Shutdown.
package testutil

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/Rustem/piChain/internal/chain"
	"github.com/Rustem/piChain/internal/config"
	"github.com/Rustem/piChain/internal/logging"
	"github.com/Rustem/piChain/internal/node"
	"github.com/Rustem/piChain/internal/storage"
	"github.com/Rustem/piChain/internal/transport"
)

// Cluster is a set of in-process piChain nodes sharing a cluster
// configuration, each with its own transport, storage and event loop.
type Cluster struct {
	Nodes []*node.Node

	cfg    *config.Cluster
	group  sync.WaitGroup
	mu     sync.Mutex
	trans  []transport.Transport
	stores []storage.Storage
	logs   []logging.Logger
	cancel []context.CancelFunc
}

// New builds a size-node cluster. Every test run gets a freshly generated
// group identity, so concurrently running tests never collide on the
// same transport exchange address.
func New(size int, bootstrap bool) (*Cluster, error) {
	cfg := &config.Cluster{
		Peers:     make(map[config.NodeId]config.PeerConfig),
		Bootstrap: bootstrap,
	}
	for i := 0; i < size; i++ {
		cfg.Peers[config.NodeId(i)] = config.PeerConfig{
			Host: "127.0.0.1",
			UUID: fmt.Sprintf("%s-%d", generateUID(), i),
		}
	}

	c := &Cluster{
		cfg:    cfg,
		trans:  make([]transport.Transport, size),
		stores: make([]storage.Storage, size),
		logs:   make([]logging.Logger, size),
		cancel: make([]context.CancelFunc, size),
	}

	for i := 0; i < size; i++ {
		if err := c.start(i, storage.NewMemoryStore()); err != nil {
			c.Shutdown()
			return nil, err
		}
	}

	return c, nil
}

// start wires and launches node idx against backing storage, growing
// c.Nodes if this is the first launch.
func (c *Cluster) start(idx int, backing storage.Storage) error {
	id := config.NodeId(idx)
	peerCluster := *c.cfg
	peerCluster.Self = id

	log := logging.NewSilent()
	trans, err := transport.NewPeerChannel(id, &peerCluster, log)
	if err != nil {
		return err
	}

	n, err := node.New(node.Config{
		ID:        id,
		Cluster:   &peerCluster,
		Storage:   backing,
		Transport: trans,
		Log:       log,
	})
	if err != nil {
		trans.Close()
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())

	c.mu.Lock()
	if idx < len(c.Nodes) {
		c.Nodes[idx] = n
	} else {
		c.Nodes = append(c.Nodes, n)
	}
	c.trans[idx] = trans
	c.stores[idx] = backing
	c.logs[idx] = log
	c.cancel[idx] = cancel
	c.mu.Unlock()

	c.group.Add(1)
	go func() {
		defer c.group.Done()
		n.Run(ctx)
	}()
	return nil
}

// CrashAndRestart tears down node idx's event loop and transport, then
// rebuilds it from scratch against the same backing storage: exactly the
// durable-state-survives, in-memory-state-lost shape a real process crash
// produces, without actually forking a new process.
func (c *Cluster) CrashAndRestart(idx int) error {
	c.mu.Lock()
	cancel := c.cancel[idx]
	trans := c.trans[idx]
	backing := c.stores[idx]
	c.mu.Unlock()

	cancel()
	c.Nodes[idx].Shutdown()
	trans.Close()

	return c.start(idx, backing)
}

// Shutdown stops every node's event loop and closes every transport,
// blocking until all goroutines have exited.
func (c *Cluster) Shutdown() {
	c.mu.Lock()
	cancels := append([]context.CancelFunc(nil), c.cancel...)
	nodes := append([]*node.Node(nil), c.Nodes...)
	trans := append([]transport.Transport(nil), c.trans...)
	c.mu.Unlock()

	for _, cancel := range cancels {
		if cancel != nil {
			cancel()
		}
	}
	for _, n := range nodes {
		if n != nil {
			n.Shutdown()
		}
	}
	c.group.Wait()
	for _, t := range trans {
		if t != nil {
			t.Close()
		}
	}
}

// Submit submits a put on behalf of a synthetic client attached to the
// given node index, blocking until the transaction's containing block
// commits (or the timeout elapses).
func (c *Cluster) Submit(nodeIdx int, clientSeq uint64, payload []byte, timeout time.Duration) (node.Ack, bool) {
	n := c.Nodes[nodeIdx]
	txn := chain.Transaction{Creator: n.ID(), ClientSeq: clientSeq, Payload: payload}
	select {
	case ack := <-n.Submit(txn):
		return ack, true
	case <-time.After(timeout):
		return node.Ack{}, false
	}
}

// AwaitCommitted polls every node's local Get until all of them agree on
// (key -> value), or the timeout elapses.
func (c *Cluster) AwaitCommitted(key, value []byte, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		allMatch := true
		for _, n := range c.Nodes {
			got, ok := n.Get(key)
			if !ok || string(got) != string(value) {
				allMatch = false
				break
			}
		}
		if allMatch {
			return true
		}
		time.Sleep(10 * time.Millisecond)
	}
	return false
}

func generateUID() string {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		panic(err)
	}
	return hex.EncodeToString(b[:])
}
