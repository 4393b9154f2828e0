package testutil

import (
	"context"
	"sync"
	"time"

	"github.com/Rustem/piChain/internal/chain"
	"github.com/Rustem/piChain/internal/config"
	"github.com/Rustem/piChain/internal/logging"
	"github.com/Rustem/piChain/internal/node"
	"github.com/Rustem/piChain/internal/storage"
	"github.com/Rustem/piChain/internal/transport"
)

// partitionGate is shared by every node's transport wrapper in a
// PartitionedCluster: it maps a node id to its current partition group, so
// SetPartition can reshape connectivity for every node at once without
// touching individual transports.
type partitionGate struct {
	mu     sync.RWMutex
	group  map[config.NodeId]int
}

func newPartitionGate(size int) *partitionGate {
	g := &partitionGate{group: make(map[config.NodeId]int, size)}
	for i := 0; i < size; i++ {
		g.group[config.NodeId(i)] = 0
	}
	return g
}

func (g *partitionGate) connected(a, b config.NodeId) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.group[a] == g.group[b]
}

func (g *partitionGate) set(groups [][]int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for groupID, members := range groups {
		for _, m := range members {
			g.group[config.NodeId(m)] = groupID
		}
	}
}

// partitionedTransport drops any Send/Broadcast leg whose destination is
// not currently in the sender's partition group, simulating a network
// split without touching the underlying PeerChannel.
type partitionedTransport struct {
	self  config.NodeId
	gate  *partitionGate
	inner transport.Transport
}

func (p *partitionedTransport) Send(to chain.NodeId, msg transport.Message) error {
	if to != p.self && !p.gate.connected(p.self, to) {
		return nil // silently dropped, as a real partition would drop the packet
	}
	return p.inner.Send(to, msg)
}

func (p *partitionedTransport) Broadcast(msg transport.Message) error {
	// Broadcast has no per-destination error path in the Transport
	// interface, so route it through Send per peer to respect the gate.
	var firstErr error
	for id := range p.gate.group {
		if err := p.Send(id, msg); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (p *partitionedTransport) Inbox() <-chan transport.Message { return p.inner.Inbox() }
func (p *partitionedTransport) Close() error                    { return p.inner.Close() }

// PartitionedCluster is a Cluster variant whose transports can be
// reshaped into arbitrary partition groups at runtime, for the network
// partition heal scenario.
type PartitionedCluster struct {
	Nodes []*node.Node

	gate   *partitionGate
	cancel context.CancelFunc
	group  sync.WaitGroup
	trans  []transport.Transport
}

// NewPartitionable builds a size-node cluster wired with partition-aware
// transports, all initially in a single group (fully connected).
func NewPartitionable(size int) (*PartitionedCluster, error) {
	clusterCfg := &config.Cluster{Peers: make(map[config.NodeId]config.PeerConfig)}
	for i := 0; i < size; i++ {
		clusterCfg.Peers[config.NodeId(i)] = config.PeerConfig{
			Host: "127.0.0.1",
			UUID: generateUID() + "-partitionable",
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	pc := &PartitionedCluster{
		gate:   newPartitionGate(size),
		cancel: cancel,
	}

	for i := 0; i < size; i++ {
		id := config.NodeId(i)
		peerCluster := *clusterCfg
		peerCluster.Self = id

		log := logging.NewSilent()
		raw, err := transport.NewPeerChannel(id, &peerCluster, log)
		if err != nil {
			pc.cancel()
			return nil, err
		}
		wrapped := &partitionedTransport{self: id, gate: pc.gate, inner: raw}

		n, err := node.New(node.Config{
			ID:        id,
			Cluster:   &peerCluster,
			Storage:   storage.NewMemoryStore(),
			Transport: wrapped,
			Log:       log,
		})
		if err != nil {
			raw.Close()
			pc.cancel()
			return nil, err
		}

		pc.Nodes = append(pc.Nodes, n)
		pc.trans = append(pc.trans, wrapped)

		pc.group.Add(1)
		go func() {
			defer pc.group.Done()
			n.Run(ctx)
		}()
	}

	return pc, nil
}

// SetPartition reassigns every node's partition group; groups[g] lists the
// node indices in group g. Nodes in different groups can no longer reach
// each other until the next SetPartition call merges them back.
func (pc *PartitionedCluster) SetPartition(groups [][]int) {
	pc.gate.set(groups)
}

// Submit mirrors Cluster.Submit.
func (pc *PartitionedCluster) Submit(nodeIdx int, clientSeq uint64, payload []byte, timeout time.Duration) (node.Ack, bool) {
	n := pc.Nodes[nodeIdx]
	txn := chain.Transaction{Creator: n.ID(), ClientSeq: clientSeq, Payload: payload}
	select {
	case ack := <-n.Submit(txn):
		return ack, true
	case <-time.After(timeout):
		return node.Ack{}, false
	}
}

// AwaitCommitted mirrors Cluster.AwaitCommitted.
func (pc *PartitionedCluster) AwaitCommitted(key, value []byte, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		allMatch := true
		for _, n := range pc.Nodes {
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

// Shutdown stops every node and transport.
func (pc *PartitionedCluster) Shutdown() {
	pc.cancel()
	for _, n := range pc.Nodes {
		n.Shutdown()
	}
	pc.group.Wait()
	for _, t := range pc.trans {
		t.Close()
	}
}
