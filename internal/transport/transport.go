package transport

import (
	"context"
	"sync"
	"time"

	"github.com/jabolina/relt/pkg/relt"

	"github.com/Rustem/piChain/internal/chain"
	"github.com/Rustem/piChain/internal/config"
	"github.com/Rustem/piChain/internal/logging"
)

// Transport is the communication surface the Node depends on.
// A single Transport instance serves one local peer and knows how to reach
// every other peer in the static cluster table.
type Transport interface {
	// Send is fire-and-forget to a single peer; buffered until reconnect
	// by the underlying channel, duplicate-suppressed at the receiver by
	// (sender, sequence).
	Send(to chain.NodeId, msg Message) error

	// Broadcast logically sends to every other peer, including a direct
	// local dispatch to self.
	Broadcast(msg Message) error

	// Inbox delivers every message addressed to this peer, from any
	// sender, in per-sender send order.
	Inbox() <-chan Message

	Close() error
}

// PeerChannel implements Transport by wrapping relt's reliable group
// communication primitive: piChain's Transport interface is the only thing
// the rest of the core ever sees, the socket/reconnect loop underneath is
// an external collaborator.
type PeerChannel struct {
	self    chain.NodeId
	cluster *config.Cluster
	log     logging.Logger

	relt *relt.Relt

	mu       sync.Mutex
	sendSeq  map[chain.NodeId]uint64 // next sequence number this peer will stamp, per destination
	seen     map[dedupKey]struct{}   // (sender, seq) already delivered to the Node
	inbox    chan Message
	context  context.Context
	cancel   context.CancelFunc
}

type dedupKey struct {
	from chain.NodeId
	seq  uint64
}

// NewPeerChannel builds the transport for node self, within cluster.
func NewPeerChannel(self chain.NodeId, cluster *config.Cluster, log logging.Logger) (*PeerChannel, error) {
	conf := relt.DefaultReltConfiguration()
	conf.Name = cluster.Peers[self].UUID
	conf.Exchange = relt.GroupAddress(clusterGroupAddress(cluster))

	r, err := relt.NewRelt(*conf)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &PeerChannel{
		self:    self,
		cluster: cluster,
		log:     log,
		relt:    r,
		sendSeq: make(map[chain.NodeId]uint64),
		seen:    make(map[dedupKey]struct{}),
		inbox:   make(chan Message, 256),
		context: ctx,
		cancel:  cancel,
	}
	go p.poll()
	return p, nil
}

// clusterGroupAddress derives the shared relt exchange address every peer
// in the cluster joins, from the static peer table.
func clusterGroupAddress(cluster *config.Cluster) string {
	addr := "pichain"
	for _, id := range cluster.PeerIDs() {
		addr += "-" + cluster.Peers[id].UUID[:min(8, len(cluster.Peers[id].UUID))]
	}
	return addr
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func (p *PeerChannel) nextSeq(to chain.NodeId) uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	seq := p.sendSeq[to]
	p.sendSeq[to] = seq + 1
	return seq
}

func (p *PeerChannel) stamp(msg Message, to chain.NodeId) Message {
	h := msg.GetHeader()
	h.Version = CurrentVersion
	h.From = p.self
	h.Seq = p.nextSeq(to)
	return withHeader(msg, h)
}

func (p *PeerChannel) Send(to chain.NodeId, msg Message) error {
	peer, ok := p.cluster.Peers[to]
	if !ok {
		return ErrUnknownPeer
	}
	if to == p.self {
		p.dispatchLocal(msg)
		return nil
	}
	stamped := p.stamp(msg, to)
	data := Encode(stamped)
	return p.relt.Broadcast(p.context, relt.Send{
		Address: relt.GroupAddress(peer.UUID),
		Data:    data,
	})
}

// Broadcast sends msg to every peer in the cluster, including a direct
// local dispatch to self, without going over the wire for the local copy.
func (p *PeerChannel) Broadcast(msg Message) error {
	var firstErr error
	for _, id := range p.cluster.PeerIDs() {
		if err := p.Send(id, msg); err != nil {
			p.log.Warnf("broadcast to %d failed: %v", id, err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func (p *PeerChannel) dispatchLocal(msg Message) {
	h := msg.GetHeader()
	h.Version = CurrentVersion
	h.From = p.self
	h.Seq = p.nextSeq(p.self)
	stamped := withHeader(msg, h)
	select {
	case p.inbox <- stamped:
	case <-time.After(250 * time.Millisecond):
		p.log.Warnf("local dispatch of %T timed out", msg)
	}
}

func (p *PeerChannel) Inbox() <-chan Message {
	return p.inbox
}

func (p *PeerChannel) Close() error {
	p.cancel()
	return p.relt.Close()
}

func (p *PeerChannel) poll() {
	listener, err := p.relt.Consume()
	if err != nil {
		p.log.Errorf("transport consume failed: %v", err)
		return
	}
	for {
		select {
		case <-p.context.Done():
			return
		case recv, ok := <-listener:
			if !ok {
				return
			}
			p.consume(recv.Origin, relt.Recv{Data: recv.Data, Error: recv.Error})
		}
	}
}

func (p *PeerChannel) consume(origin string, recv relt.Recv) {
	if recv.Error != nil {
		p.log.Warnf("transport recv error from %s: %v", origin, recv.Error)
		return
	}
	msg, err := Decode(recv.Data)
	if err != nil {
		p.log.Warnf("dropping undecodable message from %s: %v", origin, err)
		return
	}

	h := msg.GetHeader()
	key := dedupKey{from: h.From, seq: h.Seq}
	p.mu.Lock()
	_, dup := p.seen[key]
	if !dup {
		p.seen[key] = struct{}{}
	}
	p.mu.Unlock()
	if dup {
		return
	}

	select {
	case p.inbox <- msg:
	case <-time.After(250 * time.Millisecond):
		p.log.Warnf("inbox full, dropping %T from %d", msg, h.From)
	}
}
