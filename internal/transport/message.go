// Package transport implements the per-peer reliable, ordered,
// duplicate-suppressed message channel, and the binary peer wire
// codec (tag byte + length-prefixed, versioned payload). The actual
// reconnecting socket loop is an external collaborator; PeerChannel
// delegates that part to relt.
package transport

import (
	"github.com/Rustem/piChain/internal/chain"
	"github.com/Rustem/piChain/internal/paxos"
)

// CurrentVersion is the only wire version piChain currently speaks.
const CurrentVersion byte = 0x01

// Tag enumerates the discriminated message union.
type Tag byte

const (
	TagTxn Tag = iota + 1
	TagBlock
	TagPrepare
	TagPromise
	TagAccept
	TagAccepted
	TagNack
	TagDecide
	TagPing
	TagBackfillRequest
	TagBackfillResponse
)

// Header is carried by every message: the protocol version, the sender,
// and a per-sender monotonically increasing sequence number used for
// duplicate suppression.
type Header struct {
	Version byte
	From    chain.NodeId
	Seq     uint64
}

// Message is the tagged-union interface every wire message implements.
type Message interface {
	Tag() Tag
	GetHeader() Header
}

type TxnMsg struct {
	H   Header
	Txn chain.Transaction
}

func (m TxnMsg) Tag() Tag          { return TagTxn }
func (m TxnMsg) GetHeader() Header { return m.H }

type BlockMsg struct {
	H     Header
	Block chain.Block
}

func (m BlockMsg) Tag() Tag          { return TagBlock }
func (m BlockMsg) GetHeader() Header { return m.H }

type PrepareMsg struct {
	H      Header
	Depth  uint64
	Ballot paxos.Ballot
}

func (m PrepareMsg) Tag() Tag          { return TagPrepare }
func (m PrepareMsg) GetHeader() Header { return m.H }

type PromiseMsg struct {
	H              Header
	Depth          uint64
	Ballot         paxos.Ballot
	HasAccepted    bool
	AcceptedBallot paxos.Ballot
	AcceptedValue  chain.Block
}

func (m PromiseMsg) Tag() Tag          { return TagPromise }
func (m PromiseMsg) GetHeader() Header { return m.H }

type AcceptMsg struct {
	H      Header
	Depth  uint64
	Ballot paxos.Ballot
	Value  chain.Block
}

func (m AcceptMsg) Tag() Tag          { return TagAccept }
func (m AcceptMsg) GetHeader() Header { return m.H }

type AcceptedMsg struct {
	H      Header
	Depth  uint64
	Ballot paxos.Ballot
}

func (m AcceptedMsg) Tag() Tag          { return TagAccepted }
func (m AcceptedMsg) GetHeader() Header { return m.H }

type NackMsg struct {
	H       Header
	Depth   uint64
	Highest paxos.Ballot
}

func (m NackMsg) Tag() Tag          { return TagNack }
func (m NackMsg) GetHeader() Header { return m.H }

type DecideMsg struct {
	H     Header
	Depth uint64
	Value chain.Block
}

func (m DecideMsg) Tag() Tag          { return TagDecide }
func (m DecideMsg) GetHeader() Header { return m.H }

type PingMsg struct {
	H Header
}

func (m PingMsg) Tag() Tag          { return TagPing }
func (m PingMsg) GetHeader() Header { return m.H }

// BackfillRequestMsg asks the receiver for the block identified by Want,
// used for the bounded recursive ancestor backfill.
type BackfillRequestMsg struct {
	H    Header
	Want chain.Hash
}

func (m BackfillRequestMsg) Tag() Tag          { return TagBackfillRequest }
func (m BackfillRequestMsg) GetHeader() Header { return m.H }

// BackfillResponseMsg carries the requested block plus every ancestor the
// responder had locally down to (but not necessarily including) genesis,
// ascending by depth, so the requester can insert them parent-first.
type BackfillResponseMsg struct {
	H      Header
	Blocks []chain.Block
}

func (m BackfillResponseMsg) Tag() Tag          { return TagBackfillResponse }
func (m BackfillResponseMsg) GetHeader() Header { return m.H }
