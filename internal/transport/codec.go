package transport

import (
	"encoding/binary"

	"github.com/pkg/errors"

	"github.com/Rustem/piChain/internal/chain"
	"github.com/Rustem/piChain/internal/paxos"
)

// ErrUnsupportedVersion is returned by Decode for a peer speaking a
// protocol version we don't understand.
var ErrUnsupportedVersion = errors.New("transport: unsupported protocol version")

// ErrUnknownTag is returned by Decode when the frame's tag byte doesn't
// match any known message kind.
var ErrUnknownTag = errors.New("transport: unknown message tag")

// Encode produces the canonical frame for msg: [tag:1][length:4 BE]
// [version:1][from:8 BE][seq:8 BE][tag-specific payload].
func Encode(msg Message) []byte {
	h := msg.GetHeader()
	payload := make([]byte, 0, 17)
	payload = append(payload, h.Version)
	payload = appendU64(payload, uint64(h.From))
	payload = appendU64(payload, h.Seq)

	switch m := msg.(type) {
	case TxnMsg:
		payload = appendU64(payload, uint64(m.Txn.Creator))
		payload = appendU64(payload, m.Txn.ClientSeq)
		payload = appendBytes(payload, m.Txn.Payload)
	case BlockMsg:
		encoded := chain.EncodeBlock(m.Block)
		payload = appendBytes(payload, encoded)
	case PrepareMsg:
		payload = appendU64(payload, m.Depth)
		payload = appendBallot(payload, m.Ballot)
	case PromiseMsg:
		payload = appendU64(payload, m.Depth)
		payload = appendBallot(payload, m.Ballot)
		if m.HasAccepted {
			payload = append(payload, 1)
			payload = appendBallot(payload, m.AcceptedBallot)
			payload = appendBytes(payload, chain.EncodeBlock(m.AcceptedValue))
		} else {
			payload = append(payload, 0)
		}
	case AcceptMsg:
		payload = appendU64(payload, m.Depth)
		payload = appendBallot(payload, m.Ballot)
		payload = appendBytes(payload, chain.EncodeBlock(m.Value))
	case AcceptedMsg:
		payload = appendU64(payload, m.Depth)
		payload = appendBallot(payload, m.Ballot)
	case NackMsg:
		payload = appendU64(payload, m.Depth)
		payload = appendBallot(payload, m.Highest)
	case DecideMsg:
		payload = appendU64(payload, m.Depth)
		payload = appendBytes(payload, chain.EncodeBlock(m.Value))
	case PingMsg:
		// header only
	case BackfillRequestMsg:
		payload = append(payload, m.Want[:]...)
	case BackfillResponseMsg:
		payload = appendU32(payload, uint32(len(m.Blocks)))
		for _, b := range m.Blocks {
			payload = appendBytes(payload, chain.EncodeBlock(b))
		}
	}

	frame := make([]byte, 0, 5+len(payload))
	frame = append(frame, byte(msg.Tag()))
	frame = appendU32(frame, uint32(len(payload)))
	frame = append(frame, payload...)
	return frame
}

// Decode parses a frame produced by Encode.
func Decode(frame []byte) (Message, error) {
	if len(frame) < 5 {
		return nil, chain.ErrTruncated
	}
	tag := Tag(frame[0])
	length := binary.BigEndian.Uint32(frame[1:5])
	if uint32(len(frame)-5) < length {
		return nil, chain.ErrTruncated
	}
	r := &cursor{data: frame[5 : 5+length]}

	version, err := r.byte1()
	if err != nil {
		return nil, err
	}
	if version != CurrentVersion {
		return nil, ErrUnsupportedVersion
	}
	from, err := r.u64()
	if err != nil {
		return nil, err
	}
	seq, err := r.u64()
	if err != nil {
		return nil, err
	}
	h := Header{Version: version, From: chain.NodeId(from), Seq: seq}

	switch tag {
	case TagTxn:
		creator, err := r.u64()
		if err != nil {
			return nil, err
		}
		clientSeq, err := r.u64()
		if err != nil {
			return nil, err
		}
		payload, err := r.rest()
		if err != nil {
			return nil, err
		}
		return TxnMsg{H: h, Txn: chain.Transaction{Creator: chain.NodeId(creator), ClientSeq: clientSeq, Payload: payload}}, nil

	case TagBlock:
		raw, err := r.rest()
		if err != nil {
			return nil, err
		}
		b, err := chain.DecodeBlock(raw)
		if err != nil {
			return nil, err
		}
		return BlockMsg{H: h, Block: b}, nil

	case TagPrepare:
		depth, err := r.u64()
		if err != nil {
			return nil, err
		}
		ballot, err := r.ballot()
		if err != nil {
			return nil, err
		}
		return PrepareMsg{H: h, Depth: depth, Ballot: ballot}, nil

	case TagPromise:
		depth, err := r.u64()
		if err != nil {
			return nil, err
		}
		ballot, err := r.ballot()
		if err != nil {
			return nil, err
		}
		has, err := r.byte1()
		if err != nil {
			return nil, err
		}
		msg := PromiseMsg{H: h, Depth: depth, Ballot: ballot}
		if has == 1 {
			ab, err := r.ballot()
			if err != nil {
				return nil, err
			}
			raw, err := r.rest()
			if err != nil {
				return nil, err
			}
			av, err := chain.DecodeBlock(raw)
			if err != nil {
				return nil, err
			}
			msg.HasAccepted = true
			msg.AcceptedBallot = ab
			msg.AcceptedValue = av
		}
		return msg, nil

	case TagAccept:
		depth, err := r.u64()
		if err != nil {
			return nil, err
		}
		ballot, err := r.ballot()
		if err != nil {
			return nil, err
		}
		raw, err := r.rest()
		if err != nil {
			return nil, err
		}
		v, err := chain.DecodeBlock(raw)
		if err != nil {
			return nil, err
		}
		return AcceptMsg{H: h, Depth: depth, Ballot: ballot, Value: v}, nil

	case TagAccepted:
		depth, err := r.u64()
		if err != nil {
			return nil, err
		}
		ballot, err := r.ballot()
		if err != nil {
			return nil, err
		}
		return AcceptedMsg{H: h, Depth: depth, Ballot: ballot}, nil

	case TagNack:
		depth, err := r.u64()
		if err != nil {
			return nil, err
		}
		ballot, err := r.ballot()
		if err != nil {
			return nil, err
		}
		return NackMsg{H: h, Depth: depth, Highest: ballot}, nil

	case TagDecide:
		depth, err := r.u64()
		if err != nil {
			return nil, err
		}
		raw, err := r.rest()
		if err != nil {
			return nil, err
		}
		v, err := chain.DecodeBlock(raw)
		if err != nil {
			return nil, err
		}
		return DecideMsg{H: h, Depth: depth, Value: v}, nil

	case TagPing:
		return PingMsg{H: h}, nil

	case TagBackfillRequest:
		want, err := r.hash()
		if err != nil {
			return nil, err
		}
		return BackfillRequestMsg{H: h, Want: want}, nil

	case TagBackfillResponse:
		count, err := r.u32()
		if err != nil {
			return nil, err
		}
		blocks := make([]chain.Block, 0, count)
		for i := uint32(0); i < count; i++ {
			n, err := r.u32()
			if err != nil {
				return nil, err
			}
			raw, err := r.bytes(int(n))
			if err != nil {
				return nil, err
			}
			b, err := chain.DecodeBlock(raw)
			if err != nil {
				return nil, err
			}
			blocks = append(blocks, b)
		}
		return BackfillResponseMsg{H: h, Blocks: blocks}, nil

	default:
		return nil, ErrUnknownTag
	}
}

func appendU64(buf []byte, v uint64) []byte {
	var tmp [8]byte
	binary.BigEndian.PutUint64(tmp[:], v)
	return append(buf, tmp[:]...)
}

func appendU32(buf []byte, v uint32) []byte {
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], v)
	return append(buf, tmp[:]...)
}

func appendBytes(buf, data []byte) []byte {
	buf = appendU32(buf, uint32(len(data)))
	return append(buf, data...)
}

func appendBallot(buf []byte, b paxos.Ballot) []byte {
	buf = appendU64(buf, b.Round)
	buf = appendU64(buf, uint64(b.Proposer))
	return buf
}

type cursor struct {
	data []byte
	off  int
}

func (c *cursor) byte1() (byte, error) {
	if len(c.data)-c.off < 1 {
		return 0, chain.ErrTruncated
	}
	v := c.data[c.off]
	c.off++
	return v, nil
}

func (c *cursor) u64() (uint64, error) {
	if len(c.data)-c.off < 8 {
		return 0, chain.ErrTruncated
	}
	v := binary.BigEndian.Uint64(c.data[c.off:])
	c.off += 8
	return v, nil
}

func (c *cursor) u32() (uint32, error) {
	if len(c.data)-c.off < 4 {
		return 0, chain.ErrTruncated
	}
	v := binary.BigEndian.Uint32(c.data[c.off:])
	c.off += 4
	return v, nil
}

func (c *cursor) hash() (chain.Hash, error) {
	var h chain.Hash
	if len(c.data)-c.off < 32 {
		return h, chain.ErrTruncated
	}
	copy(h[:], c.data[c.off:c.off+32])
	c.off += 32
	return h, nil
}

func (c *cursor) bytes(n int) ([]byte, error) {
	if len(c.data)-c.off < n {
		return nil, chain.ErrTruncated
	}
	out := make([]byte, n)
	copy(out, c.data[c.off:c.off+n])
	c.off += n
	return out, nil
}

func (c *cursor) ballot() (paxos.Ballot, error) {
	round, err := c.u64()
	if err != nil {
		return paxos.Ballot{}, err
	}
	proposer, err := c.u64()
	if err != nil {
		return paxos.Ballot{}, err
	}
	return paxos.Ballot{Round: round, Proposer: chain.NodeId(proposer)}, nil
}

func (c *cursor) rest() ([]byte, error) {
	n, err := c.u32()
	if err != nil {
		return nil, err
	}
	return c.bytes(int(n))
}
