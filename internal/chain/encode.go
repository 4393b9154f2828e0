package chain

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

// ErrTruncated is returned when decoding runs out of bytes before the
// encoded structure is complete.
var ErrTruncated = errors.New("chain: truncated encoding")

// EncodeBlock produces the canonical wire/storage representation of a
// block: fixed-width hashes, big-endian integers, the same layout every
// codec in the system uses. This is the same byte layout both the
// transport's BLOCK message and the blocks/<hash> storage namespace use, so
// there is exactly one place that can get the framing wrong.
func EncodeBlock(b Block) []byte {
	buf := make([]byte, 0, 64+lenTxns(b.Transactions))
	var tmp [8]byte

	binary.BigEndian.PutUint64(tmp[:], uint64(b.Creator))
	buf = append(buf, tmp[:]...)
	buf = append(buf, b.ParentHash[:]...)
	binary.BigEndian.PutUint64(tmp[:], b.Depth)
	buf = append(buf, tmp[:]...)
	buf = append(buf, byte(b.CreatorRoleAtCreation))
	buf = append(buf, b.BlockID[:]...)

	binary.BigEndian.PutUint32(tmp[:4], uint32(len(b.Transactions)))
	buf = append(buf, tmp[:4]...)
	for _, txn := range b.Transactions {
		buf = append(buf, encodeTxn(txn)...)
	}
	return buf
}

func lenTxns(txns []Transaction) int {
	n := 0
	for _, t := range txns {
		n += 8 + 8 + 4 + len(t.Payload)
	}
	return n
}

func encodeTxn(t Transaction) []byte {
	buf := make([]byte, 0, 20+len(t.Payload))
	var tmp [8]byte
	binary.BigEndian.PutUint64(tmp[:], uint64(t.Creator))
	buf = append(buf, tmp[:]...)
	binary.BigEndian.PutUint64(tmp[:], t.ClientSeq)
	buf = append(buf, tmp[:]...)
	var tmp4 [4]byte
	binary.BigEndian.PutUint32(tmp4[:], uint32(len(t.Payload)))
	buf = append(buf, tmp4[:]...)
	buf = append(buf, t.Payload...)
	return buf
}

// DecodeBlock parses the layout EncodeBlock produces.
func DecodeBlock(data []byte) (Block, error) {
	var b Block
	r := &reader{data: data}

	creator, err := r.u64()
	if err != nil {
		return b, err
	}
	parentHash, err := r.hash()
	if err != nil {
		return b, err
	}
	depth, err := r.u64()
	if err != nil {
		return b, err
	}
	role, err := r.byte1()
	if err != nil {
		return b, err
	}
	blockID, err := r.hash()
	if err != nil {
		return b, err
	}
	count, err := r.u32()
	if err != nil {
		return b, err
	}

	txns := make([]Transaction, 0, count)
	for i := uint32(0); i < count; i++ {
		txn, err := decodeTxn(r)
		if err != nil {
			return b, err
		}
		txns = append(txns, txn)
	}

	b = Block{
		Creator:               NodeId(creator),
		ParentHash:            parentHash,
		Transactions:          txns,
		Depth:                 depth,
		CreatorRoleAtCreation: Role(role),
		BlockID:               blockID,
	}
	return b, nil
}

func decodeTxn(r *reader) (Transaction, error) {
	var t Transaction
	creator, err := r.u64()
	if err != nil {
		return t, err
	}
	seq, err := r.u64()
	if err != nil {
		return t, err
	}
	n, err := r.u32()
	if err != nil {
		return t, err
	}
	payload, err := r.bytes(int(n))
	if err != nil {
		return t, err
	}
	return Transaction{Creator: NodeId(creator), ClientSeq: seq, Payload: payload}, nil
}

type reader struct {
	data []byte
	off  int
}

func (r *reader) u64() (uint64, error) {
	if len(r.data)-r.off < 8 {
		return 0, ErrTruncated
	}
	v := binary.BigEndian.Uint64(r.data[r.off:])
	r.off += 8
	return v, nil
}

func (r *reader) u32() (uint32, error) {
	if len(r.data)-r.off < 4 {
		return 0, ErrTruncated
	}
	v := binary.BigEndian.Uint32(r.data[r.off:])
	r.off += 4
	return v, nil
}

func (r *reader) byte1() (byte, error) {
	if len(r.data)-r.off < 1 {
		return 0, ErrTruncated
	}
	v := r.data[r.off]
	r.off++
	return v, nil
}

func (r *reader) hash() (Hash, error) {
	var h Hash
	if len(r.data)-r.off < 32 {
		return h, ErrTruncated
	}
	copy(h[:], r.data[r.off:r.off+32])
	r.off += 32
	return h, nil
}

func (r *reader) bytes(n int) ([]byte, error) {
	if len(r.data)-r.off < n {
		return nil, ErrTruncated
	}
	out := make([]byte, n)
	copy(out, r.data[r.off:r.off+n])
	r.off += n
	return out, nil
}
