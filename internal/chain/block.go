// Package chain implements the content-addressed block store: blocks, the
// transaction pool, head selection and the commit rule. It owns no
// network or durability concerns directly; those are injected through the
// Storage interface from internal/storage.
package chain

import (
	"crypto/sha256"
	"encoding/binary"

	"github.com/Rustem/piChain/internal/config"
)

// NodeId is the small integer peer identifier used as a tie-break across
// otherwise-equal blocks.
type NodeId = config.NodeId

// Hash is a collision-resistant, fixed-width block identifier.
type Hash [32]byte

// ZeroHash is genesis's fixed all-zero parent hash.
var ZeroHash Hash

func (h Hash) IsZero() bool { return h == ZeroHash }

// Role is the creator's scheduling class at the moment a block was created.
// It is baked into the block so head selection can apply the
// quick<medium<slow tie-break even after the creator itself has since
// changed role.
type Role uint8

const (
	RoleQuick Role = iota
	RoleMedium
	RoleSlow
)

// Rank orders roles for head/tie-break comparisons: lower rank wins,
// i.e. quick beats medium beats slow.
func (r Role) Rank() int {
	switch r {
	case RoleQuick:
		return 0
	case RoleMedium:
		return 1
	default:
		return 2
	}
}

func (r Role) String() string {
	switch r {
	case RoleQuick:
		return "quick"
	case RoleMedium:
		return "medium"
	case RoleSlow:
		return "slow"
	default:
		return "unknown"
	}
}

// Transaction is an opaque client command. The pair (Creator, ClientSeq) is
// its globally unique id.
type Transaction struct {
	Creator   NodeId
	Payload   []byte
	ClientSeq uint64
}

// TxID is the globally unique transaction identifier.
type TxID struct {
	Creator   NodeId
	ClientSeq uint64
}

// ID returns the transaction's globally unique identifier.
func (t Transaction) ID() TxID {
	return TxID{Creator: t.Creator, ClientSeq: t.ClientSeq}
}

func (t Transaction) encode() []byte {
	buf := make([]byte, 0, 16+len(t.Payload))
	var tmp [8]byte
	binary.BigEndian.PutUint64(tmp[:], uint64(t.Creator))
	buf = append(buf, tmp[:]...)
	binary.BigEndian.PutUint64(tmp[:], t.ClientSeq)
	buf = append(buf, tmp[:]...)
	buf = append(buf, t.Payload...)
	return buf
}

// Block is an immutable, hash-linked unit of commitment. BlockID
// is derived deterministically from every other field, so two blocks built
// from identical inputs are indistinguishable, and Serialize/Deserialize
// round-trips byte-identically.
type Block struct {
	Creator               NodeId
	ParentHash            Hash
	Transactions          []Transaction
	Depth                 uint64
	CreatorRoleAtCreation Role
	BlockID               Hash
}

// NewBlock builds a block extending parent with the given transactions and
// computes its content hash. Passing the zero Hash as parentHash with
// depth 0 constructs genesis.
func NewBlock(creator NodeId, parentHash Hash, depth uint64, role Role, txns []Transaction) Block {
	b := Block{
		Creator:               creator,
		ParentHash:            parentHash,
		Transactions:          txns,
		Depth:                 depth,
		CreatorRoleAtCreation: role,
	}
	b.BlockID = b.computeHash()
	return b
}

// Genesis builds the fixed, cluster-wide genesis block. It carries no
// creator-specific data: every peer must compute the identical BlockID.
func Genesis() Block {
	return NewBlock(0, ZeroHash, 0, RoleSlow, nil)
}

func (b Block) computeHash() Hash {
	h := sha256.New()
	var tmp [8]byte

	binary.BigEndian.PutUint64(tmp[:], uint64(b.Creator))
	h.Write(tmp[:])
	h.Write(b.ParentHash[:])
	binary.BigEndian.PutUint64(tmp[:], b.Depth)
	h.Write(tmp[:])
	h.Write([]byte{byte(b.CreatorRoleAtCreation)})

	binary.BigEndian.PutUint64(tmp[:], uint64(len(b.Transactions)))
	h.Write(tmp[:])
	for _, txn := range b.Transactions {
		encoded := txn.encode()
		binary.BigEndian.PutUint64(tmp[:], uint64(len(encoded)))
		h.Write(tmp[:])
		h.Write(encoded)
	}

	var out Hash
	copy(out[:], h.Sum(nil))
	return out
}

// Verify recomputes BlockID and reports whether it still matches the
// stored value, catching any accidental mutation of a "immutable" block.
func (b Block) Verify() bool {
	return b.computeHash() == b.BlockID
}
