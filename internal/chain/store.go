package chain

import (
	"fmt"
	"strconv"
	"sync"

	"github.com/pkg/errors"

	"github.com/Rustem/piChain/internal/storage"
)

// ErrMissingParent is returned by Insert when a block's parent has not yet
// been inserted. No orphans are kept: the caller must backfill the
// missing ancestry before retrying the insert.
var ErrMissingParent = errors.New("chain: parent not present")

// ErrUnknownBlock is returned when a hash is not present in the store.
var ErrUnknownBlock = errors.New("chain: unknown block")

// Store is the append-only, content-addressed block store: a map
// block_id->Block plus the three named references genesis, head_block and
// committed_block.
type Store struct {
	mu sync.RWMutex

	backing storage.Storage

	blocks   map[Hash]Block
	genesis  Hash
	head     Hash
	committed Hash

	emitted map[TxID]bool
}

// Open loads (or, if empty, bootstraps) a Store from backing storage. A
// fresh store is seeded with Genesis() so every peer starts from byte
// identical state.
func Open(backing storage.Storage) (*Store, error) {
	s := &Store{
		backing: backing,
		blocks:  make(map[Hash]Block),
		emitted: make(map[TxID]bool),
	}

	loaded := 0
	var decodeErr error
	err := backing.Iterate(storage.NamespaceBlocks, func(key string, value []byte) bool {
		b, decErr := DecodeBlock(value)
		if decErr != nil {
			decodeErr = errors.Wrapf(decErr, "decoding block record %q", key)
			return false
		}
		s.blocks[b.BlockID] = b
		loaded++
		return true
	})
	if err != nil {
		return nil, errors.Wrap(err, "loading blocks")
	}
	if decodeErr != nil {
		return nil, decodeErr
	}

	if loaded == 0 {
		g := Genesis()
		if err := s.persistBlock(g); err != nil {
			return nil, err
		}
		s.blocks[g.BlockID] = g
		s.genesis = g.BlockID
		s.head = g.BlockID
		s.committed = g.BlockID
		if err := s.persistPointer(storage.KeyHead, g.BlockID); err != nil {
			return nil, err
		}
		if err := s.persistPointerSync(storage.KeyCommitted, g.BlockID); err != nil {
			return nil, err
		}
		return s, nil
	}

	head, err := s.loadPointer(storage.KeyHead)
	if err != nil {
		return nil, err
	}
	committed, err := s.loadPointer(storage.KeyCommitted)
	if err != nil {
		return nil, err
	}
	s.head = head
	s.committed = committed

	// genesis is the unique depth-0 block.
	for _, b := range s.blocks {
		if b.Depth == 0 {
			s.genesis = b.BlockID
			break
		}
	}

	// Every committed transaction must be marked emitted exactly once on
	// restart, so a crash-restarted peer never re-applies it externally.
	ancestry, err := s.ancestorsLocked(s.committed, s.genesis)
	if err != nil {
		return nil, err
	}
	for _, b := range ancestry {
		for _, txn := range b.Transactions {
			s.emitted[txn.ID()] = true
		}
	}

	return s, nil
}

func (s *Store) persistBlock(b Block) error {
	return s.backing.Put(storage.NamespaceBlocks, hashKey(b.BlockID), EncodeBlock(b))
}

func (s *Store) persistPointer(key string, h Hash) error {
	return s.backing.Put(storage.NamespaceMeta, key, h[:])
}

func (s *Store) persistPointerSync(key string, h Hash) error {
	return s.backing.PutSync(storage.NamespaceMeta, key, h[:])
}

func (s *Store) loadPointer(key string) (Hash, error) {
	v, err := s.backing.Get(storage.NamespaceMeta, key)
	if err != nil {
		return Hash{}, errors.Wrapf(err, "loading meta/%s", key)
	}
	var h Hash
	copy(h[:], v)
	return h, nil
}

func hashKey(h Hash) string {
	return fmt.Sprintf("%x", h[:])
}

// Insert adds a block to the store, applying the head-selection rule.
// Returns ErrMissingParent if the parent is not yet known.
func (s *Store) Insert(b Block) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.blocks[b.BlockID]; ok {
		return nil // already known, idempotent
	}

	if b.Depth > 0 {
		if _, ok := s.blocks[b.ParentHash]; !ok {
			return ErrMissingParent
		}
	}

	if err := s.persistBlock(b); err != nil {
		return err
	}
	s.blocks[b.BlockID] = b

	head := s.blocks[s.head]
	if headBeats(b, head) {
		s.head = b.BlockID
		if err := s.persistPointer(storage.KeyHead, b.BlockID); err != nil {
			return err
		}
	}
	return nil
}

// headBeats reports whether candidate replaces current as head, applying
// the three-way tie-break: depth, then creator role rank, then creator
// NodeId.
func headBeats(candidate, current Block) bool {
	if candidate.Depth != current.Depth {
		return candidate.Depth > current.Depth
	}
	rc := candidate.CreatorRoleAtCreation.Rank()
	rt := current.CreatorRoleAtCreation.Rank()
	if rc != rt {
		return rc < rt
	}
	return candidate.Creator < current.Creator
}

// Get returns the block for hash, if known.
func (s *Store) Get(h Hash) (Block, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.blocks[h]
	return b, ok
}

// Has reports whether hash is present in the store.
func (s *Store) Has(h Hash) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.blocks[h]
	return ok
}

// Head returns the locally preferred chain tip.
func (s *Store) Head() Block {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.blocks[s.head]
}

// Committed returns the deepest block known to be committed locally.
func (s *Store) Committed() Block {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.blocks[s.committed]
}

// Genesis returns the cluster's fixed genesis block.
func (s *Store) Genesis() Block {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.blocks[s.genesis]
}

// Ancestors walks from -> ... -> to (inclusive at both ends) following
// parent links, in descending-then-reversed order so the result is
// ascending by depth. to must be an ancestor of from (or equal to it);
// returns ErrUnknownBlock if the walk runs off the known chain before
// reaching to.
func (s *Store) Ancestors(from, to Hash) ([]Block, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ancestorsLocked(from, to)
}

func (s *Store) ancestorsLocked(from, to Hash) ([]Block, error) {
	var chain []Block
	cur := from
	for {
		b, ok := s.blocks[cur]
		if !ok {
			return nil, ErrUnknownBlock
		}
		chain = append(chain, b)
		if cur == to {
			break
		}
		if b.Depth == 0 {
			return nil, errors.Errorf("chain: %s is not an ancestor of %s", hashKey(to), hashKey(from))
		}
		cur = b.ParentHash
	}
	// chain is currently from..to descending in depth; reverse for
	// ascending order.
	for i, j := 0, len(chain)-1; i < j; i, j = i+1, j-1 {
		chain[i], chain[j] = chain[j], chain[i]
	}
	return chain, nil
}

// UncommittedAncestors returns every ancestor of candidate strictly deeper
// than the currently committed block, in ascending depth order: the set
// the commit rule must run Paxos over, one depth at a time, during
// catch-up.
func (s *Store) UncommittedAncestors(candidate Block) ([]Block, error) {
	s.mu.RLock()
	committed := s.committed
	s.mu.RUnlock()

	chain, err := s.Ancestors(candidate.BlockID, committed)
	if err != nil {
		return nil, err
	}
	// chain[0] is the committed block itself; drop it.
	if len(chain) > 0 {
		chain = chain[1:]
	}
	return chain, nil
}

// Commit advances committed_block to b. b's parent must already be
// committed locally (single depth step); callers drive multi-depth
// catch-up via UncommittedAncestors + repeated Commit calls, ascending.
// Returns every transaction in b not previously emitted, in order, so the
// caller can apply each to the replicated state exactly once.
func (s *Store) Commit(b Block) ([]Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.blocks[b.BlockID]; !ok {
		s.blocks[b.BlockID] = b
		if err := s.persistBlock(b); err != nil {
			return nil, err
		}
	}

	committed := s.blocks[s.committed]
	if b.BlockID == committed.BlockID {
		return nil, nil // already committed at this depth, idempotent
	}
	if b.ParentHash != committed.BlockID {
		return nil, errors.Errorf("chain: commit gap, block %s's parent is not the committed tip", hashKey(b.BlockID))
	}

	var out []Transaction
	for _, txn := range b.Transactions {
		id := txn.ID()
		if s.emitted[id] {
			continue
		}
		s.emitted[id] = true
		out = append(out, txn)
	}

	s.committed = b.BlockID
	if err := s.persistPointerSync(storage.KeyCommitted, b.BlockID); err != nil {
		return nil, err
	}

	if headBeats(b, s.blocks[s.head]) {
		s.head = b.BlockID
		if err := s.persistPointer(storage.KeyHead, b.BlockID); err != nil {
			return nil, err
		}
	}

	return out, nil
}

// DiscardUncommitted drops any locally-created block deeper than the
// committed tip from the preferred head, resetting head back to committed.
// Used when a partition heals and the local uncommitted proposals lost:
// the blocks themselves stay in the store, retention is unbounded, only
// the head pointer moves back.
func (s *Store) DiscardUncommitted() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.head = s.committed
	_ = s.persistPointer(storage.KeyHead, s.committed)
}

// Emitted reports whether a transaction id has already been applied by a
// commit, so a duplicate resubmission of the same (creator, client_seq)
// pair can be acknowledged directly instead of going through the pool and
// Paxos again.
func (s *Store) Emitted(id TxID) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.emitted[id]
}

// DepthString is a small helper for log fields.
func DepthString(b Block) string {
	return strconv.FormatUint(b.Depth, 10)
}
