package chain

import (
	"testing"

	"github.com/Rustem/piChain/internal/storage"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(storage.NewMemoryStore())
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	return s
}

func TestOpenSeedsGenesis(t *testing.T) {
	s := openTestStore(t)
	if s.Head().BlockID != s.Genesis().BlockID {
		t.Fatalf("a fresh store's head must be genesis")
	}
	if s.Committed().BlockID != s.Genesis().BlockID {
		t.Fatalf("a fresh store's committed tip must be genesis")
	}
}

func TestInsertRejectsMissingParent(t *testing.T) {
	s := openTestStore(t)
	orphan := NewBlock(1, Hash{0xAB}, 5, RoleQuick, nil)
	if err := s.Insert(orphan); err != ErrMissingParent {
		t.Fatalf("expected ErrMissingParent, got %v", err)
	}
}

func TestInsertIsIdempotent(t *testing.T) {
	s := openTestStore(t)
	b := NewBlock(1, s.Genesis().BlockID, 1, RoleQuick, nil)
	if err := s.Insert(b); err != nil {
		t.Fatalf("first insert: %v", err)
	}
	if err := s.Insert(b); err != nil {
		t.Fatalf("re-inserting the same block should be a no-op, got: %v", err)
	}
}

func TestHeadSelectionPrefersDepth(t *testing.T) {
	s := openTestStore(t)
	shallow := NewBlock(1, s.Genesis().BlockID, 1, RoleQuick, nil)
	if err := s.Insert(shallow); err != nil {
		t.Fatalf("insert shallow: %v", err)
	}
	if s.Head().BlockID != shallow.BlockID {
		t.Fatalf("head should advance to the only depth-1 block")
	}

	deeper := NewBlock(2, shallow.BlockID, 2, RoleSlow, nil)
	if err := s.Insert(deeper); err != nil {
		t.Fatalf("insert deeper: %v", err)
	}
	if s.Head().BlockID != deeper.BlockID {
		t.Fatalf("head should prefer strictly greater depth regardless of role")
	}
}

func TestHeadSelectionTieBreaksOnRoleThenCreator(t *testing.T) {
	s := openTestStore(t)
	fromSlow := NewBlock(9, s.Genesis().BlockID, 1, RoleSlow, nil)
	if err := s.Insert(fromSlow); err != nil {
		t.Fatalf("insert slow candidate: %v", err)
	}
	fromQuick := NewBlock(1, s.Genesis().BlockID, 1, RoleQuick, nil)
	if err := s.Insert(fromQuick); err != nil {
		t.Fatalf("insert quick candidate: %v", err)
	}
	if s.Head().BlockID != fromQuick.BlockID {
		t.Fatalf("equal-depth head should prefer the quick-created block over the slow one")
	}

	fromQuickHigherID := NewBlock(5, s.Genesis().BlockID, 1, RoleQuick, nil)
	if err := s.Insert(fromQuickHigherID); err != nil {
		t.Fatalf("insert second quick candidate: %v", err)
	}
	if s.Head().BlockID != fromQuick.BlockID {
		t.Fatalf("among equal-depth equal-role candidates, head should keep the lower creator NodeId")
	}
}

func TestAncestorsWalksToGenesisAscending(t *testing.T) {
	s := openTestStore(t)
	b1 := NewBlock(1, s.Genesis().BlockID, 1, RoleQuick, nil)
	b2 := NewBlock(1, b1.BlockID, 2, RoleQuick, nil)
	if err := s.Insert(b1); err != nil {
		t.Fatalf("insert b1: %v", err)
	}
	if err := s.Insert(b2); err != nil {
		t.Fatalf("insert b2: %v", err)
	}

	got, err := s.Ancestors(b2.BlockID, s.Genesis().BlockID)
	if err != nil {
		t.Fatalf("Ancestors: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 blocks (genesis, b1, b2), got %d", len(got))
	}
	if got[0].Depth != 0 || got[1].Depth != 1 || got[2].Depth != 2 {
		t.Fatalf("expected ascending depth order, got depths %d,%d,%d", got[0].Depth, got[1].Depth, got[2].Depth)
	}
}

func TestAncestorsErrorsWhenNotAnAncestor(t *testing.T) {
	s := openTestStore(t)
	branchA := NewBlock(1, s.Genesis().BlockID, 1, RoleQuick, nil)
	branchB := NewBlock(2, s.Genesis().BlockID, 1, RoleQuick, nil)
	if err := s.Insert(branchA); err != nil {
		t.Fatalf("insert branchA: %v", err)
	}
	if err := s.Insert(branchB); err != nil {
		t.Fatalf("insert branchB: %v", err)
	}

	if _, err := s.Ancestors(branchA.BlockID, branchB.BlockID); err == nil {
		t.Fatalf("expected an error walking between two sibling forks")
	}
}

func TestCommitAppliesEachTransactionExactlyOnce(t *testing.T) {
	s := openTestStore(t)
	txn := Transaction{Creator: 1, ClientSeq: 1, Payload: []byte("x")}
	b := NewBlock(1, s.Genesis().BlockID, 1, RoleQuick, []Transaction{txn})
	if err := s.Insert(b); err != nil {
		t.Fatalf("insert: %v", err)
	}

	emitted, err := s.Commit(b)
	if err != nil {
		t.Fatalf("commit: %v", err)
	}
	if len(emitted) != 1 || emitted[0].ID() != txn.ID() {
		t.Fatalf("expected the one new transaction to be returned, got %v", emitted)
	}
	if !s.Emitted(txn.ID()) {
		t.Fatalf("Emitted should report true after commit")
	}

	again, err := s.Commit(b)
	if err != nil {
		t.Fatalf("re-commit of the same tip: %v", err)
	}
	if len(again) != 0 {
		t.Fatalf("re-committing the already-committed tip should be a no-op, got %v", again)
	}
}

func TestCommitRejectsGap(t *testing.T) {
	s := openTestStore(t)
	b1 := NewBlock(1, s.Genesis().BlockID, 1, RoleQuick, nil)
	b2 := NewBlock(1, b1.BlockID, 2, RoleQuick, nil)
	if err := s.Insert(b1); err != nil {
		t.Fatalf("insert b1: %v", err)
	}
	if err := s.Insert(b2); err != nil {
		t.Fatalf("insert b2: %v", err)
	}

	if _, err := s.Commit(b2); err == nil {
		t.Fatalf("expected an error committing depth 2 while depth 1 is not yet committed")
	}
}

func TestUncommittedAncestorsExcludesCommittedTip(t *testing.T) {
	s := openTestStore(t)
	b1 := NewBlock(1, s.Genesis().BlockID, 1, RoleQuick, nil)
	b2 := NewBlock(1, b1.BlockID, 2, RoleQuick, nil)
	if err := s.Insert(b1); err != nil {
		t.Fatalf("insert b1: %v", err)
	}
	if err := s.Insert(b2); err != nil {
		t.Fatalf("insert b2: %v", err)
	}

	got, err := s.UncommittedAncestors(b2)
	if err != nil {
		t.Fatalf("UncommittedAncestors: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected [b1, b2], got %d blocks", len(got))
	}
	if got[0].BlockID != b1.BlockID || got[1].BlockID != b2.BlockID {
		t.Fatalf("expected ascending order starting after the committed tip")
	}
}

func TestDiscardUncommittedResetsHeadToCommitted(t *testing.T) {
	s := openTestStore(t)
	abandoned := NewBlock(1, s.Genesis().BlockID, 1, RoleQuick, nil)
	if err := s.Insert(abandoned); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if s.Head().BlockID != abandoned.BlockID {
		t.Fatalf("precondition: head should have advanced to the uncommitted block")
	}

	s.DiscardUncommitted()
	if s.Head().BlockID != s.Committed().BlockID {
		t.Fatalf("expected head reset to the committed tip (genesis), got depth %d", s.Head().Depth)
	}
}

func TestReopenRebuildsEmittedFromAncestry(t *testing.T) {
	backing := storage.NewMemoryStore()
	s1, err := Open(backing)
	if err != nil {
		t.Fatalf("opening first store: %v", err)
	}
	txn := Transaction{Creator: 1, ClientSeq: 1, Payload: []byte("x")}
	b := NewBlock(1, s1.Genesis().BlockID, 1, RoleQuick, []Transaction{txn})
	if err := s1.Insert(b); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if _, err := s1.Commit(b); err != nil {
		t.Fatalf("commit: %v", err)
	}

	s2, err := Open(backing)
	if err != nil {
		t.Fatalf("reopening: %v", err)
	}
	if !s2.Emitted(txn.ID()) {
		t.Fatalf("a restarted store must rebuild its emitted set from committed ancestry")
	}
	if s2.Head().BlockID != b.BlockID || s2.Committed().BlockID != b.BlockID {
		t.Fatalf("reopened store should restore head and committed pointers from durable storage")
	}
}

func TestOpenCrashFailsOnCorruptBlockRecord(t *testing.T) {
	backing := storage.NewMemoryStore()
	s1 := openTestStoreWithBacking(t, backing)
	b := NewBlock(1, s1.Genesis().BlockID, 1, RoleQuick, nil)
	if err := s1.Insert(b); err != nil {
		t.Fatalf("insert: %v", err)
	}

	if err := backing.Put(storage.NamespaceBlocks, hashKey(b.BlockID), []byte("not a block")); err != nil {
		t.Fatalf("corrupting record: %v", err)
	}

	if _, err := Open(backing); err == nil {
		t.Fatalf("expected Open to fail on a corrupt block record instead of silently skipping it")
	}
}

func openTestStoreWithBacking(t *testing.T, backing *storage.MemoryStore) *Store {
	t.Helper()
	s, err := Open(backing)
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	return s
}
