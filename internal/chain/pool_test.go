package chain

import "testing"

func TestPoolAddRejectsDuplicate(t *testing.T) {
	p := NewPool()
	txn := Transaction{Creator: 1, ClientSeq: 1, Payload: []byte("a")}
	if !p.Add(txn) {
		t.Fatalf("first Add should succeed")
	}
	if p.Add(txn) {
		t.Fatalf("second Add of the same id should report a duplicate")
	}
	if p.Len() != 1 {
		t.Fatalf("expected exactly one pending transaction, got %d", p.Len())
	}
}

func TestPoolDrainEmptiesInOrder(t *testing.T) {
	p := NewPool()
	t1 := Transaction{Creator: 1, ClientSeq: 1}
	t2 := Transaction{Creator: 1, ClientSeq: 2}
	p.Add(t1)
	p.Add(t2)

	drained := p.Drain()
	if len(drained) != 2 || drained[0].ID() != t1.ID() || drained[1].ID() != t2.ID() {
		t.Fatalf("expected arrival order [t1, t2], got %+v", drained)
	}
	if p.Len() != 0 {
		t.Fatalf("Drain should empty the pool")
	}
}

func TestPoolRemovePrunesOrder(t *testing.T) {
	p := NewPool()
	t1 := Transaction{Creator: 1, ClientSeq: 1}
	t2 := Transaction{Creator: 1, ClientSeq: 2}
	t3 := Transaction{Creator: 1, ClientSeq: 3}
	p.Add(t1)
	p.Add(t2)
	p.Add(t3)

	p.Remove([]Transaction{t2})
	if p.Contains(t2.ID()) {
		t.Fatalf("removed transaction should no longer be pending")
	}
	drained := p.Drain()
	if len(drained) != 2 || drained[0].ID() != t1.ID() || drained[1].ID() != t3.ID() {
		t.Fatalf("expected remaining order [t1, t3], got %+v", drained)
	}
}
