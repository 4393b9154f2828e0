package chain

import "sync"

// Pool is the in-memory set of transactions a peer knows about but has not
// yet seen committed.
type Pool struct {
	mu      sync.Mutex
	pending map[TxID]Transaction
	order   []TxID
}

// NewPool builds an empty transaction pool.
func NewPool() *Pool {
	return &Pool{pending: make(map[TxID]Transaction)}
}

// Add inserts txn if its id is not already known, returning false if it was
// a duplicate.
func (p *Pool) Add(txn Transaction) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	id := txn.ID()
	if _, ok := p.pending[id]; ok {
		return false
	}
	p.pending[id] = txn
	p.order = append(p.order, id)
	return true
}

// Contains reports whether id is currently pending.
func (p *Pool) Contains(id TxID) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.pending[id]
	return ok
}

// Drain returns every pending transaction, in arrival order, and empties
// the pool. Called when a proposer is about to build a new block from
// everything it currently knows about.
func (p *Pool) Drain() []Transaction {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Transaction, 0, len(p.order))
	for _, id := range p.order {
		out = append(out, p.pending[id])
	}
	p.order = nil
	p.pending = make(map[TxID]Transaction)
	return out
}

// Remove drops every transaction in txns from the pool, e.g. once they
// appear in a just-committed block.
func (p *Pool) Remove(txns []Transaction) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, txn := range txns {
		delete(p.pending, txn.ID())
	}
	if len(p.pending) == 0 {
		p.order = nil
		return
	}
	filtered := p.order[:0]
	for _, id := range p.order {
		if _, ok := p.pending[id]; ok {
			filtered = append(filtered, id)
		}
	}
	p.order = filtered
}

// Len reports how many transactions are currently pending.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.pending)
}
