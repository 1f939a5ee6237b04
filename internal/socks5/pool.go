package socks5

import "sync"

// DefaultPoolCap is P from spec.md §4.8: the maximum number of idle
// Connection records kept for reuse. The pool is an optimization, not a
// correctness requirement — get() falls back to newConnection whenever
// the free list is empty, and put() simply drops the record once the
// list is already at capacity.
const DefaultPoolCap = 50

// Pool is a bounded free list of reset Connection records. All access
// happens from the single selector goroutine (accept and teardown both
// run there), so no locking is strictly required; the mutex exists only
// so a future multi-acceptor design doesn't silently reintroduce a data
// race here.
type Pool struct {
	mu      sync.Mutex
	maxIdle int
	idle    []*Connection
	sh      *shared
}

// NewPool builds a pool bounded to maxIdle records, wired to sh so it
// can construct fresh Connections on a miss.
func NewPool(sh *shared, maxIdle int) *Pool {
	if maxIdle <= 0 {
		maxIdle = DefaultPoolCap
	}
	return &Pool{maxIdle: maxIdle, sh: sh}
}

// get returns an idle, reset Connection if one is available, or a
// freshly constructed one otherwise. Either way the caller receives a
// record indistinguishable from one built by newConnection.
func (p *Pool) get() *Connection {
	p.mu.Lock()
	n := len(p.idle)
	if n == 0 {
		p.mu.Unlock()
		return newConnection(p.sh)
	}
	c := p.idle[n-1]
	p.idle[n-1] = nil
	p.idle = p.idle[:n-1]
	p.mu.Unlock()
	return c
}

// put resets c and returns it to the free list, unless the list is
// already at capacity (spec.md §4.8: "pool of at most P idle records"),
// in which case c is simply dropped for the garbage collector.
func (p *Pool) put(c *Connection) {
	c.reset()
	c.driver.Reset()
	c.driver.SetTable(c.buildTable())

	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.idle) >= p.maxIdle {
		return
	}
	p.idle = append(p.idle, c)
}

// Len reports the number of idle records currently held, for tests and
// diagnostics.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.idle)
}
