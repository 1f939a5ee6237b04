// Package sm implements the generic state-machine driver each Connection
// uses to route a readiness event to the handler of its current state.
//
// A state definition supplies up to three readiness callbacks and one
// arrival callback. The driver dispatches the event to the matching
// callback; if the callback returns a different state, the new state's
// arrival callback runs exactly once before the next dispatch.
package sm

// State identifies one node of the table.
type State int

// Def is one state's callback set. Any of the readiness callbacks may be
// nil, meaning that event is not expected in this state (the driver
// ignores it rather than panicking, since a descriptor can report
// readiness for a direction the current state has no interest in, e.g.
// a stray write-ready right after a transition narrowed interest).
type Def struct {
	// OnArrival runs once, synchronously, the moment the state becomes
	// current (including the initial state, via Driver.Start).
	OnArrival func()
	OnRead    func() State
	OnWrite   func() State
	OnBlock   func() State
}

// Driver holds the current state of one connection and a table of state
// definitions. It is not safe for concurrent use; callers run it on the
// single selector goroutine, matching the invariant that exactly one
// state handler is active per (connection, readiness event).
type Driver struct {
	table   map[State]Def
	current State
	started bool
}

// New builds a Driver over the given table. Call Start to enter the
// initial state and run its arrival callback.
func New(table map[State]Def) *Driver {
	return &Driver{table: table}
}

// Start enters the initial state and runs its OnArrival callback, if any.
func (d *Driver) Start(initial State) {
	d.current = initial
	d.started = true
	if def, ok := d.table[initial]; ok && def.OnArrival != nil {
		def.OnArrival()
	}
}

// Current returns the state the driver is presently in.
func (d *Driver) Current() State { return d.current }

// DispatchRead routes a read-readiness event to the current state.
func (d *Driver) DispatchRead() { d.dispatch(d.table[d.current].OnRead) }

// DispatchWrite routes a write-readiness event to the current state.
func (d *Driver) DispatchWrite() { d.dispatch(d.table[d.current].OnWrite) }

// DispatchBlock routes a block-completion event to the current state.
func (d *Driver) DispatchBlock() { d.dispatch(d.table[d.current].OnBlock) }

// Force moves the driver directly to next, running its arrival callback
// if next differs from the current state. Used where a state's logic
// decides its own successor outside the normal OnRead/OnWrite/OnBlock
// return path — a synchronous resolve or connect attempt that completes
// (or fails) before the next readiness event arrives.
func (d *Driver) Force(next State) {
	if next == d.current {
		return
	}
	d.current = next
	if def, ok := d.table[next]; ok && def.OnArrival != nil {
		def.OnArrival()
	}
}

func (d *Driver) dispatch(fn func() State) {
	if fn == nil {
		return
	}
	next := fn()
	if next == d.current {
		return
	}
	d.current = next
	if def, ok := d.table[next]; ok && def.OnArrival != nil {
		def.OnArrival()
	}
}

// Reset clears the driver back to its zero state so a pooled Connection
// can reuse it without retaining a stale table or current state.
func (d *Driver) Reset() {
	d.table = nil
	d.current = 0
	d.started = false
}

// SetTable installs a fresh table, used when a pooled Driver is recycled
// for a new connection (the table closures capture the new Connection).
func (d *Driver) SetTable(table map[State]Def) {
	d.table = table
}
