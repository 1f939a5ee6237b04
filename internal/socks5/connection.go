package socks5

import (
	"log"
	"net"
	"sync/atomic"
	"time"

	"github.com/jicanta-labs/socks5ev/internal/buffer"
	"github.com/jicanta-labs/socks5ev/internal/metrics"
	"github.com/jicanta-labs/socks5ev/internal/netutil"
	"github.com/jicanta-labs/socks5ev/internal/selector"
	"github.com/jicanta-labs/socks5ev/internal/sm"
	"github.com/jicanta-labs/socks5ev/internal/userstore"
)

// Connection states (spec.md §3).
const (
	StateHelloRead sm.State = iota
	StateHelloWrite
	StateAuthRead
	StateAuthWrite
	StateRequestRead
	StateRequestResolving
	StateRequestConnecting
	StateRequestWrite
	StateCopy
	StateDone
	StateError
)

// resolveTimeout bounds the synchronous DNS lookup in REQUEST_RESOLVING;
// spec.md treats resolution as a blocking primitive but a proxy must not
// hang a connection (and the whole single-threaded loop behind it)
// forever on a dead resolver.
const resolveTimeout = 5 * time.Second

// role distinguishes the client-facing descriptor from the
// origin-facing one; both point at the same Connection (spec.md §3's
// "reference count is the bridge between the two registrations").
type role int

const (
	roleClient role = iota
	roleOrigin
)

// duplex is the per-direction half-open bitset used by the COPY state
// (spec.md §4.7's "duplex mask").
type duplex uint8

const (
	duplexNone  duplex = 0
	duplexRead  duplex = 1 << 0
	duplexWrite duplex = 1 << 1
)

// shared holds everything every Connection needs that is not itself
// per-connection state: the selector it's registered on, the shared user
// table and metrics, the resolver, the access logger, and the pool it
// returns to on teardown.
type shared struct {
	sel      *selector.Selector
	users    *userstore.Table
	metrics  *metrics.Counters
	resolver Resolver
	dialer   Dialer
	logger   *log.Logger
	pool     *Pool
	bufSize  int

	// current tracks live connections against MaxConnections (spec.md
	// §4.8's capacity check); accept increments it, teardown decrements
	// it. Atomic because a future multi-acceptor design could touch it
	// off the selector goroutine.
	current int32
}

// Connection is the single owner of one client<->origin SOCKS5 session
// (spec.md §3). At most one of hello/auth/req does meaningful work at a
// time (each parser is used only while its phase is current), mirroring
// the tagged-union scratch the design notes call for; COPY's scratch is
// the clientDuplex/originDuplex pair instead.
type Connection struct {
	sh *shared

	clientFd   int
	originFd   int // -1 when absent
	clientAddr net.Addr

	rb, wb *buffer.Buffer

	driver *sm.Driver

	hello helloParser
	auth  authParser
	req   requestParser

	selectedMethod byte
	username       string

	pendingHost   string
	pendingPort   uint16
	resolvedAddrs []net.IP
	addrCursor    int
	destDisplay   string
	pendingNext   sm.State // state to enter once the current *_WRITE flush completes

	clientDuplex, originDuplex duplex

	refCount int32

	clientHandler fdHandler
	originHandler fdHandler
}

// newConnection builds a Connection wired to sh, with its state table
// built here: the table's closures capture this *Connection pointer.
// Pool.put clears the driver on recycle and installs a freshly built
// table for the same pointer.
func newConnection(sh *shared) *Connection {
	c := &Connection{
		sh:       sh,
		clientFd: -1,
		originFd: -1,
		rb:       buffer.New(sh.bufSize),
		wb:       buffer.New(sh.bufSize),
	}
	c.clientHandler = fdHandler{c: c, role: roleClient}
	c.originHandler = fdHandler{c: c, role: roleOrigin}
	c.driver = sm.New(c.buildTable())
	return c
}

// reset restores a pooled Connection to a fresh-construction-equivalent
// state (spec.md invariant 5: "recycling... preserves the invariant by
// fully resetting the record on reuse").
func (c *Connection) reset() {
	c.clientFd = -1
	c.originFd = -1
	c.clientAddr = nil
	c.rb.Reset()
	c.wb.Reset()
	c.hello = helloParser{}
	c.auth = authParser{}
	c.req = requestParser{}
	c.selectedMethod = 0
	c.username = ""
	c.pendingHost = ""
	c.pendingPort = 0
	c.resolvedAddrs = nil
	c.addrCursor = 0
	c.destDisplay = ""
	c.pendingNext = 0
	c.clientDuplex = duplexNone
	c.originDuplex = duplexNone
	c.refCount = 0
}

// start begins a freshly accepted connection at HELLO_READ.
func (c *Connection) start(fd int, addr net.Addr) {
	c.clientFd = fd
	c.clientAddr = addr
	c.refCount = 1
	_ = c.sh.sel.Register(fd, selector.Read, &c.clientHandler)
	c.driver.Start(StateHelloRead)
}

// fdHandler adapts one (Connection, role) pair to selector.Handler. Two
// instances exist per Connection — one per descriptor — so the selector
// can tell which side woke up without either side needing a back-pointer
// into the other (design note: "avoid back-pointers by always passing
// (this, other) into the handler").
type fdHandler struct {
	c    *Connection
	role role
}

func (h *fdHandler) HandleRead()  { h.c.onReadable(h.role) }
func (h *fdHandler) HandleWrite() { h.c.onWritable(h.role) }
func (h *fdHandler) HandleBlock() { h.c.onBlock(h.role) }

// onReadable and onWritable are the single entry points a fd's readiness
// flows through. Once the connection is in COPY both descriptors are
// live and routed straight to the relay logic (copy.go); before that,
// every event goes through the state-table driver regardless of which
// role fired. The origin descriptor keeps WRITE interest from its
// registration until COPY, so in REQUEST_WRITE both descriptors can
// report write readiness; that state's handler only ever writes to the
// client descriptor, so either event flushes the same reply.
func (c *Connection) onReadable(r role) {
	if c.driver.Current() == StateCopy {
		c.copyHandleReadable(r)
		return
	}
	c.driver.DispatchRead()
}

func (c *Connection) onWritable(r role) {
	if c.driver.Current() == StateCopy {
		c.copyHandleWritable(r)
		return
	}
	c.driver.DispatchWrite()
}

func (c *Connection) onBlock(r role) {
	if c.driver.Current() == StateCopy {
		return
	}
	c.driver.DispatchBlock()
}

// buildTable wires every state to its handler. See hello.go, auth.go,
// request.go and copy.go for the field-level parsing logic; this is
// purely the state-machine plumbing (spec.md §4.3).
func (c *Connection) buildTable() map[sm.State]sm.Def {
	return map[sm.State]sm.Def{
		StateHelloRead: {
			OnArrival: func() { c.armArrival(c.helloTryConsume, StateHelloRead, c.clientFd) },
			OnRead:    func() sm.State { return c.readThenTry(c.helloTryConsume, StateHelloRead, c.clientFd) },
		},
		StateHelloWrite: {
			OnArrival: func() { _ = c.sh.sel.SetInterest(c.clientFd, selector.Write) },
			OnWrite:   func() sm.State { return c.flushReply(StateHelloWrite) },
		},
		StateAuthRead: {
			OnArrival: func() { c.armArrival(c.authTryConsume, StateAuthRead, c.clientFd) },
			OnRead:    func() sm.State { return c.readThenTry(c.authTryConsume, StateAuthRead, c.clientFd) },
		},
		StateAuthWrite: {
			OnArrival: func() { _ = c.sh.sel.SetInterest(c.clientFd, selector.Write) },
			OnWrite:   func() sm.State { return c.flushReply(StateAuthWrite) },
		},
		StateRequestRead: {
			OnArrival: func() { c.armArrival(c.requestTryConsume, StateRequestRead, c.clientFd) },
			OnRead:    func() sm.State { return c.readThenTry(c.requestTryConsume, StateRequestRead, c.clientFd) },
		},
		StateRequestResolving: {
			OnArrival: c.onResolvingArrival,
		},
		StateRequestConnecting: {
			OnWrite: c.onConnectWritable,
		},
		StateRequestWrite: {
			OnArrival: func() { _ = c.sh.sel.SetInterest(c.clientFd, selector.Write) },
			OnWrite:   func() sm.State { return c.flushReply(StateRequestWrite) },
		},
		StateCopy: {
			OnArrival: c.enterCopy,
		},
		StateDone: {
			OnArrival: c.teardown,
		},
		StateError: {
			OnArrival: c.teardown,
		},
	}
}

// armArrival runs tryConsume once on arrival, for bytes already buffered
// from a previous phase (e.g. a client that pipelines its CONNECT
// request right behind the greeting); only falls back to waiting for
// fresh readiness if there isn't enough data yet.
func (c *Connection) armArrival(tryConsume func() sm.State, thisState sm.State, fd int) {
	next := tryConsume()
	if next != thisState {
		c.driver.Force(next)
		return
	}
	_ = c.sh.sel.SetInterest(fd, selector.Read)
}

// readThenTry performs the one read syscall a *_READ state is allowed
// per invocation, then hands whatever landed in rb to tryConsume.
func (c *Connection) readThenTry(tryConsume func() sm.State, thisState sm.State, fd int) sm.State {
	if !c.rb.CanWrite() {
		return StateError
	}
	n, err := netutil.Read(fd, c.rb.Writable())
	if err != nil {
		if netutil.IsWouldBlock(err) {
			return thisState
		}
		return StateError
	}
	if n == 0 {
		return StateError
	}
	c.rb.AdvanceWrite(n)
	return tryConsume()
}

// flushReply writes whatever is readable in wb to the client descriptor;
// on a full flush it hands off to pendingNext, set by whichever
// tryConsume produced the reply now in wb.
func (c *Connection) flushReply(thisState sm.State) sm.State {
	n, err := netutil.Write(c.clientFd, c.wb.Readable())
	if err != nil {
		if netutil.IsWouldBlock(err) {
			return thisState
		}
		return StateError
	}
	c.wb.AdvanceRead(n)
	if c.wb.CanRead() {
		return thisState
	}
	return c.pendingNext
}

// logAccess emits the access log line spec.md §6 requires on every
// REQUEST outcome.
func (c *Connection) logAccess(success bool) {
	status := "OK"
	if !success {
		status = "FAIL"
	}
	user := c.username
	if user == "" {
		user = "-"
	}
	c.sh.logger.Printf("%s %s %s -> %s %s",
		time.Now().UTC().Format(time.RFC3339), user, c.clientAddr, c.destDisplay, status)
}

// teardown is StateDone and StateError's shared arrival handler:
// unregister and close both descriptors, release owned resources,
// decrement current_connections, and recycle the record (spec.md §4.8).
func (c *Connection) teardown() {
	_ = c.sh.sel.Unregister(c.clientFd)
	_ = netutil.Close(c.clientFd)
	c.refCount--

	if c.originFd >= 0 {
		_ = c.sh.sel.Unregister(c.originFd)
		_ = netutil.Close(c.originFd)
		c.originFd = -1
		c.refCount--
	}

	c.sh.metrics.CloseConnection()
	atomic.AddInt32(&c.sh.current, -1)
	c.sh.pool.put(c)
}
