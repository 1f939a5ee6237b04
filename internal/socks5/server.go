package socks5

import (
	"fmt"
	"log"
	"net"
	"sync/atomic"
	"time"

	"github.com/jicanta-labs/socks5ev/internal/metrics"
	"github.com/jicanta-labs/socks5ev/internal/netutil"
	"github.com/jicanta-labs/socks5ev/internal/selector"
	"github.com/jicanta-labs/socks5ev/internal/userstore"
)

// WakeInterval is the selector wait timeout spec.md §5 calls for: the
// main loop wakes every 10s regardless of I/O readiness so it can poll
// the shutdown flag even with no traffic at all.
const WakeInterval = 10 * time.Second

// MaxConnections is the hard cap on concurrent connections from spec.md
// §4.8: once reached, accept closes the new descriptor immediately
// without a SOCKS reply (the Capacity error kind of spec.md §7).
const MaxConnections = 500

// DefaultBufSize is B from spec.md §4.1/§3: the fixed capacity of both
// rb and wb.
const DefaultBufSize = 4096

// Server owns the SOCKS listening socket and drives the selector loop
// that every Connection and the management listener run on.
type Server struct {
	sh       *shared
	listenFd int
	pool     *Pool
	logger   *log.Logger
}

// ServerConfig bundles what a Server needs beyond the defaults. BufSize,
// PoolCap, MaxEvents, Logger, Resolver and Dialer fall back to defaults
// at their zero value; an empty Addr listens on all interfaces, and a
// zero Port binds an ephemeral port.
type ServerConfig struct {
	Addr      string
	Port      int
	BufSize   int
	PoolCap   int
	MaxEvents int
	Users     []userstore.Credential
	Logger    *log.Logger

	// Resolver overrides the default synchronous DNS resolver; tests
	// inject a deterministic fake to avoid depending on live DNS.
	Resolver Resolver

	// Dialer overrides the default non-blocking connect (netutil.DialNonblocking);
	// tests inject a stub to force the synchronous-success branch of
	// startConnectAttempts, which a real loopback dial essentially never
	// takes (it almost always completes asynchronously).
	Dialer Dialer
}

// NewServer builds a Server with a fresh selector and SOCKS listener,
// but does not yet accept connections; call Run to drive the loop.
func NewServer(cfg ServerConfig) (*Server, error) {
	if cfg.BufSize <= 0 {
		cfg.BufSize = DefaultBufSize
	}
	if cfg.Logger == nil {
		cfg.Logger = log.Default()
	}
	if cfg.Resolver == nil {
		cfg.Resolver = NewResolver()
	}
	if cfg.Dialer == nil {
		cfg.Dialer = netutil.DialNonblocking
	}

	sel, err := selector.New(cfg.MaxEvents)
	if err != nil {
		return nil, fmt.Errorf("server: %w", err)
	}
	listenFd, err := netutil.Listen(cfg.Addr, cfg.Port)
	if err != nil {
		sel.Close()
		return nil, fmt.Errorf("server: listen :%d: %w", cfg.Port, err)
	}

	sh := &shared{
		sel:      sel,
		users:    userstore.New(cfg.Users),
		metrics:  metrics.New(),
		resolver: cfg.Resolver,
		dialer:   cfg.Dialer,
		logger:   cfg.Logger,
		bufSize:  cfg.BufSize,
	}
	s := &Server{
		sh:       sh,
		listenFd: listenFd,
		pool:     NewPool(sh, cfg.PoolCap),
		logger:   cfg.Logger,
	}
	sh.pool = s.pool

	if err := sel.Register(listenFd, selector.Read, s); err != nil {
		netutil.Close(listenFd)
		sel.Close()
		return nil, fmt.Errorf("server: register listener: %w", err)
	}
	s.logger.Printf("[server] listening on :%d", cfg.Port)
	return s, nil
}

// Addr returns the listening socket's local address, useful after
// binding to port 0.
func (s *Server) Addr() (net.Addr, error) { return netutil.LocalAddr(s.listenFd) }

// Selector exposes the selector the server and its collaborators (the
// management listener) share, so both can be driven by one RunOnce loop
// (spec.md §5: "dispatched by the same selector").
func (s *Server) Selector() *selector.Selector { return s.sh.sel }

// Users exposes the shared user table to collaborators (management).
func (s *Server) Users() *userstore.Table { return s.sh.users }

// Metrics exposes the shared counters to collaborators (management,
// SIGUSR1 dump).
func (s *Server) Metrics() *metrics.Counters { return s.sh.metrics }

// HandleRead implements selector.Handler for the listening socket:
// accept exactly one pending connection per invocation (spec.md §5's
// "at most one system call per invocation" rule applies to the listener
// too).
func (s *Server) HandleRead() {
	fd, addr, err := netutil.Accept(s.listenFd)
	if err != nil {
		if netutil.IsWouldBlock(err) {
			return
		}
		s.logger.Printf("[server] accept: %v", err)
		return
	}

	if atomic.LoadInt32(&s.sh.current) >= MaxConnections {
		s.logger.Printf("[server] %v, closing new connection", ErrCapacity)
		netutil.Close(fd)
		return
	}

	atomic.AddInt32(&s.sh.current, 1)
	s.sh.metrics.NewConnection()
	c := s.pool.get()
	c.start(fd, addr)
}

// HandleWrite is never invoked: the listening socket only ever reports
// READ readiness (accept-only interest).
func (s *Server) HandleWrite() {}

// HandleBlock is never invoked for the listener; it has no pending
// off-thread work.
func (s *Server) HandleBlock() {}

// Close releases the listening socket. The selector and any still-open
// connections are the caller's responsibility to tear down first.
func (s *Server) Close() error {
	_ = s.sh.sel.Unregister(s.listenFd)
	return netutil.Close(s.listenFd)
}

// Run drives the selector loop until shouldStop reports true, waking up
// at least every WakeInterval to re-check it (spec.md §5: "the selector
// wakes up every 10s by default... to let the main loop check a
// shutdown flag").
func (s *Server) Run(shouldStop func() bool) error {
	for !shouldStop() {
		if err := s.sh.sel.RunOnce(WakeInterval); err != nil {
			return fmt.Errorf("server: run: %w", err)
		}
	}
	return nil
}
