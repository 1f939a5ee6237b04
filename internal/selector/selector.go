// Package selector implements a single-threaded, readiness-based event
// dispatcher over the host's native polling primitive (epoll on Linux,
// poll elsewhere). It is the core multiplexer the SOCKS5 engine runs on:
// every client and origin descriptor is registered here with an interest
// mask, and RunOnce drives exactly one callback per ready descriptor per
// iteration.
//
// The selector itself is not thread-safe: every method must be called
// from the single goroutine running RunOnce, except Notify, which is
// explicitly safe to call from any goroutine to wake a blocked RunOnce
// and schedule a HandleBlock callback.
package selector

import (
	"fmt"
	"sync"
	"time"
)

// Interest is a bitset of directions a registered descriptor wants to be
// woken for.
type Interest uint8

const (
	None Interest = 0
	Read Interest = 1 << iota
	Write
)

func (i Interest) String() string {
	switch i {
	case None:
		return "NOOP"
	case Read:
		return "READ"
	case Write:
		return "WRITE"
	case Read | Write:
		return "READ|WRITE"
	default:
		return "?"
	}
}

// Handler is the callback set a registered descriptor supplies. Exactly
// one of these is invoked per descriptor per RunOnce iteration in which
// it has work to do.
type Handler interface {
	// HandleRead is invoked when the descriptor is readable and Read is
	// in its interest mask.
	HandleRead()
	// HandleWrite is invoked when the descriptor is writable and Write
	// is in its interest mask. If both directions are ready and both
	// are of interest, HandleWrite alone runs for that iteration.
	HandleWrite()
	// HandleBlock is invoked once for every pending Notify call against
	// this descriptor, letting a state advance after off-thread work
	// (e.g. a background resolution) completes.
	HandleBlock()
}

type registration struct {
	interest Interest
	handler  Handler
}

// readyEvent is what a platform backend reports for one descriptor.
type readyEvent struct {
	fd       int
	readable bool
	writable bool
}

// poller is the minimal platform-specific surface; selector.go owns all
// the interest bookkeeping and dispatch logic so each platform file
// (selector_linux.go / selector_other.go) stays small.
type poller interface {
	add(fd int, interest Interest) error
	modify(fd int, interest Interest) error
	remove(fd int) error
	wait(timeout time.Duration, out []readyEvent) ([]readyEvent, error)
	wake() error
	close() error
}

// Selector multiplexes readiness events across registered descriptors.
type Selector struct {
	p poller

	regs map[int]*registration

	mu      sync.Mutex // guards pending, used only by Notify (off-thread)
	pending map[int]struct{}

	events []readyEvent
	closed bool
}

// New creates a Selector backed by the host's native poller.
// maxEvents (default 1024) sets the initial capacity of the slice that
// collects ready events; it bounds neither the number of registered fds
// nor the events a single wait() may report (the epoll backend collects
// up to 256 per wait, the poll backend every ready descriptor).
func New(maxEvents int) (*Selector, error) {
	if maxEvents <= 0 {
		maxEvents = 1024
	}
	p, err := newPoller()
	if err != nil {
		return nil, fmt.Errorf("selector: %w", err)
	}
	return &Selector{
		p:       p,
		regs:    make(map[int]*registration),
		pending: make(map[int]struct{}),
		events:  make([]readyEvent, 0, maxEvents),
	}, nil
}

// Register adds fd to the selector with the given interest and handler.
func (s *Selector) Register(fd int, interest Interest, h Handler) error {
	if _, ok := s.regs[fd]; ok {
		return fmt.Errorf("selector: fd %d already registered", fd)
	}
	if err := s.p.add(fd, interest); err != nil {
		return fmt.Errorf("selector: register fd %d: %w", fd, err)
	}
	s.regs[fd] = &registration{interest: interest, handler: h}
	return nil
}

// Unregister removes fd from the selector. It is a no-op (returns nil)
// if fd was never registered, since teardown paths may race a descriptor
// that failed mid-registration.
func (s *Selector) Unregister(fd int) error {
	if _, ok := s.regs[fd]; !ok {
		return nil
	}
	delete(s.regs, fd)
	s.mu.Lock()
	delete(s.pending, fd)
	s.mu.Unlock()
	if err := s.p.remove(fd); err != nil {
		return fmt.Errorf("selector: unregister fd %d: %w", fd, err)
	}
	return nil
}

// SetInterest updates the interest mask of an already-registered fd.
// This is the only operation invoked on the hot path of every COPY
// iteration (§4.7's interest-purity rule), so it is a single syscall.
func (s *Selector) SetInterest(fd int, interest Interest) error {
	reg, ok := s.regs[fd]
	if !ok {
		return fmt.Errorf("selector: SetInterest on unregistered fd %d", fd)
	}
	if reg.interest == interest {
		return nil
	}
	if err := s.p.modify(fd, interest); err != nil {
		return fmt.Errorf("selector: set interest fd %d: %w", fd, err)
	}
	reg.interest = interest
	return nil
}

// Notify schedules exactly one HandleBlock callback for fd and wakes a
// blocked RunOnce. Safe to call from any goroutine.
func (s *Selector) Notify(fd int) {
	s.mu.Lock()
	s.pending[fd] = struct{}{}
	s.mu.Unlock()
	_ = s.p.wake()
}

// RunOnce blocks until at least one registered descriptor is ready (or
// timeout elapses), then dispatches exactly one callback per ready
// descriptor, followed by any pending Notify callbacks. It returns nil
// on a clean timeout with nothing to do.
func (s *Selector) RunOnce(timeout time.Duration) error {
	events, err := s.p.wait(timeout, s.events[:0])
	if err != nil {
		return fmt.Errorf("selector: wait: %w", err)
	}

	for _, ev := range events {
		reg, ok := s.regs[ev.fd]
		if !ok {
			continue // unregistered between wait() and dispatch
		}
		switch {
		case ev.writable && reg.interest&Write != 0:
			reg.handler.HandleWrite()
		case ev.readable && reg.interest&Read != 0:
			reg.handler.HandleRead()
		}
	}

	s.mu.Lock()
	fds := make([]int, 0, len(s.pending))
	for fd := range s.pending {
		fds = append(fds, fd)
	}
	s.pending = make(map[int]struct{})
	s.mu.Unlock()

	for _, fd := range fds {
		if reg, ok := s.regs[fd]; ok {
			reg.handler.HandleBlock()
		}
	}
	return nil
}

// Len reports the number of currently registered descriptors.
func (s *Selector) Len() int { return len(s.regs) }

// Close releases the underlying poller resources. Registered descriptors
// are not closed; the caller owns their lifecycle.
func (s *Selector) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	return s.p.close()
}
