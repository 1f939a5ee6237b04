// Package management implements the UDP command interpreter grounded on
// the original source's management.h: a tiny request/reply text
// protocol sharing the SOCKS engine's user table and metrics counters.
//
// Request:  COMMAND [ARGS...]\n
// Response: STATUS MESSAGE\n
//
// Commands: STATS, USERS, ADD name:pass, DEL name, HELP, PING, QUIT.
package management

import (
	"fmt"
	"log"
	"strings"

	"github.com/jicanta-labs/socks5ev/internal/metrics"
	"github.com/jicanta-labs/socks5ev/internal/netutil"
	"github.com/jicanta-labs/socks5ev/internal/selector"
	"github.com/jicanta-labs/socks5ev/internal/userstore"
)

const (
	statusOK    = "OK"
	statusError = "ERR"
)

const maxDatagram = 4096

const helpText = "commands: STATS USERS ADD user:pass DEL user HELP PING QUIT"

// Listener is the management UDP socket's selector.Handler: one
// datagram in, one datagram out, per readiness event, registered on the
// very same selector the SOCKS engine runs on, so no locking is needed
// around the user table or counters it shares with the engine.
type Listener struct {
	fd      int
	users   *userstore.Table
	metrics *metrics.Counters
	logger  *log.Logger

	// quit is set by the QUIT command; the caller polls it after each
	// RunOnce iteration to decide whether to stop the server.
	quit bool
}

// New opens the management UDP listener on addr:port (addr may be
// empty for all interfaces) and wires it to users and counters shared
// with the SOCKS engine.
func New(addr string, port int, users *userstore.Table, m *metrics.Counters, logger *log.Logger) (*Listener, error) {
	fd, err := netutil.ListenUDP(addr, port)
	if err != nil {
		return nil, fmt.Errorf("management: listen :%d: %w", port, err)
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Listener{fd: fd, users: users, metrics: m, logger: logger}, nil
}

// FD returns the underlying descriptor, for registration on a selector.
func (l *Listener) FD() int { return l.fd }

// Quit reports whether a QUIT command has been received.
func (l *Listener) Quit() bool { return l.quit }

// Close releases the underlying socket.
func (l *Listener) Close() error { return netutil.Close(l.fd) }

// HandleRead reads one pending datagram, dispatches it, and sends back
// exactly one reply datagram: the same one-syscall-per-invocation
// discipline the SOCKS engine uses, applied to UDP request/reply instead
// of a stream.
func (l *Listener) HandleRead() {
	buf := make([]byte, maxDatagram)
	n, addr, err := netutil.RecvFrom(l.fd, buf)
	if err != nil {
		if netutil.IsWouldBlock(err) {
			return
		}
		l.logger.Printf("[mgmt] recv: %v", err)
		return
	}

	reply := l.dispatch(strings.TrimSpace(string(buf[:n])))
	if err := netutil.SendTo(l.fd, []byte(reply+"\n"), addr); err != nil {
		l.logger.Printf("[mgmt] send to %v: %v", addr, err)
	}
}

func (l *Listener) HandleWrite() {}
func (l *Listener) HandleBlock() {}

func (l *Listener) dispatch(line string) string {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return statusError + " empty command"
	}
	cmd := strings.ToUpper(fields[0])
	args := fields[1:]

	switch cmd {
	case "STATS":
		return l.cmdStats()
	case "USERS":
		return l.cmdUsers()
	case "ADD":
		return l.cmdAdd(args)
	case "DEL":
		return l.cmdDel(args)
	case "HELP":
		return statusOK + " " + helpText
	case "PING":
		return statusOK + " PONG"
	case "QUIT":
		l.quit = true
		return statusOK + " bye"
	default:
		return fmt.Sprintf("%s unknown command %q", statusError, fields[0])
	}
}

func (l *Listener) cmdStats() string {
	s := l.metrics.Snapshot()
	return fmt.Sprintf("%s historic=%d current=%d bytes_sent=%d bytes_received=%d auth_success=%d auth_failure=%d",
		statusOK, s.HistoricConnections, s.CurrentConnections, s.BytesSent, s.BytesReceived, s.AuthSuccess, s.AuthFailure)
}

func (l *Listener) cmdUsers() string {
	names := l.users.Names()
	if len(names) == 0 {
		return statusOK + " (no users)"
	}
	return statusOK + " " + strings.Join(names, ",")
}

func (l *Listener) cmdAdd(args []string) string {
	if len(args) != 1 {
		return statusError + " usage: ADD name:pass"
	}
	name, pass, ok := strings.Cut(args[0], ":")
	if !ok || name == "" || pass == "" {
		return statusError + " usage: ADD name:pass"
	}
	if err := l.users.Add(name, pass); err != nil {
		return statusError + " " + err.Error()
	}
	return statusOK + " added " + name
}

func (l *Listener) cmdDel(args []string) string {
	if len(args) != 1 {
		return statusError + " usage: DEL name"
	}
	if !l.users.Del(args[0]) {
		return statusError + " no such user " + args[0]
	}
	return statusOK + " removed " + args[0]
}

var _ selector.Handler = (*Listener)(nil)
