// Package metrics holds the process-wide counters the SOCKS engine and
// the management protocol both touch. It mirrors the original C
// implementation's metrics.h/metrics.c: a flat struct of counters,
// updated with atomic increments and tolerating relaxed ordering, with
// no locking required.
package metrics

import (
	"fmt"
	"io"
	"sync/atomic"
)

// Counters is the process-wide set of SOCKS engine metrics.
type Counters struct {
	historicConnections atomic.Uint64
	currentConnections  atomic.Int64
	bytesSent            atomic.Uint64
	bytesReceived        atomic.Uint64
	authSuccess          atomic.Uint64
	authFailure          atomic.Uint64
}

// New returns a zeroed Counters ready for use.
func New() *Counters { return &Counters{} }

// NewConnection records a freshly accepted connection.
func (c *Counters) NewConnection() {
	c.historicConnections.Add(1)
	c.currentConnections.Add(1)
}

// CloseConnection records a torn-down connection.
func (c *Counters) CloseConnection() {
	c.currentConnections.Add(-1)
}

// AddBytesSent adds to the bytes_sent counter (client-direction writes).
func (c *Counters) AddBytesSent(n uint64) { c.bytesSent.Add(n) }

// AddBytesReceived adds to the bytes_received counter (client-direction reads).
func (c *Counters) AddBytesReceived(n uint64) { c.bytesReceived.Add(n) }

// AuthSuccess records a successful RFC 1929 authentication.
func (c *Counters) AuthSuccess() { c.authSuccess.Add(1) }

// AuthFailure records a failed RFC 1929 authentication.
func (c *Counters) AuthFailure() { c.authFailure.Add(1) }

// Snapshot is a point-in-time, non-atomic copy of all counters, suitable
// for printing or for the management protocol's STATS reply.
type Snapshot struct {
	HistoricConnections uint64
	CurrentConnections  int64
	BytesSent           uint64
	BytesReceived       uint64
	AuthSuccess         uint64
	AuthFailure         uint64
}

// Snapshot reads all counters. Individual fields may be torn relative to
// each other under concurrent updates; this is acceptable for monitoring
// output, never for correctness decisions.
func (c *Counters) Snapshot() Snapshot {
	return Snapshot{
		HistoricConnections: c.historicConnections.Load(),
		CurrentConnections:  c.currentConnections.Load(),
		BytesSent:           c.bytesSent.Load(),
		BytesReceived:       c.bytesReceived.Load(),
		AuthSuccess:         c.authSuccess.Load(),
		AuthFailure:         c.authFailure.Load(),
	}
}

// Print writes a human-readable snapshot to w, in the format the
// SIGUSR1 handler emits.
func (c *Counters) Print(w io.Writer) {
	s := c.Snapshot()
	fmt.Fprintf(w, "historic_connections: %d\n", s.HistoricConnections)
	fmt.Fprintf(w, "current_connections:  %d\n", s.CurrentConnections)
	fmt.Fprintf(w, "bytes_sent:           %d\n", s.BytesSent)
	fmt.Fprintf(w, "bytes_received:       %d\n", s.BytesReceived)
	fmt.Fprintf(w, "auth_success:         %d\n", s.AuthSuccess)
	fmt.Fprintf(w, "auth_failure:         %d\n", s.AuthFailure)
}
