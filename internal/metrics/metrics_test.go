package metrics

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCountersLifecycle(t *testing.T) {
	c := New()
	c.NewConnection()
	c.NewConnection()
	c.CloseConnection()

	s := c.Snapshot()
	require.Equal(t, uint64(2), s.HistoricConnections)
	require.Equal(t, int64(1), s.CurrentConnections)
}

func TestCountersBytesAndAuth(t *testing.T) {
	c := New()
	c.AddBytesSent(10)
	c.AddBytesReceived(20)
	c.AuthSuccess()
	c.AuthFailure()
	c.AuthFailure()

	s := c.Snapshot()
	require.Equal(t, uint64(10), s.BytesSent)
	require.Equal(t, uint64(20), s.BytesReceived)
	require.Equal(t, uint64(1), s.AuthSuccess)
	require.Equal(t, uint64(2), s.AuthFailure)
}

func TestCountersPrint(t *testing.T) {
	c := New()
	c.NewConnection()
	var buf bytes.Buffer
	c.Print(&buf)
	require.Contains(t, buf.String(), "historic_connections: 1")
	require.Contains(t, buf.String(), "current_connections:  1")
}
