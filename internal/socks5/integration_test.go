package socks5

import (
	"context"
	"errors"
	"io"
	"log"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jicanta-labs/socks5ev/internal/userstore"
)

// fakeResolver lets tests control DNS outcomes deterministically
// instead of depending on a live resolver (spec.md §8 scenario S5).
type fakeResolver struct {
	addrs map[string][]net.IP
}

func (f *fakeResolver) Resolve(_ context.Context, host string) ([]net.IP, error) {
	addrs, ok := f.addrs[host]
	if !ok {
		return nil, errors.New("socks5: host resolution failed: no such host")
	}
	return addrs, nil
}

// startEchoOrigin runs a one-shot TCP echo server and returns its
// address. It accepts a single connection and echoes everything it
// reads until EOF or the test ends.
func startEchoOrigin(t *testing.T) net.Addr {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		io.Copy(conn, conn)
	}()
	return ln.Addr()
}

func startTestServer(t *testing.T, cfg ServerConfig) *Server {
	t.Helper()
	if cfg.Logger == nil {
		cfg.Logger = log.New(io.Discard, "", 0)
	}
	if cfg.BufSize == 0 {
		cfg.BufSize = 256
	}
	srv, err := NewServer(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { srv.Close() })

	stopped := make(chan struct{})
	stop := make(chan struct{})
	go func() {
		defer close(stopped)
		for {
			select {
			case <-stop:
				return
			default:
				srv.Selector().RunOnce(50 * time.Millisecond)
			}
		}
	}()
	t.Cleanup(func() {
		close(stop)
		<-stopped
	})
	return srv
}

func dialServer(t *testing.T, srv *Server) net.Conn {
	t.Helper()
	addr, err := srv.Addr()
	require.NoError(t, err)
	conn, err := net.DialTimeout("tcp", addr.String(), time.Second)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	conn.SetDeadline(time.Now().Add(5 * time.Second))
	return conn
}

func ipv4Request(ip net.IP, port uint16) []byte {
	req := []byte{Version, CmdConnect, 0x00, AtypIPv4}
	req = append(req, ip.To4()...)
	portBytes := make([]byte, 2)
	portBytes[0] = byte(port >> 8)
	portBytes[1] = byte(port)
	return append(req, portBytes...)
}

func readN(t *testing.T, conn net.Conn, n int) []byte {
	t.Helper()
	buf := make([]byte, n)
	_, err := io.ReadFull(conn, buf)
	require.NoError(t, err)
	return buf
}

// TestScenarioNoAuthEcho is spec.md §8 scenario S1.
func TestScenarioNoAuthEcho(t *testing.T) {
	origin := startEchoOrigin(t)
	srv := startTestServer(t, ServerConfig{Port: 0})
	conn := dialServer(t, srv)

	_, err := conn.Write([]byte{Version, 0x01, MethodNone})
	require.NoError(t, err)
	require.Equal(t, []byte{Version, MethodNone}, readN(t, conn, 2))

	tcpAddr := origin.(*net.TCPAddr)
	_, err = conn.Write(ipv4Request(tcpAddr.IP, uint16(tcpAddr.Port)))
	require.NoError(t, err)

	reply := readN(t, conn, 10)
	require.Equal(t, byte(Version), reply[0])
	require.Equal(t, byte(RepSuccess), reply[1])

	_, err = conn.Write([]byte("HELLO"))
	require.NoError(t, err)
	require.Equal(t, "HELLO", string(readN(t, conn, 5)))
}

// TestScenarioUserPassSuccess is spec.md §8 scenario S2.
func TestScenarioUserPassSuccess(t *testing.T) {
	origin := startEchoOrigin(t)
	srv := startTestServer(t, ServerConfig{
		Port:  0,
		Users: []userstore.Credential{{Name: "u", Password: "p"}},
	})
	conn := dialServer(t, srv)

	_, err := conn.Write([]byte{Version, 0x01, MethodUserPass})
	require.NoError(t, err)
	require.Equal(t, []byte{Version, MethodUserPass}, readN(t, conn, 2))

	_, err = conn.Write([]byte{authVersion, 1, 'u', 1, 'p'})
	require.NoError(t, err)
	require.Equal(t, []byte{authVersion, authStatusSuccess}, readN(t, conn, 2))

	tcpAddr := origin.(*net.TCPAddr)
	_, err = conn.Write(ipv4Request(tcpAddr.IP, uint16(tcpAddr.Port)))
	require.NoError(t, err)
	reply := readN(t, conn, 10)
	require.Equal(t, byte(RepSuccess), reply[1])
}

// TestScenarioUserPassFailure is spec.md §8 scenario S3.
func TestScenarioUserPassFailure(t *testing.T) {
	srv := startTestServer(t, ServerConfig{
		Port:  0,
		Users: []userstore.Credential{{Name: "u", Password: "p"}},
	})
	conn := dialServer(t, srv)

	_, err := conn.Write([]byte{Version, 0x01, MethodUserPass})
	require.NoError(t, err)
	require.Equal(t, []byte{Version, MethodUserPass}, readN(t, conn, 2))

	_, err = conn.Write([]byte{authVersion, 1, 'u', 1, 'x'})
	require.NoError(t, err)
	require.Equal(t, []byte{authVersion, authStatusFailure}, readN(t, conn, 2))

	require.Eventually(t, func() bool {
		snap := srv.Metrics().Snapshot()
		return snap.AuthFailure == 1
	}, time.Second, 10*time.Millisecond)

	buf := make([]byte, 1)
	conn.SetDeadline(time.Now().Add(time.Second))
	_, err = conn.Read(buf)
	require.ErrorIs(t, err, io.EOF)
}

// TestScenarioCommandNotSupported is spec.md §8 scenario S4.
func TestScenarioCommandNotSupported(t *testing.T) {
	srv := startTestServer(t, ServerConfig{Port: 0})
	conn := dialServer(t, srv)

	_, err := conn.Write([]byte{Version, 0x01, MethodNone})
	require.NoError(t, err)
	require.Equal(t, []byte{Version, MethodNone}, readN(t, conn, 2))

	req := []byte{Version, CmdBind, 0x00, AtypIPv4, 127, 0, 0, 1, 0x00, 0x50}
	_, err = conn.Write(req)
	require.NoError(t, err)
	reply := readN(t, conn, 10)
	require.Equal(t, byte(RepCommandNotSupported), reply[1])
}

// TestScenarioHostUnreachable is spec.md §8 scenario S5.
func TestScenarioHostUnreachable(t *testing.T) {
	srv := startTestServer(t, ServerConfig{
		Port:     0,
		Resolver: &fakeResolver{addrs: map[string][]net.IP{}},
	})
	conn := dialServer(t, srv)

	_, err := conn.Write([]byte{Version, 0x01, MethodNone})
	require.NoError(t, err)
	require.Equal(t, []byte{Version, MethodNone}, readN(t, conn, 2))

	host := "nonexist.tld"
	req := []byte{Version, CmdConnect, 0x00, AtypDomain, byte(len(host))}
	req = append(req, host...)
	req = append(req, 0x00, 0x50)
	_, err = conn.Write(req)
	require.NoError(t, err)
	reply := readN(t, conn, 10)
	require.Equal(t, byte(RepHostUnreachable), reply[1])
}

// TestScenarioHalfClose is spec.md §8 scenario S6: origin closes its
// write side after sending N bytes; the client must see all N bytes
// then EOF, with the origin's read side remaining independent.
func TestScenarioHalfClose(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	payload := []byte("half-close-payload")
	go func() {
		c, err := ln.Accept()
		if err != nil {
			return
		}
		defer c.Close()
		c.Write(payload)
		if tcp, ok := c.(*net.TCPConn); ok {
			tcp.CloseWrite()
		}
		io.Copy(io.Discard, c)
	}()

	srv := startTestServer(t, ServerConfig{Port: 0})
	conn := dialServer(t, srv)

	_, err = conn.Write([]byte{Version, 0x01, MethodNone})
	require.NoError(t, err)
	require.Equal(t, []byte{Version, MethodNone}, readN(t, conn, 2))

	tcpAddr := ln.Addr().(*net.TCPAddr)
	_, err = conn.Write(ipv4Request(tcpAddr.IP, uint16(tcpAddr.Port)))
	require.NoError(t, err)
	reply := readN(t, conn, 10)
	require.Equal(t, byte(RepSuccess), reply[1])

	got := readN(t, conn, len(payload))
	require.Equal(t, payload, got)

	buf := make([]byte, 1)
	_, err = conn.Read(buf)
	require.ErrorIs(t, err, io.EOF)
}

// TestScenarioAddressFallback is spec.md §8 testable property 8: the
// first candidate is unreachable, the second succeeds.
func TestScenarioAddressFallback(t *testing.T) {
	origin := startEchoOrigin(t)
	tcpAddr := origin.(*net.TCPAddr)

	deadLn, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	deadAddr := deadLn.Addr().(*net.TCPAddr)
	deadLn.Close() // closed immediately: connect to it fails fast

	srv := startTestServer(t, ServerConfig{
		Port: 0,
		Resolver: &fakeResolver{addrs: map[string][]net.IP{
			"multi.test": {deadAddr.IP, tcpAddr.IP},
		}},
	})
	conn := dialServer(t, srv)

	_, err = conn.Write([]byte{Version, 0x01, MethodNone})
	require.NoError(t, err)
	require.Equal(t, []byte{Version, MethodNone}, readN(t, conn, 2))

	host := "multi.test"
	req := []byte{Version, CmdConnect, 0x00, AtypDomain, byte(len(host))}
	req = append(req, host...)
	req = append(req, byte(tcpAddr.Port>>8), byte(tcpAddr.Port))
	_, err = conn.Write(req)
	require.NoError(t, err)
	reply := readN(t, conn, 10)
	require.Equal(t, byte(RepSuccess), reply[1])

	_, err = conn.Write([]byte("ping"))
	require.NoError(t, err)
	require.Equal(t, "ping", string(readN(t, conn, 4)))
}
