// Package netutil wraps the raw, non-blocking socket operations the
// SOCKS engine drives directly through the selector rather than through
// net.Conn, whose built-in runtime poller can't be bridged into our own
// readiness loop. Every descriptor the selector registers originates
// here.
package netutil

import (
	"fmt"
	"net"

	"golang.org/x/sys/unix"
)

// Listen opens the primary SOCKS listening socket on port, bound to
// addr if non-empty. With an empty addr it first tries a dual-stack
// IPv6 socket bound to "::" with IPV6_V6ONLY disabled; on any error it
// falls back to an IPv4-only socket bound to INADDR_ANY.
// SO_REUSEADDR is set and the backlog is the system maximum
// (unix.SOMAXCONN).
func Listen(addr string, port int) (int, error) {
	if addr != "" {
		ip := net.ParseIP(addr)
		if ip == nil {
			return -1, fmt.Errorf("listen: invalid address %q", addr)
		}
		family := unix.AF_INET
		if ip.To4() == nil {
			family = unix.AF_INET6
		}
		return listenFamily(family, ip, port)
	}
	if fd, err := listenFamily(unix.AF_INET6, nil, port); err == nil {
		return fd, nil
	}
	return listenFamily(unix.AF_INET, nil, port)
}

func listenFamily(family int, ip net.IP, port int) (int, error) {
	fd, err := unix.Socket(family, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return -1, fmt.Errorf("socket: %w", err)
	}
	if err := tuneListener(fd); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("setsockopt: %w", err)
	}

	var sa unix.Sockaddr
	if family == unix.AF_INET6 {
		s := &unix.SockaddrInet6{Port: port}
		if ip != nil {
			copy(s.Addr[:], ip.To16())
		}
		sa = s
	} else {
		s := &unix.SockaddrInet4{Port: port}
		if ip != nil {
			copy(s.Addr[:], ip.To4())
		}
		sa = s
	}
	if err := unix.Bind(fd, sa); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("bind :%d: %w", port, err)
	}
	if err := unix.Listen(fd, unix.SOMAXCONN); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("listen :%d: %w", port, err)
	}
	return fd, nil
}

// Accept accepts one pending connection on a non-blocking listening
// socket, returning the new non-blocking client fd and its peer address.
// A -1, nil, unix.EAGAIN return means no connection was pending
// (spurious wakeup or a raced Edge case); the caller should treat it as
// "nothing to do", not an error.
func Accept(listenFd int) (int, net.Addr, error) {
	fd, sa, err := unix.Accept4(listenFd, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
	if err != nil {
		return -1, nil, err
	}
	return fd, sockaddrToAddr(sa), nil
}

// DialNonblocking creates a non-blocking socket and initiates a
// connect(2) to ip:port. If the connect completes asynchronously the
// returned inProgress is true and the caller must register fd for WRITE
// readiness and later call ConnectError to learn the outcome. If it
// succeeds immediately, inProgress is false and err is nil. If it
// fails immediately, fd is closed and err is non-nil.
func DialNonblocking(ip net.IP, port int) (fd int, inProgress bool, err error) {
	family := unix.AF_INET
	if ip.To4() == nil {
		family = unix.AF_INET6
	}
	fd, err = unix.Socket(family, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return -1, false, fmt.Errorf("socket: %w", err)
	}
	if err := tuneOutbound(fd); err != nil {
		unix.Close(fd)
		return -1, false, fmt.Errorf("setsockopt: %w", err)
	}

	sa := addrToSockaddr(ip, port)
	err = unix.Connect(fd, sa)
	switch err {
	case nil:
		return fd, false, nil
	case unix.EINPROGRESS:
		return fd, true, nil
	default:
		unix.Close(fd)
		return -1, false, err
	}
}

// ConnectError returns the pending error (if any) recorded on fd by a
// non-blocking connect(2) that just became writable. A nil return means
// the connection succeeded.
func ConnectError(fd int) error {
	errno, err := unix.GetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_ERROR)
	if err != nil {
		return err
	}
	if errno != 0 {
		return unix.Errno(errno)
	}
	return nil
}

// LocalAddr returns the locally-bound address of fd, used for the
// REQUEST success reply's optional true BND.ADDR/BND.PORT.
func LocalAddr(fd int) (net.Addr, error) {
	sa, err := unix.Getsockname(fd)
	if err != nil {
		return nil, err
	}
	return sockaddrToAddr(sa), nil
}

// IsWouldBlock reports whether err is the "try again" errno a
// non-blocking socket returns when no data/space is currently available.
func IsWouldBlock(err error) bool {
	return err == unix.EAGAIN || err == unix.EWOULDBLOCK
}

// Close closes a raw descriptor, ignoring EBADF (already closed).
func Close(fd int) error {
	err := unix.Close(fd)
	if err == unix.EBADF {
		return nil
	}
	return err
}

// Read and Write are thin wrappers so callers outside this package never
// import golang.org/x/sys/unix directly; they return (n, err) exactly
// like unix.Read/Write, including unix.EAGAIN for "nothing available"
// on a non-blocking descriptor.
func Read(fd int, p []byte) (int, error)  { return unix.Read(fd, p) }
func Write(fd int, p []byte) (int, error) { return unix.Write(fd, p) }

// ShutdownRead and ShutdownWrite perform a half-close (shutdown(2)).
func ShutdownRead(fd int) error  { return unix.Shutdown(fd, unix.SHUT_RD) }
func ShutdownWrite(fd int) error { return unix.Shutdown(fd, unix.SHUT_WR) }

func addrToSockaddr(ip net.IP, port int) unix.Sockaddr {
	if v4 := ip.To4(); v4 != nil {
		var a [4]byte
		copy(a[:], v4)
		return &unix.SockaddrInet4{Port: port, Addr: a}
	}
	var a [16]byte
	copy(a[:], ip.To16())
	return &unix.SockaddrInet6{Port: port, Addr: a}
}

// ListenUDP opens a non-blocking UDP socket bound to port, on addr if
// non-empty or on all IPv4 interfaces otherwise. Used by the management
// protocol listener.
func ListenUDP(addr string, port int) (int, error) {
	sa := &unix.SockaddrInet4{Port: port}
	if addr != "" {
		ip := net.ParseIP(addr)
		if ip == nil || ip.To4() == nil {
			return -1, fmt.Errorf("listen udp: invalid IPv4 address %q", addr)
		}
		copy(sa.Addr[:], ip.To4())
	}

	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_DGRAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return -1, fmt.Errorf("socket: %w", err)
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("setsockopt: %w", err)
	}
	if err := unix.Bind(fd, sa); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("bind :%d: %w", port, err)
	}
	return fd, nil
}

// RecvFrom reads one datagram and its source address.
func RecvFrom(fd int, p []byte) (int, net.Addr, error) {
	n, sa, err := unix.Recvfrom(fd, p, 0)
	if err != nil {
		return 0, nil, err
	}
	return n, sockaddrToAddr(sa), nil
}

// SendTo writes one datagram to addr.
func SendTo(fd int, p []byte, addr net.Addr) error {
	udpAddr, ok := addr.(*net.TCPAddr) // peer addresses from RecvFrom share net.TCPAddr shape
	if !ok {
		return fmt.Errorf("netutil: unsupported address type %T", addr)
	}
	sa := addrToSockaddr(udpAddr.IP, udpAddr.Port)
	return unix.Sendto(fd, p, 0, sa)
}

func sockaddrToAddr(sa unix.Sockaddr) net.Addr {
	switch s := sa.(type) {
	case *unix.SockaddrInet4:
		return &net.TCPAddr{IP: net.IP(s.Addr[:]), Port: s.Port}
	case *unix.SockaddrInet6:
		return &net.TCPAddr{IP: net.IP(s.Addr[:]), Port: s.Port}
	default:
		return nil
	}
}
