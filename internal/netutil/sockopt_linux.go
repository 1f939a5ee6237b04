//go:build linux

package netutil

import "golang.org/x/sys/unix"

// tuneListener reuses the address so a restart doesn't hit "address in
// use", and relaxes IPV6_V6ONLY so one dual-stack socket serves both
// address families.
func tuneListener(fd int) error {
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		return err
	}
	// Best-effort: only meaningful for AF_INET6 sockets, harmless no-op
	// (or a benign error, ignored) on AF_INET.
	_ = unix.SetsockoptInt(fd, unix.IPPROTO_IPV6, unix.IPV6_V6ONLY, 0)
	return nil
}

// tuneOutbound disables Nagle's algorithm and enables keepalive with
// short probe timing, suited to a proxy's many short-to-medium-lived
// origin connections.
func tuneOutbound(fd int) error {
	if err := unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_NODELAY, 1); err != nil {
		return err
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_KEEPALIVE, 1); err != nil {
		return err
	}
	if err := unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_KEEPIDLE, 30); err != nil {
		return err
	}
	if err := unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_KEEPINTVL, 10); err != nil {
		return err
	}
	return unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_KEEPCNT, 3)
}
