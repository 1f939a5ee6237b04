//go:build !linux

package netutil

import "golang.org/x/sys/unix"

// tuneListener is the portable fallback: only SO_REUSEADDR, since
// IPV6_V6ONLY handling varies enough across BSD-family kernels that the
// Linux-only tuning in sockopt_linux.go isn't assumed to apply.
func tuneListener(fd int) error {
	return unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
}

// tuneOutbound applies a reduced, still meaningful no-frills tuning on
// non-Linux platforms.
func tuneOutbound(fd int) error {
	if err := unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_NODELAY, 1); err != nil {
		return err
	}
	return unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_KEEPALIVE, 1)
}
