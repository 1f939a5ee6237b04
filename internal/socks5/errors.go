package socks5

import "errors"

// Sentinel errors for the taxonomy in spec.md §7. Each is recovered
// locally, without ever panicking the selector loop. For the method,
// auth, command, address-type, resolve and connect failures a protocol
// reply is emitted and the connection then moves to StateError. A
// version mismatch moves straight to StateError with no reply. Capacity
// closes the accepted descriptor before any Connection is started, with
// no SOCKS reply.
var (
	ErrProtocolVersion    = errors.New("socks5: protocol version mismatch")
	ErrMethodUnacceptable = errors.New("socks5: no acceptable auth method")
	ErrAuthFailed         = errors.New("socks5: authentication failed")
	ErrCommandUnsupported = errors.New("socks5: command not supported")
	ErrAtypNotSupported   = errors.New("socks5: address type not supported")
	ErrResolveFailed      = errors.New("socks5: host resolution failed")
	ErrConnectRefused     = errors.New("socks5: connection refused")
	ErrCapacity           = errors.New("socks5: connection capacity reached")
)
