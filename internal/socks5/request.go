package socks5

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"net"

	"github.com/jicanta-labs/socks5ev/internal/netutil"
	"github.com/jicanta-labs/socks5ev/internal/selector"
	"github.com/jicanta-labs/socks5ev/internal/sm"
)

// requestParser incrementally consumes a CONNECT request:
// VER(1)=0x05, CMD(1), RSV(1)=0x00, ATYP(1), DST.ADDR(var), DST.PORT(2).
type requestParser struct {
	phase   requestPhase
	cmd     byte
	atyp    byte
	addrLen int // FQDN only: length byte read before the name itself
	addr    []byte
	port    [2]byte
	portPos int

	// Populated once done.
	IP     net.IP // set when ATYP is IPv4/IPv6
	Domain string // set when ATYP is FQDN
	Port   uint16
}

type requestPhase int

const (
	reqVersion requestPhase = iota
	reqCmd
	reqRsv
	reqAtyp
	reqFQDNLen
	reqAddr
	reqPort
	reqDone
)

func (p *requestParser) feed(data []byte) (consumed int, done bool, err error) {
	i := 0
	for i < len(data) {
		switch p.phase {
		case reqVersion:
			if data[i] != Version {
				return i + 1, false, fmt.Errorf("socks5: request: bad version byte 0x%02x", data[i])
			}
			p.phase = reqCmd
			i++
		case reqCmd:
			p.cmd = data[i]
			p.phase = reqRsv
			i++
		case reqRsv:
			// RSV must be 0x00 but a non-conformant client is not worth
			// failing the whole request over; ignore its value.
			p.phase = reqAtyp
			i++
		case reqAtyp:
			p.atyp = data[i]
			i++
			switch p.atyp {
			case AtypIPv4:
				p.addr = make([]byte, 0, 4)
				p.phase = reqAddr
			case AtypIPv6:
				p.addr = make([]byte, 0, 16)
				p.phase = reqAddr
			case AtypDomain:
				p.phase = reqFQDNLen
			default:
				return i, false, fmt.Errorf("%w: atyp 0x%02x", ErrAtypNotSupported, p.atyp)
			}
		case reqFQDNLen:
			p.addrLen = int(data[i])
			p.addr = make([]byte, 0, p.addrLen)
			p.phase = reqAddr
			i++
		case reqAddr:
			want := cap(p.addr)
			need := want - len(p.addr)
			n := min(need, len(data)-i)
			p.addr = append(p.addr, data[i:i+n]...)
			i += n
			if len(p.addr) == want {
				switch p.atyp {
				case AtypIPv4, AtypIPv6:
					p.IP = net.IP(p.addr)
				case AtypDomain:
					p.Domain = string(p.addr)
				}
				p.phase = reqPort
			}
		case reqPort:
			p.port[p.portPos] = data[i]
			p.portPos++
			i++
			if p.portPos == 2 {
				p.Port = binary.BigEndian.Uint16(p.port[:])
				p.phase = reqDone
				return i, true, nil
			}
		}
	}
	return i, p.phase == reqDone, nil
}

// buildRequestReply writes the SOCKS5 reply VER,REP,RSV,ATYP,BND.ADDR,
// BND.PORT into dst, returning the number of bytes written. A nil
// bindIP yields the zero IPv4 address, which spec.md §4.6 permits for
// any reply (the client need not trust the bound address).
func buildRequestReply(dst []byte, rep byte, bindIP net.IP, bindPort uint16) int {
	dst[0] = Version
	dst[1] = rep
	dst[2] = 0x00 // RSV

	n := 4
	if v4 := bindIP.To4(); bindIP != nil && v4 != nil {
		dst[3] = AtypIPv4
		copy(dst[4:8], v4)
		n = 8
	} else if bindIP != nil {
		dst[3] = AtypIPv6
		copy(dst[4:20], bindIP.To16())
		n = 20
	} else {
		dst[3] = AtypIPv4
		n = 8 // dst[4:8] already zero
	}
	binary.BigEndian.PutUint16(dst[n:n+2], bindPort)
	return n + 2
}

// Dialer initiates a non-blocking connect to ip:port, matching
// netutil.DialNonblocking's contract exactly: fd is always a fresh
// non-blocking socket on a nil error, inProgress is true when the
// connect is still completing asynchronously (the common case for a
// real TCP dial) and false when it has already succeeded synchronously
// (spec.md §4.6 step 3's other named outcome). Tests substitute a stub
// to exercise the synchronous-success branch deterministically.
type Dialer func(ip net.IP, port int) (fd int, inProgress bool, err error)

// requestTryConsume feeds buffered rb bytes to the request parser. Once
// the CONNECT request is fully parsed it either stages a failure reply
// directly (bad command or ATYP) or kicks off resolution/connection.
func (c *Connection) requestTryConsume() sm.State {
	if !c.rb.CanRead() {
		return StateRequestRead
	}
	n, done, err := c.req.feed(c.rb.Readable())
	c.rb.AdvanceRead(n)
	if err != nil {
		if errors.Is(err, ErrAtypNotSupported) {
			return c.failRequest(RepAtypNotSupported)
		}
		c.sh.logger.Printf("[request] %v: %v", ErrProtocolVersion, err)
		return StateError
	}
	if !done {
		return StateRequestRead
	}
	if c.req.cmd != CmdConnect {
		return c.failRequest(RepCommandNotSupported)
	}

	c.pendingPort = c.req.Port
	if c.req.Domain != "" {
		c.pendingHost = c.req.Domain
		c.destDisplay = fmt.Sprintf("%s:%d", c.req.Domain, c.req.Port)
		return StateRequestResolving
	}

	c.pendingHost = c.req.IP.String()
	c.resolvedAddrs = []net.IP{c.req.IP}
	c.addrCursor = 0
	c.destDisplay = fmt.Sprintf("%s:%d", c.req.IP.String(), c.req.Port)
	return c.startConnectAttempts()
}

// failRequest stages a failure reply in wb and arranges for StateError
// to follow once it flushes (spec.md §7: every failure reply is
// followed by close).
func (c *Connection) failRequest(rep byte) sm.State {
	n := buildRequestReply(c.wb.Writable(), rep, nil, 0)
	c.wb.AdvanceWrite(n)
	c.pendingNext = StateError
	c.logAccess(false)
	if err := replyError(rep); err != nil {
		c.sh.logger.Printf("[request] %s -> %v", c.destDisplay, err)
	}
	return StateRequestWrite
}

// replyError maps a REQUEST failure reply code back to its sentinel
// error, for the access log line (spec.md §7's taxonomy).
func replyError(rep byte) error {
	switch rep {
	case RepCommandNotSupported:
		return ErrCommandUnsupported
	case RepAtypNotSupported:
		return ErrAtypNotSupported
	case RepHostUnreachable:
		return ErrResolveFailed
	case RepConnectionRefused:
		return ErrConnectRefused
	default:
		return nil
	}
}

// onResolvingArrival performs the synchronous DNS lookup spec.md §4.6
// calls for and immediately forces the state machine onward — design
// note §9 points out this inline resolve is exactly why
// REQUEST_RESOLVING exists as a distinct state with its own arrival
// hook, ready for a future worker-backed resolver to resume through
// Notify/HandleBlock instead.
func (c *Connection) onResolvingArrival() {
	ctx, cancel := context.WithTimeout(context.Background(), resolveTimeout)
	defer cancel()

	addrs, err := c.sh.resolver.Resolve(ctx, c.pendingHost)
	if err != nil {
		c.driver.Force(c.failRequest(RepHostUnreachable))
		return
	}
	c.resolvedAddrs = addrs
	c.addrCursor = 0
	c.driver.Force(c.startConnectAttempts())
}

// startConnectAttempts walks the resolved candidate list from
// addrCursor onward, trying a non-blocking connect to each in turn
// (spec.md §4.6 step 3) until one is in progress or succeeds
// immediately, or the list is exhausted.
func (c *Connection) startConnectAttempts() sm.State {
	for c.addrCursor < len(c.resolvedAddrs) {
		ip := c.resolvedAddrs[c.addrCursor]
		fd, inProgress, err := c.sh.dialer(ip, int(c.pendingPort))
		if err != nil {
			c.addrCursor++
			continue
		}

		c.originFd = fd
		c.refCount++
		// Register before branching: both the in-progress and the
		// synchronous-success outcome leave the origin fd live for the
		// rest of the connection (COPY's recomputeInterest retargets
		// this same registration via SetInterest), so an unregistered
		// fd here would be invisible to the selector forever.
		_ = c.sh.sel.Register(fd, selector.Write, &c.originHandler)

		if inProgress {
			// spec.md §4.6: client descriptor interest is NOOP while connecting.
			_ = c.sh.sel.SetInterest(c.clientFd, selector.None)
			return StateRequestConnecting
		}
		return c.onOriginEstablished()
	}
	return c.failRequest(RepConnectionRefused)
}

// onConnectWritable fires when the origin descriptor becomes writable
// during REQUEST_CONNECTING; it inspects SO_ERROR to learn whether the
// non-blocking connect actually succeeded.
func (c *Connection) onConnectWritable() sm.State {
	err := netutil.ConnectError(c.originFd)
	if err != nil {
		_ = c.sh.sel.Unregister(c.originFd)
		_ = netutil.Close(c.originFd)
		c.originFd = -1
		c.refCount--
		c.addrCursor++
		return c.startConnectAttempts()
	}
	return c.onOriginEstablished()
}

// onOriginEstablished stages the success reply once the origin socket
// is connected, using the true locally-bound endpoint (spec.md §4.6
// step 5 permits zeros; we have the real value already, so we use it).
func (c *Connection) onOriginEstablished() sm.State {
	var bindIP net.IP
	var bindPort uint16
	if local, err := netutil.LocalAddr(c.originFd); err == nil {
		if tcp, ok := local.(*net.TCPAddr); ok {
			bindIP, bindPort = tcp.IP, uint16(tcp.Port)
		}
	}

	n := buildRequestReply(c.wb.Writable(), RepSuccess, bindIP, bindPort)
	c.wb.AdvanceWrite(n)
	c.pendingNext = StateCopy
	c.logAccess(true)
	return StateRequestWrite
}
