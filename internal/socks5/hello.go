package socks5

import (
	"fmt"

	"github.com/jicanta-labs/socks5ev/internal/sm"
)

// helloParser incrementally consumes the client greeting
// (VER(1)=0x05, NMETHODS(1)=N, METHODS(N)) across however many reads it
// takes to arrive, per the design note that parsers are pure state
// machines over a byte stream — their "I/O" is the buffer passed to
// feed, not the socket.
type helloParser struct {
	phase        helloPhase
	nmethods     int
	methodsSeen  int
	haveNone     bool
	haveUserPass bool
}

type helloPhase int

const (
	helloVersion helloPhase = iota
	helloNMethods
	helloMethods
	helloDone
)

// feed consumes as much of data as forms complete fields, returning how
// many bytes it used. done is true once the full greeting has been
// parsed; err is non-nil on a protocol violation (bad VER byte).
func (p *helloParser) feed(data []byte) (consumed int, done bool, err error) {
	i := 0
	for i < len(data) {
		switch p.phase {
		case helloVersion:
			if data[i] != Version {
				return i + 1, false, fmt.Errorf("socks5: hello: bad version byte 0x%02x", data[i])
			}
			p.phase = helloNMethods
			i++
		case helloNMethods:
			p.nmethods = int(data[i])
			p.phase = helloMethods
			i++
			if p.nmethods == 0 {
				p.phase = helloDone
				return i, true, nil
			}
		case helloMethods:
			m := data[i]
			if m == MethodNone {
				p.haveNone = true
			} else if m == MethodUserPass {
				p.haveUserPass = true
			}
			p.methodsSeen++
			i++
			if p.methodsSeen == p.nmethods {
				p.phase = helloDone
				return i, true, nil
			}
		}
	}
	return i, p.phase == helloDone, nil
}

// selectMethod applies the priority policy from spec.md §4.4: USERPASS
// beats NONE whenever auth is required, NONE is only selectable when
// auth is not required, otherwise no method is acceptable.
func selectMethod(haveNone, haveUserPass, authRequired bool) byte {
	if !authRequired && haveNone {
		return MethodNone
	}
	if haveUserPass {
		return MethodUserPass
	}
	return MethodNoAcceptable
}

// buildHelloReply writes VER, METHOD into dst, returning the number of
// bytes written.
func buildHelloReply(dst []byte, method byte) int {
	dst[0] = Version
	dst[1] = method
	return 2
}

// helloTryConsume feeds whatever is buffered in rb to the hello parser.
// Once the greeting is complete it picks a method, stages the reply in
// wb, and records which state should follow once that reply flushes.
func (c *Connection) helloTryConsume() sm.State {
	if !c.rb.CanRead() {
		return StateHelloRead
	}
	n, done, err := c.hello.feed(c.rb.Readable())
	c.rb.AdvanceRead(n)
	if err != nil {
		c.sh.logger.Printf("[hello] %v: %v", ErrProtocolVersion, err)
		return StateError
	}
	if !done {
		return StateHelloRead
	}

	method := selectMethod(c.hello.haveNone, c.hello.haveUserPass, c.sh.users.AuthRequired())
	c.selectedMethod = method
	nn := buildHelloReply(c.wb.Writable(), method)
	c.wb.AdvanceWrite(nn)

	switch method {
	case MethodNoAcceptable:
		c.pendingNext = StateError
		c.sh.logger.Printf("[hello] %v", ErrMethodUnacceptable)
	case MethodUserPass:
		c.pendingNext = StateAuthRead
	default:
		c.pendingNext = StateRequestRead
	}
	return StateHelloWrite
}
