package socks5

import (
	"fmt"

	"github.com/jicanta-labs/socks5ev/internal/sm"
)

// authParser incrementally consumes an RFC 1929 username/password
// sub-negotiation: VER(1)=0x01, ULEN(1), UNAME(ULEN), PLEN(1),
// PASSWD(PLEN). Both lengths must be in 1..255; a zero length is a
// protocol error.
//
// This struct is allocated per connection (see Connection.authParser):
// a shared parsing index would let two concurrent authentications
// silently corrupt each other's progress.
type authParser struct {
	phase  authPhase
	ulen   int
	uname  []byte
	plen   int
	passwd []byte
}

type authPhase int

const (
	authVersionPhase authPhase = iota
	authULen
	authUName
	authPLen
	authPasswd
	authDone
)

func (p *authParser) feed(data []byte) (consumed int, done bool, err error) {
	i := 0
	for i < len(data) {
		switch p.phase {
		case authVersionPhase:
			if data[i] != authVersion {
				return i + 1, false, fmt.Errorf("socks5: auth: bad version byte 0x%02x", data[i])
			}
			p.phase = authULen
			i++
		case authULen:
			p.ulen = int(data[i])
			if p.ulen == 0 {
				return i + 1, false, fmt.Errorf("socks5: auth: zero-length username")
			}
			p.uname = make([]byte, 0, p.ulen)
			p.phase = authUName
			i++
		case authUName:
			need := p.ulen - len(p.uname)
			n := min(need, len(data)-i)
			p.uname = append(p.uname, data[i:i+n]...)
			i += n
			if len(p.uname) == p.ulen {
				p.phase = authPLen
			}
		case authPLen:
			p.plen = int(data[i])
			if p.plen == 0 {
				return i + 1, false, fmt.Errorf("socks5: auth: zero-length password")
			}
			p.passwd = make([]byte, 0, p.plen)
			p.phase = authPasswd
			i++
		case authPasswd:
			need := p.plen - len(p.passwd)
			n := min(need, len(data)-i)
			p.passwd = append(p.passwd, data[i:i+n]...)
			i += n
			if len(p.passwd) == p.plen {
				p.phase = authDone
				return i, true, nil
			}
		}
	}
	return i, p.phase == authDone, nil
}

func buildAuthReply(dst []byte, status byte) int {
	dst[0] = authVersion
	dst[1] = status
	return 2
}

// authTryConsume feeds buffered rb bytes to the auth parser, checks the
// credential against the shared user table on completion, and stages
// the RFC 1929 status reply; both outcomes increment the matching
// metric before the reply is written.
func (c *Connection) authTryConsume() sm.State {
	if !c.rb.CanRead() {
		return StateAuthRead
	}
	n, done, err := c.auth.feed(c.rb.Readable())
	c.rb.AdvanceRead(n)
	if err != nil {
		c.sh.logger.Printf("[auth] %v: %v", ErrProtocolVersion, err)
		return StateError
	}
	if !done {
		return StateAuthRead
	}

	uname := string(c.auth.uname)
	ok := c.sh.users.Check(uname, string(c.auth.passwd))

	var status byte
	if ok {
		status = authStatusSuccess
		c.username = uname
		c.sh.metrics.AuthSuccess()
		c.pendingNext = StateRequestRead
	} else {
		status = authStatusFailure
		c.sh.metrics.AuthFailure()
		c.pendingNext = StateError
		c.sh.logger.Printf("[auth] %v: user %q", ErrAuthFailed, uname)
	}

	nn := buildAuthReply(c.wb.Writable(), status)
	c.wb.AdvanceWrite(nn)
	return StateAuthWrite
}
