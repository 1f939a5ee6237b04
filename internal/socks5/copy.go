package socks5

import (
	"github.com/jicanta-labs/socks5ev/internal/buffer"
	"github.com/jicanta-labs/socks5ev/internal/netutil"
	"github.com/jicanta-labs/socks5ev/internal/selector"
)

// enterCopy is StateCopy's arrival hook: both directions start fully
// open (spec.md §4.7) and interest on both descriptors is recomputed
// from the formula. At this point wb is empty (the REQUEST reply has
// flushed) and rb holds only bytes the client sent right behind its
// request, if any, so the initial interest is READ on both sides, plus
// WRITE on the origin side when such bytes are waiting in rb.
func (c *Connection) enterCopy() {
	c.clientDuplex = duplexRead | duplexWrite
	c.originDuplex = duplexRead | duplexWrite
	c.recomputeInterest(roleClient)
	c.recomputeInterest(roleOrigin)
}

// copyHandleReadable performs the one read syscall a readable descriptor
// is owed this iteration. The client side reads into rb (client->origin
// bytes); the origin side reads into wb (origin->client bytes) — the
// two directions share the connection's two buffers by swapping which
// one each side reads into and writes from (spec.md §4.7).
func (c *Connection) copyHandleReadable(r role) {
	fd, buf := c.readSide(r)
	if !buf.CanWrite() {
		return
	}
	n, err := netutil.Read(fd, buf.Writable())
	switch {
	case err != nil && netutil.IsWouldBlock(err):
		return
	case err != nil || n == 0:
		// Orderly close or hard error: this side's read half is done,
		// and so is the peer's write half (spec.md §4.7 half-close
		// propagation).
		c.shutdownRead(r)
		c.shutdownWrite(other(r))
	default:
		buf.AdvanceWrite(n)
		if r == roleClient {
			c.sh.metrics.AddBytesReceived(uint64(n))
		}
	}
	c.recomputeInterest(roleClient)
	c.recomputeInterest(roleOrigin)
	c.checkCopyDone()
}

// copyHandleWritable performs the one write syscall a writable
// descriptor is owed this iteration.
func (c *Connection) copyHandleWritable(r role) {
	fd, buf := c.writeSide(r)
	if !buf.CanRead() {
		return
	}
	n, err := netutil.Write(fd, buf.Readable())
	switch {
	case err != nil && netutil.IsWouldBlock(err):
		return
	case err != nil:
		// A send error (e.g. broken pipe): this side's write half is
		// done, and so is the peer's read half.
		c.shutdownWrite(r)
		c.shutdownRead(other(r))
	default:
		buf.AdvanceRead(n)
		if r == roleClient {
			c.sh.metrics.AddBytesSent(uint64(n))
		}
	}
	c.recomputeInterest(roleClient)
	c.recomputeInterest(roleOrigin)
	c.checkCopyDone()
}

// readSide returns the descriptor and buffer a role reads into.
func (c *Connection) readSide(r role) (int, *buffer.Buffer) {
	if r == roleClient {
		return c.clientFd, c.rb
	}
	return c.originFd, c.wb
}

// writeSide returns the descriptor and buffer a role writes from.
func (c *Connection) writeSide(r role) (int, *buffer.Buffer) {
	if r == roleClient {
		return c.clientFd, c.wb
	}
	return c.originFd, c.rb
}

func other(r role) role {
	if r == roleClient {
		return roleOrigin
	}
	return roleClient
}

// recomputeInterest is the core flow-control rule of spec.md §4.7:
// stop reading when there's nowhere to put data, stop writing when
// there's nothing to send. It is invoked after every read/write event on
// either side, since each event can change both buffers' fill level.
func (c *Connection) recomputeInterest(r role) {
	var dmask duplex
	var fd int
	var bufIn, bufOut *buffer.Buffer
	if r == roleClient {
		dmask, fd, bufIn, bufOut = c.clientDuplex, c.clientFd, c.rb, c.wb
	} else {
		dmask, fd, bufIn, bufOut = c.originDuplex, c.originFd, c.wb, c.rb
	}
	if fd < 0 {
		return
	}

	var interest selector.Interest
	if dmask&duplexRead != 0 && bufIn.CanWrite() {
		interest |= selector.Read
	}
	if dmask&duplexWrite != 0 && bufOut.CanRead() {
		interest |= selector.Write
	}
	_ = c.sh.sel.SetInterest(fd, interest)
}

func (c *Connection) shutdownRead(r role) {
	fd, duplexPtr := c.sideDuplex(r)
	*duplexPtr &^= duplexRead
	_ = netutil.ShutdownRead(fd)
}

func (c *Connection) shutdownWrite(r role) {
	fd, duplexPtr := c.sideDuplex(r)
	*duplexPtr &^= duplexWrite
	_ = netutil.ShutdownWrite(fd)
}

func (c *Connection) sideDuplex(r role) (int, *duplex) {
	if r == roleClient {
		return c.clientFd, &c.clientDuplex
	}
	return c.originFd, &c.originDuplex
}

// checkCopyDone transitions to StateDone once both sides have gone
// fully half-closed in both directions.
func (c *Connection) checkCopyDone() {
	if c.clientDuplex == duplexNone && c.originDuplex == duplexNone {
		c.driver.Force(StateDone)
	}
}
