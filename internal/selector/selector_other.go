//go:build !linux

package selector

import (
	"fmt"
	"time"

	"golang.org/x/sys/unix"
)

// pollPoller backs the selector with poll(2) on non-Linux hosts. The
// epoll backend in selector_linux.go is what production deployments
// actually run on; this exists only so the package builds everywhere.
type pollPoller struct {
	fds       map[int]Interest
	wakeR     int
	wakeW     int
}

func newPoller() (poller, error) {
	var fdPair [2]int
	if err := unix.Pipe2(fdPair[:], unix.O_NONBLOCK|unix.O_CLOEXEC); err != nil {
		return nil, fmt.Errorf("pipe2: %w", err)
	}
	return &pollPoller{
		fds:   make(map[int]Interest),
		wakeR: fdPair[0],
		wakeW: fdPair[1],
	}, nil
}

func (p *pollPoller) add(fd int, interest Interest) error {
	p.fds[fd] = interest
	return nil
}

func (p *pollPoller) modify(fd int, interest Interest) error {
	p.fds[fd] = interest
	return nil
}

func (p *pollPoller) remove(fd int) error {
	delete(p.fds, fd)
	return nil
}

func toPollEvents(i Interest) int16 {
	var e int16
	if i&Read != 0 {
		e |= unix.POLLIN
	}
	if i&Write != 0 {
		e |= unix.POLLOUT
	}
	return e
}

func (p *pollPoller) wait(timeout time.Duration, out []readyEvent) ([]readyEvent, error) {
	fds := make([]unix.PollFd, 0, len(p.fds)+1)
	fds = append(fds, unix.PollFd{Fd: int32(p.wakeR), Events: unix.POLLIN})
	for fd, interest := range p.fds {
		fds = append(fds, unix.PollFd{Fd: int32(fd), Events: toPollEvents(interest)})
	}

	ms := int(timeout / time.Millisecond)
	if timeout < 0 {
		ms = -1
	}
	n, err := unix.Poll(fds, ms)
	if err == unix.EINTR {
		return out, nil
	}
	if err != nil {
		return out, err
	}
	if n == 0 {
		return out, nil
	}

	for _, pfd := range fds {
		if pfd.Revents == 0 {
			continue
		}
		if int(pfd.Fd) == p.wakeR {
			var buf [64]byte
			unix.Read(p.wakeR, buf[:])
			continue
		}
		out = append(out, readyEvent{
			fd:       int(pfd.Fd),
			readable: pfd.Revents&(unix.POLLIN|unix.POLLHUP|unix.POLLERR) != 0,
			writable: pfd.Revents&(unix.POLLOUT|unix.POLLHUP|unix.POLLERR) != 0,
		})
	}
	return out, nil
}

func (p *pollPoller) wake() error {
	_, err := unix.Write(p.wakeW, []byte{1})
	return err
}

func (p *pollPoller) close() error {
	unix.Close(p.wakeR)
	return unix.Close(p.wakeW)
}
