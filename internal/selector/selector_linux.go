//go:build linux

package selector

import (
	"fmt"
	"time"

	"golang.org/x/sys/unix"
)

// epollPoller backs the selector with epoll(7). It is the primary
// readiness primitive the SOCKS engine runs on in production; the
// portable poll(2) backend in selector_other.go exists only so the
// package builds on non-Linux hosts.
type epollPoller struct {
	epfd   int
	wakeFd int // eventfd used to interrupt a blocked epoll_wait from Notify
}

func newPoller() (poller, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("epoll_create1: %w", err)
	}
	wakeFd, err := unix.Eventfd(0, unix.EFD_CLOEXEC|unix.EFD_NONBLOCK)
	if err != nil {
		unix.Close(epfd)
		return nil, fmt.Errorf("eventfd: %w", err)
	}
	ev := unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(wakeFd)}
	if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, wakeFd, &ev); err != nil {
		unix.Close(wakeFd)
		unix.Close(epfd)
		return nil, fmt.Errorf("epoll_ctl(wake): %w", err)
	}
	return &epollPoller{epfd: epfd, wakeFd: wakeFd}, nil
}

func toEpollEvents(i Interest) uint32 {
	var e uint32
	if i&Read != 0 {
		e |= unix.EPOLLIN
	}
	if i&Write != 0 {
		e |= unix.EPOLLOUT
	}
	return e
}

func (p *epollPoller) add(fd int, interest Interest) error {
	ev := unix.EpollEvent{Events: toEpollEvents(interest), Fd: int32(fd)}
	return unix.EpollCtl(p.epfd, unix.EPOLL_CTL_ADD, fd, &ev)
}

func (p *epollPoller) modify(fd int, interest Interest) error {
	ev := unix.EpollEvent{Events: toEpollEvents(interest), Fd: int32(fd)}
	return unix.EpollCtl(p.epfd, unix.EPOLL_CTL_MOD, fd, &ev)
}

func (p *epollPoller) remove(fd int) error {
	// Older kernels require a non-nil event pointer even for DEL.
	ev := unix.EpollEvent{}
	err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_DEL, fd, &ev)
	if err == unix.ENOENT {
		return nil
	}
	return err
}

func (p *epollPoller) wait(timeout time.Duration, out []readyEvent) ([]readyEvent, error) {
	var raw [256]unix.EpollEvent
	ms := int(timeout / time.Millisecond)
	if timeout < 0 {
		ms = -1
	}
	n, err := unix.EpollWait(p.epfd, raw[:], ms)
	if err == unix.EINTR {
		return out, nil
	}
	if err != nil {
		return out, err
	}
	for i := 0; i < n; i++ {
		fd := int(raw[i].Fd)
		if fd == p.wakeFd {
			var buf [8]byte
			unix.Read(p.wakeFd, buf[:])
			continue
		}
		out = append(out, readyEvent{
			fd:       fd,
			readable: raw[i].Events&(unix.EPOLLIN|unix.EPOLLHUP|unix.EPOLLERR) != 0,
			writable: raw[i].Events&(unix.EPOLLOUT|unix.EPOLLHUP|unix.EPOLLERR) != 0,
		})
	}
	return out, nil
}

func (p *epollPoller) wake() error {
	var one [8]byte
	one[7] = 1
	_, err := unix.Write(p.wakeFd, one[:])
	return err
}

func (p *epollPoller) close() error {
	unix.Close(p.wakeFd)
	return unix.Close(p.epfd)
}
