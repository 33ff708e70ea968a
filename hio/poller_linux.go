//go:build linux

// File: hio/poller_linux.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Linux epoll backend: EpollCreate1/EpollCtl/EpollWait, with interest
// sets updated in place (ADD/MOD/DEL) rather than registered once —
// the device core needs RENEW/UPDATE transitions a write-once
// register call can't express.
package hio

import (
	"time"

	"golang.org/x/sys/unix"
)

type epollPoller struct {
	epfd int
}

func newPoller() (poller, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, err
	}
	return &epollPoller{epfd: epfd}, nil
}

func toEpollMask(events PollEvents) uint32 {
	var m uint32
	if events&PollIn != 0 {
		m |= unix.EPOLLIN
	}
	if events&PollOut != 0 {
		m |= unix.EPOLLOUT
	}
	return m
}

func fromEpollMask(m uint32) PollEvents {
	var ev PollEvents
	if m&unix.EPOLLIN != 0 {
		ev |= PollIn
	}
	if m&unix.EPOLLOUT != 0 {
		ev |= PollOut
	}
	if m&(unix.EPOLLERR) != 0 {
		ev |= PollErr
	}
	if m&unix.EPOLLHUP != 0 {
		ev |= PollHup
	}
	return ev
}

func (p *epollPoller) Register(fd int, events PollEvents) error {
	ev := &unix.EpollEvent{Events: toEpollMask(events), Fd: int32(fd)}
	return unix.EpollCtl(p.epfd, unix.EPOLL_CTL_ADD, fd, ev)
}

func (p *epollPoller) Modify(fd int, events PollEvents) error {
	ev := &unix.EpollEvent{Events: toEpollMask(events), Fd: int32(fd)}
	return unix.EpollCtl(p.epfd, unix.EPOLL_CTL_MOD, fd, ev)
}

func (p *epollPoller) Unregister(fd int) error {
	err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_DEL, fd, nil)
	if err == unix.ENOENT {
		return nil
	}
	return err
}

func (p *epollPoller) Wait(timeout time.Duration, out []readyFD) (int, error) {
	ms := -1
	if timeout >= 0 {
		ms = int(timeout / time.Millisecond)
	}
	raw := make([]unix.EpollEvent, len(out))
	n, err := unix.EpollWait(p.epfd, raw, ms)
	if err != nil {
		if err == unix.EINTR {
			return 0, nil
		}
		return 0, err
	}
	for i := 0; i < n; i++ {
		out[i] = readyFD{fd: int(raw[i].Fd), events: fromEpollMask(raw[i].Events)}
	}
	return n, nil
}

func (p *epollPoller) Close() error {
	return unix.Close(p.epfd)
}
