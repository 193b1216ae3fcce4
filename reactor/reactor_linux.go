//go:build linux
// +build linux

// File: reactor/reactor_linux.go
// Author: momentics <momentics@gmail.com>
//
// Linux epoll(7)-based reactor implementation and factory.

package reactor

import (
	"time"

	"github.com/pingcap/errors"
	"golang.org/x/sys/unix"
)

// linuxReactor is an epoll-based event reactor.
type linuxReactor struct {
	epfd int
	raw  []unix.EpollEvent
}

// NewReactor constructs a new platform-specific EventReactor for Linux.
func NewReactor() (EventReactor, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, errors.Annotate(err, "epoll create")
	}
	return &linuxReactor{epfd: epfd}, nil
}

// Register adds file descriptor to epoll.
func (r *linuxReactor) Register(fd uintptr, events FDEventType) error {
	var ev unix.EpollEvent
	if events&EventRead != 0 {
		ev.Events |= unix.EPOLLIN
	}
	if events&EventWrite != 0 {
		ev.Events |= unix.EPOLLOUT
	}
	ev.Fd = int32(fd)
	if err := unix.EpollCtl(r.epfd, unix.EPOLL_CTL_ADD, int(fd), &ev); err != nil {
		return errors.Annotatef(err, "epoll ctl add fd %d", fd)
	}
	return nil
}

// Unregister removes file descriptor from epoll.
func (r *linuxReactor) Unregister(fd uintptr) error {
	if err := unix.EpollCtl(r.epfd, unix.EPOLL_CTL_DEL, int(fd), nil); err != nil {
		return errors.Annotatef(err, "epoll ctl del fd %d", fd)
	}
	return nil
}

// Wait waits for epoll events and fills the result into events slice.
func (r *linuxReactor) Wait(events []Event, timeoutMs int) (int, error) {
	if len(events) == 0 {
		return 0, nil
	}
	if cap(r.raw) < len(events) {
		r.raw = make([]unix.EpollEvent, len(events))
	}
	raw := r.raw[:len(events)]

	var deadline time.Time
	if timeoutMs > 0 {
		deadline = time.Now().Add(time.Duration(timeoutMs) * time.Millisecond)
	}
	for {
		n, err := unix.EpollWait(r.epfd, raw, timeoutMs)
		if err == nil {
			for i := 0; i < n; i++ {
				events[i] = Event{Fd: uintptr(raw[i].Fd), Events: fromEpoll(raw[i].Events)}
			}
			return n, nil
		}
		if err != unix.EINTR {
			return 0, errors.Annotate(err, "epoll wait")
		}
		if timeoutMs > 0 {
			remaining := time.Until(deadline)
			if remaining <= 0 {
				return 0, nil
			}
			timeoutMs = int((remaining + time.Millisecond - 1) / time.Millisecond)
		}
	}
}

// Close closes the epoll instance.
func (r *linuxReactor) Close() error {
	return errors.Trace(unix.Close(r.epfd))
}

func fromEpoll(ev uint32) FDEventType {
	var t FDEventType
	if ev&unix.EPOLLIN != 0 {
		t |= EventRead
	}
	if ev&unix.EPOLLOUT != 0 {
		t |= EventWrite
	}
	if ev&(unix.EPOLLERR|unix.EPOLLHUP) != 0 {
		t |= EventError
	}
	return t
}
