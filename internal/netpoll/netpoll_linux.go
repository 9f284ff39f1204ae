// Copyright 2019 Andy Pan. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

//go:build linux
// +build linux

// Package netpoll holds the thin syscall layer under the event loop:
// epoll, eventfd and timerfd, plus address conversion for accepted sockets.
package netpoll

import (
	"os"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"
)

const (
	// InitPollEventsCap is the initial capacity of the ready-event list.
	InitPollEventsCap = 16

	// NoneEvents is an empty interest set.
	NoneEvents uint32 = 0
	// ReadEvents is the interest set for readability.
	ReadEvents uint32 = unix.EPOLLIN | unix.EPOLLPRI
	// WriteEvents is the interest set for writability.
	WriteEvents uint32 = unix.EPOLLOUT

	// HupEvents reports a hang-up.
	HupEvents uint32 = unix.EPOLLHUP
	// InEvents reports data (or a read hang-up) is available.
	InEvents uint32 = unix.EPOLLIN | unix.EPOLLPRI | unix.EPOLLRDHUP
	// ErrEvents reports an error condition.
	ErrEvents uint32 = unix.EPOLLERR
	// OutEvents reports the descriptor is writable.
	OutEvents uint32 = unix.EPOLLOUT
)

// EventList is the growable storage epoll_wait fills.
type EventList struct {
	size   int
	events []unix.EpollEvent
}

// NewEventList returns an event list holding size events.
func NewEventList(size int) *EventList {
	return &EventList{size: size, events: make([]unix.EpollEvent, size)}
}

// Size is the number of events the list can hold.
func (el *EventList) Size() int { return el.size }

// Event returns the i-th ready event.
func (el *EventList) Event(i int) (fd int, events uint32) {
	return int(el.events[i].Fd), el.events[i].Events
}

// Expand doubles the capacity of the list.
func (el *EventList) Expand() {
	el.size <<= 1
	el.events = make([]unix.EpollEvent, el.size)
}

// OpenEpoll creates a close-on-exec epoll instance.
func OpenEpoll() (int, error) {
	fd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return -1, os.NewSyscallError("epoll_create1", err)
	}
	return fd, nil
}

// EpollCtl applies op for fd with the given interest set.
func EpollCtl(epfd, op, fd int, events uint32) error {
	ev := &unix.EpollEvent{Events: events, Fd: int32(fd)}
	if op == unix.EPOLL_CTL_DEL {
		ev = nil
	}
	return unix.EpollCtl(epfd, op, fd, ev)
}

// EpollWait waits up to msec milliseconds for events into el.
func EpollWait(epfd int, el *EventList, msec int) (int, error) {
	return unix.EpollWait(epfd, el.events, msec)
}

// OpString names an epoll_ctl operation.
func OpString(op int) string {
	switch op {
	case unix.EPOLL_CTL_ADD:
		return "ADD"
	case unix.EPOLL_CTL_DEL:
		return "DEL"
	case unix.EPOLL_CTL_MOD:
		return "MOD"
	default:
		return "Unknown Operation"
	}
}

// EventsString renders an event mask for fd, e.g. "7: IN PRI ".
func EventsString(fd int, ev uint32) string {
	var sb strings.Builder
	sb.WriteString(strconv.Itoa(fd))
	sb.WriteString(": ")
	for _, f := range []struct {
		bit  uint32
		name string
	}{
		{unix.EPOLLIN, "IN"},
		{unix.EPOLLPRI, "PRI"},
		{unix.EPOLLOUT, "OUT"},
		{unix.EPOLLHUP, "HUP"},
		{unix.EPOLLRDHUP, "RDHUP"},
		{unix.EPOLLERR, "ERR"},
	} {
		if ev&f.bit != 0 {
			sb.WriteString(f.name)
			sb.WriteByte(' ')
		}
	}
	return sb.String()
}
