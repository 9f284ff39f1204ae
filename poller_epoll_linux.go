// Copyright 2019 Andy Pan. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

//go:build linux
// +build linux

package evnet

import (
	"os"
	"time"

	"github.com/pkg/errors"
	"github.com/ysyzqq/evnet/internal/netpoll"
	"golang.org/x/sys/unix"
)

type epollPoller struct {
	loop     *EventLoop
	fd       int // epoll fd
	events   *netpoll.EventList
	channels map[int]*Channel // fd -> channel
}

// newEpollPoller opens an epoll instance for loop.
func newEpollPoller(loop *EventLoop) (*epollPoller, error) {
	epfd, err := netpoll.OpenEpoll()
	if err != nil {
		return nil, err
	}
	return &epollPoller{
		loop:     loop,
		fd:       epfd,
		events:   netpoll.NewEventList(netpoll.InitPollEventsCap),
		channels: make(map[int]*Channel),
	}, nil
}

func (p *epollPoller) Poll(timeout time.Duration, active []*Channel) (time.Time, []*Channel) {
	n, err := netpoll.EpollWait(p.fd, p.events, int(timeout/time.Millisecond))
	now := time.Now()
	switch {
	case n > 0:
		active = p.fillActiveChannels(n, active)
		// 填满了说明可能还有更多就绪事件, 扩容
		if n == p.events.Size() {
			p.events.Expand()
		}
	case n == 0:
		p.loop.logger.Debugf("%s: nothing happened", p.loop.name)
	default:
		if err != unix.EINTR {
			p.loop.logger.Errorf("%s: epoll_wait: %v", p.loop.name, os.NewSyscallError("epoll_wait", err))
		}
	}
	return now, active
}

func (p *epollPoller) fillActiveChannels(n int, active []*Channel) []*Channel {
	for i := 0; i < n; i++ {
		fd, ev := p.events.Event(i)
		ch, ok := p.channels[fd]
		invariant(ok, "ready fd=%d has no channel", fd)
		ch.SetRevents(ev)
		active = append(active, ch)
	}
	return active
}

func (p *epollPoller) UpdateChannel(ch *Channel) {
	p.loop.assertInLoopThread()
	fd := ch.Fd()
	switch idx := ch.Index(); idx {
	case chanNew, chanDeleted:
		if idx == chanNew {
			_, ok := p.channels[fd]
			invariant(!ok, "fd=%d registered twice", fd)
			p.channels[fd] = ch
		} else {
			invariant(p.channels[fd] == ch, "fd=%d re-added with a different channel", fd)
		}
		ch.SetIndex(chanAdded)
		p.update(unix.EPOLL_CTL_ADD, ch)
	default:
		invariant(p.channels[fd] == ch, "fd=%d updated with a different channel", fd)
		invariant(idx == chanAdded, "fd=%d has unknown poller state %d", fd, idx)
		if ch.IsNoneEvent() {
			p.update(unix.EPOLL_CTL_DEL, ch)
			ch.SetIndex(chanDeleted)
		} else {
			p.update(unix.EPOLL_CTL_MOD, ch)
		}
	}
}

func (p *epollPoller) RemoveChannel(ch *Channel) {
	p.loop.assertInLoopThread()
	fd := ch.Fd()
	invariant(p.channels[fd] == ch, "fd=%d removed but not registered", fd)
	invariant(ch.IsNoneEvent(), "fd=%d removed with interest %s", fd, ch.EventsString())
	idx := ch.Index()
	invariant(idx == chanAdded || idx == chanDeleted, "fd=%d removed in poller state %d", fd, idx)
	delete(p.channels, fd)
	if idx == chanAdded {
		p.update(unix.EPOLL_CTL_DEL, ch)
	}
	ch.SetIndex(chanNew)
}

func (p *epollPoller) HasChannel(ch *Channel) bool {
	p.loop.assertInLoopThread()
	c, ok := p.channels[ch.Fd()]
	return ok && c == ch
}

// update applies op to the kernel. A failed DEL is logged; any other failure
// leaves the registry out of sync with the kernel and is fatal.
func (p *epollPoller) update(op int, ch *Channel) {
	if err := netpoll.EpollCtl(p.fd, op, ch.Fd(), ch.Events()); err != nil {
		if op == unix.EPOLL_CTL_DEL {
			p.loop.logger.Errorf("epoll_ctl op=%s fd=%d: %v", netpoll.OpString(op), ch.Fd(), err)
			return
		}
		panic(errors.Wrapf(ErrInvariant, "epoll_ctl op=%s fd=%d: %v", netpoll.OpString(op), ch.Fd(), err))
	}
}

func (p *epollPoller) Close() error {
	return os.NewSyscallError("close", unix.Close(p.fd))
}
