// Copyright 2019 Andy Pan. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

//go:build linux
// +build linux

package evnet

import (
	"sync/atomic"
	"time"

	"github.com/ysyzqq/evnet/internal/netpoll"
)

// Lifetime is the token a Channel is tied to. Once ended, events still queued
// for the channel are dropped instead of reaching a torn-down owner.
type Lifetime struct {
	ended atomic.Bool
}

// End marks the owner as gone.
func (lt *Lifetime) End() { lt.ended.Store(true) }

// Alive reports whether End has not been called.
func (lt *Lifetime) Alive() bool { return !lt.ended.Load() }

// Channel binds one descriptor to an interest set and the callbacks run when
// it becomes ready. It owns no OS resource. All methods except the callback
// setters must be called on the owning loop.
type Channel struct {
	loop    *EventLoop
	fd      int
	events  uint32 // interest
	revents uint32 // ready, set by the poller
	index   int    // poller registration state, owned by the poller

	lifetime      *Lifetime
	logHup        bool
	eventHandling bool
	addedToLoop   bool

	readCallback  func(receiveTime time.Time)
	writeCallback func()
	closeCallback func()
	errorCallback func()
}

// NewChannel returns a channel for fd owned by loop with an empty interest set.
func NewChannel(loop *EventLoop, fd int) *Channel {
	return &Channel{
		loop:   loop,
		fd:     fd,
		index:  chanNew,
		logHup: true,
	}
}

// SetReadCallback sets the readable callback.
func (ch *Channel) SetReadCallback(cb func(receiveTime time.Time)) { ch.readCallback = cb }

// SetWriteCallback sets the writable callback.
func (ch *Channel) SetWriteCallback(cb func()) { ch.writeCallback = cb }

// SetCloseCallback sets the hang-up callback.
func (ch *Channel) SetCloseCallback(cb func()) { ch.closeCallback = cb }

// SetErrorCallback sets the error callback.
func (ch *Channel) SetErrorCallback(cb func()) { ch.errorCallback = cb }

// Tie drops future events once lt has ended.
func (ch *Channel) Tie(lt *Lifetime) { ch.lifetime = lt }

// DoNotLogHup silences the hang-up log line.
func (ch *Channel) DoNotLogHup() { ch.logHup = false }

// Fd returns the descriptor.
func (ch *Channel) Fd() int { return ch.fd }

// Events returns the interest set.
func (ch *Channel) Events() uint32 { return ch.events }

// Revents returns the ready set of the last poll.
func (ch *Channel) Revents() uint32 { return ch.revents }

// SetRevents is used by pollers.
func (ch *Channel) SetRevents(revents uint32) { ch.revents = revents }

// Index is the poller-owned registration state.
func (ch *Channel) Index() int { return ch.index }

// SetIndex is used by pollers.
func (ch *Channel) SetIndex(index int) { ch.index = index }

// OwnerLoop returns the loop the channel belongs to.
func (ch *Channel) OwnerLoop() *EventLoop { return ch.loop }

// IsNoneEvent reports an empty interest set.
func (ch *Channel) IsNoneEvent() bool { return ch.events == netpoll.NoneEvents }

// IsReading reports read interest.
func (ch *Channel) IsReading() bool { return ch.events&netpoll.ReadEvents != 0 }

// IsWriting reports write interest.
func (ch *Channel) IsWriting() bool { return ch.events&netpoll.WriteEvents != 0 }

// EnableReading adds read interest.
func (ch *Channel) EnableReading() {
	ch.events |= netpoll.ReadEvents
	ch.update()
}

// DisableReading drops read interest.
func (ch *Channel) DisableReading() {
	ch.events &^= netpoll.ReadEvents
	ch.update()
}

// EnableWriting adds write interest.
func (ch *Channel) EnableWriting() {
	ch.events |= netpoll.WriteEvents
	ch.update()
}

// DisableWriting drops write interest.
func (ch *Channel) DisableWriting() {
	ch.events &^= netpoll.WriteEvents
	ch.update()
}

// DisableAll empties the interest set.
func (ch *Channel) DisableAll() {
	ch.events = netpoll.NoneEvents
	ch.update()
}

func (ch *Channel) update() {
	ch.addedToLoop = true
	ch.loop.updateChannel(ch)
}

// Remove deregisters the channel from its loop. The interest set must already be empty.
func (ch *Channel) Remove() {
	invariant(ch.IsNoneEvent(), "channel fd=%d removed with interest %s", ch.fd, ch.EventsString())
	ch.addedToLoop = false
	ch.loop.removeChannel(ch)
}

// release checks the channel can be dropped: not mid-dispatch and no longer known to the loop.
func (ch *Channel) release() {
	invariant(!ch.eventHandling, "channel fd=%d released while handling an event", ch.fd)
	invariant(!ch.addedToLoop, "channel fd=%d released while added to its loop", ch.fd)
	if ch.loop.IsInLoopThread() {
		invariant(!ch.loop.HasChannel(ch), "channel fd=%d released while registered", ch.fd)
	}
}

// HandleEvent dispatches the ready set of the last poll.
func (ch *Channel) HandleEvent(receiveTime time.Time) {
	if ch.lifetime != nil && !ch.lifetime.Alive() {
		return
	}
	ch.handleEventWithGuard(receiveTime)
}

func (ch *Channel) handleEventWithGuard(receiveTime time.Time) {
	ch.eventHandling = true
	defer func() { ch.eventHandling = false }()

	// 挂断且无数据可读: 当作对端关闭
	if ch.revents&netpoll.HupEvents != 0 && ch.revents&netpoll.InEvents == 0 {
		if ch.logHup {
			ch.loop.logger.Warnf("fd = %d Channel::handleEvent() POLLHUP", ch.fd)
		}
		if ch.closeCallback != nil {
			ch.closeCallback()
		}
	}
	if ch.revents&netpoll.ErrEvents != 0 {
		if ch.errorCallback != nil {
			ch.errorCallback()
		}
	}
	if ch.revents&netpoll.InEvents != 0 {
		if ch.readCallback != nil {
			ch.readCallback(receiveTime)
		}
	}
	if ch.revents&netpoll.OutEvents != 0 {
		if ch.writeCallback != nil {
			ch.writeCallback()
		}
	}
}

// EventsString renders the interest set.
func (ch *Channel) EventsString() string { return netpoll.EventsString(ch.fd, ch.events) }

// ReventsString renders the ready set.
func (ch *Channel) ReventsString() string { return netpoll.EventsString(ch.fd, ch.revents) }
