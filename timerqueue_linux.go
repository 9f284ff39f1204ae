// Copyright 2019 Andy Pan. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

//go:build linux
// +build linux

package evnet

import (
	"container/heap"
	"os"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/ysyzqq/evnet/internal/netpoll"
	"golang.org/x/sys/unix"
)

// TimerQueue keeps the pending timers of one loop behind a single timerfd.
// It is confined to its loop; AddTimer and Cancel marshal onto it.
type TimerQueue struct {
	loop    *EventLoop
	fd      int // timerfd
	channel *Channel

	timers timerHeap             // ordered by (expiration, sequence)
	active map[timerKey]struct{} // same timers, by identity

	callingExpired bool
	canceling      map[timerKey]struct{}

	fired prometheus.Counter
}

func newTimerQueue(loop *EventLoop) (*TimerQueue, error) {
	fd, err := netpoll.OpenTimerFD()
	if err != nil {
		return nil, err
	}
	tq := &TimerQueue{
		loop:      loop,
		fd:        fd,
		channel:   NewChannel(loop, fd),
		active:    make(map[timerKey]struct{}),
		canceling: make(map[timerKey]struct{}),
		fired:     TimersFired.WithLabelValues(loop.name),
	}
	tq.channel.SetReadCallback(tq.handleRead)
	// 定时器一直可读, 就绪时由handleRead处理到期任务
	tq.channel.EnableReading()
	return tq, nil
}

// AddTimer schedules cb at when, repeating every interval when interval > 0.
// It may be called from any goroutine.
func (tq *TimerQueue) AddTimer(cb func(), when time.Time, interval time.Duration) TimerID {
	t := newTimer(cb, when, interval)
	tq.loop.RunInLoop(func() { tq.addTimerInLoop(t) })
	return TimerID{timer: t, sequence: t.sequence}
}

// Cancel stops a pending timer. Canceling a fired or unknown timer is a no-op.
// It may be called from any goroutine.
func (tq *TimerQueue) Cancel(id TimerID) {
	tq.loop.RunInLoop(func() { tq.cancelInLoop(id) })
}

// Len returns the number of pending timers.
func (tq *TimerQueue) Len() int {
	tq.loop.assertInLoopThread()
	return len(tq.timers)
}

func (tq *TimerQueue) addTimerInLoop(t *Timer) {
	tq.loop.assertInLoopThread()
	if tq.insert(t) {
		tq.arm(t.expiration)
	}
}

func (tq *TimerQueue) cancelInLoop(id TimerID) {
	tq.loop.assertInLoopThread()
	key := id.key()
	if _, ok := tq.active[key]; ok {
		heap.Remove(&tq.timers, id.timer.index)
		delete(tq.active, key)
	} else if tq.callingExpired {
		// 到期回调中取消自身或同批的定时器, 阻止它被重新插入
		tq.canceling[key] = struct{}{}
	}
	invariant(len(tq.timers) == len(tq.active), "timer sets out of step: %d vs %d", len(tq.timers), len(tq.active))
}

func (tq *TimerQueue) handleRead(time.Time) {
	tq.loop.assertInLoopThread()
	// 同一轮里重新arm会清空计数, 此时读到EAGAIN
	if _, err := netpoll.ReadTimerFD(tq.fd); err != nil && !errors.Is(err, unix.EAGAIN) {
		tq.loop.logger.Errorf("%s: TimerQueue::handleRead: %v", tq.loop.name, err)
	}
	now := time.Now()
	expired := tq.getExpired(now)

	tq.callingExpired = true
	clear(tq.canceling)
	for _, t := range expired {
		t.run()
		tq.fired.Inc()
	}
	tq.callingExpired = false

	tq.reset(expired, now)
}

// getExpired removes and returns every timer due at now, in firing order.
func (tq *TimerQueue) getExpired(now time.Time) []*Timer {
	var expired []*Timer
	for len(tq.timers) > 0 && !tq.timers[0].expiration.After(now) {
		t := heap.Pop(&tq.timers).(*Timer)
		delete(tq.active, timerKey{t, t.sequence})
		expired = append(expired, t)
	}
	invariant(len(tq.timers) == len(tq.active), "timer sets out of step: %d vs %d", len(tq.timers), len(tq.active))
	return expired
}

func (tq *TimerQueue) reset(expired []*Timer, now time.Time) {
	for _, t := range expired {
		if _, canceled := tq.canceling[timerKey{t, t.sequence}]; t.repeat && !canceled {
			t.restart(now)
			tq.insert(t)
		}
	}
	if len(tq.timers) > 0 {
		tq.arm(tq.timers[0].expiration)
	}
}

// insert queues t and reports whether it became the earliest timer.
func (tq *TimerQueue) insert(t *Timer) bool {
	earliest := len(tq.timers) == 0 || t.expiration.Before(tq.timers[0].expiration)
	heap.Push(&tq.timers, t)
	tq.active[timerKey{t, t.sequence}] = struct{}{}
	invariant(len(tq.timers) == len(tq.active), "timer sets out of step: %d vs %d", len(tq.timers), len(tq.active))
	return earliest
}

func (tq *TimerQueue) arm(when time.Time) {
	if err := netpoll.ArmTimerFD(tq.fd, time.Until(when)); err != nil {
		tq.loop.logger.Errorf("%s: arm timerfd: %v", tq.loop.name, err)
	}
}

// close drops every pending timer and releases the timerfd.
func (tq *TimerQueue) close() error {
	tq.channel.DisableAll()
	tq.channel.Remove()
	tq.channel.release()
	tq.timers = nil
	clear(tq.active)
	return os.NewSyscallError("close", unix.Close(tq.fd))
}
