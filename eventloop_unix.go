// Copyright 2019 Andy Pan. All rights reserved.
// Copyright 2018 Joshua J Baker. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

//go:build linux
// +build linux

package evnet

import (
	"fmt"
	"os"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/eapache/queue"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/ysyzqq/evnet/internal/netpoll"
	"github.com/ysyzqq/evnet/internal/thread"
	"golang.org/x/sys/unix"
)

// EventLoop is a reactor confined to the OS thread that created it.
// Everything except Quit, RunInLoop, QueueInLoop, the timer methods and the
// read-only counters must be called on that thread.
type EventLoop struct {
	name     string
	opts     *Options
	logger   Logger
	threadID int // 创建loop的线程, 之后所有操作都必须在这个线程

	looping        atomic.Bool
	quit           atomic.Bool
	closed         bool
	eventHandling  bool
	callingPending bool
	iteration      atomic.Int64
	pollReturnTime time.Time

	poller     Poller
	timerQueue *TimerQueue

	wakeupFd      int // eventfd
	wakeupChannel *Channel

	activeChannels       []*Channel
	currentActiveChannel *Channel

	mu      sync.Mutex
	pending *queue.Queue // func(), guarded by mu
	spare   *queue.Queue // drained buffer swapped with pending

	connCount int32 // number of active connections on this loop
	ctx       interface{}

	iterations prometheus.Counter
}

// NewEventLoop creates a loop owned by the calling goroutine and pins that
// goroutine to its OS thread until Close.
func NewEventLoop(opts ...Option) (el *EventLoop, err error) {
	runtime.LockOSThread()
	defer func() {
		if err != nil {
			runtime.UnlockOSThread()
		}
	}()

	options := loadOptions(opts...)
	el = &EventLoop{
		opts:     options,
		logger:   options.Logger,
		threadID: thread.ID(),
		pending:  queue.New(),
		spare:    queue.New(),
	}
	el.name = options.LoopName
	if el.name == "" {
		el.name = fmt.Sprintf("loop-%d", el.threadID)
	}
	el.iterations = LoopIterations.WithLabelValues(el.name)

	if el.poller, err = newEpollPoller(el); err != nil {
		return nil, err
	}
	if el.wakeupFd, err = netpoll.OpenEventFD(); err != nil {
		sniffErrorAndLog(el.poller.Close())
		return nil, err
	}
	if el.timerQueue, err = newTimerQueue(el); err != nil {
		sniffErrorAndLog(unix.Close(el.wakeupFd))
		sniffErrorAndLog(el.poller.Close())
		return nil, err
	}
	el.wakeupChannel = NewChannel(el, el.wakeupFd)
	el.wakeupChannel.SetReadCallback(el.handleWakeupRead)
	// 一直监听eventfd, 其他线程写入即可唤醒poll
	el.wakeupChannel.EnableReading()

	el.logger.Debugf("EventLoop %s created in thread %d", el.name, el.threadID)
	return el, nil
}

// Name labels the loop in logs and metrics.
func (el *EventLoop) Name() string { return el.name }

// Loop runs poll/dispatch/deferred cycles until Quit. It must be called on
// the owning thread and only once at a time.
func (el *EventLoop) Loop() {
	invariant(!el.closed, "EventLoop %s is closed", el.name)
	el.assertInLoopThread()
	invariant(el.looping.CompareAndSwap(false, true), "EventLoop %s is already looping", el.name)
	el.logger.Infof("EventLoop %s start looping", el.name)

	for !el.quit.Load() {
		el.activeChannels = el.activeChannels[:0]
		el.pollReturnTime, el.activeChannels = el.poller.Poll(el.opts.PollTimeout, el.activeChannels)
		el.iteration.Add(1)
		el.iterations.Inc()

		el.eventHandling = true
		for _, ch := range el.activeChannels {
			el.currentActiveChannel = ch
			ch.HandleEvent(el.pollReturnTime)
		}
		el.currentActiveChannel = nil
		el.eventHandling = false

		el.doPendingFunctors()
	}
	// 退出前把剩余的任务跑完, 关闭流程依赖这些任务
	el.doPendingFunctors()

	el.logger.Infof("EventLoop %s stop looping", el.name)
	el.quit.Store(false)
	el.looping.Store(false)
}

// Quit asks the loop to exit after its current cycle. A quit requested before
// Loop starts takes effect immediately.
func (el *EventLoop) Quit() {
	el.quit.Store(true)
	if !el.IsInLoopThread() {
		el.wakeup()
	}
}

// RunInLoop runs fn now when called on the loop, otherwise queues it.
func (el *EventLoop) RunInLoop(fn func()) {
	if el.IsInLoopThread() {
		fn()
	} else {
		el.QueueInLoop(fn)
	}
}

// QueueInLoop defers fn to the end of the current or next cycle.
func (el *EventLoop) QueueInLoop(fn func()) {
	el.mu.Lock()
	el.pending.Add(fn)
	el.mu.Unlock()

	// 正在执行任务队列时新加的任务要等下一轮, 所以也要唤醒
	if !el.IsInLoopThread() || el.callingPending {
		el.wakeup()
	}
}

// QueueSize returns the number of deferred functions not yet run.
func (el *EventLoop) QueueSize() int {
	el.mu.Lock()
	defer el.mu.Unlock()
	return el.pending.Length()
}

func (el *EventLoop) doPendingFunctors() {
	el.callingPending = true
	defer func() { el.callingPending = false }()

	el.mu.Lock()
	functors := el.pending
	el.pending, el.spare = el.spare, functors
	el.mu.Unlock()

	for functors.Length() > 0 {
		functors.Remove().(func())()
	}
}

// RunAt runs cb at time when.
func (el *EventLoop) RunAt(when time.Time, cb func()) TimerID {
	return el.timerQueue.AddTimer(cb, when, 0)
}

// RunAfter runs cb after delay.
func (el *EventLoop) RunAfter(delay time.Duration, cb func()) TimerID {
	return el.RunAt(time.Now().Add(delay), cb)
}

// RunEvery runs cb every interval, first after one interval.
func (el *EventLoop) RunEvery(interval time.Duration, cb func()) TimerID {
	return el.timerQueue.AddTimer(cb, time.Now().Add(interval), interval)
}

// Cancel stops the timer identified by id.
func (el *EventLoop) Cancel(id TimerID) {
	el.timerQueue.Cancel(id)
}

func (el *EventLoop) updateChannel(ch *Channel) {
	invariant(ch.OwnerLoop() == el, "channel fd=%d updated on foreign loop %s", ch.Fd(), el.name)
	el.assertInLoopThread()
	el.poller.UpdateChannel(ch)
}

func (el *EventLoop) removeChannel(ch *Channel) {
	invariant(ch.OwnerLoop() == el, "channel fd=%d removed from foreign loop %s", ch.Fd(), el.name)
	el.assertInLoopThread()
	if el.eventHandling {
		invariant(el.currentActiveChannel == ch || !el.isActive(ch),
			"channel fd=%d removed while still pending dispatch", ch.Fd())
	}
	el.poller.RemoveChannel(ch)
}

func (el *EventLoop) isActive(ch *Channel) bool {
	for _, c := range el.activeChannels {
		if c == ch {
			return true
		}
	}
	return false
}

// HasChannel reports whether ch is registered with this loop's poller.
func (el *EventLoop) HasChannel(ch *Channel) bool {
	invariant(ch.OwnerLoop() == el, "channel fd=%d queried on foreign loop %s", ch.Fd(), el.name)
	el.assertInLoopThread()
	return el.poller.HasChannel(ch)
}

// IsInLoopThread reports whether the caller runs on the owning thread.
func (el *EventLoop) IsInLoopThread() bool { return thread.ID() == el.threadID }

func (el *EventLoop) assertInLoopThread() {
	invariant(el.IsInLoopThread(), "EventLoop %s was created in thread %d, current thread %d",
		el.name, el.threadID, thread.ID())
}

// Iteration returns the number of completed poll cycles.
func (el *EventLoop) Iteration() int64 { return el.iteration.Load() }

// PollReturnTime returns when the last poll returned.
func (el *EventLoop) PollReturnTime() time.Time { return el.pollReturnTime }

// EventHandling reports whether the loop is dispatching ready channels.
func (el *EventLoop) EventHandling() bool { return el.eventHandling }

// Context returns the user-defined context.
func (el *EventLoop) Context() interface{} { return el.ctx }

// SetContext sets a user-defined context.
func (el *EventLoop) SetContext(ctx interface{}) { el.ctx = ctx }

func (el *EventLoop) plusConnCount() { atomic.AddInt32(&el.connCount, 1) }
func (el *EventLoop) minusConnCount() { atomic.AddInt32(&el.connCount, -1) }
func (el *EventLoop) loadConnCount() int32 { return atomic.LoadInt32(&el.connCount) }

func (el *EventLoop) wakeup() {
	if err := netpoll.WriteEventFD(el.wakeupFd); err != nil {
		el.logger.Errorf("EventLoop %s wakeup: %v", el.name, err)
	}
}

func (el *EventLoop) handleWakeupRead(time.Time) {
	if _, err := netpoll.DrainEventFD(el.wakeupFd); err != nil {
		el.logger.Errorf("EventLoop %s handleWakeupRead: %v", el.name, err)
	}
}

// Close releases the wakeup descriptor, the timer queue and the poller and
// unpins the owning goroutine. The loop must not be looping.
func (el *EventLoop) Close() error {
	el.assertInLoopThread()
	invariant(!el.looping.Load(), "EventLoop %s closed while looping", el.name)
	if el.closed {
		return nil
	}
	el.closed = true

	el.wakeupChannel.DisableAll()
	el.wakeupChannel.Remove()
	el.wakeupChannel.release()
	err := os.NewSyscallError("close", unix.Close(el.wakeupFd))
	if e := el.timerQueue.close(); err == nil {
		err = e
	}
	if e := el.poller.Close(); err == nil {
		err = e
	}
	runtime.UnlockOSThread()
	return err
}
