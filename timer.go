// Copyright 2019 Andy Pan. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package evnet

import (
	"sync/atomic"
	"time"
)

var timersCreated atomic.Int64

// Timer is one scheduled callback. A repeating timer keeps its identity and
// sequence across firings.
type Timer struct {
	callback   func()
	expiration time.Time
	interval   time.Duration
	repeat     bool
	sequence   int64
	index      int // position in the expiry heap, -1 when not queued
}

func newTimer(cb func(), when time.Time, interval time.Duration) *Timer {
	return &Timer{
		callback:   cb,
		expiration: when,
		interval:   interval,
		repeat:     interval > 0,
		sequence:   timersCreated.Add(1),
		index:      -1,
	}
}

func (t *Timer) run() { t.callback() }

// restart moves a repeating timer to now+interval.
func (t *Timer) restart(now time.Time) {
	if t.repeat {
		t.expiration = now.Add(t.interval)
	} else {
		t.expiration = time.Time{}
	}
}

// Expiration returns when the timer fires next.
func (t *Timer) Expiration() time.Time { return t.expiration }

// Repeat reports whether the timer re-arms after firing.
func (t *Timer) Repeat() bool { return t.repeat }

// Sequence is unique per created timer.
func (t *Timer) Sequence() int64 { return t.sequence }

// NumCreated returns how many timers were created in this process.
func NumCreated() int64 { return timersCreated.Load() }

// TimerID identifies a timer for cancellation. It does not keep the timer scheduled.
type TimerID struct {
	timer    *Timer
	sequence int64
}

type timerKey struct {
	timer    *Timer
	sequence int64
}

func (id TimerID) key() timerKey { return timerKey{id.timer, id.sequence} }

// timerHeap orders timers by (expiration, sequence).
type timerHeap []*Timer

func (h timerHeap) Len() int { return len(h) }
func (h timerHeap) Less(i, j int) bool {
	if h[i].expiration.Equal(h[j].expiration) {
		return h[i].sequence < h[j].sequence
	}
	return h[i].expiration.Before(h[j].expiration)
}
func (h timerHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *timerHeap) Push(x any) {
	t := x.(*Timer)
	t.index = len(*h)
	*h = append(*h, t)
}

func (h *timerHeap) Pop() any {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	t.index = -1
	*h = old[:n-1]
	return t
}
