// Copyright 2019 Andy Pan. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

//go:build linux
// +build linux

package evnet

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunInLoopFromAnotherGoroutine(t *testing.T) {
	el := newTestLoop(t)
	assert.True(t, el.IsInLoopThread())

	var ran, inLoop atomic.Bool
	go func() {
		assert.False(t, el.IsInLoopThread())
		el.RunInLoop(func() {
			ran.Store(true)
			inLoop.Store(el.IsInLoopThread())
			el.Quit()
		})
	}()
	el.Loop()

	assert.True(t, ran.Load())
	assert.True(t, inLoop.Load())
	assert.GreaterOrEqual(t, el.Iteration(), int64(1))
	assert.GreaterOrEqual(t, testutil.ToFloat64(LoopIterations.WithLabelValues(el.Name())), float64(1))
	assert.False(t, el.PollReturnTime().IsZero())
}

func TestRunInLoopOnLoopRunsImmediately(t *testing.T) {
	el := newTestLoop(t)

	var ran bool
	el.RunInLoop(func() { ran = true })
	assert.True(t, ran)
	assert.Zero(t, el.QueueSize())

	el.QueueInLoop(func() {})
	assert.Equal(t, 1, el.QueueSize())
}

func TestQueueInLoopWhileDraining(t *testing.T) {
	// a function queued while pending functions run must wake the next poll
	el := newTestLoop(t, WithPollTimeout(10*time.Second))

	var order []string
	go el.QueueInLoop(func() {
		order = append(order, "first")
		el.QueueInLoop(func() {
			order = append(order, "second")
			el.Quit()
		})
	})

	start := time.Now()
	el.Loop()
	assert.Less(t, time.Since(start), 5*time.Second)
	assert.Equal(t, []string{"first", "second"}, order)
}

func TestQuitBeforeLoop(t *testing.T) {
	el := newTestLoop(t)

	var ran bool
	el.QueueInLoop(func() { ran = true })
	el.Quit()
	el.Loop()

	assert.Zero(t, el.Iteration())
	assert.True(t, ran, "pending functions run before the loop returns")

	// the quit request was consumed; the loop can run again
	go el.QueueInLoop(el.Quit)
	el.Loop()
	assert.GreaterOrEqual(t, el.Iteration(), int64(1))
}

func TestAssertInLoopThreadFromForeignGoroutine(t *testing.T) {
	el := newTestLoop(t)

	recovered := make(chan interface{}, 1)
	go func() {
		defer func() { recovered <- recover() }()
		el.HasChannel(el.wakeupChannel)
	}()
	err, ok := (<-recovered).(error)
	require.True(t, ok)
	assert.ErrorIs(t, err, ErrInvariant)
}

func TestRemoveChannelPendingDispatch(t *testing.T) {
	el := newTestLoop(t)
	r1, _ := testPipe(t)
	r2, _ := testPipe(t)

	ch1 := NewChannel(el, r1)
	ch1.EnableReading()
	ch2 := NewChannel(el, r2)
	ch2.EnableReading()

	el.eventHandling = true
	el.activeChannels = []*Channel{ch1, ch2}
	el.currentActiveChannel = ch1

	ch2.DisableAll()
	requireInvariant(t, ch2.Remove)

	// the channel being dispatched may remove itself
	ch1.DisableAll()
	ch1.Remove()

	el.eventHandling = false
	el.activeChannels = nil
	el.currentActiveChannel = nil
	ch2.Remove()
}

func TestEventLoopContext(t *testing.T) {
	el := newTestLoop(t)
	assert.Nil(t, el.Context())
	el.SetContext("ctx")
	assert.Equal(t, "ctx", el.Context())
	assert.False(t, el.EventHandling())
	assert.Equal(t, t.Name(), el.Name())
}

func TestLoopTwiceConcurrentlyPanics(t *testing.T) {
	el := newTestLoop(t)
	el.RunAfter(time.Millisecond, func() {
		requireInvariant(t, el.Loop)
		el.Quit()
	})
	el.Loop()
	require.False(t, el.looping.Load())
}
