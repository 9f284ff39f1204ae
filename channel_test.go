// Copyright 2019 Andy Pan. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

//go:build linux
// +build linux

package evnet

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func recordingChannel(el *EventLoop, fd int, calls *[]string) *Channel {
	ch := NewChannel(el, fd)
	ch.SetReadCallback(func(time.Time) { *calls = append(*calls, "read") })
	ch.SetWriteCallback(func() { *calls = append(*calls, "write") })
	ch.SetCloseCallback(func() { *calls = append(*calls, "close") })
	ch.SetErrorCallback(func() { *calls = append(*calls, "error") })
	return ch
}

func TestChannelDispatchOrder(t *testing.T) {
	el := newTestLoop(t)
	r, _ := testPipe(t)

	cases := []struct {
		name    string
		revents uint32
		want    []string
	}{
		{"hang-up without data closes", unix.EPOLLHUP, []string{"close"}},
		{"hang-up with data reads", unix.EPOLLHUP | unix.EPOLLIN, []string{"read"}},
		{"read hang-up reads", unix.EPOLLRDHUP, []string{"read"}},
		{"priority reads", unix.EPOLLPRI, []string{"read"}},
		{"error before read before write", unix.EPOLLOUT | unix.EPOLLIN | unix.EPOLLERR, []string{"error", "read", "write"}},
		{"hang-up and error", unix.EPOLLHUP | unix.EPOLLERR, []string{"close", "error"}},
		{"nothing", 0, nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var calls []string
			ch := recordingChannel(el, r, &calls)
			ch.DoNotLogHup()
			ch.SetRevents(tc.revents)
			ch.HandleEvent(time.Now())
			assert.Equal(t, tc.want, calls)
		})
	}
}

func TestChannelTieDropsEventsAfterOwnerEnds(t *testing.T) {
	el := newTestLoop(t)
	r, _ := testPipe(t)

	var calls []string
	ch := recordingChannel(el, r, &calls)
	lt := new(Lifetime)
	ch.Tie(lt)
	ch.SetRevents(unix.EPOLLIN)

	ch.HandleEvent(time.Now())
	assert.Equal(t, []string{"read"}, calls)

	lt.End()
	assert.False(t, lt.Alive())
	ch.HandleEvent(time.Now())
	assert.Equal(t, []string{"read"}, calls)
}

func TestChannelInterest(t *testing.T) {
	el := newTestLoop(t)
	r, _ := testPipe(t)

	ch := NewChannel(el, r)
	assert.True(t, ch.IsNoneEvent())
	ch.EnableReading()
	assert.True(t, ch.IsReading())
	assert.False(t, ch.IsWriting())
	ch.EnableWriting()
	assert.True(t, ch.IsWriting())
	assert.Contains(t, ch.EventsString(), "IN PRI OUT")
	ch.DisableWriting()
	assert.False(t, ch.IsWriting())
	ch.DisableReading()
	assert.True(t, ch.IsNoneEvent())

	// removing with interest left is a logic error
	ch.EnableReading()
	requireInvariant(t, ch.Remove)
	ch.DisableAll()
	ch.Remove()
	require.False(t, el.HasChannel(ch))
	ch.release()
}

func TestChannelReleaseWhileRegistered(t *testing.T) {
	el := newTestLoop(t)
	r, _ := testPipe(t)

	ch := NewChannel(el, r)
	ch.EnableReading()
	requireInvariant(t, ch.release)
	ch.DisableAll()
	ch.Remove()
	ch.release()
}
