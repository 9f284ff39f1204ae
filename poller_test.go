// Copyright 2019 Andy Pan. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

//go:build linux
// +build linux

package evnet

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ysyzqq/evnet/internal/netpoll"
	"golang.org/x/sys/unix"
)

func TestPollerRegistrationStates(t *testing.T) {
	el := newTestLoop(t)
	r, w := testPipe(t)

	ch := NewChannel(el, r)
	assert.Equal(t, chanNew, ch.Index())
	assert.False(t, el.HasChannel(ch))

	ch.EnableReading()
	assert.Equal(t, chanAdded, ch.Index())
	assert.True(t, el.HasChannel(ch))

	// empty interest keeps the channel known but drops the kernel registration
	ch.DisableAll()
	assert.Equal(t, chanDeleted, ch.Index())
	assert.True(t, el.HasChannel(ch))

	_, err := unix.Write(w, []byte("x"))
	require.NoError(t, err)
	_, active := el.poller.Poll(0, nil)
	assert.NotContains(t, active, ch)

	ch.EnableReading()
	assert.Equal(t, chanAdded, ch.Index())
	_, active = el.poller.Poll(0, nil)
	require.Contains(t, active, ch)
	assert.NotZero(t, ch.Revents()&unix.EPOLLIN)

	ch.DisableAll()
	ch.Remove()
	assert.Equal(t, chanNew, ch.Index())
	assert.False(t, el.HasChannel(ch))
}

func TestPollerRejectsDuplicateFd(t *testing.T) {
	el := newTestLoop(t)
	r, _ := testPipe(t)

	ch := NewChannel(el, r)
	ch.EnableReading()
	dup := NewChannel(el, r)
	requireInvariant(t, dup.EnableReading)

	ch.DisableAll()
	ch.Remove()
}

func TestPollerRemoveUnknownChannel(t *testing.T) {
	el := newTestLoop(t)
	r, _ := testPipe(t)

	ch := NewChannel(el, r)
	requireInvariant(t, ch.Remove)
}

func TestPollerEventListGrows(t *testing.T) {
	el := newTestLoop(t)
	p := el.poller.(*epollPoller)
	require.Equal(t, netpoll.InitPollEventsCap, p.events.Size())

	var chans []*Channel
	for i := 0; i < netpoll.InitPollEventsCap+4; i++ {
		r, w := testPipe(t)
		_, err := unix.Write(w, []byte("x"))
		require.NoError(t, err)
		ch := NewChannel(el, r)
		ch.EnableReading()
		chans = append(chans, ch)
	}

	_, active := p.Poll(0, nil)
	assert.Len(t, active, netpoll.InitPollEventsCap)
	assert.Equal(t, 2*netpoll.InitPollEventsCap, p.events.Size())

	_, active = p.Poll(0, nil)
	assert.Len(t, active, len(chans))
	assert.Equal(t, 2*netpoll.InitPollEventsCap, p.events.Size())

	for _, ch := range chans {
		ch.DisableAll()
		ch.Remove()
	}
}
