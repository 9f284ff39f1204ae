// Copyright 2019 Andy Pan. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

//go:build linux
// +build linux

package evnet

import (
	"io"
	"net"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func newTestAcceptor(t *testing.T, el *EventLoop) *Acceptor {
	t.Helper()
	a, err := NewAcceptor(el, "127.0.0.1:0", false)
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, a.Close()) })
	a.Listen()
	require.True(t, a.Listening())
	return a
}

func TestAcceptorAccepts(t *testing.T) {
	el := newTestLoop(t)
	a := newTestAcceptor(t, el)

	var (
		gotFd   = -1
		gotPeer net.Addr
	)
	a.SetNewConnectionCallback(func(fd int, peer net.Addr) {
		gotFd, gotPeer = fd, peer
	})

	client, err := net.Dial("tcp", a.Addr().String())
	require.NoError(t, err)
	defer client.Close()

	// handleRead is confined to the loop thread, so poll from the test goroutine
	for deadline := time.Now().Add(time.Second); gotFd < 0 && time.Now().Before(deadline); {
		a.handleRead(time.Now())
		if gotFd < 0 {
			time.Sleep(10 * time.Millisecond)
		}
	}
	require.GreaterOrEqual(t, gotFd, 0, "no connection accepted")
	defer unix.Close(gotFd)

	assert.Equal(t, client.LocalAddr().String(), gotPeer.String())
	flags, err := unix.FcntlInt(uintptr(gotFd), unix.F_GETFL, 0)
	require.NoError(t, err)
	assert.NotZero(t, flags&unix.O_NONBLOCK)
}

func TestAcceptorShedsConnectionOnEMFILE(t *testing.T) {
	el := newTestLoop(t)
	a := newTestAcceptor(t, el)

	var called bool
	a.SetNewConnectionCallback(func(fd int, _ net.Addr) {
		called = true
		_ = unix.Close(fd)
	})
	a.accept = func() (int, net.Addr, error) { return -1, nil, unix.EMFILE }

	client, err := net.Dial("tcp", a.Addr().String())
	require.NoError(t, err)
	defer client.Close()
	// let the handshake land in the accept queue
	time.Sleep(50 * time.Millisecond)

	recoveries := testutil.ToFloat64(IdleFDRecoveries)
	emfiles := testutil.ToFloat64(AcceptErrors.WithLabelValues("EMFILE"))

	a.handleRead(time.Now())

	assert.False(t, called)
	assert.Equal(t, recoveries+1, testutil.ToFloat64(IdleFDRecoveries))
	assert.Equal(t, emfiles+1, testutil.ToFloat64(AcceptErrors.WithLabelValues("EMFILE")))
	// the spare slot is reserved again
	require.GreaterOrEqual(t, a.idleFd, 0)
	_, err = unix.FcntlInt(uintptr(a.idleFd), unix.F_GETFD, 0)
	assert.NoError(t, err)

	// the pending connection was accepted and closed
	require.NoError(t, client.SetReadDeadline(time.Now().Add(time.Second)))
	_, err = client.Read(make([]byte, 1))
	assert.ErrorIs(t, err, io.EOF)
}

func TestAcceptorIgnoresEAGAIN(t *testing.T) {
	el := newTestLoop(t)
	a := newTestAcceptor(t, el)

	recoveries := testutil.ToFloat64(IdleFDRecoveries)
	a.handleRead(time.Now())
	assert.Equal(t, recoveries, testutil.ToFloat64(IdleFDRecoveries))
}
