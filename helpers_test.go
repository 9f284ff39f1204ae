// Copyright 2019 Andy Pan. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

//go:build linux
// +build linux

package evnet

import (
	"os"
	"testing"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

var testLogger = NewZeroLogger(zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).Level(zerolog.WarnLevel))

// newTestLoop creates a loop owned by the test goroutine and closes it at cleanup.
func newTestLoop(t *testing.T, opts ...Option) *EventLoop {
	t.Helper()
	opts = append([]Option{WithLoopName(t.Name()), WithLogger(testLogger)}, opts...)
	el, err := NewEventLoop(opts...)
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, el.Close()) })
	return el
}

func testPipe(t *testing.T) (r, w int) {
	t.Helper()
	var fds [2]int
	require.NoError(t, unix.Pipe2(fds[:], unix.O_NONBLOCK|unix.O_CLOEXEC))
	t.Cleanup(func() {
		_ = unix.Close(fds[0])
		_ = unix.Close(fds[1])
	})
	return fds[0], fds[1]
}

// requireInvariant runs fn and requires it to panic with an ErrInvariant.
func requireInvariant(t *testing.T, fn func()) {
	t.Helper()
	var recovered interface{}
	func() {
		defer func() { recovered = recover() }()
		fn()
	}()
	require.NotNil(t, recovered, "expected an invariant panic")
	err, ok := recovered.(error)
	require.True(t, ok, "panic value %v is not an error", recovered)
	require.True(t, errors.Is(err, ErrInvariant), "unexpected panic: %v", err)
}
