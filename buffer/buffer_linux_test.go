// Copyright 2019 Andy Pan. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

//go:build linux
// +build linux

package buffer

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func pipe(t *testing.T) (r, w int) {
	t.Helper()
	var fds [2]int
	require.NoError(t, unix.Pipe2(fds[:], unix.O_NONBLOCK|unix.O_CLOEXEC))
	t.Cleanup(func() {
		_ = unix.Close(fds[0])
		_ = unix.Close(fds[1])
	})
	return fds[0], fds[1]
}

func TestReadFromFDSpillsIntoScratch(t *testing.T) {
	r, w := pipe(t)
	payload := bytes.Repeat([]byte("0123456789"), 5000)
	n, err := unix.Write(w, payload)
	require.NoError(t, err)
	require.Equal(t, len(payload), n)

	b := NewSize(100)
	n, err = b.ReadFromFD(r)
	require.NoError(t, err)
	assert.Equal(t, len(payload), n)
	assert.Equal(t, len(payload), b.ReadableBytes())
	assert.Equal(t, payload, b.Peek())
	assert.Equal(t, CheapPrepend, b.PrependableBytes())
}

func TestReadFromFDFitsWritable(t *testing.T) {
	r, w := pipe(t)
	_, err := unix.Write(w, []byte("hello"))
	require.NoError(t, err)

	b := New()
	n, err := b.ReadFromFD(r)
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	assert.Equal(t, InitialSize, b.Capacity()-CheapPrepend)
	assert.Equal(t, "hello", b.String())
}

func TestReadFromFDReportsErrno(t *testing.T) {
	r, _ := pipe(t)
	b := New()
	n, err := b.ReadFromFD(r)
	assert.Zero(t, n)
	assert.ErrorIs(t, err, unix.EAGAIN)
	assert.Zero(t, b.ReadableBytes())
}

func TestWriteToFD(t *testing.T) {
	r, w := pipe(t)
	b := New()
	b.AppendString("ping")
	n, err := b.WriteToFD(w)
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	assert.Zero(t, b.ReadableBytes())

	got := make([]byte, 8)
	n, err = unix.Read(r, got)
	require.NoError(t, err)
	assert.Equal(t, "ping", string(got[:n]))
}
