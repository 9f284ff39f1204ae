// Copyright 2019 Andy Pan. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

//go:build linux
// +build linux

package buffer

import "golang.org/x/sys/unix"

// extraBufSize is the size of the scratch segment readv spills into.
const extraBufSize = 65536

// ReadFromFD reads once from fd with readv, filling the writable region
// first and spilling the rest into a scratch segment that is then appended.
// It returns the byte count or the raw errno; it never retries.
func (b *Buffer) ReadFromFD(fd int) (int, error) {
	var extra [extraBufSize]byte
	writable := b.WritableBytes()
	iov := [][]byte{b.buf[b.writeIndex:], extra[:]}
	// 可写区足够大时不需要第二段
	if writable >= extraBufSize {
		iov = iov[:1]
	}
	n, err := unix.Readv(fd, iov)
	if err != nil {
		return 0, err
	}
	if n <= writable {
		b.writeIndex += n
	} else {
		b.writeIndex = len(b.buf)
		b.Append(extra[:n-writable])
	}
	return n, nil
}

// WriteToFD writes the readable region to fd once and consumes what was written.
func (b *Buffer) WriteToFD(fd int) (int, error) {
	n, err := unix.Write(fd, b.Peek())
	if n <= 0 {
		return 0, err
	}
	b.Retrieve(n)
	return n, err
}
