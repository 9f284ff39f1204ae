// Copyright 2019 Andy Pan. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

// Package buffer implements the growable byte queue used by connections for
// their inbound and outbound data.
//
// A Buffer looks like this:
//
//	+-------------------+------------------+------------------+
//	| prependable bytes |  readable bytes  |  writable bytes  |
//	|                   |     (CONTENT)    |                  |
//	+-------------------+------------------+------------------+
//	|                   |                  |                  |
//	0      <=      readIndex   <=   writeIndex    <=     len(buf)
//
// The first CheapPrepend bytes are always reserved so a length header can be
// prepended to a message without moving it.
package buffer

import (
	"bytes"
	"encoding/binary"

	"github.com/pkg/errors"
)

const (
	// CheapPrepend is the number of bytes reserved in front of the readable region.
	CheapPrepend = 8
	// InitialSize is the default writable capacity of a new Buffer.
	InitialSize = 1024
)

var (
	// ErrInsufficientPrepend occurs when Prepend is asked to write more than the prependable space.
	ErrInsufficientPrepend = errors.New("buffer: insufficient prependable space")

	crlf = []byte("\r\n")
)

// Buffer is a byte queue with independent read and write cursors.
// It is not safe for concurrent use; a connection's loop owns its buffers.
type Buffer struct {
	buf        []byte
	readIndex  int
	writeIndex int
}

// New returns a Buffer with InitialSize writable bytes.
func New() *Buffer {
	return NewSize(InitialSize)
}

// NewSize returns a Buffer with size writable bytes.
func NewSize(size int) *Buffer {
	if size < 0 {
		size = 0
	}
	return &Buffer{
		buf:        make([]byte, CheapPrepend+size),
		readIndex:  CheapPrepend,
		writeIndex: CheapPrepend,
	}
}

// ReadableBytes is the length of the content.
func (b *Buffer) ReadableBytes() int { return b.writeIndex - b.readIndex }

// WritableBytes is the free space after the content.
func (b *Buffer) WritableBytes() int { return len(b.buf) - b.writeIndex }

// PrependableBytes is the space in front of the content.
func (b *Buffer) PrependableBytes() int { return b.readIndex }

// Capacity is the total size of the backing storage.
func (b *Buffer) Capacity() int { return len(b.buf) }

// Peek returns the readable region without consuming it.
// The slice is only valid until the next mutation of b.
func (b *Buffer) Peek() []byte { return b.buf[b.readIndex:b.writeIndex] }

// BeginWrite returns the writable region. Call HasWritten after filling it.
func (b *Buffer) BeginWrite() []byte { return b.buf[b.writeIndex:] }

// FindCRLF returns the offset of the first "\r\n" in the readable region, or -1.
func (b *Buffer) FindCRLF() int {
	return bytes.Index(b.Peek(), crlf)
}

// FindCRLFFrom is FindCRLF starting at offset start of the readable region.
// The returned offset is relative to the start of the readable region.
func (b *Buffer) FindCRLFFrom(start int) int {
	if start < 0 || start > b.ReadableBytes() {
		return -1
	}
	i := bytes.Index(b.Peek()[start:], crlf)
	if i < 0 {
		return -1
	}
	return start + i
}

// FindEOL returns the offset of the first '\n' in the readable region, or -1.
func (b *Buffer) FindEOL() int {
	return bytes.IndexByte(b.Peek(), '\n')
}

// Retrieve consumes n bytes. Asking for more than is readable consumes everything.
func (b *Buffer) Retrieve(n int) {
	if n < b.ReadableBytes() {
		b.readIndex += n
		return
	}
	b.RetrieveAll()
}

// RetrieveUntil consumes everything before offset end of the readable region.
func (b *Buffer) RetrieveUntil(end int) {
	b.Retrieve(end)
}

// RetrieveAll empties the buffer and restores the full prepend reserve.
func (b *Buffer) RetrieveAll() {
	b.readIndex = CheapPrepend
	b.writeIndex = CheapPrepend
}

// Next consumes up to n bytes and returns a copy of them.
func (b *Buffer) Next(n int) []byte {
	if n > b.ReadableBytes() {
		n = b.ReadableBytes()
	}
	p := make([]byte, n)
	copy(p, b.buf[b.readIndex:])
	b.Retrieve(n)
	return p
}

// RetrieveAsString consumes up to n bytes and returns them as a string.
func (b *Buffer) RetrieveAsString(n int) string {
	if n > b.ReadableBytes() {
		n = b.ReadableBytes()
	}
	s := string(b.buf[b.readIndex : b.readIndex+n])
	b.Retrieve(n)
	return s
}

// RetrieveAllAsString consumes the whole readable region.
func (b *Buffer) RetrieveAllAsString() string {
	return b.RetrieveAsString(b.ReadableBytes())
}

// String returns the readable region without consuming it.
func (b *Buffer) String() string { return string(b.Peek()) }

// Append copies p to the end of the content, making room first if needed.
func (b *Buffer) Append(p []byte) {
	b.EnsureWritableBytes(len(p))
	b.writeIndex += copy(b.buf[b.writeIndex:], p)
}

// AppendString is Append for strings.
func (b *Buffer) AppendString(s string) {
	b.EnsureWritableBytes(len(s))
	b.writeIndex += copy(b.buf[b.writeIndex:], s)
}

// Write implements io.Writer. It never fails.
func (b *Buffer) Write(p []byte) (int, error) {
	b.Append(p)
	return len(p), nil
}

// WriteString implements io.StringWriter. It never fails.
func (b *Buffer) WriteString(s string) (int, error) {
	b.AppendString(s)
	return len(s), nil
}

// EnsureWritableBytes guarantees at least n writable bytes.
func (b *Buffer) EnsureWritableBytes(n int) {
	if b.WritableBytes() < n {
		b.makeSpace(n)
	}
}

// HasWritten advances the write cursor after a direct write into BeginWrite.
func (b *Buffer) HasWritten(n int) {
	if n > b.WritableBytes() {
		panic("buffer: HasWritten beyond writable region")
	}
	b.writeIndex += n
}

// Unwrite drops the last n bytes of the content.
func (b *Buffer) Unwrite(n int) {
	if n > b.ReadableBytes() {
		n = b.ReadableBytes()
	}
	b.writeIndex -= n
}

// Prepend writes p immediately in front of the content.
func (b *Buffer) Prepend(p []byte) error {
	if len(p) > b.PrependableBytes() {
		return ErrInsufficientPrepend
	}
	b.readIndex -= len(p)
	copy(b.buf[b.readIndex:], p)
	return nil
}

// Shrink reallocates the backing storage to fit the content plus reserve bytes.
func (b *Buffer) Shrink(reserve int) {
	other := NewSize(b.ReadableBytes() + reserve)
	other.Append(b.Peek())
	b.Swap(other)
}

// Swap exchanges the contents of b and other.
func (b *Buffer) Swap(other *Buffer) {
	b.buf, other.buf = other.buf, b.buf
	b.readIndex, other.readIndex = other.readIndex, b.readIndex
	b.writeIndex, other.writeIndex = other.writeIndex, b.writeIndex
}

// makeSpace either grows the storage or slides the content back to the
// prepend boundary, whichever satisfies n more writable bytes.
func (b *Buffer) makeSpace(n int) {
	if b.WritableBytes()+b.PrependableBytes() < n+CheapPrepend {
		grown := make([]byte, b.writeIndex+n)
		copy(grown, b.buf[:b.writeIndex])
		b.buf = grown
		return
	}
	readable := b.ReadableBytes()
	copy(b.buf[CheapPrepend:], b.buf[b.readIndex:b.writeIndex])
	b.readIndex = CheapPrepend
	b.writeIndex = CheapPrepend + readable
}

// ================================= fixed-width integers, network byte order =================================

func (b *Buffer) mustReadable(n int) {
	if b.ReadableBytes() < n {
		panic(errors.Errorf("buffer: need %d readable bytes, have %d", n, b.ReadableBytes()))
	}
}

// AppendInt64 appends x in network byte order.
func (b *Buffer) AppendInt64(x int64) {
	b.EnsureWritableBytes(8)
	binary.BigEndian.PutUint64(b.buf[b.writeIndex:], uint64(x))
	b.writeIndex += 8
}

// AppendInt32 appends x in network byte order.
func (b *Buffer) AppendInt32(x int32) {
	b.EnsureWritableBytes(4)
	binary.BigEndian.PutUint32(b.buf[b.writeIndex:], uint32(x))
	b.writeIndex += 4
}

// AppendInt16 appends x in network byte order.
func (b *Buffer) AppendInt16(x int16) {
	b.EnsureWritableBytes(2)
	binary.BigEndian.PutUint16(b.buf[b.writeIndex:], uint16(x))
	b.writeIndex += 2
}

// AppendInt8 appends x.
func (b *Buffer) AppendInt8(x int8) {
	b.EnsureWritableBytes(1)
	b.buf[b.writeIndex] = byte(x)
	b.writeIndex++
}

// PeekInt64 decodes the first 8 readable bytes. It panics if fewer are readable.
func (b *Buffer) PeekInt64() int64 {
	b.mustReadable(8)
	return int64(binary.BigEndian.Uint64(b.buf[b.readIndex:]))
}

// PeekInt32 decodes the first 4 readable bytes. It panics if fewer are readable.
func (b *Buffer) PeekInt32() int32 {
	b.mustReadable(4)
	return int32(binary.BigEndian.Uint32(b.buf[b.readIndex:]))
}

// PeekInt16 decodes the first 2 readable bytes. It panics if fewer are readable.
func (b *Buffer) PeekInt16() int16 {
	b.mustReadable(2)
	return int16(binary.BigEndian.Uint16(b.buf[b.readIndex:]))
}

// PeekInt8 decodes the first readable byte. It panics if the buffer is empty.
func (b *Buffer) PeekInt8() int8 {
	b.mustReadable(1)
	return int8(b.buf[b.readIndex])
}

// ReadInt64 is PeekInt64 followed by consuming 8 bytes.
func (b *Buffer) ReadInt64() int64 {
	x := b.PeekInt64()
	b.Retrieve(8)
	return x
}

// ReadInt32 is PeekInt32 followed by consuming 4 bytes.
func (b *Buffer) ReadInt32() int32 {
	x := b.PeekInt32()
	b.Retrieve(4)
	return x
}

// ReadInt16 is PeekInt16 followed by consuming 2 bytes.
func (b *Buffer) ReadInt16() int16 {
	x := b.PeekInt16()
	b.Retrieve(2)
	return x
}

// ReadInt8 is PeekInt8 followed by consuming 1 byte.
func (b *Buffer) ReadInt8() int8 {
	x := b.PeekInt8()
	b.Retrieve(1)
	return x
}

// PrependInt64 writes x in network byte order in front of the content.
func (b *Buffer) PrependInt64(x int64) error {
	var p [8]byte
	binary.BigEndian.PutUint64(p[:], uint64(x))
	return b.Prepend(p[:])
}

// PrependInt32 writes x in network byte order in front of the content.
func (b *Buffer) PrependInt32(x int32) error {
	var p [4]byte
	binary.BigEndian.PutUint32(p[:], uint32(x))
	return b.Prepend(p[:])
}

// PrependInt16 writes x in network byte order in front of the content.
func (b *Buffer) PrependInt16(x int16) error {
	var p [2]byte
	binary.BigEndian.PutUint16(p[:], uint16(x))
	return b.Prepend(p[:])
}

// PrependInt8 writes x in front of the content.
func (b *Buffer) PrependInt8(x int8) error {
	return b.Prepend([]byte{byte(x)})
}
