// Copyright 2019 Andy Pan. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package buffer

import (
	"math"
	"math/rand"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func assertLayout(t *testing.T, b *Buffer, readable, writable, prependable int) {
	t.Helper()
	assert.Equal(t, readable, b.ReadableBytes(), "readable")
	assert.Equal(t, writable, b.WritableBytes(), "writable")
	assert.Equal(t, prependable, b.PrependableBytes(), "prependable")
}

func TestAppendRetrieve(t *testing.T) {
	b := New()
	assertLayout(t, b, 0, InitialSize, CheapPrepend)

	str := strings.Repeat("x", 200)
	b.AppendString(str)
	assertLayout(t, b, 200, InitialSize-200, CheapPrepend)

	str2 := b.RetrieveAsString(50)
	assert.Equal(t, strings.Repeat("x", 50), str2)
	assertLayout(t, b, 150, InitialSize-200, CheapPrepend+50)

	b.AppendString(str)
	assertLayout(t, b, 350, InitialSize-400, CheapPrepend+50)

	str3 := b.RetrieveAllAsString()
	assert.Equal(t, strings.Repeat("x", 350), str3)
	assertLayout(t, b, 0, InitialSize, CheapPrepend)
}

func TestGrow(t *testing.T) {
	b := New()
	b.AppendString(strings.Repeat("y", 400))
	assertLayout(t, b, 400, InitialSize-400, CheapPrepend)

	b.Retrieve(50)
	assertLayout(t, b, 350, InitialSize-400, CheapPrepend+50)

	b.AppendString(strings.Repeat("z", 1000))
	assertLayout(t, b, 1350, 0, CheapPrepend+50)

	b.RetrieveAll()
	assertLayout(t, b, 0, 1400, CheapPrepend)
}

func TestInsideGrow(t *testing.T) {
	b := New()
	b.AppendString(strings.Repeat("y", 800))
	assertLayout(t, b, 800, InitialSize-800, CheapPrepend)

	b.Retrieve(500)
	assertLayout(t, b, 300, InitialSize-800, CheapPrepend+500)

	// enough slack in front: content slides back instead of reallocating
	b.AppendString(strings.Repeat("z", 300))
	assertLayout(t, b, 600, InitialSize-600, CheapPrepend)
	assert.Equal(t, strings.Repeat("y", 300)+strings.Repeat("z", 300), b.String())
}

func TestShrink(t *testing.T) {
	b := New()
	b.AppendString(strings.Repeat("y", 2000))
	assertLayout(t, b, 2000, 0, CheapPrepend)

	b.Retrieve(1500)
	assertLayout(t, b, 500, 0, CheapPrepend+1500)

	b.Shrink(0)
	assertLayout(t, b, 500, 0, CheapPrepend)
	assert.Equal(t, strings.Repeat("y", 500), b.RetrieveAllAsString())
}

func TestPrepend(t *testing.T) {
	b := New()
	b.AppendString(strings.Repeat("y", 200))
	assertLayout(t, b, 200, InitialSize-200, CheapPrepend)

	require.NoError(t, b.PrependInt32(200))
	assertLayout(t, b, 204, InitialSize-200, CheapPrepend-4)
	assert.Equal(t, int32(200), b.ReadInt32())

	assert.ErrorIs(t, b.Prepend(make([]byte, CheapPrepend+1)), ErrInsufficientPrepend)
	assertLayout(t, b, 200, InitialSize-200, CheapPrepend)
}

func TestIntegerRoundTrip(t *testing.T) {
	b := New()
	b.AppendInt8(math.MinInt8)
	b.AppendInt16(-12345)
	b.AppendInt32(math.MinInt32)
	b.AppendInt64(-1)
	b.AppendInt64(math.MaxInt64)
	b.AppendInt32(0x01020304)
	assert.Equal(t, 1+2+4+8+8+4, b.ReadableBytes())

	assert.Equal(t, int8(math.MinInt8), b.PeekInt8())
	assert.Equal(t, int8(math.MinInt8), b.ReadInt8())
	assert.Equal(t, int16(-12345), b.ReadInt16())
	assert.Equal(t, int32(math.MinInt32), b.ReadInt32())
	assert.Equal(t, int64(-1), b.ReadInt64())
	assert.Equal(t, int64(math.MaxInt64), b.PeekInt64())
	assert.Equal(t, int64(math.MaxInt64), b.ReadInt64())
	// network order on the wire
	assert.Equal(t, []byte{1, 2, 3, 4}, b.Peek())
	assert.Equal(t, int32(0x01020304), b.ReadInt32())
	assert.Zero(t, b.ReadableBytes())

	assert.Panics(t, func() { b.ReadInt16() })
}

func TestFindEOL(t *testing.T) {
	b := New()
	b.AppendString(strings.Repeat("x", 100000))
	assert.Equal(t, -1, b.FindEOL())
	assert.Equal(t, -1, b.FindCRLF())

	b.AppendString("\r\nabc\n")
	assert.Equal(t, 100000, b.FindCRLF())
	assert.Equal(t, 100001, b.FindEOL())
	assert.Equal(t, -1, b.FindCRLFFrom(100002))

	b.RetrieveUntil(b.FindCRLF() + 2)
	assert.Equal(t, "abc\n", b.String())
}

func TestUnwriteAndDirectWrite(t *testing.T) {
	b := New()
	b.AppendString("hello world")
	b.Unwrite(6)
	assert.Equal(t, "hello", b.String())

	b.EnsureWritableBytes(3)
	n := copy(b.BeginWrite(), "!!!")
	b.HasWritten(n)
	assert.Equal(t, "hello!!!", string(b.Next(100)))
	assertLayout(t, b, 0, InitialSize, CheapPrepend)
}

func TestCapacityInvariant(t *testing.T) {
	r := rand.New(rand.NewSource(1))
	b := New()
	var appended, retrieved int
	for i := 0; i < 5000; i++ {
		if r.Intn(3) > 0 {
			n := r.Intn(3000)
			b.Append(make([]byte, n))
			appended += n
		} else {
			n := r.Intn(b.ReadableBytes() + 1)
			b.Retrieve(n)
			retrieved += n
		}
		require.Equal(t, b.Capacity(), b.ReadableBytes()+b.WritableBytes()+b.PrependableBytes())
		require.Equal(t, appended-retrieved, b.ReadableBytes())
		require.GreaterOrEqual(t, b.PrependableBytes(), CheapPrepend)
	}
}

func TestWriter(t *testing.T) {
	b := New()
	n, err := b.Write([]byte("abc"))
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	n, err = b.WriteString("def")
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, "abcdef", b.RetrieveAllAsString())
}
