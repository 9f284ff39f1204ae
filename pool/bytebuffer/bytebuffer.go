// Copyright 2019 Andy Pan. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

// Package bytebuffer pools the scratch copies a connection makes when a send
// has to hop onto its owning loop.
package bytebuffer

import "github.com/valyala/bytebufferpool"

// ByteBuffer is the alias of bytebufferpool.ByteBuffer.
type ByteBuffer = bytebufferpool.ByteBuffer

var (
	// Get returns an empty byte buffer from the pool, exported from bytebufferpool.
	Get = bytebufferpool.Get
	// Put returns the byte buffer to the pool, exported from bytebufferpool.
	Put = func(b *ByteBuffer) {
		if b != nil {
			bytebufferpool.Put(b)
		}
	}
)

// From returns a pooled buffer holding a copy of p.
func From(p []byte) *ByteBuffer {
	bb := Get()
	_, _ = bb.Write(p)
	return bb
}
