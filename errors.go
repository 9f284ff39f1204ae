// Copyright 2019 Andy Pan. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package evnet

import "github.com/pkg/errors"

var (
	// ErrInvariant wraps every fatal invariant violation; these are raised as panics.
	ErrInvariant = errors.New("evnet: invariant violation")
	// ErrServerStarted occurs when a server option is changed after Start.
	ErrServerStarted = errors.New("evnet: server already started")
	// ErrPoolStarted occurs when an event-loop pool is started twice.
	ErrPoolStarted = errors.New("evnet: event-loop pool already started")
	// ErrInvalidFixedLength occurs when the output data have invalid fixed length.
	ErrInvalidFixedLength = errors.New("evnet: invalid fixed length of bytes")
	// ErrUnsupportedLength occurs when unsupported lengthFieldLength is from input data.
	ErrUnsupportedLength = errors.New("evnet: unsupported lengthFieldLength. (expected: 1, 2, 3, 4, or 8)")
	// ErrTooLessLength occurs when adjusted frame length is less than zero.
	ErrTooLessLength = errors.New("evnet: adjusted frame length is less than zero")
)

// invariant panics with ErrInvariant when cond is false.
func invariant(cond bool, format string, args ...interface{}) {
	if !cond {
		panic(errors.Wrapf(ErrInvariant, format, args...))
	}
}
