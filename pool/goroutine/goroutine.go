// Copyright 2019 Andy Pan. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

// Package goroutine wraps ants pools for the goroutines that host event loops.
package goroutine

import (
	"time"

	"github.com/panjf2000/ants/v2"
)

const (
	// ExpiryDuration is the interval after which an idle worker is reclaimed.
	ExpiryDuration = 10 * time.Second
)

// Pool is the alias of ants.Pool.
type Pool = ants.Pool

// New returns a blocking pool with exactly size workers.
// A panic inside a task is re-raised instead of being swallowed by the pool,
// so invariant violations in a loop still abort the process.
func New(size int) (*Pool, error) {
	return ants.NewPool(size,
		ants.WithExpiryDuration(ExpiryDuration),
		ants.WithNonblocking(false),
		ants.WithPanicHandler(func(p interface{}) { panic(p) }),
	)
}
