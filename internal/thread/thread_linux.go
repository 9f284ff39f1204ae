// Copyright 2019 Andy Pan. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

//go:build linux
// +build linux

// Package thread exposes the identity of the calling OS thread.
package thread

import "golang.org/x/sys/unix"

// ID returns the kernel thread id of the caller. It is only stable across
// calls from a goroutine that has called runtime.LockOSThread.
func ID() int {
	return unix.Gettid()
}
