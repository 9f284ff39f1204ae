// Copyright 2019 Andy Pan. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

//go:build linux
// +build linux

package netpoll

import (
	"encoding/binary"
	"os"

	"golang.org/x/sys/unix"
)

// OpenEventFD creates the non-blocking eventfd a loop wakes itself with.
func OpenEventFD() (int, error) {
	fd, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		return -1, os.NewSyscallError("eventfd", err)
	}
	return fd, nil
}

// WriteEventFD bumps the eventfd counter by one.
// A saturated counter (EAGAIN) already guarantees a pending wake-up.
func WriteEventFD(fd int) error {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], 1)
	n, err := unix.Write(fd, b[:])
	if err == unix.EAGAIN {
		return nil
	}
	if err != nil {
		return os.NewSyscallError("write", err)
	}
	if n != len(b) {
		return os.NewSyscallError("write", unix.EIO)
	}
	return nil
}

// DrainEventFD resets the eventfd counter and returns its previous value.
func DrainEventFD(fd int) (uint64, error) {
	var b [8]byte
	n, err := unix.Read(fd, b[:])
	if err == unix.EAGAIN {
		return 0, nil
	}
	if err != nil {
		return 0, os.NewSyscallError("read", err)
	}
	if n != len(b) {
		return 0, os.NewSyscallError("read", unix.EIO)
	}
	return binary.LittleEndian.Uint64(b[:]), nil
}
