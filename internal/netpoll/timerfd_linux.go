// Copyright 2019 Andy Pan. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

//go:build linux
// +build linux

package netpoll

import (
	"encoding/binary"
	"os"
	"time"

	"golang.org/x/sys/unix"
)

// MinTimerDelay is the shortest delay a timerfd is armed with.
const MinTimerDelay = 100 * time.Microsecond

// OpenTimerFD creates a non-blocking monotonic timerfd.
func OpenTimerFD() (int, error) {
	fd, err := unix.TimerfdCreate(unix.CLOCK_MONOTONIC, unix.TFD_NONBLOCK|unix.TFD_CLOEXEC)
	if err != nil {
		return -1, os.NewSyscallError("timerfd_create", err)
	}
	return fd, nil
}

// ArmTimerFD programs a one-shot expiry after d, clamped to MinTimerDelay.
func ArmTimerFD(fd int, d time.Duration) error {
	if d < MinTimerDelay {
		d = MinTimerDelay
	}
	spec := unix.ItimerSpec{Value: unix.NsecToTimespec(int64(d))}
	if err := unix.TimerfdSettime(fd, 0, &spec, nil); err != nil {
		return os.NewSyscallError("timerfd_settime", err)
	}
	return nil
}

// ReadTimerFD consumes the expiration count of a fired timerfd.
func ReadTimerFD(fd int) (uint64, error) {
	var b [8]byte
	n, err := unix.Read(fd, b[:])
	if err != nil {
		return 0, os.NewSyscallError("read", err)
	}
	if n != len(b) {
		return 0, os.NewSyscallError("read", unix.EIO)
	}
	return binary.LittleEndian.Uint64(b[:]), nil
}
