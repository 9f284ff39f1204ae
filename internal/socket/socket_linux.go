// Copyright 2019 Andy Pan. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

//go:build linux
// +build linux

// Package socket wraps a raw TCP socket descriptor. Every call reports the
// raw errno; nothing here retries or logs.
package socket

import (
	"fmt"
	"net"
	"os"

	"github.com/ysyzqq/evnet/internal/netpoll"
	"golang.org/x/sys/unix"
)

// Socket owns one socket descriptor and closes it exactly once.
type Socket struct {
	fd int
}

// New takes ownership of fd.
func New(fd int) *Socket {
	return &Socket{fd: fd}
}

// Fd returns the descriptor.
func (s *Socket) Fd() int { return s.fd }

// Accept accepts one pending connection as a non-blocking, close-on-exec descriptor.
func (s *Socket) Accept() (int, net.Addr, error) {
	nfd, sa, err := unix.Accept4(s.fd, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
	if err != nil {
		return -1, nil, err
	}
	return nfd, netpoll.SockaddrToTCPOrUnixAddr(sa), nil
}

// IsExpectedAcceptError reports whether err is one of the accept failures
// that readiness will retry rather than a broken listening socket.
func IsExpectedAcceptError(err error) bool {
	switch err {
	case unix.EAGAIN, unix.ECONNABORTED, unix.EINTR, unix.EPROTO, unix.EPERM, unix.EMFILE:
		return true
	}
	return false
}

// ShutdownWrite half-closes the write side.
func (s *Socket) ShutdownWrite() error {
	return os.NewSyscallError("shutdown", unix.Shutdown(s.fd, unix.SHUT_WR))
}

func boolint(on bool) int {
	if on {
		return 1
	}
	return 0
}

// SetTCPNoDelay toggles Nagle's algorithm.
func (s *Socket) SetTCPNoDelay(on bool) error {
	return os.NewSyscallError("setsockopt", unix.SetsockoptInt(s.fd, unix.IPPROTO_TCP, unix.TCP_NODELAY, boolint(on)))
}

// SetReuseAddr toggles SO_REUSEADDR.
func (s *Socket) SetReuseAddr(on bool) error {
	return os.NewSyscallError("setsockopt", unix.SetsockoptInt(s.fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, boolint(on)))
}

// SetReusePort toggles SO_REUSEPORT.
func (s *Socket) SetReusePort(on bool) error {
	return os.NewSyscallError("setsockopt", unix.SetsockoptInt(s.fd, unix.SOL_SOCKET, unix.SO_REUSEPORT, boolint(on)))
}

// SetKeepAlive toggles SO_KEEPALIVE.
func (s *Socket) SetKeepAlive(on bool) error {
	return os.NewSyscallError("setsockopt", unix.SetsockoptInt(s.fd, unix.SOL_SOCKET, unix.SO_KEEPALIVE, boolint(on)))
}

// SocketError returns the pending SO_ERROR of the socket, nil if none.
func (s *Socket) SocketError() error {
	v, err := unix.GetsockoptInt(s.fd, unix.SOL_SOCKET, unix.SO_ERROR)
	if err != nil {
		return os.NewSyscallError("getsockopt", err)
	}
	if v != 0 {
		return unix.Errno(v)
	}
	return nil
}

// TCPInfo fetches the kernel's TCP_INFO diagnostics.
func (s *Socket) TCPInfo() (*unix.TCPInfo, error) {
	info, err := unix.GetsockoptTCPInfo(s.fd, unix.IPPROTO_TCP, unix.TCP_INFO)
	if err != nil {
		return nil, os.NewSyscallError("getsockopt", err)
	}
	return info, nil
}

// TCPInfoString formats the most useful TCP_INFO fields on one line.
func (s *Socket) TCPInfoString() (string, error) {
	ti, err := s.TCPInfo()
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("unrecovered=%d rto=%d ato=%d snd_mss=%d rcv_mss=%d "+
		"lost=%d retrans=%d rtt=%d rttvar=%d sshthresh=%d cwnd=%d total_retrans=%d",
		ti.Retransmits, // unrecovered RTO timeouts
		ti.Rto,         // usec
		ti.Ato,         // usec
		ti.Snd_mss,
		ti.Rcv_mss,
		ti.Lost,
		ti.Retrans,
		ti.Rtt, // smoothed, usec
		ti.Rttvar,
		ti.Snd_ssthresh,
		ti.Snd_cwnd,
		ti.Total_retrans), nil
}

// LocalAddr returns the address the socket is bound to, nil on failure.
func (s *Socket) LocalAddr() net.Addr {
	sa, err := unix.Getsockname(s.fd)
	if err != nil {
		return nil
	}
	return netpoll.SockaddrToTCPOrUnixAddr(sa)
}

// Close closes the descriptor.
func (s *Socket) Close() error {
	return os.NewSyscallError("close", unix.Close(s.fd))
}
