// Copyright 2019 Andy Pan. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

//go:build linux
// +build linux

package evnet

import (
	"net"
	"os"
	"time"

	"github.com/ysyzqq/evnet/internal/socket"
	"golang.org/x/sys/unix"
)

// NewConnectionCallback receives an accepted non-blocking descriptor and its peer.
type NewConnectionCallback func(fd int, peer net.Addr)

// Acceptor owns the listening socket of a server and accepts on its loop.
type Acceptor struct {
	loop      *EventLoop
	socket    *socket.Socket
	channel   *Channel
	addr      net.Addr
	listening bool
	idleFd    int // 预留的空闲fd, EMFILE时用来接收并关闭新连接

	newConnectionCallback NewConnectionCallback
	accept                func() (int, net.Addr, error)
}

// NewAcceptor binds addr and prepares to accept on loop. The listen backlog is
// open on return; accepting starts with Listen.
func NewAcceptor(loop *EventLoop, addr string, reusePort bool) (*Acceptor, error) {
	sock, lnaddr, err := listen("tcp", addr, reusePort)
	if err != nil {
		return nil, err
	}
	idleFd, err := openIdleFd()
	if err != nil {
		sniffErrorAndLog(sock.Close())
		return nil, err
	}
	a := &Acceptor{
		loop:    loop,
		socket:  sock,
		channel: NewChannel(loop, sock.Fd()),
		addr:    lnaddr,
		idleFd:  idleFd,
	}
	a.accept = a.socket.Accept
	a.channel.SetReadCallback(a.handleRead)
	return a, nil
}

func openIdleFd() (int, error) {
	fd, err := unix.Open("/dev/null", unix.O_RDONLY|unix.O_CLOEXEC, 0)
	if err != nil {
		return -1, os.NewSyscallError("open", err)
	}
	return fd, nil
}

// SetNewConnectionCallback sets the callback run for each accepted connection.
func (a *Acceptor) SetNewConnectionCallback(cb NewConnectionCallback) {
	a.newConnectionCallback = cb
}

// Addr returns the bound address.
func (a *Acceptor) Addr() net.Addr { return a.addr }

// Listening reports whether Listen has been called.
func (a *Acceptor) Listening() bool { return a.listening }

// Listen starts accepting. It must run on the acceptor's loop.
func (a *Acceptor) Listen() {
	a.loop.assertInLoopThread()
	a.listening = true
	a.channel.EnableReading()
}

func (a *Acceptor) handleRead(time.Time) {
	a.loop.assertInLoopThread()
	fd, peer, err := a.accept()
	if err == nil {
		if a.newConnectionCallback != nil {
			a.newConnectionCallback(fd, peer)
		} else {
			sniffErrorAndLog(unix.Close(fd))
		}
		return
	}

	errno, _ := err.(unix.Errno)
	AcceptErrors.WithLabelValues(unix.ErrnoName(errno)).Inc()
	if !socket.IsExpectedAcceptError(err) {
		a.loop.logger.Errorf("Acceptor::handleRead: unexpected accept error: %v", err)
		return
	}
	if err != unix.EAGAIN {
		a.loop.logger.Warnf("Acceptor::handleRead: %v", err)
	}
	if err == unix.EMFILE {
		a.shedPending()
	}
}

// shedPending frees the idle descriptor, accepts and closes one pending
// connection in its slot and reserves the slot again, so a full descriptor
// table does not keep the listener readable forever.
func (a *Acceptor) shedPending() {
	sniffErrorAndLog(unix.Close(a.idleFd))
	if fd, _, err := unix.Accept(a.socket.Fd()); err == nil {
		sniffErrorAndLog(unix.Close(fd))
	}
	var err error
	if a.idleFd, err = openIdleFd(); err != nil {
		a.loop.logger.Errorf("Acceptor: reopen idle descriptor: %v", err)
	}
	IdleFDRecoveries.Inc()
}

// Close stops accepting and closes the listening socket. It must run on the
// acceptor's loop.
func (a *Acceptor) Close() error {
	a.loop.assertInLoopThread()
	if a.channel.Index() != chanNew {
		a.channel.DisableAll()
		a.channel.Remove()
	}
	a.channel.release()
	a.listening = false
	if a.idleFd >= 0 {
		sniffErrorAndLog(unix.Close(a.idleFd))
		a.idleFd = -1
	}
	return a.socket.Close()
}
