// Copyright 2019 Andy Pan. All rights reserved.
// Copyright 2018 Joshua J Baker. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

//go:build linux
// +build linux

package evnet

import (
	"context"
	"net"

	"github.com/libp2p/go-reuseport"
	"github.com/pkg/errors"
	"github.com/ysyzqq/evnet/internal/socket"
	"golang.org/x/sys/unix"
)

// listen binds and listens on addr through the net package, then detaches the
// socket from it: the descriptor is duplicated, made non-blocking and handed
// back as a raw socket the acceptor owns. The Go listener is closed.
func listen(network, addr string, reusePort bool) (*socket.Socket, net.Addr, error) {
	var lc net.ListenConfig
	if reusePort {
		lc.Control = reuseport.Control
	}
	ln, err := lc.Listen(context.Background(), network, addr)
	if err != nil {
		return nil, nil, err
	}
	defer func() { sniffErrorAndLog(ln.Close()) }()

	tcpLn, ok := ln.(*net.TCPListener)
	if !ok {
		return nil, nil, errors.Errorf("evnet: unsupported network %q", network)
	}
	rc, err := tcpLn.SyscallConn()
	if err != nil {
		return nil, nil, err
	}
	fd := -1
	var dupErr error
	if err = rc.Control(func(s uintptr) {
		fd, dupErr = unix.FcntlInt(s, unix.F_DUPFD_CLOEXEC, 0)
	}); err != nil {
		return nil, nil, err
	}
	if dupErr != nil {
		return nil, nil, errors.Wrap(dupErr, "dup listening socket")
	}
	if err = unix.SetNonblock(fd, true); err != nil {
		sniffErrorAndLog(unix.Close(fd))
		return nil, nil, errors.Wrap(err, "set listening socket non-blocking")
	}
	return socket.New(fd), tcpLn.Addr(), nil
}
