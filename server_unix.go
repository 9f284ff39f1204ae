// Copyright 2019 Andy Pan. All rights reserved.
// Copyright 2018 Joshua J Baker. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

//go:build linux
// +build linux

package evnet

import (
	"fmt"
	"net"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/ysyzqq/evnet/buffer"
)

// Server accepts TCP connections on its base loop and spreads them over the
// worker loops of its pool. The connection registry is only touched on the
// base loop.
type Server struct {
	loop     *EventLoop // the acceptor loop
	ipPort   string
	name     string
	opts     *Options
	acceptor *Acceptor
	pool     *EventLoopPool

	connectionCallback    ConnectionCallback
	messageCallback       MessageCallback
	writeCompleteCallback WriteCompleteCallback
	threadInitCallback    func(el *EventLoop)

	started     atomic.Bool
	closed      bool
	nextConnID  int
	connections map[string]*Conn
	numConns    atomic.Int32
	gauge       prometheus.Gauge
}

// NewServer binds addr and returns a server whose acceptor runs on loop.
func NewServer(loop *EventLoop, addr, name string, opts ...Option) (*Server, error) {
	options := loadOptions(opts...)
	acceptor, err := NewAcceptor(loop, addr, options.ReusePort)
	if err != nil {
		return nil, err
	}
	svr := &Server{
		loop:               loop,
		ipPort:             acceptor.Addr().String(),
		name:               name,
		opts:               options,
		acceptor:           acceptor,
		pool:               NewEventLoopPool(loop, name, WithOptions(*options)),
		connectionCallback: defaultConnectionCallback,
		messageCallback:    defaultMessageCallback,
		connections:        make(map[string]*Conn),
		gauge:              Connections.WithLabelValues(name),
	}
	acceptor.SetNewConnectionCallback(svr.newConnection)
	return svr, nil
}

func defaultConnectionCallback(c *Conn) {
	state := "DOWN"
	if c.Connected() {
		state = "UP"
	}
	c.logger.Debugf("%v -> %v is %s", c.LocalAddr(), c.PeerAddr(), state)
}

func defaultMessageCallback(_ *Conn, buf *buffer.Buffer, _ time.Time) {
	buf.RetrieveAll()
}

// Name returns the server name.
func (svr *Server) Name() string { return svr.name }

// IPPort returns the bound address as text.
func (svr *Server) IPPort() string { return svr.ipPort }

// Addr returns the bound address.
func (svr *Server) Addr() net.Addr { return svr.acceptor.Addr() }

// Loop returns the acceptor loop.
func (svr *Server) Loop() *EventLoop { return svr.loop }

// Pool returns the worker pool.
func (svr *Server) Pool() *EventLoopPool { return svr.pool }

// NumConnections returns the number of registered connections.
func (svr *Server) NumConnections() int { return int(svr.numConns.Load()) }

// SetLoopNum sets the number of worker loops. It must be called before Start.
func (svr *Server) SetLoopNum(n int) error {
	if svr.started.Load() {
		return ErrServerStarted
	}
	return svr.pool.SetLoopNum(n)
}

// SetThreadInitCallback sets the callback run on each worker loop before it starts.
func (svr *Server) SetThreadInitCallback(cb func(el *EventLoop)) { svr.threadInitCallback = cb }

// SetConnectionCallback sets the up/down callback of new connections.
func (svr *Server) SetConnectionCallback(cb ConnectionCallback) { svr.connectionCallback = cb }

// SetMessageCallback sets the input callback of new connections.
func (svr *Server) SetMessageCallback(cb MessageCallback) { svr.messageCallback = cb }

// SetWriteCompleteCallback sets the drained-output callback of new connections.
func (svr *Server) SetWriteCompleteCallback(cb WriteCompleteCallback) {
	svr.writeCompleteCallback = cb
}

// Start starts the worker loops and arms the acceptor. Only the first call
// has any effect; it may be made from any goroutine.
func (svr *Server) Start() error {
	if !svr.started.CompareAndSwap(false, true) {
		return nil
	}
	if err := svr.pool.Start(svr.threadInitCallback); err != nil {
		svr.started.Store(false)
		return err
	}
	svr.loop.RunInLoop(svr.acceptor.Listen)
	svr.loop.logger.Infof("Server[%s] starts listening on %s", svr.name, svr.ipPort)
	return nil
}

// newConnection places an accepted descriptor on a worker loop. Base loop only.
func (svr *Server) newConnection(fd int, peer net.Addr) {
	svr.loop.assertInLoopThread()
	ioLoop := svr.pool.NextFor(peer)
	svr.nextConnID++
	connName := fmt.Sprintf("%s-%s#%d", svr.name, svr.ipPort, svr.nextConnID)
	svr.loop.logger.Infof("Server::newConnection [%s] - new connection [%s] from %v", svr.name, connName, peer)

	c := newConn(ioLoop, connName, fd, peer, svr.opts)
	c.SetConnectionCallback(svr.connectionCallback)
	c.SetMessageCallback(svr.messageCallback)
	c.SetWriteCompleteCallback(svr.writeCompleteCallback)
	c.SetCloseCallback(svr.removeConnection)

	svr.connections[connName] = c
	svr.numConns.Add(1)
	svr.gauge.Inc()
	ioLoop.plusConnCount()
	ioLoop.RunInLoop(c.connectEstablished)
}

// removeConnection runs on the connection's loop and hops to the base loop.
func (svr *Server) removeConnection(c *Conn) {
	svr.loop.RunInLoop(func() { svr.removeConnectionInLoop(c) })
}

func (svr *Server) removeConnectionInLoop(c *Conn) {
	svr.loop.assertInLoopThread()
	svr.loop.logger.Infof("Server::removeConnectionInLoop [%s] - connection %s", svr.name, c.Name())
	_, ok := svr.connections[c.Name()]
	if !ok && svr.closed {
		return
	}
	invariant(ok, "connection %s removed twice from server %s", c.Name(), svr.name)
	svr.unregister(c)
	// 回到连接所属的loop做最后的清理
	c.Loop().QueueInLoop(c.connectDestroyed)
}

func (svr *Server) unregister(c *Conn) {
	delete(svr.connections, c.Name())
	svr.numConns.Add(-1)
	svr.gauge.Dec()
	c.Loop().minusConnCount()
}

// Close destroys every registered connection on its owning loop, stops
// accepting and stops the worker loops. It must run on the base loop, after
// the base loop stopped looping or from one of its callbacks.
func (svr *Server) Close() error {
	svr.loop.assertInLoopThread()
	if svr.closed {
		return nil
	}
	svr.closed = true
	svr.loop.logger.Infof("Server[%s] closing", svr.name)
	for _, c := range svr.connections {
		svr.unregister(c)
		c.Loop().RunInLoop(c.connectDestroyed)
	}
	err := svr.acceptor.Close()
	svr.pool.Stop()
	return err
}
