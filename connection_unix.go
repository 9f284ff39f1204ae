// Copyright 2019 Andy Pan. All rights reserved.
// Copyright 2018 Joshua J Baker. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

//go:build linux
// +build linux

package evnet

import (
	"net"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/ysyzqq/evnet/buffer"
	"github.com/ysyzqq/evnet/internal/socket"
	"github.com/ysyzqq/evnet/pool/bytebuffer"
	"golang.org/x/sys/unix"
)

// ConnState is the lifecycle state of a Conn.
type ConnState int32

const (
	// StateDisconnected is terminal.
	StateDisconnected ConnState = iota
	// StateConnecting is the state between accept and arming on the owning loop.
	StateConnecting
	// StateConnected accepts sends.
	StateConnected
	// StateDisconnecting flushes queued output but accepts no new sends.
	StateDisconnecting
)

func (s ConnState) String() string {
	switch s {
	case StateDisconnected:
		return "kDisconnected"
	case StateConnecting:
		return "kConnecting"
	case StateConnected:
		return "kConnected"
	case StateDisconnecting:
		return "kDisconnecting"
	default:
		return "unknown state"
	}
}

type (
	// ConnectionCallback runs when a connection goes up and again when it goes down.
	ConnectionCallback func(c *Conn)
	// MessageCallback runs after input was read into buf.
	MessageCallback func(c *Conn, buf *buffer.Buffer, receiveTime time.Time)
	// WriteCompleteCallback runs once queued output has fully drained.
	WriteCompleteCallback func(c *Conn)
	// HighWaterMarkCallback runs when queued output crosses the high-water mark.
	HighWaterMarkCallback func(c *Conn, queued int)
	// CloseCallback is used by the server to unregister a closed connection.
	CloseCallback func(c *Conn)
)

// Conn is one accepted TCP connection. All I/O runs on its owning loop;
// Send, Shutdown, ForceClose, StartRead and StopRead may be called from anywhere.
type Conn struct {
	loop     *EventLoop
	name     string
	state    atomic.Int32
	reading  bool
	socket   *socket.Socket
	channel  *Channel
	lifetime *Lifetime
	logger   Logger

	localAddr net.Addr
	peerAddr  net.Addr

	inputBuffer   *buffer.Buffer
	outputBuffer  *buffer.Buffer
	highWaterMark int

	connectionCallback    ConnectionCallback
	messageCallback       MessageCallback
	writeCompleteCallback WriteCompleteCallback
	highWaterMarkCallback HighWaterMarkCallback
	closeCallback         CloseCallback

	codec ICodec
	ctx   interface{} // user-defined context

	bytesRead    prometheus.Counter
	bytesWritten prometheus.Counter
}

func newConn(loop *EventLoop, name string, fd int, peer net.Addr, opts *Options) *Conn {
	c := &Conn{
		loop:          loop,
		name:          name,
		reading:       true,
		socket:        socket.New(fd),
		channel:       NewChannel(loop, fd),
		lifetime:      new(Lifetime),
		logger:        opts.Logger,
		peerAddr:      peer,
		inputBuffer:   buffer.New(),
		outputBuffer:  buffer.New(),
		highWaterMark: opts.HighWaterMark,
		codec:         opts.Codec,
		bytesRead:     BytesRead.WithLabelValues(loop.name),
		bytesWritten:  BytesWritten.WithLabelValues(loop.name),
	}
	c.localAddr = c.socket.LocalAddr()
	c.state.Store(int32(StateConnecting))
	c.channel.SetReadCallback(c.handleRead)
	c.channel.SetWriteCallback(c.handleWrite)
	c.channel.SetCloseCallback(c.handleClose)
	c.channel.SetErrorCallback(c.handleError)
	if opts.TCPKeepAlive {
		sniffErrorAndLog(c.socket.SetKeepAlive(true))
	}
	if opts.TCPNoDelay {
		sniffErrorAndLog(c.socket.SetTCPNoDelay(true))
	}
	c.logger.Debugf("Conn::ctor[%s] fd=%d", name, fd)
	return c
}

// Name is unique per server.
func (c *Conn) Name() string { return c.name }

// Loop returns the owning loop.
func (c *Conn) Loop() *EventLoop { return c.loop }

// LocalAddr returns the local address.
func (c *Conn) LocalAddr() net.Addr { return c.localAddr }

// PeerAddr returns the remote address.
func (c *Conn) PeerAddr() net.Addr { return c.peerAddr }

// State returns the lifecycle state.
func (c *Conn) State() ConnState { return ConnState(c.state.Load()) }

func (c *Conn) setState(s ConnState) { c.state.Store(int32(s)) }

// Connected reports whether the connection accepts sends.
func (c *Conn) Connected() bool { return c.State() == StateConnected }

// Disconnected reports whether the connection reached its terminal state.
func (c *Conn) Disconnected() bool { return c.State() == StateDisconnected }

// InputBuffer returns the buffer input is read into. Owning loop only.
func (c *Conn) InputBuffer() *buffer.Buffer { return c.inputBuffer }

// OutputBuffer returns the queued output. Owning loop only.
func (c *Conn) OutputBuffer() *buffer.Buffer { return c.outputBuffer }

// Context returns the user-defined context.
func (c *Conn) Context() interface{} { return c.ctx }

// SetContext sets a user-defined context.
func (c *Conn) SetContext(ctx interface{}) { c.ctx = ctx }

// SetConnectionCallback sets the up/down callback.
func (c *Conn) SetConnectionCallback(cb ConnectionCallback) { c.connectionCallback = cb }

// SetMessageCallback sets the input callback.
func (c *Conn) SetMessageCallback(cb MessageCallback) { c.messageCallback = cb }

// SetWriteCompleteCallback sets the drained-output callback.
func (c *Conn) SetWriteCompleteCallback(cb WriteCompleteCallback) { c.writeCompleteCallback = cb }

// SetHighWaterMarkCallback sets the backpressure callback and its mark.
func (c *Conn) SetHighWaterMarkCallback(cb HighWaterMarkCallback, highWaterMark int) {
	c.highWaterMarkCallback = cb
	c.highWaterMark = highWaterMark
}

// SetCloseCallback is used by the server.
func (c *Conn) SetCloseCallback(cb CloseCallback) { c.closeCallback = cb }

// SetTCPNoDelay toggles Nagle's algorithm.
func (c *Conn) SetTCPNoDelay(on bool) error { return c.socket.SetTCPNoDelay(on) }

// TCPInfo returns the kernel's TCP_INFO for the connection.
func (c *Conn) TCPInfo() (*unix.TCPInfo, error) { return c.socket.TCPInfo() }

// TCPInfoString renders the most useful TCP_INFO fields.
func (c *Conn) TCPInfoString() (string, error) { return c.socket.TCPInfoString() }

// Send queues data for writing. It is dropped unless the connection is connected.
func (c *Conn) Send(data []byte) {
	if c.State() != StateConnected {
		return
	}
	if c.loop.IsInLoopThread() {
		c.sendInLoop(data)
		return
	}
	// data的所有权属于调用方, 跨线程时先拷贝一份
	bb := bytebuffer.From(data)
	c.loop.RunInLoop(func() {
		c.sendInLoop(bb.B)
		bytebuffer.Put(bb)
	})
}

// SendFrame encodes msg with the connection's codec and queues it. Without a
// codec msg is sent as is.
func (c *Conn) SendFrame(msg []byte) error {
	if c.codec == nil {
		c.Send(msg)
		return nil
	}
	out, err := c.codec.Encode(msg)
	if err != nil {
		return err
	}
	c.Send(out)
	return nil
}

// NextFrame decodes one frame from the input buffer, nil when it is
// incomplete. Without a codec it returns everything buffered. Owning loop only.
func (c *Conn) NextFrame() ([]byte, error) {
	if c.codec == nil {
		if c.inputBuffer.ReadableBytes() == 0 {
			return nil, nil
		}
		return c.inputBuffer.Next(c.inputBuffer.ReadableBytes()), nil
	}
	return c.codec.Decode(c.inputBuffer)
}

// SendString queues s for writing.
func (c *Conn) SendString(s string) { c.Send([]byte(s)) }

// SendBuffer queues the readable bytes of buf and consumes them.
func (c *Conn) SendBuffer(buf *buffer.Buffer) {
	if c.State() != StateConnected {
		return
	}
	if c.loop.IsInLoopThread() {
		c.sendInLoop(buf.Peek())
		buf.RetrieveAll()
		return
	}
	bb := bytebuffer.From(buf.Peek())
	buf.RetrieveAll()
	c.loop.RunInLoop(func() {
		c.sendInLoop(bb.B)
		bytebuffer.Put(bb)
	})
}

func (c *Conn) sendInLoop(data []byte) {
	c.loop.assertInLoopThread()
	if c.State() == StateDisconnected {
		c.logger.Warnf("Conn[%s] disconnected, give up writing", c.name)
		return
	}
	var (
		nwrote    int
		remaining = len(data)
		fault     bool
	)
	// 没有排队的数据时直接写
	if !c.channel.IsWriting() && c.outputBuffer.ReadableBytes() == 0 {
		n, err := unix.Write(c.channel.Fd(), data)
		if err == nil {
			nwrote = n
			remaining -= n
			c.bytesWritten.Add(float64(n))
			if remaining == 0 && c.writeCompleteCallback != nil {
				c.loop.QueueInLoop(func() { c.writeCompleteCallback(c) })
			}
		} else if err != unix.EAGAIN {
			c.logger.Errorf("Conn[%s] sendInLoop: %v", c.name, err)
			if err == unix.EPIPE || err == unix.ECONNRESET {
				fault = true
			}
		}
	}
	invariant(remaining <= len(data), "Conn[%s] wrote more than requested", c.name)
	if fault || remaining == 0 {
		return
	}

	oldLen := c.outputBuffer.ReadableBytes()
	if queued := oldLen + remaining; queued >= c.highWaterMark && oldLen < c.highWaterMark && c.highWaterMarkCallback != nil {
		c.loop.QueueInLoop(func() { c.highWaterMarkCallback(c, queued) })
	}
	c.outputBuffer.Append(data[nwrote:])
	if !c.channel.IsWriting() {
		c.channel.EnableWriting()
	}
}

// Shutdown half-closes the write side once queued output has drained.
func (c *Conn) Shutdown() {
	if c.state.CompareAndSwap(int32(StateConnected), int32(StateDisconnecting)) {
		c.loop.RunInLoop(c.shutdownInLoop)
	}
}

func (c *Conn) shutdownInLoop() {
	c.loop.assertInLoopThread()
	if !c.channel.IsWriting() {
		if err := c.socket.ShutdownWrite(); err != nil {
			c.logger.Errorf("Conn[%s] shutdown: %v", c.name, err)
		}
	}
}

// ForceClose closes the connection without waiting for queued output.
func (c *Conn) ForceClose() {
	if s := c.State(); s == StateConnected || s == StateDisconnecting {
		c.setState(StateDisconnecting)
		c.loop.QueueInLoop(c.forceCloseInLoop)
	}
}

// ForceCloseWithDelay force-closes the connection after delay.
func (c *Conn) ForceCloseWithDelay(delay time.Duration) {
	if s := c.State(); s == StateConnected || s == StateDisconnecting {
		c.setState(StateDisconnecting)
		lt := c.lifetime
		c.loop.RunAfter(delay, func() {
			if lt.Alive() {
				c.ForceClose()
			}
		})
	}
}

func (c *Conn) forceCloseInLoop() {
	c.loop.assertInLoopThread()
	if s := c.State(); s == StateConnected || s == StateDisconnecting {
		c.handleClose()
	}
}

// StartRead resumes reading.
func (c *Conn) StartRead() {
	c.loop.RunInLoop(func() {
		c.loop.assertInLoopThread()
		if !c.reading || !c.channel.IsReading() {
			c.channel.EnableReading()
			c.reading = true
		}
	})
}

// StopRead pauses reading; input stays in the kernel.
func (c *Conn) StopRead() {
	c.loop.RunInLoop(func() {
		c.loop.assertInLoopThread()
		if c.reading || c.channel.IsReading() {
			c.channel.DisableReading()
			c.reading = false
		}
	})
}

// IsReading reports whether reading is enabled. Owning loop only.
func (c *Conn) IsReading() bool { return c.reading }

// connectEstablished arms the connection on its loop. Called once.
func (c *Conn) connectEstablished() {
	c.loop.assertInLoopThread()
	invariant(c.State() == StateConnecting, "Conn[%s] established in state %s", c.name, c.State())
	c.setState(StateConnected)
	c.channel.Tie(c.lifetime)
	c.channel.EnableReading()
	if c.connectionCallback != nil {
		c.connectionCallback(c)
	}
}

// connectDestroyed is the last call a connection gets: it detaches the
// channel, ends the lifetime token and closes the socket.
func (c *Conn) connectDestroyed() {
	c.loop.assertInLoopThread()
	// 服务器关闭时连接可能还没走完关闭流程
	if s := c.State(); s == StateConnected || s == StateDisconnecting {
		c.setState(StateDisconnected)
		c.channel.DisableAll()
		if c.connectionCallback != nil {
			c.connectionCallback(c)
		}
	}
	c.channel.Remove()
	c.teardown()
}

func (c *Conn) teardown() {
	invariant(c.State() == StateDisconnected, "Conn[%s] destroyed in state %s", c.name, c.State())
	c.lifetime.End()
	c.channel.release()
	if err := c.socket.Close(); err != nil {
		c.logger.Errorf("Conn[%s] close: %v", c.name, err)
	}
	c.logger.Debugf("Conn::dtor[%s] fd=%d state=%s", c.name, c.channel.Fd(), c.State())
}

func (c *Conn) handleRead(receiveTime time.Time) {
	c.loop.assertInLoopThread()
	n, err := c.inputBuffer.ReadFromFD(c.channel.Fd())
	switch {
	case n > 0:
		c.bytesRead.Add(float64(n))
		if c.messageCallback != nil {
			c.messageCallback(c, c.inputBuffer, receiveTime)
		}
	case err == nil:
		// 读到0字节, 对端关闭
		c.handleClose()
	case err == unix.EAGAIN || err == unix.EINTR:
	default:
		c.logger.Errorf("Conn[%s] handleRead: %v", c.name, err)
		c.handleError()
	}
}

func (c *Conn) handleWrite() {
	c.loop.assertInLoopThread()
	if !c.channel.IsWriting() {
		c.logger.Debugf("Conn[%s] fd=%d is down, no more writing", c.name, c.channel.Fd())
		return
	}
	n, err := c.outputBuffer.WriteToFD(c.channel.Fd())
	if n <= 0 {
		if err != nil && err != unix.EAGAIN {
			c.logger.Errorf("Conn[%s] handleWrite: %v", c.name, err)
		}
		return
	}
	c.bytesWritten.Add(float64(n))
	if c.outputBuffer.ReadableBytes() > 0 {
		return
	}
	c.channel.DisableWriting()
	if c.writeCompleteCallback != nil {
		c.loop.QueueInLoop(func() { c.writeCompleteCallback(c) })
	}
	if c.State() == StateDisconnecting {
		c.shutdownInLoop()
	}
}

func (c *Conn) handleClose() {
	c.loop.assertInLoopThread()
	s := c.State()
	invariant(s == StateConnected || s == StateDisconnecting, "Conn[%s] closed in state %s", c.name, s)
	c.logger.Debugf("Conn[%s] fd=%d state=%s closing", c.name, c.channel.Fd(), s)
	c.setState(StateDisconnected)
	c.channel.DisableAll()
	if c.connectionCallback != nil {
		c.connectionCallback(c)
	}
	if c.closeCallback != nil {
		c.closeCallback(c)
	}
}

func (c *Conn) handleError() {
	err := c.socket.SocketError()
	c.logger.Errorf("Conn[%s] handleError: SO_ERROR = %v", c.name, err)
}
