// Copyright 2019 Andy Pan. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package evnet

import "time"

const (
	// DefaultPollTimeout bounds each poll so a loop notices quit requests even when idle.
	DefaultPollTimeout = 10 * time.Second
	// DefaultHighWaterMark is the queued-output size that triggers the high-water-mark callback.
	DefaultHighWaterMark = 64 * 1024 * 1024
)

// LoadBalancing picks the worker loop a new connection is placed on.
type LoadBalancing int

const (
	// RoundRobin assigns connections to loops in turn.
	RoundRobin LoadBalancing = iota

	// LeastConnections assigns the connection to the loop with the fewest active connections.
	LeastConnections

	// SourceAddrHash assigns the connection by hashing the peer address.
	SourceAddrHash
)

// Option is a function that will set up option.
type Option func(opts *Options)

func loadOptions(options ...Option) *Options {
	opts := &Options{
		PollTimeout:   DefaultPollTimeout,
		HighWaterMark: DefaultHighWaterMark,
		TCPKeepAlive:  true,
	}
	for _, option := range options {
		option(opts)
	}
	if opts.PollTimeout <= 0 {
		opts.PollTimeout = DefaultPollTimeout
	}
	if opts.HighWaterMark <= 0 {
		opts.HighWaterMark = DefaultHighWaterMark
	}
	if opts.Logger == nil {
		opts.Logger = defaultLogger
	}
	return opts
}

// Options are set when the server or a loop is created.
type Options struct {
	// NumEventLoop is the number of worker loops; 0 runs every connection on the accepting loop.
	NumEventLoop int

	// LB picks the worker loop for each accepted connection.
	LB LoadBalancing

	// ReusePort sets SO_REUSEPORT on the listening socket.
	ReusePort bool

	// TCPKeepAlive sets SO_KEEPALIVE on accepted connections.
	TCPKeepAlive bool

	// TCPNoDelay disables Nagle's algorithm on accepted connections.
	TCPNoDelay bool

	// HighWaterMark is the default high-water mark of accepted connections.
	HighWaterMark int

	// PollTimeout bounds each wait of a loop.
	PollTimeout time.Duration

	// LoopName labels a loop in logs and metrics.
	LoopName string

	// Codec frames messages for Conn.SendFrame and Conn.NextFrame.
	Codec ICodec

	// Logger is the customized logger for logging info, if it is not set, default standard logger from zerolog is used.
	Logger Logger
}

// WithOptions sets up all options.
func WithOptions(options Options) Option {
	return func(opts *Options) {
		*opts = options
	}
}

// WithNumEventLoop sets up NumEventLoop.
func WithNumEventLoop(n int) Option {
	return func(opts *Options) {
		opts.NumEventLoop = n
	}
}

// WithLoadBalancing sets up the load-balancing algorithm.
func WithLoadBalancing(lb LoadBalancing) Option {
	return func(opts *Options) {
		opts.LB = lb
	}
}

// WithReusePort sets up SO_REUSEPORT socket option.
func WithReusePort(reusePort bool) Option {
	return func(opts *Options) {
		opts.ReusePort = reusePort
	}
}

// WithTCPKeepAlive sets up SO_KEEPALIVE socket option.
func WithTCPKeepAlive(on bool) Option {
	return func(opts *Options) {
		opts.TCPKeepAlive = on
	}
}

// WithTCPNoDelay sets up TCP_NODELAY socket option.
func WithTCPNoDelay(on bool) Option {
	return func(opts *Options) {
		opts.TCPNoDelay = on
	}
}

// WithHighWaterMark sets up the default high-water mark of connections.
func WithHighWaterMark(n int) Option {
	return func(opts *Options) {
		opts.HighWaterMark = n
	}
}

// WithPollTimeout sets up the bounded wait of each poll.
func WithPollTimeout(d time.Duration) Option {
	return func(opts *Options) {
		opts.PollTimeout = d
	}
}

// WithLoopName sets up the loop name used in logs and metrics.
func WithLoopName(name string) Option {
	return func(opts *Options) {
		opts.LoopName = name
	}
}

// WithCodec sets up a codec to handle TCP stream.
func WithCodec(codec ICodec) Option {
	return func(opts *Options) {
		opts.Codec = codec
	}
}

// WithLogger sets up a customized logger.
func WithLogger(logger Logger) Option {
	return func(opts *Options) {
		opts.Logger = logger
	}
}
