// Copyright 2019 Andy Pan. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

//go:build linux
// +build linux

package evnet

import (
	"fmt"
	"net"
	"sync"

	"github.com/pkg/errors"
	"github.com/ysyzqq/evnet/pool/goroutine"
)

// EventLoopPool runs worker loops, one per pinned goroutine of an ants pool,
// and places connections on them. With no workers every connection stays on
// the base loop.
type EventLoopPool struct {
	baseLoop *EventLoop
	name     string
	numLoops int
	opts     *Options

	started bool
	workers *goroutine.Pool
	lb      loadBalancer
	wg      sync.WaitGroup
}

// NewEventLoopPool creates an idle pool whose accepting loop is baseLoop.
func NewEventLoopPool(baseLoop *EventLoop, name string, opts ...Option) *EventLoopPool {
	options := loadOptions(opts...)
	return &EventLoopPool{
		baseLoop: baseLoop,
		name:     name,
		numLoops: options.NumEventLoop,
		opts:     options,
		lb:       newLoadBalancer(options.LB),
	}
}

// SetLoopNum sets the number of worker loops before Start.
func (p *EventLoopPool) SetLoopNum(n int) error {
	if p.started {
		return ErrPoolStarted
	}
	p.numLoops = n
	return nil
}

// Started reports whether Start succeeded.
func (p *EventLoopPool) Started() bool { return p.started }

type loopResult struct {
	el  *EventLoop
	err error
}

// Start spins up the worker loops and returns once each has been created.
// initCb runs on every worker thread before its loop starts, or once on the
// base loop when there are no workers.
func (p *EventLoopPool) Start(initCb func(el *EventLoop)) (err error) {
	if p.started {
		return ErrPoolStarted
	}
	if p.numLoops <= 0 {
		p.started = true
		if initCb != nil {
			p.baseLoop.RunInLoop(func() { initCb(p.baseLoop) })
		}
		return nil
	}

	if p.workers, err = goroutine.New(p.numLoops); err != nil {
		return errors.Wrap(err, "create event-loop workers")
	}
	for i := 0; i < p.numLoops; i++ {
		ready := make(chan loopResult, 1)
		name := fmt.Sprintf("%s%d", p.name, i)
		p.wg.Add(1)
		err = p.workers.Submit(func() {
			defer p.wg.Done()
			p.activateSubReactor(name, initCb, ready)
		})
		if err != nil {
			p.wg.Done()
			p.Stop()
			return errors.Wrapf(err, "start event loop %s", name)
		}
		res := <-ready
		if res.err != nil {
			p.Stop()
			return errors.Wrapf(res.err, "start event loop %s", name)
		}
		p.lb.register(res.el)
	}
	p.started = true
	return nil
}

// activateSubReactor owns one worker loop from creation to close.
func (p *EventLoopPool) activateSubReactor(name string, initCb func(el *EventLoop), ready chan<- loopResult) {
	el, err := NewEventLoop(WithOptions(*p.opts), WithLoopName(name))
	if err != nil {
		ready <- loopResult{err: err}
		return
	}
	if initCb != nil {
		initCb(el)
	}
	// loop的线程id在这之前已经确定, 创建者拿到的loop可以立刻使用
	ready <- loopResult{el: el}
	el.Loop()
	sniffErrorAndLog(el.Close())
}

// Next returns the next worker loop in turn, or the base loop with no workers.
func (p *EventLoopPool) Next() *EventLoop {
	return p.NextFor(nil)
}

// NextFor returns the worker loop the pool's load balancing picks for a peer.
func (p *EventLoopPool) NextFor(addr net.Addr) *EventLoop {
	if p.lb.len() == 0 {
		return p.baseLoop
	}
	return p.lb.next(addr)
}

// ForHash returns the worker loop at hash modulo the pool size.
func (p *EventLoopPool) ForHash(hash int) *EventLoop {
	if n := p.lb.len(); n > 0 {
		return p.lb.index(int(uint(hash) % uint(n)))
	}
	return p.baseLoop
}

// Loops returns every loop connections can be placed on.
func (p *EventLoopPool) Loops() []*EventLoop {
	if p.lb.len() == 0 {
		return []*EventLoop{p.baseLoop}
	}
	loops := make([]*EventLoop, 0, p.lb.len())
	p.lb.iterate(func(_ int, el *EventLoop) bool {
		loops = append(loops, el)
		return true
	})
	return loops
}

// Stop quits every worker loop, waits for them to close and releases the workers.
func (p *EventLoopPool) Stop() {
	p.lb.iterate(func(_ int, el *EventLoop) bool {
		el.Quit()
		return true
	})
	p.wg.Wait()
	if p.workers != nil {
		p.workers.Release()
		p.workers = nil
	}
	p.lb = newLoadBalancer(p.opts.LB)
	p.started = false
}
