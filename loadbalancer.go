// Copyright 2019 Andy Pan. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

//go:build linux
// +build linux

package evnet

import (
	"hash/crc32"
	"net"
)

// loadBalancer places new connections on worker loops.
// Every method runs on the base loop.
type loadBalancer interface {
	register(el *EventLoop)
	next(addr net.Addr) *EventLoop
	index(i int) *EventLoop
	iterate(f func(i int, el *EventLoop) bool)
	len() int
}

func newLoadBalancer(lb LoadBalancing) loadBalancer {
	switch lb {
	case LeastConnections:
		return new(leastConnectionsLoadBalancer)
	case SourceAddrHash:
		return new(sourceAddrHashLoadBalancer)
	default:
		return new(roundRobinLoadBalancer)
	}
}

type loopList []*EventLoop

func (ll *loopList) register(el *EventLoop) { *ll = append(*ll, el) }

func (ll loopList) index(i int) *EventLoop { return ll[i] }

func (ll loopList) iterate(f func(i int, el *EventLoop) bool) {
	for i, el := range ll {
		if !f(i, el) {
			break
		}
	}
}

func (ll loopList) len() int { return len(ll) }

// roundRobinLoadBalancer hands out loops in turn.
type roundRobinLoadBalancer struct {
	loopList
	nextLoopIndex int
}

func (lb *roundRobinLoadBalancer) next(net.Addr) *EventLoop {
	el := lb.loopList[lb.nextLoopIndex]
	if lb.nextLoopIndex++; lb.nextLoopIndex >= len(lb.loopList) {
		lb.nextLoopIndex = 0
	}
	return el
}

// leastConnectionsLoadBalancer picks the loop with the fewest active connections.
type leastConnectionsLoadBalancer struct {
	loopList
}

func (lb *leastConnectionsLoadBalancer) next(net.Addr) *EventLoop {
	el := lb.loopList[0]
	least := el.loadConnCount()
	for _, v := range lb.loopList[1:] {
		if n := v.loadConnCount(); n < least {
			least, el = n, v
		}
	}
	return el
}

// sourceAddrHashLoadBalancer keeps a peer address on the same loop.
type sourceAddrHashLoadBalancer struct {
	loopList
}

func hash(s string) int {
	v := int(crc32.ChecksumIEEE([]byte(s)))
	if v >= 0 {
		return v
	}
	return -v
}

func (lb *sourceAddrHashLoadBalancer) next(addr net.Addr) *EventLoop {
	if addr == nil {
		return lb.loopList[0]
	}
	return lb.loopList[hash(addr.String())%len(lb.loopList)]
}
