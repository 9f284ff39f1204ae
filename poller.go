// Copyright 2019 Andy Pan. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

//go:build linux
// +build linux

package evnet

import "time"

// Registration states a poller keeps in Channel.Index.
const (
	chanNew     = -1 // never registered
	chanAdded   = 1  // registered with the OS
	chanDeleted = 2  // known but deregistered because interest became empty
)

// Poller keeps the OS registration of channel interest and collects ready channels.
// Every method is confined to the owning loop.
type Poller interface {
	// Poll waits up to timeout for readiness, appends ready channels to active
	// and returns the instant the wait returned.
	Poll(timeout time.Duration, active []*Channel) (time.Time, []*Channel)

	// UpdateChannel registers, modifies or deregisters ch according to its interest.
	UpdateChannel(ch *Channel)

	// RemoveChannel forgets ch. Its interest must be empty.
	RemoveChannel(ch *Channel)

	// HasChannel reports whether ch is the channel known for its fd.
	HasChannel(ch *Channel) bool

	// Close releases the OS multiplexer.
	Close() error
}
