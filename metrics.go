// Copyright 2019 Andy Pan. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package evnet

import "github.com/prometheus/client_golang/prometheus"

var (
	// LoopIterations counts poll/dispatch cycles per loop.
	LoopIterations = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "evnet",
		Name:      "loop_iterations_total",
		Help:      "Number of poll/dispatch cycles run by an event loop",
	}, []string{"loop"})

	// TimersFired counts timer callbacks run per loop.
	TimersFired = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "evnet",
		Name:      "timers_fired_total",
		Help:      "Number of timer callbacks run by an event loop",
	}, []string{"loop"})

	// Connections tracks registered connections per server.
	Connections = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "evnet",
		Name:      "connections",
		Help:      "Current number of connections registered with a server",
	}, []string{"server"})

	// BytesRead counts bytes read from connections per loop.
	BytesRead = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "evnet",
		Name:      "bytes_read_total",
		Help:      "Bytes read from connections",
	}, []string{"loop"})

	// BytesWritten counts bytes written to connections per loop.
	BytesWritten = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "evnet",
		Name:      "bytes_written_total",
		Help:      "Bytes written to connections",
	}, []string{"loop"})

	// AcceptErrors counts failed accept calls labeled by errno name.
	AcceptErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "evnet",
		Name:      "accept_errors_total",
		Help:      "Failed accept calls",
	}, []string{"errno"})

	// IdleFDRecoveries counts EMFILE recoveries through the reserved idle descriptor.
	IdleFDRecoveries = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "evnet",
		Name:      "idle_fd_recoveries_total",
		Help:      "Pending connections shed through the reserved idle descriptor on EMFILE",
	})
)

func init() {
	prometheus.MustRegister(
		LoopIterations,
		TimersFired,
		Connections,
		BytesRead,
		BytesWritten,
		AcceptErrors,
		IdleFDRecoveries,
	)
}
