// SPDX-License-Identifier: GPL-3.0-or-later

// Package metrics contains the Prometheus metrics of the harness.
//
// All the methods are safe to call on a nil [*Metrics], which
// allows running the harness without collecting metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Values of the result label.
const (
	ResultPassed = "passed"
	ResultFailed = "failed"
	ResultError  = "error"
)

// Values of the direction label.
const (
	DirectionSent     = "sent"
	DirectionReceived = "received"
)

// Metrics contains the harness metrics.
type Metrics struct {
	RunsTotal             *prometheus.CounterVec
	TestCasesTotal        *prometheus.CounterVec
	LinkPacketsTotal      *prometheus.CounterVec
	LinkDecodeErrorsTotal prometheus.Counter
	ActiveRuns            prometheus.Gauge
}

// New creates and registers the metrics with the given registerer.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		RunsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "ranisim_runs_total",
			Help: "Total number of simulation runs by result",
		}, []string{"result"}),
		TestCasesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "ranisim_test_cases_total",
			Help: "Total number of executed test cases by result",
		}, []string{"result"}),
		LinkPacketsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "ranisim_link_packets_total",
			Help: "Total number of packets sent or received on links",
		}, []string{"direction"}),
		LinkDecodeErrorsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "ranisim_link_decode_errors_total",
			Help: "Total number of packets received on links that failed decoding",
		}),
		ActiveRuns: factory.NewGauge(prometheus.GaugeOpts{
			Name: "ranisim_active_runs",
			Help: "Number of simulation runs in progress",
		}),
	}
}

// RunStarted records that a run has started.
func (m *Metrics) RunStarted() {
	if m != nil {
		m.ActiveRuns.Inc()
	}
}

// RunDone records that a run has finished with the given result.
func (m *Metrics) RunDone(result string) {
	if m != nil {
		m.ActiveRuns.Dec()
		m.RunsTotal.WithLabelValues(result).Inc()
	}
}

// TestCaseDone records the outcome of a test case.
func (m *Metrics) TestCaseDone(passed bool) {
	if m != nil {
		result := ResultFailed
		if passed {
			result = ResultPassed
		}
		m.TestCasesTotal.WithLabelValues(result).Inc()
	}
}

// PacketSent records a packet written on a link.
func (m *Metrics) PacketSent() {
	if m != nil {
		m.LinkPacketsTotal.WithLabelValues(DirectionSent).Inc()
	}
}

// PacketReceived records a packet successfully decoded from a link.
func (m *Metrics) PacketReceived() {
	if m != nil {
		m.LinkPacketsTotal.WithLabelValues(DirectionReceived).Inc()
	}
}

// DecodeError records a frame received on a link that failed decoding.
func (m *Metrics) DecodeError() {
	if m != nil {
		m.LinkDecodeErrorsTotal.Inc()
	}
}
