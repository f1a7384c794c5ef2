// Package metrics provides Prometheus collectors for the collaboration
// core and its HTTP surface.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "newsroom"

// Flush and injection outcomes used as label values.
const (
	ResultOK       = "ok"
	ResultInvalid  = "invalid"
	ResultError    = "error"
	ResultSkipped  = "skipped"
	ResultInjected = "injected"
)

// Collector holds the registered metrics. All recording methods are safe
// on a nil Collector.
type Collector struct {
	// Collaboration
	OpenReplicas         prometheus.Gauge
	Sessions             prometheus.Gauge
	Flushes              *prometheus.CounterVec
	FlushDuration        prometheus.Histogram
	ValidationInjections *prometheus.CounterVec
	SignalDecodeFailures *prometheus.CounterVec
	FramesRelayed        prometheus.Counter

	// HTTP
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
}

// New registers the collectors with the default registry.
func New() *Collector {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry registers the collectors with reg.
func NewWithRegistry(reg prometheus.Registerer) *Collector {
	factory := promauto.With(reg)

	return &Collector{
		OpenReplicas: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "open_replicas",
			Help:      "Number of documents currently loaded as live replicas",
		}),
		Sessions: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "collab_sessions",
			Help:      "Number of connected editing sessions",
		}),
		Flushes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "replica_flushes_total",
			Help:      "Replica persistence attempts by result",
		}, []string{"result"}),
		FlushDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "replica_flush_duration_seconds",
			Help:      "Time spent persisting a replica",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		}),
		ValidationInjections: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "validation_injections_total",
			Help:      "Validation failures written back into replicas, by result",
		}, []string{"result"}),
		SignalDecodeFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "signal_decode_failures_total",
			Help:      "Signals rejected by the protocol decoder",
		}, []string{"reason"}),
		FramesRelayed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sync_frames_relayed_total",
			Help:      "Binary sync frames relayed between sessions",
		}),
		RequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by method, route and status",
		}, []string{"method", "route", "status"}),
		RequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		}, []string{"method", "route"}),
	}
}

func (c *Collector) ReplicaOpened() {
	if c == nil {
		return
	}
	c.OpenReplicas.Inc()
}

func (c *Collector) ReplicaClosed() {
	if c == nil {
		return
	}
	c.OpenReplicas.Dec()
}

func (c *Collector) SessionJoined() {
	if c == nil {
		return
	}
	c.Sessions.Inc()
}

func (c *Collector) SessionLeft() {
	if c == nil {
		return
	}
	c.Sessions.Dec()
}

// Flushed records one persistence attempt.
func (c *Collector) Flushed(result string, took time.Duration) {
	if c == nil {
		return
	}
	c.Flushes.WithLabelValues(result).Inc()
	c.FlushDuration.Observe(took.Seconds())
}

func (c *Collector) Injection(result string) {
	if c == nil {
		return
	}
	c.ValidationInjections.WithLabelValues(result).Inc()
}

func (c *Collector) SignalRejected(reason string) {
	if c == nil {
		return
	}
	c.SignalDecodeFailures.WithLabelValues(reason).Inc()
}

func (c *Collector) FrameRelayed() {
	if c == nil {
		return
	}
	c.FramesRelayed.Inc()
}

// Request records one HTTP request.
func (c *Collector) Request(method, route, status string, took time.Duration) {
	if c == nil {
		return
	}
	c.RequestsTotal.WithLabelValues(method, route, status).Inc()
	c.RequestDuration.WithLabelValues(method, route).Observe(took.Seconds())
}
