package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "pincex_sim"

// Collector groups the simulator collectors so that each run can own a registry.
type Collector struct {
	// MessagesIn counts routed input messages by kind
	MessagesIn *prometheus.CounterVec
	// MessagesOut counts emitted messages by kind
	MessagesOut *prometheus.CounterVec
	// Fills counts own trades by side (buy/sell)
	Fills *prometheus.CounterVec
	// Rejections counts Failed order reports by error kind
	Rejections *prometheus.CounterVec
	// ProcessingLatency records wall time spent per input message
	ProcessingLatency prometheus.Histogram
	// PendingExecutions tracks order commands parked by latency emulation
	PendingExecutions prometheus.Gauge
	// StructuralErrors counts inputs aborted by an internal error
	StructuralErrors prometheus.Counter
}

// NewCollector creates the collectors and registers them with reg when it is not nil.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		MessagesIn: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "messages_in_total",
				Help:      "Total number of input messages processed by the simulator",
			},
			[]string{"kind"},
		),
		MessagesOut: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "messages_out_total",
				Help:      "Total number of messages emitted by the simulator",
			},
			[]string{"kind"},
		),
		Fills: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "fills_total",
				Help:      "Total number of own trades produced by matching",
			},
			[]string{"side"},
		),
		Rejections: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rejections_total",
				Help:      "Total number of rejected order commands",
			},
			[]string{"reason"},
		),
		ProcessingLatency: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "processing_latency_seconds",
				Help:      "Latency in seconds to process individual input messages",
				Buckets:   prometheus.ExponentialBuckets(0.000001, 4, 12),
			},
		),
		PendingExecutions: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "pending_executions",
				Help:      "Number of order commands waiting for emulated latency",
			},
		),
		StructuralErrors: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "structural_errors_total",
				Help:      "Number of input messages aborted by an internal error",
			},
		),
	}
	if reg != nil {
		reg.MustRegister(
			c.MessagesIn,
			c.MessagesOut,
			c.Fills,
			c.Rejections,
			c.ProcessingLatency,
			c.PendingExecutions,
			c.StructuralErrors,
		)
	}
	return c
}

// ObserveSince records the processing latency of one input message.
func (c *Collector) ObserveSince(start time.Time) {
	c.ProcessingLatency.Observe(time.Since(start).Seconds())
}
