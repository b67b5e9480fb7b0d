// Package metrics exposes mixnoded's runtime counters and gauges as
// Prometheus metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// -------------------------------------------------------------------------
// Prometheus Metric Constants
// -------------------------------------------------------------------------

const (
	namespace = "gomixnet"
	subsystem = "engine"
)

// Label names.
const (
	labelSessionIndex = "session_index"
	labelKind         = "kind"
	labelReason       = "reason"
)

// Packet kind label values, used with PacketsForwarded, PacketsDelivered and
// PacketsGenerated.
const (
	KindForward = "forward"
	KindRequest = "request"
	KindReply   = "reply"
	KindCover   = "cover"
	KindLoop    = "loop"
)

// Drop reason label values, used with PacketsDropped.
const (
	ReasonReplay            = "replay"
	ReasonNoMatchingSession = "no_matching_session"
	ReasonMAC               = "mac"
	ReasonQueueFull         = "queue_full"
	ReasonTopology          = "topology"
	ReasonFragment          = "fragment"
	ReasonSurb              = "surb"
)

// -------------------------------------------------------------------------
// Collector — Prometheus mixnet engine metrics
// -------------------------------------------------------------------------

// Collector holds all mixnet engine Prometheus metrics.
//
// Metrics are designed for operating a mixnode in production:
//   - Sessions tracks currently usable (full) sessions.
//   - Packet counters track forwarded/delivered/dropped/generated volumes.
//   - Queue gauges track backlog depth for capacity alerting.
//   - SurbKeystoreSize tracks outstanding reply capability occupancy.
type Collector struct {
	// Sessions tracks the number of currently full (usable) sessions,
	// labeled by relative session index ("prev" or "current").
	Sessions *prometheus.GaugeVec

	// PacketsForwarded counts onion packets peeled and re-addressed to
	// the next hop.
	PacketsForwarded prometheus.Counter

	// PacketsDelivered counts reassembled messages delivered to the
	// local application, labeled by kind (request or reply).
	PacketsDelivered *prometheus.CounterVec

	// PacketsDropped counts packets discarded before forwarding or
	// delivery, labeled by reason.
	PacketsDropped *prometheus.CounterVec

	// PacketsGenerated counts packets this node authored itself,
	// labeled by kind (request, reply, cover or loop).
	PacketsGenerated *prometheus.CounterVec

	// ForwardQueueSize tracks the number of packets awaiting forwarding.
	ForwardQueueSize prometheus.Gauge

	// AuthoredQueueSize tracks the number of self-authored packets
	// awaiting transmission, summed across sessions.
	AuthoredQueueSize prometheus.Gauge

	// SurbKeystoreSize tracks the number of outstanding (reserved or
	// finalized) single-use reply blocks.
	SurbKeystoreSize prometheus.Gauge

	// IncompleteMessages tracks messages currently being reassembled
	// from fragments.
	IncompleteMessages prometheus.Gauge
}

// NewCollector creates a Collector with all mixnet engine metrics
// registered against the provided prometheus.Registerer. If reg is nil,
// prometheus.DefaultRegisterer is used.
func NewCollector(reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	c := newMetrics()

	reg.MustRegister(
		c.Sessions,
		c.PacketsForwarded,
		c.PacketsDelivered,
		c.PacketsDropped,
		c.PacketsGenerated,
		c.ForwardQueueSize,
		c.AuthoredQueueSize,
		c.SurbKeystoreSize,
		c.IncompleteMessages,
	)

	return c
}

// newMetrics creates all Prometheus metric vectors without registering them.
func newMetrics() *Collector {
	return &Collector{
		Sessions: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "sessions",
			Help:      "Number of currently full (usable) sessions.",
		}, []string{labelSessionIndex}),

		PacketsForwarded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "packets_forwarded_total",
			Help:      "Total onion packets peeled and re-addressed to the next hop.",
		}),

		PacketsDelivered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "packets_delivered_total",
			Help:      "Total reassembled messages delivered to the local application, by kind.",
		}, []string{labelKind}),

		PacketsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "packets_dropped_total",
			Help:      "Total packets discarded before forwarding or delivery, by reason.",
		}, []string{labelReason}),

		PacketsGenerated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "packets_generated_total",
			Help:      "Total packets authored locally, by kind.",
		}, []string{labelKind}),

		ForwardQueueSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "forward_queue_size",
			Help:      "Number of packets currently queued awaiting forwarding.",
		}),

		AuthoredQueueSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "authored_queue_size",
			Help:      "Number of self-authored packets currently queued for transmission.",
		}),

		SurbKeystoreSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "surb_keystore_size",
			Help:      "Number of outstanding single-use reply blocks held in the keystore.",
		}),

		IncompleteMessages: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "incomplete_messages",
			Help:      "Number of messages currently being reassembled from fragments.",
		}),
	}
}

// -------------------------------------------------------------------------
// Session Lifecycle
// -------------------------------------------------------------------------

// SetSessionFull marks the session at the given relative index as full
// (usable) or not.
func (c *Collector) SetSessionFull(relIndex string, full bool) {
	v := 0.0
	if full {
		v = 1.0
	}
	c.Sessions.WithLabelValues(relIndex).Set(v)
}

// -------------------------------------------------------------------------
// Packet Counters
// -------------------------------------------------------------------------

// IncPacketsForwarded increments the forwarded packets counter.
func (c *Collector) IncPacketsForwarded() {
	c.PacketsForwarded.Inc()
}

// IncPacketsDelivered increments the delivered-message counter for kind
// (KindRequest or KindReply).
func (c *Collector) IncPacketsDelivered(kind string) {
	c.PacketsDelivered.WithLabelValues(kind).Inc()
}

// IncPacketsDropped increments the dropped packets counter for reason.
func (c *Collector) IncPacketsDropped(reason string) {
	c.PacketsDropped.WithLabelValues(reason).Inc()
}

// IncPacketsGenerated increments the locally-authored packets counter for
// kind (KindRequest, KindReply, KindCover or KindLoop).
func (c *Collector) IncPacketsGenerated(kind string) {
	c.PacketsGenerated.WithLabelValues(kind).Inc()
}

// -------------------------------------------------------------------------
// Queue and Keystore Gauges
// -------------------------------------------------------------------------

// SetForwardQueueSize sets the current forward queue backlog.
func (c *Collector) SetForwardQueueSize(n int) {
	c.ForwardQueueSize.Set(float64(n))
}

// SetAuthoredQueueSize sets the current authored-packet queue backlog.
func (c *Collector) SetAuthoredQueueSize(n int) {
	c.AuthoredQueueSize.Set(float64(n))
}

// SetSurbKeystoreSize sets the current SURB keystore occupancy.
func (c *Collector) SetSurbKeystoreSize(n int) {
	c.SurbKeystoreSize.Set(float64(n))
}

// SetIncompleteMessages sets the count of messages under reassembly.
func (c *Collector) SetIncompleteMessages(n int) {
	c.IncompleteMessages.Set(float64(n))
}
