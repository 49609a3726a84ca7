// Package metrics exposes prometheus collectors for sessions, visits and
// bridge traffic. A nil *Collectors is valid and records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "visitbridge"

// Collectors groups the visitbridge metrics registered on one registry.
type Collectors struct {
	SessionsActive   prometheus.Gauge
	Visits           *prometheus.CounterVec
	ColdBoots        prometheus.Counter
	StaleMessages    *prometheus.CounterVec
	BridgeCalls      *prometheus.CounterVec
	BridgeMessages   *prometheus.CounterVec
	AdapterCallbacks *prometheus.CounterVec
	RendererErrors   prometheus.Counter
	VisitDuration    prometheus.Histogram
}

// New registers the collectors on reg.
func New(reg prometheus.Registerer) *Collectors {
	factory := promauto.With(reg)
	return &Collectors{
		SessionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Number of live visit sessions.",
		}),
		Visits: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "visits_total",
			Help:      "Visits requested by hosts, by action.",
		}, []string{"action"}),
		ColdBoots: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cold_boots_total",
			Help:      "Full renderer loads issued.",
		}),
		StaleMessages: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stale_messages_total",
			Help:      "Inbound bridge messages dropped because their visit id was not current.",
		}, []string{"message"}),
		BridgeCalls: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bridge_calls_total",
			Help:      "Outbound bridge calls, by function.",
		}, []string{"function"}),
		BridgeMessages: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bridge_messages_total",
			Help:      "Inbound bridge messages, by method.",
		}, []string{"method"}),
		AdapterCallbacks: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "adapter_callbacks_total",
			Help:      "Host adapter notifications, by callback.",
		}, []string{"callback"}),
		RendererErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "renderer_errors_total",
			Help:      "Renderer-level load failures.",
		}),
		VisitDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "visit_duration_seconds",
			Help:      "Time from visit start to completion.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms to ~20s
		}),
	}
}

func (c *Collectors) SessionOpened() {
	if c == nil {
		return
	}
	c.SessionsActive.Inc()
}

func (c *Collectors) SessionClosed() {
	if c == nil {
		return
	}
	c.SessionsActive.Dec()
}

func (c *Collectors) VisitRequested(action string) {
	if c == nil {
		return
	}
	c.Visits.WithLabelValues(action).Inc()
}

func (c *Collectors) ColdBoot() {
	if c == nil {
		return
	}
	c.ColdBoots.Inc()
}

func (c *Collectors) StaleMessage(method string) {
	if c == nil {
		return
	}
	c.StaleMessages.WithLabelValues(method).Inc()
}

func (c *Collectors) BridgeCall(function string) {
	if c == nil {
		return
	}
	c.BridgeCalls.WithLabelValues(function).Inc()
}

func (c *Collectors) BridgeMessage(method string) {
	if c == nil {
		return
	}
	c.BridgeMessages.WithLabelValues(method).Inc()
}

func (c *Collectors) AdapterCallback(callback string) {
	if c == nil {
		return
	}
	c.AdapterCallbacks.WithLabelValues(callback).Inc()
}

func (c *Collectors) RendererError() {
	if c == nil {
		return
	}
	c.RendererErrors.Inc()
}

// VisitFinished observes the time since a visit started.
func (c *Collectors) VisitFinished(elapsed time.Duration) {
	if c == nil || elapsed < 0 {
		return
	}
	c.VisitDuration.Observe(elapsed.Seconds())
}
