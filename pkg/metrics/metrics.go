// Copyright 2024-2026 Aiku AI

// Package metrics holds the bridge's Prometheus collectors. Everything hangs
// off an explicit registry instance so tests can create isolated sets.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics bundles the bridge's collectors with their registry.
type Metrics struct {
	Registry *prometheus.Registry

	MatrixEvents      *prometheus.CounterVec
	SlackEvents       *prometheus.CounterVec
	MessagesForwarded *prometheus.CounterVec
	DroppedEvents     *prometheus.CounterVec
	Reconnects        prometheus.Counter
	BridgedRooms      prometheus.Gauge
	CacheEntries      prometheus.Gauge
	PresenceQueueLen  prometheus.Gauge
	SendDuration      prometheus.Histogram
}

// New creates a registry and registers all bridge collectors on it.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		Registry: reg,
		MatrixEvents: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "bridge_matrix_events_total",
			Help: "Matrix events received, by event type.",
		}, []string{"type"}),
		SlackEvents: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "bridge_slack_events_total",
			Help: "Slack events received, by event type.",
		}, []string{"type"}),
		MessagesForwarded: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "bridge_messages_forwarded_total",
			Help: "Messages forwarded across the bridge, by direction.",
		}, []string{"direction"}),
		DroppedEvents: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "bridge_dropped_events_total",
			Help: "Events dropped before forwarding, by reason.",
		}, []string{"reason"}),
		Reconnects: factory.NewCounter(prometheus.CounterOpts{
			Name: "bridge_slack_reconnects_total",
			Help: "Slack Socket Mode reconnect attempts.",
		}),
		BridgedRooms: factory.NewGauge(prometheus.GaugeOpts{
			Name: "bridge_rooms",
			Help: "Currently bridged rooms.",
		}),
		CacheEntries: factory.NewGauge(prometheus.GaugeOpts{
			Name: "bridge_mapping_cache_entries",
			Help: "Entries in the room mapping caches, including expired ones awaiting sweep.",
		}),
		PresenceQueueLen: factory.NewGauge(prometheus.GaugeOpts{
			Name: "bridge_presence_queue_length",
			Help: "Pending entries in the presence queue.",
		}),
		SendDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "bridge_slack_send_duration_seconds",
			Help:    "Latency of Slack send calls, including the configured send delay.",
			Buckets: prometheus.DefBuckets,
		}),
	}
}

// Handler returns an HTTP handler exposing this registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}
