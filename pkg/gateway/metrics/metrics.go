// Package metrics exposes the gateway's Prometheus instrumentation.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	registry *prometheus.Registry

	ActiveSessions    prometheus.Gauge
	ClientFrames      *prometheus.CounterVec
	ServerFrames      *prometheus.CounterVec
	SuppressedChunks  prometheus.Counter
	ReconnectAttempts prometheus.Counter
	ReconnectOutcomes *prometheus.CounterVec
	TurnsCommitted    prometheus.Counter
	UpstreamErrors    prometheus.Counter
}

func New() *Metrics {
	registry := prometheus.NewRegistry()
	m := &Metrics{
		registry: registry,
		ActiveSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "livegw_active_sessions",
			Help: "Live sessions currently open.",
		}),
		ClientFrames: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "livegw_client_frames_total",
			Help: "Inbound client frames by type.",
		}, []string{"type"}),
		ServerFrames: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "livegw_server_frames_total",
			Help: "Outbound server frames by type.",
		}, []string{"type"}),
		SuppressedChunks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "livegw_vad_suppressed_chunks_total",
			Help: "Audio chunks dropped by the voice activity gate.",
		}),
		ReconnectAttempts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "livegw_reconnect_attempts_total",
			Help: "Upstream reconnection attempts.",
		}),
		ReconnectOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "livegw_reconnect_outcomes_total",
			Help: "Upstream reconnection outcomes (recovered, exhausted, auth_failed).",
		}, []string{"outcome"}),
		TurnsCommitted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "livegw_turns_committed_total",
			Help: "Conversation turns committed to history.",
		}),
		UpstreamErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "livegw_upstream_errors_total",
			Help: "Non-fatal errors reported by the upstream provider.",
		}),
	}
	registry.MustRegister(
		m.ActiveSessions,
		m.ClientFrames,
		m.ServerFrames,
		m.SuppressedChunks,
		m.ReconnectAttempts,
		m.ReconnectOutcomes,
		m.TurnsCommitted,
		m.UpstreamErrors,
	)
	return m
}

// Handler serves the registry in Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
