// Package metrics holds the Prometheus collectors for the engagement coordinator.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics encapsulates Prometheus instrumentation. A nil *Metrics is valid and
// records nothing, which keeps tests free of registry plumbing.
type Metrics struct {
	registry          *prometheus.Registry
	handler           http.Handler
	eventsPublished   *prometheus.CounterVec
	deliveriesDropped *prometheus.CounterVec
	connectedHandles  prometheus.Gauge
	pollVotes         prometheus.Counter
	upvoteToggles     *prometheus.CounterVec
	storeErrors       *prometheus.CounterVec
	archivesWritten   prometheus.Counter
}

// New registers the engagement collectors on a private registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		eventsPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "engagement_events_published_total",
			Help: "Room events published by the broadcast router",
		}, []string{"event"}),
		deliveriesDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "engagement_deliveries_dropped_total",
			Help: "Per-handle deliveries that failed (closed handle or full buffer)",
		}, []string{"event"}),
		connectedHandles: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "engagement_connected_handles",
			Help: "Open WebSocket connections, counted from upgrade until the read pump exits",
		}),
		pollVotes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "engagement_poll_votes_total",
			Help: "Poll votes recorded (including replacements)",
		}),
		upvoteToggles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "engagement_upvote_toggles_total",
			Help: "Question upvote toggles by resulting state",
		}, []string{"state"}),
		storeErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "engagement_store_errors_total",
			Help: "Directory store failures by operation",
		}, []string{"op"}),
		archivesWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "engagement_session_archives_written_total",
			Help: "Session archives uploaded by the worker",
		}),
	}

	registry.MustRegister(
		m.eventsPublished,
		m.deliveriesDropped,
		m.connectedHandles,
		m.pollVotes,
		m.upvoteToggles,
		m.storeErrors,
		m.archivesWritten,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m.handler = promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
	return m
}

// Handler exposes the registry for scraping.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return m.handler
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) EventPublished(event string) {
	if m != nil {
		m.eventsPublished.WithLabelValues(event).Inc()
	}
}

func (m *Metrics) DeliveryDropped(event string) {
	if m != nil {
		m.deliveriesDropped.WithLabelValues(event).Inc()
	}
}

// HandleConnected and HandleDisconnected bracket one WebSocket connection.
func (m *Metrics) HandleConnected() {
	if m != nil {
		m.connectedHandles.Inc()
	}
}

func (m *Metrics) HandleDisconnected() {
	if m != nil {
		m.connectedHandles.Dec()
	}
}

func (m *Metrics) PollVote() {
	if m != nil {
		m.pollVotes.Inc()
	}
}

func (m *Metrics) UpvoteToggled(state string) {
	if m != nil {
		m.upvoteToggles.WithLabelValues(state).Inc()
	}
}

func (m *Metrics) StoreError(op string) {
	if m != nil {
		m.storeErrors.WithLabelValues(op).Inc()
	}
}

func (m *Metrics) ArchiveWritten() {
	if m != nil {
		m.archivesWritten.Inc()
	}
}
