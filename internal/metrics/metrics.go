// Package metrics provides Prometheus instrumentation for the Murmur
// chat client. It exposes counters for event routing and message
// traffic, a gauge for pending notifications, and histograms for
// store-call latency.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// EventsTotal counts inbound channel events, labeled by wire type
	// ("message_received", "message_edited", "typing", "stop_typing").
	EventsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "murmur_client_events_total",
		Help: "Total number of inbound channel events processed",
	}, []string{"type"})

	// RoutingAnomalies counts events dropped because they referenced a
	// room the client has no record of. Expected to be nonzero when
	// push events outrace history fetches.
	RoutingAnomalies = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "murmur_client_routing_anomalies_total",
		Help: "Total number of events dropped for unknown rooms",
	})

	// MessagesSent counts messages successfully posted to the store.
	MessagesSent = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "murmur_client_messages_sent_total",
		Help: "Total number of messages sent",
	})

	// NotificationsPending tracks the current size of the notification
	// inbox.
	NotificationsPending = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "murmur_client_notifications_pending",
		Help: "Current number of pending cross-room notifications",
	})

	// ConnectsTotal counts session establishment attempts, labeled by
	// outcome: "ok" or "error".
	ConnectsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "murmur_client_connects_total",
		Help: "Total number of session establishment attempts",
	}, []string{"result"})

	// Disconnects counts transport-level disconnects surfaced to
	// subscribers.
	Disconnects = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "murmur_client_disconnects_total",
		Help: "Total number of transport disconnects",
	})

	// HistoryFetchLatency records message-store history fetch latency
	// in seconds.
	HistoryFetchLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "murmur_client_history_fetch_seconds",
		Help:    "Message history fetch latency in seconds",
		Buckets: []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5},
	})
)

func init() {
	prometheus.MustRegister(
		EventsTotal,
		RoutingAnomalies,
		MessagesSent,
		NotificationsPending,
		ConnectsTotal,
		Disconnects,
		HistoryFetchLatency,
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
