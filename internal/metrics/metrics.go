// ABOUTME: Prometheus collectors for the relay, registered on the default registry
// ABOUTME: Exposed by the gateway at metrics.path when metrics are enabled

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// MessagesPersisted counts stored messages by sender class.
	MessagesPersisted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "supportdesk_messages_persisted_total",
			Help: "Total messages persisted",
		},
		[]string{"sender_class"},
	)

	// MessagesDelivered counts messages handed to a live receiver connection.
	MessagesDelivered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "supportdesk_messages_delivered_total",
			Help: "Total messages handed to a live connection",
		},
		[]string{"receiver_class"},
	)

	TypingRelayed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "supportdesk_typing_relayed_total",
			Help: "Total typing signals forwarded",
		},
		[]string{"sender_class"},
	)

	PresenceChanges = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "supportdesk_presence_changes_total",
			Help: "Total presence transitions",
		},
		[]string{"class", "status"},
	)

	LiveConnections = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "supportdesk_live_connections",
			Help: "Open websocket connections",
		},
		[]string{"class"},
	)

	EventFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "supportdesk_event_failures_total",
			Help: "Inbound events that ended in an error event",
		},
		[]string{"class", "event", "kind"},
	)

	PersistLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "supportdesk_persist_latency_seconds",
			Help:    "Message persistence latency",
			Buckets: []float64{.0005, .001, .005, .01, .05, .1, .5, 1},
		},
	)
)
