// Package telemetry exposes the Prometheus metrics surfaced on /metrics.
package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ConnectedActors tracks the presence registry size.
	ConnectedActors = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "chatrelay",
		Name:      "connected_actors",
		Help:      "Number of actors with a live registered connection.",
	})

	// EventsTotal counts inbound protocol events by type and result.
	EventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "chatrelay",
		Name:      "events_total",
		Help:      "Inbound protocol events processed, by type and result.",
	}, []string{"type", "result"})

	// DeliveriesTotal counts outbound events handed to live connections.
	DeliveriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "chatrelay",
		Name:      "deliveries_total",
		Help:      "Outbound events delivered to live connections, by type.",
	}, []string{"type"})

	// DroppedOutboundTotal counts events dropped on full outbound buffers.
	DroppedOutboundTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "chatrelay",
		Name:      "dropped_outbound_total",
		Help:      "Outbound events dropped because a connection buffer was full.",
	})

	// StoreOpDuration observes store adapter call latency.
	StoreOpDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "chatrelay",
		Name:      "store_op_duration_seconds",
		Help:      "Latency of pebble store operations.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"op"})

	// PublishedEventsTotal counts mirror publishes to the AMQP exchange.
	PublishedEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "chatrelay",
		Name:      "published_events_total",
		Help:      "Lifecycle events mirrored to the AMQP exchange, by result.",
	}, []string{"result"})
)

// ObserveStoreOp records one store call's duration.
func ObserveStoreOp(op string, start time.Time) {
	StoreOpDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}
