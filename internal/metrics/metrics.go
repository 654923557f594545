package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the stock service's prometheus collectors
type Metrics struct {
	registry *prometheus.Registry

	ReservationsCommitted prometheus.Counter
	ReservationsRejected  prometheus.Counter
	ReservationsRestored  prometheus.Counter
	IntentsEmitted        *prometheus.CounterVec
	IntentFailures        prometheus.Counter
	EventsConsumed        *prometheus.CounterVec
}

// New creates a Metrics instance with its own registry
func New(serviceName string) *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(prometheus.NewGoCollector())
	registry.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))

	m := &Metrics{
		registry: registry,
		ReservationsCommitted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "stock",
			Name:        "reservations_committed_total",
			Help:        "Reservations committed in full",
			ConstLabels: prometheus.Labels{"service": serviceName},
		}),
		ReservationsRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "stock",
			Name:        "reservations_rejected_total",
			Help:        "Reservations rejected for insufficient stock",
			ConstLabels: prometheus.Labels{"service": serviceName},
		}),
		ReservationsRestored: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "stock",
			Name:        "reservations_restored_total",
			Help:        "Reservations restored after cancellation",
			ConstLabels: prometheus.Labels{"service": serviceName},
		}),
		IntentsEmitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   "stock",
			Name:        "notification_intents_total",
			Help:        "Notification intents emitted, by type",
			ConstLabels: prometheus.Labels{"service": serviceName},
		}, []string{"type"}),
		IntentFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "stock",
			Name:        "notification_intent_failures_total",
			Help:        "Intents the dispatcher failed to accept",
			ConstLabels: prometheus.Labels{"service": serviceName},
		}),
		EventsConsumed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   "stock",
			Name:        "events_consumed_total",
			Help:        "Order events consumed, by routing key and outcome",
			ConstLabels: prometheus.Labels{"service": serviceName},
		}, []string{"routing_key", "outcome"}),
	}

	registry.MustRegister(
		m.ReservationsCommitted,
		m.ReservationsRejected,
		m.ReservationsRestored,
		m.IntentsEmitted,
		m.IntentFailures,
		m.EventsConsumed,
	)

	return m
}

// Handler returns the HTTP handler serving this registry
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
