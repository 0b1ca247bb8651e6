package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Registry struct {
	reg *prometheus.Registry

	OrdersCreated       prometheus.Counter
	Transitions         *prometheus.CounterVec // to
	TransitionConflicts prometheus.Counter
	TransitionsRejected *prometheus.CounterVec // reason
	EventsPublished     *prometheus.CounterVec // kind
	PublishFailures     prometheus.Counter

	Subscribers     prometheus.Gauge
	SlowSubscribers prometheus.Counter
	RelayMessages   *prometheus.CounterVec // direction

	QueryLatencySec *prometheus.HistogramVec // op
	CountsDrift     prometheus.Counter
}

func NewRegistry() *Registry {
	r := prometheus.NewRegistry()
	created := prometheus.NewCounter(prometheus.CounterOpts{Name: "orders_created_total"})
	transitions := prometheus.NewCounterVec(prometheus.CounterOpts{Name: "orders_transitions_total"}, []string{"to"})
	conflicts := prometheus.NewCounter(prometheus.CounterOpts{Name: "orders_transition_conflicts_total"})
	rejected := prometheus.NewCounterVec(prometheus.CounterOpts{Name: "orders_transitions_rejected_total"}, []string{"reason"})
	published := prometheus.NewCounterVec(prometheus.CounterOpts{Name: "orders_events_published_total"}, []string{"kind"})
	publishFailures := prometheus.NewCounter(prometheus.CounterOpts{Name: "orders_events_publish_failures_total"})

	subscribers := prometheus.NewGauge(prometheus.GaugeOpts{Name: "orders_subscribers"})
	slow := prometheus.NewCounter(prometheus.CounterOpts{Name: "orders_slow_subscribers_disconnected_total"})
	relay := prometheus.NewCounterVec(prometheus.CounterOpts{Name: "orders_relay_messages_total"}, []string{"direction"})

	latency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "orders_query_latency_seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"op"})
	drift := prometheus.NewCounter(prometheus.CounterOpts{Name: "orders_counts_drift_total"})

	r.MustRegister(
		created, transitions, conflicts, rejected, published, publishFailures,
		subscribers, slow, relay, latency, drift,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return &Registry{
		reg:                 r,
		OrdersCreated:       created,
		Transitions:         transitions,
		TransitionConflicts: conflicts,
		TransitionsRejected: rejected,
		EventsPublished:     published,
		PublishFailures:     publishFailures,
		Subscribers:         subscribers,
		SlowSubscribers:     slow,
		RelayMessages:       relay,
		QueryLatencySec:     latency,
		CountsDrift:         drift,
	}
}

func (r *Registry) Handler() http.Handler { return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{}) }

// Gatherer exposes the registry for tests.
func (r *Registry) Gatherer() prometheus.Gatherer { return r.reg }
