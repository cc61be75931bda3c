package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	ResultOK    = "ok"
	ResultError = "error"

	namespace = "pubsubtrace"
)

// Metrics counts publish and consume outcomes on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	published       *prometheus.CounterVec
	consumed        *prometheus.CounterVec
	publishDuration *prometheus.HistogramVec
}

func New() *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)
	return &Metrics{
		registry: registry,
		published: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_published_total",
			Help:      "Messages the producer tried to publish, by topic and result.",
		}, []string{"topic", "result"}),
		consumed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_consumed_total",
			Help:      "Messages handled by the consumer, by whether a parent trace was resumed and result.",
		}, []string{"traced", "result"}),
		publishDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "publish_duration_seconds",
			Help:      "Time spent waiting for the broker to acknowledge a publish.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"topic"}),
	}
}

func (m *Metrics) Published(topic, result string, seconds float64) {
	if m == nil {
		return
	}
	m.published.WithLabelValues(topic, result).Inc()
	if result == ResultOK {
		m.publishDuration.WithLabelValues(topic).Observe(seconds)
	}
}

func (m *Metrics) Consumed(traced bool, result string) {
	if m == nil {
		return
	}
	m.consumed.WithLabelValues(strconv.FormatBool(traced), result).Inc()
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
