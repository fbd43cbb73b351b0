package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "store"

// Metrics holds every collector the service exports. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	Requests         *prometheus.CounterVec
	LatencyMS        *prometheus.HistogramVec
	Checkouts        *prometheus.CounterVec
	GatewayLatencyMS *prometheus.HistogramVec
	Transitions      *prometheus.CounterVec
	OutboxPublished  *prometheus.CounterVec
	Notifications    *prometheus.CounterVec
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &Metrics{
		registry: reg,
		Requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests.",
		}, []string{"handler", "status"}),
		LatencyMS: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_ms",
			Help:      "HTTP request latency in milliseconds.",
			Buckets:   []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
		}, []string{"handler"}),
		Checkouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "checkouts_total",
			Help:      "Checkout attempts by outcome.",
		}, []string{"outcome"}),
		GatewayLatencyMS: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "gateway_request_duration_ms",
			Help:      "Payment gateway call latency in milliseconds.",
			Buckets:   []float64{25, 50, 100, 250, 500, 1000, 2500, 5000, 10000},
		}, []string{"operation", "result"}),
		Transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "order_status_transitions_total",
			Help:      "Order confirmation signals by target status and result.",
		}, []string{"to", "result"}),
		OutboxPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outbox_events_published_total",
			Help:      "Outbox events handed to the broker.",
		}, []string{"event_type"}),
		Notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "Buyer notifications by result.",
		}, []string{"result"}),
	}

	reg.MustRegister(
		m.Requests,
		m.LatencyMS,
		m.Checkouts,
		m.GatewayLatencyMS,
		m.Transitions,
		m.OutboxPublished,
		m.Notifications,
	)
	return m
}

func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) ObserveRequest(handler string, status int, took time.Duration) {
	if m == nil {
		return
	}
	m.Requests.WithLabelValues(handler, strconv.Itoa(status)).Inc()
	m.LatencyMS.WithLabelValues(handler).Observe(float64(took.Milliseconds()))
}

func (m *Metrics) CheckoutOutcome(outcome string) {
	if m == nil {
		return
	}
	m.Checkouts.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveGateway(operation, result string, took time.Duration) {
	if m == nil {
		return
	}
	m.GatewayLatencyMS.WithLabelValues(operation, result).Observe(float64(took.Milliseconds()))
}

func (m *Metrics) Transition(to, result string) {
	if m == nil {
		return
	}
	m.Transitions.WithLabelValues(to, result).Inc()
}

func (m *Metrics) EventPublished(eventType string) {
	if m == nil {
		return
	}
	m.OutboxPublished.WithLabelValues(eventType).Inc()
}

func (m *Metrics) Notification(result string) {
	if m == nil {
		return
	}
	m.Notifications.WithLabelValues(result).Inc()
}
