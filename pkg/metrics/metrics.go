// Package metrics bundles the Prometheus collectors exported on /metrics.
//
// All methods are nil-safe so services and tests can run without a
// registry.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "omnidesk"

// Metrics holds every collector registered by the service.
type Metrics struct {
	gatherer prometheus.Gatherer

	sessionsCreated  *prometheus.CounterVec
	sessionsEnded    *prometheus.CounterVec
	escalations      *prometheus.CounterVec
	handovers        *prometheus.CounterVec
	inboundMessages  *prometheus.CounterVec
	responderLatency *prometheus.HistogramVec
	deliveryFailures prometheus.Counter
	eventFailures    *prometheus.CounterVec

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
	httpInFlight prometheus.Gauge
}

// New creates the collectors and registers them on reg.
func New(reg prometheus.Registerer, gatherer prometheus.Gatherer) *Metrics {
	m := &Metrics{
		gatherer: gatherer,
		sessionsCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_created_total",
			Help:      "Chat sessions created, by initial state.",
		}, []string{"state"}),
		sessionsEnded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_ended_total",
			Help:      "Chat sessions ended, by resolution type.",
		}, []string{"resolution_type"}),
		escalations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "escalation_triggers_total",
			Help:      "Escalation triggers fired, by trigger and verdict priority.",
		}, []string{"trigger", "priority"}),
		handovers: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "handovers_total",
			Help:      "Handover attempts, by outcome (assigned, queued, capacity_exceeded).",
		}, []string{"outcome"}),
		inboundMessages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "inbound_messages_total",
			Help:      "Inbound customer messages processed, by outcome.",
		}, []string{"outcome"}),
		responderLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "responder_duration_seconds",
			Help:      "Bot responder call latency, by result.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"result"}),
		deliveryFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "delivery_failures_total",
			Help:      "Outbound channel deliveries that failed.",
		}),
		eventFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "event_publish_failures_total",
			Help:      "Lifecycle events that could not be published, by type.",
		}, []string{"type"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total count of HTTP requests received.",
		}, []string{"method", "route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "Histogram of request durations.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
		httpInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "http_inflight_requests",
			Help:      "Number of requests currently being handled.",
		}),
	}

	reg.MustRegister(
		m.sessionsCreated, m.sessionsEnded, m.escalations, m.handovers,
		m.inboundMessages, m.responderLatency, m.deliveryFailures, m.eventFailures,
		m.httpRequests, m.httpDuration, m.httpInFlight,
	)
	return m
}

// NewRegistry creates Metrics on a private registry that also carries the
// Go runtime and process collectors.
func NewRegistry() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return New(reg, reg)
}

// Handler exposes the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil || m.gatherer == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

func (m *Metrics) SessionCreated(state string) {
	if m == nil {
		return
	}
	m.sessionsCreated.WithLabelValues(state).Inc()
}

func (m *Metrics) SessionEnded(resolutionType string) {
	if m == nil {
		return
	}
	m.sessionsEnded.WithLabelValues(resolutionType).Inc()
}

// Escalated counts each fired trigger once.
func (m *Metrics) Escalated(triggers []string, priority string) {
	if m == nil {
		return
	}
	for _, t := range triggers {
		m.escalations.WithLabelValues(t, priority).Inc()
	}
}

// Handover outcomes.
const (
	HandoverAssigned         = "assigned"
	HandoverQueued           = "queued"
	HandoverCapacityExceeded = "capacity_exceeded"
)

func (m *Metrics) Handover(outcome string) {
	if m == nil {
		return
	}
	m.handovers.WithLabelValues(outcome).Inc()
}

// Inbound message outcomes.
const (
	InboundBotReply   = "bot_reply"
	InboundBotFailure = "bot_failure"
	InboundEscalated  = "escalated"
	InboundQueued     = "queued"
	InboundAgentOwned = "agent_owned"
	InboundNoReply    = "no_reply"
)

// Responder call results.
const (
	ResponderOK     = "ok"
	ResponderFailed = "failed" // answered but flagged failed or low confidence
	ResponderError  = "error"
)

func (m *Metrics) InboundProcessed(outcome string) {
	if m == nil {
		return
	}
	m.inboundMessages.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveResponder(result string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.responderLatency.WithLabelValues(result).Observe(elapsed.Seconds())
}

func (m *Metrics) DeliveryFailed() {
	if m == nil {
		return
	}
	m.deliveryFailures.Inc()
}

func (m *Metrics) EventPublishFailed(eventType string) {
	if m == nil {
		return
	}
	m.eventFailures.WithLabelValues(eventType).Inc()
}

// RequestStarted increments the in-flight gauge and returns a func that
// records the finished request.
func (m *Metrics) RequestStarted() func(method, route string, status int) {
	if m == nil {
		return func(string, string, int) {}
	}
	m.httpInFlight.Inc()
	start := time.Now()
	return func(method, route string, status int) {
		m.httpInFlight.Dec()
		labels := []string{method, route, strconv.Itoa(status)}
		m.httpRequests.WithLabelValues(labels...).Inc()
		m.httpDuration.WithLabelValues(labels...).Observe(time.Since(start).Seconds())
	}
}
