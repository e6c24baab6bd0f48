package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "roomsync"

// Metrics holds the client's collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	ConnectionState   *prometheus.CounterVec
	ReconnectAttempts prometheus.Counter
	FramesReceived    *prometheus.CounterVec
	FramesDropped     prometheus.Counter
	SendFailures      *prometheus.CounterVec
	Reconciled        *prometheus.CounterVec
	PendingMessages   prometheus.Gauge
	PollDuration      prometheus.Histogram
	PollErrors        prometheus.Counter
	Conversations     prometheus.Gauge
	HTTPRequests      *prometheus.CounterVec
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		ConnectionState: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connection_transitions_total",
			Help:      "Room socket state transitions by target state",
		}, []string{"state"}),
		ReconnectAttempts: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconnect_attempts_total",
			Help:      "Automatic reconnection attempts scheduled",
		}),
		FramesReceived: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_received_total",
			Help:      "Decoded inbound frames by event type",
		}, []string{"type"}),
		FramesDropped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_dropped_total",
			Help:      "Inbound frames dropped because they could not be decoded",
		}),
		SendFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "send_failures_total",
			Help:      "Outbound frames that could not be written",
		}, []string{"reason"}),
		Reconciled: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconcile_outcomes_total",
			Help:      "Message reconciliation outcomes",
		}, []string{"outcome"}),
		PendingMessages: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pending_messages",
			Help:      "Optimistic messages awaiting confirmation in the open room",
		}),
		PollDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "conversation_poll_duration_seconds",
			Help:      "Duration of conversation list refreshes",
			Buckets:   prometheus.DefBuckets,
		}),
		PollErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "conversation_poll_errors_total",
			Help:      "Conversation list refreshes that failed",
		}),
		Conversations: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "conversations",
			Help:      "Conversations in the last refreshed list",
		}),
		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "api_requests_total",
			Help:      "Requests to the chat service by method and status class",
		}, []string{"method", "status"}),
	}
}

// Handler serves the private registry.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) RecordState(state string) {
	if m == nil {
		return
	}
	m.ConnectionState.WithLabelValues(state).Inc()
}

func (m *Metrics) RecordReconnect() {
	if m == nil {
		return
	}
	m.ReconnectAttempts.Inc()
}

func (m *Metrics) RecordFrame(eventType string) {
	if m == nil {
		return
	}
	m.FramesReceived.WithLabelValues(eventType).Inc()
}

func (m *Metrics) RecordDroppedFrame() {
	if m == nil {
		return
	}
	m.FramesDropped.Inc()
}

func (m *Metrics) RecordSendFailure(reason string) {
	if m == nil {
		return
	}
	m.SendFailures.WithLabelValues(reason).Inc()
}

func (m *Metrics) RecordReconcile(outcome string) {
	if m == nil {
		return
	}
	m.Reconciled.WithLabelValues(outcome).Inc()
}

func (m *Metrics) SetPending(n int) {
	if m == nil {
		return
	}
	m.PendingMessages.Set(float64(n))
}

func (m *Metrics) ObservePoll(d time.Duration, count int, err error) {
	if m == nil {
		return
	}
	m.PollDuration.Observe(d.Seconds())
	if err != nil {
		m.PollErrors.Inc()
		return
	}
	m.Conversations.Set(float64(count))
}

func (m *Metrics) RecordHTTP(method string, status int) {
	if m == nil {
		return
	}
	class := "error"
	if status > 0 {
		class = strconv.Itoa(status/100) + "xx"
	}
	m.HTTPRequests.WithLabelValues(method, class).Inc()
}
