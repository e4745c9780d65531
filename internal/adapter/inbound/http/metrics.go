package http

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/Sayan19951995/metricon-sub002/internal/domain/chat"
	"github.com/Sayan19951995/metricon-sub002/internal/domain/session"
	"github.com/Sayan19951995/metricon-sub002/internal/service"
)

const metricsNamespace = "metricon"

// Metrics holds the Prometheus metrics for the HTTP API and the session
// lifecycle. It implements service.SessionObserver.
type Metrics struct {
	RequestsTotal     *prometheus.CounterVec
	RequestDuration   *prometheus.HistogramVec
	ConnectAttempts   prometheus.Counter
	ConnectResults    *prometheus.CounterVec
	ConnectDuration   prometheus.Histogram
	ConnectionsClosed *prometheus.CounterVec
	SessionsEvicted   prometheus.Counter
	MessagesSent      *prometheus.CounterVec
	InboundMessages   prometheus.Counter
}

// NewMetrics creates and registers all metrics with the given registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		RequestsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "http_requests_total",
				Help:      "Total number of API requests processed",
			},
			[]string{"method", "route", "status"}, // status=ok/error
		),
		RequestDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Name:      "http_request_duration_seconds",
				Help:      "API request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
		ConnectAttempts: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "connect_attempts_total",
				Help:      "Connection attempts started",
			},
		),
		ConnectResults: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "connect_results_total",
				Help:      "Connection attempts finished, by outcome",
			},
			[]string{"result"}, // result=connected/failed
		),
		ConnectDuration: f.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Name:      "connect_duration_seconds",
				Help:      "Time from attempt start to outcome",
				Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 15, 30, 60},
			},
		),
		ConnectionsClosed: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "connections_closed_total",
				Help:      "Connections closed by the network, by close code",
			},
			[]string{"code"},
		),
		SessionsEvicted: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "sessions_evicted_total",
				Help:      "Sessions closed after the idle timeout",
			},
		),
		MessagesSent: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "messages_sent_total",
				Help:      "Outgoing messages, by outcome",
			},
			[]string{"result"}, // result=sent/failed
		),
		InboundMessages: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "inbound_messages_total",
				Help:      "Inbound messages received from the network",
			},
		),
	}
}

func (m *Metrics) ConnectStarted() { m.ConnectAttempts.Inc() }

func (m *Metrics) ConnectFinished(ok bool, elapsed time.Duration) {
	result := "failed"
	if ok {
		result = "connected"
	}
	m.ConnectResults.WithLabelValues(result).Inc()
	m.ConnectDuration.Observe(elapsed.Seconds())
}

func (m *Metrics) ConnectionClosed(reason chat.CloseReason) {
	m.ConnectionsClosed.WithLabelValues(strconv.Itoa(reason.Code)).Inc()
}

func (m *Metrics) SessionEvicted() { m.SessionsEvicted.Inc() }

func (m *Metrics) MessageSent(ok bool) {
	result := "failed"
	if ok {
		result = "sent"
	}
	m.MessagesSent.WithLabelValues(result).Inc()
}

func (m *Metrics) InboundReceived() { m.InboundMessages.Inc() }

var _ service.SessionObserver = (*Metrics)(nil)

var allStatuses = []session.Status{
	session.StatusConnecting,
	session.StatusAwaitingBootstrap,
	session.StatusConnected,
	session.StatusDisconnected,
}

// sessionsCollector reports the number of known sessions per status at
// scrape time.
type sessionsCollector struct {
	desc *prometheus.Desc
	list func() []session.Snapshot
}

// NewSessionsCollector returns a collector for the sessions gauge, reading
// from list on every scrape.
func NewSessionsCollector(list func() []session.Snapshot) prometheus.Collector {
	return &sessionsCollector{
		desc: prometheus.NewDesc(
			prometheus.BuildFQName(metricsNamespace, "", "sessions"),
			"Known sessions by status",
			[]string{"status"}, nil,
		),
		list: list,
	}
}

func (c *sessionsCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.desc
}

func (c *sessionsCollector) Collect(ch chan<- prometheus.Metric) {
	counts := make(map[session.Status]int, len(allStatuses))
	for _, s := range c.list() {
		counts[s.Status]++
	}
	for _, st := range allStatuses {
		ch <- prometheus.MustNewConstMetric(c.desc, prometheus.GaugeValue, float64(counts[st]), string(st))
	}
}
