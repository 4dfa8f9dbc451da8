package metrics

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"insight-call-flow/internal/apperr"
	"insight-call-flow/internal/calls"
	"insight-call-flow/internal/callsync"
	"insight-call-flow/internal/telegram"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the service collectors on their own registry.
type Metrics struct {
	reg *prometheus.Registry

	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Business metrics
	CallsProcessed      *prometheus.CounterVec
	RecordsMaterialized *prometheus.CounterVec
	SyncRuns            *prometheus.CounterVec
	TelegramLinks       prometheus.Counter
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		reg: reg,
		HTTPRequestsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		CallsProcessed: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "calls_processed_total",
				Help: "Call processing runs by result and error code",
			},
			[]string{"result", "code"}, // completed|failed
		),
		RecordsMaterialized: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "telfin_records_materialized_total",
				Help: "Staged Telfin records by materialization outcome",
			},
			[]string{"outcome"}, // completed|skipped|failed
		),
		SyncRuns: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "telfin_sync_runs_total",
				Help: "Telfin sync runs by result",
			},
			[]string{"result"},
		),
		TelegramLinks: f.NewCounter(prometheus.CounterOpts{
			Name: "telegram_links_total",
			Help: "Telegram chats linked",
		}),
	}
}

// Registry exposes the registry for tests and extra collectors.
func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}

// Middleware records request totals and latency by route pattern.
func (m *Metrics) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath() // route pattern, e.g. /v1/calls/:id
		if path == "" {
			path = "unmatched"
		}
		status := strconv.Itoa(c.Writer.Status())
		m.HTTPRequestsTotal.WithLabelValues(c.Request.Method, path, status).Inc()
		m.HTTPRequestDuration.WithLabelValues(c.Request.Method, path).Observe(time.Since(start).Seconds())
	}
}

// CallProcessed implements calls.Listener.
func (m *Metrics) CallProcessed(_ context.Context, _ calls.Call, err error) {
	if err == nil {
		m.CallsProcessed.WithLabelValues("completed", "").Inc()
		return
	}
	m.CallsProcessed.WithLabelValues("failed", apperr.CodeOf(err)).Inc()
}

// RecordMaterialized implements callsync.Observer.
func (m *Metrics) RecordMaterialized(_ string, outcome callsync.Outcome) {
	m.RecordsMaterialized.WithLabelValues(string(outcome)).Inc()
}

// SyncFinished implements callsync.Observer.
func (m *Metrics) SyncFinished(_ string, err error) {
	switch {
	case err == nil:
		m.SyncRuns.WithLabelValues("ok").Inc()
	case errors.Is(err, callsync.ErrSyncInProgress):
		m.SyncRuns.WithLabelValues("skipped").Inc()
	default:
		m.SyncRuns.WithLabelValues("error").Inc()
	}
}

// ChatLinked implements telegram.Observer.
func (m *Metrics) ChatLinked(context.Context, telegram.ConsumeResult, int64) {
	m.TelegramLinks.Inc()
}
