package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	SyncsTotal        *prometheus.CounterVec
	SyncDuration      *prometheus.HistogramVec
	FillsInserted     prometheus.Counter
	TransactionsRead  prometheus.Counter
	DecodedEvents     *prometheus.CounterVec
	DecodeFailures    prometheus.Counter
	HeuristicFills    prometheus.Counter
	InstrumentSources *prometheus.CounterVec
	FeeEvents         *prometheus.CounterVec
	RateLimitChecks   *prometheus.CounterVec
	RequestCount      *prometheus.CounterVec
	RequestDuration   *prometheus.HistogramVec
}

func New(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		SyncsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tradelens_syncs_total",
				Help: "Total wallet sync runs.",
			},
			[]string{"status"},
		),
		SyncDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tradelens_sync_duration_seconds",
				Help:    "Wallet sync duration in seconds.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"status"},
		),
		FillsInserted: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "tradelens_fills_inserted_total",
				Help: "Total fills newly persisted.",
			},
		),
		TransactionsRead: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "tradelens_transactions_read_total",
				Help: "Total transactions read from the ledger.",
			},
		),
		DecodedEvents: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tradelens_decoded_events_total",
				Help: "Total decoded program events.",
			},
			[]string{"kind"},
		),
		DecodeFailures: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "tradelens_decode_failures_total",
				Help: "Total program data lines that failed to decode.",
			},
		),
		HeuristicFills: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "tradelens_heuristic_fills_total",
				Help: "Total low-confidence fills recovered from text logs.",
			},
		),
		InstrumentSources: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tradelens_fill_instrument_source_total",
				Help: "Fills by where their instrument id came from.",
			},
			[]string{"source"},
		),
		FeeEvents: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tradelens_fee_events_total",
				Help: "Standalone fee events by outcome.",
			},
			[]string{"outcome"},
		),
		RateLimitChecks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tradelens_rate_limit_checks_total",
				Help: "Sync rate limiter decisions.",
			},
			[]string{"result"},
		),
		RequestCount: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tradelens_http_requests_total",
				Help: "Total number of HTTP requests.",
			},
			[]string{"method", "path", "status"},
		),
		RequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tradelens_http_request_duration_seconds",
				Help:    "Duration of HTTP requests in seconds.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
	}

	registry.MustRegister(
		m.SyncsTotal,
		m.SyncDuration,
		m.FillsInserted,
		m.TransactionsRead,
		m.DecodedEvents,
		m.DecodeFailures,
		m.HeuristicFills,
		m.InstrumentSources,
		m.FeeEvents,
		m.RateLimitChecks,
		m.RequestCount,
		m.RequestDuration,
	)
	return m
}

// NewRegistry returns a registry preloaded with the Go runtime and process collectors.
func NewRegistry() *prometheus.Registry {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return registry
}

func Handler(registry *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}

func (m *Metrics) ObserveSync(status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.SyncsTotal.WithLabelValues(status).Inc()
	m.SyncDuration.WithLabelValues(status).Observe(duration.Seconds())
}

func (m *Metrics) AddFillsInserted(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.FillsInserted.Add(float64(n))
}

func (m *Metrics) AddTransactionsRead(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.TransactionsRead.Add(float64(n))
}

func (m *Metrics) IncDecodedEvent(kind string) {
	if m == nil {
		return
	}
	m.DecodedEvents.WithLabelValues(kind).Inc()
}

func (m *Metrics) AddDecodeFailures(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.DecodeFailures.Add(float64(n))
}

func (m *Metrics) AddHeuristicFills(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.HeuristicFills.Add(float64(n))
}

func (m *Metrics) AddInstrumentSource(source string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.InstrumentSources.WithLabelValues(source).Add(float64(n))
}

func (m *Metrics) AddFeeEvents(outcome string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.FeeEvents.WithLabelValues(outcome).Add(float64(n))
}

func (m *Metrics) IncRateLimit(allowed bool) {
	if m == nil {
		return
	}
	result := "allowed"
	if !allowed {
		result = "rejected"
	}
	m.RateLimitChecks.WithLabelValues(result).Inc()
}

func (m *Metrics) ObserveRequest(method, path, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.RequestCount.WithLabelValues(method, path, status).Inc()
	m.RequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}
