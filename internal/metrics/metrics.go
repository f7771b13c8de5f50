package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dustin/sitepulse/internal/analytics"
	"github.com/dustin/sitepulse/internal/useragent"
)

const namespace = "sitepulse"

// Metrics holds all Prometheus collectors for sitepulse.
type Metrics struct {
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	IngestEventsTotal   *prometheus.CounterVec
	IngestFailuresTotal prometheus.Counter
	IngestRejectedTotal prometheus.Counter

	StatsRequestsTotal  *prometheus.CounterVec
	ContactSendsTotal   *prometheus.CounterVec
	SSESubscribersGauge prometheus.GaugeFunc
	StoreEventsGauge    prometheus.GaugeFunc

	country func(ip string) string
}

// cachedCount memoises an expensive count for one second so a scrape does
// not reread the whole event log.
type cachedCount struct {
	mu       sync.Mutex
	fetch    func() int
	value    int
	cachedAt time.Time
}

func (c *cachedCount) get() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if now := time.Now(); now.Sub(c.cachedAt) > time.Second {
		c.value = c.fetch()
		c.cachedAt = now
	}
	return c.value
}

// Options wires the gauges and labels that depend on other components. Nil
// funcs report zero or "unknown".
type Options struct {
	StoreLen   func() int
	SSEClients func() int
	Country    func(ip string) string
}

// New creates the collectors. Call Register to expose them.
func New(opts Options) *Metrics {
	if opts.StoreLen == nil {
		opts.StoreLen = func() int { return 0 }
	}
	if opts.SSEClients == nil {
		opts.SSEClients = func() int { return 0 }
	}
	if opts.Country == nil {
		opts.Country = func(string) string { return "unknown" }
	}
	storeLen := &cachedCount{fetch: opts.StoreLen}

	return &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "requests_total",
				Help:      "Total number of HTTP requests handled",
			},
			[]string{"method", "route", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
		IngestEventsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "ingest",
				Name:      "events_total",
				Help:      "Events appended to the log",
			},
			[]string{"kind", "device", "country"},
		),
		IngestFailuresTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "ingest",
				Name:      "failures_total",
				Help:      "Events accepted but not persisted because of a storage error",
			},
		),
		IngestRejectedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "ingest",
				Name:      "rejected_total",
				Help:      "Submissions rejected for a missing path",
			},
		),
		StatsRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "stats",
				Name:      "requests_total",
				Help:      "Stats queries by result",
			},
			[]string{"result"},
		),
		ContactSendsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "contact",
				Name:      "sends_total",
				Help:      "Contact form delivery attempts by provider and result",
			},
			[]string{"provider", "result"},
		),
		SSESubscribersGauge: prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "sse",
				Name:      "subscribers",
				Help:      "Current number of SSE subscribers",
			},
			func() float64 { return float64(opts.SSEClients()) },
		),
		StoreEventsGauge: prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "store",
				Name:      "events",
				Help:      "Events currently held in the log",
			},
			func() float64 { return float64(storeLen.get()) },
		),
		country: opts.Country,
	}
}

// Register adds every collector to reg.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.IngestEventsTotal,
		m.IngestFailuresTotal,
		m.IngestRejectedTotal,
		m.StatsRequestsTotal,
		m.ContactSendsTotal,
		m.SSESubscribersGauge,
		m.StoreEventsGauge,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// Handler serves the metrics gathered by g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

func (m *Metrics) RecordHTTPRequest(method, route, status string, duration float64) {
	m.HTTPRequestsTotal.WithLabelValues(method, route, status).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, route).Observe(duration)
}

// RecordIngest counts a stored event by kind, device class and country.
func (m *Metrics) RecordIngest(e analytics.Event, clientIP string) {
	m.IngestEventsTotal.WithLabelValues(e.Kind(), useragent.Device(e.UserAgent), m.country(clientIP)).Inc()
}

func (m *Metrics) RecordIngestFailure() {
	m.IngestFailuresTotal.Inc()
}

func (m *Metrics) RecordIngestRejected() {
	m.IngestRejectedTotal.Inc()
}

// RecordStats counts a stats query; result is ok, unauthorized or error.
func (m *Metrics) RecordStats(result string) {
	m.StatsRequestsTotal.WithLabelValues(result).Inc()
}

// RecordContactSend counts one provider attempt; result is sent or failed.
func (m *Metrics) RecordContactSend(provider, result string) {
	m.ContactSendsTotal.WithLabelValues(provider, result).Inc()
}
