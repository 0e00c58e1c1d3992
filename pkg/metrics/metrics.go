package metrics

import (
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Runner metrics
	RunsTotal          prometheus.Counter
	CampaignsProcessed prometheus.Counter
	CampaignErrors     prometheus.Counter
	LockContention     prometheus.Counter
	SendsTotal         *prometheus.CounterVec
	BatchDuration      prometheus.Histogram
}

// New creates a new Metrics instance with all metrics registered
func New() *Metrics {
	return &Metrics{
		HTTPRequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path", "status"},
		),
		RunsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "campaign_runner_runs_total",
			Help: "Total number of runner passes",
		}),
		CampaignsProcessed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "campaign_runner_campaigns_processed_total",
			Help: "Total number of campaigns processed by the runner",
		}),
		CampaignErrors: promauto.NewCounter(prometheus.CounterOpts{
			Name: "campaign_runner_campaign_errors_total",
			Help: "Total number of campaigns that failed during a runner pass",
		}),
		LockContention: promauto.NewCounter(prometheus.CounterOpts{
			Name: "campaign_runner_lock_contention_total",
			Help: "Total number of campaigns skipped because another runner held the lock",
		}),
		SendsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "campaign_sends_total",
				Help: "Total number of send dispatches by outcome",
			},
			[]string{"outcome"},
		),
		BatchDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "campaign_batch_duration_seconds",
			Help:    "Duration of one send batch in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}),
	}
}

// Recording helpers are nil-safe so core components can run without a
// registry (tests, dry tooling).

// ObserveRun records one runner pass
func (m *Metrics) ObserveRun() {
	if m == nil {
		return
	}
	m.RunsTotal.Inc()
}

// ObserveCampaign records one processed campaign and whether it errored
func (m *Metrics) ObserveCampaign(failed bool) {
	if m == nil {
		return
	}
	m.CampaignsProcessed.Inc()
	if failed {
		m.CampaignErrors.Inc()
	}
}

// ObserveLockContention records a campaign skipped due to lock contention
func (m *Metrics) ObserveLockContention() {
	if m == nil {
		return
	}
	m.LockContention.Inc()
}

// ObserveSend records one send dispatch outcome
func (m *Metrics) ObserveSend(outcome string) {
	if m == nil {
		return
	}
	m.SendsTotal.WithLabelValues(outcome).Inc()
}

// ObserveBatch records the duration of one batch
func (m *Metrics) ObserveBatch(d time.Duration) {
	if m == nil {
		return
	}
	m.BatchDuration.Observe(d.Seconds())
}

// Middleware returns an Echo middleware recording HTTP metrics
func (m *Metrics) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)

			status := c.Response().Status
			if err != nil {
				if he, ok := err.(*echo.HTTPError); ok {
					status = he.Code
				}
			}

			labels := []string{c.Request().Method, c.Path(), strconv.Itoa(status)}
			m.HTTPRequestsTotal.WithLabelValues(labels...).Inc()
			m.HTTPRequestDuration.WithLabelValues(labels...).Observe(time.Since(start).Seconds())
			return err
		}
	}
}

// Handler returns the /metrics scrape handler
func Handler() echo.HandlerFunc {
	return echo.WrapHandler(promhttp.Handler())
}
