package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/viralforge/mesh/services/integrations/affiliate-settlement-service/internal/ports"
)

type Collector struct {
	registry *prometheus.Registry

	runsTotal        *prometheus.CounterVec
	runDuration      prometheus.Histogram
	affiliatesTotal  *prometheus.CounterVec
	skipsTotal       *prometheus.CounterVec
	transfersTotal   *prometheus.CounterVec
	paidCentsTotal   prometheus.Counter
	httpRequests     *prometheus.CounterVec
	httpResponseTime *prometheus.HistogramVec
}

func NewCollector() *Collector {
	reg := prometheus.NewRegistry()
	reg.MustRegister(prometheus.NewGoCollector(), prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))
	factory := promauto.With(reg)
	return &Collector{
		registry: reg,
		runsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "affiliate_payout_runs_total",
			Help: "Payout batch runs by outcome.",
		}, []string{"outcome"}),
		runDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "affiliate_payout_run_duration_seconds",
			Help:    "Wall time of payout batch runs.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
		}),
		affiliatesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "affiliate_payout_affiliates_total",
			Help: "Affiliates considered per run by result.",
		}, []string{"result"}),
		skipsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "affiliate_payout_skips_total",
			Help: "Eligibility skips by reason.",
		}, []string{"reason"}),
		transfersTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "affiliate_payout_transfers_total",
			Help: "External transfers by outcome.",
		}, []string{"outcome"}),
		paidCentsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "affiliate_payout_paid_cents_total",
			Help: "Cents transferred and committed.",
		}),
		httpRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "route", "status"}),
		httpResponseTime: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_response_time_seconds",
			Help:    "Histogram of response times",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
}

func (c *Collector) ObserveRun(stats ports.PayoutRunStats) {
	c.runsTotal.WithLabelValues(stats.Outcome).Inc()
	c.runDuration.Observe(stats.Duration.Seconds())
	c.affiliatesTotal.WithLabelValues("processed").Add(float64(stats.Processed))
	c.affiliatesTotal.WithLabelValues("skipped").Add(float64(stats.Skipped))
	c.affiliatesTotal.WithLabelValues("failed").Add(float64(stats.Failed))
}

func (c *Collector) ObserveSkip(reason string) {
	c.skipsTotal.WithLabelValues(reason).Inc()
}

func (c *Collector) ObserveTransfer(outcome string, amountCents int64) {
	c.transfersTotal.WithLabelValues(outcome).Inc()
	if outcome == "success" && amountCents > 0 {
		c.paidCentsTotal.Add(float64(amountCents))
	}
}

func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

// Middleware labels requests by chi route pattern to keep cardinality bounded.
func (c *Collector) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				route = pattern
			}
		}
		c.httpRequests.WithLabelValues(r.Method, route, strconv.Itoa(rec.status)).Inc()
		c.httpResponseTime.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

var _ ports.PayoutMetrics = (*Collector)(nil)
