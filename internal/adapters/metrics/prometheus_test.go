package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/viralforge/mesh/services/integrations/affiliate-settlement-service/internal/ports"
)

func TestCollectorRecordsPayoutRuns(t *testing.T) {
	t.Parallel()
	c := NewCollector()
	c.ObserveRun(ports.PayoutRunStats{Processed: 2, Skipped: 1, Failed: 1, PaidCents: 4100, Duration: time.Second, Outcome: "partial"})
	c.ObserveSkip("below_minimum_payout")
	c.ObserveTransfer("success", 4100)
	c.ObserveTransfer("failure", 900)

	if got := testutil.ToFloat64(c.runsTotal.WithLabelValues("partial")); got != 1 {
		t.Fatalf("expected one partial run, got %v", got)
	}
	if got := testutil.ToFloat64(c.affiliatesTotal.WithLabelValues("processed")); got != 2 {
		t.Fatalf("expected two processed affiliates, got %v", got)
	}
	if got := testutil.ToFloat64(c.paidCentsTotal); got != 4100 {
		t.Fatalf("failed transfers must not count as paid, got %v", got)
	}
	if got := testutil.ToFloat64(c.skipsTotal.WithLabelValues("below_minimum_payout")); got != 1 {
		t.Fatalf("expected one skip, got %v", got)
	}
}

func TestMiddlewareLabelsByRoutePattern(t *testing.T) {
	t.Parallel()
	c := NewCollector()
	r := chi.NewRouter()
	r.Use(c.Middleware)
	r.Get("/v1/referrals/{code}", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusNotFound) })
	r.Method(http.MethodGet, "/metrics", c.Handler())

	for _, code := range []string{"ALPHA", "BRAVO"} {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/v1/referrals/"+code, nil))
	}
	if got := testutil.ToFloat64(c.httpRequests.WithLabelValues(http.MethodGet, "/v1/referrals/{code}", "404")); got != 2 {
		t.Fatalf("expected both requests under one route label, got %v", got)
	}

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if !strings.Contains(rec.Body.String(), "http_requests_total") {
		t.Fatalf("metrics endpoint should expose http_requests_total")
	}
}
