package metrics_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/aurumvault/gold-ledger/internal/metrics"
)

func TestMiddlewareUsesRoutePattern(t *testing.T) {
	r := chi.NewRouter()
	r.Use(metrics.Middleware)
	r.Get("/owners/{ownerID}/balance", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	counter := metrics.HTTPRequestsTotal.WithLabelValues("GET", "/owners/{ownerID}/balance", "418")
	before := testutil.ToFloat64(counter)

	for _, owner := range []string{"alice", "bob"} {
		req := httptest.NewRequest(http.MethodGet, "/owners/"+owner+"/balance", nil)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		if w.Code != http.StatusTeapot {
			t.Fatalf("expected 418, got %d", w.Code)
		}
	}

	if got := testutil.ToFloat64(counter) - before; got != 2 {
		t.Errorf("expected 2 requests under the route pattern, got %v", got)
	}
}

func TestMiddlewareDefaultsToOK(t *testing.T) {
	h := metrics.Middleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("ok"))
	}))

	counter := metrics.HTTPRequestsTotal.WithLabelValues("GET", "/health", "200")
	before := testutil.ToFloat64(counter)

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/health", nil))

	if got := testutil.ToFloat64(counter) - before; got != 1 {
		t.Errorf("expected 1 request, got %v", got)
	}
}
