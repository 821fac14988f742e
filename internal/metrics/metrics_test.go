package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestCanonicalPath(t *testing.T) {
	tests := map[string]string{
		"":                                        "/",
		"/":                                       "/",
		"/api/establishments":                     "/api/establishments",
		"/api/establishments/le-petit-bar":        "/api/establishments/:slug",
		"/api/pro/establishments/12/analytics":    "/api/pro/establishments/:id/analytics",
		"/api/messaging/conversations/3/messages": "/api/messaging/conversations/:id/messages",
		"/api/professionals/siret/73282932000074": "/api/professionals/siret/:siret",
		"/wp-login.php":                           Unmatched,
		"/foo/a8f3c2":                             Unmatched,
	}
	for in, want := range tests {
		assert.Equal(t, want, CanonicalPath(in), in)
	}
}

func TestInstrumentHandler(t *testing.T) {
	h := InstrumentHandler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
	}))
	before := testutil.ToFloat64(httpRequests.WithLabelValues("POST", "/api/analytics/track", "201"))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/api/analytics/track", nil))
	after := testutil.ToFloat64(httpRequests.WithLabelValues("POST", "/api/analytics/track", "201"))
	assert.Equal(t, before+1, after)
	assert.Equal(t, float64(0), testutil.ToFloat64(httpInFlight))
}

func TestInstrumentHandlerFoldsNotFound(t *testing.T) {
	h := InstrumentHandler(http.NotFoundHandler())
	before := testutil.ToFloat64(httpRequests.WithLabelValues("GET", Unmatched, "404"))
	series := testutil.CollectAndCount(httpRequests)
	for _, path := range []string{"/api/x1", "/api/x2/y", "/.env"} {
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))
	}
	assert.Equal(t, before+3, testutil.ToFloat64(httpRequests.WithLabelValues("GET", Unmatched, "404")))
	assert.Equal(t, series, testutil.CollectAndCount(httpRequests))
}

func TestBusinessCounters(t *testing.T) {
	before := testutil.ToFloat64(clicksTracked.WithLabelValues("phone"))
	ClickTracked("phone")
	assert.Equal(t, before+1, testutil.ToFloat64(clicksTracked.WithLabelValues("phone")))

	beforeErr := testutil.ToFloat64(integrationCalls.WithLabelValues("sirene", "error"))
	IntegrationCall("sirene", errors.New("timeout"))
	assert.Equal(t, beforeErr+1, testutil.ToFloat64(integrationCalls.WithLabelValues("sirene", "error")))

	RecordJob("purge_clicks", 10*time.Millisecond, true)
	assert.Equal(t, float64(1), testutil.ToFloat64(jobRuns.WithLabelValues("purge_clicks", "true")))
}

func TestHandlerExposesRegistry(t *testing.T) {
	EventDropped()
	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "envie2sortir_events_dropped_total")
}
