package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/training-status/internal/progress"
)

func TestObservePublish(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.ObservePublish(progress.ResultSuccess, 2*time.Millisecond)
	m.ObservePublish(progress.ResultSuccess, 3*time.Millisecond)
	m.ObservePublish(progress.ResultFailure, time.Millisecond)
	m.ObserveDrop()

	assert.InDelta(t, 2, testutil.ToFloat64(m.publishesTotal.WithLabelValues(progress.ResultSuccess)), 1e-9)
	assert.InDelta(t, 1, testutil.ToFloat64(m.publishesTotal.WithLabelValues(progress.ResultFailure)), 1e-9)
	assert.InDelta(t, 1, testutil.ToFloat64(m.droppedTotal), 1e-9)
	assert.Equal(t, 1, testutil.CollectAndCount(m.publishDurationSeconds))
}

func TestNilMetricsIsInert(t *testing.T) {
	var m *Metrics
	m.ObservePublish(progress.ResultSuccess, time.Millisecond)
	m.ObserveDrop()
	m.ObserveHTTPRequest("GET", "/", 200, time.Millisecond)
}

func TestMiddleware(t *testing.T) {
	m := New(prometheus.NewRegistry())
	r := chi.NewRouter()
	r.Use(m.Middleware)
	r.Get("/test", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	r.Get("/notfound", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	for _, path := range []string{"/test", "/notfound"} {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	}

	assert.InDelta(t, 1, testutil.ToFloat64(m.httpRequestsTotal.WithLabelValues("GET", "200")), 1e-9)
	assert.InDelta(t, 1, testutil.ToFloat64(m.httpRequestsTotal.WithLabelValues("GET", "404")), 1e-9)
	assert.Equal(t, 2, testutil.CollectAndCount(m.httpRequestDurationSeconds))
}

func TestHandlerExposesRegistry(t *testing.T) {
	m := New(Registry())
	m.ObserveDrop()

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer func() {
		if errInner := resp.Body.Close(); errInner != nil {
			t.Log(errInner)
		}
	}()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	text := string(body)
	assert.True(t, strings.Contains(text, "status_snapshots_dropped_total 1"), text)
	assert.Contains(t, text, "go_goroutines")
}
