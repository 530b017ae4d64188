package httpadmin

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rwkvcore/scheduler/internal/metrics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeHealth struct{ busy, total int }

func (f fakeHealth) BusySlotCount() int { return f.busy }
func (f fakeHealth) SlotCount() int     { return f.total }

func newTestRouter(health HealthReporter) *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/healthz", healthHandler(health)).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.HandlerFor(metrics.Registry(), promhttp.HandlerOpts{})).Methods(http.MethodGet)
	return r
}

func TestHealthzReportsSlotOccupancy(t *testing.T) {
	r := newTestRouter(fakeHealth{busy: 2, total: 8})

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var status healthStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.True(t, status.OK)
	assert.Equal(t, 2, status.BusySlots)
	assert.Equal(t, 8, status.SlotCount)
}

func TestHealthzWithNilReporter(t *testing.T) {
	r := newTestRouter(nil)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var status healthStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.True(t, status.OK)
}

func TestMetricsEndpointServesPrometheusExposition(t *testing.T) {
	metrics.GetOrRegisterCounter("test/httpadmin/probe", nil).Inc(1)

	r := newTestRouter(nil)
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "test_httpadmin_probe")
}
