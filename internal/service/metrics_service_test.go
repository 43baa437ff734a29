package service

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsServiceSnapshot(t *testing.T) {
	m := NewMetricsService()
	m.RecordCacheOperation(true, time.Millisecond)
	m.RecordCacheOperation(false, time.Millisecond)
	m.RecordCacheOperation(true, time.Millisecond)
	m.ObserveHTTPRequest(http.MethodGet, "/students", http.StatusOK, 10*time.Millisecond)
	m.RecordEnrollment(true)
	m.RecordEnrollment(false)
	m.RecordEnrollment(false)

	snap := m.Snapshot()
	assert.Equal(t, uint64(2), snap.CacheHits)
	assert.Equal(t, uint64(1), snap.CacheMisses)
	assert.InDelta(t, 0.666, snap.CacheHitRatio, 0.01)
	assert.Equal(t, uint64(1), snap.RequestsTotal)
	assert.InDelta(t, 10.0, snap.AverageRequestDurationMs, 0.001)
	assert.Equal(t, uint64(1), snap.EnrollmentsAccepted)
	assert.Equal(t, uint64(2), snap.EnrollmentsRejected)
}

func TestMetricsServiceHandlerExposesCollectors(t *testing.T) {
	m := NewMetricsService()
	m.RecordEvaluation("APROVADO")
	m.RecordReportJob("ranking", "FINISHED")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.True(t, strings.Contains(body, `enrollment_evaluations_total{status="APROVADO"} 1`))
	assert.True(t, strings.Contains(body, `report_jobs_total{status="FINISHED",type="ranking"} 1`))
}

func TestMetricsServiceNilSafe(t *testing.T) {
	var m *MetricsService
	m.RecordEnrollment(true)
	m.RecordCacheOperation(true, time.Millisecond)
	assert.Equal(t, MetricsSnapshot{}, m.Snapshot())

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
