package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	return string(body)
}

func TestMetrics_Exposition(t *testing.T) {
	m := New()

	m.RecordAcquisition("acquired")
	m.RecordAcquisition("cached")
	m.RecordAcquisition("cached")
	m.RecordUpstream("branches", http.StatusOK)
	m.RecordUpstream("property", http.StatusUnauthorized)
	m.SetTokenExpiry(time.Now().Add(time.Hour))
	m.ObserveRequest("properties", 120*time.Millisecond)

	out := scrape(t, m)

	assert.Contains(t, out, `vebra_token_acquisitions_total{result="acquired"} 1`)
	assert.Contains(t, out, `vebra_token_acquisitions_total{result="cached"} 2`)
	assert.Contains(t, out, `vebra_upstream_requests_total{resource="branches",status="200"} 1`)
	assert.Contains(t, out, `vebra_upstream_requests_total{resource="property",status="401"} 1`)
	assert.Contains(t, out, `vebra_token_cached 1`)
	assert.Contains(t, out, `vebra_request_duration_seconds_count{endpoint="properties"} 1`)
}

func TestMetrics_TokenCachedGauge(t *testing.T) {
	m := New()
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return now }

	assert.Contains(t, scrape(t, m), "vebra_token_cached 0", "nothing cached yet")

	m.SetTokenExpiry(now.Add(55 * time.Minute))
	assert.Contains(t, scrape(t, m), "vebra_token_cached 1")

	m.SetTokenExpiry(time.Time{})
	assert.Contains(t, scrape(t, m), "vebra_token_cached 0", "cleared")
}

func TestMetrics_TokenCachedGaugeDropsOnExpiry(t *testing.T) {
	m := New()
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return now }

	m.SetTokenExpiry(now.Add(55 * time.Minute))
	require.Contains(t, scrape(t, m), "vebra_token_cached 1")

	now = now.Add(55 * time.Minute)
	assert.Contains(t, scrape(t, m), "vebra_token_cached 0", "expired token is not counted as cached")
}
