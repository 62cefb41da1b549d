package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Counters(t *testing.T) {
	m := New()

	m.DeploymentFinished("website", true)
	m.DeploymentFinished("website", false)
	m.DeploymentFinished("website", true)
	m.Retry("github")
	m.RunStarted()
	m.RunStarted()
	m.RunFinished()
	m.DNSVerification(true)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.deploymentsTotal.WithLabelValues("website", "succeeded")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.deploymentsTotal.WithLabelValues("website", "failed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.retriesTotal.WithLabelValues("github")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.activeRuns))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.dnsVerifications.WithLabelValues("verified")))
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.DeploymentFinished("website", true)
		m.ObserveStage("dns", "succeeded", time.Second)
		m.Retry("railway")
		m.RunStarted()
		m.RunFinished()
		m.DNSVerification(false)
	})
	assert.Nil(t, m.Registry())
}

func TestMetrics_Handler(t *testing.T) {
	m := New()
	m.ObserveStage("compute", "succeeded", 3*time.Second)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `shipyard_deployments_stage_duration_seconds_count{stage="compute",state="succeeded"} 1`)
}
