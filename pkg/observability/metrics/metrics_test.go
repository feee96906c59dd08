package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"
)

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	m := &dto.Metric{}
	require.NoError(t, c.Write(m))
	return m.GetCounter().GetValue()
}

func TestCounters(t *testing.T) {
	before := counterValue(t, recordsCounter.WithLabelValues("weight"))
	AddRecords("weight", 3)
	AddRecords("weight", 0)
	require.Equal(t, before+3, counterValue(t, recordsCounter.WithLabelValues("weight")))

	lost := counterValue(t, lostBatchesCounter)
	IncLostBatch()
	require.Equal(t, lost+1, counterValue(t, lostBatchesCounter))

	jobs := counterValue(t, importsCounter.WithLabelValues("partial", "fitbit"))
	ObserveImport("partial", "fitbit", 2*time.Second)
	require.Equal(t, jobs+1, counterValue(t, importsCounter.WithLabelValues("partial", "fitbit")))
}

func TestHandlerExposesImportMetrics(t *testing.T) {
	IncAbandoned()
	rr := httptest.NewRecorder()
	Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	require.True(t, strings.Contains(rr.Body.String(), "healthtrack_import_abandoned_jobs_total"))
}
