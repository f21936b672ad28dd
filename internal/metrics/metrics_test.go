package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTimer_ObserveDurationVec(t *testing.T) {
	timer := NewTimer()
	time.Sleep(10 * time.Millisecond)

	assert.GreaterOrEqual(t, timer.Duration(), 10*time.Millisecond)

	before := testutil.CollectAndCount(JobDuration)
	timer.ObserveDurationVec(JobDuration, "timer-test")
	assert.Equal(t, before+1, testutil.CollectAndCount(JobDuration))
}

func TestHandler_ExposesCollectors(t *testing.T) {
	EventsMalformed.Inc()

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "nebula_events_malformed_total")
}
