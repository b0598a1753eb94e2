package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCountersAreRegistered(t *testing.T) {
	before := testutil.ToFloat64(RecordsParsed.WithLabelValues("fixed", StatusRejected))
	RecordsParsed.WithLabelValues("fixed", StatusRejected).Inc()
	assert.Equal(t, before+1, testutil.ToFloat64(RecordsParsed.WithLabelValues("fixed", StatusRejected)))

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 200, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "quasar_records_parsed_total"))
}

func TestThroughputTracker(t *testing.T) {
	tracker := NewThroughputTracker("reader_1")
	tracker.Increment(10)
	tracker.Increment(5)
	time.Sleep(5 * time.Millisecond)

	rps := tracker.GetAndReset()
	assert.Greater(t, rps, 0.0)
	assert.Equal(t, int64(15), tracker.Total())
	assert.Greater(t, testutil.ToFloat64(Throughput.WithLabelValues("reader_1")), 0.0)
}

func TestTimer(t *testing.T) {
	timer := NewTimer()
	time.Sleep(time.Millisecond)
	assert.GreaterOrEqual(t, timer.Stop(), time.Millisecond)
}
