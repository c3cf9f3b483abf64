package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestPrometheusRecorder(t *testing.T) {
	var r Recorder = Prometheus{}

	before := testutil.ToFloat64(identifications.WithLabelValues("confirmed"))
	r.Identify("confirmed", 20*time.Millisecond)
	assert.Equal(t, before+1, testutil.ToFloat64(identifications.WithLabelValues("confirmed")))

	before = testutil.ToFloat64(probes.WithLabelValues("traverse", "accepted"))
	r.Probe("traverse", "accepted")
	assert.Equal(t, before+1, testutil.ToFloat64(probes.WithLabelValues("traverse", "accepted")))

	before = testutil.ToFloat64(sessions.WithLabelValues("timeout"))
	r.Session("timeout")
	assert.Equal(t, before+1, testutil.ToFloat64(sessions.WithLabelValues("timeout")))
}

func TestRecordCacheLookup(t *testing.T) {
	hits := testutil.ToFloat64(cacheLookups.WithLabelValues("hit"))
	misses := testutil.ToFloat64(cacheLookups.WithLabelValues("miss"))
	RecordCacheLookup(true)
	RecordCacheLookup(false)
	RecordCacheLookup(false)
	assert.Equal(t, hits+1, testutil.ToFloat64(cacheLookups.WithLabelValues("hit")))
	assert.Equal(t, misses+2, testutil.ToFloat64(cacheLookups.WithLabelValues("miss")))
}

func TestNop(t *testing.T) {
	var r Recorder = Nop{}
	r.Identify("unknown", time.Second)
	r.Probe("confirm", "rejected")
	r.Session("start")
}
