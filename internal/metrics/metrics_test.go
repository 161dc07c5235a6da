package metrics

import (
	"bytes"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"openqr/internal/domain"
	"openqr/internal/history"
)

func TestLabelsString(t *testing.T) {
	assert.Equal(t, "", Labels(nil).String())
	assert.Equal(t, `{a="1",b="x"}`, Labels{"b": "x", "a": "1"}.String())
}

func TestRegistryReturnsExisting(t *testing.T) {
	r := NewRegistry("openqr")
	c1 := r.Counter("hits_total", "h", nil)
	c2 := r.Counter("hits_total", "h", nil)
	assert.Same(t, c1, c2)

	a := r.Counter("hits_total", "h", Labels{"k": "a"})
	assert.NotSame(t, c1, a)
}

func TestCounterConcurrent(t *testing.T) {
	c := NewRegistry("").Counter("n", "n", nil)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 1000; j++ {
				c.Inc()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, uint64(8000), c.Value())
}

func TestHistogramBuckets(t *testing.T) {
	r := NewRegistry("")
	h := r.Histogram("lat", "latency", nil, []float64{1, 0.1})
	h.Observe(0.05)
	h.Observe(0.1)
	h.Observe(0.5)
	h.Observe(5)

	var buf bytes.Buffer
	require.NoError(t, r.WritePrometheus(&buf))
	out := buf.String()
	assert.Contains(t, out, "# TYPE lat histogram\n")
	assert.Contains(t, out, `lat_bucket{le="0.1"} 2`)
	assert.Contains(t, out, `lat_bucket{le="1"} 3`)
	assert.Contains(t, out, `lat_bucket{le="+Inf"} 4`)
	assert.Contains(t, out, "lat_count 4\n")
	assert.Equal(t, uint64(4), h.Count())
	assert.InDelta(t, 5.65, h.Sum(), 1e-9)
}

func TestHistogramObserveDuration(t *testing.T) {
	h := NewRegistry("").Histogram("write", "write time", nil, DurationBuckets)
	h.ObserveDuration(250 * time.Millisecond)
	h.Since(time.Now().Add(-time.Second))

	assert.Equal(t, uint64(2), h.Count())
	assert.GreaterOrEqual(t, h.Sum(), 1.25)
}

func TestWritePrometheusGroupsLabels(t *testing.T) {
	r := NewRegistry("openqr")
	r.Counter("rejected_total", "Rejections.", Labels{"reason": "b"}).Add(2)
	r.Counter("rejected_total", "Rejections.", Labels{"reason": "a"}).Inc()
	r.Gauge("up", "Up.", nil).SetBool(true)

	var buf bytes.Buffer
	require.NoError(t, r.WritePrometheus(&buf))
	want := "# HELP openqr_rejected_total Rejections.\n" +
		"# TYPE openqr_rejected_total counter\n" +
		"openqr_rejected_total{reason=\"a\"} 1\n" +
		"openqr_rejected_total{reason=\"b\"} 2\n" +
		"# HELP openqr_up Up.\n" +
		"# TYPE openqr_up gauge\n" +
		"openqr_up 1\n"
	assert.Equal(t, want, buf.String())
}

func TestScannerRejected(t *testing.T) {
	s := NewScanner(NewRegistry("openqr"))

	s.Rejected(&domain.Error{Kind: domain.ErrBlocked, Domain: "evil.com"})
	s.Rejected(&domain.Error{Kind: domain.ErrBlocked, Domain: "evil.com"})
	s.Rejected(&domain.Error{Kind: domain.ErrNoDomain})
	s.Rejected(fmt.Errorf("record scan: %w", history.ErrStorage))
	s.Rejected(fmt.Errorf("unrelated"))

	assert.Equal(t, uint64(2), s.RejectedCount(ReasonBlocked))
	assert.Equal(t, uint64(1), s.RejectedCount(ReasonNoDomain))
	assert.Equal(t, uint64(0), s.RejectedCount(ReasonNotAllowlisted))
	assert.Equal(t, uint64(1), s.StorageErrors.Value())

	s.HistoryWrite.Since(time.Now())
	snap := s.Registry.Snapshot()
	assert.Equal(t, int64(2), snap[`openqr_scans_rejected_total{reason="blocked"}`])
	assert.Equal(t, int64(1), snap["openqr_history_write_seconds_count"])
}
