package prometheus

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/credcore/credcore"
)

type fakeSource struct {
	snapshot credcore.MetricsSnapshot
	dropped  uint64
}

func (f fakeSource) MetricsSnapshot() credcore.MetricsSnapshot { return f.snapshot }
func (f fakeSource) AuditDropped() uint64                      { return f.dropped }

func TestCollectorSkipsDisabledMetrics(t *testing.T) {
	c := NewCollector(fakeSource{snapshot: credcore.MetricsSnapshot{}})

	// Only the audit drop counter is always present.
	if n := testutil.CollectAndCount(c); n != 1 {
		t.Fatalf("expected 1 metric for disabled engine, got %d", n)
	}
}

func TestCollectorCounters(t *testing.T) {
	c := NewCollector(fakeSource{
		snapshot: credcore.MetricsSnapshot{
			Counters: map[credcore.MetricID]uint64{
				credcore.MetricLoginSuccess:         7,
				credcore.MetricRefreshReuseDetected: 2,
			},
		},
		dropped: 3,
	})

	expected := `
# HELP credcore_login_success_total Successful logins.
# TYPE credcore_login_success_total counter
credcore_login_success_total 7
# HELP credcore_refresh_reuse_detected_total Refresh tokens presented after rotation.
# TYPE credcore_refresh_reuse_detected_total counter
credcore_refresh_reuse_detected_total 2
# HELP credcore_audit_dropped_total Audit events dropped because the dispatcher buffer was full.
# TYPE credcore_audit_dropped_total counter
credcore_audit_dropped_total 3
`
	err := testutil.CollectAndCompare(c, strings.NewReader(expected),
		"credcore_login_success_total",
		"credcore_refresh_reuse_detected_total",
		"credcore_audit_dropped_total",
	)
	if err != nil {
		t.Fatal(err)
	}
}

func TestCollectorHistogramIsCumulative(t *testing.T) {
	c := NewCollector(fakeSource{
		snapshot: credcore.MetricsSnapshot{
			Histograms: map[credcore.MetricID][]uint64{
				credcore.MetricValidateLatency: {1, 2, 3, 4, 5, 6, 7, 8},
			},
			HistogramSums: map[credcore.MetricID]time.Duration{
				credcore.MetricValidateLatency: 1500 * time.Millisecond,
			},
		},
	})

	expected := `
# HELP credcore_validate_latency_seconds Access token validation latency.
# TYPE credcore_validate_latency_seconds histogram
credcore_validate_latency_seconds_bucket{le="0.005"} 1
credcore_validate_latency_seconds_bucket{le="0.01"} 3
credcore_validate_latency_seconds_bucket{le="0.025"} 6
credcore_validate_latency_seconds_bucket{le="0.05"} 10
credcore_validate_latency_seconds_bucket{le="0.1"} 15
credcore_validate_latency_seconds_bucket{le="0.25"} 21
credcore_validate_latency_seconds_bucket{le="0.5"} 28
credcore_validate_latency_seconds_bucket{le="+Inf"} 36
credcore_validate_latency_seconds_sum 1.5
credcore_validate_latency_seconds_count 36
`
	if err := testutil.CollectAndCompare(c, strings.NewReader(expected), "credcore_validate_latency_seconds"); err != nil {
		t.Fatal(err)
	}
}

func TestHandlerServesEngine(t *testing.T) {
	engine, err := credcore.New().
		WithConfig(testEngineConfig()).
		WithRepository(nopRepository{}).
		WithNotifier(nopNotifier{}).
		Build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	defer engine.Close()

	rec := httptest.NewRecorder()
	Handler(engine).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "credcore_login_success_total 0") {
		t.Fatalf("expected zero-valued counter, got:\n%s", rec.Body.String())
	}
}
