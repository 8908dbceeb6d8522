package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"parley/cmd/internal/auth/session"
	"parley/cmd/internal/chat"
)

var (
	_ session.Observer = (*Collector)(nil)
	_ chat.Observer    = (*Collector)(nil)
)

func family(t *testing.T, reg *prometheus.Registry, name string) *dto.MetricFamily {
	t.Helper()
	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	for _, mf := range mfs {
		if mf.GetName() == name {
			return mf
		}
	}
	t.Fatalf("metric %s not found", name)
	return nil
}

func labeled(mf *dto.MetricFamily, name, value string) *dto.Metric {
	for _, m := range mf.GetMetric() {
		for _, lp := range m.GetLabel() {
			if lp.GetName() == name && lp.GetValue() == value {
				return m
			}
		}
	}
	return nil
}

func TestCollector_Rotations(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RotationOutcome("rotated")
	c.RotationOutcome("rotated")
	c.RotationOutcome("reuse_detected")
	c.LineageRevoked("reuse_detected", 3)

	mf := family(t, reg, "parley_token_rotations_total")
	if got := labeled(mf, "outcome", "rotated").GetCounter().GetValue(); got != 2 {
		t.Errorf("rotated = %v, want 2", got)
	}
	if got := labeled(mf, "outcome", "reuse_detected").GetCounter().GetValue(); got != 1 {
		t.Errorf("reuse_detected = %v, want 1", got)
	}

	entries := family(t, reg, "parley_lineage_revoked_entries_total")
	if got := entries.GetMetric()[0].GetCounter().GetValue(); got != 3 {
		t.Errorf("revoked entries = %v, want 3", got)
	}
}

func TestCollector_Streams(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.StreamStarted()
	c.StreamStarted()
	if got := family(t, reg, "parley_streams_active").GetMetric()[0].GetGauge().GetValue(); got != 2 {
		t.Fatalf("active = %v, want 2", got)
	}

	c.StreamFinished("completed", 12, 300*time.Millisecond)
	c.StreamFinished("timeout", 3, 2*time.Minute)

	if got := family(t, reg, "parley_streams_active").GetMetric()[0].GetGauge().GetValue(); got != 0 {
		t.Errorf("active = %v, want 0", got)
	}
	finished := family(t, reg, "parley_streams_finished_total")
	if got := labeled(finished, "outcome", "timeout").GetCounter().GetValue(); got != 1 {
		t.Errorf("timeout = %v, want 1", got)
	}
	h := family(t, reg, "parley_stream_fragments").GetMetric()[0].GetHistogram()
	if h.GetSampleCount() != 2 || h.GetSampleSum() != 15 {
		t.Errorf("fragments count=%d sum=%v, want 2 and 15", h.GetSampleCount(), h.GetSampleSum())
	}
}

func TestHandler_ServesMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)
	c.RecordHTTP(http.MethodPost, http.StatusTooManyRequests, 5*time.Millisecond)

	w := httptest.NewRecorder()
	Handler(reg).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	resp := w.Result()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), `parley_http_requests_total{method="POST",status_code="429"} 1`) {
		t.Errorf("missing http counter in:\n%s", body)
	}
}
