package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestPrometheusHandler_ExposesSnapshot(t *testing.T) {
	m := New()
	m.Inc(MessagesProcessed)
	m.Add(QueueFullDrops, 2)
	m.Inc(`quote"back\slash`)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rr := httptest.NewRecorder()

	PrometheusHandler(m).ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d, want %d", rr.Code, http.StatusOK)
	}

	body := rr.Body.String()
	if !strings.Contains(body, "# TYPE redrtc_signaling_events_total counter") {
		t.Fatalf("missing TYPE header: %s", body)
	}
	if !strings.Contains(body, `redrtc_signaling_events_total{event="queue_full_drops"} 2`) {
		t.Fatalf("missing queue_full_drops counter: %s", body)
	}
	if !strings.Contains(body, `redrtc_signaling_events_total{event="messages_processed"} 1`) {
		t.Fatalf("missing messages_processed counter: %s", body)
	}
	// Ensure label escaping matches Prometheus text format rules.
	if !strings.Contains(body, `redrtc_signaling_events_total{event="quote\"back\\slash"} 1`) {
		t.Fatalf("missing escaped counter: %s", body)
	}
}

func TestMetrics_AddZeroIsNoop(t *testing.T) {
	m := New()
	m.Add(MessagesProcessed, 0)

	if got := m.Get(MessagesProcessed); got != 0 {
		t.Fatalf("count=%d, want 0", got)
	}
	if snap := m.Snapshot(); len(snap) != 0 {
		t.Fatalf("snapshot has %d entries, want 0", len(snap))
	}
}
