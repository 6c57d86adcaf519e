package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNilMetricsAreNoops(t *testing.T) {
	t.Parallel()

	var m *Metrics
	m.ConnectionOpened()
	m.ConnectionClosed()
	m.PresenceTransition(true)
	m.DeliveryDropped()
	m.Message("TEXT", "sent")
	m.ModerationVerdict("allowed")
	m.Transition("PENDING", "TRIAL")
	m.CallEvent("initiated")
}

func TestRecording(t *testing.T) {
	t.Parallel()

	m := New()
	m.ConnectionOpened()
	m.ConnectionOpened()
	m.ConnectionClosed()
	m.Message("TEXT", "blocked")
	m.Transition("PENDING", "TRIAL")

	if got := testutil.ToFloat64(m.Connections); got != 1 {
		t.Fatalf("expected 1 connection, got %v", got)
	}
	if got := testutil.ToFloat64(m.Messages.WithLabelValues("TEXT", "blocked")); got != 1 {
		t.Fatalf("expected 1 blocked message, got %v", got)
	}

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), "counsel_consultation_transitions_total") {
		t.Fatalf("expected transitions metric in exposition output")
	}
}
