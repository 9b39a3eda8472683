package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	m.SetPoolStats(1, 2, 0.5)
	m.ObserveTask("succeeded", time.Second)
	m.ConnectionOpened("event")
	m.ConnectionClosed("event")
	m.MessageReceived("event")
	m.Push("sent")
	m.ObserveDispatchDelay(time.Second)
	m.Error("routing")
	if m.Registry() != nil {
		t.Fatal("Registry() on nil Metrics should be nil")
	}
}

func TestMetrics_Record(t *testing.T) {
	m := New(WithNamespace("test"))

	m.SetPoolStats(3, 7, 0.75)
	if got := testutil.ToFloat64(m.poolUtilization); got != 0.75 {
		t.Fatalf("utilization = %v, want 0.75", got)
	}
	if got := testutil.ToFloat64(m.poolQueued); got != 7 {
		t.Fatalf("queued = %v, want 7", got)
	}

	m.ObserveTask("cancelled", 2*time.Second)
	m.ObserveTask("cancelled", 0)
	if got := testutil.ToFloat64(m.tasksTotal.WithLabelValues("cancelled")); got != 2 {
		t.Fatalf("tasks_total{cancelled} = %v, want 2", got)
	}

	m.ConnectionOpened("function")
	m.ConnectionOpened("function")
	m.ConnectionClosed("function")
	if got := testutil.ToFloat64(m.connections.WithLabelValues("function")); got != 1 {
		t.Fatalf("connections{function} = %v, want 1", got)
	}

	m.Error("")
	if got := testutil.ToFloat64(m.errorsTotal.WithLabelValues("unknown")); got != 1 {
		t.Fatalf("errors_total{unknown} = %v, want 1", got)
	}
}

func TestMetrics_Handler(t *testing.T) {
	m := New()
	m.Push("no_client")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body := rec.Body.String()
	if !strings.Contains(body, `eventbroker_pushes_total{outcome="no_client"} 1`) {
		t.Fatalf("metrics output missing push counter:\n%s", body)
	}
}

func TestMetrics_SeparateRegistries(t *testing.T) {
	// Two instances must not collide on registration.
	_ = New()
	_ = New()
}
