package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"taskbot/internal/task"
)

func TestTaskCounters(t *testing.T) {
	t.Parallel()
	m := New()
	m.ObserveExecution(task.AuditChannelMessage, task.StatusCompleted, 120*time.Millisecond)
	m.ObserveExecution(task.AuditChannelMessage, task.StatusCompleted, 0)
	m.ObserveExecution(task.AuditRandomDM, task.StatusFailed, time.Second)
	m.ObserveRateLimited("image")
	m.ObserveDesyncRepair("read")

	if got := testutil.ToFloat64(m.executions.WithLabelValues(task.AuditChannelMessage, "completed")); got != 2 {
		t.Fatalf("completed channel_message = %v", got)
	}
	if got := testutil.ToFloat64(m.rateLimited.WithLabelValues("image")); got != 1 {
		t.Fatalf("rate limited = %v", got)
	}
	if got := testutil.ToFloat64(m.desync.WithLabelValues("read")); got != 1 {
		t.Fatalf("desync = %v", got)
	}
}

func TestHandlerExposesGauges(t *testing.T) {
	t.Parallel()
	m := New()
	if err := m.GaugeFunc("scheduler_armed_jobs", "Armed job keys.", func() float64 { return 3 }); err != nil {
		t.Fatalf("GaugeFunc: %v", err)
	}
	m.ObserveHTTP("GET", "/api/v1/tasks", 200, 10*time.Millisecond, 512)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	for _, want := range []string{
		"taskbot_scheduler_armed_jobs 3",
		`http_requests_total{method="GET",path="/api/v1/tasks",status="200"} 1`,
		"go_goroutines",
	} {
		if !strings.Contains(string(body), want) {
			t.Fatalf("exposition missing %q", want)
		}
	}
}
