package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func TestRegisterMetricsAndRecordersAreSafe(t *testing.T) {
	RegisterMetrics()
	RegisterMetrics()

	RecordHTTPRequest("GET", "/v0/health", 200, 3*time.Millisecond)
	RecordMutation("task_update")
	RecordBlocked()
	RecordUndo(false)
	RecordNotification("dropped")
	AddSubscribers(1)
	AddSubscribers(-1)
	RecordThrottled()

	families, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	found := false
	for _, mf := range families {
		if mf.GetName() == "taskboard_engine_blocked_transitions_total" {
			found = true
		}
	}
	if !found {
		t.Fatalf("blocked transitions counter not registered")
	}
}
