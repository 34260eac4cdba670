package telemetry

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetrics_NilSafe(t *testing.T) {
	t.Parallel()

	var m *Metrics
	m.ConnOpened("chat")
	m.ConnClosed("chat")
	m.MessagePersisted("ws")
	m.Delivered(1, 1)
	m.RateLimited("ws_send")
	m.Notification("push", "sent")
	m.QueueDropped()
}

func TestMetrics_Records(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	m, err := New(reg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	m.ConnOpened("chat")
	m.ConnOpened("chat")
	m.ConnClosed("chat")
	m.RateLimited("ws_send")
	m.Notification("email", "failed")
	m.Delivered(3, 1)

	if got := testutil.ToFloat64(m.connections.WithLabelValues("chat")); got != 1 {
		t.Fatalf("connections=%v want=1", got)
	}
	if got := testutil.ToFloat64(m.rateLimited.WithLabelValues("ws_send")); got != 1 {
		t.Fatalf("rate_limited=%v want=1", got)
	}
	if got := testutil.ToFloat64(m.notifications.WithLabelValues("email", "failed")); got != 1 {
		t.Fatalf("notifications=%v want=1", got)
	}
	if got := testutil.ToFloat64(m.deliveries.WithLabelValues("sent")); got != 3 {
		t.Fatalf("deliveries sent=%v want=3", got)
	}

	if _, err := New(reg); err == nil {
		t.Fatalf("expected duplicate registration error")
	}
}
