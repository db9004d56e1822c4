package observability

import (
	"context"
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/xraph/courier/queue"
)

func scrape(t *testing.T, e *Exporter) string {
	t.Helper()
	srv := httptest.NewServer(e.Handler())
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	if err != nil {
		t.Fatalf("scrape: %v", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	return string(body)
}

func TestMetricsExportDeliveries(t *testing.T) {
	exp, err := NewExporter()
	if err != nil {
		t.Fatalf("NewExporter: %v", err)
	}
	defer exp.Shutdown(context.Background()) //nolint:errcheck

	ctx := context.Background()
	m := NewMetrics(nil, exp)
	m.RecordTrigger(ctx, "user.created", 2)
	m.AttemptStarted(ctx)
	m.RecordDelivery(ctx, "delivered", 0.12)
	m.AttemptFinished(ctx)
	m.RecordDelivery(ctx, "retrying", 0.5)

	out := scrape(t, exp)
	for _, want := range []string{
		"courier_deliveries_total",
		`status="delivered"`,
		`status="retrying"`,
		"courier_events_triggered_total",
		`event_type="user.created"`,
		"courier_delivery_latency_seconds",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("scrape output missing %q", want)
		}
	}
}

func TestObserveQueueAndLogs(t *testing.T) {
	exp, err := NewExporter()
	if err != nil {
		t.Fatalf("NewExporter: %v", err)
	}
	defer exp.Shutdown(context.Background()) //nolint:errcheck

	err = exp.ObserveQueue(func(context.Context) (queue.Stats, error) {
		return queue.Stats{Waiting: 3, Delayed: 1}, nil
	})
	if err != nil {
		t.Fatalf("ObserveQueue: %v", err)
	}
	err = exp.ObserveLogs(func(context.Context) (map[string]int64, error) {
		return map[string]int64{"failed": 7}, nil
	})
	if err != nil {
		t.Fatalf("ObserveLogs: %v", err)
	}

	out := scrape(t, exp)
	if !strings.Contains(out, `courier_queue_jobs{`) || !strings.Contains(out, `state="waiting"`) {
		t.Errorf("queue gauge missing from output:\n%s", out)
	}
	if !strings.Contains(out, `status="failed"`) {
		t.Errorf("log gauge missing from output:\n%s", out)
	}
}

func TestObserveCallbackError(t *testing.T) {
	exp, err := NewExporter()
	if err != nil {
		t.Fatalf("NewExporter: %v", err)
	}
	defer exp.Shutdown(context.Background()) //nolint:errcheck

	if err := exp.ObserveLogs(func(context.Context) (map[string]int64, error) {
		return nil, errors.New("store down")
	}); err != nil {
		t.Fatalf("ObserveLogs: %v", err)
	}

	// A failing callback must not break the scrape of other instruments.
	NewMetrics(nil, exp).RecordDelivery(context.Background(), "failed", 0)
	if out := scrape(t, exp); !strings.Contains(out, "courier_deliveries_total") {
		t.Errorf("deliveries counter missing:\n%s", out)
	}
}

func TestNilMetricsAreNoOps(t *testing.T) {
	var m *Metrics
	ctx := context.Background()
	m.RecordTrigger(ctx, "user.created", 1)
	m.RecordDelivery(ctx, "delivered", 1)
	m.AttemptStarted(ctx)
	m.AttemptFinished(ctx)

	// Factory-less metrics only feed the exporter.
	NewMetrics(nil, nil).RecordDelivery(ctx, "delivered", 1)
}
