package observability

import (
	"context"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/attribute"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/xraph/courier/queue"
)

const meterName = "github.com/xraph/courier"

// Exporter publishes OpenTelemetry instruments on a Prometheus registry.
// A nil *Exporter records nothing.
type Exporter struct {
	registry *prometheus.Registry
	provider *sdkmetric.MeterProvider
	meter    metric.Meter

	triggered  metric.Int64Counter
	fanout     metric.Int64Histogram
	deliveries metric.Int64Counter
	latency    metric.Float64Histogram
	inFlight   metric.Int64UpDownCounter
}

// NewExporter creates an exporter with its own Prometheus registry.
func NewExporter() (*Exporter, error) {
	reg := prometheus.NewRegistry()
	exp, err := otelprom.New(otelprom.WithRegisterer(reg))
	if err != nil {
		return nil, fmt.Errorf("observability: prometheus exporter: %w", err)
	}

	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exp))
	e := &Exporter{
		registry: reg,
		provider: provider,
		meter:    provider.Meter(meterName),
	}

	if e.triggered, err = e.meter.Int64Counter("courier.events.triggered",
		metric.WithDescription("Events accepted by Trigger")); err != nil {
		return nil, err
	}
	if e.fanout, err = e.meter.Int64Histogram("courier.events.fanout",
		metric.WithDescription("Endpoints matched per triggered event")); err != nil {
		return nil, err
	}
	if e.deliveries, err = e.meter.Int64Counter("courier.deliveries",
		metric.WithDescription("Delivery attempts by resulting log status")); err != nil {
		return nil, err
	}
	if e.latency, err = e.meter.Float64Histogram("courier.delivery.latency",
		metric.WithDescription("Delivery attempt latency"),
		metric.WithUnit("s")); err != nil {
		return nil, err
	}
	if e.inFlight, err = e.meter.Int64UpDownCounter("courier.deliveries.in_flight",
		metric.WithDescription("Attempts currently being sent")); err != nil {
		return nil, err
	}
	return e, nil
}

// QueueStatsFunc reports current queue counts.
type QueueStatsFunc func(ctx context.Context) (queue.Stats, error)

// LogStatsFunc reports delivery log counts keyed by status.
type LogStatsFunc func(ctx context.Context) (map[string]int64, error)

// ObserveQueue registers gauges read from fn at collection time.
func (e *Exporter) ObserveQueue(fn QueueStatsFunc) error {
	_, err := e.meter.Int64ObservableGauge("courier.queue.jobs",
		metric.WithDescription("Queue jobs by state"),
		metric.WithInt64Callback(func(ctx context.Context, o metric.Int64Observer) error {
			s, err := fn(ctx)
			if err != nil {
				return err
			}
			for state, n := range map[string]int64{
				"waiting":   s.Waiting,
				"active":    s.Active,
				"delayed":   s.Delayed,
				"completed": s.Completed,
				"failed":    s.Failed,
			} {
				o.Observe(n, metric.WithAttributes(attribute.String("state", state)))
			}
			return nil
		}),
	)
	return err
}

// ObserveLogs registers a gauge of delivery logs by status.
func (e *Exporter) ObserveLogs(fn LogStatsFunc) error {
	_, err := e.meter.Int64ObservableGauge("courier.delivery.logs",
		metric.WithDescription("Delivery logs by status"),
		metric.WithInt64Callback(func(ctx context.Context, o metric.Int64Observer) error {
			counts, err := fn(ctx)
			if err != nil {
				return err
			}
			for status, n := range counts {
				o.Observe(n, metric.WithAttributes(attribute.String("status", status)))
			}
			return nil
		}),
	)
	return err
}

// Handler serves the registry in the Prometheus text format.
func (e *Exporter) Handler() http.Handler {
	return promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{})
}

// Shutdown flushes and stops the meter provider.
func (e *Exporter) Shutdown(ctx context.Context) error {
	if e == nil {
		return nil
	}
	return e.provider.Shutdown(ctx)
}

func (e *Exporter) recordTrigger(ctx context.Context, eventType string, fanout int) {
	if e == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("event_type", eventType))
	e.triggered.Add(ctx, 1, attrs)
	e.fanout.Record(ctx, int64(fanout), attrs)
}

func (e *Exporter) recordDelivery(ctx context.Context, status string, latencySeconds float64) {
	if e == nil {
		return
	}
	e.deliveries.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
	e.latency.Record(ctx, latencySeconds)
}

func (e *Exporter) addInFlight(ctx context.Context, n int64) {
	if e == nil {
		return
	}
	e.inFlight.Add(ctx, n)
}
