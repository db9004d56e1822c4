package observability

import (
	"context"

	gu "github.com/xraph/go-utils/metrics"
)

// Metrics records courier activity. Instruments come from a go-utils
// MetricFactory (for example the forge-managed metrics system), an
// Exporter, or both. A nil *Metrics records nothing.
type Metrics struct {
	EventsTriggered gu.Counter
	DeliveriesTotal gu.Counter
	DeliveryLatency gu.Histogram
	InFlight        gu.Gauge

	exporter *Exporter
}

// NewMetrics creates courier instruments. Either argument may be nil.
func NewMetrics(factory gu.MetricFactory, exporter *Exporter) *Metrics {
	m := &Metrics{exporter: exporter}
	if factory != nil {
		m.EventsTriggered = factory.Counter("courier_events_triggered_total")
		m.DeliveriesTotal = factory.Counter("courier_deliveries_total")
		m.DeliveryLatency = factory.Histogram("courier_delivery_latency_seconds")
		m.InFlight = factory.Gauge("courier_deliveries_in_flight")
	}
	return m
}

// RecordTrigger records a triggered event and how many endpoints it fanned
// out to.
func (m *Metrics) RecordTrigger(ctx context.Context, eventType string, fanout int) {
	if m == nil {
		return
	}
	if m.EventsTriggered != nil {
		m.EventsTriggered.WithLabels(map[string]string{"event_type": eventType}).Inc()
	}
	m.exporter.recordTrigger(ctx, eventType, fanout)
}

// RecordDelivery records an attempt outcome with the given log status and
// latency.
func (m *Metrics) RecordDelivery(ctx context.Context, status string, latencySeconds float64) {
	if m == nil {
		return
	}
	if m.DeliveriesTotal != nil {
		m.DeliveriesTotal.WithLabels(map[string]string{"status": status}).Inc()
	}
	if m.DeliveryLatency != nil {
		m.DeliveryLatency.Observe(latencySeconds)
	}
	m.exporter.recordDelivery(ctx, status, latencySeconds)
}

// AttemptStarted marks an attempt as in flight.
func (m *Metrics) AttemptStarted(ctx context.Context) {
	if m == nil {
		return
	}
	if m.InFlight != nil {
		m.InFlight.Inc()
	}
	m.exporter.addInFlight(ctx, 1)
}

// AttemptFinished undoes AttemptStarted.
func (m *Metrics) AttemptFinished(ctx context.Context) {
	if m == nil {
		return
	}
	if m.InFlight != nil {
		m.InFlight.Dec()
	}
	m.exporter.addInFlight(ctx, -1)
}
