// Package observability holds the service's OpenTelemetry instruments.
package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

const instrumentationName = "docsign"

// Metrics records workflow counters. A nil *Metrics is valid and records nothing.
type Metrics struct {
	signingsCompleted    metric.Int64Counter
	documentsCompleted   metric.Int64Counter
	renderFailures       metric.Int64Counter
	notificationFailures metric.Int64Counter
	renderDuration       metric.Float64Histogram
}

// NewMetrics creates the instruments on meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	var (
		m   Metrics
		err error
	)
	if m.signingsCompleted, err = meter.Int64Counter("docsign.signings.completed",
		metric.WithDescription("Signers that completed their turn")); err != nil {
		return nil, err
	}
	if m.documentsCompleted, err = meter.Int64Counter("docsign.documents.completed",
		metric.WithDescription("Documents moved to completed")); err != nil {
		return nil, err
	}
	if m.renderFailures, err = meter.Int64Counter("docsign.render.failures",
		metric.WithDescription("Failed render attempts")); err != nil {
		return nil, err
	}
	if m.notificationFailures, err = meter.Int64Counter("docsign.notifications.failures",
		metric.WithDescription("Emails that could not be delivered")); err != nil {
		return nil, err
	}
	if m.renderDuration, err = meter.Float64Histogram("docsign.render.duration",
		metric.WithDescription("Time spent rendering signed artifacts"),
		metric.WithUnit("s")); err != nil {
		return nil, err
	}
	return &m, nil
}

// Default creates the instruments on the global meter provider, falling back
// to no-op instruments if that fails.
func Default() *Metrics {
	m, err := NewMetrics(otel.Meter(instrumentationName))
	if err != nil {
		m, _ = NewMetrics(noop.NewMeterProvider().Meter(instrumentationName))
	}
	return m
}

func (m *Metrics) SigningCompleted(ctx context.Context) {
	if m == nil {
		return
	}
	m.signingsCompleted.Add(ctx, 1)
}

func (m *Metrics) DocumentCompleted(ctx context.Context) {
	if m == nil {
		return
	}
	m.documentsCompleted.Add(ctx, 1)
}

// RenderFailed counts a failed attempt; final marks the job as given up.
func (m *Metrics) RenderFailed(ctx context.Context, final bool) {
	if m == nil {
		return
	}
	m.renderFailures.Add(ctx, 1, metric.WithAttributes(attribute.Bool("final", final)))
}

// NotificationFailed counts a failed email of the given kind.
func (m *Metrics) NotificationFailed(ctx context.Context, kind string) {
	if m == nil {
		return
	}
	m.notificationFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}

func (m *Metrics) RenderDuration(ctx context.Context, d time.Duration) {
	if m == nil {
		return
	}
	m.renderDuration.Record(ctx, d.Seconds())
}
