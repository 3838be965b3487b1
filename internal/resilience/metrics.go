package resilience

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/pulseboard/pulseboard/internal/resilience"

// Metrics holds OpenTelemetry instruments for the resilience layer.
type Metrics struct {
	callDuration      metric.Float64Histogram
	callTotal         metric.Int64Counter
	queueWait         metric.Float64Histogram
	admissionReject   metric.Int64Counter
	breakerTransition metric.Int64Counter
}

// NewMetrics creates the resilience instruments on the global meter.
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter(meterName)

	callDuration, err := meter.Float64Histogram(
		"resilience.call.duration",
		metric.WithDescription("Duration of resilient calls in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	callTotal, err := meter.Int64Counter(
		"resilience.call.total",
		metric.WithDescription("Total number of resilient calls"),
		metric.WithUnit("{call}"),
	)
	if err != nil {
		return nil, err
	}

	queueWait, err := meter.Float64Histogram(
		"resilience.queue.wait",
		metric.WithDescription("Time requests spent queued before execution in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	admissionReject, err := meter.Int64Counter(
		"resilience.queue.rejected",
		metric.WithDescription("Requests rejected at admission"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, err
	}

	breakerTransition, err := meter.Int64Counter(
		"resilience.breaker.transition",
		metric.WithDescription("Circuit breaker state transitions"),
		metric.WithUnit("{transition}"),
	)
	if err != nil {
		return nil, err
	}

	return &Metrics{
		callDuration:      callDuration,
		callTotal:         callTotal,
		queueWait:         queueWait,
		admissionReject:   admissionReject,
		breakerTransition: breakerTransition,
	}, nil
}

// RecordCall records one settled resilient call.
func (m *Metrics) RecordCall(service string, duration time.Duration, err error) {
	if m == nil {
		return
	}
	attrs := []attribute.KeyValue{attribute.String("service.name", service)}
	if err != nil {
		attrs = append(attrs, attribute.Bool("error", true))
	}

	// Background context: metrics must survive caller cancellation.
	ctx := context.Background()
	m.callDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
	m.callTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordRejection records an admission rejection (queue full or rate limit).
func (m *Metrics) RecordRejection(service, reason string) {
	if m == nil {
		return
	}
	m.admissionReject.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("service.name", service),
		attribute.String("reason", reason),
	))
}

// RecordTransition records a circuit breaker state change.
func (m *Metrics) RecordTransition(service string, from, to State) {
	if m == nil {
		return
	}
	m.breakerTransition.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("service.name", service),
		attribute.String("from", string(from)),
		attribute.String("to", string(to)),
	))
}

// RecordQueueWait records how long a request waited before execution.
func (m *Metrics) RecordQueueWait(service string, wait time.Duration) {
	if m == nil {
		return
	}
	m.queueWait.Record(context.Background(), wait.Seconds(), metric.WithAttributes(
		attribute.String("service.name", service),
	))
}
