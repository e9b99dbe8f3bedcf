package ingest

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// instrumentationName is the OTel scope for ingest metrics and spans.
const instrumentationName = "workflow-ingest/backend/internal/ingest"

// Instruments:
//   - ingest.requests (Int64Counter): every call, attribute outcome
//     ("ok" or the error code)
//   - ingest.runs.recorded (Int64Counter): stored runs, attribute status
//   - ingest.duration (Float64Histogram): seconds per call, attribute outcome
type metrics struct {
	requests metric.Int64Counter
	runs     metric.Int64Counter
	duration metric.Float64Histogram
}

func newMetrics(meter metric.Meter) *metrics {
	// On error the API hands back noop instruments.
	requests, _ := meter.Int64Counter(
		"ingest.requests",
		metric.WithDescription("Workflow-run ingestion requests by outcome"),
		metric.WithUnit("{request}"),
	)
	runs, _ := meter.Int64Counter(
		"ingest.runs.recorded",
		metric.WithDescription("Workflow runs written to storage"),
		metric.WithUnit("{run}"),
	)
	duration, _ := meter.Float64Histogram(
		"ingest.duration",
		metric.WithDescription("Time spent ingesting a workflow run"),
		metric.WithUnit("s"),
	)
	return &metrics{requests: requests, runs: runs, duration: duration}
}

func (m *metrics) observe(ctx context.Context, outcome, status string, elapsed time.Duration) {
	attrs := metric.WithAttributes(attribute.String("outcome", outcome))
	m.requests.Add(ctx, 1, attrs)
	m.duration.Record(ctx, elapsed.Seconds(), attrs)
	if outcome == "ok" {
		m.runs.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
	}
}
