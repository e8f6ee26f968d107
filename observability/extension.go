package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/timottowitz/conveyor/ext"
	"github.com/timottowitz/conveyor/job"
)

const meterName = "github.com/timottowitz/conveyor/observability"

// Compile-time interface checks.
var (
	_ ext.Extension       = (*MetricsExtension)(nil)
	_ ext.JobSubmitted    = (*MetricsExtension)(nil)
	_ ext.JobStarted      = (*MetricsExtension)(nil)
	_ ext.JobCompleted    = (*MetricsExtension)(nil)
	_ ext.JobFailed       = (*MetricsExtension)(nil)
	_ ext.JobRetrying     = (*MetricsExtension)(nil)
	_ ext.JobCancelled    = (*MetricsExtension)(nil)
	_ ext.JobDeadLettered = (*MetricsExtension)(nil)
)

// MetricsExtension records queue-wide lifecycle metrics via OpenTelemetry.
// Register it as an extension to track submission rates, completion counts,
// failure rates, retry counts, cancellations, and dead letter entries.
type MetricsExtension struct {
	submitted    metric.Int64Counter
	started      metric.Int64Counter
	completed    metric.Int64Counter
	failed       metric.Int64Counter
	retried      metric.Int64Counter
	cancelled    metric.Int64Counter
	deadLettered metric.Int64Counter
	duration     metric.Float64Histogram
}

// NewMetricsExtension creates a MetricsExtension on the global meter provider.
func NewMetricsExtension() *MetricsExtension {
	return NewMetricsExtensionWithMeter(otel.Meter(meterName))
}

// NewMetricsExtensionWithMeter creates a MetricsExtension on the provided
// meter. Pass a meter from a manual-reader provider for testing.
func NewMetricsExtensionWithMeter(meter metric.Meter) *MetricsExtension {
	submitted, _ := meter.Int64Counter("conveyor.jobs.submitted",
		metric.WithDescription("Jobs accepted into the queue"))
	started, _ := meter.Int64Counter("conveyor.jobs.started",
		metric.WithDescription("Job attempts started"))
	completed, _ := meter.Int64Counter("conveyor.jobs.completed",
		metric.WithDescription("Jobs finished successfully"))
	failed, _ := meter.Int64Counter("conveyor.jobs.failed",
		metric.WithDescription("Jobs that exhausted execution"))
	retried, _ := meter.Int64Counter("conveyor.jobs.retried",
		metric.WithDescription("Job attempts scheduled for retry"))
	cancelled, _ := meter.Int64Counter("conveyor.jobs.cancelled",
		metric.WithDescription("Jobs cancelled before completion"))
	deadLettered, _ := meter.Int64Counter("conveyor.jobs.dead_lettered",
		metric.WithDescription("Jobs moved to the dead letter queue"))
	duration, _ := meter.Float64Histogram("conveyor.jobs.duration",
		metric.WithDescription("Successful job execution time"),
		metric.WithUnit("s"))

	return &MetricsExtension{
		submitted:    submitted,
		started:      started,
		completed:    completed,
		failed:       failed,
		retried:      retried,
		cancelled:    cancelled,
		deadLettered: deadLettered,
		duration:     duration,
	}
}

// Name implements ext.Extension.
func (m *MetricsExtension) Name() string { return "observability-metrics" }

func jobAttrs(j *job.Job) metric.MeasurementOption {
	return metric.WithAttributes(
		attribute.String("job_type", string(j.Type)),
		attribute.String("tenant_id", j.TenantID),
	)
}

// OnJobSubmitted implements ext.JobSubmitted.
func (m *MetricsExtension) OnJobSubmitted(ctx context.Context, j *job.Job) error {
	m.submitted.Add(ctx, 1, jobAttrs(j))
	return nil
}

// OnJobStarted implements ext.JobStarted.
func (m *MetricsExtension) OnJobStarted(ctx context.Context, j *job.Job) error {
	m.started.Add(ctx, 1, jobAttrs(j))
	return nil
}

// OnJobCompleted implements ext.JobCompleted.
func (m *MetricsExtension) OnJobCompleted(ctx context.Context, j *job.Job, elapsed time.Duration) error {
	m.completed.Add(ctx, 1, jobAttrs(j))
	m.duration.Record(ctx, elapsed.Seconds(), jobAttrs(j))
	return nil
}

// OnJobFailed implements ext.JobFailed.
func (m *MetricsExtension) OnJobFailed(ctx context.Context, j *job.Job, _ error) error {
	m.failed.Add(ctx, 1, jobAttrs(j))
	return nil
}

// OnJobRetrying implements ext.JobRetrying.
func (m *MetricsExtension) OnJobRetrying(ctx context.Context, j *job.Job, _ int, _ time.Time) error {
	m.retried.Add(ctx, 1, jobAttrs(j))
	return nil
}

// OnJobCancelled implements ext.JobCancelled.
func (m *MetricsExtension) OnJobCancelled(ctx context.Context, j *job.Job) error {
	m.cancelled.Add(ctx, 1, jobAttrs(j))
	return nil
}

// OnJobDeadLettered implements ext.JobDeadLettered.
func (m *MetricsExtension) OnJobDeadLettered(ctx context.Context, j *job.Job, _ error) error {
	m.deadLettered.Add(ctx, 1, jobAttrs(j))
	return nil
}
