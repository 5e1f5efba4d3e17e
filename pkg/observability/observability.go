// Package observability instruments governance operations with
// OpenTelemetry metrics. The engine records against whatever global
// meter provider the host process installed; exporter bootstrap belongs
// to that process, not to this library.
package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Recorder holds the governance metric instruments.
type Recorder struct {
	meter metric.Meter

	penaltiesApplied metric.Int64Counter
	recoveries       metric.Int64Counter
	appealsFiled     metric.Int64Counter
	appealsResolved  metric.Int64Counter
	graduations      metric.Int64Counter
	evalDuration     metric.Float64Histogram
	throttleDenials  metric.Int64Counter
}

// NewRecorder creates a recorder on the global meter provider.
func NewRecorder() (*Recorder, error) {
	return NewRecorderWithMeter(otel.Meter("aegis.governance"))
}

// NewRecorderWithMeter creates a recorder on an explicit meter.
func NewRecorderWithMeter(meter metric.Meter) (*Recorder, error) {
	r := &Recorder{meter: meter}

	var err error
	if r.penaltiesApplied, err = meter.Int64Counter(
		"aegis.penalties.applied",
		metric.WithDescription("Penalties applied, by level"),
	); err != nil {
		return nil, fmt.Errorf("create penalties counter: %w", err)
	}
	if r.recoveries, err = meter.Int64Counter(
		"aegis.recoveries.completed",
		metric.WithDescription("Penalties lifted by meeting all improvement targets"),
	); err != nil {
		return nil, fmt.Errorf("create recoveries counter: %w", err)
	}
	if r.appealsFiled, err = meter.Int64Counter(
		"aegis.appeals.filed",
		metric.WithDescription("Appeals filed against active penalties"),
	); err != nil {
		return nil, fmt.Errorf("create appeals filed counter: %w", err)
	}
	if r.appealsResolved, err = meter.Int64Counter(
		"aegis.appeals.resolved",
		metric.WithDescription("Appeal resolutions, by decision"),
	); err != nil {
		return nil, fmt.Errorf("create appeals resolved counter: %w", err)
	}
	if r.graduations, err = meter.Int64Counter(
		"aegis.remediation.graduations",
		metric.WithDescription("Agents graduated from mandatory retraining"),
	); err != nil {
		return nil, fmt.Errorf("create graduations counter: %w", err)
	}
	if r.evalDuration, err = meter.Float64Histogram(
		"aegis.evaluation.duration",
		metric.WithDescription("Agent evaluation latency"),
		metric.WithUnit("ms"),
	); err != nil {
		return nil, fmt.Errorf("create evaluation histogram: %w", err)
	}
	if r.throttleDenials, err = meter.Int64Counter(
		"aegis.throttle.denials",
		metric.WithDescription("Hot-path requests denied by penalty throttles"),
	); err != nil {
		return nil, fmt.Errorf("create throttle denials counter: %w", err)
	}

	return r, nil
}

// PenaltyApplied records a penalty at the given level.
func (r *Recorder) PenaltyApplied(ctx context.Context, level int) {
	if r == nil {
		return
	}
	r.penaltiesApplied.Add(ctx, 1, metric.WithAttributes(attribute.Int("level", level)))
}

// RecoveryCompleted records a penalty lifted through recovery.
func (r *Recorder) RecoveryCompleted(ctx context.Context) {
	if r == nil {
		return
	}
	r.recoveries.Add(ctx, 1)
}

// AppealFiled records a filed appeal.
func (r *Recorder) AppealFiled(ctx context.Context) {
	if r == nil {
		return
	}
	r.appealsFiled.Add(ctx, 1)
}

// AppealResolved records an appeal resolution by decision.
func (r *Recorder) AppealResolved(ctx context.Context, decision string) {
	if r == nil {
		return
	}
	r.appealsResolved.Add(ctx, 1, metric.WithAttributes(attribute.String("decision", decision)))
}

// Graduation records a remediation graduation.
func (r *Recorder) Graduation(ctx context.Context) {
	if r == nil {
		return
	}
	r.graduations.Add(ctx, 1)
}

// EvaluationDone records the latency of one agent evaluation.
func (r *Recorder) EvaluationDone(ctx context.Context, start time.Time, penalized bool) {
	if r == nil {
		return
	}
	r.evalDuration.Record(ctx, float64(time.Since(start).Microseconds())/1000.0,
		metric.WithAttributes(attribute.Bool("penalized", penalized)))
}

// ThrottleDenied records a hot-path denial.
func (r *Recorder) ThrottleDenied(ctx context.Context, agentID string) {
	if r == nil {
		return
	}
	r.throttleDenials.Add(ctx, 1, metric.WithAttributes(attribute.String("agent_id", agentID)))
}
