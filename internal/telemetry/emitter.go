// Package telemetry turns answered combat submissions into trace spans.
//
// The journal is the canonical record of play; telemetry is the operational
// view of the write path. Every answered submission becomes one span named
// after the intent kind, opening when the submission was enqueued and
// closing when the session loop answered it, so queue wait and outcome are
// visible per intent. Spans flow through the provider installed by
// platform/otel.Setup; without one they are no-ops.
package telemetry

import (
	"context"

	"github.com/ttrpg-tools/crossfire/internal/combat/runtime"
	"github.com/ttrpg-tools/crossfire/internal/platform/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/ttrpg-tools/crossfire/internal/telemetry"

// Values reported on the combat.outcome span attribute.
const (
	OutcomeApplied  = "applied"
	OutcomeReplayed = "replayed"
	OutcomeRejected = "rejected"
)

// Emitter records one span per answered combat submission.
type Emitter struct {
	tracer trace.Tracer
}

// NewEmitter builds an emitter on the given provider. A nil provider uses
// the global one; tracers obtained before platform/otel.Setup runs still
// pick up the provider it installs.
func NewEmitter(provider trace.TracerProvider) *Emitter {
	if provider == nil {
		provider = otel.GetTracerProvider()
	}
	return &Emitter{tracer: provider.Tracer(tracerName)}
}

// Observe records the lifecycle span for one answered submission. It is a
// no-op on a nil emitter. The span parents under whatever trace rode in on
// the submitter's context.
func (e *Emitter) Observe(ctx context.Context, obs runtime.Observation) {
	if e == nil || e.tracer == nil {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}

	name := string(obs.Kind)
	if name == "" {
		name = "intent"
	}

	attrs := []attribute.KeyValue{
		attribute.String("combat.session_id", obs.SessionID),
		attribute.String("combat.intent", string(obs.Kind)),
		attribute.String("combat.actor_type", string(obs.ActorType)),
		attribute.String("combat.actor_id", obs.ActorID),
		attribute.String("combat.outcome", outcomeOf(obs)),
		attribute.Int64("combat.queue_wait_ms", obs.DecidedAt.Sub(obs.EnqueuedAt).Milliseconds()),
	}
	if obs.Token != "" {
		attrs = append(attrs, attribute.String("combat.token", obs.Token))
	}
	if obs.Err != nil {
		attrs = append(attrs, attribute.String("combat.code", string(errors.CodeOf(obs.Err))))
	} else {
		attrs = append(attrs,
			attribute.Int64("combat.seq", int64(obs.Seq)),
			attribute.Int("combat.events", obs.Events),
		)
	}

	_, span := e.tracer.Start(ctx, name,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithTimestamp(obs.EnqueuedAt),
		trace.WithAttributes(attrs...),
	)
	if obs.Err != nil {
		span.RecordError(obs.Err)
		span.SetStatus(codes.Error, string(errors.CodeOf(obs.Err)))
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End(trace.WithTimestamp(obs.DecidedAt))
}

func outcomeOf(obs runtime.Observation) string {
	switch {
	case obs.Err != nil:
		return OutcomeRejected
	case obs.Replayed:
		return OutcomeReplayed
	default:
		return OutcomeApplied
	}
}
