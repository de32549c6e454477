// Package otel turns observe events into OpenTelemetry spans so turns, stage
// runs, model calls and tool calls show up in any OTel backend.
package otel

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/PipeOpsHQ/coachflow/observe"
)

const instrumentationName = "github.com/PipeOpsHQ/coachflow"

const maxMessageLen = 1024

type Sink struct {
	tracer trace.Tracer
}

// NewSink uses a noop provider when tp is nil.
func NewSink(tp trace.TracerProvider) *Sink {
	if tp == nil {
		tp = noop.NewTracerProvider()
	}
	return &Sink{tracer: tp.Tracer(instrumentationName)}
}

// Emit records one span per event. The span starts at the event timestamp
// and lasts DurationMs.
func (s *Sink) Emit(_ context.Context, event observe.Event) error {
	event.Normalize()

	start := event.Timestamp
	_, span := s.tracer.Start(context.Background(), spanNameFor(event), trace.WithTimestamp(start))

	attrs := []attribute.KeyValue{
		attribute.String("coachflow.event.kind", string(event.Kind)),
	}
	add := func(key, value string) {
		if value != "" {
			attrs = append(attrs, attribute.String(key, value))
		}
	}
	add("coachflow.thread.id", event.ThreadID)
	add("coachflow.user.id", event.UserID)
	add("coachflow.stage", event.Stage)
	add("coachflow.provider", event.Provider)
	add("coachflow.tool.name", event.ToolName)
	add("coachflow.event.name", event.Name)
	add("coachflow.status", string(event.Status))
	add("coachflow.message", truncate(event.Message, maxMessageLen))
	if event.DurationMs > 0 {
		attrs = append(attrs, attribute.Int64("coachflow.duration_ms", event.DurationMs))
	}
	for k, v := range event.Attributes {
		attrs = append(attrs, attribute.String("coachflow.attr."+k, fmt.Sprintf("%v", v)))
	}
	span.SetAttributes(attrs...)

	switch {
	case event.Status == observe.StatusFailed:
		span.SetStatus(codes.Error, event.Error)
		if event.Error != "" {
			span.RecordError(errors.New(event.Error))
		}
	case event.Kind == observe.KindFallback:
		span.AddEvent("fallback", trace.WithAttributes(attribute.String("reason", event.Error)))
	case event.Status == observe.StatusCompleted:
		span.SetStatus(codes.Ok, "")
	}

	end := start
	if event.DurationMs > 0 {
		end = start.Add(time.Duration(event.DurationMs) * time.Millisecond)
	}
	span.End(trace.WithTimestamp(end))
	return nil
}

func spanNameFor(event observe.Event) string {
	switch event.Kind {
	case observe.KindTurn:
		return "coachflow.turn"
	case observe.KindStage:
		if event.Stage != "" {
			return "coachflow.stage." + event.Stage
		}
		return "coachflow.stage"
	case observe.KindModel:
		if event.Provider != "" {
			return "coachflow.model." + event.Provider
		}
		return "coachflow.model.generate"
	case observe.KindTool:
		if event.ToolName != "" {
			return "coachflow.tool." + event.ToolName
		}
		return "coachflow.tool.call"
	case observe.KindCheckpoint:
		return "coachflow.checkpoint"
	case observe.KindFallback:
		return "coachflow.fallback"
	default:
		if event.Name != "" {
			return "coachflow." + event.Name
		}
		return "coachflow.event"
	}
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
