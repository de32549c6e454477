package otel

import (
	"context"
	"testing"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/PipeOpsHQ/coachflow/observe"
)

func newTestSink(t *testing.T) (*Sink, *tracetest.InMemoryExporter) {
	t.Helper()
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	return NewSink(tp), exporter
}

func TestSinkEmitsTurnSpan(t *testing.T) {
	sink, exporter := newTestSink(t)

	err := sink.Emit(context.Background(), observe.Event{
		Kind:       observe.KindTurn,
		ThreadID:   "thread-123",
		UserID:     "user-456",
		Status:     observe.StatusCompleted,
		Timestamp:  time.Now(),
		DurationMs: 150,
	})
	if err != nil {
		t.Fatal(err)
	}

	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	span := spans[0]
	if span.Name != "coachflow.turn" {
		t.Errorf("expected span name 'coachflow.turn', got %q", span.Name)
	}
	attrs := attrToMap(span.Attributes)
	if attrs["coachflow.thread.id"] != "thread-123" {
		t.Errorf("missing or wrong thread id: %v", attrs)
	}
	if attrs["coachflow.user.id"] != "user-456" {
		t.Errorf("missing or wrong user id: %v", attrs)
	}
	if got := span.EndTime.Sub(span.StartTime); got != 150*time.Millisecond {
		t.Errorf("expected 150ms span, got %s", got)
	}
}

func TestSpanNaming(t *testing.T) {
	sink, exporter := newTestSink(t)
	now := time.Now()

	tests := []struct {
		event    observe.Event
		wantName string
	}{
		{observe.Event{Kind: observe.KindStage, Stage: "planning", Timestamp: now}, "coachflow.stage.planning"},
		{observe.Event{Kind: observe.KindModel, Provider: "openai", Timestamp: now}, "coachflow.model.openai"},
		{observe.Event{Kind: observe.KindTool, ToolName: "executeCode", Timestamp: now}, "coachflow.tool.executeCode"},
		{observe.Event{Kind: observe.KindCheckpoint, Timestamp: now}, "coachflow.checkpoint"},
		{observe.Event{Kind: observe.KindFallback, Timestamp: now}, "coachflow.fallback"},
		{observe.Event{Kind: observe.KindCustom, Name: "custom_event", Timestamp: now}, "coachflow.custom_event"},
	}

	for _, tt := range tests {
		exporter.Reset()
		_ = sink.Emit(context.Background(), tt.event)
		spans := exporter.GetSpans()
		if len(spans) != 1 {
			t.Errorf("expected 1 span for %s, got %d", tt.wantName, len(spans))
			continue
		}
		if spans[0].Name != tt.wantName {
			t.Errorf("expected span name %q, got %q", tt.wantName, spans[0].Name)
		}
	}
}

func TestFailedEventSetsErrorStatus(t *testing.T) {
	sink, exporter := newTestSink(t)

	_ = sink.Emit(context.Background(), observe.Event{
		Kind:   observe.KindStage,
		Stage:  "analytics",
		Status: observe.StatusFailed,
		Error:  "model unavailable",
	})

	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	if spans[0].Status.Code != codes.Error {
		t.Errorf("expected error status, got %v", spans[0].Status.Code)
	}
	if spans[0].Status.Description != "model unavailable" {
		t.Errorf("unexpected status description %q", spans[0].Status.Description)
	}
}

func attrToMap(attrs []attribute.KeyValue) map[string]string {
	m := make(map[string]string, len(attrs))
	for _, a := range attrs {
		m[string(a.Key)] = a.Value.Emit()
	}
	return m
}
