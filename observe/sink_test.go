package observe

import (
	"context"
	"errors"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestMultiSink_ContinuesAfterFailure(t *testing.T) {
	rec := &Recorder{}
	failing := SinkFunc(func(context.Context, Event) error { return errors.New("boom") })

	err := NewMultiSink(failing, nil, rec).Emit(context.Background(), Event{Kind: KindStage, Stage: "planning"})
	if err == nil {
		t.Fatalf("expected joined error")
	}
	if len(rec.Events()) != 1 {
		t.Fatalf("expected recorder to receive the event")
	}
}

func TestAsyncSink_CloseDrains(t *testing.T) {
	rec := &Recorder{}
	async := NewAsyncSink(rec, 8)
	for i := 0; i < 5; i++ {
		_ = async.Emit(context.Background(), Event{Kind: KindCheckpoint})
	}
	async.Close()

	if got := len(rec.Filter(KindCheckpoint)); got != 5 {
		t.Fatalf("expected 5 drained events, got %d", got)
	}
}

func TestLogSink_FallbackIsWarn(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	sink := NewLogSink(zap.New(core))

	_ = sink.Emit(context.Background(), Event{Kind: KindFallback, Stage: "analytics", Error: "timeout"})
	_ = sink.Emit(context.Background(), Event{Kind: KindStage, Status: StatusCompleted, Stage: "planning"})

	entries := logs.All()
	if len(entries) != 2 {
		t.Fatalf("expected 2 log entries, got %d", len(entries))
	}
	if entries[0].Level != zap.WarnLevel {
		t.Fatalf("expected fallback at warn, got %s", entries[0].Level)
	}
	if entries[1].Level != zap.DebugLevel {
		t.Fatalf("expected stage event at debug, got %s", entries[1].Level)
	}
	if entries[0].ContextMap()["stage"] != "analytics" {
		t.Fatalf("missing stage field: %v", entries[0].ContextMap())
	}
}

func TestAsyncSink_CountsDropsAndFailures(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	var emitted int
	blocking := SinkFunc(func(context.Context, Event) error {
		emitted++
		if emitted == 1 {
			close(started)
			<-release
		}
		return errors.New("store unavailable")
	})

	async := NewAsyncSink(blocking, 1)
	_ = async.Emit(context.Background(), Event{Kind: KindTurn})
	<-started
	_ = async.Emit(context.Background(), Event{Kind: KindTurn})
	_ = async.Emit(context.Background(), Event{Kind: KindTurn})
	close(release)
	async.Close()

	if async.Dropped() != 1 {
		t.Fatalf("expected 1 dropped event, got %d", async.Dropped())
	}
	if async.Failed() != 2 {
		t.Fatalf("expected 2 failed events, got %d", async.Failed())
	}
}
