// Package store persists observer events so past turns can be inspected
// after the process exits.
package store

import (
	"context"
	"time"

	"github.com/PipeOpsHQ/coachflow/observe"
)

type ListQuery struct {
	Limit  int
	Offset int
}

type MetricsQuery struct {
	Since *time.Time
}

type MetricsSummary struct {
	TurnsStarted   int64 `json:"turnsStarted"`
	TurnsCompleted int64 `json:"turnsCompleted"`
	TurnsFailed    int64 `json:"turnsFailed"`
	StagesFailed   int64 `json:"stagesFailed"`
	Fallbacks      int64 `json:"fallbacks"`
	Checkpoints    int64 `json:"checkpoints"`
}

type Store interface {
	SaveEvent(ctx context.Context, event observe.Event) error
	ListEventsByThread(ctx context.Context, threadID string, query ListQuery) ([]observe.Event, error)
	AggregateMetrics(ctx context.Context, query MetricsQuery) (MetricsSummary, error)
	Close() error
}

// Sink adapts a Store to observe.Sink.
func Sink(s Store) observe.Sink {
	return observe.SinkFunc(s.SaveEvent)
}
