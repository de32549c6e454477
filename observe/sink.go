package observe

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
)

type Sink interface {
	Emit(ctx context.Context, event Event) error
}

type SinkFunc func(ctx context.Context, event Event) error

func (f SinkFunc) Emit(ctx context.Context, event Event) error {
	if f == nil {
		return nil
	}
	return f(ctx, event)
}

type NoopSink struct{}

func (NoopSink) Emit(context.Context, Event) error { return nil }

// MultiSink fans out to every sink, even when an earlier one fails.
type MultiSink struct {
	sinks []Sink
}

func NewMultiSink(sinks ...Sink) Sink {
	filtered := make([]Sink, 0, len(sinks))
	for _, s := range sinks {
		if s == nil {
			continue
		}
		filtered = append(filtered, s)
	}
	if len(filtered) == 0 {
		return NoopSink{}
	}
	if len(filtered) == 1 {
		return filtered[0]
	}
	return &MultiSink{sinks: filtered}
}

func (m *MultiSink) Emit(ctx context.Context, event Event) error {
	if m == nil {
		return nil
	}
	var errs []error
	for _, sink := range m.sinks {
		if err := sink.Emit(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// AsyncSink decouples emitters from a slow downstream. Events that arrive
// while the queue is full are dropped and counted. Close drains the queue
// before returning.
type AsyncSink struct {
	downstream Sink
	queue      chan Event
	once       sync.Once
	done       chan struct{}
	dropped    atomic.Int64
	failed     atomic.Int64
}

func NewAsyncSink(downstream Sink, buffer int) *AsyncSink {
	if downstream == nil {
		downstream = NoopSink{}
	}
	if buffer <= 0 {
		buffer = 256
	}
	as := &AsyncSink{
		downstream: downstream,
		queue:      make(chan Event, buffer),
		done:       make(chan struct{}),
	}
	go as.loop()
	return as
}

func (s *AsyncSink) Emit(ctx context.Context, event Event) error {
	if s == nil {
		return nil
	}
	event.Normalize()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case s.queue <- event:
		return nil
	default:
		s.dropped.Add(1)
		return nil
	}
}

// Dropped reports how many events never reached the queue.
func (s *AsyncSink) Dropped() int64 { return s.dropped.Load() }

// Failed reports how many queued events the downstream rejected.
func (s *AsyncSink) Failed() int64 { return s.failed.Load() }

func (s *AsyncSink) Close() {
	if s == nil {
		return
	}
	s.once.Do(func() { close(s.queue) })
	<-s.done
}

func (s *AsyncSink) loop() {
	defer close(s.done)
	for event := range s.queue {
		if err := s.downstream.Emit(context.Background(), event); err != nil {
			s.failed.Add(1)
		}
	}
}

// Recorder keeps every event in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Emit(_ context.Context, event Event) error {
	event.Normalize()
	r.mu.Lock()
	r.events = append(r.events, event)
	r.mu.Unlock()
	return nil
}

func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// Filter returns the recorded events of the given kind.
func (r *Recorder) Filter(kind Kind) []Event {
	var out []Event
	for _, e := range r.Events() {
		if e.Kind == kind {
			out = append(out, e)
		}
	}
	return out
}
