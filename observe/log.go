package observe

import (
	"context"

	"go.uber.org/zap"
)

// LogSink writes events to a zap logger. Failures and fallbacks are logged
// at warn level, everything else at debug.
type LogSink struct {
	logger *zap.Logger
}

func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger.Named("events")}
}

func (s *LogSink) Emit(ctx context.Context, event Event) error {
	_ = ctx
	event.Normalize()

	fields := []zap.Field{
		zap.String("kind", string(event.Kind)),
		zap.String("status", string(event.Status)),
	}
	if event.ThreadID != "" {
		fields = append(fields, zap.String("thread_id", event.ThreadID))
	}
	if event.Stage != "" {
		fields = append(fields, zap.String("stage", event.Stage))
	}
	if event.ToolName != "" {
		fields = append(fields, zap.String("tool", event.ToolName))
	}
	if event.Provider != "" {
		fields = append(fields, zap.String("provider", event.Provider))
	}
	if event.DurationMs > 0 {
		fields = append(fields, zap.Int64("duration_ms", event.DurationMs))
	}
	if event.Error != "" {
		fields = append(fields, zap.String("error", event.Error))
	}
	for k, v := range event.Attributes {
		fields = append(fields, zap.Any(k, v))
	}

	msg := event.Message
	if msg == "" {
		msg = string(event.Kind)
		if event.Name != "" {
			msg += " " + event.Name
		}
	}
	if event.Status == StatusFailed || event.Kind == KindFallback {
		s.logger.Warn(msg, fields...)
		return nil
	}
	s.logger.Debug(msg, fields...)
	return nil
}
