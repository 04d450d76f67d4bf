package audit

import (
	"context"

	"github.com/platinummonkey/gatehouse/pkg/observability"
)

// LogSink writes events to the structured application log
type LogSink struct {
	logger *observability.Logger
}

// NewLogSink creates a sink on logger
func NewLogSink(logger *observability.Logger) *LogSink {
	return &LogSink{logger: logger}
}

func (s *LogSink) Write(ctx context.Context, event *SecurityEvent) error {
	s.logger.WithFields(event.Metadata).WithFields(map[string]interface{}{
		"event_id":       event.ID,
		"security_event": event.Event,
	}).Info("security event")
	return nil
}

func (s *LogSink) Close() error {
	return nil
}
