package audit

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/platinummonkey/gatehouse/pkg/observability"
)

// Recorder adapts a Sink to auth.SecurityEventLogger. Sink failures are
// logged and never returned to the caller.
type Recorder struct {
	sink   Sink
	logger *observability.Logger
	now    func() time.Time
}

// NewRecorder creates a recorder writing to sink
func NewRecorder(sink Sink, logger *observability.Logger) *Recorder {
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	return &Recorder{sink: sink, logger: logger, now: time.Now}
}

func (r *Recorder) LogSecurityEvent(ctx context.Context, event string, metadata map[string]interface{}) {
	if metadata == nil {
		metadata = make(map[string]interface{})
	}
	if _, ok := metadata["request_id"]; !ok {
		if requestID := observability.GetRequestID(ctx); requestID != "" {
			metadata["request_id"] = requestID
		}
	}

	e := &SecurityEvent{
		ID:        uuid.New().String(),
		Timestamp: r.now().UTC(),
		Event:     event,
		Metadata:  metadata,
	}
	if err := r.sink.Write(ctx, e); err != nil {
		r.logger.WithError(err).WithField("event", event).Warn("failed to record security event")
	}
}

// Close closes the underlying sink
func (r *Recorder) Close() error {
	return r.sink.Close()
}
