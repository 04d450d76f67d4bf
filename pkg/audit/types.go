package audit

import (
	"context"
	"time"
)

// SecurityEvent is one security-relevant occurrence. Metadata never holds
// plaintext passwords or unmasked emails.
type SecurityEvent struct {
	ID        string                 `json:"id"`
	Timestamp time.Time              `json:"timestamp"`
	Event     string                 `json:"event"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// Sink is a destination for security events
type Sink interface {
	Write(ctx context.Context, event *SecurityEvent) error
	Close() error
}
