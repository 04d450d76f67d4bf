package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// DBSink stores events in the security_events table created by the
// sqlstore migrations
type DBSink struct {
	db *sql.DB
}

// NewDBSink creates a database sink
func NewDBSink(db *sql.DB) (*DBSink, error) {
	if db == nil {
		return nil, errors.New("database connection is required")
	}
	return &DBSink{db: db}, nil
}

func (s *DBSink) Write(ctx context.Context, event *SecurityEvent) error {
	metadata := event.Metadata
	if metadata == nil {
		metadata = map[string]interface{}{}
	}
	metadataJSON, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO security_events (id, event, metadata, created_at) VALUES ($1, $2, $3, $4)`,
		event.ID, event.Event, string(metadataJSON), event.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("failed to insert security event: %w", err)
	}
	return nil
}

// Recent returns the newest events, optionally of one type, newest first
func (s *DBSink) Recent(ctx context.Context, event string, since time.Time, limit int) ([]*SecurityEvent, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `SELECT id, event, metadata, created_at FROM security_events WHERE created_at >= $1`
	args := []interface{}{since}
	if event != "" {
		query += ` AND event = $2 ORDER BY created_at DESC LIMIT $3`
		args = append(args, event, limit)
	} else {
		query += ` ORDER BY created_at DESC LIMIT $2`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query security events: %w", err)
	}
	defer rows.Close()

	var events []*SecurityEvent
	for rows.Next() {
		var (
			e            SecurityEvent
			metadataJSON string
		)
		if err := rows.Scan(&e.ID, &e.Event, &metadataJSON, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan security event: %w", err)
		}
		if err := json.Unmarshal([]byte(metadataJSON), &e.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
		}
		events = append(events, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to query security events: %w", err)
	}
	return events, nil
}

// Close is a no-op; the database is owned by the caller
func (s *DBSink) Close() error {
	return nil
}
