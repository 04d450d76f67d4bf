package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/gatehouse/pkg/auth"
	"github.com/platinummonkey/gatehouse/pkg/observability"
	"github.com/platinummonkey/gatehouse/pkg/storage/sqlstore"
)

var _ auth.SecurityEventLogger = (*Recorder)(nil)
var _ Sink = (*LogSink)(nil)
var _ Sink = (*DBSink)(nil)
var _ Sink = (*FileSink)(nil)
var _ Sink = (*MultiSink)(nil)

type memorySink struct {
	mu     sync.Mutex
	events []*SecurityEvent
	err    error
	closed bool
}

func (m *memorySink) Write(ctx context.Context, event *SecurityEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.events = append(m.events, event)
	return nil
}

func (m *memorySink) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func (m *memorySink) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.events)
}

func TestRecorder_BuildsEvents(t *testing.T) {
	sink := &memorySink{}
	recorder := NewRecorder(sink, nil)
	recorder.now = func() time.Time { return time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC) }

	ctx := observability.WithRequestID(context.Background(), "req-42")
	recorder.LogSecurityEvent(ctx, auth.EventLoginFailed, map[string]interface{}{"reason": "bad_password"})
	recorder.LogSecurityEvent(context.Background(), auth.EventLoginSuccess, nil)

	require.Len(t, sink.events, 2)
	first := sink.events[0]
	assert.NotEmpty(t, first.ID)
	assert.Equal(t, auth.EventLoginFailed, first.Event)
	assert.Equal(t, time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC), first.Timestamp)
	assert.Equal(t, "req-42", first.Metadata["request_id"])
	assert.Equal(t, "bad_password", first.Metadata["reason"])
	assert.NotEqual(t, first.ID, sink.events[1].ID)
	assert.NotNil(t, sink.events[1].Metadata)
}

func TestRecorder_SwallowsSinkErrors(t *testing.T) {
	var buf bytes.Buffer
	recorder := NewRecorder(&memorySink{err: errors.New("disk full")}, observability.NewLogger(observability.InfoLevel, &buf))

	assert.NotPanics(t, func() {
		recorder.LogSecurityEvent(context.Background(), auth.EventAccountLocked, nil)
	})
	assert.Contains(t, buf.String(), "failed to record security event")
	assert.Contains(t, buf.String(), "disk full")
}

func TestLogSink(t *testing.T) {
	var buf bytes.Buffer
	sink := NewLogSink(observability.NewLogger(observability.InfoLevel, &buf))

	require.NoError(t, sink.Write(context.Background(), &SecurityEvent{
		ID:       "evt-1",
		Event:    auth.EventSSOLoginSuccess,
		Metadata: map[string]interface{}{"org_id": "org-1"},
	}))

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "security event", entry["msg"])
	assert.Equal(t, auth.EventSSOLoginSuccess, entry["security_event"])
	assert.Equal(t, "org-1", entry["org_id"])
}

func TestMultiSink_Sync(t *testing.T) {
	good := &memorySink{}
	bad := &memorySink{err: errors.New("unavailable")}
	multi := NewMultiSink(bad, good)
	multi.SetAsync(false)

	err := multi.Write(context.Background(), &SecurityEvent{Event: auth.EventLoginSuccess})
	assert.ErrorContains(t, err, "unavailable")
	assert.Equal(t, 1, good.count(), "later sinks still receive the event")

	require.NoError(t, multi.Close())
	assert.True(t, good.closed)
	assert.True(t, bad.closed)
}

func TestMultiSink_AsyncSurvivesCanceledContext(t *testing.T) {
	a, b := &memorySink{}, &memorySink{err: errors.New("unavailable")}
	multi := NewMultiSink(a, b)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, multi.Write(ctx, &SecurityEvent{Event: auth.EventLoginSuccess}))
	cancel()
	multi.Wait()

	assert.Equal(t, 1, a.count())
	errs := multi.GetErrors()
	require.Len(t, errs, 1)
	assert.EqualError(t, errs[0], "unavailable")
	assert.Empty(t, multi.GetErrors())
}

func TestDBSink_Write(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	sink, err := NewDBSink(db)
	require.NoError(t, err)

	ts := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	mock.ExpectExec("INSERT INTO security_events").
		WithArgs("evt-1", auth.EventLoginFailed, `{"reason":"unknown_user"}`, ts).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO security_events").
		WillReturnError(errors.New("connection reset"))

	require.NoError(t, sink.Write(context.Background(), &SecurityEvent{
		ID: "evt-1", Event: auth.EventLoginFailed, Timestamp: ts,
		Metadata: map[string]interface{}{"reason": "unknown_user"},
	}))
	assert.Error(t, sink.Write(context.Background(), &SecurityEvent{ID: "evt-2", Event: auth.EventLoginFailed, Timestamp: ts}))
	assert.NoError(t, mock.ExpectationsWereMet())

	_, err = NewDBSink(nil)
	assert.Error(t, err)
}

func TestDBSink_SQLiteRoundTrip(t *testing.T) {
	ctx := context.Background()
	db, err := sqlstore.Open(ctx, sqlstore.Config{Driver: sqlstore.DriverSQLite, URL: ":memory:"})
	require.NoError(t, err)
	defer db.Close()
	_, err = sqlstore.Migrate(ctx, db)
	require.NoError(t, err)

	sink, err := NewDBSink(db)
	require.NoError(t, err)
	recorder := NewRecorder(sink, nil)

	base := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	for i, event := range []string{auth.EventLoginFailed, auth.EventLoginFailed, auth.EventAccountLocked} {
		at := base.Add(time.Duration(i) * time.Minute)
		recorder.now = func() time.Time { return at }
		recorder.LogSecurityEvent(ctx, event, map[string]interface{}{"attempt": i})
	}

	failed, err := sink.Recent(ctx, auth.EventLoginFailed, base, 10)
	require.NoError(t, err)
	require.Len(t, failed, 2)
	assert.Equal(t, float64(1), failed[0].Metadata["attempt"], "newest first")

	all, err := sink.Recent(ctx, "", base.Add(time.Minute), 0)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, auth.EventAccountLocked, all[0].Event)
}

func TestFileSink_WriteAndRotate(t *testing.T) {
	dir := t.TempDir()
	sink, err := NewFileSink(FileSinkConfig{Dir: dir, MaxSize: 200, MaxFiles: 2})
	require.NoError(t, err)

	tick := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	sink.now = func() time.Time {
		tick = tick.Add(time.Second)
		return tick
	}

	for i := 0; i < 20; i++ {
		require.NoError(t, sink.Write(context.Background(), &SecurityEvent{
			ID:       "evt",
			Event:    auth.EventLoginFailed,
			Metadata: map[string]interface{}{"reason": "bad_password"},
		}))
	}

	events, err := sink.ReadEvents(0)
	require.NoError(t, err)
	assert.NotEmpty(t, events)
	assert.Equal(t, auth.EventLoginFailed, events[0].Event)

	rotated, err := filepath.Glob(filepath.Join(dir, "security-*.log"))
	require.NoError(t, err)
	assert.Len(t, rotated, 2, "old rotated files are pruned")

	require.NoError(t, sink.Close())
	assert.Error(t, sink.Write(context.Background(), &SecurityEvent{}))
	assert.NoError(t, sink.Close())
}

func TestNewFileSink_RequiresDir(t *testing.T) {
	_, err := NewFileSink(FileSinkConfig{})
	assert.Error(t, err)
}
