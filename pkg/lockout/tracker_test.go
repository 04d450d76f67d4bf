package lockout

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/gatehouse/pkg/observability"
)

// setupRedisTracker creates a miniredis-backed tracker and returns it with
// the server for inspection
func setupRedisTracker(t *testing.T, cfg Config) (*Tracker, *miniredis.Miniredis, *observability.Metrics) {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		client.Close()
		mr.Close()
	})

	metrics := observability.NewMetrics(nil)
	tracker := NewTracker(NewRedisStore(client), cfg, nil, WithMetrics(metrics))
	return tracker, mr, metrics
}

func TestTracker_BelowThresholdNeverLocks(t *testing.T) {
	ctx := context.Background()
	tracker, mr, _ := setupRedisTracker(t, DefaultConfig())

	for i := 1; i < DefaultThreshold; i++ {
		tracker.RecordFailure(ctx, "a@x.com")
		assert.False(t, tracker.IsLocked(ctx, "a@x.com"), "attempt %d", i)
	}

	val, err := mr.Get("login_attempts:a@x.com")
	require.NoError(t, err)
	assert.Equal(t, "4", val)
	assert.False(t, mr.Exists("account_lockout:a@x.com"))
}

func TestTracker_ThresholdLocksForWindow(t *testing.T) {
	ctx := context.Background()
	cfg := Config{Threshold: 5, Window: 15 * time.Minute}
	tracker, mr, metrics := setupRedisTracker(t, cfg)

	for i := 0; i < 5; i++ {
		tracker.RecordFailure(ctx, "a@x.com")
	}

	assert.True(t, tracker.IsLocked(ctx, "a@x.com"))
	assert.Equal(t, 15*time.Minute, mr.TTL("account_lockout:a@x.com"))
	assert.Equal(t, 15*time.Minute, mr.TTL("login_attempts:a@x.com"))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.LockoutsTotal))

	mr.FastForward(15*time.Minute - time.Second)
	assert.True(t, tracker.IsLocked(ctx, "a@x.com"))

	mr.FastForward(time.Second)
	assert.False(t, tracker.IsLocked(ctx, "a@x.com"))
	assert.False(t, mr.Exists("login_attempts:a@x.com"))
}

func TestTracker_WindowStartsAtFirstFailure(t *testing.T) {
	ctx := context.Background()
	tracker, mr, _ := setupRedisTracker(t, Config{Threshold: 5, Window: 10 * time.Minute})

	tracker.RecordFailure(ctx, "a@x.com")
	mr.FastForward(4 * time.Minute)
	tracker.RecordFailure(ctx, "a@x.com")

	assert.Equal(t, 6*time.Minute, mr.TTL("login_attempts:a@x.com"))
}

func TestTracker_ResetClearsEverything(t *testing.T) {
	ctx := context.Background()
	tracker, mr, _ := setupRedisTracker(t, Config{Threshold: 2, Window: time.Minute})

	tracker.RecordFailure(ctx, "a@x.com")
	tracker.RecordFailure(ctx, "a@x.com")
	require.True(t, tracker.IsLocked(ctx, "a@x.com"))

	tracker.Reset(ctx, "a@x.com")
	assert.False(t, tracker.IsLocked(ctx, "a@x.com"))
	assert.False(t, mr.Exists("login_attempts:a@x.com"))
	assert.False(t, mr.Exists("account_lockout:a@x.com"))

	attempts, locked, err := tracker.Status(ctx, "a@x.com")
	require.NoError(t, err)
	assert.Zero(t, attempts)
	assert.False(t, locked)
}

func TestTracker_IdentityIsCaseInsensitive(t *testing.T) {
	ctx := context.Background()
	tracker, _, _ := setupRedisTracker(t, Config{Threshold: 2, Window: time.Minute})

	tracker.RecordFailure(ctx, "A@X.com")
	tracker.RecordFailure(ctx, "a@x.COM")
	assert.True(t, tracker.IsLocked(ctx, "a@x.com"))
}

func TestTracker_ConcurrentFailuresAreNotLost(t *testing.T) {
	ctx := context.Background()
	tracker, _, _ := setupRedisTracker(t, Config{Threshold: 1000, Window: time.Minute})

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tracker.RecordFailure(ctx, "a@x.com")
		}()
	}
	wg.Wait()

	attempts, _, err := tracker.Status(ctx, "a@x.com")
	require.NoError(t, err)
	assert.Equal(t, int64(50), attempts)
}

type failingStore struct{}

var errStoreDown = errors.New("connection refused")

func (failingStore) Incr(context.Context, string) (int64, error)            { return 0, errStoreDown }
func (failingStore) Expire(context.Context, string, time.Duration) error    { return errStoreDown }
func (failingStore) Get(context.Context, string) (int64, error)             { return 0, errStoreDown }
func (failingStore) Exists(context.Context, string) (bool, error)           { return false, errStoreDown }
func (failingStore) Set(context.Context, string, string, time.Duration) error { return errStoreDown }
func (failingStore) Del(context.Context, ...string) error                   { return errStoreDown }

func TestTracker_FailsOpen(t *testing.T) {
	ctx := context.Background()
	metrics := observability.NewMetrics(nil)
	tracker := NewTracker(failingStore{}, DefaultConfig(), nil, WithMetrics(metrics))

	assert.NotPanics(t, func() {
		for i := 0; i < 10; i++ {
			tracker.RecordFailure(ctx, "a@x.com")
		}
		tracker.Reset(ctx, "a@x.com")
	})
	assert.False(t, tracker.IsLocked(ctx, "a@x.com"))

	assert.Equal(t, float64(10), testutil.ToFloat64(metrics.LockoutStoreErrorsTotal.WithLabelValues("incr")))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.LockoutStoreErrorsTotal.WithLabelValues("exists")))

	_, _, err := tracker.Status(ctx, "a@x.com")
	assert.ErrorIs(t, err, errStoreDown)
}

func TestTracker_RedisOutageFailsOpen(t *testing.T) {
	ctx := context.Background()
	tracker, mr, _ := setupRedisTracker(t, Config{Threshold: 1, Window: time.Minute})

	tracker.RecordFailure(ctx, "a@x.com")
	require.True(t, tracker.IsLocked(ctx, "a@x.com"))

	mr.SetError("ERR server unavailable")
	assert.False(t, tracker.IsLocked(ctx, "a@x.com"))
}

type recordingEvents struct {
	mu     sync.Mutex
	events []string
}

func (r *recordingEvents) LogSecurityEvent(ctx context.Context, event string, metadata map[string]interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func TestTracker_EmitsLockEventOnce(t *testing.T) {
	ctx := context.Background()
	store, err := NewMemoryStore(10)
	require.NoError(t, err)

	events := &recordingEvents{}
	tracker := NewTracker(store, Config{Threshold: 2, Window: time.Minute}, nil, WithEventLogger(events))

	for i := 0; i < 4; i++ {
		tracker.RecordFailure(ctx, "a@x.com")
	}
	assert.Equal(t, []string{"account_locked"}, events.events)
}

func TestNewTracker_Defaults(t *testing.T) {
	tracker := NewTracker(failingStore{}, Config{}, nil)
	assert.Equal(t, DefaultConfig(), tracker.Config())
}
