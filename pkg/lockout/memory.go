package lockout

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultMemoryStoreSize bounds the number of tracked identities
const DefaultMemoryStoreSize = 100_000

type memoryEntry struct {
	value     string
	expiresAt time.Time // zero means no expiry
}

func (e *memoryEntry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && !now.Before(e.expiresAt)
}

// MemoryStore is a single-process CounterStore for development and for
// deployments without Redis. Counters are not shared across instances.
// The LRU bound keeps a flood of distinct identities from growing memory
// without limit; evicting a counter can only make lockout more lenient.
type MemoryStore struct {
	mu    sync.Mutex
	cache *lru.Cache[string, *memoryEntry]
	now   func() time.Time
}

// NewMemoryStore creates an in-memory store holding at most size keys
func NewMemoryStore(size int) (*MemoryStore, error) {
	if size <= 0 {
		size = DefaultMemoryStoreSize
	}
	cache, err := lru.New[string, *memoryEntry](size)
	if err != nil {
		return nil, fmt.Errorf("failed to create lru cache: %w", err)
	}
	return &MemoryStore{cache: cache, now: time.Now}, nil
}

// lookup returns the live entry for key, dropping it if expired.
// Caller holds s.mu.
func (s *MemoryStore) lookup(key string) (*memoryEntry, bool) {
	entry, ok := s.cache.Get(key)
	if !ok {
		return nil, false
	}
	if entry.expired(s.now()) {
		s.cache.Remove(key)
		return nil, false
	}
	return entry, true
}

func (s *MemoryStore) Incr(ctx context.Context, key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.lookup(key)
	if !ok {
		entry = &memoryEntry{value: "0"}
		s.cache.Add(key, entry)
	}

	n, err := strconv.ParseInt(entry.value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("value at %q is not an integer", key)
	}
	n++
	entry.value = strconv.FormatInt(n, 10)
	return n, nil
}

func (s *MemoryStore) Expire(ctx context.Context, key string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry, ok := s.lookup(key); ok {
		entry.expiresAt = s.now().Add(ttl)
	}
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.lookup(key)
	if !ok {
		return 0, nil
	}
	n, err := strconv.ParseInt(entry.value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("value at %q is not an integer", key)
	}
	return n, nil
}

func (s *MemoryStore) Exists(ctx context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.lookup(key)
	return ok, nil
}

func (s *MemoryStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry := &memoryEntry{value: value}
	if ttl > 0 {
		entry.expiresAt = s.now().Add(ttl)
	}
	s.cache.Add(key, entry)
	return nil
}

func (s *MemoryStore) Del(ctx context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, key := range keys {
		s.cache.Remove(key)
	}
	return nil
}
