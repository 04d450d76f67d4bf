// Package lockout implements per-identity brute-force protection on top of
// an atomic counter store.
//
// Keys are login_attempts:{email} (failure counter, TTL = window, set on the
// first failure) and account_lockout:{email} (lock flag, TTL = window, set
// when the counter reaches the threshold).
//
// RedisStore shares counters across instances. MemoryStore is bounded by an
// LRU and only protects a single process.
//
//	tracker := lockout.NewTracker(lockout.NewRedisStore(client), lockout.DefaultConfig(), logger)
//	if tracker.IsLocked(ctx, email) {
//		return auth.ErrAccountLocked
//	}
package lockout
