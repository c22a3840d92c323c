// Package ownerlock serializes operations per owner across service
// instances. It sits in front of the store's own row locking so contended
// owners queue in Redis instead of piling up in database lock waits.
package ownerlock

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v9"
	"github.com/redis/go-redis/v9"

	"github.com/aurumvault/gold-ledger/internal/model"
)

// Locker runs fn while holding the locks of every owner.
type Locker interface {
	WithLock(ctx context.Context, owners []string, fn func(context.Context) error) error
}

// Nop runs fn without locking. The store's transaction discipline still
// applies.
type Nop struct{}

func (Nop) WithLock(ctx context.Context, _ []string, fn func(context.Context) error) error {
	return fn(ctx)
}

// Options configures lock acquisition.
type Options struct {
	// Expiry is how long a lock is held before auto-expiring.
	Expiry time.Duration

	// Tries is the number of acquisition attempts.
	Tries int

	// RetryDelay is the delay between attempts.
	RetryDelay time.Duration
}

// DefaultOptions suits short ledger transactions.
func DefaultOptions() Options {
	return Options{
		Expiry:     10 * time.Second,
		Tries:      20,
		RetryDelay: 50 * time.Millisecond,
	}
}

// Redis implements Locker with the RedLock algorithm.
type Redis struct {
	rs   *redsync.Redsync
	opts Options
}

// NewRedis creates a Redis-backed locker.
func NewRedis(rdb redis.UniversalClient, opts Options) *Redis {
	if opts.Tries < 1 {
		opts.Tries = 1
	}
	return &Redis{rs: redsync.New(goredis.NewPool(rdb)), opts: opts}
}

// WithLock acquires owner locks in sorted order, runs fn, and releases them.
// Failure to acquire is a ConcurrencyConflictError so callers retry.
func (l *Redis) WithLock(ctx context.Context, owners []string, fn func(context.Context) error) error {
	keys := append([]string(nil), owners...)
	sort.Strings(keys)

	var held []*redsync.Mutex
	defer func() {
		for i := len(held) - 1; i >= 0; i-- {
			if _, err := held[i].UnlockContext(context.WithoutCancel(ctx)); err != nil {
				slog.Warn("owner unlock failed", "key", held[i].Name(), "err", err)
			}
		}
	}()

	for i, owner := range keys {
		if i > 0 && owner == keys[i-1] {
			continue
		}
		m := l.rs.NewMutex(Key(owner),
			redsync.WithExpiry(l.opts.Expiry),
			redsync.WithTries(l.opts.Tries),
			redsync.WithRetryDelay(l.opts.RetryDelay),
		)
		if err := m.LockContext(ctx); err != nil {
			return &model.ConcurrencyConflictError{Op: "owner lock " + owner, Err: err}
		}
		held = append(held, m)
	}

	return fn(ctx)
}

// Key is the Redis key guarding owner.
func Key(owner string) string { return "lock:owner:" + owner }
