package vault

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/aurumvault/gold-ledger/internal/model"
)

// retry runs op until it succeeds, fails with a non-conflict error, or has
// been retried limit times. Delays grow as base*2^attempt with full jitter.
func retry(ctx context.Context, limit int, base time.Duration, op func() error, onRetry func(attempt int, err error)) error {
	for attempt := 0; ; attempt++ {
		err := op()
		if err == nil || !model.IsConflict(err) || attempt >= limit {
			return err
		}
		if onRetry != nil {
			onRetry(attempt+1, err)
		}
		if err := sleep(ctx, jitter(base, attempt)); err != nil {
			return err
		}
	}
}

// jitter returns a random duration in [0, base*2^attempt).
func jitter(base time.Duration, attempt int) time.Duration {
	if base <= 0 {
		return 0
	}
	if attempt > 16 {
		attempt = 16
	}
	d := base << attempt
	return time.Duration(rand.Int64N(int64(d)))
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("retry aborted: %w", ctx.Err())
	}
}
