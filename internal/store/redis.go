package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/aurumvault/gold-ledger/internal/model"
)

// CommitChannel is the Redis pub/sub channel commit events are published on.
const CommitChannel = "gold-ledger:commits"

// SummaryCache is a Redis read-through cache of balance summaries for
// display readers. Entries are computed from a consistent snapshot and are
// dropped whenever a commit touches the owner.
//
// Each owner has a generation counter bumped by Invalidate. A summary loaded
// while a commit invalidates the owner is not cached, so a stale summary can
// never outlive the invalidation by the TTL.
type SummaryCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewSummaryCache creates a cache over rdb.
func NewSummaryCache(rdb *redis.Client, ttl time.Duration) *SummaryCache {
	return &SummaryCache{rdb: rdb, ttl: ttl}
}

// Get returns the cached summary of owner, loading and caching it on a miss.
func (c *SummaryCache) Get(ctx context.Context, owner string, load func(context.Context) (model.BalanceSummary, error)) (model.BalanceSummary, error) {
	// Try cache.
	data, err := c.rdb.Get(ctx, summaryKey(owner)).Bytes()
	if err == nil {
		var s model.BalanceSummary
		if json.Unmarshal(data, &s) == nil {
			return s, nil
		}
	}

	// Cache miss: note the generation, then read from the store.
	gen, err := c.rdb.Get(ctx, generationKey(owner)).Int64()
	cacheable := err == nil || errors.Is(err, redis.Nil)

	s, err := load(ctx)
	if err != nil {
		return model.BalanceSummary{}, err
	}

	if cacheable {
		c.set(ctx, owner, gen, s)
	}
	return s, nil
}

var errGenerationMoved = errors.New("summary generation moved")

// set caches s only if owner's generation is still gen.
func (c *SummaryCache) set(ctx context.Context, owner string, gen int64, s model.BalanceSummary) {
	data, err := json.Marshal(s)
	if err != nil {
		return
	}
	err = c.rdb.Watch(ctx, func(tx *redis.Tx) error {
		cur, err := tx.Get(ctx, generationKey(owner)).Int64()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		if cur != gen {
			return errGenerationMoved
		}
		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.Set(ctx, summaryKey(owner), data, c.ttl)
			return nil
		})
		return err
	}, generationKey(owner))
	if err != nil && !errors.Is(err, errGenerationMoved) && !errors.Is(err, redis.TxFailedErr) {
		slog.Warn("summary cache write failed", "owner", owner, "err", err)
	}
}

// Invalidate drops the cached summary of owner and bumps its generation.
func (c *SummaryCache) Invalidate(ctx context.Context, owner string) {
	_, err := c.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Incr(ctx, generationKey(owner))
		p.Del(ctx, summaryKey(owner))
		return nil
	})
	if err != nil {
		slog.Warn("summary invalidation failed", "owner", owner, "err", err)
	}
}

// Notify invalidates the owner's summary and publishes the event so every
// instance can push it to its own clients.
func (c *SummaryCache) Notify(ctx context.Context, ev model.CommitEvent) {
	c.Invalidate(ctx, ev.OwnerID)

	data, err := json.Marshal(ev)
	if err != nil {
		return
	}
	if err := c.rdb.Publish(ctx, CommitChannel, data).Err(); err != nil {
		slog.Warn("commit publish failed", "owner", ev.OwnerID, "err", err)
	}
}

// Subscribe streams commit events published by any instance until ctx ends.
func (c *SummaryCache) Subscribe(ctx context.Context) <-chan model.CommitEvent {
	sub := c.rdb.Subscribe(ctx, CommitChannel)
	out := make(chan model.CommitEvent, 64)

	// Wait for the subscription to be confirmed so no event published after
	// Subscribe returns is missed.
	if _, err := sub.Receive(ctx); err != nil {
		slog.Warn("commit subscribe failed", "err", err)
	}

	go func() {
		defer close(out)
		defer sub.Close()

		msgs := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				var ev model.CommitEvent
				if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
					slog.Warn("bad commit event", "err", err)
					continue
				}
				select {
				case out <- ev:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out
}

func summaryKey(owner string) string { return fmt.Sprintf("summary:%s", owner) }

func generationKey(owner string) string { return fmt.Sprintf("summary:gen:%s", owner) }
