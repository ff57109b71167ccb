// Package redisview mirrors the block/allow lists to Redis so other
// sentryd instances (or edge enforcers) can read access decisions
// without a roundtrip through the pipeline Orchestrator, and tracks
// per-source streak counters for operator-defined correlation rules.
package redisview

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	blockSetKey  = "sentryd:blocklist"
	allowSetKey  = "sentryd:allowlist"
	streakPrefix = "sentryd:streak:"
)

// View owns a pooled Redis connection.
type View struct {
	client *redis.Client
}

// Open dials addr/db and verifies connectivity.
func Open(addr string, db int) (*View, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		DB:           db,
		MinIdleConns: 2,
		MaxRetries:   3,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redisview: ping: %w", err)
	}

	return &View{client: client}, nil
}

// Close releases the connection.
func (v *View) Close() error {
	return v.client.Close()
}

// MirrorBlock adds addr to the shared block set and removes it from
// the allow set, keeping the two mutually exclusive in Redis the same
// way internal/core/lists keeps them mutually exclusive in memory.
func (v *View) MirrorBlock(ctx context.Context, addr string) error {
	pipe := v.client.TxPipeline()
	pipe.SAdd(ctx, blockSetKey, addr)
	pipe.SRem(ctx, allowSetKey, addr)
	_, err := pipe.Exec(ctx)
	if err != nil {
		return fmt.Errorf("redisview: mirror block: %w", err)
	}
	return nil
}

// MirrorAllow adds addr to the shared allow set and removes it from
// the block set.
func (v *View) MirrorAllow(ctx context.Context, addr string) error {
	pipe := v.client.TxPipeline()
	pipe.SAdd(ctx, allowSetKey, addr)
	pipe.SRem(ctx, blockSetKey, addr)
	_, err := pipe.Exec(ctx)
	if err != nil {
		return fmt.Errorf("redisview: mirror allow: %w", err)
	}
	return nil
}

// MirrorRemoveBlock removes addr from the shared block set.
func (v *View) MirrorRemoveBlock(ctx context.Context, addr string) error {
	if err := v.client.SRem(ctx, blockSetKey, addr).Err(); err != nil {
		return fmt.Errorf("redisview: remove block: %w", err)
	}
	return nil
}

// MirrorRemoveAllow removes addr from the shared allow set.
func (v *View) MirrorRemoveAllow(ctx context.Context, addr string) error {
	if err := v.client.SRem(ctx, allowSetKey, addr).Err(); err != nil {
		return fmt.Errorf("redisview: remove allow: %w", err)
	}
	return nil
}

// IsBlocked checks the shared block set, for enforcers that don't run
// their own Orchestrator.
func (v *View) IsBlocked(ctx context.Context, addr string) (bool, error) {
	return v.client.SIsMember(ctx, blockSetKey, addr).Result()
}

// IncrementStreak bumps a source's consecutive-detection counter with
// a sliding expiry, for rules (internal/rules) that want "fired N
// times in a row" conditions without re-deriving it from the alert
// ring on every evaluation.
func (v *View) IncrementStreak(ctx context.Context, source string, window time.Duration) (int64, error) {
	key := streakPrefix + source
	count, err := v.client.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("redisview: increment streak: %w", err)
	}
	if count == 1 {
		v.client.Expire(ctx, key, window)
	}
	return count, nil
}

// ResetStreak clears a source's streak counter.
func (v *View) ResetStreak(ctx context.Context, source string) error {
	if err := v.client.Del(ctx, streakPrefix+source).Err(); err != nil {
		return fmt.Errorf("redisview: reset streak: %w", err)
	}
	return nil
}
