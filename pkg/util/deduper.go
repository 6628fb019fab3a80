package util

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

type Deduper struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewDeduper(rdb *redis.Client, ttl time.Duration) *Deduper {
	return &Deduper{rdb: rdb, ttl: ttl}
}

// AcquireOnce tries to acquire a dedup lock for a given scope + key.
// Returns true if this is the FIRST time processing, false on a duplicate.
// If redis is unavailable it fails open: the pipeline is at-least-once and
// side effects are repeatable, so processing wins over blocking.
func (d *Deduper) AcquireOnce(ctx context.Context, scope, key string) bool {
	redisKey := fmt.Sprintf("dedup:%s:%s", scope, key)

	ok, err := d.rdb.SetNX(ctx, redisKey, 1, d.ttl).Result()
	if err != nil {
		return true
	}
	return ok
}

// Release drops the dedup lock so a redelivery of the same message can be
// processed again. Called when processing fails and the message is requeued.
func (d *Deduper) Release(ctx context.Context, scope, key string) {
	redisKey := fmt.Sprintf("dedup:%s:%s", scope, key)
	d.rdb.Del(ctx, redisKey)
}
