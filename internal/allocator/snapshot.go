package allocator

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// lockTTL bounds how long a crashed worker can hold a campaign's state.
const lockTTL = 30 * time.Second

const lockRetryDelay = 50 * time.Millisecond

// releaseScript deletes the lock only if the caller still owns it, so an
// expired lock taken over by another worker is never released from here.
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// RedisSnapshotStore keeps one hash per campaign:
// allocator:<campaignID> maps accountID to lastReservedAt unix millis.
// The companion key allocator:lock:<campaignID> serializes writers across
// worker processes.
type RedisSnapshotStore struct {
	rdb *redis.Client
}

func NewRedisSnapshotStore(rdb *redis.Client) *RedisSnapshotStore {
	return &RedisSnapshotStore{rdb: rdb}
}

func snapshotKey(campaignID int64) string {
	return fmt.Sprintf("allocator:%d", campaignID)
}

func lockKey(campaignID int64) string {
	return fmt.Sprintf("allocator:lock:%d", campaignID)
}

// Lock blocks until this process holds the campaign's lock or ctx ends.
func (s *RedisSnapshotStore) Lock(ctx context.Context, campaignID int64) (func(), error) {
	key := lockKey(campaignID)

	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return nil, fmt.Errorf("failed to generate lock token: %w", err)
	}
	token := hex.EncodeToString(buf)

	for {
		ok, err := s.rdb.SetNX(ctx, key, token, lockTTL).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to acquire allocator lock: %w", err)
		}
		if ok {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(lockRetryDelay):
		}
	}

	release := func() {
		releaseScript.Run(context.Background(), s.rdb, []string{key}, token)
	}
	return release, nil
}

func (s *RedisSnapshotStore) Load(ctx context.Context, campaignID int64) (map[int64]int64, error) {
	fields, err := s.rdb.HGetAll(ctx, snapshotKey(campaignID)).Result()
	if err != nil {
		return nil, err
	}

	state := make(map[int64]int64, len(fields))
	for k, v := range fields {
		accountID, err := strconv.ParseInt(k, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("corrupt snapshot field %q: %w", k, err)
		}
		ts, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("corrupt snapshot value %q: %w", v, err)
		}
		state[accountID] = ts
	}
	return state, nil
}

// Save replaces the whole hash atomically so swept entries do not linger.
func (s *RedisSnapshotStore) Save(ctx context.Context, campaignID int64, state map[int64]int64) error {
	key := snapshotKey(campaignID)

	pipe := s.rdb.TxPipeline()
	pipe.Del(ctx, key)
	if len(state) > 0 {
		fields := make(map[string]interface{}, len(state))
		for accountID, ts := range state {
			fields[strconv.FormatInt(accountID, 10)] = strconv.FormatInt(ts, 10)
		}
		pipe.HSet(ctx, key, fields)
	}
	_, err := pipe.Exec(ctx)
	return err
}
