package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/xela07ax/assetdesk/internal/infra"
)

// releaseScript снимает блокировку, только если она всё ещё наша.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

// RedisLocker — SETNX блокировка с TTL.
type RedisLocker struct {
	rdb *redis.Client
}

func NewRedisLocker(rdb *redis.Client) *RedisLocker {
	return &RedisLocker{rdb: rdb}
}

func (l *RedisLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (func(), bool, error) {
	token := uuid.NewString()
	ok, err := l.rdb.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return func() {}, false, fmt.Errorf("redis: lock %s: %w", key, err)
	}
	if !ok {
		return func() {}, false, nil
	}
	release := func() {
		// Отдельный контекст: исходный мог уже истечь
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = releaseScript.Run(ctx, l.rdb, []string{key}, token).Err()
	}
	return release, true, nil
}

// RedisNotifier публикует "agentKey:commandID" в канал команд агентов.
type RedisNotifier struct {
	rdb *redis.Client
}

func NewRedisNotifier(rdb *redis.Client) *RedisNotifier {
	return &RedisNotifier{rdb: rdb}
}

func (n *RedisNotifier) NotifyCommand(ctx context.Context, agentKey, commandID string) error {
	payload := fmt.Sprintf("%s:%s", agentKey, commandID)
	return n.rdb.Publish(ctx, infra.RedisChanAgentCommands, payload).Err()
}
