package orchestrator

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"dealsense/pkg/utils"
)

// LiveCallGuard caps the number of concurrently live calls. Acquire is taken
// when a call record is first created and released when the call ends.
type LiveCallGuard interface {
	Acquire(ctx context.Context, callID string) (bool, error)
	Release(ctx context.Context, callID string) error
}

const liveCallsKey = "calls:live"

// RedisLiveCallGuard enforces the cap across processes. The TTL bounds slot
// leakage if a process dies mid-call.
type RedisLiveCallGuard struct {
	rdb   *redis.Client
	limit int
	ttl   time.Duration
}

func NewRedisLiveCallGuard(rdb *redis.Client, limit int, ttl time.Duration) *RedisLiveCallGuard {
	if ttl <= 0 {
		ttl = 4 * time.Hour
	}
	return &RedisLiveCallGuard{rdb: rdb, limit: limit, ttl: ttl}
}

func (g *RedisLiveCallGuard) Acquire(ctx context.Context, _ string) (bool, error) {
	return utils.AcquireConcurrencyCap(ctx, g.rdb, liveCallsKey, g.limit, g.ttl)
}

func (g *RedisLiveCallGuard) Release(ctx context.Context, _ string) error {
	return utils.ReleaseConcurrencyCap(ctx, g.rdb, liveCallsKey)
}
