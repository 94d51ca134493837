package infra

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Guard is an advisory, TTL-bounded lock keyed by string. It narrows the
// window in which two user requests race on the same segment; correctness
// still rests on compare-and-swap writes.
type Guard interface {
	// Acquire returns ok=false when another holder owns key.
	Acquire(ctx context.Context, key string, ttl time.Duration) (release func(), ok bool, err error)
}

// LocalGuard guards keys within one process.
type LocalGuard struct {
	mu    sync.Mutex
	held  map[string]time.Time
	nowFn func() time.Time
}

// NewLocalGuard returns an in-process guard.
func NewLocalGuard() *LocalGuard {
	return &LocalGuard{held: make(map[string]time.Time), nowFn: time.Now}
}

func (g *LocalGuard) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	now := g.nowFn()
	if until, ok := g.held[key]; ok && now.Before(until) {
		return nil, false, nil
	}
	until := now.Add(ttl)
	g.held[key] = until
	return func() {
		g.mu.Lock()
		defer g.mu.Unlock()
		if g.held[key].Equal(until) {
			delete(g.held, key)
		}
	}, true, nil
}

// RedisGuard shares guards across API replicas.
type RedisGuard struct {
	client *redis.Client
	prefix string
	logger *Logger
}

// NewRedisGuard parses redisURL and returns a guard backed by it.
func NewRedisGuard(redisURL, prefix string, logger *Logger) (*RedisGuard, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	if prefix == "" {
		prefix = "genflow:guard:"
	}
	return &RedisGuard{client: redis.NewClient(opts), prefix: prefix, logger: LoggerOrDiscard(logger)}, nil
}

// Ping checks connectivity.
func (g *RedisGuard) Ping(ctx context.Context) error {
	return g.client.Ping(ctx).Err()
}

// Close releases the underlying connection pool.
func (g *RedisGuard) Close() error {
	return g.client.Close()
}

// Release deletes the key only if it still holds the caller's token.
var redisGuardReleaseLua = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
	return redis.call('DEL', KEYS[1])
end
return 0
`)

func (g *RedisGuard) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), bool, error) {
	token := uuid.NewString()
	fullKey := g.prefix + key
	ok, err := g.client.SetNX(ctx, fullKey, token, ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("redis guard: %w", err)
	}
	if !ok {
		return nil, false, nil
	}
	return func() {
		// Release must outlive a cancelled request context.
		releaseCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := redisGuardReleaseLua.Run(releaseCtx, g.client, []string{fullKey}, token).Err(); err != nil && err != redis.Nil {
			g.logger.Warn().Err(err).Str("key", key).Msg("redis guard: release failed")
		}
	}, true, nil
}

var (
	_ Guard = (*LocalGuard)(nil)
	_ Guard = (*RedisGuard)(nil)
)
