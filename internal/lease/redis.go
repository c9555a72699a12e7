// Package lease is the cross-process run-guard: a Redis key per job name,
// owned by a random token and expiring after a TTL so a crashed holder
// cannot block the job forever.
package lease

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

// DefaultTTL bounds how long a lease outlives a holder that stopped renewing it.
const DefaultTTL = 30 * time.Minute

const keyPrefix = "sellerpilot:lease:"

// releaseScript deletes the key only if it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// extendScript pushes the expiry forward only if it still holds our token.
var extendScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

// RedisGuard implements scheduler.Guard over Redis SET NX PX.
type RedisGuard struct {
	client redis.UniversalClient
	ttl    time.Duration
	owner  string
	logger *slog.Logger
}

// NewRedisGuard creates a guard. owner identifies this process in the lease value.
func NewRedisGuard(client redis.UniversalClient, ttl time.Duration, owner string, logger *slog.Logger) *RedisGuard {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisGuard{client: client, ttl: ttl, owner: owner, logger: logger}
}

// Dial connects to addr and verifies the connection.
func Dial(ctx context.Context, addr string) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("lease: ping redis %s: %w", addr, err)
	}
	return client, nil
}

// Key is the Redis key holding the lease for a job name.
func Key(name string) string {
	return keyPrefix + name
}

// Acquire takes the lease for name if nobody holds it. While held, the lease
// is renewed every ttl/3; the returned release stops renewal and deletes the key.
func (g *RedisGuard) Acquire(ctx context.Context, name string) (func(), bool, error) {
	token := g.owner + "/" + uuid.NewString()
	key := Key(name)

	ok, err := g.client.SetNX(ctx, key, token, g.ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("lease: acquire %s: %w", name, err)
	}
	if !ok {
		return nil, false, nil
	}

	stop := make(chan struct{})
	done := make(chan struct{})
	go g.renew(key, token, stop, done)

	var once sync.Once
	release := func() {
		once.Do(func() {
			close(stop)
			<-done

			rctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := releaseScript.Run(rctx, g.client, []string{key}, token).Err(); err != nil && !errors.Is(err, redis.Nil) {
				g.logger.Warn("lease release failed", "key", key, "error", err)
			}
		})
	}
	return release, true, nil
}

func (g *RedisGuard) renew(key, token string, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(g.ttl / 3)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			n, err := extendScript.Run(ctx, g.client, []string{key}, token, g.ttl.Milliseconds()).Int64()
			cancel()
			if err != nil {
				g.logger.Warn("lease renew failed", "key", key, "error", err)
				continue
			}
			if n == 0 {
				g.logger.Error("lease lost", "key", key)
				return
			}
		}
	}
}

// Holder returns the current lease value for name, or "" when the lease is free.
func (g *RedisGuard) Holder(ctx context.Context, name string) (string, error) {
	v, err := g.client.Get(ctx, Key(name)).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("lease: get %s: %w", name, err)
	}
	return v, nil
}
