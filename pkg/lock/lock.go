// Package lock keeps two runs from measuring the same interface at once.
package lock

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"GoFlowRatio/pkg/flowerr"
)

// Locker guards an interface for the duration of a measurement.
type Locker interface {
	// Acquire returns a release func, or flowerr.ErrBusy when another holder exists.
	Acquire(ctx context.Context, iface string) (release func(), err error)
}

// Noop never blocks; used when no Redis is configured.
type Noop struct{}

func (Noop) Acquire(ctx context.Context, iface string) (func(), error) {
	return func() {}, nil
}

// releaseScript deletes the key only if it still holds our token, so an
// expired lock re-taken by someone else is left alone.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker holds config for the per-interface lock keys.
type RedisLocker struct {
	Client *redis.Client
	Prefix string
	TTL    time.Duration // upper bound on how long a crashed holder blocks others
	Logger *zap.Logger
}

// NewRedisLocker returns a locker using keys flowratio:lock:<iface>.
func NewRedisLocker(rdb *redis.Client, ttl time.Duration, logger *zap.Logger) *RedisLocker {
	if logger == nil {
		logger = zap.L()
	}
	return &RedisLocker{
		Client: rdb,
		Prefix: "flowratio:lock",
		TTL:    ttl,
		Logger: logger.Named("lock"),
	}
}

// Key generates the lock key for an interface.
func (l *RedisLocker) Key(iface string) string {
	return fmt.Sprintf("%s:%s", l.Prefix, iface)
}

// Acquire takes the interface key with SET NX and the configured TTL. The
// returned release deletes the key only while it still holds this call's token.
func (l *RedisLocker) Acquire(ctx context.Context, iface string) (func(), error) {
	key := l.Key(iface)
	logger := l.Logger
	if logger == nil {
		logger = zap.L()
	}
	token, err := newToken()
	if err != nil {
		return nil, err
	}

	ok, err := l.Client.SetNX(ctx, key, token, l.TTL).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: redis lock %s: %v", flowerr.ErrNetwork, key, err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", flowerr.ErrBusy, l.holder(ctx, key))
	}

	release := func() {
		// the caller's context may already be done
		rctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		deleted, err := releaseScript.Run(rctx, l.Client, []string{key}, token).Int64()
		switch {
		case err != nil:
			logger.Error("lock release failed, key stays until its ttl expires",
				zap.String("key", key), zap.Duration("ttl", l.TTL), zap.Error(err))
		case deleted == 0:
			logger.Warn("lock expired before release", zap.String("key", key), zap.Duration("ttl", l.TTL))
		}
	}
	return release, nil
}

// holder describes who holds key, for the busy error.
func (l *RedisLocker) holder(ctx context.Context, key string) string {
	owner, err := l.Client.Get(ctx, key).Result()
	if err != nil {
		return fmt.Sprintf("%s held by another run (owner unknown: %v)", key, err)
	}
	ttl, err := l.Client.TTL(ctx, key).Result()
	if err != nil {
		return fmt.Sprintf("%s held by %s (ttl unknown: %v)", key, owner, err)
	}
	return fmt.Sprintf("%s held by %s for another %s", key, owner, ttl)
}

func newToken() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("lock token: %w", err)
	}
	return hex.EncodeToString(b), nil
}
