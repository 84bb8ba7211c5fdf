package lock

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/JakeFAU/classifieds-crawler/internal/metrics"
)

const (
	defaultTTL           = 2 * time.Minute
	defaultRetryInterval = 50 * time.Millisecond
	defaultKeyPrefix     = "classifieds:item-lock:"
)

var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
else
	return 0
end
`)

// RedisConfig controls the distributed locker.
type RedisConfig struct {
	// TTL bounds how long a crashed holder can block others.
	TTL           time.Duration
	RetryInterval time.Duration
	KeyPrefix     string
}

// Redis is a catalog.Locker shared by every crawler process pointing at
// the same Redis instance.
type Redis struct {
	client redis.UniversalClient
	cfg    RedisConfig
	logger *zap.Logger
}

// NewRedis builds a Redis locker.
func NewRedis(client redis.UniversalClient, cfg RedisConfig, logger *zap.Logger) *Redis {
	metrics.Init()
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.TTL <= 0 {
		cfg.TTL = defaultTTL
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = defaultRetryInterval
	}
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = defaultKeyPrefix
	}
	return &Redis{client: client, cfg: cfg, logger: logger.Named("lock")}
}

// Lock implements catalog.Locker. Every key shares one token, so the
// release only deletes keys this call set.
func (r *Redis) Lock(ctx context.Context, keys []string) (func(), error) {
	start := time.Now()
	defer observeWait(start)

	token := uuid.NewString()
	keys = normalize(keys)
	acquired := make([]string, 0, len(keys))
	for _, key := range keys {
		redisKey := r.redisKey(key)
		if err := r.acquire(ctx, redisKey, token); err != nil {
			r.releaseAll(acquired, token)
			if ctx.Err() != nil {
				return nil, timeoutErr(ctx, key)
			}
			return nil, err
		}
		acquired = append(acquired, redisKey)
	}
	var once sync.Once
	return func() { once.Do(func() { r.releaseAll(acquired, token) }) }, nil
}

func (r *Redis) acquire(ctx context.Context, key, token string) error {
	ticker := time.NewTicker(r.cfg.RetryInterval)
	defer ticker.Stop()
	for {
		ok, err := r.client.SetNX(ctx, key, token, r.cfg.TTL).Result()
		if err != nil {
			return fmt.Errorf("acquire lock %s: %w", key, err)
		}
		if ok {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// releaseAll runs detached from the caller's context, which may already be
// cancelled by the time locks are released.
func (r *Redis) releaseAll(keys []string, token string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for i := len(keys) - 1; i >= 0; i-- {
		n, err := releaseScript.Run(ctx, r.client, []string{keys[i]}, token).Int()
		if err != nil {
			r.logger.Warn("release lock failed", zap.String("key", keys[i]), zap.Error(err))
			continue
		}
		if n == 0 {
			r.logger.Warn("lock expired before release", zap.String("key", keys[i]))
		}
	}
}

// redisKey hashes the URL so arbitrary listing URLs map to bounded keys.
func (r *Redis) redisKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return r.cfg.KeyPrefix + hex.EncodeToString(sum[:16])
}
