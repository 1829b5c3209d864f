package keylock

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"github.com/yungbote/paperbridge-backend/internal/platform/ctxutil"
	"github.com/yungbote/paperbridge-backend/internal/platform/logger"
)

const (
	defaultLockTTL   = 30 * time.Second
	lockPollInterval = 25 * time.Millisecond
)

var releaseScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

type redisLocker struct {
	log    *logger.Logger
	rdb    goredis.UniversalClient
	prefix string
	ttl    time.Duration
	// owned is set when the locker dialed rdb itself and must close it.
	owned bool
}

// NewRedis returns a Locker shared across processes through REDIS_ADDR.
// Holders that outlive the TTL lose the key.
func NewRedis(log *logger.Logger) (Locker, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	addr := strings.TrimSpace(os.Getenv("REDIS_ADDR"))
	if addr == "" {
		return nil, fmt.Errorf("missing REDIS_ADDR")
	}
	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		Password:    os.Getenv("REDIS_PASSWORD"),
		DialTimeout: 5 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	l := NewRedisWithClient(log, rdb, "paperbridge:lock:", defaultLockTTL).(*redisLocker)
	l.owned = true
	return l, nil
}

func NewRedisWithClient(log *logger.Logger, rdb goredis.UniversalClient, prefix string, ttl time.Duration) Locker {
	if ttl <= 0 {
		ttl = defaultLockTTL
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &redisLocker{
		log:    log.With("service", "RedisKeyLock"),
		rdb:    rdb,
		prefix: prefix,
		ttl:    ttl,
	}
}

// Close releases the Redis client when the locker created it. Clients passed
// to NewRedisWithClient stay open.
func (l *redisLocker) Close() error {
	if l == nil || l.rdb == nil || !l.owned {
		return nil
	}
	return l.rdb.Close()
}

func (l *redisLocker) Lock(ctx context.Context, key string) (func(), error) {
	ctx = ctxutil.Default(ctx)
	if l == nil || l.rdb == nil {
		return nil, fmt.Errorf("redis key lock not initialized")
	}
	rkey := l.prefix + key
	token := uuid.New().String()

	ticker := time.NewTicker(lockPollInterval)
	defer ticker.Stop()
	for {
		ok, err := l.rdb.SetNX(ctx, rkey, token, l.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("redis lock %s: %w", key, err)
		}
		if ok {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			// release must run even when the caller's ctx is already cancelled
			rctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := releaseScript.Run(rctx, l.rdb, []string{rkey}, token).Err(); err != nil {
				l.log.Warn("redis unlock failed", "key", key, "error", err)
			}
		})
	}, nil
}
