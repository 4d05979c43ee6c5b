package lock

import (
	stdcontext "context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// releaseScript deletes the key only if it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker shares locks across server instances through Redis.
type RedisLocker struct {
	client redis.Cmdable
	ttl    time.Duration
	prefix string
	logger *zap.Logger
}

// RedisOption configures a RedisLocker.
type RedisOption func(*RedisLocker)

// WithKeyPrefix namespaces every key.
func WithKeyPrefix(prefix string) RedisOption {
	return func(l *RedisLocker) {
		l.prefix = prefix
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) RedisOption {
	return func(l *RedisLocker) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// NewRedisLocker creates a RedisLocker. A non-positive ttl takes DefaultTTL.
func NewRedisLocker(client redis.Cmdable, ttl time.Duration, opts ...RedisOption) *RedisLocker {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	l := &RedisLocker{client: client, ttl: ttl, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Acquire takes key with SET NX PX. It returns ErrLocked when the key is held
// and a wrapped error when Redis cannot be reached.
func (l *RedisLocker) Acquire(ctx stdcontext.Context, key string) (Release, error) {
	key = l.prefix + key
	token := uuid.NewString()

	ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire lock %s: %w", key, err)
	}
	if !ok {
		return nil, ErrLocked
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			// the request context may already be cancelled
			releaseCtx, cancel := stdcontext.WithTimeout(stdcontext.Background(), 5*time.Second)
			defer cancel()
			if err := releaseScript.Run(releaseCtx, l.client, []string{key}, token).Err(); err != nil {
				l.logger.Warn("Failed to release lock", zap.String("key", key), zap.Error(err))
			}
		})
	}, nil
}
