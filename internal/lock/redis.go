// Package lock provides a Redis-backed mutual exclusion keyed by string, used to
// serialize title resolution across server replicas.
package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

var (
	// ErrNotAcquired is returned when the lock is still held elsewhere after waiting.
	ErrNotAcquired = errors.New("lock: not acquired")
	// ErrNotHeld is returned when releasing a lock that expired or was taken over.
	ErrNotHeld = errors.New("lock: not held")
)

// releaseScript deletes the key only if it still holds our token.
var releaseScript = redis.NewScript(`
	if redis.call("get", KEYS[1]) == ARGV[1] then
		return redis.call("del", KEYS[1])
	else
		return 0
	end
`)

// Config holds Redis connection and lock settings.
type Config struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
	TTL       time.Duration
	Wait      time.Duration
}

// RedisLocker acquires short-lived locks with SET NX.
type RedisLocker struct {
	rdb       redis.UniversalClient
	keyPrefix string
	ttl       time.Duration
	wait      time.Duration
	logger    logrus.FieldLogger
}

// NewRedisLocker connects to Redis and verifies the connection.
func NewRedisLocker(ctx context.Context, cfg Config, logger logrus.FieldLogger) (*RedisLocker, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("connect redis at %s: %w", cfg.Addr, err)
	}

	locker := NewRedisLockerWithClient(rdb, cfg, logger)
	locker.logger.WithField("addr", cfg.Addr).Info("connected to redis")
	return locker, nil
}

// NewRedisLockerWithClient wraps an existing client.
func NewRedisLockerWithClient(rdb redis.UniversalClient, cfg Config, logger logrus.FieldLogger) *RedisLocker {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = "movieratings:resolve:"
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 30 * time.Second
	}
	if cfg.Wait <= 0 {
		cfg.Wait = cfg.TTL
	}
	return &RedisLocker{
		rdb:       rdb,
		keyPrefix: cfg.KeyPrefix,
		ttl:       cfg.TTL,
		wait:      cfg.Wait,
		logger:    logger.WithField("component", "lock"),
	}
}

// Lock blocks until the lock for key is acquired, the wait budget is spent or
// ctx is done. The returned function releases the lock.
func (l *RedisLocker) Lock(ctx context.Context, key string) (func(), error) {
	lockKey := l.keyPrefix + key
	token := uuid.NewString()

	deadline := time.Now().Add(l.wait)
	backoff := 10 * time.Millisecond

	for {
		ok, err := l.rdb.SetNX(ctx, lockKey, token, l.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("acquire lock %s: %w", key, err)
		}
		if ok {
			l.logger.WithField("key", key).Debug("acquired lock")
			return func() { l.release(lockKey, token) }, nil
		}
		if time.Now().After(deadline) {
			return nil, ErrNotAcquired
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
			backoff *= 2
			if backoff > 500*time.Millisecond {
				backoff = 500 * time.Millisecond
			}
		}
	}
}

func (l *RedisLocker) release(lockKey, token string) {
	// Release even when the caller's context is already cancelled.
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	deleted, err := releaseScript.Run(ctx, l.rdb, []string{lockKey}, token).Int64()
	if err == nil && deleted == 0 {
		err = ErrNotHeld
	}
	if err != nil {
		l.logger.WithError(err).WithField("key", lockKey).Warn("release lock")
	}
}

// Close closes the underlying Redis client.
func (l *RedisLocker) Close() error {
	return l.rdb.Close()
}
