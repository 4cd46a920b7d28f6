package infra

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/rampline/settlement/pkg/common/logger"
)

// RedisClient abstracts the handful of redis operations the address index needs.
type RedisClient interface {
	GetClient() *redis.Client
	SAdd(ctx context.Context, key string, members ...any) error
	SIsMember(ctx context.Context, key string, member any) (bool, error)
	Del(ctx context.Context, keys ...string) error
	Close() error
}

type RedisWrapper struct {
	client *redis.Client
}

func NewRedisClient(addr string, password string) (RedisClient, error) {
	cpus := runtime.GOMAXPROCS(0)

	opts := &redis.Options{
		Addr:            addr,
		Password:        password,
		DB:              0,
		PoolSize:        cpus * 10,
		MinIdleConns:    cpus * 2,
		ConnMaxLifetime: 30 * time.Minute,
		ConnMaxIdleTime: 5 * time.Minute,
		DialTimeout:     5 * time.Second,
		ReadTimeout:     3 * time.Second,
		WriteTimeout:    3 * time.Second,
		MaxRetries:      3,
		MinRetryBackoff: 100 * time.Millisecond,
		MaxRetryBackoff: 500 * time.Millisecond,
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pong, err := client.Ping(ctx).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	logger.Info("Connected to Redis", "pong", pong)

	return &RedisWrapper{client: client}, nil
}

func (rw *RedisWrapper) GetClient() *redis.Client {
	return rw.client
}

func (rw *RedisWrapper) SAdd(ctx context.Context, key string, members ...any) error {
	return rw.client.SAdd(ctx, key, members...).Err()
}

func (rw *RedisWrapper) SIsMember(ctx context.Context, key string, member any) (bool, error) {
	return rw.client.SIsMember(ctx, key, member).Result()
}

func (rw *RedisWrapper) Del(ctx context.Context, keys ...string) error {
	return rw.client.Del(ctx, keys...).Err()
}

func (rw *RedisWrapper) Close() error {
	return rw.client.Close()
}
