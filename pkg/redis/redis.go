package redis

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

var ErrCacheMiss = errors.New("cache miss")

type IRedis interface {
	SetResult(ctx context.Context, key string, value []byte, expiration time.Duration) error
	GetResult(ctx context.Context, key string) ([]byte, error)
	DeleteResult(ctx context.Context, key string) error
	Close() error
}

type redisClient struct {
	client *redis.Client
}

// New connects to REDIS_ADDRESS. It returns nil when no address is set, in
// which case callers run without a cache.
func New() IRedis {
	redisAddr := os.Getenv("REDIS_ADDRESS")
	if redisAddr == "" {
		logrus.Info("REDIS_ADDRESS not set, result cache disabled")
		return nil
	}

	db, _ := strconv.Atoi(os.Getenv("REDIS_DB"))
	redisPassword := os.Getenv("REDIS_PASSWORD")

	logrus.Info(fmt.Sprintf("Connecting to Redis at %s...", redisAddr))

	client := redis.NewClient(&redis.Options{
		Addr:     redisAddr,
		Password: redisPassword,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := client.Ping(ctx).Result(); err != nil {
		logrus.Error(fmt.Sprintf("Failed to connect to Redis: %v", err))
	} else {
		logrus.Info("Successfully connected to Redis")
	}

	return NewFromClient(client)
}

func NewFromClient(client *redis.Client) IRedis {
	return &redisClient{client: client}
}

// TTLFromEnv reads CACHE_TTL as a duration, defaulting to ten minutes.
func TTLFromEnv() time.Duration {
	ttl, err := time.ParseDuration(os.Getenv("CACHE_TTL"))
	if err != nil || ttl <= 0 {
		return 10 * time.Minute
	}
	return ttl
}

func (r *redisClient) SetResult(ctx context.Context, key string, value []byte, expiration time.Duration) error {
	logrus.Debug(fmt.Sprintf("Caching result for key %s with expiration %v", key, expiration))
	err := r.client.Set(ctx, key, value, expiration).Err()
	if err != nil {
		logrus.Error(fmt.Sprintf("Error caching result for key %s: %v", key, err))
		return err
	}
	return nil
}

func (r *redisClient) GetResult(ctx context.Context, key string) ([]byte, error) {
	val, err := r.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		logrus.Debug(fmt.Sprintf("Result not cached for key %s", key))
		return nil, ErrCacheMiss
	} else if err != nil {
		logrus.Error(fmt.Sprintf("Error getting cached result for key %s: %v", key, err))
		return nil, err
	}
	logrus.Debug(fmt.Sprintf("Cache hit for key %s", key))
	return val, nil
}

func (r *redisClient) DeleteResult(ctx context.Context, key string) error {
	result, err := r.client.Del(ctx, key).Result()
	if err != nil {
		logrus.Error(fmt.Sprintf("Error deleting cached result for key %s: %v", key, err))
		return err
	}

	if result == 0 {
		logrus.Debug(fmt.Sprintf("Cached result %s not found for deletion", key))
	}
	return nil
}

func (r *redisClient) Close() error {
	return r.client.Close()
}
