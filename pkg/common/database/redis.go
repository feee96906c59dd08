package database

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/healthtrack/platform/pkg/common/config"
	"github.com/healthtrack/platform/pkg/common/logger"
	"github.com/redis/go-redis/v9"
)

const redisDialTimeout = 5 * time.Second

var (
	progressRedis *redis.Client
	progressOnce  sync.Once
)

// RedisOptions builds client options for the progress cache. Commands get
// short timeouts so a slow cache never stalls a batch commit.
func RedisOptions(cfg *config.Config) *redis.Options {
	return &redis.Options{
		Addr:         net.JoinHostPort(cfg.RedisHost, cfg.RedisPort),
		Password:     cfg.RedisPassword,
		DB:           cfg.RedisDB,
		DialTimeout:  redisDialTimeout,
		ReadTimeout:  time.Second,
		WriteTimeout: time.Second,
		PoolSize:     20,
		MinIdleConns: 2,
	}
}

// NewRedis connects a client and pings it once. The client is returned even
// when the ping fails; callers treat the cache as optional.
func NewRedis(ctx context.Context, cfg *config.Config) (*redis.Client, error) {
	client := redis.NewClient(RedisOptions(cfg))

	pingCtx, cancel := context.WithTimeout(ctx, redisDialTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		return client, err
	}
	return client, nil
}

// GetRedis returns the process-wide progress cache client.
func GetRedis() *redis.Client {
	progressOnce.Do(func() {
		cfg := config.Load()
		client, err := NewRedis(context.Background(), cfg)
		log := logger.WithField("addr", RedisOptions(cfg).Addr)
		if err != nil {
			log.WithError(err).Error("redis unavailable, import progress will not be cached")
		} else {
			log.Info("connected to redis")
		}
		progressRedis = client
	})
	return progressRedis
}

func CloseRedis() error {
	if progressRedis != nil {
		return progressRedis.Close()
	}
	return nil
}
