package history

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const (
	DriverFile   = "file"
	DriverSQLite = "sqlite"
	DriverRedis  = "redis"
)

type StoreOptions struct {
	Driver   string
	Path     string
	RedisURL string
	RedisKey string
}

// OpenStore builds the Store selected by opts.Driver.
func OpenStore(ctx context.Context, opts StoreOptions, logger zerolog.Logger) (Store, error) {
	switch opts.Driver {
	case DriverFile, "":
		return NewFileStore(opts.Path, logger)
	case DriverSQLite:
		return NewSQLiteStore(ctx, opts.Path, logger)
	case DriverRedis:
		redisOpts, err := redis.ParseURL(opts.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("invalid redis url: %w", err)
		}
		client := redis.NewClient(redisOpts)
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			return nil, fmt.Errorf("failed to connect to redis at %s: %w", redisOpts.Addr, err)
		}
		logger.Info().Str("component", "redis_store").Str("addr", redisOpts.Addr).Str("key", opts.RedisKey).Msg("redis history connected")
		return NewRedisStore(client, opts.RedisKey), nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", opts.Driver)
	}
}
