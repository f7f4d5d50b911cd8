package storage

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/afero"

	"marketplace-storefront/internal/config"
)

// Open creates the store selected by cfg.StorageDriver and starts its
// external-change feed. The returned closer releases everything Open created.
func Open(ctx context.Context, cfg *config.Config) (Store, func() error, error) {
	switch cfg.StorageDriver {
	case config.StorageMemory:
		s := NewMemoryStore()
		return s, s.Close, nil

	case config.StorageFile:
		s, err := NewFileStore(afero.NewOsFs(), cfg.DataDir)
		if err != nil {
			return nil, nil, err
		}
		s.StartWatching(ctx, cfg.StorageWatchInterval)
		return s, s.Close, nil

	case config.StorageRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, nil, errors.Wrapf(err, "connect to redis at %s", cfg.RedisAddr)
		}

		s := NewRedisStore(client, cfg.RedisNamespace)
		if err := s.StartListening(ctx); err != nil {
			_ = client.Close()
			return nil, nil, err
		}
		closer := func() error {
			_ = s.Close()
			return client.Close()
		}
		return s, closer, nil
	}

	return nil, nil, errors.Errorf("unknown storage driver %q", cfg.StorageDriver)
}
