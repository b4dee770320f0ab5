package standards

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/kravscan/internal/config"
	"github.com/fyrsmithlabs/kravscan/internal/vectorstore"
)

// OpenStore opens the vector backend named by cfg.Standards.Backend.
func OpenStore(cfg *config.Config, logger *zap.Logger) (vectorstore.Store, error) {
	switch cfg.Standards.Backend {
	case "", "memory":
		return vectorstore.NewMemoryStore(), nil
	case "chromem":
		return vectorstore.NewChromemStore(vectorstore.ChromemConfig{
			Path:       filepath.Join(cfg.Standards.CacheDir, "chromem"),
			Compress:   true,
			Collection: cfg.Standards.Collection,
		}, logger)
	case "qdrant":
		return vectorstore.NewQdrantStore(vectorstore.QdrantConfig{
			Host:       cfg.Qdrant.Host,
			Port:       cfg.Qdrant.Port,
			APIKey:     cfg.Qdrant.APIKey.Value(),
			UseTLS:     cfg.Qdrant.UseTLS,
			Collection: cfg.Standards.Collection,
		}, logger)
	default:
		return nil, fmt.Errorf("%w: unknown standards backend %q", vectorstore.ErrInvalidConfig, cfg.Standards.Backend)
	}
}

// OpenLocker returns the locker named by cfg.Standards.Lock and a func that
// releases its connection.
func OpenLocker(ctx context.Context, cfg *config.Config) (Locker, func() error, error) {
	ttl := cfg.Standards.LockTTL.Duration()
	switch cfg.Standards.Lock {
	case "", "file":
		return &FileLocker{Dir: cfg.Standards.CacheDir, TTL: ttl}, func() error { return nil }, nil
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password.Value(),
			DB:       cfg.Redis.DB,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := client.Ping(pingCtx).Err(); err != nil {
			client.Close()
			return nil, nil, fmt.Errorf("connecting to redis at %s: %w", cfg.Redis.Addr, err)
		}
		return NewRedisLocker(client, ttl), client.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown standards lock %q", cfg.Standards.Lock)
	}
}
