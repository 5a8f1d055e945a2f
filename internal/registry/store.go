package registry

import (
	"context"
	"fmt"

	"github.com/infodancer/relayd/internal/config"
	"github.com/infodancer/relayd/internal/identity"
)

// Store persists the approved set as a whole. Load returns a nil slice and
// no error when nothing has been stored yet.
type Store interface {
	Load(ctx context.Context) ([]identity.Identity, error)
	Save(ctx context.Context, ids []identity.Identity) error
	Close() error
}

// OpenStore creates the Store selected by cfg.Backend.
func OpenStore(ctx context.Context, cfg config.RegistryConfig) (Store, error) {
	switch cfg.Backend {
	case config.RegistryFile, "":
		return NewFileStore(cfg.Path), nil
	case config.RegistryRedis:
		return OpenRedisStore(ctx, cfg.RedisURL, cfg.RedisKey)
	case config.RegistrySqlite:
		return OpenSQLiteStore(cfg.Path)
	default:
		return nil, fmt.Errorf("unknown registry backend %q", cfg.Backend)
	}
}
