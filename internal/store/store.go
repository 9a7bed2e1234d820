package store

import (
	"fmt"

	"coachwire/internal/config"
	"coachwire/pkg/interfaces"
)

// New selects a SessionStore driver from configuration. All drivers satisfy
// the same interface; the rest of the system never knows which one it got.
func New(cfg config.Store) (interfaces.SessionStore, error) {
	switch cfg.Driver {
	case "memory":
		return NewMemory(), nil
	case "sqlite":
		return NewSQLite(cfg.Path)
	case "redis":
		return NewRedis(cfg.RedisAddr, cfg.RedisTTL)
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}
