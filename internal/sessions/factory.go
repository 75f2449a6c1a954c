package sessions

import (
	"fmt"
	"strings"

	"github.com/haasonsaas/warden/internal/config"
)

// New builds the store selected by cfg.Backend.
func New(cfg config.SessionsConfig) (Store, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Backend)) {
	case "", "memory":
		return NewMemoryStore(), nil
	case "sqlite":
		return NewSQLiteStore(cfg.Path)
	case "postgres", "cockroach":
		pc := DefaultPostgresConfig()
		if cfg.MaxOpenConns > 0 {
			pc.MaxOpenConns = cfg.MaxOpenConns
		}
		if cfg.MaxIdleConns > 0 {
			pc.MaxIdleConns = cfg.MaxIdleConns
		}
		if cfg.ConnMaxLifetime > 0 {
			pc.ConnMaxLifetime = cfg.ConnMaxLifetime
		}
		if cfg.ConnectTimeout > 0 {
			pc.ConnectTimeout = cfg.ConnectTimeout
		}
		return NewPostgresStore(cfg.DSN, pc)
	default:
		return nil, fmt.Errorf("unknown session backend %q", cfg.Backend)
	}
}
