package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/KafClaw/threadrelay/internal/config"
	"github.com/KafClaw/threadrelay/internal/routing"
)

// openStore opens the routing store selected by cfg.Store.Driver.
func openStore(cfg *config.Config) (*routing.SQLStore, error) {
	switch cfg.Store.Driver {
	case config.DriverPostgres:
		return routing.OpenPostgres(cfg.Store.DSN, cfg.Store.OpTimeout.Std(), cfg.Store.SkipMigrate)
	case config.DriverSQLite, "":
		path, err := config.ExpandHome(cfg.Store.Path)
		if err != nil {
			return nil, err
		}
		if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
			return nil, fmt.Errorf("create store dir: %w", err)
		}
		return routing.OpenSQLite(path, cfg.Store.OpTimeout.Std())
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
}
