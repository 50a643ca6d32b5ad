package cli

import (
	"fmt"

	"github.com/KafClaw/threadrelay/internal/config"
	"github.com/KafClaw/threadrelay/internal/routing"
	"github.com/spf13/cobra"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply routing store schema migrations",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		switch cfg.Store.Driver {
		case config.DriverPostgres:
			v, err := routing.MigratePostgres(cfg.Store.DSN)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "postgres schema at version %d\n", v)
		default:
			// The sqlite schema is applied on open.
			store, err := openStore(cfg)
			if err != nil {
				return err
			}
			if err := store.Close(); err != nil {
				return err
			}
			fmt.Fprintf(out, "sqlite schema applied at %s\n", cfg.Store.Path)
		}
		return nil
	},
}
