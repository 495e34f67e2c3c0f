package main

import (
	"github.com/spf13/cobra"

	"github.com/credcore/credcore/maintenance"
)

// NewPurgeCmd creates the purge subcommand.
func NewPurgeCmd(g *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "purge",
		Short: "Delete old activity records and expired trusted devices once",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(g, cmd.Flags())
			if err != nil {
				return err
			}
			logger := newLogger(cfg.Log, cmd.ErrOrStderr())

			b, err := openBackend(cmd.Context(), cfg.Store, cfg.Engine.Tokens.RefreshTTL, logger)
			if err != nil {
				return err
			}
			defer b.close()

			if b.sweeper == nil {
				cmd.Printf("Store %q keeps nothing to purge\n", cfg.Store.Driver)
				return nil
			}
			purger := maintenance.NewPurger(maintenance.ConfigFrom(cfg.Engine.Activity), b.sweeper, maintenance.WithLogger(logger))
			res, err := purger.RunOnce(cmd.Context())
			cmd.Printf("Purged %d activity records and %d trusted devices\n", res.Activity, res.Devices)
			return err
		},
	}
	addStoreFlags(cmd.Flags())
	return cmd
}
