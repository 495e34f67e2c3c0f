package main

import (
	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/credcore/credcore/store/pgstore"
)

// NewMigrateCmd creates the migrate subcommand.
func NewMigrateCmd(g *globalFlags) *cobra.Command {
	var down bool

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Prepare the store schema",
		Long: `Apply the PostgreSQL migrations, or create the MongoDB indexes.
Memory and Redis stores need no preparation.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(g, cmd.Flags())
			if err != nil {
				return err
			}
			return runMigrate(cmd, cfg.Store, down)
		},
	}
	addStoreFlags(cmd.Flags())
	cmd.Flags().BoolVar(&down, "down", false, "roll every PostgreSQL migration back")
	return cmd
}

func runMigrate(cmd *cobra.Command, cfg storeConfig, down bool) error {
	switch cfg.Driver {
	case driverPostgres:
		m, err := pgstore.NewMigrator(cfg.PostgresURL)
		if err != nil {
			return err
		}
		defer func() { _ = m.Close() }()

		if down {
			cmd.Println("Rolling back migrations...")
			if err := m.Down(); err != nil {
				return oops.With("operation", "rollback migrations").Wrap(err)
			}
		} else {
			cmd.Println("Running migrations...")
			if err := m.Up(); err != nil {
				return oops.With("operation", "run migrations").Wrap(err)
			}
		}
		version, dirty, err := m.Version()
		if err != nil {
			return oops.With("operation", "read migration version").Wrap(err)
		}
		cmd.Printf("Schema version %d (dirty: %t)\n", version, dirty)
		return nil

	case driverMongo:
		b, err := openBackend(cmd.Context(), cfg, 0, discardLogger())
		if err != nil {
			return err
		}
		b.close()
		cmd.Println("Indexes ensured")
		return nil

	default:
		cmd.Printf("Store %q needs no migration\n", cfg.Driver)
		return nil
	}
}

func migrateUp(databaseURL string) error {
	m, err := pgstore.NewMigrator(databaseURL)
	if err != nil {
		return err
	}
	defer func() { _ = m.Close() }()
	return m.Up()
}
