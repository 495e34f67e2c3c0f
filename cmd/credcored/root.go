package main

import (
	"github.com/spf13/cobra"
)

// globalFlags are shared by every subcommand.
type globalFlags struct {
	configFile string
	envFile    string
}

// NewRootCmd creates the root command.
func NewRootCmd() *cobra.Command {
	g := &globalFlags{}

	cmd := &cobra.Command{
		Use:   "credcored",
		Short: "credcore authentication server",
		Long: `credcored serves registration, login, refresh rotation, email
verification, password reset and second-factor endpoints backed by a memory,
Redis, PostgreSQL or MongoDB store.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&g.configFile, "config", "", "YAML config file")
	cmd.PersistentFlags().StringVar(&g.envFile, "env-file", "", "dotenv file loaded before the environment is read (default .env when present)")

	cmd.AddCommand(NewServeCmd(g))
	cmd.AddCommand(NewMigrateCmd(g))
	cmd.AddCommand(NewPurgeCmd(g))
	cmd.AddCommand(NewRegisterCmd(g))

	return cmd
}
