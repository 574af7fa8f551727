package main

import (
	"github.com/spf13/cobra"
)

type rootOptions struct {
	configPath string
	inMemory   bool
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	serve := newServeCmd(opts)

	cmd := &cobra.Command{
		Use:          "docsign",
		Short:        "Sequential document signing service",
		SilenceUsage: true,
		RunE:         serve.RunE,
	}
	cmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "Path to config.yaml (defaults to ./config.yaml or ./config/config.yaml)")
	cmd.PersistentFlags().BoolVar(&opts.inMemory, "in-memory", false, "Use the in-memory store instead of Postgres")

	cmd.AddCommand(serve, newMigrateCmd(opts), newReconcileCmd(opts))
	return cmd
}
