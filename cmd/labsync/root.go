package main

import (
	"github.com/spf13/cobra"

	"labsync/internal/config"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "labsync",
		Short: "LabSync coordinates shared chemistry lab rooms",
		Long: `LabSync runs the realtime room service for collaborative virtual chemistry labs
and the cached, circuit-protected spectroscopy generation endpoint.`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringP("config", "c", "", "Path to a YAML or JSON config file")

	root.AddCommand(newServeCmd(), newCacheCmd(), newVersionCmd())
	return root
}

// loadConfig applies file > env > defaults using the --config flag
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, err := cmd.Flags().GetString("config")
	if err != nil {
		return nil, err
	}
	return config.LoadConfigWithPrecedence(path)
}
