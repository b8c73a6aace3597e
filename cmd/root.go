package cmd

import (
	"github.com/spf13/cobra"

	"worker-walkthrough/config"
)

func Root(config *config.Config) *cobra.Command {
	rootCmd := &cobra.Command{Use: "worker-walkthrough"}
	rootCmd.AddCommand(server(config))
	rootCmd.AddCommand(migrate(config))
	rootCmd.AddCommand(classify(config))
	rootCmd.AddCommand(generate(config))
	return rootCmd
}
