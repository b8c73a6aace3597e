package cmd

import (
	"github.com/spf13/cobra"

	"worker-walkthrough/config"
	server2 "worker-walkthrough/server"
)

func server(config *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "server",
		Short: "start http server and queue consumers",
		Run: func(cmd *cobra.Command, args []string) {
			server2.RunHttp(config)
		},
	}
}
