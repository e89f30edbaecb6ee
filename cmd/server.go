package cmd

import (
	"github.com/spf13/cobra"
	"recording-worker/config"
	server2 "recording-worker/server"
)

func server(config *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "server",
		Short: "start recording orchestration server",
		Run: func(cmd *cobra.Command, args []string) {
			server2.RunHttp(config)
		},
	}
}
