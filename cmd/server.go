package cmd

import (
	"github.com/spf13/cobra"

	"media-transcription/config"
	server2 "media-transcription/server"
)

func server(config *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "server",
		Short: "start http server, upload event consumer and batch scheduler",
		Run: func(cmd *cobra.Command, args []string) {
			server2.RunHttp(config)
		},
	}
}

func batch(config *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "batch",
		Short: "run one batch transcription pass and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			return server2.RunBatch(config)
		},
	}
}

func migrate(config *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "create or update database tables",
		RunE: func(cmd *cobra.Command, args []string) error {
			return server2.RunMigrate(config)
		},
	}
}
