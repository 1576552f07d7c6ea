package cmd

import (
	"github.com/spf13/cobra"

	"media-transcription/config"
)

func Root(config *config.Config) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "media-transcription",
		Short: "media upload and transcription pipeline",
	}
	rootCmd.AddCommand(server(config), batch(config), migrate(config))
	return rootCmd
}
