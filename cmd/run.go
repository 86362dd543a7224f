package cmd

import (
	"fmt"

	"github.com/ospbot/ospbot/ospbot"
	"github.com/spf13/cobra"
)

var (
	runCmd = &cobra.Command{
		Use:   "run [flags]",
		Short: "Starts the bot and, if enabled, the admin API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			bot, err := ospbot.New(cfg)
			if err != nil {
				return fmt.Errorf("error creating bot: %w", err)
			}

			if err = bot.Run(ctx); err != nil {
				return fmt.Errorf("error running bot: %w", err)
			}
			return nil
		},
	}
)

func init() {
	rootCmd.AddCommand(runCmd)
}
