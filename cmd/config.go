package cmd

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/ospbot/ospbot/ospbot"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

const redacted = "[redacted]"

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Prints the effective configuration as YAML, with secrets redacted",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return writeConfig(cmd.OutOrStdout(), cfg)
	},
}

// redactedConfig returns a copy of c with tokens and passwords masked
func redactedConfig(c *ospbot.Config) *ospbot.Config {
	rc := *c
	if rc.Token != "" {
		rc.Token = redacted
	}
	if rc.PostgresPassword != "" {
		rc.PostgresPassword = redacted
	}
	if c.API != nil {
		api := *c.API
		if api.Token != "" {
			api.Token = redacted
		}
		rc.API = &api
	}
	return &rc
}

func writeConfig(w io.Writer, c *ospbot.Config) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(redactedConfig(c)); err != nil {
		return fmt.Errorf("error encoding config: %w", err)
	}
	return enc.Close()
}

func contextWithTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

func init() {
	rootCmd.AddCommand(configCmd)
}
