// Package cli holds the govvote command tree.
package cli

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	sharedconfig "github.com/stake-plus/govvote/src/config"
	"github.com/stake-plus/govvote/src/logging"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	EnvFile   string
	LogLevel  string
	LogFormat string
	Output    string // "json" | "text"

	base sharedconfig.Base
	log  *logrus.Logger
}

// ValidOutputs defines the allowed output formats.
var ValidOutputs = []string{"text", "json"}

// NewRootCommand creates the root command.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "govvote",
		Short: "Governance voting engine for investment proposals",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidOutput(opts.Output) {
				return fmt.Errorf("invalid output %q: must be one of %v", opts.Output, ValidOutputs)
			}
			if err := sharedconfig.LoadEnv(opts.EnvFile); err != nil {
				return fmt.Errorf("load env: %w", err)
			}
			opts.base = sharedconfig.LoadBase()
			level, format := opts.base.LogLevel, opts.base.LogFormat
			if opts.LogLevel != "" {
				level = opts.LogLevel
			}
			if opts.LogFormat != "" {
				format = opts.LogFormat
			}
			opts.log = logging.NewWithOutput(level, format, cmd.ErrOrStderr())
			return nil
		},
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&opts.EnvFile, "env-file", ".env", "dotenv file to load before reading the environment")
	cmd.PersistentFlags().StringVar(&opts.LogLevel, "log-level", "", "log level (overrides LOG_LEVEL)")
	cmd.PersistentFlags().StringVar(&opts.LogFormat, "log-format", "", "log format json|text (overrides LOG_FORMAT)")
	cmd.PersistentFlags().StringVar(&opts.Output, "output", "text", "command output format (json|text)")

	cmd.AddCommand(NewServeCommand(opts))
	cmd.AddCommand(NewFinalizeCommand(opts))
	cmd.AddCommand(NewReconcileCommand(opts))
	cmd.AddCommand(NewDecodeCommand(opts))

	return cmd
}

func isValidOutput(format string) bool {
	for _, f := range ValidOutputs {
		if f == format {
			return true
		}
	}
	return false
}
