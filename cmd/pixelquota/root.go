package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kailas-cloud/pixelquota/internal/config"
	logpkg "github.com/kailas-cloud/pixelquota/internal/logger"
	"github.com/kailas-cloud/pixelquota/internal/version"
)

// rootOptions are the flags shared by every command.
type rootOptions struct {
	env     string
	noColor bool
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:   "pixelquota",
		Short: "Pixel-art image generation behind a daily per-user quota",
		Long: `pixelquota serves an HTTP API that generates pixel-art images and
limits every signed-in user to a fixed number of generations per calendar day.
Usage is kept in an embedded SQLite database persisted to byte storage.`,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if opts.noColor {
				color.NoColor = true
			}
		},
	}

	root.PersistentFlags().StringVar(&opts.env, "env", config.GetEnv(), "config environment (config/<env>.yaml)")
	root.PersistentFlags().BoolVar(&opts.noColor, "no-color", false, "disable colored output")

	root.AddCommand(
		newServeCmd(opts),
		newUsageCmd(opts),
		newVersionCmd(),
	)
	return root
}

// load reads the config and builds the logger for the selected environment.
func (o *rootOptions) load() (config.Config, *zap.Logger, error) {
	cfg, err := config.Load(o.env)
	if err != nil {
		return config.Config{}, nil, fmt.Errorf("load config: %w", err)
	}
	logger, err := logpkg.NewLogger(o.env, cfg.Logging.Level)
	if err != nil {
		return config.Config{}, nil, fmt.Errorf("create logger: %w", err)
	}
	return cfg, logger, nil
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print build information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version.String())
		},
	}
}
