// Package cli implements the coachflow command line.
package cli

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/PipeOpsHQ/coachflow/internal/config"
	"github.com/PipeOpsHQ/coachflow/internal/logging"
	"github.com/PipeOpsHQ/coachflow/llm"
	providerfactory "github.com/PipeOpsHQ/coachflow/providers/factory"
)

type app struct {
	configPath string
	logLevel   string
	jsonLogs   bool

	cfg    *config.Config
	logger *zap.Logger
	out    io.Writer

	newProvider func(context.Context, providerfactory.Settings) (llm.Provider, error)
}

func newApp() *app {
	return &app{
		out:         os.Stdout,
		logger:      zap.NewNop(),
		newProvider: providerfactory.New,
	}
}

// Execute runs the command line with args and returns the first error.
func Execute(ctx context.Context, args []string) error {
	root := newApp().command()
	root.SetArgs(args)
	return root.ExecuteContext(ctx)
}

// NewRootCommand returns the coachflow command tree.
func NewRootCommand() *cobra.Command {
	return newApp().command()
}

func (a *app) command() *cobra.Command {
	root := &cobra.Command{
		Use:           "coachflow",
		Short:         "Conversation engine for task coaching",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup(cmd)
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			_ = a.logger.Sync()
		},
	}
	root.SetOut(a.out)

	root.PersistentFlags().StringVarP(&a.configPath, "config", "c", "", "Config file (default: ./coachflow.yaml)")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "Log level override (debug, info, warn, error)")
	root.PersistentFlags().BoolVar(&a.jsonLogs, "json-logs", false, "Emit JSON logs")

	root.AddCommand(
		a.turnCommand(),
		a.historyCommand(),
		a.eventsCommand(),
		a.toolsCommand(),
		a.outboxCommand(),
		a.promptsCommand(),
	)
	return root
}

func (a *app) setup(cmd *cobra.Command) error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("log-level") {
		cfg.Log.Level = a.logLevel
	}
	if cmd.Flags().Changed("json-logs") {
		cfg.Log.JSON = a.jsonLogs
	}
	logger, err := logging.New(cfg.Log.Level, cfg.Log.JSON)
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}
	a.cfg = cfg
	a.logger = logger
	return nil
}
