// Package cli implements the medallion command tree.
package cli

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/withObsrvr/brewery-medallion/internal/config"
	"github.com/withObsrvr/brewery-medallion/internal/logging"
	"github.com/withObsrvr/brewery-medallion/internal/metrics"
	"github.com/withObsrvr/brewery-medallion/internal/pipeline"
)

// app is the state shared by every command.
type app struct {
	configPath string
	cfg        config.Config
	runner     *pipeline.Runner
}

// NewRootCmd creates the root command and attaches all sub-commands.
func NewRootCmd() *cobra.Command {
	a := &app{}

	rootCmd := &cobra.Command{
		Use:   "medallion",
		Short: "Brewery medallion pipeline: bronze CSV, silver and gold tables",
		Long: `medallion pulls the Open Brewery DB listing, lands it as a raw CSV
snapshot (bronze), rewrites it into a state-partitioned table (silver) and
aggregates it into per-type, per-state counts (gold).`,
		Version:       fmt.Sprintf("%s (%s)", pipeline.Version, pipeline.GitSHA),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// help and completion need no pipeline
			if cmd.RunE == nil {
				return nil
			}
			return a.setup(cmd)
		},
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Help()
		},
	}

	rootCmd.PersistentFlags().StringVarP(&a.configPath, "config", "c", "", "Path to a YAML config file")

	rootCmd.AddCommand(
		newRunCmd(a),
		newStageCmd(a),
		newScheduleCmd(a),
		newShowCmd(a),
		newStatusCmd(a),
	)
	return rootCmd
}

// setup loads configuration, installs logging and metrics, and builds the
// runner.
func (a *app) setup(cmd *cobra.Command) error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	a.cfg = cfg
	logging.Setup(cfg.Logging)

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		if m = metrics.Get(); m == nil {
			m = metrics.Init("medallion")
		}
		go func() {
			if err := metrics.StartServer(cfg.Metrics.Address); err != nil {
				slog.Error("metrics server stopped", "component", "metrics", "error", err)
			}
		}()
	}

	r, err := pipeline.Build(cmd.Context(), cfg, m)
	if err != nil {
		return fmt.Errorf("build pipeline: %w", err)
	}
	a.runner = r
	return nil
}

// runE wraps a command body so the runner is closed however it exits.
func (a *app) runE(fn func(cmd *cobra.Command, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		defer a.close()
		return fn(cmd, args)
	}
}

func (a *app) close() {
	if a.runner == nil {
		return
	}
	if err := a.runner.Close(); err != nil {
		slog.Warn("failed to close pipeline", "component", "cli", "error", err)
	}
	a.runner = nil
}
