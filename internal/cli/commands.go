package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/withObsrvr/brewery-medallion/internal/pipeline"
	"github.com/withObsrvr/brewery-medallion/internal/scheduler"
)

func newRunCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run bronze, silver and gold once, in order",
		Args:  cobra.NoArgs,
		RunE: a.runE(func(cmd *cobra.Command, args []string) error {
			res, err := a.runner.Run(cmd.Context())
			if res != nil {
				printRun(cmd.OutOrStdout(), res)
			}
			return err
		}),
	}
}

func newStageCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:       "stage <" + strings.Join(pipeline.Stages, "|") + ">",
		Short:     "Run a single stage with retry",
		Long:      "Run a single stage with retry. The gold stage reads the latest silver version.",
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		ValidArgs: pipeline.Stages,
		RunE: a.runE(func(cmd *cobra.Command, args []string) error {
			res, err := a.runner.RunStage(cmd.Context(), args[0])
			if res != nil {
				printRun(cmd.OutOrStdout(), res)
			}
			return err
		}),
	}
}

func newScheduleCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "schedule",
		Short: "Run the pipeline on its cron schedule until interrupted",
		Args:  cobra.NoArgs,
		RunE: a.runE(func(cmd *cobra.Command, args []string) error {
			start, err := a.cfg.Schedule.Start()
			if err != nil {
				return err
			}
			loc, err := a.cfg.Schedule.Location()
			if err != nil {
				return err
			}

			s, err := scheduler.New(scheduler.Config{
				Spec:     a.cfg.Schedule.Cron,
				Start:    start,
				Location: loc,
			}, func(ctx context.Context) error {
				_, err := a.runner.Run(ctx)
				return err
			})
			if err != nil {
				return err
			}

			slog.Info("scheduling pipeline",
				"component", "cli",
				"cron", a.cfg.Schedule.Cron,
				"start_date", a.cfg.Schedule.StartDate,
				"context", a.cfg.Layers.Context,
			)
			return s.Run(cmd.Context())
		}),
	}
}

func printRun(w io.Writer, res *pipeline.RunResult) {
	fmt.Fprintf(w, "run %s\n", res.RunID)
	for _, st := range res.Stages {
		version := "-"
		if st.TableVersion != nil {
			version = fmt.Sprintf("%d", *st.TableVersion)
		}
		fmt.Fprintf(w, "  %-6s version=%s rows=%d attempts=%d\n", st.Stage, version, st.Rows, st.Attempts)
	}
}
