package cli

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/withObsrvr/brewery-medallion/internal/delta"
	"github.com/withObsrvr/brewery-medallion/internal/medallion"
	"github.com/withObsrvr/brewery-medallion/internal/pipeline"
	"github.com/withObsrvr/brewery-medallion/internal/preview"
	"github.com/withObsrvr/brewery-medallion/internal/tables"
)

func newShowCmd(a *app) *cobra.Command {
	var (
		version   int64
		limit     int
		partition string
	)

	cmd := &cobra.Command{
		Use:       "show <silver|gold>",
		Short:     "Print a table version as Markdown",
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{medallion.StageSilver, medallion.StageGold},
		RunE: a.runE(func(cmd *cobra.Command, args []string) error {
			tbl := a.table(args[0])
			ctx := cmd.Context()

			snap, err := tbl.SnapshotAt(ctx, version)
			if err != nil {
				return err
			}

			var rows []tables.Row
			if partition != "" {
				rows, err = snap.ReadPartition(ctx, partition)
			} else {
				rows, err = snap.ReadAll(ctx)
			}
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s version %d (%d rows)\n\n", snap.Metadata.Name, snap.Version, len(rows))
			return preview.Markdown(out, snap.Schema, rows, limit)
		}),
	}

	cmd.Flags().Int64Var(&version, "version", -1, "Table version to read (-1 for latest)")
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum rows to print (0 for all)")
	cmd.Flags().StringVarP(&partition, "partition", "p", "", "Only rows of this partition value")
	return cmd
}

func newStatusCmd(a *app) *cobra.Command {
	var history bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show last run state and current table versions",
		Args:  cobra.NoArgs,
		RunE: a.runE(func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			out := cmd.OutOrStdout()

			cp, err := a.runner.Checkpoint(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "context: %s\n", a.cfg.Layers.Context)
			if cp == nil {
				fmt.Fprintln(out, "no runs recorded")
			} else {
				fmt.Fprintf(out, "last run: %s (updated %s)\n\n", cp.LastRunID, cp.UpdatedAt.Format(time.RFC3339))
				tw := newTable(out, "stage", "status", "attempts", "version", "rows", "finished", "error")
				for _, stage := range pipeline.Stages {
					st, ok := cp.Stages[stage]
					if !ok {
						continue
					}
					tw.Append([]string{
						stage,
						st.Status,
						strconv.Itoa(st.Attempts),
						formatVersion(st.TableVersion),
						strconv.FormatInt(st.Rows, 10),
						st.FinishedAt.Format(time.RFC3339),
						st.Error,
					})
				}
				tw.Render()
			}

			fmt.Fprintln(out)
			tw := newTable(out, "table", "uri", "version", "files", "records", "partitions")
			for _, stage := range []string{medallion.StageSilver, medallion.StageGold} {
				tbl := a.table(stage)
				snap, err := tbl.Snapshot(ctx)
				if errors.Is(err, delta.ErrTableNotFound) {
					tw.Append([]string{stage, tbl.URI(), "-", "-", "-", "-"})
					continue
				}
				if err != nil {
					return err
				}
				tw.Append([]string{
					stage,
					tbl.URI(),
					strconv.FormatInt(snap.Version, 10),
					strconv.Itoa(len(snap.Files)),
					strconv.FormatInt(snap.NumRecords(), 10),
					strconv.Itoa(len(snap.PartitionValues())),
				})
			}
			tw.Render()

			if history {
				for _, stage := range []string{medallion.StageSilver, medallion.StageGold} {
					if err := printHistory(cmd, stage, a.table(stage)); err != nil {
						return err
					}
				}
			}
			return nil
		}),
	}

	cmd.Flags().BoolVar(&history, "history", false, "Also list every table version")
	return cmd
}

func (a *app) table(stage string) *delta.Table {
	if stage == medallion.StageGold {
		return a.runner.GoldTable()
	}
	return a.runner.SilverTable()
}

func printHistory(cmd *cobra.Command, stage string, tbl *delta.Table) error {
	commits, err := tbl.History(cmd.Context())
	if errors.Is(err, delta.ErrTableNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "\n%s history\n\n", stage)
	tw := newTable(out, "version", "timestamp", "operation", "rows", "files")
	for _, c := range commits {
		row := []string{strconv.FormatInt(c.Version, 10), "", "", "", ""}
		if c.Info != nil {
			row[1] = time.UnixMilli(c.Info.Timestamp).UTC().Format(time.RFC3339)
			row[2] = c.Info.Operation
			row[3] = c.Info.OperationMetrics["numOutputRows"]
			row[4] = c.Info.OperationMetrics["numFiles"]
		}
		tw.Append(row)
	}
	tw.Render()
	return nil
}

func newTable(w io.Writer, header ...string) *tablewriter.Table {
	tw := tablewriter.NewWriter(w)
	tw.SetHeader(header)
	tw.SetAutoFormatHeaders(false)
	tw.SetAutoWrapText(false)
	return tw
}

func formatVersion(v *int64) string {
	if v == nil {
		return "-"
	}
	return strconv.FormatInt(*v, 10)
}
