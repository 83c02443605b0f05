package commands

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/openfroyo/tplcheck/pkg/checker"
	"github.com/openfroyo/tplcheck/pkg/stores"
)

func newHistoryCommand() *cobra.Command {
	var (
		limit    int
		typeName string
		invalid  bool
		since    time.Duration
	)

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List stored check reports",
		Long: `List reports stored by "validate --record", newest first.`,
		Example: `  # Last 20 reports
  tplcheck history

  # Failed checks of one type during the last day
  tplcheck history --type app.AppConfig --invalid --since 24h`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, ctx, err := newApp(cmd.Context(), appOptions{store: true})
			if err != nil {
				return err
			}
			defer a.close()

			filter := stores.ReportFilter{TypeName: typeName, Limit: limit}
			if invalid {
				valid := false
				filter.Valid = &valid
			}
			if since > 0 {
				filter.Since = time.Now().Add(-since)
			}

			reports, err := a.store.ListReports(ctx, filter)
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(os.Stdout, reports)
			}
			if len(reports) == 0 {
				fmt.Println("No reports found")
				return nil
			}

			tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tTYPE\tVALID\tVIOLATIONS\tSOURCE\tCREATED")
			for _, r := range reports {
				fmt.Fprintf(tw, "%s\t%s\t%t\t%d\t%s\t%s\n",
					r.ID, r.TypeName, r.Valid, len(r.Violations), r.Source,
					r.CreatedAt.Local().Format(time.DateTime))
			}
			return tw.Flush()
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "maximum number of reports")
	cmd.Flags().StringVarP(&typeName, "type", "t", "", "only reports of this qualified type")
	cmd.Flags().BoolVar(&invalid, "invalid", false, "only reports with violations")
	cmd.Flags().DurationVar(&since, "since", 0, "only reports newer than this age")

	cmd.AddCommand(newHistoryShowCommand())
	cmd.AddCommand(newHistoryStatsCommand())
	cmd.AddCommand(newHistoryDeleteCommand())

	return cmd
}

func newHistoryShowCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show one stored report",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, ctx, err := newApp(cmd.Context(), appOptions{store: true})
			if err != nil {
				return err
			}
			defer a.close()

			r, err := a.store.GetReport(ctx, args[0])
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(os.Stdout, r)
			}

			writeReport(os.Stdout, &checker.Report{
				ID:         r.ID,
				Type:       r.TypeName,
				Source:     r.Source,
				Valid:      r.Valid,
				Violations: r.Violations,
				Warnings:   r.Warnings,
			})
			fmt.Printf("  checked %s in %s\n", r.CreatedAt.Local().Format(time.DateTime), r.Duration)
			if len(r.Value) > 0 {
				fmt.Printf("  value: %s\n", r.Value)
			}
			return nil
		},
	}
}

func newHistoryStatsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Summarize stored reports",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, ctx, err := newApp(cmd.Context(), appOptions{store: true})
			if err != nil {
				return err
			}
			defer a.close()

			stats, err := a.store.Stats(ctx)
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(os.Stdout, stats)
			}

			fmt.Printf("Reports: %d (%d valid, %d invalid)\n", stats.Total, stats.Valid, stats.Invalid)
			for kind, n := range stats.ByKind {
				fmt.Printf("  %s: %d\n", kind, n)
			}
			if stats.LastReport != nil {
				fmt.Printf("Last report: %s\n", stats.LastReport.Local().Format(time.DateTime))
			}
			return nil
		},
	}
}

func newHistoryDeleteCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>...",
		Short: "Delete stored reports",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, ctx, err := newApp(cmd.Context(), appOptions{store: true})
			if err != nil {
				return err
			}
			defer a.close()

			for _, id := range args {
				if err := a.store.DeleteReport(ctx, id); err != nil {
					return err
				}
				fmt.Printf("✓ Deleted report %s\n", id)
			}
			return nil
		},
	}
}
