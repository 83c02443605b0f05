package commands

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/openfroyo/tplcheck/pkg/checker"
)

func newWatchCommand() *cobra.Command {
	var (
		typeName string
		overlays []string
	)

	cmd := &cobra.Command{
		Use:   "watch <value-file>",
		Short: "Re-validate a value whenever it or the types change",
		Long: `Validate a value, then watch the value file, its overlays, the type
documents and the policy files. Every change reloads types and policies and
validates again. A change that breaks the type documents is reported and the
previous types stay in use.`,
		Example: `  tplcheck watch --type AppConfig --overlay values/dev.yaml values/app.yaml`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, ctx, err := newApp(cmd.Context(), appOptions{types: true})
			if err != nil {
				return err
			}
			defer a.close()

			check := func(ctx context.Context) error {
				report, err := runCheck(ctx, a, typeName, args[0], overlays, false)
				if err != nil {
					fmt.Fprintf(os.Stderr, "✗ %v\n", err)
					return err
				}
				if jsonOutput {
					return printJSON(os.Stdout, report)
				}
				writeReport(os.Stdout, report)
				return nil
			}
			_ = check(ctx)

			paths := append(a.cfg.TypePaths(), a.cfg.PolicyPaths()...)
			paths = append(paths, args[0])
			paths = append(paths, overlays...)

			reload := func(ctx context.Context) error {
				if err := a.checker.Reload(ctx); err != nil {
					fmt.Fprintf(os.Stderr, "✗ %v\n", err)
					return err
				}
				return check(ctx)
			}
			if err := a.loader.Watch(ctx, paths, a.cfg.WatchDelay(), reload); err != nil {
				return err
			}
			defer func() { _ = a.loader.StopWatching() }()

			a.log.WithSource(args[0]).Info("Watching for changes, press Ctrl+C to stop")
			<-ctx.Done()
			return nil
		},
	}

	cmd.Flags().StringVarP(&typeName, "type", "t", "", "type to validate against (name or namespace.name)")
	cmd.Flags().StringArrayVarP(&overlays, "overlay", "o", nil, "overlay value file, applied in order (repeatable)")
	_ = cmd.MarkFlagRequired("type")

	return cmd
}

// runCheck loads the value and overlays from disk and checks them.
func runCheck(ctx context.Context, a *app, typeName, valuePath string, overlayPaths []string, record bool) (*checker.Report, error) {
	logger := a.log.WithTypeName(typeName).WithSource(valuePath)

	base, err := a.loader.LoadValue(ctx, valuePath)
	if err != nil {
		a.tel.Metrics.RecordLoadError("value")
		logger.WithError(err).Error("Failed to load value")
		return nil, err
	}
	req := checker.Request{Type: typeName, Base: base, Source: valuePath, Record: record}
	for _, path := range overlayPaths {
		overlay, err := a.loader.LoadValue(ctx, path)
		if err != nil {
			a.tel.Metrics.RecordLoadError("value")
			logger.WithError(err).WithField("overlay", path).Error("Failed to load overlay")
			return nil, err
		}
		req.Overlays = append(req.Overlays, overlay)
	}

	report, err := a.checker.Check(ctx, req)
	if err != nil {
		return nil, err
	}
	logger.Debugf("Checked with %d violation(s) and %d warning(s)", len(report.Violations), len(report.Warnings))
	return report, nil
}
