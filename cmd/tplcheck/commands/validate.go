package commands

import (
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func newValidateCommand() *cobra.Command {
	var (
		typeName string
		overlays []string
		record   bool
	)

	cmd := &cobra.Command{
		Use:   "validate <value-file>",
		Short: "Validate a configuration value against a type",
		Long: `Validate a configuration value against a named type.

This command checks:
  - Structure: required, unknown and mistyped fields
  - Constraints: lengths, bounds, allowed values
  - Discriminated unions and nested types
  - Policies (OPA/rego) once the value is structurally valid

Overlays are checked on their own first and then applied over the value in
order. The composed result is checked in full.`,
		Example: `  # Validate a value file
  tplcheck validate --type AppConfig values/app.yaml

  # Validate with environment overlays and keep the report
  tplcheck validate --type app.AppConfig --overlay values/prod.yaml --record values/app.yaml`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, ctx, err := newApp(cmd.Context(), appOptions{types: true, store: record})
			if err != nil {
				return err
			}
			defer a.close()

			log.Debug().
				Str("type", typeName).
				Str("value", args[0]).
				Strs("overlays", overlays).
				Msg("Validating configuration")

			report, err := runCheck(ctx, a, typeName, args[0], overlays, record)
			if err != nil {
				return err
			}
			return printReport(report)
		},
	}

	cmd.Flags().StringVarP(&typeName, "type", "t", "", "type to validate against (name or namespace.name)")
	cmd.Flags().StringArrayVarP(&overlays, "overlay", "o", nil, "overlay value file, applied in order (repeatable)")
	cmd.Flags().BoolVar(&record, "record", false, "store the report in the history database")
	_ = cmd.MarkFlagRequired("type")

	return cmd
}
