package commands

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/openfroyo/tplcheck/pkg/composer"
)

func newComposeCommand() *cobra.Command {
	var changed bool

	cmd := &cobra.Command{
		Use:   "compose <base> [overlay...]",
		Short: "Apply overlays to a value and print the result as JSON",
		Long: `Apply overlay files to a base value from left to right and print the
result. Top-level keys of each overlay replace those of the value; a null
in an overlay keeps the base value.`,
		Example: `  tplcheck compose values/app.yaml values/prod.yaml values/eastus.yaml`,
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, ctx, err := newApp(cmd.Context(), appOptions{})
			if err != nil {
				return err
			}
			defer a.close()

			result, err := a.loader.LoadValue(ctx, args[0])
			if err != nil {
				return err
			}
			for _, path := range args[1:] {
				overlay, err := a.loader.LoadValue(ctx, path)
				if err != nil {
					return err
				}
				if changed {
					if keys := composer.Changed(result, overlay); len(keys) > 0 {
						fmt.Fprintf(os.Stderr, "%s changes: %s\n", path, strings.Join(keys, ", "))
					}
				}
				result = composer.Overlay(result, overlay)
			}

			return printJSON(os.Stdout, result)
		},
	}

	cmd.Flags().BoolVar(&changed, "changed", false, "print the keys each overlay changes to stderr")

	return cmd
}
