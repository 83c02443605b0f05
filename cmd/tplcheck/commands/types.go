package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func newTypesCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "types [name]",
		Short: "List registered types or show one expanded",
		Example: `  # List every type by namespace
  tplcheck types

  # Show the expanded tree of a type
  tplcheck types shared.Region`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, ctx, err := newApp(cmd.Context(), appOptions{types: true})
			if err != nil {
				return err
			}
			defer a.close()

			if len(args) == 0 {
				return listTypes(a)
			}

			qualified, schema, err := a.checker.Schema(ctx, args[0])
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(os.Stdout, map[string]string{
					"type":   qualified,
					"schema": schema.String(),
				})
			}
			fmt.Print(schema.String())
			return nil
		},
	}

	return cmd
}

func listTypes(a *app) error {
	set := a.checker.Set()
	listing := make(map[string][]string)
	for _, ns := range set.Namespaces() {
		reg, _ := set.Registry(ns)
		listing[ns] = reg.Names()
	}

	if jsonOutput {
		return printJSON(os.Stdout, listing)
	}
	for _, ns := range set.Namespaces() {
		fmt.Printf("%s (%d)\n", ns, len(listing[ns]))
		for _, name := range listing[ns] {
			fmt.Printf("  %s.%s\n", ns, name)
		}
	}
	return nil
}
