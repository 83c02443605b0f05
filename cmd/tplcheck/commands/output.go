package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/openfroyo/tplcheck/pkg/checker"
)

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// printReport writes a report to stdout and returns ErrInvalid when it has
// violations.
func printReport(report *checker.Report) error {
	if jsonOutput {
		if err := printJSON(os.Stdout, report); err != nil {
			return err
		}
	} else {
		writeReport(os.Stdout, report)
	}
	if !report.Valid {
		return ErrInvalid
	}
	return nil
}

func writeReport(w io.Writer, report *checker.Report) {
	source := ""
	if report.Source != "" {
		source = " (" + report.Source + ")"
	}

	if report.Valid {
		fmt.Fprintf(w, "✓ %s%s is valid\n", report.Type, source)
	} else {
		fmt.Fprintf(w, "✗ %s%s has %d violation(s)\n", report.Type, source, len(report.Violations))
	}
	for _, v := range report.Violations {
		fmt.Fprintf(w, "  %s [%s]\n", v, v.Kind)
	}
	for _, warning := range report.Warnings {
		fmt.Fprintf(w, "  warning: %s\n", warning)
	}
	if report.Recorded {
		fmt.Fprintf(w, "  recorded as %s\n", report.ID)
	}
}
