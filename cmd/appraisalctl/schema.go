package main

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/oisdev/appraisal/internal/services"
	"github.com/oisdev/appraisal/internal/sheetstore"
	"github.com/spf13/cobra"
)

var schemaCmd = &cobra.Command{
	Use:   "schema",
	Short: "Inspect or initialise table headers",
}

var schemaCheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Compare store headers with the rubric without writing",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withEnv(cmd, func(ctx context.Context, e *env) error {
			svc := services.NewSchemaService(e.schema, e.roster, e.store.Responses, e.store.Drafts, false)
			report, err := svc.Inspect(ctx)
			if err != nil {
				return err
			}
			printReport(cmd.OutOrStdout(), report)
			if report.Drifted() {
				return fmt.Errorf("headers drifted from rubric %q", report.RubricVersion)
			}
			return nil
		})
	},
}

var schemaInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write rubric headers to empty Responses and Drafts tables",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withEnv(cmd, func(ctx context.Context, e *env) error {
			svc := services.NewSchemaService(e.schema, e.roster, e.store.Responses, e.store.Drafts, false)
			report, err := svc.Check(ctx)
			if err != nil {
				return err
			}
			printReport(cmd.OutOrStdout(), report)
			return nil
		})
	},
}

func printReport(w io.Writer, report *services.SchemaReport) {
	fmt.Fprintf(w, "rubric %s: %d rated items\n", report.RubricVersion, report.TotalItems)
	for _, t := range report.Tables {
		fmt.Fprintf(w, "  %-12s %s\n", t.Table, t.Status)
		if t.Status != sheetstore.HeaderMismatch {
			continue
		}
		if len(t.Missing) > 0 {
			fmt.Fprintf(w, "    missing: %s\n", strings.Join(t.Missing, ", "))
		}
		if len(t.Extra) > 0 {
			fmt.Fprintf(w, "    extra:   %s\n", strings.Join(t.Extra, ", "))
		}
		if t.Reordered {
			fmt.Fprintln(w, "    columns are reordered")
		}
	}
}
