package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/oisdev/appraisal/internal/services"
	"github.com/spf13/cobra"
)

var (
	exportOut         string
	exportCompact     bool
	exportReflections bool
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export stored submissions",
}

var exportCSVCmd = &cobra.Command{
	Use:   "csv",
	Short: "Write every submission as CSV",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withEnv(cmd, func(ctx context.Context, e *env) error {
			assessments := services.NewAssessmentService(e.schema, e.store.Responses, e.store.Drafts, services.NewMemoryCache(), 0)
			subs, err := assessments.Submissions(ctx)
			if err != nil {
				return err
			}

			var w io.Writer = cmd.OutOrStdout()
			if exportOut != "" && exportOut != "-" {
				f, err := os.Create(exportOut)
				if err != nil {
					return err
				}
				defer f.Close()
				w = f
			}

			opts := services.ExportOptions{Reflections: exportReflections}
			if exportCompact {
				opts = services.ExportOptions{Abbreviate: true, Numbered: true}
			}
			if err := services.NewExportService(e.schema).SubmissionsCSV(w, subs, opts); err != nil {
				return err
			}
			if exportOut != "" && exportOut != "-" {
				fmt.Fprintf(cmd.ErrOrStderr(), "wrote %d submissions to %s\n", len(subs), exportOut)
			}
			return nil
		})
	},
}

func init() {
	exportCSVCmd.Flags().StringVarP(&exportOut, "out", "o", "", "output file (default stdout)")
	exportCSVCmd.Flags().BoolVar(&exportCompact, "compact", false, "numbered rows, abbreviated ratings, no reflections")
	exportCSVCmd.Flags().BoolVar(&exportReflections, "reflections", true, "include reflection columns")
}
