package services

import (
	"context"
	"fmt"

	"github.com/oisdev/appraisal/internal/rubric"
	"github.com/oisdev/appraisal/internal/sheetstore"
	"github.com/oisdev/appraisal/pkg/logger"
)

// SchemaReport is the outcome of a startup schema check.
type SchemaReport struct {
	RubricVersion string                   `json:"rubric_version"`
	TotalItems    int                      `json:"total_items"`
	Tables        []sheetstore.HeaderCheck `json:"tables"`
}

// Drifted reports whether any table header differs from the rubric.
func (r *SchemaReport) Drifted() bool {
	for _, t := range r.Tables {
		if t.Status == sheetstore.HeaderMismatch {
			return true
		}
	}
	return false
}

// SchemaService checks the store layout against the rubric and roster
// mapping.
type SchemaService struct {
	schema    *rubric.Schema
	roster    *RosterService
	responses *sheetstore.Table
	drafts    *sheetstore.Table
	strict    bool
}

func NewSchemaService(schema *rubric.Schema, roster *RosterService, responses, drafts *sheetstore.Table, strict bool) *SchemaService {
	return &SchemaService{schema: schema, roster: roster, responses: responses, drafts: drafts, strict: strict}
}

// Check validates the rubric and roster columns, then writes headers to
// empty Responses and Drafts tables and compares the rest. Header drift is
// an error only in strict mode.
func (s *SchemaService) Check(ctx context.Context) (*SchemaReport, error) {
	return s.run(ctx, true)
}

// Inspect is Check without writes: empty tables are reported as empty.
func (s *SchemaService) Inspect(ctx context.Context) (*SchemaReport, error) {
	return s.run(ctx, false)
}

func (s *SchemaService) run(ctx context.Context, write bool) (*SchemaReport, error) {
	if err := s.schema.Validate(); err != nil {
		return nil, err
	}
	if err := s.roster.CheckColumns(ctx); err != nil {
		return nil, err
	}

	report := &SchemaReport{RubricVersion: s.schema.Version, TotalItems: s.schema.TotalItems()}
	for _, t := range []struct {
		table    *sheetstore.Table
		expected []string
		optional []string
	}{
		// Last Edited On is added on the first edit, so a sheet without it
		// is still current.
		{s.responses, s.schema.ResponseHeaders(), []string{rubric.ColLastEdited}},
		{s.drafts, s.schema.DraftHeaders(), nil},
	} {
		compare := t.table.CompareHeader
		if write {
			compare = t.table.EnsureHeader
		}
		check, err := compare(ctx, t.expected, t.optional...)
		if err != nil {
			return nil, err
		}
		report.Tables = append(report.Tables, check)
	}

	if report.Drifted() {
		if s.strict {
			return report, fmt.Errorf("store headers do not match rubric %q", s.schema.Version)
		}
		logger.Warnf("[Schema] Header drift against rubric %q, continuing", s.schema.Version)
	} else {
		logger.Infof("[Schema] Rubric %q (%d items) matches store headers", s.schema.Version, report.TotalItems)
	}
	return report, nil
}
