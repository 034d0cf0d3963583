package sheetstore

import (
	"context"
	"fmt"
	"strings"

	"github.com/oisdev/appraisal/pkg/logger"
)

// Record is one row keyed by header name.
type Record map[string]string

// Get returns the trimmed value of column, or "" when absent.
func (r Record) Get(column string) string {
	return strings.TrimSpace(r[column])
}

// Row is a data row and its 1-indexed position in the sheet.
type Row struct {
	Number int
	Record Record
}

// HeaderStatus is the outcome of a header check.
type HeaderStatus string

const (
	HeaderEmpty    HeaderStatus = "empty"
	HeaderCreated  HeaderStatus = "created"
	HeaderMatch    HeaderStatus = "match"
	HeaderMismatch HeaderStatus = "mismatch"
)

// HeaderCheck reports how a table's first row compares to the expected layout.
type HeaderCheck struct {
	Table   string       `json:"table"`
	Status  HeaderStatus `json:"status"`
	Current []string     `json:"current,omitempty"`
	Missing []string     `json:"missing,omitempty"`
	Extra   []string     `json:"extra,omitempty"`
	// Reordered is set when the columns are the same set in a different order.
	Reordered bool `json:"reordered,omitempty"`
}

// Table layers keyed access over a Sheet. Every remote call runs through
// the Caller's retry policy.
type Table struct {
	sheet  Sheet
	key    string
	layout []string
	caller *Caller
}

// NewTable binds sheet to keyColumn. layout is the header row written when
// the sheet is empty.
func NewTable(sheet Sheet, keyColumn string, layout []string, caller *Caller) *Table {
	if caller == nil {
		caller = NewCaller(DefaultRetryPolicy(), nil)
	}
	return &Table{sheet: sheet, key: keyColumn, layout: layout, caller: caller}
}

func (t *Table) Name() string      { return t.sheet.Title() }
func (t *Table) KeyColumn() string { return t.key }
func (t *Table) Layout() []string  { return append([]string(nil), t.layout...) }

func (t *Table) op(name string) string {
	return t.sheet.Title() + " " + name
}

func (t *Table) values(ctx context.Context) ([][]string, error) {
	var rows [][]string
	err := t.caller.Do(ctx, t.op("read"), func(ctx context.Context) error {
		var err error
		rows, err = t.sheet.Values(ctx)
		return err
	})
	return rows, err
}

// Header returns the current header row with trailing blanks removed.
func (t *Table) Header(ctx context.Context) ([]string, error) {
	var header []string
	err := t.caller.Do(ctx, t.op("read header"), func(ctx context.Context) error {
		var err error
		header, err = t.sheet.Row(ctx, 1)
		return err
	})
	if err != nil {
		return nil, err
	}
	return normalizeHeader(header), nil
}

func (t *Table) write(ctx context.Context, n int, cells []string) error {
	return t.caller.Do(ctx, t.op(fmt.Sprintf("write row %d", n)), func(ctx context.Context) error {
		return t.sheet.UpdateRow(ctx, n, cells)
	})
}

func (t *Table) append(ctx context.Context, cells []string) error {
	return t.caller.Do(ctx, t.op("append"), func(ctx context.Context) error {
		return t.sheet.AppendRow(ctx, cells)
	})
}

// All returns every data row below the header.
func (t *Table) All(ctx context.Context) ([]Row, error) {
	rows, err := t.values(ctx)
	if err != nil {
		return nil, err
	}
	return toRows(rows), nil
}

// FindByKey scans the key column for an exact, case-insensitive match and
// returns the first matching row.
func (t *Table) FindByKey(ctx context.Context, key string) (Row, bool, error) {
	rows, err := t.values(ctx)
	if err != nil {
		return Row{}, false, err
	}
	return t.find(rows, key)
}

func (t *Table) find(rows [][]string, key string) (Row, bool, error) {
	if len(rows) == 0 {
		return Row{}, false, nil
	}
	header := normalizeHeader(rows[0])
	col := indexOf(header, t.key)
	if col < 0 {
		return Row{}, false, fmt.Errorf("%s: %w: %q", t.Name(), ErrNoKeyColumn, t.key)
	}
	want := strings.TrimSpace(key)
	for i, cells := range rows[1:] {
		if col < len(cells) && strings.EqualFold(strings.TrimSpace(cells[col]), want) {
			return Row{Number: i + 2, Record: toRecord(header, cells)}, true, nil
		}
	}
	return Row{}, false, nil
}

// Upsert overwrites the row whose key column equals key, or appends a new
// row when none does. An empty sheet gets the layout header first. Fields
// not in the header are dropped with a warning.
func (t *Table) Upsert(ctx context.Context, key string, fields Record) (Row, error) {
	rows, err := t.values(ctx)
	if err != nil {
		return Row{}, err
	}

	record := make(Record, len(fields)+1)
	for k, v := range fields {
		record[k] = v
	}
	record[t.key] = key

	if len(rows) == 0 || len(normalizeHeader(rows[0])) == 0 {
		if err := t.write(ctx, 1, t.layout); err != nil {
			return Row{}, err
		}
		if err := t.append(ctx, t.align(t.layout, record)); err != nil {
			return Row{}, err
		}
		return Row{Number: 2, Record: record}, nil
	}

	header := normalizeHeader(rows[0])
	existing, found, err := t.find(rows, key)
	if err != nil {
		return Row{}, err
	}
	cells := t.align(header, record)
	if found {
		if err := t.write(ctx, existing.Number, cells); err != nil {
			return Row{}, err
		}
		return Row{Number: existing.Number, Record: toRecord(header, cells)}, nil
	}
	if err := t.append(ctx, cells); err != nil {
		return Row{}, err
	}
	return Row{Number: len(rows) + 1, Record: toRecord(header, cells)}, nil
}

// Append adds a row without a key lookup, creating the header if needed.
func (t *Table) Append(ctx context.Context, fields Record) error {
	header, err := t.Header(ctx)
	if err != nil {
		return err
	}
	if len(header) == 0 {
		if err := t.write(ctx, 1, t.layout); err != nil {
			return err
		}
		header = t.layout
	}
	return t.append(ctx, t.align(header, fields))
}

// UpdateRow overwrites data row n with fields laid out by the current header.
func (t *Table) UpdateRow(ctx context.Context, n int, fields Record) error {
	if n < 2 {
		return fmt.Errorf("%s: %w: %d", t.Name(), ErrBadRow, n)
	}
	header, err := t.Header(ctx)
	if err != nil {
		return err
	}
	return t.write(ctx, n, t.align(header, fields))
}

// AddColumn appends name to the header row unless it is already present.
func (t *Table) AddColumn(ctx context.Context, name string) error {
	header, err := t.Header(ctx)
	if err != nil {
		return err
	}
	if indexOf(header, name) >= 0 {
		return nil
	}
	if len(header) == 0 {
		header = t.layout
	}
	return t.write(ctx, 1, append(append([]string(nil), header...), name))
}

// CompareHeader reports how the header row compares to expected without
// writing anything. A header lacking only columns listed in optional still
// matches.
func (t *Table) CompareHeader(ctx context.Context, expected []string, optional ...string) (HeaderCheck, error) {
	check := HeaderCheck{Table: t.Name()}
	current, err := t.Header(ctx)
	if err != nil {
		return check, err
	}
	if len(current) == 0 {
		check.Status = HeaderEmpty
		return check, nil
	}

	check.Current = current
	check.Missing, check.Extra = diffColumns(expected, current)
	if equalStrings(expected, current) {
		check.Status = HeaderMatch
		return check, nil
	}
	if len(optional) > 0 && equalStrings(withoutColumns(expected, optional), current) {
		check.Status = HeaderMatch
		check.Missing = nil
		return check, nil
	}
	check.Status = HeaderMismatch
	check.Reordered = len(check.Missing) == 0 && len(check.Extra) == 0
	return check, nil
}

// EnsureHeader writes expected as the header of an empty sheet and otherwise
// compares the two as CompareHeader does. A mismatch is logged and reported
// but never written.
func (t *Table) EnsureHeader(ctx context.Context, expected []string, optional ...string) (HeaderCheck, error) {
	check, err := t.CompareHeader(ctx, expected, optional...)
	if err != nil {
		return check, err
	}
	switch check.Status {
	case HeaderEmpty:
		if err := t.write(ctx, 1, expected); err != nil {
			return check, err
		}
		check.Status = HeaderCreated
		check.Current = append([]string(nil), expected...)
		logger.Info().Str("table", t.Name()).Int("columns", len(expected)).Msg("created header row")
	case HeaderMismatch:
		logger.Warn().
			Str("table", t.Name()).
			Strs("missing", check.Missing).
			Strs("extra", check.Extra).
			Bool("reordered", check.Reordered).
			Msg("header row does not match the rubric")
	}
	return check, nil
}

func (t *Table) align(header []string, record Record) []string {
	cells := make([]string, len(header))
	used := 0
	for i, col := range header {
		if v, ok := record[col]; ok {
			cells[i] = v
			used++
		}
	}
	if used < len(record) {
		var dropped []string
		for k := range record {
			if indexOf(header, k) < 0 {
				dropped = append(dropped, k)
			}
		}
		logger.Warn().Str("table", t.Name()).Strs("columns", dropped).Msg("dropping fields absent from header")
	}
	return cells
}

func toRows(rows [][]string) []Row {
	if len(rows) < 2 {
		return nil
	}
	header := normalizeHeader(rows[0])
	out := make([]Row, 0, len(rows)-1)
	for i, cells := range rows[1:] {
		if len(trimTrailingEmpty(cells)) == 0 {
			continue
		}
		out = append(out, Row{Number: i + 2, Record: toRecord(header, cells)})
	}
	return out
}

func toRecord(header, cells []string) Record {
	rec := make(Record, len(header))
	cells = padRow(cells, len(header))
	for i, col := range header {
		if col == "" {
			continue
		}
		if _, dup := rec[col]; dup {
			continue
		}
		rec[col] = cells[i]
	}
	return rec
}

func normalizeHeader(cells []string) []string {
	out := make([]string, len(cells))
	for i, c := range cells {
		out[i] = strings.TrimSpace(c)
	}
	return trimTrailingEmpty(out)
}

func diffColumns(expected, current []string) (missing, extra []string) {
	for _, c := range expected {
		if indexOf(current, c) < 0 {
			missing = append(missing, c)
		}
	}
	for _, c := range current {
		if indexOf(expected, c) < 0 {
			extra = append(extra, c)
		}
	}
	return missing, extra
}

func withoutColumns(cols, drop []string) []string {
	out := make([]string, 0, len(cols))
	for _, c := range cols {
		if indexOf(drop, c) < 0 {
			out = append(out, c)
		}
	}
	return out
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func indexOf(list []string, v string) int {
	for i, s := range list {
		if s == v {
			return i
		}
	}
	return -1
}
