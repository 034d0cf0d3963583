package sheetstore

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/oisdev/appraisal/pkg/logger"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"
)

// GoogleOptions configures access to one spreadsheet.
type GoogleOptions struct {
	SpreadsheetID string
	// CredentialsFile is a service-account JSON key. Empty uses Application
	// Default Credentials.
	CredentialsFile string
	// ClientOptions are appended after the credential options, e.g. an
	// endpoint override for tests.
	ClientOptions []option.ClientOption
}

// GoogleWorkbook is a spreadsheet reached through the Sheets v4 API.
type GoogleWorkbook struct {
	svc    *sheets.Service
	id     string
	caller *Caller

	mu     sync.Mutex
	sheets map[string]*GoogleSheet
}

// newSheetColumns is the grid width given to worksheets created here. New
// Google worksheets default to 26 columns, fewer than a response header.
const newSheetColumns = 100

func OpenGoogle(ctx context.Context, opts GoogleOptions, caller *Caller) (*GoogleWorkbook, error) {
	clientOpts := []option.ClientOption{option.WithScopes(sheets.SpreadsheetsScope)}
	if opts.CredentialsFile != "" {
		clientOpts = append(clientOpts, option.WithCredentialsFile(opts.CredentialsFile))
	}
	clientOpts = append(clientOpts, opts.ClientOptions...)

	svc, err := sheets.NewService(ctx, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("create sheets client: %w", err)
	}
	if caller == nil {
		caller = NewCaller(DefaultRetryPolicy(), nil)
	}
	return &GoogleWorkbook{svc: svc, id: opts.SpreadsheetID, caller: caller}, nil
}

func (w *GoogleWorkbook) loadSheets(ctx context.Context) error {
	var ss *sheets.Spreadsheet
	err := w.caller.Do(ctx, "list worksheets", func(ctx context.Context) error {
		var err error
		ss, err = w.svc.Spreadsheets.Get(w.id).
			Fields("sheets.properties(sheetId,title,gridProperties.columnCount)").
			Context(ctx).
			Do()
		return err
	})
	if err != nil {
		return err
	}
	w.sheets = make(map[string]*GoogleSheet, len(ss.Sheets))
	for _, s := range ss.Sheets {
		if s.Properties != nil {
			w.sheets[s.Properties.Title] = w.newSheet(s.Properties)
		}
	}
	return nil
}

func (w *GoogleWorkbook) newSheet(p *sheets.SheetProperties) *GoogleSheet {
	gs := &GoogleSheet{svc: w.svc, id: w.id, title: p.Title, sheetID: p.SheetId}
	if p.GridProperties != nil {
		gs.columns = p.GridProperties.ColumnCount
	}
	return gs
}

func (w *GoogleWorkbook) Sheet(ctx context.Context, title string, create bool) (Sheet, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.sheets == nil {
		if err := w.loadSheets(ctx); err != nil {
			return nil, err
		}
	}
	if gs, ok := w.sheets[title]; ok {
		return gs, nil
	}
	if !create {
		return nil, fmt.Errorf("%w: %s", ErrSheetNotFound, title)
	}

	req := &sheets.BatchUpdateSpreadsheetRequest{
		Requests: []*sheets.Request{{
			AddSheet: &sheets.AddSheetRequest{Properties: &sheets.SheetProperties{
				Title:          title,
				GridProperties: &sheets.GridProperties{ColumnCount: newSheetColumns},
			}},
		}},
	}
	var resp *sheets.BatchUpdateSpreadsheetResponse
	err := w.caller.Do(ctx, "add worksheet "+title, func(ctx context.Context) error {
		var err error
		resp, err = w.svc.Spreadsheets.BatchUpdate(w.id, req).Context(ctx).Do()
		return err
	})
	if err != nil {
		return nil, err
	}

	props := &sheets.SheetProperties{Title: title, GridProperties: &sheets.GridProperties{ColumnCount: newSheetColumns}}
	if len(resp.Replies) > 0 && resp.Replies[0].AddSheet != nil && resp.Replies[0].AddSheet.Properties != nil {
		props = resp.Replies[0].AddSheet.Properties
	}
	gs := w.newSheet(props)
	w.sheets[title] = gs
	logger.Info().Str("worksheet", title).Int64("columns", gs.columns).Msg("created missing worksheet")
	return gs, nil
}

func (w *GoogleWorkbook) Close() error { return nil }

// GoogleSheet implements Sheet over one worksheet. Cells are written RAW so
// timestamps read back verbatim.
type GoogleSheet struct {
	svc     *sheets.Service
	id      string
	title   string
	sheetID int64

	mu sync.Mutex
	// columns is the grid width; 0 when unknown.
	columns int64
}

func (s *GoogleSheet) Title() string { return s.title }

func (s *GoogleSheet) rng(suffix string) string {
	return "'" + strings.ReplaceAll(s.title, "'", "''") + "'!" + suffix
}

func (s *GoogleSheet) Values(ctx context.Context) ([][]string, error) {
	vr, err := s.svc.Spreadsheets.Values.Get(s.id, s.rng("A:ZZ")).ValueRenderOption("FORMATTED_VALUE").Context(ctx).Do()
	if err != nil {
		return nil, err
	}
	return toStrings(vr.Values), nil
}

func (s *GoogleSheet) Row(ctx context.Context, n int) ([]string, error) {
	if n < 1 {
		return nil, fmt.Errorf("%w: %d", ErrBadRow, n)
	}
	vr, err := s.svc.Spreadsheets.Values.Get(s.id, s.rng(fmt.Sprintf("%d:%d", n, n))).ValueRenderOption("FORMATTED_VALUE").Context(ctx).Do()
	if err != nil {
		return nil, err
	}
	rows := toStrings(vr.Values)
	if len(rows) == 0 {
		return nil, nil
	}
	return rows[0], nil
}

func (s *GoogleSheet) UpdateRow(ctx context.Context, n int, cells []string) error {
	if n < 1 {
		return fmt.Errorf("%w: %d", ErrBadRow, n)
	}
	if err := s.ensureColumns(ctx, len(cells)); err != nil {
		return err
	}
	vr := &sheets.ValueRange{Values: [][]interface{}{toCells(cells)}}
	_, err := s.svc.Spreadsheets.Values.Update(s.id, s.rng(fmt.Sprintf("A%d", n)), vr).ValueInputOption("RAW").Context(ctx).Do()
	return err
}

func (s *GoogleSheet) AppendRow(ctx context.Context, cells []string) error {
	if err := s.ensureColumns(ctx, len(cells)); err != nil {
		return err
	}
	vr := &sheets.ValueRange{Values: [][]interface{}{toCells(cells)}}
	_, err := s.svc.Spreadsheets.Values.Append(s.id, s.rng("A1"), vr).
		ValueInputOption("RAW").
		InsertDataOption("INSERT_ROWS").
		Context(ctx).
		Do()
	return err
}

// ensureColumns widens the grid so a row of n cells fits. Values writes
// past the last column are rejected by the API.
func (s *GoogleSheet) ensureColumns(ctx context.Context, n int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.columns == 0 || int64(n) <= s.columns {
		return nil
	}
	grow := int64(n) - s.columns
	req := &sheets.BatchUpdateSpreadsheetRequest{
		Requests: []*sheets.Request{{
			AppendDimension: &sheets.AppendDimensionRequest{
				SheetId:         s.sheetID,
				Dimension:       "COLUMNS",
				Length:          grow,
				ForceSendFields: []string{"SheetId"},
			},
		}},
	}
	if _, err := s.svc.Spreadsheets.BatchUpdate(s.id, req).Context(ctx).Do(); err != nil {
		return err
	}
	s.columns = int64(n)
	logger.Info().Str("worksheet", s.title).Int64("added", grow).Msg("widened worksheet grid")
	return nil
}

func toStrings(values [][]interface{}) [][]string {
	out := make([][]string, len(values))
	for i, row := range values {
		out[i] = make([]string, len(row))
		for j, v := range row {
			if v != nil {
				out[i][j] = fmt.Sprint(v)
			}
		}
	}
	return out
}

func toCells(cells []string) []interface{} {
	out := make([]interface{}, len(cells))
	for i, c := range cells {
		out[i] = c
	}
	return out
}
