package sheetstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"

	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"
)

const fakeSpreadsheetID = "sheet-1"

// defaultGridColumns is the width Google gives a worksheet added without
// grid properties.
const defaultGridColumns = 26

type fakeTab struct {
	id   int64
	cols int64
	rows [][]string
}

// fakeSheets serves the subset of the Sheets v4 API the workbook uses and
// rejects writes past a worksheet's grid like the real service.
type fakeSheets struct {
	mu       sync.Mutex
	tabs     map[string]*fakeTab
	nextID   int64
	queries  []string
	batches  []*sheets.BatchUpdateSpreadsheetRequest
	failCode int
	failures int
}

func newFakeSheets(t *testing.T) (*fakeSheets, *httptest.Server) {
	t.Helper()
	f := &fakeSheets{tabs: make(map[string]*fakeTab)}
	srv := httptest.NewServer(http.HandlerFunc(f.serve))
	t.Cleanup(srv.Close)
	return f, srv
}

func (f *fakeSheets) addTab(title string, cols int64, rows ...[]string) *fakeTab {
	f.mu.Lock()
	defer f.mu.Unlock()
	tab := &fakeTab{id: f.nextID, cols: cols, rows: rows}
	f.nextID++
	f.tabs[title] = tab
	return tab
}

// locked runs fn while the server is idle.
func (f *fakeSheets) locked(fn func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn()
}

func (f *fakeSheets) failNext(code, n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failCode, f.failures = code, n
}

func (f *fakeSheets) serve(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.failures > 0 {
		f.failures--
		writeAPIError(w, f.failCode, http.StatusText(f.failCode))
		return
	}

	path := strings.TrimPrefix(r.URL.Path, "/v4/spreadsheets/"+fakeSpreadsheetID)
	switch {
	case path == "" && r.Method == http.MethodGet:
		f.list(w)
	case path == ":batchUpdate" && r.Method == http.MethodPost:
		f.batchUpdate(w, r)
	case strings.HasPrefix(path, "/values/"):
		rng := strings.TrimPrefix(path, "/values/")
		f.queries = append(f.queries, r.Method+" "+rng+"?"+r.URL.RawQuery)
		switch {
		case r.Method == http.MethodPost && strings.HasSuffix(rng, ":append"):
			f.appendValues(w, r, strings.TrimSuffix(rng, ":append"))
		case r.Method == http.MethodGet:
			f.getValues(w, rng)
		case r.Method == http.MethodPut:
			f.updateValues(w, r, rng)
		default:
			writeAPIError(w, http.StatusNotFound, "unsupported values call")
		}
	default:
		writeAPIError(w, http.StatusNotFound, "unsupported call "+r.Method+" "+r.URL.Path)
	}
}

func (f *fakeSheets) list(w http.ResponseWriter) {
	ss := &sheets.Spreadsheet{}
	for title, tab := range f.tabs {
		ss.Sheets = append(ss.Sheets, &sheets.Sheet{Properties: &sheets.SheetProperties{
			SheetId:        tab.id,
			Title:          title,
			GridProperties: &sheets.GridProperties{ColumnCount: tab.cols},
		}})
	}
	writeJSON(w, ss)
}

func (f *fakeSheets) batchUpdate(w http.ResponseWriter, r *http.Request) {
	var req sheets.BatchUpdateSpreadsheetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAPIError(w, http.StatusBadRequest, err.Error())
		return
	}
	f.batches = append(f.batches, &req)

	resp := &sheets.BatchUpdateSpreadsheetResponse{SpreadsheetId: fakeSpreadsheetID}
	for _, sub := range req.Requests {
		switch {
		case sub.AddSheet != nil:
			p := sub.AddSheet.Properties
			cols := int64(defaultGridColumns)
			if p.GridProperties != nil && p.GridProperties.ColumnCount > 0 {
				cols = p.GridProperties.ColumnCount
			}
			tab := &fakeTab{id: f.nextID, cols: cols}
			f.nextID++
			f.tabs[p.Title] = tab
			resp.Replies = append(resp.Replies, &sheets.Response{AddSheet: &sheets.AddSheetResponse{
				Properties: &sheets.SheetProperties{
					SheetId:        tab.id,
					Title:          p.Title,
					GridProperties: &sheets.GridProperties{ColumnCount: cols},
				},
			}})
		case sub.AppendDimension != nil:
			var found bool
			for _, tab := range f.tabs {
				if tab.id == sub.AppendDimension.SheetId && sub.AppendDimension.Dimension == "COLUMNS" {
					tab.cols += sub.AppendDimension.Length
					found = true
				}
			}
			if !found {
				writeAPIError(w, http.StatusBadRequest, "no grid with that id")
				return
			}
			resp.Replies = append(resp.Replies, &sheets.Response{})
		}
	}
	writeJSON(w, resp)
}

// parseRange splits "'Title'!A1" into its unquoted title and cell part.
func parseRange(rng string) (string, string, bool) {
	if !strings.HasPrefix(rng, "'") {
		return "", "", false
	}
	var b strings.Builder
	for i := 1; i < len(rng); i++ {
		if rng[i] != '\'' {
			b.WriteByte(rng[i])
			continue
		}
		if i+1 < len(rng) && rng[i+1] == '\'' {
			b.WriteByte('\'')
			i++
			continue
		}
		if i+1 < len(rng) && rng[i+1] == '!' {
			return b.String(), rng[i+2:], true
		}
		return "", "", false
	}
	return "", "", false
}

func (f *fakeSheets) tab(w http.ResponseWriter, rng string) (*fakeTab, string, bool) {
	title, cells, ok := parseRange(rng)
	if !ok {
		writeAPIError(w, http.StatusBadRequest, "unable to parse range: "+rng)
		return nil, "", false
	}
	tab, ok := f.tabs[title]
	if !ok {
		writeAPIError(w, http.StatusBadRequest, "unable to parse range: "+rng)
		return nil, "", false
	}
	return tab, cells, true
}

func (f *fakeSheets) getValues(w http.ResponseWriter, rng string) {
	tab, cells, ok := f.tab(w, rng)
	if !ok {
		return
	}
	vr := &sheets.ValueRange{Range: rng, MajorDimension: "ROWS"}
	if cells == "A:ZZ" {
		for _, row := range tab.rows {
			vr.Values = append(vr.Values, toCells(row))
		}
	} else {
		n, err := strconv.Atoi(strings.SplitN(cells, ":", 2)[0])
		if err != nil {
			writeAPIError(w, http.StatusBadRequest, "bad row range "+cells)
			return
		}
		if n <= len(tab.rows) && len(tab.rows[n-1]) > 0 {
			vr.Values = [][]interface{}{toCells(tab.rows[n-1])}
		}
	}
	writeJSON(w, vr)
}

func (f *fakeSheets) readRow(w http.ResponseWriter, r *http.Request, tab *fakeTab) ([]string, bool) {
	var vr sheets.ValueRange
	if err := json.NewDecoder(r.Body).Decode(&vr); err != nil || len(vr.Values) != 1 {
		writeAPIError(w, http.StatusBadRequest, "expected one row")
		return nil, false
	}
	row := toStrings(vr.Values)[0]
	if int64(len(row)) > tab.cols {
		writeAPIError(w, http.StatusBadRequest, fmt.Sprintf("Range exceeds grid limits. Max columns: %d", tab.cols))
		return nil, false
	}
	return row, true
}

func (f *fakeSheets) updateValues(w http.ResponseWriter, r *http.Request, rng string) {
	tab, cells, ok := f.tab(w, rng)
	if !ok {
		return
	}
	n, err := strconv.Atoi(strings.TrimPrefix(cells, "A"))
	if err != nil {
		writeAPIError(w, http.StatusBadRequest, "bad update range "+cells)
		return
	}
	row, ok := f.readRow(w, r, tab)
	if !ok {
		return
	}
	for len(tab.rows) < n {
		tab.rows = append(tab.rows, nil)
	}
	tab.rows[n-1] = row
	writeJSON(w, &sheets.UpdateValuesResponse{UpdatedRange: rng})
}

func (f *fakeSheets) appendValues(w http.ResponseWriter, r *http.Request, rng string) {
	tab, _, ok := f.tab(w, rng)
	if !ok {
		return
	}
	row, ok := f.readRow(w, r, tab)
	if !ok {
		return
	}
	tab.rows = append(tab.rows, row)
	writeJSON(w, &sheets.AppendValuesResponse{SpreadsheetId: fakeSpreadsheetID})
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func writeAPIError(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	fmt.Fprintf(w, `{"error":{"code":%d,"message":%q}}`, code, msg)
}

func openFakeWorkbook(t *testing.T, srv *httptest.Server) *GoogleWorkbook {
	t.Helper()
	wb, err := OpenGoogle(context.Background(), GoogleOptions{
		SpreadsheetID: fakeSpreadsheetID,
		ClientOptions: []option.ClientOption{
			option.WithEndpoint(srv.URL + "/"),
			option.WithoutAuthentication(),
		},
	}, fastCaller())
	if err != nil {
		t.Fatalf("OpenGoogle() error = %v", err)
	}
	return wb
}

func wideLayout(n int) []string {
	cols := []string{"Email"}
	for i := 1; len(cols) < n; i++ {
		cols = append(cols, fmt.Sprintf("Q%d", i))
	}
	return cols
}

func TestGoogleWorkbook_CreatesSheetWideEnoughForHeader(t *testing.T) {
	fake, srv := newFakeSheets(t)
	fake.addTab("Users", defaultGridColumns, []string{"Email", "Role"})
	wb := openFakeWorkbook(t, srv)
	ctx := context.Background()

	if _, err := wb.Sheet(ctx, "Drafts", false); !errors.Is(err, ErrSheetNotFound) {
		t.Fatalf("Sheet(create=false) error = %v, expected ErrSheetNotFound", err)
	}
	sheet, err := wb.Sheet(ctx, "Drafts", true)
	if err != nil {
		t.Fatalf("Sheet(create=true) error = %v", err)
	}

	var add *sheets.AddSheetRequest
	fake.locked(func() { add = fake.batches[0].Requests[0].AddSheet })
	if add == nil || add.Properties.GridProperties == nil || add.Properties.GridProperties.ColumnCount < 64 {
		t.Fatalf("AddSheet request = %+v, expected an explicit grid width", add)
	}

	layout := wideLayout(60)
	check, err := NewTable(sheet, "Email", layout, fastCaller()).EnsureHeader(ctx, layout)
	if err != nil {
		t.Fatalf("EnsureHeader() error = %v", err)
	}
	if check.Status != HeaderCreated {
		t.Errorf("status = %s, expected created", check.Status)
	}
	fake.locked(func() {
		if got := len(fake.tabs["Drafts"].rows[0]); got != 60 {
			t.Errorf("header cells = %d, expected 60", got)
		}
	})

	// A second lookup reuses the known worksheet.
	if _, err := wb.Sheet(ctx, "Drafts", false); err != nil {
		t.Errorf("Sheet() after create error = %v", err)
	}
	fake.locked(func() {
		if len(fake.batches) != 1 {
			t.Errorf("batch updates = %d, expected 1", len(fake.batches))
		}
	})
}

func TestGoogleSheet_AddColumnWidensFullGrid(t *testing.T) {
	fake, srv := newFakeSheets(t)
	header := wideLayout(defaultGridColumns)
	fake.addTab("Responses", defaultGridColumns, header)
	wb := openFakeWorkbook(t, srv)
	ctx := context.Background()

	sheet, err := wb.Sheet(ctx, "Responses", false)
	if err != nil {
		t.Fatal(err)
	}
	table := NewTable(sheet, "Email", header, fastCaller())
	if err := table.AddColumn(ctx, "Last Edited On"); err != nil {
		t.Fatalf("AddColumn() error = %v", err)
	}

	fake.locked(func() {
		tab := fake.tabs["Responses"]
		if tab.cols != defaultGridColumns+1 {
			t.Errorf("grid columns = %d, expected %d", tab.cols, defaultGridColumns+1)
		}
		if got := tab.rows[0][len(tab.rows[0])-1]; got != "Last Edited On" {
			t.Errorf("last header cell = %q", got)
		}
		dim := fake.batches[0].Requests[0].AppendDimension
		if dim == nil || dim.Dimension != "COLUMNS" || dim.Length != 1 {
			t.Errorf("AppendDimension = %+v", dim)
		}
	})
}

func TestGoogleSheet_ValuesCalls(t *testing.T) {
	fake, srv := newFakeSheets(t)
	fake.addTab("O'Brien's", defaultGridColumns, []string{"Email", "Name"}, []string{"a@x.org", "Ann"})
	wb := openFakeWorkbook(t, srv)
	ctx := context.Background()

	sheet, err := wb.Sheet(ctx, "O'Brien's", false)
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name  string
		run   func() error
		query string
	}{
		{
			name: "values",
			run: func() error {
				rows, err := sheet.Values(ctx)
				if err == nil && len(rows) != 2 {
					return fmt.Errorf("rows = %v", rows)
				}
				return err
			},
			query: "GET 'O''Brien''s'!A:ZZ?",
		},
		{
			name: "empty row",
			run: func() error {
				row, err := sheet.Row(ctx, 5)
				if err == nil && row != nil {
					return fmt.Errorf("row = %v, expected nil", row)
				}
				return err
			},
			query: "GET 'O''Brien''s'!5:5?",
		},
		{
			name:  "update",
			run:   func() error { return sheet.UpdateRow(ctx, 2, []string{"a@x.org", "Ann Lee"}) },
			query: "PUT 'O''Brien''s'!A2?",
		},
		{
			name:  "append",
			run:   func() error { return sheet.AppendRow(ctx, []string{"b@x.org", "=1+1"}) },
			query: "POST 'O''Brien''s'!A1:append?",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake.locked(func() { fake.queries = nil })
			if err := tt.run(); err != nil {
				t.Fatalf("error = %v", err)
			}
			fake.locked(func() {
				if len(fake.queries) != 1 || !strings.HasPrefix(fake.queries[0], tt.query) {
					t.Errorf("queries = %v, expected prefix %q", fake.queries, tt.query)
				}
			})
		})
	}

	fake.locked(func() {
		for _, q := range []string{"valueInputOption=RAW", "insertDataOption=INSERT_ROWS"} {
			if !strings.Contains(strings.Join(fake.queries, " "), q) {
				t.Errorf("append query %v lacks %s", fake.queries, q)
			}
		}
		rows := fake.tabs["O'Brien's"].rows
		if rows[1][1] != "Ann Lee" || rows[2][1] != "=1+1" {
			t.Errorf("rows = %v", rows)
		}
	})
}

func TestGoogleSheet_ErrorClassification(t *testing.T) {
	tests := []struct {
		name      string
		code      int
		transient bool
	}{
		{"rate limited", http.StatusTooManyRequests, true},
		{"unavailable", http.StatusServiceUnavailable, true},
		{"bad request", http.StatusBadRequest, false},
		{"forbidden", http.StatusForbidden, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake, srv := newFakeSheets(t)
			fake.addTab("Users", defaultGridColumns, []string{"Email"})
			wb := openFakeWorkbook(t, srv)
			sheet, err := wb.Sheet(context.Background(), "Users", false)
			if err != nil {
				t.Fatal(err)
			}

			fake.failNext(tt.code, 1)
			_, err = sheet.Values(context.Background())
			if err == nil {
				t.Fatal("expected error")
			}
			if code, _ := StatusCode(err); code != tt.code {
				t.Errorf("StatusCode() = %d, expected %d", code, tt.code)
			}
			if got := IsTransient(err); got != tt.transient {
				t.Errorf("IsTransient() = %v, expected %v", got, tt.transient)
			}
		})
	}
}

func TestGoogleSheet_TableRetriesTransient(t *testing.T) {
	fake, srv := newFakeSheets(t)
	fake.addTab("Users", defaultGridColumns, []string{"Email"}, []string{"a@x.org"})
	wb := openFakeWorkbook(t, srv)
	sheet, err := wb.Sheet(context.Background(), "Users", false)
	if err != nil {
		t.Fatal(err)
	}

	fake.failNext(http.StatusServiceUnavailable, 2)
	_, found, err := NewTable(sheet, "Email", nil, fastCaller()).FindByKey(context.Background(), "a@x.org")
	if err != nil || !found {
		t.Errorf("FindByKey() found=%v err=%v", found, err)
	}
}
