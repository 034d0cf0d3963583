// Package sheetstore adapts header-row-driven tabular stores (a Google
// spreadsheet, a SQL table, an in-memory grid) to keyed record lookups and
// upserts.
package sheetstore

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/googleapis/gax-go/v2/apierror"
	"google.golang.org/api/googleapi"
)

// Sheet is one worksheet of the remote store. Row numbers are 1-indexed and
// row 1 is the header row.
type Sheet interface {
	Title() string
	// Values returns every row, header first. Rows may be ragged.
	Values(ctx context.Context) ([][]string, error)
	// Row returns row n, or nil when it is empty or past the end.
	Row(ctx context.Context, n int) ([]string, error)
	UpdateRow(ctx context.Context, n int, cells []string) error
	AppendRow(ctx context.Context, cells []string) error
}

// Workbook resolves worksheets by title.
type Workbook interface {
	// Sheet opens a worksheet. With create set a missing worksheet is added,
	// otherwise ErrSheetNotFound is returned.
	Sheet(ctx context.Context, title string, create bool) (Sheet, error)
	Close() error
}

var (
	ErrSheetNotFound = errors.New("worksheet not found")
	ErrNoKeyColumn   = errors.New("key column missing from header row")
	ErrBadRow        = errors.New("row number out of range")
)

// StatusError carries an HTTP-like status for backends that are not Google
// APIs, so the retry policy can classify them the same way.
type StatusError struct {
	Code int
	Err  error
}

func (e *StatusError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("status %d", e.Code)
	}
	return fmt.Sprintf("status %d: %v", e.Code, e.Err)
}

func (e *StatusError) Unwrap() error { return e.Err }

// transientCodes are the only statuses retried: rate limiting and the
// server-side failures Sheets documents as safe to retry.
var transientCodes = map[int]bool{
	http.StatusTooManyRequests:     true,
	http.StatusInternalServerError: true,
	http.StatusBadGateway:          true,
	http.StatusServiceUnavailable:  true,
	http.StatusGatewayTimeout:      true,
}

// StatusCode extracts the HTTP status carried by err, if any.
func StatusCode(err error) (int, bool) {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Code, true
	}
	var ge *googleapi.Error
	if errors.As(err, &ge) {
		return ge.Code, true
	}
	var ae *apierror.APIError
	if errors.As(err, &ae) && ae.HTTPCode() > 0 {
		return ae.HTTPCode(), true
	}
	return 0, false
}

// IsTransient reports whether err is a rate-limit or server-error failure.
func IsTransient(err error) bool {
	code, ok := StatusCode(err)
	return ok && transientCodes[code]
}

func padRow(cells []string, n int) []string {
	if len(cells) >= n {
		return cells
	}
	out := make([]string, n)
	copy(out, cells)
	return out
}

func trimTrailingEmpty(cells []string) []string {
	end := len(cells)
	for end > 0 && cells[end-1] == "" {
		end--
	}
	return cells[:end]
}
