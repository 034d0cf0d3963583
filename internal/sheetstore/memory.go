package sheetstore

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
)

// MemorySheet is a process-local grid used by tests and the memory driver.
type MemorySheet struct {
	title string

	mu   sync.RWMutex
	rows [][]string

	reads  atomic.Int64
	writes atomic.Int64
}

func NewMemorySheet(title string, rows ...[]string) *MemorySheet {
	s := &MemorySheet{title: title}
	for _, r := range rows {
		s.rows = append(s.rows, append([]string(nil), r...))
	}
	return s
}

func (s *MemorySheet) Title() string { return s.title }

func (s *MemorySheet) Values(ctx context.Context) ([][]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.reads.Add(1)
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([][]string, len(s.rows))
	for i, r := range s.rows {
		out[i] = append([]string(nil), r...)
	}
	return out, nil
}

func (s *MemorySheet) Row(ctx context.Context, n int) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if n < 1 {
		return nil, fmt.Errorf("%w: %d", ErrBadRow, n)
	}
	s.reads.Add(1)
	s.mu.RLock()
	defer s.mu.RUnlock()
	if n > len(s.rows) {
		return nil, nil
	}
	return append([]string(nil), s.rows[n-1]...), nil
}

func (s *MemorySheet) UpdateRow(ctx context.Context, n int, cells []string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if n < 1 {
		return fmt.Errorf("%w: %d", ErrBadRow, n)
	}
	s.writes.Add(1)
	s.mu.Lock()
	defer s.mu.Unlock()
	for len(s.rows) < n {
		s.rows = append(s.rows, nil)
	}
	s.rows[n-1] = append([]string(nil), cells...)
	return nil
}

func (s *MemorySheet) AppendRow(ctx context.Context, cells []string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.writes.Add(1)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows = append(s.rows, append([]string(nil), cells...))
	return nil
}

// Calls returns the number of read and write operations served so far.
func (s *MemorySheet) Calls() (reads, writes int64) {
	return s.reads.Load(), s.writes.Load()
}

// MemoryWorkbook holds MemorySheets by title.
type MemoryWorkbook struct {
	mu     sync.Mutex
	sheets map[string]*MemorySheet
}

func NewMemoryWorkbook(sheets ...*MemorySheet) *MemoryWorkbook {
	wb := &MemoryWorkbook{sheets: make(map[string]*MemorySheet)}
	for _, s := range sheets {
		wb.sheets[s.title] = s
	}
	return wb
}

func (w *MemoryWorkbook) Sheet(_ context.Context, title string, create bool) (Sheet, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if s, ok := w.sheets[title]; ok {
		return s, nil
	}
	if !create {
		return nil, fmt.Errorf("%w: %s", ErrSheetNotFound, title)
	}
	s := NewMemorySheet(title)
	w.sheets[title] = s
	return s, nil
}

func (w *MemoryWorkbook) Close() error { return nil }
