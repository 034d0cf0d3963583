package sheetstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/oisdev/appraisal/internal/models"
	"gorm.io/gorm"
)

// DBWorkbook keeps worksheets as rows of the sheet_rows table, for
// deployments without a spreadsheet.
type DBWorkbook struct {
	db *gorm.DB
}

func NewDBWorkbook(db *gorm.DB) *DBWorkbook {
	return &DBWorkbook{db: db}
}

func (w *DBWorkbook) Sheet(ctx context.Context, title string, create bool) (Sheet, error) {
	if !create {
		var count int64
		if err := w.db.WithContext(ctx).Model(&models.SheetRow{}).Where("sheet = ?", title).Count(&count).Error; err != nil {
			return nil, err
		}
		if count == 0 {
			return nil, fmt.Errorf("%w: %s", ErrSheetNotFound, title)
		}
	}
	return &DBSheet{db: w.db, title: title}, nil
}

func (w *DBWorkbook) Close() error {
	sqlDB, err := w.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

type DBSheet struct {
	db    *gorm.DB
	title string
}

func (s *DBSheet) Title() string { return s.title }

func (s *DBSheet) Values(ctx context.Context) ([][]string, error) {
	var rows []models.SheetRow
	if err := s.db.WithContext(ctx).Where("sheet = ?", s.title).Order("row_num").Find(&rows).Error; err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	out := make([][]string, rows[len(rows)-1].RowNum)
	for _, r := range rows {
		out[r.RowNum-1] = r.Cells
	}
	return out, nil
}

func (s *DBSheet) Row(ctx context.Context, n int) ([]string, error) {
	var row models.SheetRow
	err := s.db.WithContext(ctx).Where("sheet = ? AND row_num = ?", s.title, n).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return row.Cells, nil
}

func (s *DBSheet) UpdateRow(ctx context.Context, n int, cells []string) error {
	if n < 1 {
		return fmt.Errorf("%w: %d", ErrBadRow, n)
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row models.SheetRow
		err := tx.Where("sheet = ? AND row_num = ?", s.title, n).First(&row).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return tx.Create(&models.SheetRow{Sheet: s.title, RowNum: n, Cells: cells}).Error
		}
		if err != nil {
			return err
		}
		row.Cells = cells
		return tx.Save(&row).Error
	})
}

func (s *DBSheet) AppendRow(ctx context.Context, cells []string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var last int
		if err := tx.Model(&models.SheetRow{}).
			Where("sheet = ?", s.title).
			Select("COALESCE(MAX(row_num), 0)").
			Scan(&last).Error; err != nil {
			return err
		}
		return tx.Create(&models.SheetRow{Sheet: s.title, RowNum: last + 1, Cells: cells}).Error
	})
}
