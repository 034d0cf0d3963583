package models

import "time"

// SheetRow stores one worksheet row for the database store driver.
type SheetRow struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Sheet     string    `gorm:"size:100;not null;uniqueIndex:idx_sheet_row" json:"sheet"`
	RowNum    int       `gorm:"not null;uniqueIndex:idx_sheet_row" json:"row_num"`
	Cells     []string  `gorm:"serializer:json;type:text" json:"cells"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (SheetRow) TableName() string { return "sheet_rows" }
