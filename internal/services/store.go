package services

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"os"

	"github.com/oisdev/appraisal/internal/config"
	"github.com/oisdev/appraisal/internal/models"
	"github.com/oisdev/appraisal/internal/rubric"
	"github.com/oisdev/appraisal/internal/sheetstore"
	"github.com/oisdev/appraisal/pkg/logger"
	"golang.org/x/time/rate"
)

// Store is the opened workbook plus the three tables the app reads and
// writes.
type Store struct {
	Workbook  sheetstore.Workbook
	Users     *sheetstore.Table
	Responses *sheetstore.Table
	Drafts    *sheetstore.Table
}

// OpenStore connects the configured backend and binds the Users, Responses
// and Drafts tables. A missing Users sheet is an error except on the
// database driver, where it starts empty until imported; Responses and
// Drafts are created when absent.
func OpenStore(ctx context.Context, cfg *config.Config, schema *rubric.Schema) (*Store, error) {
	caller := NewStoreCaller(cfg)

	var wb sheetstore.Workbook
	switch cfg.Store.Driver {
	case "google":
		g, err := sheetstore.OpenGoogle(ctx, sheetstore.GoogleOptions{
			SpreadsheetID:   cfg.Store.SpreadsheetID,
			CredentialsFile: cfg.Store.CredentialsFile,
		}, caller)
		if err != nil {
			return nil, err
		}
		wb = g
	case "database":
		db, err := models.InitDB(&cfg.Database, cfg.Server.Mode == "debug")
		if err != nil {
			return nil, err
		}
		if err := models.AutoMigrate(db); err != nil {
			return nil, fmt.Errorf("migrate database: %w", err)
		}
		wb = sheetstore.NewDBWorkbook(db)
	case "memory":
		users, err := memoryRoster(cfg)
		if err != nil {
			return nil, err
		}
		wb = sheetstore.NewMemoryWorkbook(users)
	default:
		return nil, fmt.Errorf("unsupported store driver: %q", cfg.Store.Driver)
	}
	logger.Infof("[Store] Using %s driver", cfg.Store.Driver)

	users, err := wb.Sheet(ctx, cfg.Store.UsersSheet, cfg.Store.Driver == "database")
	if err != nil {
		wb.Close()
		return nil, fmt.Errorf("open roster: %w", err)
	}
	responses, err := wb.Sheet(ctx, cfg.Store.ResponsesSheet, true)
	if err != nil {
		wb.Close()
		return nil, fmt.Errorf("open responses: %w", err)
	}
	drafts, err := wb.Sheet(ctx, cfg.Store.DraftsSheet, true)
	if err != nil {
		wb.Close()
		return nil, fmt.Errorf("open drafts: %w", err)
	}

	return &Store{
		Workbook:  wb,
		Users:     sheetstore.NewTable(users, cfg.Roster.EmailColumn, RosterColumns(cfg.Roster), caller),
		Responses: sheetstore.NewTable(responses, rubric.ColEmail, schema.ResponseHeaders(), caller),
		Drafts:    sheetstore.NewTable(drafts, rubric.ColEmail, schema.DraftHeaders(), caller),
	}, nil
}

func (s *Store) Close() error {
	return s.Workbook.Close()
}

// NewStoreCaller builds the retrying, rate limited caller shared by every
// table.
func NewStoreCaller(cfg *config.Config) *sheetstore.Caller {
	var limiter *rate.Limiter
	if cfg.Store.RequestsPerSec > 0 {
		burst := cfg.Store.Burst
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.Store.RequestsPerSec), burst)
	}
	return sheetstore.NewCaller(sheetstore.RetryPolicy{
		MaxAttempts:  cfg.Retry.MaxAttempts,
		InitialDelay: cfg.Retry.InitialDelay,
		Multiplier:   cfg.Retry.Multiplier,
	}, limiter)
}

// memoryRoster builds the memory driver's Users sheet, from the seed CSV
// when configured, else with only the mapped header row.
func memoryRoster(cfg *config.Config) (*sheetstore.MemorySheet, error) {
	if cfg.Store.SeedRosterCSV == "" {
		logger.Warnf("[Store] Memory driver without seed_roster_csv: the roster is empty")
		return sheetstore.NewMemorySheet(cfg.Store.UsersSheet, RosterColumns(cfg.Roster)), nil
	}
	f, err := os.Open(cfg.Store.SeedRosterCSV)
	if err != nil {
		return nil, fmt.Errorf("open roster seed: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	rows, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse roster seed: %w", err)
	}
	if len(rows) == 0 {
		return nil, errors.New("roster seed is empty")
	}
	logger.Infof("[Store] Seeded %d roster rows from %s", len(rows)-1, cfg.Store.SeedRosterCSV)
	return sheetstore.NewMemorySheet(cfg.Store.UsersSheet, rows...), nil
}
