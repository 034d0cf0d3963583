package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/oisdev/appraisal/internal/config"
	"github.com/oisdev/appraisal/internal/models"
	"github.com/oisdev/appraisal/internal/sheetstore"
	"github.com/oisdev/appraisal/pkg/logger"
)

// RosterService reads users from the Users table. The server never writes
// it; Import exists for seeding a database-backed store.
type RosterService struct {
	table  *sheetstore.Table
	cols   config.RosterConfig
	loader *cachedLoader
	ttl    time.Duration
}

func NewRosterService(table *sheetstore.Table, cols config.RosterConfig, cache Cache, ttl time.Duration) *RosterService {
	return &RosterService{table: table, cols: cols, loader: newCachedLoader(cache), ttl: ttl}
}

// Columns is the roster header layout implied by the column mapping.
func (s *RosterService) Columns() []string {
	return RosterColumns(s.cols)
}

// RosterColumns lists the mapped Users columns in Email, Name, Appraiser,
// Role, Password order, skipping unmapped ones.
func RosterColumns(cols config.RosterConfig) []string {
	var out []string
	for _, c := range []string{cols.EmailColumn, cols.NameColumn, cols.AppraiserColumn, cols.RoleColumn, cols.PasswordColumn} {
		if c != "" {
			out = append(out, c)
		}
	}
	return out
}

// CheckColumns fails when the Users header lacks the Email or Role column.
func (s *RosterService) CheckColumns(ctx context.Context) error {
	header, err := s.table.Header(ctx)
	if err != nil {
		return err
	}
	var missing []string
	for _, c := range []string{s.cols.EmailColumn, s.cols.RoleColumn} {
		if !contains(header, c) {
			missing = append(missing, c)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%s table is missing required columns: %s", s.table.Name(), strings.Join(missing, ", "))
	}
	for _, c := range []string{s.cols.NameColumn, s.cols.AppraiserColumn} {
		if c != "" && !contains(header, c) {
			logger.Warn().Str("table", s.table.Name()).Str("column", c).Msg("optional roster column missing")
		}
	}
	return nil
}

// rosterEntry is the cached form of models.User, which hides Password and
// Row from JSON.
type rosterEntry struct {
	Email     string `json:"email"`
	Name      string `json:"name"`
	Appraiser string `json:"appraiser"`
	Role      string `json:"role"`
	Password  string `json:"password"`
	Row       int    `json:"row"`
}

// Users returns every valid roster entry, served from cache within the TTL.
func (s *RosterService) Users(ctx context.Context) ([]models.User, error) {
	var entries []rosterEntry
	err := s.loader.fetch(ctx, cacheKeyRoster, s.ttl, &entries, func(ctx context.Context) (any, error) {
		users, err := s.load(ctx)
		if err != nil {
			return nil, err
		}
		out := make([]rosterEntry, len(users))
		for i, u := range users {
			out[i] = rosterEntry(u)
		}
		return out, nil
	})
	if err != nil {
		return nil, err
	}
	users := make([]models.User, len(entries))
	for i, e := range entries {
		users[i] = models.User(e)
	}
	return users, nil
}

func (s *RosterService) load(ctx context.Context) ([]models.User, error) {
	rows, err := s.table.All(ctx)
	if err != nil {
		return nil, err
	}
	users := make([]models.User, 0, len(rows))
	seen := make(map[string]bool, len(rows))
	for _, row := range rows {
		u, ok := s.toUser(row)
		if !ok || seen[u.Email] {
			continue
		}
		seen[u.Email] = true
		users = append(users, u)
	}
	return users, nil
}

func (s *RosterService) toUser(row sheetstore.Row) (models.User, bool) {
	email := normalizeEmail(row.Record.Get(s.cols.EmailColumn))
	if email == "" {
		return models.User{}, false
	}
	role, ok := normalizeRole(row.Record.Get(s.cols.RoleColumn))
	if !ok {
		logger.Warn().Int("row", row.Number).Str("email", email).Msg("skipping roster row with unknown role")
		return models.User{}, false
	}
	u := models.User{
		Email:     email,
		Name:      row.Record.Get(s.cols.NameColumn),
		Appraiser: row.Record.Get(s.cols.AppraiserColumn),
		Role:      role,
		Row:       row.Number,
	}
	if s.cols.PasswordColumn != "" {
		u.Password = row.Record.Get(s.cols.PasswordColumn)
	}
	if u.Name == "" {
		u.Name = email
	}
	if u.Appraiser == "" {
		u.Appraiser = models.DefaultAppraiser
	}
	return u, true
}

func (s *RosterService) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	users, err := s.Users(ctx)
	if err != nil {
		return nil, err
	}
	want := normalizeEmail(email)
	for i := range users {
		if users[i].Email == want {
			return &users[i], nil
		}
	}
	return nil, ErrUserNotFound
}

// Teachers returns every user with the teacher role, in roster order.
func (s *RosterService) Teachers(ctx context.Context) ([]models.User, error) {
	users, err := s.Users(ctx)
	if err != nil {
		return nil, err
	}
	var out []models.User
	for _, u := range users {
		if u.IsTeacher() {
			out = append(out, u)
		}
	}
	return out, nil
}

// AppraiseesOf returns the teachers viewer may see: all of them for a super
// admin, otherwise those listing viewer as an appraiser.
func (s *RosterService) AppraiseesOf(ctx context.Context, viewer *models.User) ([]models.User, error) {
	if !viewer.IsAdmin() {
		return nil, ErrForbidden
	}
	teachers, err := s.Teachers(ctx)
	if err != nil {
		return nil, err
	}
	if viewer.IsSuperAdmin() {
		return teachers, nil
	}
	var out []models.User
	for _, t := range teachers {
		if t.AppraisedBy(viewer) {
			out = append(out, t)
		}
	}
	return out, nil
}

// Import upserts roster rows keyed by email. header names the columns of
// rows; rows without an email or with an unknown role are skipped.
func (s *RosterService) Import(ctx context.Context, header []string, rows [][]string) (int, error) {
	emailIdx := indexOfFold(header, s.cols.EmailColumn)
	if emailIdx < 0 {
		return 0, fmt.Errorf("import is missing the %s column", s.cols.EmailColumn)
	}
	roleIdx := indexOfFold(header, s.cols.RoleColumn)

	// Match import columns to the roster layout regardless of case.
	layout := s.Columns()
	names := make([]string, len(header))
	for j, col := range header {
		names[j] = strings.TrimSpace(col)
		if k := indexOfFold(layout, names[j]); k >= 0 {
			names[j] = layout[k]
		}
	}

	imported := 0
	for i, row := range rows {
		if emailIdx >= len(row) || normalizeEmail(row[emailIdx]) == "" {
			continue
		}
		if roleIdx >= 0 && roleIdx < len(row) {
			if _, ok := normalizeRole(row[roleIdx]); !ok {
				logger.Warn().Int("line", i+2).Str("role", row[roleIdx]).Msg("skipping roster row with unknown role")
				continue
			}
		}
		record := make(sheetstore.Record, len(header))
		for j, col := range names {
			if j < len(row) {
				record[col] = strings.TrimSpace(row[j])
			}
		}
		if _, err := s.table.Upsert(ctx, normalizeEmail(row[emailIdx]), record); err != nil {
			return imported, err
		}
		imported++
	}
	s.Invalidate(ctx)
	logger.Infof("[Roster] Imported %d of %d rows into %s", imported, len(rows), s.table.Name())
	return imported, nil
}

func indexOfFold(list []string, v string) int {
	for i, s := range list {
		if strings.EqualFold(strings.TrimSpace(s), v) {
			return i
		}
	}
	return -1
}

func (s *RosterService) Invalidate(ctx context.Context) {
	s.loader.invalidate(ctx, cacheKeyRoster)
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func normalizeRole(role string) (string, bool) {
	switch strings.ToLower(strings.TrimSpace(role)) {
	case "user", "teacher":
		return models.RoleTeacher, true
	case "admin":
		return models.RoleAdmin, true
	case "sadmin", "super_admin", "superadmin":
		return models.RoleSuperAdmin, true
	}
	return "", false
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
