package services

import (
	"context"
	"math"
	"time"

	"github.com/oisdev/appraisal/internal/models"
	"github.com/oisdev/appraisal/internal/rubric"
)

// TeacherStatus is one row of the admin summary.
type TeacherStatus struct {
	Email          string     `json:"email"`
	Name           string     `json:"name"`
	Appraiser      string     `json:"appraiser"`
	Submitted      bool       `json:"submitted"`
	Submissions    int        `json:"submissions"`
	LastSubmission *time.Time `json:"last_submission,omitempty"`
}

type Summary struct {
	Teachers  []TeacherStatus `json:"teachers"`
	Total     int             `json:"total"`
	Submitted int             `json:"submitted"`
	Percent   float64         `json:"percent"`
}

type GridColumn struct {
	Code   string `json:"code"`
	Label  string `json:"label"`
	Domain string `json:"domain"`
}

// GridRow is a teacher's latest submission with abbreviated ratings.
type GridRow struct {
	Email     string            `json:"email"`
	Name      string            `json:"name"`
	Appraiser string            `json:"appraiser"`
	Timestamp time.Time         `json:"timestamp"`
	Ratings   map[string]string `json:"ratings"` // code -> abbreviation
}

type Grid struct {
	Columns []GridColumn `json:"columns"`
	Rows    []GridRow    `json:"rows"`
}

type TeacherDetail struct {
	Teacher models.User         `json:"teacher"`
	Latest  *models.Submission  `json:"latest,omitempty"`
	History []models.Submission `json:"history"`
}

// DashboardService builds the admin views, scoped to the viewer's appraisees.
type DashboardService struct {
	schema      *rubric.Schema
	roster      *RosterService
	assessments *AssessmentService
}

func NewDashboardService(schema *rubric.Schema, roster *RosterService, assessments *AssessmentService) *DashboardService {
	return &DashboardService{schema: schema, roster: roster, assessments: assessments}
}

func (s *DashboardService) scope(ctx context.Context, viewer *models.User) ([]models.User, []models.Submission, error) {
	teachers, err := s.roster.AppraiseesOf(ctx, viewer)
	if err != nil {
		return nil, nil, err
	}
	subs, err := s.assessments.Submissions(ctx)
	if err != nil {
		return nil, nil, err
	}
	return teachers, subs, nil
}

// Summary lists submission status for every teacher in the viewer's scope.
func (s *DashboardService) Summary(ctx context.Context, viewer *models.User) (*Summary, error) {
	teachers, subs, err := s.scope(ctx, viewer)
	if err != nil {
		return nil, err
	}
	byEmail := groupByEmail(subs)

	sum := &Summary{Teachers: make([]TeacherStatus, 0, len(teachers)), Total: len(teachers)}
	for _, t := range teachers {
		st := TeacherStatus{Email: t.Email, Name: t.Name, Appraiser: t.Appraiser}
		if mine := byEmail[t.Email]; len(mine) > 0 {
			latest := latestOf(mine)
			ts := latest.Timestamp
			st.Submitted = true
			st.Submissions = len(mine)
			st.LastSubmission = &ts
			sum.Submitted++
		}
		sum.Teachers = append(sum.Teachers, st)
	}
	if sum.Total > 0 {
		sum.Percent = math.Round(float64(sum.Submitted)/float64(sum.Total)*1000) / 10
	}
	return sum, nil
}

// Grid returns the latest submission of each appraisee who has submitted.
func (s *DashboardService) Grid(ctx context.Context, viewer *models.User) (*Grid, error) {
	teachers, subs, err := s.scope(ctx, viewer)
	if err != nil {
		return nil, err
	}
	byEmail := groupByEmail(subs)

	grid := &Grid{Columns: s.columns(), Rows: []GridRow{}}
	for _, t := range teachers {
		latest := latestOf(byEmail[t.Email])
		if latest == nil {
			continue
		}
		row := GridRow{
			Email:     t.Email,
			Name:      t.Name,
			Appraiser: t.Appraiser,
			Timestamp: latest.Timestamp,
			Ratings:   make(map[string]string, len(latest.Ratings)),
		}
		for code, label := range latest.Ratings {
			row.Ratings[code] = s.schema.Abbreviate(label)
		}
		grid.Rows = append(grid.Rows, row)
	}
	return grid, nil
}

func (s *DashboardService) columns() []GridColumn {
	var cols []GridColumn
	for _, d := range s.schema.Domains {
		for _, sub := range d.Substrands {
			cols = append(cols, GridColumn{Code: sub.Code, Label: sub.Label, Domain: d.Name})
		}
	}
	return cols
}

// TeacherDetail returns one appraisee's latest submission and history.
func (s *DashboardService) TeacherDetail(ctx context.Context, viewer *models.User, email string) (*TeacherDetail, error) {
	teachers, err := s.roster.AppraiseesOf(ctx, viewer)
	if err != nil {
		return nil, err
	}
	email = normalizeEmail(email)
	var teacher *models.User
	for i := range teachers {
		if teachers[i].Email == email {
			teacher = &teachers[i]
			break
		}
	}
	if teacher == nil {
		if _, err := s.roster.FindByEmail(ctx, email); err != nil {
			return nil, err
		}
		return nil, ErrForbidden
	}

	history, err := s.assessments.History(ctx, email)
	if err != nil {
		return nil, err
	}
	detail := &TeacherDetail{Teacher: *teacher, History: history}
	if len(history) > 0 {
		latest := history[0]
		detail.Latest = &latest
	}
	return detail, nil
}

// Details returns TeacherDetail for every teacher in scope, in roster order.
func (s *DashboardService) Details(ctx context.Context, viewer *models.User) ([]TeacherDetail, error) {
	teachers, subs, err := s.scope(ctx, viewer)
	if err != nil {
		return nil, err
	}
	byEmail := groupByEmail(subs)
	out := make([]TeacherDetail, 0, len(teachers))
	for _, t := range teachers {
		history := byEmail[t.Email]
		sortNewestFirst(history)
		d := TeacherDetail{Teacher: t, History: history}
		if len(history) > 0 {
			latest := history[0]
			d.Latest = &latest
		}
		out = append(out, d)
	}
	return out, nil
}

// SchoolSubmissions returns every response row without reflections.
// Super admin only.
func (s *DashboardService) SchoolSubmissions(ctx context.Context, viewer *models.User) ([]models.Submission, error) {
	if !viewer.IsSuperAdmin() {
		return nil, ErrForbidden
	}
	subs, err := s.assessments.Submissions(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]models.Submission, len(subs))
	for i, sub := range subs {
		sub.Reflections = nil
		out[i] = sub
	}
	return out, nil
}

func groupByEmail(subs []models.Submission) map[string][]models.Submission {
	out := make(map[string][]models.Submission)
	for _, sub := range subs {
		out[sub.Email] = append(out[sub.Email], sub)
	}
	return out
}
