package services

import (
	"context"
	"testing"
	"time"

	"github.com/oisdev/appraisal/internal/config"
	"github.com/oisdev/appraisal/internal/models"
	"github.com/oisdev/appraisal/internal/rubric"
	"github.com/oisdev/appraisal/internal/sheetstore"
)

var rosterRows = [][]string{
	{"Email", "Name", "Appraiser", "Role", "Password"},
	{"T.One@ois.org", "Tara One", "Priya", "user", ""},
	{"t.two@ois.org", "Tom Two", "Priya, John", "user", "pw2"},
	{"t.three@ois.org", "Tia Three", "", "teacher", ""},
	{"priya.k@ois.org", "Priya Kumar", "", "admin", "adminpw"},
	{"john.d@ois.org", "John Doe", "", "admin", ""},
	{"head@ois.org", "Head Teacher", "", "sadmin", "headpw"},
	{"guest@ois.org", "Guest", "", "visitor", ""},
}

type testEnv struct {
	schema      *rubric.Schema
	users       *sheetstore.MemorySheet
	responses   *sheetstore.MemorySheet
	drafts      *sheetstore.MemorySheet
	respTable   *sheetstore.Table
	draftTable  *sheetstore.Table
	roster      *RosterService
	assessments *AssessmentService
	dashboard   *DashboardService
	clock       time.Time
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	schema, err := rubric.Default()
	if err != nil {
		t.Fatal(err)
	}
	caller := sheetstore.NewCaller(sheetstore.RetryPolicy{MaxAttempts: 2, InitialDelay: time.Millisecond, Multiplier: 2}, nil)
	cfg := config.DefaultConfig()

	env := &testEnv{
		schema:    schema,
		users:     sheetstore.NewMemorySheet("Users", rosterRows...),
		responses: sheetstore.NewMemorySheet("Responses"),
		drafts:    sheetstore.NewMemorySheet("Drafts"),
		clock:     time.Date(2025, 9, 1, 9, 0, 0, 0, time.Local),
	}
	usersTable := sheetstore.NewTable(env.users, cfg.Roster.EmailColumn, nil, caller)
	env.respTable = sheetstore.NewTable(env.responses, rubric.ColEmail, schema.ResponseHeaders(), caller)
	env.draftTable = sheetstore.NewTable(env.drafts, rubric.ColEmail, schema.DraftHeaders(), caller)

	cache := NewMemoryCache()
	env.roster = NewRosterService(usersTable, cfg.Roster, cache, time.Minute)
	env.assessments = NewAssessmentService(schema, env.respTable, env.draftTable, cache, time.Minute)
	env.assessments.now = func() time.Time { return env.clock }
	env.dashboard = NewDashboardService(schema, env.roster, env.assessments)
	return env
}

func (e *testEnv) user(t *testing.T, email string) *models.User {
	t.Helper()
	u, err := e.roster.FindByEmail(context.Background(), email)
	if err != nil {
		t.Fatalf("FindByEmail(%s) error = %v", email, err)
	}
	return u
}

func (e *testEnv) tick(d time.Duration) { e.clock = e.clock.Add(d) }

// fullForm rates every sub-strand with rating.
func fullForm(schema *rubric.Schema, rating string) *AssessmentForm {
	form := &AssessmentForm{Ratings: map[string]string{}, Reflections: map[string]string{}}
	for _, sub := range schema.Substrands() {
		form.Ratings[sub.Code] = rating
	}
	return form
}

func (e *testEnv) submit(t *testing.T, email, rating string) *models.Submission {
	t.Helper()
	sub, err := e.assessments.Submit(context.Background(), e.user(t, email), fullForm(e.schema, rating))
	if err != nil {
		t.Fatalf("Submit(%s) error = %v", email, err)
	}
	return sub
}

// addRow appends a further response row for email without the one
// submission check, as sheets from earlier cycles hold several per teacher.
func (e *testEnv) addRow(t *testing.T, email, rating string) *models.Submission {
	t.Helper()
	answers, err := e.assessments.validate(fullForm(e.schema, rating), true)
	if err != nil {
		t.Fatal(err)
	}
	sub, err := e.assessments.appendSubmission(context.Background(), e.user(t, email), answers)
	if err != nil {
		t.Fatalf("appendSubmission(%s) error = %v", email, err)
	}
	return sub
}
