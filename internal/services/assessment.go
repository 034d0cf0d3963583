package services

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/oisdev/appraisal/internal/models"
	"github.com/oisdev/appraisal/internal/rubric"
	"github.com/oisdev/appraisal/internal/sheetstore"
	"github.com/oisdev/appraisal/pkg/logger"
)

// AssessmentForm is the body of draft saves, submissions and edits.
type AssessmentForm struct {
	Ratings     map[string]string `json:"ratings"`     // sub-strand code -> rating label
	Reflections map[string]string `json:"reflections"` // domain name -> text
}

// DraftView is a draft plus completion progress for the form.
type DraftView struct {
	models.Draft
	Saved     bool `json:"saved"`
	Completed int  `json:"completed"`
	Total     int  `json:"total"`
}

// AssessmentService owns the draft and submission flows over the Drafts and
// Responses tables.
type AssessmentService struct {
	schema    *rubric.Schema
	responses *sheetstore.Table
	drafts    *sheetstore.Table
	loader    *cachedLoader
	ttl       time.Duration
	now       func() time.Time
}

func NewAssessmentService(schema *rubric.Schema, responses, drafts *sheetstore.Table, cache Cache, ttl time.Duration) *AssessmentService {
	return &AssessmentService{
		schema:    schema,
		responses: responses,
		drafts:    drafts,
		loader:    newCachedLoader(cache),
		ttl:       ttl,
		now:       time.Now,
	}
}

func (s *AssessmentService) Rubric() *rubric.Schema { return s.schema }

// validate normalises form keys to canonical codes and domain names. With
// complete set every sub-strand must carry a rating.
func (s *AssessmentService) validate(form *AssessmentForm, complete bool) (models.Answers, error) {
	answers := models.Answers{
		Ratings:     make(map[string]string),
		Reflections: make(map[string]string),
	}
	var unknown, invalid []string

	for code, value := range form.Ratings {
		sub, ok := s.schema.Lookup(strings.TrimSpace(code))
		if !ok {
			unknown = append(unknown, code)
			continue
		}
		value = strings.TrimSpace(value)
		if value == "" {
			continue
		}
		if !s.schema.IsRating(value) {
			invalid = append(invalid, sub.Code)
			continue
		}
		answers.Ratings[sub.Code] = value
	}

	for name, text := range form.Reflections {
		domain, ok := s.domain(name)
		if !ok || !s.schema.Reflections {
			unknown = append(unknown, name)
			continue
		}
		if text = strings.TrimSpace(text); text != "" {
			answers.Reflections[domain] = text
		}
	}

	if len(unknown) > 0 {
		sort.Strings(unknown)
		return answers, &ValidationError{Err: ErrUnknownField, Fields: unknown}
	}
	if len(invalid) > 0 {
		sort.Strings(invalid)
		return answers, &ValidationError{Err: ErrInvalidRating, Fields: invalid}
	}
	if complete && len(answers.Ratings) < s.schema.TotalItems() {
		var missing []string
		for _, sub := range s.schema.Substrands() {
			if _, ok := answers.Ratings[sub.Code]; !ok {
				missing = append(missing, sub.Code)
			}
		}
		return answers, &ValidationError{Err: ErrIncomplete, Fields: missing}
	}
	return answers, nil
}

func (s *AssessmentService) domain(name string) (string, bool) {
	for _, d := range s.schema.Domains {
		if strings.EqualFold(d.Name, strings.TrimSpace(name)) {
			return d.Name, true
		}
	}
	return "", false
}

// fieldRecord lays answers out as rubric columns. Every field column is
// present so an upsert clears previously saved values.
func (s *AssessmentService) fieldRecord(a models.Answers) sheetstore.Record {
	rec := make(sheetstore.Record)
	for _, d := range s.schema.Domains {
		for _, sub := range d.Substrands {
			rec[sub.Column()] = a.Ratings[sub.Code]
		}
		if s.schema.Reflections {
			rec[d.ReflectionColumn()] = a.Reflections[d.Name]
		}
	}
	return rec
}

// answersFrom reads rubric columns back. Cells that are not valid ratings are
// treated as unset.
func (s *AssessmentService) answersFrom(rec sheetstore.Record) models.Answers {
	a := models.Answers{
		Ratings:     make(map[string]string),
		Reflections: make(map[string]string),
	}
	for _, d := range s.schema.Domains {
		for _, sub := range d.Substrands {
			if v := rec.Get(sub.Column()); s.schema.IsRating(v) {
				a.Ratings[sub.Code] = v
			}
		}
		if v := rec.Get(d.ReflectionColumn()); v != "" {
			a.Reflections[d.Name] = v
		}
	}
	return a
}

func (s *AssessmentService) draftView(email string, a models.Answers, saved bool) *DraftView {
	return &DraftView{
		Draft:     models.Draft{Email: email, Answers: a},
		Saved:     saved,
		Completed: a.RatedCount(),
		Total:     s.schema.TotalItems(),
	}
}

// LoadDraft returns the saved draft for email, or an empty one.
func (s *AssessmentService) LoadDraft(ctx context.Context, email string) (*DraftView, error) {
	email = normalizeEmail(email)
	row, found, err := s.drafts.FindByKey(ctx, email)
	if err != nil {
		return nil, err
	}
	if !found {
		return s.draftView(email, models.Answers{Ratings: map[string]string{}, Reflections: map[string]string{}}, false), nil
	}
	return s.draftView(email, s.answersFrom(row.Record), true), nil
}

// SaveDraft replaces a teacher's draft with form.
func (s *AssessmentService) SaveDraft(ctx context.Context, user *models.User, form *AssessmentForm) (*DraftView, error) {
	if !user.IsTeacher() {
		return nil, ErrForbidden
	}
	answers, err := s.validate(form, false)
	if err != nil {
		return nil, err
	}
	if _, err := s.drafts.Upsert(ctx, user.Email, s.fieldRecord(answers)); err != nil {
		return nil, err
	}
	logger.Info().Str("email", user.Email).Int("rated", answers.RatedCount()).Msg("draft saved")
	return s.draftView(user.Email, answers, true), nil
}

// Submit appends a teacher's first complete response. Incomplete forms are
// rejected before any store call; later changes go through EditLatest.
func (s *AssessmentService) Submit(ctx context.Context, user *models.User, form *AssessmentForm) (*models.Submission, error) {
	if !user.IsTeacher() {
		return nil, ErrForbidden
	}
	answers, err := s.validate(form, true)
	if err != nil {
		return nil, err
	}

	// The cache may predate another session's submit.
	all, err := s.load(ctx)
	if err != nil {
		return nil, err
	}
	if len(filterByEmail(all, user.Email)) > 0 {
		return nil, ErrAlreadySubmitted
	}

	sub, err := s.appendSubmission(ctx, user, answers)
	if err != nil {
		return nil, err
	}
	logger.Info().Str("email", user.Email).Msg("self-assessment submitted")
	return sub, nil
}

func (s *AssessmentService) appendSubmission(ctx context.Context, user *models.User, answers models.Answers) (*models.Submission, error) {
	sub := &models.Submission{
		Timestamp: s.now().Truncate(time.Second),
		Email:     user.Email,
		Name:      user.Name,
		Appraiser: user.Appraiser,
		Answers:   answers,
	}
	if sub.Appraiser == "" {
		sub.Appraiser = models.DefaultAppraiser
	}

	rec := s.fieldRecord(answers)
	rec[rubric.ColTimestamp] = sub.Timestamp.Format(models.TimestampLayout)
	rec[rubric.ColEmail] = sub.Email
	rec[rubric.ColName] = sub.Name
	rec[rubric.ColAppraiser] = sub.Appraiser

	if err := s.responses.Append(ctx, rec); err != nil {
		return nil, err
	}
	s.invalidate(ctx)
	return sub, nil
}

// EditLatest overwrites the user's latest response in place and stamps
// Last Edited On.
func (s *AssessmentService) EditLatest(ctx context.Context, user *models.User, form *AssessmentForm) (*models.Submission, error) {
	if !user.IsTeacher() {
		return nil, ErrForbidden
	}
	answers, err := s.validate(form, true)
	if err != nil {
		return nil, err
	}

	// Row numbers must be current, so bypass the cache.
	all, err := s.load(ctx)
	if err != nil {
		return nil, err
	}
	latest := latestOf(filterByEmail(all, user.Email))
	if latest == nil {
		return nil, ErrNoSubmission
	}

	if err := s.responses.AddColumn(ctx, rubric.ColLastEdited); err != nil {
		return nil, err
	}

	edited := s.now().Truncate(time.Second)
	rec := s.fieldRecord(answers)
	rec[rubric.ColTimestamp] = latest.Timestamp.Format(models.TimestampLayout)
	rec[rubric.ColEmail] = latest.Email
	rec[rubric.ColName] = latest.Name
	rec[rubric.ColAppraiser] = latest.Appraiser
	rec[rubric.ColLastEdited] = edited.Format(models.TimestampLayout)

	if err := s.responses.UpdateRow(ctx, latest.Row, rec); err != nil {
		return nil, err
	}
	s.invalidate(ctx)

	latest.Answers = answers
	latest.LastEditedOn = &edited
	logger.Info().Str("email", user.Email).Int("row", latest.Row).Msg("submission edited")
	return latest, nil
}

// Submissions returns every response row, cached within the TTL.
func (s *AssessmentService) Submissions(ctx context.Context) ([]models.Submission, error) {
	var subs []models.Submission
	err := s.loader.fetch(ctx, cacheKeyResponses, s.ttl, &subs, func(ctx context.Context) (any, error) {
		return s.load(ctx)
	})
	return subs, err
}

func (s *AssessmentService) load(ctx context.Context) ([]models.Submission, error) {
	rows, err := s.responses.All(ctx)
	if err != nil {
		return nil, err
	}
	subs := make([]models.Submission, 0, len(rows))
	for _, row := range rows {
		email := normalizeEmail(row.Record.Get(rubric.ColEmail))
		if email == "" {
			continue
		}
		sub := models.Submission{
			Row:       row.Number,
			Email:     email,
			Name:      row.Record.Get(rubric.ColName),
			Appraiser: row.Record.Get(rubric.ColAppraiser),
			Answers:   s.answersFrom(row.Record),
		}
		if ts, ok := models.ParseTimestamp(row.Record.Get(rubric.ColTimestamp)); ok {
			sub.Timestamp = ts
		}
		if ts, ok := models.ParseTimestamp(row.Record.Get(rubric.ColLastEdited)); ok {
			sub.LastEditedOn = &ts
		}
		subs = append(subs, sub)
	}
	return subs, nil
}

// History returns email's submissions, newest first.
func (s *AssessmentService) History(ctx context.Context, email string) ([]models.Submission, error) {
	all, err := s.Submissions(ctx)
	if err != nil {
		return nil, err
	}
	mine := filterByEmail(all, email)
	sortNewestFirst(mine)
	return mine, nil
}

// Latest returns the canonical submission for email: the latest timestamp,
// ties going to the later row.
func (s *AssessmentService) Latest(ctx context.Context, email string) (*models.Submission, error) {
	all, err := s.Submissions(ctx)
	if err != nil {
		return nil, err
	}
	latest := latestOf(filterByEmail(all, email))
	if latest == nil {
		return nil, ErrNoSubmission
	}
	return latest, nil
}

func (s *AssessmentService) HasSubmitted(ctx context.Context, email string) (bool, error) {
	_, err := s.Latest(ctx, email)
	if err == ErrNoSubmission {
		return false, nil
	}
	return err == nil, err
}

func (s *AssessmentService) invalidate(ctx context.Context) {
	s.loader.invalidate(ctx, cacheKeyResponses)
}

func filterByEmail(subs []models.Submission, email string) []models.Submission {
	email = normalizeEmail(email)
	var out []models.Submission
	for _, sub := range subs {
		if sub.Email == email {
			out = append(out, sub)
		}
	}
	return out
}

func newer(a, b *models.Submission) bool {
	if !a.Timestamp.Equal(b.Timestamp) {
		return a.Timestamp.After(b.Timestamp)
	}
	return a.Row > b.Row
}

func latestOf(subs []models.Submission) *models.Submission {
	var best *models.Submission
	for i := range subs {
		if best == nil || newer(&subs[i], best) {
			best = &subs[i]
		}
	}
	if best == nil {
		return nil
	}
	out := *best
	return &out
}

func sortNewestFirst(subs []models.Submission) {
	sort.SliceStable(subs, func(i, j int) bool { return newer(&subs[i], &subs[j]) })
}
