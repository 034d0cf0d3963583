package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/oisdev/appraisal/internal/config"
	"github.com/oisdev/appraisal/internal/middleware"
	"github.com/oisdev/appraisal/internal/models"
	"github.com/oisdev/appraisal/internal/rubric"
	"github.com/oisdev/appraisal/internal/services"
	"github.com/oisdev/appraisal/internal/sheetstore"
	"github.com/oisdev/appraisal/internal/utils"
	"github.com/oisdev/appraisal/pkg/response"
)

func init() {
	gin.SetMode(gin.TestMode)
	utils.SetJWTSecret("test-secret-for-handler-testing")
}

type apiEnv struct {
	router    *gin.Engine
	schema    *rubric.Schema
	responses *sheetstore.MemorySheet
}

func newAPIEnv(t *testing.T) *apiEnv {
	t.Helper()
	schema, err := rubric.Default()
	if err != nil {
		t.Fatal(err)
	}
	cfg := config.DefaultConfig()
	caller := sheetstore.NewCaller(sheetstore.RetryPolicy{MaxAttempts: 1}, nil)

	users := sheetstore.NewMemorySheet("Users",
		[]string{"Email", "Name", "Appraiser", "Role", "Password"},
		[]string{"t.one@ois.org", "Tara One", "Priya", "user", ""},
		[]string{"t.two@ois.org", "Tom Two", "John", "user", ""},
		[]string{"priya.k@ois.org", "Priya Kumar", "", "admin", "adminpw"},
		[]string{"head@ois.org", "Head Teacher", "", "sadmin", "headpw"},
	)
	responses := sheetstore.NewMemorySheet("Responses")
	drafts := sheetstore.NewMemorySheet("Drafts")

	cache := services.NewMemoryCache()
	roster := services.NewRosterService(sheetstore.NewTable(users, "Email", nil, caller), cfg.Roster, cache, time.Minute)
	assessments := services.NewAssessmentService(schema,
		sheetstore.NewTable(responses, rubric.ColEmail, schema.ResponseHeaders(), caller),
		sheetstore.NewTable(drafts, rubric.ColEmail, schema.DraftHeaders(), caller),
		cache, time.Minute)
	auth := services.NewAuthService(roster, services.NewLDAPService(&cfg.LDAP), cfg.Auth, cfg.JWT)
	export := services.NewExportService(schema)

	authH := NewAuthHandler(auth, services.NewOAuthService(cfg.OAuth, auth), "")
	assessH := NewAssessmentHandler(auth, assessments, export)
	adminH := NewAdminHandler(auth, services.NewDashboardService(schema, roster, assessments), export, schema.Title)

	r := gin.New()
	api := r.Group("/api")
	api.POST("/auth/login", authH.Login)
	p := api.Group("", middleware.AuthRequired())
	p.GET("/auth/me", authH.GetCurrentUser)
	p.GET("/assessment/draft", assessH.GetDraft)
	p.GET("/assessment/submission", assessH.GetSubmission)
	p.GET("/assessment/submissions/export", assessH.ExportSubmissions)
	write := p.Group("/assessment", middleware.RoleRequired(models.RoleTeacher))
	write.PUT("/draft", assessH.SaveDraft)
	write.POST("/submit", assessH.Submit)
	write.PUT("/submission", assessH.EditSubmission)
	admin := p.Group("/admin", middleware.RoleRequired(models.RoleAdmin, models.RoleSuperAdmin))
	admin.GET("/summary", adminH.GetSummary)
	admin.GET("/teachers/:email", adminH.GetTeacher)
	admin.GET("/export/submissions", adminH.ExportSubmissions)

	return &apiEnv{router: r, schema: schema, responses: responses}
}

func (e *apiEnv) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req, _ := http.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func (e *apiEnv) login(t *testing.T, email, password string) string {
	t.Helper()
	w := e.do(t, "POST", "/api/auth/login", "", gin.H{"email": email, "password": password})
	if w.Code != http.StatusOK {
		t.Fatalf("login %s: status %d body %s", email, w.Code, w.Body.String())
	}
	var resp struct {
		Data loginResponse `json:"data"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	return resp.Data.Token
}

func (e *apiEnv) fullForm(rating string) services.AssessmentForm {
	form := services.AssessmentForm{Ratings: map[string]string{}}
	for _, sub := range e.schema.Substrands() {
		form.Ratings[sub.Code] = rating
	}
	return form
}

func TestLogin(t *testing.T) {
	env := newAPIEnv(t)

	tests := []struct {
		name string
		body gin.H
		want int
	}{
		{"teacher by email", gin.H{"email": "T.One@ois.org"}, http.StatusOK},
		{"admin password", gin.H{"email": "priya.k@ois.org", "password": "adminpw"}, http.StatusOK},
		{"admin wrong password", gin.H{"email": "priya.k@ois.org", "password": "nope"}, http.StatusUnauthorized},
		{"unknown email", gin.H{"email": "ghost@ois.org"}, http.StatusUnauthorized},
		{"missing email", gin.H{"password": "x"}, http.StatusBadRequest},
		{"bad auth type", gin.H{"email": "t.one@ois.org", "auth_type": "kerberos"}, http.StatusBadRequest},
		{"ldap disabled", gin.H{"email": "t.one@ois.org", "auth_type": "ldap"}, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do(t, "POST", "/api/auth/login", "", tt.body)
			if w.Code != tt.want {
				t.Errorf("status = %d, expected %d (%s)", w.Code, tt.want, w.Body.String())
			}
		})
	}
}

func TestMe_HidesPassword(t *testing.T) {
	env := newAPIEnv(t)
	token := env.login(t, "priya.k@ois.org", "adminpw")

	w := env.do(t, "GET", "/api/auth/me", token, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	body := w.Body.String()
	if strings.Contains(body, "adminpw") {
		t.Error("password leaked in /me")
	}
	if !strings.Contains(body, `"is_admin":true`) {
		t.Errorf("body = %s", body)
	}
}

func TestSubmit_IncompleteIs422(t *testing.T) {
	env := newAPIEnv(t)
	token := env.login(t, "t.one@ois.org", "")

	form := env.fullForm("Effective")
	delete(form.Ratings, "A1")
	w := env.do(t, "POST", "/api/assessment/submit", token, form)
	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, expected 422 (%s)", w.Code, w.Body.String())
	}
	var resp response.Response
	json.Unmarshal(w.Body.Bytes(), &resp)
	if len(resp.Details) != 1 || resp.Details[0] != "A1" {
		t.Errorf("details = %v", resp.Details)
	}
	if _, writes := env.responses.Calls(); writes != 0 {
		t.Errorf("incomplete submit wrote %d times", writes)
	}
}

func TestDraft_InvalidRatingIs400(t *testing.T) {
	env := newAPIEnv(t)
	token := env.login(t, "t.one@ois.org", "")

	w := env.do(t, "PUT", "/api/assessment/draft", token, gin.H{"ratings": gin.H{"A1": "Superb"}})
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, expected 400", w.Code)
	}
}

func TestSubmitFlow(t *testing.T) {
	env := newAPIEnv(t)
	teacher := env.login(t, "t.one@ois.org", "")

	if w := env.do(t, "GET", "/api/assessment/submission", teacher, nil); w.Code != http.StatusNotFound {
		t.Errorf("before submit: status = %d, expected 404", w.Code)
	}
	if w := env.do(t, "POST", "/api/assessment/submit", teacher, env.fullForm("Effective")); w.Code != http.StatusCreated {
		t.Fatalf("submit: status = %d (%s)", w.Code, w.Body.String())
	}
	if w := env.do(t, "GET", "/api/assessment/submission", teacher, nil); w.Code != http.StatusOK {
		t.Errorf("after submit: status = %d", w.Code)
	}
	if w := env.do(t, "POST", "/api/assessment/submit", teacher, env.fullForm("Highly Effective")); w.Code != http.StatusConflict {
		t.Errorf("resubmit: status = %d, expected 409 (%s)", w.Code, w.Body.String())
	}
	if w := env.do(t, "PUT", "/api/assessment/submission", teacher, env.fullForm("Highly Effective")); w.Code != http.StatusOK {
		t.Errorf("edit: status = %d (%s)", w.Code, w.Body.String())
	}
	rows, _ := env.responses.Values(context.Background())
	if len(rows) != 2 {
		t.Errorf("response rows = %d, expected header + 1", len(rows))
	}

	w := env.do(t, "GET", "/api/assessment/submissions/export", teacher, nil)
	if w.Code != http.StatusOK || !strings.Contains(w.Header().Get("Content-Disposition"), "my_self_assessment.csv") {
		t.Errorf("export: status %d, disposition %q", w.Code, w.Header().Get("Content-Disposition"))
	}
}

func TestAssessmentWrites_TeacherOnly(t *testing.T) {
	env := newAPIEnv(t)
	admin := env.login(t, "priya.k@ois.org", "adminpw")
	head := env.login(t, "head@ois.org", "headpw")

	for _, token := range []string{admin, head} {
		if w := env.do(t, "POST", "/api/assessment/submit", token, env.fullForm("Effective")); w.Code != http.StatusForbidden {
			t.Errorf("submit: status = %d, expected 403", w.Code)
		}
		if w := env.do(t, "PUT", "/api/assessment/draft", token, gin.H{"ratings": gin.H{"A1": "Effective"}}); w.Code != http.StatusForbidden {
			t.Errorf("draft: status = %d, expected 403", w.Code)
		}
	}
	if _, writes := env.responses.Calls(); writes != 0 {
		t.Errorf("admin writes reached the store: %d", writes)
	}
}

func TestAdminRoutes(t *testing.T) {
	env := newAPIEnv(t)
	teacher := env.login(t, "t.one@ois.org", "")
	admin := env.login(t, "priya.k@ois.org", "adminpw")
	head := env.login(t, "head@ois.org", "headpw")

	if w := env.do(t, "GET", "/api/admin/summary", teacher, nil); w.Code != http.StatusForbidden {
		t.Errorf("teacher summary: status = %d, expected 403", w.Code)
	}
	if w := env.do(t, "GET", "/api/admin/summary", admin, nil); w.Code != http.StatusOK {
		t.Errorf("admin summary: status = %d", w.Code)
	}
	if w := env.do(t, "GET", "/api/admin/teachers/t.two@ois.org", admin, nil); w.Code != http.StatusForbidden {
		t.Errorf("other appraiser's teacher: status = %d, expected 403", w.Code)
	}
	if w := env.do(t, "GET", "/api/admin/teachers/ghost@ois.org", admin, nil); w.Code != http.StatusNotFound {
		t.Errorf("unknown teacher: status = %d, expected 404", w.Code)
	}
	if w := env.do(t, "GET", "/api/admin/export/submissions", admin, nil); w.Code != http.StatusForbidden {
		t.Errorf("admin school export: status = %d, expected 403", w.Code)
	}
	w := env.do(t, "GET", "/api/admin/export/submissions", head, nil)
	if w.Code != http.StatusOK || !strings.Contains(w.Header().Get("Content-Disposition"), "all_submissions.csv") {
		t.Errorf("school export: status %d, disposition %q", w.Code, w.Header().Get("Content-Disposition"))
	}
}

func TestToAppError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"transient store", &sheetstore.StatusError{Code: 429, Err: errors.New("quota")}, http.StatusServiceUnavailable},
		{"permanent store", &sheetstore.StatusError{Code: 403, Err: errors.New("denied")}, http.StatusBadGateway},
		{"missing sheet", sheetstore.ErrSheetNotFound, http.StatusBadGateway},
		{"forbidden", services.ErrForbidden, http.StatusForbidden},
		{"no submission", services.ErrNoSubmission, http.StatusNotFound},
		{"credentials", services.ErrInvalidCredentials, http.StatusUnauthorized},
		{"auth type", services.ErrInvalidAuthType, http.StatusBadRequest},
		{"already submitted", services.ErrAlreadySubmitted, http.StatusConflict},
		{"incomplete", &services.ValidationError{Err: services.ErrIncomplete, Fields: []string{"A1"}}, http.StatusUnprocessableEntity},
		{"unknown field", &services.ValidationError{Err: services.ErrUnknownField}, http.StatusBadRequest},
		{"other", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := toAppError(tt.err).HTTPStatus; got != tt.want {
				t.Errorf("HTTPStatus = %d, expected %d", got, tt.want)
			}
		})
	}
}

func TestTeacherFilename(t *testing.T) {
	got := teacherFilename(&models.User{Name: "Tara O'Neil / Art", Email: "t@ois.org"})
	if got != "Tara_O_Neil_Art_submissions.csv" {
		t.Errorf("teacherFilename() = %q", got)
	}
}
