package handlers

import (
	"bytes"

	"github.com/gin-gonic/gin"
	"github.com/oisdev/appraisal/internal/services"
	"github.com/oisdev/appraisal/pkg/response"
)

// AssessmentHandler serves a teacher's own draft and submissions.
type AssessmentHandler struct {
	authService       *services.AuthService
	assessmentService *services.AssessmentService
	exportService     *services.ExportService
}

func NewAssessmentHandler(auth *services.AuthService, assessments *services.AssessmentService, export *services.ExportService) *AssessmentHandler {
	return &AssessmentHandler{
		authService:       auth,
		assessmentService: assessments,
		exportService:     export,
	}
}

// GetRubric returns the rubric the form is rendered from.
// GET /api/rubric
func (h *AssessmentHandler) GetRubric(c *gin.Context) {
	response.Success(c, h.assessmentService.Rubric())
}

// GetDraft returns the caller's saved draft, or an empty one.
// GET /api/assessment/draft
func (h *AssessmentHandler) GetDraft(c *gin.Context) {
	user, ok := currentUser(c, h.authService)
	if !ok {
		return
	}
	view, err := h.assessmentService.LoadDraft(c.Request.Context(), user.Email)
	if err != nil {
		fail(c, err)
		return
	}
	response.Success(c, view)
}

// SaveDraft stores a partial form.
// PUT /api/assessment/draft
func (h *AssessmentHandler) SaveDraft(c *gin.Context) {
	user, ok := currentUser(c, h.authService)
	if !ok {
		return
	}
	var form services.AssessmentForm
	if err := c.ShouldBindJSON(&form); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	view, err := h.assessmentService.SaveDraft(c.Request.Context(), user, &form)
	if err != nil {
		fail(c, err)
		return
	}
	response.Success(c, view)
}

// Submit records a complete self-assessment.
// POST /api/assessment/submit
func (h *AssessmentHandler) Submit(c *gin.Context) {
	user, ok := currentUser(c, h.authService)
	if !ok {
		return
	}
	var form services.AssessmentForm
	if err := c.ShouldBindJSON(&form); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	sub, err := h.assessmentService.Submit(c.Request.Context(), user, &form)
	if err != nil {
		fail(c, err)
		return
	}
	response.Created(c, sub)
}

// GetSubmission returns the caller's latest submission.
// GET /api/assessment/submission
func (h *AssessmentHandler) GetSubmission(c *gin.Context) {
	user, ok := currentUser(c, h.authService)
	if !ok {
		return
	}
	sub, err := h.assessmentService.Latest(c.Request.Context(), user.Email)
	if err != nil {
		fail(c, err)
		return
	}
	response.Success(c, sub)
}

// EditSubmission overwrites the caller's latest submission.
// PUT /api/assessment/submission
func (h *AssessmentHandler) EditSubmission(c *gin.Context) {
	user, ok := currentUser(c, h.authService)
	if !ok {
		return
	}
	var form services.AssessmentForm
	if err := c.ShouldBindJSON(&form); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	sub, err := h.assessmentService.EditLatest(c.Request.Context(), user, &form)
	if err != nil {
		fail(c, err)
		return
	}
	response.Success(c, sub)
}

// ListSubmissions returns the caller's submission history, newest first.
// GET /api/assessment/submissions
func (h *AssessmentHandler) ListSubmissions(c *gin.Context) {
	user, ok := currentUser(c, h.authService)
	if !ok {
		return
	}
	history, err := h.assessmentService.History(c.Request.Context(), user.Email)
	if err != nil {
		fail(c, err)
		return
	}
	submitted := len(history) > 0
	response.Success(c, gin.H{
		"submitted":   submitted,
		"submissions": history,
	})
}

// ExportSubmissions downloads the caller's history as CSV.
// GET /api/assessment/submissions/export
func (h *AssessmentHandler) ExportSubmissions(c *gin.Context) {
	user, ok := currentUser(c, h.authService)
	if !ok {
		return
	}
	history, err := h.assessmentService.History(c.Request.Context(), user.Email)
	if err != nil {
		fail(c, err)
		return
	}
	var buf bytes.Buffer
	if err := h.exportService.SubmissionsCSV(&buf, history, services.ExportOptions{Reflections: true}); err != nil {
		fail(c, err)
		return
	}
	response.Attachment(c, "my_self_assessment.csv", csvContentType, buf.Bytes())
}
