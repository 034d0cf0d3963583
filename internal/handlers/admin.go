package handlers

import (
	"bytes"
	"regexp"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/oisdev/appraisal/internal/models"
	"github.com/oisdev/appraisal/internal/services"
	"github.com/oisdev/appraisal/pkg/response"
)

const (
	csvContentType = "text/csv; charset=utf-8"
	pdfContentType = "application/pdf"
)

var unsafeFilename = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// AdminHandler serves the appraiser dashboards and exports.
type AdminHandler struct {
	authService      *services.AuthService
	dashboardService *services.DashboardService
	exportService    *services.ExportService
	reportTitle      string
}

func NewAdminHandler(auth *services.AuthService, dashboard *services.DashboardService, export *services.ExportService, reportTitle string) *AdminHandler {
	return &AdminHandler{
		authService:      auth,
		dashboardService: dashboard,
		exportService:    export,
		reportTitle:      reportTitle,
	}
}

// GetSummary lists submission status for the caller's appraisees.
// GET /api/admin/summary
func (h *AdminHandler) GetSummary(c *gin.Context) {
	user, ok := currentUser(c, h.authService)
	if !ok {
		return
	}
	sum, err := h.dashboardService.Summary(c.Request.Context(), user)
	if err != nil {
		fail(c, err)
		return
	}
	response.Success(c, sum)
}

// GetGrid returns the appraisee rating grid.
// GET /api/admin/grid
func (h *AdminHandler) GetGrid(c *gin.Context) {
	user, ok := currentUser(c, h.authService)
	if !ok {
		return
	}
	grid, err := h.dashboardService.Grid(c.Request.Context(), user)
	if err != nil {
		fail(c, err)
		return
	}
	response.Success(c, grid)
}

// GetTeacher returns one appraisee's latest submission and history.
// GET /api/admin/teachers/:email
func (h *AdminHandler) GetTeacher(c *gin.Context) {
	user, ok := currentUser(c, h.authService)
	if !ok {
		return
	}
	detail, err := h.dashboardService.TeacherDetail(c.Request.Context(), user, c.Param("email"))
	if err != nil {
		fail(c, err)
		return
	}
	response.Success(c, detail)
}

// ListSubmissions returns every response row without reflections.
// GET /api/admin/submissions
func (h *AdminHandler) ListSubmissions(c *gin.Context) {
	user, ok := currentUser(c, h.authService)
	if !ok {
		return
	}
	subs, err := h.dashboardService.SchoolSubmissions(c.Request.Context(), user)
	if err != nil {
		fail(c, err)
		return
	}
	response.Success(c, subs)
}

// ExportSummary downloads the status summary as CSV.
// GET /api/admin/export/summary
func (h *AdminHandler) ExportSummary(c *gin.Context) {
	user, ok := currentUser(c, h.authService)
	if !ok {
		return
	}
	sum, err := h.dashboardService.Summary(c.Request.Context(), user)
	if err != nil {
		fail(c, err)
		return
	}
	var buf bytes.Buffer
	if err := h.exportService.SummaryCSV(&buf, sum); err != nil {
		fail(c, err)
		return
	}
	filename := "appraisee_summary.csv"
	if user.IsSuperAdmin() {
		filename = "whole_school_summary.csv"
	}
	response.Attachment(c, filename, csvContentType, buf.Bytes())
}

// ExportGrid downloads the appraisee grid as CSV.
// GET /api/admin/export/grid
func (h *AdminHandler) ExportGrid(c *gin.Context) {
	user, ok := currentUser(c, h.authService)
	if !ok {
		return
	}
	grid, err := h.dashboardService.Grid(c.Request.Context(), user)
	if err != nil {
		fail(c, err)
		return
	}
	var buf bytes.Buffer
	if err := h.exportService.GridCSV(&buf, grid); err != nil {
		fail(c, err)
		return
	}
	response.Attachment(c, "appraisee_grid.csv", csvContentType, buf.Bytes())
}

// ExportTeacher downloads one appraisee's submissions as CSV.
// GET /api/admin/export/teacher?email=
func (h *AdminHandler) ExportTeacher(c *gin.Context) {
	user, ok := currentUser(c, h.authService)
	if !ok {
		return
	}
	email := c.Query("email")
	if email == "" {
		response.BadRequest(c, "email is required")
		return
	}
	detail, err := h.dashboardService.TeacherDetail(c.Request.Context(), user, email)
	if err != nil {
		fail(c, err)
		return
	}
	var buf bytes.Buffer
	if err := h.exportService.SubmissionsCSV(&buf, detail.History, services.ExportOptions{Reflections: true}); err != nil {
		fail(c, err)
		return
	}
	response.Attachment(c, teacherFilename(&detail.Teacher), csvContentType, buf.Bytes())
}

// ExportSubmissions downloads every response row in compact form.
// GET /api/admin/export/submissions
func (h *AdminHandler) ExportSubmissions(c *gin.Context) {
	user, ok := currentUser(c, h.authService)
	if !ok {
		return
	}
	subs, err := h.dashboardService.SchoolSubmissions(c.Request.Context(), user)
	if err != nil {
		fail(c, err)
		return
	}
	var buf bytes.Buffer
	opts := services.ExportOptions{Abbreviate: true, Numbered: true}
	if err := h.exportService.SubmissionsCSV(&buf, subs, opts); err != nil {
		fail(c, err)
		return
	}
	response.Attachment(c, "all_submissions.csv", csvContentType, buf.Bytes())
}

// ExportReport downloads a PDF report grouped by teacher.
// GET /api/admin/report.pdf
func (h *AdminHandler) ExportReport(c *gin.Context) {
	user, ok := currentUser(c, h.authService)
	if !ok {
		return
	}
	details, err := h.dashboardService.Details(c.Request.Context(), user)
	if err != nil {
		fail(c, err)
		return
	}
	var buf bytes.Buffer
	if err := h.exportService.ReportPDF(&buf, h.reportTitle, details, time.Now()); err != nil {
		fail(c, err)
		return
	}
	response.Attachment(c, "appraisal_report.pdf", pdfContentType, buf.Bytes())
}

func teacherFilename(u *models.User) string {
	name := u.Name
	if name == "" {
		name = strings.SplitN(u.Email, "@", 2)[0]
	}
	name = strings.Trim(unsafeFilename.ReplaceAllString(name, "_"), "_")
	return name + "_submissions.csv"
}
