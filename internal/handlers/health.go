package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/oisdev/appraisal/internal/services"
)

// HealthHandler reports liveness plus the startup schema check.
type HealthHandler struct {
	driver string
	report *services.SchemaReport
}

func NewHealthHandler(driver string, report *services.SchemaReport) *HealthHandler {
	return &HealthHandler{driver: driver, report: report}
}

// CheckHealth returns the health status of all subsystems.
// GET /health
func (h *HealthHandler) CheckHealth(c *gin.Context) {
	status := "healthy"
	schema := gin.H{}
	if h.report != nil {
		schema["rubric_version"] = h.report.RubricVersion
		schema["total_items"] = h.report.TotalItems
		schema["drifted"] = h.report.Drifted()
		if h.report.Drifted() {
			status = "degraded"
		}
	}

	c.JSON(200, gin.H{
		"status":  status,
		"service": "appraisal",
		"components": gin.H{
			"store":  h.driver,
			"schema": schema,
		},
	})
}
