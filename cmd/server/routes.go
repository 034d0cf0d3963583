package main

import (
	"github.com/gin-gonic/gin"
	"github.com/oisdev/appraisal/internal/config"
	"github.com/oisdev/appraisal/internal/middleware"
	"github.com/oisdev/appraisal/internal/models"
	"github.com/oisdev/appraisal/pkg/logger"
)

// registerRoutes sets up all HTTP routes on the given Gin engine.
func registerRoutes(r *gin.Engine, cfg *config.Config, svc *appServices) {
	// Middleware
	r.Use(logger.GinLogger(), logger.GinRecovery())
	r.Use(middleware.CORS(cfg.Server.CORSOrigins))

	loginLimiter := middleware.NewRateLimiter(cfg.Server.LoginRPS, cfg.Server.LoginBurst)

	r.GET("/health", svc.healthHandler.CheckHealth)

	api := r.Group("/api")
	api.Use(middleware.AuditLog())
	{
		// Auth routes (public)
		auth := api.Group("/auth")
		{
			auth.POST("/login", loginLimiter.Middleware(), svc.authHandler.Login)
			auth.GET("/config", svc.authHandler.GetAuthConfig)
			auth.GET("/google/login", svc.authHandler.GoogleLogin)
			auth.GET("/google/callback", loginLimiter.Middleware(), svc.authHandler.GoogleCallback)
		}

		// Protected routes
		protected := api.Group("")
		protected.Use(middleware.AuthRequired())
		{
			protected.GET("/auth/me", svc.authHandler.GetCurrentUser)
			protected.POST("/auth/logout", svc.authHandler.Logout)
			protected.GET("/rubric", svc.assessmentHandler.GetRubric)

			// Own self-assessment; only teachers fill in the form
			assessment := protected.Group("/assessment")
			{
				assessment.GET("/draft", svc.assessmentHandler.GetDraft)
				assessment.GET("/submission", svc.assessmentHandler.GetSubmission)
				assessment.GET("/submissions", svc.assessmentHandler.ListSubmissions)
				assessment.GET("/submissions/export", svc.assessmentHandler.ExportSubmissions)

				write := assessment.Group("")
				write.Use(middleware.RoleRequired(models.RoleTeacher))
				write.PUT("/draft", svc.assessmentHandler.SaveDraft)
				write.POST("/submit", svc.assessmentHandler.Submit)
				write.PUT("/submission", svc.assessmentHandler.EditSubmission)
			}

			// Appraiser dashboards
			admin := protected.Group("/admin")
			admin.Use(middleware.RoleRequired(models.RoleAdmin, models.RoleSuperAdmin))
			{
				admin.GET("/summary", svc.adminHandler.GetSummary)
				admin.GET("/grid", svc.adminHandler.GetGrid)
				admin.GET("/teachers/:email", svc.adminHandler.GetTeacher)
				admin.GET("/export/summary", svc.adminHandler.ExportSummary)
				admin.GET("/export/grid", svc.adminHandler.ExportGrid)
				admin.GET("/export/teacher", svc.adminHandler.ExportTeacher)
				admin.GET("/report.pdf", svc.adminHandler.ExportReport)

				school := admin.Group("")
				school.Use(middleware.RoleRequired(models.RoleSuperAdmin))
				{
					school.GET("/submissions", svc.adminHandler.ListSubmissions)
					school.GET("/export/submissions", svc.adminHandler.ExportSubmissions)
				}
			}
		}
	}
}
