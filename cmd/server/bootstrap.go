package main

import (
	"context"
	"fmt"
	"io"

	"github.com/oisdev/appraisal/internal/config"
	"github.com/oisdev/appraisal/internal/handlers"
	"github.com/oisdev/appraisal/internal/rubric"
	"github.com/oisdev/appraisal/internal/services"
	"github.com/oisdev/appraisal/internal/utils"
	"github.com/oisdev/appraisal/pkg/logger"
)

// appServices holds the store, the cache and every handler the routes need.
type appServices struct {
	store             *services.Store
	cache             services.Cache
	authHandler       *handlers.AuthHandler
	assessmentHandler *handlers.AssessmentHandler
	adminHandler      *handlers.AdminHandler
	healthHandler     *handlers.HealthHandler
}

// bootstrap builds every dependency explicitly: rubric, store, cache,
// services, handlers. It fails on an invalid rubric, a missing roster
// column, or header drift under rubric.strict.
func bootstrap(ctx context.Context, cfg *config.Config) (*appServices, error) {
	utils.SetJWTSecret(cfg.JWT.Secret)

	schema, err := loadRubric(cfg.Rubric.Path)
	if err != nil {
		return nil, err
	}

	store, err := services.OpenStore(ctx, cfg, schema)
	if err != nil {
		return nil, err
	}

	cache := services.NewCache(ctx, &cfg.Redis)
	roster := services.NewRosterService(store.Users, cfg.Roster, cache, cfg.Cache.RosterTTL)
	assessments := services.NewAssessmentService(schema, store.Responses, store.Drafts, cache, cfg.Cache.ResponsesTTL)

	report, err := services.NewSchemaService(schema, roster, store.Responses, store.Drafts, cfg.Rubric.Strict).Check(ctx)
	if err != nil {
		closeCache(cache)
		store.Close()
		return nil, fmt.Errorf("schema check: %w", err)
	}

	ldapService := services.NewLDAPService(&cfg.LDAP)
	auth := services.NewAuthService(roster, ldapService, cfg.Auth, cfg.JWT)
	oauth := services.NewOAuthService(cfg.OAuth, auth)
	dashboard := services.NewDashboardService(schema, roster, assessments)
	export := services.NewExportService(schema)

	return &appServices{
		store:             store,
		cache:             cache,
		authHandler:       handlers.NewAuthHandler(auth, oauth, cfg.OAuth.FrontendURL),
		assessmentHandler: handlers.NewAssessmentHandler(auth, assessments, export),
		adminHandler:      handlers.NewAdminHandler(auth, dashboard, export, schema.Title),
		healthHandler:     handlers.NewHealthHandler(cfg.Store.Driver, report),
	}, nil
}

func loadRubric(path string) (*rubric.Schema, error) {
	if path == "" {
		return rubric.Default()
	}
	logger.Infof("[Rubric] Loading %s", path)
	return rubric.Load(path)
}

// shutdown releases the cache client and the store connection.
func (s *appServices) shutdown() {
	closeCache(s.cache)
	if err := s.store.Close(); err != nil {
		logger.Warn().Err(err).Msg("close store")
	}
	logger.Info().Msg("Store closed")
}

func closeCache(cache services.Cache) {
	c, ok := cache.(io.Closer)
	if !ok {
		return
	}
	if err := c.Close(); err != nil {
		logger.Warn().Err(err).Msg("close cache")
	}
}
