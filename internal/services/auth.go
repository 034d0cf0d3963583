package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/oisdev/appraisal/internal/config"
	"github.com/oisdev/appraisal/internal/models"
	"github.com/oisdev/appraisal/internal/utils"
	"github.com/oisdev/appraisal/pkg/logger"
)

type AuthService struct {
	roster      *RosterService
	ldapService *LDAPService
	authConfig  config.AuthConfig
	jwtConfig   config.JWTConfig
}

func NewAuthService(roster *RosterService, ldapService *LDAPService, authCfg config.AuthConfig, jwtCfg config.JWTConfig) *AuthService {
	return &AuthService{
		roster:      roster,
		ldapService: ldapService,
		authConfig:  authCfg,
		jwtConfig:   jwtCfg,
	}
}

type LoginRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password"`
	AuthType string `json:"auth_type"` // local, ldap
}

type LoginResult struct {
	Token    string       `json:"token"`
	ExpireAt time.Time    `json:"expire_at"`
	User     *models.User `json:"user"`
}

// Login authenticates a roster user and issues a session token.
func (s *AuthService) Login(ctx context.Context, req *LoginRequest) (*LoginResult, error) {
	var (
		user *models.User
		err  error
	)

	switch req.AuthType {
	case "", "local":
		user, err = s.localAuth(ctx, req.Email, req.Password)
	case "ldap":
		user, err = s.ldapAuth(ctx, req.Email, req.Password)
	default:
		return nil, ErrInvalidAuthType
	}
	if err != nil {
		return nil, err
	}

	logger.Info().Str("email", user.Email).Str("role", user.Role).Str("auth_type", req.AuthType).Msg("login")
	return s.IssueToken(user)
}

// IssueToken signs a session token for an already authenticated user.
func (s *AuthService) IssueToken(user *models.User) (*LoginResult, error) {
	hours := s.jwtConfig.ExpireHour
	if hours <= 0 {
		hours = 12
	}
	token, err := utils.GenerateToken(user.Email, user.Name, user.Role, hours)
	if err != nil {
		return nil, fmt.Errorf("sign token: %w", err)
	}
	return &LoginResult{
		Token:    token,
		ExpireAt: time.Now().Add(time.Duration(hours) * time.Hour),
		User:     user,
	}, nil
}

func (s *AuthService) localAuth(ctx context.Context, email, password string) (*models.User, error) {
	user, err := s.roster.FindByEmail(ctx, email)
	if errors.Is(err, ErrUserNotFound) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}

	switch user.Role {
	case models.RoleTeacher:
		if s.authConfig.TeacherPasswordRequired && !utils.MatchStoredPassword(password, user.Password) {
			return nil, ErrInvalidCredentials
		}
	case models.RoleAdmin, models.RoleSuperAdmin:
		if !s.checkAdminPassword(user, password) {
			return nil, ErrInvalidCredentials
		}
	default:
		return nil, ErrInvalidCredentials
	}
	return user, nil
}

// checkAdminPassword verifies against the configured role hash, falling back
// to the roster Password column when no hash is configured.
func (s *AuthService) checkAdminPassword(user *models.User, password string) bool {
	hash := s.authConfig.AdminPasswordHash
	if user.IsSuperAdmin() {
		hash = s.authConfig.SuperAdminPasswordHash
	}
	if hash != "" {
		return password != "" && utils.CheckPassword(password, hash)
	}
	return utils.MatchStoredPassword(password, user.Password)
}

func (s *AuthService) ldapAuth(ctx context.Context, email, password string) (*models.User, error) {
	ldapUser, err := s.ldapService.Authenticate(email, password)
	if err != nil {
		return nil, err
	}

	user, err := s.roster.FindByEmail(ctx, ldapUser.Email)
	if errors.Is(err, ErrUserNotFound) {
		logger.Warn().Str("email", ldapUser.Email).Msg("LDAP user not in roster")
		return nil, ErrInvalidCredentials
	}
	return user, err
}

// CurrentUser resolves the roster entry behind a session.
func (s *AuthService) CurrentUser(ctx context.Context, email string) (*models.User, error) {
	return s.roster.FindByEmail(ctx, email)
}

func (s *AuthService) IsLDAPEnabled() bool {
	return s.ldapService.IsEnabled()
}

func (s *AuthService) TeacherPasswordRequired() bool {
	return s.authConfig.TeacherPasswordRequired
}
