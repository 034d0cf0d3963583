package handlers

import (
	"net/http"
	"net/url"

	"github.com/gin-gonic/gin"
	"github.com/jinzhu/copier"
	"github.com/oisdev/appraisal/internal/middleware"
	"github.com/oisdev/appraisal/internal/models"
	"github.com/oisdev/appraisal/internal/services"
	"github.com/oisdev/appraisal/pkg/logger"
	"github.com/oisdev/appraisal/pkg/response"
)

type AuthHandler struct {
	authService  *services.AuthService
	oauthService *services.OAuthService
	// frontendURL receives the session token after a Google callback.
	frontendURL string
}

func NewAuthHandler(auth *services.AuthService, oauth *services.OAuthService, frontendURL string) *AuthHandler {
	return &AuthHandler{
		authService:  auth,
		oauthService: oauth,
		frontendURL:  frontendURL,
	}
}

// UserResponse is the public view of a roster user.
type UserResponse struct {
	Email        string `json:"email"`
	Name         string `json:"name"`
	Appraiser    string `json:"appraiser"`
	Role         string `json:"role"`
	IsAdmin      bool   `json:"is_admin"`
	IsSuperAdmin bool   `json:"is_super_admin"`
}

func toUserResponse(u *models.User) UserResponse {
	var resp UserResponse
	_ = copier.Copy(&resp, u)
	resp.IsAdmin = u.IsAdmin()
	resp.IsSuperAdmin = u.IsSuperAdmin()
	return resp
}

type loginResponse struct {
	Token    string       `json:"token"`
	ExpireAt int64        `json:"expire_at"`
	User     UserResponse `json:"user"`
}

func toLoginResponse(res *services.LoginResult) loginResponse {
	return loginResponse{
		Token:    res.Token,
		ExpireAt: res.ExpireAt.Unix(),
		User:     toUserResponse(res.User),
	}
}

// Login handles user login
// POST /api/auth/login
func (h *AuthHandler) Login(c *gin.Context) {
	var req services.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	switch req.AuthType {
	case "", "local":
	case "ldap":
		if !h.authService.IsLDAPEnabled() {
			response.BadRequest(c, "LDAP login is not enabled")
			return
		}
	default:
		fail(c, services.ErrInvalidAuthType)
		return
	}

	res, err := h.authService.Login(c.Request.Context(), &req)
	if err != nil {
		fail(c, err)
		return
	}

	response.Success(c, toLoginResponse(res))
}

// GetAuthConfig returns authentication configuration
// GET /api/auth/config
func (h *AuthHandler) GetAuthConfig(c *gin.Context) {
	response.Success(c, gin.H{
		"ldap_enabled":              h.authService.IsLDAPEnabled(),
		"google_enabled":            h.oauthService.Enabled(),
		"teacher_password_required": h.authService.TeacherPasswordRequired(),
	})
}

// GoogleLogin redirects to the Google consent page.
// GET /api/auth/google/login
func (h *AuthHandler) GoogleLogin(c *gin.Context) {
	if !h.oauthService.Enabled() {
		response.NotFound(c, "Google sign-in is not enabled")
		return
	}
	authURL, err := h.oauthService.AuthURL()
	if err != nil {
		fail(c, err)
		return
	}
	c.Redirect(http.StatusFound, authURL)
}

// GoogleCallback completes Google sign-in. With a frontend URL configured the
// browser is redirected there with the token in the fragment; otherwise the
// login result is returned as JSON.
// GET /api/auth/google/callback
func (h *AuthHandler) GoogleCallback(c *gin.Context) {
	if !h.oauthService.Enabled() {
		response.NotFound(c, "Google sign-in is not enabled")
		return
	}
	if msg := c.Query("error"); msg != "" {
		logger.Warn().Str("error", msg).Msg("google sign-in cancelled")
		response.Unauthorized(c, "Google sign-in failed: "+msg)
		return
	}

	res, err := h.oauthService.Exchange(c.Request.Context(), c.Query("code"), c.Query("state"))
	if err != nil {
		fail(c, err)
		return
	}

	if h.frontendURL != "" {
		c.Redirect(http.StatusFound, h.frontendURL+"#token="+url.QueryEscape(res.Token))
		return
	}
	response.Success(c, toLoginResponse(res))
}

// GetCurrentUser returns the current logged-in user
// GET /api/auth/me
func (h *AuthHandler) GetCurrentUser(c *gin.Context) {
	user, ok := currentUser(c, h.authService)
	if !ok {
		return
	}
	response.Success(c, toUserResponse(user))
}

// Logout handles user logout (client-side token removal)
// POST /api/auth/logout
func (h *AuthHandler) Logout(c *gin.Context) {
	logger.Info().Str("email", middleware.GetEmail(c)).Msg("logout")
	response.Success(c, gin.H{"message": "logged out successfully"})
}
