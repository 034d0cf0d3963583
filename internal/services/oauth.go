package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/oisdev/appraisal/internal/config"
	"github.com/oisdev/appraisal/internal/utils"
	"github.com/oisdev/appraisal/pkg/logger"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

const (
	googleUserInfoURL = "https://openidconnect.googleapis.com/v1/userinfo"
	oauthStateTTL     = 10 * time.Minute
)

// OAuthService signs roster users in with their Google account.
type OAuthService struct {
	enabled      bool
	oauth        *oauth2.Config
	hostedDomain string
	userInfoURL  string
	auth         *AuthService
}

func NewOAuthService(cfg config.OAuthConfig, auth *AuthService) *OAuthService {
	return &OAuthService{
		enabled: cfg.Enabled,
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Endpoint:     google.Endpoint,
			Scopes:       []string{"openid", "email", "profile"},
		},
		hostedDomain: cfg.HostedDomain,
		userInfoURL:  googleUserInfoURL,
		auth:         auth,
	}
}

func (s *OAuthService) Enabled() bool { return s.enabled }

// AuthURL returns the consent page URL with a fresh signed state.
func (s *OAuthService) AuthURL() (string, error) {
	state, err := utils.GenerateState(oauthStateTTL)
	if err != nil {
		return "", err
	}
	opts := []oauth2.AuthCodeOption{oauth2.AccessTypeOnline}
	if s.hostedDomain != "" {
		opts = append(opts, oauth2.SetAuthURLParam("hd", s.hostedDomain))
	}
	return s.oauth.AuthCodeURL(state, opts...), nil
}

type googleUserInfo struct {
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
	Name          string `json:"name"`
	HostedDomain  string `json:"hd"`
}

// Exchange completes the callback: verifies state, trades the code for a
// token, reads the account email and issues a session for the matching
// roster user.
func (s *OAuthService) Exchange(ctx context.Context, code, state string) (*LoginResult, error) {
	if err := utils.ValidateState(state); err != nil {
		return nil, ErrInvalidState
	}
	token, err := s.oauth.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("oauth exchange: %w", err)
	}

	info, err := s.userInfo(ctx, token)
	if err != nil {
		return nil, err
	}
	if !info.EmailVerified {
		return nil, ErrInvalidCredentials
	}
	if s.hostedDomain != "" && !strings.EqualFold(info.HostedDomain, s.hostedDomain) {
		logger.Warn().Str("email", info.Email).Str("hd", info.HostedDomain).Msg("oauth account outside hosted domain")
		return nil, ErrInvalidCredentials
	}

	user, err := s.auth.CurrentUser(ctx, info.Email)
	if errors.Is(err, ErrUserNotFound) {
		logger.Warn().Str("email", info.Email).Msg("oauth account not in roster")
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}
	logger.Info().Str("email", user.Email).Str("role", user.Role).Msg("oauth login")
	return s.auth.IssueToken(user)
}

func (s *OAuthService) userInfo(ctx context.Context, token *oauth2.Token) (*googleUserInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.userInfoURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := s.oauth.Client(ctx, token).Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch userinfo: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch userinfo: status %d", resp.StatusCode)
	}

	var info googleUserInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return nil, fmt.Errorf("decode userinfo: %w", err)
	}
	return &info, nil
}
