package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Log      LogConfig      `yaml:"log"`
	JWT      JWTConfig      `yaml:"jwt"`
	Auth     AuthConfig     `yaml:"auth"`
	LDAP     LDAPConfig     `yaml:"ldap"`
	OAuth    OAuthConfig    `yaml:"oauth"`
	Store    StoreConfig    `yaml:"store"`
	Database DatabaseConfig `yaml:"database"`
	Retry    RetryConfig    `yaml:"retry"`
	Cache    CacheConfig    `yaml:"cache"`
	Redis    RedisConfig    `yaml:"redis"`
	Rubric   RubricConfig   `yaml:"rubric"`
	Roster   RosterConfig   `yaml:"roster"`
}

type ServerConfig struct {
	Host string `yaml:"host"`
	Port string `yaml:"port"`
	Mode string `yaml:"mode"` // debug, release, test
	// LoginRPS/LoginBurst throttle POST /api/auth/login per client IP.
	LoginRPS   float64 `yaml:"login_rps"`
	LoginBurst int     `yaml:"login_burst"`
	// CORSOrigins enables credentialed CORS for these origins; empty allows any origin.
	CORSOrigins []string `yaml:"cors_origins"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

type JWTConfig struct {
	Secret     string `yaml:"secret"`
	ExpireHour int    `yaml:"expire_hour"`
}

type AuthConfig struct {
	// TeacherPasswordRequired switches teachers from email-only lookup to
	// checking the roster Password column.
	TeacherPasswordRequired bool `yaml:"teacher_password_required"`
	// Bcrypt hashes of the shared admin secrets. Empty falls back to the
	// roster Password column for that user.
	AdminPasswordHash      string `yaml:"admin_password_hash"`
	SuperAdminPasswordHash string `yaml:"super_admin_password_hash"`
}

type LDAPConfig struct {
	Enabled      bool   `yaml:"enabled"`
	Host         string `yaml:"host"`
	Port         int    `yaml:"port"`
	BaseDN       string `yaml:"base_dn"`
	BindDN       string `yaml:"bind_dn"`
	BindPassword string `yaml:"bind_password"`
	UserFilter   string `yaml:"user_filter"`
	UseSSL       bool   `yaml:"use_ssl"`
}

type OAuthConfig struct {
	Enabled      bool   `yaml:"enabled"`
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
	RedirectURL  string `yaml:"redirect_url"`
	// HostedDomain restricts Google sign-in to one workspace domain.
	HostedDomain string `yaml:"hosted_domain"`
	// FrontendURL receives "#token=..." after a successful callback; empty
	// returns the login result as JSON.
	FrontendURL string `yaml:"frontend_url"`
}

// StoreConfig selects the tabular backend holding Users, Responses and Drafts.
type StoreConfig struct {
	Driver          string  `yaml:"driver"` // google, database, memory
	SpreadsheetID   string  `yaml:"spreadsheet_id"`
	CredentialsFile string  `yaml:"credentials_file"`
	UsersSheet      string  `yaml:"users_sheet"`
	ResponsesSheet  string  `yaml:"responses_sheet"`
	DraftsSheet     string  `yaml:"drafts_sheet"`
	RequestsPerSec  float64 `yaml:"requests_per_sec"`
	Burst           int     `yaml:"burst"`
	// SeedRosterCSV preloads the memory driver's Users sheet from a CSV file
	// whose first line is the header.
	SeedRosterCSV string `yaml:"seed_roster_csv"`
}

type DatabaseConfig struct {
	Driver string `yaml:"driver"` // sqlite, mysql, postgres
	DSN    string `yaml:"dsn"`
}

type RetryConfig struct {
	MaxAttempts  int           `yaml:"max_attempts"`
	InitialDelay time.Duration `yaml:"initial_delay"`
	Multiplier   float64       `yaml:"multiplier"`
}

type CacheConfig struct {
	RosterTTL    time.Duration `yaml:"roster_ttl"`
	ResponsesTTL time.Duration `yaml:"responses_ttl"`
}

// RedisConfig for an optional shared cache.
type RedisConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type RubricConfig struct {
	// Path to a rubric YAML file; empty uses the embedded default.
	Path string `yaml:"path"`
	// Strict turns a Responses/Drafts header mismatch into a startup failure.
	Strict bool `yaml:"strict"`
}

// RosterConfig maps roster fields to Users sheet column names.
type RosterConfig struct {
	EmailColumn     string `yaml:"email_column"`
	NameColumn      string `yaml:"name_column"`
	AppraiserColumn string `yaml:"appraiser_column"`
	RoleColumn      string `yaml:"role_column"`
	PasswordColumn  string `yaml:"password_column"`
}

func Load(configPath string) (*Config, error) {
	if configPath == "" {
		configPath = "config.yaml"
	}

	cfg := DefaultConfig()

	if _, err := os.Stat(configPath); err == nil {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return nil, err
		}
		// Unmarshal over the defaults so a partial file keeps the rest.
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", configPath, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, err
	}

	cfg.overrideFromEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:       "0.0.0.0",
			Port:       "8080",
			Mode:       "debug",
			LoginRPS:   1,
			LoginBurst: 5,
		},
		Log: LogConfig{Level: "info"},
		JWT: JWTConfig{
			Secret:     "appraisal-secret-key-change-in-production",
			ExpireHour: 12,
		},
		LDAP: LDAPConfig{
			Port:       389,
			UserFilter: "(mail=%s)",
		},
		Store: StoreConfig{
			Driver:         "memory",
			UsersSheet:     "Users",
			ResponsesSheet: "Responses",
			DraftsSheet:    "Drafts",
			RequestsPerSec: 1,
			Burst:          10,
		},
		Database: DatabaseConfig{
			Driver: "sqlite",
			DSN:    "appraisal.db",
		},
		Retry: RetryConfig{
			MaxAttempts:  5,
			InitialDelay: 600 * time.Millisecond,
			Multiplier:   2,
		},
		Cache: CacheConfig{
			RosterTTL:    10 * time.Minute,
			ResponsesTTL: 180 * time.Second,
		},
		Redis: RedisConfig{
			Addr: "localhost:6379",
		},
		Roster: RosterConfig{
			EmailColumn:     "Email",
			NameColumn:      "Name",
			AppraiserColumn: "Appraiser",
			RoleColumn:      "Role",
			PasswordColumn:  "Password",
		},
	}
}

// Validate rejects configurations the server cannot start with.
func (c *Config) Validate() error {
	switch c.Store.Driver {
	case "google":
		if c.Store.SpreadsheetID == "" {
			return fmt.Errorf("store.spreadsheet_id is required for the google driver")
		}
	case "database":
		if c.Database.DSN == "" {
			return fmt.Errorf("database.dsn is required for the database driver")
		}
	case "memory":
	default:
		return fmt.Errorf("unsupported store driver: %q", c.Store.Driver)
	}
	if c.Retry.MaxAttempts < 1 {
		return fmt.Errorf("retry.max_attempts must be at least 1")
	}
	if c.Roster.EmailColumn == "" || c.Roster.RoleColumn == "" {
		return fmt.Errorf("roster.email_column and roster.role_column are required")
	}
	if c.OAuth.Enabled && (c.OAuth.ClientID == "" || c.OAuth.RedirectURL == "") {
		return fmt.Errorf("oauth.client_id and oauth.redirect_url are required when oauth is enabled")
	}
	return nil
}

func (c *Config) overrideFromEnv() {
	if host := os.Getenv("SERVER_HOST"); host != "" {
		c.Server.Host = host
	}
	if port := os.Getenv("SERVER_PORT"); port != "" {
		c.Server.Port = port
	}
	if mode := os.Getenv("SERVER_MODE"); mode != "" {
		c.Server.Mode = mode
	}
	if level := os.Getenv("LOG_LEVEL"); level != "" {
		c.Log.Level = level
	}
	if secret := os.Getenv("JWT_SECRET"); secret != "" {
		c.JWT.Secret = secret
	}
	if driver := os.Getenv("STORE_DRIVER"); driver != "" {
		c.Store.Driver = driver
	}
	if id := os.Getenv("SPREADSHEET_ID"); id != "" {
		c.Store.SpreadsheetID = id
	}
	if creds := os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"); creds != "" && c.Store.CredentialsFile == "" {
		c.Store.CredentialsFile = creds
	}
	if driver := os.Getenv("DB_DRIVER"); driver != "" {
		c.Database.Driver = driver
	}
	if dsn := os.Getenv("DB_DSN"); dsn != "" {
		c.Database.DSN = dsn
	}
	if hash := os.Getenv("ADMIN_PASSWORD_HASH"); hash != "" {
		c.Auth.AdminPasswordHash = hash
	}
	if hash := os.Getenv("SUPER_ADMIN_PASSWORD_HASH"); hash != "" {
		c.Auth.SuperAdminPasswordHash = hash
	}
	if id := os.Getenv("OAUTH_CLIENT_ID"); id != "" {
		c.OAuth.ClientID = id
	}
	if secret := os.Getenv("OAUTH_CLIENT_SECRET"); secret != "" {
		c.OAuth.ClientSecret = secret
	}
	if v := os.Getenv("RUBRIC_STRICT"); v != "" {
		if strict, err := strconv.ParseBool(v); err == nil {
			c.Rubric.Strict = strict
		}
	}
	// Redis URL override (format: redis://:password@host:port/db)
	if redisURL := os.Getenv("REDIS_URL"); redisURL != "" {
		c.Redis.Enabled = true
		c.parseRedisURL(redisURL)
	}
}

// parseRedisURL parses a Redis URL and sets config values
// Format: redis://:password@host:port/db
func (c *Config) parseRedisURL(redisURL string) {
	url := strings.TrimPrefix(redisURL, "redis://")

	if atIdx := strings.Index(url, "@"); atIdx != -1 {
		authPart := url[:atIdx]
		url = url[atIdx+1:]
		if colonIdx := strings.Index(authPart, ":"); colonIdx != -1 {
			c.Redis.Password = authPart[colonIdx+1:]
		}
	}

	if slashIdx := strings.LastIndex(url, "/"); slashIdx != -1 {
		dbStr := url[slashIdx+1:]
		url = url[:slashIdx]
		if db, err := strconv.Atoi(dbStr); err == nil {
			c.Redis.DB = db
		}
	}

	c.Redis.Addr = url
}

func (c *Config) Save(configPath string) error {
	if configPath == "" {
		configPath = "config.yaml"
	}

	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}

	return os.WriteFile(configPath, data, 0600)
}
