package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/gorilla/securecookie"
	"github.com/joho/godotenv"
)

const (
	defaultEnvFile = ".env"

	// BackendStatic verifies credentials against bcrypt hashes supplied in configuration.
	BackendStatic = "static"
	// BackendFirebase verifies credentials with Firebase Authentication.
	BackendFirebase = "firebase"
	// BackendLDAP verifies credentials by binding against an LDAP directory.
	BackendLDAP = "ldap"

	ThemeLight = "light"
	ThemeDark  = "dark"
)

// ErrInvalid indicates the configuration failed validation.
var ErrInvalid = errors.New("config: invalid")

// Config captures all runtime configuration organised by concern.
type Config struct {
	Server  ServerConfig
	Session SessionConfig
	Login   LoginConfig
	Auth    AuthConfig
	Site    SiteConfig
	Log     LogConfig
	Tracing TracingConfig
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Address         string        `env:"SITE_HTTP_ADDR" envDefault:":8080"`
	BasePath        string        `env:"SITE_ADMIN_BASE_PATH" envDefault:"/admin"`
	Environment     string        `env:"SITE_ENVIRONMENT" envDefault:"local"`
	ReadTimeout     time.Duration `env:"SITE_READ_TIMEOUT" envDefault:"10s"`
	WriteTimeout    time.Duration `env:"SITE_WRITE_TIMEOUT" envDefault:"30s"`
	IdleTimeout     time.Duration `env:"SITE_IDLE_TIMEOUT" envDefault:"60s"`
	ShutdownTimeout time.Duration `env:"SITE_SHUTDOWN_TIMEOUT" envDefault:"10s"`
	CSRFCookieName  string        `env:"SITE_CSRF_COOKIE_NAME" envDefault:"meshfield_csrf"`
	CSRFHeaderName  string        `env:"SITE_CSRF_HEADER_NAME" envDefault:"X-CSRF-Token"`
	CSRFFormField   string        `env:"SITE_CSRF_FORM_FIELD" envDefault:"csrf_token"`
}

// SessionConfig controls the signed session cookie.
type SessionConfig struct {
	HashKey      string        `env:"SITE_SESSION_HASH_KEY"`
	BlockKey     string        `env:"SITE_SESSION_BLOCK_KEY"`
	CookieName   string        `env:"SITE_SESSION_COOKIE_NAME" envDefault:"meshfield_session"`
	CookieSecure bool          `env:"SITE_SESSION_COOKIE_SECURE" envDefault:"false"`
	Lifetime     time.Duration `env:"SITE_SESSION_LIFETIME" envDefault:"12h"`
	IdleTimeout  time.Duration `env:"SITE_SESSION_IDLE_TIMEOUT" envDefault:"30m"`

	// Generated reports that the keys were created at startup and will not survive a restart.
	Generated bool
}

// LoginConfig tunes the admin login flow.
type LoginConfig struct {
	Timeout       time.Duration `env:"SITE_LOGIN_TIMEOUT" envDefault:"15s"`
	DashboardPath string        `env:"SITE_LOGIN_DASHBOARD_PATH"`
	ControllerTTL time.Duration `env:"SITE_LOGIN_CONTROLLER_TTL" envDefault:"30m"`
}

// AuthConfig selects and configures the credential verification backend.
type AuthConfig struct {
	Backend        string `env:"SITE_AUTH_BACKEND" envDefault:"static"`
	StaticAccounts string `env:"SITE_AUTH_STATIC_ACCOUNTS"`
	Firebase       FirebaseConfig
	LDAP           LDAPConfig
}

// FirebaseConfig stores Firebase project settings.
type FirebaseConfig struct {
	ProjectID        string `env:"FIREBASE_PROJECT_ID"`
	APIKey           string `env:"FIREBASE_WEB_API_KEY"`
	CredentialsFile  string `env:"GOOGLE_APPLICATION_CREDENTIALS"`
	IdentityEndpoint string `env:"FIREBASE_IDENTITY_ENDPOINT"`
	AdminRole        string `env:"FIREBASE_ADMIN_ROLE" envDefault:"admin"`
}

// LDAPConfig describes the directory used for admin sign-in.
type LDAPConfig struct {
	URL           string        `env:"LDAP_URL" envDefault:"ldaps://ldap:636"`
	BaseDN        string        `env:"LDAP_BASE_DN"`
	UserFilter    string        `env:"LDAP_USER_FILTER" envDefault:"(mail=%s)"`
	AdminGroupDN  string        `env:"LDAP_ADMIN_GROUP_DN"`
	StartTLS      bool          `env:"LDAP_STARTTLS" envDefault:"false"`
	SkipTLSVerify bool          `env:"LDAP_SKIP_TLS_VERIFY" envDefault:"false"`
	DialTimeout   time.Duration `env:"LDAP_DIAL_TIMEOUT" envDefault:"5s"`
}

// SiteConfig holds presentation defaults for the public pages.
type SiteConfig struct {
	Name         string `env:"SITE_NAME" envDefault:"meshfield"`
	DefaultTheme string `env:"SITE_DEFAULT_THEME" envDefault:"light"`
	ContentDir   string `env:"SITE_CONTENT_DIR"`
}

// LogConfig controls the structured logger.
type LogConfig struct {
	Level string `env:"LOG_LEVEL" envDefault:"info"`
}

// TracingConfig controls OpenTelemetry tracing. An empty endpoint keeps spans
// in-process so trace IDs still reach the logs.
type TracingConfig struct {
	Enabled     bool    `env:"SITE_TRACING_ENABLED" envDefault:"true"`
	Endpoint    string  `env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	ServiceName string  `env:"OTEL_SERVICE_NAME" envDefault:"meshfield-site"`
	SampleRatio float64 `env:"SITE_TRACING_SAMPLE_RATIO" envDefault:"1"`
}

// Load reads an optional .env file, then the process environment.
func Load() (Config, error) {
	envFile := strings.TrimSpace(os.Getenv("SITE_ENV_FILE"))
	if envFile == "" {
		envFile = defaultEnvFile
	}
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load %s: %w", envFile, err)
	}
	return parse(env.Options{})
}

// FromMap builds a Config from the supplied variables only, ignoring the process environment.
func FromMap(values map[string]string) (Config, error) {
	if values == nil {
		values = map[string]string{}
	}
	return parse(env.Options{Environment: values})
}

func parse(opts env.Options) (Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, opts); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	cfg.normalize()
	if err := cfg.ensureSessionKeys(); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) normalize() {
	c.Server.Environment = strings.ToLower(strings.TrimSpace(c.Server.Environment))
	c.Auth.Backend = strings.ToLower(strings.TrimSpace(c.Auth.Backend))
	c.Site.DefaultTheme = strings.ToLower(strings.TrimSpace(c.Site.DefaultTheme))
	c.Server.BasePath = strings.TrimSpace(c.Server.BasePath)
	c.Login.DashboardPath = strings.TrimSpace(c.Login.DashboardPath)
	c.Log.Level = strings.ToLower(strings.TrimSpace(c.Log.Level))
	c.Tracing.Endpoint = strings.TrimSpace(c.Tracing.Endpoint)
}

// IsLocal reports whether the process runs in a developer environment.
func (c Config) IsLocal() bool {
	switch c.Server.Environment {
	case "", "local", "dev", "development":
		return true
	default:
		return false
	}
}

func (c *Config) ensureSessionKeys() error {
	if c.Session.HashKey != "" {
		return nil
	}
	if !c.IsLocal() {
		return fmt.Errorf("%w: SITE_SESSION_HASH_KEY is required outside local environments", ErrInvalid)
	}
	c.Session.HashKey = string(securecookie.GenerateRandomKey(32))
	c.Session.BlockKey = string(securecookie.GenerateRandomKey(32))
	c.Session.Generated = true
	return nil
}

// Validate checks cross-field constraints that env tags cannot express.
func (c Config) Validate() error {
	var problems []string

	if len(c.Session.HashKey) < 32 {
		problems = append(problems, "session hash key must be at least 32 bytes")
	}
	switch len(c.Session.BlockKey) {
	case 0, 16, 24, 32:
	default:
		problems = append(problems, "session block key must be 16, 24 or 32 bytes")
	}
	switch c.Site.DefaultTheme {
	case ThemeLight, ThemeDark:
	default:
		problems = append(problems, fmt.Sprintf("unknown default theme %q", c.Site.DefaultTheme))
	}
	if c.Login.Timeout <= 0 {
		problems = append(problems, "SITE_LOGIN_TIMEOUT must be positive")
	}
	if c.Login.ControllerTTL <= c.Login.Timeout {
		problems = append(problems, "SITE_LOGIN_CONTROLLER_TTL must exceed SITE_LOGIN_TIMEOUT")
	}

	switch c.Auth.Backend {
	case BackendStatic:
		if strings.TrimSpace(c.Auth.StaticAccounts) == "" {
			problems = append(problems, "SITE_AUTH_STATIC_ACCOUNTS is required for the static backend")
		}
	case BackendFirebase:
		if c.Auth.Firebase.ProjectID == "" {
			problems = append(problems, "FIREBASE_PROJECT_ID is required for the firebase backend")
		}
		if c.Auth.Firebase.APIKey == "" {
			problems = append(problems, "FIREBASE_WEB_API_KEY is required for the firebase backend")
		}
	case BackendLDAP:
		if c.Auth.LDAP.URL == "" || c.Auth.LDAP.BaseDN == "" {
			problems = append(problems, "LDAP_URL and LDAP_BASE_DN are required for the ldap backend")
		}
		if strings.Count(c.Auth.LDAP.UserFilter, "%s") != 1 {
			problems = append(problems, "LDAP_USER_FILTER must contain exactly one %s")
		}
	default:
		problems = append(problems, fmt.Sprintf("unknown auth backend %q", c.Auth.Backend))
	}

	if c.Tracing.SampleRatio < 0 || c.Tracing.SampleRatio > 1 {
		problems = append(problems, "SITE_TRACING_SAMPLE_RATIO must be between 0 and 1")
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(problems, "; "))
	}
	return nil
}
