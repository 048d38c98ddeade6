package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	HTTP         HTTPConfig
	DatabaseURL  string
	Auth         AuthConfig
	OAuth        OAuthConfig
	AuditLogFile string
	LogLevel     string
	LogFormat    string
}

type HTTPConfig struct {
	Addr            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

type AuthConfig struct {
	Secret            string
	BaseURL           string
	SessionTTL        time.Duration
	AdminEmail        string
	SignInPage        string
	ProtectedPrefixes []string
	CookieSecure      bool
	SessionStateFile  string
	UserStateFile     string
	DemoUser          bool
	BcryptCost        int
}

type OAuthConfig struct {
	GitHub OAuthClient
	Google OAuthClient
}

type OAuthClient struct {
	ClientID     string
	ClientSecret string
}

func (c OAuthClient) Enabled() bool {
	return c.ClientID != "" && c.ClientSecret != ""
}

// LoadDotEnv reads .env style files into the process environment without
// overriding variables that are already set. Missing files are ignored.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return fmt.Errorf("load %s: %w", p, err)
		}
	}
	return nil
}

func Load() (Config, error) {
	cfg := Config{
		HTTP: HTTPConfig{
			Addr:            getEnv("HTTP_ADDR", ":8080"),
			ReadTimeout:     time.Duration(getEnvInt("HTTP_READ_TIMEOUT_SEC", 10)) * time.Second,
			WriteTimeout:    time.Duration(getEnvInt("HTTP_WRITE_TIMEOUT_SEC", 15)) * time.Second,
			ShutdownTimeout: time.Duration(getEnvInt("HTTP_SHUTDOWN_TIMEOUT_SEC", 20)) * time.Second,
		},
		DatabaseURL: getEnv("DATABASE_URL", ""),
		Auth: AuthConfig{
			Secret:            getEnv("AUTH_SECRET", "change-me-in-production"),
			BaseURL:           strings.TrimRight(getEnv("AUTH_URL", "http://localhost:8080"), "/"),
			SessionTTL:        time.Duration(getEnvInt("AUTH_SESSION_MAX_AGE_SEC", 30*24*3600)) * time.Second,
			AdminEmail:        strings.ToLower(getEnv("AUTH_ADMIN_EMAIL", "admin@example.com")),
			SignInPage:        getEnv("AUTH_SIGNIN_PAGE", "/auth/signin"),
			ProtectedPrefixes: getEnvList("AUTH_PROTECTED_PREFIXES", []string{"/members"}),
			CookieSecure:      getEnvBool("AUTH_COOKIE_SECURE", false),
			SessionStateFile:  getEnv("AUTH_SESSION_STATE_FILE", "./data/auth_sessions.json"),
			UserStateFile:     getEnv("AUTH_USER_STATE_FILE", "./data/auth_users.json"),
			DemoUser:          getEnvBool("AUTH_DEMO_USER", false),
			BcryptCost:        getEnvInt("AUTH_BCRYPT_COST", 0),
		},
		OAuth: OAuthConfig{
			GitHub: OAuthClient{
				ClientID:     getEnv("AUTH_GITHUB_ID", ""),
				ClientSecret: getEnv("AUTH_GITHUB_SECRET", ""),
			},
			Google: OAuthClient{
				ClientID:     getEnv("AUTH_GOOGLE_ID", ""),
				ClientSecret: getEnv("AUTH_GOOGLE_SECRET", ""),
			},
		},
		AuditLogFile: getEnv("AUDIT_LOG_FILE", "./data/audit.log"),
		LogLevel:     getEnv("LOG_LEVEL", "info"),
		LogFormat:    getEnv("LOG_FORMAT", "text"),
	}

	if cfg.HTTP.Addr == "" {
		return Config{}, fmt.Errorf("HTTP_ADDR must not be empty")
	}
	if cfg.Auth.Secret == "" {
		return Config{}, fmt.Errorf("AUTH_SECRET must not be empty")
	}
	if !strings.HasPrefix(cfg.Auth.BaseURL, "http://") && !strings.HasPrefix(cfg.Auth.BaseURL, "https://") {
		return Config{}, fmt.Errorf("AUTH_URL must be an absolute http(s) URL")
	}
	if cfg.Auth.SessionTTL <= 0 {
		return Config{}, fmt.Errorf("AUTH_SESSION_MAX_AGE_SEC must be > 0")
	}
	if cfg.Auth.AdminEmail == "" {
		return Config{}, fmt.Errorf("AUTH_ADMIN_EMAIL must not be empty")
	}
	if !strings.HasPrefix(cfg.Auth.SignInPage, "/") {
		return Config{}, fmt.Errorf("AUTH_SIGNIN_PAGE must be an absolute path")
	}
	if reservedPath(cfg.Auth.SignInPage) {
		return Config{}, fmt.Errorf("AUTH_SIGNIN_PAGE collides with a built-in route: %q", cfg.Auth.SignInPage)
	}
	for _, p := range cfg.Auth.ProtectedPrefixes {
		if !strings.HasPrefix(p, "/") {
			return Config{}, fmt.Errorf("AUTH_PROTECTED_PREFIXES entries must start with /: %q", p)
		}
		if strings.HasPrefix(cfg.Auth.SignInPage, p) {
			return Config{}, fmt.Errorf("AUTH_SIGNIN_PAGE must not be under protected prefix %q", p)
		}
	}
	if cfg.Auth.SessionStateFile == "" {
		return Config{}, fmt.Errorf("AUTH_SESSION_STATE_FILE must not be empty")
	}
	if cfg.Auth.UserStateFile == "" {
		return Config{}, fmt.Errorf("AUTH_USER_STATE_FILE must not be empty")
	}
	if cfg.AuditLogFile == "" {
		return Config{}, fmt.Errorf("AUDIT_LOG_FILE must not be empty")
	}

	return cfg, nil
}

var builtinRoutes = []string{"/", "/about", "/members", "/admin", "/healthz", "/readyz"}

func reservedPath(p string) bool {
	p = strings.TrimRight(p, "/")
	if p == "" {
		return true
	}
	for _, r := range builtinRoutes {
		if p == r {
			return true
		}
	}
	return p == "/api" || strings.HasPrefix(p, "/api/")
}

func getEnv(key, fallback string) string {
	val, ok := os.LookupEnv(key)
	if !ok || val == "" {
		return fallback
	}
	return val
}

func getEnvInt(key string, fallback int) int {
	val, ok := os.LookupEnv(key)
	if !ok || val == "" {
		return fallback
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return fallback
	}
	return n
}

func getEnvBool(key string, fallback bool) bool {
	val, ok := os.LookupEnv(key)
	if !ok || val == "" {
		return fallback
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return fallback
	}
	return b
}

func getEnvList(key string, fallback []string) []string {
	val, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(val) == "" {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(val, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}
