package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"golang.org/x/crypto/chacha20poly1305"
)

// Config holds the authgate runtime configuration, loaded from the
// environment at process start.
type Config struct {
	// Addr is the listen address for the gateway itself.
	Addr string `env:"AUTHGATE_ADDR" envDefault:":8080"`

	// AuthURL is the base URL of the external auth service.
	AuthURL string `env:"AUTHGATE_AUTH_URL"`

	// AnonKey is the anonymous public API key issued by the auth service.
	// It accompanies every provider request; it grants no user privileges.
	AnonKey string `env:"AUTHGATE_ANON_KEY"`

	// EncryptionKey encrypts credential cookies. Must be exactly 32 bytes.
	EncryptionKey string `env:"AUTHGATE_ENCRYPTION_KEY"`

	// SessionCookie is the name of the credential cookie.
	SessionCookie string `env:"AUTHGATE_SESSION_COOKIE" envDefault:"ag-auth-token"`

	// LoginPath, ProtectedPrefix and ErrorPath drive the route guard.
	LoginPath       string `env:"AUTHGATE_LOGIN_PATH" envDefault:"/auth"`
	ProtectedPrefix string `env:"AUTHGATE_PROTECTED_PREFIX" envDefault:"/private"`
	ErrorPath       string `env:"AUTHGATE_ERROR_PATH" envDefault:"/auth/error"`

	// BaseURL is the externally visible URL of this gateway, used to build
	// OAuth callback and email confirmation redirect targets.
	BaseURL string `env:"AUTHGATE_BASE_URL" envDefault:"http://localhost:8080"`

	// AllowedOrigins restricts CORS. Empty means same-origin browsers only
	// see the wildcard in development mode.
	AllowedOrigins []string `env:"AUTHGATE_ALLOWED_ORIGINS" envSeparator:","`

	// ProviderTimeout bounds every round-trip to the auth service.
	ProviderTimeout time.Duration `env:"AUTHGATE_PROVIDER_TIMEOUT" envDefault:"10s"`
}

// Load reads configuration from the environment and validates it.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks that required values are present and coherent.
func (c Config) Validate() error {
	if c.AuthURL == "" {
		return fmt.Errorf("AUTHGATE_AUTH_URL is required")
	}
	u, err := url.Parse(c.AuthURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("AUTHGATE_AUTH_URL must be an absolute http(s) URL, got %q", c.AuthURL)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("AUTHGATE_AUTH_URL must use http or https, got %q", u.Scheme)
	}

	if c.AnonKey == "" {
		return fmt.Errorf("AUTHGATE_ANON_KEY is required")
	}

	if len(c.EncryptionKey) != chacha20poly1305.KeySize {
		return fmt.Errorf("AUTHGATE_ENCRYPTION_KEY must be exactly %d bytes, got %d",
			chacha20poly1305.KeySize, len(c.EncryptionKey))
	}

	for name, p := range map[string]string{
		"AUTHGATE_LOGIN_PATH":       c.LoginPath,
		"AUTHGATE_PROTECTED_PREFIX": c.ProtectedPrefix,
		"AUTHGATE_ERROR_PATH":       c.ErrorPath,
	} {
		if !strings.HasPrefix(p, "/") {
			return fmt.Errorf("%s must start with /, got %q", name, p)
		}
	}

	// A login page inside the protected namespace would redirect to itself.
	// Same path-boundary rule as the route guard: "/privatearea" is not
	// under "/private".
	if c.LoginPath == c.ProtectedPrefix || strings.HasPrefix(c.LoginPath, c.ProtectedPrefix+"/") {
		return fmt.Errorf("login path %q must not be under protected prefix %q",
			c.LoginPath, c.ProtectedPrefix)
	}

	if c.ProviderTimeout <= 0 {
		return fmt.Errorf("AUTHGATE_PROVIDER_TIMEOUT must be positive")
	}

	return nil
}
