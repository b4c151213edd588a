package credential

import (
	"errors"
	"strings"
	"time"

	"github.com/animus-labs/wsctl/internal/platform/env"
)

const (
	DefaultAuthority = "https://login.mlplatform.dev"
	DefaultScope     = "https://management.mlplatform.dev/.default"
	DefaultTenant    = "organizations"
	// DefaultClientID is the public client registered for interactive login.
	DefaultClientID = "wsctl-cli"
)

type Config struct {
	Authority        string
	TenantID         string
	ClientID         string
	ClientSecret     string
	AccessToken      string
	IdentityEndpoint string
	IdentityHeader   string
	Scope            string
	LoginTimeout     time.Duration
}

func ConfigFromEnv() (Config, error) {
	loginTimeout, err := env.Duration("WSCTL_LOGIN_TIMEOUT", 5*time.Minute)
	if err != nil {
		return Config{}, err
	}
	cfg := Config{
		Authority:        env.String("WSCTL_AUTHORITY", DefaultAuthority),
		TenantID:         env.String("WSCTL_TENANT_ID", DefaultTenant),
		ClientID:         env.String("WSCTL_CLIENT_ID", DefaultClientID),
		ClientSecret:     env.String("WSCTL_CLIENT_SECRET", ""),
		AccessToken:      env.String("WSCTL_ACCESS_TOKEN", ""),
		IdentityEndpoint: env.String("IDENTITY_ENDPOINT", ""),
		IdentityHeader:   env.String("IDENTITY_HEADER", ""),
		Scope:            env.String("WSCTL_SCOPE", DefaultScope),
		LoginTimeout:     loginTimeout,
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.Authority) == "" {
		return errors.New("WSCTL_AUTHORITY is required")
	}
	if !strings.HasPrefix(c.Authority, "https://") && !strings.HasPrefix(c.Authority, "http://") {
		return errors.New("WSCTL_AUTHORITY must be an http(s) URL")
	}
	if strings.TrimSpace(c.TenantID) == "" {
		return errors.New("WSCTL_TENANT_ID is required")
	}
	if strings.TrimSpace(c.ClientID) == "" {
		return errors.New("WSCTL_CLIENT_ID is required")
	}
	if strings.TrimSpace(c.Scope) == "" {
		return errors.New("WSCTL_SCOPE is required")
	}
	if c.LoginTimeout <= 0 {
		return errors.New("WSCTL_LOGIN_TIMEOUT must be positive")
	}
	return nil
}

// Issuer is the OIDC issuer used for discovery during interactive login.
func (c Config) Issuer() string {
	return strings.TrimRight(c.Authority, "/") + "/" + c.TenantID + "/v2.0"
}

func (c Config) TokenURL() string {
	return strings.TrimRight(c.Authority, "/") + "/" + c.TenantID + "/oauth2/v2.0/token"
}

// resourceFromScope turns "https://host/.default" into "https://host".
func resourceFromScope(scope string) string {
	return strings.TrimSuffix(strings.TrimSpace(scope), "/.default")
}
