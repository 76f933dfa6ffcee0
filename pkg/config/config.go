// SPDX-FileCopyrightText: Copyright 2026 Authgate Authors
// SPDX-License-Identifier: Apache-2.0

// Package config loads and validates the process-wide authgate
// configuration from environment variables.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// openIDConnectBase is the Keycloak path prefix for the OIDC protocol
// endpoints, relative to the realm base URL.
const openIDConnectBase = "protocol/openid-connect/"

// Config holds the immutable process-wide configuration. It is created
// once at startup and never mutated afterwards.
type Config struct {
	// Host and Port form the listen address of the decision endpoint.
	Host string
	Port int

	// ClientID and ClientSecret are the OIDC client credentials used
	// against the token endpoint.
	ClientID     string
	ClientSecret string

	// CallbackPath is the path on the protected origin to which the IdP
	// redirects with code and state, e.g. "/_auth/callback".
	CallbackPath string

	// RedisURL is the connection URL of the session store.
	RedisURL string

	// AllowedTTL and ForbiddenTTL govern the positive and negative
	// authorization cache entries.
	AllowedTTL   time.Duration
	ForbiddenTTL time.Duration

	// AuthURL, TokenURL and UserinfoURL are derived from
	// KEYCLOAK_BASE_URL at load time.
	AuthURL     *url.URL
	TokenURL    *url.URL
	UserinfoURL *url.URL
}

// ListenAddr returns the host:port pair the HTTP server binds to.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Load reads the configuration from the environment. All keys are
// required unless noted. The client secret may alternatively be read
// from the file named by CLIENT_SECRET_FILE.
func Load() (*Config, error) {
	v := viper.New()
	v.AutomaticEnv()

	cfg := &Config{
		Host:         v.GetString("HOST"),
		Port:         v.GetInt("PORT"),
		ClientID:     v.GetString("CLIENT_ID"),
		ClientSecret: v.GetString("CLIENT_SECRET"),
		CallbackPath: v.GetString("AUTH_CALLBACK_PATH"),
		RedisURL:     v.GetString("REDIS_URL"),
		AllowedTTL:   time.Duration(v.GetInt("SESSION_ALLOWED_TTL")) * time.Second,
		ForbiddenTTL: time.Duration(v.GetInt("SESSION_FORBIDDEN_TTL")) * time.Second,
	}

	if cfg.ClientSecret == "" {
		if secretFile := v.GetString("CLIENT_SECRET_FILE"); secretFile != "" {
			secret, err := os.ReadFile(secretFile) // #nosec G304 - path comes from the operator's environment
			if err != nil {
				return nil, fmt.Errorf("failed to read CLIENT_SECRET_FILE: %w", err)
			}
			cfg.ClientSecret = strings.TrimSpace(string(secret))
		}
	}

	base := v.GetString("KEYCLOAK_BASE_URL")
	if err := cfg.deriveEndpoints(base); err != nil {
		return nil, err
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// deriveEndpoints resolves the three IdP endpoint URLs against the
// realm base URL. The base must end with "/" so that URL joining keeps
// the realm path segment.
func (c *Config) deriveEndpoints(base string) error {
	if base == "" {
		return errors.New("KEYCLOAK_BASE_URL is required")
	}
	if !strings.HasSuffix(base, "/") {
		return fmt.Errorf("KEYCLOAK_BASE_URL must end with a trailing slash, got %q", base)
	}

	baseURL, err := url.Parse(base)
	if err != nil {
		return fmt.Errorf("failed to parse KEYCLOAK_BASE_URL: %w", err)
	}
	if !baseURL.IsAbs() {
		return fmt.Errorf("KEYCLOAK_BASE_URL must be absolute, got %q", base)
	}

	for endpoint, target := range map[string]**url.URL{
		"auth":     &c.AuthURL,
		"token":    &c.TokenURL,
		"userinfo": &c.UserinfoURL,
	} {
		ref, err := url.Parse(openIDConnectBase + endpoint)
		if err != nil {
			return fmt.Errorf("failed to build %s endpoint: %w", endpoint, err)
		}
		*target = baseURL.ResolveReference(ref)
	}

	return nil
}

func (c *Config) validate() error {
	var errs []error

	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("PORT must be in [1, 65535], got %d", c.Port))
	}
	if c.ClientID == "" {
		errs = append(errs, errors.New("CLIENT_ID is required"))
	}
	if c.ClientSecret == "" {
		errs = append(errs, errors.New("CLIENT_SECRET or CLIENT_SECRET_FILE is required"))
	}
	if c.CallbackPath == "" || !strings.HasPrefix(c.CallbackPath, "/") {
		errs = append(errs, fmt.Errorf("AUTH_CALLBACK_PATH must be an absolute path, got %q", c.CallbackPath))
	}
	if c.RedisURL == "" {
		errs = append(errs, errors.New("REDIS_URL is required"))
	}
	if c.AllowedTTL <= 0 {
		errs = append(errs, errors.New("SESSION_ALLOWED_TTL must be a positive number of seconds"))
	}
	if c.ForbiddenTTL <= 0 {
		errs = append(errs, errors.New("SESSION_FORBIDDEN_TTL must be a positive number of seconds"))
	}

	return errors.Join(errs...)
}
