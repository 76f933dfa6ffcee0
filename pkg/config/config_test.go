// SPDX-FileCopyrightText: Copyright 2026 Authgate Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setValidEnv(t *testing.T) {
	t.Helper()

	t.Setenv("HOST", "0.0.0.0")
	t.Setenv("PORT", "8080")
	t.Setenv("CLIENT_ID", "gate")
	t.Setenv("CLIENT_SECRET", "s3cret")
	t.Setenv("AUTH_CALLBACK_PATH", "/_auth/callback")
	t.Setenv("REDIS_URL", "redis://localhost:6379/0")
	t.Setenv("SESSION_ALLOWED_TTL", "300")
	t.Setenv("SESSION_FORBIDDEN_TTL", "60")
	t.Setenv("KEYCLOAK_BASE_URL", "https://idp.example/realms/demo/")
}

func TestLoad(t *testing.T) {
	setValidEnv(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:8080", cfg.ListenAddr())
	assert.Equal(t, "gate", cfg.ClientID)
	assert.Equal(t, "s3cret", cfg.ClientSecret)
	assert.Equal(t, "/_auth/callback", cfg.CallbackPath)
	assert.Equal(t, "redis://localhost:6379/0", cfg.RedisURL)
	assert.Equal(t, 300*time.Second, cfg.AllowedTTL)
	assert.Equal(t, 60*time.Second, cfg.ForbiddenTTL)

	assert.Equal(t,
		"https://idp.example/realms/demo/protocol/openid-connect/auth",
		cfg.AuthURL.String())
	assert.Equal(t,
		"https://idp.example/realms/demo/protocol/openid-connect/token",
		cfg.TokenURL.String())
	assert.Equal(t,
		"https://idp.example/realms/demo/protocol/openid-connect/userinfo",
		cfg.UserinfoURL.String())
}

func TestLoad_SecretFromFile(t *testing.T) {
	setValidEnv(t)
	t.Setenv("CLIENT_SECRET", "")

	secretFile := filepath.Join(t.TempDir(), "secret")
	require.NoError(t, os.WriteFile(secretFile, []byte("from-file\n"), 0o600))
	t.Setenv("CLIENT_SECRET_FILE", secretFile)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "from-file", cfg.ClientSecret)
}

func TestLoad_SecretFileMissing(t *testing.T) {
	setValidEnv(t)
	t.Setenv("CLIENT_SECRET", "")
	t.Setenv("CLIENT_SECRET_FILE", filepath.Join(t.TempDir(), "nope"))

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "CLIENT_SECRET_FILE")
}

func TestLoad_BaseURLValidation(t *testing.T) {
	tests := []struct {
		name string
		base string
	}{
		{name: "empty", base: ""},
		{name: "no trailing slash", base: "https://idp.example/realms/demo"},
		{name: "relative", base: "realms/demo/"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setValidEnv(t)
			t.Setenv("KEYCLOAK_BASE_URL", tt.base)

			_, err := Load()
			require.Error(t, err)
			assert.Contains(t, err.Error(), "KEYCLOAK_BASE_URL")
		})
	}
}

func TestLoad_Validation(t *testing.T) {
	tests := []struct {
		name    string
		key     string
		value   string
		wantErr string
	}{
		{name: "port zero", key: "PORT", value: "0", wantErr: "PORT"},
		{name: "port too large", key: "PORT", value: "70000", wantErr: "PORT"},
		{name: "missing client id", key: "CLIENT_ID", value: "", wantErr: "CLIENT_ID"},
		{name: "missing secret", key: "CLIENT_SECRET", value: "", wantErr: "CLIENT_SECRET"},
		{name: "relative callback path", key: "AUTH_CALLBACK_PATH", value: "callback", wantErr: "AUTH_CALLBACK_PATH"},
		{name: "missing redis url", key: "REDIS_URL", value: "", wantErr: "REDIS_URL"},
		{name: "zero allowed ttl", key: "SESSION_ALLOWED_TTL", value: "0", wantErr: "SESSION_ALLOWED_TTL"},
		{name: "zero forbidden ttl", key: "SESSION_FORBIDDEN_TTL", value: "0", wantErr: "SESSION_FORBIDDEN_TTL"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setValidEnv(t)
			t.Setenv(tt.key, tt.value)

			_, err := Load()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

// Several invalid keys are reported together, not one at a time.
func TestLoad_JoinsErrors(t *testing.T) {
	setValidEnv(t)
	t.Setenv("CLIENT_ID", "")
	t.Setenv("REDIS_URL", "")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "CLIENT_ID")
	assert.Contains(t, err.Error(), "REDIS_URL")
}
