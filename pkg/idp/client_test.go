// SPDX-FileCopyrightText: Copyright 2026 Authgate Authors
// SPDX-License-Identifier: Apache-2.0

package idp

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustParse(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	require.NoError(t, err)
	return u
}

func newTestClient(t *testing.T, authURL, tokenURL, userinfoURL string) *Client {
	t.Helper()
	c, err := NewClient(
		"CID", "SECRET",
		mustParse(t, authURL), mustParse(t, tokenURL), mustParse(t, userinfoURL),
	)
	require.NoError(t, err)
	return c
}

func TestNewClient_Validation(t *testing.T) {
	t.Parallel()

	u := mustParse(t, "https://idp.example/x")

	_, err := NewClient("", "secret", u, u, u)
	require.Error(t, err)

	_, err = NewClient("cid", "secret", nil, u, u)
	require.Error(t, err)
}

func TestBuildLoginURL(t *testing.T) {
	t.Parallel()

	c := newTestClient(t,
		"https://idp.example/realms/demo/protocol/openid-connect/auth",
		"https://idp.example/token",
		"https://idp.example/userinfo",
	)

	got := c.BuildLoginURL(
		mustParse(t, "https://app.example/secret"),
		mustParse(t, "https://app.example/_auth/callback"),
	)

	want := "https://idp.example/realms/demo/protocol/openid-connect/auth" +
		"?client_id=CID" +
		"&redirect_uri=https%3A%2F%2Fapp.example%2F_auth%2Fcallback" +
		"&response_type=code" +
		"&scope=openid" +
		"&state=https%3A%2F%2Fapp.example%2Fsecret"
	assert.Equal(t, want, got)
}

func TestExchangeCode(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/x-www-form-urlencoded", r.Header.Get("Content-Type"))

		require.NoError(t, r.ParseForm())
		assert.Equal(t, "authorization_code", r.PostForm.Get("grant_type"))
		assert.Equal(t, "CID", r.PostForm.Get("client_id"))
		assert.Equal(t, "SECRET", r.PostForm.Get("client_secret"))
		assert.Equal(t, "XYZ", r.PostForm.Get("code"))
		assert.Equal(t, "https://app.example/_auth/callback", r.PostForm.Get("redirect_uri"))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"A","refresh_token":"R","expires_in":300,"refresh_expires_in":1800}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL+"/auth", srv.URL+"/token", srv.URL+"/userinfo")

	pair, err := c.ExchangeCode(context.Background(), "XYZ", mustParse(t, "https://app.example/_auth/callback"))
	require.NoError(t, err)
	assert.Equal(t, "A", pair.AccessToken)
	assert.Equal(t, "R", pair.RefreshToken)
	assert.Equal(t, 300*time.Second, pair.AccessExpiry)
	assert.Equal(t, 1800*time.Second, pair.RefreshExpiry)
}

func TestExchangeCode_EmptyCode(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, "https://x/a", "https://x/t", "https://x/u")

	_, err := c.ExchangeCode(context.Background(), "", mustParse(t, "https://app.example/_auth/callback"))
	require.ErrorIs(t, err, ErrInvalidGrant)
}

func TestRefresh(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "refresh_token", r.PostForm.Get("grant_type"))
		assert.Equal(t, "OLD-R", r.PostForm.Get("refresh_token"))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"A2","refresh_token":"R2","expires_in":300,"refresh_expires_in":1800}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL+"/auth", srv.URL+"/token", srv.URL+"/userinfo")

	pair, err := c.Refresh(context.Background(), "OLD-R")
	require.NoError(t, err)
	assert.Equal(t, "A2", pair.AccessToken)
	assert.Equal(t, "R2", pair.RefreshToken)
}

func TestTokenRequest_InvalidGrant(t *testing.T) {
	t.Parallel()

	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"invalid_grant"}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL+"/auth", srv.URL+"/token", srv.URL+"/userinfo")

	_, err := c.Refresh(context.Background(), "expired")
	require.ErrorIs(t, err, ErrInvalidGrant)
	assert.Equal(t, 1, calls, "4xx responses must not be retried")
}

func TestTokenRequest_MalformedResponse(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		body string
	}{
		{name: "not json", body: "<html>oops</html>"},
		{name: "missing tokens", body: `{"expires_in":300}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			c := newTestClient(t, srv.URL+"/auth", srv.URL+"/token", srv.URL+"/userinfo")

			_, err := c.ExchangeCode(context.Background(), "XYZ", mustParse(t, "https://app.example/cb"))
			require.ErrorIs(t, err, ErrMalformedResponse)
		})
	}
}

func TestUserinfo(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer TOKEN", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"sub":"user","roles":["admin","user"]}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL+"/auth", srv.URL+"/token", srv.URL+"/userinfo")

	info, err := c.Userinfo(context.Background(), "TOKEN")
	require.NoError(t, err)
	assert.Equal(t, []string{"admin", "user"}, info.Roles)
	assert.True(t, info.HasRole("admin"))
	assert.False(t, info.HasRole("root"))
}

func TestUserinfo_AbsentRolesYieldsEmptySet(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"sub":"user"}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL+"/auth", srv.URL+"/token", srv.URL+"/userinfo")

	info, err := c.Userinfo(context.Background(), "TOKEN")
	require.NoError(t, err)
	assert.Empty(t, info.Roles)
	assert.False(t, info.HasRole("admin"))
}

func TestUserinfo_Unauthorized(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL+"/auth", srv.URL+"/token", srv.URL+"/userinfo")

	_, err := c.Userinfo(context.Background(), "stale")
	require.ErrorIs(t, err, ErrUnauthorized)
}
