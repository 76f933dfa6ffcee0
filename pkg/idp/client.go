// SPDX-FileCopyrightText: Copyright 2026 Authgate Authors
// SPDX-License-Identifier: Apache-2.0

// Package idp implements the relying-party side of the OIDC
// authorization-code flow against a Keycloak-style identity provider:
// code exchange, token refresh, userinfo retrieval, and login URL
// construction. Tokens are treated as opaque strings and are never
// parsed or logged.
package idp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/authgate/authgate/pkg/store"
	"github.com/authgate/authgate/pkg/telemetry"
)

// maxResponseSize limits how much of an IdP response body is read.
const maxResponseSize = 1 << 20 // 1MB

// DefaultRequestTimeout bounds every IdP HTTP call.
const DefaultRequestTimeout = 5 * time.Second

// transientRetries is the total number of attempts for calls that
// failed with a transport-level error. 4xx responses are never retried.
const transientRetries = 2

// Sentinel errors distinguishing the IdP failure modes.
var (
	// ErrInvalidGrant reports a 4xx from the token endpoint: the code
	// or refresh token was rejected. Not retryable.
	ErrInvalidGrant = errors.New("idp rejected the grant")

	// ErrMalformedResponse reports an IdP response that could not be
	// decoded.
	ErrMalformedResponse = errors.New("malformed idp response")

	// ErrUnauthorized reports a 401 from the userinfo endpoint, which
	// callers treat as an expired access token.
	ErrUnauthorized = errors.New("idp rejected the access token")
)

// UserInfo is the subset of the userinfo response the sidecar acts on.
type UserInfo struct {
	// Roles is the set of role strings granted to the user. An absent
	// roles claim yields the empty set.
	Roles []string `json:"roles"`
}

// HasRole reports whether the user carries the given role.
func (u UserInfo) HasRole(role string) bool {
	for _, r := range u.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// tokenResponse mirrors Keycloak's token endpoint payload. The
// refresh_expires_in field is a Keycloak extension.
type tokenResponse struct {
	AccessToken      string `json:"access_token"`
	RefreshToken     string `json:"refresh_token"`
	ExpiresIn        int64  `json:"expires_in"`
	RefreshExpiresIn int64  `json:"refresh_expires_in"`
}

// Client talks to one identity provider. It is constructed once at
// startup and shared by all requests; the embedded *http.Client is
// safe for concurrent use.
type Client struct {
	clientID     string
	clientSecret string
	authURL      *url.URL
	tokenURL     *url.URL
	userinfoURL  *url.URL
	httpClient   *http.Client
	logger       *slog.Logger
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithClientLogger sets the logger used for IdP interaction logging.
func WithClientLogger(l *slog.Logger) ClientOption {
	return func(c *Client) {
		c.logger = l
	}
}

// NewClient creates an IdP client for the given credentials and
// endpoint URLs.
func NewClient(clientID, clientSecret string, authURL, tokenURL, userinfoURL *url.URL, opts ...ClientOption) (*Client, error) {
	if clientID == "" || clientSecret == "" {
		return nil, errors.New("client credentials are required")
	}
	if authURL == nil || tokenURL == nil || userinfoURL == nil {
		return nil, errors.New("all three IdP endpoint URLs are required")
	}

	c := &Client{
		clientID:     clientID,
		clientSecret: clientSecret,
		authURL:      authURL,
		tokenURL:     tokenURL,
		userinfoURL:  userinfoURL,
		httpClient:   &http.Client{Timeout: DefaultRequestTimeout},
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// BuildLoginURL returns the authorization endpoint URL that starts the
// code flow. The original request URL travels in the state parameter
// so the callback can redirect the user back to it.
func (c *Client) BuildLoginURL(originalURL, callbackURL *url.URL) string {
	params := url.Values{
		"client_id":     {c.clientID},
		"redirect_uri":  {callbackURL.String()},
		"response_type": {"code"},
		"scope":         {"openid"},
		"state":         {originalURL.String()},
	}

	login := *c.authURL
	login.RawQuery = params.Encode()
	return login.String()
}

// ExchangeCode exchanges an authorization code for a token pair.
func (c *Client) ExchangeCode(ctx context.Context, code string, callbackURL *url.URL) (store.TokenPair, error) {
	if code == "" {
		return store.TokenPair{}, fmt.Errorf("%w: empty authorization code", ErrInvalidGrant)
	}

	c.logger.Debug("exchanging authorization code for tokens", "token_endpoint", c.tokenURL.String())

	return c.tokenRequest(ctx, url.Values{
		"client_id":     {c.clientID},
		"client_secret": {c.clientSecret},
		"grant_type":    {"authorization_code"},
		"code":          {code},
		"redirect_uri":  {callbackURL.String()},
	})
}

// Refresh exchanges a refresh token for a new token pair.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (store.TokenPair, error) {
	if refreshToken == "" {
		return store.TokenPair{}, fmt.Errorf("%w: empty refresh token", ErrInvalidGrant)
	}

	c.logger.Debug("refreshing tokens", "token_endpoint", c.tokenURL.String())

	return c.tokenRequest(ctx, url.Values{
		"client_id":     {c.clientID},
		"client_secret": {c.clientSecret},
		"grant_type":    {"refresh_token"},
		"refresh_token": {refreshToken},
	})
}

// Userinfo fetches the userinfo document with a bearer token. A 401
// response maps to ErrUnauthorized so callers can attempt a refresh.
func (c *Client) Userinfo(ctx context.Context, accessToken string) (UserInfo, error) {
	operation := func() (UserInfo, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.userinfoURL.String(), nil)
		if err != nil {
			return UserInfo{}, backoff.Permanent(fmt.Errorf("failed to create userinfo request: %w", err))
		}
		req.Header.Set("Authorization", "Bearer "+accessToken)
		req.Header.Set("Accept", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return UserInfo{}, fmt.Errorf("userinfo request failed: %w", err)
		}
		defer func() { _ = resp.Body.Close() }()

		body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
		if err != nil {
			return UserInfo{}, fmt.Errorf("failed to read userinfo response: %w", err)
		}

		switch {
		case resp.StatusCode == http.StatusUnauthorized:
			return UserInfo{}, backoff.Permanent(ErrUnauthorized)
		case resp.StatusCode != http.StatusOK:
			return UserInfo{}, backoff.Permanent(
				fmt.Errorf("%w: userinfo endpoint returned status %d", ErrMalformedResponse, resp.StatusCode))
		}

		var info UserInfo
		if err := json.Unmarshal(body, &info); err != nil {
			return UserInfo{}, backoff.Permanent(fmt.Errorf("%w: %w", ErrMalformedResponse, err))
		}
		return info, nil
	}

	info, err := backoff.Retry(ctx, operation, backoff.WithMaxTries(transientRetries))
	if err != nil {
		telemetry.RecordIdPRequest("userinfo", "error")
		return UserInfo{}, err
	}
	telemetry.RecordIdPRequest("userinfo", "ok")
	return info, nil
}

// tokenRequest posts a form-urlencoded grant to the token endpoint and
// decodes the token pair. 4xx responses map to ErrInvalidGrant and are
// not retried; transport errors are retried once.
func (c *Client) tokenRequest(ctx context.Context, params url.Values) (store.TokenPair, error) {
	opLabel := "exchange"
	if params.Get("grant_type") == "refresh_token" {
		opLabel = "refresh"
	}

	operation := func() (store.TokenPair, error) {
		req, err := http.NewRequestWithContext(
			ctx, http.MethodPost, c.tokenURL.String(), strings.NewReader(params.Encode()))
		if err != nil {
			return store.TokenPair{}, backoff.Permanent(fmt.Errorf("failed to create token request: %w", err))
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		req.Header.Set("Accept", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return store.TokenPair{}, fmt.Errorf("token request failed: %w", err)
		}
		defer func() { _ = resp.Body.Close() }()

		body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
		if err != nil {
			return store.TokenPair{}, fmt.Errorf("failed to read token response: %w", err)
		}

		pair, err := parseTokenResponse(body, resp.StatusCode)
		if err != nil {
			return store.TokenPair{}, backoff.Permanent(err)
		}
		return pair, nil
	}

	pair, err := backoff.Retry(ctx, operation, backoff.WithMaxTries(transientRetries))
	if err != nil {
		telemetry.RecordIdPRequest(opLabel, "error")
		c.logger.Warn("token grant failed",
			"grant_type", params.Get("grant_type"),
			"error", err,
		)
		return store.TokenPair{}, err
	}

	telemetry.RecordIdPRequest(opLabel, "ok")
	c.logger.Debug("token grant succeeded",
		"grant_type", params.Get("grant_type"),
		"access_expiry_seconds", int64(pair.AccessExpiry/time.Second),
		"refresh_expiry_seconds", int64(pair.RefreshExpiry/time.Second),
	)
	return pair, nil
}

func parseTokenResponse(body []byte, statusCode int) (store.TokenPair, error) {
	switch {
	case statusCode >= 400 && statusCode < 500:
		return store.TokenPair{}, fmt.Errorf("%w: token endpoint returned status %d", ErrInvalidGrant, statusCode)
	case statusCode != http.StatusOK:
		return store.TokenPair{}, fmt.Errorf("%w: token endpoint returned status %d", ErrMalformedResponse, statusCode)
	}

	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return store.TokenPair{}, fmt.Errorf("%w: %w", ErrMalformedResponse, err)
	}
	if tr.AccessToken == "" || tr.RefreshToken == "" {
		return store.TokenPair{}, fmt.Errorf("%w: token response missing tokens", ErrMalformedResponse)
	}

	return store.TokenPair{
		AccessToken:   tr.AccessToken,
		RefreshToken:  tr.RefreshToken,
		AccessExpiry:  time.Duration(tr.ExpiresIn) * time.Second,
		RefreshExpiry: time.Duration(tr.RefreshExpiresIn) * time.Second,
	}, nil
}
