// SPDX-FileCopyrightText: Copyright 2026 Authgate Authors
// SPDX-License-Identifier: Apache-2.0

// Package session manages the lifecycle of OIDC sessions: creation
// from an authorization code, lookup by session id, and implicit
// refresh when the stored access token is no longer accepted.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"

	"github.com/authgate/authgate/pkg/idp"
	"github.com/authgate/authgate/pkg/store"
)

// Session is an authenticated user session. The ID is the cookie value
// and the store partition key; it is issued exactly once per
// successful code exchange.
type Session struct {
	ID       string
	UserInfo idp.UserInfo
}

// IdentityProvider is the slice of the IdP client the manager needs.
type IdentityProvider interface {
	ExchangeCode(ctx context.Context, code string, callbackURL *url.URL) (store.TokenPair, error)
	Refresh(ctx context.Context, refreshToken string) (store.TokenPair, error)
	Userinfo(ctx context.Context, accessToken string) (idp.UserInfo, error)
}

// Manager creates and resolves sessions atop the token store and the
// IdP client. It exclusively owns the token keys in the store.
type Manager struct {
	store  store.Store
	idp    IdentityProvider
	logger *slog.Logger
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithLogger sets the logger used by the manager.
func WithLogger(l *slog.Logger) ManagerOption {
	return func(m *Manager) {
		m.logger = l
	}
}

// NewManager creates a session manager.
func NewManager(s store.Store, provider IdentityProvider, opts ...ManagerOption) *Manager {
	m := &Manager{
		store:  s,
		idp:    provider,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Create converts an authorization code into a session: exchange the
// code, fetch userinfo, mint a session id, and store the token pair.
// Any stage failure aborts the whole operation; later stages never
// write to the store.
func (m *Manager) Create(ctx context.Context, code string, callbackURL *url.URL) (Session, error) {
	pair, err := m.idp.ExchangeCode(ctx, code, callbackURL)
	if err != nil {
		return Session{}, fmt.Errorf("could not fetch access token: %w", err)
	}

	info, err := m.idp.Userinfo(ctx, pair.AccessToken)
	if err != nil {
		return Session{}, fmt.Errorf("could not fetch user info: %w", err)
	}

	sessionID, err := newSessionID()
	if err != nil {
		return Session{}, fmt.Errorf("could not generate session id: %w", err)
	}

	if err := m.store.StoreTokens(ctx, sessionID, pair); err != nil {
		return Session{}, fmt.Errorf("could not store token pair: %w", err)
	}

	return Session{ID: sessionID, UserInfo: info}, nil
}

// Lookup resolves a session id to its userinfo. When the stored access
// token is no longer accepted by the userinfo endpoint the manager
// refreshes implicitly: it exchanges the refresh token, retries
// userinfo with the new access token, and overwrites both token keys
// with their new TTLs. If any stage of the refresh path fails, the
// lookup fails and the caller restarts the login flow.
func (m *Manager) Lookup(ctx context.Context, sessionID string) (Session, error) {
	pair, err := m.store.LoadTokens(ctx, sessionID)
	if err != nil {
		return Session{}, fmt.Errorf("could not fetch token pair: %w", err)
	}

	info, err := m.idp.Userinfo(ctx, pair.AccessToken)
	if err != nil {
		if !errors.Is(err, idp.ErrUnauthorized) {
			m.logger.Debug("userinfo failed with stored access token", "error", err)
		}

		refreshed, refreshErr := m.idp.Refresh(ctx, pair.RefreshToken)
		if refreshErr != nil {
			return Session{}, fmt.Errorf("could not refresh access token: %w", refreshErr)
		}

		info, err = m.idp.Userinfo(ctx, refreshed.AccessToken)
		if err != nil {
			return Session{}, fmt.Errorf("could not fetch user info with fresh access token: %w", err)
		}

		if err := m.store.StoreTokens(ctx, sessionID, refreshed); err != nil {
			return Session{}, fmt.Errorf("could not store refreshed token pair: %w", err)
		}
	}

	return Session{ID: sessionID, UserInfo: info}, nil
}
