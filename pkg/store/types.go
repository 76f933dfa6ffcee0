// SPDX-FileCopyrightText: Copyright 2026 Authgate Authors
// SPDX-License-Identifier: Apache-2.0

// Package store provides the key-value storage layer for authgate:
// IdP token pairs keyed by session id, and the per-(session, role)
// authorization cache.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrSessionMissing is returned by LoadTokens when either token key is
// absent. Callers treat the session as not created.
var ErrSessionMissing = errors.New("session tokens not found")

// TokenPair holds the opaque IdP tokens for one session together with
// their lifetimes. The token strings are never parsed or logged.
type TokenPair struct {
	AccessToken  string
	RefreshToken string

	// AccessExpiry and RefreshExpiry are the lifetimes the IdP reported
	// with the grant; they become the TTLs of the stored keys.
	AccessExpiry  time.Duration
	RefreshExpiry time.Duration
}

// Verdict is the cached outcome of an authorization decision for one
// (session, role) pair.
type Verdict int

const (
	// VerdictNotCached means no decision is memoized; the caller must
	// compute one from userinfo.
	VerdictNotCached Verdict = iota

	// VerdictAllowed is a memoized positive decision.
	VerdictAllowed

	// VerdictForbidden is a memoized negative decision.
	VerdictForbidden
)

// String returns the wire representation of the verdict.
func (v Verdict) String() string {
	switch v {
	case VerdictAllowed:
		return "allowed"
	case VerdictForbidden:
		return "forbidden"
	case VerdictNotCached:
		return "notcached"
	default:
		return "unknown"
	}
}

// Store is the persistence interface consumed by the session manager
// and the authorization engine.
//
// The session manager exclusively writes token entries; the engine
// exclusively writes cache entries. Both read each other's data.
type Store interface {
	// StoreTokens atomically writes both token keys for a session with
	// their respective TTLs. Partial writes are never observable.
	StoreTokens(ctx context.Context, sessionID string, pair TokenPair) error

	// LoadTokens fetches both token keys in one round trip. If either
	// is absent it returns ErrSessionMissing.
	LoadTokens(ctx context.Context, sessionID string) (TokenPair, error)

	// PutCache memoizes a verdict for (session, role). VerdictAllowed
	// and VerdictForbidden are written with their configured TTLs;
	// VerdictNotCached deletes the entry.
	PutCache(ctx context.Context, sessionID, role string, verdict Verdict) error

	// GetCache reads the memoized verdict for (session, role). An
	// absent or malformed value maps to VerdictNotCached.
	GetCache(ctx context.Context, sessionID, role string) (Verdict, error)

	// Ping checks store connectivity (health check).
	Ping(ctx context.Context) error

	// Close releases the underlying connections.
	Close() error
}
