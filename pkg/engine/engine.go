// SPDX-FileCopyrightText: Copyright 2026 Authgate Authors
// SPDX-License-Identifier: Apache-2.0

// Package engine implements the authorization decision state machine.
//
// Every request falls into one of two branches: the callback branch
// (the request URL path equals the configured callback path) converts
// an authorization code into a session; the protected branch resolves
// the session cookie and the requested role into allow or deny,
// memoizing the verdict in the store with distinct TTLs for positive
// and negative results.
package engine

import (
	"context"
	"log/slog"
	"net/url"

	"golang.org/x/sync/singleflight"

	"github.com/authgate/authgate/pkg/session"
	"github.com/authgate/authgate/pkg/store"
	"github.com/authgate/authgate/pkg/telemetry"
)

// Request is the parsed decision input handed over by the request
// adapter. RequestURL is the absolute URL the end user attempted.
type Request struct {
	RequestURL *url.URL
	SessionID  string // empty when no session cookie was presented
	Role       string
}

// SessionResolver is the slice of the session manager the engine uses.
type SessionResolver interface {
	Create(ctx context.Context, code string, callbackURL *url.URL) (session.Session, error)
	Lookup(ctx context.Context, sessionID string) (session.Session, error)
}

// LoginURLBuilder builds the IdP login URL for a request.
type LoginURLBuilder interface {
	BuildLoginURL(originalURL, callbackURL *url.URL) string
}

// Engine decides among allow, deny, redirect-to-login, and
// issue-session for every proxied request. It exclusively owns the
// cache entries in the store.
type Engine struct {
	store        store.Store
	sessions     SessionResolver
	login        LoginURLBuilder
	callbackPath string
	logger       *slog.Logger

	// group collapses concurrent cache-miss computations for the same
	// (session, role). This only bounds duplicate IdP work; racing
	// computations would produce the same verdict.
	group singleflight.Group
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = l
	}
}

// New creates a decision engine. callbackPath is matched by exact
// string equality against the request URL path.
func New(s store.Store, sessions SessionResolver, login LoginURLBuilder, callbackPath string, opts ...Option) *Engine {
	e := &Engine{
		store:        s,
		sessions:     sessions,
		login:        login,
		callbackPath: callbackPath,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Decide runs the state machine for one request. Failures while
// servicing a decision are converted into user-observable outcomes
// here; they are never surfaced as errors to the proxy except for
// malformed proxy requests.
func (e *Engine) Decide(ctx context.Context, req Request) Decision {
	if req.RequestURL == nil || req.Role == "" {
		return InternalError()
	}

	if req.RequestURL.Path == e.callbackPath {
		return e.decideCallback(ctx, req)
	}
	return e.decideProtected(ctx, req)
}

// decideProtected handles requests for protected URLs.
func (e *Engine) decideProtected(ctx context.Context, req Request) Decision {
	if req.SessionID == "" {
		return e.redirectToLogin(req.RequestURL)
	}

	verdict, err := e.store.GetCache(ctx, req.SessionID, req.Role)
	if err != nil {
		// A degraded cache only costs a recomputation.
		e.logger.Warn("session cache read failed", "error", err)
		verdict = store.VerdictNotCached
	}

	switch verdict {
	case store.VerdictAllowed:
		telemetry.RecordCacheLookup("hit_allowed")
		return Allow()
	case store.VerdictForbidden:
		telemetry.RecordCacheLookup("hit_forbidden")
		return Deny()
	case store.VerdictNotCached:
	}

	telemetry.RecordCacheLookup("miss")
	return e.authorize(ctx, req)
}

// authorize computes the authoritative verdict for a cache miss:
// resolve the session, check the role against userinfo, and memoize
// the result. A session that cannot be resolved restarts the login
// flow instead of surfacing the failure.
func (e *Engine) authorize(ctx context.Context, req Request) Decision {
	result, err, _ := e.group.Do(req.SessionID+"\x00"+req.Role, func() (any, error) {
		sess, err := e.sessions.Lookup(ctx, req.SessionID)
		if err != nil {
			return false, err
		}

		allowed := sess.UserInfo.HasRole(req.Role)

		verdict := store.VerdictForbidden
		if allowed {
			verdict = store.VerdictAllowed
		}
		// A failed cache write means the miss recurs; the decision
		// itself already stands.
		if err := e.store.PutCache(ctx, req.SessionID, req.Role, verdict); err != nil {
			e.logger.Warn("session cache write failed", "role", req.Role, "error", err)
		}

		return allowed, nil
	})
	if err != nil {
		e.logger.Info("session lookup failed, restarting login flow", "error", err)
		return e.redirectToLogin(req.RequestURL)
	}

	if allowed, ok := result.(bool); ok && allowed {
		return Allow()
	}
	return Deny()
}

// decideCallback handles the IdP redirect back to the protected
// origin. Malformed callbacks restart the login flow rather than
// denying: the user is mid-flow and a retry is the only useful
// response.
func (e *Engine) decideCallback(ctx context.Context, req Request) Decision {
	query := req.RequestURL.Query()

	code := query.Get("code")
	stateURL := parseState(query.Get("state"))

	if code == "" || stateURL == nil {
		e.logger.Warn("callback missing code or valid state, restarting login flow")
		// Prefer the URL the user was trying to reach when it is known.
		originalURL := req.RequestURL
		if stateURL != nil {
			originalURL = stateURL
		}
		return e.redirectToLogin(originalURL)
	}

	callbackURL := e.deriveCallbackURL(req.RequestURL)
	sess, err := e.sessions.Create(ctx, code, callbackURL)
	if err != nil {
		// IdP failures never leak to the end user.
		e.logger.Error("session creation failed, restarting login flow", "error", err)
		return e.redirectToLogin(stateURL)
	}

	return IssueSessionAndRedirect(sess.ID, stateURL.String())
}

// parseState interprets the state query parameter as the absolute URL
// the user originally requested. Anything else returns nil.
func parseState(rawState string) *url.URL {
	if rawState == "" {
		return nil
	}
	stateURL, err := url.Parse(rawState)
	if err != nil || !stateURL.IsAbs() {
		return nil
	}
	return stateURL
}

// redirectToLogin builds the redirect-to-login decision for the given
// original URL.
func (e *Engine) redirectToLogin(originalURL *url.URL) Decision {
	return RedirectToLogin(e.login.BuildLoginURL(originalURL, e.deriveCallbackURL(originalURL)))
}

// deriveCallbackURL resolves the configured callback path against the
// request URL, producing the canonical callback URL the IdP was told
// at login time.
func (e *Engine) deriveCallbackURL(requestURL *url.URL) *url.URL {
	return requestURL.ResolveReference(&url.URL{Path: e.callbackPath})
}
