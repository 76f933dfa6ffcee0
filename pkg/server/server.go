// SPDX-FileCopyrightText: Copyright 2026 Authgate Authors
// SPDX-License-Identifier: Apache-2.0

// Package server exposes the decision endpoint consumed by the reverse
// proxy, plus health and metrics surfaces.
//
// The proxy issues `GET /auth?role=<R>` sub-requests carrying the
// attempted URL in the `x-request-uri` header and the session cookie,
// and translates the response status and `X-Auth-*` headers into the
// user-facing response.
package server

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/authgate/authgate/pkg/engine"
	"github.com/authgate/authgate/pkg/store"
	"github.com/authgate/authgate/pkg/telemetry"
)

// SessionCookieName is the cookie carrying the session id on the
// protected origin.
const SessionCookieName = "_keycloak_auth_session"

// RequestURIHeader is set by the reverse proxy to the absolute URL the
// end user attempted.
const RequestURIHeader = "x-request-uri"

// Response headers the proxy translates into the user-facing response.
const (
	RedirectHeader = "X-Auth-Redirect"
	CookieHeader   = "X-Auth-Cookie"
)

// requestTimeout bounds one decision end to end. It leaves room for a
// code exchange plus two userinfo calls at the 5s IdP deadline.
const requestTimeout = 15 * time.Second

// Server is the HTTP front of the sidecar.
type Server struct {
	engine *engine.Engine
	store  store.Store
	logger *slog.Logger
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the server logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		s.logger = l
	}
}

// New creates the HTTP front for the given engine. The store is only
// used for health checks.
func New(e *engine.Engine, st store.Store, opts ...Option) *Server {
	s := &Server{
		engine: e,
		store:  st,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Router builds the chi router with the standard middleware stack.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.RequestID,
		middleware.RealIP,
		middleware.Recoverer,
		middleware.Timeout(requestTimeout),
	)

	r.Get("/auth", s.handleAuth)
	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	return r
}

// handleAuth serves one authorization decision.
func (s *Server) handleAuth(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	req, err := parseDecisionRequest(r)
	decision := engine.InternalError()
	if err != nil {
		s.logger.Error("malformed proxy request", "error", err)
	} else {
		decision = s.engine.Decide(r.Context(), req)
	}

	s.writeDecision(w, decision)
	telemetry.RecordDecision(decision.Outcome.String(), time.Since(start).Seconds())
}

// parseDecisionRequest extracts the decision input from the proxy
// sub-request. A missing role or an absent/unparseable x-request-uri
// is a proxy misconfiguration, not a user error.
func parseDecisionRequest(r *http.Request) (engine.Request, error) {
	role := r.URL.Query().Get("role")
	if role == "" {
		return engine.Request{}, errors.New("role query parameter is required")
	}

	rawURI := r.Header.Get(RequestURIHeader)
	if rawURI == "" {
		return engine.Request{}, fmt.Errorf("%s header not found", RequestURIHeader)
	}
	requestURL, err := url.Parse(rawURI)
	if err != nil || !requestURL.IsAbs() {
		return engine.Request{}, fmt.Errorf("could not parse %s header value", RequestURIHeader)
	}

	sessionID := ""
	if cookie, err := r.Cookie(SessionCookieName); err == nil {
		sessionID = cookie.Value
	}

	return engine.Request{
		RequestURL: requestURL,
		SessionID:  sessionID,
		Role:       role,
	}, nil
}

// writeDecision encodes the decision into the documented status and
// header protocol. No response body is required.
func (s *Server) writeDecision(w http.ResponseWriter, d engine.Decision) {
	switch d.Outcome {
	case engine.OutcomeAllow:
		w.WriteHeader(http.StatusOK)
	case engine.OutcomeDeny:
		w.WriteHeader(http.StatusForbidden)
	case engine.OutcomeRedirectToLogin:
		w.Header().Set(RedirectHeader, d.RedirectURL)
		w.WriteHeader(http.StatusUnauthorized)
	case engine.OutcomeIssueSession:
		w.Header().Set(RedirectHeader, d.RedirectURL)
		w.Header().Set(CookieHeader,
			fmt.Sprintf("%s=%s; Secure; HttpOnly; Path=/", SessionCookieName, d.SessionID))
		w.WriteHeader(http.StatusUnauthorized)
	case engine.OutcomeInternalError:
		w.WriteHeader(http.StatusInternalServerError)
	default:
		s.logger.Error("unreachable decision outcome", "outcome", int(d.Outcome))
		w.WriteHeader(http.StatusInternalServerError)
	}
}

// handleHealth reports liveness of the sidecar and its store.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		s.logger.Warn("health check failed", "error", err)
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
