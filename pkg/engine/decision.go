// SPDX-FileCopyrightText: Copyright 2026 Authgate Authors
// SPDX-License-Identifier: Apache-2.0

package engine

// Outcome enumerates the possible results of one authorization
// decision. The set is closed; the request adapter maps each outcome
// to exactly one response shape.
type Outcome int

const (
	// OutcomeAllow lets the proxy forward the request upstream.
	OutcomeAllow Outcome = iota

	// OutcomeDeny blocks the request for an authenticated user that
	// lacks the requested role.
	OutcomeDeny

	// OutcomeRedirectToLogin restarts the OIDC flow at the IdP.
	OutcomeRedirectToLogin

	// OutcomeIssueSession sets the session cookie and redirects the
	// user back to the URL they originally requested.
	OutcomeIssueSession

	// OutcomeInternalError reports a malformed proxy request or an
	// impossible state.
	OutcomeInternalError
)

// String returns the metric label for the outcome.
func (o Outcome) String() string {
	switch o {
	case OutcomeAllow:
		return "allow"
	case OutcomeDeny:
		return "deny"
	case OutcomeRedirectToLogin:
		return "redirect_to_login"
	case OutcomeIssueSession:
		return "issue_session"
	case OutcomeInternalError:
		return "internal_error"
	default:
		return "unknown"
	}
}

// Decision is the tagged result of the state machine. RedirectURL is
// set for OutcomeRedirectToLogin and OutcomeIssueSession; SessionID
// only for OutcomeIssueSession.
type Decision struct {
	Outcome     Outcome
	RedirectURL string
	SessionID   string
}

// Allow builds the allow decision.
func Allow() Decision {
	return Decision{Outcome: OutcomeAllow}
}

// Deny builds the deny decision.
func Deny() Decision {
	return Decision{Outcome: OutcomeDeny}
}

// RedirectToLogin builds a decision that sends the user to the IdP
// login page.
func RedirectToLogin(loginURL string) Decision {
	return Decision{Outcome: OutcomeRedirectToLogin, RedirectURL: loginURL}
}

// IssueSessionAndRedirect builds the decision that establishes a new
// session cookie and redirects back to the original URL.
func IssueSessionAndRedirect(sessionID, redirectURL string) Decision {
	return Decision{Outcome: OutcomeIssueSession, SessionID: sessionID, RedirectURL: redirectURL}
}

// InternalError builds the internal error decision.
func InternalError() Decision {
	return Decision{Outcome: OutcomeInternalError}
}
