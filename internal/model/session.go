package model

import "time"

// Session is the server-side state behind the opaque `sid` cookie.
//
// A session exists before the user is authenticated — it has to, because
// the OAuth handshake needs somewhere to park its transient values (the
// CSRF state nonce for 42, the PKCE code verifier for Codeforces) between
// the redirect out and the callback in. UserID stays empty until the 42
// callback succeeds.
//
// TRANSIENT FIELDS ARE SINGLE-USE:
// OAuthState and CodeVerifier are written when a login flow starts and
// cleared by the callback that consumes them, success or failure. A stale
// nonce must never be able to satisfy a later check.
type Session struct {
	ID           string    `db:"id"`
	UserID       string    `db:"user_id"`       // empty until 42 login completes
	OAuthState   string    `db:"oauth_state"`   // 42 CSRF nonce, in-flight handshake only
	CodeVerifier string    `db:"code_verifier"` // Codeforces PKCE verifier, in-flight only
	CreatedAt    time.Time `db:"created_at"`
	ExpiresAt    time.Time `db:"expires_at"`
}

// Authenticated reports whether a 42 login has completed on this session.
func (s *Session) Authenticated() bool {
	return s.UserID != ""
}

// Expired reports whether the session is past its lifetime at t.
func (s *Session) Expired(t time.Time) bool {
	return t.After(s.ExpiresAt)
}
