// Package session manages server-side sessions behind an opaque cookie.
//
// WHY SERVER-SIDE SESSIONS (AND NOT A JWT)?
// The OAuth handshakes need SERVER-held transient state: the 42 state
// nonce and the Codeforces PKCE verifier must survive the round trip
// through the provider but must not be forgeable or readable by the
// browser. A signed token could carry the user id, but not mutable
// single-use secrets — so the browser gets only a random id and the real
// state lives in the database.
//
// COOKIE SHAPE:
//   sid=<xid>; Path=/; HttpOnly; SameSite=Lax; Max-Age=1 week
//
// HttpOnly keeps scripts away from the id; SameSite=Lax still allows the
// top-level redirects that OAuth callbacks arrive on.
package session

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/rs/xid"

	"github.com/obouchta/cf-rankings/internal/model"
	"github.com/obouchta/cf-rankings/internal/repository"
)

// CookieName is the session cookie's name.
const CookieName = "sid"

// Lifetime is how long a session (and its cookie) lives. Matches the
// one-week cookie of the original deployment.
const Lifetime = 7 * 24 * time.Hour

// ErrNoSession is returned by Current when the request carries no valid
// session — no cookie, unknown id, or expired.
var ErrNoSession = errors.New("session: no active session")

// Manager creates, loads, saves and destroys sessions.
type Manager struct {
	store  repository.SessionRepository
	secure bool // set Secure on cookies (behind HTTPS)
	now    func() time.Time
}

// NewManager creates a Manager backed by the given store.
// secure should be true in production (HTTPS-only cookies).
func NewManager(store repository.SessionRepository, secure bool) *Manager {
	return &Manager{
		store:  store,
		secure: secure,
		now:    time.Now,
	}
}

// Start returns the request's session, creating one (and setting the
// cookie) if none exists. Login flows call this: they need a session to
// park handshake state in before the user is authenticated.
func (m *Manager) Start(w http.ResponseWriter, r *http.Request) (*model.Session, error) {
	if s, err := m.Current(r); err == nil {
		return s, nil
	} else if !errors.Is(err, ErrNoSession) {
		return nil, err
	}

	now := m.now()
	s := &model.Session{
		ID:        xid.New().String(),
		CreatedAt: now,
		ExpiresAt: now.Add(Lifetime),
	}
	if err := m.store.CreateSession(r.Context(), s); err != nil {
		return nil, err
	}

	// Expired rows pile up silently; purge them while we're here. Failure
	// doesn't affect the request.
	_ = m.store.DeleteExpiredSessions(r.Context())

	m.setCookie(w, s.ID, int(Lifetime.Seconds()))
	return s, nil
}

// Current returns the request's session without creating one.
// Returns ErrNoSession if the cookie is absent, unknown, or expired.
func (m *Manager) Current(r *http.Request) (*model.Session, error) {
	cookie, err := r.Cookie(CookieName)
	if err != nil || cookie.Value == "" {
		return nil, ErrNoSession
	}

	s, err := m.store.GetSession(r.Context(), cookie.Value)
	if err != nil {
		return nil, ErrNoSession
	}
	if s.Expired(m.now()) {
		_ = m.store.DeleteSession(r.Context(), s.ID)
		return nil, ErrNoSession
	}
	return s, nil
}

// Save persists the session's current state. Handlers call this after
// mutating UserID or the transient handshake fields.
func (m *Manager) Save(ctx context.Context, s *model.Session) error {
	return m.store.UpdateSession(ctx, s)
}

// Destroy deletes the session row and expires the cookie. Logging out an
// anonymous request is a no-op, not an error.
func (m *Manager) Destroy(w http.ResponseWriter, r *http.Request) error {
	if cookie, err := r.Cookie(CookieName); err == nil && cookie.Value != "" {
		if err := m.store.DeleteSession(r.Context(), cookie.Value); err != nil {
			return err
		}
	}
	m.setCookie(w, "", -1)
	return nil
}

func (m *Manager) setCookie(w http.ResponseWriter, value string, maxAge int) {
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    value,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   m.secure,
		SameSite: http.SameSiteLaxMode,
	})
}
