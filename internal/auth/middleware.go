package auth

import (
	"context"
	"net/http"

	"github.com/obouchta/cf-rankings/internal/model"
	"github.com/obouchta/cf-rankings/internal/repository"
	"github.com/obouchta/cf-rankings/internal/session"
)

// contextKey is an unexported type used for context keys in this package.
// A package-private key type means only this package can read or write the
// values it stores in a request context — no collisions with other
// packages using plain strings.
type contextKey string

const sessionKey contextKey = "session"

// RequireAuth is a middleware that enforces an authenticated 42 session.
//
// It loads the session from the sid cookie and rejects the request with
// 401 unless a 42 login has completed on it. On success the session is
// stored in the request context for handlers (see SessionFromContext).
//
// Note this checks the SESSION, not the directory: a user row existing is
// not enough, the caller must have actually logged in on this browser.
func RequireAuth(sessions *session.Manager) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			s, err := sessions.Current(r)
			if err != nil || !s.Authenticated() {
				unauthorized(w, "You must login with 42 Intra to access this resource")
				return
			}

			ctx := context.WithValue(r.Context(), sessionKey, s)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireCodeforces enforces an authenticated session whose user has a
// linked Codeforces account.
//
// The two failure modes get DISTINCT responses so the frontend can react
// differently: 401 means "go log in", 403 means "logged in, go link your
// Codeforces account".
func RequireCodeforces(sessions *session.Manager, users repository.UserRepository) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			s, err := sessions.Current(r)
			if err != nil || !s.Authenticated() {
				unauthorized(w, "You must login with 42 Intra to access this resource")
				return
			}

			user, err := users.GetByID(r.Context(), s.UserID)
			if err != nil {
				// A lookup failure is not "unlinked" — don't tell the user
				// to go link an account when the directory is broken.
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusInternalServerError)
				w.Write([]byte(`{"error":"Failed to load user"}`))
				return
			}
			if !user.Linked() {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusForbidden)
				w.Write([]byte(`{"error":"Codeforces account not linked","message":"Please link your Codeforces account to access rankings"}`))
				return
			}

			ctx := context.WithValue(r.Context(), sessionKey, s)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// SessionFromContext retrieves the authenticated session placed in the
// context by RequireAuth / RequireCodeforces.
// Returns (nil, false) if the route was not behind one of the guards.
func SessionFromContext(ctx context.Context) (*model.Session, bool) {
	s, ok := ctx.Value(sessionKey).(*model.Session)
	return s, ok && s != nil
}

func unauthorized(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	w.Write([]byte(`{"error":"Authentication required","message":"` + message + `"}`))
}
