package handler

import (
	"log/slog"
	"net/http"
	"net/url"

	"github.com/obouchta/cf-rankings/internal/auth"
	"github.com/obouchta/cf-rankings/internal/service"
	"github.com/obouchta/cf-rankings/internal/session"
)

// OAuthHandler runs the Codeforces account-linking flow (OIDC + PKCE).
//
// ORDERING RULE: these routes only make sense AFTER a 42 login. The login
// route sits behind RequireAuth; the callback cannot (the browser arrives
// there from codeforces.com, and a 401 JSON body would strand the user),
// so it re-checks the session itself and redirects on failure.
type OAuthHandler struct {
	cf          *auth.CodeforcesProvider
	sessions    *session.Manager
	svc         *service.AuthService
	frontendURL string
	logger      *slog.Logger
}

// NewOAuthHandler creates an OAuthHandler.
func NewOAuthHandler(
	cf *auth.CodeforcesProvider,
	sessions *session.Manager,
	svc *service.AuthService,
	frontendURL string,
	logger *slog.Logger,
) *OAuthHandler {
	return &OAuthHandler{
		cf:          cf,
		sessions:    sessions,
		svc:         svc,
		frontendURL: frontendURL,
		logger:      logger,
	}
}

// HandleCodeforcesLogin starts the linking handshake.
//
// HTTP: GET /api/auth/codeforces
// Auth: RequireAuth
//
// The PKCE verifier is stored in the session; the challenge derived from
// it rides along in the authorization URL. No state parameter — see
// auth.CodeforcesProvider for why that omission is deliberate.
func (h *OAuthHandler) HandleCodeforcesLogin(w http.ResponseWriter, r *http.Request) {
	sess, ok := auth.SessionFromContext(r.Context())
	if !ok {
		h.redirectError(w, r, "You must login with 42 first")
		return
	}

	if !h.cf.Configured() {
		h.logger.Warn("codeforces link requested but OAuth is not configured")
		h.redirectError(w, r, "OAuth not available")
		return
	}

	authURL, verifier, err := h.cf.AuthURL(r.Context())
	if err != nil {
		h.logger.Error("codeforces login: building auth URL failed", slog.String("error", err.Error()))
		h.redirectError(w, r, "OAuth discovery failed - feature may not be available")
		return
	}

	sess.CodeVerifier = verifier
	if err := h.sessions.Save(r.Context(), sess); err != nil {
		h.logger.Error("codeforces login: saving session failed", slog.String("error", err.Error()))
		h.redirectError(w, r, "Login failed")
		return
	}

	http.Redirect(w, r, authURL, http.StatusTemporaryRedirect)
}

// HandleCodeforcesCallback completes the link.
//
// HTTP: GET /api/auth/codeforces/callback?code=xxx
//
// THE SESSION PRECONDITION IS THE SECURITY CHECK HERE: with no state
// parameter in this flow, a callback is only honored when the session
// already holds an authenticated 42 identity AND the PKCE verifier this
// same session stored when the handshake started.
func (h *OAuthHandler) HandleCodeforcesCallback(w http.ResponseWriter, r *http.Request) {
	sess, err := h.sessions.Current(r)
	if err != nil || !sess.Authenticated() {
		h.logger.Warn("codeforces callback: no authenticated session")
		h.redirectError(w, r, "You must login with 42 first")
		return
	}

	verifier := sess.CodeVerifier

	// The verifier is single-use: clear it before attempting the exchange.
	sess.CodeVerifier = ""
	if err := h.sessions.Save(r.Context(), sess); err != nil {
		h.logger.Error("codeforces callback: clearing verifier failed", slog.String("error", err.Error()))
		h.redirectError(w, r, "Callback failed")
		return
	}

	ident, err := h.cf.Exchange(r.Context(), r.URL.Query().Get("code"), verifier)
	if err != nil {
		h.logger.Error("codeforces callback: exchange failed", slog.String("error", err.Error()))
		h.redirectError(w, r, err.Error())
		return
	}

	user, err := h.svc.LinkCodeforces(r.Context(), sess.UserID, ident.Handle)
	if err != nil {
		h.logger.Error("codeforces callback: linking failed",
			slog.String("userID", sess.UserID),
			slog.String("handle", ident.Handle),
			slog.String("error", err.Error()),
		)
		h.redirectError(w, r, "Failed to link Codeforces account")
		return
	}

	redirectWithQuery(w, r, h.frontendURL, url.Values{
		"login": {"success"},
		"user":  {user.Handle},
	})
}

// HandleUnlink removes the Codeforces link from the calling user.
//
// HTTP: DELETE /api/auth/codeforces
// Auth: RequireCodeforces
func (h *OAuthHandler) HandleUnlink(w http.ResponseWriter, r *http.Request) {
	sess, ok := auth.SessionFromContext(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, ErrorResponse{Error: "Not authenticated"})
		return
	}

	user, err := h.svc.UnlinkCodeforces(r.Context(), sess.UserID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"message": "Codeforces account unlinked",
		"user":    user,
	})
}

func (h *OAuthHandler) redirectError(w http.ResponseWriter, r *http.Request, reason string) {
	redirectWithQuery(w, r, h.frontendURL, url.Values{"error": {reason}})
}
