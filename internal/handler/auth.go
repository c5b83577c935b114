package handler

import (
	"log/slog"
	"net/http"
	"net/url"

	"github.com/rs/xid"

	"github.com/obouchta/cf-rankings/internal/auth"
	"github.com/obouchta/cf-rankings/internal/service"
	"github.com/obouchta/cf-rankings/internal/session"
)

// AuthHandler runs the 42 Intra login flow and the session endpoints.
//
// LOGIN FLOW (authorization code + state nonce):
//  1. GET /api/auth/42/login    → make a session, store a random state
//     nonce in it, redirect to intra's authorize page
//  2. GET /api/auth/42/callback → verify the returned state against the
//     session's nonce, exchange the code for a profile, upsert the user,
//     bind the user to the session
//
// Every failure on these routes redirects BACK TO THE FRONTEND with a
// human-readable ?error= — the browser is mid-navigation, a JSON body
// would just be ignored.
type AuthHandler struct {
	intra       *auth.IntraProvider
	sessions    *session.Manager
	svc         *service.AuthService
	frontendURL string
	logger      *slog.Logger
}

// NewAuthHandler creates an AuthHandler.
func NewAuthHandler(
	intra *auth.IntraProvider,
	sessions *session.Manager,
	svc *service.AuthService,
	frontendURL string,
	logger *slog.Logger,
) *AuthHandler {
	return &AuthHandler{
		intra:       intra,
		sessions:    sessions,
		svc:         svc,
		frontendURL: frontendURL,
		logger:      logger,
	}
}

// HandleIntraLogin starts the 42 login.
//
// HTTP: GET /api/auth/42/login
//
// The state nonce is stored server-side in the session — not in its own
// cookie — because the session already exists for the second (Codeforces)
// handshake and there is no point managing two stores of transient state.
func (h *AuthHandler) HandleIntraLogin(w http.ResponseWriter, r *http.Request) {
	if !h.intra.Configured() {
		h.logger.Warn("42 login requested but OAuth is not configured")
		h.redirectError(w, r, "42 OAuth not configured")
		return
	}

	sess, err := h.sessions.Start(w, r)
	if err != nil {
		h.logger.Error("42 login: starting session failed", slog.String("error", err.Error()))
		h.redirectError(w, r, "42 login failed")
		return
	}

	state := xid.New().String()
	sess.OAuthState = state
	if err := h.sessions.Save(r.Context(), sess); err != nil {
		h.logger.Error("42 login: saving session failed", slog.String("error", err.Error()))
		h.redirectError(w, r, "42 login failed")
		return
	}

	http.Redirect(w, r, h.intra.AuthURL(state), http.StatusTemporaryRedirect)
}

// HandleIntraCallback completes the 42 login.
//
// HTTP: GET /api/auth/42/callback?code=xxx&state=yyy
//
// THE STATE CHECK IS THE CSRF DEFENSE: the callback only counts if the
// state echoed by intra matches the nonce this session generated. The
// nonce is single-use — it is cleared before anything else happens, so a
// failed callback can never be retried with the same value.
func (h *AuthHandler) HandleIntraCallback(w http.ResponseWriter, r *http.Request) {
	sess, err := h.sessions.Current(r)
	if err != nil {
		h.logger.Warn("42 callback: no session")
		h.redirectError(w, r, "Invalid state")
		return
	}

	expected := sess.OAuthState

	// Consume the nonce immediately, success or failure.
	sess.OAuthState = ""
	if err := h.sessions.Save(r.Context(), sess); err != nil {
		h.logger.Error("42 callback: clearing state failed", slog.String("error", err.Error()))
		h.redirectError(w, r, "Callback failed")
		return
	}

	if expected == "" || r.URL.Query().Get("state") != expected {
		h.logger.Warn("42 callback: state mismatch — possible CSRF",
			slog.String("got", r.URL.Query().Get("state")),
		)
		h.redirectError(w, r, "Invalid state")
		return
	}

	code := r.URL.Query().Get("code")
	if code == "" {
		h.redirectError(w, r, "No authorization code")
		return
	}

	profile, err := h.intra.Exchange(r.Context(), code)
	if err != nil {
		h.logger.Error("42 callback: exchange failed", slog.String("error", err.Error()))
		h.redirectError(w, r, "Authentication failed")
		return
	}

	user, err := h.svc.LoginOrRegisterIntra(r.Context(), profile)
	if err != nil {
		h.logger.Error("42 callback: upsert failed",
			slog.String("intraLogin", profile.Login),
			slog.String("error", err.Error()),
		)
		h.redirectError(w, r, "Authentication failed")
		return
	}

	// Bind the identity to the session — this is the moment the session
	// becomes authenticated.
	sess.UserID = user.ID
	if err := h.sessions.Save(r.Context(), sess); err != nil {
		h.logger.Error("42 callback: saving session failed", slog.String("error", err.Error()))
		h.redirectError(w, r, "Authentication failed")
		return
	}

	h.redirectSuccess(w, r, user.IntraLogin)
}

// HandleMe returns the calling session's full directory record.
//
// HTTP: GET /api/auth/me
// Auth: RequireAuth
func (h *AuthHandler) HandleMe(w http.ResponseWriter, r *http.Request) {
	sess, ok := auth.SessionFromContext(r.Context())
	if !ok {
		// Unreachable behind RequireAuth, but don't crash if miswired.
		writeJSON(w, http.StatusUnauthorized, ErrorResponse{Error: "Not authenticated"})
		return
	}

	user, err := h.svc.CurrentUser(r.Context(), sess.UserID)
	if err != nil {
		h.logger.Error("me: loading user failed",
			slog.String("userID", sess.UserID),
			slog.String("error", err.Error()),
		)
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"authenticated": true,
		"user":          user,
	})
}

// HandleLogout destroys the session.
//
// HTTP: POST /api/auth/logout
// POST, not GET: logout changes state, and GETs get prefetched.
func (h *AuthHandler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	if err := h.sessions.Destroy(w, r); err != nil {
		h.logger.Error("logout failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: "Logout failed"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": "Logged out successfully"})
}

// redirectError sends the browser back to the frontend with a readable
// error reason in the query string.
func (h *AuthHandler) redirectError(w http.ResponseWriter, r *http.Request, reason string) {
	redirectWithQuery(w, r, h.frontendURL, url.Values{"error": {reason}})
}

func (h *AuthHandler) redirectSuccess(w http.ResponseWriter, r *http.Request, login string) {
	redirectWithQuery(w, r, h.frontendURL, url.Values{
		"login": {"success"},
		"user":  {login},
	})
}

func redirectWithQuery(w http.ResponseWriter, r *http.Request, base string, q url.Values) {
	http.Redirect(w, r, base+"?"+q.Encode(), http.StatusSeeOther)
}
