package handler

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/obouchta/cf-rankings/internal/auth"
	"github.com/obouchta/cf-rankings/internal/service"
)

// RankingHandler exposes the leaderboard.
type RankingHandler struct {
	rankings *service.RankingService
	users    *service.AuthService
	logger   *slog.Logger
}

// NewRankingHandler creates a RankingHandler.
func NewRankingHandler(rankings *service.RankingService, users *service.AuthService, logger *slog.Logger) *RankingHandler {
	return &RankingHandler{
		rankings: rankings,
		users:    users,
		logger:   logger,
	}
}

// HandleRankings returns the full leaderboard, refreshing every linked
// user from the Codeforces API first.
//
// HTTP: GET /api/rankings
//
// This is a SLOW endpoint by design — N users means N paced upstream
// calls. Individual refresh failures don't fail the response; affected
// entries carry updateError and stale values.
func (h *RankingHandler) HandleRankings(w http.ResponseWriter, r *http.Request) {
	result, err := h.rankings.RefreshAndRank(r.Context())
	if err != nil {
		h.logger.Error("rankings failed", slog.String("error", err.Error()))
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// HandleTop returns the top-N users from stored ratings, no refresh.
//
// HTTP: GET /api/rankings/top?limit=10
func (h *RankingHandler) HandleTop(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if s := r.URL.Query().Get("limit"); s != "" {
		limit, _ = strconv.Atoi(s) // bad input falls through to the default
	}

	result, err := h.rankings.Top(r.Context(), limit)
	if err != nil {
		h.logger.Error("top rankings failed", slog.String("error", err.Error()))
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// HandleMyRanking returns the calling user's standing.
//
// HTTP: GET /api/rankings/me
// Auth: RequireCodeforces
func (h *RankingHandler) HandleMyRanking(w http.ResponseWriter, r *http.Request) {
	sess, ok := auth.SessionFromContext(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, ErrorResponse{Error: "Not authenticated"})
		return
	}

	user, err := h.users.CurrentUser(r.Context(), sess.UserID)
	if err != nil {
		writeError(w, err)
		return
	}

	ranking, err := h.rankings.UserRanking(r.Context(), user)
	if err != nil {
		h.logger.Error("user ranking failed",
			slog.String("userID", user.ID),
			slog.String("error", err.Error()),
		)
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ranking)
}

// HandleHistory returns a user's contest history from the Codeforces API.
//
// HTTP: GET /api/rankings/history/{handle}
// Auth: RequireCodeforces
func (h *RankingHandler) HandleHistory(w http.ResponseWriter, r *http.Request) {
	handle := chi.URLParam(r, "handle")
	if handle == "" {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "Handle is required"})
		return
	}

	history, err := h.rankings.History(r.Context(), handle)
	if err != nil {
		h.logger.Warn("rating history failed",
			slog.String("handle", handle),
			slog.String("error", err.Error()),
		)
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"handle":  handle,
		"history": history,
	})
}
