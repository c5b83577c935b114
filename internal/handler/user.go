package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/obouchta/cf-rankings/internal/service"
)

// UserHandler exposes the legacy direct-add endpoint: register someone on
// the leaderboard by Codeforces handle alone, no 42 login involved.
type UserHandler struct {
	svc    *service.AuthService
	logger *slog.Logger
}

// NewUserHandler creates a UserHandler.
func NewUserHandler(svc *service.AuthService, logger *slog.Logger) *UserHandler {
	return &UserHandler{svc: svc, logger: logger}
}

// addUserRequest is the expected POST body.
type addUserRequest struct {
	Handle string `json:"codeforcesHandle"`
}

// addUserProfile mirrors the profile fields the original API returned on a
// successful add.
type addUserProfile struct {
	Handle      string    `json:"handle"`
	Rating      int       `json:"rating"`
	Rank        string    `json:"rank"`
	MaxRating   int       `json:"maxRating"`
	MaxRank     string    `json:"maxRank"`
	Country     string    `json:"country"`
	Avatar      string    `json:"avatar"`
	TitlePhoto  string    `json:"titlephoto"`
	FirstName   string    `json:"firstName"`
	LastName    string    `json:"lastName"`
	LastUpdated time.Time `json:"lastUpdated"`
}

// HandleAddUser registers a new user by Codeforces handle.
//
// HTTP: POST /api/users/add-user
// Body: {"codeforcesHandle": "tourist"}
//
// 201 normalized profile / 400 missing or duplicate handle / 404 unknown
// handle upstream.
func (h *UserHandler) HandleAddUser(w http.ResponseWriter, r *http.Request) {
	var req addUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "Invalid request body"})
		return
	}

	user, err := h.svc.AddUserByHandle(r.Context(), req.Handle)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"message": "User added successfully",
		"user": addUserProfile{
			Handle:      user.Handle,
			Rating:      user.Rating,
			Rank:        user.Rank,
			MaxRating:   user.MaxRating,
			MaxRank:     user.MaxRank,
			Country:     user.Country,
			Avatar:      user.CFAvatar,
			TitlePhoto:  user.TitlePhoto,
			FirstName:   user.FirstName,
			LastName:    user.LastName,
			LastUpdated: user.LastUpdated,
		},
	})
}
