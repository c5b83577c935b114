package handler

// Response helpers shared by every handler: one function to write JSON,
// one to translate domain errors into HTTP.
//
// CONSISTENT ERROR SHAPE:
// Every JSON error from the API puts the human-readable text under the
// "error" key — the field the frontend displays:
//
//	{"error": "User with this handle already exists"}
//
// Some responses add a longer "message" hint (the route guards do, to tell
// the frontend WHICH login is missing). OAuth endpoints are the exception —
// they answer browsers mid-redirect, so their errors travel as ?error=
// query parameters instead (see redirectError in auth.go).

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/obouchta/cf-rankings/internal/apperror"
)

// ErrorResponse is the standard error format returned by all API endpoints.
type ErrorResponse struct {
	Error   string `json:"error"`             // human-readable error text
	Message string `json:"message,omitempty"` // optional longer hint
}

// writeJSON sends a JSON response with the given status code.
// Headers and status must be written before the body; once Encode writes,
// they are locked in.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			// Headers are already sent — all we can do is log.
			slog.Error("failed to encode JSON response", slog.String("error", err.Error()))
		}
	}
}

// writeError maps a domain error to the right HTTP status and sends it.
//
// The service layer returns apperror sentinels; this is the single place
// they meet HTTP status codes. errors.Is walks the wrap chain, so services
// are free to add context with fmt.Errorf("...: %w", err).
func writeError(w http.ResponseWriter, err error) {
	var appErr *apperror.AppError
	if errors.As(err, &appErr) {
		status := http.StatusInternalServerError

		switch {
		case errors.Is(err, apperror.ErrValidation):
			status = http.StatusBadRequest
		case errors.Is(err, apperror.ErrNotFound):
			status = http.StatusNotFound
		case errors.Is(err, apperror.ErrUnauthorized):
			status = http.StatusUnauthorized
		case errors.Is(err, apperror.ErrForbidden):
			status = http.StatusForbidden
		case errors.Is(err, apperror.ErrConflict):
			status = http.StatusConflict
		case errors.Is(err, apperror.ErrUnavailable):
			status = http.StatusServiceUnavailable
		case errors.Is(err, apperror.ErrUpstream):
			status = http.StatusBadGateway
		}

		writeJSON(w, status, ErrorResponse{Error: appErr.Message})
		return
	}

	// Unknown error — generic 500, never leak internals to the client.
	writeJSON(w, http.StatusInternalServerError, ErrorResponse{
		Error: "An internal error occurred",
	})
}
