// Package repository defines the storage interfaces consumed by the
// service layer. The concrete implementation lives in repository/sqlite;
// tests substitute in-memory fakes.
package repository

import (
	"context"

	"github.com/obouchta/cf-rankings/internal/model"
)

// UserRepository persists directory records.
//
// Lookup methods return apperror.ErrNotFound (wrapped) when no row
// matches, so callers can distinguish "absent" from "database broken"
// with errors.Is.
type UserRepository interface {
	// Create inserts a new user, generating ID and timestamps in place.
	Create(ctx context.Context, user *model.User) error
	GetByID(ctx context.Context, id string) (*model.User, error)
	GetByIntraLogin(ctx context.Context, login string) (*model.User, error)
	GetByHandle(ctx context.Context, handle string) (*model.User, error)
	// ListLinked returns every user with a non-empty Codeforces handle,
	// in insertion order (the stable pre-sort order of the rankings
	// pipeline).
	ListLinked(ctx context.Context) ([]model.User, error)
	// ListTopRated returns up to limit linked users ordered by descending
	// stored rating, without touching the upstream API.
	ListTopRated(ctx context.Context, limit int) ([]model.User, error)
	// CountHigherRated counts linked users with a strictly greater stored
	// rating. Used to compute a single user's position.
	CountHigherRated(ctx context.Context, rating int) (int, error)
	CountLinked(ctx context.Context) (int, error)
	// Update persists all mutable fields of an existing user.
	Update(ctx context.Context, user *model.User) error
}

// SessionRepository persists server-side sessions.
type SessionRepository interface {
	CreateSession(ctx context.Context, s *model.Session) error
	GetSession(ctx context.Context, id string) (*model.Session, error)
	UpdateSession(ctx context.Context, s *model.Session) error
	DeleteSession(ctx context.Context, id string) error
	// DeleteExpiredSessions removes sessions past their expiry. Called
	// opportunistically; failure is non-fatal.
	DeleteExpiredSessions(ctx context.Context) error
}
