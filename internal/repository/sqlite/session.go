package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/obouchta/cf-rankings/internal/apperror"
	"github.com/obouchta/cf-rankings/internal/model"
	"github.com/obouchta/cf-rankings/internal/repository"
)

// compile-time check that *DB implements repository.SessionRepository
var _ repository.SessionRepository = (*DB)(nil)

// CreateSession inserts a new session row.
func (db *DB) CreateSession(ctx context.Context, s *model.Session) error {
	_, err := db.conn.ExecContext(ctx, `
		INSERT INTO sessions (id, user_id, oauth_state, code_verifier, created_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		s.ID, s.UserID, s.OAuthState, s.CodeVerifier, s.CreatedAt, s.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("sqlite: inserting session %s: %w", s.ID, err)
	}
	return nil
}

// GetSession retrieves a session by id.
func (db *DB) GetSession(ctx context.Context, id string) (*model.Session, error) {
	var s model.Session
	err := db.conn.QueryRowContext(ctx, `
		SELECT id, user_id, oauth_state, code_verifier, created_at, expires_at
		FROM sessions WHERE id = ?`, id,
	).Scan(&s.ID, &s.UserID, &s.OAuthState, &s.CodeVerifier, &s.CreatedAt, &s.ExpiresAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apperror.NotFound("session not found")
		}
		return nil, fmt.Errorf("sqlite: getting session %s: %w", id, err)
	}
	return &s, nil
}

// UpdateSession persists the session's mutable fields (user binding and
// the transient handshake values).
func (db *DB) UpdateSession(ctx context.Context, s *model.Session) error {
	res, err := db.conn.ExecContext(ctx, `
		UPDATE sessions SET user_id = ?, oauth_state = ?, code_verifier = ?, expires_at = ?
		WHERE id = ?`,
		s.UserID, s.OAuthState, s.CodeVerifier, s.ExpiresAt, s.ID,
	)
	if err != nil {
		return fmt.Errorf("sqlite: updating session %s: %w", s.ID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return apperror.NotFound("session not found")
	}
	return nil
}

// DeleteSession removes a session row. Deleting an absent session is not
// an error — logout must be idempotent.
func (db *DB) DeleteSession(ctx context.Context, id string) error {
	if _, err := db.conn.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id); err != nil {
		return fmt.Errorf("sqlite: deleting session %s: %w", id, err)
	}
	return nil
}

// DeleteExpiredSessions removes all sessions past their expiry.
func (db *DB) DeleteExpiredSessions(ctx context.Context) error {
	if _, err := db.conn.ExecContext(ctx,
		`DELETE FROM sessions WHERE expires_at < ?`, time.Now().UTC(),
	); err != nil {
		return fmt.Errorf("sqlite: purging expired sessions: %w", err)
	}
	return nil
}
