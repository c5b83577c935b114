package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/xid"

	"github.com/obouchta/cf-rankings/internal/apperror"
	"github.com/obouchta/cf-rankings/internal/model"
	"github.com/obouchta/cf-rankings/internal/repository"
)

// compile-time check that *DB implements repository.UserRepository
var _ repository.UserRepository = (*DB)(nil)

// userColumns is the SELECT column list shared by every lookup, in the
// order scanUser expects.
const userColumns = `id, intra_login, email, intra_avatar,
	cf_handle, cf_rating, cf_rank, cf_max_rating, cf_max_rank,
	country, organization, first_name, last_name, cf_avatar, title_photo,
	deleted_cf_handle, last_updated, created_at`

// Create inserts a new user. ID, CreatedAt and LastUpdated are generated
// here and written back into the caller's struct.
func (db *DB) Create(ctx context.Context, user *model.User) error {
	now := time.Now().UTC()
	user.ID = xid.New().String()
	user.CreatedAt = now
	if user.LastUpdated.IsZero() {
		user.LastUpdated = now
	}
	if user.Rank == "" {
		user.Rank = model.DefaultRank
	}
	if user.MaxRank == "" {
		user.MaxRank = model.DefaultRank
	}

	_, err := db.conn.ExecContext(ctx, `
		INSERT INTO users (
			id, intra_login, email, intra_avatar,
			cf_handle, cf_rating, cf_rank, cf_max_rating, cf_max_rank,
			country, organization, first_name, last_name, cf_avatar, title_photo,
			deleted_cf_handle, last_updated, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		user.ID, nullableString(user.IntraLogin), user.Email, user.IntraAvatar,
		user.Handle, user.Rating, user.Rank, user.MaxRating, user.MaxRank,
		user.Country, user.Organization, user.FirstName, user.LastName,
		user.CFAvatar, user.TitlePhoto,
		user.DeletedHandle, user.LastUpdated, user.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("sqlite: inserting user (intraLogin=%q handle=%q): %w",
			user.IntraLogin, user.Handle, err)
	}
	return nil
}

// GetByID retrieves a user by internal ID.
func (db *DB) GetByID(ctx context.Context, id string) (*model.User, error) {
	return db.getUserWhere(ctx, "id = ?", id)
}

// GetByIntraLogin retrieves a user by their 42 login.
func (db *DB) GetByIntraLogin(ctx context.Context, login string) (*model.User, error) {
	return db.getUserWhere(ctx, "intra_login = ?", login)
}

// GetByHandle retrieves a user by their linked Codeforces handle.
func (db *DB) GetByHandle(ctx context.Context, handle string) (*model.User, error) {
	return db.getUserWhere(ctx, "cf_handle = ?", handle)
}

// ListLinked returns every user with a linked Codeforces account, oldest
// first. This insertion order is the stable tie-break order of the
// rankings pipeline.
func (db *DB) ListLinked(ctx context.Context) ([]model.User, error) {
	return db.listUsersWhere(ctx,
		`cf_handle != '' ORDER BY created_at, id`)
}

// ListTopRated returns up to limit linked users by descending stored
// rating. No upstream refresh — this reads what the last refresh wrote.
func (db *DB) ListTopRated(ctx context.Context, limit int) ([]model.User, error) {
	return db.listUsersWhere(ctx,
		`cf_handle != '' ORDER BY cf_rating DESC, created_at, id LIMIT ?`, limit)
}

// CountHigherRated counts linked users with a rating strictly above the
// given one.
func (db *DB) CountHigherRated(ctx context.Context, rating int) (int, error) {
	var n int
	err := db.conn.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM users WHERE cf_handle != '' AND cf_rating > ?`,
		rating,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("sqlite: counting higher rated users: %w", err)
	}
	return n, nil
}

// CountLinked counts users with a linked Codeforces account.
func (db *DB) CountLinked(ctx context.Context) (int, error) {
	var n int
	err := db.conn.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM users WHERE cf_handle != ''`,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("sqlite: counting linked users: %w", err)
	}
	return n, nil
}

// Update persists every mutable field of an existing user.
func (db *DB) Update(ctx context.Context, user *model.User) error {
	res, err := db.conn.ExecContext(ctx, `
		UPDATE users SET
			intra_login = ?, email = ?, intra_avatar = ?,
			cf_handle = ?, cf_rating = ?, cf_rank = ?,
			cf_max_rating = ?, cf_max_rank = ?,
			country = ?, organization = ?, first_name = ?, last_name = ?,
			cf_avatar = ?, title_photo = ?, deleted_cf_handle = ?,
			last_updated = ?
		WHERE id = ?`,
		nullableString(user.IntraLogin), user.Email, user.IntraAvatar,
		user.Handle, user.Rating, user.Rank,
		user.MaxRating, user.MaxRank,
		user.Country, user.Organization, user.FirstName, user.LastName,
		user.CFAvatar, user.TitlePhoto, user.DeletedHandle,
		user.LastUpdated,
		user.ID,
	)
	if err != nil {
		return fmt.Errorf("sqlite: updating user %s: %w", user.ID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return apperror.NotFound(fmt.Sprintf("user %s not found", user.ID))
	}
	return nil
}

func (db *DB) getUserWhere(ctx context.Context, where string, args ...any) (*model.User, error) {
	row := db.conn.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE `+where, args...)

	u, err := scanUser(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apperror.NotFound("user not found")
		}
		return nil, fmt.Errorf("sqlite: getting user: %w", err)
	}
	return u, nil
}

func (db *DB) listUsersWhere(ctx context.Context, where string, args ...any) ([]model.User, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE `+where, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: listing users: %w", err)
	}
	defer rows.Close()

	var users []model.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scanning user row: %w", err)
		}
		users = append(users, *u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterating user rows: %w", err)
	}
	return users, nil
}

// scanner covers both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanUser(s scanner) (*model.User, error) {
	var u model.User
	var intraLogin sql.NullString

	err := s.Scan(
		&u.ID, &intraLogin, &u.Email, &u.IntraAvatar,
		&u.Handle, &u.Rating, &u.Rank, &u.MaxRating, &u.MaxRank,
		&u.Country, &u.Organization, &u.FirstName, &u.LastName,
		&u.CFAvatar, &u.TitlePhoto,
		&u.DeletedHandle, &u.LastUpdated, &u.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	u.IntraLogin = intraLogin.String
	return &u, nil
}

// nullableString maps "" to NULL so the sparse UNIQUE index on intra_login
// ignores users who have no intra identity.
func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
