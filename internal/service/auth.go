// Package service contains the business logic layer: everything between
// the HTTP handlers and the repositories. Services validate input, enforce
// the linking rules, talk to the external Codeforces API, and return
// domain errors (apperror) — never HTTP status codes.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/obouchta/cf-rankings/internal/apperror"
	"github.com/obouchta/cf-rankings/internal/auth"
	"github.com/obouchta/cf-rankings/internal/codeforces"
	"github.com/obouchta/cf-rankings/internal/model"
	"github.com/obouchta/cf-rankings/internal/repository"
)

// RatingClient is the slice of the Codeforces API client the services
// need. *codeforces.Client satisfies it; tests substitute a fake.
type RatingClient interface {
	UserInfo(ctx context.Context, handle string) (*codeforces.Profile, error)
	RatingHistory(ctx context.Context, handle string) ([]codeforces.RatingChange, error)
}

// AuthService orchestrates user creation and account linking.
type AuthService struct {
	users  repository.UserRepository
	cf     RatingClient
	logger *slog.Logger
}

// NewAuthService creates an AuthService.
func NewAuthService(users repository.UserRepository, cf RatingClient, logger *slog.Logger) *AuthService {
	return &AuthService{
		users:  users,
		cf:     cf,
		logger: logger,
	}
}

// LoginOrRegisterIntra is the directory side of a successful 42 login:
// look the user up by intra login, creating them on first sight, and merge
// the fresh profile mirror fields either way.
func (s *AuthService) LoginOrRegisterIntra(ctx context.Context, profile *auth.IntraProfile) (*model.User, error) {
	user, err := s.users.GetByIntraLogin(ctx, profile.Login)
	switch {
	case err == nil:
		// Known user — refresh the mirrored profile fields.
		user.Email = profile.Email
		user.IntraAvatar = profile.AvatarURL
		user.LastUpdated = nowUTC()
		if err := s.users.Update(ctx, user); err != nil {
			return nil, fmt.Errorf("updating intra user %s: %w", user.ID, err)
		}
		s.logger.Info("42 user logged in",
			slog.String("userID", user.ID),
			slog.String("intraLogin", user.IntraLogin),
		)
		return user, nil

	case errors.Is(err, apperror.ErrNotFound):
		user = &model.User{
			IntraLogin:  profile.Login,
			Email:       profile.Email,
			IntraAvatar: profile.AvatarURL,
			LastUpdated: nowUTC(),
		}
		if err := s.users.Create(ctx, user); err != nil {
			return nil, fmt.Errorf("creating intra user %q: %w", profile.Login, err)
		}
		s.logger.Info("new 42 user created",
			slog.String("userID", user.ID),
			slog.String("intraLogin", user.IntraLogin),
		)
		return user, nil

	default:
		return nil, fmt.Errorf("looking up intra user %q: %w", profile.Login, err)
	}
}

// LinkCodeforces attaches a Codeforces account to an existing user.
//
// The handle comes from a completed OIDC handshake, but we still fetch the
// FULL profile from the public API — the ID token only carries a couple of
// claims, and the directory mirrors the whole rating profile.
func (s *AuthService) LinkCodeforces(ctx context.Context, userID, handle string) (*model.User, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}

	cfData, err := s.cf.UserInfo(ctx, handle)
	if err != nil {
		s.logger.Error("linking: Codeforces profile fetch failed",
			slog.String("handle", handle),
			slog.String("error", err.Error()),
		)
		return nil, err
	}

	applyProfile(user, cfData)
	user.LastUpdated = nowUTC()

	if err := s.users.Update(ctx, user); err != nil {
		return nil, fmt.Errorf("saving linked user %s: %w", user.ID, err)
	}

	s.logger.Info("codeforces account linked",
		slog.String("userID", user.ID),
		slog.String("intraLogin", user.IntraLogin),
		slog.String("handle", user.Handle),
	)
	return user, nil
}

// UnlinkCodeforces detaches the Codeforces account, resetting every mirror
// field to its default. The removed handle is kept in DeletedHandle; the
// record itself is never deleted.
func (s *AuthService) UnlinkCodeforces(ctx context.Context, userID string) (*model.User, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !user.Linked() {
		return nil, apperror.ValidationFailed("codeforcesHandle", "No Codeforces account linked")
	}

	user.DeletedHandle = user.Handle
	user.Handle = ""
	user.Rating = 0
	user.Rank = model.DefaultRank
	user.MaxRating = 0
	user.MaxRank = model.DefaultRank
	user.CFAvatar = ""
	user.TitlePhoto = ""
	user.FirstName = ""
	user.LastName = ""
	user.Organization = ""
	// Country came from the Codeforces profile too — it goes with the rest.
	user.Country = ""
	user.LastUpdated = nowUTC()

	if err := s.users.Update(ctx, user); err != nil {
		return nil, fmt.Errorf("saving unlinked user %s: %w", user.ID, err)
	}

	s.logger.Info("codeforces account unlinked",
		slog.String("userID", user.ID),
		slog.String("previousHandle", user.DeletedHandle),
	)
	return user, nil
}

// AddUserByHandle is the legacy direct-add path: create a directory record
// from a Codeforces handle alone, with no 42 identity.
//
// Validation order matters and is observable through the API:
//  1. missing handle        → validation error (400)
//  2. duplicate handle      → validation error (400, "already exists")
//  3. handle not upstream   → not found (404)
func (s *AuthService) AddUserByHandle(ctx context.Context, handle string) (*model.User, error) {
	handle = strings.TrimSpace(handle)
	if handle == "" {
		return nil, apperror.ValidationFailed("codeforcesHandle", "Codeforces handle is required")
	}

	if _, err := s.users.GetByHandle(ctx, handle); err == nil {
		return nil, apperror.ValidationFailed("codeforcesHandle", "User with this handle already exists")
	} else if !errors.Is(err, apperror.ErrNotFound) {
		return nil, fmt.Errorf("checking for existing handle %q: %w", handle, err)
	}

	cfData, err := s.cf.UserInfo(ctx, handle)
	if err != nil {
		s.logger.Warn("add-user: Codeforces lookup failed",
			slog.String("handle", handle),
			slog.String("error", err.Error()),
		)
		return nil, apperror.NotFound("Codeforces handle not found")
	}

	user := &model.User{LastUpdated: nowUTC()}
	applyProfile(user, cfData)

	if err := s.users.Create(ctx, user); err != nil {
		return nil, fmt.Errorf("creating user for handle %q: %w", handle, err)
	}

	s.logger.Info("user added by handle", slog.String("handle", user.Handle))
	return user, nil
}

// CurrentUser loads the directory record behind an authenticated session.
func (s *AuthService) CurrentUser(ctx context.Context, userID string) (*model.User, error) {
	return s.users.GetByID(ctx, userID)
}

// applyProfile overwrites a user's Codeforces mirror fields from a fetched
// profile. The canonical handle casing comes from the API, not the caller.
func applyProfile(user *model.User, p *codeforces.Profile) {
	user.Handle = p.Handle
	user.Rating = p.Rating
	user.Rank = p.Rank
	user.MaxRating = p.MaxRating
	user.MaxRank = p.MaxRank
	if p.Country != "" {
		user.Country = p.Country
	}
	user.Organization = p.Organization
	user.FirstName = p.FirstName
	user.LastName = p.LastName
	user.CFAvatar = p.Avatar
	user.TitlePhoto = p.TitlePhoto
}
