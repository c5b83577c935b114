package service

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"

	"github.com/obouchta/cf-rankings/internal/apperror"
	"github.com/obouchta/cf-rankings/internal/codeforces"
	"github.com/obouchta/cf-rankings/internal/model"
)

// discardLogger keeps service log output out of test results.
func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeUserRepo is an in-memory UserRepository preserving insertion order.
type fakeUserRepo struct {
	users     []*model.User
	nextID    int
	updateErr error
	listErr   error
}

func (f *fakeUserRepo) Create(_ context.Context, user *model.User) error {
	f.nextID++
	user.ID = "u" + strconv.Itoa(f.nextID)
	if user.Rank == "" {
		user.Rank = model.DefaultRank
	}
	if user.MaxRank == "" {
		user.MaxRank = model.DefaultRank
	}
	clone := *user
	f.users = append(f.users, &clone)
	return nil
}

func (f *fakeUserRepo) GetByID(_ context.Context, id string) (*model.User, error) {
	for _, u := range f.users {
		if u.ID == id {
			clone := *u
			return &clone, nil
		}
	}
	return nil, fmt.Errorf("user %s: %w", id, apperror.ErrNotFound)
}

func (f *fakeUserRepo) GetByIntraLogin(_ context.Context, login string) (*model.User, error) {
	for _, u := range f.users {
		if u.IntraLogin == login && login != "" {
			clone := *u
			return &clone, nil
		}
	}
	return nil, fmt.Errorf("intra login %s: %w", login, apperror.ErrNotFound)
}

func (f *fakeUserRepo) GetByHandle(_ context.Context, handle string) (*model.User, error) {
	for _, u := range f.users {
		if u.Handle != "" && strings.EqualFold(u.Handle, handle) {
			clone := *u
			return &clone, nil
		}
	}
	return nil, fmt.Errorf("handle %s: %w", handle, apperror.ErrNotFound)
}

func (f *fakeUserRepo) ListLinked(_ context.Context) ([]model.User, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	var out []model.User
	for _, u := range f.users {
		if u.Linked() {
			out = append(out, *u)
		}
	}
	return out, nil
}

func (f *fakeUserRepo) ListTopRated(_ context.Context, limit int) ([]model.User, error) {
	linked, err := f.ListLinked(context.Background())
	if err != nil {
		return nil, err
	}
	// Insertion-order selection sort is fine at fake scale.
	for i := range linked {
		for j := i + 1; j < len(linked); j++ {
			if linked[j].Rating > linked[i].Rating {
				linked[i], linked[j] = linked[j], linked[i]
			}
		}
	}
	if len(linked) > limit {
		linked = linked[:limit]
	}
	return linked, nil
}

func (f *fakeUserRepo) CountHigherRated(_ context.Context, rating int) (int, error) {
	n := 0
	for _, u := range f.users {
		if u.Linked() && u.Rating > rating {
			n++
		}
	}
	return n, nil
}

func (f *fakeUserRepo) CountLinked(_ context.Context) (int, error) {
	n := 0
	for _, u := range f.users {
		if u.Linked() {
			n++
		}
	}
	return n, nil
}

func (f *fakeUserRepo) Update(_ context.Context, user *model.User) error {
	if f.updateErr != nil {
		return f.updateErr
	}
	for i, u := range f.users {
		if u.ID == user.ID {
			clone := *user
			f.users[i] = &clone
			return nil
		}
	}
	return fmt.Errorf("user %s: %w", user.ID, apperror.ErrNotFound)
}

// fakeRatingClient serves canned profiles per handle and records the
// order of UserInfo calls.
type fakeRatingClient struct {
	profiles map[string]*codeforces.Profile
	history  []codeforces.RatingChange
	calls    []string
	// failing lists handles whose lookup should fail.
	failing map[string]bool
}

func (f *fakeRatingClient) UserInfo(_ context.Context, handle string) (*codeforces.Profile, error) {
	f.calls = append(f.calls, handle)
	if f.failing[handle] {
		return nil, apperror.Upstream("Codeforces API", fmt.Errorf("handle %s is down", handle))
	}
	p, ok := f.profiles[handle]
	if !ok {
		return nil, apperror.Upstream("Codeforces API", fmt.Errorf("handles: User with handle %s not found", handle))
	}
	clone := *p
	return &clone, nil
}

func (f *fakeRatingClient) RatingHistory(_ context.Context, handle string) ([]codeforces.RatingChange, error) {
	f.calls = append(f.calls, "history:"+handle)
	if f.failing[handle] {
		return nil, apperror.Upstream("Codeforces API", fmt.Errorf("history for %s is down", handle))
	}
	return f.history, nil
}

func profileFor(handle string, rating int) *codeforces.Profile {
	return &codeforces.Profile{
		Handle:    handle,
		Rating:    rating,
		Rank:      "specialist",
		MaxRating: rating + 100,
		MaxRank:   "expert",
		Country:   "Morocco",
		Avatar:    "https://userpic.codeforces.org/" + handle + ".jpg",
	}
}

// recordingPacer counts Pace calls instead of sleeping.
type recordingPacer struct {
	calls int
}

func (p *recordingPacer) Pace(context.Context) { p.calls++ }
