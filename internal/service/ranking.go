package service

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/obouchta/cf-rankings/internal/model"
	"github.com/obouchta/cf-rankings/internal/repository"
)

// Pacer spaces out successive calls against the rate-limited Codeforces
// API. Production uses FixedDelay; tests inject a recorder so they don't
// sleep for real.
type Pacer interface {
	Pace(ctx context.Context)
}

// FixedDelay sleeps a constant duration between calls, aborting early if
// the context is cancelled. The 200ms default keeps a full refresh of a
// campus-sized directory under the API's informal rate limit.
type FixedDelay struct {
	D time.Duration
}

// DefaultPacer is the production pacing policy.
func DefaultPacer() Pacer {
	return FixedDelay{D: 200 * time.Millisecond}
}

func (f FixedDelay) Pace(ctx context.Context) {
	t := time.NewTimer(f.D)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}

// RankingEntry is one row of the leaderboard.
type RankingEntry struct {
	Position    int       `json:"position"`
	IntraLogin  string    `json:"intraLogin,omitempty"`
	Handle      string    `json:"handle"`
	Rating      int       `json:"rating"`
	Rank        string    `json:"rank"`
	MaxRating   int       `json:"maxRating"`
	MaxRank     string    `json:"maxRank"`
	Country     string    `json:"country"`
	Name        string    `json:"name"`
	Avatar      string    `json:"codeforcesAvatar"`
	TitlePhoto  string    `json:"titlePhoto"`
	LastUpdated time.Time `json:"lastUpdated"`
	// UpdateError marks an entry whose upstream refresh failed this cycle;
	// its values are the last successfully fetched ones.
	UpdateError bool `json:"updateError,omitempty"`
}

// Rankings is the full leaderboard response.
type Rankings struct {
	Message    string         `json:"message"`
	TotalUsers int            `json:"totalUsers"`
	Entries    []RankingEntry `json:"rankings"`
}

// UserRanking is a single user's standing (GET /api/rankings/me).
type UserRanking struct {
	Handle     string  `json:"handle"`
	Rating     int     `json:"rating"`
	Rank       string  `json:"rank"`
	Position   int     `json:"position"`
	TotalUsers int     `json:"totalUsers"`
	Percentile float64 `json:"percentile"`
}

// RankingService builds the leaderboard.
type RankingService struct {
	users  repository.UserRepository
	cf     RatingClient
	pacer  Pacer
	logger *slog.Logger
}

// NewRankingService creates a RankingService. pacer may be nil, in which
// case the production fixed delay is used.
func NewRankingService(users repository.UserRepository, cf RatingClient, pacer Pacer, logger *slog.Logger) *RankingService {
	if pacer == nil {
		pacer = DefaultPacer()
	}
	return &RankingService{
		users:  users,
		cf:     cf,
		pacer:  pacer,
		logger: logger,
	}
}

// RefreshAndRank refreshes every linked user from the Codeforces API and
// returns them sorted by descending rating with 1-based positions.
//
// THE LOOP IS SEQUENTIAL ON PURPOSE. The Codeforces API rate-limits
// aggressively; one request at a time with a pause in between is the
// throttling strategy, not an oversight. N linked users → exactly N
// upstream calls.
//
// PER-RECORD FAILURE POLICY: an upstream failure degrades only that entry
// — its stale values are kept and it is flagged UpdateError — and the loop
// carries on. The batch as a whole always succeeds unless the directory
// itself is unreadable.
//
// Concurrent refreshes are not serialized; overlapping updates to the same
// record are last-writer-wins. Acceptable for this scale, acknowledged as
// a weakness.
func (s *RankingService) RefreshAndRank(ctx context.Context) (*Rankings, error) {
	users, err := s.users.ListLinked(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading linked users: %w", err)
	}

	if len(users) == 0 {
		return &Rankings{
			Message:    "No users with linked Codeforces accounts",
			TotalUsers: 0,
			Entries:    []RankingEntry{},
		}, nil
	}

	s.logger.Info("refreshing rankings", slog.Int("users", len(users)))

	entries := make([]RankingEntry, 0, len(users))
	for i := range users {
		user := &users[i]

		cfData, err := s.cf.UserInfo(ctx, user.Handle)
		if err != nil {
			s.logger.Warn("rankings: refresh failed, keeping stale data",
				slog.String("handle", user.Handle),
				slog.String("error", err.Error()),
			)
			entries = append(entries, entryFor(user, true))
		} else {
			applyProfile(user, cfData)
			user.LastUpdated = nowUTC()
			if err := s.users.Update(ctx, user); err != nil {
				// Fetched fine but couldn't persist: serve the fresh data
				// anyway, flag nothing — the stored copy is merely stale.
				s.logger.Error("rankings: persisting refresh failed",
					slog.String("handle", user.Handle),
					slog.String("error", err.Error()),
				)
			}
			entries = append(entries, entryFor(user, false))
		}

		// Space out calls; skip the pause after the last one.
		if i < len(users)-1 {
			s.pacer.Pace(ctx)
		}
	}

	// Stable sort: equal ratings keep their fetch (insertion) order.
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Rating > entries[j].Rating
	})
	for i := range entries {
		entries[i].Position = i + 1
	}

	s.logger.Info("rankings refreshed", slog.Int("entries", len(entries)))

	return &Rankings{
		Message:    "Rankings updated from Codeforces API",
		TotalUsers: len(entries),
		Entries:    entries,
	}, nil
}

// Top returns the current top-N leaderboard from stored ratings, without
// touching the upstream API.
func (s *RankingService) Top(ctx context.Context, limit int) (*Rankings, error) {
	if limit <= 0 {
		limit = 10
	}
	if limit > 100 {
		limit = 100
	}

	users, err := s.users.ListTopRated(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("loading top users: %w", err)
	}

	entries := make([]RankingEntry, 0, len(users))
	for i := range users {
		e := entryFor(&users[i], false)
		e.Position = i + 1
		entries = append(entries, e)
	}

	return &Rankings{
		Message:    "Top users by stored rating",
		TotalUsers: len(entries),
		Entries:    entries,
	}, nil
}

// UserRanking computes one user's position among linked users, from
// stored ratings. Position is 1 + the number of strictly higher-rated
// users, so ties share a position.
func (s *RankingService) UserRanking(ctx context.Context, user *model.User) (*UserRanking, error) {
	higher, err := s.users.CountHigherRated(ctx, user.Rating)
	if err != nil {
		return nil, fmt.Errorf("counting higher rated users: %w", err)
	}
	total, err := s.users.CountLinked(ctx)
	if err != nil {
		return nil, fmt.Errorf("counting linked users: %w", err)
	}

	position := higher + 1
	var percentile float64
	if total > 0 {
		percentile = float64(total-position+1) / float64(total) * 100
	}

	return &UserRanking{
		Handle:     user.Handle,
		Rating:     user.Rating,
		Rank:       user.Rank,
		Position:   position,
		TotalUsers: total,
		Percentile: percentile,
	}, nil
}

// History proxies a user's contest history from the Codeforces API.
func (s *RankingService) History(ctx context.Context, handle string) ([]RankingChange, error) {
	changes, err := s.cf.RatingHistory(ctx, handle)
	if err != nil {
		return nil, err
	}
	out := make([]RankingChange, 0, len(changes))
	for _, c := range changes {
		out = append(out, RankingChange{
			ContestID:   c.ContestID,
			ContestName: c.ContestName,
			Rank:        c.Rank,
			OldRating:   c.OldRating,
			NewRating:   c.NewRating,
			At:          time.Unix(c.Seconds, 0).UTC(),
		})
	}
	return out, nil
}

// RankingChange is one contest in a user's rating history.
type RankingChange struct {
	ContestID   int       `json:"contestId"`
	ContestName string    `json:"contestName"`
	Rank        int       `json:"rank"`
	OldRating   int       `json:"oldRating"`
	NewRating   int       `json:"newRating"`
	At          time.Time `json:"at"`
}

func entryFor(u *model.User, updateError bool) RankingEntry {
	return RankingEntry{
		IntraLogin:  u.IntraLogin,
		Handle:      u.Handle,
		Rating:      u.Rating,
		Rank:        u.Rank,
		MaxRating:   u.MaxRating,
		MaxRank:     u.MaxRank,
		Country:     u.Country,
		Name:        u.DisplayName(),
		Avatar:      u.CFAvatar,
		TitlePhoto:  u.TitlePhoto,
		LastUpdated: u.LastUpdated,
		UpdateError: updateError,
	}
}

func nowUTC() time.Time {
	return time.Now().UTC()
}
