// Package model defines the data structures used throughout the application.
package model

import "time"

// DefaultRank is what the Codeforces API reports for a user who has never
// participated in a rated contest. Rating fields hold 0 / DefaultRank until
// a Codeforces account is linked.
const DefaultRank = "unrated"

// User represents one person in the directory.
//
// A user is normally created on their first 42 Intra login, identified by
// IntraLogin (unique when set). Linking a Codeforces account afterwards
// fills in Handle and the rating mirror fields. The legacy
// POST /api/users/add-user path creates a record from a Codeforces handle
// alone, with no intra identity.
//
// WHY MIRROR FIELDS INSTEAD OF FETCHING LIVE?
// Rating, rank etc. are copies of what the Codeforces API last reported.
// The rankings endpoint refreshes them on read, but keeping a persisted
// copy means one upstream outage degrades to stale data instead of an
// empty leaderboard.
type User struct {
	ID          string `json:"id"          db:"id"`
	IntraLogin  string `json:"intraLogin"  db:"intra_login"` // 42 login, e.g. "obouchta" (unique when set)
	Email       string `json:"email"       db:"email"`
	IntraAvatar string `json:"intraAvatar" db:"intra_avatar"`

	// Codeforces fields — meaningful only while Handle is non-empty.
	Handle       string `json:"codeforcesHandle"    db:"cf_handle"`
	Rating       int    `json:"codeforcesRating"    db:"cf_rating"`
	Rank         string `json:"codeforcesRank"      db:"cf_rank"`
	MaxRating    int    `json:"codeforcesMaxRating" db:"cf_max_rating"`
	MaxRank      string `json:"codeforcesMaxRank"   db:"cf_max_rank"`
	Country      string `json:"country"             db:"country"`
	Organization string `json:"organization"        db:"organization"`
	FirstName    string `json:"firstName"           db:"first_name"`
	LastName     string `json:"lastName"            db:"last_name"`
	CFAvatar     string `json:"codeforcesAvatar"    db:"cf_avatar"`
	TitlePhoto   string `json:"titlePhoto"          db:"title_photo"`

	// DeletedHandle remembers the last handle removed by an unlink, so a
	// re-link (or an admin) can see what the account used to point at.
	DeletedHandle string `json:"-" db:"deleted_cf_handle"`

	LastUpdated time.Time `json:"lastUpdated" db:"last_updated"`
	CreatedAt   time.Time `json:"createdAt"   db:"created_at"`
}

// Linked reports whether this user has a Codeforces account attached.
func (u *User) Linked() bool {
	return u.Handle != ""
}

// DisplayName is "First Last" when the Codeforces profile carries a name,
// falling back to the handle. Used by the rankings output.
func (u *User) DisplayName() string {
	name := u.FirstName
	if u.LastName != "" {
		if name != "" {
			name += " "
		}
		name += u.LastName
	}
	if name == "" {
		return u.Handle
	}
	return name
}
