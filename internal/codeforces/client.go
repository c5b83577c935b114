// Package codeforces is a small client for the public, read-only parts of
// the Codeforces API that this application needs: user.info (current
// rating/rank) and user.rating (contest history).
//
// API SHAPE:
// Every Codeforces endpoint wraps its payload in the same envelope:
//
//	{"status": "OK", "result": [...]}
//	{"status": "FAILED", "comment": "handles: User with handle x not found"}
//
// The comment field carries the upstream's own diagnostic text; we surface
// it verbatim in errors so the frontend can show the real reason.
//
// No authentication is required for these endpoints, but they ARE
// rate-limited — the rankings pipeline spaces out its calls (see
// internal/service) rather than hammering the API.
package codeforces

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/obouchta/cf-rankings/internal/apperror"
)

// DefaultBaseURL is the production Codeforces API.
const DefaultBaseURL = "https://codeforces.com/api"

// Profile is a user's public rating profile, normalized: absent numeric
// fields become 0, absent rank labels become "unrated", absent strings "".
type Profile struct {
	Handle       string `json:"handle"`
	Rating       int    `json:"rating"`
	Rank         string `json:"rank"`
	MaxRating    int    `json:"maxRating"`
	MaxRank      string `json:"maxRank"`
	Avatar       string `json:"avatar"`
	TitlePhoto   string `json:"titlePhoto"`
	FirstName    string `json:"firstName"`
	LastName     string `json:"lastName"`
	Country      string `json:"country"`
	Organization string `json:"organization"`
}

// RatingChange is one entry of a user's contest history (user.rating).
type RatingChange struct {
	ContestID   int    `json:"contestId"`
	ContestName string `json:"contestName"`
	Rank        int    `json:"rank"`
	OldRating   int    `json:"oldRating"`
	NewRating   int    `json:"newRating"`
	Seconds     int64  `json:"ratingUpdateTimeSeconds"`
}

// envelope is the common response wrapper described in the package comment.
// Result is left raw because its element type differs per endpoint.
type envelope struct {
	Status  string          `json:"status"`
	Comment string          `json:"comment"`
	Result  json.RawMessage `json:"result"`
}

// Client calls the Codeforces API.
type Client struct {
	baseURL string
	http    *http.Client
}

// New creates a Client. baseURL is usually DefaultBaseURL; tests point it
// at an httptest server.
func New(baseURL string) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 10 * time.Second},
	}
}

// NewWithHTTPClient creates a Client with a caller-supplied http.Client.
func NewWithHTTPClient(baseURL string, hc *http.Client) *Client {
	c := New(baseURL)
	c.http = hc
	return c
}

// UserInfo fetches a user's current rating profile.
//
// Missing fields are normalized here, in one place, so the rest of the app
// never has to reason about "rating absent" vs "rating zero" — an unrated
// user simply has Rating 0 and Rank "unrated".
func (c *Client) UserInfo(ctx context.Context, handle string) (*Profile, error) {
	// user.info takes a semicolon-separated handle list; we only ever ask
	// for one.
	var result []struct {
		Handle       string  `json:"handle"`
		Rating       *int    `json:"rating"`
		Rank         *string `json:"rank"`
		MaxRating    *int    `json:"maxRating"`
		MaxRank      *string `json:"maxRank"`
		Avatar       string  `json:"avatar"`
		TitlePhoto   string  `json:"titlePhoto"`
		FirstName    string  `json:"firstName"`
		LastName     string  `json:"lastName"`
		Country      string  `json:"country"`
		Organization string  `json:"organization"`
	}

	if err := c.get(ctx, "user.info", url.Values{"handles": {handle}}, &result); err != nil {
		return nil, err
	}
	if len(result) == 0 {
		return nil, apperror.Upstream("Codeforces API", fmt.Errorf("empty result for handle %q", handle))
	}

	u := result[0]
	p := &Profile{
		Handle:       u.Handle,
		Rank:         "unrated",
		MaxRank:      "unrated",
		Avatar:       u.Avatar,
		TitlePhoto:   u.TitlePhoto,
		FirstName:    u.FirstName,
		LastName:     u.LastName,
		Country:      u.Country,
		Organization: u.Organization,
	}
	if u.Rating != nil {
		p.Rating = *u.Rating
	}
	if u.MaxRating != nil {
		p.MaxRating = *u.MaxRating
	}
	if u.Rank != nil && *u.Rank != "" {
		p.Rank = *u.Rank
	}
	if u.MaxRank != nil && *u.MaxRank != "" {
		p.MaxRank = *u.MaxRank
	}
	return p, nil
}

// ValidateHandle reports whether a handle exists on Codeforces.
// All failures — unknown handle, network error, upstream outage — collapse
// to false; callers that need the distinction use UserInfo directly.
func (c *Client) ValidateHandle(ctx context.Context, handle string) bool {
	_, err := c.UserInfo(ctx, handle)
	return err == nil
}

// RatingHistory fetches a user's contest participation history, oldest
// first (the API's native order).
func (c *Client) RatingHistory(ctx context.Context, handle string) ([]RatingChange, error) {
	var result []RatingChange
	if err := c.get(ctx, "user.rating", url.Values{"handle": {handle}}, &result); err != nil {
		return nil, err
	}
	return result, nil
}

// get performs one API call and decodes the envelope's result into out.
//
// ERROR PRECEDENCE: a FAILED status with a comment wins over the HTTP
// status code — Codeforces returns 400 with a JSON body for unknown
// handles, and the comment is the useful part.
func (c *Client) get(ctx context.Context, method string, params url.Values, out any) error {
	reqURL := fmt.Sprintf("%s/%s?%s", c.baseURL, method, params.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return apperror.Upstream("Codeforces API", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return apperror.Upstream("Codeforces API", err)
	}
	defer resp.Body.Close()

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		if resp.StatusCode != http.StatusOK {
			return apperror.Upstream("Codeforces API", fmt.Errorf("status %d", resp.StatusCode))
		}
		return apperror.Upstream("Codeforces API", fmt.Errorf("decoding response: %w", err))
	}

	if env.Status != "OK" {
		if env.Comment != "" {
			return apperror.Upstream("Codeforces API", fmt.Errorf("%s", env.Comment))
		}
		return apperror.Upstream("Codeforces API", fmt.Errorf("status %q", env.Status))
	}

	if err := json.Unmarshal(env.Result, out); err != nil {
		return apperror.Upstream("Codeforces API", fmt.Errorf("decoding result: %w", err))
	}
	return nil
}
