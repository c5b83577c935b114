// Package auth implements the two OAuth integrations (42 Intra and
// Codeforces) and the guard middlewares protecting routes that need them.
//
// TWO-STEP LOGIN OVERVIEW:
// 1. The user MUST authenticate with 42 Intra first (classic authorization
//    code flow with a state nonce). This creates/loads their directory
//    record and binds it to the session.
// 2. They MAY then link a Codeforces account (OIDC discovery + PKCE flow).
//    The link is only accepted on a session that already completed step 1.
package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"golang.org/x/oauth2"
)

// 42 Intra OAuth endpoints. The intra API is plain OAuth 2.0 — no
// discovery document, the endpoints are documented constants.
// https://api.intra.42.fr/apidoc/guides/web_application_flow
const (
	intraAuthURL     = "https://api.intra.42.fr/oauth/authorize"
	intraTokenURL    = "https://api.intra.42.fr/oauth/token"
	intraUserInfoURL = "https://api.intra.42.fr/v2/me"
)

// IntraProfile is the portion of the /v2/me response we care about.
// The real response is enormous; we only unmarshal what we store.
type IntraProfile struct {
	Login     string
	Email     string
	AvatarURL string
}

// IntraProvider wraps golang.org/x/oauth2 for the 42 Intra authorization
// code flow.
//
// An IntraProvider built without credentials is VALID but unconfigured:
// Configured() returns false and the login handler redirects the browser
// back to the frontend with an error instead of starting a handshake.
// Missing credentials must never crash the server.
type IntraProvider struct {
	config      *oauth2.Config
	userInfoURL string
}

// NewIntraProvider creates an IntraProvider with the given credentials.
// Scope "public" grants read access to the user's public intra profile,
// which is all we need (login, email, avatar).
func NewIntraProvider(clientID, clientSecret, callbackURL string) *IntraProvider {
	return &IntraProvider{
		config: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  callbackURL,
			Scopes:       []string{"public"},
			Endpoint: oauth2.Endpoint{
				AuthURL:  intraAuthURL,
				TokenURL: intraTokenURL,
			},
		},
		userInfoURL: intraUserInfoURL,
	}
}

// NewIntraProviderForTest builds a provider against arbitrary endpoints.
// Tests point all three URLs at an httptest server.
func NewIntraProviderForTest(clientID, clientSecret, callbackURL, authURL, tokenURL, userInfoURL string) *IntraProvider {
	p := NewIntraProvider(clientID, clientSecret, callbackURL)
	p.config.Endpoint = oauth2.Endpoint{AuthURL: authURL, TokenURL: tokenURL}
	p.userInfoURL = userInfoURL
	return p
}

// Configured reports whether OAuth credentials are present.
func (p *IntraProvider) Configured() bool {
	return p.config.ClientID != "" && p.config.ClientSecret != ""
}

// AuthURL returns the intra authorization URL embedding the given CSRF
// state nonce. The caller stores the nonce in the session and verifies it
// on callback.
func (p *IntraProvider) AuthURL(state string) string {
	return p.config.AuthCodeURL(state)
}

// Exchange completes the flow: trades the authorization code for an access
// token (server-to-server, using the client secret), then fetches the
// user's profile with it.
//
// Every failure mode — token endpoint error, profile fetch error, bad
// payload — comes back as an error; the token itself never leaves this
// method.
func (p *IntraProvider) Exchange(ctx context.Context, code string) (*IntraProfile, error) {
	if !p.Configured() {
		return nil, fmt.Errorf("auth: 42 OAuth is not configured")
	}

	token, err := p.config.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("auth: exchanging 42 code: %w", err)
	}

	// config.Client returns an *http.Client that attaches the bearer token
	// to every request.
	client := p.config.Client(ctx, token)

	resp, err := client.Get(p.userInfoURL)
	if err != nil {
		return nil, fmt.Errorf("auth: fetching 42 profile: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("auth: 42 /v2/me returned status %d", resp.StatusCode)
	}

	// The intra profile nests the avatar under image.versions; "medium" is
	// the size the frontend displays, with the full-size link as fallback.
	var payload struct {
		Login string `json:"login"`
		Email string `json:"email"`
		Image struct {
			Link     string `json:"link"`
			Versions struct {
				Medium string `json:"medium"`
			} `json:"versions"`
		} `json:"image"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("auth: decoding 42 profile: %w", err)
	}
	if payload.Login == "" {
		return nil, fmt.Errorf("auth: 42 profile has no login")
	}

	avatar := payload.Image.Versions.Medium
	if avatar == "" {
		avatar = payload.Image.Link
	}

	return &IntraProfile{
		Login:     payload.Login,
		Email:     payload.Email,
		AvatarURL: avatar,
	}, nil
}
