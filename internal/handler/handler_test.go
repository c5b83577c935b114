package handler

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/obouchta/cf-rankings/internal/auth"
	"github.com/obouchta/cf-rankings/internal/codeforces"
	"github.com/obouchta/cf-rankings/internal/repository/sqlite"
	"github.com/obouchta/cf-rankings/internal/service"
	"github.com/obouchta/cf-rankings/internal/session"
)

const testFrontendURL = "http://frontend.test/index.html"

// noopPacer lets ranking refreshes run without real delays.
type noopPacer struct{}

func (noopPacer) Pace(context.Context) {}

// testApp is the full HTTP stack assembled against httptest back-ends:
// an in-memory database, a fake Codeforces API, and a fake 42 intra.
type testApp struct {
	router   *chi.Mux
	db       *sqlite.DB
	sessions *session.Manager
	// cfProfiles is what the fake Codeforces API serves, keyed by handle.
	cfProfiles map[string]string
}

func newTestApp(t *testing.T) *testApp {
	t.Helper()

	db, err := sqlite.New(":memory:")
	require.NoError(t, err, "opening in-memory database")
	t.Cleanup(func() { db.Close() })

	app := &testApp{
		db:         db,
		cfProfiles: map[string]string{},
	}

	// Fake Codeforces API speaking the status/result envelope.
	cfAPI := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/user.info":
			handle := r.URL.Query().Get("handles")
			profile, ok := app.cfProfiles[handle]
			if !ok {
				w.WriteHeader(http.StatusBadRequest)
				w.Write([]byte(`{"status":"FAILED","comment":"handles: User with handle ` + handle + ` not found"}`))
				return
			}
			w.Write([]byte(`{"status":"OK","result":[` + profile + `]}`))
		case "/user.rating":
			w.Write([]byte(`{"status":"OK","result":[
				{"contestId":1,"contestName":"Round 1","rank":42,"oldRating":0,"newRating":1500,"ratingUpdateTimeSeconds":1700000000}
			]}`))
		default:
			t.Errorf("unexpected Codeforces API request: %s", r.URL.Path)
		}
	}))
	t.Cleanup(cfAPI.Close)

	// Fake 42 intra: token endpoint plus profile.
	intraSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/oauth/token":
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"access_token":"tok","token_type":"bearer"}`))
		case "/v2/me":
			w.Write([]byte(`{"login":"obouchta","email":"obouchta@student.42.fr","image":{"link":"https://cdn.intra.42.fr/big.jpg"}}`))
		default:
			t.Errorf("unexpected intra request: %s", r.URL.Path)
		}
	}))
	t.Cleanup(intraSrv.Close)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfClient := codeforces.New(cfAPI.URL)
	intra := auth.NewIntraProviderForTest("id", "secret",
		"http://localhost:8080/api/auth/42/callback",
		intraSrv.URL+"/oauth/authorize", intraSrv.URL+"/oauth/token", intraSrv.URL+"/v2/me")
	// Unconfigured on purpose: linking redirects with an error, which is
	// all these tests need. The OIDC flow itself is covered in the auth
	// package.
	cfProvider := auth.NewCodeforcesProvider("", "", "")

	app.sessions = session.NewManager(db, false)
	authSvc := service.NewAuthService(db, cfClient, logger)
	rankingSvc := service.NewRankingService(db, cfClient, noopPacer{}, logger)

	authHandler := NewAuthHandler(intra, app.sessions, authSvc, testFrontendURL, logger)
	oauthHandler := NewOAuthHandler(cfProvider, app.sessions, authSvc, testFrontendURL, logger)
	userHandler := NewUserHandler(authSvc, logger)
	rankingHandler := NewRankingHandler(rankingSvc, authSvc, logger)

	requireAuth := auth.RequireAuth(app.sessions)
	requireCF := auth.RequireCodeforces(app.sessions, db)

	r := chi.NewRouter()
	r.Route("/api", func(r chi.Router) {
		r.Post("/users/add-user", userHandler.HandleAddUser)
		r.Route("/auth", func(r chi.Router) {
			r.Get("/42/login", authHandler.HandleIntraLogin)
			r.Get("/42/callback", authHandler.HandleIntraCallback)
			r.With(requireAuth).Get("/me", authHandler.HandleMe)
			r.Post("/logout", authHandler.HandleLogout)
			r.With(requireAuth).Get("/codeforces", oauthHandler.HandleCodeforcesLogin)
			r.Get("/codeforces/callback", oauthHandler.HandleCodeforcesCallback)
			r.With(requireCF).Delete("/codeforces", oauthHandler.HandleUnlink)
		})
		r.Route("/rankings", func(r chi.Router) {
			r.Get("/", rankingHandler.HandleRankings)
			r.Get("/top", rankingHandler.HandleTop)
			r.With(requireCF).Get("/me", rankingHandler.HandleMyRanking)
			r.With(requireCF).Get("/history/{handle}", rankingHandler.HandleHistory)
		})
	})
	app.router = r
	return app
}

// serveCF registers a profile on the fake Codeforces API.
func (a *testApp) serveCF(handle string, rating int) {
	a.cfProfiles[handle] = `{"handle":"` + handle + `","rating":` + itoa(rating) + `,"rank":"specialist","maxRating":` + itoa(rating+100) + `,"maxRank":"expert","country":"Morocco"}`
}

func itoa(n int) string {
	b, _ := json.Marshal(n)
	return string(b)
}

// do runs a request through the router and returns the recorder.
func (a *testApp) do(method, target, body string, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	for _, c := range cookies {
		req.AddCookie(c)
	}
	rec := httptest.NewRecorder()
	a.router.ServeHTTP(rec, req)
	return rec
}

// login runs the complete 42 flow against the fake intra and returns the
// authenticated session cookie.
func (a *testApp) login(t *testing.T) *http.Cookie {
	t.Helper()

	rec := a.do(http.MethodGet, "/api/auth/42/login", "")
	require.Equal(t, http.StatusTemporaryRedirect, rec.Code, "login should redirect to intra")

	var sid *http.Cookie
	for _, c := range rec.Result().Cookies() {
		if c.Name == session.CookieName {
			sid = c
		}
	}
	require.NotNil(t, sid, "login should set the session cookie")

	authURL, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)
	state := authURL.Query().Get("state")
	require.NotEmpty(t, state, "intra redirect should carry a state nonce")

	rec = a.do(http.MethodGet, "/api/auth/42/callback?code=fake-code&state="+state, "", sid)
	require.Equal(t, http.StatusSeeOther, rec.Code)
	loc, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)
	require.Equal(t, "success", loc.Query().Get("login"), "callback should land on the frontend with login=success")

	return sid
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body), "response body: %s", rec.Body.String())
	return body
}

func TestAddUser(t *testing.T) {
	app := newTestApp(t)
	app.serveCF("tourist", 3800)

	rec := app.do(http.MethodPost, "/api/users/add-user", `{"codeforcesHandle":"tourist"}`)

	assert.Equal(t, http.StatusCreated, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "User added successfully", body["message"])
	user, ok := body["user"].(map[string]any)
	require.True(t, ok, "response should embed the user profile")
	assert.Equal(t, "tourist", user["handle"])
	assert.Equal(t, float64(3800), user["rating"])
	assert.Equal(t, "specialist", user["rank"])
}

func TestAddUser_MissingHandle(t *testing.T) {
	app := newTestApp(t)

	rec := app.do(http.MethodPost, "/api/users/add-user", `{"codeforcesHandle":""}`)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "Codeforces handle is required", body["error"])
}

func TestAddUser_MalformedBody(t *testing.T) {
	app := newTestApp(t)

	rec := app.do(http.MethodPost, "/api/users/add-user", `{not json`)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "Invalid request body", body["error"])
}

func TestAddUser_Duplicate(t *testing.T) {
	app := newTestApp(t)
	app.serveCF("tourist", 3800)

	rec := app.do(http.MethodPost, "/api/users/add-user", `{"codeforcesHandle":"tourist"}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = app.do(http.MethodPost, "/api/users/add-user", `{"codeforcesHandle":"tourist"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	body := decodeBody(t, rec)
	// The human text rides under the error key — it is what the frontend
	// displays.
	assert.Equal(t, "User with this handle already exists", body["error"])
}

func TestAddUser_UnknownHandle(t *testing.T) {
	app := newTestApp(t)

	rec := app.do(http.MethodPost, "/api/users/add-user", `{"codeforcesHandle":"no_such_user"}`)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "Codeforces handle not found", body["error"])
}

func TestMe_RequiresAuth(t *testing.T) {
	app := newTestApp(t)

	rec := app.do(http.MethodGet, "/api/auth/me", "")

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "Authentication required", body["error"])
}

func TestLoginFlowAndMe(t *testing.T) {
	app := newTestApp(t)

	sid := app.login(t)

	rec := app.do(http.MethodGet, "/api/auth/me", "", sid)
	assert.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, true, body["authenticated"])
	user, ok := body["user"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "obouchta", user["intraLogin"])
}

func TestIntraCallback_StateMismatchNeverAuthenticates(t *testing.T) {
	app := newTestApp(t)

	rec := app.do(http.MethodGet, "/api/auth/42/login", "")
	require.Equal(t, http.StatusTemporaryRedirect, rec.Code)
	var sid *http.Cookie
	for _, c := range rec.Result().Cookies() {
		if c.Name == session.CookieName {
			sid = c
		}
	}
	require.NotNil(t, sid)

	rec = app.do(http.MethodGet, "/api/auth/42/callback?code=fake&state=forged", "", sid)
	assert.Equal(t, http.StatusSeeOther, rec.Code)
	loc, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)
	assert.Equal(t, "Invalid state", loc.Query().Get("error"))

	// The session must remain unauthenticated.
	rec = app.do(http.MethodGet, "/api/auth/me", "", sid)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestIntraCallback_NonceIsSingleUse(t *testing.T) {
	app := newTestApp(t)

	rec := app.do(http.MethodGet, "/api/auth/42/login", "")
	require.Equal(t, http.StatusTemporaryRedirect, rec.Code)
	var sid *http.Cookie
	for _, c := range rec.Result().Cookies() {
		if c.Name == session.CookieName {
			sid = c
		}
	}
	require.NotNil(t, sid)
	authURL, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)
	state := authURL.Query().Get("state")

	// A failed callback consumes the nonce...
	rec = app.do(http.MethodGet, "/api/auth/42/callback?state="+state, "", sid)
	loc, _ := url.Parse(rec.Header().Get("Location"))
	assert.Equal(t, "No authorization code", loc.Query().Get("error"))

	// ...so replaying the same state is rejected.
	rec = app.do(http.MethodGet, "/api/auth/42/callback?code=fake&state="+state, "", sid)
	loc, _ = url.Parse(rec.Header().Get("Location"))
	assert.Equal(t, "Invalid state", loc.Query().Get("error"))
}

func TestCallbackWithoutSession(t *testing.T) {
	app := newTestApp(t)

	rec := app.do(http.MethodGet, "/api/auth/42/callback?code=x&state=y", "")
	assert.Equal(t, http.StatusSeeOther, rec.Code)
	loc, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)
	assert.Equal(t, "Invalid state", loc.Query().Get("error"))
}

func TestLogout(t *testing.T) {
	app := newTestApp(t)
	sid := app.login(t)

	rec := app.do(http.MethodPost, "/api/auth/logout", "", sid)
	assert.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, "Logged out successfully", body["message"])

	rec = app.do(http.MethodGet, "/api/auth/me", "", sid)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestCodeforcesLogin_RequiresAuth(t *testing.T) {
	app := newTestApp(t)

	rec := app.do(http.MethodGet, "/api/auth/codeforces", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestCodeforcesLogin_Unconfigured(t *testing.T) {
	app := newTestApp(t)
	sid := app.login(t)

	rec := app.do(http.MethodGet, "/api/auth/codeforces", "", sid)
	assert.Equal(t, http.StatusSeeOther, rec.Code)
	loc, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)
	assert.Equal(t, "OAuth not available", loc.Query().Get("error"))
}

func TestCodeforcesCallback_WithoutLoginRedirects(t *testing.T) {
	app := newTestApp(t)

	rec := app.do(http.MethodGet, "/api/auth/codeforces/callback?code=x", "")
	assert.Equal(t, http.StatusSeeOther, rec.Code)
	loc, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)
	assert.Equal(t, "You must login with 42 first", loc.Query().Get("error"))
}

func TestRankingsGuards(t *testing.T) {
	app := newTestApp(t)

	// Anonymous → 401.
	rec := app.do(http.MethodGet, "/api/rankings/me", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// Logged in but not linked → 403 with the linking hint.
	sid := app.login(t)
	rec = app.do(http.MethodGet, "/api/rankings/me", "", sid)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "Codeforces account not linked", body["error"])
	assert.Equal(t, "Please link your Codeforces account to access rankings", body["message"])
}

func TestRankings(t *testing.T) {
	app := newTestApp(t)
	for handle, rating := range map[string]int{"low": 1200, "high": 2400, "mid": 1800} {
		app.serveCF(handle, rating)
		rec := app.do(http.MethodPost, "/api/users/add-user", `{"codeforcesHandle":"`+handle+`"}`)
		require.Equal(t, http.StatusCreated, rec.Code)
	}

	rec := app.do(http.MethodGet, "/api/rankings/", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var result struct {
		Message    string `json:"message"`
		TotalUsers int    `json:"totalUsers"`
		Rankings   []struct {
			Position int    `json:"position"`
			Handle   string `json:"handle"`
			Rating   int    `json:"rating"`
		} `json:"rankings"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))

	assert.Equal(t, "Rankings updated from Codeforces API", result.Message)
	assert.Equal(t, 3, result.TotalUsers)
	require.Len(t, result.Rankings, 3)
	assert.Equal(t, "high", result.Rankings[0].Handle)
	assert.Equal(t, 1, result.Rankings[0].Position)
	assert.Equal(t, "mid", result.Rankings[1].Handle)
	assert.Equal(t, "low", result.Rankings[2].Handle)
	assert.Equal(t, 3, result.Rankings[2].Position)
}

func TestRankings_Empty(t *testing.T) {
	app := newTestApp(t)

	rec := app.do(http.MethodGet, "/api/rankings/", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "No users with linked Codeforces accounts", body["message"])
	assert.Equal(t, float64(0), body["totalUsers"])
}

func TestRankingsTop(t *testing.T) {
	app := newTestApp(t)
	for handle, rating := range map[string]int{"low": 1200, "high": 2400, "mid": 1800} {
		app.serveCF(handle, rating)
		rec := app.do(http.MethodPost, "/api/users/add-user", `{"codeforcesHandle":"`+handle+`"}`)
		require.Equal(t, http.StatusCreated, rec.Code)
	}

	rec := app.do(http.MethodGet, "/api/rankings/top?limit=2", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var result struct {
		Rankings []struct {
			Handle string `json:"handle"`
		} `json:"rankings"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	require.Len(t, result.Rankings, 2)
	assert.Equal(t, "high", result.Rankings[0].Handle)
	assert.Equal(t, "mid", result.Rankings[1].Handle)
}
