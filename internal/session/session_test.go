package session

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/obouchta/cf-rankings/internal/repository/sqlite"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	db, err := sqlite.New(":memory:")
	if err != nil {
		t.Fatalf("opening in-memory database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewManager(db, false)
}

// sessionCookie digs the session cookie out of a recorded response.
func sessionCookie(t *testing.T, rec *httptest.ResponseRecorder) *http.Cookie {
	t.Helper()
	for _, c := range rec.Result().Cookies() {
		if c.Name == CookieName {
			return c
		}
	}
	t.Fatal("response set no session cookie")
	return nil
}

func TestStartCreatesSessionAndCookie(t *testing.T) {
	m := newTestManager(t)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/auth/42/login", nil)

	s, err := m.Start(rec, req)
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if s.ID == "" {
		t.Fatal("Start() returned session with empty ID")
	}
	if s.Authenticated() {
		t.Error("fresh session must not be authenticated")
	}

	c := sessionCookie(t, rec)
	if c.Value != s.ID {
		t.Errorf("cookie value = %q, want session id %q", c.Value, s.ID)
	}
	if !c.HttpOnly {
		t.Error("session cookie must be HttpOnly")
	}
	if c.SameSite != http.SameSiteLaxMode {
		t.Errorf("SameSite = %v, want Lax", c.SameSite)
	}
}

func TestStartReusesExistingSession(t *testing.T) {
	m := newTestManager(t)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	first, err := m.Start(rec, req)
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	again := httptest.NewRequest(http.MethodGet, "/", nil)
	again.AddCookie(&http.Cookie{Name: CookieName, Value: first.ID})
	second, err := m.Start(httptest.NewRecorder(), again)
	if err != nil {
		t.Fatalf("second Start() error = %v", err)
	}
	if second.ID != first.ID {
		t.Errorf("Start() created a new session %q, want reuse of %q", second.ID, first.ID)
	}
}

func TestCurrent(t *testing.T) {
	m := newTestManager(t)

	// No cookie at all.
	if _, err := m.Current(httptest.NewRequest(http.MethodGet, "/", nil)); err != ErrNoSession {
		t.Errorf("Current() without cookie = %v, want ErrNoSession", err)
	}

	// Unknown session id.
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: CookieName, Value: "unknown"})
	if _, err := m.Current(req); err != ErrNoSession {
		t.Errorf("Current() with unknown id = %v, want ErrNoSession", err)
	}
}

func TestCurrentRejectsExpiredSession(t *testing.T) {
	m := newTestManager(t)

	rec := httptest.NewRecorder()
	s, err := m.Start(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	// Jump the clock past the session's lifetime.
	m.now = func() time.Time { return time.Now().Add(Lifetime + time.Minute) }

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: CookieName, Value: s.ID})
	if _, err := m.Current(req); err != ErrNoSession {
		t.Errorf("Current() on expired session = %v, want ErrNoSession", err)
	}
}

func TestSavePersistsMutations(t *testing.T) {
	m := newTestManager(t)

	s, err := m.Start(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	s.UserID = "user-1"
	s.OAuthState = "nonce"
	if err := m.Save(context.Background(), s); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: CookieName, Value: s.ID})
	got, err := m.Current(req)
	if err != nil {
		t.Fatalf("Current() error = %v", err)
	}
	if got.UserID != "user-1" || got.OAuthState != "nonce" {
		t.Errorf("reloaded session = %+v", got)
	}
	if !got.Authenticated() {
		t.Error("session with UserID should be authenticated")
	}
}

func TestDestroy(t *testing.T) {
	m := newTestManager(t)

	s, err := m.Start(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/auth/logout", nil)
	req.AddCookie(&http.Cookie{Name: CookieName, Value: s.ID})
	if err := m.Destroy(rec, req); err != nil {
		t.Fatalf("Destroy() error = %v", err)
	}

	// The cookie is expired on the client...
	c := sessionCookie(t, rec)
	if c.MaxAge >= 0 {
		t.Errorf("cookie MaxAge = %d, want negative (expired)", c.MaxAge)
	}

	// ...and the row is gone on the server.
	check := httptest.NewRequest(http.MethodGet, "/", nil)
	check.AddCookie(&http.Cookie{Name: CookieName, Value: s.ID})
	if _, err := m.Current(check); err != ErrNoSession {
		t.Errorf("Current() after Destroy = %v, want ErrNoSession", err)
	}
}

func TestDestroyWithoutSessionIsNoop(t *testing.T) {
	m := newTestManager(t)
	rec := httptest.NewRecorder()
	if err := m.Destroy(rec, httptest.NewRequest(http.MethodPost, "/", nil)); err != nil {
		t.Errorf("Destroy() without a session = %v, want nil", err)
	}
}
