package server

import (
	"bytes"
	"context"
	"database/sql"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/cardinal-bot/panel/internal/auth"
	"github.com/cardinal-bot/panel/internal/config"
	"github.com/cardinal-bot/panel/internal/escalation"
	"github.com/cardinal-bot/panel/internal/store"
	_ "modernc.org/sqlite"
)

const testGuildID = "310000000000000001"

type testServer struct {
	srv  *Server
	logs *bytes.Buffer
}

func newTestServer(t *testing.T, authEnabled bool) *testServer {
	t.Helper()
	path := filepath.Join(t.TempDir(), "panel.db")
	st, err := store.NewSQLiteStore(context.Background(), path)
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	if _, err := db.Exec(`INSERT INTO guilds (id, name) VALUES (?, 'Lounge')`, testGuildID); err != nil {
		t.Fatalf("seed guild: %v", err)
	}
	if _, err := db.Exec(`INSERT INTO warnings (guild_id, user_id, moderator_id, reason) VALUES (?, '175928847299117063', 'mod', 'spam')`, testGuildID); err != nil {
		t.Fatalf("seed warning: %v", err)
	}

	gate, err := auth.New(config.AuthConfig{
		Enabled:       authEnabled,
		Username:      "admin",
		Password:      "hunter22",
		SessionSecret: "test-secret",
		SessionExpiry: time.Hour,
	}, false)
	if err != nil {
		t.Fatalf("auth.New: %v", err)
	}

	var logs bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logs, nil))
	srv, err := NewServer(Config{SessionSecret: "test-secret"}, st, gate,
		os.DirFS("../../templates"), os.DirFS("../../static"), logger)
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	srv.SetEscalator(escalation.NewEngine(st, logger))
	t.Cleanup(srv.Stop)
	return &testServer{srv: srv, logs: &logs}
}

func (ts *testServer) do(req *http.Request, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	for _, c := range cookies {
		req.AddCookie(c)
	}
	rec := httptest.NewRecorder()
	ts.srv.Handler().ServeHTTP(rec, req)
	return rec
}

func findCookie(rec *httptest.ResponseRecorder, name string) *http.Cookie {
	for _, c := range rec.Result().Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}

// csrf fetches a page to obtain a CSRF cookie; the cookie value doubles as
// the form token.
func (ts *testServer) csrf(t *testing.T) *http.Cookie {
	t.Helper()
	rec := ts.do(httptest.NewRequest(http.MethodGet, "/healthz", nil))
	c := findCookie(rec, csrfCookieName)
	if c == nil {
		t.Fatal("no CSRF cookie issued")
	}
	return c
}

func postForm(target string, form url.Values) *http.Request {
	req := httptest.NewRequest(http.MethodPost, target, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return req
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t, true)
	rec := ts.do(httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK || rec.Body.String() != "ok" {
		t.Errorf("got %d %q", rec.Code, rec.Body.String())
	}
}

func TestRequireAuth(t *testing.T) {
	ts := newTestServer(t, true)

	tests := []struct {
		target string
		want   string
	}{
		{"/", "/login"},
		{"/guilds/" + testGuildID + "/users?band=with", "/login?next=" + url.QueryEscape("/guilds/"+testGuildID+"/users?band=with")},
	}
	for _, tt := range tests {
		rec := ts.do(httptest.NewRequest(http.MethodGet, tt.target, nil))
		if rec.Code != http.StatusFound || rec.Header().Get("Location") != tt.want {
			t.Errorf("%s: got %d %q, want %q", tt.target, rec.Code, rec.Header().Get("Location"), tt.want)
		}
	}
}

func TestLoginFlow(t *testing.T) {
	ts := newTestServer(t, true)

	rec := ts.do(httptest.NewRequest(http.MethodGet, "/login?next=//evil.example", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("login page status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `name="next" value="/"`) {
		t.Error("external next not replaced")
	}

	csrf := ts.csrf(t)
	form := url.Values{"username": {"admin"}, "password": {"wrong"}, "csrf_token": {csrf.Value}}
	rec = ts.do(postForm("/login", form), csrf)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("bad password status = %d", rec.Code)
	}
	if findCookie(rec, auth.CookieName) != nil {
		t.Error("session cookie set on failed login")
	}

	rec = ts.do(postForm("/login", url.Values{"username": {"admin"}, "password": {"hunter22"}}), csrf)
	if rec.Code != http.StatusForbidden {
		t.Errorf("missing CSRF token status = %d", rec.Code)
	}

	form.Set("password", "hunter22")
	form.Set("next", "/guilds/"+testGuildID+"/moderation")
	rec = ts.do(postForm("/login", form), csrf)
	if rec.Code != http.StatusFound || rec.Header().Get("Location") != "/guilds/"+testGuildID+"/moderation" {
		t.Fatalf("login: got %d %q", rec.Code, rec.Header().Get("Location"))
	}
	session := findCookie(rec, auth.CookieName)
	if session == nil {
		t.Fatal("no session cookie")
	}

	rec = ts.do(httptest.NewRequest(http.MethodGet, "/guilds/"+testGuildID+"/moderation", nil), session)
	if rec.Code != http.StatusOK {
		t.Fatalf("moderation status = %d", rec.Code)
	}
	if body := rec.Body.String(); !strings.Contains(body, "spam") || !strings.Contains(body, "Log out") {
		t.Errorf("moderation page missing content")
	}

	csrf = findCookie(rec, csrfCookieName)
	rec = ts.do(postForm("/logout", url.Values{"csrf_token": {csrf.Value}}), session, csrf)
	if rec.Code != http.StatusFound || rec.Header().Get("Location") != "/login" {
		t.Errorf("logout: got %d %q", rec.Code, rec.Header().Get("Location"))
	}
	if c := findCookie(rec, auth.CookieName); c == nil || c.MaxAge >= 0 {
		t.Errorf("session cookie not cleared: %+v", c)
	}
}

func TestInvalidSessionCookieIsCleared(t *testing.T) {
	ts := newTestServer(t, true)
	rec := ts.do(httptest.NewRequest(http.MethodGet, "/", nil), &http.Cookie{Name: auth.CookieName, Value: "garbage"})
	if rec.Code != http.StatusFound {
		t.Errorf("status = %d", rec.Code)
	}
	if c := findCookie(rec, auth.CookieName); c == nil || c.MaxAge >= 0 {
		t.Errorf("cookie = %+v, want cleared", c)
	}
}

func TestAuthDisabled(t *testing.T) {
	ts := newTestServer(t, false)

	rec := ts.do(httptest.NewRequest(http.MethodGet, "/login", nil))
	if rec.Code != http.StatusFound || rec.Header().Get("Location") != "/" {
		t.Errorf("login page: got %d %q", rec.Code, rec.Header().Get("Location"))
	}
	rec = ts.do(httptest.NewRequest(http.MethodGet, "/", nil))
	if want := "/guilds/" + testGuildID + "/dashboard"; rec.Header().Get("Location") != want {
		t.Errorf("index redirect = %q, want %q", rec.Header().Get("Location"), want)
	}
}

func TestPagesRender(t *testing.T) {
	ts := newTestServer(t, false)
	base := "/guilds/" + testGuildID
	pages := []string{
		"/guilds",
		base + "/dashboard",
		base + "/dashboard?days=30",
		base + "/moderation",
		base + "/moderation?tab=sanctions",
		base + "/moderation?tab=search&user=175928847299117063",
		base + "/users",
		base + "/settings",
		base + "/settings?tab=automod",
		base + "/settings?tab=sanctions",
		base + "/settings?tab=logs",
		base + "/logs?period=all",
	}
	for _, p := range pages {
		t.Run(p, func(t *testing.T) {
			ts.logs.Reset()
			rec := ts.do(httptest.NewRequest(http.MethodGet, p, nil))
			if rec.Code != http.StatusOK {
				t.Fatalf("status = %d", rec.Code)
			}
			if strings.Contains(ts.logs.String(), "render template") {
				t.Errorf("template error: %s", ts.logs.String())
			}
			if !strings.Contains(rec.Body.String(), "</html>") {
				t.Error("page truncated")
			}
		})
	}

	rec := ts.do(httptest.NewRequest(http.MethodGet, base+"/nope", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown page status = %d", rec.Code)
	}
	rec = ts.do(httptest.NewRequest(http.MethodGet, "/guilds/404/dashboard", nil))
	if rec.Code != http.StatusNotFound || !strings.Contains(rec.Body.String(), "Not found.") {
		t.Errorf("unknown guild: %d", rec.Code)
	}
}

func TestStaticAssets(t *testing.T) {
	ts := newTestServer(t, false)
	rec := ts.do(httptest.NewRequest(http.MethodGet, "/static/style.css", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d", rec.Code)
	}
}

func TestLogsAutoRefresh(t *testing.T) {
	ts := newTestServer(t, false)
	base := "/guilds/" + testGuildID + "/logs"
	const meta = `<meta http-equiv="refresh" content="30">`

	rec := ts.do(httptest.NewRequest(http.MethodGet, base+"?period=7d", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if body := rec.Body.String(); strings.Contains(body, meta) || strings.Contains(body, "checked") {
		t.Error("refresh enabled without toggle")
	}

	rec = ts.do(httptest.NewRequest(http.MethodGet, base+"?period=7d&refresh=1", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	body := rec.Body.String()
	if !strings.Contains(body, meta) {
		t.Error("refresh meta missing")
	}
	if !strings.Contains(body, "data-auto-submit checked") {
		t.Error("toggle not checked")
	}
	if strings.Contains(body, "logs.csv?period=7d&amp;refresh") || strings.Contains(body, "logs.csv?period=7d&refresh") {
		t.Error("CSV link carries refresh flag")
	}
}
