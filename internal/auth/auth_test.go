package auth

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/cardinal-bot/panel/internal/config"
	"golang.org/x/crypto/bcrypt"
)

func testConfig() config.AuthConfig {
	return config.AuthConfig{
		Enabled:       true,
		Username:      "admin",
		Password:      "s3cret",
		SessionSecret: "test-secret-key-for-sessions!!",
		SessionExpiry: 24 * time.Hour,
	}
}

func TestLogin(t *testing.T) {
	g, err := New(testConfig(), false)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	tests := []struct {
		name     string
		user     string
		pass     string
		wantFail bool
	}{
		{"valid", "admin", "s3cret", false},
		{"wrong password", "admin", "nope", true},
		{"wrong user", "root", "s3cret", true},
		{"empty", "", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			token, err := g.Login(tt.user, tt.pass)
			if tt.wantFail {
				if !errors.Is(err, ErrInvalidCredentials) {
					t.Errorf("err = %v, want ErrInvalidCredentials", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Login: %v", err)
			}
			claims, err := g.Check(token)
			if err != nil {
				t.Fatalf("Check: %v", err)
			}
			if claims.Username != "admin" {
				t.Errorf("username = %q", claims.Username)
			}
		})
	}
}

func TestCheck_Expiry(t *testing.T) {
	g, err := New(testConfig(), false)
	if err != nil {
		t.Fatal(err)
	}
	start := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	g.now = func() time.Time { return start }
	token, err := g.Login("admin", "s3cret")
	if err != nil {
		t.Fatal(err)
	}

	g.now = func() time.Time { return start.Add(23 * time.Hour) }
	if _, err := g.Check(token); err != nil {
		t.Errorf("token rejected before expiry: %v", err)
	}
	g.now = func() time.Time { return start.Add(25 * time.Hour) }
	if _, err := g.Check(token); err == nil {
		t.Error("expired token accepted")
	}
}

func TestCheck_Rejects(t *testing.T) {
	g, _ := New(testConfig(), false)
	token, _ := g.Login("admin", "s3cret")

	other := testConfig()
	other.SessionSecret = "a-different-secret-entirely!!"
	g2, _ := New(other, false)

	for name, tok := range map[string]string{
		"empty":          "",
		"garbage":        "not.a.token",
		"foreign secret": token,
	} {
		t.Run(name, func(t *testing.T) {
			if _, err := g2.Check(tok); err == nil {
				t.Error("token accepted")
			}
		})
	}
}

func TestDisabled(t *testing.T) {
	cfg := testConfig()
	cfg.Enabled = false
	cfg.Password = ""
	g, err := New(cfg, false)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if _, err := g.Authenticate(req); err != nil {
		t.Errorf("disabled gate refused request: %v", err)
	}
}

func TestNew_PasswordHash(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("from-hash"), bcrypt.MinCost)
	if err != nil {
		t.Fatal(err)
	}
	cfg := testConfig()
	cfg.Password = "ignored"
	cfg.PasswordHash = string(hash)
	g, err := New(cfg, false)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := g.Login("admin", "from-hash"); err != nil {
		t.Errorf("hash login: %v", err)
	}
	if _, err := g.Login("admin", "ignored"); err == nil {
		t.Error("plaintext password used despite hash")
	}

	cfg.PasswordHash = "not-bcrypt"
	if _, err := New(cfg, false); err == nil {
		t.Error("expected error for malformed hash")
	}
}

func TestSessionCookie(t *testing.T) {
	g, _ := New(testConfig(), true)
	token, _ := g.Login("admin", "s3cret")

	rec := httptest.NewRecorder()
	g.SetSession(rec, token)
	cookies := rec.Result().Cookies()
	if len(cookies) != 1 || cookies[0].Name != CookieName || !cookies[0].HttpOnly || !cookies[0].Secure {
		t.Fatalf("cookies = %+v", cookies)
	}

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(cookies[0])
	if _, err := g.Authenticate(req); err != nil {
		t.Errorf("Authenticate: %v", err)
	}

	rec = httptest.NewRecorder()
	g.Logout(rec)
	if c := rec.Result().Cookies(); len(c) != 1 || c[0].MaxAge >= 0 {
		t.Errorf("logout cookie = %+v", c)
	}

	if _, err := g.Authenticate(httptest.NewRequest(http.MethodGet, "/", nil)); !errors.Is(err, ErrNoSession) {
		t.Errorf("no cookie err = %v, want ErrNoSession", err)
	}
}
