// Package auth guards the panel behind one shared credential. A successful
// login yields a signed, time-boxed session token carried in a cookie.
package auth

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/cardinal-bot/panel/internal/config"
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

const (
	CookieName = "panel_session"
	issuer     = "cardinal-panel"
)

var (
	ErrInvalidCredentials = errors.New("invalid username or password")
	ErrNoSession          = errors.New("no session")
)

type Claims struct {
	Username string `json:"username"`
	jwt.RegisteredClaims
}

type Gate struct {
	enabled  bool
	username string
	hash     []byte
	secret   []byte
	expiry   time.Duration
	secure   bool
	now      func() time.Time
}

// New builds a Gate from cfg. A plaintext password is hashed once here so
// every comparison goes through bcrypt.
func New(cfg config.AuthConfig, secure bool) (*Gate, error) {
	g := &Gate{
		enabled:  cfg.Enabled,
		username: cfg.Username,
		secret:   []byte(cfg.SessionSecret),
		expiry:   cfg.SessionExpiry,
		secure:   secure,
		now:      time.Now,
	}
	if !g.enabled {
		return g, nil
	}
	if len(g.secret) == 0 {
		return nil, errors.New("auth: session secret is empty")
	}
	switch {
	case cfg.PasswordHash != "":
		if _, err := bcrypt.Cost([]byte(cfg.PasswordHash)); err != nil {
			return nil, fmt.Errorf("auth: password_hash: %w", err)
		}
		g.hash = []byte(cfg.PasswordHash)
	case cfg.Password != "":
		hash, err := HashPassword(cfg.Password)
		if err != nil {
			return nil, err
		}
		g.hash = []byte(hash)
	default:
		return nil, errors.New("auth: no password configured")
	}
	return g, nil
}

func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hashing password: %w", err)
	}
	return string(hash), nil
}

// Enabled reports whether logins are required at all.
func (g *Gate) Enabled() bool { return g.enabled }

// Login checks the credential and returns a session token.
func (g *Gate) Login(username, password string) (string, error) {
	if !g.enabled {
		return "", nil
	}
	userOK := subtle.ConstantTimeCompare([]byte(username), []byte(g.username)) == 1
	passOK := bcrypt.CompareHashAndPassword(g.hash, []byte(password)) == nil
	if !userOK || !passOK {
		return "", ErrInvalidCredentials
	}
	now := g.now()
	claims := Claims{
		Username: username,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(g.expiry)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(g.secret)
}

// Check validates a session token. With the gate disabled every caller is
// authenticated.
func (g *Gate) Check(token string) (*Claims, error) {
	if !g.enabled {
		return &Claims{Username: g.username}, nil
	}
	if token == "" {
		return nil, ErrNoSession
	}
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return g.secret, nil
	}, jwt.WithIssuer(issuer), jwt.WithTimeFunc(g.now), jwt.WithExpirationRequired())
	if err != nil {
		return nil, err
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, errors.New("invalid token")
	}
	return claims, nil
}

// Authenticate reads the session cookie of r.
func (g *Gate) Authenticate(r *http.Request) (*Claims, error) {
	var token string
	if c, err := r.Cookie(CookieName); err == nil {
		token = c.Value
	}
	return g.Check(token)
}

// SetSession stores token in the session cookie.
func (g *Gate) SetSession(w http.ResponseWriter, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    token,
		Path:     "/",
		Expires:  g.now().Add(g.expiry),
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
		Secure:   g.secure,
	})
}

// Logout clears the session cookie.
func (g *Gate) Logout(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
		Secure:   g.secure,
	})
}
