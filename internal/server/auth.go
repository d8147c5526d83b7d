package server

import (
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/cardinal-bot/panel/internal/auth"
)

// SessionMiddleware validates the session cookie and injects the session
// into the request context. An invalid cookie is cleared.
func (s *Server) SessionMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, err := s.gate.Authenticate(r)
		switch {
		case err == nil:
			r = r.WithContext(withSession(r.Context(), claims))
		case !errors.Is(err, auth.ErrNoSession):
			s.gate.Logout(w)
		}
		next.ServeHTTP(w, r)
	})
}

// RequireAuth sends anonymous visitors to the login page, remembering where
// they were going.
func (s *Server) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if SessionFromContext(r.Context()) == nil {
			target := "/login"
			if r.Method == http.MethodGet && r.URL.Path != "/" {
				target += "?next=" + url.QueryEscape(r.URL.RequestURI())
			}
			http.Redirect(w, r, target, http.StatusFound)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// HandleLoginPage renders the login form.
func (s *Server) HandleLoginPage(w http.ResponseWriter, r *http.Request) {
	if !s.gate.Enabled() || SessionFromContext(r.Context()) != nil {
		http.Redirect(w, r, "/", http.StatusFound)
		return
	}
	s.render(w, r, http.StatusOK, "login.html", map[string]any{
		"Next": safeNext(r.URL.Query().Get("next")),
	})
}

// HandleLoginSubmit handles POST /login.
func (s *Server) HandleLoginSubmit(w http.ResponseWriter, r *http.Request) {
	username := strings.TrimSpace(r.FormValue("username"))
	password := r.FormValue("password")
	next := safeNext(r.FormValue("next"))

	if username == "" || password == "" {
		s.render(w, r, http.StatusBadRequest, "login.html", map[string]any{
			"Error": "Please fill in both fields.", "Username": username, "Next": next,
		})
		return
	}

	token, err := s.gate.Login(username, password)
	if err != nil {
		s.logger.Warn("login failed", "username", username, "remote_addr", r.RemoteAddr,
			"request_id", RequestIDFromContext(r.Context()))
		s.render(w, r, http.StatusUnauthorized, "login.html", map[string]any{
			"Error": "Invalid username or password.", "Username": username, "Next": next,
		})
		return
	}
	s.gate.SetSession(w, token)
	s.logger.Info("login", "username", username, slog.String("request_id", RequestIDFromContext(r.Context())))
	http.Redirect(w, r, next, http.StatusFound)
}

// HandleLogout handles POST /logout.
func (s *Server) HandleLogout(w http.ResponseWriter, r *http.Request) {
	s.gate.Logout(w)
	http.Redirect(w, r, "/login", http.StatusFound)
}

// safeNext keeps post-login redirects on this site.
func safeNext(next string) string {
	if next == "" || !strings.HasPrefix(next, "/") || strings.HasPrefix(next, "//") || strings.Contains(next, "\\") {
		return "/"
	}
	return next
}
