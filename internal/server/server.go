package server

import (
	"context"
	"html/template"
	"io/fs"
	"log/slog"
	"net/http"
	"time"

	"github.com/cardinal-bot/panel/internal/admin"
	"github.com/cardinal-bot/panel/internal/auth"
	"github.com/cardinal-bot/panel/internal/config"
	"github.com/cardinal-bot/panel/internal/store"
	"github.com/go-chi/chi/v5"
)

// Config holds server configuration.
type Config struct {
	ListenAddr    string
	BaseURL       string
	SessionSecret string
	Secure        bool
	Pagination    config.PaginationConfig
	RateLimits    RateLimiterConfig
}

// Server is the HTTP server of the moderation panel.
type Server struct {
	config    Config
	store     store.Store
	gate      *auth.Gate
	templates *template.Template
	rl        *RateLimiter
	router    chi.Router
	staticFS  fs.FS
	logger    *slog.Logger
	escalator admin.Escalator
	discord   admin.DiscordClient
}

// NewServer parses the templates and builds the router.
func NewServer(cfg Config, s store.Store, gate *auth.Gate, templatesFS fs.FS, staticFS fs.FS, logger *slog.Logger) (*Server, error) {
	tmpl, err := admin.ParseTemplates(templatesFS)
	if err != nil {
		return nil, err
	}
	if cfg.RateLimits == (RateLimiterConfig{}) {
		cfg.RateLimits = DefaultRateLimiterConfig()
	}
	srv := &Server{
		config:    cfg,
		store:     s,
		gate:      gate,
		templates: tmpl,
		rl:        NewRateLimiter(cfg.RateLimits),
		staticFS:  staticFS,
		logger:    logger,
	}
	srv.router = srv.routes()
	return srv, nil
}

// SetEscalator configures warning-tier evaluation. Call before Handler.
func (s *Server) SetEscalator(e admin.Escalator) {
	s.escalator = e
	s.router = s.routes()
}

// SetDiscord configures the Discord API client used for guild sync and
// member lookups. Call before Handler.
func (s *Server) SetDiscord(c admin.DiscordClient) {
	s.discord = c
	s.router = s.routes()
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(s.logger))
	r.Use(RecoveryMiddleware(s.logger))
	r.Use(SecurityHeadersMiddleware)
	r.Use(s.rl.Middleware("general", s.config.RateLimits.GeneralRequestsPerMin))
	r.Use(CSRFMiddleware([]byte(s.config.SessionSecret), s.config.Secure))
	r.Use(s.SessionMiddleware)

	r.Handle("/static/*", http.StripPrefix("/static/", http.FileServer(http.FS(s.staticFS))))
	r.Get("/healthz", s.HandleHealth)
	r.Get("/login", s.HandleLoginPage)
	r.With(s.rl.Middleware("login", s.config.RateLimits.LoginAttemptsPerMin)).Post("/login", s.HandleLoginSubmit)

	r.Group(func(r chi.Router) {
		r.Use(s.RequireAuth)
		r.Post("/logout", s.HandleLogout)

		ah := admin.NewHandler(s.store, s.templates, ActorFromContext, CSRFTokenFromContext, admin.Options{
			Pagination:  s.config.Pagination,
			Logger:      s.logger,
			AuthEnabled: s.gate.Enabled(),
		})
		if s.escalator != nil {
			ah.SetEscalator(s.escalator)
		}
		if s.discord != nil {
			ah.SetDiscord(s.discord)
		}

		r.Get("/", ah.HandleIndex)
		r.Get("/guilds", ah.HandleGuilds)
		r.Route("/guilds/{guildID}", func(r chi.Router) {
			r.Use(ah.GuildContext)
			r.Get("/", ah.HandleGuildHome)
			r.Get("/dashboard", ah.HandleDashboard)

			r.Get("/moderation", ah.HandleModeration)
			r.Post("/warnings", ah.HandleCreateWarning)
			r.Post("/warnings/delete", ah.HandleDeleteWarnings)
			r.Post("/sanctions", ah.HandleCreateSanction)
			r.Post("/sanctions/{sanctionID}/deactivate", ah.HandleDeactivateSanction)
			r.Post("/sanctions/{sanctionID}/delete", ah.HandleDeleteSanction)

			r.Get("/users", ah.HandleUsers)

			r.Get("/settings", ah.HandleSettings)
			r.Post("/settings/{section}", ah.HandleSaveSettings)
			r.Post("/sync", ah.HandleSync)

			r.Get("/logs", ah.HandleLogs)
			r.Get("/logs.csv", ah.HandleLogsCSV)
			r.Get("/metrics", ah.HandleMetrics)
		})
	})

	return r
}

// Handler returns the HTTP handler for the server.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Stop cleans up server resources.
func (s *Server) Stop() {
	s.rl.Stop()
}

// HandleHealth reports whether the database answers.
func (s *Server) HandleHealth(w http.ResponseWriter, r *http.Request) {
	pinger, ok := s.store.(interface{ Ping(context.Context) error })
	if ok {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := pinger.Ping(ctx); err != nil {
			s.logger.Error("health check", "error", err)
			http.Error(w, "database unavailable", http.StatusServiceUnavailable)
			return
		}
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Write([]byte("ok"))
}

// render executes a template with common data.
func (s *Server) render(w http.ResponseWriter, r *http.Request, status int, name string, data map[string]any) {
	if data == nil {
		data = make(map[string]any)
	}
	data["Session"] = SessionFromContext(r.Context())
	data["CSRFToken"] = CSRFTokenFromContext(r.Context())
	data["AuthEnabled"] = s.gate.Enabled()

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := s.templates.ExecuteTemplate(w, name, data); err != nil {
		s.logger.Error("render template", "template", name, "error", err)
	}
}
