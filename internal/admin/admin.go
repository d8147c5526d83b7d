// Package admin serves the moderation panel pages of one guild.
package admin

import (
	"context"
	"errors"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/cardinal-bot/panel/internal/config"
	"github.com/cardinal-bot/panel/internal/discord"
	"github.com/cardinal-bot/panel/internal/escalation"
	"github.com/cardinal-bot/panel/internal/model"
	"github.com/cardinal-bot/panel/internal/store"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

// ActorFunc extracts the panel user name from a context.
type ActorFunc func(ctx context.Context) string

// CSRFFunc extracts the CSRF token from a context.
type CSRFFunc func(ctx context.Context) string

// Escalator evaluates and applies warning tiers.
type Escalator interface {
	Evaluate(ctx context.Context, guildID, userID string) (*escalation.Status, error)
	Escalate(ctx context.Context, guildID, userID, moderatorID string) (int64, *model.WarnAction, error)
}

// DiscordClient reads live guild and member data.
type DiscordClient interface {
	GetGuild(ctx context.Context, guildID string) (*discord.Guild, error)
	GetMember(ctx context.Context, guildID, userID string) (*discord.Member, error)
}

// Options tunes a Handler. Zero values fall back to defaults.
type Options struct {
	Pagination  config.PaginationConfig
	Logger      *slog.Logger
	AuthEnabled bool
}

// Handler holds dependencies for the guild pages.
type Handler struct {
	store       store.Store
	templates   *template.Template
	getActor    ActorFunc
	getCSRF     CSRFFunc
	escalator   Escalator
	discord     DiscordClient
	pagination  config.PaginationConfig
	logger      *slog.Logger
	authEnabled bool
	now         func() time.Time
}

// NewHandler creates a Handler.
func NewHandler(s store.Store, tmpl *template.Template, getActor ActorFunc, getCSRF CSRFFunc, opts Options) *Handler {
	p := opts.Pagination
	if p.DefaultPageSize <= 0 {
		p.DefaultPageSize = 20
	}
	if p.MaxPageSize <= 0 {
		p.MaxPageSize = store.MaxListRows
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		store:       s,
		templates:   tmpl,
		getActor:    getActor,
		getCSRF:     getCSRF,
		pagination:  p,
		logger:      logger,
		authEnabled: opts.AuthEnabled,
		now:         time.Now,
	}
}

// SetEscalator enables tier evaluation on the user search tab and automatic
// sanctions after a warning is created.
func (h *Handler) SetEscalator(e Escalator) {
	h.escalator = e
}

// SetDiscord enables guild sync and live member lookups.
func (h *Handler) SetDiscord(c DiscordClient) {
	h.discord = c
}

type ctxKey int

const ctxKeyGuild ctxKey = iota

// GuildContext loads the guild named by the {guildID} route parameter.
func (h *Handler) GuildContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		g, err := h.store.GetGuild(r.Context(), chi.URLParam(r, "guildID"))
		if err != nil {
			h.fail(w, r, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKeyGuild, g)))
	})
}

func guildFrom(ctx context.Context) *model.Guild {
	g, _ := ctx.Value(ctxKeyGuild).(*model.Guild)
	return g
}

// HandleIndex sends the user to the first guild's dashboard.
func (h *Handler) HandleIndex(w http.ResponseWriter, r *http.Request) {
	guilds, err := h.store.ListGuilds(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if len(guilds) == 0 {
		h.render(w, r, http.StatusOK, "guilds.html", map[string]any{"Guilds": guilds})
		return
	}
	http.Redirect(w, r, guildPath(guilds[0].ID, "dashboard"), http.StatusFound)
}

// HandleGuilds lists every guild the bot has written. The guild selector
// submits here with ?guild= when scripts are off.
func (h *Handler) HandleGuilds(w http.ResponseWriter, r *http.Request) {
	if id := r.URL.Query().Get("guild"); id != "" {
		http.Redirect(w, r, guildPath(id, "dashboard"), http.StatusFound)
		return
	}
	guilds, err := h.store.ListGuilds(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.render(w, r, http.StatusOK, "guilds.html", map[string]any{"Guilds": guilds})
}

// HandleGuildHome redirects to the dashboard.
func (h *Handler) HandleGuildHome(w http.ResponseWriter, r *http.Request) {
	http.Redirect(w, r, guildPath(guildFrom(r.Context()).ID, "dashboard"), http.StatusFound)
}

// --- Helpers ---

func guildPath(guildID, page string) string {
	return "/guilds/" + url.PathEscape(guildID) + "/" + page
}

func (h *Handler) render(w http.ResponseWriter, r *http.Request, status int, name string, data map[string]any) {
	if data == nil {
		data = make(map[string]any)
	}
	data["Actor"] = h.getActor(r.Context())
	data["CSRFToken"] = h.getCSRF(r.Context())
	data["AuthEnabled"] = h.authEnabled
	data["Notice"] = r.URL.Query().Get("notice")
	if g := guildFrom(r.Context()); g != nil {
		data["Guild"] = g
		if _, ok := data["Guilds"]; !ok {
			guilds, err := h.store.ListGuilds(r.Context())
			if err != nil {
				h.logger.Warn("list guilds for selector", "error", err)
			}
			data["Guilds"] = guilds
		}
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := h.templates.ExecuteTemplate(w, name, data); err != nil {
		h.logger.Error("render template", "template", name, "error", err)
	}
}

// statusFor maps a repository failure onto an HTTP status.
func statusFor(err error) int {
	if errors.Is(err, escalation.ErrInvalidDuration) {
		return http.StatusBadRequest
	}
	switch store.KindOf(err) {
	case store.KindNotFound:
		return http.StatusNotFound
	case store.KindConnection:
		return http.StatusServiceUnavailable
	case store.KindValidation:
		return http.StatusBadRequest
	case store.KindConflict:
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

// userMessage is the text shown for err. Internal failures are not echoed.
func userMessage(err error) string {
	var verr *model.ValidationError
	switch {
	case errors.As(err, &verr):
		return verr.Error()
	case errors.Is(err, escalation.ErrInvalidDuration):
		return escalation.ErrInvalidDuration.Error()
	}
	switch store.KindOf(err) {
	case store.KindNotFound:
		return "Not found."
	case store.KindConnection:
		return "The database is unavailable. Try again in a moment."
	case store.KindValidation:
		return "The submitted data was rejected."
	case store.KindConflict:
		return "Someone else changed this in the meantime. Reload and try again."
	}
	return "Something went wrong."
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	attrs := []any{"method", r.Method, "path", r.URL.Path, "kind", store.KindOf(err).String(), "error", err}
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed", attrs...)
	} else {
		h.logger.Warn("request rejected", attrs...)
	}
	h.render(w, r, status, "error.html", map[string]any{
		"Status":  status,
		"Message": userMessage(err),
	})
}

func (h *Handler) badRequest(w http.ResponseWriter, r *http.Request, field, msg string) {
	h.fail(w, r, fmt.Errorf("%w: %w", store.ErrValidation, &model.ValidationError{Field: field, Message: msg}))
}

func (h *Handler) createAuditEntry(r *http.Request, action, guildID, targetID, details string) {
	entry := &model.AuditLogEntry{
		ID:        uuid.New().String(),
		Actor:     h.getActor(r.Context()),
		Action:    action,
		GuildID:   guildID,
		TargetID:  targetID,
		Details:   details,
		CreatedAt: h.now().UTC(),
	}
	if err := h.store.CreateAuditLogEntry(r.Context(), entry); err != nil {
		h.logger.Error("create audit log", "action", action, "error", err)
	}
}

func redirectWithNotice(w http.ResponseWriter, r *http.Request, path string, q url.Values, notice string) {
	if q == nil {
		q = url.Values{}
	}
	if notice != "" {
		q.Set("notice", notice)
	}
	if enc := q.Encode(); enc != "" {
		path += "?" + enc
	}
	http.Redirect(w, r, path, http.StatusSeeOther)
}

func queryInt(r *http.Request, key string, def int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func parseID(s string) (int64, bool) {
	id, err := strconv.ParseInt(s, 10, 64)
	return id, err == nil && id > 0
}
