package admin

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/cardinal-bot/panel/internal/discord"
	"github.com/cardinal-bot/panel/internal/escalation"
	"github.com/cardinal-bot/panel/internal/model"
	"github.com/cardinal-bot/panel/internal/store"
	"github.com/go-chi/chi/v5"
	"golang.org/x/sync/errgroup"
)

// Moderation page tabs.
const (
	tabWarnings  = "warnings"
	tabSanctions = "sanctions"
	tabSearch    = "search"
)

var moderationPageSizes = []int{10, 25, 50, 100}

// UserFile is everything the user search tab shows for one member.
type UserFile struct {
	UserID    string
	User      *model.User
	Member    *discord.Member
	Warnings  []*model.Warning
	Sanctions []*model.Sanction
	Status    *escalation.Status
}

// HandleModeration renders one of the three moderation tabs.
func (h *Handler) HandleModeration(w http.ResponseWriter, r *http.Request) {
	g := guildFrom(r.Context())
	q := r.URL.Query()
	data := map[string]any{
		"Page":          "moderation",
		"SanctionTypes": model.SanctionTypes,
	}

	stats, err := h.store.GetGuildStats(r.Context(), g.ID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	data["Stats"] = stats

	tab := q.Get("tab")
	switch tab {
	case tabSanctions:
		err = h.sanctionsTab(r, g.ID, data)
	case tabSearch:
		err = h.searchTab(r, g.ID, data)
	default:
		tab = tabWarnings
		err = h.warningsTab(r, g.ID, data)
	}
	if err != nil {
		h.fail(w, r, err)
		return
	}
	data["Tab"] = tab
	h.render(w, r, http.StatusOK, "moderation.html", data)
}

func (h *Handler) warningsTab(r *http.Request, guildID string, data map[string]any) error {
	q := r.URL.Query()
	sort := store.WarningSort(q.Get("sort"))
	switch sort {
	case store.SortOldest, store.SortUser:
	default:
		sort = store.SortNewest
	}
	page := h.page(r, moderationPageSizes)
	list, total, err := h.store.SearchWarnings(r.Context(), store.WarningFilter{
		GuildID:   guildID,
		UserQuery: strings.TrimSpace(q.Get("q")),
		Sort:      sort,
		Limit:     page.Size,
		Offset:    page.Offset(),
	})
	if err != nil {
		return err
	}
	page.Total, page.Count = total, len(list)
	data["Warnings"] = list
	data["Pager"] = page
	data["Query"] = q.Get("q")
	data["Sort"] = string(sort)
	return nil
}

func (h *Handler) sanctionsTab(r *http.Request, guildID string, data map[string]any) error {
	q := r.URL.Query()
	f := store.SanctionFilter{
		GuildID:   guildID,
		UserQuery: strings.TrimSpace(q.Get("q")),
	}
	if t := q.Get("type"); t != "" {
		typ, err := model.ParseSanctionType(t)
		if err != nil {
			return fmt.Errorf("%w: %w", store.ErrValidation, &model.ValidationError{Field: "type", Message: err.Error()})
		}
		f.Type = typ
	}
	switch s := store.SanctionStatus(q.Get("status")); s {
	case store.StatusActive, store.StatusInactive:
		f.Status = s
	}
	page := h.page(r, moderationPageSizes)
	f.Limit, f.Offset = page.Size, page.Offset()

	list, total, err := h.store.SearchSanctions(r.Context(), f)
	if err != nil {
		return err
	}
	page.Total, page.Count = total, len(list)
	data["Sanctions"] = list
	data["Pager"] = page
	data["Query"] = q.Get("q")
	data["Type"] = string(f.Type)
	data["Status"] = string(f.Status)
	return nil
}

func (h *Handler) searchTab(r *http.Request, guildID string, data map[string]any) error {
	userID := strings.TrimSpace(r.URL.Query().Get("user"))
	data["UserQuery"] = userID
	if userID == "" {
		return nil
	}
	if !model.ValidSnowflake(userID) {
		data["SearchError"] = "Not a Discord id: expected 17 to 20 digits."
		return nil
	}

	file := &UserFile{UserID: userID}
	eg, ctx := errgroup.WithContext(r.Context())
	eg.Go(func() error {
		u, err := h.store.GetUser(ctx, guildID, userID)
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		file.User = u
		return err
	})
	eg.Go(func() (err error) {
		file.Warnings, err = h.store.ListWarningsByUser(ctx, guildID, userID)
		return err
	})
	eg.Go(func() (err error) {
		file.Sanctions, err = h.store.ListSanctionsByUser(ctx, guildID, userID)
		return err
	})
	if h.escalator != nil {
		eg.Go(func() (err error) {
			file.Status, err = h.escalator.Evaluate(ctx, guildID, userID)
			return err
		})
	}
	if err := eg.Wait(); err != nil {
		return err
	}

	if h.discord != nil {
		m, err := h.discord.GetMember(r.Context(), guildID, userID)
		switch {
		case err == nil:
			file.Member = m
		case !errors.Is(err, discord.ErrNotFound):
			h.logger.Warn("discord member lookup", "guild_id", guildID, "user_id", userID, "error", err)
		}
	}
	data["File"] = file
	return nil
}

// HandleCreateWarning records a warning and applies the tier it reaches.
func (h *Handler) HandleCreateWarning(w http.ResponseWriter, r *http.Request) {
	g := guildFrom(r.Context())
	userID := strings.TrimSpace(r.FormValue("user_id"))
	reason := strings.TrimSpace(r.FormValue("reason"))
	if !model.ValidSnowflake(userID) {
		h.badRequest(w, r, "user_id", "not a Discord id")
		return
	}
	if reason == "" {
		h.badRequest(w, r, "reason", "must not be empty")
		return
	}

	actor := h.getActor(r.Context())
	id, err := h.store.CreateWarning(r.Context(), &model.Warning{
		GuildID:     g.ID,
		UserID:      userID,
		ModeratorID: actor,
		Reason:      reason,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.createAuditEntry(r, "warning_created", g.ID, strconv.FormatInt(id, 10),
		fmt.Sprintf("Warning for %s: %s", userID, reason))

	notice := "Warning added."
	if h.escalator != nil {
		sid, tier, err := h.escalator.Escalate(r.Context(), g.ID, userID, actor)
		switch {
		case err != nil:
			h.logger.Error("apply warning tier", "guild_id", g.ID, "user_id", userID, "error", err)
			notice = "Warning added, but the automatic sanction failed."
		case tier != nil:
			h.createAuditEntry(r, "sanction_created", g.ID, strconv.FormatInt(sid, 10),
				fmt.Sprintf("Automatic %s for %s at %d warnings", tier.Action, userID, tier.Count))
			notice = fmt.Sprintf("Warning added. %d warnings reached: automatic %s.", tier.Count, tier.Action)
		}
	}
	redirectWithNotice(w, r, guildPath(g.ID, "moderation"),
		url.Values{"tab": {tabSearch}, "user": {userID}}, notice)
}

// HandleDeleteWarnings removes the checked warnings.
func (h *Handler) HandleDeleteWarnings(w http.ResponseWriter, r *http.Request) {
	g := guildFrom(r.Context())
	if err := r.ParseForm(); err != nil {
		h.badRequest(w, r, "form", "malformed form")
		return
	}
	var ids []int64
	for _, v := range r.PostForm["id"] {
		id, ok := parseID(v)
		if !ok {
			h.badRequest(w, r, "id", "invalid warning id")
			return
		}
		ids = append(ids, id)
	}
	if len(ids) == 0 {
		h.badRequest(w, r, "id", "select at least one warning")
		return
	}

	n, err := h.store.DeleteWarnings(r.Context(), g.ID, ids...)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.createAuditEntry(r, "warnings_deleted", g.ID, "", fmt.Sprintf("%d warnings deleted: %v", n, ids))
	redirectWithNotice(w, r, guildPath(g.ID, "moderation"), url.Values{"tab": {tabWarnings}},
		fmt.Sprintf("%d warnings deleted.", n))
}

// HandleCreateSanction records a sanction entered by hand.
func (h *Handler) HandleCreateSanction(w http.ResponseWriter, r *http.Request) {
	g := guildFrom(r.Context())
	userID := strings.TrimSpace(r.FormValue("user_id"))
	if !model.ValidSnowflake(userID) {
		h.badRequest(w, r, "user_id", "not a Discord id")
		return
	}
	typ, err := model.ParseSanctionType(r.FormValue("type"))
	if err != nil {
		h.badRequest(w, r, "type", err.Error())
		return
	}

	in := &store.NewSanction{
		GuildID:     g.ID,
		UserID:      userID,
		ModeratorID: h.getActor(r.Context()),
		Type:        typ,
		Reason:      strings.TrimSpace(r.FormValue("reason")),
	}
	if typ == model.SanctionMute || typ == model.SanctionBan {
		raw := r.FormValue("duration")
		d, err := escalation.ParseDuration(raw)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		if typ == model.SanctionMute && d > escalation.MaxMute {
			h.badRequest(w, r, "duration", "mutes are limited to 28 days")
			return
		}
		if in.ExpiresAt, err = escalation.ExpiresAt(h.now(), raw); err != nil {
			h.fail(w, r, err)
			return
		}
		in.Duration = escalation.StoredDuration(d)
	}

	id, err := h.store.CreateSanction(r.Context(), in)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.createAuditEntry(r, "sanction_created", g.ID, strconv.FormatInt(id, 10),
		fmt.Sprintf("%s for %s: %s", typ, userID, in.Reason))
	redirectWithNotice(w, r, guildPath(g.ID, "moderation"),
		url.Values{"tab": {tabSearch}, "user": {userID}}, fmt.Sprintf("Sanction #%d recorded.", id))
}

// HandleDeactivateSanction marks a sanction inactive.
func (h *Handler) HandleDeactivateSanction(w http.ResponseWriter, r *http.Request) {
	h.sanctionAction(w, r, "sanction_deactivated", "Sanction #%d deactivated.", h.store.DeactivateSanction)
}

// HandleDeleteSanction removes a sanction.
func (h *Handler) HandleDeleteSanction(w http.ResponseWriter, r *http.Request) {
	h.sanctionAction(w, r, "sanction_deleted", "Sanction #%d deleted.", h.store.DeleteSanction)
}

func (h *Handler) sanctionAction(w http.ResponseWriter, r *http.Request, action, notice string,
	apply func(ctx context.Context, guildID string, id int64) error) {
	g := guildFrom(r.Context())
	id, ok := parseID(chi.URLParam(r, "sanctionID"))
	if !ok {
		h.badRequest(w, r, "sanction", "invalid sanction id")
		return
	}
	if err := apply(r.Context(), g.ID, id); err != nil {
		h.fail(w, r, err)
		return
	}
	h.createAuditEntry(r, action, g.ID, strconv.FormatInt(id, 10), "")
	redirectWithNotice(w, r, guildPath(g.ID, "moderation"), url.Values{"tab": {tabSanctions}},
		fmt.Sprintf(notice, id))
}
