package admin

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/cardinal-bot/panel/internal/model"
	"github.com/cardinal-bot/panel/internal/store"
	"github.com/go-chi/chi/v5"
)

// SettingsTabs lists the settings sections in display order.
var SettingsTabs = []string{"general", "automod", "sanctions", "logs"}

const settingsAuditRows = 20

// TierRow is one warning-tier line of the sanctions tab.
type TierRow struct {
	Count    int
	Enabled  bool
	Action   string
	Duration string
}

func tierRows(cfg *model.GuildConfig) []TierRow {
	rows := make([]TierRow, 0, len(model.WarnTierCounts))
	for _, c := range model.WarnTierCounts {
		row := TierRow{Count: c, Action: model.EscalationActs[0], Duration: "1h"}
		if a, ok := cfg.WarnActionFor(c); ok {
			row.Enabled, row.Action, row.Duration = true, a.Action, a.Duration
		}
		rows = append(rows, row)
	}
	return rows
}

// HandleSettings renders a settings tab.
func (h *Handler) HandleSettings(w http.ResponseWriter, r *http.Request) {
	tab := r.URL.Query().Get("tab")
	if !validTab(tab) {
		tab = SettingsTabs[0]
	}
	h.renderSettings(w, r, http.StatusOK, tab, "")
}

func (h *Handler) renderSettings(w http.ResponseWriter, r *http.Request, status int, tab, formErr string) {
	g := guildFrom(r.Context())
	audit, err := h.store.ListAuditLog(r.Context(), g.ID, settingsAuditRows)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	cfg := g.Config
	h.render(w, r, status, "settings.html", map[string]any{
		"Page":          "settings",
		"Tab":           tab,
		"Tabs":          SettingsTabs,
		"Config":        &cfg,
		"Version":       g.ConfigVersion,
		"Tiers":         tierRows(&cfg),
		"Languages":     model.Languages,
		"SpamActions":   model.SpamActions,
		"InviteActions": model.InviteActions,
		"TierActions":   model.EscalationActs,
		"Audit":         audit,
		"FormError":     formErr,
		"SyncEnabled":   h.discord != nil,
	})
}

// HandleSaveSettings applies one settings tab to the guild document.
func (h *Handler) HandleSaveSettings(w http.ResponseWriter, r *http.Request) {
	g := guildFrom(r.Context())
	section := chi.URLParam(r, "section")
	if !validTab(section) {
		h.fail(w, r, fmt.Errorf("%w: settings section %q", store.ErrNotFound, section))
		return
	}
	if err := r.ParseForm(); err != nil {
		h.badRequest(w, r, "form", "malformed form")
		return
	}
	version, err := strconv.ParseInt(r.PostForm.Get("version"), 10, 64)
	if err != nil {
		h.badRequest(w, r, "version", "missing form version")
		return
	}

	patch, err := patchFromForm(section, r.PostForm)
	if err != nil {
		h.renderSettings(w, r, http.StatusBadRequest, section, err.Error())
		return
	}
	updated, err := h.store.UpdateGuildConfigSection(r.Context(), g.ID, version, patch)
	if err != nil {
		var verr *model.ValidationError
		switch {
		case errors.As(err, &verr):
			h.renderSettings(w, r, http.StatusBadRequest, section, verr.Error())
		case store.KindOf(err) == store.KindConflict:
			h.logger.Warn("stale settings form", "guild_id", g.ID, "section", section, "version", version)
			h.renderSettings(w, r, http.StatusConflict, section, userMessage(err))
		default:
			h.fail(w, r, err)
		}
		return
	}

	h.createAuditEntry(r, "settings_saved", g.ID, section,
		fmt.Sprintf("Section %s saved (version %d)", section, updated.ConfigVersion))
	redirectWithNotice(w, r, guildPath(g.ID, "settings"), url.Values{"tab": {section}}, "Settings saved.")
}

func validTab(tab string) bool {
	for _, t := range SettingsTabs {
		if t == tab {
			return true
		}
	}
	return false
}

// patchFromForm builds the section patch from the posted fields. Checkboxes
// are absent when unchecked.
func patchFromForm(section string, form url.Values) (model.ConfigPatch, error) {
	checked := func(key string) bool { return form.Get(key) != "" }
	number := func(key string) (int, error) {
		n, err := strconv.Atoi(strings.TrimSpace(form.Get(key)))
		if err != nil {
			return 0, &model.ValidationError{Field: key, Message: "must be a number"}
		}
		return n, nil
	}

	switch section {
	case "general":
		return &model.GeneralPatch{
			Prefix:    form.Get("prefix"),
			Language:  form.Get("language"),
			ModRole:   strings.TrimSpace(form.Get("mod_role")),
			AdminRole: strings.TrimSpace(form.Get("admin_role")),
			MuteRole:  strings.TrimSpace(form.Get("mute_role")),
		}, nil

	case "automod":
		maxMessages, err := number("spam_max")
		if err != nil {
			return nil, err
		}
		window, err := number("spam_window")
		if err != nil {
			return nil, err
		}
		return &model.AutomodPatch{
			Spam: model.SpamConfig{
				Enabled:     checked("spam_enabled"),
				MaxMessages: maxMessages,
				Window:      window,
				Duplicates:  checked("spam_duplicates"),
				Action:      form.Get("spam_action"),
			},
			Invites: model.InviteConfig{
				Enabled:     checked("invites_enabled"),
				AllowServer: checked("invites_allow_server"),
				Action:      form.Get("invites_action"),
			},
			BadWords: model.BadWordsConfig{
				Enabled:   checked("badwords_enabled"),
				Words:     model.SplitWords(form.Get("badwords_words")),
				LeetSpeak: checked("badwords_leet"),
				WholeWord: checked("badwords_whole"),
			},
		}, nil

	case "sanctions":
		p := &model.SanctionsPatch{WarnActions: []model.WarnAction{}}
		for _, c := range model.WarnTierCounts {
			prefix := fmt.Sprintf("tier_%d_", c)
			if !checked(prefix + "enabled") {
				continue
			}
			p.WarnActions = append(p.WarnActions, model.WarnAction{
				Count:    c,
				Action:   form.Get(prefix + "action"),
				Duration: strings.TrimSpace(form.Get(prefix + "duration")),
			})
		}
		days, err := number("decay_days")
		if err != nil {
			return nil, err
		}
		p.WarnDecay = model.WarnDecay{Enabled: checked("decay_enabled"), Days: days}
		return p, nil

	case "logs":
		return &model.LogsPatch{Logs: model.LogsConfig{
			Channel:        strings.TrimSpace(form.Get("channel")),
			ModChannel:     strings.TrimSpace(form.Get("mod_channel")),
			JoinChannel:    strings.TrimSpace(form.Get("join_channel")),
			MessageChannel: strings.TrimSpace(form.Get("message_channel")),
			LogWarnings:    checked("log_warnings"),
			LogSanctions:   checked("log_sanctions"),
			LogJoins:       checked("log_joins"),
			LogMessages:    checked("log_messages"),
			LogEdits:       checked("log_edits"),
			LogVoice:       checked("log_voice"),
		}}, nil
	}
	return nil, fmt.Errorf("unknown section %q", section)
}
