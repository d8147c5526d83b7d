package admin

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"github.com/cardinal-bot/panel/internal/discord"
	"github.com/cardinal-bot/panel/internal/store"
)

// HandleSync refreshes the guild name from the Discord API.
func (h *Handler) HandleSync(w http.ResponseWriter, r *http.Request) {
	g := guildFrom(r.Context())
	back := guildPath(g.ID, "settings")
	if h.discord == nil {
		redirectWithNotice(w, r, back, nil, "Discord sync is not configured.")
		return
	}

	remote, err := h.discord.GetGuild(r.Context(), g.ID)
	if err != nil {
		var apiErr *discord.APIError
		switch {
		case errors.Is(err, discord.ErrNotFound):
			redirectWithNotice(w, r, back, nil, "The bot cannot see this guild any more.")
		case errors.As(err, &apiErr):
			h.logger.Warn("discord guild sync", "guild_id", g.ID, "status", apiErr.Status, "error", err)
			redirectWithNotice(w, r, back, nil, "Discord refused the request. Try again later.")
		default:
			h.logger.Error("discord guild sync", "guild_id", g.ID, "error", err)
			redirectWithNotice(w, r, back, nil, "Discord is unreachable.")
		}
		return
	}

	if remote.Name != g.Name {
		if err := h.store.UpdateGuildSettings(r.Context(), g.ID, new(store.GuildUpdate).SetName(remote.Name)); err != nil {
			h.fail(w, r, err)
			return
		}
		h.createAuditEntry(r, "guild_synced", g.ID, g.ID, fmt.Sprintf("Name %q -> %q", g.Name, remote.Name))
	}
	redirectWithNotice(w, r, back, url.Values{"tab": {"general"}},
		fmt.Sprintf("Synced: %d members, %d online.", remote.ApproximateMemberCount, remote.ApproximatePresenceCount))
}
