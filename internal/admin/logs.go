package admin

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"html/template"
	"net/http"
	"strconv"
	"strings"

	"github.com/cardinal-bot/panel/internal/escalation"
	"github.com/cardinal-bot/panel/internal/model"
	"github.com/cardinal-bot/panel/internal/store"
)

// LogPeriods are the logs page time filters in display order.
var LogPeriods = []store.Period{store.PeriodToday, store.Period7d, store.Period30d, store.PeriodAll}

// logsRefreshSeconds is the reload interval when auto-refresh is on.
const logsRefreshSeconds = 30

func logFilter(r *http.Request, guildID string) store.LogFilter {
	q := r.URL.Query()
	period := store.Period(q.Get("period"))
	if period == "" {
		period = store.Period7d
	}
	action := q.Get("action")
	if action == "all" {
		action = ""
	}
	return store.LogFilter{
		GuildID:     guildID,
		Action:      action,
		Period:      period,
		ModeratorID: strings.TrimSpace(q.Get("moderator")),
		UserID:      strings.TrimSpace(q.Get("user")),
		Limit:       store.MaxListRows,
	}
}

// HandleLogs renders the filtered moderation log.
func (h *Handler) HandleLogs(w http.ResponseWriter, r *http.Request) {
	g := guildFrom(r.Context())
	f := logFilter(r, g.ID)
	entries, err := h.store.ModerationLog(r.Context(), f)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	refresh := 0
	if r.URL.Query().Get("refresh") == "1" {
		refresh = logsRefreshSeconds
	}
	h.render(w, r, http.StatusOK, "logs.html", map[string]any{
		"Page":        "logs",
		"AutoRefresh": refresh,
		"Entries":     entries,
		"Filter":      f,
		"Periods":     LogPeriods,
		"Actions":     model.SanctionTypes,
		"CSVURL":      csvURL(g.ID, r),
		"RowsLimit":   store.MaxListRows,
	})
}

func csvURL(guildID string, r *http.Request) template.URL {
	u := guildPath(guildID, "logs.csv")
	if q := r.URL.Query(); len(q) > 0 {
		q.Del("notice")
		q.Del("refresh")
		u += "?" + q.Encode()
	}
	return template.URL(u)
}

// HandleLogsCSV exports the same rows as the logs page.
func (h *Handler) HandleLogsCSV(w http.ResponseWriter, r *http.Request) {
	g := guildFrom(r.Context())
	entries, err := h.store.ModerationLog(r.Context(), logFilter(r, g.ID))
	if err != nil {
		h.fail(w, r, err)
		return
	}

	name := fmt.Sprintf("logs_%s_%s.csv", g.ID, h.now().UTC().Format("20060102"))
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, name))
	if err := writeLogCSV(w, entries); err != nil {
		h.logger.Error("write logs csv", "guild_id", g.ID, "error", err)
	}
}

var logCSVHeader = []string{"date", "kind", "action", "user_id", "username", "moderator_id", "reason", "duration", "active"}

func writeLogCSV(w http.ResponseWriter, entries []*model.ActivityEntry) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(logCSVHeader); err != nil {
		return err
	}
	for _, e := range entries {
		duration := ""
		if e.Duration != "" {
			duration = escalation.HumanizeStored(e.Duration)
		}
		if err := cw.Write([]string{
			e.CreatedAt.UTC().Format("2006-01-02 15:04:05"),
			string(e.Kind),
			e.Action,
			e.UserID,
			e.Username,
			e.ModeratorID,
			e.Reason,
			duration,
			strconv.FormatBool(e.Active),
		}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// HandleMetrics answers a metric query as JSON for chart widgets.
func (h *Handler) HandleMetrics(w http.ResponseWriter, r *http.Request) {
	g := guildFrom(r.Context())
	q := r.URL.Query()
	mq, err := store.ParseMetricQuery(g.ID, q.Get("metric"), q.Get("group"), queryInt(r, "window", 30), queryInt(r, "limit", 10))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	res, err := h.store.Metrics(r.Context(), mq)
	if err != nil {
		status := statusFor(err)
		attrs := []any{"guild_id", g.ID, "metric", mq.Metric, "kind", store.KindOf(err).String(), "error", err}
		if status >= http.StatusInternalServerError {
			h.logger.Error("metrics query", attrs...)
		} else {
			h.logger.Warn("metrics query rejected", attrs...)
		}
		writeJSON(w, status, map[string]string{"error": userMessage(err)})
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
