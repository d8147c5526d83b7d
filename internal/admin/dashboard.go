package admin

import (
	"net/http"
	"slices"
)

// DashboardPeriods are the selectable windows, in days.
var DashboardPeriods = []int{7, 30, 90, 365}

// HandleDashboard renders the metric cards, charts and feeds for a period.
func (h *Handler) HandleDashboard(w http.ResponseWriter, r *http.Request) {
	g := guildFrom(r.Context())
	days := queryInt(r, "days", DashboardPeriods[0])
	if !slices.Contains(DashboardPeriods, days) {
		days = DashboardPeriods[0]
	}

	ov, err := h.store.Overview(r.Context(), g.ID, days)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	maxDay := 0
	for _, d := range ov.WarningsPerDay {
		maxDay = max(maxDay, d.Count)
	}
	h.render(w, r, http.StatusOK, "dashboard.html", map[string]any{
		"Page":     "dashboard",
		"Overview": ov,
		"Days":     days,
		"Periods":  DashboardPeriods,
		"MaxDay":   maxDay,
	})
}
