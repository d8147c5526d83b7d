package admin

import (
	"net/http"
	"strings"

	"github.com/cardinal-bot/panel/internal/model"
	"github.com/cardinal-bot/panel/internal/store"
	"golang.org/x/sync/errgroup"
)

var userPageSizes = []int{25, 50, 100}

// Users page watch list: members with at least three warnings ever.
const (
	usersWatchMin    = 3
	usersWatchLimit  = 20
	usersWatchRecent = 5
	joinMonths       = 12
)

// HandleUsers renders the member list, warning statistics and watch list.
func (h *Handler) HandleUsers(w http.ResponseWriter, r *http.Request) {
	g := guildFrom(r.Context())
	q := r.URL.Query()

	band := store.WarningBand(q.Get("band"))
	switch band {
	case store.BandWith, store.BandWithout, store.BandThreeUp:
	default:
		band = store.BandAll
	}
	page := h.page(r, userPageSizes)
	filter := store.UserFilter{
		GuildID:         g.ID,
		Query:           strings.TrimSpace(q.Get("q")),
		Band:            band,
		IncludeInactive: q.Get("inactive") == "1",
		Limit:           page.Size,
		Offset:          page.Offset(),
	}

	var (
		users        []*model.UserSummary
		distribution []model.Bucket
		joins        []model.MonthCount
		watch        []*model.WatchEntry
	)
	eg, ctx := errgroup.WithContext(r.Context())
	eg.Go(func() (err error) {
		users, err = h.store.ListUsers(ctx, filter)
		return err
	})
	eg.Go(func() (err error) {
		distribution, err = h.store.WarningDistribution(ctx, g.ID)
		return err
	})
	eg.Go(func() (err error) {
		joins, err = h.store.JoinsByMonth(ctx, g.ID, joinMonths)
		return err
	})
	eg.Go(func() (err error) {
		watch, err = h.store.WatchList(ctx, store.WatchQuery{
			GuildID:     g.ID,
			MinWarnings: usersWatchMin,
			Limit:       usersWatchLimit,
			Recent:      usersWatchRecent,
		})
		return err
	})
	if err := eg.Wait(); err != nil {
		h.fail(w, r, err)
		return
	}
	page.Count = len(users)

	tracked := 0
	for _, b := range distribution {
		tracked += b.Count
	}
	maxJoins := 0
	for _, m := range joins {
		maxJoins = max(maxJoins, m.Count)
	}

	h.render(w, r, http.StatusOK, "users.html", map[string]any{
		"Page":         "users",
		"Users":        users,
		"Pager":        page,
		"Query":        filter.Query,
		"Band":         string(band),
		"Inactive":     filter.IncludeInactive,
		"Distribution": distribution,
		"Tracked":      tracked,
		"Joins":        joins,
		"MaxJoins":     maxJoins,
		"Watch":        watch,
	})
}
