package store

import (
	"context"
	"database/sql"
	"fmt"
	"slices"
	"strings"

	"github.com/cardinal-bot/panel/internal/model"
	"golang.org/x/sync/errgroup"
)

// Metric names a countable event stream.
type Metric string

const (
	MetricWarnings  Metric = "warnings"
	MetricSanctions Metric = "sanctions"
	MetricAutomod   Metric = "automod"
)

// GroupBy selects the shape of a metric result.
type GroupBy string

const (
	GroupNone      GroupBy = "none"
	GroupDay       GroupBy = "day"
	GroupType      GroupBy = "type"
	GroupModerator GroupBy = "moderator"
	GroupUser      GroupBy = "user"
)

// MetricQuery asks for one metric of one guild over a trailing window.
// WindowDays <= 0 means all time for groupings and 30 days for GroupDay.
type MetricQuery struct {
	GuildID    string
	Metric     Metric
	WindowDays int
	GroupBy    GroupBy
	Limit      int
}

// MetricResult holds whichever shape the query's GroupBy produces.
type MetricResult struct {
	Metric     Metric           `json:"metric"`
	GroupBy    GroupBy          `json:"group_by"`
	WindowDays int              `json:"window_days"`
	Totals     *model.Totals    `json:"totals,omitempty"`
	Series     []model.DayCount `json:"series,omitempty"`
	Groups     []model.KeyCount `json:"groups,omitempty"`
}

type metricSource struct {
	table   string
	typeCol string
}

var metricSources = map[Metric]metricSource{
	MetricWarnings:  {table: "warnings"},
	MetricSanctions: {table: "sanctions", typeCol: "type"},
	MetricAutomod:   {table: "automod_logs", typeCol: "trigger_type"},
}

// ParseMetricQuery validates user-supplied names.
func ParseMetricQuery(guildID, metric, group string, windowDays, limit int) (MetricQuery, error) {
	q := MetricQuery{GuildID: guildID, Metric: Metric(metric), GroupBy: GroupBy(group), WindowDays: windowDays, Limit: limit}
	if q.GroupBy == "" {
		q.GroupBy = GroupNone
	}
	return q, q.validate()
}

func (q MetricQuery) validate() error {
	src, ok := metricSources[q.Metric]
	if !ok {
		return fmt.Errorf("%w: unknown metric %q", ErrValidation, q.Metric)
	}
	switch q.GroupBy {
	case GroupNone, GroupDay, GroupModerator, GroupUser:
	case GroupType:
		if src.typeCol == "" {
			return fmt.Errorf("%w: metric %q has no type dimension", ErrValidation, q.Metric)
		}
	default:
		return fmt.Errorf("%w: unknown grouping %q", ErrValidation, q.GroupBy)
	}
	if q.WindowDays < 0 || q.WindowDays > 3650 {
		return fmt.Errorf("%w: window out of range", ErrValidation)
	}
	return nil
}

// Metrics answers a MetricQuery. Table and column names come from a fixed
// table keyed by Metric, never from the caller.
func (s *SQLiteStore) Metrics(ctx context.Context, q MetricQuery) (*MetricResult, error) {
	op := fmt.Sprintf("metric %s by %s", q.Metric, q.GroupBy)
	if q.GroupBy == "" {
		q.GroupBy = GroupNone
	}
	if err := q.validate(); err != nil {
		return nil, classify(op, err)
	}
	src := metricSources[q.Metric]
	res := &MetricResult{Metric: q.Metric, GroupBy: q.GroupBy, WindowDays: q.WindowDays}

	switch q.GroupBy {
	case GroupNone:
		t, err := s.metricTotals(ctx, op, src.table, q.GuildID, q.WindowDays)
		if err != nil {
			return nil, err
		}
		res.Totals = t

	case GroupDay:
		days := q.WindowDays
		if days <= 0 {
			days = 30
		}
		res.WindowDays = days
		series, err := s.dayCounts(ctx, op,
			`SELECT date(created_at) AS day, COUNT(*) FROM `+src.table+`
			 WHERE guild_id = ? AND date(created_at) >= ? AND date(created_at) <= ?
			 GROUP BY day ORDER BY day`,
			q.GuildID, s.windowStart(days), s.today())
		if err != nil {
			return nil, err
		}
		res.Series = series

	default:
		var keyCol string
		switch q.GroupBy {
		case GroupType:
			keyCol = "m." + src.typeCol
		case GroupModerator:
			keyCol = "m.moderator_id"
		case GroupUser:
			keyCol = "m.user_id"
		}
		query := `SELECT ` + keyCol + ` AS k, COALESCE(MAX(u.username), '') AS label, COUNT(*) AS n
			FROM ` + src.table + ` m
			LEFT JOIN users u ON ` + keyCol + ` = u.discord_id AND m.guild_id = u.guild_id
			WHERE m.guild_id = ? AND ` + keyCol + ` IS NOT NULL`
		args := []any{q.GuildID}
		if q.WindowDays > 0 {
			query += ` AND datetime(m.created_at) >= ?`
			args = append(args, s.since(q.WindowDays))
		}
		query += ` GROUP BY k ORDER BY n DESC, k LIMIT ?`
		args = append(args, clampLimit(q.Limit, 10, MaxListRows))

		groups, err := s.keyCounts(ctx, op, query, args...)
		if err != nil {
			return nil, err
		}
		if q.GroupBy == GroupType {
			for i := range groups {
				groups[i].Label = ""
			}
		}
		res.Groups = groups
	}
	return res, nil
}

// since is the timestamp days days before now.
func (s *SQLiteStore) since(days int) string {
	return s.nowUTC().AddDate(0, 0, -days).Format(timeFormat)
}

// metricTotals counts all rows, rows in the current window and rows in the
// window before it.
func (s *SQLiteStore) metricTotals(ctx context.Context, op, table, guildID string, days int) (*model.Totals, error) {
	if days <= 0 {
		days = 30
	}
	ctx, cancel := s.bound(ctx)
	defer cancel()

	var t model.Totals
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*),
			COALESCE(SUM(CASE WHEN datetime(created_at) >= ? THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN datetime(created_at) >= ? AND datetime(created_at) < ? THEN 1 ELSE 0 END), 0)
		 FROM `+table+` WHERE guild_id = ?`,
		s.since(days), s.since(2*days), s.since(days), guildID).Scan(&t.Total, &t.Current, &t.Previous)
	if err != nil {
		return nil, classify(op, err)
	}
	return &t, nil
}

// --- Merged warnings and sanctions ---

type activityFilter struct {
	guildID      string
	warnings     bool
	sanctions    bool
	sanctionType string
	sinceDay     string
	onDay        string
	moderatorID  string
	userID       string
	limit        int
}

func (f activityFilter) branch(alias, table, action, duration string) (string, []any) {
	q := `SELECT '` + table[:len(table)-1] + `' AS kind, ` + alias + `.id AS id, ` + action + ` AS action,
		` + alias + `.user_id AS user_id, COALESCE(u.username, '') AS username,
		` + alias + `.moderator_id AS moderator_id, COALESCE(` + alias + `.reason, '') AS reason,
		` + duration + ` AS duration, ` + alias + `.active AS active,
		datetime(` + alias + `.created_at) AS ts
		FROM ` + table + ` ` + alias + `
		LEFT JOIN users u ON ` + alias + `.user_id = u.discord_id AND ` + alias + `.guild_id = u.guild_id
		WHERE ` + alias + `.guild_id = ?`
	args := []any{f.guildID}
	col := func(c string) string { return alias + "." + c }
	if table == "sanctions" && f.sanctionType != "" {
		q += ` AND ` + col("type") + ` = ?`
		args = append(args, f.sanctionType)
	}
	if f.sinceDay != "" {
		q += ` AND date(` + col("created_at") + `) >= ?`
		args = append(args, f.sinceDay)
	}
	if f.onDay != "" {
		q += ` AND date(` + col("created_at") + `) = ?`
		args = append(args, f.onDay)
	}
	if f.moderatorID != "" {
		q += ` AND ` + col("moderator_id") + ` = ?`
		args = append(args, f.moderatorID)
	}
	if f.userID != "" {
		q += ` AND ` + col("user_id") + ` = ?`
		args = append(args, f.userID)
	}
	return q, args
}

// activity merges both tables in one statement so the cap applies to the
// combined, timestamp-ordered stream.
func (s *SQLiteStore) activity(ctx context.Context, op string, f activityFilter) ([]*model.ActivityEntry, error) {
	var parts []string
	var args []any
	if f.warnings {
		q, a := f.branch("w", "warnings", "'warning'", "''")
		parts, args = append(parts, q), append(args, a...)
	}
	if f.sanctions {
		q, a := f.branch("s", "sanctions", "s.type", "COALESCE(CAST(s.duration AS TEXT), '')")
		parts, args = append(parts, q), append(args, a...)
	}
	if len(parts) == 0 {
		return []*model.ActivityEntry{}, nil
	}
	query := strings.Join(parts, "\nUNION ALL\n") + `
		ORDER BY ts DESC, kind ASC, id DESC LIMIT ?`
	args = append(args, f.limit)

	ctx, cancel := s.bound(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, classify(op, err)
	}
	defer rows.Close()

	out := []*model.ActivityEntry{}
	for rows.Next() {
		var e model.ActivityEntry
		var kind string
		var active sql.NullInt64
		var ts sql.NullString
		if err := rows.Scan(&kind, &e.ID, &e.Action, &e.UserID, &e.Username, &e.ModeratorID,
			&e.Reason, &e.Duration, &active, &ts); err != nil {
			return nil, classify(op, err)
		}
		e.Kind = model.ActivityKind(kind)
		e.Active = !active.Valid || active.Int64 != 0
		e.CreatedAt = parseTime(ts.String)
		out = append(out, &e)
	}
	return out, classify(op, rows.Err())
}

// RecentActivity returns the newest warnings and sanctions of a guild as one
// stream, newest first, at most limit entries in total.
func (s *SQLiteStore) RecentActivity(ctx context.Context, guildID string, limit int) ([]*model.ActivityEntry, error) {
	return s.activity(ctx, "recent activity", activityFilter{
		guildID:   guildID,
		warnings:  true,
		sanctions: true,
		limit:     clampLimit(limit, 10, MaxListRows),
	})
}

// ModerationLog is the logs page feed.
func (s *SQLiteStore) ModerationLog(ctx context.Context, f LogFilter) ([]*model.ActivityEntry, error) {
	af := activityFilter{
		guildID:     f.GuildID,
		moderatorID: strings.TrimSpace(f.ModeratorID),
		userID:      strings.TrimSpace(f.UserID),
		limit:       clampLimit(f.Limit, MaxListRows, 5*MaxListRows),
	}
	switch f.Action {
	case "":
		af.warnings, af.sanctions = true, true
	case string(model.KindWarning):
		af.warnings = true
	default:
		t, err := model.ParseSanctionType(f.Action)
		if err != nil {
			return nil, classify("moderation log", &model.ValidationError{Field: "type", Message: err.Error()})
		}
		af.sanctions, af.sanctionType = true, string(t)
	}
	switch f.Period {
	case PeriodToday:
		af.onDay = s.today()
	case Period7d:
		af.sinceDay = s.windowStart(7)
	case Period30d:
		af.sinceDay = s.windowStart(30)
	case PeriodAll, "":
	default:
		return nil, classify("moderation log", &model.ValidationError{Field: "period", Message: fmt.Sprintf("unknown period %q", f.Period)})
	}
	return s.activity(ctx, "moderation log", af)
}

// --- Users page aggregates ---

// WatchList returns users holding at least q.MinWarnings warnings, most
// warned first, each with their latest warnings attached.
func (s *SQLiteStore) WatchList(ctx context.Context, q WatchQuery) ([]*model.WatchEntry, error) {
	const op = "watch list"
	query := `SELECT w.user_id, COALESCE(MAX(u.username), ''), COUNT(*) AS n, MAX(datetime(w.created_at)) AS last
		FROM warnings w
		LEFT JOIN users u ON w.user_id = u.discord_id AND w.guild_id = u.guild_id
		WHERE w.guild_id = ?`
	args := []any{q.GuildID}
	if q.WindowDays > 0 {
		query += ` AND date(w.created_at) >= ?`
		args = append(args, s.windowStart(q.WindowDays))
	}
	query += ` GROUP BY w.user_id HAVING n >= ? ORDER BY n DESC, last DESC, w.user_id LIMIT ?`
	args = append(args, max(q.MinWarnings, 1), clampLimit(q.Limit, 20, MaxListRows))

	entries, err := func() ([]*model.WatchEntry, error) {
		ctx, cancel := s.bound(ctx)
		defer cancel()

		rows, err := s.db.QueryContext(ctx, query, args...)
		if err != nil {
			return nil, classify(op, err)
		}
		defer rows.Close()

		out := []*model.WatchEntry{}
		for rows.Next() {
			var e model.WatchEntry
			var last sql.NullString
			if err := rows.Scan(&e.UserID, &e.Username, &e.Warnings, &last); err != nil {
				return nil, classify(op, err)
			}
			e.LastWarning = parseTime(last.String)
			out = append(out, &e)
		}
		return out, classify(op, rows.Err())
	}()
	if err != nil {
		return nil, err
	}

	if q.Recent > 0 {
		for _, e := range entries {
			recent, err := s.queryWarnings(ctx, op,
				`WHERE w.guild_id = ? AND w.user_id = ? ORDER BY w.created_at DESC, w.id DESC LIMIT ?`,
				q.GuildID, e.UserID, q.Recent)
			if err != nil {
				return nil, err
			}
			e.Recent = recent
		}
	}
	return entries, nil
}

// Distribution bucket labels, in display order.
var distributionLabels = []string{"0", "1", "2", "3-5", "6+"}

// WarningDistribution buckets tracked users by warning count. Every bucket is
// present, empty ones with a zero count.
func (s *SQLiteStore) WarningDistribution(ctx context.Context, guildID string) ([]model.Bucket, error) {
	const op = "warning distribution"
	ctx, cancel := s.bound(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx,
		`SELECT CASE
				WHEN n = 0 THEN '0'
				WHEN n = 1 THEN '1'
				WHEN n = 2 THEN '2'
				WHEN n BETWEEN 3 AND 5 THEN '3-5'
				ELSE '6+'
			END AS bucket, COUNT(*)
		 FROM (
			SELECT u.discord_id, COUNT(w.id) AS n
			FROM users u
			LEFT JOIN warnings w ON w.user_id = u.discord_id AND w.guild_id = u.guild_id
			WHERE u.guild_id = ?
			GROUP BY u.discord_id
		 )
		 GROUP BY bucket`, guildID)
	if err != nil {
		return nil, classify(op, err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var label string
		var n int
		if err := rows.Scan(&label, &n); err != nil {
			return nil, classify(op, err)
		}
		counts[label] = n
	}
	if err := rows.Err(); err != nil {
		return nil, classify(op, err)
	}

	out := make([]model.Bucket, 0, len(distributionLabels))
	for _, l := range distributionLabels {
		out = append(out, model.Bucket{Label: l, Count: counts[l]})
	}
	return out, nil
}

// JoinsByMonth counts new members for the latest months months that have any,
// oldest first.
func (s *SQLiteStore) JoinsByMonth(ctx context.Context, guildID string, months int) ([]model.MonthCount, error) {
	const op = "joins by month"
	ctx, cancel := s.bound(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx,
		`SELECT strftime('%Y-%m', COALESCE(joined_at, created_at)) AS month, COUNT(*)
		 FROM users
		 WHERE guild_id = ? AND strftime('%Y-%m', COALESCE(joined_at, created_at)) IS NOT NULL
		 GROUP BY month ORDER BY month DESC LIMIT ?`,
		guildID, clampLimit(months, 12, 120))
	if err != nil {
		return nil, classify(op, err)
	}
	defer rows.Close()

	out := []model.MonthCount{}
	for rows.Next() {
		var m model.MonthCount
		if err := rows.Scan(&m.Month, &m.Count); err != nil {
			return nil, classify(op, err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(op, err)
	}
	slices.Reverse(out)
	return out, nil
}

// --- Dashboard ---

// Overview gathers the dashboard for one guild. The queries are independent
// and run concurrently; the first failure cancels the rest.
func (s *SQLiteStore) Overview(ctx context.Context, guildID string, windowDays int) (*model.Overview, error) {
	if windowDays <= 0 {
		windowDays = 30
	}
	ov := &model.Overview{WindowDays: windowDays}
	g, ctx := errgroup.WithContext(ctx)

	totals := func(m Metric, dst *model.Totals) func() error {
		return func() error {
			res, err := s.Metrics(ctx, MetricQuery{GuildID: guildID, Metric: m, WindowDays: windowDays, GroupBy: GroupNone})
			if err != nil {
				return err
			}
			*dst = *res.Totals
			return nil
		}
	}
	groups := func(q MetricQuery, dst *[]model.KeyCount) func() error {
		return func() error {
			res, err := s.Metrics(ctx, q)
			if err != nil {
				return err
			}
			*dst = res.Groups
			return nil
		}
	}

	g.Go(totals(MetricWarnings, &ov.Warnings))
	g.Go(totals(MetricSanctions, &ov.Sanctions))
	g.Go(totals(MetricAutomod, &ov.Automod))
	g.Go(func() error {
		st, err := s.GetGuildStats(ctx, guildID)
		if err != nil {
			return err
		}
		ov.Users, ov.ActiveSanctions = st.TrackedUsers, st.ActiveSanctions
		return nil
	})
	g.Go(func() error {
		series, err := s.WarningStatsByDay(ctx, guildID, windowDays)
		ov.WarningsPerDay = series
		return err
	})
	g.Go(groups(MetricQuery{GuildID: guildID, Metric: MetricSanctions, WindowDays: windowDays, GroupBy: GroupType}, &ov.SanctionsByType))
	g.Go(groups(MetricQuery{GuildID: guildID, Metric: MetricWarnings, WindowDays: windowDays, GroupBy: GroupModerator, Limit: 10}, &ov.TopModerators))
	g.Go(func() error {
		watch, err := s.WatchList(ctx, WatchQuery{GuildID: guildID, WindowDays: windowDays, MinWarnings: 2, Limit: 10})
		ov.WatchList = watch
		return err
	})
	g.Go(func() error {
		recent, err := s.RecentActivity(ctx, guildID, 10)
		ov.Recent = recent
		return err
	})

	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("overview %s: %w", guildID, err)
	}
	return ov, nil
}
