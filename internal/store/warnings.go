package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/cardinal-bot/panel/internal/model"
)

const (
	warningColumns = `w.id, w.guild_id, w.user_id, w.moderator_id, w.reason, w.active, w.created_at, COALESCE(u.username, '')`
	warningFrom    = ` FROM warnings w
		LEFT JOIN users u ON w.user_id = u.discord_id AND w.guild_id = u.guild_id`

	recentWarningsCap = 50
)

func (s *SQLiteStore) scanWarning(row scannable) (*model.Warning, error) {
	var w model.Warning
	var reason, createdAt sql.NullString
	var active sql.NullInt64
	if err := row.Scan(&w.ID, &w.GuildID, &w.UserID, &w.ModeratorID, &reason, &active, &createdAt, &w.Username); err != nil {
		return nil, err
	}
	w.Reason = reason.String
	w.Active = !active.Valid || active.Int64 != 0
	w.CreatedAt = parseTime(createdAt.String)
	return &w, nil
}

func (s *SQLiteStore) queryWarnings(ctx context.Context, op, where string, args ...any) ([]*model.Warning, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, `SELECT `+warningColumns+warningFrom+` `+where, args...)
	if err != nil {
		return nil, classify(op, err)
	}
	defer rows.Close()

	var out []*model.Warning
	for rows.Next() {
		w, err := s.scanWarning(rows)
		if err != nil {
			return nil, classify(op, err)
		}
		out = append(out, w)
	}
	return out, classify(op, rows.Err())
}

func (s *SQLiteStore) ListWarningsByGuild(ctx context.Context, guildID string, limit int) ([]*model.Warning, error) {
	return s.queryWarnings(ctx, "list warnings",
		`WHERE w.guild_id = ? ORDER BY datetime(w.created_at) DESC, w.id DESC LIMIT ?`,
		guildID, clampLimit(limit, MaxListRows, MaxListRows))
}

func (s *SQLiteStore) ListWarningsByUser(ctx context.Context, guildID, userID string) ([]*model.Warning, error) {
	return s.queryWarnings(ctx, "list user warnings",
		`WHERE w.guild_id = ? AND w.user_id = ? ORDER BY datetime(w.created_at) DESC, w.id DESC`,
		guildID, userID)
}

func (s *SQLiteStore) ListActiveWarningsByUser(ctx context.Context, guildID, userID string) ([]*model.Warning, error) {
	return s.queryWarnings(ctx, "list active user warnings",
		`WHERE w.guild_id = ? AND w.user_id = ? AND w.active = 1 ORDER BY datetime(w.created_at) DESC, w.id DESC`,
		guildID, userID)
}

// ListRecentWarnings returns up to 50 warnings from the last days days.
func (s *SQLiteStore) ListRecentWarnings(ctx context.Context, guildID string, days int) ([]*model.Warning, error) {
	if days <= 0 {
		days = 7
	}
	return s.queryWarnings(ctx, "list recent warnings",
		`WHERE w.guild_id = ? AND date(w.created_at) >= ? ORDER BY datetime(w.created_at) DESC, w.id DESC LIMIT ?`,
		guildID, s.windowStart(days), recentWarningsCap)
}

// SearchWarnings pages through warnings matching f and reports the total
// number of matches.
func (s *SQLiteStore) SearchWarnings(ctx context.Context, f WarningFilter) ([]*model.Warning, int, error) {
	where := `WHERE w.guild_id = ?`
	args := []any{f.GuildID}
	if f.UserQuery != "" {
		where += ` AND w.user_id LIKE ? ESCAPE '\'`
		args = append(args, likePattern(f.UserQuery))
	}

	order := ` ORDER BY datetime(w.created_at) DESC, w.id DESC`
	switch f.Sort {
	case SortOldest:
		order = ` ORDER BY datetime(w.created_at) ASC, w.id ASC`
	case SortUser:
		order = ` ORDER BY w.user_id, datetime(w.created_at) DESC, w.id DESC`
	}

	total, err := s.count(ctx, "search warnings", `SELECT COUNT(*) FROM warnings w `+where, args...)
	if err != nil {
		return nil, 0, err
	}
	list, err := s.queryWarnings(ctx, "search warnings", where+order+` LIMIT ? OFFSET ?`,
		append(args, clampLimit(f.Limit, 25, MaxListRows), max(f.Offset, 0))...)
	if err != nil {
		return nil, 0, err
	}
	return list, total, nil
}

// WarningStatsByDay counts warnings per calendar day over the last days days,
// today included, oldest first.
func (s *SQLiteStore) WarningStatsByDay(ctx context.Context, guildID string, days int) ([]model.DayCount, error) {
	if days <= 0 {
		days = 30
	}
	return s.dayCounts(ctx, "warning stats by day",
		`SELECT date(created_at) AS day, COUNT(*) FROM warnings
		 WHERE guild_id = ? AND date(created_at) >= ? AND date(created_at) <= ?
		 GROUP BY day ORDER BY day`,
		guildID, s.windowStart(days), s.today())
}

// TopWarnedUsers ranks users by active warnings.
func (s *SQLiteStore) TopWarnedUsers(ctx context.Context, guildID string, limit int) ([]model.UserCount, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx,
		`SELECT w.user_id, COALESCE(MAX(u.username), ''), COUNT(*) AS n
		 FROM warnings w
		 LEFT JOIN users u ON w.user_id = u.discord_id AND w.guild_id = u.guild_id
		 WHERE w.guild_id = ? AND w.active = 1
		 GROUP BY w.user_id ORDER BY n DESC, w.user_id LIMIT ?`,
		guildID, clampLimit(limit, 10, MaxListRows))
	if err != nil {
		return nil, classify("top warned users", err)
	}
	defer rows.Close()

	out := []model.UserCount{}
	for rows.Next() {
		var c model.UserCount
		if err := rows.Scan(&c.UserID, &c.Username, &c.Count); err != nil {
			return nil, classify("top warned users", err)
		}
		out = append(out, c)
	}
	return out, classify("top warned users", rows.Err())
}

// CountActiveWarnings counts live rows; escalation tiers are derived from it.
func (s *SQLiteStore) CountActiveWarnings(ctx context.Context, guildID, userID string) (int, error) {
	return s.count(ctx, "count active warnings",
		`SELECT COUNT(*) FROM warnings WHERE guild_id = ? AND user_id = ? AND active = 1`, guildID, userID)
}

// CreateWarning inserts w and returns its id. New warnings are always active.
func (s *SQLiteStore) CreateWarning(ctx context.Context, w *model.Warning) (int64, error) {
	const op = "create warning"
	if w.GuildID == "" || w.UserID == "" || w.ModeratorID == "" {
		return 0, classify(op, &model.ValidationError{Field: "ids", Message: "guild, user and moderator are required"})
	}
	if strings.TrimSpace(w.Reason) == "" {
		return 0, classify(op, &model.ValidationError{Field: "reason", Message: "must not be empty"})
	}
	w.CreatedAt = s.nowUTC()
	w.Active = true

	ctx, cancel := s.bound(ctx)
	defer cancel()

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO warnings (guild_id, user_id, moderator_id, reason, active, created_at) VALUES (?, ?, ?, ?, 1, ?)`,
		w.GuildID, w.UserID, w.ModeratorID, w.Reason, w.CreatedAt.Format(timeFormat))
	if err != nil {
		return 0, classify(op, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, classify(op, err)
	}
	w.ID = id
	return id, nil
}

// DeleteWarnings hard-deletes the given warnings of one guild and returns how
// many rows went away. Ids from another guild are ignored.
func (s *SQLiteStore) DeleteWarnings(ctx context.Context, guildID string, ids ...int64) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	op := fmt.Sprintf("delete %d warnings", len(ids))

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, 0, len(ids)+1)
	args = append(args, guildID)
	for _, id := range ids {
		args = append(args, id)
	}

	ctx, cancel := s.bound(ctx)
	defer cancel()

	res, err := s.db.ExecContext(ctx,
		`DELETE FROM warnings WHERE guild_id = ? AND id IN (`+placeholders+`)`, args...)
	if err != nil {
		return 0, classify(op, err)
	}
	n, err := res.RowsAffected()
	return n, classify(op, err)
}
