package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/cardinal-bot/panel/internal/model"
)

const (
	sanctionColumns = `s.id, s.guild_id, s.user_id, s.moderator_id, s.type, s.reason, s.duration,
		s.expires_at, s.active, s.created_at, s.removed_at, COALESCE(u.username, '')`
	sanctionFrom = ` FROM sanctions s
		LEFT JOIN users u ON s.user_id = u.discord_id AND s.guild_id = u.guild_id`

	// MaxListRows caps every guild-wide listing.
	MaxListRows = 100
)

func (s *SQLiteStore) scanSanction(row scannable) (*model.Sanction, error) {
	var sc model.Sanction
	var typ string
	var reason, duration, expiresAt, createdAt, removedAt sql.NullString
	var active sql.NullInt64
	err := row.Scan(&sc.ID, &sc.GuildID, &sc.UserID, &sc.ModeratorID, &typ, &reason, &duration,
		&expiresAt, &active, &createdAt, &removedAt, &sc.Username)
	if err != nil {
		return nil, err
	}
	sc.Type = model.SanctionType(typ)
	sc.Reason = reason.String
	sc.Duration = duration.String
	sc.ExpiresAt = parseNullTime(expiresAt)
	sc.Active = !active.Valid || active.Int64 != 0
	sc.CreatedAt = parseTime(createdAt.String)
	sc.RemovedAt = parseNullTime(removedAt)
	return &sc, nil
}

func (s *SQLiteStore) querySanctions(ctx context.Context, op, where string, args ...any) ([]*model.Sanction, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, `SELECT `+sanctionColumns+sanctionFrom+` `+where, args...)
	if err != nil {
		return nil, classify(op, err)
	}
	defer rows.Close()

	var out []*model.Sanction
	for rows.Next() {
		sc, err := s.scanSanction(rows)
		if err != nil {
			return nil, classify(op, err)
		}
		out = append(out, sc)
	}
	return out, classify(op, rows.Err())
}

// ListSanctionsByGuild returns the newest sanctions of a guild.
func (s *SQLiteStore) ListSanctionsByGuild(ctx context.Context, guildID string, limit int) ([]*model.Sanction, error) {
	return s.querySanctions(ctx, "list sanctions",
		`WHERE s.guild_id = ? ORDER BY datetime(s.created_at) DESC, s.id DESC LIMIT ?`,
		guildID, clampLimit(limit, MaxListRows, MaxListRows))
}

func (s *SQLiteStore) ListSanctionsByUser(ctx context.Context, guildID, userID string) ([]*model.Sanction, error) {
	return s.querySanctions(ctx, "list user sanctions",
		`WHERE s.guild_id = ? AND s.user_id = ? ORDER BY datetime(s.created_at) DESC, s.id DESC`,
		guildID, userID)
}

func (s *SQLiteStore) ListActiveSanctions(ctx context.Context, guildID string) ([]*model.Sanction, error) {
	return s.querySanctions(ctx, "list active sanctions",
		`WHERE s.guild_id = ? AND s.active = 1 ORDER BY datetime(s.created_at) DESC, s.id DESC`,
		guildID)
}

func (s *SQLiteStore) ListSanctionsByType(ctx context.Context, guildID string, t model.SanctionType) ([]*model.Sanction, error) {
	return s.querySanctions(ctx, "list sanctions by type",
		`WHERE s.guild_id = ? AND s.type = ? ORDER BY datetime(s.created_at) DESC, s.id DESC LIMIT ?`,
		guildID, string(t), MaxListRows)
}

// SearchSanctions pages through sanctions matching f and reports the total
// number of matches.
func (s *SQLiteStore) SearchSanctions(ctx context.Context, f SanctionFilter) ([]*model.Sanction, int, error) {
	where := `WHERE s.guild_id = ?`
	args := []any{f.GuildID}
	if f.UserQuery != "" {
		where += ` AND s.user_id LIKE ? ESCAPE '\'`
		args = append(args, likePattern(f.UserQuery))
	}
	if f.Type != "" {
		where += ` AND s.type = ?`
		args = append(args, string(f.Type))
	}
	switch f.Status {
	case StatusActive:
		where += ` AND s.active = 1`
	case StatusInactive:
		where += ` AND s.active = 0`
	}

	total, err := s.count(ctx, "search sanctions", `SELECT COUNT(*) FROM sanctions s `+where, args...)
	if err != nil {
		return nil, 0, err
	}
	list, err := s.querySanctions(ctx, "search sanctions",
		where+` ORDER BY datetime(s.created_at) DESC, s.id DESC LIMIT ? OFFSET ?`,
		append(args, clampLimit(f.Limit, 25, MaxListRows), max(f.Offset, 0))...)
	if err != nil {
		return nil, 0, err
	}
	return list, total, nil
}

func (s *SQLiteStore) SanctionStatsByType(ctx context.Context, guildID string) ([]model.KeyCount, error) {
	return s.keyCounts(ctx, "sanction stats by type",
		`SELECT type, '', COUNT(*) AS n FROM sanctions WHERE guild_id = ?
		 GROUP BY type ORDER BY n DESC, type`, guildID)
}

// SanctionStatsByDay counts sanctions per calendar day and type over the last
// days days, today included, oldest first.
func (s *SQLiteStore) SanctionStatsByDay(ctx context.Context, guildID string, days int) ([]model.TypeDayCount, error) {
	if days <= 0 {
		days = 30
	}
	ctx, cancel := s.bound(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx,
		`SELECT date(created_at) AS day, type, COUNT(*) FROM sanctions
		 WHERE guild_id = ? AND date(created_at) >= ? AND date(created_at) <= ?
		 GROUP BY day, type ORDER BY day, type`,
		guildID, s.windowStart(days), s.today())
	if err != nil {
		return nil, classify("sanction stats by day", err)
	}
	defer rows.Close()

	var out []model.TypeDayCount
	for rows.Next() {
		var c model.TypeDayCount
		var typ string
		if err := rows.Scan(&c.Day, &typ, &c.Count); err != nil {
			return nil, classify("sanction stats by day", err)
		}
		c.Type = model.SanctionType(typ)
		out = append(out, c)
	}
	return out, classify("sanction stats by day", rows.Err())
}

func (s *SQLiteStore) GetSanction(ctx context.Context, guildID string, id int64) (*model.Sanction, error) {
	list, err := s.querySanctions(ctx, "get sanction", `WHERE s.guild_id = ? AND s.id = ?`, guildID, id)
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, classify(fmt.Sprintf("get sanction %d", id), ErrNotFound)
	}
	return list[0], nil
}

// NewSanction is the input to CreateSanction. A nil Active creates the
// sanction in effect.
type NewSanction struct {
	GuildID     string
	UserID      string
	ModeratorID string
	Type        model.SanctionType
	Reason      string
	Duration    string
	ExpiresAt   *time.Time
	Active      *bool
}

// CreateSanction inserts a sanction and returns its id.
func (s *SQLiteStore) CreateSanction(ctx context.Context, in *NewSanction) (int64, error) {
	const op = "create sanction"
	if !in.Type.Valid() {
		return 0, classify(op, &model.ValidationError{Field: "type", Message: fmt.Sprintf("unknown sanction type %q", in.Type)})
	}
	if in.GuildID == "" || in.UserID == "" || in.ModeratorID == "" {
		return 0, classify(op, &model.ValidationError{Field: "ids", Message: "guild, user and moderator are required"})
	}
	active := true
	if in.Active != nil {
		active = *in.Active
	}

	ctx, cancel := s.bound(ctx)
	defer cancel()

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO sanctions (guild_id, user_id, moderator_id, type, reason, duration, expires_at, active, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		in.GuildID, in.UserID, in.ModeratorID, string(in.Type), nullString(in.Reason),
		nullString(in.Duration), nullTime(in.ExpiresAt), boolToInt(active),
		s.nowUTC().Format(timeFormat))
	if err != nil {
		return 0, classify(op, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, classify(op, err)
	}
	return id, nil
}

// DeactivateSanction marks an active sanction inactive and stamps removed_at
// in one statement. Deactivating an inactive sanction changes nothing.
func (s *SQLiteStore) DeactivateSanction(ctx context.Context, guildID string, id int64) error {
	op := fmt.Sprintf("deactivate sanction %d", id)
	ctx, cancel := s.bound(ctx)
	defer cancel()

	res, err := s.db.ExecContext(ctx,
		`UPDATE sanctions SET active = 0, removed_at = ? WHERE id = ? AND guild_id = ? AND active = 1`,
		s.nowUTC().Format(timeFormat), id, guildID)
	if err != nil {
		return classify(op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return classify(op, err)
	}
	if n > 0 {
		return nil
	}
	var exists int
	err = s.db.QueryRowContext(ctx, `SELECT 1 FROM sanctions WHERE id = ? AND guild_id = ?`, id, guildID).Scan(&exists)
	return classify(op, err)
}

func (s *SQLiteStore) DeleteSanction(ctx context.Context, guildID string, id int64) error {
	op := fmt.Sprintf("delete sanction %d", id)
	ctx, cancel := s.bound(ctx)
	defer cancel()

	res, err := s.db.ExecContext(ctx, `DELETE FROM sanctions WHERE id = ? AND guild_id = ?`, id, guildID)
	if err != nil {
		return classify(op, err)
	}
	return classify(op, requireRow(res))
}

// --- shared scan helpers ---

func (s *SQLiteStore) count(ctx context.Context, op, query string, args ...any) (int, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	var n int
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, classify(op, err)
	}
	return n, nil
}

// keyCounts runs a query returning (key, label, count) rows.
func (s *SQLiteStore) keyCounts(ctx context.Context, op, query string, args ...any) ([]model.KeyCount, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, classify(op, err)
	}
	defer rows.Close()

	out := []model.KeyCount{}
	for rows.Next() {
		var k model.KeyCount
		var key, label sql.NullString
		if err := rows.Scan(&key, &label, &k.Count); err != nil {
			return nil, classify(op, err)
		}
		k.Key, k.Label = key.String, label.String
		out = append(out, k)
	}
	return out, classify(op, rows.Err())
}

func (s *SQLiteStore) dayCounts(ctx context.Context, op, query string, args ...any) ([]model.DayCount, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, classify(op, err)
	}
	defer rows.Close()

	out := []model.DayCount{}
	for rows.Next() {
		var d model.DayCount
		if err := rows.Scan(&d.Day, &d.Count); err != nil {
			return nil, classify(op, err)
		}
		out = append(out, d)
	}
	return out, classify(op, rows.Err())
}
