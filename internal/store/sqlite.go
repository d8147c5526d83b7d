package store

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/cardinal-bot/panel/internal/model"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const (
	timeFormat = "2006-01-02 15:04:05"
	dayFormat  = "2006-01-02"

	// DefaultQueryTimeout bounds every statement issued against the shared database.
	DefaultQueryTimeout = 5 * time.Second
)

// SQLiteStore implements Store backed by SQLite.
type SQLiteStore struct {
	db           *sql.DB
	queryTimeout time.Duration
	now          func() time.Time
}

// Option configures a SQLiteStore.
type Option func(*SQLiteStore)

// WithQueryTimeout overrides DefaultQueryTimeout. Zero disables the bound.
func WithQueryTimeout(d time.Duration) Option {
	return func(s *SQLiteStore) { s.queryTimeout = d }
}

// WithClock sets the time source used for timestamps and trailing windows.
func WithClock(now func() time.Time) Option {
	return func(s *SQLiteStore) { s.now = now }
}

// NewSQLiteStore opens a SQLite database at the given path and runs migrations.
func NewSQLiteStore(ctx context.Context, dbPath string, opts ...Option) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(wal)&_pragma=foreign_keys(on)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, classify("open database", err)
	}

	s := &SQLiteStore{db: db, queryTimeout: DefaultQueryTimeout, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, classify("run migrations", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Ping checks that the database answers.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	return classify("ping", s.db.PingContext(ctx))
}

func (s *SQLiteStore) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.queryTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.queryTimeout)
}

func (s *SQLiteStore) nowUTC() time.Time {
	return s.now().UTC().Truncate(time.Second)
}

// windowStart is the first calendar day of a trailing window of days that
// includes today.
func (s *SQLiteStore) windowStart(days int) string {
	return s.nowUTC().AddDate(0, 0, -days).Format(dayFormat)
}

func (s *SQLiteStore) today() string {
	return s.nowUTC().Format(dayFormat)
}

func (s *SQLiteStore) migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		version TEXT PRIMARY KEY,
		applied_at DATETIME NOT NULL
	)`); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("read migrations dir: %w", err)
	}

	// Sort by filename to ensure order.
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}
		var applied int
		if err := s.db.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM schema_migrations WHERE version = ?`, entry.Name()).Scan(&applied); err != nil {
			return fmt.Errorf("check migration %s: %w", entry.Name(), err)
		}
		if applied > 0 {
			continue
		}
		data, err := migrationsFS.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return fmt.Errorf("read migration %s: %w", entry.Name(), err)
		}
		if err := s.applyMigration(ctx, entry.Name(), string(data)); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteStore) applyMigration(ctx context.Context, name, script string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, script); err != nil {
		// A bot that already added the column leaves nothing to do.
		if !strings.Contains(err.Error(), "duplicate column name") {
			return fmt.Errorf("execute migration %s: %w", name, err)
		}
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO schema_migrations (version, applied_at) VALUES (?, ?)`,
		name, s.nowUTC().Format(timeFormat)); err != nil {
		return fmt.Errorf("record migration %s: %w", name, err)
	}
	return tx.Commit()
}

type scannable interface {
	Scan(dest ...interface{}) error
}

// --- Guilds ---

const guildColumns = `id, name, automod_config, config_version, created_at, updated_at`

func (s *SQLiteStore) scanGuild(row scannable) (*model.Guild, error) {
	var g model.Guild
	var name, doc, createdAt, updatedAt sql.NullString
	if err := row.Scan(&g.ID, &name, &doc, &g.ConfigVersion, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	g.Name = name.String
	g.Config = model.ParseGuildConfig(doc.String)
	g.CreatedAt = parseTime(createdAt.String)
	g.UpdatedAt = parseTime(updatedAt.String)
	return &g, nil
}

func (s *SQLiteStore) ListGuilds(ctx context.Context) ([]*model.Guild, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, `SELECT `+guildColumns+` FROM guilds ORDER BY name, id`)
	if err != nil {
		return nil, classify("list guilds", err)
	}
	defer rows.Close()

	var guilds []*model.Guild
	for rows.Next() {
		g, err := s.scanGuild(rows)
		if err != nil {
			return nil, classify("list guilds", err)
		}
		guilds = append(guilds, g)
	}
	return guilds, classify("list guilds", rows.Err())
}

func (s *SQLiteStore) GetGuild(ctx context.Context, id string) (*model.Guild, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	g, err := s.scanGuild(s.db.QueryRowContext(ctx, `SELECT `+guildColumns+` FROM guilds WHERE id = ?`, id))
	if err != nil {
		return nil, classify("get guild "+id, err)
	}
	return g, nil
}

func (s *SQLiteStore) GetGuildStats(ctx context.Context, id string) (*model.GuildStats, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	var st model.GuildStats
	counts := []struct {
		dst   *int
		query string
	}{
		{&st.TotalWarnings, `SELECT COUNT(*) FROM warnings WHERE guild_id = ?`},
		{&st.TotalSanctions, `SELECT COUNT(*) FROM sanctions WHERE guild_id = ?`},
		{&st.ActiveSanctions, `SELECT COUNT(*) FROM sanctions WHERE guild_id = ? AND active = 1`},
		{&st.TrackedUsers, `SELECT COUNT(*) FROM users WHERE guild_id = ?`},
	}
	for _, c := range counts {
		if err := s.db.QueryRowContext(ctx, c.query, id).Scan(c.dst); err != nil {
			return nil, classify("guild stats "+id, err)
		}
	}
	return &st, nil
}

// guildColumn is a guilds column the panel is allowed to write.
type guildColumn string

const (
	guildColName          guildColumn = "name"
	guildColAutomodConfig guildColumn = "automod_config"
)

// GuildUpdate collects allow-listed column changes for UpdateGuildSettings.
type GuildUpdate struct {
	cols   []guildColumn
	vals   []any
	config bool
	err    error
}

// SetName changes the display name.
func (u *GuildUpdate) SetName(name string) *GuildUpdate {
	if strings.TrimSpace(name) == "" {
		u.err = &model.ValidationError{Field: "name", Message: "must not be empty"}
		return u
	}
	return u.set(guildColName, name)
}

// SetAutomodConfig replaces the whole configuration document.
func (u *GuildUpdate) SetAutomodConfig(cfg model.GuildConfig) *GuildUpdate {
	doc, err := cfg.Encode()
	if err != nil {
		u.err = fmt.Errorf("encode config: %w", err)
		return u
	}
	u.config = true
	return u.set(guildColAutomodConfig, doc)
}

func (u *GuildUpdate) set(col guildColumn, v any) *GuildUpdate {
	for i, c := range u.cols {
		if c == col {
			u.vals[i] = v
			return u
		}
	}
	u.cols = append(u.cols, col)
	u.vals = append(u.vals, v)
	return u
}

// Empty reports whether no column has been set.
func (u *GuildUpdate) Empty() bool { return len(u.cols) == 0 }

func (s *SQLiteStore) UpdateGuildSettings(ctx context.Context, id string, update *GuildUpdate) error {
	op := "update guild " + id
	if update == nil || update.Empty() {
		return classify(op, &model.ValidationError{Field: "update", Message: "no columns set"})
	}
	if update.err != nil {
		return classify(op, update.err)
	}

	sets := make([]string, 0, len(update.cols)+2)
	args := make([]any, 0, len(update.vals)+2)
	for i, col := range update.cols {
		sets = append(sets, string(col)+" = ?")
		args = append(args, update.vals[i])
	}
	if update.config {
		sets = append(sets, "config_version = config_version + 1")
	}
	sets = append(sets, "updated_at = ?")
	args = append(args, s.nowUTC().Format(timeFormat), id)

	ctx, cancel := s.bound(ctx)
	defer cancel()

	res, err := s.db.ExecContext(ctx, `UPDATE guilds SET `+strings.Join(sets, ", ")+` WHERE id = ?`, args...)
	if err != nil {
		return classify(op, err)
	}
	return classify(op, requireRow(res))
}

// UpdateGuildConfigSection applies one settings tab to the stored document.
// The document is re-read inside the transaction so sections owned by other
// tabs are kept as they are now, not as they were when the form was loaded.
// A negative expectedVersion skips the version check.
func (s *SQLiteStore) UpdateGuildConfigSection(ctx context.Context, id string, expectedVersion int64, patch model.ConfigPatch) (*model.Guild, error) {
	op := fmt.Sprintf("update guild %s config section %s", id, patch.Section())
	if err := patch.Validate(); err != nil {
		return nil, classify(op, err)
	}

	ctx, cancel := s.bound(ctx)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, classify(op, fmt.Errorf("begin tx: %w", err))
	}
	defer tx.Rollback()

	var doc sql.NullString
	var version int64
	err = tx.QueryRowContext(ctx, `SELECT automod_config, config_version FROM guilds WHERE id = ?`, id).Scan(&doc, &version)
	if err != nil {
		return nil, classify(op, err)
	}
	if expectedVersion >= 0 && version != expectedVersion {
		return nil, classify(op, fmt.Errorf("%w: version %d, form has %d", ErrConflict, version, expectedVersion))
	}

	cfg := model.ParseGuildConfig(doc.String)
	patch.Apply(&cfg)
	encoded, err := cfg.Encode()
	if err != nil {
		return nil, classify(op, fmt.Errorf("encode config: %w", err))
	}

	res, err := tx.ExecContext(ctx,
		`UPDATE guilds SET automod_config = ?, config_version = config_version + 1, updated_at = ?
		 WHERE id = ? AND config_version = ?`,
		encoded, s.nowUTC().Format(timeFormat), id, version)
	if err != nil {
		return nil, classify(op, err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return nil, classify(op, err)
	} else if n == 0 {
		return nil, classify(op, fmt.Errorf("%w: concurrent write", ErrConflict))
	}

	g, err := s.scanGuild(tx.QueryRowContext(ctx, `SELECT `+guildColumns+` FROM guilds WHERE id = ?`, id))
	if err != nil {
		return nil, classify(op, err)
	}
	if err := tx.Commit(); err != nil {
		return nil, classify(op, err)
	}
	return g, nil
}

// --- Users ---

const userColumns = `u.discord_id, u.guild_id, u.username, u.server_username, u.joined_at, u.created_at, u.is_active`

func (s *SQLiteStore) scanUser(row scannable, extra ...any) (*model.User, error) {
	var u model.User
	var username, serverName, joinedAt, createdAt sql.NullString
	var active sql.NullInt64
	dest := append([]any{&u.DiscordID, &u.GuildID, &username, &serverName, &joinedAt, &createdAt, &active}, extra...)
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}
	u.Username = username.String
	u.ServerUsername = serverName.String
	u.JoinedAt = parseNullTime(joinedAt)
	u.CreatedAt = parseTime(createdAt.String)
	u.IsActive = !active.Valid || active.Int64 != 0
	return &u, nil
}

func (s *SQLiteStore) GetUser(ctx context.Context, guildID, discordID string) (*model.User, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	u, err := s.scanUser(s.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users u WHERE u.guild_id = ? AND u.discord_id = ?`, guildID, discordID))
	if err != nil {
		return nil, classify("get user "+discordID, err)
	}
	return u, nil
}

func (s *SQLiteStore) ListUsers(ctx context.Context, f UserFilter) ([]*model.UserSummary, error) {
	query := `SELECT ` + userColumns + `, COUNT(w.id) AS warning_count
		FROM users u
		LEFT JOIN warnings w ON w.user_id = u.discord_id AND w.guild_id = u.guild_id
		WHERE u.guild_id = ?`
	args := []any{f.GuildID}
	if !f.IncludeInactive {
		query += ` AND u.is_active = 1`
	}
	if f.Query != "" {
		p := likePattern(f.Query)
		query += ` AND (u.discord_id LIKE ? ESCAPE '\' OR u.username LIKE ? ESCAPE '\' OR u.server_username LIKE ? ESCAPE '\')`
		args = append(args, p, p, p)
	}
	query += ` GROUP BY u.discord_id, u.guild_id`
	switch f.Band {
	case BandWith:
		query += ` HAVING warning_count > 0`
	case BandWithout:
		query += ` HAVING warning_count = 0`
	case BandThreeUp:
		query += ` HAVING warning_count >= 3`
	}
	query += ` ORDER BY warning_count DESC, u.discord_id LIMIT ? OFFSET ?`
	args = append(args, clampLimit(f.Limit, 25, 100), max(f.Offset, 0))

	ctx, cancel := s.bound(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, classify("list users", err)
	}
	defer rows.Close()

	var users []*model.UserSummary
	for rows.Next() {
		var count int
		u, err := s.scanUser(rows, &count)
		if err != nil {
			return nil, classify("list users", err)
		}
		users = append(users, &model.UserSummary{User: *u, WarningCount: count})
	}
	return users, classify("list users", rows.Err())
}

// --- Audit Log ---

func (s *SQLiteStore) CreateAuditLogEntry(ctx context.Context, entry *model.AuditLogEntry) error {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = s.nowUTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO audit_log (id, actor, action, guild_id, target_id, details, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.Actor, entry.Action, nullString(entry.GuildID), nullString(entry.TargetID),
		nullString(entry.Details), entry.CreatedAt.UTC().Format(timeFormat))
	return classify("create audit entry", err)
}

func (s *SQLiteStore) ListAuditLog(ctx context.Context, guildID string, limit int) ([]*model.AuditLogEntry, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, actor, action, guild_id, target_id, details, created_at FROM audit_log
		 WHERE guild_id = ? ORDER BY datetime(created_at) DESC, rowid DESC LIMIT ?`,
		guildID, clampLimit(limit, 20, 100))
	if err != nil {
		return nil, classify("list audit log", err)
	}
	defer rows.Close()

	var entries []*model.AuditLogEntry
	for rows.Next() {
		var e model.AuditLogEntry
		var gid, target, details, createdAt sql.NullString
		if err := rows.Scan(&e.ID, &e.Actor, &e.Action, &gid, &target, &details, &createdAt); err != nil {
			return nil, classify("list audit log", err)
		}
		e.GuildID = gid.String
		e.TargetID = target.String
		e.Details = details.String
		e.CreatedAt = parseTime(createdAt.String)
		entries = append(entries, &e)
	}
	return entries, classify("list audit log", rows.Err())
}

// --- Helpers ---

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.UTC().Format(timeFormat), Valid: true}
}

// The bot and the driver hand back timestamps in a few layouts.
var timeLayouts = []string{
	timeFormat,
	time.RFC3339Nano,
	"2006-01-02T15:04:05.000Z",
	"2006-01-02 15:04:05.000",
	dayFormat,
}

func parseTime(s string) time.Time {
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}

func parseNullTime(s sql.NullString) *time.Time {
	if !s.Valid || s.String == "" {
		return nil
	}
	t := parseTime(s.String)
	if t.IsZero() {
		return nil
	}
	return &t
}

func likePattern(q string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return "%" + r.Replace(q) + "%"
}

// clampLimit applies a default to non-positive limits and caps the rest.
func clampLimit(limit, def, ceiling int) int {
	if limit <= 0 {
		return def
	}
	return min(limit, ceiling)
}
