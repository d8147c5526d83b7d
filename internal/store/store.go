package store

import (
	"context"

	"github.com/cardinal-bot/panel/internal/model"
)

// GuildStore reads guilds and writes their settings.
type GuildStore interface {
	ListGuilds(ctx context.Context) ([]*model.Guild, error)
	GetGuild(ctx context.Context, id string) (*model.Guild, error)
	GetGuildStats(ctx context.Context, id string) (*model.GuildStats, error)
	UpdateGuildSettings(ctx context.Context, id string, update *GuildUpdate) error
	UpdateGuildConfigSection(ctx context.Context, id string, expectedVersion int64, patch model.ConfigPatch) (*model.Guild, error)
}

// SanctionStore reads and writes sanctions.
type SanctionStore interface {
	ListSanctionsByGuild(ctx context.Context, guildID string, limit int) ([]*model.Sanction, error)
	ListSanctionsByUser(ctx context.Context, guildID, userID string) ([]*model.Sanction, error)
	ListActiveSanctions(ctx context.Context, guildID string) ([]*model.Sanction, error)
	ListSanctionsByType(ctx context.Context, guildID string, t model.SanctionType) ([]*model.Sanction, error)
	SearchSanctions(ctx context.Context, f SanctionFilter) ([]*model.Sanction, int, error)
	SanctionStatsByType(ctx context.Context, guildID string) ([]model.KeyCount, error)
	SanctionStatsByDay(ctx context.Context, guildID string, days int) ([]model.TypeDayCount, error)
	GetSanction(ctx context.Context, guildID string, id int64) (*model.Sanction, error)
	CreateSanction(ctx context.Context, in *NewSanction) (int64, error)
	DeactivateSanction(ctx context.Context, guildID string, id int64) error
	DeleteSanction(ctx context.Context, guildID string, id int64) error
}

// WarningStore reads and writes warnings.
type WarningStore interface {
	ListWarningsByGuild(ctx context.Context, guildID string, limit int) ([]*model.Warning, error)
	ListWarningsByUser(ctx context.Context, guildID, userID string) ([]*model.Warning, error)
	ListActiveWarningsByUser(ctx context.Context, guildID, userID string) ([]*model.Warning, error)
	ListRecentWarnings(ctx context.Context, guildID string, days int) ([]*model.Warning, error)
	SearchWarnings(ctx context.Context, f WarningFilter) ([]*model.Warning, int, error)
	WarningStatsByDay(ctx context.Context, guildID string, days int) ([]model.DayCount, error)
	TopWarnedUsers(ctx context.Context, guildID string, limit int) ([]model.UserCount, error)
	CountActiveWarnings(ctx context.Context, guildID, userID string) (int, error)
	CreateWarning(ctx context.Context, w *model.Warning) (int64, error)
	DeleteWarnings(ctx context.Context, guildID string, ids ...int64) (int64, error)
}

// UserStore reads tracked members.
type UserStore interface {
	GetUser(ctx context.Context, guildID, discordID string) (*model.User, error)
	ListUsers(ctx context.Context, f UserFilter) ([]*model.UserSummary, error)
}

// ReportingStore serves the aggregate queries behind the dashboard, users
// and logs pages.
type ReportingStore interface {
	Metrics(ctx context.Context, q MetricQuery) (*MetricResult, error)
	RecentActivity(ctx context.Context, guildID string, limit int) ([]*model.ActivityEntry, error)
	ModerationLog(ctx context.Context, f LogFilter) ([]*model.ActivityEntry, error)
	WatchList(ctx context.Context, q WatchQuery) ([]*model.WatchEntry, error)
	WarningDistribution(ctx context.Context, guildID string) ([]model.Bucket, error)
	JoinsByMonth(ctx context.Context, guildID string, months int) ([]model.MonthCount, error)
	Overview(ctx context.Context, guildID string, windowDays int) (*model.Overview, error)
}

// AuditStore records panel mutations.
type AuditStore interface {
	CreateAuditLogEntry(ctx context.Context, entry *model.AuditLogEntry) error
	ListAuditLog(ctx context.Context, guildID string, limit int) ([]*model.AuditLogEntry, error)
}

// Store defines the persistence interface for the panel.
type Store interface {
	GuildStore
	SanctionStore
	WarningStore
	UserStore
	ReportingStore
	AuditStore
}

// SanctionStatus filters sanctions by lifecycle state.
type SanctionStatus string

const (
	StatusAny      SanctionStatus = ""
	StatusActive   SanctionStatus = "active"
	StatusInactive SanctionStatus = "inactive"
)

// SanctionFilter drives the moderation page sanctions table.
type SanctionFilter struct {
	GuildID   string
	UserQuery string // substring of user_id
	Type      model.SanctionType
	Status    SanctionStatus
	Limit     int
	Offset    int
}

// WarningSort orders the moderation page warnings table.
type WarningSort string

const (
	SortNewest WarningSort = "newest"
	SortOldest WarningSort = "oldest"
	SortUser   WarningSort = "user"
)

// WarningFilter drives the moderation page warnings table.
type WarningFilter struct {
	GuildID   string
	UserQuery string
	Sort      WarningSort
	Limit     int
	Offset    int
}

// WarningBand filters users by how many warnings they hold.
type WarningBand string

const (
	BandAll     WarningBand = ""
	BandWith    WarningBand = "with"
	BandWithout WarningBand = "without"
	BandThreeUp WarningBand = "3plus"
)

// UserFilter drives the users page list.
type UserFilter struct {
	GuildID         string
	Query           string // substring of discord_id or username
	Band            WarningBand
	IncludeInactive bool
	Limit           int
	Offset          int
}

// Period is a logs page time filter.
type Period string

const (
	PeriodToday Period = "today"
	Period7d    Period = "7d"
	Period30d   Period = "30d"
	PeriodAll   Period = "all"
)

// LogFilter drives the logs page. Action is "warning", a sanction type, or
// empty for everything.
type LogFilter struct {
	GuildID     string
	Action      string
	Period      Period
	ModeratorID string
	UserID      string
	Limit       int
}

// WatchQuery selects users with at least MinWarnings warnings, optionally
// only counting warnings from the last WindowDays days.
type WatchQuery struct {
	GuildID     string
	WindowDays  int
	MinWarnings int
	Limit       int
	Recent      int // recent warnings attached to each entry
}
