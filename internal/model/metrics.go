package model

import "time"

// DayCount is one point of a per-day series. Day is YYYY-MM-DD.
type DayCount struct {
	Day   string `json:"day"`
	Count int    `json:"count"`
}

// TypeDayCount is a per-day count split by sanction type.
type TypeDayCount struct {
	Day   string       `json:"day"`
	Type  SanctionType `json:"type"`
	Count int          `json:"count"`
}

// KeyCount is a grouped count: a sanction type, a moderator id or a user id.
type KeyCount struct {
	Key   string `json:"key"`
	Label string `json:"label,omitempty"`
	Count int    `json:"count"`
}

// UserCount is a user with the number of warnings they hold.
type UserCount struct {
	UserID   string `json:"user_id"`
	Username string `json:"username"`
	Count    int    `json:"count"`
}

// Bucket is one bar of a histogram.
type Bucket struct {
	Label string `json:"label"`
	Count int    `json:"count"`
}

// MonthCount is one month (YYYY-MM) of member joins.
type MonthCount struct {
	Month string `json:"month"`
	Count int    `json:"count"`
}

// Totals is the card form of a metric: the all-time total and the counts for
// the current window and the window before it.
type Totals struct {
	Total    int `json:"total"`
	Current  int `json:"current"`
	Previous int `json:"previous"`
}

// Delta is Current minus Previous.
func (t Totals) Delta() int { return t.Current - t.Previous }

// ActivityKind distinguishes the two moderation tables in merged feeds.
type ActivityKind string

const (
	KindWarning  ActivityKind = "warning"
	KindSanction ActivityKind = "sanction"
)

// ActivityEntry is one row of a merged warnings/sanctions feed. Action is
// "warning" for warnings and the sanction type otherwise.
type ActivityEntry struct {
	Kind        ActivityKind `json:"kind"`
	ID          int64        `json:"id"`
	Action      string       `json:"action"`
	UserID      string       `json:"user_id"`
	Username    string       `json:"username"`
	ModeratorID string       `json:"moderator_id"`
	Reason      string       `json:"reason"`
	Duration    string       `json:"duration,omitempty"`
	Active      bool         `json:"active"`
	CreatedAt   time.Time    `json:"created_at"`
}

// WatchEntry is a user who crossed the warning threshold.
type WatchEntry struct {
	UserID      string
	Username    string
	Warnings    int
	LastWarning time.Time
	Recent      []*Warning
}

// UserSummary is a users-page row.
type UserSummary struct {
	User
	WarningCount int
}

// RiskLevel classifies a user by warning count.
func (u *UserSummary) RiskLevel() string {
	return RiskLevel(u.WarningCount)
}

// RiskLevel maps a warning count onto the four risk tiers.
func RiskLevel(warnings int) string {
	switch {
	case warnings >= 5:
		return "high"
	case warnings >= 3:
		return "elevated"
	case warnings >= 1:
		return "low"
	}
	return "none"
}

// RiskIcon is the marker shown next to a risk tier.
func RiskIcon(level string) string {
	switch level {
	case "high":
		return "🔴"
	case "elevated":
		return "🟠"
	case "low":
		return "🟡"
	}
	return "🟢"
}

// Overview is everything the dashboard renders for one guild and period.
type Overview struct {
	WindowDays      int
	Warnings        Totals
	Sanctions       Totals
	Automod         Totals
	Users           int
	ActiveSanctions int
	WarningsPerDay  []DayCount
	SanctionsByType []KeyCount
	TopModerators   []KeyCount
	WatchList       []*WatchEntry
	Recent          []*ActivityEntry
}
