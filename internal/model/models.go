package model

import (
	"fmt"
	"time"
)

// SanctionType enumerates enforcement actions.
type SanctionType string

const (
	SanctionMute    SanctionType = "mute"
	SanctionKick    SanctionType = "kick"
	SanctionBan     SanctionType = "ban"
	SanctionUnban   SanctionType = "unban"
	SanctionUnmute  SanctionType = "unmute"
	SanctionTimeout SanctionType = "timeout" // written by the bot for native timeouts
)

// SanctionTypes lists the types offered in filters and forms, in display order.
var SanctionTypes = []SanctionType{SanctionMute, SanctionKick, SanctionBan, SanctionUnban, SanctionUnmute}

// Valid reports whether t is a known sanction type.
func (t SanctionType) Valid() bool {
	switch t {
	case SanctionMute, SanctionKick, SanctionBan, SanctionUnban, SanctionUnmute, SanctionTimeout:
		return true
	}
	return false
}

// ParseSanctionType validates a type coming from a form or query string.
func ParseSanctionType(s string) (SanctionType, error) {
	t := SanctionType(s)
	if !t.Valid() {
		return "", fmt.Errorf("unknown sanction type %q", s)
	}
	return t, nil
}

// Guild is a moderated community.
type Guild struct {
	ID            string
	Name          string
	Config        GuildConfig
	ConfigVersion int64
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// GuildStats holds the four per-guild counters shown in the guild header.
type GuildStats struct {
	TotalWarnings   int
	TotalSanctions  int
	ActiveSanctions int
	TrackedUsers    int
}

// User is a member tracked by the bot. Identity is (GuildID, DiscordID).
type User struct {
	DiscordID      string
	GuildID        string
	Username       string
	ServerUsername string
	JoinedAt       *time.Time
	CreatedAt      time.Time
	IsActive       bool
}

// DisplayName prefers the server nickname, then the account name, then the id.
func (u *User) DisplayName() string {
	switch {
	case u.ServerUsername != "":
		return u.ServerUsername
	case u.Username != "":
		return u.Username
	}
	return u.DiscordID
}

// Warning is a non-enforcing moderation note.
type Warning struct {
	ID          int64
	GuildID     string
	UserID      string
	ModeratorID string
	Reason      string
	Active      bool
	CreatedAt   time.Time

	// Username is filled from the users table when the row is joined.
	Username string
}

// Sanction is an enforcement action with an active/inactive lifecycle.
type Sanction struct {
	ID          int64
	GuildID     string
	UserID      string
	ModeratorID string
	Type        SanctionType
	Reason      string
	Duration    string
	ExpiresAt   *time.Time
	Active      bool
	CreatedAt   time.Time
	RemovedAt   *time.Time

	Username string
}

// AuditLogEntry records a mutation made through the panel.
type AuditLogEntry struct {
	ID        string
	Actor     string
	Action    string
	GuildID   string
	TargetID  string
	Details   string
	CreatedAt time.Time
}
