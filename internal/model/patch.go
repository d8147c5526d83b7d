package model

import (
	"fmt"
	"math"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/disgoorg/snowflake/v2"
)

// ConfigPatch is the change produced by one settings tab. Apply touches only
// the keys owned by that tab, so two tabs saved back to back never erase each
// other's sections.
type ConfigPatch interface {
	Section() string
	Validate() error
	Apply(cfg *GuildConfig)
}

// ValidationError reports a rejected form field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

var durationRe = regexp.MustCompile(`^([1-9][0-9]{0,18})([smhdw])$`)

var durationUnitSize = map[string]time.Duration{
	"s": time.Second,
	"m": time.Minute,
	"h": time.Hour,
	"d": 24 * time.Hour,
	"w": 7 * 24 * time.Hour,
}

// ValidDuration reports whether s is a sanction duration such as 30m, 1d or
// "permanent". The amount must fit in a time.Duration.
func ValidDuration(s string) bool {
	if s == PermanentDurationWord {
		return true
	}
	m := durationRe.FindStringSubmatch(s)
	if m == nil {
		return false
	}
	n, err := strconv.ParseInt(m[1], 10, 64)
	return err == nil && n <= math.MaxInt64/int64(durationUnitSize[m[2]])
}

// ValidSnowflake reports whether s parses as a Discord id.
func ValidSnowflake(s string) bool {
	if len(s) < 17 || len(s) > 20 {
		return false
	}
	_, err := snowflake.Parse(s)
	return err == nil
}

// Languages supported by the bot.
var Languages = []string{"fr", "en"}

// Form choices per automod filter.
var (
	SpamActions    = []string{"warn", "mute", "kick"}
	InviteActions  = []string{"warn", "mute", "delete"}
	EscalationActs = []string{"mute", "kick", "ban"}
	WarnTierCounts = []int{3, 5, 10}
)

// GeneralPatch is the "general" settings tab.
type GeneralPatch struct {
	Prefix    string
	Language  string
	ModRole   string
	AdminRole string
	MuteRole  string
}

func (p *GeneralPatch) Section() string { return "general" }

func (p *GeneralPatch) Validate() error {
	prefix := strings.TrimSpace(p.Prefix)
	if prefix == "" || len(prefix) > 5 {
		return invalid("prefix", "must be 1 to 5 characters")
	}
	if !slices.Contains(Languages, p.Language) {
		return invalid("language", "unsupported language %q", p.Language)
	}
	for field, id := range map[string]string{"mod_role": p.ModRole, "admin_role": p.AdminRole, "mute_role": p.MuteRole} {
		if id != "" && !ValidSnowflake(id) {
			return invalid(field, "not a Discord id")
		}
	}
	return nil
}

func (p *GeneralPatch) Apply(cfg *GuildConfig) {
	cfg.Prefix = ptr(strings.TrimSpace(p.Prefix))
	cfg.Language = ptr(p.Language)
	cfg.ModRole = optional(p.ModRole)
	cfg.AdminRole = optional(p.AdminRole)
	cfg.MuteRole = optional(p.MuteRole)
}

// AutomodPatch is the "automod" settings tab.
type AutomodPatch struct {
	Spam     SpamConfig
	Invites  InviteConfig
	BadWords BadWordsConfig
}

func (p *AutomodPatch) Section() string { return "automod" }

func (p *AutomodPatch) Validate() error {
	if p.Spam.MaxMessages < 2 || p.Spam.MaxMessages > 10 {
		return invalid("spam.maxMessages", "must be between 2 and 10")
	}
	if p.Spam.Window < 1 || p.Spam.Window > 10 {
		return invalid("spam.window", "must be between 1 and 10")
	}
	if !slices.Contains(SpamActions, p.Spam.Action) {
		return invalid("spam.action", "unsupported action %q", p.Spam.Action)
	}
	if !slices.Contains(InviteActions, p.Invites.Action) {
		return invalid("invites.action", "unsupported action %q", p.Invites.Action)
	}
	return nil
}

func (p *AutomodPatch) Apply(cfg *GuildConfig) {
	spam, invites, words := p.Spam, p.Invites, p.BadWords
	words.Words = SplitWords(strings.Join(words.Words, "\n"))
	cfg.Spam = &spam
	cfg.Invites = &invites
	cfg.BadWords = &words
}

// SplitWords turns a one-per-line text area into a clean word list.
func SplitWords(text string) []string {
	words := []string{}
	for _, line := range strings.Split(text, "\n") {
		if w := strings.TrimSpace(line); w != "" {
			words = append(words, w)
		}
	}
	return words
}

// SanctionsPatch is the automatic sanctions tab: warn tiers and decay.
type SanctionsPatch struct {
	WarnActions []WarnAction
	WarnDecay   WarnDecay
}

func (p *SanctionsPatch) Section() string { return "sanctions" }

func (p *SanctionsPatch) Validate() error {
	seen := make(map[int]bool)
	for _, a := range p.WarnActions {
		if a.Count < 1 {
			return invalid("warnActions", "tier count must be positive")
		}
		if seen[a.Count] {
			return invalid("warnActions", "duplicate tier %d", a.Count)
		}
		seen[a.Count] = true
		if !slices.Contains(EscalationActs, a.Action) {
			return invalid("warnActions", "unsupported action %q", a.Action)
		}
		if !ValidDuration(a.Duration) {
			return invalid("warnActions", "invalid duration %q", a.Duration)
		}
	}
	if p.WarnDecay.Days < 1 || p.WarnDecay.Days > 30 {
		return invalid("warnDecay.days", "must be between 1 and 30")
	}
	return nil
}

func (p *SanctionsPatch) Apply(cfg *GuildConfig) {
	actions := slices.Clone(p.WarnActions)
	if actions == nil {
		actions = []WarnAction{}
	}
	slices.SortFunc(actions, func(a, b WarnAction) int { return a.Count - b.Count })
	decay := p.WarnDecay
	cfg.WarnActions = actions
	cfg.WarnDecay = &decay
}

// LogsPatch is the logs tab.
type LogsPatch struct {
	Logs LogsConfig
}

func (p *LogsPatch) Section() string { return "logs" }

func (p *LogsPatch) Validate() error {
	for field, id := range map[string]string{
		"logs.channel":        p.Logs.Channel,
		"logs.modChannel":     p.Logs.ModChannel,
		"logs.joinChannel":    p.Logs.JoinChannel,
		"logs.messageChannel": p.Logs.MessageChannel,
	} {
		if id != "" && !ValidSnowflake(id) {
			return invalid(field, "not a Discord id")
		}
	}
	return nil
}

func (p *LogsPatch) Apply(cfg *GuildConfig) {
	logs := p.Logs
	cfg.Logs = &logs
}

func optional(s string) *string {
	if s = strings.TrimSpace(s); s == "" {
		return nil
	}
	return &s
}
