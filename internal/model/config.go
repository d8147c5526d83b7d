package model

import (
	"encoding/json"
	"maps"
	"strings"
)

// Config document keys. Keys the panel does not know about (the bot writes a
// few of its own) are preserved verbatim across a load/save cycle.
const (
	keyPrefix      = "prefix"
	keyLanguage    = "language"
	keyModRole     = "mod_role"
	keyAdminRole   = "admin_role"
	keyMuteRole    = "mute_role"
	keySpam        = "spam"
	keyInvites     = "invites"
	keyBadWords    = "badwords"
	keyWarnActions = "warnActions"
	keyWarnDecay   = "warnDecay"
	keyLogs        = "logs"
)

// Defaults shown in forms when a key is absent from the document.
const (
	DefaultPrefix         = "!"
	DefaultLanguage       = "fr"
	DefaultSpamMax        = 5
	DefaultSpamWindow     = 5
	DefaultWarnDecayDays  = 7
	DefaultAutomodAction  = "warn"
	PermanentDurationWord = "permanent"
)

// SpamConfig configures the anti-spam filter.
type SpamConfig struct {
	Enabled     bool   `json:"enabled"`
	MaxMessages int    `json:"maxMessages"`
	Window      int    `json:"window"`
	Duplicates  bool   `json:"duplicates"`
	Action      string `json:"action"`
}

// InviteConfig configures the invite-link filter.
type InviteConfig struct {
	Enabled     bool   `json:"enabled"`
	AllowServer bool   `json:"allowServer"`
	Action      string `json:"action"`
}

// BadWordsConfig configures the word filter.
type BadWordsConfig struct {
	Enabled   bool     `json:"enabled"`
	Words     []string `json:"words"`
	LeetSpeak bool     `json:"leetSpeak"`
	WholeWord bool     `json:"wholeWord"`
}

// WarnAction is an escalation tier: reaching Count active warnings triggers Action.
type WarnAction struct {
	Count    int    `json:"count"`
	Action   string `json:"action"`
	Duration string `json:"duration"`
}

// WarnDecay expires warnings after a number of days.
type WarnDecay struct {
	Enabled bool `json:"enabled"`
	Days    int  `json:"days"`
}

// LogsConfig routes bot events to channels.
type LogsConfig struct {
	Channel        string `json:"channel"`
	ModChannel     string `json:"modChannel"`
	JoinChannel    string `json:"joinChannel"`
	MessageChannel string `json:"messageChannel"`
	LogWarnings    bool   `json:"logWarnings"`
	LogSanctions   bool   `json:"logSanctions"`
	LogJoins       bool   `json:"logJoins"`
	LogMessages    bool   `json:"logMessages"`
	LogEdits       bool   `json:"logEdits"`
	LogVoice       bool   `json:"logVoice"`
}

// GuildConfig is the parsed automod_config document. A nil field means the key
// is absent from the document.
type GuildConfig struct {
	Prefix      *string
	Language    *string
	ModRole     *string
	AdminRole   *string
	MuteRole    *string
	Spam        *SpamConfig
	Invites     *InviteConfig
	BadWords    *BadWordsConfig
	WarnActions []WarnAction
	WarnDecay   *WarnDecay
	Logs        *LogsConfig

	extra map[string]json.RawMessage
}

// ParseGuildConfig decodes a stored document. Null, blank or malformed input
// yields an empty configuration.
func ParseGuildConfig(doc string) GuildConfig {
	var cfg GuildConfig
	if strings.TrimSpace(doc) == "" {
		return cfg
	}
	if err := json.Unmarshal([]byte(doc), &cfg); err != nil {
		return GuildConfig{}
	}
	return cfg
}

// IsEmpty reports whether the document has no keys at all.
func (c *GuildConfig) IsEmpty() bool {
	b, _ := c.MarshalJSON()
	return string(b) == "{}"
}

// UnmarshalJSON decodes the known keys. A known key whose value has the wrong
// shape is kept as an opaque value so it survives a save unchanged.
func (c *GuildConfig) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*c = GuildConfig{}
	for key, value := range raw {
		if string(value) == "null" && isKnownKey(key) {
			continue
		}
		var err error
		switch key {
		case keyPrefix:
			err = decodeInto(value, &c.Prefix)
		case keyLanguage:
			err = decodeInto(value, &c.Language)
		case keyModRole:
			err = decodeInto(value, &c.ModRole)
		case keyAdminRole:
			err = decodeInto(value, &c.AdminRole)
		case keyMuteRole:
			err = decodeInto(value, &c.MuteRole)
		case keySpam:
			err = decodeInto(value, &c.Spam)
		case keyInvites:
			err = decodeInto(value, &c.Invites)
		case keyBadWords:
			err = decodeInto(value, &c.BadWords)
		case keyWarnActions:
			err = decodeInto(value, &c.WarnActions)
		case keyWarnDecay:
			err = decodeInto(value, &c.WarnDecay)
		case keyLogs:
			err = decodeInto(value, &c.Logs)
		default:
			c.keep(key, value)
		}
		if err != nil {
			c.keep(key, value)
		}
	}
	return nil
}

// MarshalJSON encodes the document, known keys first by value, then every
// preserved unknown key.
func (c GuildConfig) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(c.extra)+11)
	for k, v := range c.extra {
		out[k] = v
	}
	set := func(key string, present bool, v any) {
		if present {
			out[key] = v
		}
	}
	set(keyPrefix, c.Prefix != nil, c.Prefix)
	set(keyLanguage, c.Language != nil, c.Language)
	set(keyModRole, c.ModRole != nil, c.ModRole)
	set(keyAdminRole, c.AdminRole != nil, c.AdminRole)
	set(keyMuteRole, c.MuteRole != nil, c.MuteRole)
	set(keySpam, c.Spam != nil, c.Spam)
	set(keyInvites, c.Invites != nil, c.Invites)
	set(keyBadWords, c.BadWords != nil, c.BadWords)
	set(keyWarnActions, c.WarnActions != nil, c.WarnActions)
	set(keyWarnDecay, c.WarnDecay != nil, c.WarnDecay)
	set(keyLogs, c.Logs != nil, c.Logs)
	return json.Marshal(out)
}

// Encode returns the document form stored in automod_config.
func (c GuildConfig) Encode() (string, error) {
	b, err := c.MarshalJSON()
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Clone returns a deep copy.
func (c GuildConfig) Clone() GuildConfig {
	b, err := c.MarshalJSON()
	if err != nil {
		return GuildConfig{}
	}
	var out GuildConfig
	if err := json.Unmarshal(b, &out); err != nil {
		return GuildConfig{}
	}
	return out
}

// Extra returns a copy of the keys the panel does not interpret.
func (c *GuildConfig) Extra() map[string]json.RawMessage {
	return maps.Clone(c.extra)
}

func (c *GuildConfig) keep(key string, value json.RawMessage) {
	if c.extra == nil {
		c.extra = make(map[string]json.RawMessage)
	}
	c.extra[key] = value
}

func isKnownKey(key string) bool {
	switch key {
	case keyPrefix, keyLanguage, keyModRole, keyAdminRole, keyMuteRole,
		keySpam, keyInvites, keyBadWords, keyWarnActions, keyWarnDecay, keyLogs:
		return true
	}
	return false
}

func decodeInto[T any](value json.RawMessage, dst *T) error {
	var v T
	if err := json.Unmarshal(value, &v); err != nil {
		return err
	}
	*dst = v
	return nil
}

// --- Form views: absent keys resolved to their defaults ---

func (c *GuildConfig) PrefixValue() string {
	if c.Prefix == nil {
		return DefaultPrefix
	}
	return *c.Prefix
}

func (c *GuildConfig) LanguageValue() string {
	if c.Language == nil {
		return DefaultLanguage
	}
	return *c.Language
}

func (c *GuildConfig) ModRoleValue() string   { return deref(c.ModRole) }
func (c *GuildConfig) AdminRoleValue() string { return deref(c.AdminRole) }
func (c *GuildConfig) MuteRoleValue() string  { return deref(c.MuteRole) }

func (c *GuildConfig) SpamValue() SpamConfig {
	if c.Spam == nil {
		return SpamConfig{MaxMessages: DefaultSpamMax, Window: DefaultSpamWindow, Duplicates: true, Action: DefaultAutomodAction}
	}
	return *c.Spam
}

func (c *GuildConfig) InvitesValue() InviteConfig {
	if c.Invites == nil {
		return InviteConfig{Action: DefaultAutomodAction}
	}
	return *c.Invites
}

func (c *GuildConfig) BadWordsValue() BadWordsConfig {
	if c.BadWords == nil {
		return BadWordsConfig{LeetSpeak: true, WholeWord: true}
	}
	return *c.BadWords
}

func (c *GuildConfig) WarnDecayValue() WarnDecay {
	if c.WarnDecay == nil {
		return WarnDecay{Days: DefaultWarnDecayDays}
	}
	return *c.WarnDecay
}

func (c *GuildConfig) LogsValue() LogsConfig {
	if c.Logs == nil {
		return LogsConfig{LogWarnings: true, LogSanctions: true, LogJoins: true}
	}
	return *c.Logs
}

// WarnActionFor returns the configured tier for exactly count warnings.
func (c *GuildConfig) WarnActionFor(count int) (WarnAction, bool) {
	for _, a := range c.WarnActions {
		if a.Count == count {
			return a, true
		}
	}
	return WarnAction{}, false
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func ptr[T any](v T) *T { return &v }
