package model

import (
	"encoding/json"
	"testing"
)

func TestParseGuildConfig_Malformed(t *testing.T) {
	for _, doc := range []string{"", "   ", "null", "{not json", "[1,2]", `"str"`} {
		cfg := ParseGuildConfig(doc)
		if !cfg.IsEmpty() {
			t.Errorf("ParseGuildConfig(%q) = %+v, want empty", doc, cfg)
		}
	}
}

func TestParseGuildConfig_KnownKeys(t *testing.T) {
	cfg := ParseGuildConfig(`{"prefix":"?","language":"en","spam":{"enabled":true,"maxMessages":7,"window":3,"duplicates":false,"action":"mute"},"warnActions":[{"count":3,"action":"mute","duration":"1h"}]}`)
	if cfg.PrefixValue() != "?" {
		t.Errorf("prefix = %q", cfg.PrefixValue())
	}
	if cfg.LanguageValue() != "en" {
		t.Errorf("language = %q", cfg.LanguageValue())
	}
	if s := cfg.SpamValue(); !s.Enabled || s.MaxMessages != 7 || s.Action != "mute" {
		t.Errorf("spam = %+v", s)
	}
	if a, ok := cfg.WarnActionFor(3); !ok || a.Duration != "1h" {
		t.Errorf("WarnActionFor(3) = %+v, %v", a, ok)
	}
	if _, ok := cfg.WarnActionFor(5); ok {
		t.Error("WarnActionFor(5) should be absent")
	}
}

func TestParseGuildConfig_Defaults(t *testing.T) {
	var cfg GuildConfig
	if cfg.PrefixValue() != DefaultPrefix || cfg.LanguageValue() != DefaultLanguage {
		t.Errorf("defaults = %q %q", cfg.PrefixValue(), cfg.LanguageValue())
	}
	if cfg.WarnDecayValue().Days != DefaultWarnDecayDays {
		t.Errorf("decay days = %d", cfg.WarnDecayValue().Days)
	}
	if l := cfg.LogsValue(); !l.LogWarnings || l.LogMessages {
		t.Errorf("logs defaults = %+v", l)
	}
}

func TestGuildConfig_PreservesUnknownKeys(t *testing.T) {
	doc := `{"antiSpam":true,"maxMentions":5,"prefix":"!","spam":"legacy-string"}`
	cfg := ParseGuildConfig(doc)

	// A wrongly shaped known key is kept opaque.
	if cfg.Spam != nil {
		t.Errorf("spam should not decode from a string, got %+v", cfg.Spam)
	}

	out, err := cfg.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	var got map[string]any
	if err := json.Unmarshal([]byte(out), &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got["antiSpam"] != true || got["maxMentions"] != float64(5) {
		t.Errorf("unknown keys lost: %s", out)
	}
	if got["spam"] != "legacy-string" {
		t.Errorf("opaque spam lost: %s", out)
	}
	if got["prefix"] != "!" {
		t.Errorf("prefix lost: %s", out)
	}
}

func TestGuildConfig_NullRoleIsAbsent(t *testing.T) {
	cfg := ParseGuildConfig(`{"mod_role":null,"admin_role":"123456789012345678"}`)
	if cfg.ModRole != nil {
		t.Errorf("mod_role = %v, want nil", *cfg.ModRole)
	}
	if cfg.AdminRoleValue() != "123456789012345678" {
		t.Errorf("admin_role = %q", cfg.AdminRoleValue())
	}
}

func TestPatches_AreSectionScoped(t *testing.T) {
	cfg := ParseGuildConfig(`{"custom":1}`)

	general := &GeneralPatch{Prefix: "?", Language: "en"}
	if err := general.Validate(); err != nil {
		t.Fatalf("general.Validate: %v", err)
	}
	general.Apply(&cfg)

	automod := &AutomodPatch{
		Spam:     SpamConfig{Enabled: true, MaxMessages: 4, Window: 2, Action: "warn"},
		Invites:  InviteConfig{Action: "delete"},
		BadWords: BadWordsConfig{Enabled: true, Words: []string{" foo ", "", "bar\n\nbaz"}},
	}
	if err := automod.Validate(); err != nil {
		t.Fatalf("automod.Validate: %v", err)
	}
	automod.Apply(&cfg)

	if cfg.PrefixValue() != "?" {
		t.Errorf("automod patch clobbered prefix: %q", cfg.PrefixValue())
	}
	if got := cfg.BadWordsValue().Words; len(got) != 3 || got[0] != "foo" || got[2] != "baz" {
		t.Errorf("words = %q", got)
	}
	if _, ok := cfg.Extra()["custom"]; !ok {
		t.Error("unknown key dropped by patches")
	}
}

func TestPatchValidation(t *testing.T) {
	tests := []struct {
		name  string
		patch ConfigPatch
		ok    bool
	}{
		{"general ok", &GeneralPatch{Prefix: "!", Language: "fr", ModRole: "123456789012345678"}, true},
		{"general empty prefix", &GeneralPatch{Prefix: " ", Language: "fr"}, false},
		{"general long prefix", &GeneralPatch{Prefix: "!!!!!!", Language: "fr"}, false},
		{"general bad language", &GeneralPatch{Prefix: "!", Language: "de"}, false},
		{"general bad role", &GeneralPatch{Prefix: "!", Language: "fr", MuteRole: "abc"}, false},
		{"automod spam max low", &AutomodPatch{Spam: SpamConfig{MaxMessages: 1, Window: 5, Action: "warn"}, Invites: InviteConfig{Action: "warn"}}, false},
		{"automod window high", &AutomodPatch{Spam: SpamConfig{MaxMessages: 5, Window: 11, Action: "warn"}, Invites: InviteConfig{Action: "warn"}}, false},
		{"automod bad invite action", &AutomodPatch{Spam: SpamConfig{MaxMessages: 5, Window: 5, Action: "warn"}, Invites: InviteConfig{Action: "ban"}}, false},
		{"sanctions ok", &SanctionsPatch{WarnActions: []WarnAction{{3, "mute", "1h"}, {10, "ban", "permanent"}}, WarnDecay: WarnDecay{Days: 7}}, true},
		{"sanctions bad duration", &SanctionsPatch{WarnActions: []WarnAction{{3, "mute", "1y"}}, WarnDecay: WarnDecay{Days: 7}}, false},
		{"sanctions duplicate tier", &SanctionsPatch{WarnActions: []WarnAction{{3, "mute", "1h"}, {3, "kick", "1h"}}, WarnDecay: WarnDecay{Days: 7}}, false},
		{"sanctions decay out of range", &SanctionsPatch{WarnDecay: WarnDecay{Days: 31}}, false},
		{"logs ok", &LogsPatch{Logs: LogsConfig{Channel: "123456789012345678"}}, true},
		{"logs bad channel", &LogsPatch{Logs: LogsConfig{ModChannel: "12"}}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.patch.Validate()
			if tt.ok && err != nil {
				t.Errorf("Validate() = %v, want nil", err)
			}
			if !tt.ok && err == nil {
				t.Error("Validate() = nil, want error")
			}
		})
	}
}

func TestSanctionsPatch_SortsTiers(t *testing.T) {
	var cfg GuildConfig
	p := &SanctionsPatch{WarnActions: []WarnAction{{10, "ban", "permanent"}, {3, "mute", "1h"}}, WarnDecay: WarnDecay{Days: 7}}
	p.Apply(&cfg)
	if cfg.WarnActions[0].Count != 3 || cfg.WarnActions[1].Count != 10 {
		t.Errorf("tiers = %+v", cfg.WarnActions)
	}
}

func TestValidDuration(t *testing.T) {
	for s, want := range map[string]bool{
		"30s": true, "1h": true, "7d": true, "2w": true, "permanent": true,
		"": false, "0h": false, "1y": false, "h": false, "1.5h": false,
		"15250w": true, "15251w": false, "106752d": false, "99999999999999999999s": false,
	} {
		if got := ValidDuration(s); got != want {
			t.Errorf("ValidDuration(%q) = %v, want %v", s, got, want)
		}
	}
}

func TestRiskLevel(t *testing.T) {
	for n, want := range map[int]string{0: "none", 1: "low", 2: "low", 3: "elevated", 4: "elevated", 5: "high", 12: "high"} {
		if got := RiskLevel(n); got != want {
			t.Errorf("RiskLevel(%d) = %q, want %q", n, got, want)
		}
	}
}
