package admin

import (
	"fmt"
	"html/template"
	"io/fs"
	"strings"
	"time"

	"github.com/cardinal-bot/panel/internal/discord"
	"github.com/cardinal-bot/panel/internal/escalation"
	"github.com/cardinal-bot/panel/internal/model"
)

// ParseTemplates parses the page templates and their shared partials.
func ParseTemplates(fsys fs.FS) (*template.Template, error) {
	tmpl, err := template.New("").Funcs(TemplateFuncs()).ParseFS(fsys, "*.html", "partials/*.html")
	if err != nil {
		return nil, fmt.Errorf("parse templates: %w", err)
	}
	return tmpl, nil
}

// TemplateFuncs are the helpers available to every page.
func TemplateFuncs() template.FuncMap {
	return template.FuncMap{
		"risk":       model.RiskLevel,
		"riskIcon":   func(warnings int) string { return model.RiskIcon(model.RiskLevel(warnings)) },
		"duration":   escalation.HumanizeStored,
		"profileURL": discord.ProfileURL,
		"when":       formatTime,
		"whenPtr": func(t *time.Time) string {
			if t == nil {
				return "-"
			}
			return formatTime(*t)
		},
		"day": func(t time.Time) string {
			if t.IsZero() {
				return "-"
			}
			return t.UTC().Format("2006-01-02")
		},
		"pct": func(part, total int) int {
			if total <= 0 {
				return 0
			}
			return part * 100 / total
		},
		"signed": func(n int) string {
			if n > 0 {
				return fmt.Sprintf("+%d", n)
			}
			return fmt.Sprint(n)
		},
		"add":   func(a, b int) int { return a + b },
		"sub":   func(a, b int) int { return a - b },
		"lines": func(words []string) string { return strings.Join(words, "\n") },
		"title": func(s string) string {
			if s == "" {
				return s
			}
			return strings.ToUpper(s[:1]) + s[1:]
		},
	}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.UTC().Format("2006-01-02 15:04")
}
