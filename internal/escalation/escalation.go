// Package escalation maps a member's live active-warning count onto the
// guild's configured warning tiers.
package escalation

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cardinal-bot/panel/internal/model"
	"github.com/cardinal-bot/panel/internal/store"
)

// Store is the subset of the repository the engine needs.
type Store interface {
	GetGuild(ctx context.Context, id string) (*model.Guild, error)
	CountActiveWarnings(ctx context.Context, guildID, userID string) (int, error)
	CreateSanction(ctx context.Context, in *store.NewSanction) (int64, error)
}

// Status is where a member stands against the tiers.
type Status struct {
	ActiveWarnings int
	// Reached is the highest tier at or below ActiveWarnings.
	Reached *model.WarnAction
	// Next is the lowest tier above ActiveWarnings.
	Next *model.WarnAction
}

// Remaining is the number of warnings left before Next triggers.
func (s *Status) Remaining() int {
	if s.Next == nil {
		return 0
	}
	return s.Next.Count - s.ActiveWarnings
}

type Engine struct {
	store  Store
	logger *slog.Logger
	now    func() time.Time
}

func NewEngine(s Store, logger *slog.Logger) *Engine {
	return &Engine{store: s, logger: logger, now: time.Now}
}

// Evaluate reads the member's active warnings and the guild tiers.
func (e *Engine) Evaluate(ctx context.Context, guildID, userID string) (*Status, error) {
	g, err := e.store.GetGuild(ctx, guildID)
	if err != nil {
		return nil, err
	}
	n, err := e.store.CountActiveWarnings(ctx, guildID, userID)
	if err != nil {
		return nil, err
	}
	return Evaluate(g.Config.WarnActions, n), nil
}

// Evaluate places count against tiers, which need not be sorted.
func Evaluate(tiers []model.WarnAction, count int) *Status {
	st := &Status{ActiveWarnings: count}
	for i := range tiers {
		t := tiers[i]
		switch {
		case t.Count <= count:
			if st.Reached == nil || t.Count > st.Reached.Count {
				st.Reached = &t
			}
		default:
			if st.Next == nil || t.Count < st.Next.Count {
				st.Next = &t
			}
		}
	}
	return st
}

// Escalate applies the tier configured for exactly the member's current
// active-warning count, the way the bot does after a warning. It returns
// the created sanction id, or zero when no tier matches.
func (e *Engine) Escalate(ctx context.Context, guildID, userID, moderatorID string) (int64, *model.WarnAction, error) {
	g, err := e.store.GetGuild(ctx, guildID)
	if err != nil {
		return 0, nil, err
	}
	n, err := e.store.CountActiveWarnings(ctx, guildID, userID)
	if err != nil {
		return 0, nil, err
	}
	tier, ok := g.Config.WarnActionFor(n)
	if !ok {
		return 0, nil, nil
	}

	typ, err := model.ParseSanctionType(tier.Action)
	if err != nil {
		return 0, nil, fmt.Errorf("tier %d: %w", tier.Count, err)
	}
	in := &store.NewSanction{
		GuildID:     guildID,
		UserID:      userID,
		ModeratorID: moderatorID,
		Type:        typ,
		Reason:      fmt.Sprintf("Automatic sanction: %d warnings", n),
	}
	if typ == model.SanctionMute {
		d, err := ParseDuration(tier.Duration)
		if err != nil {
			return 0, nil, fmt.Errorf("tier %d: %w", tier.Count, err)
		}
		if d > MaxMute {
			d = MaxMute
		}
		in.Duration = StoredDuration(d)
		if d > 0 {
			at := e.now().Add(d).UTC()
			in.ExpiresAt = &at
		}
	}

	id, err := e.store.CreateSanction(ctx, in)
	if err != nil {
		return 0, nil, fmt.Errorf("escalating %s in %s: %w", userID, guildID, err)
	}
	e.logger.Info("warning tier applied",
		"guild_id", guildID,
		"user_id", userID,
		"warnings", n,
		"action", tier.Action,
		"sanction_id", id,
	)
	return id, &tier, nil
}
