package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/cardinal-bot/panel/internal/model"
)

func TestCreateSanction_RoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedGuild(t, s, "g", "Guild", "{}")

	expires := testNow.Add(24 * time.Hour)
	inactive := false
	inputs := []*NewSanction{
		{GuildID: "g", UserID: "u1", ModeratorID: "m1", Type: model.SanctionMute, Reason: "flooding", Duration: "1d", ExpiresAt: &expires},
		{GuildID: "g", UserID: "u1", ModeratorID: "m2", Type: model.SanctionBan, Reason: "raid", Duration: "permanent", Active: &inactive},
		{GuildID: "g", UserID: "u1", ModeratorID: "m3", Type: model.SanctionKick},
	}

	ids := make(map[int64]*NewSanction)
	for _, in := range inputs {
		id, err := s.CreateSanction(ctx, in)
		if err != nil {
			t.Fatalf("CreateSanction: %v", err)
		}
		ids[id] = in
	}

	got, err := s.ListSanctionsByUser(ctx, "g", "u1")
	if err != nil {
		t.Fatalf("ListSanctionsByUser: %v", err)
	}
	if len(got) != len(inputs) {
		t.Fatalf("got %d sanctions, want %d", len(got), len(inputs))
	}
	for _, sc := range got {
		in, ok := ids[sc.ID]
		if !ok {
			t.Fatalf("unexpected id %d", sc.ID)
		}
		if sc.GuildID != in.GuildID || sc.UserID != in.UserID || sc.ModeratorID != in.ModeratorID {
			t.Errorf("%d: ids = %s/%s/%s", sc.ID, sc.GuildID, sc.UserID, sc.ModeratorID)
		}
		if sc.Type != in.Type {
			t.Errorf("%d: type = %q, want %q", sc.ID, sc.Type, in.Type)
		}
		if sc.Reason != in.Reason {
			t.Errorf("%d: reason = %q, want %q", sc.ID, sc.Reason, in.Reason)
		}
		if sc.Duration != in.Duration {
			t.Errorf("%d: duration = %q, want %q", sc.ID, sc.Duration, in.Duration)
		}
		switch {
		case in.ExpiresAt == nil && sc.ExpiresAt != nil:
			t.Errorf("%d: expires_at = %v, want nil", sc.ID, sc.ExpiresAt)
		case in.ExpiresAt != nil && (sc.ExpiresAt == nil || !sc.ExpiresAt.Equal(*in.ExpiresAt)):
			t.Errorf("%d: expires_at = %v, want %v", sc.ID, sc.ExpiresAt, in.ExpiresAt)
		}
		wantActive := in.Active == nil || *in.Active
		if sc.Active != wantActive {
			t.Errorf("%d: active = %v, want %v", sc.ID, sc.Active, wantActive)
		}
		if !sc.CreatedAt.Equal(testNow) {
			t.Errorf("%d: created_at = %v", sc.ID, sc.CreatedAt)
		}
		if sc.RemovedAt != nil {
			t.Errorf("%d: removed_at = %v, want nil", sc.ID, sc.RemovedAt)
		}
	}
}

func TestCreateSanction_Rejects(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedGuild(t, s, "g", "Guild", "{}")

	tests := []struct {
		name string
		in   *NewSanction
	}{
		{"unknown type", &NewSanction{GuildID: "g", UserID: "u", ModeratorID: "m", Type: "yeet"}},
		{"missing user", &NewSanction{GuildID: "g", ModeratorID: "m", Type: model.SanctionBan}},
		{"unknown guild", &NewSanction{GuildID: "nope", UserID: "u", ModeratorID: "m", Type: model.SanctionBan}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.CreateSanction(ctx, tt.in)
			if !errors.Is(err, ErrValidation) {
				t.Errorf("err = %v, want ErrValidation", err)
			}
		})
	}
}

func TestDeactivateSanction(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedGuild(t, s, "g", "Guild", "{}")
	keep := seedSanction(t, s, "g", "u1", "mute", true, daysAgo(2))
	target := seedSanction(t, s, "g", "u2", "ban", true, daysAgo(1))

	if err := s.DeactivateSanction(ctx, "g", target); err != nil {
		t.Fatalf("DeactivateSanction: %v", err)
	}

	active, err := s.ListActiveSanctions(ctx, "g")
	if err != nil {
		t.Fatalf("ListActiveSanctions: %v", err)
	}
	if len(active) != 1 || active[0].ID != keep {
		t.Errorf("active = %+v, want only %d", active, keep)
	}

	sc, err := s.GetSanction(ctx, "g", target)
	if err != nil {
		t.Fatalf("GetSanction: %v", err)
	}
	if sc.Active {
		t.Error("sanction still active")
	}
	if sc.RemovedAt == nil || !sc.RemovedAt.Equal(testNow) {
		t.Fatalf("removed_at = %v, want %v", sc.RemovedAt, testNow)
	}

	// Deactivating again succeeds and does not re-stamp.
	restore := setClock(s, testNow.Add(time.Hour))
	defer restore()
	if err := s.DeactivateSanction(ctx, "g", target); err != nil {
		t.Fatalf("second DeactivateSanction: %v", err)
	}
	sc, _ = s.GetSanction(ctx, "g", target)
	if !sc.RemovedAt.Equal(testNow) {
		t.Errorf("removed_at re-stamped to %v", sc.RemovedAt)
	}
}

// setClock moves the store clock and returns a func restoring it.
func setClock(s *SQLiteStore, at time.Time) func() {
	prev := s.now
	s.now = func() time.Time { return at }
	return func() { s.now = prev }
}

func TestDeactivateSanction_NotFound(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedGuild(t, s, "g", "Guild", "{}")
	seedGuild(t, s, "h", "Other", "{}")
	id := seedSanction(t, s, "h", "u", "ban", true, daysAgo(1))

	if err := s.DeactivateSanction(ctx, "g", 9999); !errors.Is(err, ErrNotFound) {
		t.Errorf("unknown id err = %v, want ErrNotFound", err)
	}
	if err := s.DeactivateSanction(ctx, "g", id); !errors.Is(err, ErrNotFound) {
		t.Errorf("other guild's id err = %v, want ErrNotFound", err)
	}
	sc, _ := s.GetSanction(ctx, "h", id)
	if !sc.Active {
		t.Error("sanction of another guild was deactivated")
	}
}

func TestDeleteSanction(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedGuild(t, s, "g", "Guild", "{}")
	active := seedSanction(t, s, "g", "u", "ban", true, daysAgo(1))
	inactive := seedSanction(t, s, "g", "u", "mute", false, daysAgo(1))

	for _, id := range []int64{active, inactive} {
		if err := s.DeleteSanction(ctx, "g", id); err != nil {
			t.Errorf("DeleteSanction(%d): %v", id, err)
		}
		if _, err := s.GetSanction(ctx, "g", id); !errors.Is(err, ErrNotFound) {
			t.Errorf("GetSanction(%d) after delete err = %v", id, err)
		}
	}
	if err := s.DeleteSanction(ctx, "g", active); !errors.Is(err, ErrNotFound) {
		t.Errorf("second delete err = %v, want ErrNotFound", err)
	}
}

func TestListSanctions(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedGuild(t, s, "g", "Guild", "{}")
	seedUser(t, s, "g", "u1", "alice", daysAgo(30), true)
	for i := 0; i < 120; i++ {
		typ := "mute"
		if i%3 == 0 {
			typ = "ban"
		}
		seedSanction(t, s, "g", "u1", typ, i%2 == 0, daysAgo(0, -time.Duration(i)*time.Minute))
	}

	all, err := s.ListSanctionsByGuild(ctx, "g", 0)
	if err != nil {
		t.Fatalf("ListSanctionsByGuild: %v", err)
	}
	if len(all) != MaxListRows {
		t.Errorf("len = %d, want cap %d", len(all), MaxListRows)
	}
	for i := 1; i < len(all); i++ {
		if all[i].CreatedAt.After(all[i-1].CreatedAt) {
			t.Fatalf("not newest first at %d", i)
		}
	}
	if all[0].Username != "alice" {
		t.Errorf("username = %q, want join on users", all[0].Username)
	}

	bans, err := s.ListSanctionsByType(ctx, "g", model.SanctionBan)
	if err != nil {
		t.Fatalf("ListSanctionsByType: %v", err)
	}
	if len(bans) != 40 {
		t.Errorf("bans = %d, want 40", len(bans))
	}
	for _, b := range bans {
		if b.Type != model.SanctionBan {
			t.Fatalf("type = %q", b.Type)
		}
	}
}

func TestSearchSanctions(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedGuild(t, s, "g", "Guild", "{}")
	seedSanction(t, s, "g", "111", "ban", true, daysAgo(1))
	seedSanction(t, s, "g", "112", "mute", false, daysAgo(2))
	seedSanction(t, s, "g", "222", "mute", true, daysAgo(3))

	tests := []struct {
		name      string
		f         SanctionFilter
		wantTotal int
		wantPage  int
	}{
		{"all", SanctionFilter{GuildID: "g"}, 3, 3},
		{"user prefix", SanctionFilter{GuildID: "g", UserQuery: "11"}, 2, 2},
		{"type", SanctionFilter{GuildID: "g", Type: model.SanctionMute}, 2, 2},
		{"active", SanctionFilter{GuildID: "g", Status: StatusActive}, 2, 2},
		{"inactive mute", SanctionFilter{GuildID: "g", Status: StatusInactive, Type: model.SanctionMute}, 1, 1},
		{"paged", SanctionFilter{GuildID: "g", Limit: 2, Offset: 2}, 3, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			list, total, err := s.SearchSanctions(ctx, tt.f)
			if err != nil {
				t.Fatalf("SearchSanctions: %v", err)
			}
			if total != tt.wantTotal || len(list) != tt.wantPage {
				t.Errorf("total %d page %d, want %d %d", total, len(list), tt.wantTotal, tt.wantPage)
			}
		})
	}
}

func TestSanctionStatsByDay_Window(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedGuild(t, s, "g", "Guild", "{}")
	for _, d := range []int{0, 0, 1, 6, 7, 8, 30} {
		seedSanction(t, s, "g", "u", "mute", true, daysAgo(d))
	}
	seedSanction(t, s, "g", "u", "ban", true, daysAgo(7))

	stats, err := s.SanctionStatsByDay(ctx, "g", 7)
	if err != nil {
		t.Fatalf("SanctionStatsByDay: %v", err)
	}
	start, end := testNow.AddDate(0, 0, -7).Format(dayFormat), testNow.Format(dayFormat)
	total := 0
	for i, c := range stats {
		if c.Day < start || c.Day > end {
			t.Errorf("day %s outside [%s, %s]", c.Day, start, end)
		}
		if i > 0 && stats[i-1].Day > c.Day {
			t.Errorf("not ascending at %d", i)
		}
		var direct int
		if err := s.db.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM sanctions WHERE guild_id = 'g' AND date(created_at) = ? AND type = ?`,
			c.Day, string(c.Type)).Scan(&direct); err != nil {
			t.Fatal(err)
		}
		if direct != c.Count {
			t.Errorf("%s/%s: count %d, direct %d", c.Day, c.Type, c.Count, direct)
		}
		total += c.Count
	}
	if total != 6 {
		t.Errorf("total in window = %d, want 6", total)
	}
}
