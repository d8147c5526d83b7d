package escalation

import (
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/cardinal-bot/panel/internal/model"
)

// MaxMute is the longest timeout Discord accepts.
const MaxMute = 28 * 24 * time.Hour

var ErrInvalidDuration = errors.New("invalid duration: use 30m, 2h, 1d, 1w or permanent")

var (
	durationPart = regexp.MustCompile(`(?i)(\d+)\s*([smhdw])`)
	durationFull = regexp.MustCompile(`(?i)^(\s*\d+\s*[smhdw])+\s*$`)
)

var durationUnits = map[string]time.Duration{
	"s": time.Second,
	"m": time.Minute,
	"h": time.Hour,
	"d": 24 * time.Hour,
	"w": 7 * 24 * time.Hour,
}

// ParseDuration reads durations such as "1d", "2h30m" or "permanent". A
// permanent (or empty) duration is zero.
func ParseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" || strings.EqualFold(s, model.PermanentDurationWord) {
		return 0, nil
	}
	if !durationFull.MatchString(s) {
		return 0, fmt.Errorf("%w: %q", ErrInvalidDuration, s)
	}
	var total time.Duration
	for _, m := range durationPart.FindAllStringSubmatch(s, -1) {
		n, err := strconv.ParseInt(m[1], 10, 64)
		unit := durationUnits[strings.ToLower(m[2])]
		if err != nil || n <= 0 || n > math.MaxInt64/int64(unit) {
			return 0, fmt.Errorf("%w: %q", ErrInvalidDuration, s)
		}
		part := time.Duration(n) * unit
		if total > math.MaxInt64-part {
			return 0, fmt.Errorf("%w: %q", ErrInvalidDuration, s)
		}
		total += part
	}
	return total, nil
}

// ExpiresAt is from+duration, or nil for a permanent duration.
func ExpiresAt(from time.Time, duration string) (*time.Time, error) {
	d, err := ParseDuration(duration)
	if err != nil || d == 0 {
		return nil, err
	}
	t := from.Add(d).UTC()
	return &t, nil
}

// StoredDuration renders a duration the way the bot writes the sanctions
// column: whole seconds, empty when permanent.
func StoredDuration(d time.Duration) string {
	if d <= 0 {
		return ""
	}
	return strconv.FormatInt(int64(d/time.Second), 10)
}

// FormatDuration renders d compactly, largest unit first ("1w 2d 3h").
func FormatDuration(d time.Duration) string {
	if d <= 0 {
		return model.PermanentDurationWord
	}
	var parts []string
	for _, u := range []struct {
		suffix string
		size   time.Duration
	}{{"w", durationUnits["w"]}, {"d", durationUnits["d"]}, {"h", time.Hour}, {"m", time.Minute}, {"s", time.Second}} {
		if n := d / u.size; n > 0 {
			parts = append(parts, strconv.FormatInt(int64(n), 10)+u.suffix)
			d -= n * u.size
		}
	}
	if len(parts) == 0 {
		return "0s"
	}
	return strings.Join(parts, " ")
}

// HumanizeStored renders a sanctions.duration value. The bot writes seconds;
// older rows and tier settings use the short text form.
func HumanizeStored(v string) string {
	v = strings.TrimSpace(v)
	if v == "" {
		return model.PermanentDurationWord
	}
	if secs, err := strconv.ParseInt(v, 10, 64); err == nil {
		return FormatDuration(time.Duration(secs) * time.Second)
	}
	if d, err := ParseDuration(v); err == nil {
		return FormatDuration(d)
	}
	return v
}
