package api

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
	"unicode"
)

var errInvalidDuration = errors.New("invalid duration")

var durationUnits = map[string]time.Duration{
	"ms":           time.Millisecond,
	"milliseconds": time.Millisecond,
	"s":            time.Second,
	"sec":          time.Second,
	"seconds":      time.Second,
	"m":            time.Minute,
	"min":          time.Minute,
	"minutes":      time.Minute,
	"h":            time.Hour,
	"hr":           time.Hour,
	"hours":        time.Hour,
}

// parseDuration parses a non-negative decimal followed by a unit, such as
// "500ms", "1.5s", "2min" or "0.25h". Results are truncated to whole
// milliseconds. No upper bound is enforced here.
func parseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)

	split := strings.IndexFunc(s, unicode.IsLetter)
	if split <= 0 {
		return 0, fmt.Errorf("%w: %q", errInvalidDuration, s)
	}

	number, err := strconv.ParseFloat(s[:split], 64)
	if err != nil || number < 0 || math.IsNaN(number) {
		return 0, fmt.Errorf("%w: %q", errInvalidDuration, s)
	}

	unit, ok := durationUnits[strings.ToLower(s[split:])]
	if !ok {
		return 0, fmt.Errorf("%w: unknown unit in %q", errInvalidDuration, s)
	}

	ms := number * float64(unit/time.Millisecond)
	if ms >= float64(math.MaxInt64/int64(time.Millisecond)) {
		return 0, fmt.Errorf("%w: %q is out of range", errInvalidDuration, s)
	}
	return time.Duration(ms) * time.Millisecond, nil
}

// formatDuration renders d at millisecond precision: "1h 1m 5s", "1.500s",
// "1m 250ms", "0ms".
func formatDuration(d time.Duration) string {
	total := d.Milliseconds()
	if total <= 0 {
		return "0ms"
	}

	hours := total / 3_600_000
	minutes := total % 3_600_000 / 60_000
	seconds := total % 60_000 / 1000
	millis := total % 1000

	var parts []string
	if hours > 0 {
		parts = append(parts, fmt.Sprintf("%dh", hours))
	}
	if minutes > 0 {
		parts = append(parts, fmt.Sprintf("%dm", minutes))
	}
	switch {
	case seconds > 0 && millis > 0:
		parts = append(parts, fmt.Sprintf("%d.%03ds", seconds, millis))
	case seconds > 0:
		parts = append(parts, fmt.Sprintf("%ds", seconds))
	case millis > 0:
		parts = append(parts, fmt.Sprintf("%dms", millis))
	}
	return strings.Join(parts, " ")
}
