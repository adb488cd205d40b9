package ffmpeg

import (
	"fmt"
	"regexp"
	"strconv"
	"time"
)

var timestampRe = regexp.MustCompile(`^([0-1]?[0-9]|2[0-3]):([0-5][0-9]):([0-5][0-9])(\.\d{1,3})?$`)

// ParseTimestamp parses HH:MM:SS or HH:MM:SS.mmm (hours 0-23) into a duration.
func ParseTimestamp(s string) (time.Duration, error) {
	m := timestampRe.FindStringSubmatch(s)
	if m == nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidTimestamp, s)
	}

	h, _ := strconv.Atoi(m[1])
	mins, _ := strconv.Atoi(m[2])
	secs, _ := strconv.Atoi(m[3])
	d := time.Duration(h)*time.Hour + time.Duration(mins)*time.Minute + time.Duration(secs)*time.Second

	if frac := m[4]; frac != "" {
		// ".5" is 500ms, ".05" is 50ms
		digits := frac[1:]
		ms, _ := strconv.Atoi(digits)
		for i := len(digits); i < 3; i++ {
			ms *= 10
		}
		d += time.Duration(ms) * time.Millisecond
	}

	return d, nil
}

// ValidateTrimRange checks both bounds and that end is strictly after start.
func ValidateTrimRange(start, end string) error {
	s, err := ParseTimestamp(start)
	if err != nil {
		return fmt.Errorf("start: %w", err)
	}
	e, err := ParseTimestamp(end)
	if err != nil {
		return fmt.Errorf("end: %w", err)
	}
	if e <= s {
		return fmt.Errorf("%w: %s >= %s", ErrInvalidTrimRange, start, end)
	}
	return nil
}
