package config

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

const (
	day  = 24 * time.Hour
	week = 7 * day
)

// extendedUnitPattern matches the day and week components Go's
// time.ParseDuration does not know about.
var extendedUnitPattern = regexp.MustCompile(`(\d+)([wd])`)

// Duration is a time.Duration that also accepts days (d) and weeks (w):
//
//	"6h", "1d", "1w2d12h"
//
// It implements encoding.TextUnmarshaler for Viper/YAML support.
type Duration time.Duration

// ParseDuration parses a duration in Go syntax extended with d and w units.
func ParseDuration(s string) (Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty duration")
	}

	var total time.Duration
	rest := extendedUnitPattern.ReplaceAllStringFunc(s, func(m string) string {
		n, _ := strconv.ParseInt(m[:len(m)-1], 10, 64)
		unit := day
		if m[len(m)-1] == 'w' {
			unit = week
		}
		total += time.Duration(n) * unit
		return ""
	})

	if rest != "" {
		d, err := time.ParseDuration(rest)
		if err != nil {
			return 0, fmt.Errorf("invalid duration %q: %w", s, err)
		}
		total += d
	}
	return Duration(total), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// UnmarshalJSON accepts a duration string or a number of nanoseconds.
func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		var ns int64
		if err := json.Unmarshal(data, &ns); err != nil {
			return err
		}
		*d = Duration(ns)
		return nil
	}
	return d.UnmarshalText([]byte(s))
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// Duration returns the underlying time.Duration.
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// String renders whole weeks and days with their own units and the
// remainder in Go syntax.
func (d Duration) String() string {
	dur := time.Duration(d)
	if dur == 0 {
		return "0s"
	}

	var b strings.Builder
	if dur < 0 {
		b.WriteByte('-')
		dur = -dur
	}

	if weeks := dur / week; weeks > 0 {
		fmt.Fprintf(&b, "%dw", weeks)
		dur -= weeks * week
	}
	if days := dur / day; days > 0 {
		fmt.Fprintf(&b, "%dd", days)
		dur -= days * day
	}
	if dur > 0 {
		b.WriteString(dur.String())
	}
	return b.String()
}
