package config

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Duration is a time.Duration that supports human-readable parsing.
//
// Besides Go duration syntax ("40ms", "1m30s") it accepts spelled-out
// units ("5 seconds", "250 milliseconds") and frame rates: "25fps" is the
// interval between frames at 25 frames per second (40ms).
type Duration time.Duration

var (
	fpsPattern  = regexp.MustCompile(`^([0-9]+(?:\.[0-9]+)?)\s*fps$`)
	wordPattern = regexp.MustCompile(`([0-9]+(?:\.[0-9]+)?)\s*(hours?|hrs?|minutes?|mins?|seconds?|secs?|milliseconds?|millis?|microseconds?|nanoseconds?)`)
)

var wordUnits = map[string]string{
	"hour": "h", "hours": "h", "hr": "h", "hrs": "h",
	"minute": "m", "minutes": "m", "min": "m", "mins": "m",
	"second": "s", "seconds": "s", "sec": "s", "secs": "s",
	"millisecond": "ms", "milliseconds": "ms", "milli": "ms", "millis": "ms",
	"microsecond": "us", "microseconds": "us",
	"nanosecond": "ns", "nanoseconds": "ns",
}

// ParseDuration parses a human-readable duration string.
func ParseDuration(s string) (Duration, error) {
	in := strings.ToLower(strings.TrimSpace(s))
	if in == "" {
		return 0, fmt.Errorf("empty duration")
	}

	if m := fpsPattern.FindStringSubmatch(in); m != nil {
		rate, err := strconv.ParseFloat(m[1], 64)
		if err != nil || rate <= 0 {
			return 0, fmt.Errorf("invalid frame rate %q", s)
		}
		return Duration(float64(time.Second) / rate), nil
	}

	in = wordPattern.ReplaceAllStringFunc(in, func(match string) string {
		m := wordPattern.FindStringSubmatch(match)
		return m[1] + wordUnits[m[2]]
	})
	in = strings.Join(strings.Fields(in), "")

	d, err := time.ParseDuration(in)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q: %w", s, err)
	}
	return Duration(d), nil
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

// UnmarshalJSON accepts either a duration string or nanoseconds.
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

// String uses Go duration syntax.
func (d Duration) String() string {
	return time.Duration(d).String()
}
