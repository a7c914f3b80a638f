package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// IntervalOff is what ParseInterval returns for a switched-off interval.
const IntervalOff time.Duration = -1

var offWords = map[string]bool{"off": true, "never": true, "disabled": true}

// parseDuration is time.ParseDuration plus whole days ("7d").
func parseDuration(s string) (time.Duration, error) {
	if days, ok := strings.CutSuffix(s, "d"); ok {
		if n, err := strconv.Atoi(days); err == nil {
			return time.Duration(n) * 24 * time.Hour, nil
		}
	}
	return time.ParseDuration(s)
}

// ParseDurationField reads a non-negative duration. Empty reads as zero.
func ParseDurationField(path, raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	d, err := parseDuration(s)
	switch {
	case err != nil:
		return 0, fmt.Errorf("%s: %w", path, err)
	case d < 0:
		return 0, fmt.Errorf("%s: %q is negative", path, s)
	}
	return d, nil
}

// ParseDurationOrDefault is ParseDurationField with zero replaced by def.
func ParseDurationOrDefault(path, raw string, def time.Duration) (time.Duration, error) {
	d, err := ParseDurationField(path, raw)
	if err != nil || d > 0 {
		return d, err
	}
	return def, nil
}

// ParseInterval reads a period that can be switched off with "off", "never",
// "disabled" or any negative duration, all of which yield IntervalOff.
// Empty and zero yield def.
func ParseInterval(path, raw string, def time.Duration) (time.Duration, error) {
	s := strings.ToLower(strings.TrimSpace(raw))
	if s == "" {
		return def, nil
	}
	if offWords[s] {
		return IntervalOff, nil
	}
	d, err := parseDuration(s)
	switch {
	case err != nil:
		return 0, fmt.Errorf("%s: %w", path, err)
	case d < 0:
		return IntervalOff, nil
	case d == 0:
		return def, nil
	}
	return d, nil
}
