package core

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ErrBadHours rejects a pause duration that is not a whole hour count >= 1.
var ErrBadHours = errors.New("duration must be a whole number of hours, at least 1 (e.g. \"2h\")")

// parseHours reads a pause duration written as "2h" or plain "2".
// Pauses are whole hours; fractional or zero values are rejected.
func parseHours(s string) (uint, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	s = strings.TrimSuffix(s, "h")
	if s == "" {
		return 0, ErrBadHours
	}
	n, err := strconv.ParseUint(s, 10, 16)
	if err != nil || n < 1 {
		return 0, ErrBadHours
	}
	return uint(n), nil
}

// formatUntil renders a pause expiry for chat replies, e.g.
// "2:00 PM on 2026-08-31 (UTC)".
func formatUntil(t time.Time) string {
	t = t.UTC()
	hour := t.Hour() % 12
	if hour == 0 {
		hour = 12
	}
	mer := "AM"
	if t.Hour() >= 12 {
		mer = "PM"
	}
	return fmt.Sprintf("%d:%02d %s on %s (UTC)", hour, t.Minute(), mer, t.Format("2006-01-02"))
}

// normalizeInstanceID trims the id and rejects obviously malformed input
// before it reaches the cloud API.
func normalizeInstanceID(s string) (string, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", errors.New("instance id is required")
	}
	for _, r := range s {
		if r == ' ' || r == '\t' || r == '\n' {
			return "", fmt.Errorf("invalid instance id %q", s)
		}
	}
	return s, nil
}
