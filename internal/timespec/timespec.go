// Package timespec parses and formats human time-of-day strings.
//
// Accepted forms:
//   - 12-hour: "9am", "9:30pm", "9:00 AM" (case-insensitive, optional
//     minutes, optional space before the meridiem)
//   - 24-hour: "09:00", "17:30", "7:05"
//
// A parsed value is a minute-of-day in [0, 1440). The package is fully
// deterministic and has no timezone or locale awareness; the caller's wall
// clock is authoritative.
package timespec

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Minute is a minute-of-day, 0 (midnight) through 1439 (23:59).
type Minute int

// MinutesPerDay is the exclusive upper bound for Minute.
const MinutesPerDay = 1440

var ErrMalformed = errors.New("malformed time")

// Parse converts a time-of-day string into a Minute.
func Parse(text string) (Minute, error) {
	s := strings.ToLower(strings.TrimSpace(text))
	if s == "" {
		return 0, fmt.Errorf("%w: empty input", ErrMalformed)
	}

	meridiem := ""
	if strings.HasSuffix(s, "am") || strings.HasSuffix(s, "pm") {
		meridiem = s[len(s)-2:]
		s = strings.TrimSpace(s[:len(s)-2])
	}
	if s == "" {
		return 0, fmt.Errorf("%w: %q", ErrMalformed, text)
	}

	hourStr, minStr := s, "0"
	if i := strings.IndexByte(s, ':'); i >= 0 {
		hourStr = s[:i]
		minStr = s[i+1:]
		if minStr == "" || strings.ContainsRune(minStr, ':') {
			return 0, fmt.Errorf("%w: %q", ErrMalformed, text)
		}
	}

	hour, err := strconv.Atoi(hourStr)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrMalformed, text)
	}
	minute, err := strconv.Atoi(minStr)
	if err != nil || minute < 0 || minute > 59 {
		return 0, fmt.Errorf("%w: %q", ErrMalformed, text)
	}

	switch meridiem {
	case "":
		if hour < 0 || hour > 23 {
			return 0, fmt.Errorf("%w: %q", ErrMalformed, text)
		}
	case "am":
		if hour < 1 || hour > 12 {
			return 0, fmt.Errorf("%w: %q", ErrMalformed, text)
		}
		if hour == 12 {
			hour = 0
		}
	case "pm":
		if hour < 1 || hour > 12 {
			return 0, fmt.Errorf("%w: %q", ErrMalformed, text)
		}
		if hour != 12 {
			hour += 12
		}
	}

	return Minute(hour*60 + minute), nil
}

// Format renders a Minute in canonical 12-hour display form, e.g. 540 ->
// "9:00 AM". Parse(Format(m)) == m for every valid m.
func Format(m Minute) string {
	hour := int(m) / 60 % 24
	minute := int(m) % 60

	meridiem := "AM"
	display := hour
	switch {
	case hour == 0:
		display = 12
	case hour == 12:
		meridiem = "PM"
	case hour > 12:
		display = hour - 12
		meridiem = "PM"
	}
	return fmt.Sprintf("%d:%02d %s", display, minute, meridiem)
}

// Valid reports whether m is inside [0, MinutesPerDay).
func (m Minute) Valid() bool { return m >= 0 && m < MinutesPerDay }
