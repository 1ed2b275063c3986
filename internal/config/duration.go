package config

import (
	"fmt"
	"strings"
	"time"
)

func ParseDurationField(path, raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", path, raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: duration must be >= 0", path)
	}
	return d, nil
}

func ParseDurationOrDefault(path, raw string, def time.Duration) (time.Duration, error) {
	d, err := ParseDurationField(path, raw)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return def, nil
	}
	return d, nil
}

// Validate checks cross-field constraints that the strict decoder cannot.
func (c *Config) Validate() error {
	if _, err := ParseDurationField("telegram.poll_timeout", c.Telegram.PollTimeout); err != nil {
		return err
	}
	if _, err := ParseDurationField("store.busy_timeout", c.Store.BusyTimeout); err != nil {
		return err
	}
	if _, err := ParseDurationField("loop.interval", c.Loop.Interval); err != nil {
		return err
	}
	if _, err := ParseDurationField("loop.tick_timeout", c.Loop.TickTimeout); err != nil {
		return err
	}
	if _, err := ParseDurationField("loop.call_timeout", c.Loop.CallTimeout); err != nil {
		return err
	}
	switch strings.ToLower(strings.TrimSpace(c.Store.Driver)) {
	case "", "tags", "file", "sqlite", "sqlite3":
	default:
		return fmt.Errorf("store.driver: unknown driver %q", c.Store.Driver)
	}
	if c.Telegram.Enabled && strings.TrimSpace(c.Telegram.Token) == "" {
		return fmt.Errorf("telegram.token is required when telegram.enabled")
	}
	return nil
}

// ControlTag returns the configured opt-in tag key or the default.
func (c *Config) ControlTag() string {
	if t := strings.TrimSpace(c.AWS.ControlTag); t != "" {
		return t
	}
	return DefaultControlTag
}
