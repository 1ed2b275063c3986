package store

import (
	"errors"
	"time"
)

// ErrUnavailable wraps any backend I/O failure. The scheduler loop treats it
// as "skip this instance this tick"; manual command callers surface it to the
// user as a retryable failure.
var ErrUnavailable = errors.New("store unavailable")

// Tag keys used by the tags driver. The pause key carries an RFC3339
// timestamp; the schedule key carries "HH:MM-HH:MM" in 24-hour form so both
// minutes live in one tag value and update atomically.
const (
	TagSchedule   = "powerbot:schedule"
	TagPauseUntil = "powerbot:pause-until"
)

// Config configures persistence.
//
// Driver values:
//   - "tags":   cloud resource tags via the provider's tag client
//   - "file":   local JSON snapshot + append-only audit log
//   - "sqlite": SQLite database file (requires the sqlite build tag)
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// AuditEntry records one manual command against an instance.
// Keep it compact and schema-stable.
type AuditEntry struct {
	At       time.Time
	ReqID    string
	Source   string // "telegram", "slack", "cli"
	Actor    string
	Action   string
	Instance string
	OK       bool
	Outcome  string // "ok", "validation", "transient", "permanent"
	Error    string
	Detail   string
}
