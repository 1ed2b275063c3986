package store

import (
	"context"
	"errors"
	"strings"
	"time"

	"powerbot/internal/schedule"
	"powerbot/pkg/logx"
)

// Store owns all durable schedule and pause state. Reads and writes go
// through it exclusively; nothing above it caches records across ticks.
//
// Get and GetPause return (nil, nil) when no record exists. Absence is
// distinct from a zero-valued record, since minute 0 is a valid time.
// Clear and ClearPause are idempotent.
type Store interface {
	Get(ctx context.Context, id string) (*schedule.Schedule, error)
	Set(ctx context.Context, id string, s schedule.Schedule) error
	Clear(ctx context.Context, id string) error

	GetPause(ctx context.Context, id string) (*schedule.Pause, error)
	SetPause(ctx context.Context, id string, until time.Time) error
	ClearPause(ctx context.Context, id string) error

	AppendAudit(ctx context.Context, e AuditEntry) error
	Close() error
}

// TagClient is the narrow tag read/write capability the tags driver needs.
// The EC2 provider satisfies it.
type TagClient interface {
	GetTags(ctx context.Context, id string, keys []string) (map[string]string, error)
	SetTags(ctx context.Context, id string, tags map[string]string) error
	DeleteTags(ctx context.Context, id string, keys []string) error
}

// Open initializes the configured store.
func Open(cfg Config, tags TagClient, log logx.Logger) (Store, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "", "tags":
		if tags == nil {
			return nil, errors.New("tags store requires a tag client")
		}
		return newTagStore(tags, log), nil
	case "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown store driver: " + cfg.Driver)
	}
}
