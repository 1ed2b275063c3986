//go:build sqlite
// +build sqlite

package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"powerbot/internal/schedule"
	"powerbot/internal/timespec"
	"powerbot/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("store.path is required for sqlite driver")
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	st := &sqliteStore{db: db, log: log.With(logx.String("comp", "store.sqlite"))}
	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Get(ctx context.Context, id string) (*schedule.Schedule, error) {
	var start, stop int
	err := s.db.QueryRowContext(ctx,
		"SELECT start_minute, stop_minute FROM schedules WHERE instance_id = ?", id,
	).Scan(&start, &stop)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return &schedule.Schedule{
		StartMinute: timespec.Minute(start),
		StopMinute:  timespec.Minute(stop),
	}, nil
}

func (s *sqliteStore) Set(ctx context.Context, id string, sched schedule.Schedule) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO schedules (instance_id, start_minute, stop_minute, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(instance_id) DO UPDATE SET
			start_minute = excluded.start_minute,
			stop_minute  = excluded.stop_minute,
			updated_at   = excluded.updated_at`,
		id, int(sched.StartMinute), int(sched.StopMinute), time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

func (s *sqliteStore) Clear(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM schedules WHERE instance_id = ?", id); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

func (s *sqliteStore) GetPause(ctx context.Context, id string) (*schedule.Pause, error) {
	var ms int64
	err := s.db.QueryRowContext(ctx,
		"SELECT until_ms FROM pauses WHERE instance_id = ?", id,
	).Scan(&ms)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return &schedule.Pause{Until: time.UnixMilli(ms)}, nil
}

func (s *sqliteStore) SetPause(ctx context.Context, id string, until time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO pauses (instance_id, until_ms, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(instance_id) DO UPDATE SET
			until_ms   = excluded.until_ms,
			updated_at = excluded.updated_at`,
		id, until.UnixMilli(), time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

func (s *sqliteStore) ClearPause(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM pauses WHERE instance_id = ?", id); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

func (s *sqliteStore) AppendAudit(ctx context.Context, e AuditEntry) error {
	ok := 0
	if e.OK {
		ok = 1
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit (at_ms, req_id, source, actor, action, instance, ok, outcome, error, detail)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.At.UnixMilli(), e.ReqID, e.Source, e.Actor, e.Action, e.Instance, ok, e.Outcome, e.Error, e.Detail)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
