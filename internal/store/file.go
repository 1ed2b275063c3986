package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"powerbot/internal/schedule"
	"powerbot/internal/timespec"
	"powerbot/pkg/logx"
)

// fileStore is a dependency-free persistence backend, intended for single
// node deployments and local development.
//
// Files:
//   - <prefix>.state.json  (atomic snapshot of schedules + pauses)
//   - <prefix>.audit.jsonl (append-only JSON Lines)
//
// The snapshot is rewritten whole on every mutation via tmp+rename, which
// gives callers the all-or-nothing visibility the schedule pair requires.
type fileStore struct {
	log logx.Logger

	mu        sync.Mutex
	statePath string
	auditFile *os.File

	schedules map[string]scheduleRecord
	pauses    map[string]int64 // unix milli
}

type scheduleRecord struct {
	Start int `json:"start"`
	Stop  int `json:"stop"`
}

type stateSnapshot struct {
	Schedules map[string]scheduleRecord `json:"schedules"`
	Pauses    map[string]int64          `json:"pauses"`
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("store.path is required for file driver")
	}

	dir := filepath.Dir(path)
	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(filepath.Base(path)))
	prefix := filepath.Join(dir, base)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	s := &fileStore{
		log:       log.With(logx.String("comp", "store.file")),
		statePath: prefix + ".state.json",
		schedules: map[string]scheduleRecord{},
		pauses:    map[string]int64{},
	}
	if err := s.loadState(); err != nil {
		return nil, err
	}

	af, err := os.OpenFile(prefix+".audit.jsonl", os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}
	s.auditFile = af
	return s, nil
}

func (s *fileStore) loadState() error {
	b, err := os.ReadFile(s.statePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	var snap stateSnapshot
	if err := json.Unmarshal(b, &snap); err != nil {
		return fmt.Errorf("corrupt state file %s: %w", s.statePath, err)
	}
	if snap.Schedules != nil {
		s.schedules = snap.Schedules
	}
	if snap.Pauses != nil {
		s.pauses = snap.Pauses
	}
	return nil
}

// saveStateLocked writes the snapshot atomically. Callers hold s.mu.
func (s *fileStore) saveStateLocked() error {
	snap := stateSnapshot{Schedules: s.schedules, Pauses: s.pauses}
	b, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return err
	}
	tmp := s.statePath + ".tmp"
	if err := os.WriteFile(tmp, b, 0o600); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if err := os.Rename(tmp, s.statePath); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

func (s *fileStore) Get(ctx context.Context, id string) (*schedule.Schedule, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.schedules[id]
	if !ok {
		return nil, nil
	}
	return &schedule.Schedule{
		StartMinute: timespec.Minute(rec.Start),
		StopMinute:  timespec.Minute(rec.Stop),
	}, nil
}

func (s *fileStore) Set(ctx context.Context, id string, sched schedule.Schedule) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	prev, had := s.schedules[id]
	s.schedules[id] = scheduleRecord{Start: int(sched.StartMinute), Stop: int(sched.StopMinute)}
	if err := s.saveStateLocked(); err != nil {
		// Roll back the in-memory view so reads match what is on disk.
		if had {
			s.schedules[id] = prev
		} else {
			delete(s.schedules, id)
		}
		return err
	}
	return nil
}

func (s *fileStore) Clear(ctx context.Context, id string) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	prev, had := s.schedules[id]
	if !had {
		return nil
	}
	delete(s.schedules, id)
	if err := s.saveStateLocked(); err != nil {
		s.schedules[id] = prev
		return err
	}
	return nil
}

func (s *fileStore) GetPause(ctx context.Context, id string) (*schedule.Pause, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	ms, ok := s.pauses[id]
	if !ok {
		return nil, nil
	}
	return &schedule.Pause{Until: time.UnixMilli(ms)}, nil
}

func (s *fileStore) SetPause(ctx context.Context, id string, until time.Time) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	prev, had := s.pauses[id]
	s.pauses[id] = until.UnixMilli()
	if err := s.saveStateLocked(); err != nil {
		if had {
			s.pauses[id] = prev
		} else {
			delete(s.pauses, id)
		}
		return err
	}
	return nil
}

func (s *fileStore) ClearPause(ctx context.Context, id string) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	prev, had := s.pauses[id]
	if !had {
		return nil
	}
	delete(s.pauses, id)
	if err := s.saveStateLocked(); err != nil {
		s.pauses[id] = prev
		return err
	}
	return nil
}

func (s *fileStore) AppendAudit(ctx context.Context, e AuditEntry) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.auditFile == nil {
		return fmt.Errorf("%w: audit file closed", ErrUnavailable)
	}
	if err := json.NewEncoder(s.auditFile).Encode(e); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.auditFile != nil {
		err := s.auditFile.Close()
		s.auditFile = nil
		return err
	}
	return nil
}
