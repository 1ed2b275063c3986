package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"powerbot/internal/schedule"
	"powerbot/internal/timespec"
	"powerbot/pkg/logx"
)

// tagStore keeps schedule and pause records on the instance's own cloud
// tags. One tag value holds both schedule minutes, so a schedule update is
// a single tag write and callers never observe a half-written pair.
//
// Audit entries have no natural home in tags; they are emitted as structured
// log lines instead.
type tagStore struct {
	tags TagClient
	log  logx.Logger
}

func newTagStore(tags TagClient, log logx.Logger) *tagStore {
	return &tagStore{tags: tags, log: log.With(logx.String("comp", "store.tags"))}
}

func (s *tagStore) Get(ctx context.Context, id string) (*schedule.Schedule, error) {
	vals, err := s.tags.GetTags(ctx, id, []string{TagSchedule})
	if err != nil {
		return nil, fmt.Errorf("%w: read %s on %s: %v", ErrUnavailable, TagSchedule, id, err)
	}
	raw, ok := vals[TagSchedule]
	if !ok {
		return nil, nil
	}
	sched, err := decodeScheduleTag(raw)
	if err != nil {
		// A mangled tag (hand-edited in the console, usually) is treated as
		// unset rather than poisoning every tick for this instance.
		s.log.Warn("ignoring malformed schedule tag",
			logx.String("instance", id), logx.String("value", raw), logx.Err(err))
		return nil, nil
	}
	return sched, nil
}

func (s *tagStore) Set(ctx context.Context, id string, sched schedule.Schedule) error {
	val := encodeScheduleTag(sched)
	if err := s.tags.SetTags(ctx, id, map[string]string{TagSchedule: val}); err != nil {
		return fmt.Errorf("%w: write %s on %s: %v", ErrUnavailable, TagSchedule, id, err)
	}
	return nil
}

func (s *tagStore) Clear(ctx context.Context, id string) error {
	if err := s.tags.DeleteTags(ctx, id, []string{TagSchedule}); err != nil {
		return fmt.Errorf("%w: delete %s on %s: %v", ErrUnavailable, TagSchedule, id, err)
	}
	return nil
}

func (s *tagStore) GetPause(ctx context.Context, id string) (*schedule.Pause, error) {
	vals, err := s.tags.GetTags(ctx, id, []string{TagPauseUntil})
	if err != nil {
		return nil, fmt.Errorf("%w: read %s on %s: %v", ErrUnavailable, TagPauseUntil, id, err)
	}
	raw, ok := vals[TagPauseUntil]
	if !ok {
		return nil, nil
	}
	until, err := time.Parse(time.RFC3339, strings.TrimSpace(raw))
	if err != nil {
		s.log.Warn("ignoring malformed pause tag",
			logx.String("instance", id), logx.String("value", raw), logx.Err(err))
		return nil, nil
	}
	return &schedule.Pause{Until: until}, nil
}

func (s *tagStore) SetPause(ctx context.Context, id string, until time.Time) error {
	val := until.UTC().Format(time.RFC3339)
	if err := s.tags.SetTags(ctx, id, map[string]string{TagPauseUntil: val}); err != nil {
		return fmt.Errorf("%w: write %s on %s: %v", ErrUnavailable, TagPauseUntil, id, err)
	}
	return nil
}

func (s *tagStore) ClearPause(ctx context.Context, id string) error {
	if err := s.tags.DeleteTags(ctx, id, []string{TagPauseUntil}); err != nil {
		return fmt.Errorf("%w: delete %s on %s: %v", ErrUnavailable, TagPauseUntil, id, err)
	}
	return nil
}

func (s *tagStore) AppendAudit(ctx context.Context, e AuditEntry) error {
	_ = ctx
	s.log.Info("audit",
		logx.String("req_id", e.ReqID),
		logx.String("source", e.Source),
		logx.String("actor", e.Actor),
		logx.String("action", e.Action),
		logx.String("instance", e.Instance),
		logx.Bool("ok", e.OK),
		logx.String("outcome", e.Outcome),
		logx.String("err", e.Error),
		logx.String("detail", e.Detail),
	)
	return nil
}

func (s *tagStore) Close() error { return nil }

func encodeScheduleTag(s schedule.Schedule) string {
	return fmt.Sprintf("%02d:%02d-%02d:%02d",
		int(s.StartMinute)/60, int(s.StartMinute)%60,
		int(s.StopMinute)/60, int(s.StopMinute)%60)
}

func decodeScheduleTag(raw string) (*schedule.Schedule, error) {
	parts := strings.SplitN(strings.TrimSpace(raw), "-", 2)
	if len(parts) != 2 {
		return nil, fmt.Errorf("expected HH:MM-HH:MM, got %q", raw)
	}
	start, err := timespec.Parse(parts[0])
	if err != nil {
		return nil, err
	}
	stop, err := timespec.Parse(parts[1])
	if err != nil {
		return nil, err
	}
	return &schedule.Schedule{StartMinute: start, StopMinute: stop}, nil
}
