package schedule

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type memPauseStore struct {
	mu     sync.Mutex
	pauses map[string]time.Time
	getErr error
	clears int
}

func newMemPauseStore() *memPauseStore {
	return &memPauseStore{pauses: map[string]time.Time{}}
}

func (m *memPauseStore) GetPause(ctx context.Context, id string) (*Pause, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return nil, m.getErr
	}
	until, ok := m.pauses[id]
	if !ok {
		return nil, nil
	}
	return &Pause{Until: until}, nil
}

func (m *memPauseStore) SetPause(ctx context.Context, id string, until time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pauses[id] = until
	return nil
}

func (m *memPauseStore) ClearPause(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.pauses, id)
	m.clears++
	return nil
}

func TestPauseForComputesExpiry(t *testing.T) {
	t.Parallel()
	st := newMemPauseStore()
	c := NewPauseController(st)
	now := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

	until, err := c.PauseFor(context.Background(), "i-1", 2, now)
	if err != nil {
		t.Fatalf("PauseFor: %v", err)
	}
	if want := now.Add(2 * time.Hour); !until.Equal(want) {
		t.Fatalf("until = %v, want %v", until, want)
	}

	paused, err := c.IsPaused(context.Background(), "i-1", now.Add(time.Hour))
	if err != nil || !paused {
		t.Fatalf("IsPaused mid-window = (%v, %v), want (true, nil)", paused, err)
	}
	paused, err = c.IsPaused(context.Background(), "i-1", now.Add(2*time.Hour+time.Second))
	if err != nil || paused {
		t.Fatalf("IsPaused after expiry = (%v, %v), want (false, nil)", paused, err)
	}
}

func TestPauseForRejectsZeroHours(t *testing.T) {
	t.Parallel()
	c := NewPauseController(newMemPauseStore())
	if _, err := c.PauseFor(context.Background(), "i-1", 0, time.Now()); !errors.Is(err, ErrNonPositiveDuration) {
		t.Fatalf("expected ErrNonPositiveDuration, got %v", err)
	}
}

func TestIsPausedClearsExpiredRecord(t *testing.T) {
	t.Parallel()
	st := newMemPauseStore()
	c := NewPauseController(st)
	now := time.Now()
	st.pauses["i-1"] = now.Add(-time.Minute)

	paused, err := c.IsPaused(context.Background(), "i-1", now)
	if err != nil || paused {
		t.Fatalf("IsPaused = (%v, %v), want (false, nil)", paused, err)
	}
	if st.clears != 1 {
		t.Fatalf("expected opportunistic ClearPause, got %d clears", st.clears)
	}
}

func TestCancelIdempotent(t *testing.T) {
	t.Parallel()
	st := newMemPauseStore()
	c := NewPauseController(st)
	if _, err := c.PauseFor(context.Background(), "i-1", 1, time.Now()); err != nil {
		t.Fatalf("PauseFor: %v", err)
	}
	if err := c.Cancel(context.Background(), "i-1"); err != nil {
		t.Fatalf("first Cancel: %v", err)
	}
	if err := c.Cancel(context.Background(), "i-1"); err != nil {
		t.Fatalf("second Cancel should be a no-op, got %v", err)
	}
}

func TestIsPausedSurfacesStoreError(t *testing.T) {
	t.Parallel()
	st := newMemPauseStore()
	st.getErr = errors.New("backend down")
	c := NewPauseController(st)
	if _, err := c.IsPaused(context.Background(), "i-1", time.Now()); err == nil {
		t.Fatal("expected store error to surface")
	}
}
