package core

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"powerbot/internal/loop"
	"powerbot/internal/provider"
	"powerbot/internal/schedule"
	"powerbot/internal/store"
	"powerbot/pkg/logx"
)

type memStore struct {
	mu        sync.Mutex
	schedules map[string]schedule.Schedule
	pauses    map[string]time.Time
	audits    []store.AuditEntry
	setErr    error
}

func newMemStore() *memStore {
	return &memStore{
		schedules: map[string]schedule.Schedule{},
		pauses:    map[string]time.Time{},
	}
}

func (m *memStore) Get(ctx context.Context, id string) (*schedule.Schedule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.schedules[id]
	if !ok {
		return nil, nil
	}
	cp := s
	return &cp, nil
}

func (m *memStore) Set(ctx context.Context, id string, s schedule.Schedule) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.setErr != nil {
		return m.setErr
	}
	m.schedules[id] = s
	return nil
}

func (m *memStore) Clear(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.schedules, id)
	return nil
}

func (m *memStore) GetPause(ctx context.Context, id string) (*schedule.Pause, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	until, ok := m.pauses[id]
	if !ok {
		return nil, nil
	}
	return &schedule.Pause{Until: until}, nil
}

func (m *memStore) SetPause(ctx context.Context, id string, until time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pauses[id] = until
	return nil
}

func (m *memStore) ClearPause(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.pauses, id)
	return nil
}

func (m *memStore) AppendAudit(ctx context.Context, e store.AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.audits = append(m.audits, e)
	return nil
}

func (m *memStore) Close() error { return nil }

type memProvider struct {
	mu     sync.Mutex
	states map[string]provider.PowerState
	starts int
	stops  int
}

func newMemProvider() *memProvider {
	return &memProvider{states: map[string]provider.PowerState{}}
}

func (m *memProvider) ListControllable(ctx context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.states))
	for id := range m.states {
		ids = append(ids, id)
	}
	return ids, nil
}

func (m *memProvider) IsControllable(ctx context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.states[id]
	return ok, nil
}

func (m *memProvider) PowerState(ctx context.Context, id string) (provider.PowerState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.states[id]
	if !ok {
		return provider.StateUnknown, provider.ErrNotFound
	}
	return st, nil
}

func (m *memProvider) Start(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.starts++
	m.states[id] = provider.StatePending
	return nil
}

func (m *memProvider) Stop(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stops++
	m.states[id] = provider.StateStopping
	return nil
}

func newTestOps(st store.Store, prov provider.Provider) *Operations {
	lp := loop.New(loop.Config{Enabled: true}, st, prov, nil, logx.Nop())
	return NewOperations(st, prov, lp, logx.Nop())
}

func TestSetScheduleRoundTrip(t *testing.T) {
	t.Parallel()
	st := newMemStore()
	prov := newMemProvider()
	prov.states["i-abc"] = provider.StateRunning
	ops := newTestOps(st, prov)

	reply, err := ops.SetSchedule(context.Background(), "test", "alice", "i-abc", "9am", "5pm")
	if err != nil {
		t.Fatalf("SetSchedule: %v", err)
	}
	if !strings.Contains(reply, "9:00 AM") || !strings.Contains(reply, "5:00 PM") {
		t.Fatalf("reply %q should echo canonical times", reply)
	}

	got, err := ops.GetSchedule(context.Background(), "test", "alice", "i-abc")
	if err != nil {
		t.Fatalf("GetSchedule: %v", err)
	}
	if !strings.Contains(got, "9:00 AM") || !strings.Contains(got, "5:00 PM") {
		t.Fatalf("GetSchedule reply %q lost the stored times", got)
	}
}

func TestSetScheduleBadStopLeavesNoPartialWrite(t *testing.T) {
	t.Parallel()
	st := newMemStore()
	prov := newMemProvider()
	prov.states["i-abc"] = provider.StateRunning
	ops := newTestOps(st, prov)

	if _, err := ops.SetSchedule(context.Background(), "test", "alice", "i-abc", "9am", "25:99"); err == nil {
		t.Fatal("expected malformed stop time to be rejected")
	}
	if len(st.schedules) != 0 {
		t.Fatalf("rejected update must not write, got %v", st.schedules)
	}
}

func TestSetScheduleRejectsUncontrollable(t *testing.T) {
	t.Parallel()
	ops := newTestOps(newMemStore(), newMemProvider())
	_, err := ops.SetSchedule(context.Background(), "test", "alice", "i-nope", "9am", "5pm")
	if classify(err) != OutcomeValidation {
		t.Fatalf("expected validation outcome, got %v (%v)", classify(err), err)
	}
}

func TestClearScheduleIdempotent(t *testing.T) {
	t.Parallel()
	st := newMemStore()
	ops := newTestOps(st, newMemProvider())
	for i := 0; i < 2; i++ {
		if _, err := ops.ClearSchedule(context.Background(), "test", "alice", "i-abc"); err != nil {
			t.Fatalf("clear %d: %v", i+1, err)
		}
	}
}

func TestGetScheduleAbsent(t *testing.T) {
	t.Parallel()
	ops := newTestOps(newMemStore(), newMemProvider())
	got, err := ops.GetSchedule(context.Background(), "test", "alice", "i-abc")
	if err != nil {
		t.Fatalf("GetSchedule: %v", err)
	}
	if !strings.Contains(got, "no schedule") {
		t.Fatalf("reply %q should say no schedule", got)
	}
}

func TestPauseThenTickHoldsThenResumes(t *testing.T) {
	t.Parallel()
	st := newMemStore()
	prov := newMemProvider()
	prov.states["i-abc"] = provider.StateStopped
	ops := newTestOps(st, prov)

	// start == stop means the window covers the whole day, so an unpaused
	// tick must start the stopped instance.
	if _, err := ops.SetSchedule(context.Background(), "test", "alice", "i-abc", "00:00", "00:00"); err != nil {
		t.Fatalf("SetSchedule: %v", err)
	}
	if _, err := ops.Pause(context.Background(), "test", "alice", "i-abc", "2h"); err != nil {
		t.Fatalf("Pause: %v", err)
	}
	if _, err := ops.Tick(context.Background(), "test", "alice"); err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if prov.starts != 0 {
		t.Fatal("paused instance must not be started")
	}

	if _, err := ops.CancelPause(context.Background(), "test", "alice", "i-abc"); err != nil {
		t.Fatalf("CancelPause: %v", err)
	}
	if _, err := ops.Tick(context.Background(), "test", "alice"); err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if prov.starts != 1 {
		t.Fatalf("expected one start after pause cancel, got %d", prov.starts)
	}
}

func TestPauseRejectsZeroHours(t *testing.T) {
	t.Parallel()
	ops := newTestOps(newMemStore(), newMemProvider())
	_, err := ops.Pause(context.Background(), "test", "alice", "i-abc", "0")
	if classify(err) != OutcomeValidation {
		t.Fatalf("expected validation outcome, got %v (%v)", classify(err), err)
	}
}

func TestPowerAlreadyInTargetState(t *testing.T) {
	t.Parallel()
	st := newMemStore()
	prov := newMemProvider()
	prov.states["i-abc"] = provider.StateRunning
	ops := newTestOps(st, prov)

	reply, err := ops.Power(context.Background(), "test", "alice", "i-abc", true)
	if err != nil {
		t.Fatalf("Power: %v", err)
	}
	if !strings.Contains(reply, "already running") {
		t.Fatalf("reply %q should say already running", reply)
	}
	if prov.starts != 0 {
		t.Fatal("no API call expected for a no-op power command")
	}
}

func TestPowerRefusedDuringTransition(t *testing.T) {
	t.Parallel()
	st := newMemStore()
	prov := newMemProvider()
	prov.states["i-abc"] = provider.StateStopping
	ops := newTestOps(st, prov)

	reply, err := ops.Power(context.Background(), "test", "alice", "i-abc", true)
	if err != nil {
		t.Fatalf("Power: %v", err)
	}
	if !strings.Contains(reply, "stopping") {
		t.Fatalf("reply %q should report the in-flight transition", reply)
	}
	if prov.starts != 0 {
		t.Fatal("no API call expected while a transition is in flight")
	}
}

func TestOperationsAreAudited(t *testing.T) {
	t.Parallel()
	st := newMemStore()
	prov := newMemProvider()
	prov.states["i-abc"] = provider.StateRunning
	ops := newTestOps(st, prov)

	if _, err := ops.SetSchedule(context.Background(), "slack", "bob", "i-abc", "9am", "5pm"); err != nil {
		t.Fatalf("SetSchedule: %v", err)
	}
	if len(st.audits) != 1 {
		t.Fatalf("expected one audit entry, got %d", len(st.audits))
	}
	e := st.audits[0]
	if e.Action != "setSchedule" || e.Actor != "bob" || e.Source != "slack" || !e.OK || e.ReqID == "" {
		t.Fatalf("audit entry incomplete: %+v", e)
	}
	if e.Outcome != string(OutcomeOK) {
		t.Fatalf("audit outcome = %q, want %q", e.Outcome, OutcomeOK)
	}
}

func TestFailedOperationAuditedWithOutcome(t *testing.T) {
	t.Parallel()
	st := newMemStore()
	st.setErr = fmt.Errorf("%w: backend down", store.ErrUnavailable)
	prov := newMemProvider()
	prov.states["i-abc"] = provider.StateRunning
	ops := newTestOps(st, prov)

	if _, err := ops.SetSchedule(context.Background(), "slack", "bob", "i-abc", "9am", "5pm"); err == nil {
		t.Fatal("expected store failure to surface")
	}
	if len(st.audits) != 1 {
		t.Fatalf("expected one audit entry, got %d", len(st.audits))
	}
	e := st.audits[0]
	if e.OK || e.Outcome != string(OutcomeTransient) || e.Error == "" {
		t.Fatalf("audit entry should record the transient failure: %+v", e)
	}
}

func TestPauseRejectsUncontrollable(t *testing.T) {
	t.Parallel()
	st := newMemStore()
	ops := newTestOps(st, newMemProvider())
	_, err := ops.Pause(context.Background(), "test", "alice", "i-nope", "2h")
	if classify(err) != OutcomeValidation {
		t.Fatalf("expected validation outcome, got %v (%v)", classify(err), err)
	}
	if len(st.pauses) != 0 {
		t.Fatalf("opted-out instance must not gain a pause record, got %v", st.pauses)
	}
}

func TestParseHours(t *testing.T) {
	t.Parallel()
	ok := map[string]uint{"2h": 2, "2": 2, "1H": 1, " 48 ": 48}
	for in, want := range ok {
		got, err := parseHours(in)
		if err != nil || got != want {
			t.Fatalf("parseHours(%q) = %d, %v; want %d", in, got, err, want)
		}
	}
	for _, in := range []string{"", "0", "0h", "-1", "1.5h", "h", "abc", "2d"} {
		if _, err := parseHours(in); err == nil {
			t.Fatalf("parseHours(%q) should fail", in)
		}
	}
}
