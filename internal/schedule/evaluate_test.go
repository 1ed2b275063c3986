package schedule

import (
	"testing"
	"time"

	"powerbot/internal/provider"
	"powerbot/internal/timespec"
)

var evalNow = time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

func sched(start, stop timespec.Minute) *Schedule {
	return &Schedule{StartMinute: start, StopMinute: stop}
}

func TestDecideTable(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		sched  *Schedule
		pause  *Pause
		now    timespec.Minute
		state  provider.PowerState
		action Action
		reason Reason
	}{
		{
			name: "no schedule", sched: nil, now: 600,
			state: provider.StateRunning, action: ActionNone, reason: ReasonUnscheduled,
		},
		{
			name: "ordered window start due", sched: sched(540, 1020), now: 600,
			state: provider.StateStopped, action: ActionStart, reason: ReasonWindowOpen,
		},
		{
			name: "ordered window stop due", sched: sched(540, 1020), now: 1200,
			state: provider.StateRunning, action: ActionStop, reason: ReasonWindowClosed,
		},
		{
			name: "ordered window already running", sched: sched(540, 1020), now: 600,
			state: provider.StateRunning, action: ActionNone, reason: ReasonInSync,
		},
		{
			name: "ordered window already stopped outside", sched: sched(540, 1020), now: 1200,
			state: provider.StateStopped, action: ActionNone, reason: ReasonInSync,
		},
		{
			name: "boundary start inclusive", sched: sched(540, 1020), now: 540,
			state: provider.StateStopped, action: ActionStart, reason: ReasonWindowOpen,
		},
		{
			name: "boundary stop exclusive", sched: sched(540, 1020), now: 1020,
			state: provider.StateRunning, action: ActionStop, reason: ReasonWindowClosed,
		},
		{
			name: "wraparound evening active", sched: sched(1320, 360), now: 1380,
			state: provider.StateStopped, action: ActionStart, reason: ReasonWindowOpen,
		},
		{
			name: "wraparound early morning active", sched: sched(1320, 360), now: 180,
			state: provider.StateStopped, action: ActionStart, reason: ReasonWindowOpen,
		},
		{
			name: "wraparound midday inactive", sched: sched(1320, 360), now: 720,
			state: provider.StateRunning, action: ActionStop, reason: ReasonWindowClosed,
		},
		{
			name: "equal start stop always active", sched: sched(540, 540), now: 0,
			state: provider.StateStopped, action: ActionStart, reason: ReasonWindowOpen,
		},
		{
			name: "equal start stop never stops", sched: sched(540, 540), now: 1439,
			state: provider.StateRunning, action: ActionNone, reason: ReasonInSync,
		},
		{
			name:  "active pause suppresses start",
			sched: sched(540, 1020), pause: &Pause{Until: evalNow.Add(time.Hour)}, now: 600,
			state: provider.StateStopped, action: ActionNone, reason: ReasonPaused,
		},
		{
			name:  "expired pause is ignored",
			sched: sched(540, 1020), pause: &Pause{Until: evalNow.Add(-time.Second)}, now: 600,
			state: provider.StateStopped, action: ActionStart, reason: ReasonWindowOpen,
		},
		{
			name: "pending holds", sched: sched(540, 1020), now: 1200,
			state: provider.StatePending, action: ActionNone, reason: ReasonTransient,
		},
		{
			name: "stopping holds", sched: sched(540, 1020), now: 600,
			state: provider.StateStopping, action: ActionNone, reason: ReasonTransient,
		},
		{
			name: "unknown state holds", sched: sched(540, 1020), now: 600,
			state: provider.StateUnknown, action: ActionNone, reason: ReasonUnknownState,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			got := Decide(tt.sched, tt.pause, tt.now, evalNow, tt.state)
			if got.Action != tt.action {
				t.Fatalf("Action = %v, want %v", got.Action, tt.action)
			}
			if got.Reason != tt.reason {
				t.Fatalf("Reason = %q, want %q", got.Reason, tt.reason)
			}
		})
	}
}

func TestDecideDeterministic(t *testing.T) {
	t.Parallel()
	s := sched(1320, 360)
	p := &Pause{Until: evalNow.Add(30 * time.Minute)}
	first := Decide(s, p, 1380, evalNow, provider.StateStopped)
	for i := 0; i < 100; i++ {
		if got := Decide(s, p, 1380, evalNow, provider.StateStopped); got != first {
			t.Fatalf("Decide not deterministic: %+v vs %+v", got, first)
		}
	}
}

func TestScheduleActiveFullDay(t *testing.T) {
	t.Parallel()
	s := Schedule{StartMinute: 540, StopMinute: 540}
	for m := timespec.Minute(0); m < timespec.MinutesPerDay; m += 7 {
		if !s.Active(m) {
			t.Fatalf("equal start/stop window should be active at %d", m)
		}
	}
}
