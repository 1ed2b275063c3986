package schedule

import (
	"time"

	"powerbot/internal/provider"
	"powerbot/internal/timespec"
)

// Decide computes the corrective action, if any, for one instance.
//
// It is a pure function: identical inputs always yield the same Decision,
// which keeps every piece of time/window/pause logic unit-testable without
// I/O. Callers are expected to have read sched, pause and state immediately
// before calling (read-decide-act); Decide itself never refreshes anything.
//
// nil sched means no schedule is configured; nil pause means not paused.
func Decide(sched *Schedule, pause *Pause, now timespec.Minute, nowAbs time.Time, state provider.PowerState) Decision {
	if sched == nil {
		return Decision{Action: ActionNone, Reason: ReasonUnscheduled}
	}
	if pause != nil && !pause.Expired(nowAbs) {
		return Decision{Action: ActionNone, Reason: ReasonPaused}
	}

	// Never stack a second transition on top of one in flight, and never act
	// without a confirmed state read.
	if state.Transient() {
		return Decision{Action: ActionNone, Reason: ReasonTransient}
	}
	if state == provider.StateUnknown {
		return Decision{Action: ActionNone, Reason: ReasonUnknownState}
	}

	if sched.Active(now) {
		if state == provider.StateStopped {
			return Decision{Action: ActionStart, Reason: ReasonWindowOpen}
		}
		return Decision{Action: ActionNone, Reason: ReasonInSync}
	}
	if state == provider.StateRunning {
		return Decision{Action: ActionStop, Reason: ReasonWindowClosed}
	}
	return Decision{Action: ActionNone, Reason: ReasonInSync}
}
