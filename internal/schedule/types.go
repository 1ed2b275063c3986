// Package schedule holds the daily on/off schedule model and the pure
// decision logic that turns (schedule, pause, clock, power state) into at
// most one corrective action.
package schedule

import (
	"time"

	"powerbot/internal/timespec"
)

// Schedule is the desired daily active window for one instance.
//
// StartMinute and StopMinute are minutes-of-day and are deliberately not
// required to be ordered: StopMinute < StartMinute means the window crosses
// midnight. Equal minutes mean the window covers the whole day.
//
// A cleared schedule is represented by absence of the record (nil), never by
// a zeroed value: minute 0 is a valid time (midnight).
type Schedule struct {
	StartMinute timespec.Minute
	StopMinute  timespec.Minute
}

// Active reports whether now falls inside the wraparound window
// [StartMinute, StopMinute).
func (s Schedule) Active(now timespec.Minute) bool {
	if s.StartMinute == s.StopMinute {
		return true
	}
	if s.StartMinute < s.StopMinute {
		return now >= s.StartMinute && now < s.StopMinute
	}
	return now >= s.StartMinute || now < s.StopMinute
}

// Pause suspends automatic enforcement until an absolute timestamp.
// A Pause whose Until has elapsed is treated as absent by every reader
// (lazy expiry); no background sweep exists.
type Pause struct {
	Until time.Time
}

// Expired reports whether the pause has lapsed at the given instant.
func (p Pause) Expired(now time.Time) bool { return !p.Until.After(now) }

// Action is the corrective power operation a tick decided on.
type Action int

const (
	ActionNone Action = iota
	ActionStart
	ActionStop
)

func (a Action) String() string {
	switch a {
	case ActionStart:
		return "start"
	case ActionStop:
		return "stop"
	default:
		return "none"
	}
}

// Reason explains a Decision, chiefly for logs and tick history.
type Reason string

const (
	ReasonUnscheduled  Reason = "unscheduled"
	ReasonPaused       Reason = "paused"
	ReasonTransient    Reason = "state transition in flight"
	ReasonUnknownState Reason = "power state unknown"
	ReasonInSync       Reason = "state already matches"
	ReasonWindowOpen   Reason = "inside active window"
	ReasonWindowClosed Reason = "outside active window"
)

// Decision is the evaluator output for one instance on one tick.
// It is ephemeral and never persisted.
type Decision struct {
	Action Action
	Reason Reason
}
