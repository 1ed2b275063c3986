package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"powerbot/internal/loop"
	"powerbot/internal/provider"
	"powerbot/internal/schedule"
	"powerbot/internal/store"
	"powerbot/internal/timespec"
	"powerbot/pkg/logx"
)

// ErrNotControllable is returned for instances that lack the opt-in tag.
var ErrNotControllable = errors.New("instance is not controllable")

// Operations is the command surface shared by every chat frontend. Each
// method validates, acts, audits, and returns a ready-to-send reply line,
// so the adapters stay thin.
type Operations struct {
	st    store.Store
	prov  provider.Provider
	pause *schedule.PauseController
	loop  *loop.Service
	log   logx.Logger

	now func() time.Time
}

func NewOperations(st store.Store, prov provider.Provider, lp *loop.Service, log logx.Logger) *Operations {
	return &Operations{
		st:    st,
		prov:  prov,
		pause: schedule.NewPauseController(st),
		loop:  lp,
		log:   log.With(logx.String("comp", "ops")),
		now:   time.Now,
	}
}

// SetSchedule parses both boundaries before writing anything, so a typo in
// the stop time cannot leave a half-updated schedule behind.
func (o *Operations) SetSchedule(ctx context.Context, src, actor, id, startText, stopText string) (string, error) {
	id, err := normalizeInstanceID(id)
	if err != nil {
		return "", err
	}
	start, err := timespec.Parse(startText)
	if err != nil {
		return "", fmt.Errorf("start time: %w", err)
	}
	stop, err := timespec.Parse(stopText)
	if err != nil {
		return "", fmt.Errorf("stop time: %w", err)
	}
	if err := o.requireControllable(ctx, id); err != nil {
		return "", err
	}

	sched := schedule.Schedule{StartMinute: start, StopMinute: stop}
	err = o.st.Set(ctx, id, sched)
	o.audit(ctx, src, actor, "setSchedule", id, err,
		fmt.Sprintf("%s-%s", timespec.Format(start), timespec.Format(stop)))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Schedule for %s: start %s, stop %s.",
		id, timespec.Format(start), timespec.Format(stop)), nil
}

// ClearSchedule removes the schedule record. Clearing an instance that has
// no schedule succeeds and says so. No controllability check: removal stays
// possible after an instance opts out, so stale records can be cleaned up.
func (o *Operations) ClearSchedule(ctx context.Context, src, actor, id string) (string, error) {
	id, err := normalizeInstanceID(id)
	if err != nil {
		return "", err
	}
	err = o.st.Clear(ctx, id)
	o.audit(ctx, src, actor, "clearSchedule", id, err, "")
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Schedule cleared for %s.", id), nil
}

func (o *Operations) GetSchedule(ctx context.Context, src, actor, id string) (string, error) {
	id, err := normalizeInstanceID(id)
	if err != nil {
		return "", err
	}
	sched, err := o.st.Get(ctx, id)
	if err != nil {
		return "", err
	}
	pause, err := o.st.GetPause(ctx, id)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	if sched == nil {
		fmt.Fprintf(&b, "%s has no schedule.", id)
	} else {
		fmt.Fprintf(&b, "%s: start %s, stop %s.",
			id, timespec.Format(sched.StartMinute), timespec.Format(sched.StopMinute))
	}
	if pause != nil && !pause.Expired(o.now()) {
		fmt.Fprintf(&b, " Enforcement paused until %s.", formatUntil(pause.Until))
	}
	return b.String(), nil
}

// Pause suspends enforcement for a whole number of hours ("2h" or "2").
func (o *Operations) Pause(ctx context.Context, src, actor, id, hoursText string) (string, error) {
	id, err := normalizeInstanceID(id)
	if err != nil {
		return "", err
	}
	hours, err := parseHours(hoursText)
	if err != nil {
		return "", err
	}
	if err := o.requireControllable(ctx, id); err != nil {
		return "", err
	}
	until, err := o.pause.PauseFor(ctx, id, hours, o.now())
	o.audit(ctx, src, actor, "pauseScheduler", id, err, fmt.Sprintf("%dh", hours))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Scheduler paused for %s until %s.", id, formatUntil(until)), nil
}

// CancelPause removes the pause record. Like ClearSchedule it skips the
// controllability check so a pause can still be lifted after opt-out.
func (o *Operations) CancelPause(ctx context.Context, src, actor, id string) (string, error) {
	id, err := normalizeInstanceID(id)
	if err != nil {
		return "", err
	}
	err = o.pause.Cancel(ctx, id)
	o.audit(ctx, src, actor, "cancelPause", id, err, "")
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Pause cancelled for %s; the schedule applies again.", id), nil
}

// Power is the manual override: start or stop now, regardless of schedule.
// It refuses while a transition is in flight rather than stacking API calls.
func (o *Operations) Power(ctx context.Context, src, actor, id string, on bool) (string, error) {
	id, err := normalizeInstanceID(id)
	if err != nil {
		return "", err
	}
	if err := o.requireControllable(ctx, id); err != nil {
		return "", err
	}
	state, err := o.prov.PowerState(ctx, id)
	if err != nil {
		return "", err
	}

	action := "powerOff"
	if on {
		action = "powerOn"
	}
	switch {
	case state.Transient():
		return fmt.Sprintf("%s is %s; wait for the transition to settle.", id, state), nil
	case on && state == provider.StateRunning:
		return fmt.Sprintf("%s is already running.", id), nil
	case !on && state == provider.StateStopped:
		return fmt.Sprintf("%s is already stopped.", id), nil
	}

	if on {
		err = o.prov.Start(ctx, id)
	} else {
		err = o.prov.Stop(ctx, id)
	}
	o.audit(ctx, src, actor, action, id, err, "")
	if err != nil {
		return "", err
	}
	if on {
		return fmt.Sprintf("Starting %s.", id), nil
	}
	return fmt.Sprintf("Stopping %s.", id), nil
}

// Status reports power state, schedule and pause in one line per concern.
func (o *Operations) Status(ctx context.Context, src, actor, id string) (string, error) {
	id, err := normalizeInstanceID(id)
	if err != nil {
		return "", err
	}
	state, err := o.prov.PowerState(ctx, id)
	if err != nil {
		return "", err
	}
	sched, err := o.st.Get(ctx, id)
	if err != nil {
		return "", err
	}
	pause, err := o.st.GetPause(ctx, id)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s is %s.", id, state)
	if sched != nil {
		fmt.Fprintf(&b, " Schedule: start %s, stop %s.",
			timespec.Format(sched.StartMinute), timespec.Format(sched.StopMinute))
	} else {
		b.WriteString(" No schedule.")
	}
	if pause != nil && !pause.Expired(o.now()) {
		fmt.Fprintf(&b, " Paused until %s.", formatUntil(pause.Until))
	}
	return b.String(), nil
}

// Instances lists every controllable instance with its power state.
func (o *Operations) Instances(ctx context.Context) (string, error) {
	ids, err := o.prov.ListControllable(ctx)
	if err != nil {
		return "", err
	}
	if len(ids) == 0 {
		return "No controllable instances found.", nil
	}
	var b strings.Builder
	b.WriteString("Controllable instances:")
	for _, id := range ids {
		state, err := o.prov.PowerState(ctx, id)
		if err != nil {
			fmt.Fprintf(&b, "\n  %s (state unavailable)", id)
			continue
		}
		fmt.Fprintf(&b, "\n  %s %s", id, state)
	}
	return b.String(), nil
}

// Tick runs one enforcement pass on demand, same path the timer drives.
func (o *Operations) Tick(ctx context.Context, src, actor string) (string, error) {
	sum, err := o.loop.Tick(ctx)
	o.audit(ctx, src, actor, "tick", "", err, "")
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Tick done: %d instances, %d started, %d stopped, %d skipped (%s).",
		sum.Instances, sum.Starts, sum.Stops, sum.Skipped, sum.Duration.Round(time.Millisecond)), nil
}

func (o *Operations) requireControllable(ctx context.Context, id string) error {
	ok, err := o.prov.IsControllable(ctx, id)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotControllable, id)
	}
	return nil
}

// audit records the operation. Failure to audit never fails the operation;
// it is logged and the reply still goes out.
func (o *Operations) audit(ctx context.Context, src, actor, action, id string, opErr error, detail string) {
	e := store.AuditEntry{
		At:       o.now().UTC(),
		ReqID:    uuid.NewString(),
		Source:   src,
		Actor:    actor,
		Action:   action,
		Instance: id,
		OK:       opErr == nil,
		Outcome:  string(classify(opErr)),
		Detail:   detail,
	}
	if opErr != nil {
		e.Error = opErr.Error()
	}
	if err := o.st.AppendAudit(ctx, e); err != nil {
		o.log.Warn("audit append failed",
			logx.String("action", action),
			logx.String("instance", id),
			logx.Err(err))
	}
}
