package loop

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"powerbot/internal/metrics"
	"powerbot/internal/provider"
	"powerbot/internal/schedule"
	"powerbot/internal/store"
	"powerbot/internal/timespec"
	"powerbot/pkg/logx"
)

// After this many consecutive identical permanent failures on one instance,
// the warning drops to once every deniedLogEvery ticks.
const deniedLogEvery = 10

type Service struct {
	mu  sync.Mutex
	cfg Config
	log logx.Logger

	st   store.Store
	prov provider.Provider
	met  *metrics.Metrics

	parser cron.Parser
	c      *cron.Cron
	queue  chan struct{}
	stopCh chan struct{}
	wg     sync.WaitGroup

	// ticking is the idle/ticking state machine; guarded by tickMu.
	tickMu  sync.Mutex
	ticking bool

	hmu     sync.Mutex
	history []TickSummary

	// denied tracks consecutive identical permanent failures per instance,
	// to avoid spinning an identical warning every tick forever.
	dmu    sync.Mutex
	denied map[string]*deniedRecord

	// now is swappable in tests.
	now func() time.Time
}

type deniedRecord struct {
	msg   string
	count int
}

func New(cfg Config, st store.Store, prov provider.Provider, met *metrics.Metrics, log logx.Logger) *Service {
	return &Service{
		cfg:    cfg.withDefaults(),
		log:    log.With(logx.String("comp", "loop")),
		st:     st,
		prov:   prov,
		met:    met,
		parser: cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
		denied: map[string]*deniedRecord{},
		now:    time.Now,
	}
}

func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopCh != nil {
		return nil
	}
	if !s.cfg.Enabled {
		s.log.Info("loop disabled")
		return nil
	}
	s.stopCh = make(chan struct{})
	s.queue = make(chan struct{}, 1)

	s.c = cron.New(cron.WithParser(s.parser))
	spec := fmt.Sprintf("@every %s", s.cfg.Interval)
	if _, err := s.c.AddFunc(spec, s.enqueue); err != nil {
		s.stopCh = nil
		return fmt.Errorf("register tick schedule: %w", err)
	}

	s.wg.Add(1)
	go s.worker(ctx, s.stopCh)
	s.c.Start()
	s.log.Info("loop started", logx.Duration("interval", s.cfg.Interval))
	return nil
}

func (s *Service) Stop(ctx context.Context) {
	// Detach the channel and cron driver under the lock, then shut them down
	// without holding it: an in-flight Tick takes s.mu for its config copy,
	// so waiting on the worker while holding s.mu would deadlock.
	s.mu.Lock()
	stopCh := s.stopCh
	c := s.c
	s.stopCh = nil
	s.c = nil
	s.mu.Unlock()

	if stopCh == nil {
		return
	}
	close(stopCh)
	if c != nil {
		select {
		case <-c.Stop().Done():
		case <-ctx.Done():
		}
	}
	s.wg.Wait()
	s.log.Info("loop stopped")
}

// Apply picks up a changed interval by restarting the cron driver. Other
// fields take effect on the next tick.
func (s *Service) Apply(cfg Config) error {
	cfg = cfg.withDefaults()
	s.mu.Lock()
	defer s.mu.Unlock()
	old := s.cfg
	s.cfg = cfg
	if s.c == nil || old.Interval == cfg.Interval {
		return nil
	}
	<-s.c.Stop().Done()
	s.c = cron.New(cron.WithParser(s.parser))
	if _, err := s.c.AddFunc(fmt.Sprintf("@every %s", cfg.Interval), s.enqueue); err != nil {
		return fmt.Errorf("reschedule tick: %w", err)
	}
	s.c.Start()
	s.log.Info("loop interval changed", logx.Duration("interval", cfg.Interval))
	return nil
}

func (s *Service) enqueue() {
	select {
	case s.queue <- struct{}{}:
	default:
		// A tick is already queued or running; the next one covers it.
	}
}

func (s *Service) worker(ctx context.Context, stopCh <-chan struct{}) {
	defer s.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case <-s.queue:
			if _, err := s.Tick(ctx); err != nil && !errors.Is(err, ErrTickInProgress) {
				s.log.Warn("tick failed", logx.Err(err))
			}
		}
	}
}

// History returns a copy of the recent tick summaries, oldest first.
func (s *Service) History() []TickSummary {
	s.hmu.Lock()
	defer s.hmu.Unlock()
	return append([]TickSummary(nil), s.history...)
}

// Tick runs one full enforcement pass. It is the same path the timer drives
// and is safe to invoke manually: decisions are idempotent and overlapping
// invocations are refused with ErrTickInProgress.
func (s *Service) Tick(ctx context.Context) (TickSummary, error) {
	s.tickMu.Lock()
	if s.ticking {
		s.tickMu.Unlock()
		return TickSummary{}, ErrTickInProgress
	}
	s.ticking = true
	s.tickMu.Unlock()
	defer func() {
		s.tickMu.Lock()
		s.ticking = false
		s.tickMu.Unlock()
	}()

	s.mu.Lock()
	cfg := s.cfg
	s.mu.Unlock()

	if s.met != nil {
		s.met.Ticks.Inc()
	}
	started := s.now()
	sum := TickSummary{Started: started}

	tickCtx, cancel := context.WithTimeout(ctx, cfg.TickTimeout)
	defer cancel()

	ids, err := s.listInstances(tickCtx, cfg)
	if err != nil {
		sum.Error = err.Error()
		sum.Duration = s.now().Sub(started)
		s.pushHistory(cfg, sum)
		if s.met != nil {
			s.met.TickErrors.Inc()
		}
		return sum, fmt.Errorf("list controllable instances: %w", err)
	}
	sum.Instances = len(ids)

	for _, id := range ids {
		if tickCtx.Err() != nil {
			// Tick deadline reached; remaining instances wait for the next
			// tick rather than stalling the fleet behind one stuck call.
			s.log.Warn("tick timed out before all instances were evaluated",
				logx.Int("remaining", sum.Instances-sum.Starts-sum.Stops-sum.Skipped))
			break
		}
		s.evaluateInstance(tickCtx, cfg, id, &sum)
	}

	sum.Duration = s.now().Sub(started)
	s.pushHistory(cfg, sum)
	if s.met != nil {
		s.met.TickSeconds.Observe(sum.Duration.Seconds())
	}
	s.log.Info("tick done",
		logx.Int("instances", sum.Instances),
		logx.Int("starts", sum.Starts),
		logx.Int("stops", sum.Stops),
		logx.Int("skipped", sum.Skipped),
		logx.Duration("took", sum.Duration))
	return sum, nil
}

func (s *Service) listInstances(ctx context.Context, cfg Config) ([]string, error) {
	callCtx, cancel := context.WithTimeout(ctx, cfg.CallTimeout)
	defer cancel()
	return s.prov.ListControllable(callCtx)
}

// evaluateInstance runs the read-decide-act sequence for one instance.
// Every failure is contained here: a panic or error aborts this instance's
// processing for this tick and nothing else.
func (s *Service) evaluateInstance(ctx context.Context, cfg Config, id string, sum *TickSummary) {
	defer func() {
		if r := recover(); r != nil {
			sum.Skipped++
			s.skip("panic")
			s.log.Error("panic evaluating instance", logx.String("instance", id), logx.Any("panic", r))
		}
	}()

	sched, err := s.storeGet(ctx, cfg, id)
	if err != nil {
		sum.Skipped++
		s.skip("store")
		s.log.Warn("schedule read failed, skipping until next tick",
			logx.String("instance", id), logx.Err(err))
		return
	}

	pause, err := s.storeGetPause(ctx, cfg, id)
	if err != nil {
		sum.Skipped++
		s.skip("store")
		s.log.Warn("pause read failed, skipping until next tick",
			logx.String("instance", id), logx.Err(err))
		return
	}

	nowAbs := s.now()
	if pause != nil && pause.Expired(nowAbs) {
		// Lazy expiry: the decision below already ignores it; clearing the
		// record here is opportunistic cleanup.
		cctx, cancel := context.WithTimeout(ctx, cfg.CallTimeout)
		_ = s.st.ClearPause(cctx, id)
		cancel()
	}

	// Read the power state immediately before deciding so a concurrent
	// manual command is observed as a transient state, not acted over.
	state, err := s.providerState(ctx, cfg, id)
	if err != nil {
		sum.Skipped++
		s.skip("provider")
		s.logProviderErr(id, "state read failed", err)
		return
	}

	d := schedule.Decide(sched, pause, minuteOfDay(nowAbs), nowAbs, state)
	if s.met != nil {
		s.met.Decisions.WithLabelValues(d.Action.String()).Inc()
	}
	if d.Action == schedule.ActionNone {
		s.clearDenied(id)
		return
	}

	callCtx, cancel := context.WithTimeout(ctx, cfg.CallTimeout)
	defer cancel()
	switch d.Action {
	case schedule.ActionStart:
		err = s.prov.Start(callCtx, id)
	case schedule.ActionStop:
		err = s.prov.Stop(callCtx, id)
	}
	if err != nil {
		sum.Skipped++
		if s.met != nil {
			s.met.Actions.WithLabelValues(d.Action.String(), "error").Inc()
		}
		// No in-tick retry; the next tick re-evaluates and retries if the
		// mismatch persists.
		s.logProviderErr(id, d.Action.String()+" failed", err)
		return
	}

	s.clearDenied(id)
	if s.met != nil {
		s.met.Actions.WithLabelValues(d.Action.String(), "ok").Inc()
	}
	switch d.Action {
	case schedule.ActionStart:
		sum.Starts++
	case schedule.ActionStop:
		sum.Stops++
	}
	s.log.Info("corrective action issued",
		logx.String("instance", id),
		logx.String("action", d.Action.String()),
		logx.String("reason", string(d.Reason)))
}

func (s *Service) storeGet(ctx context.Context, cfg Config, id string) (*schedule.Schedule, error) {
	cctx, cancel := context.WithTimeout(ctx, cfg.CallTimeout)
	defer cancel()
	return s.st.Get(cctx, id)
}

func (s *Service) storeGetPause(ctx context.Context, cfg Config, id string) (*schedule.Pause, error) {
	cctx, cancel := context.WithTimeout(ctx, cfg.CallTimeout)
	defer cancel()
	return s.st.GetPause(cctx, id)
}

func (s *Service) providerState(ctx context.Context, cfg Config, id string) (provider.PowerState, error) {
	cctx, cancel := context.WithTimeout(ctx, cfg.CallTimeout)
	defer cancel()
	return s.prov.PowerState(cctx, id)
}

// logProviderErr warns once per distinct failure, then backs off to every
// deniedLogEvery repeats for permanent errors so a denied action does not
// produce an identical warning every tick forever.
func (s *Service) logProviderErr(id, msg string, err error) {
	permanent := errors.Is(err, provider.ErrDenied) || errors.Is(err, provider.ErrNotFound)
	if !permanent {
		s.log.Warn(msg, logx.String("instance", id), logx.Err(err))
		return
	}

	s.dmu.Lock()
	rec := s.denied[id]
	if rec == nil || rec.msg != err.Error() {
		rec = &deniedRecord{msg: err.Error()}
		s.denied[id] = rec
	}
	rec.count++
	count := rec.count
	s.dmu.Unlock()

	if count == 1 || count%deniedLogEvery == 0 {
		s.log.Warn(msg, logx.String("instance", id), logx.Int("repeats", count), logx.Err(err))
	}
}

func (s *Service) clearDenied(id string) {
	s.dmu.Lock()
	delete(s.denied, id)
	s.dmu.Unlock()
}

func (s *Service) skip(reason string) {
	if s.met != nil {
		s.met.InstanceSkips.WithLabelValues(reason).Inc()
	}
}

func (s *Service) pushHistory(cfg Config, sum TickSummary) {
	s.hmu.Lock()
	defer s.hmu.Unlock()
	s.history = append(s.history, sum)
	if len(s.history) > cfg.HistorySize {
		s.history = s.history[len(s.history)-cfg.HistorySize:]
	}
}

// minuteOfDay projects an absolute time onto the schedule's minute-of-day
// axis using the process-local wall clock.
func minuteOfDay(t time.Time) timespec.Minute {
	return timespec.Minute(t.Hour()*60 + t.Minute())
}
