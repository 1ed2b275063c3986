package core

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"powerbot/internal/adapters/slackhttp"
	"powerbot/internal/adapters/telegram"
	"powerbot/internal/config"
	"powerbot/internal/loop"
	"powerbot/internal/metrics"
	ec2provider "powerbot/internal/provider/ec2"
	"powerbot/internal/store"
	"powerbot/pkg/logx"
)

// App owns the component graph: config manager, logging service, cloud
// provider, store, enforcement loop and the chat frontends.
type App struct {
	cfgPath string

	cfgm *config.Manager
	sup  *Supervisor

	log    logx.Logger
	logSvc *logx.Service
	sender *lazySender

	prov *ec2provider.Client
	st   store.Store
	met  *metrics.Metrics
	loop *loop.Service
	ops  *Operations

	tg    *telegram.Adapter
	slack *slackhttp.Server
	dbg   *debugServer
}

func NewApp(ctx context.Context, cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	sender := &lazySender{}
	logSvc, log := logx.New(logxConfig(cfg), sender)
	log = log.With(logx.String("comp", "app"))
	if cfg.Telegram.LogChatID != 0 {
		logSvc.SetTelegramTarget(cfg.Telegram.LogChatID)
	}

	prov, err := ec2provider.New(ctx, cfg.AWS, cfg.ControlTag(), log)
	if err != nil {
		return nil, fmt.Errorf("init ec2 client: %w", err)
	}

	storeCfg, err := storeConfig(cfg)
	if err != nil {
		return nil, err
	}
	st, err := store.Open(storeCfg, prov, log.With(logx.String("comp", "store")))
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	met := metrics.New()

	loopCfg, err := loopConfig(cfg)
	if err != nil {
		return nil, err
	}
	lp := loop.New(loopCfg, st, prov, met, log)

	ops := NewOperations(st, prov, lp, log)

	a := &App{
		cfgPath: cfgPath,
		cfgm:    cfgm,
		log:     log,
		logSvc:  logSvc,
		sender:  sender,
		prov:    prov,
		st:      st,
		met:     met,
		loop:    lp,
		ops:     ops,
		dbg:     newDebugServer(met, log),
	}

	if cfg.Telegram.Enabled {
		pollTimeout, err := config.ParseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second)
		if err != nil {
			return nil, err
		}
		tg, err := telegram.New(telegram.Config{
			Token:       cfg.Telegram.Token,
			PollTimeout: pollTimeout,
			Owners:      cfg.Telegram.OwnerUserIDs,
		}, ops, UserMessage, log)
		if err != nil {
			return nil, fmt.Errorf("init telegram: %w", err)
		}
		a.tg = tg
		sender.Set(tg)
	}

	if cfg.Slack.Enabled {
		a.slack = slackhttp.New(slackhttp.Config{
			Address: cfg.Slack.Address,
			Token:   cfg.Slack.Token,
		}, ops, UserMessage, log)
	}

	return a, nil
}

// Operations exposes the command surface, mainly for tests and tooling.
func (a *App) Operations() *Operations { return a.ops }

// Done is closed when the supervisor context ends (fatal error or Stop).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor, if any.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = NewSupervisor(ctx, a.log)
	cfg := a.cfgm.Get()

	a.dbg.Apply(a.sup.Context(), cfg.Debug)

	if a.tg != nil {
		if err := a.tg.Start(a.sup.Context()); err != nil {
			return err
		}
	}
	if a.slack != nil {
		if err := a.slack.Start(a.sup.Context()); err != nil {
			return err
		}
	}
	if err := a.loop.Start(a.sup.Context()); err != nil {
		return err
	}

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				// Coalesce bursts: keep only the latest config.
				for {
					select {
					case newer := <-sub:
						if newer != nil {
							newCfg = newer
						}
					default:
						goto APPLY
					}
				}
			APPLY:
				a.applyConfig(c, newCfg)
			}
		}
	})

	a.sup.Go("config.watch", func(c context.Context) error {
		a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
		return a.cfgm.Watch(c)
	})

	a.log.Info("app started")
	return nil
}

// applyConfig pushes a validated hot-reloaded config into the live
// components. Address changes for the frontends need a restart; everything
// else takes effect here.
func (a *App) applyConfig(ctx context.Context, cfg *config.Config) {
	a.logSvc.Apply(logxConfig(cfg))
	a.logSvc.SetTelegramTarget(cfg.Telegram.LogChatID)

	if a.tg != nil {
		a.tg.SetOwners(cfg.Telegram.OwnerUserIDs)
	}

	if loopCfg, err := loopConfig(cfg); err != nil {
		a.log.Warn("loop config rejected on reload", logx.Err(err))
	} else if err := a.loop.Apply(loopCfg); err != nil {
		a.log.Warn("loop reconfigure failed", logx.Err(err))
	} else if loopCfg.Enabled {
		// Covers the disabled-at-boot, enabled-later path; Start is a no-op
		// when already running.
		if err := a.loop.Start(ctx); err != nil {
			a.log.Warn("loop start failed", logx.Err(err))
		}
	} else {
		stopCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		a.loop.Stop(stopCtx)
		cancel()
	}

	a.dbg.Apply(ctx, cfg.Debug)
	a.log.Info("config reloaded")
}

func (a *App) Stop(ctx context.Context) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping")
	a.sup.Cancel()

	// Bound every shutdown step so one stuck component cannot stall the rest.
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		if dl, ok := ctx.Deadline(); ok {
			if rem := time.Until(dl); rem > 0 && rem < max {
				max = rem
			}
		}
		stepCtx, cancel := context.WithTimeout(ctx, max)
		defer cancel()

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()
		select {
		case err := <-done:
			if err != nil && !errors.Is(err, context.Canceled) {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)", logx.String("name", name))
		}
	}

	step("loop", 3*time.Second, func(c context.Context) error { a.loop.Stop(c); return nil })
	if a.slack != nil {
		step("slack", 2*time.Second, func(c context.Context) error { return a.slack.Stop(c) })
	}
	if a.tg != nil {
		step("telegram", 3*time.Second, func(c context.Context) error { return a.tg.Stop(c) })
	}
	step("debug", 2*time.Second, func(c context.Context) error { a.dbg.Stop(c); return nil })
	step("supervisor", 2*time.Second, func(c context.Context) error { return a.sup.Wait(c) })
	step("store", 2*time.Second, func(c context.Context) error { return a.st.Close() })
	_ = a.logSvc.Close()

	a.log.Info("stopped")
	return nil
}

func logxConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		Telegram: logx.TelegramConfig{
			Enabled:    cfg.Logging.Telegram.Enabled,
			MinLevel:   cfg.Logging.Telegram.MinLevel,
			RatePerSec: cfg.Logging.Telegram.RatePerSec,
		},
	}
}

func storeConfig(cfg *config.Config) (store.Config, error) {
	busy, err := config.ParseDurationField("store.busy_timeout", cfg.Store.BusyTimeout)
	if err != nil {
		return store.Config{}, err
	}
	return store.Config{
		Driver:      cfg.Store.Driver,
		Path:        cfg.Store.Path,
		BusyTimeout: busy,
	}, nil
}

func loopConfig(cfg *config.Config) (loop.Config, error) {
	interval, err := config.ParseDurationOrDefault("loop.interval", cfg.Loop.Interval, config.DefaultLoopInterval)
	if err != nil {
		return loop.Config{}, err
	}
	tickTimeout, err := config.ParseDurationOrDefault("loop.tick_timeout", cfg.Loop.TickTimeout, config.DefaultTickTimeout)
	if err != nil {
		return loop.Config{}, err
	}
	callTimeout, err := config.ParseDurationOrDefault("loop.call_timeout", cfg.Loop.CallTimeout, config.DefaultCallTimeout)
	if err != nil {
		return loop.Config{}, err
	}
	return loop.Config{
		Enabled:     cfg.Loop.Enabled,
		Interval:    interval,
		TickTimeout: tickTimeout,
		CallTimeout: callTimeout,
		HistorySize: cfg.Loop.HistorySize,
	}, nil
}

// lazySender lets the logging service be built before the Telegram adapter
// that ultimately delivers its messages.
type lazySender struct {
	mu    sync.RWMutex
	inner logx.TelegramSender
}

func (s *lazySender) Set(inner logx.TelegramSender) {
	s.mu.Lock()
	s.inner = inner
	s.mu.Unlock()
}

func (s *lazySender) SendLog(ctx context.Context, chatID int64, text string) error {
	s.mu.RLock()
	inner := s.inner
	s.mu.RUnlock()
	if inner == nil {
		return errors.New("no telegram sender attached")
	}
	return inner.SendLog(ctx, chatID, text)
}
