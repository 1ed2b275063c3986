package telegram

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"
	"time"

	tele "gopkg.in/telebot.v4"

	"powerbot/pkg/logx"
)

const commandTimeout = 30 * time.Second

// Commands is the slice of the operations layer this adapter drives. The
// src argument identifies the frontend; actor is the requesting user.
type Commands interface {
	SetSchedule(ctx context.Context, src, actor, id, start, stop string) (string, error)
	ClearSchedule(ctx context.Context, src, actor, id string) (string, error)
	GetSchedule(ctx context.Context, src, actor, id string) (string, error)
	Pause(ctx context.Context, src, actor, id, hours string) (string, error)
	CancelPause(ctx context.Context, src, actor, id string) (string, error)
	Power(ctx context.Context, src, actor, id string, on bool) (string, error)
	Status(ctx context.Context, src, actor, id string) (string, error)
	Instances(ctx context.Context) (string, error)
	Tick(ctx context.Context, src, actor string) (string, error)
}

// Replier turns an operation error into the reply text. Kept as an
// injected func so the adapter has no opinion on wording.
type Replier func(err error) string

type Config struct {
	Token       string
	PollTimeout time.Duration
	Owners      []int64
}

// Adapter is the Telegram frontend: long-polls for commands, checks the
// owner allowlist, and relays replies. It also serves as the sink for the
// logging pipeline's Telegram channel.
type Adapter struct {
	cfg  Config
	log  logx.Logger
	ops  Commands
	errf Replier

	bot *tele.Bot

	ownerMu sync.RWMutex
	owners  map[int64]bool

	runMu     sync.Mutex
	running   bool
	runCtx    context.Context
	runCancel context.CancelFunc
	runWG     sync.WaitGroup
}

func New(cfg Config, ops Commands, errf Replier, log logx.Logger) (*Adapter, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	timeout := cfg.PollTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	b, err := tele.NewBot(tele.Settings{
		Token:  cfg.Token,
		Poller: &tele.LongPoller{Timeout: timeout},
	})
	if err != nil {
		return nil, err
	}
	a := &Adapter{
		cfg:  cfg,
		log:  log.With(logx.String("comp", "telegram")),
		ops:  ops,
		errf: errf,
		bot:  b,
	}
	a.SetOwners(cfg.Owners)
	a.register()
	return a, nil
}

// SetOwners replaces the allowlist; hot reload calls this on config change.
func (a *Adapter) SetOwners(ids []int64) {
	m := make(map[int64]bool, len(ids))
	for _, id := range ids {
		m[id] = true
	}
	a.ownerMu.Lock()
	a.owners = m
	a.ownerMu.Unlock()
}

func (a *Adapter) allowed(userID int64) bool {
	a.ownerMu.RLock()
	defer a.ownerMu.RUnlock()
	return a.owners[userID]
}

func (a *Adapter) register() {
	a.bot.Handle("/start", a.command(0, "", func(ctx context.Context, actor string, args []string) (string, error) {
		return helpText, nil
	}))
	a.bot.Handle("/help", a.command(0, "", func(ctx context.Context, actor string, args []string) (string, error) {
		return helpText, nil
	}))
	a.bot.Handle("/setschedule", a.command(3, "/setschedule <instance> <start> <stop>",
		func(ctx context.Context, actor string, args []string) (string, error) {
			return a.ops.SetSchedule(ctx, source, actor, args[0], args[1], args[2])
		}))
	a.bot.Handle("/clearschedule", a.command(1, "/clearschedule <instance>",
		func(ctx context.Context, actor string, args []string) (string, error) {
			return a.ops.ClearSchedule(ctx, source, actor, args[0])
		}))
	a.bot.Handle("/getschedule", a.command(1, "/getschedule <instance>",
		func(ctx context.Context, actor string, args []string) (string, error) {
			return a.ops.GetSchedule(ctx, source, actor, args[0])
		}))
	a.bot.Handle("/pause", a.command(2, "/pause <instance> <hours>",
		func(ctx context.Context, actor string, args []string) (string, error) {
			return a.ops.Pause(ctx, source, actor, args[0], args[1])
		}))
	a.bot.Handle("/cancelpause", a.command(1, "/cancelpause <instance>",
		func(ctx context.Context, actor string, args []string) (string, error) {
			return a.ops.CancelPause(ctx, source, actor, args[0])
		}))
	a.bot.Handle("/on", a.command(1, "/on <instance>",
		func(ctx context.Context, actor string, args []string) (string, error) {
			return a.ops.Power(ctx, source, actor, args[0], true)
		}))
	a.bot.Handle("/off", a.command(1, "/off <instance>",
		func(ctx context.Context, actor string, args []string) (string, error) {
			return a.ops.Power(ctx, source, actor, args[0], false)
		}))
	a.bot.Handle("/status", a.command(1, "/status <instance>",
		func(ctx context.Context, actor string, args []string) (string, error) {
			return a.ops.Status(ctx, source, actor, args[0])
		}))
	a.bot.Handle("/instances", a.command(0, "",
		func(ctx context.Context, actor string, args []string) (string, error) {
			return a.ops.Instances(ctx)
		}))
	a.bot.Handle("/tick", a.command(0, "",
		func(ctx context.Context, actor string, args []string) (string, error) {
			return a.ops.Tick(ctx, source, actor)
		}))
}

const source = "telegram"

const helpText = `Power scheduler commands:
/setschedule <instance> <start> <stop>
/clearschedule <instance>
/getschedule <instance>
/pause <instance> <hours>
/cancelpause <instance>
/on <instance> | /off <instance>
/status <instance>
/instances
/tick`

// command wraps a handler with owner filtering, argument checking, a call
// timeout, and reply delivery.
func (a *Adapter) command(argc int, usage string, fn func(ctx context.Context, actor string, args []string) (string, error)) tele.HandlerFunc {
	return func(c tele.Context) error {
		sender := c.Sender()
		if sender == nil {
			return nil
		}
		if !a.allowed(sender.ID) {
			a.log.Warn("command from non-owner ignored",
				logx.Int64("user_id", sender.ID),
				logx.String("username", sender.Username))
			return nil
		}

		args := c.Args()
		if len(args) < argc {
			return c.Send("Usage: " + usage)
		}
		actor := sender.Username
		if actor == "" {
			actor = strconv.FormatInt(sender.ID, 10)
		}

		ctx, cancel := context.WithTimeout(a.baseCtx(), commandTimeout)
		defer cancel()

		reply, err := fn(ctx, actor, args)
		if err != nil {
			a.log.Warn("command failed",
				logx.String("text", c.Text()),
				logx.String("actor", actor),
				logx.Err(err))
			return c.Send(a.errf(err))
		}
		return c.Send(reply)
	}
}

func (a *Adapter) baseCtx() context.Context {
	a.runMu.Lock()
	defer a.runMu.Unlock()
	if a.runCtx != nil {
		return a.runCtx
	}
	return context.Background()
}

func (a *Adapter) Start(ctx context.Context) error {
	a.runMu.Lock()
	if a.running {
		a.runMu.Unlock()
		return nil
	}
	a.running = true
	rctx, cancel := context.WithCancel(ctx)
	a.runCtx = rctx
	a.runCancel = cancel
	a.runWG.Add(1)
	a.runMu.Unlock()

	go func() {
		defer a.runWG.Done()
		go func() {
			<-rctx.Done()
			a.bot.Stop()
		}()
		a.log.Info("polling started")
		a.bot.Start() // blocks until Stop()
	}()
	return nil
}

// Stop shuts down polling with a short grace window so a pending long-poll
// cannot stall the whole shutdown.
func (a *Adapter) Stop(ctx context.Context) error {
	a.runMu.Lock()
	cancel := a.runCancel
	a.runCancel = nil
	a.runCtx = nil
	wasRunning := a.running
	a.running = false
	a.runMu.Unlock()

	if !wasRunning {
		return nil
	}
	if cancel != nil {
		cancel()
	}
	go a.bot.Stop()

	done := make(chan struct{})
	go func() {
		a.runWG.Wait()
		close(done)
	}()

	grace := 2 * time.Second
	if dl, ok := ctx.Deadline(); ok {
		if rem := time.Until(dl); rem > 0 && rem < grace {
			grace = rem
		}
	}
	t := time.NewTimer(grace)
	defer t.Stop()

	select {
	case <-done:
		a.log.Info("polling stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		a.log.Warn("stop grace elapsed; continuing shutdown")
		return nil
	}
}

// SendLog delivers a formatted log line to the given chat. It backs the
// logging pipeline's Telegram sink.
func (a *Adapter) SendLog(ctx context.Context, chatID int64, text string) error {
	if chatID == 0 {
		return errors.New("no log chat configured")
	}
	_, err := a.bot.Send(&tele.Chat{ID: chatID}, text)
	return err
}
