package slackhttp

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"powerbot/pkg/logx"
)

// Commands mirrors the operations the Telegram frontend uses, so both
// surfaces stay in lockstep.
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

type Replier func(err error) string

type Config struct {
	Address string
	// Token, when set, must match the slash-command verification token.
	Token string
}

const source = "slack"

// Server speaks the Slack slash-command shape: form-encoded POSTs answered
// with an ephemeral JSON payload. Any caller that can produce that shape
// (curl included) works against it.
type Server struct {
	cfg  Config
	log  logx.Logger
	ops  Commands
	errf Replier

	srv *http.Server
	ln  net.Listener
}

func New(cfg Config, ops Commands, errf Replier, log logx.Logger) *Server {
	if cfg.Address == "" {
		cfg.Address = "127.0.0.1:8000"
	}
	s := &Server{
		cfg:  cfg,
		log:  log.With(logx.String("comp", "slack")),
		ops:  ops,
		errf: errf,
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(45 * time.Second))

	r.Get("/healthz", func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Post("/slack/command", s.handleCommand)

	s.srv = &http.Server{
		Addr:              cfg.Address,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return s
}

func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Address)
	if err != nil {
		return err
	}
	s.ln = ln
	go func() {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("listener exited", logx.Err(err))
		}
	}()
	s.log.Info("listening", logx.String("addr", ln.Addr().String()))
	return nil
}

func (s *Server) Stop(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}

// Addr reports the actual listen address if running.
func (s *Server) Addr() string {
	if s.ln == nil {
		return ""
	}
	return s.ln.Addr().String()
}

type slackResponse struct {
	ResponseType string `json:"response_type"`
	Text         string `json:"text"`
}

func (s *Server) handleCommand(w http.ResponseWriter, req *http.Request) {
	if err := req.ParseForm(); err != nil {
		http.Error(w, "bad form", http.StatusBadRequest)
		return
	}
	if s.cfg.Token != "" && req.PostFormValue("token") != s.cfg.Token {
		s.log.Warn("request with bad verification token",
			logx.String("remote", req.RemoteAddr))
		http.Error(w, "bad token", http.StatusUnauthorized)
		return
	}

	command := strings.TrimPrefix(req.PostFormValue("command"), "/")
	args := strings.Fields(req.PostFormValue("text"))
	actor := req.PostFormValue("user_name")
	if actor == "" {
		actor = req.PostFormValue("user_id")
	}

	reply, err := s.dispatch(req.Context(), command, actor, args)
	if err != nil {
		s.log.Warn("command failed",
			logx.String("command", command),
			logx.String("actor", actor),
			logx.Err(err))
		reply = s.errf(err)
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(slackResponse{ResponseType: "ephemeral", Text: reply})
}

var errUsage = errors.New("usage")

func (s *Server) dispatch(ctx context.Context, command, actor string, args []string) (string, error) {
	need := func(n int, usage string) (string, error) {
		if len(args) < n {
			return "Usage: " + usage, errUsage
		}
		return "", nil
	}

	switch strings.ToLower(command) {
	case "setschedule", "set-schedule":
		if msg, err := need(3, "/setschedule <instance> <start> <stop>"); err != nil {
			return msg, nil
		}
		return s.ops.SetSchedule(ctx, source, actor, args[0], args[1], args[2])
	case "clearschedule", "clear-schedule":
		if msg, err := need(1, "/clearschedule <instance>"); err != nil {
			return msg, nil
		}
		return s.ops.ClearSchedule(ctx, source, actor, args[0])
	case "getschedule", "get-schedule":
		if msg, err := need(1, "/getschedule <instance>"); err != nil {
			return msg, nil
		}
		return s.ops.GetSchedule(ctx, source, actor, args[0])
	case "pausescheduler", "pause":
		if msg, err := need(2, "/pause <instance> <hours>"); err != nil {
			return msg, nil
		}
		return s.ops.Pause(ctx, source, actor, args[0], args[1])
	case "cancelpause", "cancel-pause":
		if msg, err := need(1, "/cancelpause <instance>"); err != nil {
			return msg, nil
		}
		return s.ops.CancelPause(ctx, source, actor, args[0])
	case "on":
		if msg, err := need(1, "/on <instance>"); err != nil {
			return msg, nil
		}
		return s.ops.Power(ctx, source, actor, args[0], true)
	case "off":
		if msg, err := need(1, "/off <instance>"); err != nil {
			return msg, nil
		}
		return s.ops.Power(ctx, source, actor, args[0], false)
	case "status":
		if msg, err := need(1, "/status <instance>"); err != nil {
			return msg, nil
		}
		return s.ops.Status(ctx, source, actor, args[0])
	case "instances":
		return s.ops.Instances(ctx)
	case "tick":
		return s.ops.Tick(ctx, source, actor)
	default:
		return "Unknown command. Try /setschedule, /getschedule, /pause, /status, /instances or /tick.", nil
	}
}
