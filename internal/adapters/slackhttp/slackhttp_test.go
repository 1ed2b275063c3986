package slackhttp

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"powerbot/pkg/logx"
)

type stubOps struct {
	lastCall string
	lastArgs []string
	err      error
}

func (s *stubOps) call(name string, args ...string) (string, error) {
	s.lastCall = name
	s.lastArgs = args
	if s.err != nil {
		return "", s.err
	}
	return "ok: " + name, nil
}

func (s *stubOps) SetSchedule(ctx context.Context, src, actor, id, start, stop string) (string, error) {
	return s.call("setSchedule", src, actor, id, start, stop)
}
func (s *stubOps) ClearSchedule(ctx context.Context, src, actor, id string) (string, error) {
	return s.call("clearSchedule", src, actor, id)
}
func (s *stubOps) GetSchedule(ctx context.Context, src, actor, id string) (string, error) {
	return s.call("getSchedule", src, actor, id)
}
func (s *stubOps) Pause(ctx context.Context, src, actor, id, hours string) (string, error) {
	return s.call("pause", src, actor, id, hours)
}
func (s *stubOps) CancelPause(ctx context.Context, src, actor, id string) (string, error) {
	return s.call("cancelPause", src, actor, id)
}
func (s *stubOps) Power(ctx context.Context, src, actor, id string, on bool) (string, error) {
	return s.call("power", src, actor, id)
}
func (s *stubOps) Status(ctx context.Context, src, actor, id string) (string, error) {
	return s.call("status", src, actor, id)
}
func (s *stubOps) Instances(ctx context.Context) (string, error) {
	return s.call("instances")
}
func (s *stubOps) Tick(ctx context.Context, src, actor string) (string, error) {
	return s.call("tick", src, actor)
}

func errText(err error) string { return "error: " + err.Error() }

func postCommand(t *testing.T, srv *Server, form url.Values) (*httptest.ResponseRecorder, slackResponse) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/slack/command", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	srv.srv.Handler.ServeHTTP(rec, req)

	var out slackResponse
	if rec.Code == http.StatusOK {
		if err := json.NewDecoder(rec.Body).Decode(&out); err != nil {
			t.Fatalf("decode response: %v", err)
		}
	}
	return rec, out
}

func TestCommandDispatch(t *testing.T) {
	t.Parallel()
	ops := &stubOps{}
	srv := New(Config{}, ops, errText, logx.Nop())

	rec, out := postCommand(t, srv, url.Values{
		"command":   {"/setschedule"},
		"text":      {"i-abc 9am 5pm"},
		"user_name": {"alice"},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if out.ResponseType != "ephemeral" || out.Text != "ok: setSchedule" {
		t.Fatalf("unexpected response %+v", out)
	}
	want := []string{"slack", "alice", "i-abc", "9am", "5pm"}
	if len(ops.lastArgs) != len(want) {
		t.Fatalf("args = %v, want %v", ops.lastArgs, want)
	}
	for i := range want {
		if ops.lastArgs[i] != want[i] {
			t.Fatalf("args = %v, want %v", ops.lastArgs, want)
		}
	}
}

func TestCommandMissingArgsGetsUsage(t *testing.T) {
	t.Parallel()
	srv := New(Config{}, &stubOps{}, errText, logx.Nop())
	_, out := postCommand(t, srv, url.Values{
		"command":   {"/pause"},
		"text":      {"i-abc"},
		"user_name": {"alice"},
	})
	if !strings.HasPrefix(out.Text, "Usage:") {
		t.Fatalf("expected usage reply, got %q", out.Text)
	}
}

func TestCommandErrorUsesReplier(t *testing.T) {
	t.Parallel()
	ops := &stubOps{err: errors.New("backend down")}
	srv := New(Config{}, ops, errText, logx.Nop())
	rec, out := postCommand(t, srv, url.Values{
		"command":   {"/status"},
		"text":      {"i-abc"},
		"user_name": {"alice"},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d; chat errors must still answer 200", rec.Code)
	}
	if out.Text != "error: backend down" {
		t.Fatalf("reply = %q", out.Text)
	}
}

func TestVerificationToken(t *testing.T) {
	t.Parallel()
	srv := New(Config{Token: "sekrit"}, &stubOps{}, errText, logx.Nop())

	rec, _ := postCommand(t, srv, url.Values{
		"command": {"/tick"},
		"token":   {"wrong"},
	})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("bad token: status = %d, want 401", rec.Code)
	}

	rec, out := postCommand(t, srv, url.Values{
		"command": {"/tick"},
		"token":   {"sekrit"},
	})
	if rec.Code != http.StatusOK || out.Text != "ok: tick" {
		t.Fatalf("good token: status=%d text=%q", rec.Code, out.Text)
	}
}

func TestUnknownCommand(t *testing.T) {
	t.Parallel()
	srv := New(Config{}, &stubOps{}, errText, logx.Nop())
	_, out := postCommand(t, srv, url.Values{
		"command": {"/frobnicate"},
	})
	if !strings.Contains(out.Text, "Unknown command") {
		t.Fatalf("reply = %q", out.Text)
	}
}

func TestHealthz(t *testing.T) {
	t.Parallel()
	srv := New(Config{}, &stubOps{}, errText, logx.Nop())
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	srv.srv.Handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "ok") {
		t.Fatalf("healthz: %d %q", rec.Code, rec.Body.String())
	}
}
