package core

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/pprof"
	"runtime"
	"sync"
	"time"

	"powerbot/internal/config"
	"powerbot/internal/metrics"
	"powerbot/pkg/logx"
)

// debugServer manages lifecycle for the debug HTTP listener: pprof plus the
// Prometheus scrape endpoint.
type debugServer struct {
	mu   sync.Mutex
	log  logx.Logger
	met  *metrics.Metrics
	srv  *http.Server
	ln   net.Listener
	addr string
}

func newDebugServer(met *metrics.Metrics, log logx.Logger) *debugServer {
	return &debugServer{met: met, log: log.With(logx.String("comp", "debug"))}
}

// Apply starts or stops the listener according to cfg and updates the
// runtime profiling knobs either way.
func (d *debugServer) Apply(ctx context.Context, cfg config.DebugConfig) {
	if cfg.Address == "" {
		cfg.Address = "127.0.0.1:6060"
	}

	runtime.SetBlockProfileRate(cfg.BlockProfileRate)
	runtime.SetMutexProfileFraction(cfg.MutexProfileFraction)

	d.mu.Lock()
	defer d.mu.Unlock()

	if !cfg.Enabled {
		d.stopLocked(ctx)
		return
	}
	if d.srv != nil && d.addr == cfg.Address {
		return
	}
	d.stopLocked(ctx)
	d.startLocked(cfg)
}

func (d *debugServer) startLocked(cfg config.DebugConfig) {
	mux := http.NewServeMux()
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	if d.met != nil {
		mux.Handle("/metrics", d.met.Handler())
	}

	srv := &http.Server{Addr: cfg.Address, Handler: mux}
	ln, err := net.Listen("tcp", cfg.Address)
	if err != nil {
		d.log.Warn("debug listen failed", logx.String("addr", cfg.Address), logx.Err(err))
		return
	}

	d.srv = srv
	d.ln = ln
	d.addr = ln.Addr().String()

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			d.log.Warn("debug server error", logx.String("addr", d.addr), logx.Err(err))
		}
	}()
	d.log.Info("debug server enabled", logx.String("addr", d.addr))
}

func (d *debugServer) Stop(ctx context.Context) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopLocked(ctx)
}

func (d *debugServer) stopLocked(ctx context.Context) {
	if d.srv == nil {
		return
	}
	srv := d.srv
	ln := d.ln
	addr := d.addr
	d.srv = nil
	d.ln = nil
	d.addr = ""

	shutdownCtx := ctx
	if shutdownCtx == nil {
		var cancel context.CancelFunc
		shutdownCtx, cancel = context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
	}
	if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		d.log.Warn("debug shutdown error", logx.String("addr", addr), logx.Err(err))
	}
	if ln != nil {
		_ = ln.Close()
	}
	d.log.Info("debug server disabled", logx.String("addr", addr))
}

// Addr reports the actual listen address if running.
func (d *debugServer) Addr() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.addr
}
