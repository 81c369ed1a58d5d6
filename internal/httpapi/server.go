// Package httpapi exposes the operator API: schedule CRUD, manual run
// triggers, lead review, and a status snapshot. It optionally mounts the
// pprof handlers behind the same token guard.
package httpapi

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	rtsup "leadscout/internal/runtime/supervisor"
	"leadscout/pkg/logx"
)

// Config controls the listener. Zero durations pick conservative defaults.
type Config struct {
	Listen       string
	APIToken     string
	PprofEnabled bool

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

func (c Config) withDefaults() Config {
	if strings.TrimSpace(c.Listen) == "" {
		c.Listen = "127.0.0.1:8880"
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = 10 * time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 30 * time.Second
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = 60 * time.Second
	}
	return c
}

// Server owns the HTTP listener and its handler tree.
type Server struct {
	log      logx.Logger
	store    Store
	registry Registry
	runner   Runner

	mu       sync.Mutex
	cfg      Config
	srv      *http.Server
	sup      *rtsup.Supervisor
	stopDone chan struct{}
}

// New builds a stopped server. Start brings the listener up.
func New(cfg Config, st Store, reg Registry, run Runner, log logx.Logger) *Server {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Server{
		log:      log.With(logx.String("service", "httpapi")),
		store:    st,
		registry: reg,
		runner:   run,
		cfg:      cfg.withDefaults(),
	}
}

// Start binds the listener and serves until Stop. Restarted on failure by
// the supervisor, so a transient bind error does not take the process down.
func (s *Server) Start(ctx context.Context) error {
	for {
		s.mu.Lock()
		if s.sup != nil {
			s.mu.Unlock()
			return nil
		}
		done := s.stopDone
		if done == nil {
			break
		}
		s.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	s.sup = rtsup.New(ctx, rtsup.WithLogger(s.log))
	s.sup.GoRestart("httpapi.serve", func(ctx context.Context) error {
		return s.serveOnce(ctx)
	})
	s.mu.Unlock()
	return nil
}

// Stop shuts the listener down, letting in-flight requests finish until ctx
// expires.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	if s.sup == nil {
		done := s.stopDone
		s.mu.Unlock()
		if done != nil {
			select {
			case <-done:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		return nil
	}
	sup := s.sup
	srv := s.srv
	done := make(chan struct{})
	s.stopDone = done
	s.mu.Unlock()

	go func() {
		if srv != nil {
			shctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			_ = srv.Shutdown(shctx)
			cancel()
		}
		sup.Cancel()
		sup.Wait(context.Background())

		s.mu.Lock()
		s.sup = nil
		s.srv = nil
		s.stopDone = nil
		s.mu.Unlock()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		s.log.Warn("stop timed out", logx.Err(ctx.Err()))
		return ctx.Err()
	}
}

// Reconfigure applies a new config, restarting the listener only when a
// field that requires it changed.
func (s *Server) Reconfigure(ctx context.Context, cfg Config) error {
	cfg = cfg.withDefaults()

	s.mu.Lock()
	old := s.cfg
	s.cfg = cfg
	running := s.sup != nil
	s.mu.Unlock()

	if !running || !needsRestart(old, cfg) {
		return nil
	}
	s.log.Info("restarting listener", logx.String("listen", cfg.Listen))
	if err := s.Stop(ctx); err != nil {
		return err
	}
	return s.Start(ctx)
}

func needsRestart(a, b Config) bool {
	return a.Listen != b.Listen ||
		a.APIToken != b.APIToken ||
		a.PprofEnabled != b.PprofEnabled ||
		a.ReadTimeout != b.ReadTimeout ||
		a.WriteTimeout != b.WriteTimeout ||
		a.IdleTimeout != b.IdleTimeout
}

func (s *Server) serveOnce(ctx context.Context) error {
	s.mu.Lock()
	cfg := s.cfg
	s.mu.Unlock()

	// A tokenless API on a public interface would hand schedule control to
	// anyone who can reach the port. Refuse the bind instead.
	if strings.TrimSpace(cfg.APIToken) == "" && !isLoopbackAddr(cfg.Listen) {
		s.log.Error("refusing to listen on non-loopback address without api_token",
			logx.String("listen", cfg.Listen))
		return errors.New("httpapi: non-loopback listen requires api_token")
	}

	ln, err := net.Listen("tcp", cfg.Listen)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Handler:      s.routes(cfg),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	s.mu.Lock()
	s.srv = srv
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		shctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shctx)
	}()

	s.log.Info("listening",
		logx.String("addr", ln.Addr().String()),
		logx.Bool("pprof", cfg.PprofEnabled),
		logx.Bool("auth", strings.TrimSpace(cfg.APIToken) != ""))

	err = srv.Serve(ln)
	if errors.Is(err, http.ErrServerClosed) || ctx.Err() != nil {
		return context.Canceled
	}
	return err
}

// isLoopbackAddr reports whether addr binds only a loopback interface. An
// empty or unparsable host means all interfaces, which is not loopback.
func isLoopbackAddr(addr string) bool {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return false
	}
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
