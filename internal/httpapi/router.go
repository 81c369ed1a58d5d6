package httpapi

import (
	"context"
	"net/http"
	hpprof "net/http/pprof"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"leadscout/internal/leads"
	"leadscout/internal/runner"
	"leadscout/internal/schedule"
	"leadscout/internal/scheduler"
	"leadscout/internal/store"
	"leadscout/pkg/logx"
)

// Store is the persistence slice the API serves.
type Store interface {
	CreateSchedule(ctx context.Context, sc schedule.Schedule) (schedule.Schedule, error)
	GetSchedule(ctx context.Context, id int64) (schedule.Schedule, error)
	ListSchedules(ctx context.Context) ([]schedule.Schedule, error)
	UpdateSchedule(ctx context.Context, sc schedule.Schedule) (schedule.Schedule, error)
	DeleteSchedule(ctx context.Context, id int64) error

	GetLead(ctx context.Context, id string) (leads.Lead, error)
	ListLeads(ctx context.Context, f store.LeadFilter) ([]leads.Lead, error)
	UpdateLeadStatus(ctx context.Context, id string, status leads.Status) error
	CountLeads(ctx context.Context, status leads.Status) (int64, error)
}

// Registry keeps cron triggers in step with schedule mutations.
type Registry interface {
	Register(sc schedule.Schedule)
	Refresh(sc schedule.Schedule)
	Unregister(id int64)
	Entries() []scheduler.Entry
}

// Runner accepts manual run submissions and reports its state.
type Runner interface {
	Submit(id int64, trigger runner.Trigger) error
	Snapshot() runner.Snapshot
}

func (s *Server) routes(cfg Config) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.requestLog)

	r.Get("/healthz", s.handleHealthz)

	r.Group(func(r chi.Router) {
		r.Use(tokenAuth(cfg.APIToken))

		r.Route("/api", func(r chi.Router) {
			r.Get("/status", s.handleStatus)

			r.Route("/schedules", func(r chi.Router) {
				r.Get("/", s.handleListSchedules)
				r.Post("/", s.handleCreateSchedule)
				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", s.handleGetSchedule)
					r.Put("/", s.handleUpdateSchedule)
					r.Delete("/", s.handleDeleteSchedule)
					r.Post("/run", s.handleRunSchedule)
				})
			})

			r.Route("/leads", func(r chi.Router) {
				r.Get("/", s.handleListLeads)
				r.Get("/{id}", s.handleGetLead)
				r.Patch("/{id}/status", s.handleLeadStatus)
			})
		})

		if cfg.PprofEnabled {
			r.Route("/debug/pprof", func(r chi.Router) {
				r.Get("/", hpprof.Index)
				r.Get("/cmdline", hpprof.Cmdline)
				r.Get("/profile", hpprof.Profile)
				r.HandleFunc("/symbol", hpprof.Symbol)
				r.Get("/trace", hpprof.Trace)
				r.Get("/{name}", func(w http.ResponseWriter, req *http.Request) {
					hpprof.Handler(chi.URLParam(req, "name")).ServeHTTP(w, req)
				})
			})
		}
	})

	return r
}

// requestLog writes one line per request. Mutations land at info, reads at
// debug so polling dashboards do not flood the log.
func (s *Server) requestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		emit := s.log.Debug
		switch r.Method {
		case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
			emit = s.log.Info
		}
		emit("request",
			logx.String("method", r.Method),
			logx.String("path", r.URL.Path),
			logx.Int("status", ww.Status()),
			logx.Duration("took", time.Since(start)),
			logx.String("req_id", middleware.GetReqID(r.Context())))
	})
}

// tokenAuth guards a subtree with a bearer token. The token is also accepted
// as a query parameter so pprof URLs stay usable from a browser. An empty
// configured token disables the check; serveOnce only allows that on
// loopback binds.
func tokenAuth(token string) func(http.Handler) http.Handler {
	tok := strings.TrimSpace(token)
	return func(next http.Handler) http.Handler {
		if tok == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if got := r.URL.Query().Get("token"); got != "" {
				if got == tok {
					next.ServeHTTP(w, r)
				} else {
					unauthorized(w)
				}
				return
			}
			auth := r.Header.Get("Authorization")
			if strings.HasPrefix(auth, "Bearer ") && strings.TrimSpace(strings.TrimPrefix(auth, "Bearer ")) == tok {
				next.ServeHTTP(w, r)
				return
			}
			unauthorized(w)
		})
	}
}

func unauthorized(w http.ResponseWriter) {
	w.Header().Set("WWW-Authenticate", `Bearer realm="leadscout"`)
	writeError(w, http.StatusUnauthorized, "unauthorized")
}
