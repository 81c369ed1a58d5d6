// Package scheduler owns the recurring triggers for persisted schedules.
// It translates recurrence fields to five-field cron entries and hands
// every fire to the runner; pipeline work never runs in the cron
// goroutine.
package scheduler

import (
	"context"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	logx "leadscout/pkg/logx"
)

func New(cfg Config, store Lister, sub Submitter, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		cfg:   cfg,
		log:   log,
		sub:   sub,
		store: store,
		// Five fields only. CronExpr emits minute-granularity expressions;
		// nothing in the repo writes seconds or descriptors.
		parser:   cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow),
		triggers: map[int64]*armedTrigger{},
	}
}

// Start creates the cron runtime and arms any triggers registered before
// startup. Later calls are no-ops.
func (s *Service) Start(ctx context.Context) {
	_ = ctx

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return
	}
	loc := s.loadLocationLocked()
	s.loc = loc
	s.c = cron.New(cron.WithParser(s.parser), cron.WithLocation(loc))
	for id, tr := range s.triggers {
		s.armLocked(id, tr)
	}
	s.c.Start()
	s.log.Info("service started", logx.String("tz", loc.String()), logx.Int("triggers", len(s.triggers)))
}

// Stop halts triggering and waits for in-flight fire handoffs to return.
// Registered definitions survive so a later Start re-arms them.
func (s *Service) Stop(ctx context.Context) {
	start := time.Now()

	s.mu.Lock()
	c := s.c
	s.c = nil
	for _, tr := range s.triggers {
		tr.entryID = 0
	}
	s.mu.Unlock()

	if c != nil {
		select {
		case <-c.Stop().Done():
		case <-ctx.Done():
		}
	}
	s.log.Info("service stopped", logx.Duration("took", time.Since(start)))
}

// Apply swaps config at runtime. A timezone change rebuilds the cron
// runtime so every armed entry fires in the new location.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	defer s.mu.Unlock()

	oldTZ := strings.TrimSpace(s.cfg.Timezone)
	newTZ := strings.TrimSpace(cfg.Timezone)
	s.cfg = cfg

	if s.c == nil {
		return
	}
	if oldTZ != newTZ {
		s.restartLocked()
	}
}

// restartLocked tears down the cron runtime and rebuilds it in the current
// location, re-arming every registered trigger. Call with s.mu held.
func (s *Service) restartLocked() {
	if s.c != nil {
		<-s.c.Stop().Done()
	}
	loc := s.loadLocationLocked()
	s.loc = loc
	s.c = cron.New(cron.WithParser(s.parser), cron.WithLocation(loc))
	for id, tr := range s.triggers {
		s.armLocked(id, tr)
	}
	s.c.Start()
	s.log.Info("service restarted", logx.String("tz", loc.String()), logx.Int("triggers", len(s.triggers)))
}

func (s *Service) loadLocationLocked() *time.Location {
	tz := strings.TrimSpace(s.cfg.Timezone)
	if tz == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		s.log.Warn("invalid timezone, falling back to local", logx.String("tz", tz), logx.Any("err", err))
		return time.Local
	}
	return loc
}
