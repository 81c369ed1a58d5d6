package scheduler

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"leadscout/internal/runner"
	"leadscout/internal/schedule"
	logx "leadscout/pkg/logx"
)

// Register arms the trigger for one schedule, replacing any existing
// trigger for the same ID. Disabled schedules and schedules whose
// enablement instant is still in the future are skipped with a debug log;
// the registry never reschedules itself around the instant, it relies on a
// later Register (mutation or restart) to re-evaluate. The runner re-checks
// enablement at every fire regardless.
func (s *Service) Register(sc schedule.Schedule) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.registerLocked(sc)
}

// Unregister stops and discards the trigger for id. Absent IDs are a no-op.
func (s *Service) Unregister(id int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unregisterLocked(id)
}

// Refresh re-evaluates one schedule after a mutation: unregister, then
// register, under a single lock acquisition.
func (s *Service) Refresh(sc schedule.Schedule) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.registerLocked(sc)
}

// Bootstrap loads every persisted schedule and registers it. Trigger state
// lives only in memory, so this is how a restart re-establishes all
// timers. Per-schedule arming failures are logged and skipped.
func (s *Service) Bootstrap(ctx context.Context) error {
	scheds, err := s.store.ListSchedules(ctx)
	if err != nil {
		return fmt.Errorf("bootstrap: list schedules: %w", err)
	}

	s.mu.Lock()
	for _, sc := range scheds {
		s.registerLocked(sc)
	}
	armed := len(s.triggers)
	s.mu.Unlock()

	s.log.Info("bootstrap complete", logx.Int("schedules", len(scheds)), logx.Int("armed", armed))
	return nil
}

// Entries snapshots the registered triggers for the status endpoint,
// sorted by schedule ID.
func (s *Service) Entries() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Entry, 0, len(s.triggers))
	for id, tr := range s.triggers {
		e := Entry{ScheduleID: id, Name: tr.name, Spec: tr.spec}
		if s.c != nil && tr.entryID != 0 {
			e.Next = s.c.Entry(tr.entryID).Next
		}
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ScheduleID < out[j].ScheduleID })
	return out
}

func (s *Service) registerLocked(sc schedule.Schedule) {
	s.unregisterLocked(sc.ID)

	if !sc.Enabled {
		s.log.Debug("trigger skipped, schedule disabled",
			logx.Int64("schedule_id", sc.ID), logx.String("name", sc.Name))
		return
	}
	if sc.EnabledFrom != nil && sc.EnabledFrom.After(time.Now()) {
		s.log.Debug("trigger skipped, enablement in the future",
			logx.Int64("schedule_id", sc.ID), logx.String("name", sc.Name),
			logx.Time("enabled_from", *sc.EnabledFrom))
		return
	}

	tr := &armedTrigger{name: sc.Name, spec: schedule.TriggerFor(sc).CronExpr()}
	s.triggers[sc.ID] = tr
	if s.c == nil {
		// Not started yet; Start arms pending definitions.
		return
	}
	s.armLocked(sc.ID, tr)
}

func (s *Service) unregisterLocked(id int64) {
	tr, ok := s.triggers[id]
	if !ok {
		return
	}
	if s.c != nil && tr.entryID != 0 {
		s.c.Remove(tr.entryID)
	}
	delete(s.triggers, id)
	s.log.Debug("trigger removed", logx.Int64("schedule_id", id), logx.String("name", tr.name))
}

// armLocked adds the cron entry for an already-registered trigger. A spec
// the parser rejects leaves the trigger registered but dormant; the
// schedule row is untouched.
func (s *Service) armLocked(id int64, tr *armedTrigger) {
	entryID, err := s.c.AddFunc(tr.spec, func() { s.fire(id) })
	if err != nil {
		s.log.Error("trigger register failed",
			logx.Int64("schedule_id", id), logx.String("name", tr.name),
			logx.String("spec", tr.spec), logx.Any("err", err))
		return
	}
	tr.entryID = entryID

	args := []logx.Field{logx.Int64("schedule_id", id), logx.String("name", tr.name), logx.String("spec", tr.spec)}
	if next := s.previewNextRunsLocked(tr.spec, 3); next != "" {
		args = append(args, logx.String("next", next))
	}
	s.log.Debug("trigger armed", args...)
}

// fire hands one trigger fire to the runner. The runner logs and records
// dropped fires itself, so refusal is only debug-worthy here.
func (s *Service) fire(id int64) {
	if s.sub == nil {
		return
	}
	if err := s.sub.Submit(id, runner.TriggerCron); err != nil {
		s.log.Debug("fire not accepted", logx.Int64("schedule_id", id), logx.Any("err", err))
	}
}

// previewNextRunsLocked renders the next n fire times of a spec for debug
// logs. Call with s.mu held.
func (s *Service) previewNextRunsLocked(spec string, n int) string {
	if !s.log.Enabled(logx.LevelDebug) || n <= 0 {
		return ""
	}
	loc := s.loc
	if loc == nil {
		loc = time.Local
	}
	sched, err := s.parser.Parse(spec)
	if err != nil {
		return ""
	}

	t := time.Now().In(loc)
	var b strings.Builder
	for i := 0; i < n; i++ {
		t = sched.Next(t)
		if t.IsZero() {
			break
		}
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(t.Format("2006-01-02 15:04"))
	}
	return b.String()
}
