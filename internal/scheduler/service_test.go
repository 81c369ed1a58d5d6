package scheduler

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"leadscout/internal/runner"
	"leadscout/internal/schedule"
	logx "leadscout/pkg/logx"
)

type fakeSubmitter struct {
	ids      []int64
	triggers []runner.Trigger
	err      error
}

func (f *fakeSubmitter) Submit(id int64, tr runner.Trigger) error {
	f.ids = append(f.ids, id)
	f.triggers = append(f.triggers, tr)
	return f.err
}

type fakeLister struct {
	scheds []schedule.Schedule
	err    error
}

func (f *fakeLister) ListSchedules(ctx context.Context) ([]schedule.Schedule, error) {
	return f.scheds, f.err
}

func enabledSchedule(id int64, name string) schedule.Schedule {
	return schedule.Schedule{
		ID:        id,
		Name:      name,
		Enabled:   true,
		Frequency: schedule.FreqDaily,
		Hour:      9,
		Minute:    30,
		Search:    schedule.SearchConfig{Keywords: []string{"coffee shops"}},
	}
}

func newTestService(t *testing.T, store Lister, sub Submitter) *Service {
	t.Helper()
	if store == nil {
		store = &fakeLister{}
	}
	if sub == nil {
		sub = &fakeSubmitter{}
	}
	s := New(Config{Timezone: "UTC"}, store, sub, logx.Nop())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		s.Stop(ctx)
	})
	return s
}

func TestRegisterSkipsDisabled(t *testing.T) {
	s := newTestService(t, nil, nil)
	s.Start(context.Background())

	sc := enabledSchedule(1, "disabled")
	sc.Enabled = false
	s.Register(sc)

	if got := s.Entries(); len(got) != 0 {
		t.Fatalf("Entries() = %v, want empty", got)
	}
}

func TestRegisterSkipsFutureEnablement(t *testing.T) {
	s := newTestService(t, nil, nil)
	s.Start(context.Background())

	from := time.Now().Add(time.Hour)
	sc := enabledSchedule(1, "later")
	sc.EnabledFrom = &from
	s.Register(sc)

	if got := s.Entries(); len(got) != 0 {
		t.Fatalf("Entries() = %v, want empty", got)
	}
}

func TestRegisterArmsTrigger(t *testing.T) {
	s := newTestService(t, nil, nil)
	s.Start(context.Background())

	s.Register(enabledSchedule(7, "daily"))

	got := s.Entries()
	if len(got) != 1 {
		t.Fatalf("len(Entries()) = %d, want 1", len(got))
	}
	e := got[0]
	if e.ScheduleID != 7 || e.Name != "daily" {
		t.Fatalf("entry = %+v, want id 7 name daily", e)
	}
	if e.Spec != "30 9 * * *" {
		t.Fatalf("Spec = %q, want %q", e.Spec, "30 9 * * *")
	}
	if e.Next.IsZero() {
		t.Fatalf("Next is zero, want a future fire time")
	}
	if h, m := e.Next.UTC().Hour(), e.Next.UTC().Minute(); h != 9 || m != 30 {
		t.Fatalf("Next clock = %02d:%02d, want 09:30", h, m)
	}
}

func TestRegisterReplacesExistingTrigger(t *testing.T) {
	s := newTestService(t, nil, nil)
	s.Start(context.Background())

	s.Register(enabledSchedule(7, "daily"))
	s.Register(enabledSchedule(7, "daily"))

	mutated := enabledSchedule(7, "daily")
	mutated.Frequency = schedule.FreqWeekly
	mutated.DayOfWeek = 1
	s.Refresh(mutated)

	got := s.Entries()
	if len(got) != 1 {
		t.Fatalf("len(Entries()) = %d, want 1", len(got))
	}
	if got[0].Spec != "30 9 * * 1" {
		t.Fatalf("Spec = %q, want %q", got[0].Spec, "30 9 * * 1")
	}
}

func TestRefreshDisabledRemovesTrigger(t *testing.T) {
	s := newTestService(t, nil, nil)
	s.Start(context.Background())

	s.Register(enabledSchedule(3, "toggled"))
	if got := s.Entries(); len(got) != 1 {
		t.Fatalf("len(Entries()) after register = %d, want 1", len(got))
	}

	off := enabledSchedule(3, "toggled")
	off.Enabled = false
	s.Refresh(off)

	if got := s.Entries(); len(got) != 0 {
		t.Fatalf("Entries() after disable = %v, want empty", got)
	}
}

func TestUnregister(t *testing.T) {
	s := newTestService(t, nil, nil)
	s.Start(context.Background())

	s.Register(enabledSchedule(1, "a"))
	s.Register(enabledSchedule(2, "b"))

	s.Unregister(1)
	s.Unregister(99)

	got := s.Entries()
	if len(got) != 1 || got[0].ScheduleID != 2 {
		t.Fatalf("Entries() = %v, want only schedule 2", got)
	}
}

func TestRegisterBeforeStartArmsAtStart(t *testing.T) {
	s := newTestService(t, nil, nil)

	s.Register(enabledSchedule(5, "early"))
	if got := s.Entries(); len(got) != 1 || !got[0].Next.IsZero() {
		t.Fatalf("Entries() before Start = %v, want one dormant entry", got)
	}

	s.Start(context.Background())

	got := s.Entries()
	if len(got) != 1 || got[0].Next.IsZero() {
		t.Fatalf("Entries() after Start = %v, want one armed entry", got)
	}
}

func TestBootstrapRegistersRunnableSchedules(t *testing.T) {
	past := time.Now().Add(-time.Hour)
	future := time.Now().Add(time.Hour)

	disabled := enabledSchedule(2, "off")
	disabled.Enabled = false
	pending := enabledSchedule(3, "pending")
	pending.EnabledFrom = &future
	caughtUp := enabledSchedule(4, "caught-up")
	caughtUp.EnabledFrom = &past

	store := &fakeLister{scheds: []schedule.Schedule{
		enabledSchedule(1, "on"),
		disabled,
		pending,
		caughtUp,
	}}
	s := newTestService(t, store, nil)
	s.Start(context.Background())

	if err := s.Bootstrap(context.Background()); err != nil {
		t.Fatalf("Bootstrap() error = %v", err)
	}

	got := s.Entries()
	if len(got) != 2 {
		t.Fatalf("len(Entries()) = %d, want 2", len(got))
	}
	if got[0].ScheduleID != 1 || got[1].ScheduleID != 4 {
		t.Fatalf("Entries() = %v, want schedules 1 and 4", got)
	}
}

func TestBootstrapStoreError(t *testing.T) {
	want := errors.New("db locked")
	s := newTestService(t, &fakeLister{err: want}, nil)

	err := s.Bootstrap(context.Background())
	if !errors.Is(err, want) {
		t.Fatalf("Bootstrap() error = %v, want %v", err, want)
	}
}

func TestApplyTimezoneRearms(t *testing.T) {
	s := newTestService(t, nil, nil)
	s.Start(context.Background())
	s.Register(enabledSchedule(1, "daily"))

	s.Apply(Config{Timezone: ""})

	got := s.Entries()
	if len(got) != 1 {
		t.Fatalf("len(Entries()) after Apply = %d, want 1", len(got))
	}
	if got[0].Next.IsZero() {
		t.Fatalf("Next is zero after re-arm, want a future fire time")
	}
}

func TestFireHandsOffToRunner(t *testing.T) {
	sub := &fakeSubmitter{}
	s := newTestService(t, nil, sub)

	s.fire(42)

	if len(sub.ids) != 1 || sub.ids[0] != 42 {
		t.Fatalf("submitted ids = %v, want [42]", sub.ids)
	}
	if sub.triggers[0] != runner.TriggerCron {
		t.Fatalf("trigger = %q, want %q", sub.triggers[0], runner.TriggerCron)
	}
}

func TestFireRefusalIsSwallowed(t *testing.T) {
	sub := &fakeSubmitter{err: runner.ErrOverlapSkip}
	s := newTestService(t, nil, sub)

	s.fire(42)

	if len(sub.ids) != 1 {
		t.Fatalf("submitted ids = %v, want one attempt", sub.ids)
	}
}

func TestPreviewNextRuns(t *testing.T) {
	s := New(Config{Timezone: "UTC"}, &fakeLister{}, &fakeSubmitter{}, logx.NewConsole("debug"))
	s.mu.Lock()
	got := s.previewNextRunsLocked("30 9 * * *", 2)
	s.mu.Unlock()

	if got == "" {
		t.Fatalf("previewNextRunsLocked() = empty, want two fire times")
	}
	if parts := strings.Split(got, ", "); len(parts) != 2 {
		t.Fatalf("previewNextRunsLocked() = %q, want two comma-separated times", got)
	}
}
