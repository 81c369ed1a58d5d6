package runner

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"leadscout/internal/eventbus"
	"leadscout/internal/leads"
	"leadscout/internal/pipeline"
	"leadscout/internal/schedule"
	logx "leadscout/pkg/logx"
)

type finishRec struct {
	id     int64
	status schedule.RunStatus
	next   time.Time
}

type fakeStore struct {
	mu        sync.Mutex
	schedules map[int64]schedule.Schedule
	started   []int64
	finished  []finishRec
	domains   map[string]struct{}
}

func (f *fakeStore) GetSchedule(_ context.Context, id int64) (schedule.Schedule, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	sc, ok := f.schedules[id]
	if !ok {
		return schedule.Schedule{}, errors.New("not found")
	}
	return sc, nil
}

func (f *fakeStore) MarkRunStarted(_ context.Context, id int64, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started = append(f.started, id)
	return nil
}

func (f *fakeStore) MarkRunFinished(_ context.Context, id int64, status schedule.RunStatus, next time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.finished = append(f.finished, finishRec{id: id, status: status, next: next})
	return nil
}

func (f *fakeStore) Domains(_ context.Context) (map[string]struct{}, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]struct{}, len(f.domains))
	for d := range f.domains {
		out[d] = struct{}{}
	}
	return out, nil
}

func (f *fakeStore) finishedRuns() []finishRec {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]finishRec, len(f.finished))
	copy(out, f.finished)
	return out
}

func (f *fakeStore) startedRuns() []int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]int64, len(f.started))
	copy(out, f.started)
	return out
}

type fakePipe struct {
	mu       sync.Mutex
	calls    []string
	seenSets []map[string]struct{}
	out      map[string]pipeline.Outcome
	block    chan struct{}
	running  chan struct{}
	panicOn  string
}

func (f *fakePipe) Run(_ context.Context, kw string, _ schedule.SearchConfig, seen map[string]struct{}) pipeline.Outcome {
	f.mu.Lock()
	f.calls = append(f.calls, kw)
	snap := make(map[string]struct{}, len(seen))
	for d := range seen {
		snap[d] = struct{}{}
	}
	f.seenSets = append(f.seenSets, snap)
	block := f.block
	running := f.running
	out := f.out[kw]
	panicOn := f.panicOn
	f.mu.Unlock()

	if running != nil {
		running <- struct{}{}
	}
	if block != nil {
		<-block
	}
	if panicOn == kw {
		panic("boom")
	}
	return out
}

func (f *fakePipe) keywords() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.calls))
	copy(out, f.calls)
	return out
}

type fakeSink struct {
	mu  sync.Mutex
	err error
}

func (f *fakeSink) Store(_ context.Context, kw string, accepted []pipeline.Candidate) ([]leads.Lead, int, error) {
	f.mu.Lock()
	err := f.err
	f.mu.Unlock()
	if err != nil {
		return nil, 0, err
	}
	created := make([]leads.Lead, 0, len(accepted))
	for _, c := range accepted {
		created = append(created, leads.Lead{ID: c.URL, Keyword: kw, URL: c.URL, Domain: c.Domain})
	}
	return created, 0, nil
}

func testSchedule(id int64) schedule.Schedule {
	return schedule.Schedule{
		ID:        id,
		Name:      fmt.Sprintf("schedule-%d", id),
		Enabled:   true,
		Frequency: schedule.FreqDaily,
		Hour:      9,
		Minute:    30,
		Search: schedule.SearchConfig{
			Keywords: []string{"coffee shops"},
		},
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func startRunner(t *testing.T, cfg Config, st *fakeStore, pipe *fakePipe, sink *fakeSink, bus eventbus.Bus) *Service {
	t.Helper()
	s := New(cfg, st, pipe, sink, logx.Nop(), bus)
	s.Start(context.Background())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		s.Stop(ctx)
	})
	return s
}

func TestSubmitBeforeStart(t *testing.T) {
	s := New(Config{}, &fakeStore{}, &fakePipe{}, &fakeSink{}, logx.Nop(), nil)
	if err := s.Submit(1, TriggerManual); !errors.Is(err, ErrNotRunning) {
		t.Fatalf("Submit() = %v, want ErrNotRunning", err)
	}
}

func TestOverlappingFireIsDropped(t *testing.T) {
	st := &fakeStore{schedules: map[int64]schedule.Schedule{1: testSchedule(1)}}
	pipe := &fakePipe{
		block:   make(chan struct{}),
		running: make(chan struct{}, 8),
	}
	s := startRunner(t, Config{Workers: 2}, st, pipe, &fakeSink{}, nil)

	if err := s.Submit(1, TriggerCron); err != nil {
		t.Fatalf("first Submit() error: %v", err)
	}
	<-pipe.running

	// Second fire while the first run is still inside the pipeline.
	if err := s.Submit(1, TriggerManual); !errors.Is(err, ErrOverlapSkip) {
		t.Fatalf("second Submit() = %v, want ErrOverlapSkip", err)
	}

	close(pipe.block)
	waitFor(t, "first run to finish", func() bool { return len(st.finishedRuns()) == 1 })

	if got := st.startedRuns(); len(got) != 1 {
		t.Fatalf("MarkRunStarted called %d times, want 1", len(got))
	}

	// The guard releases on completion, so the next fire goes through.
	if err := s.Submit(1, TriggerManual); err != nil {
		t.Fatalf("Submit() after completion error: %v", err)
	}
	waitFor(t, "second run to finish", func() bool { return len(st.finishedRuns()) == 2 })

	snap := s.Snapshot()
	found := false
	for _, h := range snap.History {
		if h.Error == "overlap_skip" && h.ScheduleID == 1 {
			found = true
		}
	}
	if !found {
		t.Fatal("overlap drop not recorded in history")
	}
}

func TestQueueFullDropsFire(t *testing.T) {
	st := &fakeStore{schedules: map[int64]schedule.Schedule{
		1: testSchedule(1),
		2: testSchedule(2),
		3: testSchedule(3),
	}}
	pipe := &fakePipe{
		block:   make(chan struct{}),
		running: make(chan struct{}, 8),
	}
	s := startRunner(t, Config{Workers: 1, QueueSize: 1}, st, pipe, &fakeSink{}, nil)

	if err := s.Submit(1, TriggerCron); err != nil {
		t.Fatalf("Submit(1) error: %v", err)
	}
	<-pipe.running // schedule 1 is off the queue and executing

	if err := s.Submit(2, TriggerCron); err != nil {
		t.Fatalf("Submit(2) error: %v", err)
	}
	if err := s.Submit(3, TriggerCron); !errors.Is(err, ErrQueueFull) {
		t.Fatalf("Submit(3) = %v, want ErrQueueFull", err)
	}

	close(pipe.block)
	waitFor(t, "queued runs to finish", func() bool { return len(st.finishedRuns()) == 2 })

	// The dropped fire released its guard, so schedule 3 can run later.
	if err := s.Submit(3, TriggerCron); err != nil {
		t.Fatalf("Submit(3) after drain error: %v", err)
	}
	waitFor(t, "third run to finish", func() bool { return len(st.finishedRuns()) == 3 })
}

func TestRunLifecyclePersisted(t *testing.T) {
	sched := testSchedule(1)
	st := &fakeStore{schedules: map[int64]schedule.Schedule{1: sched}}
	pipe := &fakePipe{out: map[string]pipeline.Outcome{
		"coffee shops": {
			Found: 3,
			Candidates: []pipeline.Candidate{
				{URL: "https://a.example/", Domain: "a.example"},
				{URL: "https://b.example/", Domain: "b.example", Reasons: []pipeline.Reason{pipeline.ReasonGovEdu}},
				{URL: "https://c.example/", Domain: "c.example"},
			},
			Accepted: []pipeline.Candidate{
				{URL: "https://a.example/", Domain: "a.example"},
				{URL: "https://c.example/", Domain: "c.example"},
			},
		},
	}}
	bus := eventbus.New()
	events, unsub := bus.Subscribe(16)
	defer unsub()

	s := startRunner(t, Config{}, st, pipe, &fakeSink{}, bus)
	if err := s.Submit(1, TriggerCron); err != nil {
		t.Fatalf("Submit() error: %v", err)
	}
	// run.completed is published last, so every store write and the history
	// entry are visible once it arrives.
	types := collectUntil(t, events, eventbus.TypeRunCompleted)

	if got := st.startedRuns(); len(got) != 1 || got[0] != 1 {
		t.Fatalf("MarkRunStarted ids = %v, want [1]", got)
	}
	fin := st.finishedRuns()[0]
	if fin.status != schedule.RunSuccess {
		t.Fatalf("finish status = %q, want %q", fin.status, schedule.RunSuccess)
	}
	if fin.next.Hour() != sched.Hour || fin.next.Minute() != sched.Minute {
		t.Fatalf("next run clock = %02d:%02d, want %02d:%02d",
			fin.next.Hour(), fin.next.Minute(), sched.Hour, sched.Minute)
	}
	if !fin.next.After(time.Now()) {
		t.Fatalf("next run %v not in the future", fin.next)
	}

	snap := s.Snapshot()
	if len(snap.History) != 1 {
		t.Fatalf("history length = %d, want 1", len(snap.History))
	}
	rep := snap.History[0]
	if rep.Found != 3 || rep.Candidates != 3 || rep.Accepted != 2 || rep.Created != 2 {
		t.Fatalf("report counts = found %d candidates %d accepted %d created %d, want 3/3/2/2",
			rep.Found, rep.Candidates, rep.Accepted, rep.Created)
	}
	if rep.Rejected[pipeline.ReasonGovEdu] != 1 {
		t.Fatalf("rejected[gov_edu] = %d, want 1", rep.Rejected[pipeline.ReasonGovEdu])
	}

	if !containsAll(types, eventbus.TypeRunStarted, eventbus.TypeRunCompleted, eventbus.TypeLeadCreated) {
		t.Fatalf("event types = %v, want started+completed+lead.created", types)
	}
}

func TestFireRechecksEnablement(t *testing.T) {
	future := time.Now().Add(time.Hour)

	disabled := testSchedule(1)
	disabled.Enabled = false
	pending := testSchedule(2)
	pending.EnabledFrom = &future

	tests := []struct {
		name  string
		id    int64
		sched schedule.Schedule
	}{
		{"disabled", 1, disabled},
		{"enablement pending", 2, pending},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			st := &fakeStore{schedules: map[int64]schedule.Schedule{tt.id: tt.sched}}
			bus := eventbus.New()
			events, unsub := bus.Subscribe(16)
			defer unsub()

			s := startRunner(t, Config{}, st, &fakePipe{}, &fakeSink{}, bus)
			if err := s.Submit(tt.id, TriggerCron); err != nil {
				t.Fatalf("Submit() error: %v", err)
			}

			select {
			case e := <-events:
				if e.Type != eventbus.TypeRunSkipped {
					t.Fatalf("event = %q, want %q", e.Type, eventbus.TypeRunSkipped)
				}
			case <-time.After(3 * time.Second):
				t.Fatal("no run.skipped event observed")
			}

			if got := st.startedRuns(); len(got) != 0 {
				t.Fatalf("MarkRunStarted called for a non-runnable schedule: %v", got)
			}
		})
	}
}

func TestPipelinePanicBecomesRunError(t *testing.T) {
	st := &fakeStore{schedules: map[int64]schedule.Schedule{1: testSchedule(1)}}
	pipe := &fakePipe{panicOn: "coffee shops"}
	s := startRunner(t, Config{}, st, pipe, &fakeSink{}, nil)

	if err := s.Submit(1, TriggerCron); err != nil {
		t.Fatalf("Submit() error: %v", err)
	}
	waitFor(t, "run to finish", func() bool { return len(st.finishedRuns()) == 1 })

	fin := st.finishedRuns()[0]
	if fin.status != schedule.RunError {
		t.Fatalf("finish status = %q, want %q", fin.status, schedule.RunError)
	}
	snap := s.Snapshot()
	if len(snap.History) != 1 || !strings.Contains(snap.History[0].Error, "panic") {
		t.Fatalf("history = %+v, want a panic error recorded", snap.History)
	}

	// The guard is released; the schedule can fire again next cycle.
	pipe.mu.Lock()
	pipe.panicOn = ""
	pipe.mu.Unlock()
	if err := s.Submit(1, TriggerCron); err != nil {
		t.Fatalf("Submit() after panic error: %v", err)
	}
	waitFor(t, "recovery run to finish", func() bool { return len(st.finishedRuns()) == 2 })
	if got := st.finishedRuns()[1].status; got != schedule.RunSuccess {
		t.Fatalf("recovery run status = %q, want %q", got, schedule.RunSuccess)
	}
}

func TestSinkFailureMarksRunError(t *testing.T) {
	st := &fakeStore{schedules: map[int64]schedule.Schedule{1: testSchedule(1)}}
	pipe := &fakePipe{out: map[string]pipeline.Outcome{
		"coffee shops": {Accepted: []pipeline.Candidate{{URL: "https://a.example/"}}},
	}}
	sink := &fakeSink{err: errors.New("disk full")}
	s := startRunner(t, Config{}, st, pipe, sink, nil)

	if err := s.Submit(1, TriggerCron); err != nil {
		t.Fatalf("Submit() error: %v", err)
	}
	waitFor(t, "run to finish", func() bool { return len(st.finishedRuns()) == 1 })
	if got := st.finishedRuns()[0].status; got != schedule.RunError {
		t.Fatalf("finish status = %q, want %q", got, schedule.RunError)
	}
}

func TestRunSeedsDomainSetFromStore(t *testing.T) {
	sched := testSchedule(1)
	sched.Search.AvoidDuplicates = true
	st := &fakeStore{
		schedules: map[int64]schedule.Schedule{1: sched},
		domains:   map[string]struct{}{"known.example": {}},
	}
	pipe := &fakePipe{}
	s := startRunner(t, Config{}, st, pipe, &fakeSink{}, nil)

	if err := s.Submit(1, TriggerCron); err != nil {
		t.Fatalf("Submit() error: %v", err)
	}
	waitFor(t, "run to finish", func() bool { return len(st.finishedRuns()) == 1 })

	pipe.mu.Lock()
	defer pipe.mu.Unlock()
	if len(pipe.seenSets) != 1 {
		t.Fatalf("pipeline ran %d times, want 1", len(pipe.seenSets))
	}
	if _, ok := pipe.seenSets[0]["known.example"]; !ok {
		t.Fatal("persisted domain missing from the dedup seed")
	}
}

type fakeExpander struct {
	variants map[string][]string
	err      error
}

func (f *fakeExpander) ExpandKeyword(_ context.Context, kw string, _ int) ([]string, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.variants[kw], nil
}

func TestEffectiveKeywords(t *testing.T) {
	base := testSchedule(1)
	base.Search.Keywords = []string{"coffee shops", "roasters"}
	expanded := base
	expanded.Search.ExpandKeywords = true

	tests := []struct {
		name     string
		sched    schedule.Schedule
		expander Expander
		want     []string
	}{
		{
			name:  "expansion off",
			sched: base,
			expander: &fakeExpander{variants: map[string][]string{
				"coffee shops": {"espresso bars"},
			}},
			want: []string{"coffee shops", "roasters"},
		},
		{
			name:  "expansion on, originals first",
			sched: expanded,
			expander: &fakeExpander{variants: map[string][]string{
				"coffee shops": {"espresso bars", "Coffee Shops"},
				"roasters":     {"specialty roasters"},
			}},
			want: []string{"coffee shops", "roasters", "espresso bars", "specialty roasters"},
		},
		{
			name:     "expansion failure degrades to originals",
			sched:    expanded,
			expander: &fakeExpander{err: errors.New("provider down")},
			want:     []string{"coffee shops", "roasters"},
		},
		{
			name:     "no expander wired",
			sched:    expanded,
			expander: nil,
			want:     []string{"coffee shops", "roasters"},
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			s := New(Config{}, &fakeStore{}, &fakePipe{}, &fakeSink{}, logx.Nop(), nil)
			if tt.expander != nil {
				s.SetExpander(tt.expander)
			}
			got := s.effectiveKeywords(context.Background(), tt.sched)
			if len(got) != len(tt.want) {
				t.Fatalf("effectiveKeywords() = %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Fatalf("effectiveKeywords() = %v, want %v", got, tt.want)
				}
			}
		})
	}
}

// collectUntil reads events until the wanted type arrives, returning every
// type seen on the way (the wanted one included).
func collectUntil(t *testing.T, ch <-chan eventbus.Event, want string) []string {
	t.Helper()
	var types []string
	deadline := time.After(3 * time.Second)
	for {
		select {
		case e := <-ch:
			types = append(types, e.Type)
			if e.Type == want {
				return types
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s event, saw %v", want, types)
			return nil
		}
	}
}

func containsAll(have []string, want ...string) bool {
	set := make(map[string]struct{}, len(have))
	for _, h := range have {
		set[h] = struct{}{}
	}
	for _, w := range want {
		if _, ok := set[w]; !ok {
			return false
		}
	}
	return true
}
