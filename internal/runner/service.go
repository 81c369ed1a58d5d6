package runner

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sort"
	"strings"
	"sync"
	"time"

	"leadscout/internal/eventbus"
	"leadscout/internal/pipeline"
	"leadscout/internal/schedule"
	logx "leadscout/pkg/logx"

	rtsup "leadscout/internal/runtime/supervisor"
)

// expandVariants is how many extra variants the expander is asked for per
// configured keyword.
const expandVariants = 3

type Service struct {
	mu  sync.Mutex
	cfg Config
	log logx.Logger
	bus eventbus.Bus

	store    Store
	pipe     Pipeline
	sink     Sink
	expander Expander

	q        chan job
	sup      *rtsup.Supervisor
	stopCh   chan struct{}
	stopDone chan struct{}

	stateMu sync.Mutex
	states  map[int64]*runState

	hmu     sync.Mutex
	history []Report

	now func() time.Time
}

type job struct {
	id      int64
	trigger Trigger
	state   *runState
}

func New(cfg Config, st Store, pipe Pipeline, sink Sink, log logx.Logger, bus eventbus.Bus) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		cfg:    cfg.withDefaults(),
		log:    log,
		bus:    bus,
		store:  st,
		pipe:   pipe,
		sink:   sink,
		states: make(map[int64]*runState),
		now:    time.Now,
	}
}

// SetExpander wires the optional keyword-variant provider.
func (s *Service) SetExpander(e Expander) {
	s.mu.Lock()
	s.expander = e
	s.mu.Unlock()
}

func (s *Service) Start(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	// Start is idempotent; if a stop is still draining, wait for it.
	if s.stopCh != nil {
		done := s.stopDone
		s.mu.Unlock()
		if done == nil {
			return
		}
		select {
		case <-done:
		case <-ctx.Done():
			return
		}
		s.mu.Lock()
		if s.stopCh != nil {
			s.mu.Unlock()
			return
		}
	}

	cfg := s.cfg
	s.q = make(chan job, cfg.QueueSize)
	s.stopCh = make(chan struct{})
	s.stopDone = nil
	stopCh := s.stopCh
	queue := s.q
	s.sup = rtsup.New(ctx,
		rtsup.WithLogger(s.log.With(logx.String("component", "runner"))))
	sup := s.sup
	s.mu.Unlock()

	for i := 0; i < cfg.Workers; i++ {
		name := fmt.Sprintf("worker.%d", i)
		sup.GoRestart(name, func(c context.Context) error {
			s.worker(c, stopCh, queue)
			select {
			case <-stopCh:
				return context.Canceled
			default:
			}
			if c.Err() != nil {
				return c.Err()
			}
			return errors.New("worker exited unexpectedly")
		})
	}

	s.log.Info("runner started",
		logx.Int("workers", cfg.Workers), logx.Int("queue", cap(queue)))
}

func (s *Service) Stop(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	if s.stopCh == nil {
		s.mu.Unlock()
		return
	}
	if s.stopDone != nil {
		done := s.stopDone
		s.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
		}
		return
	}

	done := make(chan struct{})
	s.stopDone = done
	close(s.stopCh)
	sup := s.sup
	s.mu.Unlock()

	if sup != nil {
		sup.Cancel()
	}
	go func() {
		// Drain in the background so a caller timeout never leaks state.
		if sup != nil {
			_ = sup.Wait(context.Background())
		}
		s.mu.Lock()
		s.q = nil
		s.stopCh = nil
		s.stopDone = nil
		s.sup = nil
		s.mu.Unlock()
		close(done)
	}()

	select {
	case <-done:
		s.log.Info("runner stopped")
	case <-ctx.Done():
		s.log.Warn("runner stop timed out", logx.Err(ctx.Err()))
	}
}

// Apply swaps the pool configuration, restarting workers when the pool
// shape changed.
func (s *Service) Apply(ctx context.Context, cfg Config) {
	cfg = cfg.withDefaults()
	s.mu.Lock()
	prev := s.cfg
	s.cfg = cfg
	running := s.stopCh != nil && s.stopDone == nil
	s.mu.Unlock()

	if !running {
		return
	}
	if prev.Workers != cfg.Workers || prev.QueueSize != cfg.QueueSize {
		s.Stop(ctx)
		s.Start(ctx)
	}
}

// Submit hands one fire to the pool without blocking. A schedule with a run
// already in flight (or queued) is dropped with ErrOverlapSkip; a full
// queue drops with ErrQueueFull.
func (s *Service) Submit(id int64, trigger Trigger) error {
	s.mu.Lock()
	q := s.q
	stopping := s.stopDone != nil
	s.mu.Unlock()

	if q == nil || stopping {
		return ErrNotRunning
	}

	st := s.stateFor(id)
	if !st.tryAcquire() {
		now := s.now()
		s.log.Warn("run overlap, dropping fire",
			logx.Int64("schedule_id", id), logx.String("trigger", string(trigger)))
		rep := Report{ScheduleID: id, Trigger: trigger, Started: now, Error: "overlap_skip"}
		s.appendHistory(rep)
		s.publish(eventbus.TypeRunSkipped, now, rep)
		return ErrOverlapSkip
	}

	select {
	case q <- job{id: id, trigger: trigger, state: st}:
		return nil
	default:
		st.release()
		s.log.Warn("run dropped, queue full",
			logx.Int64("schedule_id", id), logx.String("trigger", string(trigger)),
			logx.Int("queue_cap", cap(q)))
		return ErrQueueFull
	}
}

func (s *Service) worker(ctx context.Context, stopCh <-chan struct{}, queue chan job) {
	for {
		// A closed stopCh wins over queued work.
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		default:
		}

		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case j, ok := <-queue:
			if !ok {
				return
			}
			s.executeRun(ctx, j)
		}
	}
}

func (s *Service) executeRun(ctx context.Context, j job) {
	defer j.state.release()
	started := s.now()

	// Fresh row, not whatever the trigger closure saw at registration.
	sched, err := s.store.GetSchedule(ctx, j.id)
	if err != nil {
		s.log.Warn("fire for unknown schedule",
			logx.Int64("schedule_id", j.id), logx.Err(err))
		s.appendHistory(Report{
			ScheduleID: j.id, Trigger: j.trigger, Started: started,
			Error: "schedule not found",
		})
		return
	}

	// Enablement is re-checked at every fire: the trigger may be armed
	// before the enablement instant arrives.
	if !sched.RunnableAt(started) {
		s.log.Debug("fire skipped, schedule not runnable",
			logx.Int64("schedule_id", j.id), logx.String("name", sched.Name))
		s.publish(eventbus.TypeRunSkipped, started, Report{
			ScheduleID: j.id, Name: sched.Name, Trigger: j.trigger,
			Started: started, Error: "not_runnable",
		})
		return
	}

	rep := Report{
		ScheduleID: j.id,
		Name:       sched.Name,
		Trigger:    j.trigger,
		Started:    started,
	}

	if err := s.store.MarkRunStarted(ctx, j.id, started); err != nil {
		rep.Error = fmt.Sprintf("mark run started: %v", err)
		s.log.Error("persisting run start failed",
			logx.Int64("schedule_id", j.id), logx.Err(err))
		s.appendHistory(rep)
		s.publish(eventbus.TypeRunFailed, started, rep)
		return
	}

	s.log.Info("run started",
		logx.Int64("schedule_id", j.id), logx.String("name", sched.Name),
		logx.String("trigger", string(j.trigger)))
	s.publish(eventbus.TypeRunStarted, started, rep)

	runErr := s.runPipeline(ctx, sched, &rep)

	finished := s.now()
	rep.Duration = finished.Sub(started)

	status := schedule.RunSuccess
	if runErr != nil {
		status = schedule.RunError
		rep.Error = runErr.Error()
	}
	next := sched.NextRunAfter(finished)
	if err := s.store.MarkRunFinished(ctx, j.id, status, next); err != nil {
		s.log.Error("persisting run outcome failed",
			logx.Int64("schedule_id", j.id), logx.Err(err))
		if rep.Error == "" {
			rep.Error = fmt.Sprintf("mark run finished: %v", err)
			status = schedule.RunError
		}
	}

	s.appendHistory(rep)
	if status == schedule.RunError {
		s.log.Warn("run failed",
			logx.Int64("schedule_id", j.id), logx.String("name", sched.Name),
			logx.String("error", rep.Error), logx.Duration("dur", rep.Duration))
		s.publish(eventbus.TypeRunFailed, finished, rep)
		return
	}
	s.log.Info("run completed",
		logx.Int64("schedule_id", j.id), logx.String("name", sched.Name),
		logx.Int("found", rep.Found), logx.Int("accepted", rep.Accepted),
		logx.Int("created", rep.Created), logx.Int("duplicates", rep.Duplicates),
		logx.Duration("dur", rep.Duration))
	s.publish(eventbus.TypeRunCompleted, finished, rep)
}

// runPipeline walks every keyword through the pipeline and sink. Panics are
// converted to errors here; a run failure must never unseat the trigger.
func (s *Service) runPipeline(ctx context.Context, sched schedule.Schedule, rep *Report) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("pipeline panic: %v", r)
			s.log.Error("pipeline panicked",
				logx.Int64("schedule_id", sched.ID), logx.Any("panic", r),
				logx.String("stack", string(debug.Stack())))
		}
	}()

	keywords := s.effectiveKeywords(ctx, sched)
	rep.Keywords = keywords

	seen := make(map[string]struct{})
	if sched.Search.AvoidDuplicates {
		domains, derr := s.store.Domains(ctx)
		if derr != nil {
			s.log.Warn("loading known domains failed, dedup starts empty", logx.Err(derr))
		} else {
			seen = domains
		}
	}

	for _, kw := range keywords {
		out := s.pipe.Run(ctx, kw, sched.Search, seen)
		rep.Found += out.Found
		rep.Candidates += len(out.Candidates)
		rep.Accepted += len(out.Accepted)
		rep.PagesFailed += out.PagesFailed
		tallyRejections(rep, out)

		created, skipped, serr := s.sink.Store(ctx, kw, out.Accepted)
		rep.Created += len(created)
		rep.Duplicates += skipped
		for _, l := range created {
			s.publish(eventbus.TypeLeadCreated, s.now(), l)
		}
		if serr != nil {
			return fmt.Errorf("keyword %q: %w", kw, serr)
		}
	}
	return nil
}

// effectiveKeywords returns the configured keywords, expanded with provider
// variants when requested. Expansion failure degrades to the original
// keyword. Originals come first; the list is deduplicated case-insensitively.
func (s *Service) effectiveKeywords(ctx context.Context, sched schedule.Schedule) []string {
	s.mu.Lock()
	expander := s.expander
	s.mu.Unlock()

	base := sched.Search.Keywords
	if !sched.Search.ExpandKeywords || expander == nil {
		return dedupKeywords(base)
	}

	all := make([]string, 0, len(base)*(expandVariants+1))
	all = append(all, base...)
	for _, kw := range base {
		variants, err := expander.ExpandKeyword(ctx, kw, expandVariants)
		if err != nil {
			s.log.Warn("keyword expansion failed, using original",
				logx.String("keyword", kw), logx.Err(err))
			continue
		}
		all = append(all, variants...)
	}
	return dedupKeywords(all)
}

func dedupKeywords(in []string) []string {
	out := make([]string, 0, len(in))
	seen := make(map[string]struct{}, len(in))
	for _, kw := range in {
		kw = strings.TrimSpace(kw)
		if kw == "" {
			continue
		}
		key := strings.ToLower(kw)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, kw)
	}
	return out
}

func tallyRejections(rep *Report, out pipeline.Outcome) {
	for _, c := range out.Candidates {
		for _, r := range c.Reasons {
			if rep.Rejected == nil {
				rep.Rejected = make(map[pipeline.Reason]int)
			}
			rep.Rejected[r]++
		}
	}
}

func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	cfg := s.cfg
	q := s.q
	s.mu.Unlock()

	snap := Snapshot{Workers: cfg.Workers}
	if q != nil {
		snap.QueueLen = len(q)
		snap.QueueCap = cap(q)
	}

	s.stateMu.Lock()
	for id, st := range s.states {
		if st.busy() {
			snap.Running = append(snap.Running, id)
		}
	}
	s.stateMu.Unlock()
	sort.Slice(snap.Running, func(i, j int) bool { return snap.Running[i] < snap.Running[j] })

	s.hmu.Lock()
	snap.History = make([]Report, len(s.history))
	copy(snap.History, s.history)
	s.hmu.Unlock()
	return snap
}

func (s *Service) stateFor(id int64) *runState {
	s.stateMu.Lock()
	st := s.states[id]
	if st == nil {
		st = &runState{}
		s.states[id] = st
	}
	s.stateMu.Unlock()
	return st
}

func (s *Service) appendHistory(r Report) {
	s.mu.Lock()
	size := s.cfg.HistorySize
	s.mu.Unlock()
	if size <= 0 {
		size = 200
	}
	s.hmu.Lock()
	s.history = append(s.history, r)
	if len(s.history) > size {
		s.history = s.history[len(s.history)-size:]
	}
	s.hmu.Unlock()
}

func (s *Service) publish(typ string, at time.Time, data any) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(eventbus.Event{Type: typ, Time: at, Data: data})
}
