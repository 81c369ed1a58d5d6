package notifier

import (
	"context"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"leadscout/internal/eventbus"
	"leadscout/internal/runner"
	rtsup "leadscout/internal/runtime/supervisor"
	logx "leadscout/pkg/logx"
)

// sendTimeout bounds one chat call so a slow API cannot hang the worker.
const sendTimeout = 10 * time.Second

const dedupMaxEntries = 512

// Service is the relay between the event bus and the chat. Safe for
// concurrent use.
type Service struct {
	log    logx.Logger
	bus    eventbus.Bus
	sender Sender

	mu      sync.Mutex
	cfg     Config
	limiter *rate.Limiter

	q        chan report
	unsub    func()
	sup      *rtsup.Supervisor
	stopCh   chan struct{}
	stopDone chan struct{}

	// Suppressed-until instants keyed by report hash.
	dmu   sync.Mutex
	dedup map[uint64]time.Time
}

func New(cfg Config, sender Sender, bus eventbus.Bus, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{
		log:    log,
		bus:    bus,
		sender: sender,
		dedup:  map[uint64]time.Time{},
	}
	s.Apply(cfg)
	return s
}

// Apply re-targets chat and rate at runtime. Enabling a notifier that was
// disabled at startup additionally needs a Start call.
func (s *Service) Apply(cfg Config) {
	cfg = cfg.withDefaults()
	s.mu.Lock()
	s.cfg = cfg
	// Token bucket sized for chat API quotas; the small burst keeps
	// back-to-back run reports from queueing behind the limiter.
	s.limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(cfg.RatePerMin)), 3)
	s.mu.Unlock()
}

// Start subscribes to the bus and launches the relay and send loops. A
// disabled notifier, or one without a sender, starts nothing. Idempotent.
func (s *Service) Start(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}

	s.mu.Lock()
	if s.stopDone != nil {
		done := s.stopDone
		s.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
			return
		}
		s.mu.Lock()
	}
	if s.q != nil || !s.cfg.Enabled || s.sender == nil || s.bus == nil {
		s.mu.Unlock()
		return
	}

	s.q = make(chan report, s.cfg.QueueSize)
	s.stopCh = make(chan struct{})
	s.sup = rtsup.New(ctx, rtsup.WithLogger(s.log))
	events, unsub := s.bus.Subscribe(64)
	s.unsub = unsub

	q := s.q
	stop := s.stopCh
	sup := s.sup
	chatID := s.cfg.ChatID
	s.mu.Unlock()

	sup.GoRestart("notifier.relay", func(c context.Context) error {
		s.relayLoop(c, events, q, stop)
		return context.Canceled
	})
	sup.GoRestart("notifier.send", func(c context.Context) error {
		s.sendLoop(c, q, stop)
		return context.Canceled
	})
	s.log.Info("service started", logx.Int64("chat_id", chatID))
}

// Stop unsubscribes and stops both loops. Reports still queued are
// dropped; shutdown never waits out the rate limiter.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	if s.q == nil {
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
	unsub := s.unsub
	stop := s.stopCh
	sup := s.sup
	s.mu.Unlock()

	go func() {
		defer close(done)
		if unsub != nil {
			unsub()
		}
		close(stop)
		if sup != nil {
			_ = sup.Wait(context.Background())
		}

		s.mu.Lock()
		s.q = nil
		s.unsub = nil
		s.stopCh = nil
		s.sup = nil
		s.stopDone = nil
		s.mu.Unlock()
	}()

	select {
	case <-done:
	case <-ctx.Done():
		if sup != nil {
			sup.Cancel()
		}
		s.log.Warn("notifier stop timed out")
	}
}

// relayLoop turns run lifecycle events into queued reports.
func (s *Service) relayLoop(ctx context.Context, events <-chan eventbus.Event, q chan<- report, stop <-chan struct{}) {
	for {
		select {
		case <-stop:
			return
		case <-ctx.Done():
			return
		case ev := <-events:
			if ev.Type != eventbus.TypeRunCompleted && ev.Type != eventbus.TypeRunFailed {
				continue
			}
			rep, ok := ev.Data.(runner.Report)
			if !ok {
				continue
			}
			s.enqueue(rep, q)
		}
	}
}

func (s *Service) enqueue(rep runner.Report, q chan<- report) {
	s.mu.Lock()
	enabled := s.cfg.Enabled
	chatID := s.cfg.ChatID
	window := s.cfg.DedupWindow
	s.mu.Unlock()
	if !enabled || chatID == 0 {
		return
	}

	text := formatReport(rep)
	key := dedupKey(chatID, text)
	if !s.dedupAllow(key, window) {
		s.log.Debug("report suppressed, duplicate within window",
			logx.Int64("schedule_id", rep.ScheduleID))
		return
	}

	select {
	case q <- report{chatID: chatID, text: text, key: key}:
	default:
		s.log.Warn("report dropped, queue full", logx.Int64("schedule_id", rep.ScheduleID))
	}
}

func (s *Service) sendLoop(ctx context.Context, q <-chan report, stop <-chan struct{}) {
	for {
		select {
		case <-stop:
			return
		case <-ctx.Done():
			return
		case r := <-q:
			s.deliver(ctx, r)
		}
	}
}

func (s *Service) deliver(ctx context.Context, r report) {
	s.mu.Lock()
	lim := s.limiter
	s.mu.Unlock()

	if lim != nil {
		if err := lim.Wait(ctx); err != nil {
			return
		}
	}

	cctx, cancel := context.WithTimeout(ctx, sendTimeout)
	err := s.sender.Send(cctx, r.chatID, r.text)
	cancel()
	if err != nil {
		s.log.Warn("report delivery failed", logx.Int64("chat_id", r.chatID), logx.Err(err))
		return
	}
	s.log.Debug("report delivered", logx.Int64("chat_id", r.chatID))
}

// dedupKey hashes target + text; identical reports to the same chat are
// suppressed inside the window.
func dedupKey(chatID int64, text string) uint64 {
	h := fnv.New64a()
	_, _ = fmt.Fprintf(h, "%d|", chatID)
	_, _ = h.Write([]byte(text))
	return h.Sum64()
}

func (s *Service) dedupAllow(key uint64, window time.Duration) bool {
	if window <= 0 {
		return true
	}
	now := time.Now()

	s.dmu.Lock()
	defer s.dmu.Unlock()
	if until, ok := s.dedup[key]; ok && now.Before(until) {
		return false
	}
	for k, until := range s.dedup {
		if !now.Before(until) {
			delete(s.dedup, k)
		}
	}
	// Cap growth.
	if len(s.dedup) >= dedupMaxEntries {
		s.dedup = map[uint64]time.Time{}
	}
	s.dedup[key] = now.Add(window)
	return true
}
