// Package runner executes schedule runs: it guards each schedule against
// overlapping executions, walks the candidate pipeline per keyword and
// persists the outcome bookkeeping.
package runner

import (
	"context"
	"errors"
	"sync"
	"time"

	"leadscout/internal/leads"
	"leadscout/internal/pipeline"
	"leadscout/internal/schedule"
)

var (
	ErrNotRunning  = errors.New("runner not running")
	ErrQueueFull   = errors.New("runner queue full")
	ErrOverlapSkip = errors.New("run already in flight for schedule")
)

// Config controls the run execution pool.
type Config struct {
	Workers     int
	QueueSize   int
	HistorySize int
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = 2
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 64
	}
	if c.HistorySize <= 0 {
		c.HistorySize = 200
	}
	return c
}

// Trigger says what caused a run submission.
type Trigger string

const (
	TriggerCron   Trigger = "cron"
	TriggerManual Trigger = "manual"
)

// Store is the persistence surface the runner needs.
type Store interface {
	GetSchedule(ctx context.Context, id int64) (schedule.Schedule, error)
	MarkRunStarted(ctx context.Context, id int64, at time.Time) error
	MarkRunFinished(ctx context.Context, id int64, status schedule.RunStatus, nextRunAt time.Time) error
	Domains(ctx context.Context) (map[string]struct{}, error)
}

// Pipeline filters one keyword into accepted candidates.
type Pipeline interface {
	Run(ctx context.Context, keyword string, cfg schedule.SearchConfig, seen map[string]struct{}) pipeline.Outcome
}

// Sink persists accepted candidates.
type Sink interface {
	Store(ctx context.Context, keyword string, accepted []pipeline.Candidate) ([]leads.Lead, int, error)
}

// Expander supplies extra keyword variants before searching.
type Expander interface {
	ExpandKeyword(ctx context.Context, keyword string, count int) ([]string, error)
}

// Report aggregates one run for history, events and the status endpoint.
type Report struct {
	ScheduleID  int64                   `json:"schedule_id"`
	Name        string                  `json:"name,omitempty"`
	Trigger     Trigger                 `json:"trigger"`
	Started     time.Time               `json:"started"`
	Duration    time.Duration           `json:"duration"`
	Keywords    []string                `json:"keywords,omitempty"`
	Found       int                     `json:"found"`
	Candidates  int                     `json:"candidates"`
	Accepted    int                     `json:"accepted"`
	Created     int                     `json:"created"`
	Duplicates  int                     `json:"duplicates"`
	PagesFailed int                     `json:"pages_failed,omitempty"`
	Rejected    map[pipeline.Reason]int `json:"rejected,omitempty"`
	Error       string                  `json:"error,omitempty"`
}

// Snapshot is a point-in-time view for diagnostics.
type Snapshot struct {
	Workers  int      `json:"workers"`
	QueueLen int      `json:"queue_len"`
	QueueCap int      `json:"queue_cap"`
	Running  []int64  `json:"running,omitempty"`
	History  []Report `json:"history,omitempty"`
}

// runState tracks whether a schedule already has a run in flight or queued.
// Acquiring at submit time keeps a fast-firing trigger from stacking runs
// in the queue.
type runState struct {
	mu       sync.Mutex
	inflight int
}

func (s *runState) tryAcquire() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inflight > 0 {
		return false
	}
	s.inflight++
	return true
}

func (s *runState) release() {
	s.mu.Lock()
	if s.inflight > 0 {
		s.inflight--
	}
	s.mu.Unlock()
}

func (s *runState) busy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inflight > 0
}
