package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"leadscout/internal/runner"
	"leadscout/internal/schedule"
	logx "leadscout/pkg/logx"
)

// Config controls trigger evaluation.
type Config struct {
	// Timezone is the IANA zone cron fields fire in, e.g. "Europe/Berlin".
	// Empty means the process-local zone.
	Timezone string
}

// Submitter accepts fired schedule IDs for execution. Fires are handed off
// immediately; nothing runs inside the cron goroutine.
type Submitter interface {
	Submit(id int64, trigger runner.Trigger) error
}

// Lister is the slice of the store Bootstrap needs.
type Lister interface {
	ListSchedules(ctx context.Context) ([]schedule.Schedule, error)
}

// Entry describes one registered trigger for the status endpoint.
type Entry struct {
	ScheduleID int64     `json:"schedule_id"`
	Name       string    `json:"name"`
	Spec       string    `json:"spec"`
	Next       time.Time `json:"next,omitzero"`
}

type armedTrigger struct {
	name    string
	spec    string
	entryID cron.EntryID
}

// Service arms one recurring cron trigger per runnable schedule. Trigger
// state lives only in memory; Bootstrap rebuilds it from the store after a
// restart.
type Service struct {
	log   logx.Logger
	sub   Submitter
	store Lister

	mu       sync.Mutex
	cfg      Config
	loc      *time.Location
	parser   cron.Parser
	c        *cron.Cron
	triggers map[int64]*armedTrigger
}
