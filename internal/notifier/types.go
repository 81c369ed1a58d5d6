package notifier

import (
	"context"
	"time"
)

// Sender delivers one rendered report to a chat.
type Sender interface {
	Send(ctx context.Context, chatID int64, text string) error
}

// Config controls report delivery.
//
// Defaults (when fields are omitted/zero):
//   - rate_per_min: 20
//   - dedup_window: 1m
//   - queue_size: 64
type Config struct {
	Enabled     bool
	ChatID      int64
	RatePerMin  int
	DedupWindow time.Duration
	QueueSize   int
}

func (c Config) withDefaults() Config {
	if c.RatePerMin <= 0 {
		c.RatePerMin = 20
	}
	if c.DedupWindow <= 0 {
		c.DedupWindow = time.Minute
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 64
	}
	return c
}

// report is one queued delivery. The chat target is captured at enqueue
// time so a later Apply cannot redirect an already-queued report.
type report struct {
	chatID int64
	text   string
	key    uint64
}
