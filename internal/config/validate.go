package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Validate checks cross-field constraints before a config is committed.
// It is used both at startup and as the Watch() validator hook, so a bad
// edit never reaches running services.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}

	if strings.TrimSpace(cfg.Storage.Path) == "" {
		return errors.New("storage.path required")
	}
	if strings.TrimSpace(cfg.Search.Endpoint) == "" {
		return errors.New("search.endpoint required")
	}

	for _, d := range []struct{ path, raw string }{
		{"server.read_timeout", cfg.Server.ReadTimeout},
		{"server.write_timeout", cfg.Server.WriteTimeout},
		{"server.idle_timeout", cfg.Server.IdleTimeout},
		{"storage.busy_timeout", cfg.Storage.BusyTimeout},
		{"pipeline.fetch_timeout", cfg.Pipeline.FetchTimeout},
		{"search.timeout", cfg.Search.Timeout},
		{"search.expand_timeout", cfg.Search.ExpandTimeout},
	} {
		if _, err := ParseDurationField(d.path, d.raw); err != nil {
			return err
		}
	}
	if cfg.Telegram != nil {
		if _, err := ParseDurationField("telegram.dedup_window", cfg.Telegram.DedupWindow); err != nil {
			return err
		}
		if cfg.Telegram.Enabled && strings.TrimSpace(cfg.Telegram.Token) == "" {
			return errors.New("telegram.token required when telegram.enabled")
		}
		if cfg.Telegram.Enabled && cfg.Telegram.ChatID == 0 {
			return errors.New("telegram.chat_id required when telegram.enabled")
		}
	}

	if tz := strings.TrimSpace(cfg.Scheduler.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			return fmt.Errorf("scheduler.timezone: %w", err)
		}
	}

	if cfg.Runner.Workers < 0 || cfg.Runner.QueueSize < 0 || cfg.Runner.HistorySize < 0 {
		return errors.New("runner: negative values not allowed")
	}
	if cfg.Pipeline.FetchWorkers < 0 || cfg.Pipeline.FetchRatePerSec < 0 || cfg.Pipeline.MaxBodyKB < 0 {
		return errors.New("pipeline: negative values not allowed")
	}
	return nil
}
