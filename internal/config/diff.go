package config

import (
	"reflect"
	"sort"
	"strings"

	logx "leadscout/pkg/logx"
)

// SummarizeConfigChange returns a compact list of changed sections plus safe
// structured attrs for logging. Secrets (tokens, API keys) are never included;
// only whether they are set.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 6)
	attrs := make([]logx.Field, 0, 20)

	// Server (never log api_token)
	if strings.TrimSpace(oldCfg.Server.Listen) != strings.TrimSpace(newCfg.Server.Listen) ||
		oldCfg.Server.PprofEnabled != newCfg.Server.PprofEnabled ||
		(strings.TrimSpace(oldCfg.Server.APIToken) != "") != (strings.TrimSpace(newCfg.Server.APIToken) != "") ||
		strings.TrimSpace(oldCfg.Server.ReadTimeout) != strings.TrimSpace(newCfg.Server.ReadTimeout) ||
		strings.TrimSpace(oldCfg.Server.WriteTimeout) != strings.TrimSpace(newCfg.Server.WriteTimeout) ||
		strings.TrimSpace(oldCfg.Server.IdleTimeout) != strings.TrimSpace(newCfg.Server.IdleTimeout) {
		changed = append(changed, "server")
		attrs = append(attrs,
			logx.String("server.listen", strings.TrimSpace(newCfg.Server.Listen)),
			logx.Bool("server.pprof_enabled", newCfg.Server.PprofEnabled),
			logx.Bool("server.api_token_set", strings.TrimSpace(newCfg.Server.APIToken) != ""),
		)
	}

	// Logging
	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logx.level", newCfg.Logging.Level),
			logx.Bool("logx.console", newCfg.Logging.Console),
			logx.Bool("logx.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	// Storage
	if strings.TrimSpace(oldCfg.Storage.Path) != strings.TrimSpace(newCfg.Storage.Path) ||
		strings.TrimSpace(oldCfg.Storage.BusyTimeout) != strings.TrimSpace(newCfg.Storage.BusyTimeout) {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.Bool("storage.path_set", strings.TrimSpace(newCfg.Storage.Path) != ""),
			logx.String("storage.busy_timeout", strings.TrimSpace(newCfg.Storage.BusyTimeout)),
		)
	}

	// Scheduler (trigger timezone)
	if strings.TrimSpace(oldCfg.Scheduler.Timezone) != strings.TrimSpace(newCfg.Scheduler.Timezone) {
		changed = append(changed, "scheduler")
		attrs = append(attrs,
			logx.String("scheduler.timezone", strings.TrimSpace(newCfg.Scheduler.Timezone)),
		)
	}

	// Runner (executor)
	if oldCfg.Runner != newCfg.Runner {
		changed = append(changed, "runner")
		attrs = append(attrs,
			logx.Int("runner.workers", newCfg.Runner.Workers),
			logx.Int("runner.queue_size", newCfg.Runner.QueueSize),
			logx.Int("runner.history_size", newCfg.Runner.HistorySize),
		)
	}

	// Pipeline (fetch fan-out)
	if oldCfg.Pipeline != newCfg.Pipeline {
		changed = append(changed, "pipeline")
		attrs = append(attrs,
			logx.Int("pipeline.fetch_workers", newCfg.Pipeline.FetchWorkers),
			logx.String("pipeline.fetch_timeout", strings.TrimSpace(newCfg.Pipeline.FetchTimeout)),
			logx.Int("pipeline.fetch_rate_per_sec", newCfg.Pipeline.FetchRatePerSec),
		)
	}

	// Search (never log api_key)
	if strings.TrimSpace(oldCfg.Search.Endpoint) != strings.TrimSpace(newCfg.Search.Endpoint) ||
		(strings.TrimSpace(oldCfg.Search.APIKey) != "") != (strings.TrimSpace(newCfg.Search.APIKey) != "") ||
		strings.TrimSpace(oldCfg.Search.Timeout) != strings.TrimSpace(newCfg.Search.Timeout) ||
		strings.TrimSpace(oldCfg.Search.ExpandEndpoint) != strings.TrimSpace(newCfg.Search.ExpandEndpoint) ||
		strings.TrimSpace(oldCfg.Search.ExpandTimeout) != strings.TrimSpace(newCfg.Search.ExpandTimeout) {
		changed = append(changed, "search")
		attrs = append(attrs,
			logx.String("search.endpoint", strings.TrimSpace(newCfg.Search.Endpoint)),
			logx.Bool("search.api_key_set", strings.TrimSpace(newCfg.Search.APIKey) != ""),
			logx.Bool("search.expand_set", strings.TrimSpace(newCfg.Search.ExpandEndpoint) != ""),
		)
	}

	// Telegram (never log token). Nil section means disabled.
	oT := derefTelegram(oldCfg.Telegram)
	nT := derefTelegram(newCfg.Telegram)
	if !reflect.DeepEqual(redactTelegram(oT), redactTelegram(nT)) ||
		(strings.TrimSpace(oT.Token) != "") != (strings.TrimSpace(nT.Token) != "") {
		changed = append(changed, "telegram")
		attrs = append(attrs,
			logx.Bool("telegram.enabled", nT.Enabled),
			logx.Bool("telegram.token_set", strings.TrimSpace(nT.Token) != ""),
			logx.Bool("telegram.chat_set", nT.ChatID != 0),
			logx.Int("telegram.rate_per_min", nT.RatePerMin),
		)
	}

	// Watchdog
	if oldCfg.Watchdog != newCfg.Watchdog {
		changed = append(changed, "watchdog")
		attrs = append(attrs, logx.Bool("watchdog.enabled", newCfg.Watchdog.Enabled))
	}

	sort.Strings(changed)
	return changed, attrs
}

func derefTelegram(t *TelegramConfig) TelegramConfig {
	if t == nil {
		return TelegramConfig{}
	}
	return *t
}

func redactTelegram(t TelegramConfig) TelegramConfig {
	t.Token = ""
	return t
}
