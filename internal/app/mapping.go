package app

import (
	"strings"

	"leadscout/internal/config"
	"leadscout/internal/fetch"
	"leadscout/internal/httpapi"
	"leadscout/internal/notifier"
	"leadscout/internal/runner"
	"leadscout/internal/search"
	"leadscout/internal/store"
	logx "leadscout/pkg/logx"
)

// The map functions translate the file config into per-service configs.
// Duration fields arrive as strings; zero values fall through to each
// service's own defaults.

func mapLoggingConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

func mapStorageConfig(cfg *config.Config) (store.Config, error) {
	busy, err := config.ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout)
	if err != nil {
		return store.Config{}, err
	}
	return store.Config{
		Path:        strings.TrimSpace(cfg.Storage.Path),
		BusyTimeout: busy,
	}, nil
}

func mapSearchConfig(cfg *config.Config) (search.Config, error) {
	timeout, err := config.ParseDurationField("search.timeout", cfg.Search.Timeout)
	if err != nil {
		return search.Config{}, err
	}
	expandTimeout, err := config.ParseDurationField("search.expand_timeout", cfg.Search.ExpandTimeout)
	if err != nil {
		return search.Config{}, err
	}
	return search.Config{
		Endpoint:       strings.TrimSpace(cfg.Search.Endpoint),
		APIKey:         strings.TrimSpace(cfg.Search.APIKey),
		Timeout:        timeout,
		ExpandEndpoint: strings.TrimSpace(cfg.Search.ExpandEndpoint),
		ExpandTimeout:  expandTimeout,
	}, nil
}

func mapFetchConfig(cfg *config.Config) (fetch.Config, error) {
	timeout, err := config.ParseDurationField("pipeline.fetch_timeout", cfg.Pipeline.FetchTimeout)
	if err != nil {
		return fetch.Config{}, err
	}
	return fetch.Config{
		Timeout:    timeout,
		RatePerSec: cfg.Pipeline.FetchRatePerSec,
		MaxBodyKB:  cfg.Pipeline.MaxBodyKB,
	}, nil
}

func mapRunnerConfig(cfg *config.Config) runner.Config {
	return runner.Config{
		Workers:     cfg.Runner.Workers,
		QueueSize:   cfg.Runner.QueueSize,
		HistorySize: cfg.Runner.HistorySize,
	}
}

func mapNotifierConfig(cfg *config.Config) (notifier.Config, error) {
	tg := cfg.Telegram
	if tg == nil {
		return notifier.Config{}, nil
	}
	window, err := config.ParseDurationField("telegram.dedup_window", tg.DedupWindow)
	if err != nil {
		return notifier.Config{}, err
	}
	return notifier.Config{
		Enabled:     tg.Enabled,
		ChatID:      tg.ChatID,
		RatePerMin:  tg.RatePerMin,
		DedupWindow: window,
	}, nil
}

func mapServerConfig(cfg *config.Config) (httpapi.Config, error) {
	read, err := config.ParseDurationField("server.read_timeout", cfg.Server.ReadTimeout)
	if err != nil {
		return httpapi.Config{}, err
	}
	write, err := config.ParseDurationField("server.write_timeout", cfg.Server.WriteTimeout)
	if err != nil {
		return httpapi.Config{}, err
	}
	idle, err := config.ParseDurationField("server.idle_timeout", cfg.Server.IdleTimeout)
	if err != nil {
		return httpapi.Config{}, err
	}
	return httpapi.Config{
		Listen:       strings.TrimSpace(cfg.Server.Listen),
		APIToken:     strings.TrimSpace(cfg.Server.APIToken),
		PprofEnabled: cfg.Server.PprofEnabled,
		ReadTimeout:  read,
		WriteTimeout: write,
		IdleTimeout:  idle,
	}, nil
}

func telegramToken(cfg *config.Config) string {
	if cfg == nil || cfg.Telegram == nil {
		return ""
	}
	return strings.TrimSpace(cfg.Telegram.Token)
}
