package config

type Config struct {
	Server  ServerConfig  `json:"server"`
	Logging LoggingConfig `json:"logging"`
	Storage StorageConfig `json:"storage"`

	// Scheduler controls trigger behavior (cron registration timezone).
	Scheduler SchedulerConfig `json:"scheduler,omitempty"`

	// Runner controls execution of fired schedules.
	Runner RunnerConfig `json:"runner,omitempty"`

	// Pipeline controls candidate filtering fan-out.
	Pipeline PipelineConfig `json:"pipeline,omitempty"`

	// Search configures the web-search provider and the optional
	// keyword-variant provider.
	Search SearchConfig `json:"search"`

	// Telegram configures run-report notifications. Omitted section means
	// notifications are disabled.
	Telegram *TelegramConfig `json:"telegram,omitempty"`

	Watchdog WatchdogConfig `json:"watchdog,omitempty"`
}

// ServerConfig controls the embedded HTTP API.
//
// Security note:
//   - Prefer binding to localhost (e.g. "127.0.0.1:8880").
//   - If you bind to a non-loopback address, set api_token.
//
// Timeouts are Go duration strings (e.g. "10s", "1m").
type ServerConfig struct {
	Listen       string `json:"listen,omitempty"` // default: "127.0.0.1:8880"
	APIToken     string `json:"api_token,omitempty"`
	PprofEnabled bool   `json:"pprof_enabled,omitempty"`

	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
	IdleTimeout  string `json:"idle_timeout,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// StorageConfig locates the SQLite database file.
//
// Example:
//
//	"storage": { "path": "./leadscout.db" }
type StorageConfig struct {
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string
}

// SchedulerConfig controls the trigger service.
type SchedulerConfig struct {
	// Timezone for cron evaluation, e.g. "Europe/Berlin". Empty means the
	// process-local zone.
	Timezone string `json:"timezone,omitempty"`
}

// RunnerConfig controls the run execution engine.
//
// Defaults (when fields are omitted/zero):
//   - workers: 2
//   - queue_size: 64
//   - history_size: 200
type RunnerConfig struct {
	Workers     int `json:"workers,omitempty"`
	QueueSize   int `json:"queue_size,omitempty"`
	HistorySize int `json:"history_size,omitempty"`
}

// PipelineConfig controls page-inspection fan-out inside a run.
//
// Defaults (when fields are omitted/zero):
//   - fetch_workers: 4
//   - fetch_timeout: "8s"
//   - fetch_rate_per_sec: 4
//   - max_body_kb: 512
type PipelineConfig struct {
	FetchWorkers int `json:"fetch_workers,omitempty"`
	// FetchTimeout is a Go duration string applied per page fetch.
	FetchTimeout    string `json:"fetch_timeout,omitempty"`
	FetchRatePerSec int    `json:"fetch_rate_per_sec,omitempty"`
	MaxBodyKB       int    `json:"max_body_kb,omitempty"`
}

// SearchConfig configures the outbound search provider client.
//
// Timeouts are Go duration strings.
type SearchConfig struct {
	Endpoint string `json:"endpoint"`
	APIKey   string `json:"api_key"`
	Timeout  string `json:"timeout,omitempty"` // default: "15s"

	// ExpandEndpoint enables keyword-variant expansion when set; schedules
	// opt in per search config.
	ExpandEndpoint string `json:"expand_endpoint,omitempty"`
	ExpandTimeout  string `json:"expand_timeout,omitempty"` // default: "20s"
}

// TelegramConfig controls run-report delivery.
type TelegramConfig struct {
	Enabled    bool   `json:"enabled"`
	Token      string `json:"token"`
	ChatID     int64  `json:"chat_id"`
	RatePerMin int    `json:"rate_per_min,omitempty"` // default: 20
	// DedupWindow suppresses identical reports inside the window.
	DedupWindow string `json:"dedup_window,omitempty"` // default: "1m"
}

// WatchdogConfig controls the systemd watchdog pinger. Enabled only takes
// effect when the process actually runs under systemd with WatchdogSec set.
type WatchdogConfig struct {
	Enabled bool `json:"enabled,omitempty"`
}
