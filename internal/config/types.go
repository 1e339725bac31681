package config

// Config is the on-disk configuration.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
type Config struct {
	Telegram  TelegramConfig  `json:"telegram"`
	Logging   LoggingConfig   `json:"logging"`
	Storage   StorageConfig   `json:"storage"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Delivery  DeliveryConfig  `json:"delivery"`
	Commands  CommandsConfig  `json:"commands"`
	Help      HelpConfig      `json:"help"`
	Metrics   MetricsConfig   `json:"metrics"`
}

type TelegramConfig struct {
	// Token may be left empty in the file and supplied via REMINDBOT_TELEGRAM_TOKEN.
	Token string `json:"token"`

	// PollTimeout is the long-polling timeout (default "10s").
	PollTimeout string `json:"poll_timeout,omitempty"`

	// LogChat receives forwarded log lines when logging.chat.enabled is set.
	LogChat int64 `json:"log_chat,omitempty"`

	// ReadyTimeout bounds the wait for the first successful poll (default "30s").
	ReadyTimeout string `json:"ready_timeout,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
	Chat    LoggingChat `json:"chat"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type LoggingChat struct {
	Enabled    bool   `json:"enabled"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// StorageConfig controls the schedule store.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./data/remindbot.db", "table": "messages" }
type StorageConfig struct {
	Driver string `json:"driver"`
	Path   string `json:"path"`

	// Table may be overridden via REMINDBOT_TABLE_NAME.
	Table       string `json:"table,omitempty"`
	BusyTimeout string `json:"busy_timeout,omitempty"`
	PageSize    int    `json:"page_size,omitempty"`
}

type SchedulerConfig struct {
	// Timezone is an IANA name; empty means the process local zone.
	Timezone string `json:"timezone,omitempty"`

	// RestoreSpread randomizes the first fire of jobs restored at startup.
	RestoreSpread bool `json:"restore_spread,omitempty"`
}

type DeliveryConfig struct {
	// RatePerSec caps outbound sends; 0 disables the limiter.
	RatePerSec int `json:"rate_per_sec,omitempty"`
}

type CommandsConfig struct {
	// Feedback is "silent" (default) or "verbose".
	Feedback string `json:"feedback,omitempty"`

	// Workers bounds concurrent command handling (default 4).
	Workers int `json:"workers,omitempty"`
}

// HelpConfig is the reply to "help". File wins over Text when both are set.
type HelpConfig struct {
	Text string `json:"text,omitempty"`
	File string `json:"file,omitempty"`
}

// MetricsConfig controls the optional Prometheus endpoint.
//
// Security note:
//   - Prefer binding to localhost (e.g. "127.0.0.1:9464").
//   - If you bind to a non-loopback address, set a token or explicitly allow_insecure.
type MetricsConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"`
	Token         string `json:"token,omitempty"` // optional bearer token (do not log)
	AllowInsecure bool   `json:"allow_insecure,omitempty"`
	Pprof         bool   `json:"pprof,omitempty"`
}
