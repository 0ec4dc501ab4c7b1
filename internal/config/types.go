package config

// Config is the root of bsewatch's configuration file (JSON or YAML).
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
type Config struct {
	Telegram TelegramConfig `json:"telegram"`
	Logging  LoggingConfig  `json:"logging"`
	Storage  StorageConfig  `json:"storage"`
	Sources  SourcesConfig  `json:"sources"`
	Dispatch DispatchConfig `json:"dispatch"`
	Batch    BatchConfig    `json:"batch"`
	Market   MarketConfig   `json:"market"`
	Spike    SpikeConfig    `json:"spike"`
	HTTP     HTTPConfig     `json:"http"`

	// Schedules maps a job name (bse_announcements, hourly_spike_alerts,
	// evening_summary) to its trigger.
	Schedules map[string]ScheduleConfig `json:"schedules,omitempty"`
}

type TelegramConfig struct {
	Token  string `json:"token"`
	APIURL string `json:"api_url,omitempty"`
}

type LoggingConfig struct {
	Level    string          `json:"level"`
	Console  bool            `json:"console"`
	File     LoggingFile     `json:"file"`
	Telegram LoggingTelegram `json:"telegram"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// LoggingTelegram forwards warnings to an operator chat.
type LoggingTelegram struct {
	Enabled    bool   `json:"enabled"`
	ChatID     string `json:"chat_id"`
	ThreadID   int    `json:"thread_id,omitempty"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// StorageConfig selects the registry/ledger/run-log backend.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./bsewatch.db" }
//	"storage": { "driver": "postgres", "dsn": "postgres://..." }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path,omitempty"`
	DSN         string `json:"dsn,omitempty"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite
	MaxConns    int32  `json:"max_conns,omitempty"`    // postgres
}

type SourcesConfig struct {
	Disclosure DisclosureSource `json:"disclosure"`
	Chart      ChartSource      `json:"chart"`
	// SymbolsPath is the CSV reference table mapping exchange codes to
	// chart symbols ("BSE Code","Yahoo Symbol").
	SymbolsPath string `json:"symbols_path"`
}

type DisclosureSource struct {
	URL            string `json:"url,omitempty"`
	AttachmentBase string `json:"attachment_base,omitempty"`
	Timeout        string `json:"timeout,omitempty"`
	// AttachmentAttempts bounds attachment download tries; 0 means one try.
	AttachmentAttempts int `json:"attachment_attempts,omitempty"`
}

type ChartSource struct {
	URL      string `json:"url,omitempty"`
	Timeout  string `json:"timeout,omitempty"`
	CacheTTL string `json:"cache_ttl,omitempty"`
}

type DispatchConfig struct {
	RatePerSec      int    `json:"rate_per_sec,omitempty"`
	Burst           int    `json:"burst,omitempty"`
	TextTimeout     string `json:"text_timeout,omitempty"`
	DocumentTimeout string `json:"document_timeout,omitempty"`
}

type BatchConfig struct {
	Workers          int    `json:"workers,omitempty"`
	Deadline         string `json:"deadline,omitempty"`
	DefaultHoursBack int    `json:"default_hours_back,omitempty"`
}

// MarketConfig describes the regional trading session. Open and Close are
// "HH:MM" in the zone given by UTCOffset ("+05:30").
type MarketConfig struct {
	ZoneName  string `json:"zone_name,omitempty"`
	UTCOffset string `json:"utc_offset,omitempty"`
	Open      string `json:"open,omitempty"`
	Close     string `json:"close,omitempty"`
}

type SpikeConfig struct {
	ThresholdPct float64 `json:"threshold_pct,omitempty"`
	Lookback     string  `json:"lookback,omitempty"`
}

type HTTPConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr,omitempty"`
	CronKey string `json:"cron_key,omitempty"`
	// Pprof serves /debug/pprof (key protected) on the same listener.
	Pprof bool `json:"pprof,omitempty"`
}

// ScheduleConfig triggers one job from the in-process scheduler.
// Spec is a cron expression (seconds optional, descriptors allowed) or a Go
// duration ("15m") for fixed intervals.
type ScheduleConfig struct {
	Enabled   bool   `json:"enabled"`
	Spec      string `json:"spec"`
	HoursBack int    `json:"hours_back,omitempty"`
	Force     bool   `json:"force,omitempty"`
}
