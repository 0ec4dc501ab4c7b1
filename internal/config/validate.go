package config

import (
	"errors"
	"fmt"
	"strings"
)

// Known job names accepted under schedules.
var knownJobs = map[string]bool{
	"bse_announcements":   true,
	"hourly_spike_alerts": true,
	"evening_summary":     true,
}

// Validate reports every structural problem in cfg at once. Missing
// credentials are not errors here: the pipeline reports them per invocation.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error
	add := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Storage.Driver)) {
	case "", "sqlite", "sqlite3", "memory", "mem", "file", "none":
	case "postgres", "postgresql", "pgx":
		if strings.TrimSpace(cfg.Storage.DSN) == "" {
			add(errors.New("storage.dsn: required for postgres driver"))
		}
	default:
		add(fmt.Errorf("storage.driver: unsupported %q", cfg.Storage.Driver))
	}

	for path, raw := range map[string]string{
		"storage.busy_timeout":       cfg.Storage.BusyTimeout,
		"sources.disclosure.timeout": cfg.Sources.Disclosure.Timeout,
		"sources.chart.timeout":      cfg.Sources.Chart.Timeout,
		"sources.chart.cache_ttl":    cfg.Sources.Chart.CacheTTL,
		"dispatch.text_timeout":      cfg.Dispatch.TextTimeout,
		"dispatch.document_timeout":  cfg.Dispatch.DocumentTimeout,
		"batch.deadline":             cfg.Batch.Deadline,
		"spike.lookback":             cfg.Spike.Lookback,
	} {
		_, err := ParseDurationField(path, raw)
		add(err)
	}

	_, err := ParseClockOrDefault("market.open", cfg.Market.Open, 0)
	add(err)
	_, err = ParseClockOrDefault("market.close", cfg.Market.Close, 0)
	add(err)
	_, err = ParseUTCOffsetOrDefault("market.utc_offset", cfg.Market.UTCOffset, 0)
	add(err)

	if cfg.Batch.Workers < 0 {
		add(errors.New("batch.workers: must be >= 0"))
	}
	if cfg.Spike.ThresholdPct < 0 {
		add(errors.New("spike.threshold_pct: must be >= 0"))
	}
	if cfg.Sources.Disclosure.AttachmentAttempts < 0 {
		add(errors.New("sources.disclosure.attachment_attempts: must be >= 0"))
	}

	for name, sc := range cfg.Schedules {
		if !knownJobs[name] {
			add(fmt.Errorf("schedules.%s: unknown job", name))
			continue
		}
		if sc.Enabled && strings.TrimSpace(sc.Spec) == "" {
			add(fmt.Errorf("schedules.%s.spec: required when enabled", name))
		}
	}

	if cfg.HTTP.Enabled && strings.TrimSpace(cfg.HTTP.CronKey) == "" {
		add(errors.New("http.cron_key: required when http is enabled"))
	}

	return errors.Join(errs...)
}
