package config

import (
	"reflect"
	"strings"

	logx "bsewatch/pkg/logx"
)

// SummarizeConfigChange returns the list of changed top-level sections and
// safe structured attrs for logging (never includes tokens, keys or DSNs).
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 8)
	attrs := make([]logx.Field, 0, 16)

	if oldCfg.Telegram != newCfg.Telegram {
		changed = append(changed, "telegram")
		attrs = append(attrs, logx.Bool("telegram.token_set", strings.TrimSpace(newCfg.Telegram.Token) != ""))
	}
	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logx.level", newCfg.Logging.Level),
			logx.Bool("logx.console", newCfg.Logging.Console),
			logx.Bool("logx.file_enabled", newCfg.Logging.File.Enabled),
			logx.Bool("logx.telegram_enabled", newCfg.Logging.Telegram.Enabled),
		)
	}
	if oldCfg.Storage != newCfg.Storage {
		changed = append(changed, "storage")
		attrs = append(attrs, logx.String("storage.driver", newCfg.Storage.Driver))
	}
	if oldCfg.Sources != newCfg.Sources {
		changed = append(changed, "sources")
		attrs = append(attrs, logx.String("sources.chart.cache_ttl", newCfg.Sources.Chart.CacheTTL))
	}
	if oldCfg.Dispatch != newCfg.Dispatch {
		changed = append(changed, "dispatch")
		attrs = append(attrs, logx.Int("dispatch.rate_per_sec", newCfg.Dispatch.RatePerSec))
	}
	if oldCfg.Batch != newCfg.Batch {
		changed = append(changed, "batch")
		attrs = append(attrs,
			logx.Int("batch.workers", newCfg.Batch.Workers),
			logx.String("batch.deadline", newCfg.Batch.Deadline),
		)
	}
	if oldCfg.Market != newCfg.Market {
		changed = append(changed, "market")
	}
	if oldCfg.Spike != newCfg.Spike {
		changed = append(changed, "spike")
	}
	if oldCfg.HTTP.Enabled != newCfg.HTTP.Enabled || oldCfg.HTTP.Addr != newCfg.HTTP.Addr ||
		oldCfg.HTTP.CronKey != newCfg.HTTP.CronKey || oldCfg.HTTP.Pprof != newCfg.HTTP.Pprof {
		changed = append(changed, "http")
		attrs = append(attrs, logx.String("http.addr", newCfg.HTTP.Addr))
	}
	if !reflect.DeepEqual(oldCfg.Schedules, newCfg.Schedules) {
		changed = append(changed, "schedules")
		attrs = append(attrs, logx.Int("schedules.count", len(newCfg.Schedules)))
	}
	return changed, attrs
}

// RequiresRestart reports whether a change touches sections that are only
// read at startup (storage backend, HTTP listener, bot token).
func RequiresRestart(changed []string) bool {
	for _, s := range changed {
		switch s {
		case "storage", "http", "telegram":
			return true
		}
	}
	return false
}
