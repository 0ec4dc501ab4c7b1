package config

import (
	"os"
	"strings"
)

// Environment overrides. Secrets are usually provided this way (or via .env)
// rather than committed to the config file.
const (
	EnvTelegramToken = "BSEWATCH_TELEGRAM_TOKEN"
	EnvCronKey       = "BSEWATCH_CRON_KEY"
	EnvDatabaseURL   = "BSEWATCH_DATABASE_URL"
	EnvLogChatID     = "BSEWATCH_LOG_CHAT_ID"
)

// ApplyEnv overlays non-empty environment variables onto cfg.
func ApplyEnv(cfg *Config) {
	applyEnv(cfg, os.LookupEnv)
}

func applyEnv(cfg *Config, lookup func(string) (string, bool)) {
	if cfg == nil {
		return
	}
	get := func(k string) (string, bool) {
		v, ok := lookup(k)
		v = strings.TrimSpace(v)
		return v, ok && v != ""
	}
	if v, ok := get(EnvTelegramToken); ok {
		cfg.Telegram.Token = v
	}
	if v, ok := get(EnvCronKey); ok {
		cfg.HTTP.CronKey = v
	}
	if v, ok := get(EnvDatabaseURL); ok {
		cfg.Storage.DSN = v
		if strings.TrimSpace(cfg.Storage.Driver) == "" {
			cfg.Storage.Driver = "postgres"
		}
	}
	if v, ok := get(EnvLogChatID); ok {
		cfg.Logging.Telegram.ChatID = v
	}
}
