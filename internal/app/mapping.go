package app

import (
	"errors"
	"strings"
	"time"

	"bsewatch/internal/batch"
	"bsewatch/internal/config"
	"bsewatch/internal/dispatch"
	"bsewatch/internal/market"
	"bsewatch/internal/storage"
	"bsewatch/internal/summary"
	logx "bsewatch/pkg/logx"
)

func mapLogConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		Telegram: logx.TelegramConfig{
			Enabled:    cfg.Logging.Telegram.Enabled,
			ChatID:     cfg.Logging.Telegram.ChatID,
			ThreadID:   cfg.Logging.Telegram.ThreadID,
			MinLevel:   cfg.Logging.Telegram.MinLevel,
			RatePerSec: cfg.Logging.Telegram.RatePerSec,
		},
	}
}

func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	if driver == "" {
		driver = "sqlite"
	}
	path := strings.TrimSpace(sc.Path)
	if path == "" && (driver == "sqlite" || driver == "sqlite3") {
		path = "./bsewatch.db"
	}
	busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, time.Second)
	if err != nil {
		return storage.Config{}, err
	}
	return storage.Config{
		Driver:      driver,
		Path:        path,
		DSN:         strings.TrimSpace(sc.DSN),
		BusyTimeout: busy,
		MaxConns:    sc.MaxConns,
	}, nil
}

func mapDispatchConfig(cfg *config.Config) (dispatch.Config, error) {
	text, err := config.ParseDurationField("dispatch.text_timeout", cfg.Dispatch.TextTimeout)
	if err != nil {
		return dispatch.Config{}, err
	}
	doc, err := config.ParseDurationField("dispatch.document_timeout", cfg.Dispatch.DocumentTimeout)
	if err != nil {
		return dispatch.Config{}, err
	}
	return dispatch.Config{
		RatePerSec:      float64(cfg.Dispatch.RatePerSec),
		Burst:           cfg.Dispatch.Burst,
		TextTimeout:     text,
		DocumentTimeout: doc,
	}, nil
}

func mapBatchConfig(cfg *config.Config) (batch.Config, error) {
	deadline, err := config.ParseDurationField("batch.deadline", cfg.Batch.Deadline)
	if err != nil {
		return batch.Config{}, err
	}
	return batch.Config{
		Workers:          cfg.Batch.Workers,
		Deadline:         deadline,
		DefaultHoursBack: cfg.Batch.DefaultHoursBack,
	}, nil
}

// mapMarketWindow builds the session window; unset fields keep the
// 09:15-15:30 IST defaults.
func mapMarketWindow(cfg *config.Config) (market.Window, error) {
	mc := cfg.Market
	open, err := config.ParseClockOrDefault("market.open", mc.Open, market.DefaultOpenMinute)
	if err != nil {
		return market.Window{}, err
	}
	closeMin, err := config.ParseClockOrDefault("market.close", mc.Close, market.DefaultCloseMinute)
	if err != nil {
		return market.Window{}, err
	}
	if closeMin <= open {
		return market.Window{}, errors.New("market.close must be after market.open")
	}
	loc := market.IST
	if strings.TrimSpace(mc.UTCOffset) != "" {
		off, err := config.ParseUTCOffsetOrDefault("market.utc_offset", mc.UTCOffset, market.DefaultUTCOffset)
		if err != nil {
			return market.Window{}, err
		}
		name := strings.TrimSpace(mc.ZoneName)
		if name == "" {
			name = "market"
		}
		loc = time.FixedZone(name, off)
	}
	return market.Window{Location: loc, OpenMinute: open, CloseMinute: closeMin}, nil
}

func mapSpike(cfg *config.Config) (float64, time.Duration, error) {
	pct := cfg.Spike.ThresholdPct
	if pct <= 0 {
		pct = summary.DefaultSpikeThreshold
	}
	lookback, err := config.ParseDurationOrDefault("spike.lookback", cfg.Spike.Lookback, summary.DefaultSpikeLookback)
	return pct, lookback, err
}

// scheduleTimeout bounds one scheduled trigger: the batch deadline plus
// room for the final run log writes.
func scheduleTimeout(bc batch.Config) time.Duration {
	d := bc.Deadline
	if d <= 0 {
		d = 10 * time.Minute
	}
	return d + time.Minute
}
