package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const sampleYAML = `
telegram:
  token: "from-file"
logging:
  level: debug
  console: true
storage:
  driver: sqlite
  path: ./test.db
sources:
  symbols_path: ./symbols.csv
  chart:
    cache_ttl: 90s
batch:
  workers: 4
  deadline: 5m
market:
  open: "09:15"
  close: "15:30"
  utc_offset: "+05:30"
schedules:
  bse_announcements:
    enabled: true
    spec: "*/15 9-16 * * 1-5"
    hours_back: 1
http:
  enabled: true
  addr: ":8080"
  cron_key: secret
`

func TestDecode_YAMLAndJSON(t *testing.T) {
	t.Parallel()
	cfg, err := Decode("c.yaml", []byte(sampleYAML))
	if err != nil {
		t.Fatalf("yaml: %v", err)
	}
	if cfg.Batch.Workers != 4 || cfg.Storage.Driver != "sqlite" || cfg.Schedules["bse_announcements"].HoursBack != 1 {
		t.Fatalf("unexpected decode: %+v", cfg)
	}

	cfg, err = Decode("c.json", []byte(`{"batch":{"workers":2}}`))
	if err != nil {
		t.Fatalf("json: %v", err)
	}
	if cfg.Batch.Workers != 2 {
		t.Fatalf("workers=%d", cfg.Batch.Workers)
	}
}

func TestDecode_RejectsUnknownFieldsAndTrailingData(t *testing.T) {
	t.Parallel()
	if _, err := Decode("c.json", []byte(`{"batch":{"wrokers":2}}`)); err == nil {
		t.Fatalf("expected unknown field error")
	}
	if _, err := Decode("c.json", []byte(`{} {}`)); err == nil {
		t.Fatalf("expected trailing data error")
	}
	if _, err := Decode("c.yml", []byte("storage: [")); err == nil {
		t.Fatalf("expected yaml error")
	}
}

func TestApplyEnv(t *testing.T) {
	t.Parallel()
	env := map[string]string{
		EnvTelegramToken: " tok ",
		EnvCronKey:       "k",
		EnvDatabaseURL:   "postgres://x",
		EnvLogChatID:     "",
	}
	cfg := &Config{}
	cfg.Logging.Telegram.ChatID = "keep"
	applyEnv(cfg, func(k string) (string, bool) { v, ok := env[k]; return v, ok })

	if cfg.Telegram.Token != "tok" || cfg.HTTP.CronKey != "k" {
		t.Fatalf("secrets not applied: %+v", cfg)
	}
	if cfg.Storage.Driver != "postgres" || cfg.Storage.DSN != "postgres://x" {
		t.Fatalf("database url not applied: %+v", cfg.Storage)
	}
	if cfg.Logging.Telegram.ChatID != "keep" {
		t.Fatalf("empty env must not override")
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"ok", func(c *Config) {}, ""},
		{"bad driver", func(c *Config) { c.Storage.Driver = "mongo" }, "storage.driver"},
		{"postgres without dsn", func(c *Config) { c.Storage.Driver = "postgres" }, "storage.dsn"},
		{"bad duration", func(c *Config) { c.Batch.Deadline = "soon" }, "batch.deadline"},
		{"bad clock", func(c *Config) { c.Market.Close = "3pm" }, "market.close"},
		{"unknown job", func(c *Config) { c.Schedules = map[string]ScheduleConfig{"x": {}} }, "schedules.x"},
		{"enabled without spec", func(c *Config) {
			c.Schedules = map[string]ScheduleConfig{"evening_summary": {Enabled: true}}
		}, "schedules.evening_summary.spec"},
		{"http without key", func(c *Config) { c.HTTP = HTTPConfig{Enabled: true} }, "http.cron_key"},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			c := &Config{}
			tc.mutate(c)
			err := Validate(c)
			if tc.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
				t.Fatalf("want error containing %q, got %v", tc.wantErr, err)
			}
		})
	}
}

func TestParseClockAndOffset(t *testing.T) {
	t.Parallel()
	m, err := ParseClockOrDefault("x", "15:30", 0)
	if err != nil || m != 15*60+30 {
		t.Fatalf("clock=%d err=%v", m, err)
	}
	if m, _ := ParseClockOrDefault("x", "", 555); m != 555 {
		t.Fatalf("default not used: %d", m)
	}
	off, err := ParseUTCOffsetOrDefault("x", "+05:30", 0)
	if err != nil || off != 19800 {
		t.Fatalf("offset=%d err=%v", off, err)
	}
}

func TestSummarizeConfigChange(t *testing.T) {
	t.Parallel()
	a := &Config{Batch: BatchConfig{Workers: 1}, HTTP: HTTPConfig{CronKey: "a"}}
	b := &Config{Batch: BatchConfig{Workers: 2}, HTTP: HTTPConfig{CronKey: "b"}}
	changed, _ := SummarizeConfigChange(a, b)
	if strings.Join(changed, ",") != "batch,http" {
		t.Fatalf("changed=%v", changed)
	}
	if !RequiresRestart(changed) {
		t.Fatalf("http change should require restart")
	}
	if RequiresRestart([]string{"batch"}) {
		t.Fatalf("batch change is hot")
	}
}

func TestConfigManager_WatchPublishesReload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bsewatch.json")
	if err := os.WriteFile(path, []byte(`{"batch":{"workers":1}}`), 0o644); err != nil {
		t.Fatal(err)
	}

	m := NewConfigManager(path)
	m.debounce = 20 * time.Millisecond
	if _, err := m.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	ch := m.Subscribe(1)
	defer m.Unsubscribe(ch)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = m.Watch(ctx) }()
	time.Sleep(100 * time.Millisecond)

	if err := os.WriteFile(path, []byte(`{"batch":{"workers":3}}`), 0o644); err != nil {
		t.Fatal(err)
	}

	select {
	case cfg := <-ch:
		if cfg.Batch.Workers != 3 {
			t.Fatalf("workers=%d", cfg.Batch.Workers)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("no reload published")
	}
	if m.Get().Batch.Workers != 3 {
		t.Fatalf("Get not updated")
	}
}
