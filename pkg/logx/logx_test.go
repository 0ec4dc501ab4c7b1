package logx

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	kit "bsewatch/internal/transport"
)

func TestZeroLoggerIsNoop(t *testing.T) {
	t.Parallel()
	var l Logger
	if !l.IsZero() {
		t.Fatalf("zero logger should report IsZero")
	}
	l.Info("nothing", String("k", "v"))
	if l.With(String("a", "b")).IsZero() {
		t.Fatalf("derived logger should not be zero")
	}
}

func TestNewWriter_FieldsAndComponent(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	l := NewWriter(&buf, "debug").Component("batch")
	l.Warn("subscriber failed", String("subscriber", "u1"), Err(errors.New("boom")), Int("n", 3))

	out := buf.String()
	for _, want := range []string{`"comp":"batch"`, `"subscriber":"u1"`, `"boom"`, `"n":3`, `"level":"warn"`} {
		if !strings.Contains(out, want) {
			t.Fatalf("missing %s in %s", want, out)
		}
	}
}

func TestNewWriter_LevelFilter(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	l := NewWriter(&buf, "warn")
	l.Info("hidden")
	if buf.Len() != 0 {
		t.Fatalf("info should be filtered at warn level: %s", buf.String())
	}
	if l.Enabled(LevelInfo) || !l.Enabled(LevelError) {
		t.Fatalf("Enabled disagrees with configured level")
	}
}

func TestFormatTelegramJSON(t *testing.T) {
	t.Parallel()
	got := formatTelegramJSON([]byte(`{"level":"error","time":"x","message":"run failed","job":"evening_summary","comp":"batch"}` + "\n"))
	want := "[ERROR] run failed\n- comp=batch\n- job=evening_summary"
	if got != want {
		t.Fatalf("got %q want %q", got, want)
	}

	if got := formatTelegramJSON([]byte("  plain text \n")); got != "plain text" {
		t.Fatalf("non-JSON should pass through trimmed, got %q", got)
	}
}

func TestTelegramSink_RoutesWarnings(t *testing.T) {
	var (
		mu   sync.Mutex
		sent []kit.ChatTarget
		msgs []string
	)
	got := make(chan struct{}, 4)
	sender := kit.SenderFunc(func(_ context.Context, to kit.ChatTarget, text string, _ *kit.SendOptions) error {
		mu.Lock()
		sent = append(sent, to)
		msgs = append(msgs, text)
		mu.Unlock()
		got <- struct{}{}
		return nil
	})

	svc, log := New(Config{
		Level:    "debug",
		Telegram: TelegramConfig{Enabled: true, ChatID: "-100123", MinLevel: "warn", RatePerSec: 10},
	}, sender)
	defer svc.Close()

	log.Info("not routed")
	log.Warn("routed", String("job", "bse_announcements"))

	select {
	case <-got:
	case <-time.After(2 * time.Second):
		t.Fatalf("telegram sink did not deliver")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(msgs) != 1 {
		t.Fatalf("expected exactly one routed message, got %v", msgs)
	}
	if sent[0].Address != "-100123" || !strings.HasPrefix(msgs[0], "[WARN] routed") {
		t.Fatalf("unexpected delivery %v %q", sent[0], msgs[0])
	}
}

func TestParseLevel(t *testing.T) {
	t.Parallel()
	cases := map[string]Level{"debug": LevelDebug, " WARNING ": LevelWarn, "error": LevelError, "bogus": LevelInfo}
	for in, want := range cases {
		if got := parseLevel(in, LevelInfo); got != want {
			t.Fatalf("parseLevel(%q)=%v want %v", in, got, want)
		}
	}
}
