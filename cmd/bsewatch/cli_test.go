package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"bsewatch/internal/config"
)

func writeConfig(t *testing.T) string {
	t.Helper()
	t.Setenv(config.EnvTelegramToken, "")
	t.Setenv(config.EnvDatabaseURL, "")
	dir := t.TempDir()
	cfg := "logging:\n  level: error\nstorage:\n  driver: file\n  path: " + filepath.Join(dir, "state.json") + "\n"
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(cfg), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestAdminCommandsPersist(t *testing.T) {
	cfg := writeConfig(t)

	out, err := execute(t, "-c", cfg, "watch", "add", "u1", "500325", "Reliance", "Industries")
	if err != nil {
		t.Fatalf("watch add: %v", err)
	}
	if !strings.Contains(out, "Reliance Industries") {
		t.Fatalf("out=%q", out)
	}

	if _, err := execute(t, "-c", cfg, "recipient", "add", "u1", "-100123"); err != nil {
		t.Fatalf("recipient add: %v", err)
	}
	out, err = execute(t, "-c", cfg, "recipient", "add", "u2", "-100123")
	if err != nil {
		t.Fatalf("recipient move: %v", err)
	}
	if !strings.Contains(out, "moved from u1 to u2") {
		t.Fatalf("out=%q", out)
	}

	if _, err := execute(t, "-c", cfg, "recipient", "rm", "-100123"); err != nil {
		t.Fatalf("recipient rm: %v", err)
	}
	if _, err := execute(t, "recipient", "rm", "-c", cfg, "-100123"); err == nil {
		t.Fatalf("second recipient rm should fail")
	}
	if _, err := execute(t, "-c", cfg, "recipient", "rm", "-100123", "-100456"); err == nil {
		t.Fatalf("extra args should fail")
	}

	if _, err := execute(t, "-c", cfg, "watch", "rm", "u1", "500325"); err != nil {
		t.Fatalf("watch rm: %v", err)
	}
	if _, err := execute(t, "-c", cfg, "watch", "rm", "u1", "500325"); err == nil {
		t.Fatalf("second rm should fail")
	}
}

func TestRunRejectsWithoutSender(t *testing.T) {
	cfg := writeConfig(t)
	_, err := execute(t, "-c", cfg, "run", "bse_announcements")
	if err == nil || !strings.Contains(err.Error(), "not configured") {
		t.Fatalf("err=%v", err)
	}
}

func TestRunsEmpty(t *testing.T) {
	cfg := writeConfig(t)
	out, err := execute(t, "-c", cfg, "runs", "--limit", "3")
	if err != nil {
		t.Fatalf("runs: %v", err)
	}
	if strings.TrimSpace(out) != "[]" {
		t.Fatalf("out=%q", out)
	}
}
