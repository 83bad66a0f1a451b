package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
)

func TestLoadExpandsEnv(t *testing.T) {
	t.Setenv("SCRIBE_TEST_TOKEN", "tok-123")

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	data := `
listen:
  port: 9090
github:
  token: ${SCRIBE_TEST_TOKEN}
  default_repo: pentland/scribe
log_level: debug
`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Listen.Port != 9090 {
		t.Errorf("Listen.Port = %d, want 9090", cfg.Listen.Port)
	}
	if cfg.GitHub.Token != "tok-123" {
		t.Errorf("GitHub.Token = %q, want tok-123", cfg.GitHub.Token)
	}
	if cfg.GitHub.DefaultRepo != "pentland/scribe" {
		t.Errorf("GitHub.DefaultRepo = %q", cfg.GitHub.DefaultRepo)
	}
}

func TestLoadKeepsDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("log_level: warn\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Agent.MaxRounds != 8 {
		t.Errorf("Agent.MaxRounds = %d, want default 8", cfg.Agent.MaxRounds)
	}
	if cfg.RAG.MessagesPerChannel != 200 {
		t.Errorf("RAG.MessagesPerChannel = %d, want default 200", cfg.RAG.MessagesPerChannel)
	}
	if cfg.Memory.RecentTurns != 10 {
		t.Errorf("Memory.RecentTurns = %d, want default 10", cfg.Memory.RecentTurns)
	}
}

func TestFindConfigExplicitMissing(t *testing.T) {
	if _, err := FindConfig(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for missing explicit config")
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    slog.Level
		wantErr bool
	}{
		{"", slog.LevelInfo, false},
		{"info", slog.LevelInfo, false},
		{"TRACE", LevelTrace, false},
		{"debug", slog.LevelDebug, false},
		{"warn", slog.LevelWarn, false},
		{"warning", slog.LevelWarn, false},
		{"error", slog.LevelError, false},
		{" Info ", slog.LevelInfo, false},
		{"verbose", slog.LevelInfo, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseLogLevel(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseLogLevel(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseLogLevel(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}
