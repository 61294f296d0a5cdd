package main

import (
	"testing"

	"agentdesk/internal/app"
)

func TestApplyEnvOverrides_LogFileWinsOverConfig(t *testing.T) {
	t.Setenv("ADESK_LOG_FILE", "/tmp/override.log")
	t.Setenv("ADESK_ORIGINS_DB", "")

	cfg := app.DefaultConfig()
	cfg.LogFile = "/var/log/from-config.log"

	applyEnvOverrides(&cfg)

	if cfg.LogFile != "/tmp/override.log" {
		t.Fatalf("log file = %q, want %q", cfg.LogFile, "/tmp/override.log")
	}
}

func TestApplyEnvOverrides_OriginsDBWinsOverConfig(t *testing.T) {
	t.Setenv("ADESK_ORIGINS_DB", "/tmp/test-origins.db")

	cfg := app.DefaultConfig()
	cfg.OriginsDBPath = "/data/origins.db"

	applyEnvOverrides(&cfg)

	if cfg.OriginsDBPath != "/tmp/test-origins.db" {
		t.Fatalf("origins db = %q, want %q", cfg.OriginsDBPath, "/tmp/test-origins.db")
	}
}

func TestApplyEnvOverrides_BlankEnvKeepsConfig(t *testing.T) {
	t.Setenv("ADESK_LOG_FILE", "")
	t.Setenv("ADESK_ORIGINS_DB", "   ")

	cfg := app.DefaultConfig()
	cfg.LogFile = "/var/log/from-config.log"
	cfg.OriginsDBPath = "/data/origins.db"

	applyEnvOverrides(&cfg)

	if cfg.LogFile != "/var/log/from-config.log" {
		t.Fatalf("log file = %q, want config value kept", cfg.LogFile)
	}
	if cfg.OriginsDBPath != "/data/origins.db" {
		t.Fatalf("origins db = %q, want config value kept", cfg.OriginsDBPath)
	}
}
