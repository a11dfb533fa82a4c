package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

const sample = `
server:
  port: "9090"
database:
  sqlite_path: data/audit.db
schedule:
  recompute_cron: "0 0 3 * * 1-5"
  lookback_days: 30
funds:
  - manager_id: M1
    fof_id: FOF1
    established_on: 2024-01-01
    management:
      rate: "0.015"
      min_base: "1000000"
    deposit_rate: "0.0035"
    incentive:
      mode: INTE
      schedule: "tiered:0@0.1,0.2@0.2"
    sub_funds:
      S1:
        mode: SCST
        schedule: "flat:0.2"
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoad_FileAndDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, sample))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("unexpected validation error: %v", err)
	}

	if cfg.Server.Port != "9090" {
		t.Errorf("expected port 9090, got %s", cfg.Server.Port)
	}
	if cfg.Schedule.LookbackDays != 30 || cfg.Schedule.Parallel != 4 {
		t.Errorf("unexpected schedule %+v", cfg.Schedule)
	}
	if cfg.Redis.TTL != 30*time.Second {
		t.Errorf("expected default ttl, got %s", cfg.Redis.TTL)
	}

	if len(cfg.Funds) != 1 {
		t.Fatalf("expected 1 seeded fund, got %d", len(cfg.Funds))
	}
	f := cfg.Funds[0]
	if !f.Management.Rate.Equal(decimal.RequireFromString("0.015")) {
		t.Errorf("expected management rate 0.015, got %s", f.Management.Rate)
	}
	if !f.EstablishedOn.Equal(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("unexpected establishment date %s", f.EstablishedOn)
	}
	if f.SubFunds["S1"].Mode != "SCST" {
		t.Errorf("expected sub-fund terms, got %+v", f.SubFunds)
	}

	targets := cfg.Targets()
	if len(targets) != 1 || targets[0].FofID != "FOF1" {
		t.Errorf("expected seeded fund to be scheduled, got %+v", targets)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("PORT", "7070")
	t.Setenv("RECOMPUTE_CRON", "0 0 1 * * *")
	t.Setenv("AUDIT_SQLITE_PATH", "/tmp/x.db")

	cfg, err := Load(writeConfig(t, sample))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.Port != "7070" || cfg.Schedule.RecomputeCron != "0 0 1 * * *" || cfg.Database.SQLitePath != "/tmp/x.db" {
		t.Errorf("env overrides not applied: %+v", cfg)
	}
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.Port != "8080" || cfg.Schedule.RecomputeCron != "0 30 2 * * *" {
		t.Errorf("unexpected defaults %+v", cfg)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"port", "server:\n  port: http\n"},
		{"redis without database", "redis:\n  url: redis://localhost:6379\n"},
		{"fund without date", "funds:\n  - manager_id: M1\n    fof_id: F1\n"},
		{"target without fof", "schedule:\n  funds:\n    - manager_id: M1\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load(writeConfig(t, tt.body))
			if err != nil {
				t.Fatalf("unexpected load error: %v", err)
			}
			if err := cfg.Validate(); err == nil {
				t.Error("expected a validation error")
			}
		})
	}
}

func TestLoad_Malformed(t *testing.T) {
	if _, err := Load(writeConfig(t, "server: [")); err == nil {
		t.Error("expected a parse error")
	}
}
