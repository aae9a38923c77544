package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultsValidate(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config must validate, got %v", err)
	}
	if cfg.HTTPAddr != ":8080" || cfg.DBDriver != "sqlite" {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.MaxUploadBytes != 500<<20 {
		t.Fatalf("unexpected upload limit %d", cfg.MaxUploadBytes)
	}
}

func TestEnvOverridesYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	yaml := "http_addr: \":9000\"\ndb_driver: postgres\nsession_ttl: 2h\n"
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv(EnvConfigFile, path)
	t.Setenv(EnvHTTPAddr, ":9100")

	cfg, err := FromYAMLAndEnv()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.HTTPAddr != ":9100" {
		t.Fatalf("env must win over yaml, got %q", cfg.HTTPAddr)
	}
	if cfg.DBDriver != "postgres" {
		t.Fatalf("yaml must win over default, got %q", cfg.DBDriver)
	}
	if cfg.SessionTTL != 2*time.Hour {
		t.Fatalf("unexpected session ttl %v", cfg.SessionTTL)
	}
	if cfg.SweepInterval != DefaultSweepInterval {
		t.Fatalf("untouched fields keep defaults, got %v", cfg.SweepInterval)
	}
}

func TestInvalidDurationRejected(t *testing.T) {
	t.Setenv(EnvSessionTTL, "soon")
	if _, err := FromYAMLAndEnv(); err == nil {
		t.Fatalf("expected error for invalid duration")
	}
}

func TestValidateRejectsBadDriver(t *testing.T) {
	cfg := Default()
	cfg.DBDriver = "mysql"
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected error for unsupported driver")
	}
}

func TestValidateRejectsNonPositiveLimit(t *testing.T) {
	cfg := Default()
	cfg.MaxUploadBytes = 0
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected error for zero upload limit")
	}
}
