package courier_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/xraph/courier"
)

func TestDefaultConfigIsValid(t *testing.T) {
	if err := courier.DefaultConfig().Validate(); err != nil {
		t.Fatal(err)
	}
}

func TestLoadConfigFileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "courier.yaml")
	yaml := "concurrency: 4\nrequest_timeout: 10s\nbackoff_base: 2s\nretention: 168h\n"
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("COURIER_MAX_ATTEMPTS", "8")

	cfg, err := courier.LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}

	if cfg.Concurrency != 4 || cfg.RequestTimeout != 10*time.Second || cfg.BackoffBase != 2*time.Second {
		t.Fatalf("file values not applied: %+v", cfg)
	}
	if cfg.Retention != 7*24*time.Hour {
		t.Fatalf("retention = %v", cfg.Retention)
	}
	if cfg.MaxAttempts != 8 {
		t.Fatalf("max_attempts = %d, want env override 8", cfg.MaxAttempts)
	}
	if cfg.BackoffMax != courier.DefaultConfig().BackoffMax {
		t.Fatalf("unset key lost its default: %v", cfg.BackoffMax)
	}
}

func TestLoadConfigRejectsInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "courier.yaml")
	if err := os.WriteFile(path, []byte("concurrency: 0\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := courier.LoadConfig(path); err == nil {
		t.Fatal("expected validation error")
	}
}

func TestLoadConfigMissingExplicitFile(t *testing.T) {
	if _, err := courier.LoadConfig(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("expected error for a missing explicit file")
	}
}

func TestValidateStaleAfter(t *testing.T) {
	cfg := courier.DefaultConfig()
	cfg.StaleAfter = cfg.RequestTimeout
	if err := cfg.Validate(); err == nil {
		t.Fatal("stale_after at or below request_timeout should be rejected")
	}
}
