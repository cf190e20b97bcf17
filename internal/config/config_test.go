package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadTaggingDefaults(t *testing.T) {
	t.Setenv("NATS_SUBJECT", "")
	t.Setenv("CHECKOUT_LEASE", "")
	t.Setenv("RECLAIM_INTERVAL", "")
	t.Setenv("PERMANENT_CONTAINER", "")
	t.Setenv("RETRY_MAX_ATTEMPTS", "")

	cfg := Load()
	if cfg.NATSSubject != "images.onboard" {
		t.Fatalf("expected default subject images.onboard, got %q", cfg.NATSSubject)
	}
	if cfg.CheckoutLease != 24*time.Hour {
		t.Fatalf("expected default lease 24h, got %v", cfg.CheckoutLease)
	}
	if cfg.ReclaimInterval != 5*time.Minute {
		t.Fatalf("expected default reclaim interval 5m, got %v", cfg.ReclaimInterval)
	}
	if cfg.PermanentContainer != "permanent" {
		t.Fatalf("expected default permanent container, got %q", cfg.PermanentContainer)
	}
	if cfg.Resilience.RetryMaxAttempts != 3 {
		t.Fatalf("expected default retry attempts 3, got %d", cfg.Resilience.RetryMaxAttempts)
	}
}

func TestLoadParsesOverrides(t *testing.T) {
	t.Setenv("CHECKOUT_LEASE", "90m")
	t.Setenv("RECLAIM_INTERVAL", "not-a-duration")
	t.Setenv("RATE_LIMIT_RPS", "2.5")
	t.Setenv("BREAKER_ENABLED", "false")

	cfg := Load()
	if cfg.CheckoutLease != 90*time.Minute {
		t.Fatalf("expected lease override 90m, got %v", cfg.CheckoutLease)
	}
	if cfg.ReclaimInterval != 5*time.Minute {
		t.Fatalf("expected fallback for malformed interval, got %v", cfg.ReclaimInterval)
	}
	if cfg.RateLimitRPS != 2.5 {
		t.Fatalf("expected rate limit 2.5, got %v", cfg.RateLimitRPS)
	}
	if cfg.Resilience.BreakerEnabled {
		t.Fatalf("expected breaker disabled")
	}
}

func TestLoadReadinessRules(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.yaml")
	content := "min_tagged_images: 100\nmin_tagged_images_per_class:\n  cat: 20\n  dog: 15\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write rules: %v", err)
	}

	rules, err := LoadReadinessRules(path)
	if err != nil {
		t.Fatalf("LoadReadinessRules: %v", err)
	}
	if rules.MinTaggedImages != 100 || rules.MinTaggedImagesPerClass["cat"] != 20 || rules.MinTaggedImagesPerClass["dog"] != 15 {
		t.Fatalf("unexpected rules %+v", rules)
	}

	empty, err := LoadReadinessRules("")
	if err != nil || empty.MinTaggedImages != 0 || len(empty.MinTaggedImagesPerClass) != 0 {
		t.Fatalf("empty path should give zero rules, got %+v, %v", empty, err)
	}
}

func TestLoadReadinessRulesRejectsNegativeThreshold(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.yaml")
	if err := os.WriteFile(path, []byte("min_tagged_images_per_class:\n  cat: -1\n"), 0o600); err != nil {
		t.Fatalf("write rules: %v", err)
	}
	if _, err := LoadReadinessRules(path); err == nil {
		t.Fatalf("expected negative threshold to be rejected")
	}
}
