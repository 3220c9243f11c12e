package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("REQUEST_TIMEOUT_SEC", "")
	t.Setenv("CACHE_TTL_MIN", "")
	t.Setenv("STORE_BACKEND", "")

	cfg := Load()
	if cfg.RequestTimeout != 30*time.Second {
		t.Errorf("RequestTimeout: got %v, want 30s", cfg.RequestTimeout)
	}
	if cfg.CacheTTL != 30*time.Minute {
		t.Errorf("CacheTTL: got %v, want 30m", cfg.CacheTTL)
	}
	if cfg.PrefetchStability != 2*time.Second {
		t.Errorf("PrefetchStability: got %v, want 2s", cfg.PrefetchStability)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate: %v", err)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("MAX_RETRIES", "5")
	t.Setenv("RETRY_DELAY_MS", "250")
	t.Setenv("STORE_BACKEND", "memory")

	cfg := Load()
	if cfg.MaxRetries != 5 {
		t.Errorf("MaxRetries: got %d, want 5", cfg.MaxRetries)
	}
	if cfg.RetryDelay != 250*time.Millisecond {
		t.Errorf("RetryDelay: got %v, want 250ms", cfg.RetryDelay)
	}
	if cfg.StoreBackend != "memory" {
		t.Errorf("StoreBackend: got %q, want memory", cfg.StoreBackend)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero timeout", func(c *Config) { c.RequestTimeout = 0 }},
		{"zero ttl", func(c *Config) { c.CacheTTL = 0 }},
		{"no attempts", func(c *Config) { c.MaxRetries = 0 }},
		{"no workers", func(c *Config) { c.MaxConcurrency = 0 }},
		{"unknown backend", func(c *Config) { c.StoreBackend = "redis" }},
	}

	for _, tt := range tests {
		cfg := Load()
		cfg.StoreBackend = "memory"
		tt.mutate(cfg)
		if err := cfg.Validate(); err == nil {
			t.Errorf("%s: expected validation error", tt.name)
		}
	}
}
