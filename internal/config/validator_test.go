package config

import (
	"strings"
	"testing"
)

func minimalValidConfig() *Config {
	return &Config{
		RateLimit: RateLimitConfig{
			Enabled:       true,
			RedisAddr:     "127.0.0.1:6379",
			DefaultPolicy: "standard",
			Policies: []PolicyConfig{
				{Name: "standard", LimitPerMinute: 60},
			},
		},
	}
}

func TestValidate_ValidConfig(t *testing.T) {
	t.Parallel()

	cfg := minimalValidConfig()
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() unexpected error: %v", err)
	}
}

func TestValidate_ZeroConfig(t *testing.T) {
	t.Parallel()

	cfg := &Config{}
	cfg.SetDefaults()

	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() zero-config unexpected error: %v", err)
	}
}

func TestValidate_UnknownDefaultPolicy(t *testing.T) {
	t.Parallel()

	cfg := minimalValidConfig()
	cfg.RateLimit.DefaultPolicy = "does-not-exist"

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate() expected error, got nil")
	}
	if !strings.Contains(err.Error(), "unknown policy") {
		t.Errorf("error = %q, want to contain 'unknown policy'", err.Error())
	}
}

func TestValidate_DuplicatePolicyNamesCaseInsensitive(t *testing.T) {
	t.Parallel()

	cfg := minimalValidConfig()
	cfg.RateLimit.Policies = append(cfg.RateLimit.Policies, PolicyConfig{Name: "Standard", LimitPerMinute: 30})

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate() expected error for duplicate policy name, got nil")
	}
	if !strings.Contains(err.Error(), "duplicate policy name") {
		t.Errorf("error = %q, want to contain 'duplicate policy name'", err.Error())
	}
}

func TestValidate_InvalidDuration(t *testing.T) {
	t.Parallel()

	cfg := minimalValidConfig()
	cfg.RateLimit.Policies[0].Window = "not-a-duration"
	cfg.RateLimit.Policies[0].Limit = 60

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate() expected error for invalid duration, got nil")
	}
	if !strings.Contains(err.Error(), "duration") {
		t.Errorf("error = %q, want to contain 'duration'", err.Error())
	}
}

func TestValidate_MissingRedisAddrWhenEnabled(t *testing.T) {
	t.Parallel()

	cfg := minimalValidConfig()
	cfg.RateLimit.RedisAddr = ""

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate() expected error for missing redis_addr, got nil")
	}
}

func TestValidate_AdminRequiresTokenHashWhenEnabled(t *testing.T) {
	t.Parallel()

	cfg := minimalValidConfig()
	cfg.Admin.Enabled = true

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate() expected error for missing admin token hash, got nil")
	}
}

func TestValidate_AdminDisabledDoesNotRequireTokenHash(t *testing.T) {
	t.Parallel()

	cfg := minimalValidConfig()
	cfg.Admin.Enabled = false

	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() unexpected error: %v", err)
	}
}

func TestValidate_RateLimitDisabledSkipsRedisAddrRequirement(t *testing.T) {
	t.Parallel()

	cfg := &Config{RateLimit: RateLimitConfig{Enabled: false}}

	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() unexpected error: %v", err)
	}
}
