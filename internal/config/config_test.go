package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestConfig_SetDefaults(t *testing.T) {
	t.Parallel()

	var cfg Config
	cfg.SetDefaults()

	if cfg.Server.HTTPAddr != "127.0.0.1:8080" {
		t.Errorf("HTTPAddr = %q, want %q", cfg.Server.HTTPAddr, "127.0.0.1:8080")
	}
	if cfg.RateLimit.RedisAddr != "127.0.0.1:6379" {
		t.Errorf("RedisAddr = %q, want %q", cfg.RateLimit.RedisAddr, "127.0.0.1:6379")
	}
	if cfg.RateLimit.KeyPrefix != "elf:accessrl" {
		t.Errorf("KeyPrefix = %q, want %q", cfg.RateLimit.KeyPrefix, "elf:accessrl")
	}
	if !cfg.RateLimit.FailOpen {
		t.Error("RateLimit.FailOpen should default to true")
	}
	if cfg.Tracing.ServiceName != "accessrl" {
		t.Errorf("Tracing.ServiceName = %q, want %q", cfg.Tracing.ServiceName, "accessrl")
	}
}

func TestConfig_SetDefaults_PreservesExistingValues(t *testing.T) {
	t.Parallel()

	cfg := Config{
		Server: ServerConfig{HTTPAddr: ":9090"},
		RateLimit: RateLimitConfig{
			RedisAddr: "redis.internal:6380",
			KeyPrefix: "custom:prefix",
		},
	}
	cfg.SetDefaults()

	if cfg.Server.HTTPAddr != ":9090" {
		t.Errorf("HTTPAddr was overwritten: got %q", cfg.Server.HTTPAddr)
	}
	if cfg.RateLimit.RedisAddr != "redis.internal:6380" {
		t.Errorf("RedisAddr was overwritten: got %q", cfg.RateLimit.RedisAddr)
	}
	if cfg.RateLimit.KeyPrefix != "custom:prefix" {
		t.Errorf("KeyPrefix was overwritten: got %q", cfg.RateLimit.KeyPrefix)
	}
}

func TestConfig_SetDevDefaults_InjectsAllowAllPolicy(t *testing.T) {
	t.Parallel()

	cfg := Config{DevMode: true}
	cfg.SetDevDefaults()

	if len(cfg.RateLimit.Policies) != 1 {
		t.Fatalf("expected one dev policy, got %d", len(cfg.RateLimit.Policies))
	}
	if cfg.RateLimit.DefaultPolicy != "dev-default" {
		t.Errorf("DefaultPolicy = %q, want %q", cfg.RateLimit.DefaultPolicy, "dev-default")
	}
	if cfg.Server.LogLevel != "debug" {
		t.Errorf("LogLevel = %q, want %q", cfg.Server.LogLevel, "debug")
	}
}

func TestConfig_SetDevDefaults_NoopWhenNotDevMode(t *testing.T) {
	t.Parallel()

	cfg := Config{}
	cfg.SetDevDefaults()

	if len(cfg.RateLimit.Policies) != 0 {
		t.Errorf("expected no policies injected, got %d", len(cfg.RateLimit.Policies))
	}
}

func TestFindConfigFileInPaths_EmptyDir(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	got := findConfigFileInPaths([]string{dir})
	if got != "" {
		t.Errorf("findConfigFileInPaths(empty dir) = %q, want empty", got)
	}
}

func TestFindConfigFileInPaths_MatchesYAML(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "accessrl.yaml")
	_ = os.WriteFile(cfgPath, []byte("server:\n  http_addr: :9090\n"), 0644)

	got := findConfigFileInPaths([]string{dir})
	if got != cfgPath {
		t.Errorf("findConfigFileInPaths = %q, want %q", got, cfgPath)
	}
}

func TestFindConfigFileInPaths_MatchesYML(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "accessrl.yml")
	_ = os.WriteFile(cfgPath, []byte("server:\n  http_addr: :9090\n"), 0644)

	got := findConfigFileInPaths([]string{dir})
	if got != cfgPath {
		t.Errorf("findConfigFileInPaths = %q, want %q", got, cfgPath)
	}
}

func TestFindConfigFileInPaths_IgnoresNoExtension(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	// Simulate the binary: a file named "accessrl" with no extension.
	_ = os.WriteFile(filepath.Join(dir, "accessrl"), []byte("\x7fELF binary"), 0755)

	got := findConfigFileInPaths([]string{dir})
	if got != "" {
		t.Errorf("findConfigFileInPaths matched binary = %q, want empty", got)
	}
}

func TestFindConfigFileInPaths_PrefersYAMLOverYML(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	yamlPath := filepath.Join(dir, "accessrl.yaml")
	ymlPath := filepath.Join(dir, "accessrl.yml")
	_ = os.WriteFile(yamlPath, []byte("server:\n  http_addr: :8080\n"), 0644)
	_ = os.WriteFile(ymlPath, []byte("server:\n  http_addr: :9090\n"), 0644)

	got := findConfigFileInPaths([]string{dir})
	if got != yamlPath {
		t.Errorf("findConfigFileInPaths = %q, want %q (.yaml preferred)", got, yamlPath)
	}
}
