package config

import (
	"log/slog"
	"os"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"

	"github.com/elfnet/accessrl/internal/service/policyprovider"
)

// WatchPolicyReload wires viper's fsnotify-backed file watcher to the Policy
// Provider: every time the config file changes on disk, the rate-limit
// policy section is re-decoded, converted, and handed to provider.Reload.
// Decode/convert failures are logged and leave the provider's last good
// snapshot in place, matching Reload's own fail-safe contract.
func WatchPolicyReload(provider *policyprovider.Provider, logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}

	viper.OnConfigChange(func(e fsnotify.Event) {
		logger.Info("config: file changed, reloading policies", "file", e.Name)

		raw, err := os.ReadFile(e.Name)
		if err != nil {
			logger.Error("config: failed to read changed file, keeping last good snapshot", "error", err)
			return
		}

		var cfg Config
		if err := viper.Unmarshal(&cfg); err != nil {
			logger.Error("config: failed to decode changed file, keeping last good snapshot", "error", err)
			return
		}
		cfg.SetDefaults()

		specs, defaultName, err := cfg.PolicySpecs()
		if err != nil {
			logger.Error("config: failed to convert policies, keeping last good snapshot", "error", err)
			return
		}

		if err := provider.Reload(raw, specs, defaultName); err != nil {
			logger.Error("config: reload rejected", "error", err)
		}
	})
	viper.WatchConfig()
}
