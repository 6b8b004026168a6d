package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	inboundhttp "github.com/elfnet/accessrl/internal/adapter/inbound/http"
	"github.com/elfnet/accessrl/internal/adapter/outbound/otelhook"
	"github.com/elfnet/accessrl/internal/adapter/outbound/store"
	"github.com/elfnet/accessrl/internal/config"
	"github.com/elfnet/accessrl/internal/service/decision"
	"github.com/elfnet/accessrl/internal/service/policyprovider"
	"github.com/elfnet/accessrl/pkg/accessrl"
)

var devMode bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the rate limiter HTTP server",
	Long: `Run a standalone server that applies the configured rate-limit policies
to every request it receives. Allowed requests reach a placeholder handler
that answers 200 OK (nothing is proxied upstream); denied ones are shaped
into 429 responses.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().BoolVar(&devMode, "dev", false, "enable development mode (verbose logging, permissive default policy)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfigRaw()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if devMode {
		cfg.DevMode = true
	}
	cfg.SetDevDefaults()
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logLevel := parseLogLevel(cfg.Server.LogLevel)
	if cfg.DevMode {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))

	if file := config.ConfigFileUsed(); file != "" {
		logger.Info("loaded config", "file", file)
	} else {
		logger.Warn("no config file found, running on defaults and environment overrides")
	}

	return serve(ctx, cfg, logger)
}

// serve wires the Policy Provider, Store Core, Decision Driver, and
// Response Shaper together and runs the HTTP server until ctx is canceled.
func serve(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	provider, err := policyprovider.New(logger)
	if err != nil {
		return fmt.Errorf("failed to create policy provider: %w", err)
	}

	specs, defaultName, err := cfg.PolicySpecs()
	if err != nil {
		return fmt.Errorf("invalid policy configuration: %w", err)
	}
	if err := provider.Load(specs, defaultName); err != nil {
		return fmt.Errorf("failed to load policies: %w", err)
	}
	logger.Info("policies loaded", "count", len(specs), "default", defaultName)

	reg := prometheus.NewRegistry()
	metrics := inboundhttp.NewMetrics(reg)

	var redisClient *redis.Client
	var driver *decision.Driver
	if cfg.RateLimit.Enabled {
		redisClient = redis.NewClient(&redis.Options{
			Addr: cfg.RateLimit.RedisAddr,
			DB:   cfg.RateLimit.RedisDB,
		})
		defer redisClient.Close()

		driverOpts := []decision.Option{
			decision.WithFailOpen(cfg.RateLimit.FailOpen),
			decision.WithKeyPrefix(cfg.RateLimit.KeyPrefix),
			decision.WithMetricsSink(metrics),
			decision.WithLogger(logger),
		}

		if cfg.RateLimit.ExemptWhen != "" {
			exempt, err := provider.CompilePredicate(cfg.RateLimit.ExemptWhen)
			if err != nil {
				return fmt.Errorf("invalid rate_limit.exempt_when: %w", err)
			}
			driverOpts = append(driverOpts, decision.WithGlobalExemptWhen(exempt))
		}
		if cfg.RateLimit.AuthenticatedWhen != "" {
			auth, err := provider.CompilePredicate(cfg.RateLimit.AuthenticatedWhen)
			if err != nil {
				return fmt.Errorf("invalid rate_limit.authenticated_when: %w", err)
			}
			driverOpts = append(driverOpts, decision.WithGlobalAuthenticatedWhen(auth))
		}

		if cfg.Tracing.Enabled {
			tracer, shutdown, err := otelhook.NewTracerProvider(ctx, cfg.Tracing.ServiceName)
			if err != nil {
				return fmt.Errorf("failed to create tracer provider: %w", err)
			}
			defer func() { _ = shutdown(context.Background()) }()
			driverOpts = append(driverOpts, decision.WithTracer(tracer))
		}

		driver = decision.New(provider, store.New(redisClient), driverOpts...)
	} else {
		logger.Warn("rate_limit.enabled is false, all requests pass through unlimited")
	}

	config.WatchPolicyReload(provider, logger)

	mux := http.NewServeMux()

	if cfg.RateLimit.Enabled {
		middlewareOpts := []accessrl.Option{accessrl.WithDurationRecorder(metrics)}
		middleware := accessrl.NewMiddleware(driver, middlewareOpts...)
		mux.Handle("/", middleware(upstreamProxyHandler()))
	} else {
		mux.Handle("/", upstreamProxyHandler())
	}

	if redisClient != nil {
		healthChecker := inboundhttp.NewHealthChecker(store.New(redisClient))
		mux.Handle("/healthz", healthChecker.Handler())
	} else {
		mux.Handle("/healthz", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"status":"healthy","checks":{"store":"disabled"}}`))
		}))
	}
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	if cfg.Admin.Enabled {
		adminHandler := inboundhttp.NewAdminHandler(provider, cfg.Admin.TokenHash, func() error {
			return reloadFromConfigFile(provider, logger)
		})
		mux.Handle("/admin/policy", adminHandler.Handler())
		logger.Info("admin endpoint enabled", "path", "/admin/policy")
	}

	srv := &http.Server{
		Addr:    cfg.Server.HTTPAddr,
		Handler: inboundhttp.RequestIDMiddleware(logger)(mux),
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("accessrl listening", "addr", cfg.Server.HTTPAddr, "version", Version)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		<-errCh
		return nil
	case err := <-errCh:
		return err
	}
}

// upstreamProxyHandler is a placeholder passthrough for the protected
// backend. A real deployment replaces this with httputil.ReverseProxy
// pointed at the upstream service; the middleware above is transport
// agnostic and wraps any http.Handler.
func upstreamProxyHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

// reloadFromConfigFile re-reads the current config file from disk and
// republishes a new policy snapshot, independent of the fsnotify-driven
// watch in config.WatchPolicyReload. Used by the admin endpoint's POST
// handler for an on-demand reload.
func reloadFromConfigFile(provider *policyprovider.Provider, logger *slog.Logger) error {
	file := config.ConfigFileUsed()
	if file == "" {
		return errors.New("no config file in use, nothing to reload")
	}
	raw, err := os.ReadFile(file)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("reload: %w", err)
	}
	specs, defaultName, err := cfg.PolicySpecs()
	if err != nil {
		return fmt.Errorf("reload: %w", err)
	}
	if err := provider.Reload(raw, specs, defaultName); err != nil {
		return fmt.Errorf("reload: %w", err)
	}
	logger.Info("admin-triggered reload complete", "policies", len(specs))
	return nil
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
