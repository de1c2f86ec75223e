package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/omarluq/dc-relay/cmd/dc-relay/di"
	"github.com/omarluq/dc-relay/internal/config"
	"github.com/omarluq/dc-relay/internal/version"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the dc-relay proxy server",
	Long: `Start the proxy server that accepts Discord API requests, queues them
against the tracked rate limit buckets, and forwards them upstream.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(_ *cobra.Command, _ []string) error {
	// Determine config path
	configPath := cfgFile
	if configPath == "" {
		configPath = findConfigFile()
	}

	container, err := di.NewContainer(configPath)
	if err != nil {
		log.Error().Err(err).Msg("failed to create container")
		return err
	}

	loggerSvc, err := di.Invoke[*di.LoggerService](container)
	if err != nil {
		// Fallback console logger for startup errors
		log.Error().Err(err).Str("path", configPath).Msg("failed to initialize")
		return err
	}

	logger := *loggerSvc.Logger
	log.Logger = logger
	zerolog.DefaultContextLogger = &logger

	cfgSvc := di.MustInvoke[*di.ConfigService](container)
	zerolog.SetGlobalLevel(cfgSvc.Runtime.Get().Logging.ParseLevel())

	serverSvc, err := di.Invoke[*di.ServerService](container)
	if err != nil {
		log.Error().Err(err).Msg("failed to build server")
		return err
	}

	// Hot reload: watch the config file and apply the reloadable subset.
	watcherCtx, cancelWatcher := context.WithCancel(context.Background())
	defer cancelWatcher()
	startConfigWatcher(watcherCtx, container, configPath)

	// Graceful shutdown on SIGINT/SIGTERM
	done := make(chan struct{})
	go func() {
		sigint := make(chan os.Signal, 1)
		signal.Notify(sigint, os.Interrupt, syscall.SIGTERM)
		<-sigint

		log.Info().Msg("shutting down...")
		cancelWatcher()

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := container.ShutdownWithContext(ctx); err != nil {
			log.Error().Err(err).Msg("shutdown error")
		}

		close(done)
	}()

	log.Info().
		Str("listen", serverSvc.Server.Addr()).
		Str("upstream", cfgSvc.Runtime.Get().Upstream.GetEffectiveBaseURL()).
		Str("version", version.Version).
		Msg("starting dc-relay")

	if err := serverSvc.Server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Error().Err(err).Msg("server error")
		return err
	}

	<-done
	log.Info().Msg("server stopped")

	return nil
}

// startConfigWatcher wires config hot-reload. Reloadable settings: log level,
// global RPS, and max concurrent requests. Everything else (listen address,
// upstream URL, cache backend) requires a restart.
func startConfigWatcher(ctx context.Context, container *di.Container, configPath string) {
	watcher, err := config.NewWatcher(configPath)
	if err != nil {
		log.Warn().Err(err).Msg("config watcher unavailable, hot-reload disabled")
		return
	}

	cfgSvc := di.MustInvoke[*di.ConfigService](container)
	limiterSvc := di.MustInvoke[*di.LimiterService](container)
	concSvc := di.MustInvoke[*di.ConcurrencyService](container)

	watcher.OnReload(func(newCfg *config.Config) error {
		cfgSvc.Runtime.Store(newCfg)
		limiterSvc.Limiters.SetRate(newCfg.RateLimit.GetEffectiveGlobalRPS())
		concSvc.Limiter.SetLimit(int64(newCfg.Server.GetMaxConcurrentOption().OrElse(0)))
		zerolog.SetGlobalLevel(newCfg.Logging.ParseLevel())

		log.Info().
			Int("global_rps", newCfg.RateLimit.GetEffectiveGlobalRPS()).
			Int("max_concurrent", newCfg.Server.MaxConcurrent).
			Str("log_level", newCfg.Logging.ParseLevel().String()).
			Msg("applied reloaded config")
		return nil
	})

	go func() {
		defer func() {
			if err := watcher.Close(); err != nil && !errors.Is(err, config.ErrWatcherClosed) {
				log.Error().Err(err).Msg("failed to close config watcher")
			}
		}()
		if err := watcher.Watch(ctx); err != nil {
			log.Error().Err(err).Msg("config watcher stopped")
		}
	}()
}

// findConfigFile searches for config.yaml in default locations.
func findConfigFile() string {
	// Check current directory
	if _, err := os.Stat(defaultConfigFile); err == nil {
		return defaultConfigFile
	}
	// Check ~/.config/dc-relay/
	home, err := os.UserHomeDir()
	if err == nil && home != "" {
		p := filepath.Join(home, ".config", "dc-relay", defaultConfigFile)
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}

	return defaultConfigFile // Default, will error if not found
}
