package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/fulmenhq/gofulmen/signals"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/cambiowatch/cambiowatch/internal/appid"
	"github.com/cambiowatch/cambiowatch/internal/config"
	"github.com/cambiowatch/cambiowatch/internal/core/engine"
	errwrap "github.com/cambiowatch/cambiowatch/internal/errors"
	"github.com/cambiowatch/cambiowatch/internal/metrics"
	"github.com/cambiowatch/cambiowatch/internal/observability"
	"github.com/cambiowatch/cambiowatch/internal/server"
	"github.com/cambiowatch/cambiowatch/internal/server/handlers"
)

var (
	serverPort int
	serverHost string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the scheduler and the HTTP API",
	Long: `Start the scrape scheduler and the HTTP API with graceful shutdown support.

A scrape cycle runs immediately and then every scrape.interval. Expired
history is removed daily at retention.cleanup_hour.

Signal Handling:
  • Ctrl+C (SIGINT) or SIGTERM: Graceful shutdown
  • Ctrl+C twice within 2s: Force quit
  • SIGHUP: Config reload (validated; scrape settings apply on restart)`,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	identity := appid.Current()
	namespace := identity.TelemetryNamespace()

	observability.InitServerLogger(observability.ServerLogOptions{
		Service:     identity.BinaryName,
		Level:       cfg.Logging.Level,
		Profile:     cfg.Logging.Profile,
		Namespace:   namespace,
		Environment: cfg.Logging.Environment,
	})
	log := observability.ServerLogger

	if cfg.Metrics.Enabled {
		if err := observability.InitMetrics(namespace, cfg.Metrics.Port); err != nil {
			log.Error("Failed to initialize metrics", zap.Error(err))
			return errwrap.WrapInternal(cmd.Context(), err, "metrics initialization failed")
		}
	}

	log.Info("Initializing server",
		zap.String("service", identity.BinaryName),
		zap.String("namespace", namespace),
		zap.String("version", versionInfo.Version),
		zap.String("host", cfg.Server.Host),
		zap.Int("port", cfg.Server.Port),
		zap.Int("metrics_port", observability.GetMetricsPort()),
		zap.Duration("scrape_interval", cfg.Scrape.Interval))

	a, err := buildApp(cmd.Context(), cfg, log, appOptions{withStore: true, optionalStore: true, withKafka: true})
	if err != nil {
		return errwrap.WrapInternal(cmd.Context(), err, "pipeline initialization failed")
	}

	hm := handlers.NewHealthManager(versionInfo.Version)
	registerHealthCheckers(hm, a, cfg)
	handlers.SetAppIdentity(identity)

	deps := server.Deps{
		Service: a.service,
		Limiter: a.limiter,
		Stream:  a.state,
		Health:  hm,
	}
	if a.store != nil {
		deps.Store = a.store
	}
	srv := server.New(cfg.Server, cfg.API, deps)

	sched := &engine.Scheduler{
		Interval:    cfg.Scrape.Interval,
		Cycle:       a.service.RunCycle,
		CleanupHour: cfg.Retention.CleanupHour,
		Logger:      log,
	}
	if a.store != nil {
		sched.Cleanup = a.cleanup
	}

	shutdownTimeout := cfg.Server.ShutdownTimeout
	if shutdownTimeout == 0 {
		shutdownTimeout = 10 * time.Second
	}

	// Shutdown handlers run LIFO: the HTTP server stops first, the logger
	// flushes last.
	signals.OnShutdown(func(ctx context.Context) error {
		log.Info("Flushing logger...")
		if err := log.Sync(); err != nil {
			log.Warn("Logger sync returned error (may be benign)", zap.Error(err))
		}
		return nil
	})

	signals.OnShutdown(func(ctx context.Context) error {
		if err := a.close(); err != nil {
			log.Warn("Failed to release pipeline resources", zap.Error(err))
		}
		if err := observability.StopMetrics(); err != nil {
			log.Warn("Failed to stop metrics exporter", zap.Error(err))
		}
		return nil
	})

	signals.OnShutdown(func(ctx context.Context) error {
		stopCtx, cancel := context.WithTimeout(ctx, shutdownTimeout)
		defer cancel()
		if err := sched.Stop(stopCtx); err != nil {
			log.Warn("Scheduler did not stop cleanly", zap.Error(err))
		}
		return nil
	})

	signals.OnShutdown(func(ctx context.Context) error {
		log.Info("Shutting down HTTP server...")
		shutdownCtx, cancel := context.WithTimeout(ctx, shutdownTimeout)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			return errwrap.WrapInternal(ctx, err, "server shutdown failed")
		}

		log.Info("HTTP server stopped gracefully")
		return nil
	})

	signals.OnReload(func(ctx context.Context) error {
		log.Info("Received SIGHUP: attempting config reload")
		if err := viper.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if errors.As(err, &notFound) {
				log.Info("No config file found - using defaults and environment variables")
				return nil
			}
			log.Error("Failed to reload config file",
				zap.String("file", viper.ConfigFileUsed()),
				zap.Error(err))
			return errwrap.WrapValidationError(ctx, err, "config reload failed")
		}

		next, err := config.Load(viper.GetViper())
		if err != nil {
			log.Error("Reloaded config is invalid, keeping current settings", zap.Error(err))
			return errwrap.WrapValidationError(ctx, err, "config reload failed")
		}
		if next.Logging.Level != cfg.Logging.Level {
			log.Info("Log level changes apply on restart",
				zap.String("current", cfg.Logging.Level),
				zap.String("configured", next.Logging.Level))
		}

		log.Info("Configuration reloaded successfully", zap.String("file", viper.ConfigFileUsed()))
		return nil
	})

	if err := signals.EnableDoubleTap(signals.DoubleTapConfig{
		Window:  2 * time.Second,
		Message: "Press Ctrl+C again within 2 seconds to force quit",
	}); err != nil {
		log.Warn("Failed to enable double-tap force quit", zap.Error(err))
	}

	if err := sched.Start(context.Background()); err != nil {
		return errwrap.WrapInternal(cmd.Context(), err, "scheduler start failed")
	}
	metrics.SetServerStartTime(time.Now().Unix())

	errChan := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	go func() {
		if err := signals.Listen(cmd.Context()); err != nil {
			log.Error("Signal handler error", zap.Error(err))
			errChan <- err
		}
	}()

	if err := <-errChan; err != nil {
		return errwrap.WrapInternal(cmd.Context(), err, "server error")
	}
	return nil
}

func registerHealthCheckers(hm *handlers.HealthManager, a *app, cfg *config.Config) {
	if a.store != nil {
		hm.RegisterChecker("store", handlers.HealthCheckerFunc(a.store.Ping))
	} else {
		hm.RegisterChecker("store", handlers.HealthCheckerFunc(func(context.Context) error {
			return fmt.Errorf("%w: history store unavailable", handlers.ErrDegraded)
		}))
	}

	hm.RegisterChecker("scrape", handlers.HealthCheckerFunc(func(context.Context) error {
		snap := a.state.Load()
		if snap.Error != "" && !snap.Pending {
			return fmt.Errorf("%w: %s", handlers.ErrDegraded, snap.Error)
		}
		return nil
	}))

	if cfg.Metrics.Enabled {
		hm.RegisterChecker("telemetry", handlers.HealthCheckerFunc(func(context.Context) error {
			if observability.TelemetrySystem == nil || observability.PrometheusExporter == nil {
				return errwrap.NewInternalError("telemetry system not initialized")
			}
			return nil
		}))
	}
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&serverHost, "host", "localhost", "server host")
	serveCmd.Flags().IntVarP(&serverPort, "port", "p", 3000, "server port")

	_ = viper.BindPFlag("server.host", serveCmd.Flags().Lookup("host"))
	_ = viper.BindPFlag("server.port", serveCmd.Flags().Lookup("port"))
}
