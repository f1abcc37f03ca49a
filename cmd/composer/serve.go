package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/pitabwire/composer/internal/catalogue"
	"github.com/pitabwire/composer/internal/composer"
	"github.com/pitabwire/composer/internal/config"
	"github.com/pitabwire/composer/internal/configstore"
	"github.com/pitabwire/composer/internal/observability"
	"github.com/pitabwire/composer/internal/transport"
)

func newServeCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the composer HTTP service",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context(), configPath)
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "config.yaml", "path to configuration file")
	return cmd
}

func serve(parent context.Context, configPath string) error {
	// Step 1: Load configuration.
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("configuration error: %w", err)
	}

	// Step 2: Initialize telemetry (logger, tracer, metrics).
	observability.Version = version
	observability.Commit = commit

	logger, err := observability.NewLogger(cfg.Observability)
	if err != nil {
		return fmt.Errorf("logger error: %w", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(parent, syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	tracingShutdown, err := observability.InitTracing(ctx, cfg.Observability.Tracing, "composer", version)
	if err != nil {
		logger.Error("tracing initialization failed", zap.Error(err))
		return err
	}

	metrics := observability.InitMetrics(prometheus.DefaultRegisterer)

	// Step 3: Load catalogues, validate, build registry.
	cats, err := catalogue.LoadValidated(cfg.Catalogue.Directories)
	if err != nil {
		var vfe *catalogue.ValidationFailedError
		if errors.As(err, &vfe) {
			for _, ve := range vfe.Errors {
				logger.Error("catalogue validation error", zap.String("error", ve.Error()))
			}
		}
		logger.Error("catalogue loading failed", zap.Error(err))
		return err
	}
	registry := catalogue.NewRegistry(cats)
	metrics.SetCataloguesLoaded(registry.Len())

	// Step 4: Initialize configuration store.
	store, storeCloser, err := buildConfigStore(ctx, cfg.Store, logger)
	if err != nil {
		logger.Error("configuration store initialization failed", zap.Error(err))
		return err
	}
	if storeCloser != nil {
		defer storeCloser()
	}

	// Step 5: Build the session manager.
	sessions := composer.NewManager(cfg.Sessions.MaxSessions, cfg.Sessions.IdleTTL, composer.SessionDeps{
		Backend:  store,
		Metadata: registry,
		Recorder: metrics,
		Logger:   logger,
	})

	// Step 6: Build HTTP router.
	readiness := observability.ReadinessChecks{
		CatalogueLoaded: func() bool { return registry.Len() > 0 },
	}
	if hc, ok := store.(observability.HealthChecker); ok {
		readiness.ConfigStore = hc
	}

	router := transport.NewRouter(transport.Dependencies{
		Config:     cfg,
		Logger:     logger,
		Sessions:   sessions,
		Catalogues: registry,
		Metrics:    metrics,
		Readiness:  readiness,
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Step 7: Start background tasks.
	bgCtx, bgCancel := context.WithCancel(ctx)
	defer bgCancel()
	go watchCatalogueReload(bgCtx, registry, cfg.Catalogue.Directories, metrics, logger)

	// Step 8: Start HTTP server.
	logger.Info("server started",
		zap.Int("port", cfg.Server.Port),
		zap.String("version", version),
		zap.String("commit", commit),
		zap.String("store_driver", cfg.Store.Driver),
		zap.Int("catalogues", registry.Len()),
	)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown initiated")
	case err := <-errCh:
		logger.Error("server error", zap.Error(err))
		return err
	}

	// Graceful shutdown sequence.
	shutdownTimeout := cfg.Server.ShutdownTimeout
	if shutdownTimeout == 0 {
		shutdownTimeout = 30 * time.Second
	}
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", zap.Error(err))
	}

	bgCancel()
	sessions.Purge()

	if err := tracingShutdown(shutdownCtx); err != nil {
		logger.Error("tracing shutdown error", zap.Error(err))
	}

	logger.Info("shutdown complete")
	return nil
}

// buildConfigStore creates the configuration store based on config.
func buildConfigStore(ctx context.Context, cfg config.StoreConfig, logger *zap.Logger) (configstore.Store, func(), error) {
	switch cfg.Driver {
	case "memory", "":
		logger.Info("using in-memory configuration store")
		return configstore.NewMemoryStore(), nil, nil
	case "postgres":
		dsn := os.Getenv(cfg.DSNEnv)
		if dsn == "" {
			return nil, nil, fmt.Errorf("configuration store: %s environment variable not set", cfg.DSNEnv)
		}

		poolCfg, err := pgxpool.ParseConfig(dsn)
		if err != nil {
			return nil, nil, fmt.Errorf("configuration store: parse DSN: %w", err)
		}
		poolCfg.MaxConns = int32(cfg.MaxOpenConns)
		poolCfg.MinConns = int32(cfg.MaxIdleConns)
		poolCfg.MaxConnLifetime = cfg.ConnMaxLifetime

		pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
		if err != nil {
			return nil, nil, fmt.Errorf("configuration store: connect: %w", err)
		}

		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("configuration store: ping: %w", err)
		}

		store := configstore.NewPgStore(pool)
		if err := store.EnsureSchema(ctx); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("configuration store: %w", err)
		}
		logger.Info("using PostgreSQL configuration store")
		return store, pool.Close, nil
	default:
		return nil, nil, fmt.Errorf("unsupported configuration store driver: %q", cfg.Driver)
	}
}

// watchCatalogueReload reloads the catalogues on SIGHUP. A failed reload
// keeps the catalogues already being served.
func watchCatalogueReload(ctx context.Context, registry *catalogue.Registry, dirs []string, metrics *observability.Metrics, logger *zap.Logger) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
			n, err := catalogue.Reload(registry, dirs)
			if err != nil {
				metrics.RecordCatalogueReload("failure")
				logger.Error("catalogue reload failed, keeping current catalogues", zap.Error(err))
				continue
			}
			metrics.RecordCatalogueReload("success")
			metrics.SetCataloguesLoaded(n)
			logger.Info("catalogues reloaded",
				zap.Int("catalogues", n),
				zap.String("checksum", registry.Checksum()),
			)
		}
	}
}
