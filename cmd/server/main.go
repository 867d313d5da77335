package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/rewriteguard/rewriteguard/internal/api"
	"github.com/rewriteguard/rewriteguard/internal/app"
	"github.com/rewriteguard/rewriteguard/internal/app/maintenance"
	"github.com/rewriteguard/rewriteguard/internal/cache"
	"github.com/rewriteguard/rewriteguard/internal/database"
	"github.com/rewriteguard/rewriteguard/internal/gateway"
	"github.com/rewriteguard/rewriteguard/internal/inference"
	"github.com/rewriteguard/rewriteguard/internal/middleware"
	"github.com/rewriteguard/rewriteguard/internal/monitoring"
	"github.com/rewriteguard/rewriteguard/internal/quota"
	"github.com/rewriteguard/rewriteguard/internal/services"
	"github.com/rewriteguard/rewriteguard/pkg/logger"
)

const shutdownTimeout = 15 * time.Second

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	defer stop()

	if err := run(ctx, os.Args[1:]); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("rewriteguard-server", flag.ContinueOnError)
	fs.SetOutput(os.Stdout)

	var configPath string
	fs.StringVar(&configPath, "config", "", "Path to configuration directory or file")

	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := loadApplicationConfig(configPath)
	if err != nil {
		return err
	}

	if err := app.ConfigureLogging(cfg.Server.LogLevel); err != nil {
		return fmt.Errorf("configure logging: %w", err)
	}
	defer logger.Sync() // best effort

	log := logger.WithModule("bootstrap")

	db, err := initialiseDatabase(cfg)
	if err != nil {
		return err
	}
	defer closeDatabase(db, log)

	dbStore := cache.NewDatabaseStore(db)

	var cacheBackend cache.Store = dbStore
	var redisClient *cache.RedisClient
	if cfg.Cache.Redis.Enabled {
		client, redisErr := cache.NewRedisClient(cache.RedisConfig{
			Address:  cfg.Cache.Redis.Address,
			Username: cfg.Cache.Redis.Username,
			Password: cfg.Cache.Redis.Password,
			DB:       cfg.Cache.Redis.DB,
			TLS:      cfg.Cache.Redis.TLS,
			Timeout:  cfg.Cache.Redis.Timeout,
		})
		if redisErr != nil {
			log.Warn("redis unavailable; falling back to database-backed cache", zap.Error(redisErr))
		} else {
			redisClient = client
			cacheBackend = client
			log.Info("redis connected", zap.String("addr", cfg.Cache.Redis.Address))
		}
	}
	defer func() {
		if redisClient != nil {
			_ = redisClient.Close()
		}
	}()

	results := cache.NewResultStore(cacheBackend, cfg.Cache.TTL, 0)

	ledger, err := quota.NewLedger(db)
	if err != nil {
		return fmt.Errorf("initialise quota ledger: %w", err)
	}

	userSvc, err := services.NewUserService(db)
	if err != nil {
		return fmt.Errorf("initialise user service: %w", err)
	}

	jobSvc, err := services.NewJobService(db)
	if err != nil {
		return fmt.Errorf("initialise job service: %w", err)
	}

	engine, err := buildEngine(cfg, log)
	if err != nil {
		return err
	}

	monitor := monitoring.NewAggregator()

	gw, err := gateway.New(ledger, results, engine, jobSvc, monitor,
		gateway.WithTimeouts(cfg.Inference.DetectTimeout, cfg.Inference.ParaphraseTimeout))
	if err != nil {
		return fmt.Errorf("initialise gateway: %w", err)
	}

	if cfg.Maintenance.Enabled {
		// Redis expires its own keys; only the SQL store needs sweeping.
		var sweepTarget *cache.DatabaseStore
		if redisClient == nil {
			sweepTarget = dbStore
		}
		cleaner := maintenance.NewCleaner(db, sweepTarget,
			maintenance.WithCacheSchedule(cfg.Maintenance.CacheSweepSpec),
			maintenance.WithJobSchedule(cfg.Maintenance.JobSweepSpec),
			maintenance.WithJobRetentionDays(cfg.Maintenance.JobRetentionDays),
		)
		if err := cleaner.Start(); err != nil {
			return fmt.Errorf("start maintenance jobs: %w", err)
		}
		defer func() {
			stopCtx := cleaner.Stop()
			if err := cleaner.RunOnce(stopCtx); err != nil {
				log.Warn("maintenance shutdown cleanup failed", zap.Error(err))
			}
		}()
	}

	rateStore := middleware.NewStoreRateStore(cacheBackend)

	router, err := api.NewRouter(api.Deps{
		DB:        db,
		Config:    cfg,
		Gateway:   gw,
		Ledger:    ledger,
		Users:     userSvc,
		Jobs:      jobSvc,
		Monitor:   monitor,
		RateStore: rateStore,
	})
	if err != nil {
		return fmt.Errorf("build api router: %w", err)
	}

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Info("server listening", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received")
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("graceful shutdown: %w", err)
	}

	if err, ok := <-serverErr; ok && err != nil {
		return fmt.Errorf("server error: %w", err)
	}

	log.Info("server stopped gracefully")
	return nil
}

func loadApplicationConfig(path string) (*app.Config, error) {
	switch {
	case strings.TrimSpace(path) == "":
		return app.LoadConfig()
	default:
		info, err := os.Stat(path)
		if err == nil {
			if info.IsDir() {
				return app.LoadConfig(path)
			}
			return app.LoadConfig(filepath.Dir(path))
		}
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("config path %q does not exist", path)
		}
		return nil, fmt.Errorf("stat config path: %w", err)
	}
}

func buildEngine(cfg *app.Config, log *zap.Logger) (inference.Engine, error) {
	sidecar := strings.TrimSpace(cfg.Inference.SidecarURL)
	if sidecar == "" {
		log.Info("no sidecar configured; using in-process heuristic engine")
		return inference.NewLocalEngine(), nil
	}

	// Client timeout sits above the longest per-operation deadline so the
	// gateway's context, not the transport, decides timeouts.
	clientTimeout := cfg.Inference.ParaphraseTimeout * 2
	engine, err := inference.NewHTTPEngine(sidecar, clientTimeout)
	if err != nil {
		return nil, fmt.Errorf("initialise inference engine: %w", err)
	}
	log.Info("using model sidecar", zap.String("url", sidecar))
	return engine, nil
}

func initialiseDatabase(cfg *app.Config) (*gorm.DB, error) {
	dbCfg := convertDatabaseConfig(cfg)
	db, err := database.Open(dbCfg)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := database.AutoMigrateAndSeed(db); err != nil {
		return nil, fmt.Errorf("auto-migrate database: %w", err)
	}

	log := logger.WithModule("database")
	log.Info("database connected", zap.String("driver", strings.ToLower(strings.TrimSpace(dbCfg.Driver))))

	return db, nil
}

func convertDatabaseConfig(cfg *app.Config) database.Config {
	dbCfg := database.Config{
		Driver: strings.ToLower(strings.TrimSpace(cfg.Database.Driver)),
		Path:   strings.TrimSpace(cfg.Database.Path),
		DSN:    strings.TrimSpace(cfg.Database.DSN),
	}

	switch dbCfg.Driver {
	case "", "sqlite":
		dbCfg.Driver = "sqlite"
	case "postgres", "postgresql":
		dbCfg.Driver = "postgres"
		dbCfg.Host = strings.TrimSpace(cfg.Database.Postgres.Host)
		dbCfg.Port = cfg.Database.Postgres.Port
		dbCfg.Name = strings.TrimSpace(cfg.Database.Postgres.Database)
		dbCfg.User = strings.TrimSpace(cfg.Database.Postgres.Username)
		dbCfg.Password = cfg.Database.Postgres.Password
	case "mysql":
		dbCfg.Host = strings.TrimSpace(cfg.Database.MySQL.Host)
		dbCfg.Port = cfg.Database.MySQL.Port
		dbCfg.Name = strings.TrimSpace(cfg.Database.MySQL.Database)
		dbCfg.User = strings.TrimSpace(cfg.Database.MySQL.Username)
		dbCfg.Password = cfg.Database.MySQL.Password
	}

	return dbCfg
}

func closeDatabase(db *gorm.DB, log *zap.Logger) {
	if db == nil {
		return
	}
	sqlDB, err := db.DB()
	if err != nil {
		log.Warn("failed to access database handle for shutdown", zap.Error(err))
		return
	}
	if err := sqlDB.Close(); err != nil {
		log.Warn("failed to close database", zap.Error(err))
	}
}
