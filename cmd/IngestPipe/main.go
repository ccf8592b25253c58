package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/OmniRelay/IngestPipe/internal/api"
	"github.com/OmniRelay/IngestPipe/internal/ingest"
	"github.com/OmniRelay/IngestPipe/internal/lockfile"
	"github.com/OmniRelay/IngestPipe/internal/scheduler"
	"github.com/OmniRelay/IngestPipe/internal/store"
	"github.com/OmniRelay/IngestPipe/internal/trigger"
	"github.com/OmniRelay/IngestPipe/internal/util"
	"github.com/joho/godotenv"
)

// Default configuration constants
const (
	// DefaultStateDir is the default directory for IngestPipe state data
	DefaultStateDir = "/var/lib/ingestpipe"
	// DefaultDBFileName is the default SQLite database filename
	DefaultDBFileName = "ingestpipe.db"
	// DefaultAPIAddr is the default listen address for the ingestion API
	DefaultAPIAddr = ":8080"
	// DefaultJobPollInterval is the default polling interval for the job runner
	DefaultJobPollInterval = 10 * time.Second
)

// Config holds environment configuration
type Config struct {
	DatabaseURL     string
	StateDir        string
	APIAddr         string
	APIToken        string
	HashBucketWidth time.Duration
	RetryAttempts   int
	RetryDelay      time.Duration
	JobPollInterval time.Duration
	Debug           bool
}

func main() {
	config := loadEnvironmentConfig()
	initializeLogger(config.Debug)

	stateDir := flag.String("state-dir", config.StateDir, "state directory for IngestPipe data (overrides $INGESTPIPE_STATE_DIR)")
	dbDSN := flag.String("db-dsn", config.DatabaseURL, "database DSN; a postgres:// URL selects Postgres, otherwise SQLite (overrides $DATABASE_URL)")
	apiAddr := flag.String("api-addr", config.APIAddr, "API server address (overrides $API_ADDR)")
	flag.Parse()

	// SQLite deployments must not share a state directory between instances.
	if !isPostgresDSN(*dbDSN) {
		lock, err := lockfile.AcquireLock(*stateDir)
		if err != nil {
			slog.Error("Failed to lock state directory", "error", err)
			os.Exit(1)
		}
		defer lock.Release()
	}

	st, err := openStore(*stateDir, *dbDSN)
	if err != nil {
		slog.Error("Failed to open store", "error", err)
		os.Exit(1)
	}
	defer st.Close()

	// The store handle is created once here and injected everywhere; no
	// module-level cached connection.
	trig := trigger.NewJobQueueTrigger(st)
	pipeline := ingest.NewPipeline(st, trig,
		ingest.WithKeyResolver(ingest.KeyResolver{BucketWidth: config.HashBucketWidth}),
		ingest.WithRetryPolicy(ingest.RetryPolicy{
			MaxAttempts:  config.RetryAttempts,
			InitialDelay: config.RetryDelay,
			Jitter:       true,
		}),
	)

	runner := store.NewJobRunner(st, config.JobPollInterval)
	// Categorization workers register here. The default handler only logs;
	// deployments plug in their classifier.
	runner.RegisterHandler(trigger.JobKindCategorizeMessage, func(ctx context.Context, payload string) error {
		slog.Info("categorize_message job claimed", "payload", payload)
		return nil
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := runner.RecoverStaleJobs(ctx); err != nil {
		slog.Error("Failed to recover stale jobs", "error", err)
		os.Exit(1)
	}
	go runner.Run(ctx)

	// Periodic sweep for jobs orphaned by a crashed worker mid-run.
	sched := scheduler.NewScheduler()
	defer sched.Stop()
	if err := sched.AddJob("*/5 * * * *", func() {
		if err := runner.RecoverStaleJobs(ctx); err != nil {
			slog.Error("Stale job sweep failed", "error", err)
		}
	}); err != nil {
		slog.Error("Failed to schedule stale job sweep", "error", err)
		os.Exit(1)
	}

	server := api.NewServer(pipeline, config.APIToken, 0)
	httpServer := &http.Server{Addr: *apiAddr, Handler: server.Handler()}

	go func() {
		slog.Info("IngestPipe API listening", "addr", *apiAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("API server failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	slog.Info("Shutting down IngestPipe")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("API server shutdown failed", "error", err)
	}
	slog.Info("IngestPipe exited successfully")
}

// initializeLogger sets up structured logging.
func initializeLogger(debug bool) {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
}

// loadEnvironmentConfig loads configuration from environment variables and .env file.
func loadEnvironmentConfig() Config {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	}

	config := Config{
		DatabaseURL:     os.Getenv("DATABASE_URL"),
		StateDir:        os.Getenv("INGESTPIPE_STATE_DIR"),
		APIAddr:         os.Getenv("API_ADDR"),
		APIToken:        os.Getenv("API_TOKEN"),
		HashBucketWidth: util.ParseDurationEnv("HASH_BUCKET_WIDTH", ingest.DefaultHashBucketWidth),
		RetryAttempts:   util.ParseIntEnv("STORAGE_RETRY_ATTEMPTS", ingest.DefaultMaxAttempts),
		RetryDelay:      util.ParseDurationEnv("STORAGE_RETRY_DELAY", ingest.DefaultInitialDelay),
		JobPollInterval: util.ParseDurationEnv("JOB_POLL_INTERVAL", DefaultJobPollInterval),
		Debug:           util.ParseBoolEnv("INGESTPIPE_DEBUG", false),
	}

	if config.StateDir == "" {
		config.StateDir = DefaultStateDir
	}
	if config.APIAddr == "" {
		config.APIAddr = DefaultAPIAddr
	}

	slog.Debug("environment variables loaded",
		"DATABASE_URL_SET", config.DatabaseURL != "",
		"INGESTPIPE_STATE_DIR", config.StateDir,
		"API_ADDR", config.APIAddr,
		"API_TOKEN_SET", config.APIToken != "",
		"HASH_BUCKET_WIDTH", config.HashBucketWidth,
		"STORAGE_RETRY_ATTEMPTS", config.RetryAttempts,
		"JOB_POLL_INTERVAL", config.JobPollInterval)

	return config
}

func isPostgresDSN(dsn string) bool {
	return strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://")
}

// openStore selects the storage backend from the DSN: Postgres URLs open the
// Postgres store, anything else is treated as a SQLite file path.
func openStore(stateDir, dsn string) (store.Store, error) {
	if isPostgresDSN(dsn) {
		slog.Info("Using Postgres store")
		return store.NewPostgresStore(store.WithDSN(dsn))
	}
	if dsn == "" {
		dsn = filepath.Join(stateDir, DefaultDBFileName)
		slog.Info("No database DSN provided, defaulting to SQLite", "path", dsn)
	} else {
		slog.Info("Using SQLite store", "path", dsn)
	}
	return store.NewSQLiteStore(store.WithDSN(dsn))
}
