package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/BTreeMap/LifeStation/internal/api"
	"github.com/BTreeMap/LifeStation/internal/dialog"
	"github.com/BTreeMap/LifeStation/internal/lockfile"
	"github.com/BTreeMap/LifeStation/internal/menu"
	"github.com/BTreeMap/LifeStation/internal/messaging"
	"github.com/BTreeMap/LifeStation/internal/observability"
	"github.com/BTreeMap/LifeStation/internal/scheduler"
	"github.com/BTreeMap/LifeStation/internal/secrets"
	"github.com/BTreeMap/LifeStation/internal/session"
	"github.com/BTreeMap/LifeStation/internal/store"
	"github.com/BTreeMap/LifeStation/internal/timer"
	"github.com/BTreeMap/LifeStation/internal/util"
	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"
)

// Default configuration constants
const (
	// DefaultStateDir is the default directory for LifeStation state data
	DefaultStateDir = "/var/lib/lifestation"
	// DefaultDBFileName is the default SQLite database filename
	DefaultDBFileName = "lifestation.db"
	// DefaultSweepCron is how often idle sessions are evicted
	DefaultSweepCron = "*/5 * * * *"
	// DefaultPruneCron is how often old inbound event ids are forgotten
	DefaultPruneCron = "@hourly"
	// DefaultIdleTTL is how long an untouched session is kept
	DefaultIdleTTL = 30 * time.Minute
	// DefaultInboundRetention is how long inbound event ids are remembered for deduplication
	DefaultInboundRetention = 24 * time.Hour
	// DefaultRatePerSecond and DefaultRateBurst bound each user's event rate
	DefaultRatePerSecond = 5.0
	DefaultRateBurst     = 10
	// MetricsNamespace prefixes every exported metric
	MetricsNamespace = "lifestation"

	shutdownTimeout = 10 * time.Second
)

func main() {
	// Start at info level; the configured level is applied once flags are parsed
	initializeLogger(slog.LevelInfo)

	config := loadEnvironmentConfig()

	flags, err := parseCommandLineFlags(flag.CommandLine, os.Args[1:], config)
	if err != nil {
		slog.Error("Failed to parse flags", "error", err)
		os.Exit(2)
	}
	initializeLogger(parseLogLevel(*flags.logLevel))

	if err := ensureDirectoriesExist(flags); err != nil {
		slog.Error("Failed to create required directories", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	slog.Info("Bootstrapping LifeStation with configured modules")
	slog.Debug("Final configuration",
		"state_dir", *flags.stateDir,
		"dsn_type", store.DetectDSNType(*flags.dbDSN),
		"api_addr", *flags.apiAddr,
		"console", *flags.console)
	if err := run(ctx, flags); err != nil {
		slog.Error("LifeStation failed to run", "error", err)
		os.Exit(1)
	}
	slog.Info("LifeStation exited successfully")
}

// Config holds environment configuration
type Config struct {
	BotToken          string
	BotTokenParameter string
	StateDir          string
	DatabaseURL       string
	RedisPrefix       string
	APIAddr           string
	MenuConfig        string
	SweepCron         string
	PruneCron         string
	IdleTTL           time.Duration
	InboundRetention  time.Duration
	RatePerSecond     float64
	RateBurst         int
	TraceExporter     string
	LogLevel          string
	Console           bool
}

// Flags holds command line flag values
type Flags struct {
	botToken          *string
	botTokenParameter *string
	stateDir          *string
	dbDSN             *string
	redisPrefix       *string
	apiAddr           *string
	menuConfig        *string
	sweepCron         *string
	pruneCron         *string
	idleTTL           *time.Duration
	inboundRetention  *time.Duration
	ratePerSecond     *float64
	rateBurst         *int
	traceExporter     *string
	logLevel          *string
	console           *bool
}

// initializeLogger sets up structured logging at the given level
func initializeLogger(level slog.Level) {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
}

// parseLogLevel maps debug|info|warn|error to a slog level; anything else is info.
func parseLogLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
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

// loadEnvironmentConfig loads configuration from environment variables and .env file
func loadEnvironmentConfig() Config {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	} else {
		slog.Debug("successfully loaded .env file")
	}

	config := Config{
		BotToken:          os.Getenv("BOT_TOKEN"),
		BotTokenParameter: os.Getenv("BOT_TOKEN_SSM_PARAMETER"),
		StateDir:          os.Getenv("LIFESTATION_STATE_DIR"),
		DatabaseURL:       os.Getenv("DATABASE_URL"),
		RedisPrefix:       os.Getenv("REDIS_KEY_PREFIX"),
		APIAddr:           os.Getenv("API_ADDR"),
		MenuConfig:        os.Getenv("MENU_CONFIG"),
		SweepCron:         os.Getenv("SESSION_SWEEP_CRON"),
		PruneCron:         os.Getenv("INBOUND_PRUNE_CRON"),
		IdleTTL:           util.ParseDurationEnv("SESSION_IDLE_TTL", DefaultIdleTTL),
		InboundRetention:  util.ParseDurationEnv("INBOUND_RETENTION", DefaultInboundRetention),
		RatePerSecond:     util.ParseFloatEnv("RATE_LIMIT_PER_SECOND", DefaultRatePerSecond),
		RateBurst:         util.ParseIntEnv("RATE_LIMIT_BURST", DefaultRateBurst),
		TraceExporter:     os.Getenv("OTEL_TRACES_EXPORTER"),
		LogLevel:          os.Getenv("LOG_LEVEL"),
		Console:           util.ParseBoolEnv("CONSOLE", false),
	}

	if config.StateDir == "" {
		config.StateDir = DefaultStateDir
		slog.Debug("No LIFESTATION_STATE_DIR set, using default", "default_state_dir", config.StateDir)
	}
	if config.DatabaseURL == "" {
		config.DatabaseURL = filepath.Join(config.StateDir, DefaultDBFileName)
		slog.Debug("No database DSN provided, defaulting to SQLite", "sqlite_path", config.DatabaseURL)
	}
	if config.APIAddr == "" {
		config.APIAddr = api.DefaultAddr
	}
	if config.SweepCron == "" {
		config.SweepCron = DefaultSweepCron
	}
	if config.PruneCron == "" {
		config.PruneCron = DefaultPruneCron
	}
	if config.TraceExporter == "" {
		config.TraceExporter = observability.ExporterNone
	}
	if config.LogLevel == "" {
		config.LogLevel = "info"
	}

	slog.Debug("environment variables loaded",
		"BOT_TOKEN_SET", config.BotToken != "",
		"BOT_TOKEN_SSM_PARAMETER", config.BotTokenParameter,
		"LIFESTATION_STATE_DIR", config.StateDir,
		"DATABASE_URL_SET", os.Getenv("DATABASE_URL") != "",
		"API_ADDR", config.APIAddr,
		"MENU_CONFIG", config.MenuConfig,
		"SESSION_SWEEP_CRON", config.SweepCron,
		"SESSION_IDLE_TTL", config.IdleTTL,
		"OTEL_TRACES_EXPORTER", config.TraceExporter,
		"CONSOLE", config.Console)

	return config
}

// parseCommandLineFlags parses command line arguments with environment defaults
func parseCommandLineFlags(fs *flag.FlagSet, args []string, config Config) (Flags, error) {
	flags := Flags{
		botToken:          fs.String("bot-token", config.BotToken, "gateway credential (overrides $BOT_TOKEN)"),
		botTokenParameter: fs.String("bot-token-ssm-parameter", config.BotTokenParameter, "SSM parameter holding the credential when no token is given (overrides $BOT_TOKEN_SSM_PARAMETER)"),
		stateDir:          fs.String("state-dir", config.StateDir, "state directory for LifeStation data (overrides $LIFESTATION_STATE_DIR)"),
		dbDSN:             fs.String("db-dsn", config.DatabaseURL, "record store DSN: SQLite path, postgres://, redis://, dynamodb://<table> or memory: (overrides $DATABASE_URL)"),
		redisPrefix:       fs.String("redis-prefix", config.RedisPrefix, "key prefix for the Redis record store (overrides $REDIS_KEY_PREFIX)"),
		apiAddr:           fs.String("api-addr", config.APIAddr, "API server address (overrides $API_ADDR)"),
		menuConfig:        fs.String("menu-config", config.MenuConfig, "YAML menu catalog replacing the built-in one (overrides $MENU_CONFIG)"),
		sweepCron:         fs.String("session-sweep-cron", config.SweepCron, "cron schedule for idle session eviction (overrides $SESSION_SWEEP_CRON)"),
		pruneCron:         fs.String("inbound-prune-cron", config.PruneCron, "cron schedule for forgetting old inbound event ids (overrides $INBOUND_PRUNE_CRON)"),
		idleTTL:           fs.Duration("session-idle-ttl", config.IdleTTL, "evict sessions idle longer than this (overrides $SESSION_IDLE_TTL)"),
		inboundRetention:  fs.Duration("inbound-retention", config.InboundRetention, "how long inbound event ids are remembered (overrides $INBOUND_RETENTION)"),
		ratePerSecond:     fs.Float64("rate-limit", config.RatePerSecond, "events per second allowed per user, 0 disables (overrides $RATE_LIMIT_PER_SECOND)"),
		rateBurst:         fs.Int("rate-burst", config.RateBurst, "per-user burst size (overrides $RATE_LIMIT_BURST)"),
		traceExporter:     fs.String("trace-exporter", config.TraceExporter, "trace exporter: none or stdout (overrides $OTEL_TRACES_EXPORTER)"),
		logLevel:          fs.String("log-level", config.LogLevel, "debug, info, warn or error (overrides $LOG_LEVEL)"),
		console:           fs.Bool("console", config.Console, "run the interactive console transport (overrides $CONSOLE)"),
	}

	if err := fs.Parse(args); err != nil {
		return Flags{}, err
	}

	slog.Debug("flags parsed",
		"stateDir", *flags.stateDir,
		"dbDSN_set", *flags.dbDSN != "",
		"apiAddr", *flags.apiAddr,
		"menuConfig", *flags.menuConfig,
		"console", *flags.console)

	// Follow a moved state directory when the DSN was only the default SQLite file
	if *flags.dbDSN == config.DatabaseURL && config.DatabaseURL == filepath.Join(config.StateDir, DefaultDBFileName) && *flags.stateDir != config.StateDir {
		*flags.dbDSN = filepath.Join(*flags.stateDir, DefaultDBFileName)
		slog.Debug("Updated dbDSN based on state directory", "old_state_dir", config.StateDir, "new_state_dir", *flags.stateDir)
	}

	return flags, nil
}

// ensureDirectoriesExist creates necessary directories for file-based storage
func ensureDirectoriesExist(flags Flags) error {
	if !store.IsFileBacked(*flags.dbDSN) {
		return nil
	}
	dir := filepath.Dir(*flags.dbDSN)
	slog.Debug("Creating directory for file-based database", "dir", dir)
	if err := os.MkdirAll(dir, 0755); err != nil {
		slog.Error("Failed to create database directory", "error", err, "dir", dir)
		return err
	}
	return nil
}

// buildStoreOptions constructs store configuration options
func buildStoreOptions(flags Flags) []store.Option {
	storeOpts := []store.Option{
		store.WithDSN(*flags.dbDSN),
		store.WithDedupTTL(*flags.inboundRetention),
	}
	if *flags.redisPrefix != "" {
		storeOpts = append(storeOpts, store.WithRedisPrefix(*flags.redisPrefix))
	}
	return storeOpts
}

// buildRouterOptions constructs dialog router options
func buildRouterOptions(flags Flags, metrics *observability.Metrics) []dialog.RouterOption {
	return []dialog.RouterOption{
		dialog.WithMetrics(metrics),
		dialog.WithTracer(observability.Tracer()),
		dialog.WithRateLimit(*flags.ratePerSecond, *flags.rateBurst),
	}
}

// buildAPIOptions constructs API server configuration options
func buildAPIOptions(flags Flags, token string, records store.RecordStore, metrics *observability.Metrics) []api.Option {
	apiOpts := []api.Option{
		api.WithAddr(*flags.apiAddr),
		api.WithToken(token),
		api.WithMetrics(metrics),
	}
	if d, ok := records.(store.Deduper); ok {
		apiOpts = append(apiOpts, api.WithDeduper(d))
	}
	return apiOpts
}

// loadMenuConfig reads the catalog at path, or the built-in one when path is empty.
func loadMenuConfig(path string) (*menu.Config, error) {
	if strings.TrimSpace(path) == "" {
		return menu.DefaultConfig()
	}
	slog.Info("Loading menu catalog", "path", path)
	return menu.LoadConfig(path)
}

// resolveBotToken returns the configured credential. SSM is only contacted when no token was given.
func resolveBotToken(ctx context.Context, flags Flags) (string, error) {
	var getter secrets.Getter
	if strings.TrimSpace(*flags.botToken) == "" && strings.TrimSpace(*flags.botTokenParameter) != "" {
		ps, err := secrets.NewParamStoreFromEnv(ctx)
		if err != nil {
			return "", err
		}
		getter = ps
	}
	return secrets.ResolveToken(ctx, *flags.botToken, *flags.botTokenParameter, getter)
}

// buildScheduler registers the maintenance jobs.
func buildScheduler(flags Flags, sweeper scheduler.Sweeper, records store.RecordStore) (*scheduler.Scheduler, error) {
	sched := scheduler.NewScheduler()
	if _, err := sched.AddJob("session-sweep", *flags.sweepCron, scheduler.SessionSweepJob(sweeper, *flags.idleTTL)); err != nil {
		return nil, err
	}
	if p, ok := records.(store.Pruner); ok {
		if _, err := sched.AddJob("inbound-prune", *flags.pruneCron, scheduler.InboundPruneJob(p, *flags.inboundRetention)); err != nil {
			return nil, err
		}
	}
	return sched, nil
}

// run wires every module and blocks until ctx is cancelled or a component fails.
func run(ctx context.Context, flags Flags) error {
	token, err := resolveBotToken(ctx, flags)
	if err != nil {
		return fmt.Errorf("failed to resolve bot credential: %w", err)
	}

	catalog, err := loadMenuConfig(*flags.menuConfig)
	if err != nil {
		return fmt.Errorf("failed to load menu catalog: %w", err)
	}
	graph, err := menu.NewGraph(catalog)
	if err != nil {
		return fmt.Errorf("failed to build menu graph: %w", err)
	}
	selector, err := catalog.Selector()
	if err != nil {
		return fmt.Errorf("failed to build content selector: %w", err)
	}

	if store.IsFileBacked(*flags.dbDSN) {
		lock, err := lockfile.AcquireLock(*flags.stateDir)
		if err != nil {
			return err
		}
		defer lock.Release()
	}

	records, err := store.Open(ctx, buildStoreOptions(flags)...)
	if err != nil {
		return fmt.Errorf("failed to open record store: %w", err)
	}
	defer func() {
		if err := records.Close(); err != nil {
			slog.Error("Failed to close record store", "error", err)
		}
	}()

	shutdownTracing, err := observability.InitTracing(observability.TracingConfig{ExporterType: *flags.traceExporter})
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := shutdownTracing(sctx); err != nil {
			slog.Warn("Tracing shutdown failed", "error", err)
		}
	}()

	metrics := observability.NewMetrics(MetricsNamespace)
	sessions := session.NewStore()
	timers := timer.NewEngine(sessions, timer.SystemClock{})
	router := dialog.NewRouter(graph, selector, sessions, timers, records, buildRouterOptions(flags, metrics)...)
	dispatcher := dialog.NewDispatcher(router, metrics)
	server := api.NewServer(dispatcher, graph, buildAPIOptions(flags, token, records, metrics)...)

	sched, err := buildScheduler(flags, router, records)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return server.Run(gctx)
	})

	if *flags.console {
		console := messaging.NewConsoleService()
		if err := console.Start(gctx); err != nil {
			cancel()
			_ = g.Wait()
			return fmt.Errorf("failed to start console: %w", err)
		}
		g.Go(func() error {
			defer console.Stop()
			err := messaging.NewEventLoop(console, dispatcher).Run(gctx)
			// Leaving the console ends the process
			cancel()
			return err
		})
	}

	sched.Start()
	slog.Info("LifeStation started", "api_addr", *flags.apiAddr, "jobs", sched.Len())

	runErr := g.Wait()

	slog.Info("Shutting down LifeStation")
	stopCtx, stopCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer stopCancel()
	if err := sched.Stop(stopCtx); err != nil {
		slog.Warn("Scheduler did not stop in time", "error", err)
	}
	dispatcher.Close()

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return runErr
	}
	return nil
}
