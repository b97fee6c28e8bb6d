package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/ikbalhussain-1/notification-service/internal/admission"
	"github.com/ikbalhussain-1/notification-service/internal/analytics"
	"github.com/ikbalhussain-1/notification-service/internal/api"
	"github.com/ikbalhussain-1/notification-service/internal/channels"
	"github.com/ikbalhussain-1/notification-service/internal/circuitbreaker"
	"github.com/ikbalhussain-1/notification-service/internal/config"
	"github.com/ikbalhussain-1/notification-service/internal/dispatcher"
	"github.com/ikbalhussain-1/notification-service/internal/dlq"
	"github.com/ikbalhussain-1/notification-service/internal/idempotency"
	"github.com/ikbalhussain-1/notification-service/internal/leaderelection"
	"github.com/ikbalhussain-1/notification-service/internal/logging"
	"github.com/ikbalhussain-1/notification-service/internal/metrics"
	"github.com/ikbalhussain-1/notification-service/internal/reconciler"
	"github.com/ikbalhussain-1/notification-service/internal/retry"
	"github.com/ikbalhussain-1/notification-service/internal/store/postgres"
	"github.com/ikbalhussain-1/notification-service/internal/stream"

	_ "github.com/lib/pq"
)

// Build-time variables set via -ldflags
var (
	version = "dev"
	commit  = "unknown"
)

const (
	exitSuccess       = 0
	exitRuntimeError  = 1
	exitInvalidConfig = 2
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(exitRuntimeError)
	}

	cmd := os.Args[1]

	switch cmd {
	case "serve":
		os.Exit(runServe())
	case "validate":
		os.Exit(runValidate())
	case "config":
		os.Exit(runConfig())
	case "version":
		os.Exit(runVersion())
	case "--help", "-h", "help":
		printUsage()
		os.Exit(exitSuccess)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", cmd)
		printUsage()
		os.Exit(exitRuntimeError)
	}
}

func printUsage() {
	fmt.Println(`notifyd - asynchronous notification dispatcher

Usage:
  notifyd <command>

Commands:
  serve      Start the HTTP ingress and pipeline consumers
  validate   Validate configuration (no connections made)
  config     Print effective configuration as JSON (secrets masked)
  version    Print version information

Environment Variables:
  DATABASE_URL              PostgreSQL connection string (required)
  REDIS_ADDR                Redis address (default: "localhost:6379")
  HTTP_ADDR                 HTTP server address (default: ":8080")
  ENV_PREFIX                Stream and key namespace (default: "dev")
  CONSUMER_GROUP            Stream consumer group (default: "notify")
  CONSUMER_NAME             Stream consumer name (default: hostname)
  API_KEY                   Ingress API key; empty disables auth

  DB_MAX_OPEN_CONNS         Max open database connections (default: "25")
  DB_MAX_IDLE_CONNS         Max idle database connections (default: "5")
  DB_CONN_MAX_LIFETIME      Max connection lifetime (default: "30m")
  DB_CONN_MAX_IDLE_TIME     Max connection idle time (default: "5m")
  HTTP_SHUTDOWN_TIMEOUT     Graceful HTTP shutdown timeout (default: "10s")

  IDEMPOTENCY_TTL           Duplicate detection window (default: "24h")
  IDEMPOTENCY_FAIL_OPEN     Admit on Redis failure (default: "false")

  CIRCUIT_BREAKER_THRESHOLD              Failures before opening; 0 disables (default: "5")
  CIRCUIT_BREAKER_RESET_TIMEOUT          Open-to-half-open delay (default: "60s")
  CIRCUIT_BREAKER_HALF_OPEN_SUCCESSES    Successes to close (default: "2")

  METRICS_ENABLED           Enable Prometheus metrics (default: "false")
  METRICS_PATH              Metrics endpoint path (default: "/metrics")
  ANALYTICS_ENABLED         Enable Redis delivery counters (default: "false")
  ANALYTICS_RETENTION       Counter bucket TTL (default: "720h")

  RECLAIM_ENABLED           Enable pending-entry reclaimer (default: "false")
  RECLAIM_SCHEDULE          Reclaim cron schedule (default: "*/5 * * * *")
  RECLAIM_MIN_IDLE          Pending age before reclaim (default: "10m")
  RECLAIM_BATCH_SIZE        Max entries reclaimed per topic (default: "100")
  LEADER_LOCK_KEY           Advisory lock key (default: "728379")
  LEADER_RETRY_INTERVAL     Follower lock retry interval (default: "5s")
  LEADER_HEARTBEAT_INTERVAL Leader connection ping interval (default: "2s")

  LOG_LEVEL                 trace|debug|info|warn|error (default: "info")
  LOG_FORMAT                json|console (default: "json")

  SMTP_HOST / SMTP_PORT / SMTP_USERNAME / SMTP_PASSWORD / SMTP_FROM
  SLACK_TOKEN / SLACK_DEFAULT_CHANNEL
  INTERNAL_EVENTS_BASE_URL / INTERNAL_EVENTS_TOKEN`)
}

// redisPinger adapts a Redis client to the api.Pinger health check.
type redisPinger struct {
	client *redis.Client
}

func (p redisPinger) Ping(ctx context.Context) error {
	return p.client.Ping(ctx).Err()
}

// buildAdapters constructs one adapter per configured channel. The
// webhook channel needs no configuration; the others are enabled by
// their credentials being present.
func buildAdapters(cfg config.Config, log zerolog.Logger) []channels.Adapter {
	adapters := []channels.Adapter{channels.NewWebhook(log)}

	if cfg.SMTPHost != "" {
		adapters = append(adapters, channels.NewEmail(channels.SMTPConfig{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.SMTPUsername,
			Password: cfg.SMTPPassword,
			From:     cfg.SMTPFrom,
		}, log))
	} else {
		log.Warn().Msg("SMTP_HOST not set; email channel disabled")
	}

	if cfg.SlackToken != "" {
		adapters = append(adapters, channels.NewSlack(channels.SlackConfig{
			Token:          cfg.SlackToken,
			DefaultChannel: cfg.SlackDefaultChannel,
		}, log))
	} else {
		log.Warn().Msg("SLACK_TOKEN not set; slack channel disabled")
	}

	if cfg.InternalEventsBaseURL != "" {
		adapters = append(adapters, channels.NewInternal(channels.InternalConfig{
			BaseURL: cfg.InternalEventsBaseURL,
			Token:   cfg.InternalEventsToken,
		}, log))
	} else {
		log.Warn().Msg("INTERNAL_EVENTS_BASE_URL not set; internal channel disabled")
	}

	return adapters
}

func runServe() int {
	cfg := config.Load()

	if err := config.Validate(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		return exitInvalidConfig
	}

	logger := logging.New(cfg.LogLevel, cfg.LogFormat)

	// Connect to PostgreSQL
	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		logger.Error().Err(err).Msg("failed to open database")
		return exitRuntimeError
	}
	defer db.Close()

	db.SetMaxOpenConns(cfg.DBMaxOpenConns)
	db.SetMaxIdleConns(cfg.DBMaxIdleConns)
	db.SetConnMaxLifetime(cfg.DBConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.DBConnMaxIdleTime)

	logger.Info().
		Int("max_open", cfg.DBMaxOpenConns).
		Int("max_idle", cfg.DBMaxIdleConns).
		Dur("max_lifetime", cfg.DBConnMaxLifetime).
		Dur("max_idle_time", cfg.DBConnMaxIdleTime).
		Msg("db pool configured")

	startCtx := context.Background()

	if err := db.PingContext(startCtx); err != nil {
		logger.Error().Err(err).Msg("failed to connect to database")
		return exitRuntimeError
	}

	store := postgres.New(db)
	if err := store.EnsureSchema(startCtx); err != nil {
		logger.Error().Err(err).Msg("failed to ensure schema")
		return exitRuntimeError
	}

	// Connect to Redis
	redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	defer redisClient.Close()

	if err := redisClient.Ping(startCtx).Err(); err != nil {
		logger.Error().Err(err).Msg("failed to connect to redis")
		return exitRuntimeError
	}

	topics := stream.TopicsFor(cfg.EnvPrefix)
	streams := stream.NewRedis(redisClient, cfg.ConsumerGroup, cfg.ConsumerName, logger)
	if err := streams.EnsureGroups(startCtx, topics.All()...); err != nil {
		logger.Error().Err(err).Msg("failed to create consumer groups")
		return exitRuntimeError
	}

	// Metrics sink (optional)
	var sink metrics.Sink = metrics.NewNoopSink()
	var promHandler http.Handler

	if cfg.MetricsEnabled {
		registry := prometheus.NewRegistry()
		sink = metrics.NewPrometheusSink(registry, logger)
		promHandler = promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
		logger.Info().Str("path", cfg.MetricsPath).Msg("metrics enabled")
	} else {
		logger.Info().Msg("METRICS_ENABLED not set; metrics disabled")
	}

	// Admission
	gate := idempotency.New(idempotency.NewRedisStore(redisClient), cfg.EnvPrefix, cfg.IdempotencyFailOpen, logger).
		WithTTL(cfg.IdempotencyTTL)
	admitter := admission.New(gate, streams, topics, logger).WithMetrics(sink)

	// Pipeline
	adapters := buildAdapters(cfg, logger)
	deadLetters := dlq.NewPublisher(streams, topics, logger).WithMetrics(sink)

	breakers := circuitbreaker.NewRegistry(circuitbreaker.Config{
		FailureThreshold:         cfg.CircuitBreakerThreshold,
		ResetTimeout:             cfg.CircuitBreakerResetTimeout,
		HalfOpenSuccessThreshold: cfg.CircuitBreakerHalfOpenSuccesses,
	}, logger).WithStateChange(func(name string, state circuitbreaker.State) {
		sink.BreakerStateChanged(name, string(state))
	})

	worker := dispatcher.New(streams, streams, topics, adapters, deadLetters, logger).
		WithStore(store).
		WithMetrics(sink)
	scheduler := retry.NewScheduler(streams, streams, topics, adapters, breakers, deadLetters, logger).
		WithStore(store).
		WithMetrics(sink)
	archiver := dlq.NewArchiver(streams, topics, store, logger)

	if cfg.AnalyticsEnabled {
		counters := analytics.NewRedisSink(redisClient, cfg.EnvPrefix, logger).
			WithRetention(cfg.AnalyticsRetention)
		worker = worker.WithAnalytics(counters)
		scheduler = scheduler.WithAnalytics(counters)
		logger.Info().Msg("analytics enabled")
	} else {
		logger.Info().Msg("ANALYTICS_ENABLED not set; analytics disabled")
	}

	// HTTP ingress
	apiHandler := api.NewHandler(admitter, logger).
		WithStore(store).
		WithAPIKey(cfg.APIKey).
		WithPinger("postgres", store).
		WithPinger("redis", redisPinger{client: redisClient})

	mux := http.NewServeMux()
	if promHandler != nil {
		mux.Handle(cfg.MetricsPath, promHandler)
	}
	mux.Handle("/", apiHandler)

	httpServer := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: mux,
	}

	go func() {
		logger.Info().Str("addr", cfg.HTTPAddr).Msg("http server listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("http server error")
		}
	}()

	// Consumers get their own contexts so shutdown can be ordered:
	// ingress first, then the reclaimer, then the consumers drain.
	consumerCtx, cancelConsumers := context.WithCancel(context.Background())

	var consumerWg sync.WaitGroup
	for name, run := range map[string]func(context.Context) error{
		"dispatcher": worker.Run,
		"scheduler":  scheduler.Run,
		"archiver":   archiver.Run,
	} {
		consumerWg.Add(1)
		go func(name string, run func(context.Context) error) {
			defer consumerWg.Done()
			if err := run(consumerCtx); err != nil && consumerCtx.Err() == nil {
				logger.Error().Err(err).Str("consumer", name).Msg("consumer stopped with error")
			}
		}(name, run)
	}

	// Reclaimer runs on the elected leader only.
	var electionWg sync.WaitGroup
	var cancelElection context.CancelFunc

	if cfg.ReclaimEnabled {
		recon := reconciler.New(
			reconciler.Config{
				Schedule:  cfg.ReclaimSchedule,
				MinIdle:   cfg.ReclaimMinIdle,
				BatchSize: cfg.ReclaimBatchSize,
			},
			streams,
			map[string]stream.Handler{
				topics.Events: worker.Handle,
				topics.Retry:  scheduler.Handle,
				topics.DLQ:    archiver.Handle,
			},
			logger,
		).WithMetrics(sink)

		var reconWg sync.WaitGroup
		elector := leaderelection.New(
			db,
			cfg.LeaderLockKey,
			cfg.LeaderRetryInterval,
			cfg.LeaderHeartbeatInterval,
			func(leaderCtx context.Context) {
				reconWg.Add(1)
				defer reconWg.Done()
				recon.Run(leaderCtx)
			},
			reconWg.Wait,
			logger,
		)

		var electionCtx context.Context
		electionCtx, cancelElection = context.WithCancel(context.Background())
		electionWg.Add(1)
		go func() {
			defer electionWg.Done()
			elector.Run(electionCtx)
		}()
		logger.Info().
			Str("schedule", cfg.ReclaimSchedule).
			Dur("min_idle", cfg.ReclaimMinIdle).
			Int("batch", cfg.ReclaimBatchSize).
			Msg("reclaimer enabled")
	} else {
		logger.Info().Msg("RECLAIM_ENABLED not set; reclaimer disabled")
	}

	logger.Info().
		Str("version", version).
		Str("env_prefix", cfg.EnvPrefix).
		Str("group", cfg.ConsumerGroup).
		Str("consumer", cfg.ConsumerName).
		Msg("notifyd started")

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	received := <-sig

	logger.Info().Str("signal", received.String()).Msg("shutting down")

	// Phase 1: Stop HTTP ingress (no new notifications admitted)
	logger.Info().Msg("stopping http server")
	httpShutdownCtx, httpShutdownCancel := context.WithTimeout(context.Background(), cfg.HTTPShutdownTimeout)
	defer httpShutdownCancel()
	if err := httpServer.Shutdown(httpShutdownCtx); err != nil {
		logger.Error().Err(err).Msg("http server shutdown error")
	}
	logger.Info().Msg("http server stopped")

	// Phase 2: Stop leader election and the reclaimer (no new re-emits)
	if cancelElection != nil {
		logger.Info().Msg("stopping reclaimer")
		cancelElection()
		electionWg.Wait()
		logger.Info().Msg("reclaimer stopped")
	}

	// Phase 3: Stop consumers
	logger.Info().Msg("stopping consumers")
	cancelConsumers()
	consumerWg.Wait()
	logger.Info().Msg("consumers stopped")

	logger.Info().Msg("notifyd stopped")
	return exitSuccess
}

func runValidate() int {
	cfg := config.Load()

	if err := config.Validate(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return exitInvalidConfig
	}

	fmt.Println("configuration valid")
	return exitSuccess
}

func runConfig() int {
	cfg := config.Load()

	data, err := cfg.MaskedJSON()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to marshal config: %v\n", err)
		return exitRuntimeError
	}

	fmt.Println(string(data))
	return exitSuccess
}

func runVersion() int {
	fmt.Printf("notifyd version %s (commit: %s)\n", version, commit)
	return exitSuccess
}
