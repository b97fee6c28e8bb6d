// Command worker runs the pipeline consumers without the HTTP ingress.
// Use it to scale dispatch throughput horizontally; every instance joins
// the same consumer group, so records are spread across instances.
// Singleton duties (the pending-entry reclaimer) stay with notifyd.
package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/ikbalhussain-1/notification-service/internal/analytics"
	"github.com/ikbalhussain-1/notification-service/internal/channels"
	"github.com/ikbalhussain-1/notification-service/internal/circuitbreaker"
	"github.com/ikbalhussain-1/notification-service/internal/config"
	"github.com/ikbalhussain-1/notification-service/internal/dispatcher"
	"github.com/ikbalhussain-1/notification-service/internal/dlq"
	"github.com/ikbalhussain-1/notification-service/internal/logging"
	"github.com/ikbalhussain-1/notification-service/internal/retry"
	"github.com/ikbalhussain-1/notification-service/internal/store/postgres"
	"github.com/ikbalhussain-1/notification-service/internal/stream"

	_ "github.com/lib/pq"
)

func main() {
	cfg := config.Load()

	if err := config.Validate(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(2)
	}

	logger := logging.New(cfg.LogLevel, cfg.LogFormat).With().Str("binary", "worker").Logger()

	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open database")
	}
	defer db.Close()

	db.SetMaxOpenConns(cfg.DBMaxOpenConns)
	db.SetMaxIdleConns(cfg.DBMaxIdleConns)
	db.SetConnMaxLifetime(cfg.DBConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.DBConnMaxIdleTime)

	startCtx := context.Background()

	if err := db.PingContext(startCtx); err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	store := postgres.New(db)

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	defer redisClient.Close()

	if err := redisClient.Ping(startCtx).Err(); err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to redis")
	}

	topics := stream.TopicsFor(cfg.EnvPrefix)
	streams := stream.NewRedis(redisClient, cfg.ConsumerGroup, cfg.ConsumerName, logger)
	if err := streams.EnsureGroups(startCtx, topics.All()...); err != nil {
		logger.Fatal().Err(err).Msg("failed to create consumer groups")
	}

	adapters := buildAdapters(cfg, logger)
	deadLetters := dlq.NewPublisher(streams, topics, logger)

	breakers := circuitbreaker.NewRegistry(circuitbreaker.Config{
		FailureThreshold:         cfg.CircuitBreakerThreshold,
		ResetTimeout:             cfg.CircuitBreakerResetTimeout,
		HalfOpenSuccessThreshold: cfg.CircuitBreakerHalfOpenSuccesses,
	}, logger)

	worker := dispatcher.New(streams, streams, topics, adapters, deadLetters, logger).
		WithStore(store)
	scheduler := retry.NewScheduler(streams, streams, topics, adapters, breakers, deadLetters, logger).
		WithStore(store)
	archiver := dlq.NewArchiver(streams, topics, store, logger)

	if cfg.AnalyticsEnabled {
		counters := analytics.NewRedisSink(redisClient, cfg.EnvPrefix, logger).
			WithRetention(cfg.AnalyticsRetention)
		worker = worker.WithAnalytics(counters)
		scheduler = scheduler.WithAnalytics(counters)
	}

	ctx, cancel := context.WithCancel(context.Background())

	var wg sync.WaitGroup
	for name, run := range map[string]func(context.Context) error{
		"dispatcher": worker.Run,
		"scheduler":  scheduler.Run,
		"archiver":   archiver.Run,
	} {
		wg.Add(1)
		go func(name string, run func(context.Context) error) {
			defer wg.Done()
			if err := run(ctx); err != nil && ctx.Err() == nil {
				logger.Error().Err(err).Str("consumer", name).Msg("consumer stopped with error")
			}
		}(name, run)
	}

	logger.Info().
		Str("env_prefix", cfg.EnvPrefix).
		Str("group", cfg.ConsumerGroup).
		Str("consumer", cfg.ConsumerName).
		Msg("worker started")

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	received := <-sig

	logger.Info().Str("signal", received.String()).Msg("shutting down")

	cancel()
	wg.Wait()

	logger.Info().Msg("worker stopped")
}

// buildAdapters constructs one adapter per configured channel, same
// selection rules as notifyd.
func buildAdapters(cfg config.Config, logger zerolog.Logger) []channels.Adapter {
	adapters := []channels.Adapter{channels.NewWebhook(logger)}
	if cfg.SMTPHost != "" {
		adapters = append(adapters, channels.NewEmail(channels.SMTPConfig{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.SMTPUsername,
			Password: cfg.SMTPPassword,
			From:     cfg.SMTPFrom,
		}, logger))
	}
	if cfg.SlackToken != "" {
		adapters = append(adapters, channels.NewSlack(channels.SlackConfig{
			Token:          cfg.SlackToken,
			DefaultChannel: cfg.SlackDefaultChannel,
		}, logger))
	}
	if cfg.InternalEventsBaseURL != "" {
		adapters = append(adapters, channels.NewInternal(channels.InternalConfig{
			BaseURL: cfg.InternalEventsBaseURL,
			Token:   cfg.InternalEventsToken,
		}, logger))
	}
	return adapters
}
