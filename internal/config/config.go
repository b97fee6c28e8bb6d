package config

import (
	"encoding/json"
	"log"
	"os"
	"time"
)

// Config holds all configuration for the notification service.
// Values are loaded from environment variables; see printUsage() for the full list.
type Config struct {
	DatabaseURL string `json:"database_url"`
	RedisAddr   string `json:"redis_addr"`
	HTTPAddr    string `json:"http_addr"`

	// EnvPrefix namespaces every stream and Redis key, so staging and
	// production can share a Redis instance.
	EnvPrefix string `json:"env_prefix"`

	ConsumerGroup string `json:"consumer_group"`
	ConsumerName  string `json:"consumer_name"`

	APIKey string `json:"api_key"`

	LogLevel  string `json:"log_level"`
	LogFormat string `json:"log_format"`

	DBMaxOpenConns       int           `json:"db_max_open_conns"`
	DBMaxIdleConns       int           `json:"db_max_idle_conns"`
	DBConnMaxLifetime    time.Duration `json:"-"`
	DBConnMaxLifetimeStr string        `json:"db_conn_max_lifetime"`
	DBConnMaxIdleTime    time.Duration `json:"-"`
	DBConnMaxIdleTimeStr string        `json:"db_conn_max_idle_time"`

	HTTPShutdownTimeout    time.Duration `json:"-"`
	HTTPShutdownTimeoutStr string        `json:"http_shutdown_timeout"`

	// IdempotencyFailOpen: when true, a Redis failure during the
	// duplicate check admits the notification instead of rejecting it.
	IdempotencyFailOpen bool          `json:"idempotency_fail_open"`
	IdempotencyTTL      time.Duration `json:"-"`
	IdempotencyTTLStr   string        `json:"idempotency_ttl"`

	// CircuitBreakerThreshold: 0 disables the circuit breaker.
	CircuitBreakerThreshold         int           `json:"circuit_breaker_threshold"`
	CircuitBreakerResetTimeout      time.Duration `json:"-"`
	CircuitBreakerResetTimeoutStr   string        `json:"circuit_breaker_reset_timeout"`
	CircuitBreakerHalfOpenSuccesses int           `json:"circuit_breaker_half_open_successes"`

	MetricsEnabled bool   `json:"metrics_enabled"`
	MetricsPath    string `json:"metrics_path"`

	AnalyticsEnabled      bool          `json:"analytics_enabled"`
	AnalyticsRetention    time.Duration `json:"-"`
	AnalyticsRetentionStr string        `json:"analytics_retention"`

	ReclaimEnabled    bool          `json:"reclaim_enabled"`
	ReclaimSchedule   string        `json:"reclaim_schedule"`
	ReclaimMinIdle    time.Duration `json:"-"`
	ReclaimMinIdleStr string        `json:"reclaim_min_idle"`
	ReclaimBatchSize  int           `json:"reclaim_batch_size"`

	// LeaderLockKey: all instances sharing the same database must use the same key.
	LeaderLockKey int64 `json:"leader_lock_key"`

	// LeaderRetryInterval determines the maximum failover gap.
	LeaderRetryInterval    time.Duration `json:"-"`
	LeaderRetryIntervalStr string        `json:"leader_retry_interval"`

	// LeaderHeartbeatInterval: pings the dedicated connection to detect local
	// connection death. Does NOT renew the advisory lock.
	LeaderHeartbeatInterval    time.Duration `json:"-"`
	LeaderHeartbeatIntervalStr string        `json:"leader_heartbeat_interval"`

	SMTPHost     string `json:"smtp_host"`
	SMTPPort     int    `json:"smtp_port"`
	SMTPUsername string `json:"smtp_username"`
	SMTPPassword string `json:"smtp_password"`
	SMTPFrom     string `json:"smtp_from"`

	SlackToken          string `json:"slack_token"`
	SlackDefaultChannel string `json:"slack_default_channel"`

	InternalEventsBaseURL string `json:"internal_events_base_url"`
	InternalEventsToken   string `json:"internal_events_token"`
}

// Load reads configuration from environment variables with defaults.
func Load() Config {
	cfg := Config{
		DatabaseURL:                os.Getenv("DATABASE_URL"),
		RedisAddr:                  os.Getenv("REDIS_ADDR"),
		HTTPAddr:                   os.Getenv("HTTP_ADDR"),
		EnvPrefix:                  os.Getenv("ENV_PREFIX"),
		ConsumerGroup:              os.Getenv("CONSUMER_GROUP"),
		ConsumerName:               os.Getenv("CONSUMER_NAME"),
		APIKey:                     os.Getenv("API_KEY"),
		LogLevel:                   os.Getenv("LOG_LEVEL"),
		LogFormat:                  os.Getenv("LOG_FORMAT"),
		DBConnMaxLifetimeStr:       os.Getenv("DB_CONN_MAX_LIFETIME"),
		DBConnMaxIdleTimeStr:       os.Getenv("DB_CONN_MAX_IDLE_TIME"),
		HTTPShutdownTimeoutStr:     os.Getenv("HTTP_SHUTDOWN_TIMEOUT"),
		IdempotencyFailOpen:        os.Getenv("IDEMPOTENCY_FAIL_OPEN") == "true",
		IdempotencyTTLStr:          os.Getenv("IDEMPOTENCY_TTL"),
		MetricsEnabled:             os.Getenv("METRICS_ENABLED") == "true",
		MetricsPath:                os.Getenv("METRICS_PATH"),
		AnalyticsEnabled:           os.Getenv("ANALYTICS_ENABLED") == "true",
		AnalyticsRetentionStr:      os.Getenv("ANALYTICS_RETENTION"),
		ReclaimEnabled:             os.Getenv("RECLAIM_ENABLED") == "true",
		ReclaimSchedule:            os.Getenv("RECLAIM_SCHEDULE"),
		ReclaimMinIdleStr:          os.Getenv("RECLAIM_MIN_IDLE"),
		LeaderRetryIntervalStr:     os.Getenv("LEADER_RETRY_INTERVAL"),
		LeaderHeartbeatIntervalStr: os.Getenv("LEADER_HEARTBEAT_INTERVAL"),
		SMTPHost:                   os.Getenv("SMTP_HOST"),
		SMTPUsername:               os.Getenv("SMTP_USERNAME"),
		SMTPPassword:               os.Getenv("SMTP_PASSWORD"),
		SMTPFrom:                   os.Getenv("SMTP_FROM"),
		SlackToken:                 os.Getenv("SLACK_TOKEN"),
		SlackDefaultChannel:        os.Getenv("SLACK_DEFAULT_CHANNEL"),
		InternalEventsBaseURL:      os.Getenv("INTERNAL_EVENTS_BASE_URL"),
		InternalEventsToken:        os.Getenv("INTERNAL_EVENTS_TOKEN"),
	}

	cfg.CircuitBreakerResetTimeoutStr = os.Getenv("CIRCUIT_BREAKER_RESET_TIMEOUT")

	if cfg.EnvPrefix == "" {
		cfg.EnvPrefix = "dev"
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.LogFormat == "" {
		cfg.LogFormat = "json"
	}
	if cfg.ConsumerGroup == "" {
		cfg.ConsumerGroup = "notify"
	}
	if cfg.ConsumerName == "" {
		if host, err := os.Hostname(); err == nil && host != "" {
			cfg.ConsumerName = host
		} else {
			cfg.ConsumerName = "notify-1"
		}
	}

	if portStr := os.Getenv("SMTP_PORT"); portStr != "" {
		if n, err := parseInt(portStr); err == nil && n > 0 {
			cfg.SMTPPort = n
		} else {
			log.Printf("config: invalid SMTP_PORT %q (must be a positive integer), using default 587", portStr)
		}
	}
	if cfg.SMTPPort == 0 {
		cfg.SMTPPort = 587
	}

	if cbThreshStr := os.Getenv("CIRCUIT_BREAKER_THRESHOLD"); cbThreshStr != "" {
		if n, err := parseInt(cbThreshStr); err == nil {
			cfg.CircuitBreakerThreshold = n
		} else {
			log.Printf("config: invalid CIRCUIT_BREAKER_THRESHOLD %q, using default 5", cbThreshStr)
		}
	}
	if cfg.CircuitBreakerThreshold == 0 && os.Getenv("CIRCUIT_BREAKER_THRESHOLD") == "" {
		cfg.CircuitBreakerThreshold = 5
	}

	if succStr := os.Getenv("CIRCUIT_BREAKER_HALF_OPEN_SUCCESSES"); succStr != "" {
		if n, err := parseInt(succStr); err == nil && n > 0 {
			cfg.CircuitBreakerHalfOpenSuccesses = n
		} else {
			log.Printf("config: invalid CIRCUIT_BREAKER_HALF_OPEN_SUCCESSES %q (must be a positive integer), using default 2", succStr)
		}
	}
	if cfg.CircuitBreakerHalfOpenSuccesses == 0 {
		cfg.CircuitBreakerHalfOpenSuccesses = 2
	}

	if batchStr := os.Getenv("RECLAIM_BATCH_SIZE"); batchStr != "" {
		if batch, err := parseInt(batchStr); err == nil && batch > 0 {
			cfg.ReclaimBatchSize = batch
		} else {
			log.Printf("config: invalid RECLAIM_BATCH_SIZE %q (must be a positive integer), using default 100", batchStr)
		}
	}
	if cfg.ReclaimBatchSize == 0 {
		cfg.ReclaimBatchSize = 100
	}

	if lockKeyStr := os.Getenv("LEADER_LOCK_KEY"); lockKeyStr != "" {
		if n, err := parseInt(lockKeyStr); err == nil && n > 0 {
			cfg.LeaderLockKey = int64(n)
		} else {
			log.Printf("config: invalid LEADER_LOCK_KEY %q (must be a positive integer), using default 728379", lockKeyStr)
		}
	}
	if cfg.LeaderLockKey == 0 {
		cfg.LeaderLockKey = 728379
	}

	if maxOpenStr := os.Getenv("DB_MAX_OPEN_CONNS"); maxOpenStr != "" {
		if n, err := parseInt(maxOpenStr); err == nil && n > 0 {
			cfg.DBMaxOpenConns = n
		}
	}
	if cfg.DBMaxOpenConns == 0 {
		cfg.DBMaxOpenConns = 25
	}

	if maxIdleStr := os.Getenv("DB_MAX_IDLE_CONNS"); maxIdleStr != "" {
		if n, err := parseInt(maxIdleStr); err == nil && n > 0 {
			cfg.DBMaxIdleConns = n
		}
	}
	if cfg.DBMaxIdleConns == 0 {
		cfg.DBMaxIdleConns = 5
	}

	// Support Railway's PORT variable as fallback for HTTP_ADDR.
	if cfg.HTTPAddr == "" {
		if port := os.Getenv("PORT"); port != "" {
			cfg.HTTPAddr = ":" + port
		} else {
			cfg.HTTPAddr = ":8080"
		}
	}
	if cfg.RedisAddr == "" {
		cfg.RedisAddr = "localhost:6379"
	}
	if cfg.DBConnMaxLifetimeStr == "" {
		cfg.DBConnMaxLifetimeStr = "30m"
	}
	if cfg.DBConnMaxIdleTimeStr == "" {
		cfg.DBConnMaxIdleTimeStr = "5m"
	}
	if cfg.HTTPShutdownTimeoutStr == "" {
		cfg.HTTPShutdownTimeoutStr = "10s"
	}
	if cfg.IdempotencyTTLStr == "" {
		cfg.IdempotencyTTLStr = "24h"
	}
	if cfg.CircuitBreakerResetTimeoutStr == "" {
		cfg.CircuitBreakerResetTimeoutStr = "60s"
	}
	if cfg.MetricsPath == "" {
		cfg.MetricsPath = "/metrics"
	}
	if cfg.AnalyticsRetentionStr == "" {
		cfg.AnalyticsRetentionStr = "720h"
	}
	if cfg.ReclaimSchedule == "" {
		cfg.ReclaimSchedule = "*/5 * * * *"
	}
	if cfg.ReclaimMinIdleStr == "" {
		cfg.ReclaimMinIdleStr = "10m"
	}
	if cfg.LeaderRetryIntervalStr == "" {
		cfg.LeaderRetryIntervalStr = "5s"
	}
	if cfg.LeaderHeartbeatIntervalStr == "" {
		cfg.LeaderHeartbeatIntervalStr = "2s"
	}

	// Parse durations; validation is handled separately by Validate().
	if d, err := time.ParseDuration(cfg.DBConnMaxLifetimeStr); err == nil {
		cfg.DBConnMaxLifetime = d
	}
	if d, err := time.ParseDuration(cfg.DBConnMaxIdleTimeStr); err == nil {
		cfg.DBConnMaxIdleTime = d
	}
	if d, err := time.ParseDuration(cfg.HTTPShutdownTimeoutStr); err == nil {
		cfg.HTTPShutdownTimeout = d
	}
	if d, err := time.ParseDuration(cfg.IdempotencyTTLStr); err == nil {
		cfg.IdempotencyTTL = d
	}
	if d, err := time.ParseDuration(cfg.CircuitBreakerResetTimeoutStr); err == nil {
		cfg.CircuitBreakerResetTimeout = d
	}
	if d, err := time.ParseDuration(cfg.AnalyticsRetentionStr); err == nil {
		cfg.AnalyticsRetention = d
	}
	if d, err := time.ParseDuration(cfg.ReclaimMinIdleStr); err == nil {
		cfg.ReclaimMinIdle = d
	}
	if d, err := time.ParseDuration(cfg.LeaderRetryIntervalStr); err == nil {
		cfg.LeaderRetryInterval = d
	}
	if d, err := time.ParseDuration(cfg.LeaderHeartbeatIntervalStr); err == nil {
		cfg.LeaderHeartbeatInterval = d
	}

	return cfg
}

// parseInt parses a string as an integer.
func parseInt(s string) (int, error) {
	var n int
	for _, c := range s {
		if c < '0' || c > '9' {
			return 0, os.ErrInvalid
		}
		n = n*10 + int(c-'0')
	}
	return n, nil
}

// MaskedJSON returns the configuration as JSON with secrets masked.
func (c Config) MaskedJSON() ([]byte, error) {
	masked := struct {
		DatabaseURL                     string `json:"database_url"`
		RedisAddr                       string `json:"redis_addr"`
		HTTPAddr                        string `json:"http_addr"`
		EnvPrefix                       string `json:"env_prefix"`
		ConsumerGroup                   string `json:"consumer_group"`
		ConsumerName                    string `json:"consumer_name"`
		APIKey                          string `json:"api_key"`
		LogLevel                        string `json:"log_level"`
		LogFormat                       string `json:"log_format"`
		DBMaxOpenConns                  int    `json:"db_max_open_conns"`
		DBMaxIdleConns                  int    `json:"db_max_idle_conns"`
		DBConnMaxLifetime               string `json:"db_conn_max_lifetime"`
		DBConnMaxIdleTime               string `json:"db_conn_max_idle_time"`
		HTTPShutdownTimeout             string `json:"http_shutdown_timeout"`
		IdempotencyFailOpen             bool   `json:"idempotency_fail_open"`
		IdempotencyTTL                  string `json:"idempotency_ttl"`
		CircuitBreakerThreshold         int    `json:"circuit_breaker_threshold"`
		CircuitBreakerResetTimeout      string `json:"circuit_breaker_reset_timeout"`
		CircuitBreakerHalfOpenSuccesses int    `json:"circuit_breaker_half_open_successes"`
		MetricsEnabled                  bool   `json:"metrics_enabled"`
		MetricsPath                     string `json:"metrics_path"`
		AnalyticsEnabled                bool   `json:"analytics_enabled"`
		AnalyticsRetention              string `json:"analytics_retention"`
		ReclaimEnabled                  bool   `json:"reclaim_enabled"`
		ReclaimSchedule                 string `json:"reclaim_schedule"`
		ReclaimMinIdle                  string `json:"reclaim_min_idle"`
		ReclaimBatchSize                int    `json:"reclaim_batch_size"`
		LeaderLockKey                   int64  `json:"leader_lock_key"`
		LeaderRetryInterval             string `json:"leader_retry_interval"`
		LeaderHeartbeatInterval         string `json:"leader_heartbeat_interval"`
		SMTPHost                        string `json:"smtp_host"`
		SMTPPort                        int    `json:"smtp_port"`
		SMTPUsername                    string `json:"smtp_username"`
		SMTPPassword                    string `json:"smtp_password"`
		SMTPFrom                        string `json:"smtp_from"`
		SlackToken                      string `json:"slack_token"`
		SlackDefaultChannel             string `json:"slack_default_channel"`
		InternalEventsBaseURL           string `json:"internal_events_base_url"`
		InternalEventsToken             string `json:"internal_events_token"`
	}{
		DatabaseURL:                     maskSecret(c.DatabaseURL),
		RedisAddr:                       c.RedisAddr,
		HTTPAddr:                        c.HTTPAddr,
		EnvPrefix:                       c.EnvPrefix,
		ConsumerGroup:                   c.ConsumerGroup,
		ConsumerName:                    c.ConsumerName,
		APIKey:                          maskSecret(c.APIKey),
		LogLevel:                        c.LogLevel,
		LogFormat:                       c.LogFormat,
		DBMaxOpenConns:                  c.DBMaxOpenConns,
		DBMaxIdleConns:                  c.DBMaxIdleConns,
		DBConnMaxLifetime:               c.DBConnMaxLifetimeStr,
		DBConnMaxIdleTime:               c.DBConnMaxIdleTimeStr,
		HTTPShutdownTimeout:             c.HTTPShutdownTimeoutStr,
		IdempotencyFailOpen:             c.IdempotencyFailOpen,
		IdempotencyTTL:                  c.IdempotencyTTLStr,
		CircuitBreakerThreshold:         c.CircuitBreakerThreshold,
		CircuitBreakerResetTimeout:      c.CircuitBreakerResetTimeoutStr,
		CircuitBreakerHalfOpenSuccesses: c.CircuitBreakerHalfOpenSuccesses,
		MetricsEnabled:                  c.MetricsEnabled,
		MetricsPath:                     c.MetricsPath,
		AnalyticsEnabled:                c.AnalyticsEnabled,
		AnalyticsRetention:              c.AnalyticsRetentionStr,
		ReclaimEnabled:                  c.ReclaimEnabled,
		ReclaimSchedule:                 c.ReclaimSchedule,
		ReclaimMinIdle:                  c.ReclaimMinIdleStr,
		ReclaimBatchSize:                c.ReclaimBatchSize,
		LeaderLockKey:                   c.LeaderLockKey,
		LeaderRetryInterval:             c.LeaderRetryIntervalStr,
		LeaderHeartbeatInterval:         c.LeaderHeartbeatIntervalStr,
		SMTPHost:                        c.SMTPHost,
		SMTPPort:                        c.SMTPPort,
		SMTPUsername:                    c.SMTPUsername,
		SMTPPassword:                    maskSecret(c.SMTPPassword),
		SMTPFrom:                        c.SMTPFrom,
		SlackToken:                      maskSecret(c.SlackToken),
		SlackDefaultChannel:             c.SlackDefaultChannel,
		InternalEventsBaseURL:           c.InternalEventsBaseURL,
		InternalEventsToken:             maskSecret(c.InternalEventsToken),
	}
	return json.MarshalIndent(masked, "", "  ")
}

// maskSecret masks a secret value, preserving only the URI scheme if present.
func maskSecret(s string) string {
	if s == "" {
		return ""
	}
	for _, scheme := range []string{"postgres://", "postgresql://"} {
		if len(s) >= len(scheme) && s[:len(scheme)] == scheme {
			return scheme + "***"
		}
	}
	return "***"
}
