package conf

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
	"google.golang.org/protobuf/types/known/durationpb"
)

// NewBootstrap creates and initializes a Bootstrap configuration.
// It loads configuration from the specified config file path, applies defaults,
// and allows overrides from environment variables prefixed with BULWARK_.
//
// Configuration priority: CLI flags > Environment variables > Config file > Defaults
//
// Required environment variables:
//   - MYSQL_DSN or BULWARK_DATA_DATABASE_SOURCE: MySQL connection string
//     (backs the dead-letter store)
//
// Parameters:
//   - configPath: Path to the configuration file or directory
//
// Returns:
//   - *Bootstrap: Loaded configuration
//   - error: Configuration loading or validation error
func NewBootstrap(configPath string) (*Bootstrap, error) {
	v := viper.New()

	// Set default values
	setDefaults(v)

	// Enable environment variable support with BULWARK_ prefix
	v.SetEnvPrefix("BULWARK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Allow direct environment variable names (without BULWARK_ prefix) for compatibility
	_ = v.BindEnv("data.database.source", "MYSQL_DSN", "BULWARK_DATA_DATABASE_SOURCE")
	_ = v.BindEnv("data.redis.addr", "BULWARK_DATA_REDIS_ADDR")

	// Load configuration file
	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			// If config file is specified but not found, return error
			return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
		}
	}

	// Parse configuration into Bootstrap structure
	bc := &Bootstrap{
		Server: &Server{
			Http: &Server_HTTP{
				Network: v.GetString("server.http.network"),
				Addr:    v.GetString("server.http.addr"),
				Timeout: durationpb.New(v.GetDuration("server.http.timeout")),
			},
			Grpc: &Server_GRPC{
				Network: v.GetString("server.grpc.network"),
				Addr:    v.GetString("server.grpc.addr"),
				Timeout: durationpb.New(v.GetDuration("server.grpc.timeout")),
			},
		},
		Data: &Data{
			Database: &Data_Database{
				Driver: v.GetString("data.database.driver"),
				Source: v.GetString("data.database.source"),
			},
			Redis: &Data_Redis{
				Network:      v.GetString("data.redis.network"),
				Addr:         v.GetString("data.redis.addr"),
				ReadTimeout:  durationpb.New(v.GetDuration("data.redis.read_timeout")),
				WriteTimeout: durationpb.New(v.GetDuration("data.redis.write_timeout")),
			},
		},
		Resilience: &Resilience{
			Idempotency: &Resilience_Idempotency{
				Ttl:        durationpb.New(v.GetDuration("resilience.idempotency.ttl")),
				PendingTtl: durationpb.New(v.GetDuration("resilience.idempotency.pending_ttl")),
			},
			Worker: &Resilience_Worker{
				Count:        v.GetInt32("resilience.worker.count"),
				PollInterval: durationpb.New(v.GetDuration("resilience.worker.poll_interval")),
				JobTimeout:   durationpb.New(v.GetDuration("resilience.worker.job_timeout")),
			},
			Retry: &Resilience_Retry{
				MaxRetries:    v.GetInt32("resilience.retry.max_retries"),
				InitialDelay:  durationpb.New(v.GetDuration("resilience.retry.initial_delay")),
				BackoffFactor: v.GetFloat64("resilience.retry.backoff_factor"),
				MaxDelay:      durationpb.New(v.GetDuration("resilience.retry.max_delay")),
			},
			Breaker: &Resilience_Breaker{
				FailureThreshold: v.GetInt32("resilience.breaker.failure_threshold"),
				SuccessThreshold: v.GetInt32("resilience.breaker.success_threshold"),
				OpenTimeout:      durationpb.New(v.GetDuration("resilience.breaker.open_timeout")),
				FailureWindow:    durationpb.New(v.GetDuration("resilience.breaker.failure_window")),
				CallTimeout:      durationpb.New(v.GetDuration("resilience.breaker.call_timeout")),
			},
			DeadLetter: &Resilience_DeadLetter{
				Retention:       durationpb.New(v.GetDuration("resilience.dead_letter.retention")),
				CleanupSchedule: v.GetString("resilience.dead_letter.cleanup_schedule"),
			},
		},
		Log: &Log{
			Level:      v.GetString("log.level"),
			Format:     v.GetString("log.format"),
			Env:        v.GetString("log.env"),
			OutputFile: v.GetString("log.output_file"),
		},
	}

	// Validate required fields
	if err := Validate(bc); err != nil {
		return nil, err
	}

	return bc, nil
}

// setDefaults sets default configuration values.
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.http.network", "tcp")
	v.SetDefault("server.http.addr", ":8080")
	v.SetDefault("server.http.timeout", 30*time.Second)

	v.SetDefault("server.grpc.network", "tcp")
	v.SetDefault("server.grpc.addr", ":9000")
	v.SetDefault("server.grpc.timeout", 30*time.Second)

	// Data defaults
	v.SetDefault("data.database.driver", "mysql")
	// Note: data.database.source (MYSQL_DSN) is required from environment

	v.SetDefault("data.redis.network", "tcp")
	v.SetDefault("data.redis.addr", "127.0.0.1:6379")
	v.SetDefault("data.redis.read_timeout", 200*time.Millisecond)
	v.SetDefault("data.redis.write_timeout", 200*time.Millisecond)

	// Resilience defaults
	v.SetDefault("resilience.idempotency.ttl", 24*time.Hour)
	v.SetDefault("resilience.idempotency.pending_ttl", 60*time.Second)

	v.SetDefault("resilience.worker.count", 4)
	v.SetDefault("resilience.worker.poll_interval", 500*time.Millisecond)
	v.SetDefault("resilience.worker.job_timeout", 30*time.Second)

	v.SetDefault("resilience.retry.max_retries", 3)
	v.SetDefault("resilience.retry.initial_delay", 1*time.Second)
	v.SetDefault("resilience.retry.backoff_factor", 2.0)
	v.SetDefault("resilience.retry.max_delay", 5*time.Minute)

	v.SetDefault("resilience.breaker.failure_threshold", 5)
	v.SetDefault("resilience.breaker.success_threshold", 2)
	v.SetDefault("resilience.breaker.open_timeout", 30*time.Second)
	v.SetDefault("resilience.breaker.failure_window", 1*time.Minute)
	v.SetDefault("resilience.breaker.call_timeout", 10*time.Second)

	v.SetDefault("resilience.dead_letter.retention", 7*24*time.Hour)
	// Daily at 03:30 (seconds-aware cron expression)
	v.SetDefault("resilience.dead_letter.cleanup_schedule", "0 30 3 * * *")

	// Log defaults
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
}

// Validate checks that all required configuration fields are present and valid.
// It returns an error listing all missing required fields.
func Validate(bc *Bootstrap) error {
	var missingFields []string

	// The dead-letter store is durable state; refusing to start without it
	// is what keeps exhausted jobs from being silently dropped.
	if bc.Data == nil || bc.Data.Database == nil || bc.Data.Database.Source == "" {
		missingFields = append(missingFields, "data.database.source (MYSQL_DSN)")
	}

	if bc.Data == nil || bc.Data.Redis == nil || bc.Data.Redis.Addr == "" {
		missingFields = append(missingFields, "data.redis.addr (BULWARK_DATA_REDIS_ADDR)")
	}

	if bc.Resilience != nil && bc.Resilience.Retry != nil && bc.Resilience.Retry.MaxRetries < 0 {
		missingFields = append(missingFields, "resilience.retry.max_retries (must be >= 0)")
	}

	if len(missingFields) > 0 {
		return fmt.Errorf("missing required configuration fields: %s", strings.Join(missingFields, ", "))
	}

	return nil
}
