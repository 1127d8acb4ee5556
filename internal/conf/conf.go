// Package conf provides configuration management using Viper.
// It supports loading configuration from YAML files and environment variables,
// with CLI flag overrides.
package conf

import (
	"google.golang.org/protobuf/types/known/durationpb"
)

// Bootstrap is the top-level configuration structure.
type Bootstrap struct {
	Server     *Server
	Data       *Data
	Resilience *Resilience
	Log        *Log
}

// Server holds transport server configuration.
type Server struct {
	Http *Server_HTTP
	Grpc *Server_GRPC
}

// Server_HTTP holds HTTP server configuration.
type Server_HTTP struct {
	Network string
	Addr    string
	Timeout *durationpb.Duration
}

// Server_GRPC holds gRPC server configuration.
type Server_GRPC struct {
	Network string
	Addr    string
	Timeout *durationpb.Duration
}

// Data holds data layer configuration.
type Data struct {
	Database *Data_Database
	Redis    *Data_Redis
}

// Data_Database holds MySQL configuration.
type Data_Database struct {
	Driver string
	Source string
}

// Data_Redis holds Redis configuration.
type Data_Redis struct {
	Network      string
	Addr         string
	ReadTimeout  *durationpb.Duration
	WriteTimeout *durationpb.Duration
}

// Resilience holds configuration for the failure-isolation core:
// idempotency guard, worker pool, retry policy, circuit breakers and
// dead-letter retention.
type Resilience struct {
	Idempotency *Resilience_Idempotency
	Worker      *Resilience_Worker
	Retry       *Resilience_Retry
	Breaker     *Resilience_Breaker
	DeadLetter  *Resilience_DeadLetter
}

// Resilience_Idempotency holds idempotency guard configuration.
// Ttl bounds how long a completed response is replayed; PendingTtl bounds
// how long an in-progress marker may exist before it is considered stale.
type Resilience_Idempotency struct {
	Ttl        *durationpb.Duration
	PendingTtl *durationpb.Duration
}

// Resilience_Worker holds worker pool configuration.
type Resilience_Worker struct {
	Count        int32
	PollInterval *durationpb.Duration
	JobTimeout   *durationpb.Duration
}

// Resilience_Retry holds the default job retry policy.
type Resilience_Retry struct {
	MaxRetries    int32
	InitialDelay  *durationpb.Duration
	BackoffFactor float64
	MaxDelay      *durationpb.Duration
}

// Resilience_Breaker holds default circuit breaker configuration applied
// when a breaker is created without an explicit config.
type Resilience_Breaker struct {
	FailureThreshold int32
	SuccessThreshold int32
	OpenTimeout      *durationpb.Duration
	FailureWindow    *durationpb.Duration
	CallTimeout      *durationpb.Duration
}

// Resilience_DeadLetter holds dead-letter store housekeeping configuration.
type Resilience_DeadLetter struct {
	Retention       *durationpb.Duration
	CleanupSchedule string
}

// Log holds logging configuration.
type Log struct {
	Level      string
	Format     string
	Env        string
	OutputFile string
}
