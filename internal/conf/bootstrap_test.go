package conf

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

const minimalConfig = `
data:
  database:
    source: root:root@tcp(127.0.0.1:3306)/bulwark_test
`

func TestNewBootstrap_Defaults(t *testing.T) {
	bc, err := NewBootstrap(writeConfig(t, minimalConfig))
	require.NoError(t, err)

	assert.Equal(t, ":8080", bc.Server.Http.Addr)
	assert.Equal(t, ":9000", bc.Server.Grpc.Addr)
	assert.Equal(t, "127.0.0.1:6379", bc.Data.Redis.Addr)

	assert.Equal(t, 24*time.Hour, bc.Resilience.Idempotency.Ttl.AsDuration())
	assert.Equal(t, 60*time.Second, bc.Resilience.Idempotency.PendingTtl.AsDuration())
	assert.Equal(t, int32(4), bc.Resilience.Worker.Count)
	assert.Equal(t, int32(3), bc.Resilience.Retry.MaxRetries)
	assert.Equal(t, time.Second, bc.Resilience.Retry.InitialDelay.AsDuration())
	assert.Equal(t, 2.0, bc.Resilience.Retry.BackoffFactor)
	assert.Equal(t, int32(5), bc.Resilience.Breaker.FailureThreshold)
	assert.Equal(t, 30*time.Second, bc.Resilience.Breaker.OpenTimeout.AsDuration())
	assert.Equal(t, 7*24*time.Hour, bc.Resilience.DeadLetter.Retention.AsDuration())

	assert.Equal(t, "info", bc.Log.Level)
	assert.Equal(t, "json", bc.Log.Format)
}

func TestNewBootstrap_FileOverridesDefaults(t *testing.T) {
	bc, err := NewBootstrap(writeConfig(t, `
server:
  http:
    addr: :9999
data:
  database:
    source: dsn
resilience:
  retry:
    max_retries: 7
    initial_delay: 250ms
  breaker:
    failure_threshold: 10
`))
	require.NoError(t, err)

	assert.Equal(t, ":9999", bc.Server.Http.Addr)
	assert.Equal(t, int32(7), bc.Resilience.Retry.MaxRetries)
	assert.Equal(t, 250*time.Millisecond, bc.Resilience.Retry.InitialDelay.AsDuration())
	assert.Equal(t, int32(10), bc.Resilience.Breaker.FailureThreshold)
	// Untouched keys keep their defaults.
	assert.Equal(t, int32(2), bc.Resilience.Breaker.SuccessThreshold)
}

func TestNewBootstrap_EnvOverrides(t *testing.T) {
	t.Setenv("MYSQL_DSN", "envuser:envpass@tcp(db:3306)/bulwark")
	t.Setenv("BULWARK_DATA_REDIS_ADDR", "redis-prod:6379")

	bc, err := NewBootstrap(writeConfig(t, minimalConfig))
	require.NoError(t, err)

	assert.Equal(t, "envuser:envpass@tcp(db:3306)/bulwark", bc.Data.Database.Source)
	assert.Equal(t, "redis-prod:6379", bc.Data.Redis.Addr)
}

func TestNewBootstrap_MissingFile(t *testing.T) {
	_, err := NewBootstrap("/nonexistent/config.yaml")
	assert.Error(t, err)
}

func TestNewBootstrap_MissingDSNFails(t *testing.T) {
	_, err := NewBootstrap(writeConfig(t, `
log:
  level: debug
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "data.database.source")
}

func TestValidate(t *testing.T) {
	valid := &Bootstrap{
		Data: &Data{
			Database: &Data_Database{Source: "dsn"},
			Redis:    &Data_Redis{Addr: "127.0.0.1:6379"},
		},
	}
	assert.NoError(t, Validate(valid))

	assert.Error(t, Validate(&Bootstrap{Data: &Data{
		Redis: &Data_Redis{Addr: "127.0.0.1:6379"},
	}}))
	assert.Error(t, Validate(&Bootstrap{Data: &Data{
		Database: &Data_Database{Source: "dsn"},
		Redis:    &Data_Redis{},
	}}))

	negative := &Bootstrap{
		Data: &Data{
			Database: &Data_Database{Source: "dsn"},
			Redis:    &Data_Redis{Addr: "a"},
		},
		Resilience: &Resilience{
			Retry: &Resilience_Retry{MaxRetries: -1},
		},
	}
	assert.Error(t, Validate(negative))
}
