package data

import (
	"os"
	"testing"
	"time"

	"Bulwark/internal/conf"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-kratos/kratos/v2/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/types/known/durationpb"
)

func TestNewRedisClient_NilConfig(t *testing.T) {
	logger := log.NewStdLogger(os.Stdout)

	rdb, cleanup, err := NewRedisClient(nil, logger)
	assert.NoError(t, err)
	assert.Nil(t, rdb)
	cleanup()

	rdb, cleanup, err = NewRedisClient(&conf.Data{}, logger)
	assert.NoError(t, err)
	assert.Nil(t, rdb)
	cleanup()
}

func TestNewRedisClient_EmptyAddr(t *testing.T) {
	rdb, cleanup, err := NewRedisClient(&conf.Data{
		Redis: &conf.Data_Redis{Addr: ""},
	}, log.NewStdLogger(os.Stdout))
	assert.NoError(t, err)
	assert.Nil(t, rdb)
	cleanup()
}

func TestNewRedisClient_Connects(t *testing.T) {
	mr := miniredis.RunT(t)

	rdb, cleanup, err := NewRedisClient(&conf.Data{
		Redis: &conf.Data_Redis{
			Addr:         mr.Addr(),
			ReadTimeout:  durationpb.New(200 * time.Millisecond),
			WriteTimeout: durationpb.New(200 * time.Millisecond),
		},
	}, log.NewStdLogger(os.Stdout))
	require.NoError(t, err)
	require.NotNil(t, rdb)
	defer cleanup()

	assert.NoError(t, rdb.Ping(t.Context()).Err())
}

func TestNewRedisClient_UnreachableReturnsError(t *testing.T) {
	// Reserved port with nothing listening.
	rdb, cleanup, err := NewRedisClient(&conf.Data{
		Redis: &conf.Data_Redis{Addr: "127.0.0.1:1"},
	}, log.NewStdLogger(os.Stdout))
	assert.Error(t, err)
	// Graceful degradation still hands back the client and a cleanup.
	assert.NotNil(t, rdb)
	cleanup()
}
