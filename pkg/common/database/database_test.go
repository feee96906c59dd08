package database

import (
	"context"
	"net"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/healthtrack/platform/pkg/common/config"
	"github.com/stretchr/testify/require"
)

func TestDSN(t *testing.T) {
	cfg := &config.Config{
		PostgresHost:     "db",
		PostgresPort:     "5433",
		PostgresUser:     "u",
		PostgresPassword: "p",
		PostgresDB:       "health",
		PostgresSSLMode:  "require",
	}
	dsn := DSN(cfg)
	for _, part := range []string{"host=db", "port=5433", "user=u", "password=p", "dbname=health", "sslmode=require", "TimeZone=UTC"} {
		require.True(t, strings.Contains(dsn, part), part)
	}
}

func TestNewRedisPingsServer(t *testing.T) {
	srv := miniredis.RunT(t)
	host, port, err := net.SplitHostPort(srv.Addr())
	require.NoError(t, err)

	cfg := &config.Config{RedisHost: host, RedisPort: port, RedisDB: 0}
	client, err := NewRedis(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	require.NoError(t, client.Set(context.Background(), "k", "v", 0).Err())
	got, err := srv.Get("k")
	require.NoError(t, err)
	require.Equal(t, "v", got)
}

func TestNewRedisReturnsClientWhenUnreachable(t *testing.T) {
	srv := miniredis.RunT(t)
	host, port, err := net.SplitHostPort(srv.Addr())
	require.NoError(t, err)
	srv.Close()

	client, err := NewRedis(context.Background(), &config.Config{RedisHost: host, RedisPort: port})
	require.Error(t, err)
	require.NotNil(t, client)
	client.Close()
}

func TestRedisOptionsAddr(t *testing.T) {
	opts := RedisOptions(&config.Config{RedisHost: "cache", RedisPort: "6380", RedisDB: 3})
	require.Equal(t, "cache:6380", opts.Addr)
	require.Equal(t, 3, opts.DB)
}
