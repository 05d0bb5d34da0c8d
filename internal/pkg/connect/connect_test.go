package connect

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/property-imports/internal/config"
)

func TestWithSessionTimeouts(t *testing.T) {
	got := WithSessionTimeouts("postgres://u:p@db:5432/app")
	assert.Contains(t, got, "/app?connect_timeout=5&options=")

	got = WithSessionTimeouts("postgres://u:p@db:5432/app?sslmode=disable")
	assert.Contains(t, got, "sslmode=disable&connect_timeout=5&options=")

	kept := "postgres://u:p@db/app?connect_timeout=1&options=-c%20x%3D1"
	assert.Equal(t, kept, WithSessionTimeouts(kept))
}

func TestExtractHost(t *testing.T) {
	assert.Equal(t, "db:5432", ExtractHost("postgres://u:p@db:5432/app"))
	assert.Equal(t, "db", ExtractHost("postgres://u:p@db?sslmode=disable"))
	assert.Equal(t, "(unknown)", ExtractHost("host=db user=u"))
}

func TestRedis(t *testing.T) {
	assert.Nil(t, Redis(context.Background(), ""))

	mr := miniredis.RunT(t)
	client := Redis(context.Background(), "redis://"+mr.Addr())
	require.NotNil(t, client)
	defer client.Close()
	assert.Equal(t, mr.Addr(), client.Options().Addr)

}

func TestRedis_UnreachableAtStartupStillReturnsClient(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	client := Redis(context.Background(), addr)
	require.NotNil(t, client, "a configured url always yields a client")
	defer client.Close()
	assert.Error(t, client.Ping(context.Background()).Err())

	require.NoError(t, mr.Restart())
	assert.NoError(t, client.Ping(context.Background()).Err(), "the client recovers once redis is back")
}

func TestPostgres_RequiresURL(t *testing.T) {
	_, err := Postgres(context.Background(), config.DatabaseConfig{})
	assert.Error(t, err)
}

func TestBroker_RequiresURL(t *testing.T) {
	_, err := Broker("")
	assert.Error(t, err)
}
