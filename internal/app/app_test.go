package app

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"flowdeck/backend/internal/logging"
)

func TestHealthChecks(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	a := &App{Logger: logging.NewLogger(), Redis: client}
	defer a.Close()

	checks := a.HealthChecks()
	assert.Contains(t, checks, "postgres")
	require.Contains(t, checks, "redis")
	assert.NoError(t, checks["redis"].Ping(context.Background()))

	mr.Close()
	assert.Error(t, checks["redis"].Ping(context.Background()))
}

func TestHealthChecks_WithoutRedis(t *testing.T) {
	a := &App{Logger: logging.NewLogger()}
	checks := a.HealthChecks()
	assert.Len(t, checks, 1)
	assert.NotContains(t, checks, "redis")
}
