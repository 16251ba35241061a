package redis

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNewDisabledWithoutAddress(t *testing.T) {
	t.Setenv("REDIS_ADDRESS", "")
	require.Nil(t, New())
}

func TestTTLFromEnv(t *testing.T) {
	t.Setenv("CACHE_TTL", "")
	require.Equal(t, 10*time.Minute, TTLFromEnv())

	t.Setenv("CACHE_TTL", "90s")
	require.Equal(t, 90*time.Second, TTLFromEnv())

	t.Setenv("CACHE_TTL", "-1m")
	require.Equal(t, 10*time.Minute, TTLFromEnv())

	t.Setenv("CACHE_TTL", "soon")
	require.Equal(t, 10*time.Minute, TTLFromEnv())
}
