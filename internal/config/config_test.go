package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_Defaults(t *testing.T) {
	t.Setenv("JWT_SECRET", "secret")
	for _, key := range []string{"STORAGE_DRIVER", "TYPING_EXPIRY", "TYPING_SWEEP_INTERVAL", "TYPING_STALE_AFTER"} {
		t.Setenv(key, "")
		require.NoError(t, os.Unsetenv(key))
	}

	require.NoError(t, LoadConfig())

	assert.Equal(t, StorageSQLite, AppConfig.StorageType)
	assert.Equal(t, "secret", AppConfig.JWTSecret)
	assert.Equal(t, 3*time.Second, AppConfig.TypingExpiry)
	assert.Equal(t, time.Second, AppConfig.TypingSweepInterval)
	assert.Equal(t, 5*time.Second, AppConfig.TypingStaleAfter)
}

func TestLoadConfig_Overrides(t *testing.T) {
	t.Setenv("JWT_SECRET", "secret")
	t.Setenv("STORAGE_DRIVER", "redis")
	t.Setenv("REDIS_ADDR", "cache:6380")
	t.Setenv("MESSAGE_PAGE_SIZE", "20")
	t.Setenv("TYPING_STALE_AFTER", "750ms")
	t.Setenv("LOG_LEVEL", "debug")

	require.NoError(t, LoadConfig())

	assert.Equal(t, StorageRedis, AppConfig.StorageType)
	assert.Equal(t, "cache:6380", AppConfig.RedisAddr)
	assert.Equal(t, 20, AppConfig.MessagePageSize)
	assert.Equal(t, 750*time.Millisecond, AppConfig.TypingStaleAfter)
	assert.Equal(t, "DEBUG", AppConfig.LogLevel)
}

func TestLoadConfig_Errors(t *testing.T) {
	tests := []struct {
		name    string
		secret  string
		storage string
	}{
		{name: "missing secret", secret: "", storage: "memory"},
		{name: "unknown storage", secret: "secret", storage: "mongo"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("JWT_SECRET", tt.secret)
			t.Setenv("STORAGE_DRIVER", tt.storage)
			assert.Error(t, LoadConfig())
		})
	}
}

func TestGetEnvAsDuration_Invalid(t *testing.T) {
	t.Setenv("SOME_DURATION", "soon")
	assert.Equal(t, time.Minute, getEnvAsDuration("SOME_DURATION", time.Minute))

	t.Setenv("SOME_DURATION", "-1s")
	assert.Equal(t, time.Minute, getEnvAsDuration("SOME_DURATION", time.Minute))
}
