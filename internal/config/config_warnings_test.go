package config

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWarnings_CacheDualWithoutRedis(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Cache.Enabled = true
	cfg.Cache.Type = "dual"
	cfg.Cache.Redis.Addr = ""

	warnings := cfg.Warnings()
	require.NotEmpty(t, warnings)

	var found bool
	for _, w := range warnings {
		if w.Code == WarningCacheDualWithoutRedis {
			found = true
			break
		}
	}
	require.True(t, found, "expected %q warning", WarningCacheDualWithoutRedis)
}

func TestWarnings_NoWarningsWhenRedisConfigured(t *testing.T) {
	t.Run("cache disabled", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Cache.Enabled = false
		cfg.Cache.Type = "dual"
		require.Empty(t, cfg.Warnings())
	})

	t.Run("redis configured", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Cache.Enabled = true
		cfg.Cache.Type = "dual"
		cfg.Cache.Redis.Addr = "localhost:6379"
		require.Empty(t, cfg.Warnings())
	})
}
