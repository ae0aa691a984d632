package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseConfig(t *testing.T) {
	load := func(t *testing.T) *Config {
		t.Helper()
		v, err := LoadConfig("does-not-exist")
		require.NoError(t, err)
		v.Set("db.dsn", "postgres://localhost/capsules")
		v.Set("jwt.secret", "secret")
		cfg, err := ParseConfig(v)
		require.NoError(t, err)
		return cfg
	}

	t.Run("defaults", func(t *testing.T) {
		cfg := load(t)
		assert.Equal(t, ":8080", cfg.Server.Addr)
		assert.Equal(t, time.Hour, cfg.Resolver.SignedURLTTL)
		assert.Equal(t, 50*time.Minute, cfg.Resolver.CacheFreshness)
		assert.Equal(t, "shared-photos", cfg.Storage.Bucket)
	})

	t.Run("missing dsn", func(t *testing.T) {
		v, err := LoadConfig("does-not-exist")
		require.NoError(t, err)
		v.Set("jwt.secret", "secret")
		_, err = ParseConfig(v)
		assert.Error(t, err)
	})

	t.Run("missing jwt secret", func(t *testing.T) {
		v, err := LoadConfig("does-not-exist")
		require.NoError(t, err)
		v.Set("db.dsn", "postgres://localhost/capsules")
		_, err = ParseConfig(v)
		assert.Error(t, err)
	})

	t.Run("freshness must undercut the ttl", func(t *testing.T) {
		v, err := LoadConfig("does-not-exist")
		require.NoError(t, err)
		v.Set("db.dsn", "postgres://localhost/capsules")
		v.Set("jwt.secret", "secret")
		v.Set("resolver.cachefreshness", 2*time.Hour)
		_, err = ParseConfig(v)
		assert.Error(t, err)
	})
}
