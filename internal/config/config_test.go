package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv("DISCORD_TOKEN", "token")
	t.Setenv("DATABASE_DSN", "postgres://localhost/voicexp")
}

func TestLoadDefaults(t *testing.T) {
	setRequired(t)

	cfg, err := load(viper.New())
	require.NoError(t, err)
	assert.Equal(t, "token", cfg.DiscordToken)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "!voicexp", cfg.CommandPrefix)
	assert.Equal(t, DefaultTimezone, cfg.Timezone)
	assert.Equal(t, 5*time.Minute, cfg.PolicyCacheTTL)
	assert.Equal(t, 15*time.Second, cfg.ShutdownAfter)
	assert.Equal(t, 8, cfg.PolicyCacheMB)
	assert.False(t, cfg.XPCheckpoint)
	assert.Empty(t, cfg.RedisAddr)
}

func TestLoadFromEnvironment(t *testing.T) {
	setRequired(t)
	t.Setenv("LOG_LEVEL", "DEBUG")
	t.Setenv("XP_CHECKPOINT", "true")
	t.Setenv("REDIS_ADDR", "localhost:6379")
	t.Setenv("REDIS_DB", "2")
	t.Setenv("POLICY_CACHE_TTL", "30s")

	cfg, err := load(viper.New())
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.True(t, cfg.XPCheckpoint)
	assert.Equal(t, "localhost:6379", cfg.RedisAddr)
	assert.Equal(t, 2, cfg.RedisDB)
	assert.Equal(t, 30*time.Second, cfg.PolicyCacheTTL)
}

func TestLoadRequiresToken(t *testing.T) {
	t.Setenv("DISCORD_TOKEN", "")
	t.Setenv("DATABASE_DSN", "postgres://localhost/voicexp")

	_, err := load(viper.New())
	require.Error(t, err)
	assert.True(t, IsConfigError(err))

	var ce *ConfigError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "DISCORD_TOKEN", ce.Field)
}

func TestLoadRejectsUnknownLogLevel(t *testing.T) {
	setRequired(t)
	t.Setenv("LOG_LEVEL", "verbose")

	_, err := load(viper.New())
	assert.True(t, IsConfigError(err))
}

func TestLoadRejectsNonPositiveDurations(t *testing.T) {
	setRequired(t)
	t.Setenv("SHUTDOWN_TIMEOUT", "0s")

	_, err := load(viper.New())
	var ce *ConfigError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "SHUTDOWN_TIMEOUT", ce.Field)
}

func TestLoadConfigFile(t *testing.T) {
	setRequired(t)
	path := filepath.Join(t.TempDir(), "voicexp.yaml")
	require.NoError(t, os.WriteFile(path, []byte("COMMAND_PREFIX: \"!xp\"\nLOG_PRETTY: true\n"), 0o600))
	t.Setenv("CONFIG_FILE", path)

	cfg, err := load(viper.New())
	require.NoError(t, err)
	assert.Equal(t, "!xp", cfg.CommandPrefix)
	assert.True(t, cfg.LogPretty)
}

func TestLoadMissingConfigFile(t *testing.T) {
	setRequired(t)
	t.Setenv("CONFIG_FILE", filepath.Join(t.TempDir(), "missing.yaml"))

	_, err := load(viper.New())
	assert.Error(t, err)
	assert.False(t, IsConfigError(err))
}

func TestLocationFallsBackToUTC7(t *testing.T) {
	cfg := &Config{Timezone: "Mars/Olympus_Mons"}
	loc := cfg.Location()
	_, offset := time.Date(2024, 1, 1, 0, 0, 0, 0, loc).Zone()
	assert.Equal(t, 7*60*60, offset)

	cfg.Timezone = "UTC"
	assert.Equal(t, time.UTC, cfg.Location())
}
