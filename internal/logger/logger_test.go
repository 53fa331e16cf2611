package logger

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zerolog.TraceLevel, ParseLevel("trace"))
	assert.Equal(t, zerolog.DebugLevel, ParseLevel(" DEBUG "))
	assert.Equal(t, zerolog.WarnLevel, ParseLevel("warning"))
	assert.Equal(t, zerolog.ErrorLevel, ParseLevel("error"))
	assert.Equal(t, zerolog.InfoLevel, ParseLevel("loud"))
}

func TestNewFiltersByLevel(t *testing.T) {
	var buf bytes.Buffer
	log, closer := newWithConsole(Options{Level: "warn"}, &buf)
	defer closer.Close()

	log.Info().Msg("hidden")
	log.Warn().Str("guild_id", "g1").Msg("shown")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, `"guild_id":"g1"`)
	assert.Contains(t, out, `"service":"voicexp"`)
}

func TestNewWritesLogFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "voicexp.log")
	var console bytes.Buffer

	log, closer := newWithConsole(Options{Level: "info", File: path, MaxSizeMB: 1}, &console)
	log.Info().Msg("to both")
	require.NoError(t, closer.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "to both")
	assert.Contains(t, console.String(), "to both")
}
