package main

import (
	"bytes"
	"flag"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseArgs(t *testing.T) {
	var stderr bytes.Buffer

	config, err := parseArgs(nil, &stderr)
	require.NoError(t, err)
	assert.False(t, config.UseMockAudio)
	assert.Empty(t, config.InitialFile)

	config, err = parseArgs([]string{"-mock", "-log-level", "debug", "take.flac"}, &stderr)
	require.NoError(t, err)
	assert.True(t, config.UseMockAudio)
	assert.Equal(t, slog.LevelDebug, config.LogLevel)
	assert.True(t, filepath.IsAbs(config.InitialFile))
	assert.Equal(t, "take.flac", filepath.Base(config.InitialFile))
}

func TestParseArgs_Errors(t *testing.T) {
	var stderr bytes.Buffer

	_, err := parseArgs([]string{"-version"}, &stderr)
	assert.ErrorIs(t, err, errShowVersion)

	_, err = parseArgs([]string{"-h"}, &stderr)
	assert.ErrorIs(t, err, flag.ErrHelp)

	_, err = parseArgs([]string{"a.wav", "b.wav"}, &stderr)
	assert.Error(t, err)
	assert.Contains(t, stderr.String(), "Usage: reh")

	_, err = parseArgs([]string{"-log-level", "chatty"}, &stderr)
	assert.Error(t, err)
}
