package logging

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	for in, want := range map[string]slog.Level{
		"":      slog.LevelInfo,
		"debug": slog.LevelDebug,
		"warn":  slog.LevelWarn,
		"ERROR": slog.LevelError,
	} {
		got, err := ParseLevel(in)
		require.NoError(t, err)
		require.Equal(t, want, got, in)
	}
	_, err := ParseLevel("loud")
	require.Error(t, err)
}

func TestFanoutRespectsLevels(t *testing.T) {
	var debugBuf, warnBuf bytes.Buffer
	logger := slog.New(Fanout(
		slog.NewTextHandler(&debugBuf, &slog.HandlerOptions{Level: slog.LevelDebug}),
		slog.NewTextHandler(&warnBuf, &slog.HandlerOptions{Level: slog.LevelWarn}),
	)).With("component", "test")

	logger.Debug("details")
	logger.Warn("careful")

	require.Contains(t, debugBuf.String(), "details")
	require.Contains(t, debugBuf.String(), "careful")
	require.NotContains(t, warnBuf.String(), "details")
	require.Contains(t, warnBuf.String(), "component=test")
}

func TestSetupQuietWritesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "prwatch.log")
	logger, closer, err := Setup(Options{File: path, Level: "info", Quiet: true})
	require.NoError(t, err)

	logger.Info("hello", "id", "repo/x#1")
	logger.Debug("hidden")
	require.NoError(t, closer.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.True(t, strings.Contains(string(data), "hello"))
	require.Contains(t, string(data), "repo/x#1")
	require.NotContains(t, string(data), "hidden")
}
