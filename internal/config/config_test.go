package config

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/marcin-skalski/prwatch/internal/status"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadYAMLDefaults(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "config.yaml", "workdir: "+dir+"\n")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 60*time.Second, cfg.PollInterval)
	require.Equal(t, filepath.Join(dir, "logs", "prwatch.log"), cfg.LogFile)
	require.Equal(t, filepath.Join(dir, "watch.json"), cfg.StateFile)
	require.Equal(t, "gh", cfg.GH.Binary)
	require.Equal(t, 30*time.Second, cfg.GH.Timeout)
	require.Equal(t, 4, cfg.GH.MaxParallel)
	require.Equal(t, 3, cfg.Inactivity.ThresholdDays)
	require.False(t, cfg.Inactivity.Enabled)
	require.Equal(t, status.Success, cfg.NoChecksStatus())
	require.True(t, cfg.SettledLast())
	require.True(t, cfg.Notify.Desktop.Enabled)
	require.Equal(t, time.Second, cfg.TUI.RefreshInterval)
	require.Equal(t, "127.0.0.1:7420", cfg.Server.Addr)
}

func TestLoadYAMLOverrides(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "config.yml", `
poll_interval: 2m
workdir: `+dir+`
gh:
  timeout: 10s
  max_parallel: 2
inactivity:
  enabled: true
  threshold_days: 7
classifier:
  no_checks: unknown
sort:
  settled_last: false
notify:
  desktop:
    enabled: false
  webhook:
    enabled: true
    url: https://example.com/hook
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 2*time.Minute, cfg.PollInterval)
	require.Equal(t, 10*time.Second, cfg.GH.Timeout)
	require.Equal(t, 2, cfg.GH.MaxParallel)
	require.True(t, cfg.Inactivity.Enabled)
	require.Equal(t, 7, cfg.Inactivity.ThresholdDays)
	require.Equal(t, status.Unknown, cfg.NoChecksStatus())
	require.False(t, cfg.SettledLast())
	require.False(t, cfg.Notify.Desktop.Enabled)
	require.Equal(t, "https://example.com/hook", cfg.Notify.Webhook.URL)
}

func TestLoadTOML(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "config.toml", `
poll_interval = "45s"
workdir = "`+dir+`"

[inactivity]
enabled = true
threshold_days = 5

[server]
enabled = true
addr = ":9000"
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 45*time.Second, cfg.PollInterval)
	require.True(t, cfg.Inactivity.Enabled)
	require.Equal(t, 5, cfg.Inactivity.ThresholdDays)
	require.True(t, cfg.Server.Enabled)
	require.Equal(t, ":9000", cfg.Server.Addr)
}

func TestLoadInvalid(t *testing.T) {
	tests := map[string]string{
		"bad interval":   "poll_interval: soon\n",
		"short interval": "poll_interval: 100ms\n",
		"bad no_checks":  "classifier:\n  no_checks: pending\n",
		"bad level":      "log:\n  level: loud\n",
		"webhook no url": "notify:\n  webhook:\n    enabled: true\n",
		"zero parallel":  "gh:\n  max_parallel: -1\n",
		"bad yaml":       "poll_interval: [\n",
	}
	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			dir := t.TempDir()
			_, err := Load(writeFile(t, dir, "config.yaml", "workdir: "+dir+"\n"+body))
			require.Error(t, err)
		})
	}
}

func TestLoadOrDefaultMissingFile(t *testing.T) {
	cfg, err := LoadOrDefault(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	require.Equal(t, 60*time.Second, cfg.PollInterval)
}

func TestWatcherReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "config.yaml", "workdir: "+dir+"\nsort:\n  settled_last: true\n")

	got := make(chan *Config, 4)
	w := NewWatcher(path, func(c *Config) { got <- c }, slog.New(slog.NewTextHandler(io.Discard, nil)))
	w.debounce = 20 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	// give the watcher time to register before writing
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, os.WriteFile(path, []byte("workdir: "+dir+"\nsort:\n  settled_last: false\n"), 0o644))

	select {
	case cfg := <-got:
		require.False(t, cfg.SettledLast())
	case <-time.After(3 * time.Second):
		t.Fatal("no reload observed")
	}

	cancel()
	require.NoError(t, <-done)
}
