// Package notify delivers "pull request settled" events to the desktop, a
// log file, a webhook or a shell command.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"text/template"
	"time"

	"github.com/google/uuid"

	"github.com/marcin-skalski/prwatch/internal/pr"
	"github.com/marcin-skalski/prwatch/internal/status"
)

// Sink receives one call per watched item that settled.
type Sink interface {
	Notify(ctx context.Context, item pr.Item, s status.BuildStatus) error
}

type Event struct {
	ID        string             `json:"id"`
	Timestamp time.Time          `json:"timestamp"`
	Item      string             `json:"item"`
	Title     string             `json:"title"`
	URL       string             `json:"url"`
	Status    status.BuildStatus `json:"status"`
	Message   string             `json:"message"`
}

type Config struct {
	Desktop DesktopConfig `yaml:"desktop" toml:"desktop"`
	Log     LogConfig     `yaml:"log" toml:"log"`
	Webhook WebhookConfig `yaml:"webhook" toml:"webhook"`
	Shell   ShellConfig   `yaml:"shell" toml:"shell"`
}

type DesktopConfig struct {
	Enabled bool   `yaml:"enabled" toml:"enabled"`
	Title   string `yaml:"title" toml:"title"`
}

type LogConfig struct {
	Enabled bool   `yaml:"enabled" toml:"enabled"`
	Path    string `yaml:"path" toml:"path"`
}

type WebhookConfig struct {
	Enabled  bool              `yaml:"enabled" toml:"enabled"`
	URL      string            `yaml:"url" toml:"url"`
	Method   string            `yaml:"method" toml:"method"`
	Template string            `yaml:"template" toml:"template"` // Go template for the body
	Headers  map[string]string `yaml:"headers" toml:"headers"`
}

type ShellConfig struct {
	Enabled bool   `yaml:"enabled" toml:"enabled"`
	Command string `yaml:"command" toml:"command"`
}

func DefaultConfig() Config {
	return Config{
		Desktop: DesktopConfig{Enabled: true, Title: "prwatch"},
		Webhook: WebhookConfig{Method: http.MethodPost},
	}
}

const defaultWebhookTemplate = `{"id":"{{.ID}}","item":"{{jsonEscape .Item}}","status":"{{.Status}}","url":"{{jsonEscape .URL}}","message":"{{jsonEscape .Message}}","timestamp":"{{.Timestamp.Format "2006-01-02T15:04:05Z07:00"}}"}`

type channel func(ctx context.Context, ev Event) error

// Notifier fans an event out to every enabled channel in parallel.
type Notifier struct {
	cfg        Config
	channels   map[string]channel
	logger     *slog.Logger
	httpClient *http.Client
	tmpl       *template.Template
	mu         sync.Mutex // serializes log file appends
	now        func() time.Time
}

func New(cfg Config, logger *slog.Logger) (*Notifier, error) {
	cfg.Webhook.URL = os.ExpandEnv(cfg.Webhook.URL)
	cfg.Shell.Command = os.ExpandEnv(cfg.Shell.Command)
	cfg.Log.Path = expandHome(os.ExpandEnv(cfg.Log.Path))
	for k, v := range cfg.Webhook.Headers {
		cfg.Webhook.Headers[k] = os.ExpandEnv(v)
	}

	n := &Notifier{
		cfg:        cfg,
		channels:   make(map[string]channel),
		logger:     logger,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		now:        time.Now,
	}

	if cfg.Desktop.Enabled {
		n.channels["desktop"] = n.sendDesktop
	}
	if cfg.Log.Enabled && cfg.Log.Path != "" {
		n.channels["log"] = n.sendLog
	}
	if cfg.Webhook.Enabled && cfg.Webhook.URL != "" {
		src := cfg.Webhook.Template
		if src == "" {
			src = defaultWebhookTemplate
		}
		tmpl, err := template.New("webhook").Funcs(template.FuncMap{"jsonEscape": jsonEscape}).Parse(src)
		if err != nil {
			return nil, fmt.Errorf("parse webhook template: %w", err)
		}
		n.tmpl = tmpl
		n.channels["webhook"] = n.sendWebhook
	}
	if cfg.Shell.Enabled && cfg.Shell.Command != "" {
		n.channels["shell"] = n.sendShell
	}
	return n, nil
}

// Channels lists the enabled channel names.
func (n *Notifier) Channels() []string {
	names := make([]string, 0, len(n.channels))
	for name := range n.channels {
		names = append(names, name)
	}
	return names
}

func (n *Notifier) Notify(ctx context.Context, item pr.Item, s status.BuildStatus) error {
	ev := Event{
		ID:        uuid.NewString(),
		Timestamp: n.now().UTC(),
		Item:      item.ID(),
		Title:     item.Title,
		URL:       item.URL,
		Status:    s,
		Message:   Message(item, s),
	}
	n.logger.Info("notify", "event", ev.ID, "item", ev.Item, "status", s, "channels", len(n.channels))

	var (
		wg    sync.WaitGroup
		errMu sync.Mutex
		errs  []error
	)
	for name, send := range n.channels {
		name, send := name, send
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := send(ctx, ev); err != nil {
				errMu.Lock()
				errs = append(errs, fmt.Errorf("%s: %w", name, err))
				errMu.Unlock()
			}
		}()
	}
	wg.Wait()
	return errors.Join(errs...)
}

// Message is the human-readable one-liner for a settled item.
func Message(item pr.Item, s status.BuildStatus) string {
	var verb string
	switch s {
	case status.Success:
		verb = "checks passed"
	case status.Failure:
		verb = "checks failed"
	case status.Error:
		verb = "checks need attention"
	default:
		verb = "is now " + string(s)
	}
	return fmt.Sprintf("%s %s: %s", item.ID(), verb, item.Title)
}

func (n *Notifier) sendDesktop(ctx context.Context, ev Event) error {
	title := n.cfg.Desktop.Title
	if title == "" {
		title = "prwatch"
	}
	switch runtime.GOOS {
	case "darwin":
		script := fmt.Sprintf(`display notification %q with title %q`, ev.Message, title)
		return exec.CommandContext(ctx, "osascript", "-e", script).Run()
	case "linux":
		if _, err := exec.LookPath("notify-send"); err != nil {
			return fmt.Errorf("notify-send not found")
		}
		return exec.CommandContext(ctx, "notify-send", title, ev.Message).Run()
	default:
		return fmt.Errorf("desktop notifications not supported on %s", runtime.GOOS)
	}
}

func (n *Notifier) sendLog(_ context.Context, ev Event) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	path := n.cfg.Log.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create log dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	defer f.Close()

	line := fmt.Sprintf("[%s] %s %s: %s\n", ev.Timestamp.Format(time.RFC3339), ev.Status, ev.Item, ev.Message)
	if _, err := f.WriteString(line); err != nil {
		return fmt.Errorf("write log file: %w", err)
	}
	return nil
}

func (n *Notifier) sendWebhook(ctx context.Context, ev Event) error {
	var body bytes.Buffer
	if err := n.tmpl.Execute(&body, ev); err != nil {
		return fmt.Errorf("render webhook body: %w", err)
	}

	method := n.cfg.Webhook.Method
	if method == "" {
		method = http.MethodPost
	}
	req, err := http.NewRequestWithContext(ctx, method, n.cfg.Webhook.URL, &body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range n.cfg.Webhook.Headers {
		req.Header.Set(k, v)
	}

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("webhook returned %d: %s", resp.StatusCode, string(b))
	}
	return nil
}

func (n *Notifier) sendShell(ctx context.Context, ev Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}

	cmd := exec.CommandContext(ctx, "sh", "-c", expandHome(n.cfg.Shell.Command))
	cmd.Stdin = bytes.NewReader(payload)
	cmd.Env = append(os.Environ(),
		"PRWATCH_EVENT_ID="+ev.ID,
		"PRWATCH_ITEM="+ev.Item,
		"PRWATCH_STATUS="+string(ev.Status),
		"PRWATCH_URL="+ev.URL,
		"PRWATCH_MESSAGE="+ev.Message,
	)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("%w: %s", err, strings.TrimSpace(string(out)))
	}
	return nil
}

func jsonEscape(s string) string {
	b, err := json.Marshal(s)
	if err != nil {
		return ""
	}
	return string(b[1 : len(b)-1])
}

func expandHome(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[1:])
}
