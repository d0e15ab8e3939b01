package daemon

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/marcin-skalski/prwatch/internal/config"
	"github.com/marcin-skalski/prwatch/internal/fetch"
	"github.com/marcin-skalski/prwatch/internal/github"
	"github.com/marcin-skalski/prwatch/internal/notify"
	"github.com/marcin-skalski/prwatch/internal/pr"
	"github.com/marcin-skalski/prwatch/internal/runner"
	"github.com/marcin-skalski/prwatch/internal/status"
	"github.com/marcin-skalski/prwatch/internal/watch"
)

type Fetcher interface {
	FetchAll(ctx context.Context, opts fetch.Options) (fetch.Result, error)
}

type AvailabilityChecker interface {
	CheckAvailability(ctx context.Context) error
}

type Settings struct {
	Fetch       fetch.Options
	SettledLast bool
}

// SettingsFromConfig extracts the hot-reloadable part of cfg.
func SettingsFromConfig(cfg *config.Config) Settings {
	return Settings{
		Fetch: fetch.Options{
			InactivityEnabled:       cfg.Inactivity.Enabled,
			InactivityThresholdDays: cfg.Inactivity.ThresholdDays,
			NoChecks:                cfg.NoChecksStatus(),
		},
		SettledLast: cfg.SettledLast(),
	}
}

// Snapshot is what presentation layers read.
type Snapshot struct {
	Items       []pr.Item `json:"items"`
	LastRefresh time.Time `json:"last_refresh"`
	Available   bool      `json:"available"`
	Error       string    `json:"error,omitempty"`
	Fetching    bool      `json:"fetching"`
	Running     bool      `json:"running"`
	SettledLast bool      `json:"settled_last"`
	Interval    string    `json:"interval"`
}

// Controller drives poll cycles: availability check, fetch, watch
// reconciliation, notifications, publication. At most one cycle runs at a
// time.
type Controller struct {
	fetcher Fetcher
	checker AvailabilityChecker
	store   *watch.Store
	sink    notify.Sink
	logger  *slog.Logger
	now     func() time.Time

	runMu sync.Mutex // held for the whole cycle
	wg    sync.WaitGroup

	mu          sync.Mutex
	settings    Settings
	baseCtx     context.Context
	interval    time.Duration
	stopTimer   context.CancelFunc
	gen         uint64
	needCheck   bool
	available   bool
	fetching    bool
	raw         []pr.Item // fetch order of the last successful cycle
	published   []pr.Item
	lastRefresh time.Time
	lastErr     string
}

func New(f Fetcher, checker AvailabilityChecker, store *watch.Store, sink notify.Sink, settings Settings, logger *slog.Logger) *Controller {
	return &Controller{
		fetcher:   f,
		checker:   checker,
		store:     store,
		sink:      sink,
		logger:    logger,
		now:       time.Now,
		settings:  settings,
		needCheck: true,
		available: true,
	}
}

// Start replaces any running timer with a new one firing every interval,
// and immediately runs one cycle. The availability check is redone.
func (c *Controller) Start(ctx context.Context, interval time.Duration) {
	c.mu.Lock()
	if c.stopTimer != nil {
		c.stopTimer()
	}
	loopCtx, cancel := context.WithCancel(ctx)
	c.stopTimer = cancel
	c.baseCtx = ctx
	c.interval = interval
	c.gen++
	gen := c.gen
	c.needCheck = true
	c.available = true
	c.mu.Unlock()

	c.logger.Info("polling started", "interval", interval)

	// created before the first cycle so the first tick is interval from now
	timer := time.NewTimer(interval)
	c.wg.Add(1)
	go c.loop(loopCtx, ctx, gen, interval, timer)
}

// Stop cancels the timer without waiting. A cycle already in flight
// finishes and publishes; the last published list stays visible.
func (c *Controller) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopTimer != nil {
		c.stopTimer()
		c.stopTimer = nil
		c.logger.Info("polling stopped")
	}
}

// Wait blocks until all loop and refresh goroutines have returned.
func (c *Controller) Wait() {
	c.wg.Wait()
}

func (c *Controller) loop(loopCtx, cycleCtx context.Context, gen uint64, interval time.Duration, timer *time.Timer) {
	defer c.wg.Done()
	defer timer.Stop()

	c.runMu.Lock()
	if loopCtx.Err() == nil {
		_ = c.cycle(cycleCtx, gen)
	}
	c.runMu.Unlock()

	for {
		select {
		case <-loopCtx.Done():
			return
		case <-timer.C:
			if loopCtx.Err() != nil {
				return
			}
			if c.runMu.TryLock() {
				_ = c.cycle(cycleCtx, gen)
				c.runMu.Unlock()
			} else {
				c.logger.Debug("tick skipped, cycle in flight")
			}
			timer.Reset(interval)
		}
	}
}

// Refresh runs a cycle now in the background. While unavailable it acts as
// an explicit restart. It reports false when a cycle is already in flight
// or polling was never started.
func (c *Controller) Refresh() bool {
	c.mu.Lock()
	ctx, interval, gen, available := c.baseCtx, c.interval, c.gen, c.available
	c.mu.Unlock()

	if ctx == nil {
		return false
	}
	if !available {
		c.Start(ctx, interval)
		return true
	}
	if !c.runMu.TryLock() {
		return false
	}
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer c.runMu.Unlock()
		_ = c.cycle(ctx, gen)
	}()
	return true
}

// RunCycle runs one cycle synchronously, waiting for any in-flight cycle.
func (c *Controller) RunCycle(ctx context.Context) error {
	c.runMu.Lock()
	defer c.runMu.Unlock()
	c.mu.Lock()
	gen := c.gen
	c.mu.Unlock()
	return c.cycle(ctx, gen)
}

// cycle must be called with runMu held.
func (c *Controller) cycle(ctx context.Context, gen uint64) error {
	c.mu.Lock()
	c.fetching = true
	needCheck := c.needCheck
	settings := c.settings
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.fetching = false
		c.mu.Unlock()
	}()

	start := c.now()
	if needCheck {
		if err := c.checker.CheckAvailability(ctx); err != nil {
			return c.fail(err, gen)
		}
		c.mu.Lock()
		c.needCheck = false
		c.mu.Unlock()
	}

	res, err := c.fetcher.FetchAll(ctx, settings.Fetch)
	if err != nil {
		return c.fail(err, gen)
	}
	items := res.Items
	if !res.Complete() {
		c.logger.Warn("partial fetch, watched PRs missing from it are kept",
			"failed", res.Failed, "skipped", res.Skipped)
	}

	completed := c.store.Reconcile(items, watch.Coverage{
		Partial: len(res.Failed) > 0,
		Skipped: res.Skipped,
	})
	for _, it := range completed {
		if err := c.sink.Notify(ctx, it, it.Status); err != nil {
			c.logger.Warn("notification failed", "id", it.ID(), "err", err)
		}
	}

	c.publish(items)
	c.logger.Info("poll cycle done",
		"items", len(items),
		"completed", len(completed),
		"took", c.now().Sub(start).Round(time.Millisecond))
	return nil
}

func (c *Controller) fail(err error, gen uint64) error {
	msg := ErrorMessage(err)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastErr = msg
	if IsTerminal(err) {
		c.available = false
		c.needCheck = true
		if gen == c.gen && c.stopTimer != nil {
			c.stopTimer()
			c.stopTimer = nil
		}
		c.logger.Error("gh unavailable, automatic polling suspended", "err", err)
		return err
	}
	if runner.IsTransient(err) {
		c.logger.Warn("poll cycle failed, retrying on next tick", "err", err)
	} else {
		c.logger.Error("poll cycle failed", "err", err)
	}
	return err
}

func (c *Controller) publish(items []pr.Item) {
	c.mu.Lock()
	defer c.mu.Unlock()

	raw := make([]pr.Item, len(items))
	for i, it := range items {
		it.Watched = c.store.IsWatched(it.ID())
		raw[i] = it
	}
	c.raw = raw
	c.published = Arrange(raw, c.settings.SettledLast)
	c.lastRefresh = c.now()
	c.lastErr = ""
	c.available = true
}

// SetSettledLast changes the ordering preference and re-sorts the
// published list right away.
func (c *Controller) SetSettledLast(v bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.settings.SettledLast == v {
		return
	}
	c.settings.SettledLast = v
	c.published = Arrange(c.raw, v)
}

// ApplyConfig is the settings-changed callback for config reloads.
func (c *Controller) ApplyConfig(cfg *config.Config) {
	next := SettingsFromConfig(cfg)

	c.mu.Lock()
	c.settings.Fetch = next.Fetch
	ctx, running, interval := c.baseCtx, c.stopTimer != nil, c.interval
	c.mu.Unlock()

	c.SetSettledLast(next.SettledLast)

	if running && cfg.PollInterval != interval {
		c.logger.Info("poll interval changed", "from", interval, "to", cfg.PollInterval)
		c.Start(ctx, cfg.PollInterval)
	}
}

func (c *Controller) Watch(id string) {
	c.store.Watch(id, c.currentStatus(id))
	c.setWatched(id, true)
}

func (c *Controller) Unwatch(id string) {
	c.store.Unwatch(id)
	c.setWatched(id, false)
}

// ToggleWatch flips the watch flag and returns the new value.
func (c *Controller) ToggleWatch(id string) bool {
	if c.store.IsWatched(id) {
		c.Unwatch(id)
		return false
	}
	c.Watch(id)
	return true
}

func (c *Controller) currentStatus(id string) status.BuildStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, it := range c.raw {
		if it.ID() == id {
			return it.Status
		}
	}
	return status.Unknown
}

func (c *Controller) setWatched(id string, v bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range c.raw {
		if c.raw[i].ID() == id {
			c.raw[i].Watched = v
		}
	}
	for i := range c.published {
		if c.published[i].ID() == id {
			c.published[i].Watched = v
		}
	}
}

func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Snapshot{
		Items:       append([]pr.Item(nil), c.published...),
		LastRefresh: c.lastRefresh,
		Available:   c.available,
		Error:       c.lastErr,
		Fetching:    c.fetching,
		Running:     c.stopTimer != nil,
		SettledLast: c.settings.SettledLast,
		Interval:    c.interval.String(),
	}
}

// IsTerminal reports errors that need user action before polling can
// succeed: gh missing or logged out.
func IsTerminal(err error) bool {
	return errors.Is(err, runner.ErrNotFound) || errors.Is(err, github.ErrNotAuthenticated)
}

// ErrorMessage is the short user-facing description of a cycle failure.
func ErrorMessage(err error) string {
	var netErr *runner.NetworkError
	switch {
	case errors.Is(err, runner.ErrNotFound):
		return "GitHub CLI (gh) is not installed"
	case errors.Is(err, github.ErrNotAuthenticated):
		return "GitHub CLI is not authenticated, run `gh auth login`"
	case errors.As(err, &netErr):
		return "network unreachable"
	case errors.Is(err, runner.ErrTimeout):
		return "GitHub request timed out"
	case errors.Is(err, github.ErrParse):
		return "could not read GitHub response"
	default:
		return err.Error()
	}
}
