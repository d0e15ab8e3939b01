package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"text/tabwriter"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/marcin-skalski/prwatch/internal/config"
	"github.com/marcin-skalski/prwatch/internal/daemon"
	"github.com/marcin-skalski/prwatch/internal/fetch"
	"github.com/marcin-skalski/prwatch/internal/github"
	"github.com/marcin-skalski/prwatch/internal/logging"
	"github.com/marcin-skalski/prwatch/internal/notify"
	"github.com/marcin-skalski/prwatch/internal/runner"
	"github.com/marcin-skalski/prwatch/internal/server"
	"github.com/marcin-skalski/prwatch/internal/status"
	"github.com/marcin-skalski/prwatch/internal/tui"
	"github.com/marcin-skalski/prwatch/internal/watch"
)

var (
	Version   = "dev"
	BuildTime = "unknown"
)

type options struct {
	configPath string
	noTUI      bool
	jsonOut    bool
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	cmd := &cobra.Command{
		Use:   "prwatch",
		Short: "Watch the CI status of your GitHub pull requests",
		Long: `prwatch polls the gh CLI for pull requests you authored or were asked to
review, rolls their checks, mergeability and reviews into one status, and
notifies you when a watched pull request finishes its checks.`,
		Version:       fmt.Sprintf("%s (built: %s)", Version, BuildTime),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), opts)
		},
	}
	cmd.PersistentFlags().StringVar(&opts.configPath, "config", defaultConfigPath(), "path to config file (.yaml or .toml)")
	cmd.Flags().BoolVar(&opts.noTUI, "no-tui", false, "disable TUI mode")

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Poll continuously and show the dashboard",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), opts)
		},
	}
	runCmd.Flags().BoolVar(&opts.noTUI, "no-tui", false, "disable TUI mode")

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Fetch once and print every pull request with its status",
		Long: `Fetch once and print every pull request with its status.
Exits with code 1 when the fetch fails or any pull request has failing checks.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(cmd.Context(), cmd.OutOrStdout(), opts)
		},
	}
	statusCmd.Flags().BoolVar(&opts.jsonOut, "json", false, "print JSON instead of a table")

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "prwatch %s (built: %s)\n", Version, BuildTime)
		},
	}

	cmd.AddCommand(runCmd, statusCmd, versionCmd)
	return cmd
}

func defaultConfigPath() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "prwatch", "config.yaml")
	}
	return "config.yaml"
}

type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	closeLog io.Closer
	client   *github.Client
	fetcher  *fetch.Orchestrator
}

func setup(opts *options, quiet bool) (*app, error) {
	cfg, err := config.LoadOrDefault(opts.configPath)
	if err != nil {
		return nil, err
	}

	logger, closer, err := logging.Setup(logging.Options{File: cfg.LogFile, Level: cfg.Log.Level, Quiet: quiet})
	if err != nil {
		return nil, fmt.Errorf("setup logger: %w", err)
	}

	client := github.NewClient(runner.New(logger), github.Options{
		Binary:  cfg.GH.Binary,
		Timeout: cfg.GH.Timeout,
		Limit:   cfg.GH.Limit,
	}, logger)

	return &app{
		cfg:      cfg,
		logger:   logger,
		closeLog: closer,
		client:   client,
		fetcher:  fetch.New(client, cfg.GH.MaxParallel, logger),
	}, nil
}

func run(ctx context.Context, opts *options) error {
	// Auto-detect TUI capability
	enableTUI := !opts.noTUI && os.Getenv("PRWATCH_TUI") != "0" &&
		isatty.IsTerminal(os.Stdin.Fd()) && isatty.IsTerminal(os.Stdout.Fd())

	a, err := setup(opts, enableTUI)
	if err != nil {
		return err
	}
	defer a.closeLog.Close()

	notifier, err := notify.New(a.cfg.Notify, a.logger)
	if err != nil {
		return fmt.Errorf("setup notifications: %w", err)
	}

	store := watch.NewStore(watch.NewFileStore(a.cfg.StateFile), a.logger)
	ctrl := daemon.New(a.fetcher, a.client, store, notifier, daemon.SettingsFromConfig(a.cfg), a.logger)

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	a.logger.Info("prwatch starting",
		"config", opts.configPath,
		"tui", enableTUI,
		"notify", notifier.Channels(),
		"watched", len(store.Watched()))

	ctrl.Start(ctx, a.cfg.PollInterval)
	defer func() {
		ctrl.Stop()
		cancel()
		ctrl.Wait()
	}()

	go func() {
		w := config.NewWatcher(opts.configPath, ctrl.ApplyConfig, a.logger)
		if err := w.Run(ctx); err != nil && ctx.Err() == nil {
			a.logger.Warn("config watcher stopped", "err", err)
		}
	}()

	if a.cfg.Server.Enabled {
		srv := server.New(ctrl, a.logger)
		go func() {
			if err := srv.Listen(a.cfg.Server.Addr); err != nil {
				a.logger.Error("http api failed", "err", err)
			}
		}()
		defer func() {
			if err := srv.Shutdown(); err != nil {
				a.logger.Warn("http api shutdown", "err", err)
			}
		}()
	}

	if enableTUI {
		// TUI in foreground, poller in background
		errCh := make(chan error, 1)
		go func() { errCh <- tui.Run(ctrl, a.cfg.TUI.RefreshInterval) }()
		select {
		case err := <-errCh:
			if err != nil {
				return fmt.Errorf("tui: %w", err)
			}
		case <-ctx.Done():
		}
		return nil
	}

	a.logger.Info("prwatch running headless", "interval", a.cfg.PollInterval)
	<-ctx.Done()
	a.logger.Info("shutting down")
	return nil
}

func runStatus(ctx context.Context, out io.Writer, opts *options) error {
	a, err := setup(opts, true)
	if err != nil {
		return err
	}
	defer a.closeLog.Close()

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := a.client.CheckAvailability(ctx); err != nil {
		return errors.New(daemon.ErrorMessage(err))
	}

	settings := daemon.SettingsFromConfig(a.cfg)
	res, err := a.fetcher.FetchAll(ctx, settings.Fetch)
	if err != nil {
		return errors.New(daemon.ErrorMessage(err))
	}
	if !res.Complete() {
		a.logger.Warn("partial fetch", "failed", res.Failed, "skipped", res.Skipped)
		fmt.Fprintf(os.Stderr, "warning: incomplete results (failed: %v, skipped: %d)\n", res.Failed, len(res.Skipped))
	}
	items := daemon.Arrange(res.Items, settings.SettledLast)

	if opts.jsonOut {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(items); err != nil {
			return err
		}
	} else {
		tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "STATUS\tPR\tCATEGORY\tTITLE")
		for _, it := range items {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", it.Status, it.ID(), it.Category, it.Title)
		}
		if err := tw.Flush(); err != nil {
			return err
		}
	}

	for _, it := range items {
		if it.Status == status.Failure || it.Status == status.Error {
			return fmt.Errorf("%s has failing checks", it.ID())
		}
	}
	return nil
}
