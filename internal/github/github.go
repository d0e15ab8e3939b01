package github

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/marcin-skalski/prwatch/internal/pr"
	"github.com/marcin-skalski/prwatch/internal/runner"
)

var ErrNotAuthenticated = errors.New("gh is not authenticated")

const listFields = "number,title,repository,url,author,updatedAt,labels,isDraft"

const detailFields = "headRefName,statusCheckRollup,mergeable,mergeStateStatus,reviewDecision"

type Options struct {
	Binary  string
	Timeout time.Duration
	Limit   int
}

// Client talks to GitHub through the gh CLI.
type Client struct {
	run    runner.Runner
	opts   Options
	logger *slog.Logger
}

func NewClient(r runner.Runner, opts Options, logger *slog.Logger) *Client {
	if opts.Binary == "" {
		opts.Binary = "gh"
	}
	if opts.Timeout <= 0 {
		opts.Timeout = runner.DefaultTimeout
	}
	if opts.Limit <= 0 {
		opts.Limit = 100
	}
	return &Client{run: r, opts: opts, logger: logger}
}

// CheckAvailability verifies that gh is installed and logged in.
func (c *Client) CheckAvailability(ctx context.Context) error {
	if _, err := c.gh(ctx, "--version"); err != nil {
		if errors.Is(err, runner.ErrNotFound) {
			return err
		}
		return fmt.Errorf("gh --version: %w", err)
	}
	if _, err := c.gh(ctx, "auth", "status"); err != nil {
		var execErr *runner.ExecError
		if errors.As(err, &execErr) {
			return fmt.Errorf("%w: %s", ErrNotAuthenticated, execErr.Message)
		}
		return fmt.Errorf("gh auth status: %w", err)
	}
	return nil
}

func (c *Client) ListAuthored(ctx context.Context) ([]pr.Item, error) {
	return c.search(ctx, pr.CategoryAuthored, "--author=@me")
}

func (c *Client) ListReviewRequested(ctx context.Context) ([]pr.Item, error) {
	return c.search(ctx, pr.CategoryReviewRequested, "--review-requested=@me")
}

func (c *Client) search(ctx context.Context, category pr.Category, filter string) ([]pr.Item, error) {
	out, err := c.gh(ctx,
		"search", "prs",
		filter,
		"--state=open",
		"--json", listFields,
		"--limit", strconv.Itoa(c.opts.Limit),
	)
	if err != nil {
		return nil, fmt.Errorf("list %s PRs: %w", category, err)
	}

	items, err := ParseItems(out, category)
	if err != nil {
		return nil, fmt.Errorf("list %s PRs: %w", category, err)
	}
	c.logger.Debug("listed PRs", "category", category, "count", len(items))
	return items, nil
}

// GetDetail fetches checks, merge state and review decision for one PR.
func (c *Client) GetDetail(ctx context.Context, item pr.Item) (Detail, error) {
	out, err := c.gh(ctx,
		"pr", "view", strconv.Itoa(item.Number),
		"-R", item.Repo,
		"--json", detailFields,
	)
	if err != nil {
		return Detail{}, fmt.Errorf("get PR %s: %w", item.ID(), err)
	}

	d, err := ParseDetail(out)
	if err != nil {
		return Detail{}, fmt.Errorf("get PR %s: %w", item.ID(), err)
	}
	return d, nil
}

func (c *Client) gh(ctx context.Context, args ...string) ([]byte, error) {
	out, err := c.run.Run(ctx, c.opts.Binary, args, c.opts.Timeout)
	if err != nil {
		return nil, asAuthError(err)
	}
	return out, nil
}

// gh prints a login hint on any command run without credentials.
func asAuthError(err error) error {
	var execErr *runner.ExecError
	if errors.As(err, &execErr) {
		msg := strings.ToLower(execErr.Message)
		if strings.Contains(msg, "gh auth login") || strings.Contains(msg, "not logged in") {
			return fmt.Errorf("%w: %s", ErrNotAuthenticated, execErr.Message)
		}
	}
	return err
}
