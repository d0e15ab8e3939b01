// Package fetch runs the two retrieval pipelines (authored by me, review
// requested of me) and classifies every pull request they return.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/marcin-skalski/prwatch/internal/github"
	"github.com/marcin-skalski/prwatch/internal/pr"
	"github.com/marcin-skalski/prwatch/internal/status"
)

type Source interface {
	ListAuthored(ctx context.Context) ([]pr.Item, error)
	ListReviewRequested(ctx context.Context) ([]pr.Item, error)
	GetDetail(ctx context.Context, item pr.Item) (github.Detail, error)
}

type Options struct {
	InactivityEnabled       bool
	InactivityThresholdDays int
	NoChecks                status.BuildStatus
}

type Orchestrator struct {
	src         Source
	maxParallel int
	logger      *slog.Logger
	now         func() time.Time
}

func New(src Source, maxParallel int, logger *slog.Logger) *Orchestrator {
	if maxParallel <= 0 {
		maxParallel = 4
	}
	return &Orchestrator{
		src:         src,
		maxParallel: maxParallel,
		logger:      logger,
		now:         time.Now,
	}
}

type pipeline struct {
	category pr.Category
	list     func(context.Context) ([]pr.Item, error)
}

// Result is one fetch. Failed and Skipped say which open pull requests may
// be missing from Items.
type Result struct {
	Items []pr.Item
	// Failed lists pipelines that errored and contributed nothing.
	Failed []pr.Category
	// Skipped holds ids that were listed but whose detail was unreadable.
	Skipped []string
}

// Complete reports whether Items holds every open pull request.
func (r Result) Complete() bool {
	return len(r.Failed) == 0 && len(r.Skipped) == 0
}

type pipelineResult struct {
	items   []pr.Item
	skipped []string
	err     error
}

// FetchAll returns review-requested items followed by authored items. It
// fails only when both pipelines fail, with the authored pipeline's error.
func (o *Orchestrator) FetchAll(ctx context.Context, opts Options) (Result, error) {
	now := o.now()

	var (
		authored, review pipelineResult
		wg               sync.WaitGroup
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		authored = o.run(ctx, pipeline{pr.CategoryAuthored, o.src.ListAuthored}, opts, now)
	}()
	go func() {
		defer wg.Done()
		review = o.run(ctx, pipeline{pr.CategoryReviewRequested, o.src.ListReviewRequested}, opts, now)
	}()
	wg.Wait()

	if authored.err != nil && review.err != nil {
		return Result{}, authored.err
	}

	res := Result{Items: make([]pr.Item, 0, len(review.items)+len(authored.items))}
	res.Items = append(res.Items, review.items...)
	res.Items = append(res.Items, authored.items...)
	res.Skipped = append(res.Skipped, review.skipped...)
	res.Skipped = append(res.Skipped, authored.skipped...)
	if review.err != nil {
		res.Failed = append(res.Failed, pr.CategoryReviewRequested)
	}
	if authored.err != nil {
		res.Failed = append(res.Failed, pr.CategoryAuthored)
	}
	return res, nil
}

// run never lets its failure reach the other pipeline; the error is logged
// here and returned for the combination policy only.
func (o *Orchestrator) run(ctx context.Context, p pipeline, opts Options, now time.Time) pipelineResult {
	logger := o.logger.With("pipeline", p.category)

	res := o.collect(ctx, p, opts, now, logger)
	if res.err != nil {
		logger.Warn("pipeline failed", "err", res.err)
		return pipelineResult{err: res.err}
	}
	logger.Debug("pipeline done", "items", len(res.items), "skipped", len(res.skipped))
	return res
}

func (o *Orchestrator) collect(ctx context.Context, p pipeline, opts Options, now time.Time, logger *slog.Logger) pipelineResult {
	listed, err := p.list(ctx)
	if err != nil {
		return pipelineResult{err: err}
	}

	results := make([]pr.Item, len(listed))
	keep := make([]bool, len(listed))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.maxParallel)
	for i := range listed {
		i := i
		g.Go(func() error {
			item := listed[i]
			d, err := o.src.GetDetail(gctx, item)
			if errors.Is(err, github.ErrParse) {
				logger.Warn("skipping PR with unreadable detail", "id", item.ID(), "err", err)
				return nil
			}
			if err != nil {
				return fmt.Errorf("detail %s: %w", item.ID(), err)
			}

			item.Branch = d.HeadRefName
			item.Status = status.Classify(status.Input{
				Checks:                  d.Signals(),
				Mergeable:               d.Mergeable,
				MergeStateStatus:        d.MergeStateStatus,
				ReviewDecision:          d.ReviewDecision,
				UpdatedAt:               item.UpdatedAt,
				Now:                     now,
				InactivityEnabled:       opts.InactivityEnabled,
				InactivityThresholdDays: opts.InactivityThresholdDays,
				NoChecks:                opts.NoChecks,
			})
			if logger.Enabled(gctx, slog.LevelDebug) {
				checks := make([]string, 0, len(d.Checks))
				for _, c := range d.Checks {
					checks = append(checks, c.ID+"="+c.Conclusion+c.State)
				}
				logger.Debug("classified", "id", item.ID(), "status", item.Status, "checks", checks)
			}
			results[i] = item
			keep[i] = true
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return pipelineResult{err: err}
	}

	var res pipelineResult
	res.items = make([]pr.Item, 0, len(listed))
	for i, ok := range keep {
		if ok {
			res.items = append(res.items, results[i])
		} else {
			res.skipped = append(res.skipped, listed[i].ID())
		}
	}
	return res
}
