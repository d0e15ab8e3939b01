package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/marcin-skalski/prwatch/internal/github"
	"github.com/marcin-skalski/prwatch/internal/pr"
	"github.com/marcin-skalski/prwatch/internal/runner"
	"github.com/marcin-skalski/prwatch/internal/status"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	authored    []pr.Item
	authoredErr error
	review      []pr.Item
	reviewErr   error
	details     map[string]github.Detail
	detailErrs  map[string]error

	inFlight    atomic.Int32
	maxInFlight atomic.Int32
	delay       time.Duration
}

func (f *fakeSource) ListAuthored(context.Context) ([]pr.Item, error) {
	return f.authored, f.authoredErr
}

func (f *fakeSource) ListReviewRequested(context.Context) ([]pr.Item, error) {
	return f.review, f.reviewErr
}

func (f *fakeSource) GetDetail(_ context.Context, item pr.Item) (github.Detail, error) {
	n := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		cur := f.maxInFlight.Load()
		if n <= cur || f.maxInFlight.CompareAndSwap(cur, n) {
			break
		}
	}
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if err, ok := f.detailErrs[item.ID()]; ok {
		return github.Detail{}, err
	}
	return f.details[item.ID()], nil
}

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newItem(repo string, n int, c pr.Category) pr.Item {
	return pr.Item{Repo: repo, Number: n, Category: c, Status: status.Unknown}
}

func ids(items []pr.Item) []string {
	out := make([]string, 0, len(items))
	for _, it := range items {
		out = append(out, it.ID())
	}
	return out
}

func TestFetchAllOrdersReviewRequestedFirst(t *testing.T) {
	src := &fakeSource{
		authored: []pr.Item{newItem("me/a", 1, pr.CategoryAuthored), newItem("me/a", 2, pr.CategoryAuthored)},
		review:   []pr.Item{newItem("team/b", 9, pr.CategoryReviewRequested)},
		details: map[string]github.Detail{
			"me/a#1":   {HeadRefName: "feat", Checks: []github.Check{{Conclusion: "SUCCESS"}, {Conclusion: "FAILURE"}}},
			"me/a#2":   {Mergeable: "CONFLICTING"},
			"team/b#9": {Checks: []github.Check{{Status: "IN_PROGRESS"}}},
		},
	}
	o := New(src, 2, discard())

	res, err := o.FetchAll(context.Background(), Options{})
	require.NoError(t, err)
	items := res.Items
	require.Equal(t, []string{"team/b#9", "me/a#1", "me/a#2"}, ids(items))
	require.True(t, res.Complete())
	require.Equal(t, status.Pending, items[0].Status)
	require.Equal(t, status.Failure, items[1].Status)
	require.Equal(t, "feat", items[1].Branch)
	require.Equal(t, status.Conflict, items[2].Status)
}

func TestFetchAllPartialFailureIsSwallowed(t *testing.T) {
	src := &fakeSource{
		authored:  []pr.Item{newItem("me/a", 1, pr.CategoryAuthored)},
		reviewErr: &runner.NetworkError{Command: "gh", Message: "dial tcp"},
		details:   map[string]github.Detail{},
	}
	res, err := New(src, 1, discard()).FetchAll(context.Background(), Options{})
	require.NoError(t, err)
	items := res.Items
	require.Equal(t, []string{"me/a#1"}, ids(items))
	require.Equal(t, []pr.Category{pr.CategoryReviewRequested}, res.Failed)
	require.False(t, res.Complete())
}

func TestFetchAllBothFailReturnsAuthoredError(t *testing.T) {
	authoredErr := fmt.Errorf("gh: %w", runner.ErrNotFound)
	src := &fakeSource{
		authoredErr: authoredErr,
		reviewErr:   errors.New("review broke"),
	}
	_, err := New(src, 1, discard()).FetchAll(context.Background(), Options{})
	require.ErrorIs(t, err, runner.ErrNotFound)
}

func TestFetchAllEmptyPipelinesSucceed(t *testing.T) {
	res, err := New(&fakeSource{}, 1, discard()).FetchAll(context.Background(), Options{})
	require.NoError(t, err)
	items := res.Items
	require.Empty(t, items)
	require.True(t, res.Complete())
}

func TestDetailParseErrorSkipsOnlyThatItem(t *testing.T) {
	src := &fakeSource{
		authored: []pr.Item{newItem("me/a", 1, pr.CategoryAuthored), newItem("me/a", 2, pr.CategoryAuthored)},
		details:  map[string]github.Detail{"me/a#2": {}},
		detailErrs: map[string]error{
			"me/a#1": &github.ParseError{What: "pull request detail", Err: errors.New("truncated")},
		},
	}
	res, err := New(src, 2, discard()).FetchAll(context.Background(), Options{})
	require.NoError(t, err)
	items := res.Items
	require.Equal(t, []string{"me/a#2"}, ids(items))
	require.Equal(t, status.Success, items[0].Status)
	require.Empty(t, res.Failed)
	require.Equal(t, []string{"me/a#1"}, res.Skipped)
	require.False(t, res.Complete())
}

func TestDetailExecErrorFailsPipeline(t *testing.T) {
	src := &fakeSource{
		authored: []pr.Item{newItem("me/a", 1, pr.CategoryAuthored), newItem("me/a", 2, pr.CategoryAuthored)},
		review:   []pr.Item{newItem("team/b", 3, pr.CategoryReviewRequested)},
		details:  map[string]github.Detail{},
		detailErrs: map[string]error{
			"me/a#2": &runner.ExecError{Command: "gh pr view", Message: "HTTP 502"},
		},
	}
	res, err := New(src, 2, discard()).FetchAll(context.Background(), Options{})
	require.NoError(t, err)
	items := res.Items
	require.Equal(t, []string{"team/b#3"}, ids(items))
	require.Equal(t, []pr.Category{pr.CategoryAuthored}, res.Failed)
}

func TestDetailFanOutIsBounded(t *testing.T) {
	var authored []pr.Item
	for i := 1; i <= 12; i++ {
		authored = append(authored, newItem("me/a", i, pr.CategoryAuthored))
	}
	src := &fakeSource{authored: authored, delay: 10 * time.Millisecond}

	res, err := New(src, 3, discard()).FetchAll(context.Background(), Options{})
	require.NoError(t, err)
	items := res.Items
	require.Len(t, items, 12)
	for i, it := range items {
		require.Equal(t, i+1, it.Number, "list order must be preserved")
	}
	require.LessOrEqual(t, src.maxInFlight.Load(), int32(3))
}

func TestInactivityOptionsReachClassifier(t *testing.T) {
	now := time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)
	it := newItem("me/a", 1, pr.CategoryAuthored)
	it.UpdatedAt = now.Add(-5 * 24 * time.Hour)
	src := &fakeSource{
		authored: []pr.Item{it},
		details:  map[string]github.Detail{"me/a#1": {Checks: []github.Check{{Conclusion: "SUCCESS"}}}},
	}
	o := New(src, 1, discard())
	o.now = func() time.Time { return now }

	res, err := o.FetchAll(context.Background(), Options{InactivityEnabled: true, InactivityThresholdDays: 3})
	require.NoError(t, err)
	items := res.Items
	require.Equal(t, status.Inactive, items[0].Status)

	res, err = o.FetchAll(context.Background(), Options{})
	require.NoError(t, err)
	items = res.Items
	require.Equal(t, status.Success, items[0].Status)
}

func TestPipelinesRunConcurrently(t *testing.T) {
	block := make(chan struct{})
	var once sync.Once
	src := &blockingSource{release: func() { once.Do(func() { close(block) }) }, block: block}

	done := make(chan struct{})
	go func() {
		_, _ = New(src, 1, discard()).FetchAll(context.Background(), Options{})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("pipelines did not run concurrently")
	}
}

// blockingSource's authored list waits until the review list has been called.
type blockingSource struct {
	block   chan struct{}
	release func()
}

func (b *blockingSource) ListAuthored(ctx context.Context) ([]pr.Item, error) {
	select {
	case <-b.block:
	case <-ctx.Done():
	}
	return nil, nil
}

func (b *blockingSource) ListReviewRequested(context.Context) ([]pr.Item, error) {
	b.release()
	return nil, nil
}

func (b *blockingSource) GetDetail(context.Context, pr.Item) (github.Detail, error) {
	return github.Detail{}, nil
}
