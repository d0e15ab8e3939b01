package github

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/marcin-skalski/prwatch/internal/pr"
	"github.com/marcin-skalski/prwatch/internal/runner"
	"github.com/stretchr/testify/require"
)

type call struct {
	name string
	args []string
}

type fakeRunner struct {
	mu      sync.Mutex
	calls   []call
	respond func(args []string) ([]byte, error)
}

func (f *fakeRunner) Run(_ context.Context, name string, args []string, _ time.Duration) ([]byte, error) {
	f.mu.Lock()
	f.calls = append(f.calls, call{name: name, args: args})
	f.mu.Unlock()
	return f.respond(args)
}

func newTestClient(f *fakeRunner) *Client {
	return NewClient(f, Options{Binary: "gh", Limit: 50}, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestListAuthoredArgs(t *testing.T) {
	f := &fakeRunner{respond: func([]string) ([]byte, error) { return []byte(listJSON), nil }}
	c := newTestClient(f)

	items, err := c.ListAuthored(context.Background())
	require.NoError(t, err)
	require.Len(t, items, 2)
	require.Equal(t, pr.CategoryAuthored, items[0].Category)

	require.Len(t, f.calls, 1)
	args := strings.Join(f.calls[0].args, " ")
	require.Contains(t, args, "search prs --author=@me --state=open")
	require.Contains(t, args, "--limit 50")
	require.Contains(t, args, listFields)
}

func TestListReviewRequestedParseFailure(t *testing.T) {
	f := &fakeRunner{respond: func([]string) ([]byte, error) { return []byte("not json"), nil }}
	c := newTestClient(f)

	_, err := c.ListReviewRequested(context.Background())
	require.ErrorIs(t, err, ErrParse)
	require.Contains(t, strings.Join(f.calls[0].args, " "), "--review-requested=@me")
}

func TestGetDetail(t *testing.T) {
	f := &fakeRunner{respond: func([]string) ([]byte, error) { return []byte(detailJSON), nil }}
	c := newTestClient(f)

	d, err := c.GetDetail(context.Background(), pr.Item{Repo: "repo/x", Number: 42})
	require.NoError(t, err)
	require.Equal(t, "feature/retries", d.HeadRefName)
	require.Equal(t, []string{"pr", "view", "42", "-R", "repo/x", "--json", detailFields}, f.calls[0].args)
}

func TestAuthHintBecomesNotAuthenticated(t *testing.T) {
	f := &fakeRunner{respond: func([]string) ([]byte, error) {
		return nil, runner.Classify("gh search prs", "To get started with GitHub CLI, please run:  gh auth login")
	}}
	c := newTestClient(f)

	_, err := c.ListAuthored(context.Background())
	require.ErrorIs(t, err, ErrNotAuthenticated)
}

func TestCheckAvailability(t *testing.T) {
	tests := []struct {
		name    string
		respond func(args []string) ([]byte, error)
		wantErr error
	}{
		{
			name:    "ok",
			respond: func([]string) ([]byte, error) { return []byte("ok"), nil },
		},
		{
			name: "not installed",
			respond: func([]string) ([]byte, error) {
				return nil, fmt.Errorf("gh: %w", runner.ErrNotFound)
			},
			wantErr: runner.ErrNotFound,
		},
		{
			name: "logged out",
			respond: func(args []string) ([]byte, error) {
				if args[0] == "auth" {
					return nil, runner.Classify("gh auth status", "You are not logged into any GitHub hosts.")
				}
				return []byte("gh version 2.40.0"), nil
			},
			wantErr: ErrNotAuthenticated,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(&fakeRunner{respond: tt.respond})
			err := c.CheckAvailability(context.Background())
			if tt.wantErr == nil {
				require.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestCheckAvailabilityNetworkIsNotAuth(t *testing.T) {
	f := &fakeRunner{respond: func(args []string) ([]byte, error) {
		if args[0] == "auth" {
			return nil, runner.Classify("gh auth status", "error connecting to api.github.com")
		}
		return []byte("gh version 2.40.0"), nil
	}}
	err := newTestClient(f).CheckAvailability(context.Background())
	require.Error(t, err)
	require.NotErrorIs(t, err, ErrNotAuthenticated)
	var netErr *runner.NetworkError
	require.ErrorAs(t, err, &netErr)
}
