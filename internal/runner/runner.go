package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"
)

const DefaultTimeout = 30 * time.Second

var (
	ErrNotFound = errors.New("command not found")
	ErrTimeout  = errors.New("command timed out")
)

// ExecError is a command that ran but failed.
type ExecError struct {
	Command string
	Message string
}

func (e *ExecError) Error() string {
	return fmt.Sprintf("%s: %s", e.Command, e.Message)
}

// NetworkError is an ExecError whose output looks like a connectivity problem.
type NetworkError struct {
	Command string
	Message string
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("%s: network unreachable: %s", e.Command, e.Message)
}

// Runner executes an external command and returns its stdout.
// Implementations must be safe for concurrent use.
type Runner interface {
	Run(ctx context.Context, name string, args []string, timeout time.Duration) ([]byte, error)
}

type ExecRunner struct {
	logger *slog.Logger
}

func New(logger *slog.Logger) *ExecRunner {
	return &ExecRunner{logger: logger}
}

func (r *ExecRunner) Run(ctx context.Context, name string, args []string, timeout time.Duration) ([]byte, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	cmdline := name + " " + strings.Join(args, " ")
	r.logger.Debug("exec", "cmd", cmdline, "timeout", timeout)

	if _, err := exec.LookPath(name); err != nil {
		return nil, fmt.Errorf("%s: %w", name, ErrNotFound)
	}

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(runCtx, name, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	if err == nil {
		r.logger.Debug("exec done", "cmd", name, "took", time.Since(start).Round(time.Millisecond))
		return stdout.Bytes(), nil
	}

	if errors.Is(runCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		return nil, fmt.Errorf("%s after %s: %w", cmdline, timeout, ErrTimeout)
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if errors.Is(err, exec.ErrNotFound) {
		return nil, fmt.Errorf("%s: %w", name, ErrNotFound)
	}

	msg := strings.TrimSpace(stderr.String())
	if msg == "" {
		msg = err.Error()
	}
	return nil, Classify(cmdline, msg)
}

var networkMarkers = []string{
	"error connecting",
	"could not resolve host",
	"network is unreachable",
	"dial tcp",
	"no such host",
	"connection refused",
	"i/o timeout",
	"unable to connect",
	"failed to connect",
}

// Classify turns a failure message into an ExecError, or a NetworkError
// when the message matches a known connectivity failure.
func Classify(command, message string) error {
	if IsNetworkMessage(message) {
		return &NetworkError{Command: command, Message: message}
	}
	return &ExecError{Command: command, Message: message}
}

func IsNetworkMessage(message string) bool {
	lower := strings.ToLower(message)
	for _, m := range networkMarkers {
		if strings.Contains(lower, m) {
			return true
		}
	}
	return false
}

// IsTransient reports whether err is worth retrying on the next tick.
func IsTransient(err error) bool {
	var netErr *NetworkError
	var execErr *ExecError
	return errors.Is(err, ErrTimeout) || errors.As(err, &netErr) || errors.As(err, &execErr)
}
