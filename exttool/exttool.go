// Package exttool runs external codec binaries with a deadline, a cap on
// captured output and a mapping from process failure to the apperrors
// taxonomy.
package exttool

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"sync"
	"time"

	"fileconvert/apperrors"
)

var (
	commandContext = exec.CommandContext
	lookPath       = exec.LookPath
)

const (
	DefaultTimeout   = 5 * time.Minute
	DefaultMaxOutput = 256 << 20
	stderrLimit      = 64 << 10
	waitDelay        = 5 * time.Second
)

// Tool describes one external binary.
type Tool struct {
	Name      string
	Binary    string
	Timeout   time.Duration
	MaxOutput int64
}

// Result is the captured output of a successful run.
type Result struct {
	Stdout   []byte
	Stderr   string
	Duration time.Duration
}

func (t Tool) name() string {
	if t.Name != "" {
		return t.Name
	}
	return t.Binary
}

// Available reports whether the binary resolves on PATH.
func (t Tool) Available() error {
	if _, err := lookPath(t.Binary); err != nil {
		return &apperrors.ExternalToolError{Tool: t.name(), Unavailable: true, Err: err}
	}
	return nil
}

// Run executes the tool in dir and returns its stdout. The process is killed
// when ctx is cancelled, when the timeout elapses, or when stdout exceeds
// MaxOutput.
func (t Tool) Run(ctx context.Context, dir string, args ...string) (*Result, error) {
	path, err := lookPath(t.Binary)
	if err != nil {
		return nil, &apperrors.ExternalToolError{Tool: t.name(), Unavailable: true, Err: err}
	}

	timeout := t.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	limit := t.MaxOutput
	if limit <= 0 {
		limit = DefaultMaxOutput
	}

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	stdout := &cappedBuffer{limit: limit, onOverflow: cancel}
	stderr := &cappedBuffer{limit: stderrLimit}

	cmd := commandContext(runCtx, path, args...) //nolint:gosec
	cmd.Dir = dir
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	cmd.WaitDelay = waitDelay

	start := time.Now()
	runErr := cmd.Run()
	elapsed := time.Since(start)

	switch {
	case stdout.Overflowed():
		return nil, &apperrors.CorruptInputError{
			Format: t.name(),
			Reason: fmt.Sprintf("tool output exceeded %d bytes", limit),
		}
	case runErr == nil:
		return &Result{Stdout: stdout.Bytes(), Stderr: stderr.String(), Duration: elapsed}, nil
	case ctx.Err() != nil:
		return nil, fmt.Errorf("%s: %w", t.name(), ctx.Err())
	case errors.Is(runCtx.Err(), context.DeadlineExceeded):
		return nil, &apperrors.TimeoutError{Tool: t.name(), After: timeout}
	}

	var exitErr *exec.ExitError
	if errors.As(runErr, &exitErr) {
		return nil, &apperrors.ExternalToolError{
			Tool:     t.name(),
			ExitCode: exitErr.ExitCode(),
			Stderr:   strings.TrimSpace(stderr.String()),
			Err:      runErr,
		}
	}
	if errors.Is(runErr, exec.ErrNotFound) {
		return nil, &apperrors.ExternalToolError{Tool: t.name(), Unavailable: true, Err: runErr}
	}
	return nil, &apperrors.ExternalToolError{Tool: t.name(), Err: runErr}
}

// cappedBuffer keeps at most limit bytes and discards the rest.
type cappedBuffer struct {
	mu         sync.Mutex
	buf        bytes.Buffer
	limit      int64
	overflowed bool
	onOverflow func()
}

func (b *cappedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	room := b.limit - int64(b.buf.Len())
	if int64(len(p)) > room {
		if room > 0 {
			b.buf.Write(p[:room])
		}
		if !b.overflowed && b.onOverflow != nil {
			b.onOverflow()
		}
		b.overflowed = true
		return len(p), nil
	}
	return b.buf.Write(p)
}

func (b *cappedBuffer) Overflowed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.overflowed
}

func (b *cappedBuffer) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]byte(nil), b.buf.Bytes()...)
}

func (b *cappedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// CheckAll reports the tools whose binaries cannot be resolved.
func CheckAll(tools ...Tool) []error {
	var missing []error
	for _, t := range tools {
		if err := t.Available(); err != nil {
			missing = append(missing, err)
		}
	}
	return missing
}
