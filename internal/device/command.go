package device

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"time"
)

type StderrFunc func(ctx context.Context, line string)

type Command struct {
	Path    string
	Args    []string
	Timeout time.Duration
}

type Result struct {
	Started time.Time
	Stopped time.Time
	State   *os.ProcessState
	Stdout  *bytes.Buffer
	Err     error
}

// run executes proto and waits for it. Stdout is captured in the result,
// stderr is streamed line by line to stderrFunc when it is not nil.
func run(ctx context.Context, proto Command, stderrFunc StderrFunc) Result {
	result := Result{
		Stdout: &bytes.Buffer{},
	}

	if proto.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, proto.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, proto.Path, proto.Args...)
	cmd.Stdout = result.Stdout

	var stderr io.ReadCloser
	if stderrFunc != nil {
		var err error
		stderr, err = cmd.StderrPipe()
		if err != nil {
			result.Err = err
			return result
		}
	}

	result.Started = time.Now().UTC()
	if err := cmd.Start(); err != nil {
		result.Stopped = time.Now().UTC()
		result.Err = err
		return result
	}

	// Wait closes the pipe, so stderr is drained before calling it
	if stderr != nil {
		processStderr(ctx, stderr, stderrFunc)
	}

	result.Err = cmd.Wait()
	result.Stopped = time.Now().UTC()
	result.State = cmd.ProcessState
	slog.DebugContext(ctx, "command finished",
		"path", proto.Path,
		"args", proto.Args,
		"exit_code", result.State.ExitCode(),
		"duration", result.Stopped.Sub(result.Started),
	)
	return result
}

// maxStderrLine is the longest stderr line passed to StderrFunc.
const maxStderrLine = 256 * 1024

// processStderr reads stderr until EOF. When a line is too long the rest
// of the stream is discarded, the child would block on a full pipe otherwise.
func processStderr(ctx context.Context, stderr io.Reader, stderrFunc StderrFunc) {
	scanner := bufio.NewScanner(stderr)
	scanner.Buffer(make([]byte, 0, 4096), maxStderrLine)
	for scanner.Scan() {
		stderrFunc(ctx, scanner.Text())
	}
	err := scanner.Err()
	if err != nil && !errors.Is(err, io.EOF) {
		slog.ErrorContext(ctx, "processing stderr", "error", err)
	}
	if _, err := io.Copy(io.Discard, stderr); err != nil {
		slog.DebugContext(ctx, "discarding stderr", "error", err)
	}
}
