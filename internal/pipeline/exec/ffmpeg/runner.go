// SPDX-License-Identifier: MIT

// Package ffmpeg wraps the external converter process: argument
// construction, pipe wiring, stderr capture and supervised teardown.
package ffmpeg

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/vidpipe/vidpipe/internal/log"
	"github.com/vidpipe/vidpipe/internal/metrics"
	"github.com/vidpipe/vidpipe/internal/pipeline/model"
	"github.com/vidpipe/vidpipe/internal/procgroup"
)

// ErrLaunch marks a converter that could not be started at all. No
// strategy can succeed when the binary is missing, so the orchestrator
// treats this as fatal rather than falling back.
var ErrLaunch = errors.New("converter launch failed")

// Runner manages a single converter process for one attempt. It is not
// reusable: a fallback attempt gets a fresh Runner.
type Runner struct {
	binPath     string
	killGrace   time.Duration
	killTimeout time.Duration

	ring *LineRing

	mu      sync.Mutex
	cmd     *exec.Cmd
	started time.Time
	ioWg    sync.WaitGroup
	stopped bool
}

// NewRunner creates a runner for the given converter binary. The ring
// keeps the last stderrLines lines of diagnostic output.
func NewRunner(binPath string, stderrLines int, killGrace, killTimeout time.Duration) *Runner {
	if binPath == "" {
		binPath = "ffmpeg"
	}
	return &Runner{
		binPath:     binPath,
		killGrace:   killGrace,
		killTimeout: killTimeout,
		ring:        NewLineRing(stderrLines),
	}
}

// Start launches the converter with the given argument vector and
// returns its stdin and stdout pipes. Stderr is drained into the line
// ring continuously so the child never blocks on it.
func (r *Runner) Start(ctx context.Context, args []string) (io.WriteCloser, io.ReadCloser, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.cmd != nil {
		return nil, nil, fmt.Errorf("runner already started")
	}

	cmd := exec.Command(r.binPath, args...) // #nosec G204 -- fixed argv, no shell
	procgroup.Set(cmd)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, nil, fmt.Errorf("%w: stdin pipe: %v", ErrLaunch, err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, nil, fmt.Errorf("%w: stdout pipe: %v", ErrLaunch, err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, nil, fmt.Errorf("%w: stderr pipe: %v", ErrLaunch, err)
	}

	logger := log.WithComponentFromContext(ctx, "ffmpeg")
	logger.Info().Str("command", cmd.String()).Msg("starting converter process")

	if err := cmd.Start(); err != nil {
		metrics.IncConverterStart("error")
		return nil, nil, fmt.Errorf("%w: %v", ErrLaunch, err)
	}
	metrics.IncConverterStart("ok")

	r.cmd = cmd
	r.started = time.Now()

	r.ioWg.Add(1)
	go func() {
		defer r.ioWg.Done()
		scanner := bufio.NewScanner(stderr)
		for scanner.Scan() {
			_, _ = r.ring.Write(scanner.Bytes())
			_, _ = r.ring.Write([]byte("\n"))
		}
	}()

	return stdin, stdout, nil
}

// Wait blocks until the process exits and all diagnostic output is
// captured. Teardown is bounded: Stop guarantees exit within the kill
// grace plus timeout, so Wait never blocks forever once Stop was called.
func (r *Runner) Wait(ctx context.Context) (model.ExitStatus, error) {
	r.mu.Lock()
	cmd := r.cmd
	started := r.started
	r.mu.Unlock()

	if cmd == nil {
		return model.ExitStatus{}, fmt.Errorf("runner not started")
	}

	waitErr := cmd.Wait()
	r.ioWg.Wait()
	end := time.Now()

	code := 0
	reason := "clean"
	if waitErr != nil {
		code = 1
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			code = exitErr.ExitCode()
		}
		reason = "error"
		if ctx.Err() != nil {
			reason = "ctx_cancel"
		}

		logger := log.WithComponentFromContext(ctx, "ffmpeg")
		if lines := r.ring.LastN(20); len(lines) > 0 {
			logger.Warn().
				Int(log.FieldExitCode, code).
				Strs("stderr", lines).
				Msg("converter exited with error")
		}
	}

	metrics.IncConverterExit(reason)
	return model.ExitStatus{
		Code:      code,
		Reason:    reason,
		StartedAt: started,
		EndedAt:   end,
	}, waitErr
}

// Stop terminates the process group: SIGTERM, then SIGKILL after the
// grace period. Idempotent; safe to call on an exited process.
func (r *Runner) Stop(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.cmd == nil || r.cmd.Process == nil || r.stopped {
		return nil
	}
	if r.cmd.ProcessState != nil && r.cmd.ProcessState.Exited() {
		return nil
	}
	r.stopped = true

	logger := log.WithComponentFromContext(ctx, "ffmpeg")
	logger.Debug().Msg("sending SIGTERM to converter process group")
	if err := procgroup.Kill(r.cmd, syscall.SIGTERM); err != nil {
		return err
	}

	grace := r.killGrace
	if grace <= 0 {
		grace = 5 * time.Second
	}
	cmd := r.cmd
	timer := time.AfterFunc(grace, func() {
		_ = procgroup.Kill(cmd, syscall.SIGKILL)
	})

	// Cancel the escalation once the process is gone.
	go func() {
		r.ioWg.Wait()
		timer.Stop()
	}()

	return nil
}

// LastLogLines returns the newest n captured stderr lines.
func (r *Runner) LastLogLines(n int) []string {
	return r.ring.LastN(n)
}

// Classify maps a finished attempt onto the orchestrator taxonomy:
// exit 0 with output is success; a launch failure is fatal; anything
// else signals the strategy could not handle this input.
func Classify(launchErr error, status model.ExitStatus, bytesOut int64) model.AttemptClass {
	if launchErr != nil {
		return model.ClassFailFatal
	}
	if status.Code == 0 && bytesOut > 0 {
		return model.ClassSuccess
	}
	return model.ClassFailRetryable
}
