// SPDX-License-Identifier: MIT

package session

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/vidpipe/vidpipe/internal/config"
	"github.com/vidpipe/vidpipe/internal/origin"
	"github.com/vidpipe/vidpipe/internal/pipeline/bus"
	"github.com/vidpipe/vidpipe/internal/pipeline/model"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// writeConverter drops a fake converter script that ignores the real
// argument vector.
func writeConverter(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fake-converter")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755))
	return path
}

// writeInput drops a source file and returns a file origin for it.
func writeInput(t *testing.T, payload []byte) *origin.File {
	t.Helper()
	path := filepath.Join(t.TempDir(), "input.ts")
	require.NoError(t, os.WriteFile(path, payload, 0o644))
	return origin.NewFile(path)
}

// recordingDest captures everything the session delivers and counts
// resets, so fallback behavior is observable.
type recordingDest struct {
	mu        sync.Mutex
	body      []byte
	finalSeen bool
	resets    int
}

func (d *recordingDest) WriteChunk(ctx context.Context, p []byte, final bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.body = append(d.body, p...)
	if final {
		d.finalSeen = true
	}
	return nil
}

func (d *recordingDest) Reset(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.body = nil
	d.finalSeen = false
	d.resets++
	return nil
}

func (d *recordingDest) Close() error { return nil }

func (d *recordingDest) snapshot() ([]byte, bool, int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]byte(nil), d.body...), d.finalSeen, d.resets
}

func testConfig(converter string) config.Pipeline {
	cfg := config.Default()
	cfg.FFmpegPath = converter
	cfg.ChunkSize = 4 << 10
	cfg.SourceRetries = 0
	cfg.SinkRetries = 0
	return cfg
}

func collect(sub bus.Subscriber) func() []model.Event {
	return func() []model.Event {
		var out []model.Event
		for {
			select {
			case ev, ok := <-sub.C():
				if !ok {
					return out
				}
				out = append(out, ev)
			default:
				return out
			}
		}
	}
}

func TestSession_StreamCopySucceeds(t *testing.T) {
	payload := make([]byte, 20<<10)
	for i := range payload {
		payload[i] = byte(i)
	}
	dest := &recordingDest{}
	b := bus.NewMemoryBus(256)

	s, err := New("", testConfig(writeConverter(t, "exec cat")), writeInput(t, payload), dest, b, origin.SizeUnknown)
	require.NoError(t, err)
	sub := s.bus.Subscribe(s.ID())
	defer sub.Close()

	out := s.Run(context.Background())

	require.NoError(t, out.Err)
	assert.Equal(t, model.OutcomeSucceeded, out.Result)
	assert.Equal(t, model.RNone, out.Reason)
	assert.Equal(t, int64(len(payload)), out.BytesWritten)
	assert.Equal(t, model.SessionSucceeded, s.State())

	body, final, resets := dest.snapshot()
	assert.Equal(t, payload, body)
	assert.True(t, final)
	assert.Zero(t, resets, "a clean first attempt must not reset the destination")

	attempts := s.Attempts()
	require.Len(t, attempts, 1)
	assert.Equal(t, model.StrategyStreamCopy, attempts[0].Strategy)
	assert.Equal(t, model.ClassSuccess, attempts[0].Class)

	events := collect(sub)()
	var states []model.SessionState
	for _, ev := range events {
		if ev.Type == model.EventStateChange {
			states = append(states, ev.State)
		}
	}
	assert.Equal(t, []model.SessionState{
		model.SessionSizeChecked,
		model.SessionAttemptCopy,
		model.SessionSucceeded,
	}, states)
}

func TestSession_FallsBackToFullReencode(t *testing.T) {
	payload := []byte("not a stream-copyable container")
	dest := &recordingDest{}

	// Fails unless the argument vector asks for a full re-encode.
	script := `for a in "$@"; do [ "$a" = libx264 ] && exec cat; done
exit 1`
	s, err := New("", testConfig(writeConverter(t, script)), writeInput(t, payload), dest, bus.NewMemoryBus(256), origin.SizeUnknown)
	require.NoError(t, err)

	out := s.Run(context.Background())

	require.NoError(t, out.Err)
	assert.Equal(t, model.OutcomeSucceeded, out.Result)
	assert.Equal(t, model.SessionSucceeded, s.State())

	body, final, resets := dest.snapshot()
	assert.Equal(t, payload, body)
	assert.True(t, final)
	assert.Equal(t, 1, resets, "the fallback attempt must start from a clean destination")

	attempts := s.Attempts()
	require.Len(t, attempts, 2)
	assert.Equal(t, model.StrategyStreamCopy, attempts[0].Strategy)
	assert.Equal(t, model.ClassFailRetryable, attempts[0].Class)
	assert.Equal(t, model.StrategyFullReencode, attempts[1].Strategy)
	assert.Equal(t, model.ClassSuccess, attempts[1].Class)
}

func TestSession_BothStrategiesFail(t *testing.T) {
	dest := &recordingDest{}
	s, err := New("", testConfig(writeConverter(t, "echo 'unsupported codec' >&2; exit 1")), writeInput(t, []byte("payload")), dest, bus.NewMemoryBus(256), origin.SizeUnknown)
	require.NoError(t, err)

	out := s.Run(context.Background())

	assert.Equal(t, model.OutcomeFailed, out.Result)
	assert.Equal(t, model.RConverterExit, out.Reason)
	assert.Error(t, out.Err)
	assert.Equal(t, model.SessionFailed, s.State())

	body, final, _ := dest.snapshot()
	assert.Empty(t, body, "a failed session must not leave partial destination data")
	assert.False(t, final)

	attempts := s.Attempts()
	require.Len(t, attempts, 2)
	assert.Contains(t, attempts[1].Stderr, "unsupported codec")
}

func TestSession_LaunchFailureIsFatal(t *testing.T) {
	cfg := testConfig("/nonexistent/converter-binary")
	s, err := New("", cfg, writeInput(t, []byte("payload")), &recordingDest{}, bus.NewMemoryBus(256), origin.SizeUnknown)
	require.NoError(t, err)

	out := s.Run(context.Background())

	assert.Equal(t, model.OutcomeFailed, out.Result)
	assert.Equal(t, model.RConverterLaunch, out.Reason)
	require.Len(t, s.Attempts(), 1, "a launch failure must not trigger a fallback")
}

func TestSession_SourceFailureIsFatal(t *testing.T) {
	cfg := testConfig(writeConverter(t, "exec cat"))
	dest := &recordingDest{}
	s, err := New("", cfg, origin.NewFile("/nonexistent/input.ts"), dest, bus.NewMemoryBus(256), origin.SizeUnknown)
	require.NoError(t, err)

	out := s.Run(context.Background())

	assert.Equal(t, model.OutcomeFailed, out.Result)
	assert.Equal(t, model.RSourceRead, out.Reason)
	require.Len(t, s.Attempts(), 1, "a broken origin must not trigger a fallback")

	body, final, _ := dest.snapshot()
	assert.Empty(t, body, "no retrievable partial file after a source failure")
	assert.False(t, final)
}

func TestSession_Cancellation(t *testing.T) {
	cfg := testConfig(writeConverter(t, "exec sleep 60"))
	cfg.KillGrace = 200 * time.Millisecond
	s, err := New("", cfg, writeInput(t, []byte("payload")), &recordingDest{}, bus.NewMemoryBus(256), origin.SizeUnknown)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(150 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	out := s.Run(ctx)

	assert.Equal(t, model.OutcomeCancelled, out.Result)
	assert.Equal(t, model.RCancelled, out.Reason)
	assert.Equal(t, model.SessionCancelled, s.State())
	assert.Less(t, time.Since(start), 10*time.Second, "cancellation teardown must be bounded")
}

func TestSession_PreflightSizeWarning(t *testing.T) {
	payload := []byte("payload")
	cfg := testConfig(writeConverter(t, "exec cat"))
	cfg.SizeWarnThreshold = 4

	b := bus.NewMemoryBus(256)
	s, err := New("warn-session", cfg, writeInput(t, payload), &recordingDest{}, b, int64(len(payload)))
	require.NoError(t, err)
	sub := b.Subscribe("warn-session")
	defer sub.Close()

	out := s.Run(context.Background())
	require.Equal(t, model.OutcomeSucceeded, out.Result)

	warnings := 0
	for _, ev := range collect(sub)() {
		if ev.Type == model.EventSizeWarning {
			warnings++
			assert.Equal(t, int64(len(payload)), ev.SizeBytes)
		}
	}
	assert.Equal(t, 1, warnings, "exactly one size warning per session")
}

func TestSession_SizeWarningFromByteCounter(t *testing.T) {
	payload := make([]byte, 12<<10)
	cfg := testConfig(writeConverter(t, "exec cat"))
	cfg.SizeWarnThreshold = 8 << 10

	b := bus.NewMemoryBus(256)
	s, err := New("counter-session", cfg, writeInput(t, payload), &recordingDest{}, b, origin.SizeUnknown)
	require.NoError(t, err)
	sub := b.Subscribe("counter-session")
	defer sub.Close()

	out := s.Run(context.Background())
	require.Equal(t, model.OutcomeSucceeded, out.Result)

	warnings := 0
	for _, ev := range collect(sub)() {
		if ev.Type == model.EventSizeWarning {
			warnings++
		}
	}
	assert.Equal(t, 1, warnings)
}

func TestSession_CancelledBeforeStart(t *testing.T) {
	s, err := New("", testConfig(writeConverter(t, "exec cat")), writeInput(t, []byte("payload")), &recordingDest{}, bus.NewMemoryBus(256), origin.SizeUnknown)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	out := s.Run(ctx)
	assert.Equal(t, model.OutcomeCancelled, out.Result)
	assert.Equal(t, model.SessionCancelled, s.State())
	assert.Empty(t, s.Attempts())
}

func TestSession_RejectsInvalidConfig(t *testing.T) {
	cfg := config.Default()
	cfg.ChunkSize = 1 // below minimum
	_, err := New("", cfg, writeInput(t, nil), &recordingDest{}, bus.NewMemoryBus(256), origin.SizeUnknown)
	assert.Error(t, err)
}
