// SPDX-License-Identifier: MIT

// Package sink drains the converter's output pipe into the destination
// transport, one bounded chunk at a time and strictly in order. The
// converted payload is never accumulated; a slow destination simply
// stalls the converter through pipe backpressure.
package sink

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/vidpipe/vidpipe/internal/destination"
	"github.com/vidpipe/vidpipe/internal/log"
	"github.com/vidpipe/vidpipe/internal/metrics"
)

// ErrWrite marks a destination write that failed after all bounded
// retries. From the orchestrator's view the attempt did not complete,
// the same signal as a converter failure.
var ErrWrite = errors.New("sink write failed")

// Config bounds the sink's behavior.
type Config struct {
	// ChunkSize is the unit of delivery to the destination transport.
	ChunkSize int
	// Retries is the number of re-sends per chunk before the attempt
	// fails.
	Retries int
}

// Sink drains one converter output stream into one destination.
// It is single-use.
type Sink struct {
	dest destination.Destination
	cfg  Config

	bytesWritten atomic.Int64
}

// New creates a sink for the given destination.
func New(dest destination.Destination, cfg Config) *Sink {
	return &Sink{dest: dest, cfg: cfg}
}

// BytesWritten returns the count of bytes the destination has accepted.
func (s *Sink) BytesWritten() int64 {
	return s.bytesWritten.Load()
}

// Run consumes r until end-of-stream and delivers every byte, in order,
// to the destination. It returns once the destination acknowledged the
// final chunk, so a nil return means the payload is fully delivered.
func (s *Sink) Run(ctx context.Context, r io.Reader) error {
	logger := log.WithComponentFromContext(ctx, "sink")
	buf := make([]byte, s.cfg.ChunkSize)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		n, readErr := io.ReadFull(r, buf)
		final := readErr != nil
		if final && !errors.Is(readErr, io.EOF) && !errors.Is(readErr, io.ErrUnexpectedEOF) {
			return fmt.Errorf("read converter output: %w", readErr)
		}

		if n > 0 || final {
			if err := s.deliver(ctx, buf[:n], final, logger); err != nil {
				return err
			}
			s.bytesWritten.Add(int64(n))
			metrics.BytesOutTotal.Add(float64(n))
		}

		if final {
			logger.Debug().Int64(log.FieldBytesOut, s.bytesWritten.Load()).Msg("destination acknowledged final chunk")
			return nil
		}
	}
}

// deliver sends one chunk with bounded retries at chunk granularity.
func (s *Sink) deliver(ctx context.Context, p []byte, final bool, logger zerolog.Logger) error {
	var lastErr error
	for attempt := 0; attempt <= s.cfg.Retries; attempt++ {
		if attempt > 0 {
			metrics.SinkRetryTotal.Inc()
			logger.Warn().
				Err(lastErr).
				Int(log.FieldAttempt, attempt).
				Msg("destination write failed, retrying chunk")

			backoff := time.Duration(attempt*attempt) * 500 * time.Millisecond
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
		}

		if err := s.dest.WriteChunk(ctx, p, final); err != nil {
			lastErr = err
			continue
		}
		return nil
	}
	return fmt.Errorf("%w: after %d attempts: %v", ErrWrite, s.cfg.Retries+1, lastErr)
}
