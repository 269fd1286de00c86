// SPDX-License-Identifier: MIT

// Package source pulls bytes from a remote origin in bounded chunks and
// feeds them into the converter's input pipe. Backpressure comes from
// the pipe itself: a stalled converter stalls the writes here, which
// stalls the remote reads.
package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/vidpipe/vidpipe/internal/log"
	"github.com/vidpipe/vidpipe/internal/metrics"
	"github.com/vidpipe/vidpipe/internal/origin"
)

// ErrRead marks an origin read that failed after all bounded retries.
// The orchestrator treats it as fatal for the whole session: a source
// that cannot deliver bytes will not fare better under another strategy.
var ErrRead = errors.New("source read failed")

// ErrForward marks a failed write into the converter's input pipe,
// usually because the converter exited. The attempt outcome is then
// decided by the converter's exit status, not by this error.
var ErrForward = errors.New("source forward failed")

// Config bounds the source's behavior.
type Config struct {
	// ChunkSize is the unit of buffering; at most one chunk is held in
	// memory at a time.
	ChunkSize int
	// Retries is the number of consecutive recovery attempts per chunk.
	// A chunk is buffered fully before any byte of it moves downstream,
	// so a failed read discards the partial chunk and re-reads from the
	// last committed boundary; nothing is ever half-forwarded.
	Retries int
	// ReadTimeout bounds the wall time of a single chunk read.
	ReadTimeout time.Duration
	// MaxReadRate throttles reads in bytes per second. Zero disables.
	MaxReadRate int
	// WarnThreshold, when positive, fires OnThresholdCrossed once the
	// byte counter crosses it. Used when the origin size is unknown up
	// front and the pre-flight guard could not run.
	WarnThreshold int64
	// OnThresholdCrossed is invoked at most once, from the reader flow.
	OnThresholdCrossed func(bytesRead int64)
}

// Source streams one origin into one pipe. It is single-use.
type Source struct {
	origin  origin.Origin
	cfg     Config
	limiter *rate.Limiter

	bytesRead atomic.Int64
	size      atomic.Int64
	warned    bool
}

// New creates a source for the given origin.
func New(o origin.Origin, cfg Config) *Source {
	s := &Source{origin: o, cfg: cfg}
	s.size.Store(origin.SizeUnknown)
	if cfg.MaxReadRate > 0 {
		burst := cfg.ChunkSize
		if burst < cfg.MaxReadRate {
			burst = cfg.MaxReadRate
		}
		s.limiter = rate.NewLimiter(rate.Limit(cfg.MaxReadRate), burst)
	}
	return s
}

// BytesRead returns the monotonically increasing count of bytes
// forwarded downstream so far.
func (s *Source) BytesRead() int64 {
	return s.bytesRead.Load()
}

// Size returns the size discovered from the origin, or
// origin.SizeUnknown before the first successful open.
func (s *Source) Size() int64 {
	return s.size.Load()
}

// Run pulls the origin from byte zero and writes each chunk into w as
// soon as it is complete. w is closed on return so the converter sees
// EOF. Run is not restartable; a fallback attempt builds a new Source.
func (s *Source) Run(ctx context.Context, w io.WriteCloser) error {
	defer w.Close()

	logger := log.WithComponentFromContext(ctx, "source")
	buf := make([]byte, s.cfg.ChunkSize)

	var (
		stream   io.ReadCloser
		offset   int64
		attempts int // consecutive failures for the current chunk
	)
	defer func() {
		if stream != nil {
			stream.Close()
		}
	}()

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		if stream == nil {
			rc, size, err := s.origin.Open(ctx, offset)
			if err != nil {
				if err := s.recover(ctx, &attempts, offset, err, logger); err != nil {
					return err
				}
				continue
			}
			stream = rc
			if offset == 0 {
				s.size.Store(size)
			}
		}

		if s.limiter != nil {
			if err := s.limiter.WaitN(ctx, len(buf)); err != nil {
				return err
			}
		}

		n, readErr := s.readChunk(stream, buf)
		done := readErr != nil && s.finished(offset+int64(n), readErr)

		if readErr != nil && !done {
			// The stream broke mid-chunk. Nothing of this chunk has been
			// forwarded, so drop the partial read and retry the whole
			// chunk from the committed boundary.
			stream.Close()
			stream = nil
			if err := s.recover(ctx, &attempts, offset, readErr, logger); err != nil {
				return err
			}
			continue
		}
		attempts = 0

		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				return fmt.Errorf("%w: %v", ErrForward, werr)
			}
			offset += int64(n)
			s.bytesRead.Store(offset)
			metrics.BytesInTotal.Add(float64(n))
			s.maybeWarn(offset)
		}

		if done {
			logger.Debug().Int64(log.FieldBytesIn, offset).Msg("origin drained")
			return nil
		}
	}
}

// recover accounts one failure against the per-chunk retry budget and
// backs off before the next try.
func (s *Source) recover(ctx context.Context, attempts *int, offset int64, cause error, logger zerolog.Logger) error {
	*attempts++
	if *attempts > s.cfg.Retries {
		return fmt.Errorf("%w: offset %d after %d attempts: %v", ErrRead, offset, *attempts, cause)
	}

	metrics.SourceRetryTotal.Inc()
	logger.Warn().
		Err(cause).
		Int(log.FieldAttempt, *attempts).
		Int64("offset", offset).
		Msg("origin read failed, retrying chunk")

	n := *attempts
	backoff := time.Duration(n*n) * 500 * time.Millisecond
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(backoff):
		return nil
	}
}

// finished reports whether readErr means clean end-of-stream given how
// far we got. With a known size a short stream is a failure; with an
// unknown size EOF is all the origin can tell us.
func (s *Source) finished(reached int64, readErr error) bool {
	if !errors.Is(readErr, io.EOF) && !errors.Is(readErr, io.ErrUnexpectedEOF) {
		return false
	}
	size := s.size.Load()
	if size == origin.SizeUnknown {
		return true
	}
	return reached >= size
}

// readChunk fills buf as far as the stream allows, bounded by the read
// timeout. Closing the stream from the timer unblocks a stuck read.
func (s *Source) readChunk(stream io.ReadCloser, buf []byte) (int, error) {
	var timedOut atomic.Bool
	if s.cfg.ReadTimeout > 0 {
		timer := time.AfterFunc(s.cfg.ReadTimeout, func() {
			timedOut.Store(true)
			stream.Close()
		})
		defer timer.Stop()
	}

	n, err := io.ReadFull(stream, buf)
	if err != nil && timedOut.Load() {
		// Opaque on purpose: a timed-out read must never look like a
		// clean end-of-stream.
		err = fmt.Errorf("read timed out after %s: %v", s.cfg.ReadTimeout, err)
	}
	return n, err
}

func (s *Source) maybeWarn(offset int64) {
	if s.warned || s.cfg.WarnThreshold <= 0 || s.cfg.OnThresholdCrossed == nil {
		return
	}
	if offset < s.cfg.WarnThreshold {
		return
	}
	s.warned = true
	s.cfg.OnThresholdCrossed(offset)
}
