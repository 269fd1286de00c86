// SPDX-License-Identifier: MIT

// Package session orchestrates one transcode transfer end to end: size
// guard, strategy attempts with fallback, heartbeat, cancellation and
// the terminal outcome. One Session is one source file, one destination
// and at most two converter attempts.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/vidpipe/vidpipe/internal/config"
	"github.com/vidpipe/vidpipe/internal/destination"
	"github.com/vidpipe/vidpipe/internal/log"
	"github.com/vidpipe/vidpipe/internal/metrics"
	"github.com/vidpipe/vidpipe/internal/origin"
	"github.com/vidpipe/vidpipe/internal/pipeline/bus"
	"github.com/vidpipe/vidpipe/internal/pipeline/exec/ffmpeg"
	"github.com/vidpipe/vidpipe/internal/pipeline/fsm"
	"github.com/vidpipe/vidpipe/internal/pipeline/model"
	"github.com/vidpipe/vidpipe/internal/pipeline/sink"
	"github.com/vidpipe/vidpipe/internal/pipeline/source"
)

// Session drives a single transfer. It is single-use: construct, Run
// once, inspect. All accessors are safe to call concurrently with Run.
type Session struct {
	id           string
	cfg          config.Pipeline
	origin       origin.Origin
	dest         destination.Destination
	bus          bus.Bus
	declaredSize int64

	machine *fsm.Machine[model.SessionState, model.SessionEvent]
	hb      *heartbeat

	warnOnce sync.Once

	mu       sync.Mutex
	src      *source.Source
	snk      *sink.Sink
	attempts []model.AttemptResult
}

// New builds a session. declaredSize is the size the caller knows up
// front, or origin.SizeUnknown; the pre-flight size guard only runs
// when it is known.
func New(id string, cfg config.Pipeline, o origin.Origin, d destination.Destination, b bus.Bus, declaredSize int64) (*Session, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("session config: %w", err)
	}
	if id == "" {
		id = model.NewSessionID()
	}

	machine, err := newMachine()
	if err != nil {
		return nil, err
	}

	s := &Session{
		id:           id,
		cfg:          cfg,
		origin:       o,
		dest:         d,
		bus:          b,
		declaredSize: declaredSize,
		machine:      machine,
	}
	s.hb = newHeartbeat(cfg.HeartbeatInterval, s.emitHeartbeat)
	return s, nil
}

func newMachine() (*fsm.Machine[model.SessionState, model.SessionEvent], error) {
	type tr = fsm.Transition[model.SessionState, model.SessionEvent]
	return fsm.New(model.SessionIdle, []tr{
		{From: model.SessionIdle, Event: model.EvSizeChecked, To: model.SessionSizeChecked},
		{From: model.SessionIdle, Event: model.EvCancelled, To: model.SessionCancelled},
		{From: model.SessionSizeChecked, Event: model.EvAttemptStart, To: model.SessionAttemptCopy},
		{From: model.SessionSizeChecked, Event: model.EvCancelled, To: model.SessionCancelled},
		{From: model.SessionAttemptCopy, Event: model.EvSucceeded, To: model.SessionSucceeded},
		{From: model.SessionAttemptCopy, Event: model.EvFallback, To: model.SessionAttemptEncode},
		{From: model.SessionAttemptCopy, Event: model.EvFailed, To: model.SessionFailed},
		{From: model.SessionAttemptCopy, Event: model.EvCancelled, To: model.SessionCancelled},
		{From: model.SessionAttemptEncode, Event: model.EvSucceeded, To: model.SessionSucceeded},
		{From: model.SessionAttemptEncode, Event: model.EvFailed, To: model.SessionFailed},
		{From: model.SessionAttemptEncode, Event: model.EvCancelled, To: model.SessionCancelled},
	})
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// State returns the current lifecycle state.
func (s *Session) State() model.SessionState { return s.machine.State() }

// Attempts returns a copy of the finished attempt results so far.
func (s *Session) Attempts() []model.AttemptResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.AttemptResult, len(s.attempts))
	copy(out, s.attempts)
	return out
}

// BytesIn returns the bytes pulled from the origin by the current or
// most recent attempt.
func (s *Session) BytesIn() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.src == nil {
		return 0
	}
	return s.src.BytesRead()
}

// BytesOut returns the converted bytes accepted by the destination in
// the current or most recent attempt.
func (s *Session) BytesOut() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.snk == nil {
		return 0
	}
	return s.snk.BytesWritten()
}

// Run executes the session to a terminal state and returns its outcome.
// Cancelling ctx tears the converter down and yields OutcomeCancelled.
func (s *Session) Run(ctx context.Context) model.Outcome {
	ctx = log.ContextWithSessionID(ctx, s.id)
	logger := log.WithComponentFromContext(ctx, "session")
	start := time.Now()

	outcome := s.run(ctx, logger)

	metrics.ObserveSessionDuration(string(outcome.Result), time.Since(start))
	evt := logger.Info()
	if outcome.Result == model.OutcomeFailed {
		evt = logger.Error().Err(outcome.Err)
	}
	evt.
		Str("result", string(outcome.Result)).
		Str(log.FieldReason, string(outcome.Reason)).
		Int64(log.FieldBytesOut, outcome.BytesWritten).
		Dur("duration", time.Since(start)).
		Msg("session finished")
	return outcome
}

func (s *Session) run(ctx context.Context, logger zerolog.Logger) model.Outcome {
	defer s.hb.disarm()

	if ctx.Err() != nil {
		s.transition(ctx, logger, model.EvCancelled)
		return model.Outcome{Result: model.OutcomeCancelled, Reason: model.RCancelled, Err: ctx.Err()}
	}

	// Pre-flight size guard. With an unknown size the source fires the
	// same warning from its byte counter instead.
	if s.declaredSize >= 0 && s.cfg.SizeWarnThreshold > 0 && s.declaredSize >= s.cfg.SizeWarnThreshold {
		s.warnSize(ctx, logger, s.declaredSize)
	}
	s.transition(ctx, logger, model.EvSizeChecked)
	s.transition(ctx, logger, model.EvAttemptStart)
	s.hb.arm()

	strategy := model.StrategyStreamCopy
	for {
		res := s.runAttempt(ctx, strategy, strategy != model.StrategyStreamCopy)
		s.recordAttempt(res)
		metrics.IncAttempt(string(strategy), string(res.Class))
		s.publish(ctx, model.Event{
			Type:     model.EventAttemptFinished,
			Strategy: strategy,
			Class:    res.Class,
			BytesIn:  res.BytesIn,
			BytesOut: res.BytesOut,
		})
		logger.Info().
			Str(log.FieldStrategy, string(strategy)).
			Str("class", string(res.Class)).
			Str(log.FieldReason, string(res.Reason)).
			Int64(log.FieldBytesIn, res.BytesIn).
			Int64(log.FieldBytesOut, res.BytesOut).
			Msg("attempt finished")

		if ctx.Err() != nil {
			s.discard(ctx, logger)
			s.transition(ctx, logger, model.EvCancelled)
			return model.Outcome{Result: model.OutcomeCancelled, Reason: model.RCancelled, BytesWritten: res.BytesOut, Err: ctx.Err()}
		}

		switch res.Class {
		case model.ClassSuccess:
			s.transition(ctx, logger, model.EvSucceeded)
			return model.Outcome{Result: model.OutcomeSucceeded, Reason: model.RNone, BytesWritten: res.BytesOut}

		case model.ClassFailRetryable:
			if next, ok := strategy.Next(); ok {
				logger.Warn().
					Str(log.FieldStrategy, string(strategy)).
					Str(log.FieldReason, string(res.Reason)).
					Msg("strategy failed, falling back")
				s.transition(ctx, logger, model.EvFallback)
				strategy = next
				continue
			}
			s.discard(ctx, logger)
			s.transition(ctx, logger, model.EvFailed)
			return model.Outcome{Result: model.OutcomeFailed, Reason: res.Reason, BytesWritten: res.BytesOut, Err: res.Err}

		default:
			s.discard(ctx, logger)
			s.transition(ctx, logger, model.EvFailed)
			return model.Outcome{Result: model.OutcomeFailed, Reason: res.Reason, BytesWritten: res.BytesOut, Err: res.Err}
		}
	}
}

// runAttempt runs one strategy to completion: launch the converter,
// feed it from the origin, drain it into the destination, then wait
// for the process and classify what happened.
func (s *Session) runAttempt(ctx context.Context, strategy model.Strategy, resetFirst bool) model.AttemptResult {
	logger := log.WithComponentFromContext(ctx, "session")

	if resetFirst {
		if err := s.dest.Reset(ctx); err != nil {
			return model.AttemptResult{
				Strategy: strategy,
				Class:    model.ClassFailFatal,
				Reason:   model.RDestinationReset,
				Err:      fmt.Errorf("reset destination: %w", err),
			}
		}
		logger.Debug().Msg("destination reset for fallback attempt")
	}

	args, err := ffmpeg.BuildArgs(strategy)
	if err != nil {
		return model.AttemptResult{Strategy: strategy, Class: model.ClassFailFatal, Reason: model.RConverterLaunch, Err: err}
	}

	runner := ffmpeg.NewRunner(s.cfg.FFmpegPath, s.cfg.StderrLines, s.cfg.KillGrace, s.cfg.KillTimeout)
	stdin, stdout, err := runner.Start(ctx, args)
	if err != nil {
		return model.AttemptResult{Strategy: strategy, Class: model.ClassFailFatal, Reason: model.RConverterLaunch, Err: err}
	}

	// The byte-counter warning only backs up the pre-flight guard when
	// nobody declared a size.
	var warnThreshold int64
	if s.declaredSize < 0 {
		warnThreshold = s.cfg.SizeWarnThreshold
	}
	src := source.New(s.origin, source.Config{
		ChunkSize:     s.cfg.ChunkSize,
		Retries:       s.cfg.SourceRetries,
		ReadTimeout:   s.cfg.ReadTimeout,
		MaxReadRate:   s.cfg.MaxReadRate,
		WarnThreshold: warnThreshold,
		OnThresholdCrossed: func(bytesRead int64) {
			s.warnSize(ctx, logger, bytesRead)
		},
	})
	snk := sink.New(s.dest, sink.Config{ChunkSize: s.cfg.ChunkSize, Retries: s.cfg.SinkRetries})
	s.setFlows(src, snk)

	srcErrCh := make(chan error, 1)
	go func() { srcErrCh <- src.Run(ctx, stdin) }()

	// Cancellation path: tear the process group down so both pipes
	// break and the flows unwind on their own.
	watchDone := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			_ = runner.Stop(context.WithoutCancel(ctx))
		case <-watchDone:
		}
	}()

	sinkErr := snk.Run(ctx, stdout)
	close(watchDone)

	// A failed sink leaves the converter alive and blocked on a full
	// stdout pipe; stop it or Wait would never return.
	if sinkErr != nil || ctx.Err() != nil {
		_ = runner.Stop(context.WithoutCancel(ctx))
	}

	status, waitErr := runner.Wait(ctx)
	srcErr := <-srcErrCh

	res := model.AttemptResult{
		Strategy: strategy,
		Exit:     status,
		BytesIn:  src.BytesRead(),
		BytesOut: snk.BytesWritten(),
		Stderr:   runner.LastLogLines(20),
	}

	switch {
	case ctx.Err() != nil:
		res.Class = model.ClassFailFatal
		res.Reason = model.RCancelled
		res.Err = ctx.Err()

	case errors.Is(srcErr, source.ErrRead):
		// The origin is broken; no other strategy reads it any better.
		res.Class = model.ClassFailFatal
		res.Reason = model.RSourceRead
		res.Err = srcErr

	case sinkErr != nil:
		res.Class = model.ClassFailRetryable
		res.Reason = model.RDestinationWrite
		res.Err = sinkErr

	default:
		res.Class = ffmpeg.Classify(nil, status, snk.BytesWritten())
		if res.Class == model.ClassSuccess {
			res.Reason = model.RNone
		} else {
			res.Reason = model.RConverterExit
			res.Err = waitErr
			if res.Err == nil {
				res.Err = fmt.Errorf("converter produced no output (exit %d)", status.Code)
			}
		}
	}
	return res
}

func (s *Session) setFlows(src *source.Source, snk *sink.Sink) {
	s.mu.Lock()
	s.src = src
	s.snk = snk
	s.mu.Unlock()
}

func (s *Session) recordAttempt(res model.AttemptResult) {
	s.mu.Lock()
	s.attempts = append(s.attempts, res)
	s.mu.Unlock()
}

// transition fires a lifecycle event and announces the new state.
// An invalid edge is a programming error; it is logged, not propagated.
func (s *Session) transition(ctx context.Context, logger zerolog.Logger, ev model.SessionEvent) {
	from := s.machine.State()
	to, err := s.machine.Fire(ctx, ev)
	if err != nil {
		logger.Error().Err(err).Msg("session state machine rejected event")
		return
	}
	logger.Debug().
		Str(log.FieldOldState, string(from)).
		Str(log.FieldNewState, string(to)).
		Msg("session state changed")
	s.publish(ctx, model.Event{Type: model.EventStateChange, State: to})
}

// discard drops whatever the destination accepted so an unsuccessful
// session never leaves a retrievable partial file behind.
func (s *Session) discard(ctx context.Context, logger zerolog.Logger) {
	if err := s.dest.Reset(context.WithoutCancel(ctx)); err != nil {
		logger.Warn().Err(err).Msg("could not discard partial destination data")
	}
}

// warnSize emits the one-shot size warning. Per session, not per
// attempt: a fallback does not warn again.
func (s *Session) warnSize(ctx context.Context, logger zerolog.Logger, size int64) {
	s.warnOnce.Do(func() {
		metrics.SizeWarningTotal.Inc()
		logger.Warn().
			Int64("size_bytes", size).
			Int64("threshold_bytes", s.cfg.SizeWarnThreshold).
			Msg("transfer size crossed warning threshold")
		s.publish(ctx, model.Event{Type: model.EventSizeWarning, SizeBytes: size})
	})
}

func (s *Session) emitHeartbeat(now time.Time) {
	ev := model.Event{
		Type:     model.EventHeartbeat,
		At:       now,
		BytesIn:  s.BytesIn(),
		BytesOut: s.BytesOut(),
	}
	s.publish(context.Background(), ev)
}

func (s *Session) publish(ctx context.Context, ev model.Event) {
	if s.bus == nil {
		return
	}
	ev.SessionID = s.id
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	s.bus.Publish(ctx, s.id, ev)
}
