// SPDX-License-Identifier: MIT

// Package model holds the shared vocabulary of the transcode pipeline:
// session states, strategies, failure reasons and attempt outcomes.
package model

import (
	"time"

	"github.com/google/uuid"
)

// SessionState is the lifecycle of a single transfer session.
// It is intentionally coarse-grained and stable: metrics and the
// control surface depend on these values.
type SessionState string

const (
	SessionIdle          SessionState = "IDLE"
	SessionSizeChecked   SessionState = "SIZE_CHECKED"
	SessionAttemptCopy   SessionState = "ATTEMPTING_STREAM_COPY"
	SessionAttemptEncode SessionState = "ATTEMPTING_FULL_REENCODE"
	SessionSucceeded     SessionState = "SUCCEEDED"
	SessionFailed        SessionState = "FAILED"
	SessionCancelled     SessionState = "CANCELLED"
)

// IsTerminal returns true if the state is a final state.
func (s SessionState) IsTerminal() bool {
	switch s {
	case SessionSucceeded, SessionFailed, SessionCancelled:
		return true
	}
	return false
}

// IsAttempting returns true while a converter attempt is in flight.
func (s SessionState) IsAttempting() bool {
	return s == SessionAttemptCopy || s == SessionAttemptEncode
}

// SessionEvent drives the session state machine.
type SessionEvent string

const (
	EvSizeChecked  SessionEvent = "SIZE_CHECKED"
	EvAttemptStart SessionEvent = "ATTEMPT_START"
	EvSucceeded    SessionEvent = "SUCCEEDED"
	EvFallback     SessionEvent = "FALLBACK"
	EvFailed       SessionEvent = "FAILED"
	EvCancelled    SessionEvent = "CANCELLED"
)

// Strategy selects the converter argument vector for one attempt.
// The order is total and fixed: stream copy first, full re-encode as
// the only fallback.
type Strategy string

const (
	StrategyStreamCopy   Strategy = "STREAM_COPY"
	StrategyFullReencode Strategy = "FULL_REENCODE"
)

// Next returns the fallback strategy, if one remains.
func (s Strategy) Next() (Strategy, bool) {
	if s == StrategyStreamCopy {
		return StrategyFullReencode, true
	}
	return "", false
}

// SessionState maps a strategy to the session state that represents an
// in-flight attempt under it.
func (s Strategy) SessionState() SessionState {
	if s == StrategyFullReencode {
		return SessionAttemptEncode
	}
	return SessionAttemptCopy
}

// ReasonCode is a compact, typed failure/decision signal.
// Keep these stable: metrics + client UX depend on them.
type ReasonCode string

const (
	RNone             ReasonCode = "R_NONE"
	RUnknown          ReasonCode = "R_UNKNOWN"
	RSourceRead       ReasonCode = "R_SOURCE_READ"
	RConverterLaunch  ReasonCode = "R_CONVERTER_LAUNCH"
	RConverterExit    ReasonCode = "R_CONVERTER_EXIT"
	RDestinationWrite ReasonCode = "R_DESTINATION_WRITE"
	RDestinationReset ReasonCode = "R_DESTINATION_RESET"
	RCancelled        ReasonCode = "R_CANCELLED"
)

// ExitStatus describes how a converter process ended.
type ExitStatus struct {
	Code      int
	Reason    string
	StartedAt time.Time
	EndedAt   time.Time
}

// AttemptClass is the orchestrator-visible classification of one
// converter attempt.
type AttemptClass string

const (
	ClassSuccess       AttemptClass = "SUCCESS"
	ClassFailRetryable AttemptClass = "FAIL_RETRYABLE"
	ClassFailFatal     AttemptClass = "FAIL_FATAL"
)

// AttemptResult captures the outcome of one strategy attempt.
type AttemptResult struct {
	Strategy Strategy
	Class    AttemptClass
	Reason   ReasonCode
	Exit     ExitStatus
	BytesIn  int64
	BytesOut int64
	Stderr   []string
	Err      error
}

// OutcomeResult is the terminal result of Session.Run.
type OutcomeResult string

const (
	OutcomeSucceeded OutcomeResult = "SUCCEEDED"
	OutcomeFailed    OutcomeResult = "FAILED"
	OutcomeCancelled OutcomeResult = "CANCELLED"
)

// Outcome is the single value a caller receives from a finished session.
// Err is never surfaced raw to end users; Reason is the stable signal.
type Outcome struct {
	Result       OutcomeResult
	Reason       ReasonCode
	BytesWritten int64
	Err          error
}

// NewSessionID returns a fresh unique session identifier.
func NewSessionID() string {
	return uuid.NewString()
}
