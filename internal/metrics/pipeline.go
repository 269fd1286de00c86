// SPDX-License-Identifier: MIT

// Package metrics defines the Prometheus instrumentation for the
// transcode pipeline.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// AttemptTotal tracks converter attempts by strategy and classification.
	AttemptTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vidpipe_attempt_total",
		Help: "Total number of converter attempts by strategy and result",
	}, []string{"strategy", "result"})

	// ConverterStartTotal tracks converter process launches.
	ConverterStartTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vidpipe_converter_start_total",
		Help: "Total number of converter process starts",
	}, []string{"result"})

	// ConverterExitTotal tracks converter process exits by reason.
	ConverterExitTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vidpipe_converter_exit_total",
		Help: "Total number of converter process exits",
	}, []string{"reason"})

	// BytesInTotal counts bytes pulled from remote origins.
	BytesInTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "vidpipe_bytes_in_total",
		Help: "Total bytes read from remote origins",
	})

	// BytesOutTotal counts converted bytes accepted by destinations.
	BytesOutTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "vidpipe_bytes_out_total",
		Help: "Total converted bytes delivered to destinations",
	})

	// SourceRetryTotal counts retried origin reads.
	SourceRetryTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "vidpipe_source_retry_total",
		Help: "Total number of retried origin chunk reads",
	})

	// SinkRetryTotal counts retried destination writes.
	SinkRetryTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "vidpipe_sink_retry_total",
		Help: "Total number of retried destination chunk writes",
	})

	// HeartbeatTotal counts emitted liveness signals.
	HeartbeatTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "vidpipe_heartbeat_total",
		Help: "Total number of emitted heartbeat events",
	})

	// SizeWarningTotal counts emitted size-threshold warnings.
	SizeWarningTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "vidpipe_size_warning_total",
		Help: "Total number of emitted size-threshold warnings",
	})

	// EventDropTotal counts events dropped because a subscriber was slow.
	EventDropTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vidpipe_event_drop_total",
		Help: "Total number of session events dropped by slow subscribers",
	}, []string{"type"})

	// SessionDuration tracks the end-to-end duration of finished sessions.
	SessionDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "vidpipe_session_duration_seconds",
		Help:    "End-to-end session duration by terminal result",
		Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800, 3600},
	}, []string{"result"})
)

// IncAttempt records one converter attempt outcome.
func IncAttempt(strategy, result string) {
	AttemptTotal.WithLabelValues(strategy, result).Inc()
}

// IncConverterStart records a converter launch outcome.
func IncConverterStart(result string) {
	ConverterStartTotal.WithLabelValues(result).Inc()
}

// IncConverterExit records a converter exit reason.
func IncConverterExit(reason string) {
	ConverterExitTotal.WithLabelValues(reason).Inc()
}

// IncEventDrop records an event dropped on a full subscriber channel.
func IncEventDrop(eventType string) {
	EventDropTotal.WithLabelValues(eventType).Inc()
}

// ObserveSessionDuration records a finished session's wall time.
func ObserveSessionDuration(result string, d time.Duration) {
	SessionDuration.WithLabelValues(result).Observe(d.Seconds())
}
