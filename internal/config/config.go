// SPDX-License-Identifier: MIT

// Package config defines the pipeline configuration: every knob is an
// enumerated, validated field. There is no ambient or file-based
// configuration; callers construct a Pipeline value and pass it in.
package config

import (
	"time"

	"github.com/vidpipe/vidpipe/internal/validate"
)

// Pipeline holds the configuration for one transcode pipeline instance.
type Pipeline struct {
	// FFmpegPath is the converter binary. Defaults to "ffmpeg" on PATH.
	FFmpegPath string

	// ChunkSize bounds every buffer in the pipeline. Peak memory is a
	// small constant multiple of this value, independent of file size.
	ChunkSize int

	// SourceRetries is the number of re-read attempts per chunk when the
	// remote origin fails before any byte of the chunk was forwarded.
	SourceRetries int

	// SinkRetries is the number of re-send attempts per chunk when the
	// destination transport rejects a write.
	SinkRetries int

	// ReadTimeout bounds a single remote read.
	ReadTimeout time.Duration

	// SizeWarnThreshold is the byte size above which a one-time warning
	// event is emitted before the transfer starts. Zero disables it.
	SizeWarnThreshold int64

	// HeartbeatInterval is the period of the liveness signal while an
	// attempt is in flight.
	HeartbeatInterval time.Duration

	// KillGrace is how long a terminated converter gets between SIGTERM
	// and SIGKILL.
	KillGrace time.Duration

	// KillTimeout bounds the whole group teardown after SIGKILL.
	KillTimeout time.Duration

	// StderrLines is the capacity of the converter diagnostic ring.
	StderrLines int

	// MaxReadRate throttles origin reads, in bytes per second.
	// Zero means unthrottled.
	MaxReadRate int

	// EventBuffer is the per-subscriber event channel capacity.
	EventBuffer int
}

// Default returns the stock pipeline configuration.
func Default() Pipeline {
	return Pipeline{
		FFmpegPath:        "ffmpeg",
		ChunkSize:         256 << 10,
		SourceRetries:     2,
		SinkRetries:       2,
		ReadTimeout:       120 * time.Second,
		SizeWarnThreshold: 1 << 30,
		HeartbeatInterval: 5 * time.Second,
		KillGrace:         5 * time.Second,
		KillTimeout:       10 * time.Second,
		StderrLines:       256,
		EventBuffer:       64,
	}
}

// WithDefaults fills zero-valued fields from Default.
func (c Pipeline) WithDefaults() Pipeline {
	def := Default()
	if c.FFmpegPath == "" {
		c.FFmpegPath = def.FFmpegPath
	}
	if c.ChunkSize == 0 {
		c.ChunkSize = def.ChunkSize
	}
	if c.ReadTimeout == 0 {
		c.ReadTimeout = def.ReadTimeout
	}
	if c.HeartbeatInterval == 0 {
		c.HeartbeatInterval = def.HeartbeatInterval
	}
	if c.KillGrace == 0 {
		c.KillGrace = def.KillGrace
	}
	if c.KillTimeout == 0 {
		c.KillTimeout = def.KillTimeout
	}
	if c.StderrLines == 0 {
		c.StderrLines = def.StderrLines
	}
	if c.EventBuffer == 0 {
		c.EventBuffer = def.EventBuffer
	}
	return c
}

// Validate checks every field against its allowed range.
func (c Pipeline) Validate() error {
	v := validate.New()

	v.NotEmpty("FFmpegPath", c.FFmpegPath)
	// 4 KiB to 16 MiB keeps buffers sane on both ends.
	v.Range("ChunkSize", c.ChunkSize, 4<<10, 16<<20)
	v.Range("SourceRetries", c.SourceRetries, 0, 10)
	v.Range("SinkRetries", c.SinkRetries, 0, 10)
	v.PositiveDuration("ReadTimeout", c.ReadTimeout)
	v.PositiveDuration("HeartbeatInterval", c.HeartbeatInterval)
	v.PositiveDuration("KillGrace", c.KillGrace)
	v.PositiveDuration("KillTimeout", c.KillTimeout)
	v.Positive("StderrLines", c.StderrLines)
	v.NonNegative("MaxReadRate", c.MaxReadRate)
	v.Positive("EventBuffer", c.EventBuffer)
	if c.SizeWarnThreshold < 0 {
		v.AddError("SizeWarnThreshold", "threshold cannot be negative", c.SizeWarnThreshold)
	}

	return v.Err()
}
