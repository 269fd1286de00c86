// SPDX-License-Identifier: MIT

package config

import (
	"os"
	"strconv"
	"time"

	"github.com/vidpipe/vidpipe/internal/log"
)

// ParseString reads a string environment variable or returns the
// default. The choice is logged for observability.
func ParseString(key, defaultValue string) string {
	logger := log.WithComponent("config")
	if v, ok := os.LookupEnv(key); ok && v != "" {
		logger.Debug().
			Str("key", key).
			Str("value", v).
			Str("source", "environment").
			Msg("using environment variable")
		return v
	}
	logger.Debug().
		Str("key", key).
		Str("default", defaultValue).
		Str("source", "default").
		Msg("using default value")
	return defaultValue
}

// ParseInt reads an integer environment variable. Invalid or empty
// values fall back to the default.
func ParseInt(key string, defaultValue int) int {
	logger := log.WithComponent("config")
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
		logger.Warn().
			Str("key", key).
			Str("value", v).
			Int("default", defaultValue).
			Msg("invalid integer in environment variable, using default")
	}
	return defaultValue
}

// ParseInt64 reads a 64-bit integer environment variable.
func ParseInt64(key string, defaultValue int64) int64 {
	logger := log.WithComponent("config")
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if i, err := strconv.ParseInt(v, 10, 64); err == nil {
			return i
		}
		logger.Warn().
			Str("key", key).
			Str("value", v).
			Int64("default", defaultValue).
			Msg("invalid integer in environment variable, using default")
	}
	return defaultValue
}

// ParseDuration reads a duration environment variable in Go duration
// format (e.g. "5s"). Invalid values fall back to the default.
func ParseDuration(key string, defaultValue time.Duration) time.Duration {
	logger := log.WithComponent("config")
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
		logger.Warn().
			Str("key", key).
			Str("value", v).
			Dur("default", defaultValue).
			Msg("invalid duration in environment variable, using default")
	}
	return defaultValue
}

// ParseBool reads a boolean environment variable ("true", "1", ...).
func ParseBool(key string, defaultValue bool) bool {
	logger := log.WithComponent("config")
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
		logger.Warn().
			Str("key", key).
			Str("value", v).
			Bool("default", defaultValue).
			Msg("invalid boolean in environment variable, using default")
	}
	return defaultValue
}

// FromEnv builds a pipeline configuration from VIDPIPE_* environment
// variables layered over the defaults.
func FromEnv() Pipeline {
	def := Default()
	return Pipeline{
		FFmpegPath:        ParseString("VIDPIPE_FFMPEG", def.FFmpegPath),
		ChunkSize:         ParseInt("VIDPIPE_CHUNK_SIZE", def.ChunkSize),
		SourceRetries:     ParseInt("VIDPIPE_SOURCE_RETRIES", def.SourceRetries),
		SinkRetries:       ParseInt("VIDPIPE_SINK_RETRIES", def.SinkRetries),
		ReadTimeout:       ParseDuration("VIDPIPE_READ_TIMEOUT", def.ReadTimeout),
		SizeWarnThreshold: ParseInt64("VIDPIPE_SIZE_WARN_THRESHOLD", def.SizeWarnThreshold),
		HeartbeatInterval: ParseDuration("VIDPIPE_HEARTBEAT_INTERVAL", def.HeartbeatInterval),
		KillGrace:         ParseDuration("VIDPIPE_KILL_GRACE", def.KillGrace),
		KillTimeout:       ParseDuration("VIDPIPE_KILL_TIMEOUT", def.KillTimeout),
		StderrLines:       ParseInt("VIDPIPE_STDERR_LINES", def.StderrLines),
		MaxReadRate:       ParseInt("VIDPIPE_MAX_READ_RATE", def.MaxReadRate),
		EventBuffer:       ParseInt("VIDPIPE_EVENT_BUFFER", def.EventBuffer),
	}
}

// Server holds the daemon's HTTP configuration.
type Server struct {
	ListenAddr      string
	LogLevel        string
	ShutdownTimeout time.Duration
}

// ServerFromEnv builds the daemon configuration from VIDPIPE_*
// environment variables.
func ServerFromEnv() Server {
	return Server{
		ListenAddr:      ParseString("VIDPIPE_LISTEN", ":8080"),
		LogLevel:        ParseString("VIDPIPE_LOG_LEVEL", "info"),
		ShutdownTimeout: ParseDuration("VIDPIPE_SHUTDOWN_TIMEOUT", 15*time.Second),
	}
}
