// SPDX-License-Identifier: MIT

package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault_IsValid(t *testing.T) {
	require.NoError(t, Default().Validate())
}

func TestWithDefaults_FillsZeroFields(t *testing.T) {
	c := Pipeline{ChunkSize: 64 << 10}.WithDefaults()

	assert.Equal(t, "ffmpeg", c.FFmpegPath)
	assert.Equal(t, 64<<10, c.ChunkSize, "explicit values must survive")
	assert.Equal(t, 5*time.Second, c.HeartbeatInterval)
	require.NoError(t, c.Validate())
}

func TestValidate_Ranges(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Pipeline)
	}{
		{"chunk size too small", func(c *Pipeline) { c.ChunkSize = 16 }},
		{"chunk size too large", func(c *Pipeline) { c.ChunkSize = 64 << 20 }},
		{"negative source retries", func(c *Pipeline) { c.SourceRetries = -1 }},
		{"excessive sink retries", func(c *Pipeline) { c.SinkRetries = 11 }},
		{"zero heartbeat", func(c *Pipeline) { c.HeartbeatInterval = 0 }},
		{"negative threshold", func(c *Pipeline) { c.SizeWarnThreshold = -1 }},
		{"empty ffmpeg path", func(c *Pipeline) { c.FFmpegPath = " " }},
		{"negative read rate", func(c *Pipeline) { c.MaxReadRate = -5 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Default()
			tt.mutate(&c)
			assert.Error(t, c.Validate())
		})
	}
}
