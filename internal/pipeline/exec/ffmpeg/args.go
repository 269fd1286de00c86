// SPDX-License-Identifier: MIT

package ffmpeg

import (
	"fmt"

	"github.com/vidpipe/vidpipe/internal/pipeline/model"
)

// BuildArgs constructs the converter argument vector for one strategy.
// The converter reads the source container from stdin and writes a
// fragmented MP4 to stdout; fragmentation is what makes MP4 writable to
// a non-seekable pipe. Argument vectors are fixed per strategy and never
// pass through a shell.
func BuildArgs(strategy model.Strategy) ([]string, error) {
	args := []string{
		"-nostdin",
		"-hide_banner",
		"-loglevel", "error", // We capture stderr
		"-nostats",
		"-i", "pipe:0",
	}

	switch strategy {
	case model.StrategyStreamCopy:
		// Preserve the video stream verbatim, re-mux only. Audio goes to
		// AAC since MP4 players reject many source audio codecs.
		args = append(args,
			"-c:v", "copy",
			"-c:a", "aac",
			"-strict", "experimental",
		)
	case model.StrategyFullReencode:
		args = append(args,
			"-c:v", "libx264",
			"-c:a", "aac",
			"-preset", "fast",
			"-crf", "23",
		)
	default:
		return nil, fmt.Errorf("unknown strategy %q", strategy)
	}

	args = append(args,
		"-movflags", "frag_keyframe+empty_moov",
		"-f", "mp4",
		"pipe:1",
	)
	return args, nil
}
