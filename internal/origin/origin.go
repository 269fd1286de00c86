// SPDX-License-Identifier: MIT

// Package origin abstracts the remote source a transfer pulls from.
package origin

import (
	"context"
	"io"
)

// SizeUnknown is returned by Open when the origin cannot declare a size
// up front.
const SizeUnknown int64 = -1

// Origin provides incremental byte access to a source file.
type Origin interface {
	// Open returns a stream positioned at offset, plus the total size in
	// bytes or SizeUnknown. A failed stream may be reopened at any byte
	// offset; the chunk source only ever reopens at chunk boundaries.
	Open(ctx context.Context, offset int64) (io.ReadCloser, int64, error)
}
