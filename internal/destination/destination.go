// SPDX-License-Identifier: MIT

// Package destination abstracts the transport that receives converted
// bytes. Chunks arrive strictly in order; the final chunk carries an
// explicit end-of-stream marker the transport must acknowledge.
package destination

import "context"

// Destination accepts converted bytes incrementally.
type Destination interface {
	// WriteChunk delivers the next chunk. When final is true the chunk
	// (possibly empty) closes the stream and the call returns only after
	// the transport acknowledged it.
	WriteChunk(ctx context.Context, p []byte, final bool) error

	// Reset discards everything accepted so far and reopens the target
	// at byte zero, so a fallback attempt never appends over stale data.
	Reset(ctx context.Context) error

	// Close releases the transport. Closing without a final chunk leaves
	// the destination in a non-retrievable state.
	Close() error
}
