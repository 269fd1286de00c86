// SPDX-License-Identifier: MIT

package destination

import (
	"context"
	"fmt"
	"os"
)

// File writes converted bytes to a local file. The file only becomes
// retrievable once the final chunk was synced; Reset truncates it.
type File struct {
	path string
	f    *os.File
}

// NewFile creates a file destination. The file is created (or truncated)
// on the first write.
func NewFile(path string) *File {
	return &File{path: path}
}

func (d *File) ensureOpen() error {
	if d.f != nil {
		return nil
	}
	f, err := os.OpenFile(d.path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open destination file: %w", err)
	}
	d.f = f
	return nil
}

// WriteChunk appends one chunk; the final chunk is fsynced as the
// acknowledgment.
func (d *File) WriteChunk(ctx context.Context, p []byte, final bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := d.ensureOpen(); err != nil {
		return err
	}
	if len(p) > 0 {
		if _, err := d.f.Write(p); err != nil {
			return fmt.Errorf("write destination chunk: %w", err)
		}
	}
	if final {
		if err := d.f.Sync(); err != nil {
			return fmt.Errorf("sync destination file: %w", err)
		}
	}
	return nil
}

// Reset truncates the file back to zero bytes.
func (d *File) Reset(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if d.f == nil {
		return nil
	}
	if err := d.f.Truncate(0); err != nil {
		return fmt.Errorf("truncate destination file: %w", err)
	}
	if _, err := d.f.Seek(0, 0); err != nil {
		return fmt.Errorf("rewind destination file: %w", err)
	}
	return nil
}

// Close closes the underlying file if it was opened.
func (d *File) Close() error {
	if d.f == nil {
		return nil
	}
	err := d.f.Close()
	d.f = nil
	return err
}

var _ Destination = (*File)(nil)
