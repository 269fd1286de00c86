// SPDX-License-Identifier: MIT

package origin

import (
	"context"
	"fmt"
	"io"
	"os"
)

// File reads a source from the local filesystem. Used by the CLI and
// by tests; the pipeline treats it exactly like a remote origin.
type File struct {
	path string
}

// NewFile creates a file origin for the given path.
func NewFile(path string) *File {
	return &File{path: path}
}

// Open opens the file and seeks to offset.
func (o *File) Open(ctx context.Context, offset int64) (io.ReadCloser, int64, error) {
	f, err := os.Open(o.path)
	if err != nil {
		return nil, SizeUnknown, fmt.Errorf("open origin file: %w", err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, SizeUnknown, fmt.Errorf("stat origin file: %w", err)
	}

	if offset > 0 {
		if _, err := f.Seek(offset, io.SeekStart); err != nil {
			f.Close()
			return nil, SizeUnknown, fmt.Errorf("seek origin file: %w", err)
		}
	}

	return f, info.Size(), nil
}

var _ Origin = (*File)(nil)
