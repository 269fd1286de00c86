// SPDX-License-Identifier: MIT

package destination

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strconv"
)

// HTTP delivers converted bytes to an upload endpoint, one PUT per
// chunk. The request carries the write offset in a query parameter and
// flags the final chunk with complete=1; the server's 2xx response to
// that request is the final-chunk acknowledgment. Reset issues a DELETE
// so a fallback attempt starts against an empty target.
type HTTP struct {
	url    string
	client *http.Client
	offset int64
	closed bool
}

// NewHTTP creates an HTTP destination for the given URL. A nil client
// uses http.DefaultClient.
func NewHTTP(url string, client *http.Client) *HTTP {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTP{url: url, client: client}
}

// WriteChunk uploads one chunk at the current offset.
func (d *HTTP) WriteChunk(ctx context.Context, p []byte, final bool) error {
	if d.closed {
		return fmt.Errorf("destination closed")
	}

	u := d.url + "?offset=" + strconv.FormatInt(d.offset, 10)
	if final {
		u += "&complete=1"
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, u, bytes.NewReader(p))
	if err != nil {
		return fmt.Errorf("build upload request: %w", err)
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	req.ContentLength = int64(len(p))

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("upload chunk at offset %d: %w", d.offset, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("upload chunk at offset %d: status %d", d.offset, resp.StatusCode)
	}

	d.offset += int64(len(p))
	return nil
}

// Reset deletes the partially uploaded target and rewinds to offset zero.
func (d *HTTP) Reset(ctx context.Context) error {
	if d.closed {
		return fmt.Errorf("destination closed")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, d.url, nil)
	if err != nil {
		return fmt.Errorf("build reset request: %w", err)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("reset destination: %w", err)
	}
	defer resp.Body.Close()

	// 404 is fine: nothing was uploaded yet.
	if (resp.StatusCode < 200 || resp.StatusCode > 299) && resp.StatusCode != http.StatusNotFound {
		return fmt.Errorf("reset destination: status %d", resp.StatusCode)
	}

	d.offset = 0
	return nil
}

// Close marks the destination unusable. The transport itself is
// connectionless, so there is nothing to tear down.
func (d *HTTP) Close() error {
	d.closed = true
	return nil
}

var _ Destination = (*HTTP)(nil)
