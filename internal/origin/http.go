// SPDX-License-Identifier: MIT

package origin

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
)

// HTTP reads a source file over HTTP(S). Resumption after a failed read
// uses Range requests, so the server should support them; without Range
// support only offset-zero opens succeed.
type HTTP struct {
	url    string
	client *http.Client
}

// NewHTTP creates an HTTP origin for the given URL. A nil client uses
// http.DefaultClient.
func NewHTTP(url string, client *http.Client) *HTTP {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTP{url: url, client: client}
}

// Open issues a GET, with a Range header when offset is non-zero.
func (o *HTTP) Open(ctx context.Context, offset int64) (io.ReadCloser, int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, o.url, nil)
	if err != nil {
		return nil, SizeUnknown, fmt.Errorf("build origin request: %w", err)
	}
	if offset > 0 {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", offset))
	}

	resp, err := o.client.Do(req)
	if err != nil {
		return nil, SizeUnknown, fmt.Errorf("origin request: %w", err)
	}

	switch resp.StatusCode {
	case http.StatusOK:
		if offset > 0 {
			// Server ignored the Range header; we cannot resume mid-file.
			resp.Body.Close()
			return nil, SizeUnknown, fmt.Errorf("origin does not support range requests (offset=%d)", offset)
		}
		return resp.Body, contentSize(resp), nil
	case http.StatusPartialContent:
		return resp.Body, totalFromContentRange(resp), nil
	default:
		resp.Body.Close()
		return nil, SizeUnknown, fmt.Errorf("origin returned status %d", resp.StatusCode)
	}
}

// contentSize extracts the declared size from Content-Length.
func contentSize(resp *http.Response) int64 {
	if resp.ContentLength >= 0 {
		return resp.ContentLength
	}
	return SizeUnknown
}

// totalFromContentRange parses the total size out of a Content-Range
// header such as "bytes 100-999/1000".
func totalFromContentRange(resp *http.Response) int64 {
	cr := resp.Header.Get("Content-Range")
	idx := strings.LastIndexByte(cr, '/')
	if idx < 0 {
		return SizeUnknown
	}
	total := cr[idx+1:]
	if total == "*" {
		return SizeUnknown
	}
	n, err := strconv.ParseInt(total, 10, 64)
	if err != nil {
		return SizeUnknown
	}
	return n
}

var _ Origin = (*HTTP)(nil)
