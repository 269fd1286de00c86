// SPDX-License-Identifier: MIT

package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vidpipe/vidpipe/internal/config"
	"github.com/vidpipe/vidpipe/internal/pipeline/bus"
	"github.com/vidpipe/vidpipe/internal/pipeline/manager"
	"github.com/vidpipe/vidpipe/internal/pipeline/model"
)

type fixture struct {
	ts     *httptest.Server
	input  string
	output string
}

func newFixture(t *testing.T, converterBody string) *fixture {
	t.Helper()
	dir := t.TempDir()

	converter := filepath.Join(dir, "fake-converter")
	require.NoError(t, os.WriteFile(converter, []byte("#!/bin/sh\n"+converterBody+"\n"), 0o755))

	cfg := config.Default()
	cfg.FFmpegPath = converter
	cfg.ChunkSize = 4 << 10
	cfg.SourceRetries = 0
	cfg.SinkRetries = 0

	mgr := manager.New(cfg, bus.NewMemoryBus(cfg.EventBuffer), nil)
	ts := httptest.NewServer(New(mgr).Router())
	t.Cleanup(ts.Close)

	return &fixture{
		ts:     ts,
		input:  filepath.Join(dir, "input.ts"),
		output: filepath.Join(dir, "output.mp4"),
	}
}

func (f *fixture) convert(t *testing.T, body string) (int, manager.Status) {
	t.Helper()
	resp, err := http.Post(f.ts.URL+"/api/convert", "application/json", bytes.NewBufferString(body))
	require.NoError(t, err)
	defer resp.Body.Close()

	var st manager.Status
	if resp.StatusCode == http.StatusAccepted {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&st))
	}
	return resp.StatusCode, st
}

func (f *fixture) awaitTerminal(t *testing.T, id string) manager.Status {
	t.Helper()
	deadline := time.Now().Add(15 * time.Second)
	for time.Now().Before(deadline) {
		resp, err := http.Get(f.ts.URL + "/api/sessions/" + id)
		require.NoError(t, err)
		var st manager.Status
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&st))
		resp.Body.Close()
		if st.State.IsTerminal() {
			return st
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("session did not reach a terminal state in time")
	return manager.Status{}
}

func TestAPI_ConvertFileToFile(t *testing.T) {
	f := newFixture(t, "exec cat")
	payload := bytes.Repeat([]byte("media "), 4096)
	require.NoError(t, os.WriteFile(f.input, payload, 0o644))

	code, st := f.convert(t, fmt.Sprintf(`{"sourceUrl":%q,"destinationUrl":%q}`, f.input, f.output))
	require.Equal(t, http.StatusAccepted, code)
	require.NotEmpty(t, st.ID)

	final := f.awaitTerminal(t, st.ID)
	assert.Equal(t, model.SessionSucceeded, final.State)
	assert.Equal(t, model.OutcomeSucceeded, final.Result)
	assert.Equal(t, int64(len(payload)), final.BytesOut)

	got, err := os.ReadFile(f.output)
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}

func TestAPI_ConvertRejectsBadRequests(t *testing.T) {
	f := newFixture(t, "exec cat")

	code, _ := f.convert(t, `{"sourceUrl":"`)
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = f.convert(t, `{"sourceUrl":"ftp://host/file","destinationUrl":"/tmp/out"}`)
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = f.convert(t, `{"sourceUrl":"/tmp/in","destinationUrl":"/tmp/out","bogus":true}`)
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestAPI_SessionNotFound(t *testing.T) {
	f := newFixture(t, "exec cat")

	resp, err := http.Get(f.ts.URL + "/api/sessions/no-such-session")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAPI_CancelSession(t *testing.T) {
	f := newFixture(t, "exec sleep 60")
	require.NoError(t, os.WriteFile(f.input, []byte("payload"), 0o644))

	code, st := f.convert(t, fmt.Sprintf(`{"sourceUrl":%q,"destinationUrl":%q}`, f.input, f.output))
	require.Equal(t, http.StatusAccepted, code)

	req, err := http.NewRequest(http.MethodDelete, f.ts.URL+"/api/sessions/"+st.ID, nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var final manager.Status
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&final))
	assert.Equal(t, model.OutcomeCancelled, final.Result)
	assert.Equal(t, model.SessionCancelled, final.State)
}

func TestAPI_ListSessions(t *testing.T) {
	f := newFixture(t, "exec cat")
	require.NoError(t, os.WriteFile(f.input, []byte("payload"), 0o644))

	code, st := f.convert(t, fmt.Sprintf(`{"sourceUrl":%q,"destinationUrl":%q}`, f.input, f.output))
	require.Equal(t, http.StatusAccepted, code)
	f.awaitTerminal(t, st.ID)

	resp, err := http.Get(f.ts.URL + "/api/sessions")
	require.NoError(t, err)
	defer resp.Body.Close()

	var list []manager.Status
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&list))
	require.Len(t, list, 1)
	assert.Equal(t, st.ID, list[0].ID)
}

func TestAPI_Healthz(t *testing.T) {
	f := newFixture(t, "exec cat")

	resp, err := http.Get(f.ts.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestAPI_SessionEventsStream(t *testing.T) {
	f := newFixture(t, "exec sleep 60")
	require.NoError(t, os.WriteFile(f.input, []byte("payload"), 0o644))

	code, st := f.convert(t, fmt.Sprintf(`{"sourceUrl":%q,"destinationUrl":%q}`, f.input, f.output))
	require.Equal(t, http.StatusAccepted, code)

	resp, err := http.Get(f.ts.URL + "/api/sessions/" + st.ID + "/events")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	// Cancel to unblock; the stream just needs to have been accepted.
	req, err := http.NewRequest(http.MethodDelete, f.ts.URL+"/api/sessions/"+st.ID, nil)
	require.NoError(t, err)
	cresp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	cresp.Body.Close()
}
