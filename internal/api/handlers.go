// SPDX-License-Identifier: MIT

package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/vidpipe/vidpipe/internal/pipeline/manager"
)

const maxRequestBody = 1 << 20

// handleConvert starts a new transfer session and returns 202 with its
// initial status. The transfer itself runs in the background.
func (s *Server) handleConvert(w http.ResponseWriter, r *http.Request) {
	var req manager.StartRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeError(w, fmt.Errorf("invalid request body: %w", err))
		return
	}

	st, err := s.mgr.Start(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, st)
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.mgr.List())
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	st, ok := s.mgr.Get(chi.URLParam(r, "id"))
	if !ok {
		writeNotFound(w)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// handleCancelSession cancels a running session and returns its
// terminal status. Cancelling a finished session just reports it.
func (s *Server) handleCancelSession(w http.ResponseWriter, r *http.Request) {
	st, ok := s.mgr.Cancel(r.Context(), chi.URLParam(r, "id"))
	if !ok {
		writeNotFound(w)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// handleSessionEvents streams a session's side-channel events
// (heartbeats, state changes, warnings) as server-sent events until the
// client disconnects.
func (s *Server) handleSessionEvents(w http.ResponseWriter, r *http.Request) {
	sub, ok := s.mgr.Subscribe(chi.URLParam(r, "id"))
	if !ok {
		writeNotFound(w)
		return
	}
	defer sub.Close()

	flusher, canFlush := w.(http.Flusher)
	if !canFlush {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case ev, open := <-sub.C():
			if !open {
				return
			}
			payload, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, payload)
			flusher.Flush()
		}
	}
}
