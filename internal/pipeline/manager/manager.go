// SPDX-License-Identifier: MIT

// Package manager tracks the sessions a daemon instance is running:
// starting them, watching their progress, cancelling them and keeping
// their terminal outcome around for later inspection.
package manager

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/vidpipe/vidpipe/internal/config"
	"github.com/vidpipe/vidpipe/internal/destination"
	"github.com/vidpipe/vidpipe/internal/log"
	"github.com/vidpipe/vidpipe/internal/origin"
	"github.com/vidpipe/vidpipe/internal/pipeline/bus"
	"github.com/vidpipe/vidpipe/internal/pipeline/model"
	"github.com/vidpipe/vidpipe/internal/pipeline/session"
)

// StartRequest describes one transfer to run.
type StartRequest struct {
	// SourceURL locates the input: http(s) or a local path.
	SourceURL string `json:"sourceUrl"`
	// DestinationURL locates the upload target: http(s) or a local path.
	DestinationURL string `json:"destinationUrl"`
	// SizeBytes is the input size when the caller knows it; zero or
	// absent means unknown.
	SizeBytes int64 `json:"sizeBytes,omitempty"`
}

// Status is a point-in-time view of one session.
type Status struct {
	ID         string                `json:"id"`
	State      model.SessionState    `json:"state"`
	Result     model.OutcomeResult   `json:"result,omitempty"`
	Reason     model.ReasonCode      `json:"reason,omitempty"`
	BytesIn    int64                 `json:"bytesIn"`
	BytesOut   int64                 `json:"bytesOut"`
	StartedAt  time.Time             `json:"startedAt"`
	FinishedAt time.Time             `json:"finishedAt,omitzero"`
	Attempts   []AttemptStatus       `json:"attempts,omitempty"`
}

// AttemptStatus is the externally visible shape of one finished attempt.
type AttemptStatus struct {
	Strategy model.Strategy     `json:"strategy"`
	Class    model.AttemptClass `json:"class"`
	Reason   model.ReasonCode   `json:"reason,omitempty"`
	ExitCode int                `json:"exitCode"`
	BytesOut int64              `json:"bytesOut"`
}

type entry struct {
	sess      *session.Session
	cancel    context.CancelFunc
	done      chan struct{}
	startedAt time.Time

	mu         sync.Mutex
	outcome    model.Outcome
	finishedAt time.Time
}

// Manager owns the live session table. Safe for concurrent use.
type Manager struct {
	cfg    config.Pipeline
	bus    bus.Bus
	client *http.Client

	mu       sync.Mutex
	sessions map[string]*entry
	wg       sync.WaitGroup
}

// New creates a manager. The HTTP client is shared across all remote
// origins and destinations; nil uses http.DefaultClient.
func New(cfg config.Pipeline, b bus.Bus, client *http.Client) *Manager {
	return &Manager{
		cfg:      cfg,
		bus:      b,
		client:   client,
		sessions: make(map[string]*entry),
	}
}

// Start validates the request, registers a new session and runs it in
// the background. The returned status reflects the freshly started
// session.
func (m *Manager) Start(ctx context.Context, req StartRequest) (Status, error) {
	o, err := m.buildOrigin(req.SourceURL)
	if err != nil {
		return Status{}, fmt.Errorf("source: %w", err)
	}
	d, err := m.buildDestination(req.DestinationURL)
	if err != nil {
		return Status{}, fmt.Errorf("destination: %w", err)
	}

	declared := origin.SizeUnknown
	if req.SizeBytes > 0 {
		declared = req.SizeBytes
	}

	sess, err := session.New("", m.cfg, o, d, m.bus, declared)
	if err != nil {
		return Status{}, err
	}

	// The session outlives the request; only explicit cancellation or
	// daemon shutdown stops it.
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	e := &entry{
		sess:      sess,
		cancel:    cancel,
		done:      make(chan struct{}),
		startedAt: time.Now(),
	}

	m.mu.Lock()
	m.sessions[sess.ID()] = e
	m.mu.Unlock()

	logger := log.WithComponent("manager")
	logger.Info().
		Str(log.FieldSessionID, sess.ID()).
		Str(log.FieldSource, req.SourceURL).
		Str(log.FieldDestination, req.DestinationURL).
		Msg("session started")

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer close(e.done)
		defer cancel()

		out := sess.Run(runCtx)
		_ = d.Close()

		e.mu.Lock()
		e.outcome = out
		e.finishedAt = time.Now()
		e.mu.Unlock()
	}()

	return m.status(e), nil
}

// Get returns the status of a known session.
func (m *Manager) Get(id string) (Status, bool) {
	m.mu.Lock()
	e, ok := m.sessions[id]
	m.mu.Unlock()
	if !ok {
		return Status{}, false
	}
	return m.status(e), true
}

// List returns the status of every known session.
func (m *Manager) List() []Status {
	m.mu.Lock()
	entries := make([]*entry, 0, len(m.sessions))
	for _, e := range m.sessions {
		entries = append(entries, e)
	}
	m.mu.Unlock()

	out := make([]Status, 0, len(entries))
	for _, e := range entries {
		out = append(out, m.status(e))
	}
	return out
}

// Cancel requests cancellation of a session and waits for it to reach
// its terminal state. Cancelling a finished session is a no-op.
func (m *Manager) Cancel(ctx context.Context, id string) (Status, bool) {
	m.mu.Lock()
	e, ok := m.sessions[id]
	m.mu.Unlock()
	if !ok {
		return Status{}, false
	}

	e.cancel()
	select {
	case <-e.done:
	case <-ctx.Done():
	}
	return m.status(e), true
}

// Subscribe attaches to a session's event stream.
func (m *Manager) Subscribe(id string) (bus.Subscriber, bool) {
	m.mu.Lock()
	_, ok := m.sessions[id]
	m.mu.Unlock()
	if !ok {
		return nil, false
	}
	return m.bus.Subscribe(id), true
}

// Shutdown cancels every running session and waits for all of them,
// bounded by ctx.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	for _, e := range m.sessions {
		e.cancel()
	}
	m.mu.Unlock()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("session shutdown: %w", ctx.Err())
	}
}

func (m *Manager) status(e *entry) Status {
	st := Status{
		ID:        e.sess.ID(),
		State:     e.sess.State(),
		BytesIn:   e.sess.BytesIn(),
		BytesOut:  e.sess.BytesOut(),
		StartedAt: e.startedAt,
	}
	for _, a := range e.sess.Attempts() {
		st.Attempts = append(st.Attempts, AttemptStatus{
			Strategy: a.Strategy,
			Class:    a.Class,
			Reason:   a.Reason,
			ExitCode: a.Exit.Code,
			BytesOut: a.BytesOut,
		})
	}

	e.mu.Lock()
	if !e.finishedAt.IsZero() {
		st.Result = e.outcome.Result
		st.Reason = e.outcome.Reason
		st.FinishedAt = e.finishedAt
	}
	e.mu.Unlock()
	return st
}

func (m *Manager) buildOrigin(raw string) (origin.Origin, error) {
	scheme, err := classify(raw)
	if err != nil {
		return nil, err
	}
	if scheme == "http" {
		return origin.NewHTTP(raw, m.client), nil
	}
	return origin.NewFile(strings.TrimPrefix(raw, "file://")), nil
}

func (m *Manager) buildDestination(raw string) (destination.Destination, error) {
	scheme, err := classify(raw)
	if err != nil {
		return nil, err
	}
	if scheme == "http" {
		return destination.NewHTTP(raw, m.client), nil
	}
	return destination.NewFile(strings.TrimPrefix(raw, "file://")), nil
}

// classify maps a location string onto a transport: "http" for
// http(s) URLs, "file" for file URLs and bare paths.
func classify(raw string) (string, error) {
	if strings.TrimSpace(raw) == "" {
		return "", fmt.Errorf("empty location")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("invalid location %q: %w", raw, err)
	}
	switch u.Scheme {
	case "http", "https":
		return "http", nil
	case "file", "":
		return "file", nil
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
}
