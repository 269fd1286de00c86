// SPDX-License-Identifier: MIT

package bus

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/vidpipe/vidpipe/internal/log"
	"github.com/vidpipe/vidpipe/internal/metrics"
	"github.com/vidpipe/vidpipe/internal/pipeline/model"
)

const dropLogEvery = 100

// MemoryBus is an in-memory pub/sub. Delivery is best-effort: events are
// advisory signals, so a slow subscriber drops events rather than
// stalling the pipeline that produces them.
type MemoryBus struct {
	mu     sync.RWMutex
	buffer int
	subs   map[string][]chan model.Event

	dropCount atomic.Uint64
}

// NewMemoryBus creates a bus whose subscriber channels hold up to
// buffer events.
func NewMemoryBus(buffer int) *MemoryBus {
	if buffer <= 0 {
		buffer = 64
	}
	return &MemoryBus{buffer: buffer, subs: make(map[string][]chan model.Event)}
}

// Publish fans the event out to all subscribers of the session.
// Full subscriber channels drop the event.
func (b *MemoryBus) Publish(ctx context.Context, sessionID string, ev model.Event) {
	// Sends stay under the read lock so Close (write lock) cannot close a
	// channel mid-send. Sends never block, so the lock is held briefly.
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, ch := range b.subs[sessionID] {
		select {
		case ch <- ev:
		default:
			metrics.IncEventDrop(string(ev.Type))
			count := b.dropCount.Add(1)
			if count%dropLogEvery == 0 {
				logger := log.WithComponentFromContext(ctx, "bus")
				logger.Warn().
					Str(log.FieldSessionID, sessionID).
					Str("event_type", string(ev.Type)).
					Uint64("dropped", count).
					Msg("subscriber channel full, dropping events")
			}
		}
	}
}

// Subscribe registers a new consumer for the session's events.
func (b *MemoryBus) Subscribe(sessionID string) Subscriber {
	ch := make(chan model.Event, b.buffer)

	b.mu.Lock()
	b.subs[sessionID] = append(b.subs[sessionID], ch)
	b.mu.Unlock()

	return &memSub{b: b, sessionID: sessionID, ch: ch}
}

type memSub struct {
	b         *MemoryBus
	sessionID string
	ch        chan model.Event
	closeOnce sync.Once
}

func (s *memSub) C() <-chan model.Event {
	return s.ch
}

func (s *memSub) Close() error {
	s.closeOnce.Do(func() {
		s.b.mu.Lock()
		defer s.b.mu.Unlock()

		lst := s.b.subs[s.sessionID]
		out := lst[:0]
		for _, c := range lst {
			if c != s.ch {
				out = append(out, c)
			}
		}
		if len(out) == 0 {
			delete(s.b.subs, s.sessionID)
		} else {
			s.b.subs[s.sessionID] = out
		}
		close(s.ch) // Signal subscriber to stop
	})
	return nil
}

// Ensure compliance
var _ Bus = (*MemoryBus)(nil)
