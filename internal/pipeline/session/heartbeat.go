// SPDX-License-Identifier: MIT

package session

import (
	"sync"
	"time"

	"github.com/vidpipe/vidpipe/internal/metrics"
)

// heartbeat emits a liveness signal at a fixed interval while armed,
// independent of byte progress. Disarming is idempotent and waits for
// an in-flight emit to finish, so no signal ever trails a terminal
// session state.
type heartbeat struct {
	interval time.Duration
	emit     func(time.Time)

	armOnce    sync.Once
	disarmOnce sync.Once
	stop       chan struct{}
	done       chan struct{}
}

func newHeartbeat(interval time.Duration, emit func(time.Time)) *heartbeat {
	return &heartbeat{
		interval: interval,
		emit:     emit,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// arm starts the timer flow. Arming twice is a no-op.
func (h *heartbeat) arm() {
	h.armOnce.Do(func() {
		go h.run()
	})
}

func (h *heartbeat) run() {
	defer close(h.done)
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		select {
		case <-h.stop:
			return
		case now := <-ticker.C:
			metrics.HeartbeatTotal.Inc()
			h.emit(now)
		}
	}
}

// disarm stops the flow and blocks until no emit is in flight.
// Safe to call multiple times, and before arm.
func (h *heartbeat) disarm() {
	h.disarmOnce.Do(func() { close(h.stop) })
	// If arm never ran, claim the once so done gets closed here.
	h.armOnce.Do(func() { close(h.done) })
	<-h.done
}
