// SPDX-License-Identifier: MIT

// Package bus delivers session side-channel events (heartbeats, size
// warnings, state changes) to subscribers without coupling them to the
// pipeline's control flow.
package bus

import (
	"context"

	"github.com/vidpipe/vidpipe/internal/pipeline/model"
)

// Bus is an in-process publish/subscribe fan-out keyed by session ID.
type Bus interface {
	Publish(ctx context.Context, sessionID string, ev model.Event)
	Subscribe(sessionID string) Subscriber
}

// Subscriber is one consumer of a session's event stream.
type Subscriber interface {
	// C yields events until Close. The channel is closed on Close.
	C() <-chan model.Event
	Close() error
}
