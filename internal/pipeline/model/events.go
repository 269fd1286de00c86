// SPDX-License-Identifier: MIT

package model

import "time"

// EventType enumerates the side-channel signals a session publishes
// while it runs.
type EventType string

const (
	// EventHeartbeat fires at a fixed interval while an attempt is in
	// flight, independent of byte progress.
	EventHeartbeat EventType = "HEARTBEAT"
	// EventSizeWarning fires at most once per session when the transfer
	// size crosses the configured threshold.
	EventSizeWarning EventType = "SIZE_WARNING"
	// EventStateChange fires on every session state transition.
	EventStateChange EventType = "STATE_CHANGE"
	// EventAttemptFinished fires when one strategy attempt concludes.
	EventAttemptFinished EventType = "ATTEMPT_FINISHED"
)

// Event is one side-channel message delivered to session subscribers.
type Event struct {
	Type      EventType    `json:"type"`
	SessionID string       `json:"sessionId"`
	At        time.Time    `json:"at"`
	State     SessionState `json:"state,omitempty"`
	Strategy  Strategy     `json:"strategy,omitempty"`
	Class     AttemptClass `json:"class,omitempty"`
	BytesIn   int64        `json:"bytesIn,omitempty"`
	BytesOut  int64        `json:"bytesOut,omitempty"`
	SizeBytes int64        `json:"sizeBytes,omitempty"`
}
