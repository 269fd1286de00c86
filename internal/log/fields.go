// SPDX-License-Identifier: MIT

package log

// Canonical field name constants for structured logging.
const (
	// Identity fields
	FieldSessionID = "session_id"
	FieldComponent = "component"

	// Pipeline fields
	FieldStrategy = "strategy"
	FieldAttempt  = "attempt"
	FieldExitCode = "exit_code"
	FieldReason   = "reason"

	// Progress fields
	FieldBytesIn  = "bytes_in"
	FieldBytesOut = "bytes_out"

	// State fields
	FieldOldState = "old_state"
	FieldNewState = "new_state"

	// Transport fields
	FieldSource      = "source"
	FieldDestination = "destination"
)
