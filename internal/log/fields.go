// SPDX-License-Identifier: MIT

package log

// Canonical field name constants for structured logging.
const (
	// Identity fields
	FieldSessionID     = "session_id"
	FieldCorrelationID = "correlation_id"
	FieldRequestID     = "request_id"

	// Process / pipeline fields
	FieldEvent     = "event"
	FieldComponent = "component"
	FieldPlugin    = "plugin"

	// Request fields
	FieldMethod = "method"
	FieldURL    = "url"
	FieldStatus = "status"
	FieldHost   = "host"
)
