// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package log

// Canonical field name constants for structured logging.
const (
	// Identity fields
	FieldRequestID = "request_id"
	FieldJobID     = "job_id"
	FieldTraceID   = "trace_id"
	FieldSpanID    = "span_id"

	// Process / pipeline fields
	FieldEvent     = "event"
	FieldComponent = "component"
	FieldKind      = "kind"
	FieldPID       = "pid"
	FieldExitCode  = "exit_code"

	// Camera fields
	FieldCamera = "camera"
	FieldSource = "source"

	// Path / URL fields
	FieldPath = "path"
	FieldAddr = "addr"
)
