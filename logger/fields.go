package logger

import "go.uber.org/zap"

// Shared field names so the same key never appears in two spellings. The
// minimal encoder gives several of these dedicated formatting.
const (
	FieldJobID     = "job_id"
	FieldClientID  = "client_id"
	FieldRequestID = "request_id"

	FieldComponent = "component"
	FieldOperation = "operation"
	FieldTarget    = "target"

	FieldDurationMS = "duration_ms"
	FieldError      = "error"
	FieldStatus     = "status"
	FieldCount      = "count"

	FieldSymbol = "symbol" // vigil segment symbol (◉, ☀, ☾, ...)
	FieldTick   = "tick"   // poll tick counter for a job
)

// ComponentLogger returns a named child of the global logger. The console
// encoder abbreviates the name (track.registry renders as t.registry), so
// component names keep log lines groupable without widening them much.
func ComponentLogger(name string) *zap.SugaredLogger {
	return Logger.Named(name)
}
