package logger

import "github.com/teranos/vigil/sym"

// Symbol-aware logging helpers. The symbol travels as a structured field
// rather than a message prefix, so logs stay queryable by segment and the
// encoder decides how to render it.
//
//	logger.WakeInfow("Reconciling persisted jobs with runner")
//	logger.RestInfow("Pausing poll timers and checkpointing state")

func symbolFields(symbol string, keysAndValues []interface{}) []interface{} {
	return append([]interface{}{FieldSymbol, symbol}, keysAndValues...)
}

// WakeInfow logs startup and reconcile-on-resume events (☀).
func WakeInfow(msg string, keysAndValues ...interface{}) {
	Logger.Infow(msg, symbolFields(sym.Wake, keysAndValues)...)
}

// RestInfow logs graceful shutdown and pause events (☾).
func RestInfow(msg string, keysAndValues ...interface{}) {
	Logger.Infow(msg, symbolFields(sym.Rest, keysAndValues)...)
}

// DBDebugw logs database and storage detail (⊔).
func DBDebugw(msg string, keysAndValues ...interface{}) {
	Logger.Debugw(msg, symbolFields(sym.DB, keysAndValues)...)
}
