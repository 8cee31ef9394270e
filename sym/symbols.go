// Package sym defines canonical symbols for vigil subsystems and system markers.
// These symbols are stable across UI, CLI, and log output.
package sym

// System infrastructure symbols.
const (
	Vigil = "◉" // job observation — poll ticks, status tracking
	Wake  = "☀" // graceful startup with reconcile-on-resume
	Rest  = "☾" // graceful shutdown with state checkpoint
	DB    = "⊔" // database/storage layer
	Run   = "➹" // remote runner calls (start/status/cancel)
)

// Names maps each glyph to its short identifier for UI and log consumers.
var Names = map[string]string{
	Vigil: "vigil",
	Wake:  "wake",
	Rest:  "rest",
	DB:    "db",
	Run:   "run",
}

// Name returns the short identifier for a glyph, or "unknown" when the
// glyph is not part of the canonical set.
func Name(glyph string) string {
	if n, ok := Names[glyph]; ok {
		return n
	}
	return "unknown"
}
