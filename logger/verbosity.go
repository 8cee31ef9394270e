package logger

import "go.uber.org/zap/zapcore"

// Verbosity counts the CLI -v flags. Beyond plain severity it selects what
// categories of output are shown; see output.go for the category system.
const (
	VerbosityUser  = 0 // no flags: results and errors only
	VerbosityInfo  = 1 // -v: progress, startup, daemon status
	VerbosityDebug = 2 // -vv: poll ticks, timing, config details
	VerbosityTrace = 3 // -vvv: SQL, WebSocket frames, internal flow
	VerbosityAll   = 4 // -vvvv: full request/response bodies
)

// verbosityLevels indexes zap levels by flag count. Zap has nothing finer
// than Debug, so -vvv and above share it; the category system in output.go
// distinguishes them.
var verbosityLevels = [...]zapcore.Level{
	VerbosityUser:  zapcore.WarnLevel,
	VerbosityInfo:  zapcore.InfoLevel,
	VerbosityDebug: zapcore.DebugLevel,
	VerbosityTrace: zapcore.DebugLevel,
	VerbosityAll:   zapcore.DebugLevel,
}

var verbosityNames = [...]string{
	VerbosityUser:  "User",
	VerbosityInfo:  "Info (-v)",
	VerbosityDebug: "Debug (-vv)",
	VerbosityTrace: "Trace (-vvv)",
	VerbosityAll:   "All (-vvvv)",
}

// VerbosityToLevel maps a -v flag count to the zap level the logger runs at.
func VerbosityToLevel(verbosity int) zapcore.Level {
	if verbosity < 0 {
		return zapcore.WarnLevel
	}
	if verbosity >= len(verbosityLevels) {
		return zapcore.DebugLevel
	}
	return verbosityLevels[verbosity]
}

// LevelName renders a verbosity for banners and diagnostics.
func LevelName(verbosity int) string {
	if verbosity < 0 {
		return "Unknown"
	}
	if verbosity >= len(verbosityNames) {
		return "All (-vvvv+)"
	}
	return verbosityNames[verbosity]
}
