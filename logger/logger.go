package logger

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// TODO(future): caller-controlled formatting for complex payloads
// (progress boards, tables). The minimal encoder works well for line output
// but flattens structured data. Defer until a second consumer needs it.

// Logger is the process-wide sugared logger. It starts as a no-op so
// packages can log during early startup; Initialize swaps in the real one.
var Logger *zap.SugaredLogger

// JSONOutput records whether Initialize selected machine-readable output.
var JSONOutput bool

// level backs every core built here, so verbosity can change after
// construction (the daemon bumps itself to Info; config reload may
// re-level later).
var level = zap.NewAtomicLevelAt(zap.WarnLevel)

func init() {
	Logger = zap.NewNop().Sugar()
}

// Initialize builds the global logger. Verbosity follows the CLI flag
// count: 0 logs warnings and errors only, -v adds info, -vv and up add
// debug. jsonOutput switches to zap's production JSON encoding for
// machine consumption.
func Initialize(jsonOutput bool, verbosity int) error {
	JSONOutput = jsonOutput
	level.SetLevel(VerbosityToLevel(verbosity))
	loadThemeFromEnv()

	if jsonOutput {
		cfg := zap.NewProductionConfig()
		cfg.Level = level
		zapLogger, err := cfg.Build()
		if err != nil {
			return err
		}
		Logger = zapLogger.Sugar()
		return nil
	}

	// Human-readable console output with minimal, calm formatting.
	core := zapcore.NewCore(newMinimalEncoder(), zapcore.AddSync(os.Stdout), level)
	Logger = zap.New(core).Sugar()
	return nil
}

// SetVerbosity re-levels the active logger without rebuilding it.
func SetVerbosity(verbosity int) {
	level.SetLevel(VerbosityToLevel(verbosity))
}

// loadThemeFromEnv applies VIGIL_LOG_THEME when present.
// Config-file theme selection happens in main() before logger init,
// so the environment is the only soft dependency here.
func loadThemeFromEnv() {
	if theme := os.Getenv("VIGIL_LOG_THEME"); theme != "" {
		SetTheme(theme)
	}
}

// Cleanup flushes any buffered log entries.
func Cleanup() {
	Logger.Sync()
}

// Package-level shorthands delegating to Logger. The init above
// guarantees Logger is never nil.

func Info(args ...interface{})  { Logger.Info(args...) }
func Warn(args ...interface{})  { Logger.Warn(args...) }
func Error(args ...interface{}) { Logger.Error(args...) }
func Debug(args ...interface{}) { Logger.Debug(args...) }

func Infof(format string, args ...interface{})  { Logger.Infof(format, args...) }
func Warnf(format string, args ...interface{})  { Logger.Warnf(format, args...) }
func Errorf(format string, args ...interface{}) { Logger.Errorf(format, args...) }
func Debugf(format string, args ...interface{}) { Logger.Debugf(format, args...) }

func Infow(msg string, keysAndValues ...interface{})  { Logger.Infow(msg, keysAndValues...) }
func Warnw(msg string, keysAndValues ...interface{})  { Logger.Warnw(msg, keysAndValues...) }
func Errorw(msg string, keysAndValues ...interface{}) { Logger.Errorw(msg, keysAndValues...) }
func Debugw(msg string, keysAndValues ...interface{}) { Logger.Debugw(msg, keysAndValues...) }
