package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/teranos/vigil/sym"
)

// resetGlobals restores the package logger state after a test that
// reconfigures it.
func resetGlobals(t *testing.T) {
	t.Helper()
	t.Cleanup(func() {
		Logger = zap.NewNop().Sugar()
		JSONOutput = false
		level.SetLevel(zapcore.WarnLevel)
		currentTheme = "everforest"
	})
}

// captureLogs points the global logger at an in-memory core.
func captureLogs(t *testing.T) *observer.ObservedLogs {
	t.Helper()
	resetGlobals(t)
	core, logs := observer.New(zapcore.DebugLevel)
	Logger = zap.New(core).Sugar()
	return logs
}

func TestInitializeConsole(t *testing.T) {
	resetGlobals(t)

	require.NoError(t, Initialize(false, VerbosityInfo))
	require.NotNil(t, Logger)
	assert.False(t, JSONOutput)

	core := Logger.Desugar().Core()
	assert.True(t, core.Enabled(zapcore.InfoLevel))
	assert.False(t, core.Enabled(zapcore.DebugLevel))
}

func TestInitializeJSON(t *testing.T) {
	resetGlobals(t)

	require.NoError(t, Initialize(true, VerbosityDebug))
	assert.True(t, JSONOutput)
	assert.True(t, Logger.Desugar().Core().Enabled(zapcore.DebugLevel))
}

func TestInitializeDefaultsToWarn(t *testing.T) {
	resetGlobals(t)

	require.NoError(t, Initialize(false, VerbosityUser))

	core := Logger.Desugar().Core()
	assert.True(t, core.Enabled(zapcore.WarnLevel))
	assert.False(t, core.Enabled(zapcore.InfoLevel))
}

func TestSetVerbosityRelevelsLiveLogger(t *testing.T) {
	resetGlobals(t)

	require.NoError(t, Initialize(false, VerbosityUser))
	core := Logger.Desugar().Core()
	require.False(t, core.Enabled(zapcore.InfoLevel))

	// The daemon bumps itself to Info after flag parsing; no rebuild.
	SetVerbosity(VerbosityInfo)
	assert.True(t, core.Enabled(zapcore.InfoLevel))

	SetVerbosity(VerbosityUser)
	assert.False(t, core.Enabled(zapcore.InfoLevel))
}

func TestThemeFromEnvironment(t *testing.T) {
	tests := []struct {
		name      string
		envTheme  string
		wantTheme string
	}{
		{"gruvbox via environment", "gruvbox", "gruvbox"},
		{"everforest via environment", "everforest", "everforest"},
		{"unknown theme keeps current", "solarized", "everforest"},
		{"empty environment keeps current", "", "everforest"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resetGlobals(t)
			currentTheme = "everforest"
			t.Setenv("VIGIL_LOG_THEME", tt.envTheme)

			require.NoError(t, Initialize(false, VerbosityInfo))
			assert.Equal(t, tt.wantTheme, currentTheme)
		})
	}
}

func TestShorthandsRouteThroughGlobalLogger(t *testing.T) {
	logs := captureLogs(t)

	Infow("poll tick", FieldJobID, "run-1", FieldTick, 3)
	Warnw("runner slow", FieldDurationMS, 900)
	Errorw("archive failed", FieldError, "disk full")
	Debugw("config applied")
	Infof("resumed %d jobs", 2)

	require.Equal(t, 5, logs.Len())

	first := logs.All()[0]
	assert.Equal(t, "poll tick", first.Message)
	assert.Equal(t, zapcore.InfoLevel, first.Level)
	fields := first.ContextMap()
	assert.Equal(t, "run-1", fields[FieldJobID])

	assert.Equal(t, zapcore.WarnLevel, logs.All()[1].Level)
	assert.Equal(t, zapcore.ErrorLevel, logs.All()[2].Level)
	assert.Equal(t, zapcore.DebugLevel, logs.All()[3].Level)
	assert.Equal(t, "resumed 2 jobs", logs.All()[4].Message)
}

func TestSymbolHelpersAttachSymbolField(t *testing.T) {
	logs := captureLogs(t)

	WakeInfow("Reconciling persisted jobs with runner")
	RestInfow("Pausing poll timers", FieldCount, 2)
	DBDebugw("Database ready", "path", "vigil.db")

	require.Equal(t, 3, logs.Len())
	assert.Equal(t, sym.Wake, logs.All()[0].ContextMap()[FieldSymbol])

	rest := logs.All()[1].ContextMap()
	assert.Equal(t, sym.Rest, rest[FieldSymbol])
	assert.EqualValues(t, 2, rest[FieldCount])

	assert.Equal(t, sym.DB, logs.All()[2].ContextMap()[FieldSymbol])
}

func TestComponentLoggerNamesEntries(t *testing.T) {
	logs := captureLogs(t)

	ComponentLogger("track.registry").Infow("Polling started", FieldJobID, "run-9")

	require.Equal(t, 1, logs.Len())
	assert.Equal(t, "track.registry", logs.All()[0].LoggerName)
}

func TestVerbosityToLevel(t *testing.T) {
	tests := []struct {
		verbosity int
		want      zapcore.Level
	}{
		{VerbosityUser, zapcore.WarnLevel},
		{VerbosityInfo, zapcore.InfoLevel},
		{VerbosityDebug, zapcore.DebugLevel},
		{VerbosityTrace, zapcore.DebugLevel},
		{VerbosityAll, zapcore.DebugLevel},
		{99, zapcore.DebugLevel},
		{-1, zapcore.WarnLevel},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, VerbosityToLevel(tt.verbosity), "verbosity %d", tt.verbosity)
	}
}

func TestLevelName(t *testing.T) {
	assert.Equal(t, "User", LevelName(VerbosityUser))
	assert.Equal(t, "Info (-v)", LevelName(VerbosityInfo))
	assert.Equal(t, "Debug (-vv)", LevelName(VerbosityDebug))
	assert.Equal(t, "Trace (-vvv)", LevelName(VerbosityTrace))
	assert.Equal(t, "All (-vvvv)", LevelName(VerbosityAll))
	assert.Equal(t, "All (-vvvv+)", LevelName(9))
	assert.Equal(t, "Unknown", LevelName(-1))
}

func TestShouldOutputTiers(t *testing.T) {
	tests := []struct {
		name      string
		verbosity int
		category  OutputCategory
		want      bool
	}{
		{"results always shown", VerbosityUser, OutputResults, true},
		{"errors always shown", VerbosityUser, OutputErrors, true},
		{"progress hidden by default", VerbosityUser, OutputProgress, false},
		{"progress shown at -v", VerbosityInfo, OutputProgress, true},
		{"poll ticks hidden at -v", VerbosityInfo, OutputPollTicks, false},
		{"poll ticks shown at -vv", VerbosityDebug, OutputPollTicks, true},
		{"ws frames hidden at -vv", VerbosityDebug, OutputWSFrames, false},
		{"ws frames shown at -vvv", VerbosityTrace, OutputWSFrames, true},
		{"response bodies need -vvvv", VerbosityTrace, OutputResponseBody, false},
		{"response bodies shown at -vvvv", VerbosityAll, OutputResponseBody, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ShouldOutput(tt.verbosity, tt.category))
		})
	}
}

func TestShouldOutputUnknownCategory(t *testing.T) {
	unknown := OutputCategory(9999)
	assert.False(t, ShouldOutput(VerbosityTrace, unknown))
	assert.True(t, ShouldOutput(VerbosityAll, unknown))
	assert.Equal(t, "unknown", CategoryName(unknown))
}

func TestCategoryName(t *testing.T) {
	assert.Equal(t, "poll-ticks", CategoryName(OutputPollTicks))
	assert.Equal(t, "ws-frames", CategoryName(OutputWSFrames))
	assert.Equal(t, "results", CategoryName(OutputResults))
}

func BenchmarkInfow(b *testing.B) {
	old := Logger
	Logger = zap.NewNop().Sugar()
	defer func() { Logger = old }()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		Infow("poll tick", FieldJobID, "run-1", FieldTick, i)
	}
}
