package logger

// OutputCategory classifies what KIND of information a line carries.
// Verbosity levels gate categories, not just severities: -vv turns on poll
// tick detail everywhere, -vvv adds wire-level frames, and so on.
type OutputCategory int

const (
	OutputResults OutputCategory = iota // command output, job results
	OutputErrors                        // errors with hints and resolution steps
	OutputUserStatus                    // final success/failure status

	OutputProgress     // progress indicators ("Processing Regular (1/3)")
	OutputStartup      // startup banners, config summary
	OutputDaemonStatus // daemon started/stopped/reconciled

	OutputPollTicks // per-tick poll results and message comparisons
	OutputTiming    // operation timing ("status call took 42ms")
	OutputConfig    // config values loaded/applied
	OutputHTTPCalls // external HTTP requests made

	OutputSQLQueries // individual SQL queries executed
	OutputWSFrames   // raw WebSocket frames
	OutputInternalOp // internal operation flow

	OutputRequestBody  // full HTTP request bodies
	OutputResponseBody // full HTTP response bodies
	OutputDataDump     // full data structure contents
)

// categories maps each category to its minimum verbosity and display name.
var categories = map[OutputCategory]struct {
	min  int
	name string
}{
	OutputResults:    {VerbosityUser, "results"},
	OutputErrors:     {VerbosityUser, "errors"},
	OutputUserStatus: {VerbosityUser, "status"},

	OutputProgress:     {VerbosityInfo, "progress"},
	OutputStartup:      {VerbosityInfo, "startup"},
	OutputDaemonStatus: {VerbosityInfo, "daemon-status"},

	OutputPollTicks: {VerbosityDebug, "poll-ticks"},
	OutputTiming:    {VerbosityDebug, "timing"},
	OutputConfig:    {VerbosityDebug, "config"},
	OutputHTTPCalls: {VerbosityDebug, "http"},

	OutputSQLQueries: {VerbosityTrace, "sql"},
	OutputWSFrames:   {VerbosityTrace, "ws-frames"},
	OutputInternalOp: {VerbosityTrace, "internal"},

	OutputRequestBody:  {VerbosityAll, "request-body"},
	OutputResponseBody: {VerbosityAll, "response-body"},
	OutputDataDump:     {VerbosityAll, "data-dump"},
}

// ShouldOutput reports whether a category is visible at the given verbosity.
func ShouldOutput(verbosity int, category OutputCategory) bool {
	c, ok := categories[category]
	if !ok {
		// Unknown categories only surface at maximum verbosity.
		return verbosity >= VerbosityAll
	}
	return verbosity >= c.min
}

// CategoryName returns the display name for a category.
func CategoryName(category OutputCategory) string {
	if c, ok := categories[category]; ok {
		return c.name
	}
	return "unknown"
}
