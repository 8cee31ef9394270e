package logger

import "strings"

const (
	colorReset = "\x1b[0m"
	colorBold  = "\x1b[1m"
)

// palette assigns a color to each rendering role. Both themes fill the same
// slots, so the encoder never branches on theme name.
type palette struct {
	fg        string
	time      string
	id        string   // job/client/request IDs
	number    string   // counts and durations
	stage     string   // [bracketed] stage markers
	symbol    string   // segment symbols (◉, ☀, ☾)
	activity  string   // poll/tick/completion messages
	network   string   // client/websocket/runner messages
	lifecycle string   // daemon startup/config messages
	warn      string
	warnBg    string
	err       string
	errBg     string
	component []string // rotation for component names
}

var themes = map[string]palette{
	// Warm, muted, easy on the eyes.
	"gruvbox": {
		fg:        "\x1b[38;5;223m", // soft cream (#ebdbb2)
		time:      "\x1b[38;5;108m", // muted cyan-green (#8ec07c)
		id:        "\x1b[38;5;109m", // soft blue (#83a598)
		number:    "\x1b[38;5;175m", // muted purple (#d3869b)
		stage:     "\x1b[38;5;208m", // warm orange (#fe8019)
		symbol:    "\x1b[38;5;142m", // muted green (#b8bb26)
		activity:  "\x1b[38;5;142m",
		network:   "\x1b[38;5;109m",
		lifecycle: "\x1b[38;5;208m",
		warn:      "\x1b[38;5;214m", // soft yellow (#fabd2f)
		warnBg:    "\x1b[48;5;58m",
		err:       "\x1b[38;5;167m", // warm red (#fb4934)
		errBg:     "\x1b[48;5;88m",
		component: []string{"\x1b[38;5;208m", "\x1b[38;5;214m"}, // orange/yellow
	},
	// Natural forest greens with a strong green presence.
	"everforest": {
		fg:        "\x1b[38;5;223m", // soft beige (#d3c6aa)
		time:      "\x1b[38;5;107m", // mid green (#83c092)
		id:        "\x1b[38;5;109m", // blue-green (#7fbbb3)
		number:    "\x1b[38;5;108m", // bright green (#a7c080)
		stage:     "\x1b[38;5;208m", // warm orange (#e69875)
		symbol:    "\x1b[38;5;108m",
		activity:  "\x1b[38;5;108m", // poll activity stays prominent
		network:   "\x1b[38;5;107m",
		lifecycle: "\x1b[38;5;65m", // deep green (#7fbbb3)
		warn:      "\x1b[38;5;179m", // soft yellow (#dbbc7f)
		warnBg:    "\x1b[48;5;58m",
		err:       "\x1b[38;5;167m", // warm red (#e67e80)
		errBg:     "\x1b[48;5;52m",
		component: []string{"\x1b[38;5;108m", "\x1b[38;5;65m", "\x1b[38;5;208m"},
	},
}

var currentTheme = "everforest"

// SetTheme switches the console palette. Unknown names are ignored so a
// typo in config degrades to the default rather than breaking output.
func SetTheme(theme string) {
	if _, ok := themes[theme]; ok {
		currentTheme = theme
	}
}

func activePalette() palette {
	return themes[currentTheme]
}

// componentColor picks a stable color per component name so repeated lines
// from the same component group visually.
func componentColor(name string) string {
	p := activePalette()
	hash := 0
	for _, c := range name {
		hash += int(c)
	}
	return p.component[hash%len(p.component)]
}

// messageClasses route messages to a palette role by keyword.
var messageClasses = []struct {
	pick     func(p palette) string
	keywords []string
}{
	{func(p palette) string { return p.activity }, []string{"poll", "processing", "completed", "tick"}},
	{func(p palette) string { return p.network }, []string{"client", "connected", "websocket", "runner"}},
	{func(p palette) string { return p.lifecycle }, []string{"starting", "started", "daemon", "config"}},
}

// messageColor returns the base color for a log message.
func messageColor(msg string) string {
	lower := strings.ToLower(msg)
	for _, class := range messageClasses {
		for _, kw := range class.keywords {
			if strings.Contains(lower, kw) {
				return class.pick(activePalette())
			}
		}
	}
	return activePalette().fg
}
