package commands

import (
	"fmt"

	"github.com/teranos/vigil/logger"
	"github.com/teranos/vigil/sym"
	"github.com/teranos/vigil/version"
)

// printStartupBanner draws the serve greeting: logo, build info box, and
// connection hints.
func printStartupBanner(verbosity int, dbPath, runnerURL string, port int) {
	const (
		cyan    = "\033[36m"
		green   = "\033[32m"
		yellow  = "\033[33m"
		blue    = "\033[34m"
		magenta = "\033[35m"
		bold    = "\033[1m"
		reset   = "\033[0m"
	)

	info := version.Get()

	fmt.Printf("\n%s%s", cyan, bold)
	fmt.Printf("   ╔════════════════════════════════════╗\n")
	fmt.Printf("   ║                                    ║\n")
	fmt.Printf("   ║   ██    ██ ██  ██████ ██ ██        ║\n")
	fmt.Printf("   ║   ██    ██ ██ ██      ██ ██        ║\n")
	fmt.Printf("   ║   ██    ██ ██ ██  ███ ██ ██        ║\n")
	fmt.Printf("   ║    ██  ██  ██ ██   ██ ██ ██        ║\n")
	fmt.Printf("   ║     ████   ██  ██████ ██ ███████   ║\n")
	fmt.Printf("   ║                                    ║\n")
	fmt.Printf("   ║   %s%s%s Track  %s%s%s Wake  %s%s%s Rest  %s%s%s Run   ║\n",
		blue, sym.Vigil, reset+cyan+bold,
		yellow, sym.Wake, reset+cyan+bold,
		magenta, sym.Rest, reset+cyan+bold,
		green, sym.Run, reset+cyan+bold)
	fmt.Printf("   ║                                    ║\n")
	fmt.Printf("   ╚════════════════════════════════════╝%s\n\n", reset)

	row := func(label, value string) {
		fmt.Printf("%s│%s %-10s %s\n", green, reset, label, value)
	}

	fmt.Printf("%s%s┌─ vigil ─────────────────────────────────────────────┐%s\n", green, bold, reset)
	row("Version:", fmt.Sprintf("%s (commit %s)", info.Version, info.Short()))
	row("Built:", info.BuildTime)
	row("Verbosity:", logger.LevelName(verbosity))
	if dbPath != "" {
		row("Database:", dbPath)
	}
	row("Runner:", runnerURL)
	fmt.Printf("%s└─────────────────────────────────────────────────────┘%s\n", green, reset)

	fmt.Printf("\n%s%s✨ Dashboard clients connect at ws://localhost:%d/ws%s\n", yellow, bold, port, reset)
	fmt.Printf("%s💡 Ctrl+C stops the daemon; twice forces exit%s\n\n", blue, reset)
}
