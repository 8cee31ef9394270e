package progress

import (
	"regexp"
	"strconv"
	"strings"
)

// unitCounterRe matches "<verb> <unit> (current/total)", the shape the runner
// uses while working through a batch: "Processing Regular (1/3)".
var unitCounterRe = regexp.MustCompile(`^([A-Za-z]+)\s+(.+?)\s*\((\d+)\s*/\s*(\d+)\)$`)

// UnitCounter parses batch messages that name the unit being worked and its
// position in the run.
type UnitCounter struct{}

func (UnitCounter) Extract(message string) (StageProgress, bool) {
	m := unitCounterRe.FindStringSubmatch(strings.TrimSpace(message))
	if m == nil {
		return StageProgress{}, false
	}

	current, err := strconv.Atoi(m[3])
	if err != nil {
		return StageProgress{}, false
	}
	total, err := strconv.Atoi(m[4])
	if err != nil {
		return StageProgress{}, false
	}

	return StageProgress{
		Stage:   strings.ToLower(m[1]),
		Detail:  m[2],
		Current: current,
		Total:   total,
	}, true
}

var (
	navigationRe = regexp.MustCompile(`(?i)^navigating(?:\s+to)?\s+(.+)$`)
	loginRe      = regexp.MustCompile(`(?i)^(?:logging\s+in|login)\b\s*(.*)$`)
)

// Navigation parses navigation and login lines: "Navigating to <url>",
// "Logging in", "Login page loaded".
type Navigation struct{}

func (Navigation) Extract(message string) (StageProgress, bool) {
	trimmed := strings.TrimSpace(message)

	if m := navigationRe.FindStringSubmatch(trimmed); m != nil {
		return StageProgress{Stage: StageNavigating, Detail: strings.TrimSpace(m[1])}, true
	}
	if m := loginRe.FindStringSubmatch(trimmed); m != nil {
		return StageProgress{Stage: StageLogin, Detail: strings.TrimSpace(m[1])}, true
	}

	return StageProgress{}, false
}

// stageKeywords maps vocabulary words to canonical stages, checked in order
// so the first hit wins.
var stageKeywords = []struct {
	marker string
	stage  string
}{
	{"closing", StageClosing},
	{"filling", StageFilling},
	{"processing", StageProcessing},
	{"navigating", StageNavigating},
	{"logging in", StageLogin},
}

// StageKeyword is the fallback adapter: any message mentioning a known stage
// word anywhere gets that stage, with the whole message kept as detail.
type StageKeyword struct{}

func (StageKeyword) Extract(message string) (StageProgress, bool) {
	lower := strings.ToLower(message)
	for _, kw := range stageKeywords {
		if strings.Contains(lower, kw.marker) {
			return StageProgress{Stage: kw.stage, Detail: strings.TrimSpace(message)}, true
		}
	}
	return StageProgress{}, false
}
