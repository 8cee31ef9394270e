// Package progress turns the runner's free-text status messages into
// structured progress for display. Message parsing is quarantined here: the
// tracking subsystem consumes only the Activity boolean, so a wording change
// on the runner side can degrade display fidelity but never completion
// detection.
package progress

import (
	"fmt"
	"strings"
)

// Canonical stage names produced by the adapters.
const (
	StageNavigating = "navigating"
	StageLogin      = "login"
	StageFilling    = "filling"
	StageProcessing = "processing"
	StageClosing    = "closing"
)

// StageProgress is the structured view of one status message. Current/Total
// are zero when the message carried no counter.
type StageProgress struct {
	Stage   string `json:"stage"`
	Detail  string `json:"detail,omitempty"`
	Current int    `json:"current,omitempty"`
	Total   int    `json:"total,omitempty"`
}

// Extractor converts one known message shape into structured progress.
// Extract returns ok=false when the message is not in this adapter's shape.
type Extractor interface {
	Extract(message string) (StageProgress, bool)
}

// DefaultExtractors is the adapter chain in specificity order; the first
// adapter claiming a message wins.
var DefaultExtractors = []Extractor{
	UnitCounter{},
	Navigation{},
	StageKeyword{},
}

// Extract runs the default adapter chain over message.
func Extract(message string) (StageProgress, bool) {
	for _, ex := range DefaultExtractors {
		if p, ok := ex.Extract(message); ok {
			return p, true
		}
	}
	return StageProgress{}, false
}

// WithExpectedTotal fills in Total from the job's expected unit count when
// the message itself did not carry a counter.
func (p StageProgress) WithExpectedTotal(total int) StageProgress {
	if p.Total == 0 && total > 0 {
		p.Total = total
	}
	return p
}

// Percent returns completion as 0-100, or 0 when no counter is known.
func (p StageProgress) Percent() int {
	if p.Total <= 0 {
		return 0
	}
	if p.Current >= p.Total {
		return 100
	}
	return p.Current * 100 / p.Total
}

func (p StageProgress) String() string {
	switch {
	case p.Total > 0 && p.Detail != "":
		return fmt.Sprintf("%s %s (%d/%d)", p.Stage, p.Detail, p.Current, p.Total)
	case p.Total > 0:
		return fmt.Sprintf("%s (%d/%d)", p.Stage, p.Current, p.Total)
	case p.Detail != "":
		return fmt.Sprintf("%s: %s", p.Stage, p.Detail)
	default:
		return p.Stage
	}
}

// activityMarkers is the fixed vocabulary of work-in-progress verbs. A
// message containing any of them is evidence the runner is still doing real
// work, whatever else it says. Deliberately small: adding a word here widens
// what the completion heuristics treat as activity.
var activityMarkers = []string{
	"closing",
	"filling",
	"processing",
	"navigating",
}

// Activity reports whether message indicates genuine work in progress. The
// completion heuristics depend only on this boolean, never on structured
// extraction.
func Activity(message string) bool {
	lower := strings.ToLower(message)
	for _, marker := range activityMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}
