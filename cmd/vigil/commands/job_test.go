package commands

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/teranos/vigil/progress"
	"github.com/teranos/vigil/track"
)

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 12))
	assert.Equal(t, "exactly-12ch", truncate("exactly-12ch", 12))
	assert.Equal(t, "a-much-lo...", truncate("a-much-longer-string", 12))
}

func TestProgressCell(t *testing.T) {
	assert.Equal(t, "-", progressCell(&track.JobRecord{}))

	counted := &track.JobRecord{Progress: &progress.StageProgress{
		Stage:   "filling",
		Current: 3,
		Total:   12,
	}}
	assert.Equal(t, "3/12 (25%)", progressCell(counted))

	stageOnly := &track.JobRecord{Progress: &progress.StageProgress{
		Stage: "navigating to the dispenser overview page",
	}}
	assert.Equal(t, "navigating to...", progressCell(stageOnly))
}
