package track

import "time"

// TrackerState is the persisted projection of the tracking subsystem. It is
// written as one versioned aggregate under state.TrackerStateKey so the
// active-job handle, the polling flag, and the record table can never drift
// apart across a crash between writes.
type TrackerState struct {
	ActiveJobID      string       `json:"active_job_id"`
	IsPolling        bool         `json:"is_polling"`
	JobRecords       []*JobRecord `json:"job_records"`
	LastStatusUpdate time.Time    `json:"last_status_update"`
}

// Record returns the persisted record for jobID, or nil.
func (s *TrackerState) Record(jobID string) *JobRecord {
	for _, rec := range s.JobRecords {
		if rec.JobID == jobID {
			return rec
		}
	}
	return nil
}
