package track

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/teranos/vigil/errors"
	"github.com/teranos/vigil/runner"
)

// HistoryStore archives terminal job records to the job_history table for
// the dashboard and retention cleanup. A job is archived once, when it
// reaches completed or error.
type HistoryStore struct {
	db *sql.DB
}

// NewHistoryStore creates a history store on an open database handle.
func NewHistoryStore(db *sql.DB) *HistoryStore {
	return &HistoryStore{db: db}
}

// Archive inserts one terminal record.
func (s *HistoryStore) Archive(rec *JobRecord) error {
	ctxJSON, err := json.Marshal(rec.Context)
	if err != nil {
		return errors.Wrapf(err, "failed to encode context for job %s", rec.JobID)
	}

	// archived_at is stamped here rather than by the column default so
	// Cleanup's cutoff compares timestamps written by the same clock.
	query := `
		INSERT INTO job_history (job_id, status, message, target, context, forced, started_at, ended_at, archived_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	started := sql.NullTime{Time: rec.StartedAt, Valid: !rec.StartedAt.IsZero()}
	var ended sql.NullTime
	if rec.EndedAt != nil {
		ended = sql.NullTime{Time: *rec.EndedAt, Valid: true}
	}

	_, err = s.db.Exec(query,
		rec.JobID,
		string(rec.Status),
		rec.Message,
		rec.Context.Target,
		string(ctxJSON),
		rec.Forced,
		started,
		ended,
		timeNow(),
	)
	if err != nil {
		return errors.Wrapf(err, "failed to archive job %s", rec.JobID)
	}
	return nil
}

// Recent returns the most recently archived records, newest first.
func (s *HistoryStore) Recent(limit int) ([]*JobRecord, error) {
	query := `
		SELECT job_id, status, message, context, forced, started_at, ended_at
		FROM job_history
		ORDER BY archived_at DESC, id DESC
		LIMIT ?
	`

	rows, err := s.db.Query(query, limit)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list job history")
	}
	defer rows.Close()

	var records []*JobRecord
	for rows.Next() {
		rec, err := scanHistoryRow(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "error iterating job history")
	}
	return records, nil
}

// Count returns the number of archived records.
func (s *HistoryStore) Count() (int, error) {
	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM job_history`).Scan(&n); err != nil {
		return 0, errors.Wrap(err, "failed to count job history")
	}
	return n, nil
}

// Cleanup removes records archived before the retention window and returns
// how many were deleted.
func (s *HistoryStore) Cleanup(olderThan time.Duration) (int, error) {
	cutoff := timeNow().Add(-olderThan)

	result, err := s.db.Exec(`DELETE FROM job_history WHERE archived_at < ?`, cutoff)
	if err != nil {
		return 0, errors.Wrap(err, "failed to clean up job history")
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return 0, errors.Wrap(err, "failed to get rows affected")
	}
	return int(rows), nil
}

func scanHistoryRow(rows *sql.Rows) (*JobRecord, error) {
	var (
		rec     JobRecord
		status  string
		ctxJSON string
		started sql.NullTime
		ended   sql.NullTime
	)
	if err := rows.Scan(&rec.JobID, &status, &rec.Message, &ctxJSON, &rec.Forced, &started, &ended); err != nil {
		return nil, errors.Wrap(err, "failed to scan job history row")
	}

	rec.Status = runner.Status(status)
	if err := json.Unmarshal([]byte(ctxJSON), &rec.Context); err != nil {
		return nil, errors.Wrapf(err, "failed to decode context for job %s", rec.JobID)
	}
	if started.Valid {
		rec.StartedAt = started.Time
	}
	if ended.Valid {
		e := ended.Time
		rec.EndedAt = &e
	}
	return &rec, nil
}
