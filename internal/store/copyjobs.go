package store

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"mdbackup/internal/model"
)

// CopyJobRepo manages the work queue the copy executor drains.
type CopyJobRepo struct {
	s *Store
}

func NewCopyJobRepo(s *Store) *CopyJobRepo { return &CopyJobRepo{s: s} }

func scanCopyJob(row interface{ Scan(...interface{}) error }) (*model.CopyJob, error) {
	var cj model.CopyJob
	var status string
	var started, completed sql.NullString
	err := row.Scan(&cj.ID, &cj.UniqueFileID, &cj.DestinationFullPath, &status,
		&cj.AttemptCount, &cj.LastError, &started, &completed)
	if err != nil {
		return nil, err
	}
	cj.Status = model.CopyJobStatus(status)
	if started.Valid {
		t, err := time.Parse(time.RFC3339Nano, started.String)
		if err == nil {
			cj.StartedUtc = &t
		}
	}
	if completed.Valid {
		t, err := time.Parse(time.RFC3339Nano, completed.String)
		if err == nil {
			cj.CompletedUtc = &t
		}
	}
	return &cj, nil
}

const copyJobColumns = `id, unique_file_id, destination_full_path, status, attempt_count,
	last_error, started_utc, completed_utc`

// Create inserts a pending copy job for a planned unique file. Called once
// per copy-enabled unique file when the plan is finalized into
// ReadyToCopy.
func (r *CopyJobRepo) Create(uniqueFileID int64, destinationFullPath string) (int64, error) {
	res, err := r.s.writeDB.Exec(
		`INSERT OR IGNORE INTO copy_jobs (unique_file_id, destination_full_path) VALUES (?, ?)`,
		uniqueFileID, destinationFullPath,
	)
	if err != nil {
		return 0, fmt.Errorf("%w: create copy job: %v", model.ErrStorageIntegrity, err)
	}
	return res.LastInsertId()
}

// ClaimPendingJobs atomically selects up to n Pending jobs and flips them
// to InProgress in one serialized transaction, so two worker goroutines
// (or two process instances resuming the same project) can never claim the
// same job. This is the core exclusivity guarantee named in the project
// brief's "claim_pending_jobs" operation.
func (r *CopyJobRepo) ClaimPendingJobs(n int) ([]*model.CopyJob, error) {
	tx, err := r.s.writeDB.Begin()
	if err != nil {
		return nil, fmt.Errorf("%w: claim jobs begin: %v", model.ErrStorageIntegrity, err)
	}
	defer tx.Rollback()

	idRows, err := tx.Query(
		`SELECT id FROM copy_jobs WHERE status = ? ORDER BY id LIMIT ?`,
		string(model.JobPending), n,
	)
	if err != nil {
		return nil, fmt.Errorf("%w: claim jobs select ids: %v", model.ErrStorageIntegrity, err)
	}
	var ids []interface{}
	var marks []string
	for idRows.Next() {
		var id int64
		if err := idRows.Scan(&id); err != nil {
			idRows.Close()
			return nil, fmt.Errorf("%w: claim jobs scan id: %v", model.ErrStorageIntegrity, err)
		}
		ids = append(ids, id)
		marks = append(marks, "?")
	}
	idRows.Close()
	if err := idRows.Err(); err != nil {
		return nil, fmt.Errorf("%w: claim jobs iterate ids: %v", model.ErrStorageIntegrity, err)
	}
	if len(ids) == 0 {
		return nil, tx.Commit()
	}
	inClause := "(" + strings.Join(marks, ",") + ")"

	now := time.Now().UTC().Format(time.RFC3339Nano)
	args := append([]interface{}{string(model.JobInProgress), now}, ids...)
	if _, err := tx.Exec(
		`UPDATE copy_jobs SET status = ?, started_utc = ?, attempt_count = attempt_count + 1 WHERE id IN `+inClause,
		args...,
	); err != nil {
		return nil, fmt.Errorf("%w: claim jobs update: %v", model.ErrStorageIntegrity, err)
	}

	// The batch is handed back largest-first so the worker pool
	// parallelizes the tail latency the same way the hash feed does;
	// across batches the id ordering above keeps insertion order.
	rows, err := tx.Query(
		`SELECT `+copyJobColumns+` FROM copy_jobs WHERE id IN `+inClause+`
		 ORDER BY (SELECT h.size_bytes FROM unique_files uf JOIN hashes h ON h.id = uf.hash_id
		           WHERE uf.id = copy_jobs.unique_file_id) DESC, id`,
		ids...,
	)
	if err != nil {
		return nil, fmt.Errorf("%w: claim jobs select: %v", model.ErrStorageIntegrity, err)
	}
	var claimed []*model.CopyJob
	for rows.Next() {
		cj, err := scanCopyJob(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("%w: claim jobs scan: %v", model.ErrStorageIntegrity, err)
		}
		claimed = append(claimed, cj)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: claim jobs iterate: %v", model.ErrStorageIntegrity, err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("%w: claim jobs commit: %v", model.ErrStorageIntegrity, err)
	}
	return claimed, nil
}

// CompleteJob marks a job terminal (Copied, Verified, Skipped or Error).
func (r *CopyJobRepo) CompleteJob(id int64, status model.CopyJobStatus, lastError string) error {
	_, err := r.s.writeDB.Exec(
		`UPDATE copy_jobs SET status = ?, last_error = ?, completed_utc = ? WHERE id = ?`,
		string(status), lastError, time.Now().UTC().Format(time.RFC3339Nano), id,
	)
	if err != nil {
		return fmt.Errorf("%w: complete copy job: %v", model.ErrStorageIntegrity, err)
	}
	return nil
}

// RequeueJob returns a job to Pending, e.g. after a retryable failure,
// incrementing no further attempt until it is claimed again.
func (r *CopyJobRepo) RequeueJob(id int64, lastError string) error {
	_, err := r.s.writeDB.Exec(
		`UPDATE copy_jobs SET status = ?, last_error = ?, started_utc = NULL WHERE id = ?`,
		string(model.JobPending), lastError, id,
	)
	if err != nil {
		return fmt.Errorf("%w: requeue copy job: %v", model.ErrStorageIntegrity, err)
	}
	return nil
}

// CountByStatus reports how many jobs sit in a given status.
func (r *CopyJobRepo) CountByStatus(status model.CopyJobStatus) (int64, error) {
	var n int64
	err := r.s.readDB.QueryRow(`SELECT COUNT(*) FROM copy_jobs WHERE status = ?`, string(status)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("%w: count copy jobs by status: %v", model.ErrStorageIntegrity, err)
	}
	return n, nil
}

// ListByStatus returns every job in a given status, used by the verify
// stage to find jobs awaiting re-hash confirmation.
func (r *CopyJobRepo) ListByStatus(status model.CopyJobStatus) ([]*model.CopyJob, error) {
	rows, err := r.s.readDB.Query(`SELECT `+copyJobColumns+` FROM copy_jobs WHERE status = ? ORDER BY id`, string(status))
	if err != nil {
		return nil, fmt.Errorf("%w: list copy jobs by status: %v", model.ErrStorageIntegrity, err)
	}
	defer rows.Close()

	var out []*model.CopyJob
	for rows.Next() {
		cj, err := scanCopyJob(rows)
		if err != nil {
			return nil, fmt.Errorf("%w: scan copy job row: %v", model.ErrStorageIntegrity, err)
		}
		out = append(out, cj)
	}
	return out, rows.Err()
}

// ResetInProgressToPending requeues every job still InProgress, the
// recovery action the pipeline orchestrator runs on startup after an
// ungraceful shutdown left jobs claimed but never completed (spec's
// recover() semantics).
func (r *CopyJobRepo) ResetInProgressToPending() (int64, error) {
	res, err := r.s.writeDB.Exec(
		`UPDATE copy_jobs SET status = ?, started_utc = NULL,
		 attempt_count = MAX(attempt_count - 1, 0) WHERE status = ?`,
		string(model.JobPending), string(model.JobInProgress),
	)
	if err != nil {
		return 0, fmt.Errorf("%w: reset in-progress jobs: %v", model.ErrStorageIntegrity, err)
	}
	return res.RowsAffected()
}

// PurgeAll drops every copy job, the first step of job creation: a new copy
// run regenerates its queue from the plan rather than reconciling against a
// stale one.
func (r *CopyJobRepo) PurgeAll() error {
	if _, err := r.s.writeDB.Exec(`DELETE FROM copy_jobs`); err != nil {
		return fmt.Errorf("%w: purge copy jobs: %v", model.ErrStorageIntegrity, err)
	}
	return nil
}
