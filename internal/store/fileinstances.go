package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	"mdbackup/internal/model"
)

// FileInstanceRepo manages discovered file rows.
type FileInstanceRepo struct {
	s *Store
}

func NewFileInstanceRepo(s *Store) *FileInstanceRepo { return &FileInstanceRepo{s: s} }

func scanFileInstance(row interface{ Scan(...interface{}) error }) (*model.FileInstance, error) {
	var fi model.FileInstance
	var status, category, modified, discovered string
	var hashID sql.NullInt64
	err := row.Scan(&fi.ID, &fi.ScanRootID, &fi.RelativePath, &fi.FileName, &fi.Extension,
		&fi.SizeBytes, &modified, &status, &category, &hashID, &discovered, &fi.ErrorMessage)
	if err != nil {
		return nil, err
	}
	fi.Status = model.FileStatus(status)
	fi.Category = model.Category(category)
	fi.ModifiedUtc, _ = time.Parse(time.RFC3339Nano, modified)
	fi.DiscoveredUtc, _ = time.Parse(time.RFC3339Nano, discovered)
	if hashID.Valid {
		v := hashID.Int64
		fi.HashID = &v
	}
	return &fi, nil
}

const fileInstanceColumns = `id, scan_root_id, relative_path, file_name, extension, size_bytes,
	modified_utc, status, category, hash_id, discovered_utc, error_message`

// GetByID loads a single file instance.
func (r *FileInstanceRepo) GetByID(id int64) (*model.FileInstance, error) {
	row := r.s.readDB.QueryRow(`SELECT `+fileInstanceColumns+` FROM file_instances WHERE id = ?`, id)
	fi, err := scanFileInstance(row)
	if err != nil {
		return nil, fmt.Errorf("%w: get file instance: %v", model.ErrStorageIntegrity, err)
	}
	return fi, nil
}

// FindByIdentity looks up the prior run's row for (scanRootID, relativePath)
// so the enumerator can decide whether a file is unchanged since last scan.
func (r *FileInstanceRepo) FindByIdentity(scanRootID int64, relativePath string) (*model.FileInstance, error) {
	row := r.s.readDB.QueryRow(
		`SELECT `+fileInstanceColumns+` FROM file_instances WHERE scan_root_id = ? AND relative_path = ?`,
		scanRootID, relativePath,
	)
	fi, err := scanFileInstance(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: find by identity: %v", model.ErrStorageIntegrity, err)
	}
	return fi, nil
}

// ListPendingHash returns file instances awaiting hashing, largest first
// so the worker pool parallelizes the tail latency, up to limit rows. The
// hash stage pages through this repeatedly; each processed row leaves
// HashPending, so no offset is needed.
func (r *FileInstanceRepo) ListPendingHash(limit int) ([]*model.FileInstance, error) {
	rows, err := r.s.readDB.Query(
		`SELECT `+fileInstanceColumns+` FROM file_instances WHERE status = ? ORDER BY size_bytes DESC, id LIMIT ?`,
		string(model.StatusHashPending), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("%w: list pending hash: %v", model.ErrStorageIntegrity, err)
	}
	defer rows.Close()

	var out []*model.FileInstance
	for rows.Next() {
		fi, err := scanFileInstance(rows)
		if err != nil {
			return nil, fmt.Errorf("%w: scan pending hash row: %v", model.ErrStorageIntegrity, err)
		}
		out = append(out, fi)
	}
	return out, rows.Err()
}

// ListByStatus returns every file instance in the given status, in id
// order. A limit of 0 means unbounded; the plan stage uses this to pull
// every Hashed row in one pass.
func (r *FileInstanceRepo) ListByStatus(status model.FileStatus, limit int) ([]*model.FileInstance, error) {
	query := `SELECT ` + fileInstanceColumns + ` FROM file_instances WHERE status = ? ORDER BY id`
	args := []interface{}{string(status)}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := r.s.readDB.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: list by status: %v", model.ErrStorageIntegrity, err)
	}
	defer rows.Close()

	var out []*model.FileInstance
	for rows.Next() {
		fi, err := scanFileInstance(rows)
		if err != nil {
			return nil, fmt.Errorf("%w: scan list by status row: %v", model.ErrStorageIntegrity, err)
		}
		out = append(out, fi)
	}
	return out, rows.Err()
}

// SetHashResult records a completed hash and advances status to Hashed
// (or Error, with a message, on failure).
func (r *FileInstanceRepo) SetHashResult(id int64, hashID int64, status model.FileStatus, errMsg string) error {
	var hashRef interface{}
	if hashID > 0 {
		hashRef = hashID
	}
	_, err := r.s.writeDB.Exec(
		`UPDATE file_instances SET hash_id = ?, status = ?, error_message = ? WHERE id = ?`,
		hashRef, string(status), errMsg, id,
	)
	if err != nil {
		return fmt.Errorf("%w: set hash result: %v", model.ErrStorageIntegrity, err)
	}
	return nil
}

// CountByStatus reports how many instances sit in a given status, used to
// decide when a stage has drained its queue.
func (r *FileInstanceRepo) CountByStatus(status model.FileStatus) (int64, error) {
	var n int64
	err := r.s.readDB.QueryRow(`SELECT COUNT(*) FROM file_instances WHERE status = ?`, string(status)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("%w: count by status: %v", model.ErrStorageIntegrity, err)
	}
	return n, nil
}

// Totals reports the file count and byte sum across every discovered,
// non-filtered instance; used for progress-bar totals and estimate passes.
func (r *FileInstanceRepo) Totals() (count, bytes int64, err error) {
	row := r.s.readDB.QueryRow(
		`SELECT COUNT(*), COALESCE(SUM(size_bytes), 0) FROM file_instances WHERE status != ?`,
		string(model.StatusFilteredOut),
	)
	if err := row.Scan(&count, &bytes); err != nil {
		return 0, 0, fmt.Errorf("%w: totals: %v", model.ErrStorageIntegrity, err)
	}
	return count, bytes, nil
}

// TouchDiscovered stamps a row as seen by the current scan pass without
// disturbing its hash reference or status, the bookkeeping half of the
// unchanged-file fast path: rows whose stamp predates the pass are the
// files that vanished from disk.
func (r *FileInstanceRepo) TouchDiscovered(id int64, when time.Time) error {
	_, err := r.s.writeDB.Exec(
		`UPDATE file_instances SET discovered_utc = ? WHERE id = ?`,
		when.UTC().Format(time.RFC3339Nano), id,
	)
	if err != nil {
		return fmt.Errorf("%w: touch discovered: %v", model.ErrStorageIntegrity, err)
	}
	return nil
}

// MarkRediscovered reconciles a row whose on-disk (size, modified) tuple no
// longer matches the stored record: the stale hash reference is dropped and
// the row goes back to HashPending for the hash stage to pick up.
func (r *FileInstanceRepo) MarkRediscovered(id int64, sizeBytes int64, modifiedUtc, when time.Time) error {
	_, err := r.s.writeDB.Exec(
		`UPDATE file_instances SET size_bytes = ?, modified_utc = ?, status = ?,
		 hash_id = NULL, error_message = '', discovered_utc = ? WHERE id = ?`,
		sizeBytes, modifiedUtc.UTC().Format(time.RFC3339Nano),
		string(model.StatusHashPending), when.UTC().Format(time.RFC3339Nano), id,
	)
	if err != nil {
		return fmt.Errorf("%w: mark rediscovered: %v", model.ErrStorageIntegrity, err)
	}
	return nil
}

// DeleteDiscoveredBefore removes every instance under a root whose
// discovered stamp predates cutoff — the files a completed scan pass did
// not see on disk. Timestamps are compared parsed, not as strings, since
// RFC3339Nano trims trailing zeros and breaks lexicographic ordering.
func (r *FileInstanceRepo) DeleteDiscoveredBefore(rootID int64, cutoff time.Time) (int64, error) {
	rows, err := r.s.readDB.Query(
		`SELECT id, discovered_utc FROM file_instances WHERE scan_root_id = ?`, rootID,
	)
	if err != nil {
		return 0, fmt.Errorf("%w: list for stale sweep: %v", model.ErrStorageIntegrity, err)
	}
	var stale []int64
	for rows.Next() {
		var id int64
		var discovered string
		if err := rows.Scan(&id, &discovered); err != nil {
			rows.Close()
			return 0, fmt.Errorf("%w: scan stale row: %v", model.ErrStorageIntegrity, err)
		}
		ts, err := time.Parse(time.RFC3339Nano, discovered)
		if err != nil || ts.Before(cutoff) {
			stale = append(stale, id)
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("%w: iterate stale rows: %v", model.ErrStorageIntegrity, err)
	}

	const chunk = 500
	var deleted int64
	for len(stale) > 0 {
		n := len(stale)
		if n > chunk {
			n = chunk
		}
		marks := strings.Repeat("?,", n-1) + "?"
		args := make([]interface{}, n)
		for i, id := range stale[:n] {
			args[i] = id
		}
		res, err := r.s.writeDB.Exec(`DELETE FROM file_instances WHERE id IN (`+marks+`)`, args...)
		if err != nil {
			return deleted, fmt.Errorf("%w: delete stale instances: %v", model.ErrStorageIntegrity, err)
		}
		if affected, err := res.RowsAffected(); err == nil {
			deleted += affected
		}
		stale = stale[n:]
	}
	return deleted, nil
}

// PendingHashTotals reports how many instances still await hashing and
// their combined size, for the hash stage's progress totals.
func (r *FileInstanceRepo) PendingHashTotals() (count, bytes int64, err error) {
	row := r.s.readDB.QueryRow(
		`SELECT COUNT(*), COALESCE(SUM(size_bytes), 0) FROM file_instances WHERE status = ? AND hash_id IS NULL`,
		string(model.StatusHashPending),
	)
	if err := row.Scan(&count, &bytes); err != nil {
		return 0, 0, fmt.Errorf("%w: pending hash totals: %v", model.ErrStorageIntegrity, err)
	}
	return count, bytes, nil
}

// BatchInserter accumulates discovered files in memory and flushes them to
// file_instances in bounded transactions, capped at 10,000 rows per
// commit, reusing one prepared statement across each batch.
type BatchInserter struct {
	db        *sql.DB
	mu        sync.Mutex
	pending   []model.FileInstance
	batchSize int
}

const maxBatchCommitRows = 10000

// NewBatchInserter creates an inserter flushing every batchSize rows (capped
// at maxBatchCommitRows) or on an explicit Flush call.
func NewBatchInserter(s *Store, batchSize int) *BatchInserter {
	if batchSize <= 0 || batchSize > maxBatchCommitRows {
		batchSize = maxBatchCommitRows
	}
	return &BatchInserter{db: s.writeDB, pending: make([]model.FileInstance, 0, batchSize), batchSize: batchSize}
}

// Add queues a discovered file for insertion, flushing synchronously once
// the batch reaches its configured size.
func (bi *BatchInserter) Add(ctx context.Context, fi model.FileInstance) error {
	bi.mu.Lock()
	defer bi.mu.Unlock()
	bi.pending = append(bi.pending, fi)
	if len(bi.pending) >= bi.batchSize {
		return bi.flushLocked(ctx)
	}
	return nil
}

// Flush commits any queued rows immediately.
func (bi *BatchInserter) Flush(ctx context.Context) error {
	bi.mu.Lock()
	defer bi.mu.Unlock()
	return bi.flushLocked(ctx)
}

func (bi *BatchInserter) flushLocked(ctx context.Context) error {
	if len(bi.pending) == 0 {
		return nil
	}
	if ctx.Err() != nil {
		return fmt.Errorf("%w: batch flush", model.ErrCancelled)
	}

	tx, err := bi.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: batch begin: %v", model.ErrStorageIntegrity, err)
	}
	defer tx.Rollback()

	// A repeat discovery of the same (scan_root_id, relative_path) is a
	// no-op: the existing row, hash reference included, stays untouched.
	// Changed files are reconciled by the scan itself, not the inserter.
	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR IGNORE INTO file_instances
			(scan_root_id, relative_path, file_name, extension, size_bytes, modified_utc,
			 status, category, discovered_utc, error_message)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("%w: batch prepare: %v", model.ErrStorageIntegrity, err)
	}
	defer stmt.Close()

	for i, fi := range bi.pending {
		if i%100 == 0 && ctx.Err() != nil {
			return fmt.Errorf("%w: batch flush at record %d", model.ErrCancelled, i)
		}
		_, err := stmt.ExecContext(ctx, fi.ScanRootID, fi.RelativePath, fi.FileName, fi.Extension,
			fi.SizeBytes, fi.ModifiedUtc.UTC().Format(time.RFC3339Nano), string(fi.Status),
			string(fi.Category), fi.DiscoveredUtc.UTC().Format(time.RFC3339Nano), fi.ErrorMessage)
		if err != nil {
			return fmt.Errorf("%w: batch exec: %v", model.ErrStorageIntegrity, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: batch commit: %v", model.ErrStorageIntegrity, err)
	}
	bi.pending = bi.pending[:0]
	return nil
}
