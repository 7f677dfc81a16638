package store

import (
	"fmt"
	"time"

	"mdbackup/internal/model"
)

// ScanRootRepo manages the set of source directories a project watches.
type ScanRootRepo struct {
	s *Store
}

func NewScanRootRepo(s *Store) *ScanRootRepo { return &ScanRootRepo{s: s} }

// Add inserts a new scan root, or is a no-op (returning the existing row)
// if the path is already registered.
func (r *ScanRootRepo) Add(path, label string, rootType model.VolumeType) (*model.ScanRoot, error) {
	now := time.Now().UTC()
	_, err := r.s.writeDB.Exec(
		`INSERT OR IGNORE INTO scan_roots (path, label, root_type, is_enabled, added_utc) VALUES (?, ?, ?, 1, ?)`,
		path, label, string(rootType), now.Format(time.RFC3339),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: add scan root: %v", model.ErrStorageIntegrity, err)
	}
	return r.GetByPath(path)
}

func (r *ScanRootRepo) scan(row interface{ Scan(...interface{}) error }) (*model.ScanRoot, error) {
	var sr model.ScanRoot
	var rootType string
	var lastScan, addedUtc string
	err := row.Scan(&sr.ID, &sr.Path, &sr.Label, &rootType, &sr.IsEnabled, &lastScan,
		&sr.FileCount, &sr.TotalBytes, &addedUtc)
	if err != nil {
		return nil, err
	}
	sr.RootType = model.VolumeType(rootType)
	sr.LastScanUtc, _ = time.Parse(time.RFC3339, lastScan)
	sr.AddedUtc, _ = time.Parse(time.RFC3339, addedUtc)
	return &sr, nil
}

// GetByPath looks up a scan root by its absolute path.
func (r *ScanRootRepo) GetByPath(path string) (*model.ScanRoot, error) {
	row := r.s.readDB.QueryRow(`
		SELECT id, path, label, root_type, is_enabled, COALESCE(last_scan_utc, ''),
		       file_count, total_bytes, added_utc
		FROM scan_roots WHERE path = ?`, path)
	sr, err := r.scan(row)
	if err != nil {
		return nil, fmt.Errorf("%w: get scan root: %v", model.ErrStorageIntegrity, err)
	}
	return sr, nil
}

// GetByID looks up a scan root by its primary key, the lookup the hash
// stage and copy executor use to turn a FileInstance's ScanRootID back
// into a base path.
func (r *ScanRootRepo) GetByID(id int64) (*model.ScanRoot, error) {
	row := r.s.readDB.QueryRow(`
		SELECT id, path, label, root_type, is_enabled, COALESCE(last_scan_utc, ''),
		       file_count, total_bytes, added_utc
		FROM scan_roots WHERE id = ?`, id)
	sr, err := r.scan(row)
	if err != nil {
		return nil, fmt.Errorf("%w: get scan root by id: %v", model.ErrStorageIntegrity, err)
	}
	return sr, nil
}

// List returns every registered scan root, enabled or not.
func (r *ScanRootRepo) List() ([]*model.ScanRoot, error) {
	rows, err := r.s.readDB.Query(`
		SELECT id, path, label, root_type, is_enabled, COALESCE(last_scan_utc, ''),
		       file_count, total_bytes, added_utc
		FROM scan_roots ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("%w: list scan roots: %v", model.ErrStorageIntegrity, err)
	}
	defer rows.Close()

	var out []*model.ScanRoot
	for rows.Next() {
		sr, err := r.scan(rows)
		if err != nil {
			return nil, fmt.Errorf("%w: scan row: %v", model.ErrStorageIntegrity, err)
		}
		out = append(out, sr)
	}
	return out, rows.Err()
}

// UpdateScanStats records the file count/byte total observed by the most
// recent enumeration pass and stamps LastScanUtc.
func (r *ScanRootRepo) UpdateScanStats(id int64, fileCount, totalBytes int64) error {
	_, err := r.s.writeDB.Exec(
		`UPDATE scan_roots SET file_count = ?, total_bytes = ?, last_scan_utc = ? WHERE id = ?`,
		fileCount, totalBytes, time.Now().UTC().Format(time.RFC3339), id,
	)
	if err != nil {
		return fmt.Errorf("%w: update scan stats: %v", model.ErrStorageIntegrity, err)
	}
	return nil
}

// SetEnabled toggles whether a root participates in future scan passes.
func (r *ScanRootRepo) SetEnabled(id int64, enabled bool) error {
	_, err := r.s.writeDB.Exec(`UPDATE scan_roots SET is_enabled = ? WHERE id = ?`, enabled, id)
	if err != nil {
		return fmt.Errorf("%w: set scan root enabled: %v", model.ErrStorageIntegrity, err)
	}
	return nil
}

// ClearRoot deletes every file_instance discovered under a root so a
// rescan starts from a clean slate. Hash rows survive; any that become
// orphaned are pruned afterwards by HashRepo.PruneOrphaned.
func (r *ScanRootRepo) ClearRoot(id int64) error {
	tx, err := r.s.writeDB.Begin()
	if err != nil {
		return fmt.Errorf("%w: clear root begin: %v", model.ErrStorageIntegrity, err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM file_instances WHERE scan_root_id = ?`, id); err != nil {
		return fmt.Errorf("%w: clear root delete instances: %v", model.ErrStorageIntegrity, err)
	}
	if _, err := tx.Exec(
		`UPDATE scan_roots SET file_count = 0, total_bytes = 0, last_scan_utc = NULL WHERE id = ?`, id,
	); err != nil {
		return fmt.Errorf("%w: clear root reset stats: %v", model.ErrStorageIntegrity, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: clear root commit: %v", model.ErrStorageIntegrity, err)
	}
	return nil
}
