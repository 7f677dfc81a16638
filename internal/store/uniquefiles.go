package store

import (
	"database/sql"
	"fmt"
	"time"

	"mdbackup/internal/model"
)

// UniqueFileRepo manages the grouping of file instances by shared hash.
type UniqueFileRepo struct {
	s *Store
}

func NewUniqueFileRepo(s *Store) *UniqueFileRepo { return &UniqueFileRepo{s: s} }

func scanUniqueFile(row interface{ Scan(...interface{}) error }) (*model.UniqueFile, error) {
	var uf model.UniqueFile
	var category string
	var folderID sql.NullInt64
	var copied, verified sql.NullString
	err := row.Scan(&uf.ID, &uf.HashID, &uf.RepresentativeFileInstanceID, &category,
		&uf.CopyEnabled, &folderID, &uf.PlannedFileName, &copied, &verified, &uf.DuplicateCount)
	if err != nil {
		return nil, err
	}
	uf.FileTypeCategory = model.Category(category)
	if folderID.Valid {
		v := folderID.Int64
		uf.PlannedFolderNodeID = &v
	}
	if copied.Valid {
		t, err := time.Parse(time.RFC3339Nano, copied.String)
		if err == nil {
			uf.CopiedUtc = &t
		}
	}
	if verified.Valid {
		t, err := time.Parse(time.RFC3339Nano, verified.String)
		if err == nil {
			uf.VerifiedUtc = &t
		}
	}
	return &uf, nil
}

const uniqueFileColumns = `id, hash_id, representative_file_instance_id, file_type_category,
	copy_enabled, planned_folder_node_id, planned_file_name, copied_utc, verified_utc, duplicate_count`

// Create inserts the representative row for a newly-seen hash. Called
// exactly once per distinct hash by the plan stage, immediately after the
// first FileInstance carrying that hash is identified.
func (r *UniqueFileRepo) Create(hashID, representativeInstanceID int64, category model.Category) (int64, error) {
	// duplicate_count starts at 1: the representative itself references
	// the hash. Each further instance sharing it increments from there.
	res, err := r.s.writeDB.Exec(`
		INSERT INTO unique_files (hash_id, representative_file_instance_id, file_type_category, duplicate_count)
		VALUES (?, ?, ?, 1)`,
		hashID, representativeInstanceID, string(category),
	)
	if err != nil {
		return 0, fmt.Errorf("%w: create unique file: %v", model.ErrStorageIntegrity, err)
	}
	return res.LastInsertId()
}

// IncrementDuplicateCount bumps the duplicate tally when another instance
// sharing the hash is discovered.
func (r *UniqueFileRepo) IncrementDuplicateCount(id int64) error {
	_, err := r.s.writeDB.Exec(`UPDATE unique_files SET duplicate_count = duplicate_count + 1 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("%w: increment duplicate count: %v", model.ErrStorageIntegrity, err)
	}
	return nil
}

// GetByID loads a single unique file row, used by the copy executor's and
// verify pass's source resolvers to turn a job's UniqueFileID back into a
// representative file instance and expected hash.
func (r *UniqueFileRepo) GetByID(id int64) (*model.UniqueFile, error) {
	row := r.s.readDB.QueryRow(`SELECT `+uniqueFileColumns+` FROM unique_files WHERE id = ?`, id)
	uf, err := scanUniqueFile(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: unique file %d", model.ErrFileNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: get unique file: %v", model.ErrStorageIntegrity, err)
	}
	return uf, nil
}

// GetByHashID looks up the unique file representing a given hash, if any.
func (r *UniqueFileRepo) GetByHashID(hashID int64) (*model.UniqueFile, error) {
	row := r.s.readDB.QueryRow(`SELECT `+uniqueFileColumns+` FROM unique_files WHERE hash_id = ?`, hashID)
	uf, err := scanUniqueFile(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: get unique file by hash: %v", model.ErrStorageIntegrity, err)
	}
	return uf, nil
}

// ListAll returns every unique file, used by the plan stage's folder-tree
// builder to walk the full candidate set.
func (r *UniqueFileRepo) ListAll() ([]*model.UniqueFile, error) {
	rows, err := r.s.readDB.Query(`SELECT ` + uniqueFileColumns + ` FROM unique_files ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("%w: list unique files: %v", model.ErrStorageIntegrity, err)
	}
	defer rows.Close()

	var out []*model.UniqueFile
	for rows.Next() {
		uf, err := scanUniqueFile(rows)
		if err != nil {
			return nil, fmt.Errorf("%w: scan unique file row: %v", model.ErrStorageIntegrity, err)
		}
		out = append(out, uf)
	}
	return out, rows.Err()
}

// SetPlan records the planned destination folder/name and copy-enabled
// flag decided by the plan stage.
func (r *UniqueFileRepo) SetPlan(id int64, folderNodeID int64, plannedName string, copyEnabled bool) error {
	_, err := r.s.writeDB.Exec(
		`UPDATE unique_files SET planned_folder_node_id = ?, planned_file_name = ?, copy_enabled = ? WHERE id = ?`,
		folderNodeID, plannedName, copyEnabled, id,
	)
	if err != nil {
		return fmt.Errorf("%w: set unique file plan: %v", model.ErrStorageIntegrity, err)
	}
	return nil
}

// SetCopyEnabledForFolder cascades a folder-level enable/disable toggle
// down to every unique file planned under that folder, mirroring the
// recursive edit the plan stage applies when a user toggles a tree node.
func (r *UniqueFileRepo) SetCopyEnabledForFolder(folderNodeID int64, enabled bool) error {
	_, err := r.s.writeDB.Exec(
		`UPDATE unique_files SET copy_enabled = ? WHERE planned_folder_node_id = ?`, enabled, folderNodeID,
	)
	if err != nil {
		return fmt.Errorf("%w: cascade copy enabled: %v", model.ErrStorageIntegrity, err)
	}
	return nil
}

// DeleteAll clears every unique file (copy jobs referencing them cascade
// away), the first half of the plan builder's clear step.
func (r *UniqueFileRepo) DeleteAll() error {
	if _, err := r.s.writeDB.Exec(`DELETE FROM unique_files`); err != nil {
		return fmt.Errorf("%w: clear unique files: %v", model.ErrStorageIntegrity, err)
	}
	return nil
}

// MarkCopied stamps CopiedUtc after a successful copy job.
func (r *UniqueFileRepo) MarkCopied(id int64, when time.Time) error {
	_, err := r.s.writeDB.Exec(`UPDATE unique_files SET copied_utc = ? WHERE id = ?`, when.UTC().Format(time.RFC3339Nano), id)
	if err != nil {
		return fmt.Errorf("%w: mark copied: %v", model.ErrStorageIntegrity, err)
	}
	return nil
}

// MarkVerified stamps VerifiedUtc after a successful verify pass.
func (r *UniqueFileRepo) MarkVerified(id int64, when time.Time) error {
	_, err := r.s.writeDB.Exec(`UPDATE unique_files SET verified_utc = ? WHERE id = ?`, when.UTC().Format(time.RFC3339Nano), id)
	if err != nil {
		return fmt.Errorf("%w: mark verified: %v", model.ErrStorageIntegrity, err)
	}
	return nil
}
