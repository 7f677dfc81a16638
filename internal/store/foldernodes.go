package store

import (
	"database/sql"
	"fmt"

	"mdbackup/internal/model"
)

// FolderNodeRepo manages the proposed destination folder tree.
type FolderNodeRepo struct {
	s *Store
}

func NewFolderNodeRepo(s *Store) *FolderNodeRepo { return &FolderNodeRepo{s: s} }

func scanFolderNode(row interface{ Scan(...interface{}) error }) (*model.FolderNode, error) {
	var fn model.FolderNode
	var parentID sql.NullInt64
	err := row.Scan(&fn.ID, &parentID, &fn.DisplayName, &fn.ProposedRelativePath, &fn.UserEditedName,
		&fn.CopyEnabled, &fn.UniqueCount, &fn.DuplicateCount, &fn.TotalSizeBytes, &fn.WhyExplanation)
	if err != nil {
		return nil, err
	}
	if parentID.Valid {
		v := parentID.Int64
		fn.ParentID = &v
	}
	return &fn, nil
}

const folderNodeColumns = `id, parent_id, display_name, proposed_relative_path, user_edited_name,
	copy_enabled, unique_count, duplicate_count, total_size_bytes, why_explanation`

// Create inserts a folder node and returns its id.
func (r *FolderNodeRepo) Create(fn *model.FolderNode) (int64, error) {
	res, err := r.s.writeDB.Exec(`
		INSERT INTO folder_nodes (parent_id, display_name, proposed_relative_path, why_explanation)
		VALUES (?, ?, ?, ?)`,
		fn.ParentID, fn.DisplayName, fn.ProposedRelativePath, fn.WhyExplanation,
	)
	if err != nil {
		return 0, fmt.Errorf("%w: create folder node: %v", model.ErrStorageIntegrity, err)
	}
	return res.LastInsertId()
}

// GetByPath finds a folder node by its proposed relative path, used by the
// plan stage to avoid creating duplicate year/month nodes.
func (r *FolderNodeRepo) GetByPath(proposedRelativePath string) (*model.FolderNode, error) {
	row := r.s.readDB.QueryRow(`SELECT `+folderNodeColumns+` FROM folder_nodes WHERE proposed_relative_path = ?`, proposedRelativePath)
	fn, err := scanFolderNode(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: get folder node by path: %v", model.ErrStorageIntegrity, err)
	}
	return fn, nil
}

// GetByID loads a single folder node.
func (r *FolderNodeRepo) GetByID(id int64) (*model.FolderNode, error) {
	row := r.s.readDB.QueryRow(`SELECT `+folderNodeColumns+` FROM folder_nodes WHERE id = ?`, id)
	fn, err := scanFolderNode(row)
	if err != nil {
		return nil, fmt.Errorf("%w: get folder node: %v", model.ErrStorageIntegrity, err)
	}
	return fn, nil
}

// ListChildren returns the direct children of a node, or every root node
// when parentID is nil.
func (r *FolderNodeRepo) ListChildren(parentID *int64) ([]*model.FolderNode, error) {
	var rows *sql.Rows
	var err error
	if parentID == nil {
		rows, err = r.s.readDB.Query(`SELECT ` + folderNodeColumns + ` FROM folder_nodes WHERE parent_id IS NULL ORDER BY display_name`)
	} else {
		rows, err = r.s.readDB.Query(`SELECT `+folderNodeColumns+` FROM folder_nodes WHERE parent_id = ? ORDER BY display_name`, *parentID)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: list folder node children: %v", model.ErrStorageIntegrity, err)
	}
	defer rows.Close()

	var out []*model.FolderNode
	for rows.Next() {
		fn, err := scanFolderNode(rows)
		if err != nil {
			return nil, fmt.Errorf("%w: scan folder node row: %v", model.ErrStorageIntegrity, err)
		}
		out = append(out, fn)
	}
	return out, rows.Err()
}

// DeleteAll clears the proposed folder tree, the second half of the plan
// builder's clear step. Unique files must already be gone or re-pointed;
// callers run UniqueFileRepo.DeleteAll first.
func (r *FolderNodeRepo) DeleteAll() error {
	if _, err := r.s.writeDB.Exec(`DELETE FROM folder_nodes`); err != nil {
		return fmt.Errorf("%w: clear folder nodes: %v", model.ErrStorageIntegrity, err)
	}
	return nil
}

// SetUserEditedName records a user's rename of a proposed folder.
func (r *FolderNodeRepo) SetUserEditedName(id int64, name string) error {
	_, err := r.s.writeDB.Exec(`UPDATE folder_nodes SET user_edited_name = ? WHERE id = ?`, name, id)
	if err != nil {
		return fmt.Errorf("%w: set folder node name: %v", model.ErrStorageIntegrity, err)
	}
	return nil
}

// SetCopyEnabledRecursive toggles copy_enabled for a node and every
// descendant, using a recursive common table expression so the cascade
// happens in one statement rather than a client-side tree walk.
func (r *FolderNodeRepo) SetCopyEnabledRecursive(id int64, enabled bool) error {
	_, err := r.s.writeDB.Exec(`
		WITH RECURSIVE subtree(id) AS (
			SELECT id FROM folder_nodes WHERE id = ?
			UNION ALL
			SELECT fn.id FROM folder_nodes fn JOIN subtree ON fn.parent_id = subtree.id
		)
		UPDATE folder_nodes SET copy_enabled = ? WHERE id IN (SELECT id FROM subtree)`,
		id, enabled,
	)
	if err != nil {
		return fmt.Errorf("%w: cascade folder node enabled: %v", model.ErrStorageIntegrity, err)
	}
	return nil
}

// RecomputeRollup refreshes a node's unique/duplicate counts and byte total
// from its directly-planned unique files plus its children's rollups. The
// plan stage calls this bottom-up after every structural change.
func (r *FolderNodeRepo) RecomputeRollup(id int64) error {
	_, err := r.s.writeDB.Exec(`
		UPDATE folder_nodes SET
			unique_count = (
				SELECT COUNT(*) FROM unique_files WHERE planned_folder_node_id = ?
			) + COALESCE((SELECT SUM(unique_count) FROM folder_nodes WHERE parent_id = ?), 0),
			duplicate_count = (
				SELECT COALESCE(SUM(duplicate_count - 1), 0) FROM unique_files WHERE planned_folder_node_id = ?
			) + COALESCE((SELECT SUM(duplicate_count) FROM folder_nodes WHERE parent_id = ?), 0),
			total_size_bytes = (
				SELECT COALESCE(SUM(h.size_bytes), 0)
				FROM unique_files uf JOIN hashes h ON h.id = uf.hash_id
				WHERE uf.planned_folder_node_id = ?
			) + COALESCE((SELECT SUM(total_size_bytes) FROM folder_nodes WHERE parent_id = ?), 0)
		WHERE id = ?`,
		id, id, id, id, id, id, id,
	)
	if err != nil {
		return fmt.Errorf("%w: recompute folder rollup: %v", model.ErrStorageIntegrity, err)
	}
	return nil
}
