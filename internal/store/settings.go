package store

import (
	"fmt"
	"strings"
	"time"

	"mdbackup/internal/model"
)

// SettingsRepo reads and writes the single-row project_settings table. The
// row's primary key is pinned to 1 by a CHECK constraint, so every update
// targets WHERE id = 1 rather than discovering an id first.
type SettingsRepo struct {
	s *Store
}

func NewSettingsRepo(s *Store) *SettingsRepo { return &SettingsRepo{s: s} }

func encodeCategories(cats []model.Category) string {
	parts := make([]string, len(cats))
	for i, c := range cats {
		parts[i] = string(c)
	}
	return strings.Join(parts, ",")
}

func decodeCategories(raw string) []model.Category {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	cats := make([]model.Category, len(parts))
	for i, p := range parts {
		cats[i] = model.Category(p)
	}
	return cats
}

// Get loads the single settings row, seeded at migration time.
func (r *SettingsRepo) Get() (*model.ProjectSettings, error) {
	row := r.s.readDB.QueryRow(`
		SELECT id, project_name, hash_level, cpu_profile, target_path, current_state,
		       verify_by_default, archive_scanning_enabled, archive_max_size_mb,
		       archive_nested_enabled, archive_max_depth, movie_hash_chunk_size_mb,
		       enabled_categories, created_utc, last_modified_utc, last_error
		FROM project_settings WHERE id = 1`)

	var ps model.ProjectSettings
	var hashLevel, cpuProfile, state, cats, created, modified string
	err := row.Scan(&ps.ID, &ps.ProjectName, &hashLevel, &cpuProfile, &ps.TargetPath, &state,
		&ps.VerifyByDefault, &ps.ArchiveScanningEnabled, &ps.ArchiveMaxSizeMB,
		&ps.ArchiveNestedEnabled, &ps.ArchiveMaxDepth, &ps.MovieHashChunkSizeMB,
		&cats, &created, &modified, &ps.LastError)
	if err != nil {
		return nil, fmt.Errorf("%w: load settings: %v", model.ErrStorageIntegrity, err)
	}
	ps.HashLevel = model.HashAlgorithm(hashLevel)
	ps.CPUProfile = model.CPUProfile(cpuProfile)
	ps.CurrentState = model.PipelineState(state)
	ps.EnabledCategories = decodeCategories(cats)
	ps.CreatedUtc, _ = time.Parse(time.RFC3339, created)
	ps.LastModifiedUtc, _ = time.Parse(time.RFC3339, modified)
	return &ps, nil
}

// Update persists every mutable field of ProjectSettings back to the single
// row, stamping LastModifiedUtc. The immutable fields (HashLevel once a
// project has begun hashing) are the caller's responsibility to guard;
// the repository itself does not enforce immutability.
func (r *SettingsRepo) Update(ps *model.ProjectSettings) error {
	now := time.Now().UTC()
	_, err := r.s.writeDB.Exec(`
		UPDATE project_settings SET
			project_name = ?, hash_level = ?, cpu_profile = ?, target_path = ?,
			current_state = ?, verify_by_default = ?, archive_scanning_enabled = ?,
			archive_max_size_mb = ?, archive_nested_enabled = ?, archive_max_depth = ?,
			movie_hash_chunk_size_mb = ?, enabled_categories = ?, last_modified_utc = ?,
			last_error = ?
		WHERE id = 1`,
		ps.ProjectName, string(ps.HashLevel), string(ps.CPUProfile), ps.TargetPath,
		string(ps.CurrentState), ps.VerifyByDefault, ps.ArchiveScanningEnabled,
		ps.ArchiveMaxSizeMB, ps.ArchiveNestedEnabled, ps.ArchiveMaxDepth,
		ps.MovieHashChunkSizeMB, encodeCategories(ps.EnabledCategories),
		now.Format(time.RFC3339), ps.LastError,
	)
	if err != nil {
		return fmt.Errorf("%w: update settings: %v", model.ErrStorageIntegrity, err)
	}
	ps.LastModifiedUtc = now
	return nil
}

// SetState transitions CurrentState alone, the path the pipeline
// orchestrator uses on every state-machine edge so a crash mid-run resumes
// from the last committed state rather than Idle.
func (r *SettingsRepo) SetState(state model.PipelineState) error {
	_, err := r.s.writeDB.Exec(
		`UPDATE project_settings SET current_state = ?, last_modified_utc = ? WHERE id = 1`,
		string(state), time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("%w: set state: %v", model.ErrStorageIntegrity, err)
	}
	return nil
}

// SetLastError records a fault message and moves the project to Faulted.
func (r *SettingsRepo) SetLastError(msg string) error {
	_, err := r.s.writeDB.Exec(
		`UPDATE project_settings SET current_state = ?, last_error = ?, last_modified_utc = ? WHERE id = 1`,
		string(model.StateFaulted), msg, time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("%w: set last error: %v", model.ErrStorageIntegrity, err)
	}
	return nil
}
