package store

import (
	"database/sql"
	"fmt"
	"sync"
	"time"

	"mdbackup/internal/model"
)

// HashRepo interns content hashes: many concurrent hash-stage workers call
// GetOrCreate with the same digest for duplicate files, and exactly one
// Hash row must result. An in-process concurrent map short-circuits the SQL
// round trip for a digest this process has already seen; the UNIQUE
// constraint on (hash_algorithm, hash_hex, partial_hash_info) is the
// backstop for digests seen for the first time by two workers at once.
type HashRepo struct {
	s *Store

	mu    sync.RWMutex
	cache map[string]int64 // algorithm|hex|partialInfo -> hash id
}

func NewHashRepo(s *Store) *HashRepo {
	return &HashRepo{s: s, cache: make(map[string]int64)}
}

func cacheKey(algo model.HashAlgorithm, hex, partialInfo string) string {
	return string(algo) + "|" + hex + "|" + partialInfo
}

// GetOrCreate returns the Hash row id for a digest, creating it if this is
// the first time the digest has been seen. Safe for concurrent use by every
// hash-stage worker.
func (r *HashRepo) GetOrCreate(algo model.HashAlgorithm, hashBytes []byte, hex string, sizeBytes int64, partialInfo string) (int64, error) {
	key := cacheKey(algo, hex, partialInfo)

	r.mu.RLock()
	if id, ok := r.cache[key]; ok {
		r.mu.RUnlock()
		return id, nil
	}
	r.mu.RUnlock()

	r.mu.Lock()
	defer r.mu.Unlock()
	if id, ok := r.cache[key]; ok {
		return id, nil
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err := r.s.writeDB.Exec(`
		INSERT OR IGNORE INTO hashes (hash_algorithm, hash_bytes, hash_hex, size_bytes, partial_hash_info, computed_utc)
		VALUES (?, ?, ?, ?, ?, ?)`,
		string(algo), hashBytes, hex, sizeBytes, partialInfo, now,
	)
	if err != nil {
		return 0, fmt.Errorf("%w: intern hash: %v", model.ErrStorageIntegrity, err)
	}

	var id int64
	err = r.s.writeDB.QueryRow(
		`SELECT id FROM hashes WHERE hash_algorithm = ? AND hash_hex = ? AND partial_hash_info = ?`,
		string(algo), hex, partialInfo,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("%w: read interned hash id: %v", model.ErrStorageIntegrity, err)
	}

	r.cache[key] = id
	return id, nil
}

// GetByID loads a hash row, used by the verify stage to re-derive the
// expected digest for a unique file.
func (r *HashRepo) GetByID(id int64) (*model.Hash, error) {
	row := r.s.readDB.QueryRow(
		`SELECT id, hash_algorithm, hash_bytes, hash_hex, size_bytes, partial_hash_info, computed_utc FROM hashes WHERE id = ?`, id)
	var h model.Hash
	var algo, computed string
	if err := row.Scan(&h.ID, &algo, &h.HashBytes, &h.HashHex, &h.SizeBytes, &h.PartialHashInfo, &computed); err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("%w: hash %d", model.ErrFileNotFound, id)
		}
		return nil, fmt.Errorf("%w: get hash: %v", model.ErrStorageIntegrity, err)
	}
	h.HashAlgorithm = model.HashAlgorithm(algo)
	h.ComputedUtc, _ = time.Parse(time.RFC3339Nano, computed)
	return &h, nil
}

// PruneOrphaned deletes hash rows no file instance references any more,
// run as part of the rescan policy after a root's instances are cleared.
// The intern cache is dropped wholesale: a pruned id must never be handed
// out again, and re-warming on demand is cheap next to a rescan.
func (r *HashRepo) PruneOrphaned() (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	res, err := r.s.writeDB.Exec(`
		DELETE FROM hashes
		WHERE id NOT IN (SELECT hash_id FROM file_instances WHERE hash_id IS NOT NULL)`)
	if err != nil {
		return 0, fmt.Errorf("%w: prune orphaned hashes: %v", model.ErrStorageIntegrity, err)
	}
	r.cache = make(map[string]int64)
	n, _ := res.RowsAffected()
	return n, nil
}

// CountDistinct returns how many distinct hashes exist, i.e. the number of
// unique files the plan stage should expect to group.
func (r *HashRepo) CountDistinct() (int64, error) {
	var n int64
	err := r.s.readDB.QueryRow(`SELECT COUNT(*) FROM hashes`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("%w: count distinct hashes: %v", model.ErrStorageIntegrity, err)
	}
	return n, nil
}
