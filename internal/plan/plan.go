// Package plan builds the destination Folder Node tree and groups hashed
// file instances into Unique Files: one Unique File per distinct hash, a
// representative chosen to favour shallow curated paths, a two-level
// year/year-month folder forest derived from the representative's
// modified date, and counts rolled up bottom-up through the tree.
package plan

import (
	"fmt"
	"path/filepath"
	"sort"
	"time"

	"mdbackup/internal/model"
	"mdbackup/internal/store"
)

const unknownFolderName = "Unknown"

// Builder runs the five-step plan algorithm against one project's store.
type Builder struct {
	files       *store.FileInstanceRepo
	hashes      *store.HashRepo
	uniqueFiles *store.UniqueFileRepo
	folders     *store.FolderNodeRepo

	// WhyEnricher optionally appends a cosmetic explanation to a folder's
	// WhyExplanation (e.g. EXIF camera-model mentions). Nil disables
	// enrichment; the folder still gets its plain date-derived why string.
	WhyEnricher func(representative *model.FileInstance) string
}

func NewBuilder(files *store.FileInstanceRepo, hashes *store.HashRepo, uniqueFiles *store.UniqueFileRepo, folders *store.FolderNodeRepo) *Builder {
	return &Builder{files: files, hashes: hashes, uniqueFiles: uniqueFiles, folders: folders}
}

// hashGroup accumulates every file instance sharing one hash id, gathered
// by scanning file_instances once rather than issuing a query per hash.
type hashGroup struct {
	hashID    int64
	instances []*model.FileInstance
}

// Build runs the full plan: clear, group, build the folder tree, assign,
// and roll up. It is idempotent — a second call against an unchanged
// hashed set reproduces the same tree.
func (b *Builder) Build() error {
	// Clear first: a prior run's unique files and folder tree describe a
	// topology that may no longer exist, and the rollup math below assumes
	// it starts from zero.
	if err := b.uniqueFiles.DeleteAll(); err != nil {
		return err
	}
	if err := b.folders.DeleteAll(); err != nil {
		return err
	}

	hashed, err := b.listAllHashed()
	if err != nil {
		return err
	}

	groups := groupByHash(hashed)

	folderCache := make(map[string]int64) // proposed relative path -> folder node id
	var leafIDs []int64

	for _, g := range groups {
		rep := chooseRepresentative(g.instances)

		uniqueFileID, err := b.uniqueFiles.Create(g.hashID, rep.ID, rep.Category)
		if err != nil {
			return err
		}
		for i := 1; i < len(g.instances); i++ {
			if err := b.uniqueFiles.IncrementDuplicateCount(uniqueFileID); err != nil {
				return err
			}
		}

		folderID, err := b.ensureFolderForDate(rep, folderCache)
		if err != nil {
			return err
		}
		leafIDs = append(leafIDs, folderID)

		if err := b.uniqueFiles.SetPlan(uniqueFileID, folderID, rep.FileName, true); err != nil {
			return err
		}
	}

	if err := b.rollUp(leafIDs, folderCache); err != nil {
		return err
	}
	return nil
}

func (b *Builder) listAllHashed() ([]*model.FileInstance, error) {
	return b.files.ListByStatus(model.StatusHashed, 0)
}

func groupByHash(instances []*model.FileInstance) []hashGroup {
	index := make(map[int64]int)
	var groups []hashGroup
	for _, fi := range instances {
		if fi.HashID == nil {
			continue
		}
		if i, ok := index[*fi.HashID]; ok {
			groups[i].instances = append(groups[i].instances, fi)
			continue
		}
		index[*fi.HashID] = len(groups)
		groups = append(groups, hashGroup{hashID: *fi.HashID, instances: []*model.FileInstance{fi}})
	}
	return groups
}

// chooseRepresentative picks the instance with the shortest relative path,
// tie-broken lexicographically, favouring shallow, curated locations.
func chooseRepresentative(instances []*model.FileInstance) *model.FileInstance {
	best := instances[0]
	for _, fi := range instances[1:] {
		if len(fi.RelativePath) < len(best.RelativePath) {
			best = fi
			continue
		}
		if len(fi.RelativePath) == len(best.RelativePath) && fi.RelativePath < best.RelativePath {
			best = fi
		}
	}
	return best
}

func (b *Builder) ensureFolderForDate(rep *model.FileInstance, cache map[string]int64) (int64, error) {
	if rep.ModifiedUtc.IsZero() {
		return b.ensureFolder(cache, unknownFolderName, unknownFolderName, nil, fmt.Sprintf("%s has no valid modification date", rep.FileName))
	}

	year := rep.ModifiedUtc.UTC().Format("2006")
	yearMonth := rep.ModifiedUtc.UTC().Format("2006-01")
	monthPath := filepath.ToSlash(filepath.Join(year, yearMonth))

	yearFolderID, err := b.ensureFolder(cache, year, year, nil, fmt.Sprintf("files modified in %s", year))
	if err != nil {
		return 0, err
	}

	why := fmt.Sprintf("files modified in %s", yearMonth)
	if b.WhyEnricher != nil {
		if extra := b.WhyEnricher(rep); extra != "" {
			why = why + "; " + extra
		}
	}
	return b.ensureFolder(cache, monthPath, yearMonth, &yearFolderID, why)
}

func (b *Builder) ensureFolder(cache map[string]int64, proposedPath, displayName string, parentID *int64, why string) (int64, error) {
	if id, ok := cache[proposedPath]; ok {
		return id, nil
	}

	existing, err := b.folders.GetByPath(proposedPath)
	if err != nil {
		return 0, err
	}
	if existing != nil {
		cache[proposedPath] = existing.ID
		return existing.ID, nil
	}

	id, err := b.folders.Create(&model.FolderNode{
		ParentID:             parentID,
		DisplayName:          displayName,
		ProposedRelativePath: proposedPath,
		WhyExplanation:       why,
	})
	if err != nil {
		return 0, err
	}
	cache[proposedPath] = id
	return id, nil
}

func (b *Builder) rollUp(leafIDs []int64, folderCache map[string]int64) error {
	seen := make(map[int64]bool)
	var uniqueLeaves []int64
	for _, id := range leafIDs {
		if !seen[id] {
			seen[id] = true
			uniqueLeaves = append(uniqueLeaves, id)
		}
	}

	for _, id := range uniqueLeaves {
		if err := b.folders.RecomputeRollup(id); err != nil {
			return err
		}
	}

	var parents []int64
	for _, id := range uniqueLeaves {
		fn, err := b.folders.GetByID(id)
		if err != nil {
			return err
		}
		if fn.ParentID != nil {
			parents = append(parents, *fn.ParentID)
		}
	}
	sort.Slice(parents, func(i, j int) bool { return parents[i] < parents[j] })
	for i, id := range parents {
		if i > 0 && parents[i-1] == id {
			continue
		}
		if err := b.folders.RecomputeRollup(id); err != nil {
			return err
		}
	}
	return nil
}

// DateForRepresentative is exported for the verify/report layers that need
// to reproduce a representative's folder date deterministically without
// duplicating the UTC-normalization rule.
func DateForRepresentative(modifiedUtc time.Time) (year, yearMonth string) {
	if modifiedUtc.IsZero() {
		return unknownFolderName, unknownFolderName
	}
	return modifiedUtc.UTC().Format("2006"), modifiedUtc.UTC().Format("2006-01")
}
