package store

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"mdbackup/internal/model"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "project.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestOpenTwiceIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "project.db")
	s1, err := Open(path)
	if err != nil {
		t.Fatalf("first open: %v", err)
	}
	s1.Close()
	s2, err := Open(path)
	if err != nil {
		t.Fatalf("second open: %v", err)
	}
	defer s2.Close()

	ps, err := NewSettingsRepo(s2).Get()
	if err != nil {
		t.Fatal(err)
	}
	if ps.ID != 1 {
		t.Fatalf("expected singleton settings row, got id %d", ps.ID)
	}
}

func seedInstances(t *testing.T, s *Store, rootID int64, relPaths []string) {
	t.Helper()
	inserter := NewBatchInserter(s, 0)
	for _, rel := range relPaths {
		if err := inserter.Add(context.Background(), model.FileInstance{
			ScanRootID:    rootID,
			RelativePath:  rel,
			FileName:      filepath.Base(rel),
			Extension:     filepath.Ext(rel),
			SizeBytes:     int64(100 + len(rel)),
			ModifiedUtc:   time.Now().UTC(),
			Status:        model.StatusHashPending,
			Category:      model.CategoryImage,
			DiscoveredUtc: time.Now().UTC(),
		}); err != nil {
			t.Fatal(err)
		}
	}
	if err := inserter.Flush(context.Background()); err != nil {
		t.Fatal(err)
	}
}

func TestBatchInsertIgnoresDuplicateIdentity(t *testing.T) {
	s := openTestStore(t)
	roots := NewScanRootRepo(s)
	files := NewFileInstanceRepo(s)

	root, err := roots.Add("/src", "source", model.VolumeFixed)
	if err != nil {
		t.Fatal(err)
	}

	paths := []string{"a.jpg", "sub/b.jpg", "sub/c.jpg"}
	seedInstances(t, s, root.ID, paths)
	// A rescan emits the same identities again; the inserter must swallow
	// them without duplicating rows.
	seedInstances(t, s, root.ID, paths)

	count, _, err := files.Totals()
	if err != nil {
		t.Fatal(err)
	}
	if count != int64(len(paths)) {
		t.Fatalf("expected %d instances after double insert, got %d", len(paths), count)
	}
}

func TestHashInterningCoalescesConcurrentWorkers(t *testing.T) {
	s := openTestStore(t)
	hashes := NewHashRepo(s)

	const workers = 8
	ids := make([]int64, workers)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			id, err := hashes.GetOrCreate(model.HashSHA256, []byte{0xde, 0xad}, "dead", 42, "")
			if err != nil {
				t.Errorf("worker %d: %v", w, err)
				return
			}
			ids[w] = id
		}(w)
	}
	wg.Wait()

	for w := 1; w < workers; w++ {
		if ids[w] != ids[0] {
			t.Fatalf("workers disagree on interned id: %v", ids)
		}
	}
	n, err := hashes.CountDistinct()
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("expected exactly one hash row, got %d", n)
	}
}

func TestPruneOrphanedHashes(t *testing.T) {
	s := openTestStore(t)
	roots := NewScanRootRepo(s)
	files := NewFileInstanceRepo(s)
	hashes := NewHashRepo(s)

	root, err := roots.Add("/src", "source", model.VolumeFixed)
	if err != nil {
		t.Fatal(err)
	}
	seedInstances(t, s, root.ID, []string{"kept.jpg"})
	fi, err := files.FindByIdentity(root.ID, "kept.jpg")
	if err != nil || fi == nil {
		t.Fatalf("seeded instance not found: %v", err)
	}

	keptID, err := hashes.GetOrCreate(model.HashSHA256, []byte{1}, "01", 10, "")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := hashes.GetOrCreate(model.HashSHA256, []byte{2}, "02", 20, ""); err != nil {
		t.Fatal(err)
	}
	if err := files.SetHashResult(fi.ID, keptID, model.StatusHashed, ""); err != nil {
		t.Fatal(err)
	}

	pruned, err := hashes.PruneOrphaned()
	if err != nil {
		t.Fatal(err)
	}
	if pruned != 1 {
		t.Fatalf("expected 1 orphan pruned, got %d", pruned)
	}
	n, err := hashes.CountDistinct()
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("expected the referenced hash to survive, got %d rows", n)
	}
	if _, err := hashes.GetByID(keptID); err != nil {
		t.Fatalf("referenced hash should still load: %v", err)
	}
}

// seedJobs creates n unique files (each with its own instance and hash) and
// one pending copy job per unique file.
func seedJobs(t *testing.T, s *Store, n int) {
	t.Helper()
	roots := NewScanRootRepo(s)
	files := NewFileInstanceRepo(s)
	hashes := NewHashRepo(s)
	uniqueFiles := NewUniqueFileRepo(s)
	jobs := NewCopyJobRepo(s)

	root, err := roots.Add("/src", "source", model.VolumeFixed)
	if err != nil {
		t.Fatal(err)
	}
	var rels []string
	for i := 0; i < n; i++ {
		rels = append(rels, fmt.Sprintf("f%03d.jpg", i))
	}
	seedInstances(t, s, root.ID, rels)
	for i, rel := range rels {
		fi, err := files.FindByIdentity(root.ID, rel)
		if err != nil || fi == nil {
			t.Fatalf("instance %s not found: %v", rel, err)
		}
		hashID, err := hashes.GetOrCreate(model.HashSHA256, []byte{byte(i), 0xff}, fmt.Sprintf("%02xff", i), fi.SizeBytes, "")
		if err != nil {
			t.Fatal(err)
		}
		if err := files.SetHashResult(fi.ID, hashID, model.StatusHashed, ""); err != nil {
			t.Fatal(err)
		}
		ufID, err := uniqueFiles.Create(hashID, fi.ID, model.CategoryImage)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := jobs.Create(ufID, "/dest/"+rel); err != nil {
			t.Fatal(err)
		}
	}
}

func TestClaimPendingJobsIsExclusiveAcrossWorkers(t *testing.T) {
	s := openTestStore(t)
	jobs := NewCopyJobRepo(s)

	const total = 30
	seedJobs(t, s, total)

	const workers = 4
	claims := make([][]int64, workers)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for {
				batch, err := jobs.ClaimPendingJobs(3)
				if err != nil {
					t.Errorf("worker %d: %v", w, err)
					return
				}
				if len(batch) == 0 {
					return
				}
				for _, j := range batch {
					claims[w] = append(claims[w], j.ID)
				}
			}
		}(w)
	}
	wg.Wait()

	seen := make(map[int64]int)
	for w := range claims {
		for _, id := range claims[w] {
			seen[id]++
		}
	}
	if len(seen) != total {
		t.Fatalf("expected %d jobs claimed in total, got %d", total, len(seen))
	}
	for id, times := range seen {
		if times != 1 {
			t.Fatalf("job %d claimed %d times", id, times)
		}
	}
}

func TestClaimKeepsIDOrderForTiedSizes(t *testing.T) {
	s := openTestStore(t)
	jobs := NewCopyJobRepo(s)

	seedJobs(t, s, 5)

	batch, err := jobs.ClaimPendingJobs(5)
	if err != nil {
		t.Fatal(err)
	}
	if len(batch) != 5 {
		t.Fatalf("expected 5 claimed, got %d", len(batch))
	}
	// seedInstances sizes grow with the relative path length, which is
	// constant here, so sizes tie; ids must then ascend.
	for i := 1; i < len(batch); i++ {
		if batch[i].ID < batch[i-1].ID {
			t.Fatalf("tied sizes should keep id order, got %d before %d", batch[i-1].ID, batch[i].ID)
		}
	}
	for _, j := range batch {
		if j.Status != model.JobInProgress {
			t.Fatalf("claimed job %d not marked InProgress", j.ID)
		}
		if j.AttemptCount != 1 {
			t.Fatalf("claimed job %d attempt count %d, want 1", j.ID, j.AttemptCount)
		}
	}
}

func TestResetInProgressDecrementsAttemptsNotBelowZero(t *testing.T) {
	s := openTestStore(t)
	jobs := NewCopyJobRepo(s)

	seedJobs(t, s, 1)
	claimed, err := jobs.ClaimPendingJobs(1)
	if err != nil || len(claimed) != 1 {
		t.Fatalf("claim: %v (%d)", err, len(claimed))
	}

	n, err := jobs.ResetInProgressToPending()
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("expected 1 job reset, got %d", n)
	}

	requeued, err := jobs.ClaimPendingJobs(1)
	if err != nil || len(requeued) != 1 {
		t.Fatalf("reclaim: %v (%d)", err, len(requeued))
	}
	// One claim (+1), one reset (-1), one reclaim (+1).
	if requeued[0].AttemptCount != 1 {
		t.Fatalf("expected attempt count 1 after reset and reclaim, got %d", requeued[0].AttemptCount)
	}
}

func TestUniqueFileDeleteAllCascadesToCopyJobs(t *testing.T) {
	s := openTestStore(t)
	jobs := NewCopyJobRepo(s)
	uniqueFiles := NewUniqueFileRepo(s)

	seedJobs(t, s, 3)
	if err := uniqueFiles.DeleteAll(); err != nil {
		t.Fatal(err)
	}
	n, err := jobs.CountByStatus(model.JobPending)
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Fatalf("expected copy jobs to cascade away, %d remain", n)
	}
}

func TestDiscoveryStampsDriveStaleSweep(t *testing.T) {
	s := openTestStore(t)
	roots := NewScanRootRepo(s)
	files := NewFileInstanceRepo(s)

	root, err := roots.Add("/src", "source", model.VolumeFixed)
	if err != nil {
		t.Fatal(err)
	}
	seedInstances(t, s, root.ID, []string{"seen.jpg", "changed.jpg", "vanished.jpg"})

	seen, err := files.FindByIdentity(root.ID, "seen.jpg")
	if err != nil || seen == nil {
		t.Fatalf("seed lookup: %v", err)
	}
	changed, err := files.FindByIdentity(root.ID, "changed.jpg")
	if err != nil || changed == nil {
		t.Fatalf("seed lookup: %v", err)
	}

	hashes := NewHashRepo(s)
	hashID, err := hashes.GetOrCreate(model.HashSHA256, []byte{7}, "07", 10, "")
	if err != nil {
		t.Fatal(err)
	}
	if err := files.SetHashResult(changed.ID, hashID, model.StatusHashed, ""); err != nil {
		t.Fatal(err)
	}

	pass := time.Now().UTC().Add(time.Hour)
	if err := files.TouchDiscovered(seen.ID, pass); err != nil {
		t.Fatal(err)
	}
	newModified := time.Now().UTC().Add(2 * time.Minute)
	if err := files.MarkRediscovered(changed.ID, 999, newModified, pass); err != nil {
		t.Fatal(err)
	}

	swept, err := files.DeleteDiscoveredBefore(root.ID, pass)
	if err != nil {
		t.Fatal(err)
	}
	if swept != 1 {
		t.Fatalf("expected only the unseen row swept, got %d", swept)
	}
	if fi, err := files.FindByIdentity(root.ID, "vanished.jpg"); err != nil || fi != nil {
		t.Fatalf("expected vanished.jpg deleted, got %+v (%v)", fi, err)
	}

	chg, err := files.FindByIdentity(root.ID, "changed.jpg")
	if err != nil || chg == nil {
		t.Fatalf("changed row lost: %v", err)
	}
	if chg.Status != model.StatusHashPending || chg.HashID != nil || chg.SizeBytes != 999 {
		t.Fatalf("expected rediscovered row requeued without hash, got %+v", chg)
	}
	if !chg.ModifiedUtc.Equal(newModified) {
		t.Fatalf("expected modified time updated, got %s", chg.ModifiedUtc)
	}
}

func BenchmarkBatchInsertFileInstances(b *testing.B) {
	s, err := Open(filepath.Join(b.TempDir(), "project.db"))
	if err != nil {
		b.Fatalf("open store: %v", err)
	}
	defer s.Close()

	root, err := NewScanRootRepo(s).Add("/src", "source", model.VolumeFixed)
	if err != nil {
		b.Fatal(err)
	}

	now := time.Now().UTC()
	inserter := NewBatchInserter(s, 0)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if err := inserter.Add(context.Background(), model.FileInstance{
			ScanRootID:    root.ID,
			RelativePath:  fmt.Sprintf("dir%d/file%d.jpg", i/1000, i),
			FileName:      fmt.Sprintf("file%d.jpg", i),
			Extension:     ".jpg",
			SizeBytes:     int64(i),
			ModifiedUtc:   now,
			Status:        model.StatusHashPending,
			Category:      model.CategoryImage,
			DiscoveredUtc: now,
		}); err != nil {
			b.Fatal(err)
		}
	}
	if err := inserter.Flush(context.Background()); err != nil {
		b.Fatal(err)
	}
}

func TestClearRootDeletesInstances(t *testing.T) {
	s := openTestStore(t)
	roots := NewScanRootRepo(s)
	files := NewFileInstanceRepo(s)

	root, err := roots.Add("/src", "source", model.VolumeFixed)
	if err != nil {
		t.Fatal(err)
	}
	seedInstances(t, s, root.ID, []string{"a.jpg", "b.jpg"})

	if err := roots.ClearRoot(root.ID); err != nil {
		t.Fatal(err)
	}
	count, _, err := files.Totals()
	if err != nil {
		t.Fatal(err)
	}
	if count != 0 {
		t.Fatalf("expected no instances after clear, got %d", count)
	}
}
