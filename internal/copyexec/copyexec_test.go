package copyexec

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"mdbackup/internal/hashalgo"
	"mdbackup/internal/model"
	"mdbackup/internal/store"
)

func openTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "project.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// seedJob writes content into srcDir, registers the scan root, file
// instance, hash and unique file for it, and creates one pending copy job
// targeting destPath. Returns the source path, unique file id and digest.
func seedJob(t *testing.T, s *store.Store, srcDir, fileName string, content []byte, destPath string) (string, int64, hashalgo.Digest) {
	t.Helper()
	roots := store.NewScanRootRepo(s)
	files := store.NewFileInstanceRepo(s)
	hashes := store.NewHashRepo(s)
	uniqueFiles := store.NewUniqueFileRepo(s)
	jobs := store.NewCopyJobRepo(s)

	srcPath := filepath.Join(srcDir, fileName)
	if err := os.WriteFile(srcPath, content, 0o644); err != nil {
		t.Fatal(err)
	}
	digest, _, err := hashalgo.HashFile(model.HashSHA256, srcPath)
	if err != nil {
		t.Fatal(err)
	}

	root, err := roots.Add(srcDir, "source", model.VolumeFixed)
	if err != nil {
		t.Fatal(err)
	}
	inserter := store.NewBatchInserter(s, 0)
	if err := inserter.Add(context.Background(), model.FileInstance{
		ScanRootID:    root.ID,
		RelativePath:  fileName,
		FileName:      fileName,
		Extension:     filepath.Ext(fileName),
		SizeBytes:     int64(len(content)),
		ModifiedUtc:   time.Now().UTC(),
		Status:        model.StatusHashed,
		Category:      model.CategoryImage,
		DiscoveredUtc: time.Now().UTC(),
	}); err != nil {
		t.Fatal(err)
	}
	if err := inserter.Flush(context.Background()); err != nil {
		t.Fatal(err)
	}
	fi, err := files.FindByIdentity(root.ID, fileName)
	if err != nil || fi == nil {
		t.Fatalf("seeded instance not found: %v", err)
	}

	hashID, err := hashes.GetOrCreate(model.HashSHA256, digest.Bytes, digest.Hex, int64(len(content)), "")
	if err != nil {
		t.Fatal(err)
	}
	ufID, err := uniqueFiles.Create(hashID, fi.ID, model.CategoryImage)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := jobs.Create(ufID, destPath); err != nil {
		t.Fatal(err)
	}
	return srcPath, ufID, digest
}

func TestCopyProducesMatchingFileAtDestination(t *testing.T) {
	s := openTestStore(t)
	jobs := store.NewCopyJobRepo(s)
	unique := store.NewUniqueFileRepo(s)

	srcDir := t.TempDir()
	destDir := t.TempDir()
	content := []byte("some photo bytes")
	destPath := filepath.Join(destDir, "photo.jpg")
	srcPath, _, digest := seedJob(t, s, srcDir, "photo.jpg", content, destPath)

	resolver := func(uniqueFileID int64) (string, string, error) {
		return srcPath, digest.Hex, nil
	}
	exec := New(jobs, unique, resolver, Config{Algorithm: model.HashSHA256, Workers: 1, VerifyAfterCopy: true}, nil, nil)

	if err := exec.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}

	copiedBytes, err := os.ReadFile(destPath)
	if err != nil {
		t.Fatalf("expected destination file to exist: %v", err)
	}
	if string(copiedBytes) != string(content) {
		t.Fatalf("copied content mismatch")
	}

	n, err := jobs.CountByStatus(model.JobVerified)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("expected 1 verified job, got %d", n)
	}

	entries, err := os.ReadDir(destDir)
	if err != nil {
		t.Fatal(err)
	}
	for _, e := range entries {
		if filepath.Ext(e.Name()) == ".tmp" {
			t.Fatalf("temp file left behind: %s", e.Name())
		}
	}
}

func TestSecondRunCompletesWithoutRewrite(t *testing.T) {
	s := openTestStore(t)
	jobs := store.NewCopyJobRepo(s)
	unique := store.NewUniqueFileRepo(s)

	srcDir := t.TempDir()
	destDir := t.TempDir()
	destPath := filepath.Join(destDir, "photo.jpg")
	srcPath, ufID, digest := seedJob(t, s, srcDir, "photo.jpg", []byte("stable bytes"), destPath)

	resolver := func(uniqueFileID int64) (string, string, error) {
		return srcPath, digest.Hex, nil
	}
	exec := New(jobs, unique, resolver, Config{Algorithm: model.HashSHA256, Workers: 1}, nil, nil)
	if err := exec.Run(context.Background()); err != nil {
		t.Fatalf("first run: %v", err)
	}

	firstInfo, err := os.Stat(destPath)
	if err != nil {
		t.Fatal(err)
	}

	// Regenerate the job queue, as a fresh copy start does, and run again:
	// the destination already holds the expected content, so the job
	// completes Copied without the file being rewritten.
	if err := jobs.PurgeAll(); err != nil {
		t.Fatal(err)
	}
	if _, err := jobs.Create(ufID, destPath); err != nil {
		t.Fatal(err)
	}
	if err := exec.Run(context.Background()); err != nil {
		t.Fatalf("second run: %v", err)
	}

	secondInfo, err := os.Stat(destPath)
	if err != nil {
		t.Fatal(err)
	}
	if !firstInfo.ModTime().Equal(secondInfo.ModTime()) {
		t.Fatalf("destination was rewritten on second run")
	}
	n, err := jobs.CountByStatus(model.JobCopied)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("expected 1 copied job after second run, got %d", n)
	}
}

func TestCopySkipsMissingSource(t *testing.T) {
	s := openTestStore(t)
	jobs := store.NewCopyJobRepo(s)
	unique := store.NewUniqueFileRepo(s)

	srcDir := t.TempDir()
	destPath := filepath.Join(t.TempDir(), "gone.jpg")
	srcPath, _, digest := seedJob(t, s, srcDir, "gone.jpg", []byte("doomed"), destPath)
	if err := os.Remove(srcPath); err != nil {
		t.Fatal(err)
	}

	resolver := func(uniqueFileID int64) (string, string, error) {
		return srcPath, digest.Hex, nil
	}
	exec := New(jobs, unique, resolver, Config{Algorithm: model.HashSHA256, Workers: 1}, nil, nil)

	if err := exec.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}

	n, err := jobs.CountByStatus(model.JobSkipped)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("expected 1 skipped job, got %d", n)
	}
}

func TestRetryableFailureRequeuesUntilAttemptsExhausted(t *testing.T) {
	s := openTestStore(t)
	jobs := store.NewCopyJobRepo(s)
	unique := store.NewUniqueFileRepo(s)

	srcDir := t.TempDir()
	destDir := t.TempDir()
	destPath := filepath.Join(destDir, "photo.jpg")
	srcPath, _, _ := seedJob(t, s, srcDir, "photo.jpg", []byte("real content"), destPath)

	// An expected hash that never matches makes every verify-after-copy
	// attempt fail retryably: each failure requeues the job, the next
	// round's claim bumps the attempt count, until the cap marks it Error.
	resolver := func(uniqueFileID int64) (string, string, error) {
		return srcPath, "0000000000000000", nil
	}
	exec := New(jobs, unique, resolver, Config{Algorithm: model.HashSHA256, Workers: 1, VerifyAfterCopy: true}, nil, nil)

	if err := exec.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}

	failed, err := jobs.ListByStatus(model.JobError)
	if err != nil {
		t.Fatal(err)
	}
	if len(failed) != 1 {
		t.Fatalf("expected 1 failed job, got %d", len(failed))
	}
	if failed[0].AttemptCount != 3 {
		t.Fatalf("expected 3 attempts before giving up, got %d", failed[0].AttemptCount)
	}
	if failed[0].LastError == "" {
		t.Fatalf("expected the failure reason recorded on the job")
	}

	if _, err := os.Stat(destPath); !os.IsNotExist(err) {
		t.Fatalf("expected no destination file after a failed verify, stat err=%v", err)
	}
	entries, err := os.ReadDir(destDir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected no temp files left behind, found %v", entries)
	}
}

func TestResolveConflictAppendsShortHashOnCollision(t *testing.T) {
	dir := t.TempDir()
	planned := filepath.Join(dir, "photo.jpg")
	if err := os.WriteFile(planned, []byte("existing different content"), 0o644); err != nil {
		t.Fatal(err)
	}

	e := &Executor{cfg: Config{Algorithm: model.HashSHA256}}
	job := &model.CopyJob{ID: 7, DestinationFullPath: planned}
	resolved, err := e.resolveConflict(job, "deadbeefcafe0000")
	if err != nil {
		t.Fatal(err)
	}
	want := filepath.Join(dir, "photo_deadbeef.jpg")
	if resolved != want {
		t.Fatalf("expected %s, got %s", want, resolved)
	}
}

func TestResolveConflictDetectsRacingTempFile(t *testing.T) {
	dir := t.TempDir()
	planned := filepath.Join(dir, "photo.jpg")
	if err := os.WriteFile(planned+".3.tmp", []byte("half written"), 0o644); err != nil {
		t.Fatal(err)
	}

	e := &Executor{cfg: Config{Algorithm: model.HashSHA256}}
	job := &model.CopyJob{ID: 7, DestinationFullPath: planned}
	resolved, err := e.resolveConflict(job, "deadbeefcafe0000")
	if err != nil {
		t.Fatal(err)
	}
	want := filepath.Join(dir, "photo_deadbeef.jpg")
	if resolved != want {
		t.Fatalf("expected %s, got %s", want, resolved)
	}
}

func TestIsRenamedConflictPath(t *testing.T) {
	if !IsRenamedConflictPath("/dest/photo_deadbeef.jpg") {
		t.Fatalf("expected conflict-suffixed path to be detected")
	}
	if IsRenamedConflictPath("/dest/photo.jpg") {
		t.Fatalf("expected plain path to not be detected as renamed")
	}
}
