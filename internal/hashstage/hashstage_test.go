package hashstage

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"mdbackup/internal/model"
	"mdbackup/internal/store"
)

func openTestStore(t *testing.T) *store.Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "project.db")
	s, err := store.Open(dbPath)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStageHashesPendingFiles(t *testing.T) {
	s := openTestStore(t)
	roots := store.NewScanRootRepo(s)
	files := store.NewFileInstanceRepo(s)
	hashes := store.NewHashRepo(s)

	root, err := roots.Add(t.TempDir(), "source", model.VolumeFixed)
	if err != nil {
		t.Fatalf("add scan root: %v", err)
	}

	contents := map[string]string{
		"a.jpg": "duplicate content",
		"b.jpg": "duplicate content",
		"c.jpg": "unique content",
	}
	for name, data := range contents {
		path := filepath.Join(root.Path, name)
		if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}

	inserter := store.NewBatchInserter(s, 10)
	now := time.Now().UTC()
	for name := range contents {
		info, err := os.Stat(filepath.Join(root.Path, name))
		if err != nil {
			t.Fatal(err)
		}
		err = inserter.Add(context.Background(), model.FileInstance{
			ScanRootID:    root.ID,
			RelativePath:  name,
			FileName:      name,
			Extension:     ".jpg",
			SizeBytes:     info.Size(),
			ModifiedUtc:   info.ModTime().UTC(),
			Status:        model.StatusHashPending,
			Category:      model.CategoryImage,
			DiscoveredUtc: now,
		})
		if err != nil {
			t.Fatalf("queue %s: %v", name, err)
		}
	}
	if err := inserter.Flush(context.Background()); err != nil {
		t.Fatalf("flush: %v", err)
	}

	resolver := func(scanRootID int64) (string, error) { return root.Path, nil }
	stage := New(files, hashes, Config{Algorithm: model.HashSHA256, Workers: 2}, nil, nil, resolver)

	if err := stage.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}

	pending, err := files.CountByStatus(model.StatusHashPending)
	if err != nil {
		t.Fatal(err)
	}
	if pending != 0 {
		t.Fatalf("expected no pending files remaining, got %d", pending)
	}

	hashed, err := files.CountByStatus(model.StatusHashed)
	if err != nil {
		t.Fatal(err)
	}
	if hashed != 3 {
		t.Fatalf("expected 3 hashed files, got %d", hashed)
	}

	distinct, err := hashes.CountDistinct()
	if err != nil {
		t.Fatal(err)
	}
	if distinct != 2 {
		t.Fatalf("expected 2 distinct hashes (one shared by a.jpg/b.jpg), got %d", distinct)
	}

	a, err := files.FindByIdentity(root.ID, "a.jpg")
	if err != nil {
		t.Fatal(err)
	}
	b, err := files.FindByIdentity(root.ID, "b.jpg")
	if err != nil {
		t.Fatal(err)
	}
	if a.HashID == nil || b.HashID == nil || *a.HashID != *b.HashID {
		t.Fatalf("expected a.jpg and b.jpg to intern to the same hash id")
	}
}

func TestNeedsRehash(t *testing.T) {
	now := time.Now().UTC()
	hashID := int64(1)
	prior := &model.FileInstance{SizeBytes: 100, ModifiedUtc: now, HashID: &hashID}

	if NeedsRehash(prior, 100, now) {
		t.Fatalf("expected unchanged (size, modified) to skip rehash")
	}
	if !NeedsRehash(prior, 200, now) {
		t.Fatalf("expected size change to require rehash")
	}
	if !NeedsRehash(prior, 100, now.Add(time.Second)) {
		t.Fatalf("expected modified-time change to require rehash")
	}
	if !NeedsRehash(nil, 100, now) {
		t.Fatalf("expected nil prior to require rehash")
	}
}
