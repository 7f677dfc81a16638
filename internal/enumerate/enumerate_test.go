package enumerate

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func mustMkdirAll(t *testing.T, path string) {
	t.Helper()
	if err := os.MkdirAll(path, 0o755); err != nil {
		t.Fatalf("mkdir %s: %v", path, err)
	}
}

func mustWriteFile(t *testing.T, path string, data []byte) {
	t.Helper()
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func TestScanFindsFilesRecursively(t *testing.T) {
	root := t.TempDir()
	mustMkdirAll(t, filepath.Join(root, "sub", "nested"))
	mustWriteFile(t, filepath.Join(root, "a.jpg"), []byte("aaa"))
	mustWriteFile(t, filepath.Join(root, "sub", "b.jpg"), []byte("bb"))
	mustWriteFile(t, filepath.Join(root, "sub", "nested", "c.jpg"), []byte("c"))

	out := make(chan Candidate, 100)
	filter := Filter{AllowedExtensions: map[string]bool{".jpg": true}}
	stats := Scan(context.Background(), 1, root, filter, nil, out)
	close(out)

	if stats.FilesEmitted != 3 {
		t.Fatalf("expected 3 files emitted, got %d (errors: %v)", stats.FilesEmitted, stats.Errors)
	}

	var seen []string
	for c := range out {
		seen = append(seen, c.RelativePath)
	}
	if len(seen) != 3 {
		t.Fatalf("expected 3 candidates on channel, got %d", len(seen))
	}
}

func TestScanRejectsDisallowedExtension(t *testing.T) {
	root := t.TempDir()
	mustWriteFile(t, filepath.Join(root, "a.jpg"), []byte("aaa"))
	mustWriteFile(t, filepath.Join(root, "a.txt"), []byte("text"))

	out := make(chan Candidate, 100)
	filter := Filter{AllowedExtensions: map[string]bool{".jpg": true}}
	stats := Scan(context.Background(), 1, root, filter, nil, out)
	close(out)

	if stats.FilesEmitted != 1 {
		t.Fatalf("expected 1 file emitted, got %d", stats.FilesEmitted)
	}
}

func TestScanRejectsSizeOutOfRange(t *testing.T) {
	root := t.TempDir()
	mustWriteFile(t, filepath.Join(root, "small.jpg"), []byte("x"))
	mustWriteFile(t, filepath.Join(root, "big.jpg"), make([]byte, 1000))

	out := make(chan Candidate, 100)
	filter := Filter{AllowedExtensions: map[string]bool{".jpg": true}, MinSizeBytes: 10}
	stats := Scan(context.Background(), 1, root, filter, nil, out)
	close(out)

	if stats.FilesEmitted != 1 {
		t.Fatalf("expected 1 file emitted, got %d", stats.FilesEmitted)
	}
}

func TestScanSkipsSymlinkWithoutDescending(t *testing.T) {
	root := t.TempDir()
	real := t.TempDir()
	mustWriteFile(t, filepath.Join(real, "hidden.jpg"), []byte("hidden"))

	linkPath := filepath.Join(root, "link")
	if err := os.Symlink(real, linkPath); err != nil {
		t.Skipf("symlinks unsupported in this environment: %v", err)
	}
	mustWriteFile(t, filepath.Join(root, "visible.jpg"), []byte("visible"))

	out := make(chan Candidate, 100)
	filter := Filter{AllowedExtensions: map[string]bool{".jpg": true}}
	stats := Scan(context.Background(), 1, root, filter, nil, out)
	close(out)

	if stats.FilesEmitted != 1 {
		t.Fatalf("expected only the visible file, got %d emitted", stats.FilesEmitted)
	}
}

func TestScanRespectsCancellation(t *testing.T) {
	root := t.TempDir()
	for i := 0; i < 20; i++ {
		mustWriteFile(t, filepath.Join(root, string(rune('a'+i))+".jpg"), []byte("x"))
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	out := make(chan Candidate, 1)
	filter := Filter{AllowedExtensions: map[string]bool{".jpg": true}}
	stats := Scan(ctx, 1, root, filter, nil, out)
	close(out)

	if len(stats.Errors) == 0 {
		t.Fatalf("expected a cancellation error to be recorded")
	}
}

func TestCategoryForExtension(t *testing.T) {
	cases := map[string]string{
		".jpg": "Image",
		".mp4": "Movie",
		".mp3": "Audio",
		".pdf": "Document",
		".zip": "Archive",
		".xyz": "Other",
	}
	for ext, want := range cases {
		if got := string(CategoryForExtension(ext)); got != want {
			t.Errorf("CategoryForExtension(%q) = %q, want %q", ext, got, want)
		}
	}
}
