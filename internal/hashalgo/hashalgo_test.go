package hashalgo

import (
	"os"
	"path/filepath"
	"testing"

	"mdbackup/internal/model"
)

func writeTempFile(t *testing.T, dir, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write temp file: %v", err)
	}
	return path
}

func TestHashFileDeterministic(t *testing.T) {
	dir := t.TempDir()
	path := writeTempFile(t, dir, "a.bin", []byte("hello world"))

	for _, algo := range []model.HashAlgorithm{model.HashSHA1, model.HashSHA256, model.HashSHA3_256} {
		d1, n1, err := HashFile(algo, path)
		if err != nil {
			t.Fatalf("%s: %v", algo, err)
		}
		d2, n2, err := HashFile(algo, path)
		if err != nil {
			t.Fatalf("%s: %v", algo, err)
		}
		if d1.Hex != d2.Hex || n1 != n2 {
			t.Fatalf("%s: non-deterministic hash: %s vs %s", algo, d1.Hex, d2.Hex)
		}
		if n1 != 11 {
			t.Fatalf("%s: expected 11 bytes read, got %d", algo, n1)
		}
	}
}

func TestHashFileDiffersOnContent(t *testing.T) {
	dir := t.TempDir()
	a := writeTempFile(t, dir, "a.bin", []byte("content A"))
	b := writeTempFile(t, dir, "b.bin", []byte("content B"))

	da, _, err := HashFile(model.HashSHA256, a)
	if err != nil {
		t.Fatal(err)
	}
	db, _, err := HashFile(model.HashSHA256, b)
	if err != nil {
		t.Fatal(err)
	}
	if da.Hex == db.Hex {
		t.Fatalf("expected different digests for different content")
	}
}

func TestSizeAndNameDigestIgnoresContent(t *testing.T) {
	dir := t.TempDir()
	a := writeTempFile(t, dir, "same.bin", []byte("aaaa"))
	b := writeTempFile(t, dir, "same.bin2", []byte("zzzzzzzz"))
	_ = a
	_ = b

	d1 := SizeAndNameDigest(4, "same.bin")
	d2 := SizeAndNameDigest(4, "same.bin")
	if d1.Hex != d2.Hex {
		t.Fatalf("expected identical size+name digests")
	}

	d3 := SizeAndNameDigest(4, "different.bin")
	if d1.Hex == d3.Hex {
		t.Fatalf("expected different digests for different names")
	}
}

func TestPartialMovieDigestSmallFileHashesInFull(t *testing.T) {
	dir := t.TempDir()
	path := writeTempFile(t, dir, "small.mov", make([]byte, 100))

	full, fullN, err := HashFile(model.HashSHA256, path)
	if err != nil {
		t.Fatal(err)
	}
	partial, partialN, err := PartialMovieDigest(model.HashSHA256, path, 1024)
	if err != nil {
		t.Fatal(err)
	}
	if full.Hex != partial.Hex || fullN != partialN {
		t.Fatalf("expected small file to hash in full: %s vs %s", full.Hex, partial.Hex)
	}
}

func TestPartialMovieDigestLargeFileUsesHeadAndTail(t *testing.T) {
	dir := t.TempDir()
	data := make([]byte, 10000)
	for i := range data {
		data[i] = byte(i % 251)
	}
	path := writeTempFile(t, dir, "big.mov", data)

	d1, size, err := PartialMovieDigest(model.HashSHA256, path, 1000)
	if err != nil {
		t.Fatal(err)
	}
	if size != 10000 {
		t.Fatalf("expected reported size 10000, got %d", size)
	}

	// Mutating only the middle of the file must not change the partial digest.
	mutated := make([]byte, len(data))
	copy(mutated, data)
	mutated[5000] ^= 0xFF
	mutatedPath := writeTempFile(t, dir, "big2.mov", mutated)

	d2, _, err := PartialMovieDigest(model.HashSHA256, mutatedPath, 1000)
	if err != nil {
		t.Fatal(err)
	}
	if d1.Hex != d2.Hex {
		t.Fatalf("expected partial digest to ignore middle-byte change")
	}

	// Mutating the head must change the partial digest.
	mutatedHead := make([]byte, len(data))
	copy(mutatedHead, data)
	mutatedHead[0] ^= 0xFF
	mutatedHeadPath := writeTempFile(t, dir, "big3.mov", mutatedHead)

	d3, _, err := PartialMovieDigest(model.HashSHA256, mutatedHeadPath, 1000)
	if err != nil {
		t.Fatal(err)
	}
	if d1.Hex == d3.Hex {
		t.Fatalf("expected partial digest to change when head bytes change")
	}
}

func TestNewUnknownAlgorithm(t *testing.T) {
	if _, err := New(model.HashAlgorithm("bogus")); err == nil {
		t.Fatalf("expected error for unknown algorithm")
	}
}
