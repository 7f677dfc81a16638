package applog

import (
	"os"
	"path/filepath"
	"testing"
)

func TestOpenWritesToBothSinksByLevel(t *testing.T) {
	dir := t.TempDir()
	logger, err := Open(dir)
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	logger.Debug("starting scan", String("root", "/photos"))
	logger.Warn("skipped unreadable file", String("path", "/photos/x.jpg"))
	if err := logger.Sync(); err != nil {
		t.Fatalf("sync: %v", err)
	}

	debugContent, err := os.ReadFile(filepath.Join(dir, "Logs", "Debug.log"))
	if err != nil {
		t.Fatalf("read Debug.log: %v", err)
	}
	if len(debugContent) == 0 {
		t.Fatalf("expected Debug.log to contain both entries")
	}

	warnContent, err := os.ReadFile(filepath.Join(dir, "Logs", "WarningsErrors.log"))
	if err != nil {
		t.Fatalf("read WarningsErrors.log: %v", err)
	}
	if len(warnContent) == 0 {
		t.Fatalf("expected WarningsErrors.log to contain the warn entry")
	}
}

func TestOpenTruncatesExistingLogs(t *testing.T) {
	dir := t.TempDir()
	logDir := filepath.Join(dir, "Logs")
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		t.Fatal(err)
	}
	stale := []byte("a stale run's worth of junk\n")
	if err := os.WriteFile(filepath.Join(logDir, "Debug.log"), stale, 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(logDir, "WarningsErrors.log"), stale, 0o644); err != nil {
		t.Fatal(err)
	}

	logger, err := Open(dir)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := logger.Sync(); err != nil {
		t.Fatalf("sync: %v", err)
	}

	content, err := os.ReadFile(filepath.Join(logDir, "Debug.log"))
	if err != nil {
		t.Fatal(err)
	}
	if string(content) == string(stale) {
		t.Fatalf("expected Debug.log to be truncated on open, found stale content")
	}
}
