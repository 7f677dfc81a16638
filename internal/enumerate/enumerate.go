// Package enumerate walks enabled scan roots with an explicit depth-first
// stack (not filepath.Walk, so a reparse point can be skipped without ever
// being descended into — filepath.Walk always calls back into directories
// it already opened) and streams filtered candidates into a bounded
// channel, so a fast walk of a slow disk blocks on the consumer instead
// of ballooning memory.
package enumerate

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"mdbackup/internal/model"
)

// PauseWaiter is the suspend/resume checkpoint the walk blocks on before
// yielding each candidate, satisfied by *pipeline.PauseGate without
// enumerate importing the pipeline package (which depends on enumerate
// through the orchestrator) — a narrow local interface avoids that cycle.
type PauseWaiter interface {
	Wait()
}

// Candidate is one file discovered during enumeration, not yet persisted.
type Candidate struct {
	ScanRootID   int64
	AbsolutePath string
	RelativePath string
	FileName     string
	Extension    string
	SizeBytes    int64
	ModifiedUtc  string // RFC3339Nano, kept as string to avoid a second parse round trip
}

// Filter decides whether a candidate file should be emitted, implementing
// the extension/size rejection rules of the enumerator algorithm.
type Filter struct {
	AllowedExtensions map[string]bool // lowercase, including the leading dot
	MinSizeBytes      int64           // 0 means no minimum
	MaxSizeBytes      int64           // 0 means no maximum
}

func (f Filter) accepts(ext string, size int64) bool {
	if f.AllowedExtensions != nil && !f.AllowedExtensions[ext] {
		return false
	}
	if f.MinSizeBytes > 0 && size < f.MinSizeBytes {
		return false
	}
	if f.MaxSizeBytes > 0 && size > f.MaxSizeBytes {
		return false
	}
	return true
}

// WalkError is a non-fatal problem encountered during the walk: an
// unreadable directory, a vanished file, a permission error. The walk
// itself continues.
type WalkError struct {
	Path string
	Err  error
}

// Stats accumulates what the walk saw, surfaced to the caller once scanning
// of a root completes.
type Stats struct {
	FilesEmitted int64
	TotalBytes   int64
	Errors       []WalkError
}

func isReparsePoint(info os.FileInfo) bool {
	return info.Mode()&os.ModeSymlink != 0
}

// Scan walks root depth-first, sending every accepted file to out as a
// Candidate. It waits on gate (pause) before every yielded candidate and
// checks ctx (cancellation) fail-fast. The caller is responsible for
// closing out after Scan returns if no more roots will be scanned into it.
func Scan(ctx context.Context, scanRootID int64, root string, filter Filter, gate PauseWaiter, out chan<- Candidate) Stats {
	var stats Stats

	type frame struct{ dir string }
	stack := []frame{{dir: root}}

	for len(stack) > 0 {
		if ctx.Err() != nil {
			stats.Errors = append(stats.Errors, WalkError{Path: root, Err: ctx.Err()})
			return stats
		}

		top := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		dirInfo, err := os.Lstat(top.dir)
		if err != nil {
			stats.Errors = append(stats.Errors, WalkError{Path: top.dir, Err: err})
			continue
		}
		if isReparsePoint(dirInfo) {
			continue
		}

		entries, err := os.ReadDir(top.dir)
		if err != nil {
			stats.Errors = append(stats.Errors, WalkError{Path: top.dir, Err: err})
			continue
		}
		sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

		var subdirs []string
		for _, entry := range entries {
			fullPath := filepath.Join(top.dir, entry.Name())

			info, err := entry.Info()
			if err != nil {
				stats.Errors = append(stats.Errors, WalkError{Path: fullPath, Err: err})
				continue
			}

			if entry.IsDir() || isReparsePoint(info) {
				if entry.IsDir() && !isReparsePoint(info) {
					subdirs = append(subdirs, fullPath)
				}
				continue
			}

			ext := strings.ToLower(filepath.Ext(entry.Name()))
			if !filter.accepts(ext, info.Size()) {
				continue
			}

			rel, err := filepath.Rel(root, fullPath)
			if err != nil {
				rel = fullPath
			}

			if gate != nil {
				gate.Wait()
			}
			if ctx.Err() != nil {
				stats.Errors = append(stats.Errors, WalkError{Path: fullPath, Err: ctx.Err()})
				return stats
			}

			cand := Candidate{
				ScanRootID:   scanRootID,
				AbsolutePath: fullPath,
				RelativePath: rel,
				FileName:     entry.Name(),
				Extension:    ext,
				SizeBytes:    info.Size(),
				ModifiedUtc:  info.ModTime().UTC().Format("2006-01-02T15:04:05.999999999Z07:00"),
			}

			select {
			case out <- cand:
				stats.FilesEmitted++
				stats.TotalBytes += info.Size()
			case <-ctx.Done():
				stats.Errors = append(stats.Errors, WalkError{Path: fullPath, Err: ctx.Err()})
				return stats
			}
		}

		for i := len(subdirs) - 1; i >= 0; i-- {
			stack = append(stack, frame{dir: subdirs[i]})
		}
	}

	return stats
}

// CategoryForExtension classifies a lowercase, dotted extension into one of
// the project's file categories.
func CategoryForExtension(ext string) model.Category {
	switch ext {
	case ".jpg", ".jpeg", ".png", ".gif", ".bmp", ".webp", ".heic", ".heif", ".tiff", ".tif", ".raw", ".cr2", ".nef", ".arw", ".dng":
		return model.CategoryImage
	case ".mp4", ".mov", ".avi", ".mkv", ".wmv", ".m4v", ".mpg", ".mpeg", ".webm", ".3gp":
		return model.CategoryMovie
	case ".mp3", ".wav", ".flac", ".aac", ".m4a", ".ogg", ".wma":
		return model.CategoryAudio
	case ".pdf", ".doc", ".docx", ".txt", ".rtf", ".odt", ".xls", ".xlsx", ".ppt", ".pptx":
		return model.CategoryDocument
	case ".zip", ".rar", ".7z", ".tar", ".gz", ".bz2":
		return model.CategoryArchive
	default:
		return model.CategoryOther
	}
}

// DefaultAllowedExtensions returns the extension set enabled when every
// category in categories is enabled, for building a Filter from
// ProjectSettings.EnabledCategories.
func DefaultAllowedExtensions(categories []model.Category) map[string]bool {
	enabled := make(map[model.Category]bool, len(categories))
	for _, c := range categories {
		enabled[c] = true
	}
	allExtensions := map[string]model.Category{
		".jpg": model.CategoryImage, ".jpeg": model.CategoryImage, ".png": model.CategoryImage,
		".gif": model.CategoryImage, ".bmp": model.CategoryImage, ".webp": model.CategoryImage,
		".heic": model.CategoryImage, ".heif": model.CategoryImage, ".tiff": model.CategoryImage,
		".tif": model.CategoryImage, ".raw": model.CategoryImage, ".cr2": model.CategoryImage,
		".nef": model.CategoryImage, ".arw": model.CategoryImage, ".dng": model.CategoryImage,
		".mp4": model.CategoryMovie, ".mov": model.CategoryMovie, ".avi": model.CategoryMovie,
		".mkv": model.CategoryMovie, ".wmv": model.CategoryMovie, ".m4v": model.CategoryMovie,
		".mpg": model.CategoryMovie, ".mpeg": model.CategoryMovie, ".webm": model.CategoryMovie,
		".3gp": model.CategoryMovie,
		".mp3": model.CategoryAudio, ".wav": model.CategoryAudio, ".flac": model.CategoryAudio,
		".aac": model.CategoryAudio, ".m4a": model.CategoryAudio, ".ogg": model.CategoryAudio,
		".wma": model.CategoryAudio,
		".pdf": model.CategoryDocument, ".doc": model.CategoryDocument, ".docx": model.CategoryDocument,
		".txt": model.CategoryDocument, ".rtf": model.CategoryDocument, ".odt": model.CategoryDocument,
		".xls": model.CategoryDocument, ".xlsx": model.CategoryDocument, ".ppt": model.CategoryDocument,
		".pptx": model.CategoryDocument,
		".zip": model.CategoryArchive, ".rar": model.CategoryArchive, ".7z": model.CategoryArchive,
		".tar": model.CategoryArchive, ".gz": model.CategoryArchive, ".bz2": model.CategoryArchive,
	}
	out := make(map[string]bool)
	for ext, cat := range allExtensions {
		if enabled[cat] {
			out[ext] = true
		}
	}
	return out
}
