package main

import (
	"fmt"
	"path/filepath"

	"github.com/dustin/go-humanize"

	"mdbackup/internal/exifinfo"
	"mdbackup/internal/model"
)

// newWhyEnricher builds the plan stage's optional folder annotation: the
// modified date that drove the placement, plus camera metadata when the
// representative carries EXIF. Enrichment only — placement stays on the
// filesystem modified time regardless of what EXIF says.
func newWhyEnricher(p *project) func(*model.FileInstance) string {
	return func(fi *model.FileInstance) string {
		why := fmt.Sprintf("dated by modified time of %s (%s, %s)",
			fi.FileName, fi.ModifiedUtc.UTC().Format("2006-01-02"), humanize.Bytes(uint64(fi.SizeBytes)))

		if !exifinfo.CanHandle(fi.Extension) {
			return why
		}
		root, err := p.Ctx.ScanRoots.GetByID(fi.ScanRootID)
		if err != nil {
			return why
		}
		info, err := exifinfo.Read(filepath.Join(root.Path, fi.RelativePath))
		if err != nil {
			return why
		}
		if cam := info.Camera(); cam != "" {
			why += "; shot on " + cam
		}
		if !info.Taken.IsZero() && info.Taken.UTC().Format("2006-01") != fi.ModifiedUtc.UTC().Format("2006-01") {
			why += "; EXIF capture date " + info.Taken.Format("2006-01-02") + " differs"
		}
		return why
	}
}
