// Package exifinfo reads the small slice of EXIF metadata the folder-tree
// annotations use: the capture timestamp and the camera make/model. It is
// enrichment only — folder placement stays strictly on the filesystem
// modified time, so a file with no EXIF block loses nothing but a nicer
// explanation string.
package exifinfo

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rwcarlsen/goexif/exif"
)

// Info is the extracted metadata for one image file.
type Info struct {
	Taken       time.Time // zero when the file carries no usable date tag
	CameraMake  string
	CameraModel string
}

// CanHandle reports whether ext (lowercase, with dot) is a format the EXIF
// reader understands.
func CanHandle(ext string) bool {
	switch ext {
	case ".jpg", ".jpeg", ".heic", ".heif", ".tif", ".tiff":
		return true
	default:
		return false
	}
}

// Read opens path and decodes its EXIF block. The date fields are tried
// most-reliable first: DateTimeOriginal, then DateTimeDigitized, then
// DateTime.
func Read(path string) (Info, error) {
	f, err := os.Open(path)
	if err != nil {
		return Info{}, fmt.Errorf("exifinfo: open %s: %w", path, err)
	}
	defer f.Close()

	x, err := exif.Decode(f)
	if err != nil {
		return Info{}, fmt.Errorf("exifinfo: decode %s: %w", path, err)
	}

	var info Info
	for _, field := range []exif.FieldName{exif.DateTimeOriginal, exif.DateTimeDigitized, exif.DateTime} {
		tag, err := x.Get(field)
		if err != nil {
			continue
		}
		raw, err := tag.StringVal()
		if err != nil {
			continue
		}
		// EXIF date format: "2006:01:02 15:04:05"
		if date, err := time.Parse("2006:01:02 15:04:05", raw); err == nil {
			info.Taken = date
			break
		}
	}
	if info.Taken.IsZero() {
		if dt, err := x.DateTime(); err == nil {
			info.Taken = dt
		}
	}

	info.CameraMake = tagString(x, exif.Make)
	info.CameraModel = tagString(x, exif.Model)
	return info, nil
}

// Camera formats the make/model pair for display, dropping a make that the
// model string already repeats (e.g. "Canon" + "Canon EOS 80D").
func (i Info) Camera() string {
	if i.CameraModel == "" {
		return i.CameraMake
	}
	if i.CameraMake == "" || strings.HasPrefix(strings.ToLower(i.CameraModel), strings.ToLower(i.CameraMake)) {
		return i.CameraModel
	}
	return i.CameraMake + " " + i.CameraModel
}

func tagString(x *exif.Exif, field exif.FieldName) string {
	tag, err := x.Get(field)
	if err != nil {
		return ""
	}
	s, err := tag.StringVal()
	if err != nil {
		return ""
	}
	return strings.TrimSpace(s)
}
