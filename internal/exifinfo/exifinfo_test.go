package exifinfo

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestCanHandle(t *testing.T) {
	for _, ext := range []string{".jpg", ".jpeg", ".heic", ".tiff"} {
		if !CanHandle(ext) {
			t.Errorf("expected %s to be handled", ext)
		}
	}
	for _, ext := range []string{".mp4", ".png", ".txt", ""} {
		if CanHandle(ext) {
			t.Errorf("expected %s to not be handled", ext)
		}
	}
}

func TestReadRejectsNonImageFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "not-a-photo.jpg")
	if err := os.WriteFile(path, []byte("plain text, no EXIF"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Read(path); err == nil {
		t.Fatalf("expected decode error for non-EXIF content")
	}
}

func TestReadMissingFile(t *testing.T) {
	if _, err := Read(filepath.Join(t.TempDir(), "gone.jpg")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}

func TestCameraFormatting(t *testing.T) {
	cases := []struct {
		info Info
		want string
	}{
		{Info{CameraMake: "Canon", CameraModel: "Canon EOS 80D"}, "Canon EOS 80D"},
		{Info{CameraMake: "Apple", CameraModel: "iPhone 12"}, "Apple iPhone 12"},
		{Info{CameraModel: "PowerShot G7"}, "PowerShot G7"},
		{Info{CameraMake: "Nikon"}, "Nikon"},
		{Info{}, ""},
	}
	for _, tc := range cases {
		if got := tc.info.Camera(); got != tc.want {
			t.Errorf("Camera() = %q, want %q", got, tc.want)
		}
	}
	var zero time.Time
	if !(Info{}).Taken.Equal(zero) {
		t.Fatalf("zero Info should carry a zero Taken time")
	}
}
