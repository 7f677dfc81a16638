//go:build windows

package diskspace

import (
	"fmt"

	"golang.org/x/sys/windows"
)

// Free returns the number of bytes available to the calling process at
// path.
func Free(path string) (uint64, error) {
	var freeBytesAvailable, totalBytes, totalFreeBytes uint64

	pathPtr, err := windows.UTF16PtrFromString(path)
	if err != nil {
		return 0, fmt.Errorf("diskspace: encode path %s: %w", path, err)
	}

	if err := windows.GetDiskFreeSpaceEx(pathPtr, &freeBytesAvailable, &totalBytes, &totalFreeBytes); err != nil {
		return 0, fmt.Errorf("diskspace: GetDiskFreeSpaceEx %s: %w", path, err)
	}
	return freeBytesAvailable, nil
}
