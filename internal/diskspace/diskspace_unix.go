//go:build !windows

package diskspace

import (
	"fmt"
	"syscall"
)

// Free returns the number of bytes available to an unprivileged process
// at path.
func Free(path string) (uint64, error) {
	var stat syscall.Statfs_t
	if err := syscall.Statfs(path, &stat); err != nil {
		return 0, fmt.Errorf("diskspace: statfs %s: %w", path, err)
	}
	return stat.Bavail * uint64(stat.Bsize), nil
}
