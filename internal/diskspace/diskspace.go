// Package diskspace reports free space on the volume backing a path,
// split by build tag between syscall.Statfs (unix) and
// windows.GetDiskFreeSpaceEx.
package diskspace

import "fmt"

// ErrInsufficientSpace is returned by CheckSufficient when the destination
// volume does not have room for the planned copy.
var ErrInsufficientSpace = fmt.Errorf("diskspace: insufficient free space")

// CheckSufficient is the pre-flight free-space guard run before a copy
// pass: fail fast rather than partway through. requiredBytes is compared
// with the free space as given; no headroom is added for the store's own
// growth.
func CheckSufficient(destPath string, requiredBytes int64) error {
	free, err := Free(destPath)
	if err != nil {
		return fmt.Errorf("diskspace: check %s: %w", destPath, err)
	}
	if free < uint64(requiredBytes) {
		return fmt.Errorf("%w: need %d bytes, have %d at %s", ErrInsufficientSpace, requiredBytes, free, destPath)
	}
	return nil
}
