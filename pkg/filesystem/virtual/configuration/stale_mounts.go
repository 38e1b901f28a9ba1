//go:build darwin || linux
// +build darwin linux

package configuration

import (
	"golang.org/x/sys/unix"
)

// removeStaleMounts unmounts file systems that were left behind by a
// previous invocation that did not shut down cleanly. Multiple FUSE
// mounts may be stacked on top of a single directory, so unmounting is
// repeated until it fails. The number of removed mounts is returned.
func removeStaleMounts(mountPath string) int {
	removed := 0
	for unix.Unmount(mountPath, 0) == nil {
		removed++
	}
	return removed
}
