//go:build linux
// +build linux

package configuration

import (
	"github.com/buildbarn/bb-storage/pkg/util"

	"golang.org/x/sys/unix"
)

// dropMountCapabilities removes CAP_SYS_ADMIN from the bounding set.
// It is only needed to mount the file system, which has completed by
// the time this function is called.
func dropMountCapabilities() error {
	if err := unix.Prctl(unix.PR_CAPBSET_DROP, unix.CAP_SYS_ADMIN, 0, 0, 0); err != nil {
		return util.StatusWrap(err, "Failed to drop CAP_SYS_ADMIN from the bounding set")
	}
	return nil
}
