//go:build !linux
// +build !linux

package configuration

// dropMountCapabilities is a no-op on operating systems other than
// Linux, as they do not have capability bounding sets.
func dropMountCapabilities() error {
	return nil
}
