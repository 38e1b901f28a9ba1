package virtual

// Permissions of a file, stored as the lowest 12 bits of a traditional
// UNIX style mode (permission bits, plus setuid, setgid and sticky).
type Permissions uint16

const (
	// PermissionsDirectoryDefault is applied to the root directory.
	PermissionsDirectoryDefault Permissions = 0o755
	// PermissionsRegularFileDefault is applied to files obtained
	// from the remote source.
	PermissionsRegularFileDefault Permissions = 0o644
)

// NewPermissionsFromMode creates a set of permissions from a
// traditional UNIX style mode. File type bits are discarded.
func NewPermissionsFromMode(m uint32) Permissions {
	return Permissions(m & 0o7777)
}

// ToMode converts a set of permissions to a traditional UNIX style
// mode, without any file type bits.
func (p Permissions) ToMode() uint32 {
	return uint32(p)
}
