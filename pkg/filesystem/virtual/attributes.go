package virtual

import (
	"time"

	"github.com/buildbarn/bb-storage/pkg/filesystem"
)

// Attributes of a file, normally requested through stat() or readdir().
//
// Attributes are stored by InodeTable as immutable snapshots. Updates
// are performed by copying a snapshot, adjusting the copy and swapping
// it in atomically. Callers must therefore not modify an instance
// after handing it to InodeTable.
type Attributes struct {
	fileType                 filesystem.FileType
	inodeNumber              uint64
	lastAccessTime           time.Time
	lastDataModificationTime time.Time
	lastStatusChangeTime     time.Time
	linkCount                uint32
	ownerGroupID             uint32
	ownerUserID              uint32
	permissions              Permissions
	sizeBytes                uint64
}

// NewDirectoryAttributes returns the attributes of a freshly created
// directory.
func NewDirectoryAttributes(ownerUserID, ownerGroupID uint32, t time.Time) *Attributes {
	return (&Attributes{}).
		SetFileType(filesystem.FileTypeDirectory).
		SetPermissions(PermissionsDirectoryDefault).
		SetLinkCount(2).
		SetOwner(ownerUserID, ownerGroupID).
		SetTimes(t, t, t)
}

// NewRegularFileAttributes returns the attributes of a freshly created
// regular file.
func NewRegularFileAttributes(ownerUserID, ownerGroupID uint32, sizeBytes uint64, created, updated time.Time) *Attributes {
	return (&Attributes{}).
		SetFileType(filesystem.FileTypeRegularFile).
		SetPermissions(PermissionsRegularFileDefault).
		SetLinkCount(1).
		SetOwner(ownerUserID, ownerGroupID).
		SetSizeBytes(sizeBytes).
		SetTimes(updated, updated, created)
}

// Clone returns a copy of the attributes that may be modified freely.
func (a *Attributes) Clone() *Attributes {
	aCopy := *a
	return &aCopy
}

// GetFileType returns the file type (upper 4 bits of st_mode).
func (a *Attributes) GetFileType() filesystem.FileType {
	return a.fileType
}

// SetFileType sets the file type (upper 4 bits of st_mode).
func (a *Attributes) SetFileType(fileType filesystem.FileType) *Attributes {
	a.fileType = fileType
	return a
}

// GetInodeNumber returns the inode number (st_ino).
func (a *Attributes) GetInodeNumber() uint64 {
	return a.inodeNumber
}

// SetInodeNumber sets the inode number (st_ino).
func (a *Attributes) SetInodeNumber(inodeNumber uint64) *Attributes {
	a.inodeNumber = inodeNumber
	return a
}

// GetLastAccessTime returns the last access time (st_atim).
func (a *Attributes) GetLastAccessTime() time.Time {
	return a.lastAccessTime
}

// SetLastAccessTime sets the last access time (st_atim).
func (a *Attributes) SetLastAccessTime(t time.Time) *Attributes {
	a.lastAccessTime = t
	return a
}

// GetLastDataModificationTime returns the last data modification time
// (st_mtim).
func (a *Attributes) GetLastDataModificationTime() time.Time {
	return a.lastDataModificationTime
}

// SetLastDataModificationTime sets the last data modification time
// (st_mtim).
func (a *Attributes) SetLastDataModificationTime(t time.Time) *Attributes {
	a.lastDataModificationTime = t
	return a
}

// GetLastStatusChangeTime returns the last status change time
// (st_ctim).
func (a *Attributes) GetLastStatusChangeTime() time.Time {
	return a.lastStatusChangeTime
}

// SetLastStatusChangeTime sets the last status change time (st_ctim).
func (a *Attributes) SetLastStatusChangeTime(t time.Time) *Attributes {
	a.lastStatusChangeTime = t
	return a
}

// SetTimes sets the access, data modification and status change times
// at once.
func (a *Attributes) SetTimes(access, modification, statusChange time.Time) *Attributes {
	a.lastAccessTime = access
	a.lastDataModificationTime = modification
	a.lastStatusChangeTime = statusChange
	return a
}

// GetLinkCount returns the link count (st_nlink).
func (a *Attributes) GetLinkCount() uint32 {
	return a.linkCount
}

// SetLinkCount sets the link count (st_nlink).
func (a *Attributes) SetLinkCount(linkCount uint32) *Attributes {
	a.linkCount = linkCount
	return a
}

// GetOwnerUserID returns the user ID of the owner (st_uid).
func (a *Attributes) GetOwnerUserID() uint32 {
	return a.ownerUserID
}

// GetOwnerGroupID returns the group ID of the owner (st_gid).
func (a *Attributes) GetOwnerGroupID() uint32 {
	return a.ownerGroupID
}

// SetOwner sets the user and group ID of the owner (st_uid, st_gid).
func (a *Attributes) SetOwner(userID, groupID uint32) *Attributes {
	a.ownerUserID = userID
	a.ownerGroupID = groupID
	return a
}

// GetPermissions returns the permissions (lowest 12 bits of st_mode).
func (a *Attributes) GetPermissions() Permissions {
	return a.permissions
}

// SetPermissions sets the permissions (lowest 12 bits of st_mode).
func (a *Attributes) SetPermissions(permissions Permissions) *Attributes {
	a.permissions = permissions
	return a
}

// GetSizeBytes returns the file size (st_size).
func (a *Attributes) GetSizeBytes() uint64 {
	return a.sizeBytes
}

// SetSizeBytes sets the file size (st_size).
func (a *Attributes) SetSizeBytes(sizeBytes uint64) *Attributes {
	a.sizeBytes = sizeBytes
	return a
}
