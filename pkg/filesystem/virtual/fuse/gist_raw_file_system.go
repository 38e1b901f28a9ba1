//go:build darwin || linux
// +build darwin linux

package fuse

import (
	"context"
	"syscall"
	"time"

	"github.com/buildbarn/bb-storage/pkg/clock"
	bb_filesystem "github.com/buildbarn/bb-storage/pkg/filesystem"
	"github.com/buildbarn/bb-storage/pkg/filesystem/path"
	"github.com/hanwen/go-fuse/v2/fuse"
	"github.com/ubnt-intrepid/gist-fs/pkg/filesystem"
	"github.com/ubnt-intrepid/gist-fs/pkg/filesystem/virtual"
	"go.uber.org/zap"
)

// ContentSynchronizer is called into by the RawFileSystem to bring the
// inode table in sync with the remote source. It is implemented by
// virtual.GistReconciler.
type ContentSynchronizer interface {
	Synchronize(ctx context.Context) error
	Rehydrate(ctx context.Context, inodeNumber uint64) error
}

// ServerCallbacks contains the methods of fuse.Server that are used to
// invalidate information cached by the kernel.
type ServerCallbacks interface {
	EntryNotify(parent uint64, name string) fuse.Status
	InodeNotify(node uint64, off, length int64) fuse.Status
}

var _ ServerCallbacks = (*fuse.Server)(nil)

func toFUSEStatus(s virtual.Status) fuse.Status {
	switch s {
	case virtual.StatusOK:
		return fuse.OK
	case virtual.StatusErrExist:
		return fuse.Status(syscall.EEXIST)
	case virtual.StatusErrFBig:
		return fuse.Status(syscall.EFBIG)
	case virtual.StatusErrIO:
		return fuse.EIO
	case virtual.StatusErrIsDir:
		return fuse.EISDIR
	case virtual.StatusErrNoEnt:
		return fuse.ENOENT
	case virtual.StatusErrNotDir:
		return fuse.ENOTDIR
	case virtual.StatusErrNotEmpty:
		return fuse.Status(syscall.ENOTEMPTY)
	case virtual.StatusErrNotSupported:
		return fuse.Status(syscall.EOPNOTSUPP)
	case virtual.StatusErrPerm:
		return fuse.EPERM
	default:
		return fuse.EIO
	}
}

func toFUSEFileType(fileType bb_filesystem.FileType) uint32 {
	if fileType == bb_filesystem.FileTypeDirectory {
		return syscall.S_IFDIR
	}
	return syscall.S_IFREG
}

func toFUSETime(t time.Time) (uint64, uint32) {
	nanos := t.UnixNano()
	return uint64(nanos / 1e9), uint32(nanos % 1e9)
}

func populateAttr(attributes *virtual.Attributes, out *fuse.Attr) {
	out.Ino = attributes.GetInodeNumber()
	out.Size = attributes.GetSizeBytes()
	out.Nlink = attributes.GetLinkCount()
	out.Mode = toFUSEFileType(attributes.GetFileType()) | attributes.GetPermissions().ToMode()
	out.Owner = fuse.Owner{
		Uid: attributes.GetOwnerUserID(),
		Gid: attributes.GetOwnerGroupID(),
	}
	out.Atime, out.Atimensec = toFUSETime(attributes.GetLastAccessTime())
	out.Mtime, out.Mtimensec = toFUSETime(attributes.GetLastDataModificationTime())
	out.Ctime, out.Ctimensec = toFUSETime(attributes.GetLastStatusChangeTime())
}

func populateEntryOut(attributes *virtual.Attributes, out *fuse.EntryOut) {
	populateAttr(attributes, &out.Attr)
	out.NodeId = out.Ino
}

// channelBackedContext is an implementation of context.Context around
// the cancellation channel that go-fuse provides. It does not have any
// values or deadline associated with it.
type channelBackedContext struct {
	cancel <-chan struct{}
}

var _ context.Context = channelBackedContext{}

func (ctx channelBackedContext) Deadline() (time.Time, bool) {
	var t time.Time
	return t, false
}

func (ctx channelBackedContext) Done() <-chan struct{} {
	return ctx.cancel
}

func (ctx channelBackedContext) Err() error {
	select {
	case <-ctx.cancel:
		return context.Canceled
	default:
		return nil
	}
}

func (ctx channelBackedContext) Value(key any) any {
	return nil
}

// GistRawFileSystem is a go-fuse RawFileSystem that exposes the
// contents of an InodeTable and the file contents tracked by a
// ContentStore. Opening the root directory causes the inode table to be
// synchronized against the remote source.
//
// Request kinds that have no meaning for this file system, such as the
// creation of new files or symbolic links, are acknowledged without
// having any effect.
type GistRawFileSystem struct {
	fuse.RawFileSystem

	inodeTable               *virtual.InodeTable
	contentStore             *filesystem.ContentStore
	synchronizer             ContentSynchronizer
	removalNotifierRegistrar virtual.RemovalNotifierRegistrar
	changeNotifierRegistrar  virtual.ChangeNotifierRegistrar
	clock                    clock.Clock
	logger                   *zap.Logger
}

var _ fuse.RawFileSystem = (*GistRawFileSystem)(nil)

// NewGistRawFileSystem creates a GistRawFileSystem.
func NewGistRawFileSystem(inodeTable *virtual.InodeTable, contentStore *filesystem.ContentStore, synchronizer ContentSynchronizer, removalNotifierRegistrar virtual.RemovalNotifierRegistrar, changeNotifierRegistrar virtual.ChangeNotifierRegistrar, clock clock.Clock, logger *zap.Logger) *GistRawFileSystem {
	return &GistRawFileSystem{
		RawFileSystem: fuse.NewDefaultRawFileSystem(),

		inodeTable:               inodeTable,
		contentStore:             contentStore,
		synchronizer:             synchronizer,
		removalNotifierRegistrar: removalNotifierRegistrar,
		changeNotifierRegistrar:  changeNotifierRegistrar,
		clock:                    clock,
		logger:                   logger,
	}
}

func (rfs *GistRawFileSystem) String() string {
	return "GistRawFileSystem"
}

func (rfs *GistRawFileSystem) SetDebug(debug bool) {}

// Init is called by go-fuse when the server is started.
func (rfs *GistRawFileSystem) Init(server *fuse.Server) {
	rfs.RegisterServerCallbacks(NewMetricsServerCallbacks(server))
}

// RegisterServerCallbacks causes removals of directory entries and
// changes to file contents to be reported to the kernel, so that its
// caches do not continue to serve stale data.
func (rfs *GistRawFileSystem) RegisterServerCallbacks(server ServerCallbacks) {
	rfs.removalNotifierRegistrar(func(parent uint64, name path.Component) {
		if s := server.EntryNotify(parent, name.String()); s != fuse.OK && s != fuse.ENOENT {
			rfs.logger.Warn(
				"Failed to invalidate directory entry",
				zap.Uint64("parent", parent),
				zap.String("name", name.String()),
				zap.Stringer("status", s))
		}
	})
	rfs.changeNotifierRegistrar(func(inodeNumber uint64) {
		// Negative offsets only invalidate attributes. Use an
		// offset of zero to also drop the page cache.
		if s := server.InodeNotify(inodeNumber, 0, 0); s != fuse.OK && s != fuse.ENOENT {
			rfs.logger.Warn(
				"Failed to invalidate inode",
				zap.Uint64("inode", inodeNumber),
				zap.Stringer("status", s))
		}
	})
}

// getRegularFile resolves an inode that is used for I/O. Requests
// against directories fail with EISDIR.
func (rfs *GistRawFileSystem) getRegularFile(nodeID uint64) (*filesystem.FileContent, fuse.Status) {
	attributes, s := rfs.inodeTable.GetAttributes(nodeID)
	if s != virtual.StatusOK {
		return nil, toFUSEStatus(s)
	}
	if attributes.GetFileType() == bb_filesystem.FileTypeDirectory {
		return nil, fuse.EISDIR
	}
	fc, ok := rfs.contentStore.Get(nodeID)
	if !ok {
		return nil, fuse.ENOENT
	}
	return fc, fuse.OK
}

// sizeUpdater returns a callback for FileContent that mirrors changes
// to the size of a file into its attributes.
func (rfs *GistRawFileSystem) sizeUpdater(nodeID uint64, now time.Time) filesystem.SizeChangedFunc {
	return func(sizeBytes uint64) {
		rfs.inodeTable.SetAttributes(nodeID, func(attributes *virtual.Attributes) virtual.Status {
			attributes.
				SetSizeBytes(sizeBytes).
				SetLastDataModificationTime(now).
				SetLastStatusChangeTime(now)
			return virtual.StatusOK
		})
	}
}

func (rfs *GistRawFileSystem) Lookup(cancel <-chan struct{}, header *fuse.InHeader, name string, out *fuse.EntryOut) fuse.Status {
	component, ok := path.NewComponent(name)
	if !ok {
		return fuse.ENOENT
	}
	handle, s := rfs.inodeTable.Lookup(header.NodeId, component)
	if s != virtual.StatusOK {
		return toFUSEStatus(s)
	}
	attributes, s := handle.GetAttributes()
	if s != virtual.StatusOK {
		// Removed in the meantime.
		return toFUSEStatus(s)
	}
	populateEntryOut(attributes, out)
	return fuse.OK
}

func (rfs *GistRawFileSystem) Forget(nodeID, nLookup uint64) {
	rfs.inodeTable.Forget(nodeID, nLookup)
}

func (rfs *GistRawFileSystem) GetAttr(cancel <-chan struct{}, input *fuse.GetAttrIn, out *fuse.AttrOut) fuse.Status {
	handle, s := rfs.inodeTable.Get(input.NodeId)
	if s != virtual.StatusOK {
		return toFUSEStatus(s)
	}
	attributes, s := handle.GetAttributes()
	if s != virtual.StatusOK {
		return toFUSEStatus(s)
	}
	populateAttr(attributes, &out.Attr)
	return fuse.OK
}

func (rfs *GistRawFileSystem) SetAttr(cancel <-chan struct{}, input *fuse.SetAttrIn, out *fuse.AttrOut) fuse.Status {
	if input.NodeId == virtual.RootInodeNumber {
		return fuse.EPERM
	}
	handle, s := rfs.inodeTable.Get(input.NodeId)
	if s != virtual.StatusOK {
		return toFUSEStatus(s)
	}
	now := rfs.clock.Now()

	if input.Valid&fuse.FATTR_SIZE != 0 {
		fc, s := rfs.getRegularFile(input.NodeId)
		if s != fuse.OK {
			return s
		}
		if err := fc.Truncate(input.Size, rfs.sizeUpdater(input.NodeId, now)); err != nil {
			return fuse.Status(syscall.EFBIG)
		}
	}

	attributes, vs := handle.SetAttributes(func(attributes *virtual.Attributes) virtual.Status {
		if input.Valid&fuse.FATTR_MODE != 0 {
			attributes.SetPermissions(virtual.NewPermissionsFromMode(input.Mode))
		}
		userID, groupID := attributes.GetOwnerUserID(), attributes.GetOwnerGroupID()
		if input.Valid&fuse.FATTR_UID != 0 {
			userID = input.Owner.Uid
		}
		if input.Valid&fuse.FATTR_GID != 0 {
			groupID = input.Owner.Gid
		}
		attributes.SetOwner(userID, groupID)

		if input.Valid&fuse.FATTR_ATIME_NOW != 0 {
			attributes.SetLastAccessTime(now)
		} else if input.Valid&fuse.FATTR_ATIME != 0 {
			attributes.SetLastAccessTime(time.Unix(int64(input.Atime), int64(input.Atimensec)))
		}
		if input.Valid&fuse.FATTR_MTIME_NOW != 0 {
			attributes.SetLastDataModificationTime(now)
		} else if input.Valid&fuse.FATTR_MTIME != 0 {
			attributes.SetLastDataModificationTime(time.Unix(int64(input.Mtime), int64(input.Mtimensec)))
		}
		attributes.SetLastStatusChangeTime(now)
		return virtual.StatusOK
	})
	if vs != virtual.StatusOK {
		return toFUSEStatus(vs)
	}
	populateAttr(attributes, &out.Attr)
	return fuse.OK
}

func (rfs *GistRawFileSystem) Open(cancel <-chan struct{}, input *fuse.OpenIn, out *fuse.OpenOut) fuse.Status {
	fc, s := rfs.getRegularFile(input.NodeId)
	if s != fuse.OK {
		return s
	}
	if fc.NeedsRehydration() {
		if err := rfs.synchronizer.Rehydrate(channelBackedContext{cancel: cancel}, input.NodeId); err != nil {
			rfs.logger.Warn("Failed to obtain full contents of file", zap.Uint64("inode", input.NodeId), zap.Error(err))
			return fuse.EIO
		}
	}
	return fuse.OK
}

func (rfs *GistRawFileSystem) Read(cancel <-chan struct{}, input *fuse.ReadIn, buf []byte) (fuse.ReadResult, fuse.Status) {
	fc, s := rfs.getRegularFile(input.NodeId)
	if s != fuse.OK {
		return nil, s
	}
	return fuse.ReadResultData(fc.Read(input.Offset, int(input.Size))), fuse.OK
}

func (rfs *GistRawFileSystem) Write(cancel <-chan struct{}, input *fuse.WriteIn, data []byte) (uint32, fuse.Status) {
	fc, s := rfs.getRegularFile(input.NodeId)
	if s != fuse.OK {
		return 0, s
	}
	now := rfs.clock.Now()
	sizeChanged := false
	updateSize := rfs.sizeUpdater(input.NodeId, now)
	n, err := fc.Write(input.Offset, data, func(sizeBytes uint64) {
		sizeChanged = true
		updateSize(sizeBytes)
	})
	if err != nil {
		return 0, fuse.Status(syscall.EFBIG)
	}
	if n > 0 && !sizeChanged {
		rfs.inodeTable.SetAttributes(input.NodeId, func(attributes *virtual.Attributes) virtual.Status {
			attributes.SetLastDataModificationTime(now).SetLastStatusChangeTime(now)
			return virtual.StatusOK
		})
	}
	return uint32(n), fuse.OK
}

func (rfs *GistRawFileSystem) Flush(cancel <-chan struct{}, input *fuse.FlushIn) fuse.Status {
	_, s := rfs.getRegularFile(input.NodeId)
	return s
}

func (rfs *GistRawFileSystem) Release(cancel <-chan struct{}, input *fuse.ReleaseIn) {}

func (rfs *GistRawFileSystem) OpenDir(cancel <-chan struct{}, input *fuse.OpenIn, out *fuse.OpenOut) fuse.Status {
	attributes, s := rfs.inodeTable.GetAttributes(input.NodeId)
	if s != virtual.StatusOK {
		return toFUSEStatus(s)
	}
	if attributes.GetFileType() != bb_filesystem.FileTypeDirectory {
		return fuse.ENOTDIR
	}
	if input.NodeId == virtual.RootInodeNumber {
		if err := rfs.synchronizer.Synchronize(channelBackedContext{cancel: cancel}); err != nil {
			rfs.logger.Warn("Failed to synchronize root directory", zap.Error(err))
			return fuse.EIO
		}
	}
	return fuse.OK
}

func toFUSEDirEntry(entry *virtual.DirectoryEntry) fuse.DirEntry {
	return fuse.DirEntry{
		Mode: toFUSEFileType(entry.FileType),
		Name: entry.Name,
		Ino:  entry.InodeNumber,
		Off:  entry.Cookie,
	}
}

func (rfs *GistRawFileSystem) ReadDir(cancel <-chan struct{}, input *fuse.ReadIn, out *fuse.DirEntryList) fuse.Status {
	entries, s := rfs.inodeTable.ReadDir(input.NodeId, input.Offset, uint64(input.Size))
	if s != virtual.StatusOK {
		return toFUSEStatus(s)
	}
	for i := range entries {
		if !out.AddDirEntry(toFUSEDirEntry(&entries[i])) {
			break
		}
	}
	return fuse.OK
}

func (rfs *GistRawFileSystem) ReadDirPlus(cancel <-chan struct{}, input *fuse.ReadIn, out *fuse.DirEntryList) fuse.Status {
	entries, s := rfs.inodeTable.ReadDirPlus(input.NodeId, input.Offset, uint64(input.Size))
	if s != virtual.StatusOK {
		return toFUSEStatus(s)
	}
	for i := range entries {
		entry := &entries[i]
		e := out.AddDirLookupEntry(toFUSEDirEntry(entry))
		if e == nil {
			// The kernel never learns about the remaining
			// entries. Undo the increments of their lookup
			// counts.
			for _, remaining := range entries[i:] {
				if remaining.Attributes != nil {
					rfs.inodeTable.Forget(remaining.InodeNumber, 1)
				}
			}
			break
		}
		// "." and ".." are tracked by the kernel itself. Leaving
		// the node ID zero prevents them from being counted as
		// lookups.
		if entry.Attributes != nil {
			populateEntryOut(entry.Attributes, e)
		}
	}
	return fuse.OK
}

func (rfs *GistRawFileSystem) ReleaseDir(input *fuse.ReleaseIn) {}

func (rfs *GistRawFileSystem) StatFs(cancel <-chan struct{}, input *fuse.InHeader, out *fuse.StatfsOut) fuse.Status {
	// Announce support for filenames up to 255 bytes in size. This
	// seems to be the common limit for UNIX file systems. Setting
	// this value is necessary to make pathconf(path, _PC_NAME_MAX)
	// work.
	out.NameLen = 255
	return fuse.OK
}

// The operations below have no meaning for a file system whose
// structure is dictated by the remote source. They are acknowledged
// without having any effect.

func (rfs *GistRawFileSystem) Mknod(cancel <-chan struct{}, input *fuse.MknodIn, name string, out *fuse.EntryOut) fuse.Status {
	return fuse.OK
}

func (rfs *GistRawFileSystem) Mkdir(cancel <-chan struct{}, input *fuse.MkdirIn, name string, out *fuse.EntryOut) fuse.Status {
	return fuse.OK
}

func (rfs *GistRawFileSystem) Unlink(cancel <-chan struct{}, header *fuse.InHeader, name string) fuse.Status {
	return fuse.OK
}

func (rfs *GistRawFileSystem) Rmdir(cancel <-chan struct{}, header *fuse.InHeader, name string) fuse.Status {
	return fuse.OK
}

func (rfs *GistRawFileSystem) Rename(cancel <-chan struct{}, input *fuse.RenameIn, oldName, newName string) fuse.Status {
	return fuse.OK
}

func (rfs *GistRawFileSystem) Link(cancel <-chan struct{}, input *fuse.LinkIn, filename string, out *fuse.EntryOut) fuse.Status {
	return fuse.OK
}

func (rfs *GistRawFileSystem) Symlink(cancel <-chan struct{}, header *fuse.InHeader, pointedTo, linkName string, out *fuse.EntryOut) fuse.Status {
	return fuse.OK
}

func (rfs *GistRawFileSystem) Readlink(cancel <-chan struct{}, header *fuse.InHeader) ([]byte, fuse.Status) {
	return nil, fuse.OK
}

func (rfs *GistRawFileSystem) Access(cancel <-chan struct{}, input *fuse.AccessIn) fuse.Status {
	return fuse.OK
}

func (rfs *GistRawFileSystem) GetXAttr(cancel <-chan struct{}, header *fuse.InHeader, attr string, dest []byte) (uint32, fuse.Status) {
	return 0, fuse.OK
}

func (rfs *GistRawFileSystem) ListXAttr(cancel <-chan struct{}, header *fuse.InHeader, dest []byte) (uint32, fuse.Status) {
	return 0, fuse.OK
}

func (rfs *GistRawFileSystem) SetXAttr(cancel <-chan struct{}, input *fuse.SetXAttrIn, attr string, data []byte) fuse.Status {
	return fuse.OK
}

func (rfs *GistRawFileSystem) RemoveXAttr(cancel <-chan struct{}, header *fuse.InHeader, attr string) fuse.Status {
	return fuse.OK
}

// Create is acknowledged without creating a file. The reply carries
// node ID zero, which the kernel reports to the caller as EIO.
func (rfs *GistRawFileSystem) Create(cancel <-chan struct{}, input *fuse.CreateIn, name string, out *fuse.CreateOut) fuse.Status {
	return fuse.OK
}

func (rfs *GistRawFileSystem) Lseek(cancel <-chan struct{}, in *fuse.LseekIn, out *fuse.LseekOut) fuse.Status {
	return fuse.OK
}

func (rfs *GistRawFileSystem) GetLk(cancel <-chan struct{}, input *fuse.LkIn, out *fuse.LkOut) fuse.Status {
	return fuse.OK
}

func (rfs *GistRawFileSystem) SetLk(cancel <-chan struct{}, input *fuse.LkIn) fuse.Status {
	return fuse.OK
}

func (rfs *GistRawFileSystem) SetLkw(cancel <-chan struct{}, input *fuse.LkIn) fuse.Status {
	return fuse.OK
}

func (rfs *GistRawFileSystem) CopyFileRange(cancel <-chan struct{}, input *fuse.CopyFileRangeIn) (uint32, fuse.Status) {
	return 0, fuse.OK
}

func (rfs *GistRawFileSystem) Fsync(cancel <-chan struct{}, input *fuse.FsyncIn) fuse.Status {
	return fuse.OK
}

func (rfs *GistRawFileSystem) Fallocate(cancel <-chan struct{}, input *fuse.FallocateIn) fuse.Status {
	return fuse.OK
}

func (rfs *GistRawFileSystem) FsyncDir(cancel <-chan struct{}, input *fuse.FsyncIn) fuse.Status {
	return fuse.OK
}
