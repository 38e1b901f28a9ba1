package virtual

import (
	"slices"
	"sync"
	"sync/atomic"

	"github.com/buildbarn/bb-storage/pkg/filesystem"
	"github.com/buildbarn/bb-storage/pkg/filesystem/path"
)

// RootInodeNumber is the inode number of the root directory. FUSE
// requires that the root directory uses node ID 1.
const RootInodeNumber uint64 = 1

// Listing cookies of the synthetic "." and ".." entries. Children of a
// directory are assigned cookies starting at firstChildCookie.
const (
	dotCookie        uint64 = 1
	dotDotCookie     uint64 = 2
	firstChildCookie uint64 = 3
)

const (
	// Size of struct fuse_dirent without its name.
	direntHeaderSizeBytes = 24
	// Size of struct fuse_entry_out, which precedes every
	// struct fuse_dirent in READDIRPLUS responses.
	entryOutSizeBytes = 128
)

func align8(n uint64) uint64 {
	return (n + 7) &^ 7
}

// DirectoryEntrySizeBytes returns the number of bytes a directory entry
// with a given name occupies in a FUSE READDIR response.
func DirectoryEntrySizeBytes(name string) uint64 {
	return align8(direntHeaderSizeBytes + uint64(len(name)))
}

// DirectoryEntryPlusSizeBytes returns the number of bytes a directory
// entry with a given name occupies in a FUSE READDIRPLUS response.
func DirectoryEntryPlusSizeBytes(name string) uint64 {
	return align8(entryOutSizeBytes + direntHeaderSizeBytes + uint64(len(name)))
}

// DirectoryEntry is returned by InodeTable.ReadDir(). Cookie can be
// provided to a subsequent call to ReadDir() to resume enumeration
// after this entry.
type DirectoryEntry struct {
	Cookie      uint64
	Name        string
	InodeNumber uint64
	FileType    filesystem.FileType
	// Attributes of the child. Left nil for the "." and ".."
	// entries, as the kernel tracks these by itself.
	Attributes *Attributes
}

// RemovalNotifier is called by InodeTable whenever an entry is removed
// from a directory, so that the kernel's directory entry cache can be
// invalidated. It is called after the table's lock has been released.
type RemovalNotifier func(parent uint64, name path.Component)

// RemovalNotifierRegistrar has the same signature as
// InodeTable.RegisterRemovalNotifier(). It can be passed to components
// that only need to be informed of removals.
type RemovalNotifierRegistrar func(removalNotifier RemovalNotifier)

func compareCookie(c *directoryChild, cookie uint64) int {
	switch {
	case c.cookie < cookie:
		return -1
	case c.cookie > cookie:
		return 1
	default:
		return 0
	}
}

type directoryChild struct {
	cookie uint64
	name   path.Component
	inode  *inode
}

// directoryContents is the child mapping of a directory inode. It is
// protected by InodeTable.lock.
type directoryContents struct {
	children   map[path.Component]*directoryChild
	ordered    []*directoryChild
	nextCookie uint64
}

func newDirectoryContents() *directoryContents {
	return &directoryContents{
		children:   map[path.Component]*directoryChild{},
		nextCookie: firstChildCookie,
	}
}

func (dc *directoryContents) insert(name path.Component, i *inode) {
	child := &directoryChild{
		cookie: dc.nextCookie,
		name:   name,
		inode:  i,
	}
	dc.nextCookie++
	dc.children[name] = child
	dc.ordered = append(dc.ordered, child)
}

func (dc *directoryContents) remove(name path.Component) {
	child := dc.children[name]
	delete(dc.children, name)
	// Cookies are assigned in increasing order, meaning the ordered
	// list is sorted by cookie.
	if index, ok := slices.BinarySearchFunc(dc.ordered, child.cookie, compareCookie); ok {
		dc.ordered = slices.Delete(dc.ordered, index, index+1)
	}
}

// firstChildAfter returns the index of the first child whose cookie is
// greater than the provided one.
func (dc *directoryContents) firstChildAfter(cookie uint64) int {
	index, found := slices.BinarySearchFunc(dc.ordered, cookie, compareCookie)
	if found {
		index++
	}
	return index
}

type inode struct {
	number   uint64
	fileType filesystem.FileType

	// Lock free state, accessible without holding InodeTable.lock.
	attributes atomic.Pointer[Attributes]
	nLookup    atomic.Uint64

	// Fields below are protected by InodeTable.lock.
	parent    *inode
	name      path.Component
	directory *directoryContents
}

func (i *inode) forget(count uint64) {
	for {
		oldCount := i.nLookup.Load()
		newCount := uint64(0)
		if oldCount > count {
			newCount = oldCount - count
		}
		if i.nLookup.CompareAndSwap(oldCount, newCount) {
			return
		}
	}
}

type pendingRemoval struct {
	parent uint64
	name   path.Component
}

// InodeTable owns the identity, placement, attributes and lookup counts
// of every file system object exposed through FUSE.
//
// Locking is done in two tiers. Directory contents and insertion or
// removal of inodes are protected by a single structural lock. The
// index from inode number to inode, attributes and lookup counts are
// all lock free. Attributes can therefore be read and written without
// ever waiting for structural mutations. Code holding the structural
// lock may acquire the lock of a file's contents, but not the other way
// around.
type InodeTable struct {
	inodes          sync.Map
	nextInodeNumber atomic.Uint64

	lock             sync.RWMutex
	removalNotifiers []RemovalNotifier
}

// NewInodeTable creates an InodeTable that only contains a root
// directory, using the attributes provided. The root directory has an
// initial lookup count of one, as the kernel holds an implicit
// reference to it for the lifetime of the mount.
func NewInodeTable(rootAttributes *Attributes) *InodeTable {
	it := &InodeTable{}
	root := &inode{
		number:    RootInodeNumber,
		fileType:  filesystem.FileTypeDirectory,
		directory: newDirectoryContents(),
	}
	root.parent = root
	root.attributes.Store(rootAttributes.Clone().
		SetFileType(filesystem.FileTypeDirectory).
		SetInodeNumber(RootInodeNumber))
	root.nLookup.Store(1)
	it.inodes.Store(RootInodeNumber, root)
	it.nextInodeNumber.Store(RootInodeNumber + 1)
	return it
}

func (it *InodeTable) getInode(inodeNumber uint64) (*inode, bool) {
	i, ok := it.inodes.Load(inodeNumber)
	if !ok {
		return nil, false
	}
	return i.(*inode), true
}

// RegisterRemovalNotifier adds a callback that is invoked every time an
// entry is removed from a directory.
func (it *InodeTable) RegisterRemovalNotifier(removalNotifier RemovalNotifier) {
	it.lock.Lock()
	it.removalNotifiers = append(it.removalNotifiers, removalNotifier)
	it.lock.Unlock()
}

func (it *InodeTable) notifyRemovals(removals []pendingRemoval) {
	if len(removals) == 0 {
		return
	}
	it.lock.RLock()
	removalNotifiers := it.removalNotifiers
	it.lock.RUnlock()
	for _, removal := range removals {
		for _, removalNotifier := range removalNotifiers {
			removalNotifier(removal.parent, removal.name)
		}
	}
}

// Apply runs a batch of structural mutations while holding the
// structural lock. Other callers observe either none or all of the
// mutations performed by the batch.
func (it *InodeTable) Apply(batch func(tx *InodeTableTransaction)) {
	tx := InodeTableTransaction{table: it}
	it.lock.Lock()
	batch(&tx)
	it.lock.Unlock()
	it.notifyRemovals(tx.removals)
}

// AllocateChild creates a new inode and inserts it into a directory. The
// new inode is assigned an inode number that has never been used
// before and has a lookup count of zero.
func (it *InodeTable) AllocateChild(parent uint64, name path.Component, attributes *Attributes) (uint64, Status) {
	var inodeNumber uint64
	var s Status
	it.Apply(func(tx *InodeTableTransaction) {
		inodeNumber, s = tx.AllocateChild(parent, name, attributes)
	})
	return inodeNumber, s
}

// Remove an inode from its parent directory and drop its record,
// regardless of its lookup count. Handles of the inode that are still
// held by callers resolve to StatusErrNoEnt from this point on.
func (it *InodeTable) Remove(inodeNumber uint64) Status {
	var s Status
	it.Apply(func(tx *InodeTableTransaction) {
		s = tx.Remove(inodeNumber)
	})
	return s
}

// Lookup resolves a child of a directory by name. Upon success, the
// lookup count of the child is incremented.
func (it *InodeTable) Lookup(parent uint64, name path.Component) (InodeHandle, Status) {
	it.lock.RLock()
	defer it.lock.RUnlock()

	p, ok := it.getInode(parent)
	if !ok {
		return InodeHandle{}, StatusErrNoEnt
	}
	if p.directory == nil {
		return InodeHandle{}, StatusErrNotDir
	}
	child, ok := p.directory.children[name]
	if !ok {
		return InodeHandle{}, StatusErrNoEnt
	}
	child.inode.nLookup.Add(1)
	return InodeHandle{table: it, inodeNumber: child.inode.number}, StatusOK
}

// Get resolves an inode by number, without altering its lookup count.
func (it *InodeTable) Get(inodeNumber uint64) (InodeHandle, Status) {
	if _, ok := it.getInode(inodeNumber); !ok {
		return InodeHandle{}, StatusErrNoEnt
	}
	return InodeHandle{table: it, inodeNumber: inodeNumber}, StatusOK
}

// Forget decrements the lookup count of an inode, flooring it at zero.
// Inodes are never removed as a result of their lookup count dropping
// to zero. Calls for unknown inode numbers are ignored, as the kernel
// may still send these after an inode has been removed.
func (it *InodeTable) Forget(inodeNumber, count uint64) {
	if i, ok := it.getInode(inodeNumber); ok {
		i.forget(count)
	}
}

// GetLookupCount returns the current lookup count of an inode.
func (it *InodeTable) GetLookupCount(inodeNumber uint64) (uint64, bool) {
	i, ok := it.getInode(inodeNumber)
	if !ok {
		return 0, false
	}
	return i.nLookup.Load(), true
}

// GetAttributes returns the current attributes of an inode. The
// returned value must not be modified.
func (it *InodeTable) GetAttributes(inodeNumber uint64) (*Attributes, Status) {
	i, ok := it.getInode(inodeNumber)
	if !ok {
		return nil, StatusErrNoEnt
	}
	return i.attributes.Load(), StatusOK
}

// SetAttributes atomically updates the attributes of an inode. The
// mutate function is called against a copy of the current attributes
// and may be called multiple times if updates race. The file type and
// inode number cannot be changed. The attributes of the root directory
// are immutable, except for its timestamps.
func (it *InodeTable) SetAttributes(inodeNumber uint64, mutate func(attributes *Attributes) Status) (*Attributes, Status) {
	i, ok := it.getInode(inodeNumber)
	if !ok {
		return nil, StatusErrNoEnt
	}
	for {
		oldAttributes := i.attributes.Load()
		newAttributes := oldAttributes.Clone()
		if s := mutate(newAttributes); s != StatusOK {
			return nil, s
		}
		newAttributes.SetFileType(i.fileType).SetInodeNumber(i.number)
		if i.number == RootInodeNumber {
			if newAttributes.GetPermissions() != oldAttributes.GetPermissions() ||
				newAttributes.GetOwnerUserID() != oldAttributes.GetOwnerUserID() ||
				newAttributes.GetOwnerGroupID() != oldAttributes.GetOwnerGroupID() ||
				newAttributes.GetLinkCount() != oldAttributes.GetLinkCount() ||
				newAttributes.GetSizeBytes() != oldAttributes.GetSizeBytes() {
				return nil, StatusErrPerm
			}
		}
		if i.attributes.CompareAndSwap(oldAttributes, newAttributes) {
			return newAttributes, StatusOK
		}
	}
}

// ReadDir returns the entries of a directory that come after the entry
// having cookie startCookie, including the synthetic "." and ".."
// entries. Entries are returned until the combined size of their FUSE
// encoding would exceed sizeBudget.
func (it *InodeTable) ReadDir(inodeNumber, startCookie, sizeBudget uint64) ([]DirectoryEntry, Status) {
	it.lock.RLock()
	defer it.lock.RUnlock()

	return it.readDirLocked(inodeNumber, startCookie, sizeBudget, DirectoryEntrySizeBytes, false)
}

// ReadDirPlus is identical to ReadDir, except that entry sizes are
// computed for READDIRPLUS responses. As the kernel treats every child
// returned through READDIRPLUS as if it was looked up, the lookup count
// of every returned child is incremented.
func (it *InodeTable) ReadDirPlus(inodeNumber, startCookie, sizeBudget uint64) ([]DirectoryEntry, Status) {
	it.lock.RLock()
	defer it.lock.RUnlock()

	return it.readDirLocked(inodeNumber, startCookie, sizeBudget, DirectoryEntryPlusSizeBytes, true)
}

func (it *InodeTable) readDirLocked(inodeNumber, startCookie, sizeBudget uint64, entrySize func(name string) uint64, incrementLookupCount bool) ([]DirectoryEntry, Status) {
	d, ok := it.getInode(inodeNumber)
	if !ok {
		return nil, StatusErrNoEnt
	}
	if d.directory == nil {
		return nil, StatusErrNotDir
	}

	var entries []DirectoryEntry
	add := func(entry DirectoryEntry) bool {
		size := entrySize(entry.Name)
		if size > sizeBudget {
			return false
		}
		sizeBudget -= size
		entries = append(entries, entry)
		return true
	}

	if startCookie < dotCookie && !add(DirectoryEntry{
		Cookie:      dotCookie,
		Name:        ".",
		InodeNumber: d.number,
		FileType:    filesystem.FileTypeDirectory,
	}) {
		return entries, StatusOK
	}
	if startCookie < dotDotCookie && !add(DirectoryEntry{
		Cookie:      dotDotCookie,
		Name:        "..",
		InodeNumber: d.parent.number,
		FileType:    filesystem.FileTypeDirectory,
	}) {
		return entries, StatusOK
	}

	for _, child := range d.directory.ordered[d.directory.firstChildAfter(startCookie):] {
		if !add(DirectoryEntry{
			Cookie:      child.cookie,
			Name:        child.name.String(),
			InodeNumber: child.inode.number,
			FileType:    child.inode.fileType,
			Attributes:  child.inode.attributes.Load(),
		}) {
			break
		}
		if incrementLookupCount {
			child.inode.nLookup.Add(1)
		}
	}
	return entries, StatusOK
}

// InodeTableTransaction is provided to the callback of
// InodeTable.Apply(). Its methods may only be called while the callback
// is running.
type InodeTableTransaction struct {
	table    *InodeTable
	removals []pendingRemoval
}

// AllocateChild is identical to InodeTable.AllocateChild(), except that
// it runs as part of the transaction.
func (tx *InodeTableTransaction) AllocateChild(parent uint64, name path.Component, attributes *Attributes) (uint64, Status) {
	it := tx.table
	p, ok := it.getInode(parent)
	if !ok {
		return 0, StatusErrNoEnt
	}
	if p.directory == nil {
		return 0, StatusErrNotDir
	}
	if _, ok := p.directory.children[name]; ok {
		return 0, StatusErrExist
	}

	i := &inode{
		fileType: attributes.GetFileType(),
		parent:   p,
		name:     name,
	}
	switch i.fileType {
	case filesystem.FileTypeDirectory:
		i.directory = newDirectoryContents()
	case filesystem.FileTypeRegularFile:
	default:
		return 0, StatusErrNotSupported
	}

	i.number = it.nextInodeNumber.Add(1) - 1
	i.attributes.Store(attributes.Clone().SetInodeNumber(i.number))
	it.inodes.Store(i.number, i)
	p.directory.insert(name, i)
	return i.number, StatusOK
}

// Remove is identical to InodeTable.Remove(), except that it runs as
// part of the transaction. Removal notifiers are invoked after the
// transaction completes.
func (tx *InodeTableTransaction) Remove(inodeNumber uint64) Status {
	it := tx.table
	if inodeNumber == RootInodeNumber {
		return StatusErrPerm
	}
	i, ok := it.getInode(inodeNumber)
	if !ok {
		return StatusErrNoEnt
	}
	if i.directory != nil && len(i.directory.children) > 0 {
		return StatusErrNotEmpty
	}

	i.parent.directory.remove(i.name)
	it.inodes.Delete(inodeNumber)
	tx.removals = append(tx.removals, pendingRemoval{
		parent: i.parent.number,
		name:   i.name,
	})
	return StatusOK
}

// InodeHandle is a reference to an inode that was obtained through
// InodeTable.Lookup() or InodeTable.Get(). It only stores the inode
// number, which is never reused. Every operation resolves the inode
// again, meaning that operations against a handle of an inode that has
// been removed fail with StatusErrNoEnt.
type InodeHandle struct {
	table       *InodeTable
	inodeNumber uint64
}

// GetInodeNumber returns the inode number the handle refers to.
func (h InodeHandle) GetInodeNumber() uint64 {
	return h.inodeNumber
}

// GetAttributes returns the current attributes of the inode.
func (h InodeHandle) GetAttributes() (*Attributes, Status) {
	return h.table.GetAttributes(h.inodeNumber)
}

// SetAttributes atomically updates the attributes of the inode.
func (h InodeHandle) SetAttributes(mutate func(attributes *Attributes) Status) (*Attributes, Status) {
	return h.table.SetAttributes(h.inodeNumber, mutate)
}
