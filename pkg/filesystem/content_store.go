package filesystem

import (
	"sync"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// MaximumFileSizeBytes is the largest size a file buffer may grow to
// through Write() or Truncate().
const MaximumFileSizeBytes = 1 << 32

// SizeChangedFunc is invoked by FileContent when a write or truncate
// alters the size of the buffer. It is called while the buffer's lock
// is still held, so that the size attribute mirrored by the caller is
// updated in the same order as the buffer itself.
type SizeChangedFunc func(newSizeBytes uint64)

// FileContent holds the contents of a single regular file. Every
// instance carries its own lock, meaning that operations against
// distinct files never contend with each other.
type FileContent struct {
	lock             sync.RWMutex
	data             []byte
	needsRehydration bool
}

// Read up to maximumLength bytes starting at the provided offset. Reads
// at or past the end of the buffer return an empty slice. The returned
// slice is a copy and remains valid after subsequent writes.
func (fc *FileContent) Read(offset uint64, maximumLength int) []byte {
	fc.lock.RLock()
	defer fc.lock.RUnlock()

	if offset >= uint64(len(fc.data)) || maximumLength <= 0 {
		return []byte{}
	}
	end := uint64(len(fc.data))
	if remaining := end - offset; uint64(maximumLength) < remaining {
		end = offset + uint64(maximumLength)
	}
	return append([]byte(nil), fc.data[offset:end]...)
}

// Write data into the buffer at the provided offset. If the write
// extends past the end of the buffer, the buffer is grown and the gap
// between the old end and the offset is zero filled.
func (fc *FileContent) Write(offset uint64, data []byte, sizeChanged SizeChangedFunc) (int, error) {
	// Zero-sized writes should not cause the file to grow.
	if len(data) == 0 {
		return 0, nil
	}
	end := offset + uint64(len(data))
	if end < offset || end > MaximumFileSizeBytes {
		return 0, status.Errorf(codes.OutOfRange, "Write of %d bytes at offset %d exceeds the maximum file size of %d bytes", len(data), offset, uint64(MaximumFileSizeBytes))
	}

	fc.lock.Lock()
	defer fc.lock.Unlock()

	if oldSize := uint64(len(fc.data)); oldSize < end {
		// Grow the file. append() zero fills the new region,
		// which includes any gap in front of the offset.
		fc.data = append(fc.data, make([]byte, end-oldSize)...)
		if sizeChanged != nil {
			sizeChanged(end)
		}
	}
	return copy(fc.data[offset:end], data), nil
}

// Truncate resizes the buffer, either dropping its tail or extending it
// with zero bytes.
func (fc *FileContent) Truncate(newSizeBytes uint64, sizeChanged SizeChangedFunc) error {
	if newSizeBytes > MaximumFileSizeBytes {
		return status.Errorf(codes.OutOfRange, "Size of %d bytes exceeds the maximum file size of %d bytes", newSizeBytes, uint64(MaximumFileSizeBytes))
	}

	fc.lock.Lock()
	defer fc.lock.Unlock()

	oldSize := uint64(len(fc.data))
	if oldSize >= newSizeBytes {
		// Truncate the file. Clear the dropped tail, so that it
		// does not reappear when the file is grown again.
		clear(fc.data[newSizeBytes:])
		fc.data = fc.data[:newSizeBytes]
	} else {
		// Grow the file.
		fc.data = append(fc.data, make([]byte, newSizeBytes-oldSize)...)
	}
	if oldSize != newSizeBytes && sizeChanged != nil {
		sizeChanged(newSizeBytes)
	}
	return nil
}

// Replace the contents of the buffer in their entirety. This clears
// any pending rehydration. The size callback is always invoked, so that
// callers can update other attributes along with the size.
func (fc *FileContent) Replace(data []byte, sizeChanged SizeChangedFunc) {
	fc.lock.Lock()
	defer fc.lock.Unlock()

	fc.data = append([]byte(nil), data...)
	fc.needsRehydration = false
	if sizeChanged != nil {
		sizeChanged(uint64(len(fc.data)))
	}
}

// GetSizeBytes returns the current length of the buffer.
func (fc *FileContent) GetSizeBytes() uint64 {
	fc.lock.RLock()
	defer fc.lock.RUnlock()
	return uint64(len(fc.data))
}

// MarkNeedsRehydration indicates that the buffer does not contain the
// full contents of the file, because the remote source only provided a
// truncated copy. The contents need to be obtained separately before
// the file is used.
func (fc *FileContent) MarkNeedsRehydration() {
	fc.lock.Lock()
	fc.needsRehydration = true
	fc.lock.Unlock()
}

// NeedsRehydration returns whether MarkNeedsRehydration() has been
// called without a subsequent call to Replace().
func (fc *FileContent) NeedsRehydration() bool {
	fc.lock.RLock()
	defer fc.lock.RUnlock()
	return fc.needsRehydration
}

// ContentStore keeps track of the buffers of all regular files,
// indexed by inode number. The index itself is lock free, so that
// resolving the buffer of one file never waits for operations on
// another.
type ContentStore struct {
	contents sync.Map
}

// NewContentStore creates a ContentStore that has no buffers
// registered.
func NewContentStore() *ContentStore {
	return &ContentStore{}
}

// Register a buffer for an inode number, holding a copy of the provided
// data. Any buffer previously registered under the same inode number is
// replaced.
func (cs *ContentStore) Register(inodeNumber uint64, data []byte) *FileContent {
	fc := &FileContent{
		data: append([]byte(nil), data...),
	}
	cs.contents.Store(inodeNumber, fc)
	return fc
}

// Get the buffer of an inode number.
func (cs *ContentStore) Get(inodeNumber uint64) (*FileContent, bool) {
	fc, ok := cs.contents.Load(inodeNumber)
	if !ok {
		return nil, false
	}
	return fc.(*FileContent), true
}

// Evict the buffer of an inode number. Callers that still hold a
// reference to the FileContent may continue to use it, but it is no
// longer reachable through the store.
func (cs *ContentStore) Evict(inodeNumber uint64) {
	cs.contents.Delete(inodeNumber)
}
