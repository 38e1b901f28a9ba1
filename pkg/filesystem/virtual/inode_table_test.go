package virtual_test

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/buildbarn/bb-storage/pkg/filesystem"
	"github.com/buildbarn/bb-storage/pkg/filesystem/path"
	"github.com/stretchr/testify/require"
	"github.com/ubnt-intrepid/gist-fs/pkg/filesystem/virtual"
)

func newTestInodeTable() *virtual.InodeTable {
	return virtual.NewInodeTable(virtual.NewDirectoryAttributes(1000, 1000, time.Unix(1000, 0)))
}

func newTestFileAttributes(sizeBytes uint64) *virtual.Attributes {
	return virtual.NewRegularFileAttributes(1000, 1000, sizeBytes, time.Unix(1000, 0), time.Unix(2000, 0))
}

func TestInodeTableAllocateChild(t *testing.T) {
	it := newTestInodeTable()

	t.Run("Success", func(t *testing.T) {
		inodeNumber, s := it.AllocateChild(virtual.RootInodeNumber, path.MustNewComponent("a.txt"), newTestFileAttributes(2))
		require.Equal(t, virtual.StatusOK, s)
		require.Equal(t, uint64(2), inodeNumber)

		attributes, s := it.GetAttributes(inodeNumber)
		require.Equal(t, virtual.StatusOK, s)
		require.Equal(t, inodeNumber, attributes.GetInodeNumber())
		require.Equal(t, filesystem.FileTypeRegularFile, attributes.GetFileType())
		require.Equal(t, uint64(2), attributes.GetSizeBytes())
		require.Equal(t, virtual.Permissions(0o644), attributes.GetPermissions())
		require.Equal(t, uint32(1), attributes.GetLinkCount())

		count, ok := it.GetLookupCount(inodeNumber)
		require.True(t, ok)
		require.Equal(t, uint64(0), count)
	})

	t.Run("ParentNotFound", func(t *testing.T) {
		_, s := it.AllocateChild(12345, path.MustNewComponent("b.txt"), newTestFileAttributes(0))
		require.Equal(t, virtual.StatusErrNoEnt, s)
	})

	t.Run("ParentNotDirectory", func(t *testing.T) {
		_, s := it.AllocateChild(2, path.MustNewComponent("b.txt"), newTestFileAttributes(0))
		require.Equal(t, virtual.StatusErrNotDir, s)
	})

	t.Run("NameAlreadyExists", func(t *testing.T) {
		_, s := it.AllocateChild(virtual.RootInodeNumber, path.MustNewComponent("a.txt"), newTestFileAttributes(0))
		require.Equal(t, virtual.StatusErrExist, s)
	})

	t.Run("UnsupportedFileType", func(t *testing.T) {
		attributes := newTestFileAttributes(0).SetFileType(filesystem.FileTypeSymlink)
		_, s := it.AllocateChild(virtual.RootInodeNumber, path.MustNewComponent("link"), attributes)
		require.Equal(t, virtual.StatusErrNotSupported, s)

		// Failed allocations should not leave anything behind.
		_, s = it.Lookup(virtual.RootInodeNumber, path.MustNewComponent("link"))
		require.Equal(t, virtual.StatusErrNoEnt, s)
	})

	t.Run("FreshInodeNumbers", func(t *testing.T) {
		// Inode numbers are never reused, not even after the
		// inode they belonged to has been removed.
		inodeNumber, s := it.AllocateChild(virtual.RootInodeNumber, path.MustNewComponent("c.txt"), newTestFileAttributes(0))
		require.Equal(t, virtual.StatusOK, s)
		require.Equal(t, virtual.StatusOK, it.Remove(inodeNumber))

		newInodeNumber, s := it.AllocateChild(virtual.RootInodeNumber, path.MustNewComponent("c.txt"), newTestFileAttributes(0))
		require.Equal(t, virtual.StatusOK, s)
		require.Greater(t, newInodeNumber, inodeNumber)
	})
}

func TestInodeTableLookupAndForget(t *testing.T) {
	it := newTestInodeTable()
	inodeNumber, s := it.AllocateChild(virtual.RootInodeNumber, path.MustNewComponent("a.txt"), newTestFileAttributes(2))
	require.Equal(t, virtual.StatusOK, s)

	t.Run("LookupIncrements", func(t *testing.T) {
		for i := 0; i < 3; i++ {
			handle, s := it.Lookup(virtual.RootInodeNumber, path.MustNewComponent("a.txt"))
			require.Equal(t, virtual.StatusOK, s)
			require.Equal(t, inodeNumber, handle.GetInodeNumber())
		}
		count, _ := it.GetLookupCount(inodeNumber)
		require.Equal(t, uint64(3), count)
	})

	t.Run("GetDoesNotIncrement", func(t *testing.T) {
		handle, s := it.Get(inodeNumber)
		require.Equal(t, virtual.StatusOK, s)
		require.Equal(t, inodeNumber, handle.GetInodeNumber())
		count, _ := it.GetLookupCount(inodeNumber)
		require.Equal(t, uint64(3), count)
	})

	t.Run("ForgetFlooredAtZero", func(t *testing.T) {
		it.Forget(inodeNumber, 2)
		count, _ := it.GetLookupCount(inodeNumber)
		require.Equal(t, uint64(1), count)

		// Forgetting more references than were handed out
		// should not cause the count to wrap around.
		it.Forget(inodeNumber, 10)
		count, _ = it.GetLookupCount(inodeNumber)
		require.Equal(t, uint64(0), count)
	})

	t.Run("ForgetDoesNotRemove", func(t *testing.T) {
		_, s := it.Get(inodeNumber)
		require.Equal(t, virtual.StatusOK, s)
	})

	t.Run("ForgetUnknownInode", func(t *testing.T) {
		it.Forget(12345, 1)
	})

	t.Run("LookupMissingChild", func(t *testing.T) {
		_, s := it.Lookup(virtual.RootInodeNumber, path.MustNewComponent("missing"))
		require.Equal(t, virtual.StatusErrNoEnt, s)
	})

	t.Run("LookupInFile", func(t *testing.T) {
		_, s := it.Lookup(inodeNumber, path.MustNewComponent("child"))
		require.Equal(t, virtual.StatusErrNotDir, s)
	})
}

func TestInodeTableLookupCountNeverNegative(t *testing.T) {
	// Run a random looking, but deterministic, sequence of
	// allocations, lookups and forgets and track the expected
	// lookup count of every inode.
	it := newTestInodeTable()
	expected := map[uint64]uint64{}
	var inodeNumbers []uint64
	for step := 0; step < 500; step++ {
		switch step % 7 {
		case 0:
			inodeNumber, s := it.AllocateChild(virtual.RootInodeNumber, path.MustNewComponent(fmt.Sprintf("file%d", step)), newTestFileAttributes(0))
			require.Equal(t, virtual.StatusOK, s)
			inodeNumbers = append(inodeNumbers, inodeNumber)
			expected[inodeNumber] = 0
		case 1, 2, 4:
			inodeNumber := inodeNumbers[step%len(inodeNumbers)]
			handle, s := it.Lookup(virtual.RootInodeNumber, path.MustNewComponent(fmt.Sprintf("file%d", 7*(step%len(inodeNumbers)))))
			require.Equal(t, virtual.StatusOK, s)
			require.Equal(t, inodeNumber, handle.GetInodeNumber())
			expected[inodeNumber]++
		default:
			inodeNumber := inodeNumbers[(step*3)%len(inodeNumbers)]
			count := uint64(step % 4)
			it.Forget(inodeNumber, count)
			if expected[inodeNumber] > count {
				expected[inodeNumber] -= count
			} else {
				expected[inodeNumber] = 0
			}
		}
		for inodeNumber, count := range expected {
			actual, ok := it.GetLookupCount(inodeNumber)
			require.True(t, ok)
			require.Equal(t, count, actual)
		}
	}
}

func TestInodeTableConcurrentLookupAndForget(t *testing.T) {
	it := newTestInodeTable()
	inodeNumber, s := it.AllocateChild(virtual.RootInodeNumber, path.MustNewComponent("a.txt"), newTestFileAttributes(0))
	require.Equal(t, virtual.StatusOK, s)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				it.Lookup(virtual.RootInodeNumber, path.MustNewComponent("a.txt"))
			}
		}()
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				it.Forget(inodeNumber, 1)
			}
		}()
	}
	wg.Wait()

	// Forgets may have been floored, so the count can be anywhere
	// between zero and the total number of lookups.
	count, ok := it.GetLookupCount(inodeNumber)
	require.True(t, ok)
	require.LessOrEqual(t, count, uint64(800))
}

func TestInodeTableRemove(t *testing.T) {
	it := newTestInodeTable()
	var removals []string
	it.RegisterRemovalNotifier(func(parent uint64, name path.Component) {
		removals = append(removals, fmt.Sprintf("%d/%s", parent, name.String()))
	})

	inodeNumber, s := it.AllocateChild(virtual.RootInodeNumber, path.MustNewComponent("a.txt"), newTestFileAttributes(2))
	require.Equal(t, virtual.StatusOK, s)
	handle, s := it.Lookup(virtual.RootInodeNumber, path.MustNewComponent("a.txt"))
	require.Equal(t, virtual.StatusOK, s)

	t.Run("Success", func(t *testing.T) {
		// Removal happens regardless of the lookup count.
		require.Equal(t, virtual.StatusOK, it.Remove(inodeNumber))
		require.Equal(t, []string{"1/a.txt"}, removals)

		_, s := it.Get(inodeNumber)
		require.Equal(t, virtual.StatusErrNoEnt, s)
		_, s = it.Lookup(virtual.RootInodeNumber, path.MustNewComponent("a.txt"))
		require.Equal(t, virtual.StatusErrNoEnt, s)
		_, ok := it.GetLookupCount(inodeNumber)
		require.False(t, ok)
	})

	t.Run("StaleHandle", func(t *testing.T) {
		_, s := handle.GetAttributes()
		require.Equal(t, virtual.StatusErrNoEnt, s)
		_, s = handle.SetAttributes(func(attributes *virtual.Attributes) virtual.Status {
			attributes.SetSizeBytes(10)
			return virtual.StatusOK
		})
		require.Equal(t, virtual.StatusErrNoEnt, s)
	})

	t.Run("AlreadyRemoved", func(t *testing.T) {
		require.Equal(t, virtual.StatusErrNoEnt, it.Remove(inodeNumber))
	})

	t.Run("Root", func(t *testing.T) {
		require.Equal(t, virtual.StatusErrPerm, it.Remove(virtual.RootInodeNumber))
	})

	t.Run("NonEmptyDirectory", func(t *testing.T) {
		directory, s := it.AllocateChild(virtual.RootInodeNumber, path.MustNewComponent("dir"), virtual.NewDirectoryAttributes(1000, 1000, time.Unix(1000, 0)))
		require.Equal(t, virtual.StatusOK, s)
		child, s := it.AllocateChild(directory, path.MustNewComponent("file"), newTestFileAttributes(0))
		require.Equal(t, virtual.StatusOK, s)

		require.Equal(t, virtual.StatusErrNotEmpty, it.Remove(directory))
		require.Equal(t, virtual.StatusOK, it.Remove(child))
		require.Equal(t, virtual.StatusOK, it.Remove(directory))
	})
}

func TestInodeTableSetAttributes(t *testing.T) {
	it := newTestInodeTable()
	inodeNumber, s := it.AllocateChild(virtual.RootInodeNumber, path.MustNewComponent("a.txt"), newTestFileAttributes(2))
	require.Equal(t, virtual.StatusOK, s)

	t.Run("RegularFile", func(t *testing.T) {
		attributes, s := it.SetAttributes(inodeNumber, func(attributes *virtual.Attributes) virtual.Status {
			attributes.
				SetPermissions(0o600).
				SetSizeBytes(5).
				// Attempts to change the file type are ignored.
				SetFileType(filesystem.FileTypeDirectory)
			return virtual.StatusOK
		})
		require.Equal(t, virtual.StatusOK, s)
		require.Equal(t, virtual.Permissions(0o600), attributes.GetPermissions())
		require.Equal(t, uint64(5), attributes.GetSizeBytes())
		require.Equal(t, filesystem.FileTypeRegularFile, attributes.GetFileType())
		require.Equal(t, inodeNumber, attributes.GetInodeNumber())
	})

	t.Run("MutateFailure", func(t *testing.T) {
		_, s := it.SetAttributes(inodeNumber, func(attributes *virtual.Attributes) virtual.Status {
			attributes.SetSizeBytes(100)
			return virtual.StatusErrFBig
		})
		require.Equal(t, virtual.StatusErrFBig, s)

		attributes, s := it.GetAttributes(inodeNumber)
		require.Equal(t, virtual.StatusOK, s)
		require.Equal(t, uint64(5), attributes.GetSizeBytes())
	})

	t.Run("RootTimestamps", func(t *testing.T) {
		attributes, s := it.SetAttributes(virtual.RootInodeNumber, func(attributes *virtual.Attributes) virtual.Status {
			attributes.SetTimes(time.Unix(3000, 0), time.Unix(3000, 0), time.Unix(3000, 0))
			return virtual.StatusOK
		})
		require.Equal(t, virtual.StatusOK, s)
		require.Equal(t, time.Unix(3000, 0), attributes.GetLastDataModificationTime())
	})

	t.Run("RootPermissions", func(t *testing.T) {
		_, s := it.SetAttributes(virtual.RootInodeNumber, func(attributes *virtual.Attributes) virtual.Status {
			attributes.SetPermissions(0o777)
			return virtual.StatusOK
		})
		require.Equal(t, virtual.StatusErrPerm, s)

		attributes, s := it.GetAttributes(virtual.RootInodeNumber)
		require.Equal(t, virtual.StatusOK, s)
		require.Equal(t, virtual.Permissions(0o755), attributes.GetPermissions())
	})

	t.Run("Concurrent", func(t *testing.T) {
		// Concurrent increments must not be lost.
		var wg sync.WaitGroup
		for i := 0; i < 10; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for j := 0; j < 100; j++ {
					it.SetAttributes(inodeNumber, func(attributes *virtual.Attributes) virtual.Status {
						attributes.SetSizeBytes(attributes.GetSizeBytes() + 1)
						return virtual.StatusOK
					})
				}
			}()
		}
		wg.Wait()

		attributes, s := it.GetAttributes(inodeNumber)
		require.Equal(t, virtual.StatusOK, s)
		require.Equal(t, uint64(1005), attributes.GetSizeBytes())
	})
}

func readAllEntries(t *testing.T, it *virtual.InodeTable, inodeNumber, sizeBudget uint64) []virtual.DirectoryEntry {
	var all []virtual.DirectoryEntry
	cookie := uint64(0)
	for {
		entries, s := it.ReadDir(inodeNumber, cookie, sizeBudget)
		require.Equal(t, virtual.StatusOK, s)
		if len(entries) == 0 {
			return all
		}
		all = append(all, entries...)
		cookie = entries[len(entries)-1].Cookie
	}
}

func TestInodeTableReadDir(t *testing.T) {
	it := newTestInodeTable()
	var names []string
	for i := 0; i < 20; i++ {
		name := fmt.Sprintf("file-with-a-longer-name-%d.txt", i)
		_, s := it.AllocateChild(virtual.RootInodeNumber, path.MustNewComponent(name), newTestFileAttributes(0))
		require.Equal(t, virtual.StatusOK, s)
		names = append(names, name)
	}
	// Remove a couple of entries, so that the cookies contain gaps.
	for _, name := range []string{"file-with-a-longer-name-3.txt", "file-with-a-longer-name-11.txt"} {
		handle, s := it.Lookup(virtual.RootInodeNumber, path.MustNewComponent(name))
		require.Equal(t, virtual.StatusOK, s)
		require.Equal(t, virtual.StatusOK, it.Remove(handle.GetInodeNumber()))
	}
	expectedNames := []string{".", ".."}
	for _, name := range names {
		if name != "file-with-a-longer-name-3.txt" && name != "file-with-a-longer-name-11.txt" {
			expectedNames = append(expectedNames, name)
		}
	}

	t.Run("SyntheticEntries", func(t *testing.T) {
		entries, s := it.ReadDir(virtual.RootInodeNumber, 0, 4096)
		require.Equal(t, virtual.StatusOK, s)
		require.Equal(t, virtual.DirectoryEntry{
			Cookie:      1,
			Name:        ".",
			InodeNumber: virtual.RootInodeNumber,
			FileType:    filesystem.FileTypeDirectory,
		}, entries[0])
		require.Equal(t, virtual.DirectoryEntry{
			Cookie:      2,
			Name:        "..",
			InodeNumber: virtual.RootInodeNumber,
			FileType:    filesystem.FileTypeDirectory,
		}, entries[1])
		require.Equal(t, uint64(3), entries[2].Cookie)
		require.Equal(t, "file-with-a-longer-name-0.txt", entries[2].Name)
		require.Equal(t, filesystem.FileTypeRegularFile, entries[2].FileType)
		require.NotNil(t, entries[2].Attributes)
	})

	t.Run("PaginationCompleteAndDuplicateFree", func(t *testing.T) {
		// Every budget of at least one entry should yield the
		// full listing exactly once.
		minimumBudget := virtual.DirectoryEntrySizeBytes("file-with-a-longer-name-10.txt")
		for sizeBudget := minimumBudget; sizeBudget < 2000; sizeBudget += 13 {
			entries := readAllEntries(t, it, virtual.RootInodeNumber, sizeBudget)
			var actualNames []string
			seenCookies := map[uint64]bool{}
			for _, entry := range entries {
				require.False(t, seenCookies[entry.Cookie])
				seenCookies[entry.Cookie] = true
				actualNames = append(actualNames, entry.Name)
			}
			require.Equal(t, expectedNames, actualNames, "Size budget %d", sizeBudget)
		}
	})

	t.Run("RespectsBudget", func(t *testing.T) {
		entries, s := it.ReadDir(virtual.RootInodeNumber, 0, 100)
		require.Equal(t, virtual.StatusOK, s)
		total := uint64(0)
		for _, entry := range entries {
			total += virtual.DirectoryEntrySizeBytes(entry.Name)
		}
		require.LessOrEqual(t, total, uint64(100))
		// "." and ".." take up 32 bytes each. The next entry
		// needs 56 bytes and no longer fits.
		require.Len(t, entries, 2)
	})

	t.Run("BudgetTooSmall", func(t *testing.T) {
		entries, s := it.ReadDir(virtual.RootInodeNumber, 0, 16)
		require.Equal(t, virtual.StatusOK, s)
		require.Empty(t, entries)
	})

	t.Run("ResumeAfterRemovedCookie", func(t *testing.T) {
		// Resuming at the cookie of an entry that has since
		// been removed continues with the next entry.
		entries, s := it.ReadDir(virtual.RootInodeNumber, 6, 4096)
		require.Equal(t, virtual.StatusOK, s)
		require.Equal(t, "file-with-a-longer-name-4.txt", entries[0].Name)
		require.Equal(t, uint64(7), entries[0].Cookie)
	})

	t.Run("NotFound", func(t *testing.T) {
		_, s := it.ReadDir(12345, 0, 4096)
		require.Equal(t, virtual.StatusErrNoEnt, s)
	})

	t.Run("NotDirectory", func(t *testing.T) {
		_, s := it.ReadDir(2, 0, 4096)
		require.Equal(t, virtual.StatusErrNotDir, s)
	})
}

func TestInodeTableReadDirPlus(t *testing.T) {
	it := newTestInodeTable()
	a, s := it.AllocateChild(virtual.RootInodeNumber, path.MustNewComponent("a"), newTestFileAttributes(0))
	require.Equal(t, virtual.StatusOK, s)
	b, s := it.AllocateChild(virtual.RootInodeNumber, path.MustNewComponent("b"), newTestFileAttributes(0))
	require.Equal(t, virtual.StatusOK, s)

	// "." and ".." plus "a" fit, but "b" does not.
	sizeBudget := 2*virtual.DirectoryEntryPlusSizeBytes("..") + virtual.DirectoryEntryPlusSizeBytes("a")
	entries, s := it.ReadDirPlus(virtual.RootInodeNumber, 0, sizeBudget)
	require.Equal(t, virtual.StatusOK, s)
	require.Len(t, entries, 3)
	require.Equal(t, "a", entries[2].Name)

	// Children returned by READDIRPLUS count as looked up.
	count, _ := it.GetLookupCount(a)
	require.Equal(t, uint64(1), count)
	count, _ = it.GetLookupCount(b)
	require.Equal(t, uint64(0), count)

	entries, s = it.ReadDirPlus(virtual.RootInodeNumber, entries[2].Cookie, sizeBudget)
	require.Equal(t, virtual.StatusOK, s)
	require.Len(t, entries, 1)
	require.Equal(t, "b", entries[0].Name)
	count, _ = it.GetLookupCount(b)
	require.Equal(t, uint64(1), count)
}

func TestInodeTableApply(t *testing.T) {
	it := newTestInodeTable()
	a, s := it.AllocateChild(virtual.RootInodeNumber, path.MustNewComponent("a"), newTestFileAttributes(0))
	require.Equal(t, virtual.StatusOK, s)

	var removals []string
	it.RegisterRemovalNotifier(func(parent uint64, name path.Component) {
		// Notifiers run after the structural lock is released,
		// meaning that it is safe to access the table.
		_, s := it.Lookup(virtual.RootInodeNumber, path.MustNewComponent("b"))
		require.Equal(t, virtual.StatusOK, s)
		removals = append(removals, name.String())
	})

	var b uint64
	it.Apply(func(tx *virtual.InodeTableTransaction) {
		var s virtual.Status
		b, s = tx.AllocateChild(virtual.RootInodeNumber, path.MustNewComponent("b"), newTestFileAttributes(0))
		require.Equal(t, virtual.StatusOK, s)
		require.Equal(t, virtual.StatusOK, tx.Remove(a))
		require.Empty(t, removals)
	})
	require.Equal(t, []string{"a"}, removals)

	entries, s := it.ReadDir(virtual.RootInodeNumber, 2, 4096)
	require.Equal(t, virtual.StatusOK, s)
	require.Equal(t, []virtual.DirectoryEntry{{
		Cookie:      4,
		Name:        "b",
		InodeNumber: b,
		FileType:    filesystem.FileTypeRegularFile,
		Attributes:  entries[0].Attributes,
	}}, entries)
}
