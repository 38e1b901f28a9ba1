//go:build darwin || linux
// +build darwin linux

package fuse

import (
	"time"

	"github.com/hanwen/go-fuse/v2/fuse"
)

type defaultAttributesInjectingRawFileSystem struct {
	fuse.RawFileSystem

	attrOut  fuse.AttrOut
	entryOut fuse.EntryOut
}

// NewDefaultAttributesInjectingRawFileSystem creates a decorator for
// RawFileSystem that places default values into AttrOut and EntryOut
// structures before they are passed on to FUSE operations. This means
// their values are only retained if the underlying implementation
// doesn't fill in values explicitly.
//
// This is used to announce how long the kernel may cache directory
// entries and inode attributes. Entries returned by READDIRPLUS are
// not affected, as go-fuse does not permit intercepting them. These
// are announced without any validity, causing the kernel to issue a
// LOOKUP when they are used.
func NewDefaultAttributesInjectingRawFileSystem(base fuse.RawFileSystem, entryValid, attrValid time.Duration) fuse.RawFileSystem {
	rfs := &defaultAttributesInjectingRawFileSystem{
		RawFileSystem: base,
	}
	rfs.attrOut.SetTimeout(attrValid)
	rfs.entryOut.SetEntryTimeout(entryValid)
	rfs.entryOut.SetAttrTimeout(attrValid)
	return rfs
}

func (rfs *defaultAttributesInjectingRawFileSystem) Lookup(cancel <-chan struct{}, header *fuse.InHeader, name string, out *fuse.EntryOut) fuse.Status {
	*out = rfs.entryOut
	return rfs.RawFileSystem.Lookup(cancel, header, name, out)
}

func (rfs *defaultAttributesInjectingRawFileSystem) GetAttr(cancel <-chan struct{}, input *fuse.GetAttrIn, out *fuse.AttrOut) fuse.Status {
	*out = rfs.attrOut
	return rfs.RawFileSystem.GetAttr(cancel, input, out)
}

func (rfs *defaultAttributesInjectingRawFileSystem) SetAttr(cancel <-chan struct{}, input *fuse.SetAttrIn, out *fuse.AttrOut) fuse.Status {
	*out = rfs.attrOut
	return rfs.RawFileSystem.SetAttr(cancel, input, out)
}

func (rfs *defaultAttributesInjectingRawFileSystem) Mknod(cancel <-chan struct{}, input *fuse.MknodIn, name string, out *fuse.EntryOut) fuse.Status {
	*out = rfs.entryOut
	return rfs.RawFileSystem.Mknod(cancel, input, name, out)
}

func (rfs *defaultAttributesInjectingRawFileSystem) Mkdir(cancel <-chan struct{}, input *fuse.MkdirIn, name string, out *fuse.EntryOut) fuse.Status {
	*out = rfs.entryOut
	return rfs.RawFileSystem.Mkdir(cancel, input, name, out)
}

func (rfs *defaultAttributesInjectingRawFileSystem) Link(cancel <-chan struct{}, input *fuse.LinkIn, filename string, out *fuse.EntryOut) fuse.Status {
	*out = rfs.entryOut
	return rfs.RawFileSystem.Link(cancel, input, filename, out)
}

func (rfs *defaultAttributesInjectingRawFileSystem) Symlink(cancel <-chan struct{}, header *fuse.InHeader, pointedTo, linkName string, out *fuse.EntryOut) fuse.Status {
	*out = rfs.entryOut
	return rfs.RawFileSystem.Symlink(cancel, header, pointedTo, linkName, out)
}

func (rfs *defaultAttributesInjectingRawFileSystem) Create(cancel <-chan struct{}, input *fuse.CreateIn, name string, out *fuse.CreateOut) fuse.Status {
	out.EntryOut = rfs.entryOut
	return rfs.RawFileSystem.Create(cancel, input, name, out)
}
