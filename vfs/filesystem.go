// Copyright (c) 2020 Siemens AG
//
// Permission is hereby granted, free of charge, to any person obtaining a copy of
// this software and associated documentation files (the "Software"), to deal in
// the Software without restriction, including without limitation the rights to
// use, copy, modify, merge, publish, distribute, sublicense, and/or sell copies of
// the Software, and to permit persons to whom the Software is furnished to do so,
// subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY, FITNESS
// FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE AUTHORS OR
// COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER LIABILITY, WHETHER
// IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM, OUT OF OR IN
// CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE SOFTWARE.
//
// Author(s): Jonas Plum

// Package vfs resolves composite inodes through registered drivers and
// maintains the browsable tree of directory entries of a case.
package vfs

import (
	"context"

	"github.com/pkg/errors"

	"github.com/forensicanalysis/evidencefs"
	"github.com/forensicanalysis/evidencefs/inode"
	"github.com/forensicanalysis/evidencefs/sqlitefs"
)

// FileSystem is the virtual filesystem of a single case.
type FileSystem struct {
	store     *evidencefs.Store
	drivers   *Registry
	spoolSize int64
}

// New creates a FileSystem over the store of a case.
func New(store *evidencefs.Store, drivers *Registry) *FileSystem {
	return &FileSystem{store: store, drivers: drivers, spoolSize: sqlitefs.DefaultSpoolSize}
}

// Case returns the case name.
func (fsys *FileSystem) Case() string {
	return fsys.store.Name()
}

func (fsys *FileSystem) Store() *evidencefs.Store {
	return fsys.store
}

func (fsys *FileSystem) Drivers() *Registry {
	return fsys.drivers
}

// SpoolSize is the amount of decoded data drivers keep in memory.
func (fsys *FileSystem) SpoolSize() int64 {
	return fsys.spoolSize
}

func (fsys *FileSystem) SetSpoolSize(size int64) {
	fsys.spoolSize = size
	fsys.store.Fs().SpoolSize = size
}

// Resolve opens an inode starting at the filesystem root.
func (fsys *FileSystem) Resolve(ctx context.Context, in inode.Inode) (File, error) {
	if in.Empty() {
		return nil, evidencefs.NewError(evidencefs.ErrBadArgument, "resolve", errors.New("empty inode"))
	}
	return fsys.ResolveFrom(ctx, nil, nil, in)
}

// ResolveFrom continues the resolution of prefix, already opened as
// parent, with the segments of rest. Resolving a|b from the root is the
// same as resolving b from the handle of a. ResolveFrom takes ownership of
// parent.
func (fsys *FileSystem) ResolveFrom(ctx context.Context, parent File, prefix, rest inode.Inode) (File, error) {
	current := parent
	address := prefix
	for _, segment := range rest {
		address = address.Append(segment)

		driver, ok := fsys.drivers.Lookup(segment.Specifier)
		if !ok {
			closeQuietly(current)
			return nil, evidencefs.NewError(evidencefs.ErrUnknownDriver, "resolve "+address.String(), nil)
		}

		next, err := driver.Open(ctx, fsys, current, address)
		if err != nil {
			closeQuietly(current)
			if errors.Is(err, evidencefs.ErrUnknownDriver) || errors.Is(err, evidencefs.ErrBadArgument) {
				return nil, errors.Wrapf(err, "resolve %s", address)
			}
			return nil, evidencefs.NewError(evidencefs.ErrNotFound, "resolve "+address.String(), err)
		}
		current = next
	}
	if current == nil {
		return nil, evidencefs.NewError(evidencefs.ErrBadArgument, "resolve", errors.New("empty inode"))
	}
	return current, nil
}

// Open opens a file by path or by inode. Directories can not be opened.
func (fsys *FileSystem) Open(ctx context.Context, path string, in inode.Inode) (File, error) {
	switch {
	case path == "" && in.Empty():
		return nil, evidencefs.NewError(evidencefs.ErrBadArgument, "open", errors.New("neither path nor inode given"))
	case in.Empty():
		entry, err := fsys.Lookup(ctx, path)
		if err != nil {
			return nil, err
		}
		if entry.IsDir() {
			return nil, evidencefs.NewError(evidencefs.ErrNotAFile, "open "+path, nil)
		}
		in = entry.Inode
	default:
		dir, err := fsys.isDirectoryInode(ctx, in)
		if err != nil {
			return nil, err
		}
		if dir {
			return nil, evidencefs.NewError(evidencefs.ErrNotAFile, "open "+in.String(), nil)
		}
	}
	return fsys.Resolve(ctx, in)
}

func closeQuietly(f File) {
	if f != nil {
		_ = f.Close()
	}
}
