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

// Package drivers contains the inode drivers of evidencefs.
//
//	D<n>          evidence blob n of the case
//	o<off>:<len>  byte range of the parent
//	c<n>          chunked transfer decoding
//	G<n>          gzip decoding
//	L<n>          lz4 decoding
//	Z<n>          n-th member of a zip archive
//	m<n>          n-th leaf part of a mail message
//	t<table>:<keycol>:<keyval>[:<valcol>]  a row of a case table
package drivers

import (
	"context"
	"io"

	"github.com/pkg/errors"

	"github.com/forensicanalysis/evidencefs"
	"github.com/forensicanalysis/evidencefs/inode"
	"github.com/forensicanalysis/evidencefs/vfs"
)

// Register adds all drivers of this package to reg.
func Register(reg *vfs.Registry) error {
	drivers := map[byte]vfs.Driver{
		'D': vfs.DriverFunc(openBlob),
		'o': vfs.DriverFunc(openRange),
		'c': vfs.DriverFunc(openChunked),
		'G': vfs.DriverFunc(openGzip),
		'L': vfs.DriverFunc(openLZ4),
		'Z': vfs.DriverFunc(openZip),
		'm': vfs.DriverFunc(openPart),
		't': vfs.DriverFunc(openTable),
	}
	for _, specifier := range []byte("DocGLZmt") {
		if err := reg.Register(specifier, drivers[specifier]); err != nil {
			return err
		}
	}
	return nil
}

// NewRegistry returns a registry with all drivers registered.
func NewRegistry() *vfs.Registry {
	reg := vfs.NewRegistry()
	if err := Register(reg); err != nil {
		panic(err)
	}
	return reg
}

func openBlob(_ context.Context, fsys *vfs.FileSystem, parent vfs.File, address inode.Inode) (vfs.File, error) {
	if parent != nil {
		return nil, evidencefs.NewError(evidencefs.ErrBadArgument, "open "+address.String(), errors.New("D must be the first segment"))
	}
	id, err := address.Last().Int()
	if err != nil {
		return nil, evidencefs.NewError(evidencefs.ErrBadArgument, "open "+address.String(), err)
	}

	f, err := fsys.Store().Fs().OpenID(id)
	if err != nil {
		return nil, errors.Wrapf(err, "evidence blob %d", id)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	return vfs.NewFile(address, f, info.Size(), f), nil
}

func openRange(_ context.Context, _ *vfs.FileSystem, parent vfs.File, address inode.Inode) (vfs.File, error) {
	if err := needParent(parent, address); err != nil {
		return nil, err
	}
	offset, length, err := address.Last().Range()
	if err != nil {
		return nil, evidencefs.NewError(evidencefs.ErrBadArgument, "open "+address.String(), err)
	}

	size := parent.Size()
	if offset > size {
		offset = size
	}
	if length > size-offset {
		length = size - offset
	}
	return vfs.NewFile(address, io.NewSectionReader(parent, offset, length), length, parent), nil
}

func needParent(parent vfs.File, address inode.Inode) error {
	if parent == nil {
		return evidencefs.NewError(evidencefs.ErrBadArgument, "open "+address.String(), errors.Errorf("%c needs a parent", address.Last().Specifier))
	}
	return nil
}

// content reads the parent from its start.
func content(parent vfs.File) io.Reader {
	return io.NewSectionReader(parent, 0, parent.Size())
}

// spool decodes the parent into a spooled file. The parent is closed once
// the decoded data is complete.
func spool(ctx context.Context, fsys *vfs.FileSystem, parent vfs.File, address inode.Inode, r io.Reader) (vfs.File, error) {
	f, err := vfs.Spool(ctx, address, r, fsys.SpoolSize(), true)
	if err != nil {
		return nil, err
	}
	_ = parent.Close()
	return f, nil
}
