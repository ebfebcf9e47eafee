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

package drivers

import (
	"context"

	"github.com/klauspost/compress/gzip"
	"github.com/pierrec/lz4/v4"
	"github.com/pkg/errors"

	"github.com/forensicanalysis/evidencefs/inode"
	"github.com/forensicanalysis/evidencefs/protocol/http"
	"github.com/forensicanalysis/evidencefs/vfs"
)

func openChunked(ctx context.Context, fsys *vfs.FileSystem, parent vfs.File, address inode.Inode) (vfs.File, error) {
	if err := needParent(parent, address); err != nil {
		return nil, err
	}
	return spool(ctx, fsys, parent, address, http.Dechunk(content(parent)))
}

func openGzip(ctx context.Context, fsys *vfs.FileSystem, parent vfs.File, address inode.Inode) (vfs.File, error) {
	if err := needParent(parent, address); err != nil {
		return nil, err
	}
	zr, err := gzip.NewReader(content(parent))
	if err != nil {
		return nil, errors.Wrap(err, "gzip header")
	}
	defer zr.Close()
	return spool(ctx, fsys, parent, address, zr)
}

func openLZ4(ctx context.Context, fsys *vfs.FileSystem, parent vfs.File, address inode.Inode) (vfs.File, error) {
	if err := needParent(parent, address); err != nil {
		return nil, err
	}
	return spool(ctx, fsys, parent, address, lz4.NewReader(content(parent)))
}
