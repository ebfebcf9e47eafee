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
	"bytes"
	"context"
	"io"
	"os"

	"github.com/klauspost/compress/zip"
	"github.com/mholt/archiver/v3"
	"github.com/pkg/errors"

	"github.com/forensicanalysis/evidencefs/inode"
	"github.com/forensicanalysis/evidencefs/protocol/rfc2822"
	"github.com/forensicanalysis/evidencefs/vfs"
)

// errStop ends a WalkZip early without error.
var errStop = errors.New("stop")

// ZipMember is a member of a zip archive as seen by WalkZip.
type ZipMember struct {
	Index int
	Name  string
	Info  os.FileInfo
	io.Reader
}

// WalkZip calls fn for every member of the zip archive in r in central
// directory order. The member index is the payload of the Z driver.
// Members that can not be opened are skipped.
func WalkZip(r io.ReaderAt, size int64, fn func(*ZipMember) error) error {
	z := archiver.NewZip()
	if err := z.Open(io.NewSectionReader(r, 0, size), size); err != nil {
		return errors.Wrap(err, "open zip")
	}
	defer z.Close()

	for index := 0; ; index++ {
		f, err := z.Read()
		if err == io.EOF {
			return nil
		}
		if err != nil || f.ReadCloser == nil {
			continue
		}

		member := &ZipMember{Index: index, Name: memberName(f), Info: f.FileInfo, Reader: f}
		err = fn(member)
		_ = f.Close()
		if err == errStop {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

func memberName(f archiver.File) string {
	switch h := f.Header.(type) {
	case zip.FileHeader:
		return h.Name
	case *zip.FileHeader:
		return h.Name
	}
	return f.Name()
}

func openZip(ctx context.Context, fsys *vfs.FileSystem, parent vfs.File, address inode.Inode) (vfs.File, error) {
	if err := needParent(parent, address); err != nil {
		return nil, err
	}
	n, err := address.Last().Int()
	if err != nil {
		return nil, err
	}

	var f vfs.File
	err = WalkZip(parent, parent.Size(), func(member *ZipMember) error {
		if int64(member.Index) != n {
			return nil
		}
		if member.Info.IsDir() {
			return errors.Errorf("zip member %s is a directory", member.Name)
		}
		var err error
		f, err = vfs.Spool(ctx, address, member, fsys.SpoolSize(), false)
		if err != nil {
			return err
		}
		return errStop
	})
	if err != nil {
		return nil, err
	}
	if f == nil {
		return nil, errors.Errorf("zip has no member %d", n)
	}
	_ = parent.Close()
	return f, nil
}

func openPart(_ context.Context, _ *vfs.FileSystem, parent vfs.File, address inode.Inode) (vfs.File, error) {
	if err := needParent(parent, address); err != nil {
		return nil, err
	}
	n, err := address.Last().Int()
	if err != nil {
		return nil, err
	}

	part, err := rfc2822.NthPart(content(parent), int(n))
	if err != nil {
		return nil, err
	}
	_ = parent.Close()
	return vfs.NewFile(address, bytes.NewReader(part.Content), int64(len(part.Content))), nil
}
