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

package vfs

import (
	"context"
	"io"

	"github.com/hashicorp/go-multierror"

	"github.com/forensicanalysis/evidencefs/inode"
	"github.com/forensicanalysis/evidencefs/sqlitefs/spooled"
)

// File is an open handle on a resolved inode. All handles support random
// access, decoded content is spooled first.
type File interface {
	io.Reader
	io.ReaderAt
	io.Seeker
	io.Closer
	Size() int64
	Inode() inode.Inode
}

type sectionFile struct {
	*io.SectionReader
	in      inode.Inode
	closers []io.Closer
}

// NewFile serves size bytes of r as File. The closers are closed with the
// file in reverse order.
func NewFile(in inode.Inode, r io.ReaderAt, size int64, closers ...io.Closer) File {
	return &sectionFile{SectionReader: io.NewSectionReader(r, 0, size), in: in, closers: closers}
}

func (f *sectionFile) Inode() inode.Inode {
	return f.in
}

func (f *sectionFile) Close() error {
	var result error
	for i := len(f.closers) - 1; i >= 0; i-- {
		if f.closers[i] == nil {
			continue
		}
		if err := f.closers[i].Close(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	f.closers = nil
	return result
}

type closerFunc func() error

func (c closerFunc) Close() error {
	return c()
}

// Spool copies src into a temporary file and serves it as File. Up to
// spoolSize bytes are kept in memory. An error from src is returned with
// the spooled prefix when allowPartial is set, truncated compressed
// input still yields the decodable data.
func Spool(ctx context.Context, in inode.Inode, src io.Reader, spoolSize int64, allowPartial bool, closers ...io.Closer) (File, error) {
	tmp, cleanup := spooled.New(spoolSize)
	_, err := io.Copy(tmp, &contextReader{ctx: ctx, r: src})
	if err != nil && !(allowPartial && ctx.Err() == nil) {
		_ = cleanup()
		return nil, err
	}
	return NewFile(in, tmp, tmp.Size(), append(closers, closerFunc(cleanup))...), nil
}

type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *contextReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
