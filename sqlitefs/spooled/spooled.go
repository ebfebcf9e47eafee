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

// Package spooled provides a temporary file that is kept in memory until it
// grows beyond a limit and is then moved to disk. Once written it can be
// read sequentially or at random offsets.
package spooled

import (
	"bytes"
	"io"
	"os"

	"github.com/pkg/errors"
)

type TemporaryFile struct {
	size       int64
	maxSize    int64
	offset     int64
	buffer     *bytes.Buffer
	tempFile   *os.File
	rolledOver bool
}

// New creates a TemporaryFile that rolls over to disk after maxSize bytes.
func New(maxSize int64) (*TemporaryFile, func() error) {
	t := &TemporaryFile{buffer: &bytes.Buffer{}, maxSize: maxSize}
	return t, t.Close
}

func (t *TemporaryFile) Read(p []byte) (n int, err error) {
	n, err = t.ReadAt(p, t.offset)
	t.offset += int64(n)
	if n > 0 && err == io.EOF {
		err = nil
	}
	return n, err
}

func (t *TemporaryFile) ReadAt(p []byte, off int64) (n int, err error) {
	if off < 0 {
		return 0, errors.New("negative offset")
	}
	if t.rolledOver {
		return t.tempFile.ReadAt(p, off)
	}
	b := t.buffer.Bytes()
	if off >= int64(len(b)) {
		return 0, io.EOF
	}
	n = copy(p, b[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func (t *TemporaryFile) Seek(offset int64, whence int) (int64, error) {
	var abs int64
	switch whence {
	case io.SeekStart:
		abs = offset
	case io.SeekCurrent:
		abs = t.offset + offset
	case io.SeekEnd:
		abs = t.size + offset
	default:
		return 0, errors.New("invalid whence")
	}
	if abs < 0 {
		return 0, errors.New("negative position")
	}
	t.offset = abs
	return abs, nil
}

// Write appends to the file, writes never change the read offset.
func (t *TemporaryFile) Write(p []byte) (n int, err error) {
	if !t.rolledOver && t.size+int64(len(p)) > t.maxSize {
		if err := t.Rollover(); err != nil {
			return 0, err
		}
	}

	if t.rolledOver {
		n, err = t.tempFile.WriteAt(p, t.size)
	} else {
		n, err = t.buffer.Write(p)
	}
	t.size += int64(n)
	return n, err
}

func (t *TemporaryFile) Rollover() (err error) {
	t.tempFile, err = os.CreateTemp("", "evidencefs")
	if err != nil {
		return errors.Wrap(err, "could not create tmp file")
	}
	t.rolledOver = true
	_, err = io.Copy(t.tempFile, t.buffer)
	if err != nil {
		return errors.Wrap(err, "could not fill tmp file")
	}
	t.buffer = &bytes.Buffer{}
	return nil
}

func (t *TemporaryFile) Close() error {
	if t.rolledOver {
		err := t.tempFile.Close()
		if err != nil {
			return err
		}
		return os.Remove(t.tempFile.Name())
	}
	t.buffer.Reset()
	return nil
}

func (t *TemporaryFile) Size() int64 {
	return t.size
}
