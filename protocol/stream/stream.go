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

// Package stream reads lines from a reassembled connection stream while
// keeping track of the absolute offset of every byte.
package stream

import (
	"bufio"
	"bytes"
	"io"
)

// Reader is a buffered line reader over a seekable stream.
type Reader struct {
	src    io.ReadSeeker
	r      *bufio.Reader
	offset int64
}

// NewReader starts reading at the current position of src.
func NewReader(src io.ReadSeeker) (*Reader, error) {
	offset, err := src.Seek(0, io.SeekCurrent)
	if err != nil {
		return nil, err
	}
	return &Reader{src: src, r: bufio.NewReader(src), offset: offset}, nil
}

// Offset is the position of the next byte to be read.
func (r *Reader) Offset() int64 {
	return r.offset
}

// MaxLineLength bounds the lines returned by ReadLine. Longer lines are
// truncated, the rest of the line is skipped.
const MaxLineLength = 64 * 1024

// ReadLine returns the next line without its line ending. A last line
// without line ending is returned as is, afterwards io.EOF.
func (r *Reader) ReadLine() (string, error) {
	var line []byte
	read := 0
	for {
		chunk, err := r.r.ReadSlice('\n')
		read += len(chunk)
		if room := MaxLineLength - len(line); room > 0 {
			if len(chunk) > room {
				chunk = chunk[:room]
			}
			line = append(line, chunk...)
		}
		if err == bufio.ErrBufferFull {
			continue
		}
		r.offset += int64(read)
		if err == io.EOF && read > 0 {
			err = nil
		}
		if err != nil {
			return "", err
		}
		break
	}
	line = bytes.TrimSuffix(line, []byte("\n"))
	line = bytes.TrimSuffix(line, []byte("\r"))
	return string(line), nil
}

// Peek returns up to n bytes without advancing.
func (r *Reader) Peek(n int) ([]byte, error) {
	b, err := r.r.Peek(n)
	if err == io.EOF || err == bufio.ErrBufferFull {
		err = nil
	}
	return b, err
}

func (r *Reader) Read(p []byte) (int, error) {
	n, err := r.r.Read(p)
	r.offset += int64(n)
	return n, err
}

// Discard skips n bytes. It returns the number of bytes skipped, fewer
// than n only at the end of the stream.
func (r *Reader) Discard(n int64) (int64, error) {
	skipped, err := io.CopyN(io.Discard, r, n)
	if err == io.EOF {
		err = nil
	}
	return skipped, err
}

// ReadN reads up to n bytes.
func (r *Reader) ReadN(n int64) ([]byte, error) {
	var buf bytes.Buffer
	_, err := io.CopyN(&buf, r, n)
	if err == io.EOF {
		err = nil
	}
	return buf.Bytes(), err
}

// Seek moves to an absolute offset.
func (r *Reader) Seek(offset int64) error {
	if _, err := r.src.Seek(offset, io.SeekStart); err != nil {
		return err
	}
	r.r.Reset(r.src)
	r.offset = offset
	return nil
}
