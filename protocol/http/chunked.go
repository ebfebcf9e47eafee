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

package http

import (
	"bufio"
	"io"
	"strings"
)

type chunkedReader struct {
	r         *bufio.Reader
	remaining int64
	done      bool
}

// Dechunk decodes a chunked transfer encoded body. Decoding stops at the
// zero size chunk or at the first malformed size line, data decoded so far
// is returned in both cases.
func Dechunk(r io.Reader) io.Reader {
	return &chunkedReader{r: bufio.NewReader(r)}
}

func (c *chunkedReader) Read(p []byte) (int, error) {
	for c.remaining == 0 {
		if c.done {
			return 0, io.EOF
		}
		if err := c.next(); err != nil {
			return 0, err
		}
	}

	if int64(len(p)) > c.remaining {
		p = p[:c.remaining]
	}
	n, err := c.r.Read(p)
	c.remaining -= int64(n)
	if err == io.EOF {
		c.done = true
		c.remaining = 0
		if n > 0 {
			err = nil
		}
	}
	if c.remaining == 0 && !c.done {
		c.skipDelimiter()
	}
	return n, err
}

func (c *chunkedReader) next() error {
	line, err := c.r.ReadString('\n')
	if err != nil && err != io.EOF {
		return err
	}
	size, ok := chunkSize(strings.TrimRight(line, "\r\n"))
	if !ok || size == 0 {
		c.done = true
		return nil
	}
	c.remaining = size
	if err == io.EOF {
		c.done = true
	}
	return nil
}

func (c *chunkedReader) skipDelimiter() {
	b, err := c.r.Peek(1)
	if err == nil && b[0] == '\r' {
		_, _ = c.r.Discard(1)
		b, err = c.r.Peek(1)
	}
	if err == nil && b[0] == '\n' {
		_, _ = c.r.Discard(1)
	}
}
