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

// Package inode implements composite inodes. A composite inode addresses a
// file through any number of nested containers, e.g.
//
//	D12|Z3|m1
//
// is the first MIME part of the fourth member of the zip archive stored as
// evidence blob 12. Each segment starts with a single specifier character
// that selects the driver interpreting the rest of the segment.
package inode

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Delimiter separates the segments of a composite inode.
const Delimiter = "|"

// ErrMalformed is returned for empty inodes or empty segments.
var ErrMalformed = errors.New("malformed inode")

// Segment is a single address segment.
type Segment struct {
	Specifier byte
	Payload   string
}

// NewSegment parses the raw text of a single segment.
func NewSegment(raw string) (Segment, error) {
	if raw == "" {
		return Segment{}, errors.Wrap(ErrMalformed, "empty segment")
	}
	if strings.Contains(raw, Delimiter) {
		return Segment{}, errors.Wrapf(ErrMalformed, "segment %q contains delimiter", raw)
	}
	return Segment{Specifier: raw[0], Payload: raw[1:]}, nil
}

func (s Segment) String() string {
	return string(s.Specifier) + s.Payload
}

// Int interprets the payload as a decimal number, as used by index based
// drivers like Z, m, c and G.
func (s Segment) Int() (int64, error) {
	i, err := strconv.ParseInt(s.Payload, 10, 64)
	if err != nil {
		return 0, errors.Wrapf(ErrMalformed, "segment %s: %s", s, err)
	}
	return i, nil
}

// Range interprets an "<offset>:<length>" payload.
func (s Segment) Range() (offset, length int64, err error) {
	parts := strings.SplitN(s.Payload, ":", 2)
	if len(parts) != 2 { //nolint:gomnd
		return 0, 0, errors.Wrapf(ErrMalformed, "segment %s is not a range", s)
	}
	offset, err = strconv.ParseInt(parts[0], 10, 64)
	if err != nil || offset < 0 {
		return 0, 0, errors.Wrapf(ErrMalformed, "segment %s: bad offset", s)
	}
	length, err = strconv.ParseInt(parts[1], 10, 64)
	if err != nil || length < 0 {
		return 0, 0, errors.Wrapf(ErrMalformed, "segment %s: bad length", s)
	}
	return offset, length, nil
}

// Index creates a segment like "Z3".
func Index(specifier byte, n int) Segment {
	return Segment{Specifier: specifier, Payload: strconv.Itoa(n)}
}

// Offset creates a byte range segment "o<offset>:<length>".
func Offset(offset, length int64) Segment {
	return Segment{Specifier: 'o', Payload: fmt.Sprintf("%d:%d", offset, length)}
}

// Inode is a composite inode. Inodes are treated as immutable, new inodes
// are built with Append.
type Inode []Segment

// Parse splits the external string form of an inode.
func Parse(s string) (Inode, error) {
	if s == "" {
		return nil, ErrMalformed
	}
	raw := strings.Split(s, Delimiter)
	in := make(Inode, 0, len(raw))
	for _, r := range raw {
		seg, err := NewSegment(r)
		if err != nil {
			return nil, errors.Wrapf(err, "parse %q", s)
		}
		in = append(in, seg)
	}
	return in, nil
}

// MustParse is like Parse but panics on malformed input.
func MustParse(s string) Inode {
	in, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return in
}

func (in Inode) String() string {
	parts := make([]string, len(in))
	for i, seg := range in {
		parts[i] = seg.String()
	}
	return strings.Join(parts, Delimiter)
}

// Append returns a new inode with segs added after the segments of in.
func (in Inode) Append(segs ...Segment) Inode {
	out := make(Inode, 0, len(in)+len(segs))
	out = append(out, in...)
	return append(out, segs...)
}

// Join returns a new inode with the segments of other added.
func (in Inode) Join(other Inode) Inode {
	return in.Append(other...)
}

// Prefix returns the first n segments.
func (in Inode) Prefix(n int) Inode {
	if n > len(in) {
		n = len(in)
	}
	return append(Inode{}, in[:n]...)
}

// Last returns the final segment. It panics on an empty inode.
func (in Inode) Last() Segment {
	return in[len(in)-1]
}

// Empty reports whether the inode has no segments.
func (in Inode) Empty() bool {
	return len(in) == 0
}

// Specifiers lists the specifier of every segment in order.
func (in Inode) Specifiers() []byte {
	s := make([]byte, len(in))
	for i, seg := range in {
		s[i] = seg.Specifier
	}
	return s
}

// Equal compares two inodes segment by segment.
func (in Inode) Equal(other Inode) bool {
	if len(in) != len(other) {
		return false
	}
	for i := range in {
		if in[i] != other[i] {
			return false
		}
	}
	return true
}
