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

// Package evidencefs stores forensic evidence and everything derived from it
// in a single SQLite file per case.
//
// # The case format
//
// A case file contains:
//   - the file table, a browsable tree of directory entries (path, name,
//     inode, mode, status) where every file points to a composite inode,
//   - the inode table with sizes and timestamps and the inode_property
//     table with flattened key value metadata,
//   - one result table per scanner (type, hash, email, http, ...),
//   - an sqlar archive with the compressed evidence blobs, addressed by
//     the D<rowid> segment of an inode.
//
// # Composite inodes
//
// An inode is a chain of segments separated by "|", e.g.
//
//	D12|o1024:5000|c0|G1
//
// is the gzip decoded, dechunked byte range 1024 to 6024 of evidence blob
// 12. The vfs package resolves such chains through registered drivers.
package evidencefs
