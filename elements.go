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

package evidencefs

import (
	"time"

	"github.com/forensicanalysis/evidencefs/inode"
)

// Mode distinguishes file and directory entries.
type Mode string

const (
	ModeFile      Mode = "r"
	ModeDirectory Mode = "d"
)

// Status of a directory entry or inode.
type Status string

const (
	StatusAllocated   Status = "alloc"
	StatusUnallocated Status = "unalloc"
)

// DirEntry is a row of the file table. Path is the directory with a
// trailing slash, Name the leaf.
type DirEntry struct {
	ID      int64
	Path    string
	Name    string
	Inode   inode.Inode
	Mode    Mode
	Status  Status
	Derived bool

	Size  int64
	Mtime time.Time
	Atime time.Time
	Ctime time.Time
	Dtime time.Time
}

// FullPath joins path and name.
func (e *DirEntry) FullPath() string {
	return e.Path + e.Name
}

func (e *DirEntry) IsDir() bool {
	return e.Mode == ModeDirectory
}

// NewFile creates an allocated file entry.
func NewFile(dir, name string, in inode.Inode) *DirEntry {
	return &DirEntry{Path: dir, Name: name, Inode: in, Mode: ModeFile, Status: StatusAllocated}
}

// NewDirectory creates an allocated directory entry.
func NewDirectory(dir, name string) *DirEntry {
	return &DirEntry{Path: dir, Name: name, Mode: ModeDirectory, Status: StatusAllocated}
}

// InodeInfo holds the metadata recorded for an inode.
type InodeInfo struct {
	Inode      inode.Inode
	Status     Status
	Size       int64
	Mtime      time.Time
	Atime      time.Time
	Ctime      time.Time
	Dtime      time.Time
	Properties map[string]interface{}
}

// Fields returns the row of the inode table.
func (i *InodeInfo) Fields() map[string]interface{} {
	status := i.Status
	if status == "" {
		status = StatusAllocated
	}
	return map[string]interface{}{
		"inode":  i.Inode.String(),
		"status": string(status),
		"size":   i.Size,
		"mtime":  unixOrNil(i.Mtime),
		"atime":  unixOrNil(i.Atime),
		"ctime":  unixOrNil(i.Ctime),
		"dtime":  unixOrNil(i.Dtime),
	}
}

func unixOrNil(t time.Time) interface{} {
	if t.IsZero() {
		return nil
	}
	return t.Unix()
}

// Time converts a unix timestamp column value, zero for NULL.
func Time(v interface{}) time.Time {
	if i, ok := v.(int64); ok && i != 0 {
		return time.Unix(i, 0).UTC()
	}
	return time.Time{}
}
