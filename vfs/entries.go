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
	"path"
	"strings"

	"github.com/Masterminds/squirrel"
	"github.com/pkg/errors"

	"github.com/forensicanalysis/evidencefs"
	"github.com/forensicanalysis/evidencefs/inode"
	"github.com/forensicanalysis/evidencefs/properties"
)

const walkPageSize = 256

var entryColumns = []string{
	"file.id AS id", "file.path AS path", "file.name AS name", "file.inode AS inode",
	"file.mode AS mode", "file.status AS status", "file.derived AS derived",
	"inode.size AS size", "inode.mtime AS mtime", "inode.atime AS atime",
	"inode.ctime AS ctime", "inode.dtime AS dtime",
}

func entryQuery() squirrel.SelectBuilder {
	return squirrel.Select(entryColumns...).
		From("file").
		LeftJoin("inode ON file.inode != '' AND inode.inode = file.inode")
}

// splitPath cleans p and splits it into the directory with trailing slash
// and the leaf name. A trailing slash on p asks for a directory.
func splitPath(p string) (dir, name string, wantDir bool) {
	wantDir = strings.HasSuffix(p, "/")
	clean := path.Clean("/" + p)
	if clean == "/" {
		return "/", "", true
	}
	dir, name = path.Split(clean)
	return dir, name, wantDir
}

// dirPath returns the value of the path column for the children of p.
func dirPath(p string) string {
	clean := path.Clean("/" + p)
	if clean == "/" {
		return clean
	}
	return clean + "/"
}

func rootEntry() *evidencefs.DirEntry {
	return evidencefs.NewDirectory("/", "")
}

func entryFromRow(row evidencefs.Row) (*evidencefs.DirEntry, error) {
	entry := &evidencefs.DirEntry{
		ID:      row.Int("id"),
		Path:    row.Text("path"),
		Name:    row.Text("name"),
		Mode:    evidencefs.Mode(row.Text("mode")),
		Status:  evidencefs.Status(row.Text("status")),
		Derived: row.Int("derived") != 0,
		Size:    row.Int("size"),
		Mtime:   evidencefs.Time(row["mtime"]),
		Atime:   evidencefs.Time(row["atime"]),
		Ctime:   evidencefs.Time(row["ctime"]),
		Dtime:   evidencefs.Time(row["dtime"]),
	}
	if s := row.Text("inode"); s != "" {
		in, err := inode.Parse(s)
		if err != nil {
			return nil, errors.Wrapf(err, "entry %s", entry.FullPath())
		}
		entry.Inode = in
	}
	return entry, nil
}

func (fsys *FileSystem) entries(ctx context.Context, query squirrel.Sqlizer) ([]*evidencefs.DirEntry, error) {
	rows, err := fsys.store.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	entries := make([]*evidencefs.DirEntry, 0, len(rows))
	for _, row := range rows {
		entry, err := entryFromRow(row)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

func (fsys *FileSystem) entry(ctx context.Context, op string, query squirrel.Sqlizer) (*evidencefs.DirEntry, error) {
	entries, err := fsys.entries(ctx, query)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, evidencefs.NewError(evidencefs.ErrNotFound, op, nil)
	}
	return entries[0], nil
}

// Lookup returns the entry at a path. Files are preferred over the
// directory of the same name unless the path ends with a slash.
func (fsys *FileSystem) Lookup(ctx context.Context, p string) (*evidencefs.DirEntry, error) {
	dir, name, wantDir := splitPath(p)
	if name == "" {
		return rootEntry(), nil
	}

	query := entryQuery().Where(squirrel.Eq{"file.path": dir, "file.name": name})
	if wantDir {
		query = query.Where(squirrel.Eq{"file.mode": string(evidencefs.ModeDirectory)})
	}
	query = query.OrderBy("file.mode DESC", "file.status", "file.id").Limit(1)
	return fsys.entry(ctx, "lookup "+p, query)
}

// LookupInode returns the entry for an inode, the inverse of Lookup.
func (fsys *FileSystem) LookupInode(ctx context.Context, in inode.Inode) (*evidencefs.DirEntry, error) {
	query := entryQuery().
		Where(squirrel.Eq{"file.inode": in.String()}).
		OrderBy("file.mode DESC", "file.status", "file.id").
		Limit(1)
	return fsys.entry(ctx, "lookup "+in.String(), query)
}

// isDirectoryInode reports whether an inode is only known as directory.
func (fsys *FileSystem) isDirectoryInode(ctx context.Context, in inode.Inode) (bool, error) {
	rows, err := fsys.store.Query(ctx, squirrel.Select("mode").
		From("file").
		Where(squirrel.Eq{"inode": in.String()}).
		GroupBy("mode"))
	if err != nil {
		return false, err
	}
	dir, file := false, false
	for _, row := range rows {
		switch evidencefs.Mode(row.Text("mode")) {
		case evidencefs.ModeDirectory:
			dir = true
		case evidencefs.ModeFile:
			file = true
		}
	}
	return dir && !file, nil
}

// IsDir reports whether p is a directory. It only consults the directory
// entries, no content is opened.
func (fsys *FileSystem) IsDir(ctx context.Context, p string) (bool, error) {
	dir, name, _ := splitPath(p)
	if name == "" {
		return true, nil
	}
	return fsys.any(ctx, squirrel.Or{
		squirrel.Eq{"path": dir, "name": name, "mode": string(evidencefs.ModeDirectory)},
		squirrel.Eq{"path": dir + name + "/"},
	})
}

// Exists reports whether there is any entry at p.
func (fsys *FileSystem) Exists(ctx context.Context, p string) (bool, error) {
	dir, name, wantDir := splitPath(p)
	if name == "" {
		return true, nil
	}
	pred := squirrel.Eq{"path": dir, "name": name}
	if wantDir {
		pred["mode"] = string(evidencefs.ModeDirectory)
	}
	return fsys.any(ctx, pred)
}

func (fsys *FileSystem) any(ctx context.Context, pred squirrel.Sqlizer) (bool, error) {
	_, err := fsys.store.QueryRow(ctx, squirrel.Select("1").From("file").Where(pred).Limit(1))
	if errors.Is(err, evidencefs.ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

// Ls lists the entries of a directory ordered by name.
func (fsys *FileSystem) Ls(ctx context.Context, p string) ([]*evidencefs.DirEntry, error) {
	if err := fsys.checkDir(ctx, p); err != nil {
		return nil, err
	}
	return fsys.entries(ctx, entryQuery().
		Where(squirrel.Eq{"file.path": dirPath(p)}).
		OrderBy("file.name", "file.mode", "file.id"))
}

func (fsys *FileSystem) checkDir(ctx context.Context, p string) error {
	isDir, err := fsys.IsDir(ctx, p)
	if err != nil {
		return err
	}
	if !isDir {
		exists, err := fsys.Exists(ctx, p)
		if err != nil {
			return err
		}
		if !exists {
			return evidencefs.NewError(evidencefs.ErrNotFound, "ls "+p, nil)
		}
		return evidencefs.NewError(evidencefs.ErrNotADirectory, "ls "+p, nil)
	}
	return nil
}

// Walk iterates lazily over the entries of a directory ordered by name.
func (fsys *FileSystem) Walk(ctx context.Context, p string) (*Iterator, error) {
	if err := fsys.checkDir(ctx, p); err != nil {
		return nil, err
	}
	return &Iterator{
		fsys:   fsys,
		ctx:    ctx,
		where:  squirrel.Eq{"file.path": dirPath(p)},
		byName: true,
	}, nil
}

// RealFiles iterates over all allocated files that were ingested, derived
// files are skipped.
func (fsys *FileSystem) RealFiles(ctx context.Context) *Iterator {
	return &Iterator{
		fsys: fsys,
		ctx:  ctx,
		where: squirrel.Eq{
			"file.mode":    string(evidencefs.ModeFile),
			"file.status":  string(evidencefs.StatusAllocated),
			"file.derived": 0,
		},
	}
}

// Glob returns all file entries whose full path matches pattern. "*" and
// "?" match any character including "/".
func (fsys *FileSystem) Glob(ctx context.Context, pattern string) ([]*evidencefs.DirEntry, error) {
	return fsys.entries(ctx, entryQuery().
		Where(squirrel.Eq{"file.mode": string(evidencefs.ModeFile)}).
		Where(squirrel.Expr("file.path || file.name GLOB ?", pattern)).
		OrderBy("file.path", "file.name", "file.id"))
}

// GlobInodes returns the distinct inodes of file entries matching an inode
// pattern like "D*|Z*".
func (fsys *FileSystem) GlobInodes(ctx context.Context, pattern string) ([]inode.Inode, error) {
	rows, err := fsys.store.Query(ctx, squirrel.Select("DISTINCT inode").
		From("file").
		Where(squirrel.Eq{"mode": string(evidencefs.ModeFile)}).
		Where(squirrel.Expr("inode GLOB ?", pattern)).
		OrderBy("inode"))
	if err != nil {
		return nil, err
	}
	var inodes []inode.Inode
	for _, row := range rows {
		in, err := inode.Parse(row.Text("inode"))
		if err != nil {
			return nil, err
		}
		inodes = append(inodes, in)
	}
	return inodes, nil
}

// Istat returns the metadata of an inode.
func (fsys *FileSystem) Istat(ctx context.Context, in inode.Inode) (*evidencefs.InodeInfo, error) {
	row, err := fsys.store.QueryRow(ctx, squirrel.Select("*").From("inode").Where(squirrel.Eq{"inode": in.String()}))
	if errors.Is(err, evidencefs.ErrNotFound) {
		return nil, evidencefs.NewError(evidencefs.ErrNotFound, "istat "+in.String(), nil)
	}
	if err != nil {
		return nil, err
	}

	info := &evidencefs.InodeInfo{
		Inode:  in,
		Status: evidencefs.Status(row.Text("status")),
		Size:   row.Int("size"),
		Mtime:  evidencefs.Time(row["mtime"]),
		Atime:  evidencefs.Time(row["atime"]),
		Ctime:  evidencefs.Time(row["ctime"]),
		Dtime:  evidencefs.Time(row["dtime"]),
	}

	rows, err := fsys.store.Query(ctx, squirrel.Select("prop", "value").
		From("inode_property").
		Where(squirrel.Eq{"inode": in.String()}))
	if err != nil {
		return nil, err
	}
	flat := make(map[string]interface{}, len(rows))
	for _, row := range rows {
		flat[row.Text("prop")] = row.Text("value")
	}
	info.Properties, err = properties.Unflatten(flat)
	return info, err
}

// Iterator is a restartable lazy sequence of directory entries. It keeps
// no state besides the position of the last returned entry.
type Iterator struct {
	fsys   *FileSystem
	ctx    context.Context
	where  squirrel.Sqlizer
	byName bool

	page     []*evidencefs.DirEntry
	last     *evidencefs.DirEntry
	entry    *evidencefs.DirEntry
	finished bool
	err      error
}

// Next advances to the next entry.
func (it *Iterator) Next() bool {
	if it.err != nil {
		return false
	}
	if len(it.page) == 0 && !it.finished {
		it.fetch()
		if it.err != nil {
			return false
		}
	}
	if len(it.page) == 0 {
		it.entry = nil
		return false
	}
	it.entry, it.page = it.page[0], it.page[1:]
	it.last = it.entry
	return true
}

func (it *Iterator) fetch() {
	query := entryQuery().Where(it.where).Limit(walkPageSize)
	if it.byName {
		query = query.OrderBy("file.name", "file.id")
		if it.last != nil {
			query = query.Where(squirrel.Or{
				squirrel.Gt{"file.name": it.last.Name},
				squirrel.And{squirrel.Eq{"file.name": it.last.Name}, squirrel.Gt{"file.id": it.last.ID}},
			})
		}
	} else {
		query = query.OrderBy("file.id")
		if it.last != nil {
			query = query.Where(squirrel.Gt{"file.id": it.last.ID})
		}
	}

	it.page, it.err = it.fsys.entries(it.ctx, query)
	if len(it.page) < walkPageSize {
		it.finished = true
	}
}

// Entry returns the current entry.
func (it *Iterator) Entry() *evidencefs.DirEntry {
	return it.entry
}

func (it *Iterator) Err() error {
	return it.err
}

// Reset restarts the iteration at the first entry.
func (it *Iterator) Reset() {
	it.page, it.last, it.entry, it.finished, it.err = nil, nil, nil, false, nil
}
