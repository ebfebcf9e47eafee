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
	"fmt"
	"io"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/forensicanalysis/evidencefs"
	"github.com/forensicanalysis/evidencefs/inode"
	"github.com/forensicanalysis/evidencefs/metrics"
	"github.com/forensicanalysis/evidencefs/properties"
)

var timeProperties = []string{"mtime", "atime", "ctime", "dtime"}

// CreateVirtualInode adds a derived file. The new inode is root followed
// by suffix, its entry is placed at displayPath relative to the entry of
// root (or the filesystem root when root is empty). Missing directories
// are created and a file entry of root additionally becomes a directory so
// the derived files can be browsed beneath it.
//
// Calling it again with the same inode does not add another file entry.
func (fsys *FileSystem) CreateVirtualInode(ctx context.Context, root, suffix inode.Inode, displayPath string, props map[string]interface{}) (inode.Inode, error) {
	if suffix.Empty() || displayPath == "" {
		return nil, evidencefs.NewError(evidencefs.ErrBadArgument, "create virtual inode", errors.New("missing segment or path"))
	}

	base := "/"
	if !root.Empty() {
		entry, err := fsys.LookupInode(ctx, root)
		if err != nil {
			return nil, err
		}
		base = entry.FullPath()
		if !entry.IsDir() {
			if err := fsys.materializeContainer(ctx, entry); err != nil {
				return nil, err
			}
		}
	}

	created := root.Join(suffix)
	dir, name := path.Split(path.Join(base, displayPath))
	if name == "" {
		return nil, evidencefs.NewError(evidencefs.ErrBadArgument, "create virtual inode", errors.Errorf("no file name in %q", displayPath))
	}

	if err := fsys.ensureDirectories(ctx, dir, true); err != nil {
		return nil, err
	}

	_, err := fsys.store.QueryRow(ctx, squirrel.Select("id").From("file").Where(squirrel.Eq{
		"inode": created.String(),
		"mode":  string(evidencefs.ModeFile),
	}))
	switch {
	case errors.Is(err, evidencefs.ErrNotFound):
		entry := evidencefs.NewFile(dir, name, created)
		entry.Derived = true
		inserted, err := fsys.store.InsertOrIgnore(ctx, "file", entryFields(entry))
		if err != nil {
			return nil, err
		}
		if inserted {
			metrics.VirtualInodes.Inc()
		}
	case err != nil:
		return nil, err
	}

	if err := fsys.SetProperties(ctx, created, props); err != nil {
		return nil, err
	}
	return created, nil
}

func (fsys *FileSystem) materializeContainer(ctx context.Context, entry *evidencefs.DirEntry) error {
	container := evidencefs.NewDirectory(entry.Path, entry.Name)
	container.Inode = entry.Inode
	container.Derived = true
	_, err := fsys.store.InsertOrIgnore(ctx, "file", entryFields(container))
	return err
}

// ensureDirectories creates a directory entry for every component of dir.
func (fsys *FileSystem) ensureDirectories(ctx context.Context, dir string, derived bool) error {
	parent := "/"
	for _, component := range strings.Split(strings.Trim(dir, "/"), "/") {
		if component == "" {
			continue
		}
		exists, err := fsys.any(ctx, squirrel.Eq{"path": parent, "name": component, "mode": string(evidencefs.ModeDirectory)})
		if err != nil {
			return err
		}
		if !exists {
			entry := evidencefs.NewDirectory(parent, component)
			entry.Derived = derived
			if _, err := fsys.store.InsertOrIgnore(ctx, "file", entryFields(entry)); err != nil {
				return err
			}
		}
		parent = parent + component + "/"
	}
	return nil
}

func entryFields(entry *evidencefs.DirEntry) map[string]interface{} {
	derived := int64(0)
	if entry.Derived {
		derived = 1
	}
	return map[string]interface{}{
		"path":    entry.Path,
		"name":    entry.Name,
		"inode":   entry.Inode.String(),
		"mode":    string(entry.Mode),
		"status":  string(entry.Status),
		"derived": derived,
	}
}

// SetProperties records metadata of an inode. size and the timestamps
// mtime, atime, ctime and dtime go to the inode table, all other keys are
// flattened into inode_property.
func (fsys *FileSystem) SetProperties(ctx context.Context, in inode.Inode, props map[string]interface{}) error {
	row, rest := splitProperties(in, props)
	if err := fsys.store.UpsertBatch(ctx, "inode", []map[string]interface{}{row}); err != nil {
		return err
	}
	rows, err := properties.Rows(in.String(), rest)
	if err != nil {
		return evidencefs.NewError(evidencefs.ErrBadArgument, "properties of "+in.String(), err)
	}
	return fsys.store.UpsertBatch(ctx, "inode_property", rows)
}

func splitProperties(in inode.Inode, props map[string]interface{}) (row, rest map[string]interface{}) {
	info := &evidencefs.InodeInfo{Inode: in}
	rest = map[string]interface{}{}
	for key, value := range props {
		rest[key] = value
	}

	if size, ok := asInt(rest["size"]); ok {
		info.Size = size
		delete(rest, "size")
	}
	if status, ok := rest["status"].(string); ok {
		info.Status = evidencefs.Status(status)
		delete(rest, "status")
	}
	times := []*time.Time{&info.Mtime, &info.Atime, &info.Ctime, &info.Dtime}
	for i, key := range timeProperties {
		if t, ok := asTime(rest[key]); ok {
			*times[i] = t
			delete(rest, key)
		}
	}
	return info.Fields(), rest
}

func asInt(v interface{}) (int64, bool) {
	switch v := v.(type) {
	case int:
		return int64(v), true
	case int64:
		return v, true
	case uint64:
		return int64(v), true
	case float64:
		return int64(v), true
	case string:
		i, err := strconv.ParseInt(v, 10, 64)
		return i, err == nil
	}
	return 0, false
}

func asTime(v interface{}) (time.Time, bool) {
	switch v := v.(type) {
	case time.Time:
		return v, true
	case int64:
		return time.Unix(v, 0), true
	case int:
		return time.Unix(int64(v), 0), true
	}
	return time.Time{}, false
}

// AddFile ingests content as real file at p. The content is stored in the
// evidence archive and addressed by a D<rowid> inode.
func (fsys *FileSystem) AddFile(ctx context.Context, p string, r io.Reader, mtime time.Time) (*evidencefs.DirEntry, error) {
	full := path.Clean("/" + p)
	dir, name := path.Split(full)
	if name == "" {
		return nil, evidencefs.NewError(evidencefs.ErrBadArgument, "add "+p, errors.New("no file name"))
	}
	exists, err := fsys.Exists(ctx, full)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, evidencefs.NewError(evidencefs.ErrBadArgument, "add "+full, errors.New("entry exists"))
	}

	archive := fsys.store.Fs()
	f, err := archive.Create(full)
	if err != nil {
		return nil, evidencefs.NewError(evidencefs.ErrStore, "add "+full, err)
	}
	size, err := io.Copy(f, r)
	if err != nil {
		_ = f.Close()
		return nil, errors.Wrapf(err, "copy %s", full)
	}
	if err := f.Close(); err != nil {
		return nil, evidencefs.NewError(evidencefs.ErrStore, "add "+full, err)
	}
	if !mtime.IsZero() {
		if err := archive.Chtimes(full, mtime, mtime); err != nil {
			return nil, evidencefs.NewError(evidencefs.ErrStore, "add "+full, err)
		}
	}
	id, err := archive.ID(full)
	if err != nil {
		return nil, evidencefs.NewError(evidencefs.ErrStore, "add "+full, err)
	}

	in := inode.Inode{{Specifier: 'D', Payload: strconv.FormatInt(id, 10)}}
	if err := fsys.ensureDirectories(ctx, dir, false); err != nil {
		return nil, err
	}
	if _, err := fsys.store.Insert(ctx, "file", entryFields(evidencefs.NewFile(dir, name, in))); err != nil {
		return nil, err
	}
	if err := fsys.SetProperties(ctx, in, map[string]interface{}{"size": size, "mtime": mtime}); err != nil {
		return nil, err
	}

	log.Debug().Str("path", full).Str("inode", in.String()).Int64("size", size).Msg("added file")
	return fsys.Lookup(ctx, full)
}

const pruneDirectories = `DELETE FROM file WHERE mode = 'd' AND derived = 1
	AND NOT EXISTS (SELECT 1 FROM file c WHERE c.path = file.path || file.name || '/')`

// RemoveSource deletes an evidence source: all entries at or below p, all
// inodes derived from the evidence blobs they reference including the rows
// scanners recorded for them, and the blobs. It returns the number of
// removed directory entries.
func (fsys *FileSystem) RemoveSource(ctx context.Context, p string) (int64, error) {
	full := path.Clean("/" + p)
	if full == "/" {
		return 0, evidencefs.NewError(evidencefs.ErrBadArgument, "remove /", errors.New("refusing to remove the root"))
	}
	dir, name := path.Split(full)
	under := squirrel.Or{
		squirrel.Eq{"path": dir, "name": name},
		squirrel.Expr("substr(path, 1, length(?)) = ?", full+"/", full+"/"),
	}

	rows, err := fsys.store.Query(ctx, squirrel.Select("DISTINCT inode").From("file").Where(under))
	if err != nil {
		return 0, err
	}
	if len(rows) == 0 {
		return 0, evidencefs.NewError(evidencefs.ErrNotFound, "remove "+full, nil)
	}

	roots := map[string]int64{}
	for _, row := range rows {
		in, err := inode.Parse(row.Text("inode"))
		if err != nil || in[0].Specifier != 'D' {
			continue
		}
		id, err := in[0].Int()
		if err != nil {
			continue
		}
		roots[in[0].String()] = id
	}

	var removed int64
	for _, table := range fsys.store.Tables() {
		if table == "sqlar" || !fsys.store.HasColumn(table, "inode") {
			continue
		}
		for root := range roots {
			n, err := fsys.store.Delete(ctx, table, squirrel.Or{
				squirrel.Eq{"inode": root},
				squirrel.Expr("substr(inode, 1, length(?)) = ?", root+inode.Delimiter, root+inode.Delimiter),
			})
			if err != nil {
				return removed, err
			}
			if table == "file" {
				removed += n
			}
		}
	}

	n, err := fsys.store.Delete(ctx, "file", under)
	if err != nil {
		return removed, err
	}
	removed += n

	for {
		n, err := fsys.store.Exec(ctx, squirrel.Expr(pruneDirectories))
		if err != nil {
			return removed, err
		}
		if n == 0 {
			break
		}
		removed += n
	}

	ids := make([]int64, 0, len(roots))
	for _, id := range roots {
		ids = append(ids, id)
	}
	if len(ids) > 0 {
		if _, err := fsys.store.Exec(ctx, squirrel.Delete("sqlar").Where(squirrel.Eq{"rowid": ids})); err != nil {
			return removed, err
		}
	}

	log.Info().Str("path", full).Int64("entries", removed).Int("blobs", len(ids)).Msg("removed evidence source")
	return removed, nil
}

// RemoveDerived deletes every derived inode that has a segment with the
// given specifier: its entries, its inode row and its properties. Derived
// directories left empty are removed as well.
func (fsys *FileSystem) RemoveDerived(ctx context.Context, specifier byte) (int64, error) {
	return fsys.removeDerived(ctx, squirrel.Expr("inode GLOB ?", fmt.Sprintf("*%s%c*", inode.Delimiter, specifier)))
}

// RemoveInodes deletes the given derived inodes and everything derived
// from them.
func (fsys *FileSystem) RemoveInodes(ctx context.Context, inodes []inode.Inode) (int64, error) {
	if len(inodes) == 0 {
		return 0, nil
	}
	var pred squirrel.Or
	for _, in := range inodes {
		prefix := in.String() + inode.Delimiter
		pred = append(pred, squirrel.Eq{"inode": in.String()}, squirrel.Expr("substr(inode, 1, length(?)) = ?", prefix, prefix))
	}
	return fsys.removeDerived(ctx, pred)
}

func (fsys *FileSystem) removeDerived(ctx context.Context, pred squirrel.Sqlizer) (int64, error) {
	var removed int64
	for _, table := range []string{"file", "inode", "inode_property"} {
		where := pred
		if table == "file" {
			where = squirrel.And{squirrel.Eq{"derived": 1}, pred}
		}
		n, err := fsys.store.Delete(ctx, table, where)
		if err != nil {
			return removed, err
		}
		if table == "file" {
			removed = n
		}
	}

	for {
		n, err := fsys.store.Exec(ctx, squirrel.Expr(pruneDirectories))
		if err != nil {
			return removed, err
		}
		if n == 0 {
			break
		}
		removed += n
	}
	return removed, nil
}
