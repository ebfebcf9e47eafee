/*
 * Copyright (c) 2020 Siemens AG
 *
 * Permission is hereby granted, free of charge, to any person obtaining a copy of
 * this software and associated documentation files (the "Software"), to deal in
 * the Software without restriction, including without limitation the rights to
 * use, copy, modify, merge, publish, distribute, sublicense, and/or sell copies of
 * the Software, and to permit persons to whom the Software is furnished to do so,
 * subject to the following conditions:
 *
 * The above copyright notice and this permission notice shall be included in all
 * copies or substantial portions of the Software.
 *
 * THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
 * IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY, FITNESS
 * FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE AUTHORS OR
 * COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER LIABILITY, WHETHER
 * IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM, OUT OF OR IN
 * CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE SOFTWARE.
 *
 * Author(s): Jonas Plum
 */

package vfs_test

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path/filepath"
	"testing"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forensicanalysis/evidencefs"
	"github.com/forensicanalysis/evidencefs/inode"
	"github.com/forensicanalysis/evidencefs/vfs"
	"github.com/forensicanalysis/evidencefs/vfs/drivers"
)

func setup(t *testing.T) *vfs.FileSystem {
	t.Helper()
	store, err := evidencefs.New(filepath.Join(t.TempDir(), "case1.evidence"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return vfs.New(store, drivers.NewRegistry())
}

func add(t *testing.T, fsys *vfs.FileSystem, name, content string) inode.Inode {
	t.Helper()
	entry, err := fsys.AddFile(context.Background(), name, bytes.NewBufferString(content), time.Date(2020, 1, 2, 3, 4, 5, 0, time.UTC))
	require.NoError(t, err)
	return entry.Inode
}

func countEntries(t *testing.T, fsys *vfs.FileSystem, in inode.Inode) int64 {
	t.Helper()
	row, err := fsys.Store().QueryRow(context.Background(), squirrel.Select("COUNT(*) AS n").
		From("file").
		Where(squirrel.Eq{"inode": in.String(), "mode": "r"}))
	require.NoError(t, err)
	return row.Int("n")
}

// evidence builds a small case:
//
//	/evidence/archive.zip                  D1
//	/evidence/archive.zip/docs/a.txt       D1|o0:5
//	/evidence/archive.zip/docs/a.txt/part  D1|o0:5|o1:2
//	/evidence/plain.txt                    D2
func evidence(t *testing.T) (*vfs.FileSystem, inode.Inode) {
	t.Helper()
	fsys := setup(t)
	ctx := context.Background()

	archive := add(t, fsys, "/evidence/archive.zip", "hello world")
	add(t, fsys, "/evidence/plain.txt", "plain")

	member, err := fsys.CreateVirtualInode(ctx, archive, inode.MustParse("o0:5"), "docs/a.txt", map[string]interface{}{
		"size":  5,
		"mtime": time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC),
		"zip":   map[string]interface{}{"comment": "first member"},
	})
	require.NoError(t, err)
	_, err = fsys.CreateVirtualInode(ctx, member, inode.MustParse("o1:2"), "part", map[string]interface{}{"size": 2})
	require.NoError(t, err)
	return fsys, archive
}

func TestCreateVirtualInode(t *testing.T) {
	fsys, archive := evidence(t)
	ctx := context.Background()
	member := archive.Append(inode.MustParse("o0:5")...)

	entry, err := fsys.Lookup(ctx, "/evidence/archive.zip/docs/a.txt")
	require.NoError(t, err)
	assert.Equal(t, member.String(), entry.Inode.String())
	assert.True(t, entry.Derived)
	assert.False(t, entry.IsDir())
	assert.Equal(t, int64(5), entry.Size)

	isDir, err := fsys.IsDir(ctx, "/evidence/archive.zip")
	require.NoError(t, err)
	assert.True(t, isDir)

	isDir, err = fsys.IsDir(ctx, "/evidence/archive.zip/docs")
	require.NoError(t, err)
	assert.True(t, isDir)

	// the file is preferred unless a directory is asked for
	file, err := fsys.Lookup(ctx, "/evidence/archive.zip")
	require.NoError(t, err)
	assert.False(t, file.IsDir())
	dir, err := fsys.Lookup(ctx, "/evidence/archive.zip/")
	require.NoError(t, err)
	assert.True(t, dir.IsDir())
	assert.Equal(t, archive.String(), dir.Inode.String())

	f, err := fsys.Open(ctx, "/evidence/archive.zip/docs/a.txt/part", nil)
	require.NoError(t, err)
	defer f.Close()
	b, err := io.ReadAll(f)
	require.NoError(t, err)
	assert.Equal(t, "el", string(b))

	info, err := fsys.Istat(ctx, member)
	require.NoError(t, err)
	assert.Equal(t, int64(5), info.Size)
	assert.Equal(t, time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC), info.Mtime)
	assert.Equal(t, map[string]interface{}{"zip": map[string]interface{}{"comment": "first member"}}, info.Properties)
}

func TestCreateVirtualInode_Idempotent(t *testing.T) {
	fsys, archive := evidence(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		created, err := fsys.CreateVirtualInode(ctx, archive, inode.MustParse("o0:5"), "docs/a.txt", map[string]interface{}{"size": 5})
		require.NoError(t, err)
		assert.Equal(t, 1, int(countEntries(t, fsys, created)))
	}

	entries, err := fsys.Ls(ctx, "/evidence/archive.zip/docs")
	require.NoError(t, err)
	assert.Len(t, entries, 2) // a.txt as file and as container
}

func TestCreateVirtualInode_Root(t *testing.T) {
	fsys := setup(t)
	ctx := context.Background()
	blob := add(t, fsys, "/in/data", "0123456789")

	created, err := fsys.CreateVirtualInode(ctx, nil, blob.Append(inode.MustParse("o2:3")...), "carved/first", nil)
	require.NoError(t, err)

	entry, err := fsys.Lookup(ctx, "/carved/first")
	require.NoError(t, err)
	assert.Equal(t, created.String(), entry.Inode.String())

	_, err = fsys.CreateVirtualInode(ctx, nil, nil, "x", nil)
	assert.ErrorIs(t, err, evidencefs.ErrBadArgument)

	_, err = fsys.CreateVirtualInode(ctx, inode.MustParse("D99"), inode.MustParse("o0:1"), "x", nil)
	assert.ErrorIs(t, err, evidencefs.ErrNotFound)
}

func TestFileSystem_Open(t *testing.T) {
	fsys, archive := evidence(t)
	ctx := context.Background()

	tests := []struct {
		name string
		path string
		in   inode.Inode
		kind error
	}{
		{"nothing", "", nil, evidencefs.ErrBadArgument},
		{"directory", "/evidence", nil, evidencefs.ErrNotAFile},
		{"directory slash", "/evidence/archive.zip/", nil, evidencefs.ErrNotAFile},
		{"missing", "/nope", nil, evidencefs.ErrNotFound},
		{"file", "/evidence/plain.txt", nil, nil},
		{"container by inode", "", archive, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := fsys.Open(ctx, tt.path, tt.in)
			if tt.kind != nil {
				assert.ErrorIs(t, err, tt.kind)
				return
			}
			require.NoError(t, err)
			assert.NoError(t, f.Close())
		})
	}
}

func TestFileSystem_Ls(t *testing.T) {
	fsys, _ := evidence(t)
	ctx := context.Background()

	entries, err := fsys.Ls(ctx, "/evidence")
	require.NoError(t, err)
	var names []string
	for _, entry := range entries {
		names = append(names, fmt.Sprintf("%s %s", entry.Mode, entry.Name))
	}
	assert.Equal(t, []string{"d archive.zip", "r archive.zip", "r plain.txt"}, names)

	entries, err = fsys.Ls(ctx, "/")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "evidence", entries[0].Name)

	_, err = fsys.Ls(ctx, "/evidence/plain.txt")
	assert.ErrorIs(t, err, evidencefs.ErrNotADirectory)

	_, err = fsys.Ls(ctx, "/missing")
	assert.ErrorIs(t, err, evidencefs.ErrNotFound)
}

func TestFileSystem_Walk(t *testing.T) {
	fsys := setup(t)
	ctx := context.Background()
	blob := add(t, fsys, "/source", "x")

	const n = 300
	for i := n - 1; i >= 0; i-- {
		_, err := fsys.CreateVirtualInode(ctx, nil, blob.Append(inode.Offset(int64(i), 1)), fmt.Sprintf("many/f%03d", i), nil)
		require.NoError(t, err)
	}

	it, err := fsys.Walk(ctx, "/many")
	require.NoError(t, err)

	for round := 0; round < 2; round++ {
		var names []string
		for it.Next() {
			names = append(names, it.Entry().Name)
		}
		require.NoError(t, it.Err())
		require.Len(t, names, n)
		assert.Equal(t, "f000", names[0])
		assert.Equal(t, "f299", names[n-1])
		assert.IsIncreasing(t, names)
		it.Reset()
	}

	_, err = fsys.Walk(ctx, "/source")
	assert.ErrorIs(t, err, evidencefs.ErrNotADirectory)
}

func TestFileSystem_Glob(t *testing.T) {
	fsys, archive := evidence(t)
	ctx := context.Background()

	tests := []struct {
		pattern string
		want    []string
	}{
		{"/evidence/*.zip", []string{"/evidence/archive.zip"}},
		{"*a.txt", []string{"/evidence/archive.zip/docs/a.txt"}},
		{"/evidence/*", []string{"/evidence/archive.zip", "/evidence/plain.txt", "/evidence/archive.zip/docs/a.txt", "/evidence/archive.zip/docs/a.txt/part"}},
		{"*.doc", nil},
	}
	for _, tt := range tests {
		t.Run(tt.pattern, func(t *testing.T) {
			entries, err := fsys.Glob(ctx, tt.pattern)
			require.NoError(t, err)
			var paths []string
			for _, entry := range entries {
				paths = append(paths, entry.FullPath())
			}
			assert.Equal(t, tt.want, paths)
		})
	}

	inodes, err := fsys.GlobInodes(ctx, archive.String()+"|*")
	require.NoError(t, err)
	assert.Len(t, inodes, 2)
}

func TestFileSystem_RealFiles(t *testing.T) {
	fsys, _ := evidence(t)

	it := fsys.RealFiles(context.Background())
	var paths []string
	for it.Next() {
		paths = append(paths, it.Entry().FullPath())
	}
	require.NoError(t, it.Err())
	assert.Equal(t, []string{"/evidence/archive.zip", "/evidence/plain.txt"}, paths)
}

func TestFileSystem_RemoveSource(t *testing.T) {
	fsys, archive := evidence(t)
	ctx := context.Background()

	_, err := fsys.RemoveSource(ctx, "/")
	assert.ErrorIs(t, err, evidencefs.ErrBadArgument)
	_, err = fsys.RemoveSource(ctx, "/nope")
	assert.ErrorIs(t, err, evidencefs.ErrNotFound)

	removed, err := fsys.RemoveSource(ctx, "/evidence/archive.zip")
	require.NoError(t, err)
	assert.Positive(t, removed)

	for _, p := range []string{"/evidence/archive.zip", "/evidence/archive.zip/docs", "/evidence/archive.zip/docs/a.txt"} {
		exists, err := fsys.Exists(ctx, p)
		require.NoError(t, err)
		assert.False(t, exists, p)
	}
	exists, err := fsys.Exists(ctx, "/evidence/plain.txt")
	require.NoError(t, err)
	assert.True(t, exists)

	_, err = fsys.Istat(ctx, archive.Append(inode.MustParse("o0:5")...))
	assert.ErrorIs(t, err, evidencefs.ErrNotFound)
	_, err = fsys.Resolve(ctx, archive)
	assert.ErrorIs(t, err, evidencefs.ErrNotFound)

	flaws, err := fsys.Validate(ctx)
	require.NoError(t, err)
	assert.Empty(t, flaws)
}

func TestFileSystem_RemoveDerived(t *testing.T) {
	fsys, archive := evidence(t)
	ctx := context.Background()

	other, err := fsys.CreateVirtualInode(ctx, archive, inode.MustParse("Z0"), "zipped", nil)
	require.NoError(t, err)

	removed, err := fsys.RemoveDerived(ctx, 'Z')
	require.NoError(t, err)
	assert.Positive(t, removed)

	exists, err := fsys.Exists(ctx, "/evidence/archive.zip/zipped")
	require.NoError(t, err)
	assert.False(t, exists)
	_, err = fsys.Istat(ctx, other)
	assert.ErrorIs(t, err, evidencefs.ErrNotFound)

	// files derived by other drivers are kept
	exists, err = fsys.Exists(ctx, "/evidence/archive.zip/docs/a.txt")
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestFileSystem_Validate(t *testing.T) {
	fsys, _ := evidence(t)
	ctx := context.Background()

	flaws, err := fsys.Validate(ctx)
	require.NoError(t, err)
	assert.Empty(t, flaws)

	_, err = fsys.Store().Insert(ctx, "file", map[string]interface{}{"path": "/evidence/", "name": "odd", "inode": "D1|Q1", "mode": "r"})
	require.NoError(t, err)

	flaws, err = fsys.Validate(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{`no driver for 'Q' in D1|Q1`}, flaws)
}
