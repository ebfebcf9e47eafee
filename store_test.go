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

package evidencefs

import (
	"context"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/Masterminds/squirrel"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setup(t *testing.T) *Store {
	t.Helper()
	store, err := New(filepath.Join(t.TempDir(), "case1.evidence"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestNew(t *testing.T) {
	dir := t.TempDir()

	tests := []struct {
		name    string
		url     string
		wantErr bool
	}{
		{"New", filepath.Join(dir, "a.evidence"), false},
		{"Nested", filepath.Join(dir, "x", "y", "b.evidence"), false},
		{"Wrong URL", "foo\x00bar", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store, err := New(tt.url)
			if (err != nil) != tt.wantErr {
				t.Fatalf("New() error = %v, wantErr %v", err, tt.wantErr)
			}
			if store != nil {
				store.Close()
			}
		})
	}
}

func TestNew_Exists(t *testing.T) {
	url := filepath.Join(t.TempDir(), "case.evidence")
	store, err := New(url)
	require.NoError(t, err)
	require.NoError(t, store.Close())

	_, err = New(url)
	assert.Equal(t, ErrStoreExists, err)
}

func TestOpen(t *testing.T) {
	url := filepath.Join(t.TempDir(), "case.evidence")

	_, err := Open(url)
	assert.Equal(t, ErrStoreNotExists, err)

	store, err := New(url)
	require.NoError(t, err)
	_, err = store.Insert(context.Background(), "file", map[string]interface{}{"path": "/", "name": "a", "mode": "d"})
	require.NoError(t, err)
	require.NoError(t, store.Close())

	store, err = Open(url)
	require.NoError(t, err)
	defer store.Close()

	assert.Equal(t, "case", store.Name())
	rows, err := store.Query(context.Background(), squirrel.Select("name").From("file"))
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "a", rows[0].Text("name"))
}

func TestStore_Insert(t *testing.T) {
	store := setup(t)
	ctx := context.Background()

	tests := []struct {
		name    string
		table   string
		fields  map[string]interface{}
		wantErr error
	}{
		{"file", "file", map[string]interface{}{"path": "/", "name": "x", "inode": "D1", "mode": "r"}, nil},
		{"unknown table", "nope", map[string]interface{}{"a": 1}, ErrBadArgument},
		{"unknown column", "file", map[string]interface{}{"path": "/", "evil\"": 1}, ErrBadArgument},
		{"constraint", "file", map[string]interface{}{"path": "/"}, ErrStore},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := store.Insert(ctx, tt.table, tt.fields)
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.True(t, errors.Is(err, tt.wantErr), "got %v", err)
		})
	}
}

func TestStore_InsertOrIgnore(t *testing.T) {
	store := setup(t)
	ctx := context.Background()

	dir := map[string]interface{}{"path": "/", "name": "dir", "mode": "d"}
	inserted, err := store.InsertOrIgnore(ctx, "file", dir)
	require.NoError(t, err)
	assert.True(t, inserted)

	inserted, err = store.InsertOrIgnore(ctx, "file", dir)
	require.NoError(t, err)
	assert.False(t, inserted)

	rows, err := store.Query(ctx, squirrel.Select("id").From("file").Where(squirrel.Eq{"mode": "d"}))
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}

func TestStore_InsertStruct(t *testing.T) {
	store := setup(t)
	ctx := context.Background()

	require.NoError(t, store.EnsureTable(ctx, `CREATE TABLE IF NOT EXISTS hash (inode TEXT, md5 TEXT, file_size INTEGER)`))

	type result struct {
		Inode    string
		MD5      string `structs:"md5"`
		FileSize int64
	}
	_, err := store.InsertStruct(ctx, "hash", result{"D1", "098f6bcd4621d373cade4e832627b4f6", 4})
	require.NoError(t, err)

	row, err := store.QueryRow(ctx, squirrel.Select("*").From("hash"))
	require.NoError(t, err)
	assert.Equal(t, "098f6bcd4621d373cade4e832627b4f6", row.Text("md5"))
	assert.Equal(t, int64(4), row.Int("file_size"))
}

func TestStore_InsertBatchAndDelete(t *testing.T) {
	store := setup(t)
	ctx := context.Background()

	var rows []map[string]interface{}
	for _, name := range []string{"a", "b", "c"} {
		rows = append(rows, map[string]interface{}{"inode": name, "prop": "k", "value": name})
	}
	require.NoError(t, store.InsertBatch(ctx, "inode_property", rows))

	n, err := store.Delete(ctx, "inode_property", squirrel.Eq{"inode": []string{"a", "b"}})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	_, err = store.QueryRow(ctx, squirrel.Select("*").From("inode_property").Where(squirrel.Eq{"inode": "a"}))
	assert.Equal(t, ErrNotFound, err)

	_, err = store.Delete(ctx, "nope", squirrel.Eq{"a": 1})
	assert.True(t, errors.Is(err, ErrBadArgument))
}

func TestStore_InsertBatchRollback(t *testing.T) {
	store := setup(t)
	ctx := context.Background()

	err := store.InsertBatch(ctx, "inode", []map[string]interface{}{
		{"inode": "D1"},
		{"inode": "D1"},
	})
	assert.True(t, errors.Is(err, ErrStore))

	rows, err := store.QueryRaw(ctx, "SELECT * FROM inode")
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestStore_EnsureTable(t *testing.T) {
	store := setup(t)
	ctx := context.Background()

	assert.False(t, store.HasTable("email"))
	require.NoError(t, store.EnsureTable(ctx, `CREATE TABLE IF NOT EXISTS email (inode TEXT, subject TEXT)`))
	assert.True(t, store.HasTable("email"))
	assert.True(t, store.HasColumn("email", "subject"))
	assert.Equal(t, []string{"inode", "subject"}, store.Columns("email"))
	assert.Contains(t, store.Tables(), "file")
}

func TestStore_Validate(t *testing.T) {
	store := setup(t)
	ctx := context.Background()

	f, err := store.Fs().Create("/evidence/a.bin")
	require.NoError(t, err)
	_, err = f.Write([]byte("content"))
	require.NoError(t, err)
	require.NoError(t, f.Close())
	id, err := store.Fs().ID("/evidence/a.bin")
	require.NoError(t, err)

	_, err = store.Insert(ctx, "file", map[string]interface{}{"path": "/x/", "name": "a.bin", "inode": "D999", "mode": "r"})
	require.NoError(t, err)

	flaws, err := store.Validate(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{
		"missing directory entry for /x/",
		"additional evidence blob /evidence/a.bin",
		"missing evidence blob for D999",
	}, flaws)

	_, err = store.Insert(ctx, "file", map[string]interface{}{"path": "/", "name": "x", "mode": "d"})
	require.NoError(t, err)
	_, err = store.Exec(ctx, squirrel.Update("file").Set("inode", "D"+strconv.FormatInt(id, 10)).Where(squirrel.Eq{"name": "a.bin"}))
	require.NoError(t, err)

	flaws, err = store.Validate(ctx)
	require.NoError(t, err)
	assert.Empty(t, flaws)
}

func TestError_Is(t *testing.T) {
	cause := errors.New("disk I/O error")
	err := errors.Wrap(NewError(ErrStore, "insert", cause), "scan")
	assert.True(t, errors.Is(err, ErrStore))
	assert.True(t, errors.Is(err, cause))
	assert.False(t, errors.Is(err, ErrNotFound))
}
