// Package sqlitefs stores evidence blobs in an SQLite archive (sqlar) table
// and exposes them as an afero.Fs. Blobs are flate compressed; readers get
// a decompressed, seekable copy so drivers can access them at random
// offsets.
package sqlitefs

import (
	"context"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"crawshaw.io/sqlite"
	"crawshaw.io/sqlite/sqlitex"
	"github.com/pkg/errors"
	"github.com/spf13/afero"
)

// DefaultSpoolSize is the amount of decompressed data kept in memory
// before a reader spills to a temporary file.
const DefaultSpoolSize = 32 << 20

const poolSize = 4

type FS struct {
	pool      *sqlitex.Pool
	ownsPool  bool
	SpoolSize int64
}

const table = `CREATE TABLE IF NOT EXISTS sqlar(
  name TEXT PRIMARY KEY,  -- name of the file
  mode INT,               -- access permissions
  mtime INT,              -- last modification time
  sz INT,                 -- original file size
  data BLOB               -- compressed content
);`

// New opens an archive with its own connection pool.
func New(url string) (*FS, error) {
	pool, err := sqlitex.Open(url, 0, poolSize)
	if err != nil {
		return nil, err
	}
	fs, err := NewPool(pool)
	if err != nil {
		_ = pool.Close()
		return nil, err
	}
	fs.ownsPool = true
	return fs, nil
}

// NewPool uses a pool shared with other users of the database.
func NewPool(pool *sqlitex.Pool) (*FS, error) {
	fs := &FS{pool: pool, SpoolSize: DefaultSpoolSize}

	conn, put, err := fs.conn()
	if err != nil {
		return nil, err
	}
	defer put()

	return fs, sqlitex.ExecTransient(conn, table, nil)
}

func (fs *FS) conn() (*sqlite.Conn, func(), error) {
	conn := fs.pool.Get(context.Background())
	if conn == nil {
		return nil, nil, errors.New("sqlitefs: no connection available")
	}
	conn.SetBusyTimeout(10 * time.Second)
	return conn, func() { fs.pool.Put(conn) }, nil
}

func (fs *FS) Chmod(name string, mode os.FileMode) error {
	conn, put, err := fs.conn()
	if err != nil {
		return err
	}
	defer put()

	stmt := conn.Prep("UPDATE sqlar SET mode = $mode WHERE name = $name")
	stmt.SetText("$name", normalizeFilename(name))
	stmt.SetInt64("$mode", int64(mode))
	return exec(stmt)
}

func (fs *FS) Chown(string, int, int) error {
	return nil
}

func (fs *FS) Chtimes(name string, atime time.Time, mtime time.Time) error {
	conn, put, err := fs.conn()
	if err != nil {
		return err
	}
	defer put()

	stmt := conn.Prep("UPDATE sqlar SET mtime = $mtime WHERE name = $name")
	stmt.SetText("$name", normalizeFilename(name))
	stmt.SetInt64("$mtime", mtime.Unix())
	return exec(stmt)
}

func (fs *FS) Create(name string) (afero.File, error) {
	return fs.OpenFile(name, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0666)
}

func (fs *FS) Mkdir(name string, perm os.FileMode) error {
	conn, put, err := fs.conn()
	if err != nil {
		return err
	}
	defer put()

	stmt := conn.Prep(`INSERT INTO sqlar (name, mode, mtime, sz, data) VALUES ($name, $mode, $mtime, 0, NULL)`)
	stmt.SetText("$name", normalizeFilename(name))
	stmt.SetInt64("$mode", int64(perm|os.ModeDir))
	stmt.SetInt64("$mtime", time.Now().Unix())
	return exec(stmt)
}

func (fs *FS) MkdirAll(p string, perm os.FileMode) error {
	p = normalizeFilename(p)
	if _, err := fs.Stat("/"); err != nil {
		_ = fs.Mkdir("/", perm)
	}
	all := "/"
	for _, part := range strings.Split(strings.Trim(p, "/"), "/") {
		if part == "" {
			continue
		}
		all = path.Join(all, part)
		info, err := fs.Stat(all)
		if err == nil {
			if !info.IsDir() {
				return errors.Errorf("%s is not a directory", all)
			}
			continue
		}
		if err := fs.Mkdir(all, perm); err != nil {
			return err
		}
	}
	return nil
}

func (fs *FS) Name() string {
	return "SQLiteFS"
}

func (fs *FS) Open(name string) (afero.File, error) {
	return fs.OpenFile(name, os.O_RDONLY, 0)
}

// OpenID opens a blob by its rowid, the numeric id of the D driver.
func (fs *FS) OpenID(id int64) (afero.File, error) {
	conn, put, err := fs.conn()
	if err != nil {
		return nil, err
	}

	stmt := conn.Prep(`SELECT name FROM sqlar WHERE rowid = $id`)
	stmt.SetInt64("$id", id)
	hasRow, err := stmt.Step()
	if err != nil {
		put()
		return nil, err
	}
	name := stmt.GetText("name")
	err = stmt.Reset()
	put()
	if err != nil {
		return nil, err
	}
	if !hasRow {
		return nil, os.ErrNotExist
	}
	return fs.Open(name)
}

// ID returns the rowid of a stored blob.
func (fs *FS) ID(name string) (int64, error) {
	conn, put, err := fs.conn()
	if err != nil {
		return 0, err
	}
	defer put()

	stmt := conn.Prep(`SELECT rowid FROM sqlar WHERE name = $name`)
	stmt.SetText("$name", normalizeFilename(name))
	hasRow, err := stmt.Step()
	if err != nil {
		return 0, err
	}
	id := stmt.GetInt64("rowid")
	if err := stmt.Reset(); err != nil {
		return 0, err
	}
	if !hasRow {
		return 0, os.ErrNotExist
	}
	return id, nil
}

func (fs *FS) OpenFile(name string, flag int, perm os.FileMode) (afero.File, error) {
	name = normalizeFilename(name)

	if flag&os.O_CREATE != 0 {
		id, err := fs.createFile(name, perm)
		if err != nil {
			return nil, err
		}
		return newWriteItem(fs, id, name)
	}
	if flag&(os.O_RDWR|os.O_WRONLY) != 0 {
		return nil, ErrNotImplemented
	}

	conn, put, err := fs.conn()
	if err != nil {
		return nil, err
	}
	defer put()

	stmt := conn.Prep(`SELECT rowid, mode, mtime, sz, data IS NULL AS dataNull FROM sqlar WHERE name = $name`)
	stmt.SetText("$name", name)

	hasRow, err := stmt.Step()
	if err != nil {
		return nil, err
	} else if !hasRow {
		_ = stmt.Reset()
		return nil, &os.PathError{Op: "open", Path: name, Err: os.ErrNotExist}
	}

	id := stmt.GetInt64("rowid")
	info := &Info{
		name:  path.Base(name),
		sz:    stmt.GetInt64("sz"),
		mode:  os.FileMode(stmt.GetInt64("mode")),
		mtime: time.Unix(stmt.GetInt64("mtime"), 0),
	}
	info.dir = info.sz == 0 && stmt.GetInt64("dataNull") == 1
	if err := stmt.Reset(); err != nil {
		return nil, err
	}

	var children []os.FileInfo
	if info.dir {
		children, err = selectChildren(conn, name)
		if err != nil {
			return nil, err
		}
	}

	return newReadItem(fs, conn, id, name, info, children)
}

func selectChildren(conn *sqlite.Conn, name string) ([]os.FileInfo, error) {
	prefix := strings.TrimRight(name, "/") + "/"
	stmt := conn.Prep(`SELECT name, mode, mtime, sz, data IS NULL AS dataNull FROM sqlar
		WHERE substr(name, 1, length($prefix)) = $prefix ORDER BY name`)
	stmt.SetText("$prefix", prefix)
	defer stmt.Reset() //nolint:errcheck

	var children []os.FileInfo
	for {
		hasChildRow, err := stmt.Step()
		if err != nil {
			return nil, err
		} else if !hasChildRow {
			break
		}
		childName := stmt.GetText("name")
		rel := strings.Trim(childName[len(prefix):], "/")
		if rel == "" || strings.Contains(rel, "/") {
			continue
		}

		childSize := stmt.GetInt64("sz")
		children = append(children, &Info{
			name:  rel,
			sz:    childSize,
			mode:  os.FileMode(stmt.GetInt64("mode")),
			mtime: time.Unix(stmt.GetInt64("mtime"), 0),
			dir:   childSize == 0 && stmt.GetInt64("dataNull") == 1,
		})
	}
	return children, nil
}

func (fs *FS) createFile(name string, perm os.FileMode) (int64, error) {
	conn, put, err := fs.conn()
	if err != nil {
		return 0, err
	}
	defer put()

	stmt := conn.Prep(`INSERT INTO sqlar (name, mode, mtime, sz) VALUES ($name, $mode, $mtime, 0)
		ON CONFLICT(name) DO UPDATE SET mode = excluded.mode, mtime = excluded.mtime, sz = 0, data = NULL`)
	stmt.SetText("$name", name)
	stmt.SetInt64("$mode", int64(perm))
	stmt.SetInt64("$mtime", time.Now().Unix())
	if err := exec(stmt); err != nil {
		return 0, errors.Wrapf(err, "failed to create %s", name)
	}

	stmt = conn.Prep(`SELECT rowid FROM sqlar WHERE name = $name`)
	stmt.SetText("$name", name)
	if _, err := stmt.Step(); err != nil {
		return 0, err
	}
	id := stmt.GetInt64("rowid")
	return id, stmt.Reset()
}

func (fs *FS) Remove(name string) error {
	conn, put, err := fs.conn()
	if err != nil {
		return err
	}
	defer put()

	stmt := conn.Prep(`DELETE FROM sqlar WHERE name = $name`)
	stmt.SetText("$name", normalizeFilename(name))
	return exec(stmt)
}

func (fs *FS) RemoveAll(p string) error {
	conn, put, err := fs.conn()
	if err != nil {
		return err
	}
	defer put()

	p = normalizeFilename(p)
	stmt := conn.Prep(`DELETE FROM sqlar WHERE name = $name OR substr(name, 1, length($prefix)) = $prefix`)
	stmt.SetText("$name", p)
	stmt.SetText("$prefix", strings.TrimRight(p, "/")+"/")
	return exec(stmt)
}

func (fs *FS) Rename(oldname, newname string) error {
	conn, put, err := fs.conn()
	if err != nil {
		return err
	}
	defer put()

	stmt := conn.Prep("UPDATE sqlar SET name = $newname WHERE name = $oldname")
	stmt.SetText("$oldname", normalizeFilename(oldname))
	stmt.SetText("$newname", normalizeFilename(newname))
	return exec(stmt)
}

func (fs *FS) Stat(name string) (os.FileInfo, error) {
	conn, put, err := fs.conn()
	if err != nil {
		return nil, err
	}
	defer put()

	name = normalizeFilename(name)
	stmt := conn.Prep("SELECT name, mode, mtime, sz, data IS NULL AS dataNull FROM sqlar WHERE name = $name")
	stmt.SetText("$name", name)
	defer stmt.Reset() //nolint:errcheck

	hasRow, err := stmt.Step()
	if err != nil {
		return nil, err
	} else if !hasRow {
		return nil, &os.PathError{Op: "stat", Path: name, Err: os.ErrNotExist}
	}

	size := stmt.GetInt64("sz")
	return &Info{
		name:  path.Base(stmt.GetText("name")),
		sz:    size,
		mode:  os.FileMode(stmt.GetInt64("mode")),
		mtime: time.Unix(stmt.GetInt64("mtime"), 0),
		dir:   size == 0 && stmt.GetInt64("dataNull") == 1,
	}, nil
}

// Close closes the pool if the FS opened it itself.
func (fs *FS) Close() error {
	if fs.ownsPool {
		return fs.pool.Close()
	}
	return nil
}

type Info struct {
	sz    int64
	mtime time.Time
	mode  os.FileMode
	dir   bool
	name  string
}

func (i *Info) Name() string {
	return i.name
}
func (i *Info) Size() int64 {
	return i.sz
}
func (i *Info) Mode() os.FileMode {
	if i.dir {
		return i.mode | os.ModeDir
	}
	return i.mode
}
func (i *Info) ModTime() time.Time {
	return i.mtime
}
func (i *Info) IsDir() bool {
	return i.dir
}
func (i *Info) Sys() interface{} {
	return nil
}

func exec(stmt *sqlite.Stmt) error {
	_, err := stmt.Step()
	if err != nil {
		_ = stmt.Reset()
		return err
	}
	return stmt.Reset()
}

func normalizeFilename(name string) string {
	if name == "." || name == "" || name == "/" {
		return "/"
	}
	name = filepath.ToSlash(name)
	name = "/" + strings.Trim(name, "/")
	return name
}
