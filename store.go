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
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"crawshaw.io/sqlite"
	"crawshaw.io/sqlite/sqlitex"
	"github.com/Masterminds/squirrel"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/forensicanalysis/evidencefs/sqlitefs"
)

const storeVersion = 1
const evidenceApplicationID = 1702258022

// DefaultPoolSize is the number of SQLite connections of a store.
const DefaultPoolSize = 16

const busyTimeout = 30 * time.Second

var ErrStoreExists = fmt.Errorf("store already exists")
var ErrStoreNotExists = fmt.Errorf("store does not exist")

// The Store holds everything known about a case: the directory entries of
// the virtual filesystem, inode metadata, the results of all scanners and
// the evidence blobs themselves. It is safe for concurrent use, every
// operation takes a connection from a pool and returns it afterwards.
type Store struct {
	url    string
	name   string
	pool   *sqlitex.Pool
	fs     *sqlitefs.FS
	tables *tableMap
}

// Row is a single result row keyed by column name.
type Row map[string]interface{}

// Text returns a column as string.
func (r Row) Text(column string) string {
	switch v := r[column].(type) {
	case nil:
		return ""
	case string:
		return v
	case []byte:
		return string(v)
	default:
		return fmt.Sprint(v)
	}
}

// Int returns a column as integer.
func (r Row) Int(column string) int64 {
	switch v := r[column].(type) {
	case int64:
		return v
	case float64:
		return int64(v)
	default:
		return 0
	}
}

// New creates a new store.
func New(url string) (*Store, error) {
	return open(url, true)
}

// Open opens an existing store.
func Open(url string) (*Store, error) {
	return open(url, false)
}

func open(url string, create bool) (*Store, error) { // nolint:gocyclo,funlen
	url = strings.TrimRight(url, "/")

	exists := true
	if _, err := os.Stat(url); err != nil {
		if !os.IsNotExist(err) {
			return nil, err
		}
		exists = false
	}
	if create && exists {
		return nil, ErrStoreExists
	}
	if !create && !exists {
		return nil, ErrStoreNotExists
	}
	if create {
		if err := os.MkdirAll(filepath.Dir(url), 0750); err != nil {
			return nil, err
		}
		log.Info().Str("store", url).Msg("creating store")
	}

	pool, err := sqlitex.Open(url, 0, DefaultPoolSize)
	if err != nil {
		return nil, storeError("open "+url, err)
	}

	store := &Store{
		url:    url,
		name:   strings.TrimSuffix(filepath.Base(url), filepath.Ext(url)),
		pool:   pool,
		tables: newTableMap(),
	}

	if err := store.setup(create); err != nil {
		_ = pool.Close()
		return nil, err
	}

	store.fs, err = sqlitefs.NewPool(pool)
	if err != nil {
		_ = pool.Close()
		return nil, storeError("evidence archive", err)
	}

	return store, store.refreshTables(context.Background())
}

func (store *Store) setup(create bool) error {
	conn, put, err := store.Conn(context.Background())
	if err != nil {
		return err
	}
	defer put()

	if create {
		if err := setPragma(conn, "application_id", evidenceApplicationID); err != nil {
			return err
		}
		if err := setPragma(conn, "user_version", storeVersion); err != nil {
			return err
		}
		for _, stmt := range schema {
			if err := sqlitex.ExecTransient(conn, stmt, nil); err != nil {
				return storeError("create schema", err)
			}
		}
		return nil
	}

	applicationID, err := pragma(conn, "application_id")
	if err != nil {
		return err
	}
	if applicationID != evidenceApplicationID {
		msg := "wrong file format (application_id is %d, requires %d)"
		return fmt.Errorf(msg, applicationID, evidenceApplicationID)
	}

	version, err := pragma(conn, "user_version")
	if err != nil {
		return err
	}
	if version != storeVersion {
		msg := "wrong file format (user_version is %d, requires %d)"
		return fmt.Errorf(msg, version, storeVersion)
	}
	return nil
}

func pragma(conn *sqlite.Conn, name string) (int64, error) {
	var i int64
	err := sqlitex.ExecTransient(conn, "PRAGMA "+name, func(stmt *sqlite.Stmt) error {
		i = stmt.ColumnInt64(0)
		return nil
	})
	return i, storeError("pragma "+name, err)
}

func setPragma(conn *sqlite.Conn, name string, i int64) error {
	err := sqlitex.ExecTransient(conn, fmt.Sprintf("PRAGMA %s = %d", name, i), nil)
	return storeError("pragma "+name, err)
}

// Name identifies the case, it is the file name of the store without
// extension.
func (store *Store) Name() string {
	return store.name
}

// URL returns the location of the store.
func (store *Store) URL() string {
	return store.url
}

// Fs gives access to the evidence blobs.
func (store *Store) Fs() *sqlitefs.FS {
	return store.fs
}

// Close closes all connections.
func (store *Store) Close() error {
	return store.pool.Close()
}

// Conn takes a connection from the pool. The returned function puts it
// back.
func (store *Store) Conn(ctx context.Context) (*sqlite.Conn, func(), error) {
	conn := store.pool.Get(ctx)
	if conn == nil {
		err := ctx.Err()
		if err == nil {
			err = errors.New("pool closed")
		}
		return nil, nil, storeError("get connection", err)
	}
	conn.SetBusyTimeout(busyTimeout)
	return conn, func() { store.pool.Put(conn) }, nil
}

/* ################################
#   API
################################ */

// Query runs a select statement built with squirrel.
func (store *Store) Query(ctx context.Context, query squirrel.Sqlizer) ([]Row, error) {
	q, args, err := query.ToSql()
	if err != nil {
		return nil, errors.Wrap(err, "build query")
	}
	return store.QueryRaw(ctx, q, args...)
}

// QueryRow returns the first row of a query or ErrNotFound.
func (store *Store) QueryRow(ctx context.Context, query squirrel.Sqlizer) (Row, error) {
	rows, err := store.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, ErrNotFound
	}
	return rows[0], nil
}

// QueryRaw runs a query with positional ? parameters.
func (store *Store) QueryRaw(ctx context.Context, query string, args ...interface{}) ([]Row, error) {
	conn, put, err := store.Conn(ctx)
	if err != nil {
		return nil, err
	}
	defer put()

	var rows []Row
	err = sqlitex.Exec(conn, query, func(stmt *sqlite.Stmt) error {
		rows = append(rows, readRow(stmt))
		return nil
	}, bindable(args)...)
	if err != nil {
		return nil, storeError(query, err)
	}
	return rows, nil
}

// Exec runs a statement and returns the number of changed rows.
func (store *Store) Exec(ctx context.Context, query squirrel.Sqlizer) (int64, error) {
	q, args, err := query.ToSql()
	if err != nil {
		return 0, errors.Wrap(err, "build query")
	}

	conn, put, err := store.Conn(ctx)
	if err != nil {
		return 0, err
	}
	defer put()

	if err := sqlitex.Exec(conn, q, nil, bindable(args)...); err != nil {
		return 0, storeError(q, err)
	}
	return int64(conn.Changes()), nil
}

// Insert adds a row and returns its rowid.
func (store *Store) Insert(ctx context.Context, table string, fields map[string]interface{}) (int64, error) {
	conn, put, err := store.Conn(ctx)
	if err != nil {
		return 0, err
	}
	defer put()

	return store.insert(conn, table, fields, "")
}

// InsertOrIgnore adds a row unless it violates a uniqueness constraint.
// It reports whether a row was inserted.
func (store *Store) InsertOrIgnore(ctx context.Context, table string, fields map[string]interface{}) (bool, error) {
	conn, put, err := store.Conn(ctx)
	if err != nil {
		return false, err
	}
	defer put()

	if _, err := store.insert(conn, table, fields, "OR IGNORE"); err != nil {
		return false, err
	}
	return conn.Changes() > 0, nil
}

// InsertStruct adds a struct as row, see structFields for the mapping.
func (store *Store) InsertStruct(ctx context.Context, table string, element interface{}) (int64, error) {
	return store.Insert(ctx, table, structFields(element))
}

// InsertBatch adds all rows in a single savepoint.
func (store *Store) InsertBatch(ctx context.Context, table string, rows []map[string]interface{}) error {
	return store.batch(ctx, table, rows, "")
}

// UpsertBatch is like InsertBatch but replaces rows that violate a
// uniqueness constraint.
func (store *Store) UpsertBatch(ctx context.Context, table string, rows []map[string]interface{}) error {
	return store.batch(ctx, table, rows, "OR REPLACE")
}

func (store *Store) batch(ctx context.Context, table string, rows []map[string]interface{}, option string) (err error) {
	if len(rows) == 0 {
		return nil
	}

	conn, put, err := store.Conn(ctx)
	if err != nil {
		return err
	}
	defer put()

	defer sqlitex.Save(conn)(&err)
	for _, fields := range rows {
		if _, err = store.insert(conn, table, fields, option); err != nil {
			return err
		}
	}
	return nil
}

func (store *Store) insert(conn *sqlite.Conn, table string, fields map[string]interface{}, option string) (int64, error) {
	if err := store.checkColumns(table, fields); err != nil {
		return 0, err
	}

	quoted := make(map[string]interface{}, len(fields))
	for column, value := range fields {
		quoted[`"`+column+`"`] = lower(value)
	}
	builder := squirrel.Insert(`"` + table + `"`).SetMap(quoted)
	if option != "" {
		builder = builder.Options(option)
	}
	q, args, err := builder.ToSql()
	if err != nil {
		return 0, errors.Wrap(err, "build insert")
	}

	if err := sqlitex.Exec(conn, q, nil, args...); err != nil {
		return 0, storeError("insert into "+table, err)
	}
	return conn.LastInsertRowID(), nil
}

// Delete removes all rows of table matching the predicate.
func (store *Store) Delete(ctx context.Context, table string, predicate squirrel.Sqlizer) (int64, error) {
	if !store.tables.has(table) {
		return 0, errors.Wrapf(ErrBadArgument, "unknown table %q", table)
	}
	return store.Exec(ctx, squirrel.Delete(`"`+table+`"`).Where(predicate))
}

// EnsureTable executes schema statements and refreshes the column cache.
func (store *Store) EnsureTable(ctx context.Context, statements ...string) error {
	conn, put, err := store.Conn(ctx)
	if err != nil {
		return err
	}
	defer put()

	for _, stmt := range statements {
		if err := sqlitex.ExecTransient(conn, stmt, nil); err != nil {
			return storeError("schema", err)
		}
	}
	return store.loadTables(conn)
}

// HasTable reports whether a table exists.
func (store *Store) HasTable(table string) bool {
	return store.tables.has(table)
}

// HasColumn reports whether a table has the given column.
func (store *Store) HasColumn(table, column string) bool {
	return store.tables.hasColumn(table, column)
}

// Columns lists the columns of a table in alphabetical order.
func (store *Store) Columns(table string) []string {
	return store.tables.columns(table)
}

// Tables lists all tables.
func (store *Store) Tables() []string {
	return store.tables.names()
}

func (store *Store) checkColumns(table string, fields map[string]interface{}) error {
	if !store.tables.has(table) {
		return errors.Wrapf(ErrBadArgument, "unknown table %q", table)
	}
	for column := range fields {
		if !store.tables.hasColumn(table, column) {
			return errors.Wrapf(ErrBadArgument, "unknown column %q in %s", column, table)
		}
	}
	return nil
}

func (store *Store) refreshTables(ctx context.Context) error {
	conn, put, err := store.Conn(ctx)
	if err != nil {
		return err
	}
	defer put()
	return store.loadTables(conn)
}

func (store *Store) loadTables(conn *sqlite.Conn) error {
	var names []string
	err := sqlitex.Exec(conn, "SELECT name FROM sqlite_master WHERE type = 'table'", func(stmt *sqlite.Stmt) error {
		names = append(names, stmt.ColumnText(0))
		return nil
	})
	if err != nil {
		return storeError("list tables", err)
	}

	for _, name := range names {
		if !ValidIdentifier(name) {
			continue
		}
		var columns []string
		err := sqlitex.ExecTransient(conn, fmt.Sprintf("PRAGMA table_info(%q)", name), func(stmt *sqlite.Stmt) error {
			columns = append(columns, stmt.GetText("name"))
			return nil
		})
		if err != nil {
			return storeError("table info "+name, err)
		}
		store.tables.set(name, columns)
	}
	return nil
}

func readRow(stmt *sqlite.Stmt) Row {
	row := Row{}
	for i := 0; i < stmt.ColumnCount(); i++ {
		name := stmt.ColumnName(i)
		switch stmt.ColumnType(i) {
		case sqlite.SQLITE_INTEGER:
			row[name] = stmt.ColumnInt64(i)
		case sqlite.SQLITE_FLOAT:
			row[name] = stmt.ColumnFloat(i)
		case sqlite.SQLITE_NULL:
			row[name] = nil
		case sqlite.SQLITE_BLOB:
			b := make([]byte, stmt.ColumnLen(i))
			stmt.ColumnBytes(i, b)
			row[name] = b
		default:
			row[name] = stmt.ColumnText(i)
		}
	}
	return row
}

func bindable(args []interface{}) []interface{} {
	out := make([]interface{}, len(args))
	for i, arg := range args {
		out[i] = lower(arg)
	}
	return out
}
