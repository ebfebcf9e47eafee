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
	"sort"
	"strconv"
	"strings"

	"crawshaw.io/sqlite"
	"crawshaw.io/sqlite/sqlitex"
)

const missingParents = `SELECT DISTINCT f.path FROM file f
	WHERE f.path != '/' AND NOT EXISTS (
		SELECT 1 FROM file d WHERE d.mode = 'd' AND d.path || d.name || '/' = f.path
	)`

// Validate checks the case for consistency: every directory that holds
// entries must exist as directory entry and every D inode must have an
// evidence blob and vice versa.
func (store *Store) Validate(ctx context.Context) (flaws []string, err error) {
	conn, put, err := store.Conn(ctx)
	if err != nil {
		return nil, err
	}
	defer put()

	err = sqlitex.ExecTransient(conn, missingParents, func(stmt *sqlite.Stmt) error {
		flaws = append(flaws, fmt.Sprintf("missing directory entry for %s", stmt.ColumnText(0)))
		return nil
	})
	if err != nil {
		return nil, storeError("validate directories", err)
	}

	referenced := map[int64]string{}
	err = sqlitex.ExecTransient(conn, "SELECT DISTINCT inode FROM file WHERE inode LIKE 'D%'", func(stmt *sqlite.Stmt) error {
		in := stmt.ColumnText(0)
		first := strings.SplitN(in, "|", 2)[0]
		id, err := strconv.ParseInt(first[1:], 10, 64)
		if err != nil {
			flaws = append(flaws, fmt.Sprintf("malformed evidence inode %s", in))
			return nil
		}
		referenced[id] = in
		return nil
	})
	if err != nil {
		return nil, storeError("validate inodes", err)
	}

	blobs := map[int64]string{}
	err = sqlitex.ExecTransient(conn, "SELECT rowid, name FROM sqlar WHERE mode & 2147483648 = 0", func(stmt *sqlite.Stmt) error {
		blobs[stmt.ColumnInt64(0)] = stmt.ColumnText(1)
		return nil
	})
	if err != nil {
		return nil, storeError("validate blobs", err)
	}

	var blobFlaws []string
	for id, in := range referenced {
		if _, ok := blobs[id]; !ok {
			blobFlaws = append(blobFlaws, fmt.Sprintf("missing evidence blob for %s", in))
		}
	}
	for id, name := range blobs {
		if _, ok := referenced[id]; !ok {
			blobFlaws = append(blobFlaws, fmt.Sprintf("additional evidence blob %s", name))
		}
	}
	sort.Strings(blobFlaws)

	return append(flaws, blobFlaws...), nil
}
