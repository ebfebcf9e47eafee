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

// Core tables. Scanner specific tables are created by the scanners.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS file (
		id      INTEGER PRIMARY KEY AUTOINCREMENT,
		path    TEXT NOT NULL,
		name    TEXT NOT NULL,
		inode   TEXT NOT NULL DEFAULT '',
		mode    TEXT NOT NULL,
		status  TEXT NOT NULL DEFAULT 'alloc',
		derived INTEGER NOT NULL DEFAULT 0
	)`,
	`CREATE INDEX IF NOT EXISTS file_path ON file (path, name)`,
	`CREATE INDEX IF NOT EXISTS file_inode ON file (inode)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS file_directory ON file (path, name) WHERE mode = 'd'`,
	`CREATE UNIQUE INDEX IF NOT EXISTS file_entry ON file (path, name, inode) WHERE mode = 'r'`,
	`CREATE TABLE IF NOT EXISTS inode (
		inode  TEXT PRIMARY KEY,
		status TEXT NOT NULL DEFAULT 'alloc',
		size   INTEGER NOT NULL DEFAULT 0,
		mtime  INTEGER,
		atime  INTEGER,
		ctime  INTEGER,
		dtime  INTEGER
	)`,
	`CREATE TABLE IF NOT EXISTS inode_property (
		inode TEXT NOT NULL,
		prop  TEXT NOT NULL,
		value TEXT,
		PRIMARY KEY (inode, prop)
	)`,
}
