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

package scanners

import (
	"context"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/pkg/errors"

	"github.com/forensicanalysis/evidencefs"
	"github.com/forensicanalysis/evidencefs/inode"
)

const connectionTable = "connection"

var connectionSchema = []string{
	`CREATE TABLE IF NOT EXISTS connection (
		inode     TEXT PRIMARY KEY,
		src_ip    TEXT,
		src_port  INTEGER,
		dest_ip   TEXT,
		dest_port INTEGER,
		ts        INTEGER
	)`,
}

// Connection describes a combined stream, the reassembled data of both
// directions of a TCP connection.
type Connection struct {
	Inode    inode.Inode `structs:"inode"`
	SrcIP    string      `structs:"src_ip"`
	SrcPort  int         `structs:"src_port"`
	DestIP   string      `structs:"dest_ip"`
	DestPort int         `structs:"dest_port"`
	Time     time.Time   `structs:"ts"`
}

// RegisterConnection records the connection of a combined stream, so
// the protocol scanners pick it up.
func RegisterConnection(ctx context.Context, store *evidencefs.Store, conn *Connection) error {
	if conn.Inode.Empty() {
		return evidencefs.NewError(evidencefs.ErrBadArgument, "register connection", errors.New("missing inode"))
	}
	if err := store.EnsureTable(ctx, connectionSchema...); err != nil {
		return err
	}
	if _, err := store.Delete(ctx, connectionTable, squirrel.Eq{"inode": conn.Inode.String()}); err != nil {
		return err
	}
	_, err := store.InsertStruct(ctx, connectionTable, conn)
	return err
}

// LookupConnection returns the connection of a combined stream or nil if
// in is not a registered stream.
func LookupConnection(ctx context.Context, store *evidencefs.Store, in inode.Inode) (*Connection, error) {
	if !store.HasTable(connectionTable) {
		return nil, nil
	}
	row, err := store.QueryRow(ctx, squirrel.Select("*").From(connectionTable).Where(squirrel.Eq{"inode": in.String()}))
	if errors.Is(err, evidencefs.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &Connection{
		Inode:    in,
		SrcIP:    row.Text("src_ip"),
		SrcPort:  int(row.Int("src_port")),
		DestIP:   row.Text("dest_ip"),
		DestPort: int(row.Int("dest_port")),
		Time:     evidencefs.Time(row["ts"]),
	}, nil
}
