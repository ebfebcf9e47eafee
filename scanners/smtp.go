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
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/Masterminds/squirrel"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/forensicanalysis/evidencefs"
	"github.com/forensicanalysis/evidencefs/inode"
	"github.com/forensicanalysis/evidencefs/protocol/smtp"
	"github.com/forensicanalysis/evidencefs/scanner"
	"github.com/forensicanalysis/evidencefs/vfs"
)

const smtpTable = "smtp"

var smtpSchema = []string{
	`CREATE TABLE IF NOT EXISTS smtp (
		inode     TEXT PRIMARY KEY,
		stream    TEXT NOT NULL,
		message   INTEGER NOT NULL,
		mail_from TEXT,
		rcpt_to   TEXT
	)`,
}

// SMTPScanner cuts the mails out of SMTP sessions. Every mail becomes an
// o inode of the combined stream at <stream dir>/SMTP/Message_<n>.
type SMTPScanner struct {
	scanner.Base
	Ports []int
}

func (s *SMTPScanner) Name() string { return "SMTPScanner" }

func (s *SMTPScanner) Prepare(ctx context.Context, env *scanner.Env) error {
	return env.Store().EnsureTable(ctx, smtpSchema...)
}

func (s *SMTPScanner) Reset(ctx context.Context, env *scanner.Env) error {
	return resetStreams(ctx, env, smtpTable)
}

func (s *SMTPScanner) NewScan(ctx context.Context, env *scanner.Env, in inode.Inode) (scanner.Scan, error) {
	conn, err := LookupConnection(ctx, env.Store(), in)
	if err != nil || conn == nil || !contains(s.Ports, conn.DestPort) {
		return nil, err
	}
	return &smtpScan{env: env, conn: conn}, nil
}

type smtpScan struct {
	env  *scanner.Env
	conn *Connection
}

func (s *smtpScan) ExternalProcess(ctx context.Context, f vfs.File) error {
	dir, err := streamDirectory(ctx, s.env.FS, s.conn.Inode)
	if err != nil {
		return err
	}

	p, err := smtp.NewParser(f)
	if err != nil {
		return err
	}
	log.Debug().Str("inode", s.conn.Inode.String()).Msg("opening stream for SMTP")

	store := s.env.Store()
	for {
		msg, err := p.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			// the stream is cut here, the messages found so far are kept
			log.Warn().Err(evidencefs.NewError(evidencefs.ErrMalformedProtocol, "smtp", err)).Str("inode", s.conn.Inode.String()).Msg("stopped reading stream")
			return nil
		}

		child := s.conn.Inode.Append(inode.Offset(msg.Offset, msg.Length))
		child, err = s.env.FS.CreateVirtualInode(ctx, nil, child, path.Join(dir, "SMTP", fmt.Sprintf("Message_%d", msg.Index)), map[string]interface{}{
			"size":  msg.Length,
			"mtime": s.conn.Time,
		})
		if err != nil {
			return err
		}

		if _, err := store.Delete(ctx, smtpTable, squirrel.Eq{"inode": child.String()}); err != nil {
			return err
		}
		if _, err := store.Insert(ctx, smtpTable, map[string]interface{}{
			"inode":     child.String(),
			"stream":    s.conn.Inode.String(),
			"message":   msg.Index,
			"mail_from": msg.MailFrom,
			"rcpt_to":   strings.Join(msg.RcptTo, ", "),
		}); err != nil {
			return err
		}
		s.env.Submit(child)
	}
}

func (s *smtpScan) Finish(context.Context) error { return nil }

// streamDirectory returns the directory holding the entry of a stream.
func streamDirectory(ctx context.Context, fsys *vfs.FileSystem, in inode.Inode) (string, error) {
	entry, err := fsys.LookupInode(ctx, in)
	if err != nil {
		return "", err
	}
	return entry.Path, nil
}

// resetStreams removes the inodes a protocol scanner recorded in table,
// their entries and the rows of all tables.
func resetStreams(ctx context.Context, env *scanner.Env, table string, tables ...string) error {
	store := env.Store()
	if store.HasTable(table) {
		rows, err := store.Query(ctx, squirrel.Select("DISTINCT inode").From(table).Where(squirrel.NotEq{"inode": ""}))
		if err != nil {
			return err
		}
		var inodes []inode.Inode
		for _, row := range rows {
			in, err := inode.Parse(row.Text("inode"))
			if err != nil {
				continue
			}
			inodes = append(inodes, in)
		}
		if _, err := env.FS.RemoveInodes(ctx, inodes); err != nil {
			return err
		}
	}
	return truncate(ctx, store, append([]string{table}, tables...)...)
}
