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

	"github.com/Masterminds/squirrel"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/forensicanalysis/evidencefs/inode"
	"github.com/forensicanalysis/evidencefs/protocol/rfc2822"
	"github.com/forensicanalysis/evidencefs/scanner"
	"github.com/forensicanalysis/evidencefs/vfs"
)

const (
	emailTable = "email"
	headSize   = 4096
)

var emailSchema = []string{
	`CREATE TABLE IF NOT EXISTS email (
		inode   TEXT PRIMARY KEY,
		date    INTEGER,
		sender  TEXT,
		recipient TEXT,
		subject TEXT
	)`,
}

// RFC2822 records mail messages in the email table and adds their leaf
// parts as m inodes.
type RFC2822 struct {
	scanner.Base
}

func (s *RFC2822) Name() string { return "RFC2822" }

func (s *RFC2822) Prepare(ctx context.Context, env *scanner.Env) error {
	return env.Store().EnsureTable(ctx, emailSchema...)
}

func (s *RFC2822) Reset(ctx context.Context, env *scanner.Env) error {
	if err := truncate(ctx, env.Store(), emailTable); err != nil {
		return err
	}
	_, err := env.FS.RemoveDerived(ctx, 'm')
	return err
}

func (s *RFC2822) NewScan(_ context.Context, env *scanner.Env, in inode.Inode) (scanner.Scan, error) {
	return &mailScan{env: env, in: in}, nil
}

type mailScan struct {
	env *scanner.Env
	in  inode.Inode
}

func (s *mailScan) ExternalProcess(ctx context.Context, f vfs.File) error {
	ok, err := s.isMessage(ctx, f)
	if err != nil || !ok {
		return err
	}

	msg, err := rfc2822.Parse(f)
	if err != nil {
		log.Debug().Err(err).Str("inode", s.in.String()).Msg("not a mail message")
		return nil
	}

	store := s.env.Store()
	if _, err := store.Delete(ctx, emailTable, squirrel.Eq{"inode": s.in.String()}); err != nil {
		return err
	}
	if _, err := store.Insert(ctx, emailTable, map[string]interface{}{
		"inode":     s.in.String(),
		"date":      msg.Date,
		"sender":    msg.From,
		"recipient": msg.To,
		"subject":   msg.Subject,
	}); err != nil {
		return err
	}

	return msg.Walk(func(part *rfc2822.Part) error {
		name := memberPath(part.Filename)
		if name == "" {
			name = fmt.Sprintf("Attachment %d", part.Index)
		}
		child, err := s.env.FS.CreateVirtualInode(ctx, s.in, inode.Inode{inode.Index('m', part.Index)}, name, map[string]interface{}{
			"size":         len(part.Content),
			"mtime":        msg.Date,
			"content_type": part.ContentType,
		})
		if err != nil {
			return err
		}
		s.env.Submit(child)
		return nil
	})
}

// isMessage trusts the type of the file and falls back to the header
// names for messages cut out of SMTP streams.
func (s *mailScan) isMessage(ctx context.Context, f vfs.File) (bool, error) {
	ok, err := hasType(ctx, s.env, s.in, "message/rfc822")
	if err != nil || ok {
		return ok, err
	}

	head := make([]byte, headSize)
	n, err := f.ReadAt(head, 0)
	if err != nil && !errors.Is(err, io.EOF) {
		return false, err
	}
	return rfc2822.LooksLikeMessage(head[:n]), nil
}

func (s *mailScan) Finish(context.Context) error { return nil }
