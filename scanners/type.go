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

	"github.com/Masterminds/squirrel"
	"github.com/gabriel-vasile/mimetype"

	"github.com/forensicanalysis/evidencefs/inode"
	"github.com/forensicanalysis/evidencefs/scanner"
)

const (
	typeScanName = "TypeScan"
	typeTable    = "type"
)

var typeSchema = []string{
	`CREATE TABLE IF NOT EXISTS type (
		inode     TEXT PRIMARY KEY,
		mime      TEXT NOT NULL,
		extension TEXT
	)`,
}

// TypeScan classifies files by the magic of their first buffer. The type
// is recorded as soon as the first buffer was seen, so store and scan
// modules of the same file can already rely on it.
type TypeScan struct {
	scanner.Base
}

func (s *TypeScan) Name() string { return typeScanName }

func (s *TypeScan) Prepare(ctx context.Context, env *scanner.Env) error {
	return env.Store().EnsureTable(ctx, typeSchema...)
}

func (s *TypeScan) Reset(ctx context.Context, env *scanner.Env) error {
	return truncate(ctx, env.Store(), typeTable)
}

func (s *TypeScan) NewScan(_ context.Context, env *scanner.Env, in inode.Inode) (scanner.Scan, error) {
	return &typeScan{env: env, in: in}, nil
}

type typeScan struct {
	env  *scanner.Env
	in   inode.Inode
	done bool
}

func (s *typeScan) ProcessBuffer(ctx context.Context, buf []byte) error {
	if s.done {
		return nil
	}
	s.done = true
	return s.record(ctx, mimetype.Detect(buf))
}

func (s *typeScan) Finish(ctx context.Context) error {
	if s.done {
		return nil
	}
	// empty file
	return s.record(ctx, mimetype.Detect(nil))
}

func (s *typeScan) record(ctx context.Context, m *mimetype.MIME) error {
	store := s.env.Store()
	if _, err := store.Delete(ctx, typeTable, squirrel.Eq{"inode": s.in.String()}); err != nil {
		return err
	}
	_, err := store.Insert(ctx, typeTable, map[string]interface{}{
		"inode":     s.in.String(),
		"mime":      m.String(),
		"extension": m.Extension(),
	})
	return err
}
