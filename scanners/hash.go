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
	"crypto/md5"  //nolint:gosec
	"crypto/sha1" //nolint:gosec
	"encoding/hex"
	"hash"

	"github.com/Masterminds/squirrel"
	"github.com/zeebo/blake3"

	"github.com/forensicanalysis/evidencefs/inode"
	"github.com/forensicanalysis/evidencefs/scanner"
)

const hashTable = "hash"

var hashSchema = []string{
	`CREATE TABLE IF NOT EXISTS hash (
		inode  TEXT PRIMARY KEY,
		md5    TEXT NOT NULL,
		sha1   TEXT NOT NULL,
		blake3 TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS hash_md5 ON hash (md5)`,
}

// HashScan records the md5, sha1 and blake3 digest of every file.
type HashScan struct {
	scanner.Base
}

func (s *HashScan) Name() string { return "HashScan" }

func (s *HashScan) Prepare(ctx context.Context, env *scanner.Env) error {
	return env.Store().EnsureTable(ctx, hashSchema...)
}

func (s *HashScan) Reset(ctx context.Context, env *scanner.Env) error {
	return truncate(ctx, env.Store(), hashTable)
}

func (s *HashScan) NewScan(_ context.Context, env *scanner.Env, in inode.Inode) (scanner.Scan, error) {
	return &hashScan{
		env: env,
		in:  in,
		hashes: map[string]hash.Hash{
			"md5":    md5.New(),  //nolint:gosec
			"sha1":   sha1.New(), //nolint:gosec
			"blake3": blake3.New(),
		},
	}, nil
}

type hashScan struct {
	env    *scanner.Env
	in     inode.Inode
	hashes map[string]hash.Hash
}

func (s *hashScan) ProcessBuffer(_ context.Context, buf []byte) error {
	for _, h := range s.hashes {
		h.Write(buf) //nolint:errcheck
	}
	return nil
}

func (s *hashScan) Finish(ctx context.Context) error {
	row := map[string]interface{}{"inode": s.in.String()}
	for name, h := range s.hashes {
		row[name] = hex.EncodeToString(h.Sum(nil))
	}
	store := s.env.Store()
	if _, err := store.Delete(ctx, hashTable, squirrel.Eq{"inode": s.in.String()}); err != nil {
		return err
	}
	_, err := store.Insert(ctx, hashTable, row)
	return err
}
