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
	"path"

	"github.com/rs/zerolog/log"

	"github.com/forensicanalysis/evidencefs/inode"
	"github.com/forensicanalysis/evidencefs/scanner"
	"github.com/forensicanalysis/evidencefs/vfs"
	"github.com/forensicanalysis/evidencefs/vfs/drivers"
)

// ZipScan adds the members of zip archives as Z inodes.
type ZipScan struct {
	scanner.Base
}

func (s *ZipScan) Name() string { return "ZipScan" }

func (s *ZipScan) Reset(ctx context.Context, env *scanner.Env) error {
	_, err := env.FS.RemoveDerived(ctx, 'Z')
	return err
}

func (s *ZipScan) NewScan(_ context.Context, env *scanner.Env, in inode.Inode) (scanner.Scan, error) {
	return &zipScan{env: env, in: in}, nil
}

type zipScan struct {
	env *scanner.Env
	in  inode.Inode
}

func (s *zipScan) ExternalProcess(ctx context.Context, f vfs.File) error {
	ok, err := hasType(ctx, s.env, s.in, "application/zip")
	if err != nil || !ok {
		return err
	}

	return drivers.WalkZip(f, f.Size(), func(member *drivers.ZipMember) error {
		if member.Info.IsDir() {
			return nil
		}
		child, err := s.env.FS.CreateVirtualInode(ctx, s.in, inode.Inode{inode.Index('Z', member.Index)}, memberPath(member.Name), map[string]interface{}{
			"size":  member.Info.Size(),
			"mtime": member.Info.ModTime(),
		})
		if err != nil {
			return err
		}
		log.Debug().Str("inode", child.String()).Str("name", member.Name).Msg("zip member")
		s.env.Submit(child)
		return nil
	})
}

func (s *zipScan) Finish(context.Context) error { return nil }

// memberPath keeps member names inside the archive directory.
func memberPath(name string) string {
	return path.Clean("/" + name)[1:]
}
