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

package scanner

import (
	"context"
	"fmt"
	"io"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/forensicanalysis/evidencefs"
	"github.com/forensicanalysis/evidencefs/inode"
	"github.com/forensicanalysis/evidencefs/metrics"
	"github.com/forensicanalysis/evidencefs/vfs"
)

const (
	DefaultBufferSize = 1024 * 1024
	DefaultMaxDepth   = 16
	progressInterval  = 100
)

// Pipeline feeds files through an ordered set of factories.
type Pipeline struct {
	env        Env
	BufferSize int
	MaxDepth   int
}

// Summary of a ScanFS run.
type Summary struct {
	Files  int
	Failed int
}

// New creates a pipeline. factories must be in dependency order, as
// returned by Registry.Factories.
func New(fsys *vfs.FileSystem, cookie string, factories []Factory) *Pipeline {
	return &Pipeline{
		env:        Env{FS: fsys, Cookie: cookie, Factories: factories},
		BufferSize: DefaultBufferSize,
		MaxDepth:   DefaultMaxDepth,
	}
}

// Env returns the environment shared by all factories.
func (p *Pipeline) Env() *Env {
	return &p.env
}

// Prepare prepares all factories in order.
func (p *Pipeline) Prepare(ctx context.Context) error {
	for _, factory := range p.env.Factories {
		if err := factory.Prepare(ctx, &p.env); err != nil {
			return evidencefs.NewError(evidencefs.ErrScannerFailure, "prepare "+factory.Name(), err)
		}
	}
	return nil
}

// Destroy releases all factories. All factories are destroyed even if
// some fail.
func (p *Pipeline) Destroy(ctx context.Context) error {
	var result error
	for _, factory := range p.env.Factories {
		if err := factory.Destroy(ctx, &p.env); err != nil {
			result = multierror.Append(result, errors.Wrap(err, factory.Name()))
		}
	}
	return result
}

// Reset asks every factory to remove its results. Failures are logged and
// returned together, the remaining factories are reset anyway.
func (p *Pipeline) Reset(ctx context.Context) error {
	var result error
	for i := len(p.env.Factories) - 1; i >= 0; i-- {
		factory := p.env.Factories[i]
		if err := factory.Reset(ctx, &p.env); err != nil {
			log.Error().Err(err).Str("scanner", factory.Name()).Msg("reset failed")
			result = multierror.Append(result, errors.Wrap(err, factory.Name()))
		}
	}
	return result
}

type queued struct {
	in    inode.Inode
	depth int
}

// ScanInode scans a file and every file derived from it. Scanner
// failures, panics included, are logged and skip the remaining scanners
// of that file only. The returned error is set if the file itself can not
// be opened or ctx is done.
func (p *Pipeline) ScanInode(ctx context.Context, in inode.Inode) error {
	_, err := p.scanInode(ctx, p.env.Cookie, in)
	return err
}

// ScanJob is ScanInode on behalf of the scan identified by cookie.
func (p *Pipeline) ScanJob(ctx context.Context, cookie string, in inode.Inode) error {
	_, err := p.scanInode(ctx, cookie, in)
	return err
}

func (p *Pipeline) scanInode(ctx context.Context, cookie string, in inode.Inode) (failed bool, err error) {
	queue := []queued{{in: in}}
	var current queued

	env := p.env
	env.Cookie = cookie
	env.submit = func(derived inode.Inode) {
		if current.depth+1 > p.MaxDepth {
			log.Warn().Str("inode", derived.String()).Int("depth", current.depth+1).Msg("maximum depth reached, not scanning")
			return
		}
		queue = append(queue, queued{in: derived, depth: current.depth + 1})
	}

	for len(queue) > 0 {
		if err := ctx.Err(); err != nil {
			return failed, err
		}
		current, queue = queue[0], queue[1:]

		ok, err := p.scanFile(ctx, &env, current.in)
		if err != nil {
			if current.depth == 0 {
				return true, err
			}
			log.Error().Err(err).Str("inode", current.in.String()).Msg("could not scan derived file")
			failed = true
			continue
		}
		if !ok {
			failed = true
		}
	}
	return failed, nil
}

type running struct {
	factory Factory
	scan    Scan
	failed  bool
}

// guard turns a panic of a scanner into an error.
func guard(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Errorf("panic: %v", r)
		}
	}()
	return fn()
}

// scanFile runs all factories on one file. ok is false if a scan failed,
// the remaining factories are skipped for this file then. Every started
// scan is finished.
func (p *Pipeline) scanFile(ctx context.Context, env *Env, in inode.Inode) (ok bool, err error) {
	f, err := env.FS.Resolve(ctx, in)
	if err != nil {
		return false, err
	}
	defer f.Close()

	ok = true
	fail := func(r *running, stage string, err error) {
		r.failed, ok = true, false
		metrics.ScanFailures.WithLabelValues(r.factory.Name()).Inc()
		err = evidencefs.NewError(evidencefs.ErrScannerFailure, fmt.Sprintf("%s %s", r.factory.Name(), stage), err)
		log.Error().Err(err).Str("inode", in.String()).Msg("scan failed")
	}

	var scans []*running
	defer func() {
		for _, r := range scans {
			ferr := guard(func() error { return r.scan.Finish(ctx) })
			if ferr != nil && !r.failed {
				fail(r, "finish", ferr)
			}
		}
		metrics.FilesScanned.Inc()
	}()

	for _, factory := range env.Factories {
		r := &running{factory: factory}
		var scan Scan
		err := guard(func() (err error) {
			scan, err = factory.NewScan(ctx, env, in)
			return err
		})
		if err != nil {
			fail(r, "new scan", err)
			return false, ctx.Err()
		}
		if scan == nil {
			continue
		}
		r.scan = scan
		scans = append(scans, r)
	}

	if err := p.deliverBuffers(ctx, f, scans, fail); err != nil {
		return false, err
	}
	if !ok {
		return false, ctx.Err()
	}

	for _, r := range scans {
		s, isStore := r.scan.(StoreAndScan)
		if !isStore {
			continue
		}
		view := vfs.NewFile(in, f, f.Size())
		if err := guard(func() error { return s.ExternalProcess(ctx, view) }); err != nil {
			fail(r, "process", err)
			break
		}
	}
	return ok, ctx.Err()
}

// deliverBuffers reads the file once and hands every buffer to the memory
// scans. Delivery stops at the first failing scan.
func (p *Pipeline) deliverBuffers(ctx context.Context, f vfs.File, scans []*running, fail func(*running, string, error)) error {
	var memory []*running
	for _, r := range scans {
		if _, ok := r.scan.(MemoryScan); ok {
			memory = append(memory, r)
		}
	}
	if len(memory) == 0 {
		return nil
	}

	size := p.BufferSize
	if size <= 0 {
		size = DefaultBufferSize
	}
	buf := make([]byte, size)
	r := io.NewSectionReader(f, 0, f.Size())
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, err := io.ReadFull(r, buf)
		if n > 0 {
			for _, m := range memory {
				scan := m.scan.(MemoryScan)
				if perr := guard(func() error { return scan.ProcessBuffer(ctx, buf[:n]) }); perr != nil {
					fail(m, "buffer", perr)
					return nil
				}
			}
		}
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return nil
		}
		if err != nil {
			return errors.Wrap(err, "read")
		}
	}
}

// ScanFS prepares the factories, scans every real file of the case and
// destroys the factories. Failing files are counted and logged.
func (p *Pipeline) ScanFS(ctx context.Context) (summary Summary, err error) {
	if err := p.Prepare(ctx); err != nil {
		return summary, err
	}
	defer func() {
		if derr := p.Destroy(ctx); derr != nil && err == nil {
			err = derr
		}
	}()

	it := p.env.FS.RealFiles(ctx)
	for it.Next() {
		entry := it.Entry()
		failed, err := p.scanInode(ctx, p.env.Cookie, entry.Inode)
		if ctx.Err() != nil {
			return summary, ctx.Err()
		}
		summary.Files++
		if err != nil {
			log.Error().Err(err).Str("path", entry.FullPath()).Msg("could not scan file")
		}
		if failed {
			summary.Failed++
		}
		if summary.Files%progressInterval == 0 {
			log.Info().Str("case", p.env.Case()).Int("files", summary.Files).Msgf("scanned %d files", summary.Files)
		}
	}
	if err := it.Err(); err != nil {
		if ctx.Err() != nil {
			return summary, ctx.Err()
		}
		return summary, err
	}
	log.Info().Str("case", p.env.Case()).Int("files", summary.Files).Int("failed", summary.Failed).Msg("scan finished")
	return summary, nil
}
