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
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/forensicanalysis/evidencefs"
	"github.com/forensicanalysis/evidencefs/inode"
	"github.com/forensicanalysis/evidencefs/jobs"
	"github.com/forensicanalysis/evidencefs/vfs"
)

// Worker processes scan jobs. Opened cases and their prepared pipelines
// are cached and released after ttl without use. A case evicted while
// jobs still run on it is closed when the last of them returns.
type Worker struct {
	scanners *Registry
	drivers  *vfs.Registry
	mu       sync.Mutex
	cases    *ttlcache.Cache[string, *openCase]

	// Configure is applied to every new pipeline.
	Configure func(*Pipeline)
	// Default scanners for jobs without an explicit list.
	Default []string
}

type openCase struct {
	mu        sync.Mutex
	store     *evidencefs.Store
	fsys      *vfs.FileSystem
	pipelines map[string]*Pipeline
	active    int
	evicted   bool
	closed    bool
}

// NewWorker creates a worker. Call Close to release all cases.
func NewWorker(scanners *Registry, drivers *vfs.Registry, ttl time.Duration) *Worker {
	cases := ttlcache.New[string, *openCase](
		ttlcache.WithTTL[string, *openCase](ttl),
	)
	cases.OnEviction(func(ctx context.Context, reason ttlcache.EvictionReason, item *ttlcache.Item[string, *openCase]) {
		log.Debug().Str("case", item.Key()).Msg("releasing case")
		item.Value().evict(ctx)
	})
	go cases.Start()

	return &Worker{scanners: scanners, drivers: drivers, cases: cases}
}

var _ jobs.Handler = &Worker{}

// Process scans the inode of a job with the scanners of the job.
func (w *Worker) Process(ctx context.Context, job *jobs.Job) error {
	in, err := inode.Parse(job.Inode)
	if err != nil {
		return evidencefs.NewError(evidencefs.ErrBadArgument, "job "+job.ID, err)
	}
	names := job.Scanners
	if len(names) == 0 {
		names = w.Default
	}

	c, err := w.open(job.Case)
	if err != nil {
		return err
	}
	defer c.release(context.WithoutCancel(ctx))

	p, err := c.pipeline(ctx, w, names)
	if err != nil {
		return err
	}
	return p.ScanJob(ctx, job.Cookie, in)
}

// open returns the cached case for url or opens it. The returned case
// is acquired and must be released.
func (w *Worker) open(url string) (*openCase, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if item := w.cases.Get(url); item != nil && item.Value().acquire() {
		return item.Value(), nil
	}
	// drop an expired entry, Set would replace it without eviction
	w.cases.Delete(url)

	store, err := evidencefs.Open(url)
	if err != nil {
		return nil, errors.Wrapf(err, "open case %s", url)
	}
	c := &openCase{store: store, fsys: vfs.New(store, w.drivers), pipelines: map[string]*Pipeline{}, active: 1}
	w.cases.Set(url, c, ttlcache.DefaultTTL)
	return c, nil
}

func (c *openCase) acquire() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.evicted {
		return false
	}
	c.active++
	return true
}

func (c *openCase) release(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.active--
	if c.active == 0 && c.evicted {
		c.closeLocked(ctx)
	}
}

func (c *openCase) evict(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.evicted = true
	if c.active == 0 {
		c.closeLocked(ctx)
	}
}

func (c *openCase) pipeline(ctx context.Context, w *Worker, names []string) (*Pipeline, error) {
	sorted := append([]string{}, names...)
	sort.Strings(sorted)
	key := strings.Join(sorted, ",")

	c.mu.Lock()
	defer c.mu.Unlock()
	if p, ok := c.pipelines[key]; ok {
		return p, nil
	}

	factories, err := w.scanners.Factories(sorted)
	if err != nil {
		return nil, err
	}
	p := New(c.fsys, "", factories)
	if w.Configure != nil {
		w.Configure(p)
	}
	if err := p.Prepare(ctx); err != nil {
		return nil, err
	}
	c.pipelines[key] = p
	return p, nil
}

func (c *openCase) closeLocked(ctx context.Context) {
	if c.closed {
		return
	}
	c.closed = true
	for key, p := range c.pipelines {
		if err := p.Destroy(ctx); err != nil {
			log.Error().Err(err).Str("scanners", key).Msg("destroy scanners")
		}
	}
	c.pipelines = nil
	if err := c.store.Close(); err != nil {
		log.Error().Err(err).Str("case", c.store.Name()).Msg("close case")
	}
}

// Close releases all cached cases, cases in use are closed once their
// jobs return.
func (w *Worker) Close() {
	w.cases.DeleteAll()
	w.cases.Stop()
}
