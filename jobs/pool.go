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

package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/forensicanalysis/evidencefs/metrics"
)

// Handler processes a single job.
type Handler interface {
	Process(ctx context.Context, job *Job) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, job *Job) error

func (f HandlerFunc) Process(ctx context.Context, job *Job) error {
	return f(ctx, job)
}

// Pool runs workers that take jobs from a queue until the context is
// done.
type Pool struct {
	Queue   Queue
	Handler Handler
	Workers int

	// MaxIdle bounds the polling interval of idle workers.
	MaxIdle time.Duration
	// Lease is the time after which a claimed job is considered lost. It
	// also bounds the run time of a job. Zero disables reaping.
	Lease time.Duration
	// Attempts is the number of lost claims after which a job is
	// consumed, DefaultAttempts if zero.
	Attempts int
}

// Run blocks until ctx is done or a queue operation fails.
func (p *Pool) Run(ctx context.Context) error {
	workers := p.Workers
	if workers <= 0 {
		workers = 1
	}

	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < workers; i++ {
		worker := i
		g.Go(func() error {
			return p.work(ctx, worker)
		})
	}
	if p.Lease > 0 {
		g.Go(func() error {
			return p.reap(ctx)
		})
	}

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (p *Pool) idleBackoff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 50 * time.Millisecond
	b.MaxInterval = p.MaxIdle
	if b.MaxInterval <= 0 {
		b.MaxInterval = 2 * time.Second
	}
	b.MaxElapsedTime = 0
	return b
}

func (p *Pool) work(ctx context.Context, worker int) error {
	idle := p.idleBackoff()
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		job, err := p.Queue.Pop(ctx)
		if errors.Is(err, ErrInvalidJob) {
			log.Error().Err(err).Int("worker", worker).Msg("dropped invalid job")
			metrics.JobsProcessed.WithLabelValues("invalid").Inc()
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return errors.Wrap(err, "pop")
		}
		if job == nil {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(idle.NextBackOff()):
			}
			continue
		}
		idle.Reset()

		result := p.dispatch(ctx, worker, job)
		metrics.JobsProcessed.WithLabelValues(result).Inc()
		if err := p.Queue.Done(context.WithoutCancel(ctx), job); err != nil {
			return errors.Wrap(err, "done")
		}
	}
}

// dispatch runs the handler unless the cookie was aborted. The job is
// consumed by the caller in any case.
func (p *Pool) dispatch(ctx context.Context, worker int, job *Job) (result string) {
	logger := log.With().Int("worker", worker).Str("job", job.ID).Str("cookie", job.Cookie).Str("inode", job.Inode).Logger()

	aborted, err := p.Queue.Aborted(ctx, job.Cookie)
	if err != nil {
		logger.Error().Err(err).Msg("abort check failed")
	}
	if aborted {
		logger.Debug().Msg("skipping job of aborted scan")
		return "aborted"
	}

	defer func() {
		if r := recover(); r != nil {
			logger.Error().Str("panic", fmt.Sprint(r)).Msg("job panicked")
			result = "failed"
		}
	}()
	if p.Lease > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.Lease)
		defer cancel()
	}
	if err := p.Handler.Process(ctx, job); err != nil {
		logger.Error().Err(err).Msg("job failed")
		return "failed"
	}
	return "ok"
}

func (p *Pool) reap(ctx context.Context) error {
	ticker := time.NewTicker(p.Lease / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
		attempts := p.Attempts
		if attempts <= 0 {
			attempts = DefaultAttempts
		}
		requeued, dropped, err := p.Queue.Reap(ctx, p.Lease, attempts)
		if err != nil {
			log.Error().Err(err).Msg("reap failed")
			continue
		}
		if requeued > 0 || dropped > 0 {
			log.Info().Int("requeued", requeued).Int("dropped", dropped).Msg("reaped stale jobs")
		}
	}
}
